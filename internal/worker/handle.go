package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
)

// State is the lifecycle position of a worker.
type State int32

const (
	StateNotStarted State = iota
	StateRunning
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateNotStarted:
		return "not-started"
	case StateRunning:
		return "running"
	case StateStopped:
		return "stopped"
	}
	return "unknown"
}

// Handle implements the IsAlive/Join half of Worker around a blocking run
// function. Concrete workers embed it, acquire their resources in Start and
// then call Launch.
type Handle struct {
	name  string
	state atomic.Int32

	mu   sync.Mutex
	done chan struct{}
	err  error
}

func NewHandle(name string) *Handle {
	return &Handle{name: name}
}

func (h *Handle) Name() string {
	return h.name
}

func (h *Handle) State() State {
	return State(h.state.Load())
}

func (h *Handle) IsAlive() bool {
	return h.State() == StateRunning
}

// Launch runs fn in its own goroutine until it returns. A context.Canceled
// exit is treated as a graceful stop.
func (h *Handle) Launch(ctx context.Context, run func(ctx context.Context) error) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.done != nil {
		return fmt.Errorf("%w: %s already started", ErrInvalidState, h.name)
	}

	done := make(chan struct{})
	h.done = done
	h.state.Store(int32(StateRunning))

	go func() {
		defer close(done)
		err := run(ctx)
		if errors.Is(err, context.Canceled) {
			err = nil
		}
		h.err = err
		h.state.Store(int32(StateStopped))
	}()

	return nil
}

// Done returns a channel closed once the worker has terminated, or nil if it
// was never started.
func (h *Handle) Done() <-chan struct{} {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.done
}

func (h *Handle) Join() error {
	done := h.Done()
	if done == nil {
		return fmt.Errorf("%w: %s was never started", ErrInvalidState, h.name)
	}
	<-done
	return h.err
}
