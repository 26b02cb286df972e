package worker

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"
)

var (
	// ErrInvalidState is returned when a worker is used out of order, e.g.
	// joined before it was started or started twice.
	ErrInvalidState = errors.New("worker: invalid state")
)

// Worker represents a long-running background process.
// Each worker runs in its own goroutine and can be observed for liveness.
//
// Workers should:
// - Return from Start() once their resources are acquired, without blocking on the work itself
// - Stop when the context passed to Start() is cancelled
// - Return from Join() only once the goroutine has fully terminated
type Worker interface {
	// Name returns a unique identifier for this worker (e.g., "keepalive", "rpc-consumer")
	Name() string

	// Start acquires the worker's resources and launches it.
	// Returns *StartupError if a resource could not be acquired.
	Start(ctx context.Context) error

	// IsAlive reports whether the worker is running. It never blocks.
	IsAlive() bool

	// Join blocks until the worker has terminated and returns its exit error.
	// Returns ErrInvalidState if the worker was never started.
	Join() error
}

// Logger is a minimal logging interface for structured logging with zap.
type Logger interface {
	Info(msg string, fields ...zap.Field)
	Error(msg string, fields ...zap.Field)
	Debug(msg string, fields ...zap.Field)
	Warn(msg string, fields ...zap.Field)
}

// StartupError reports that a worker could not acquire the resource it needs
// to run (broker connection, heartbeat store, ...).
type StartupError struct {
	Worker string
	Err    error
}

func (e *StartupError) Error() string {
	return fmt.Sprintf("worker %s failed to start: %v", e.Worker, e.Err)
}

func (e *StartupError) Unwrap() error {
	return e.Err
}

// NewStartupError wraps err as a startup failure of the named worker.
func NewStartupError(name string, err error) *StartupError {
	return &StartupError{Worker: name, Err: err}
}

// IsStartupError reports whether err is, or wraps, a *StartupError.
func IsStartupError(err error) bool {
	var startupErr *StartupError
	return errors.As(err, &startupErr)
}
