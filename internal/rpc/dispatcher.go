package rpc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/hookdeck/taskd/internal/consumer"
	"github.com/hookdeck/taskd/internal/mqs"
)

var (
	ErrMalformedTask = errors.New("rpc: malformed task")
	ErrUnknownMethod = errors.New("rpc: unknown method")
)

// Task is the envelope of every message on the rpc queue. Args are passed to
// the handler undecoded.
type Task struct {
	Method string          `json:"method"`
	Args   json.RawMessage `json:"args,omitempty"`
}

type HandlerFunc func(ctx context.Context, args json.RawMessage) error

// Dispatcher routes tasks to the handler registered for their method.
type Dispatcher struct {
	mu       sync.RWMutex
	handlers map[string]HandlerFunc
}

var _ consumer.MessageHandler = &Dispatcher{}

func NewDispatcher() *Dispatcher {
	return &Dispatcher{handlers: make(map[string]HandlerFunc)}
}

// Register adds a handler for method.
// Panics if a handler with the same method is already registered.
func (d *Dispatcher) Register(method string, handler HandlerFunc) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, exists := d.handlers[method]; exists {
		panic(fmt.Sprintf("rpc method %s already registered", method))
	}
	d.handlers[method] = handler
}

func (d *Dispatcher) Methods() []string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	methods := make([]string, 0, len(d.handlers))
	for method := range d.handlers {
		methods = append(methods, method)
	}
	sort.Strings(methods)
	return methods
}

// Handle acks tasks that can never succeed (malformed, unknown method) so
// they are not redelivered forever, and nacks tasks whose handler failed.
func (d *Dispatcher) Handle(ctx context.Context, msg *mqs.Message) error {
	var task Task
	if err := json.Unmarshal(msg.Body, &task); err != nil {
		msg.Ack()
		return fmt.Errorf("%w: %v", ErrMalformedTask, err)
	}
	if task.Method == "" {
		msg.Ack()
		return fmt.Errorf("%w: missing method", ErrMalformedTask)
	}

	d.mu.RLock()
	handler, ok := d.handlers[task.Method]
	d.mu.RUnlock()
	if !ok {
		msg.Ack()
		return fmt.Errorf("%w: %s", ErrUnknownMethod, task.Method)
	}

	if err := handler(ctx, task.Args); err != nil {
		msg.Nack()
		return fmt.Errorf("rpc method %s: %w", task.Method, err)
	}
	msg.Ack()
	return nil
}

// NewTaskMessage encodes a task for publishing.
func NewTaskMessage(method string, args any) (*mqs.Message, error) {
	task := Task{Method: method}
	if args != nil {
		raw, err := json.Marshal(args)
		if err != nil {
			return nil, err
		}
		task.Args = raw
	}
	body, err := json.Marshal(task)
	if err != nil {
		return nil, err
	}
	return &mqs.Message{Body: body}, nil
}
