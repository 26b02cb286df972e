package rpc

import (
	"context"
	"fmt"
	"time"

	"github.com/hookdeck/taskd/internal/consumer"
	"github.com/hookdeck/taskd/internal/logging"
	"github.com/hookdeck/taskd/internal/mqs"
	"github.com/hookdeck/taskd/internal/worker"
	"go.uber.org/zap"
)

const (
	ConsumerName = "rpc-consumer"

	DefaultStartTimeout = 10 * time.Second
)

// Consumer is the worker that drains the rpc queue. Start opens the broker
// connection; the worker runs until the context passed to Start is
// cancelled and in-flight tasks have finished.
type Consumer struct {
	*worker.Handle

	queue        mqs.Queue
	handler      consumer.MessageHandler
	concurrency  int
	startTimeout time.Duration
	logger       *logging.Logger
}

var _ worker.Worker = &Consumer{}

type ConsumerOption func(*Consumer)

func WithConcurrency(concurrency int) ConsumerOption {
	return func(c *Consumer) {
		c.concurrency = concurrency
	}
}

func WithStartTimeout(timeout time.Duration) ConsumerOption {
	return func(c *Consumer) {
		if timeout > 0 {
			c.startTimeout = timeout
		}
	}
}

func NewConsumer(queue mqs.Queue, handler consumer.MessageHandler, logger *logging.Logger, opts ...ConsumerOption) *Consumer {
	c := &Consumer{
		Handle:       worker.NewHandle(ConsumerName),
		queue:        queue,
		handler:      handler,
		concurrency:  1,
		startTimeout: DefaultStartTimeout,
		logger:       logger,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Consumer) Start(ctx context.Context) error {
	if c.State() != worker.StateNotStarted {
		return fmt.Errorf("%w: %s already started", worker.ErrInvalidState, c.Name())
	}

	initCtx, cancel := context.WithTimeout(ctx, c.startTimeout)
	defer cancel()

	cleanup, err := c.queue.Init(initCtx)
	if err != nil {
		return worker.NewStartupError(c.Name(), err)
	}
	subscription, err := c.queue.Subscribe(initCtx)
	if err != nil {
		cleanup()
		return worker.NewStartupError(c.Name(), err)
	}

	csm := consumer.New(subscription, c.handler,
		consumer.WithName(c.Name()),
		consumer.WithConcurrency(c.concurrency),
		consumer.WithLogger(c.logger),
	)

	err = c.Launch(ctx, func(ctx context.Context) error {
		defer cleanup()
		c.logger.Ctx(ctx).Info("rpc consumer running", zap.Int("concurrency", c.concurrency))
		err := csm.Run(ctx)
		c.logger.Ctx(ctx).Info("rpc consumer stopped")
		return err
	})
	if err != nil {
		subscription.Shutdown(context.Background())
		cleanup()
		return err
	}
	return nil
}
