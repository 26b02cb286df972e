package consumer

import (
	"context"

	"github.com/hookdeck/taskd/internal/logging"
	"github.com/hookdeck/taskd/internal/mqs"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

type Consumer interface {
	Run(context.Context) error
}

// MessageHandler processes one message. Handlers own the ack/nack decision.
type MessageHandler interface {
	Handle(context.Context, *mqs.Message) error
}

type MessageHandlerFunc func(context.Context, *mqs.Message) error

func (f MessageHandlerFunc) Handle(ctx context.Context, msg *mqs.Message) error {
	return f(ctx, msg)
}

type consumerImplOptions struct {
	name        string
	concurrency int
	logger      *logging.Logger
}

func WithName(name string) func(*consumerImplOptions) {
	return func(c *consumerImplOptions) {
		c.name = name
	}
}

func WithConcurrency(concurrency int) func(*consumerImplOptions) {
	return func(c *consumerImplOptions) {
		if concurrency > 0 {
			c.concurrency = concurrency
		}
	}
}

func WithLogger(logger *logging.Logger) func(*consumerImplOptions) {
	return func(c *consumerImplOptions) {
		c.logger = logger
	}
}

func New(subscription mqs.Subscription, handler MessageHandler, opts ...func(*consumerImplOptions)) Consumer {
	options := &consumerImplOptions{
		name:        "",
		concurrency: 1,
	}
	for _, opt := range opts {
		opt(options)
	}
	return &consumerImpl{
		subscription:        subscription,
		handler:             handler,
		consumerImplOptions: *options,
	}
}

type consumerImpl struct {
	consumerImplOptions
	subscription mqs.Subscription
	handler      MessageHandler
}

var _ Consumer = &consumerImpl{}

// Run receives until ctx is cancelled or the subscription fails, then waits
// for in-flight handlers before returning. Handlers run on a background
// context so a shutdown does not abort work already dequeued.
func (c *consumerImpl) Run(ctx context.Context) error {
	defer c.subscription.Shutdown(context.Background())

	tracer := otel.GetTracerProvider().Tracer("github.com/hookdeck/taskd/internal/consumer")
	handled, err := otel.GetMeterProvider().Meter("github.com/hookdeck/taskd/internal/consumer").
		Int64Counter("consumer.messages.handled", metric.WithDescription("Messages handed to the handler"))
	if err != nil {
		return err
	}

	var subscriptionErr error

	sem := make(chan struct{}, c.concurrency)
recvLoop:
	for {
		msg, err := c.subscription.Receive(ctx)
		if err != nil {
			subscriptionErr = err
			break recvLoop
		}

		select {
		case sem <- struct{}{}:
		case <-ctx.Done():
			// Not handled; let the broker redeliver it.
			msg.Nack()
			subscriptionErr = ctx.Err()
			break recvLoop
		}

		go func() {
			defer func() { <-sem }() // Release the semaphore.

			handlerCtx, span := tracer.Start(context.Background(), c.actionWithName("Consumer.Handle"),
				trace.WithSpanKind(trace.SpanKindConsumer),
				trace.WithAttributes(attribute.String("messaging.message.id", msg.LoggableID)),
			)
			defer span.End()

			outcome := "ok"
			defer func() {
				handled.Add(handlerCtx, 1, metric.WithAttributes(
					attribute.String("consumer", c.name),
					attribute.String("outcome", outcome),
				))
			}()

			if err := c.handler.Handle(handlerCtx, msg); err != nil {
				outcome = "error"
				span.RecordError(err)
				if c.logger != nil {
					c.logger.Ctx(handlerCtx).Error("consumer handler error",
						zap.String("name", c.name),
						zap.String("message_id", msg.LoggableID),
						zap.Error(err))
				}
			}
		}()
	}

	// We're no longer receiving messages. Wait to finish handling any
	// unacknowledged messages by totally acquiring the semaphore.
	for n := 0; n < c.concurrency; n++ {
		sem <- struct{}{}
	}

	if ctx.Err() != nil {
		return ctx.Err()
	}
	return subscriptionErr
}

func (c *consumerImpl) actionWithName(action string) string {
	if c.name == "" {
		return action
	}
	return c.name + "." + action
}
