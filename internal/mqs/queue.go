package mqs

import (
	"context"
	"errors"

	"gocloud.dev/pubsub"
)

var (
	ErrInvalidConfig       = errors.New("mqs: no queue configured")
	ErrAlreadySubscribed   = errors.New("mqs: queue already has a subscriber")
	ErrQueueNotInitialized = errors.New("mqs: queue not initialized")
)

type QueueConfig struct {
	RabbitMQ *RabbitMQConfig
	InMemory *InMemoryConfig
}

func (c *QueueConfig) Type() string {
	switch {
	case c == nil:
		return ""
	case c.RabbitMQ != nil:
		return "rabbitmq"
	case c.InMemory != nil:
		return "inmemory"
	}
	return ""
}

// Queue is a broker-backed task queue. Init acquires the broker connection
// and returns a cleanup func releasing it.
type Queue interface {
	Init(ctx context.Context) (func(), error)
	Publish(ctx context.Context, msg *Message) error
	Subscribe(ctx context.Context) (Subscription, error)
}

type Subscription interface {
	Receive(ctx context.Context) (*Message, error)
	Shutdown(ctx context.Context) error
}

func NewQueue(config *QueueConfig) (Queue, error) {
	switch config.Type() {
	case "rabbitmq":
		return NewRabbitMQQueue(config.RabbitMQ), nil
	case "inmemory":
		return NewInMemoryQueue(config.InMemory), nil
	}
	return nil, ErrInvalidConfig
}

// Message is a single queued task.
type Message struct {
	QueueMessage *pubsub.Message
	LoggableID   string
	Body         []byte
	Metadata     map[string]string
}

func (m *Message) Ack() {
	if m.QueueMessage != nil {
		m.QueueMessage.Ack()
	}
}

// Nack requests redelivery when the driver supports it and acks otherwise,
// so the message is never left outstanding.
func (m *Message) Nack() {
	if m.QueueMessage == nil {
		return
	}
	if m.QueueMessage.Nackable() {
		m.QueueMessage.Nack()
		return
	}
	m.QueueMessage.Ack()
}

func (m *Message) toPubSub() *pubsub.Message {
	return &pubsub.Message{
		Body:     m.Body,
		Metadata: m.Metadata,
	}
}

type wrappedSubscription struct {
	subscription *pubsub.Subscription
}

var _ Subscription = &wrappedSubscription{}

func newWrappedSubscription(subscription *pubsub.Subscription) *wrappedSubscription {
	return &wrappedSubscription{subscription: subscription}
}

func (s *wrappedSubscription) Receive(ctx context.Context) (*Message, error) {
	msg, err := s.subscription.Receive(ctx)
	if err != nil {
		return nil, err
	}
	return &Message{
		QueueMessage: msg,
		LoggableID:   msg.LoggableID,
		Body:         msg.Body,
		Metadata:     msg.Metadata,
	}, nil
}

func (s *wrappedSubscription) Shutdown(ctx context.Context) error {
	return s.subscription.Shutdown(ctx)
}
