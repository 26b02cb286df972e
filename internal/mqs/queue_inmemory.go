package mqs

import (
	"context"
	"sync"
	"time"

	"gocloud.dev/pubsub"
	"gocloud.dev/pubsub/mempubsub"
)

type InMemoryConfig struct {
	Name        string
	AckDeadline time.Duration
}

const DefaultInMemoryAckDeadline = 30 * time.Second

// InMemoryQueue is a process-local queue used in fake-task mode and tests.
// It supports a single subscriber.
type InMemoryQueue struct {
	config *InMemoryConfig

	mu           sync.Mutex
	topic        *pubsub.Topic
	subscription *pubsub.Subscription
	subscribed   bool
}

var _ Queue = &InMemoryQueue{}

func NewInMemoryQueue(config *InMemoryConfig) *InMemoryQueue {
	return &InMemoryQueue{config: config}
}

func (q *InMemoryQueue) Init(ctx context.Context) (func(), error) {
	ackDeadline := q.config.AckDeadline
	if ackDeadline <= 0 {
		ackDeadline = DefaultInMemoryAckDeadline
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	q.topic = mempubsub.NewTopic()
	// mempubsub drops messages sent before a subscription exists, so open
	// it eagerly.
	q.subscription = mempubsub.NewSubscription(q.topic, ackDeadline)
	topic := q.topic
	return func() {
		topic.Shutdown(context.Background())
	}, nil
}

func (q *InMemoryQueue) Publish(ctx context.Context, msg *Message) error {
	q.mu.Lock()
	topic := q.topic
	q.mu.Unlock()
	if topic == nil {
		return ErrQueueNotInitialized
	}
	return topic.Send(ctx, msg.toPubSub())
}

func (q *InMemoryQueue) Subscribe(ctx context.Context) (Subscription, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.subscription == nil {
		return nil, ErrQueueNotInitialized
	}
	if q.subscribed {
		return nil, ErrAlreadySubscribed
	}
	q.subscribed = true
	return newWrappedSubscription(q.subscription), nil
}
