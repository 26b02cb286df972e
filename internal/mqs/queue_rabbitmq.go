package mqs

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/rabbitmq/amqp091-go"
	"gocloud.dev/pubsub"
	"gocloud.dev/pubsub/rabbitpubsub"
)

type RabbitMQConfig struct {
	ServerURL string
	Exchange  string
	Queue     string
}

const (
	DefaultRabbitMQExchange = "taskd"
	DefaultRabbitMQQueue    = "taskd.rpc"
)

func (c *RabbitMQConfig) Validate() error {
	if c.ServerURL == "" {
		return errors.New("RabbitMQ Server URL is not set")
	}
	if c.Exchange == "" {
		return errors.New("RabbitMQ Exchange is not set")
	}
	if c.Queue == "" {
		return errors.New("RabbitMQ Queue is not set")
	}
	return nil
}

type RabbitMQQueue struct {
	conn   *amqp091.Connection
	config *RabbitMQConfig
	topic  *pubsub.Topic
}

var _ Queue = &RabbitMQQueue{}

func NewRabbitMQQueue(config *RabbitMQConfig) *RabbitMQQueue {
	return &RabbitMQQueue{config: config}
}

// closeTimeout bounds the connection.close exchange with a broker that
// stopped answering.
const closeTimeout = time.Second

// Init dials the broker and declares the exchange and queue. The dial, the
// AMQP handshake and the declarations are all bounded by ctx.
func (q *RabbitMQQueue) Init(ctx context.Context) (func(), error) {
	if err := q.config.Validate(); err != nil {
		return nil, err
	}
	conn, err := amqp091.DialConfig(q.config.ServerURL, amqp091.Config{
		Dial: contextDialer(ctx),
	})
	if err != nil {
		return nil, err
	}
	if err := q.declareWithContext(ctx, conn); err != nil {
		return nil, err
	}
	q.conn = conn
	q.topic = rabbitpubsub.OpenTopic(conn, q.config.Exchange, nil)
	return func() {
		q.topic.Shutdown(context.Background())
		conn.Close()
	}, nil
}

func (q *RabbitMQQueue) Publish(ctx context.Context, msg *Message) error {
	if q.topic == nil {
		return ErrQueueNotInitialized
	}
	return q.topic.Send(ctx, msg.toPubSub())
}

func (q *RabbitMQQueue) Subscribe(ctx context.Context) (Subscription, error) {
	if q.conn == nil {
		return nil, ErrQueueNotInitialized
	}
	subscription := rabbitpubsub.OpenSubscription(q.conn, q.config.Queue, nil)
	return newWrappedSubscription(subscription), nil
}

// declareWithContext runs the declarations until ctx is done. amqp091 clears
// the socket deadline after the handshake, so a broker that stops answering
// would otherwise block Channel and the declare calls forever. Closing the
// connection unblocks them. The connection is closed on any error.
func (q *RabbitMQQueue) declareWithContext(ctx context.Context, conn *amqp091.Connection) error {
	declared := make(chan error, 1)
	go func() {
		declared <- q.declareInfrastructure(conn)
	}()

	select {
	case err := <-declared:
		if err != nil {
			conn.CloseDeadline(time.Now().Add(closeTimeout))
			return err
		}
		return nil
	case <-ctx.Done():
		conn.CloseDeadline(time.Now().Add(closeTimeout))
		return fmt.Errorf("declaring rabbitmq infrastructure: %w", ctx.Err())
	}
}

func (q *RabbitMQQueue) declareInfrastructure(conn *amqp091.Connection) error {
	ch, err := conn.Channel()
	if err != nil {
		return err
	}
	defer ch.Close()
	err = ch.ExchangeDeclare(
		q.config.Exchange, // name
		"topic",           // type
		true,              // durable
		false,             // auto-deleted
		false,             // internal
		false,             // no-wait
		nil,               // arguments
	)
	if err != nil {
		return err
	}
	queue, err := ch.QueueDeclare(
		q.config.Queue, // name
		true,           // durable
		false,          // delete when unused
		false,          // exclusive
		false,          // no-wait
		nil,            // arguments
	)
	if err != nil {
		return err
	}
	return ch.QueueBind(
		queue.Name,        // queue name
		"#",               // routing key
		q.config.Exchange, // exchange
		false,
		nil,
	)
}

// contextDialer returns an amqp091 dial func that honours ctx for the TCP
// connect and applies ctx's deadline to the handshake. amqp091 clears the
// deadline once the connection is open.
func contextDialer(ctx context.Context) func(network, addr string) (net.Conn, error) {
	return func(network, addr string) (net.Conn, error) {
		var d net.Dialer
		conn, err := d.DialContext(ctx, network, addr)
		if err != nil {
			return nil, err
		}
		if deadline, ok := ctx.Deadline(); ok {
			if err := conn.SetDeadline(deadline); err != nil {
				conn.Close()
				return nil, err
			}
		} else if err := conn.SetDeadline(time.Now().Add(30 * time.Second)); err != nil {
			conn.Close()
			return nil, err
		}
		return conn, nil
	}
}
