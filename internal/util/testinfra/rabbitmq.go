package testinfra

import (
	"context"
	"log"
	"sync"

	"github.com/testcontainers/testcontainers-go/modules/rabbitmq"
)

var rabbitmqOnce sync.Once

// EnsureRabbitMQ returns an AMQP URL, starting a container on first use.
func EnsureRabbitMQ() string {
	cfg := ReadConfig()
	if cfg.RabbitMQURL == "" {
		rabbitmqOnce.Do(func() {
			startRabbitMQTestContainer(cfg)
		})
	}
	return cfg.RabbitMQURL
}

func startRabbitMQTestContainer(cfg *Config) {
	ctx := context.Background()

	rabbitmqContainer, err := rabbitmq.Run(ctx,
		"rabbitmq:3-management-alpine",
	)
	if err != nil {
		panic(err)
	}

	endpoint, err := rabbitmqContainer.AmqpURL(ctx)
	if err != nil {
		panic(err)
	}
	log.Printf("RabbitMQ running at %s", endpoint)
	cfg.RabbitMQURL = endpoint
	cfg.cleanupFns = append(cfg.cleanupFns, func() {
		if err := rabbitmqContainer.Terminate(context.Background()); err != nil {
			log.Printf("failed to terminate container: %s", err)
		}
	})
}
