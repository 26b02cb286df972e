package redis

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"

	"github.com/redis/go-redis/extra/redisotel/v9"
	r "github.com/redis/go-redis/v9"
)

// Reexport go-redis's Nil constant for DX purposes.
const (
	Nil = r.Nil
)

type (
	Cmdable = r.Cmdable
)

type Client interface {
	Cmdable
	Close() error
}

// NewClient builds a client without dialing. Connections are established
// lazily, so callers that need to fail fast should Ping.
func NewClient(config *RedisConfig) (Client, error) {
	var client Client
	if config.ClusterEnabled {
		client = newClusterClient(config)
	} else {
		client = newRegularClient(config)
	}
	if err := instrumentOpenTelemetry(client); err != nil {
		client.Close()
		return nil, err
	}
	return client, nil
}

// Ping verifies connectivity.
func Ping(ctx context.Context, client Cmdable) error {
	if err := client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis ping failed: %w", err)
	}
	return nil
}

func newClusterClient(config *RedisConfig) Client {
	// Start with single node - cluster client will auto-discover other nodes
	options := &r.ClusterOptions{
		Addrs:    []string{config.Addr()},
		Username: config.Username,
		Password: config.Password,
		// Note: Database is ignored in cluster mode
	}
	if config.TLSEnabled {
		options.TLSConfig = tlsConfig()
	}
	return r.NewClusterClient(options)
}

func newRegularClient(config *RedisConfig) Client {
	options := &r.Options{
		Addr:     config.Addr(),
		Username: config.Username,
		Password: config.Password,
		DB:       config.Database,
	}
	if config.TLSEnabled {
		options.TLSConfig = tlsConfig()
	}
	return r.NewClient(options)
}

func tlsConfig() *tls.Config {
	return &tls.Config{
		MinVersion:         tls.VersionTLS12,
		InsecureSkipVerify: true,
	}
}

func instrumentOpenTelemetry(client Client) error {
	// OpenTelemetry instrumentation requires a concrete client type for type assertions
	switch c := client.(type) {
	case *r.Client:
		return errors.Join(redisotel.InstrumentTracing(c), redisotel.InstrumentMetrics(c))
	case *r.ClusterClient:
		return errors.Join(redisotel.InstrumentTracing(c), redisotel.InstrumentMetrics(c))
	}
	return nil
}
