package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v9"
	"github.com/hookdeck/taskd/internal/mqs"
	"github.com/hookdeck/taskd/internal/otel"
	"github.com/hookdeck/taskd/internal/redis"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

func getConfigLocations() []string {
	return []string{
		// Relative paths
		".env",
		".taskd.yaml",
		"config/taskd.yaml",
		"config/taskd/config.yaml",
		"config/taskd/.env",

		// Container-friendly absolute paths
		"/config/taskd.yaml",
		"/config/taskd/config.yaml",
		"/config/taskd/.env",
	}
}

// Flags are the command line inputs that affect configuration parsing.
// Zero values mean "not set".
type Flags struct {
	Config        string
	ListenAddress string
	ListenPort    int
	Debug         bool
}

type Config struct {
	LogLevel string `yaml:"log_level" env:"LOG_LEVEL" validate:"omitempty,oneof=debug info warn error fatal"`
	Debug    bool   `yaml:"debug" env:"DEBUG"`

	// HTTP
	ListenAddress          string `yaml:"listen_address" env:"LISTEN_ADDRESS" validate:"required"`
	ListenPort             int    `yaml:"listen_port" env:"LISTEN_PORT" validate:"min=1,max=65535"`
	ShutdownTimeoutSeconds int    `yaml:"shutdown_timeout_seconds" env:"SHUTDOWN_TIMEOUT_SECONDS" validate:"min=1"`

	// Task processing
	FakeTasks                 bool `yaml:"fake_tasks" env:"FAKE_TASKS"`
	FakeTasksViaBroker        bool `yaml:"fake_tasks_amqp" env:"FAKE_TASKS_AMQP"`
	ConsumerConcurrency       int  `yaml:"consumer_concurrency" env:"CONSUMER_CONCURRENCY" validate:"min=1"`
	WorkerStartTimeoutSeconds int  `yaml:"worker_start_timeout_seconds" env:"WORKER_START_TIMEOUT_SECONDS" validate:"min=1"`

	// Infrastructure
	Redis     *RedisConfig     `yaml:"redis" validate:"required"`
	MQ        *MQConfig        `yaml:"mq" validate:"required"`
	Keepalive *KeepaliveConfig `yaml:"keepalive" validate:"required"`

	// Observability
	OpenTelemetry *OpenTelemetryConfig `yaml:"otel" validate:"required"`

	SentryDSN string `yaml:"sentry_dsn" env:"SENTRY_DSN"`

	configPath string
}

func (c *Config) initDefaults() {
	c.LogLevel = "info"
	c.ListenAddress = "0.0.0.0"
	c.ListenPort = 8000
	c.ShutdownTimeoutSeconds = 10
	c.ConsumerConcurrency = 1
	c.WorkerStartTimeoutSeconds = 10
	c.Redis = &RedisConfig{
		Host: "127.0.0.1",
		Port: 6379,
	}
	c.MQ = &MQConfig{
		Type: MQTypeRabbitMQ,
		RabbitMQ: &RabbitMQConfig{
			Exchange: mqs.DefaultRabbitMQExchange,
			Queue:    mqs.DefaultRabbitMQQueue,
		},
	}
	c.Keepalive = &KeepaliveConfig{
		IntervalSeconds: 10,
		KeyPrefix:       "taskd",
	}
	c.OpenTelemetry = &OpenTelemetryConfig{
		Protocol: otel.ProtocolGRPC,
		Metrics:  true,
	}
}

func (c *Config) parseConfigFile(flagPath string, osInterface OSInterface) error {
	// Get config file path from flag or env
	configPath := flagPath
	if envPath := osInterface.Getenv("CONFIG"); envPath != "" {
		if configPath != "" && configPath != envPath {
			return fmt.Errorf("conflicting config paths: flag=%s env=%s", configPath, envPath)
		}
		configPath = envPath
	}

	// If no explicit config path, try default locations
	if configPath == "" {
		for _, loc := range getConfigLocations() {
			if _, err := osInterface.Stat(loc); err == nil {
				configPath = loc
				break
			}
		}
	}

	if configPath == "" {
		return nil
	}

	data, err := osInterface.ReadFile(configPath)
	if err != nil {
		return fmt.Errorf("error reading config file: %w", err)
	}
	c.configPath = configPath

	// Parse based on file extension
	if strings.HasSuffix(strings.ToLower(configPath), ".env") {
		envMap, err := godotenv.UnmarshalBytes(data)
		if err != nil {
			return fmt.Errorf("error loading .env file: %w", err)
		}
		if err := env.ParseWithOptions(c, env.Options{
			Environment: envMap,
		}); err != nil {
			return fmt.Errorf("error parsing .env file: %w", err)
		}
	} else {
		if err := yaml.Unmarshal(data, c); err != nil {
			return fmt.Errorf("error parsing yaml config: %w", err)
		}
	}
	return nil
}

func (c *Config) parseEnvVariables(osInterface OSInterface) error {
	if err := env.ParseWithOptions(c, env.Options{
		Environment: environMap(osInterface.Environ()),
	}); err != nil {
		return fmt.Errorf("error parsing environment variables: %w", err)
	}
	return nil
}

func environMap(environ []string) map[string]string {
	m := make(map[string]string, len(environ))
	for _, kv := range environ {
		if key, value, ok := strings.Cut(kv, "="); ok {
			m[key] = value
		}
	}
	return m
}

// applyFlags lets command line overrides win over file and env values.
func (c *Config) applyFlags(flags Flags) {
	if flags.ListenAddress != "" {
		c.ListenAddress = flags.ListenAddress
	}
	if flags.ListenPort != 0 {
		c.ListenPort = flags.ListenPort
	}
	if flags.Debug {
		c.Debug = true
	}
}

func Parse(flags Flags) (*Config, error) {
	return ParseWithOS(flags, defaultOS)
}

// ParseWithOS resolves configuration with precedence
// defaults < config file < environment < flags, then validates it.
func ParseWithOS(flags Flags, osInterface OSInterface) (*Config, error) {
	var config Config

	config.initDefaults()

	if err := config.parseConfigFile(flags.Config, osInterface); err != nil {
		return nil, err
	}

	if err := config.parseEnvVariables(osInterface); err != nil {
		return nil, err
	}

	config.applyFlags(flags)

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return &config, nil
}

func (c *Config) ConfigFilePath() string {
	return c.configPath
}

func (c *Config) WorkerStartTimeout() time.Duration {
	return time.Duration(c.WorkerStartTimeoutSeconds) * time.Second
}

func (c *Config) ShutdownTimeout() time.Duration {
	return time.Duration(c.ShutdownTimeoutSeconds) * time.Second
}

type RedisConfig struct {
	Host       string `yaml:"host" env:"REDIS_HOST" validate:"required"`
	Port       int    `yaml:"port" env:"REDIS_PORT" validate:"min=1,max=65535"`
	Username   string `yaml:"username" env:"REDIS_USERNAME"`
	Password   string `yaml:"password" env:"REDIS_PASSWORD"`
	Database   int    `yaml:"database" env:"REDIS_DATABASE" validate:"min=0"`
	TLSEnabled bool   `yaml:"tls_enabled" env:"REDIS_TLS_ENABLED"`

	ClusterEnabled bool `yaml:"cluster_enabled" env:"REDIS_CLUSTER_ENABLED"`
}

func (c *RedisConfig) ToConfig() *redis.RedisConfig {
	return &redis.RedisConfig{
		Host:       c.Host,
		Port:       c.Port,
		Username:   c.Username,
		Password:   c.Password,
		Database:   c.Database,
		TLSEnabled: c.TLSEnabled,

		ClusterEnabled: c.ClusterEnabled,
	}
}

const (
	MQTypeRabbitMQ = "rabbitmq"
	MQTypeInMemory = "inmemory"
)

type MQConfig struct {
	Type     string          `yaml:"type" env:"MQ_TYPE" validate:"oneof=rabbitmq inmemory"`
	RabbitMQ *RabbitMQConfig `yaml:"rabbitmq"`
}

type RabbitMQConfig struct {
	ServerURL string `yaml:"server_url" env:"RABBITMQ_SERVER_URL"`
	Exchange  string `yaml:"exchange" env:"RABBITMQ_EXCHANGE"`
	Queue     string `yaml:"queue" env:"RABBITMQ_QUEUE"`
}

func (c *MQConfig) ToQueueConfig() *mqs.QueueConfig {
	switch c.Type {
	case MQTypeInMemory:
		return &mqs.QueueConfig{InMemory: &mqs.InMemoryConfig{Name: "rpc"}}
	case MQTypeRabbitMQ:
		if c.RabbitMQ == nil {
			return nil
		}
		return &mqs.QueueConfig{RabbitMQ: &mqs.RabbitMQConfig{
			ServerURL: c.RabbitMQ.ServerURL,
			Exchange:  c.RabbitMQ.Exchange,
			Queue:     c.RabbitMQ.Queue,
		}}
	}
	return nil
}

type KeepaliveConfig struct {
	IntervalSeconds int    `yaml:"interval_seconds" env:"KEEPALIVE_INTERVAL_SECONDS" validate:"min=1"`
	KeyPrefix       string `yaml:"key_prefix" env:"KEEPALIVE_KEY_PREFIX" validate:"required"`
}

func (c *KeepaliveConfig) Interval() time.Duration {
	return time.Duration(c.IntervalSeconds) * time.Second
}
