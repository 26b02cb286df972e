package app

import (
	"context"
	"encoding/json"
	"os/signal"
	"syscall"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/hookdeck/taskd/internal/config"
	"github.com/hookdeck/taskd/internal/keepalive"
	"github.com/hookdeck/taskd/internal/logging"
	"github.com/hookdeck/taskd/internal/mqs"
	"github.com/hookdeck/taskd/internal/otel"
	"github.com/hookdeck/taskd/internal/redis"
	"github.com/hookdeck/taskd/internal/rpc"
	"github.com/hookdeck/taskd/internal/server"
	"github.com/hookdeck/taskd/internal/version"
	"github.com/hookdeck/taskd/internal/worker"
	"go.uber.org/zap"
)

type App struct {
	config             *config.Config
	keepaliveRequested bool
	register           []func(*rpc.Dispatcher)
}

type Option func(*App)

// WithKeepalive starts the keepalive watcher regardless of the task mode.
func WithKeepalive(requested bool) Option {
	return func(a *App) {
		a.keepaliveRequested = requested
	}
}

// WithMethods registers rpc methods on the consumer's dispatcher.
func WithMethods(register func(*rpc.Dispatcher)) Option {
	return func(a *App) {
		a.register = append(a.register, register)
	}
}

func New(cfg *config.Config, opts ...Option) *App {
	a := &App{
		config: cfg,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

func (a *App) Run(ctx context.Context) error {
	return a.run(ctx)
}

func (a *App) run(mainContext context.Context) error {
	cfg := a.config

	logger, err := logging.NewLogger(
		logging.WithLogLevel(cfg.LogLevel),
		logging.WithDevelopment(cfg.Debug),
	)
	if err != nil {
		return err
	}
	defer logger.Sync()

	info := version.Get()
	logger.Info("starting taskd",
		zap.String("version", info.Version),
		zap.String("commit_sha", info.CommitSHA),
		zap.String("platform_sha", info.PlatformSHA))
	logger.Info("configuration loaded", cfg.LogConfigurationSummary()...)

	if cfg.SentryDSN != "" {
		if err := sentry.Init(sentry.ClientOptions{
			Dsn:     cfg.SentryDSN,
			Release: info.Version,
		}); err != nil {
			logger.Error("sentry initialization failed", zap.Error(err))
			return err
		}
		defer sentry.Flush(2 * time.Second)
	}

	if otelConfig := cfg.OpenTelemetry.ToOTELConfig(); otelConfig != nil {
		otelShutdown, err := otel.SetupOTelSDK(mainContext, otelConfig)
		if err != nil {
			logger.Error("OpenTelemetry setup failed", zap.Error(err))
			return err
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := otelShutdown(shutdownCtx); err != nil {
				logger.Error("OpenTelemetry shutdown failed", zap.Error(err))
			}
		}()
	}

	logger.Debug("initializing Redis client for keepalive")
	redisClient, err := redis.NewClient(cfg.Redis.ToConfig())
	if err != nil {
		logger.Error("Redis client initialization failed", zap.Error(err))
		return err
	}
	defer redisClient.Close()

	health := worker.NewHealthTracker()

	watchdog := keepalive.New(redisClient, health, logger,
		keepalive.WithInterval(cfg.Keepalive.Interval()),
		keepalive.WithKeyPrefix(cfg.Keepalive.KeyPrefix),
		keepalive.WithStartTimeout(cfg.WorkerStartTimeout()),
	)

	queue, err := mqs.NewQueue(cfg.MQ.ToQueueConfig())
	if err != nil {
		logger.Error("failed to create rpc queue", zap.Error(err))
		return err
	}
	dispatcher := rpc.NewDispatcher()
	registerBuiltinMethods(dispatcher, logger)
	for _, register := range a.register {
		register(dispatcher)
	}
	logger.Debug("rpc methods registered", zap.Strings("methods", dispatcher.Methods()))

	rpcConsumer := rpc.NewConsumer(queue, dispatcher, logger,
		rpc.WithConcurrency(cfg.ConsumerConcurrency),
		rpc.WithStartTimeout(cfg.WorkerStartTimeout()),
	)

	serviceName := "taskd"
	if cfg.OpenTelemetry.ServiceName != "" {
		serviceName = cfg.OpenTelemetry.ServiceName
	}
	srv := server.New(logger, health,
		server.WithServiceName(serviceName),
		server.WithSentry(cfg.SentryDSN != ""),
		server.WithShutdownTimeout(cfg.ShutdownTimeout()),
	)

	// The serving loop returns when a termination signal cancels ctx.
	ctx, stop := signal.NotifyContext(mainContext, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	orchestrator := NewOrchestrator(SettingsFromConfig(cfg), watchdog, rpcConsumer, srv, logger)
	if err := orchestrator.Run(ctx, a.keepaliveRequested); err != nil {
		logger.Error("taskd exited with error", zap.Error(err))
		return err
	}

	logger.Info("taskd shutdown complete")
	return nil
}

// registerBuiltinMethods adds the methods every deployment answers.
func registerBuiltinMethods(d *rpc.Dispatcher, logger *logging.Logger) {
	d.Register("ping", func(ctx context.Context, args json.RawMessage) error {
		logger.Ctx(ctx).Info("rpc ping", zap.ByteString("args", args))
		return nil
	})
}
