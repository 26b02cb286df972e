package app

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/hookdeck/taskd/internal/config"
	"github.com/hookdeck/taskd/internal/keepalive"
	"github.com/hookdeck/taskd/internal/logging"
	"github.com/hookdeck/taskd/internal/worker"
	"go.uber.org/zap"
)

// ServingLoop is the blocking foreground call. Serve returns once ctx is
// cancelled or the loop fails.
type ServingLoop interface {
	Serve(ctx context.Context, host string, port int, debug bool) error
}

type State int32

const (
	StateInit State = iota
	StateStarting
	StateServing
	StateDraining
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateInit:
		return "init"
	case StateStarting:
		return "starting"
	case StateServing:
		return "serving"
	case StateDraining:
		return "draining"
	case StateStopped:
		return "stopped"
	}
	return "unknown"
}

// Settings is the part of the configuration the orchestrator acts on.
type Settings struct {
	FakeTasks          bool
	FakeTasksViaBroker bool
	ListenAddress      string
	ListenPort         int
	Debug              bool
}

func SettingsFromConfig(cfg *config.Config) Settings {
	return Settings{
		FakeTasks:          cfg.FakeTasks,
		FakeTasksViaBroker: cfg.FakeTasksViaBroker,
		ListenAddress:      cfg.ListenAddress,
		ListenPort:         cfg.ListenPort,
		Debug:              cfg.Debug,
	}
}

// Plan reports which workers Run starts for the given settings, assuming the
// watchdog is not already alive.
func Plan(settings Settings, keepaliveRequested bool) (watchdog, consumer bool) {
	return plan(settings, keepaliveRequested, func() bool { return false })
}

// plan evaluates the startup table in order. The watchdog liveness check
// only runs when the explicit keepalive flag is not set.
func plan(settings Settings, keepaliveRequested bool, watchdogAlive func() bool) (watchdog, consumer bool) {
	switch {
	case keepaliveRequested:
		watchdog = true
	case !settings.FakeTasks && !settings.FakeTasksViaBroker && !watchdogAlive():
		watchdog = true
	}
	consumer = !settings.FakeTasks
	return watchdog, consumer
}

// watcher is implemented by workers that probe the liveness of others.
type watcher interface {
	Watch(p keepalive.Probe)
	Unwatch(name string)
}

// Orchestrator starts the background workers the settings call for, runs
// the serving loop and joins the workers once it returns.
type Orchestrator struct {
	settings Settings
	watchdog worker.Worker
	consumer worker.Worker
	server   ServingLoop
	logger   *logging.Logger

	state atomic.Int32
}

func NewOrchestrator(settings Settings, watchdog, consumer worker.Worker, server ServingLoop, logger *logging.Logger) *Orchestrator {
	return &Orchestrator{
		settings: settings,
		watchdog: watchdog,
		consumer: consumer,
		server:   server,
		logger:   logger,
	}
}

func (o *Orchestrator) State() State {
	return State(o.state.Load())
}

func (o *Orchestrator) setState(s State) {
	o.state.Store(int32(s))
}

// slot tracks whether a worker was actually started, and owns the context
// that stops it.
type slot struct {
	worker  worker.Worker
	cancel  context.CancelFunc
	started bool
}

// start gives the worker its own context, detached from ctx cancellation so
// the drain order is decided by stop alone.
func (s *slot) start(ctx context.Context) error {
	if s.worker == nil {
		return fmt.Errorf("%w: worker not configured", worker.ErrInvalidState)
	}
	workerCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	if err := s.worker.Start(workerCtx); err != nil {
		cancel()
		return err
	}
	s.cancel = cancel
	s.started = true
	return nil
}

func (s *slot) stop() error {
	if !s.started {
		return nil
	}
	s.cancel()
	if err := s.worker.Join(); err != nil {
		return fmt.Errorf("%s: %w", s.worker.Name(), err)
	}
	return nil
}

// Run may only be called once. A startup failure stops whatever was already
// started and is returned without entering the serving loop.
func (o *Orchestrator) Run(ctx context.Context, keepaliveRequested bool) error {
	if !o.state.CompareAndSwap(int32(StateInit), int32(StateStarting)) {
		return fmt.Errorf("%w: orchestrator already ran", worker.ErrInvalidState)
	}
	defer o.setState(StateStopped)

	logger := o.logger.Ctx(ctx)

	watchdog := &slot{worker: o.watchdog}
	consumer := &slot{worker: o.consumer}

	startWatchdog, startConsumer := plan(o.settings, keepaliveRequested, func() bool {
		return o.watchdog != nil && o.watchdog.IsAlive()
	})

	if startWatchdog {
		logger.Info("running keepalive watcher", zap.Bool("requested", keepaliveRequested))
		if err := watchdog.start(ctx); err != nil {
			logger.Error("keepalive watcher failed to start", zap.Error(err))
			return err
		}
	}

	if startConsumer {
		logger.Info("running rpc consumer")
		if err := consumer.start(ctx); err != nil {
			logger.Error("rpc consumer failed to start", zap.Error(err))
			o.setState(StateDraining)
			return errors.Join(err, o.stopWatchdog(ctx, watchdog))
		}
		if w, ok := o.watchdog.(watcher); ok && o.watchdog.IsAlive() {
			w.Watch(o.consumer)
		}
	}

	o.setState(StateServing)
	logger.Info("running http server",
		zap.String("host", o.settings.ListenAddress),
		zap.Int("port", o.settings.ListenPort))
	serveErr := o.server.Serve(ctx, o.settings.ListenAddress, o.settings.ListenPort, o.settings.Debug)
	if serveErr != nil {
		logger.Error("http server exited with error", zap.Error(serveErr))
	}
	logger.Info("stopping http server")

	o.setState(StateDraining)
	errs := []error{serveErr}
	if consumer.started {
		logger.Info("stopping rpc consumer")
		errs = append(errs, consumer.stop())
		if w, ok := o.watchdog.(watcher); ok {
			w.Unwatch(o.consumer.Name())
		}
	}
	errs = append(errs, o.stopWatchdog(ctx, watchdog))

	logger.Info("done")
	return errors.Join(errs...)
}

func (o *Orchestrator) stopWatchdog(ctx context.Context, watchdog *slot) error {
	if !watchdog.started {
		return nil
	}
	o.logger.Ctx(ctx).Info("stopping keepalive watcher", zap.Bool("alive", o.watchdog.IsAlive()))
	// Joined because it was started here, alive or not: a watchdog that
	// already exited returns from Join at once.
	return watchdog.stop()
}
