package keepalive

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/hookdeck/taskd/internal/logging"
	"github.com/hookdeck/taskd/internal/redis"
	"github.com/hookdeck/taskd/internal/worker"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const (
	WatchdogName = "keepalive"

	DefaultInterval     = 10 * time.Second
	DefaultKeyPrefix    = "taskd"
	DefaultStartTimeout = 10 * time.Second

	// heartbeat TTL in multiples of the interval
	ttlIntervals = 3
)

// Probe is anything whose liveness the watchdog should report.
type Probe interface {
	Name() string
	IsAlive() bool
}

// Heartbeat is the sentinel value written on every tick.
type Heartbeat struct {
	Host      string    `json:"host"`
	PID       int       `json:"pid"`
	Timestamp time.Time `json:"timestamp"`
}

// Watchdog periodically writes a heartbeat key with a TTL to Redis, so an
// external monitor can tell the process is alive, and probes the liveness of
// the watched workers into the health tracker.
type Watchdog struct {
	*worker.Handle

	client       redis.Cmdable
	health       *worker.HealthTracker
	logger       *logging.Logger
	interval     time.Duration
	startTimeout time.Duration
	key          string
	now          func() time.Time

	mu     sync.Mutex
	probes map[string]Probe
}

var _ worker.Worker = &Watchdog{}

type Option func(*Watchdog)

func WithInterval(interval time.Duration) Option {
	return func(w *Watchdog) {
		if interval > 0 {
			w.interval = interval
		}
	}
}

func WithKeyPrefix(prefix string) Option {
	return func(w *Watchdog) {
		if prefix != "" {
			w.key = prefix + ":heartbeat"
		}
	}
}

func WithStartTimeout(timeout time.Duration) Option {
	return func(w *Watchdog) {
		if timeout > 0 {
			w.startTimeout = timeout
		}
	}
}

func New(client redis.Cmdable, health *worker.HealthTracker, logger *logging.Logger, opts ...Option) *Watchdog {
	w := &Watchdog{
		Handle:       worker.NewHandle(WatchdogName),
		client:       client,
		health:       health,
		logger:       logger,
		interval:     DefaultInterval,
		startTimeout: DefaultStartTimeout,
		key:          DefaultKeyPrefix + ":heartbeat",
		now:          time.Now,
		probes:       make(map[string]Probe),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Key returns the Redis key the heartbeat is written to.
func (w *Watchdog) Key() string {
	return w.key
}

func (w *Watchdog) TTL() time.Duration {
	return ttlIntervals * w.interval
}

// Watch adds p to the probes run on every tick.
func (w *Watchdog) Watch(p Probe) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.probes[p.Name()] = p
}

// Unwatch removes the named probe and its health entry.
func (w *Watchdog) Unwatch(name string) {
	w.mu.Lock()
	delete(w.probes, name)
	w.mu.Unlock()
	w.health.Forget(name)
}

// Start checks the heartbeat store is reachable and writes the first
// heartbeat before launching the loop.
func (w *Watchdog) Start(ctx context.Context) error {
	if w.State() != worker.StateNotStarted {
		return fmt.Errorf("%w: %s already started", worker.ErrInvalidState, w.Name())
	}

	startCtx, cancel := context.WithTimeout(ctx, w.startTimeout)
	defer cancel()

	if err := redis.Ping(startCtx, w.client); err != nil {
		return worker.NewStartupError(w.Name(), err)
	}
	if err := w.beat(startCtx); err != nil {
		return worker.NewStartupError(w.Name(), err)
	}
	w.health.MarkHealthy(w.Name())

	return w.Launch(ctx, w.run)
}

func (w *Watchdog) run(ctx context.Context) error {
	logger := w.logger.Ctx(ctx)
	logger.Info("keepalive watcher running",
		zap.String("key", w.key),
		zap.Duration("interval", w.interval))

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()
	defer w.clear()

	for {
		select {
		case <-ctx.Done():
			logger.Info("keepalive watcher stopped")
			return ctx.Err()
		case <-ticker.C:
			w.Tick(ctx)
		}
	}
}

// Tick writes one heartbeat and runs every probe once. The Redis write runs
// alongside the probe round; its error marks the watchdog failed.
func (w *Watchdog) Tick(ctx context.Context) {
	var g errgroup.Group
	g.Go(func() error {
		return w.beat(ctx)
	})
	w.probe(ctx)

	if err := g.Wait(); err != nil {
		if ctx.Err() != nil {
			return
		}
		w.logger.Ctx(ctx).Error("failed to write heartbeat", zap.String("key", w.key), zap.Error(err))
		w.health.MarkFailed(w.Name())
		return
	}
	w.health.MarkHealthy(w.Name())
}

func (w *Watchdog) beat(ctx context.Context) error {
	host, _ := os.Hostname()
	value, err := json.Marshal(Heartbeat{
		Host:      host,
		PID:       os.Getpid(),
		Timestamp: w.now().UTC(),
	})
	if err != nil {
		return err
	}
	if err := w.client.Set(ctx, w.key, value, w.TTL()).Err(); err != nil {
		return fmt.Errorf("failed to set heartbeat: %w", err)
	}
	return nil
}

// probe holds the lock for the whole round so an Unwatch never races with
// an observation of the same probe.
func (w *Watchdog) probe(ctx context.Context) {
	w.mu.Lock()
	defer w.mu.Unlock()

	for _, p := range w.probes {
		alive := p.IsAlive()
		if !w.health.Observe(p.Name(), alive) {
			continue
		}
		if alive {
			w.logger.Ctx(ctx).Info("worker is alive", zap.String("worker", p.Name()))
		} else {
			w.logger.Ctx(ctx).Error("worker is not alive", zap.String("worker", p.Name()))
		}
	}
}

// clear removes the heartbeat so monitors see the stop immediately rather
// than after the TTL.
func (w *Watchdog) clear() {
	ctx, cancel := context.WithTimeout(context.Background(), w.startTimeout)
	defer cancel()
	if err := w.client.Del(ctx, w.key).Err(); err != nil {
		w.logger.Warn("failed to clear heartbeat", zap.String("key", w.key), zap.Error(err))
	}
}
