package keepalive_test

import (
	"context"
	"encoding/json"
	"os"
	"sync/atomic"
	"testing"
	"time"

	"github.com/hookdeck/taskd/internal/keepalive"
	"github.com/hookdeck/taskd/internal/redis"
	"github.com/hookdeck/taskd/internal/util/testutil"
	"github.com/hookdeck/taskd/internal/worker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeProbe struct {
	name  string
	alive atomic.Bool
}

func newFakeProbe(name string, alive bool) *fakeProbe {
	p := &fakeProbe{name: name}
	p.alive.Store(alive)
	return p
}

func (p *fakeProbe) Name() string  { return p.name }
func (p *fakeProbe) IsAlive() bool { return p.alive.Load() }

func TestWatchdog_HeartbeatLifecycle(t *testing.T) {
	t.Parallel()

	client, mr := testutil.CreateTestRedisClient(t)
	health := worker.NewHealthTracker()

	w := keepalive.New(client, health, testutil.CreateTestLogger(t),
		keepalive.WithInterval(time.Hour),
		keepalive.WithKeyPrefix("test"),
	)
	assert.Equal(t, keepalive.WatchdogName, w.Name())
	assert.Equal(t, "test:heartbeat", w.Key())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	require.NoError(t, w.Start(ctx))
	assert.True(t, w.IsAlive())

	// The first heartbeat is written synchronously by Start.
	require.True(t, mr.Exists("test:heartbeat"))
	assert.Equal(t, 3*time.Hour, mr.TTL("test:heartbeat"))

	raw, err := mr.Get("test:heartbeat")
	require.NoError(t, err)
	var hb keepalive.Heartbeat
	require.NoError(t, json.Unmarshal([]byte(raw), &hb))
	assert.Equal(t, os.Getpid(), hb.PID)
	assert.False(t, hb.Timestamp.IsZero())

	assert.Equal(t, worker.WorkerStatusHealthy, health.GetStatus().Workers[keepalive.WatchdogName].Status)

	cancel()
	require.NoError(t, w.Join())
	assert.False(t, w.IsAlive())
	assert.False(t, mr.Exists("test:heartbeat"), "heartbeat is cleared on stop")
}

func TestWatchdog_HeartbeatExpires(t *testing.T) {
	t.Parallel()

	client, mr := testutil.CreateTestRedisClient(t)
	w := keepalive.New(client, worker.NewHealthTracker(), testutil.CreateTestLogger(t),
		keepalive.WithInterval(time.Minute),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer func() {
		cancel()
		w.Join()
	}()
	require.NoError(t, w.Start(ctx))

	mr.FastForward(2 * time.Minute)
	assert.True(t, mr.Exists(w.Key()))

	mr.FastForward(2 * time.Minute)
	assert.False(t, mr.Exists(w.Key()), "heartbeat expires when not refreshed")

	w.Tick(ctx)
	assert.True(t, mr.Exists(w.Key()))
}

func TestWatchdog_StartupError(t *testing.T) {
	t.Parallel()

	client, mr := testutil.CreateTestRedisClient(t)
	mr.Close()

	w := keepalive.New(client, worker.NewHealthTracker(), testutil.CreateTestLogger(t),
		keepalive.WithStartTimeout(time.Second),
	)

	err := w.Start(context.Background())
	require.Error(t, err)

	var startupErr *worker.StartupError
	require.ErrorAs(t, err, &startupErr)
	assert.Equal(t, keepalive.WatchdogName, startupErr.Worker)

	assert.False(t, w.IsAlive())
	assert.ErrorIs(t, w.Join(), worker.ErrInvalidState)
}

func TestWatchdog_StartTwice(t *testing.T) {
	t.Parallel()

	client, _ := testutil.CreateTestRedisClient(t)
	w := keepalive.New(client, worker.NewHealthTracker(), testutil.CreateTestLogger(t))

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, w.Start(ctx))
	assert.ErrorIs(t, w.Start(ctx), worker.ErrInvalidState)

	cancel()
	assert.NoError(t, w.Join())
}

func TestWatchdog_Probes(t *testing.T) {
	t.Parallel()

	client, _ := testutil.CreateTestRedisClient(t)
	health := worker.NewHealthTracker()
	w := keepalive.New(client, health, testutil.CreateTestLogger(t))

	consumer := newFakeProbe("rpc-consumer", true)
	w.Watch(consumer)

	ctx := context.Background()
	w.Tick(ctx)
	assert.True(t, health.IsHealthy())
	assert.Equal(t, worker.WorkerStatusHealthy, health.GetStatus().Workers["rpc-consumer"].Status)

	consumer.alive.Store(false)
	w.Tick(ctx)
	assert.False(t, health.IsHealthy())
	assert.Equal(t, worker.WorkerStatusFailed, health.GetStatus().Workers["rpc-consumer"].Status)

	w.Unwatch("rpc-consumer")
	assert.True(t, health.IsHealthy())
	w.Tick(ctx)
	assert.NotContains(t, health.GetStatus().Workers, "rpc-consumer")
}

func TestWatchdog_ProbesOnInterval(t *testing.T) {
	t.Parallel()

	client, _ := testutil.CreateTestRedisClient(t)
	health := worker.NewHealthTracker()
	w := keepalive.New(client, health, testutil.CreateTestLogger(t),
		keepalive.WithInterval(10*time.Millisecond),
	)
	w.Watch(newFakeProbe("rpc-consumer", false))

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, w.Start(ctx))

	assert.Eventually(t, func() bool {
		h, ok := health.GetStatus().Workers["rpc-consumer"]
		return ok && h.Status == worker.WorkerStatusFailed
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	assert.NoError(t, w.Join())
}

func TestWatchdog_HeartbeatFailureMarksUnhealthy(t *testing.T) {
	t.Parallel()

	config, mr := testutil.CreateTestRedisConfig(t)
	client, err := redis.NewClient(config)
	require.NoError(t, err)
	defer client.Close()

	health := worker.NewHealthTracker()
	w := keepalive.New(client, health, testutil.CreateTestLogger(t))

	w.Tick(context.Background())
	assert.True(t, health.IsHealthy())

	mr.Close()
	w.Tick(context.Background())
	assert.Equal(t, worker.WorkerStatusFailed, health.GetStatus().Workers[keepalive.WatchdogName].Status)
}

func TestWatchdog_HeartbeatFailureStillProbes(t *testing.T) {
	t.Parallel()

	config, mr := testutil.CreateTestRedisConfig(t)
	client, err := redis.NewClient(config)
	require.NoError(t, err)
	defer client.Close()

	health := worker.NewHealthTracker()
	w := keepalive.New(client, health, testutil.CreateTestLogger(t))
	w.Watch(newFakeProbe("rpc-consumer", true))

	mr.Close()
	w.Tick(context.Background())

	status := health.GetStatus()
	assert.Equal(t, worker.WorkerStatusFailed, status.Workers[keepalive.WatchdogName].Status)
	assert.Equal(t, worker.WorkerStatusHealthy, status.Workers["rpc-consumer"].Status)
}
