package worker

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHealthTracker_MarkHealthy(t *testing.T) {
	t.Parallel()

	tracker := NewHealthTracker()

	tracker.MarkHealthy("worker-1")

	status := tracker.GetStatus()
	assert.Equal(t, WorkerStatusHealthy, status.Status)
	assert.Len(t, status.Workers, 1)
	assert.Equal(t, WorkerStatusHealthy, status.Workers["worker-1"].Status)
}

func TestHealthTracker_MarkFailed(t *testing.T) {
	t.Parallel()

	tracker := NewHealthTracker()

	tracker.MarkFailed("worker-1")

	status := tracker.GetStatus()
	assert.Equal(t, WorkerStatusFailed, status.Status)
	assert.Equal(t, WorkerStatusFailed, status.Workers["worker-1"].Status)
}

func TestHealthTracker_IsHealthy(t *testing.T) {
	t.Parallel()

	tracker := NewHealthTracker()
	assert.True(t, tracker.IsHealthy(), "empty tracker is healthy")

	tracker.MarkHealthy("worker-1")
	tracker.MarkHealthy("worker-2")
	assert.True(t, tracker.IsHealthy())

	tracker.MarkFailed("worker-2")
	assert.False(t, tracker.IsHealthy())

	tracker.Forget("worker-2")
	assert.True(t, tracker.IsHealthy())
}

func TestHealthTracker_Observe(t *testing.T) {
	t.Parallel()

	tracker := NewHealthTracker()

	assert.True(t, tracker.Observe("rpc-consumer", true), "first observation is a change")
	assert.False(t, tracker.Observe("rpc-consumer", true))
	assert.True(t, tracker.Observe("rpc-consumer", false))
	assert.False(t, tracker.Observe("rpc-consumer", false))
	assert.Equal(t, WorkerStatusFailed, tracker.GetStatus().Workers["rpc-consumer"].Status)
}

func TestHealthTracker_ConcurrentAccess(t *testing.T) {
	t.Parallel()

	tracker := NewHealthTracker()

	var wg sync.WaitGroup
	workers := 100

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			name := fmt.Sprintf("worker-%d", i)
			if i%2 == 0 {
				tracker.MarkHealthy(name)
			} else {
				tracker.Observe(name, false)
			}
		}(i)
	}

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = tracker.IsHealthy()
			_ = tracker.GetStatus()
		}()
	}

	wg.Wait()

	assert.Len(t, tracker.GetStatus().Workers, workers)
}
