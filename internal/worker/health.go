package worker

import (
	"sync"
	"time"
)

const (
	WorkerStatusHealthy = "healthy"
	WorkerStatusFailed  = "failed"
)

// WorkerHealth represents the health status of a single worker.
// Error details are NOT exposed for security reasons.
type WorkerHealth struct {
	Status    string    `json:"status"` // "healthy" or "failed"
	LastCheck time.Time `json:"last_check"`
}

// HealthStatus is the aggregated view served on /healthz.
type HealthStatus struct {
	Status  string                  `json:"status"`
	Workers map[string]WorkerHealth `json:"workers"`
}

// HealthTracker tracks the health status of all workers.
// It is safe for concurrent use.
type HealthTracker struct {
	mu      sync.RWMutex
	workers map[string]WorkerHealth
	now     func() time.Time
}

func NewHealthTracker() *HealthTracker {
	return &HealthTracker{
		workers: make(map[string]WorkerHealth),
		now:     time.Now,
	}
}

func (h *HealthTracker) MarkHealthy(name string) {
	h.mark(name, WorkerStatusHealthy)
}

// MarkFailed marks a worker as failed.
// Note: Error details are NOT stored for security reasons.
func (h *HealthTracker) MarkFailed(name string) {
	h.mark(name, WorkerStatusFailed)
}

// Observe records the result of a liveness probe and reports whether the
// status changed since the previous observation.
func (h *HealthTracker) Observe(name string, alive bool) bool {
	status := WorkerStatusFailed
	if alive {
		status = WorkerStatusHealthy
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	prev, seen := h.workers[name]
	h.workers[name] = WorkerHealth{Status: status, LastCheck: h.now()}
	return !seen || prev.Status != status
}

// Forget drops a worker from the tracker, e.g. after it was joined.
func (h *HealthTracker) Forget(name string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.workers, name)
}

// IsHealthy returns true if all tracked workers are healthy.
func (h *HealthTracker) IsHealthy() bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.isHealthyLocked()
}

func (h *HealthTracker) GetStatus() HealthStatus {
	h.mu.RLock()
	defer h.mu.RUnlock()

	workers := make(map[string]WorkerHealth, len(h.workers))
	for name, w := range h.workers {
		workers[name] = w
	}

	status := WorkerStatusHealthy
	if !h.isHealthyLocked() {
		status = WorkerStatusFailed
	}

	return HealthStatus{
		Status:  status,
		Workers: workers,
	}
}

func (h *HealthTracker) mark(name, status string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.workers[name] = WorkerHealth{
		Status:    status,
		LastCheck: h.now(),
	}
}

// caller must hold at least the read lock
func (h *HealthTracker) isHealthyLocked() bool {
	for _, w := range h.workers {
		if w.Status != WorkerStatusHealthy {
			return false
		}
	}
	return true
}
