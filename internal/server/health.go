package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/hookdeck/taskd/internal/version"
	"github.com/hookdeck/taskd/internal/worker"
)

// HealthHandler reports the tracked worker health: 200 when every worker is
// healthy, 503 otherwise.
func HealthHandler(tracker *worker.HealthTracker) gin.HandlerFunc {
	return func(c *gin.Context) {
		status := tracker.GetStatus()
		if status.Status == worker.WorkerStatusHealthy {
			c.JSON(http.StatusOK, status)
		} else {
			c.JSON(http.StatusServiceUnavailable, status)
		}
	}
}

func VersionHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, version.Get())
	}
}
