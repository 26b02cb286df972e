package server

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/hookdeck/taskd/internal/logging"
	"go.uber.org/zap"
)

func LoggerMiddleware(logger *logging.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		logger := logger.Ctx(c.Request.Context())
		start := time.Now()
		path := c.Request.URL.Path
		query := c.Request.URL.RawQuery

		c.Next()

		fields := []zap.Field{
			zap.String("path", path),
			zap.String("query", query),
			zap.String("method", c.Request.Method),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
			zap.String("client_ip", c.ClientIP()),
		}

		if len(c.Errors) > 0 {
			logger.Error("request failed", append(fields, zap.Strings("errors", c.Errors.Errors()))...)
			return
		}
		// health checks are polled constantly
		if path == "/healthz" || path == "/api/v1/healthz" {
			logger.Debug("request completed", fields...)
			return
		}
		logger.Info("request completed", fields...)
	}
}
