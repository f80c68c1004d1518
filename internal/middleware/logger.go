package middleware

import (
	"time"

	"github.com/gin-gonic/gin"

	"github.com/careline/bookingbot/pkg/logger"
)

// Logger writes one structured access-log line per request.
func Logger(l *logger.Logger) gin.HandlerFunc {
	accessLog := l.WithComponent("http")
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path

		c.Next()

		accessLog.Info("request",
			"method", c.Request.Method,
			"path", path,
			"status", c.Writer.Status(),
			"duration_ms", time.Since(start).Milliseconds(),
			"request_id", c.GetString(ContextRequestID),
		)
	}
}
