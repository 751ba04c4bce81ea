package middleware

import (
	"log/slog"
	"time"

	"github.com/gin-gonic/gin"
)

func RequestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		status := c.Writer.Status()
		attrs := []any{
			"method", c.Request.Method,
			"path", c.FullPath(),
			"status", status,
			"duration", time.Since(start),
			"client_ip", c.ClientIP(),
		}
		if c.FullPath() == "/health" {
			slog.Debug("Request handled", attrs...)
			return
		}
		if status >= 500 {
			slog.Warn("Request failed", attrs...)
			return
		}
		slog.Info("Request handled", attrs...)
	}
}
