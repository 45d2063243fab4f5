package middleware

import (
	"strconv"
	"time"

	"log/slog"

	"userbackend/internal/pkg/metrics"

	"github.com/gin-gonic/gin"
)

// RequestLogger logs HTTP request/response metadata and records latency.
func RequestLogger(logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		status := c.Writer.Status()
		latency := time.Since(start)
		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		method := c.Request.Method

		metrics.HTTPRequestDuration.WithLabelValues(method, route, strconv.Itoa(status)).Observe(latency.Seconds())

		if logger != nil {
			logger.Info("http request",
				slog.String("method", method),
				slog.String("path", c.Request.URL.Path),
				slog.Int("status", status),
				slog.String("client_ip", c.ClientIP()),
				slog.String("latency", latency.String()),
			)
		}
	}
}
