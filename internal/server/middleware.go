package server

import (
	"net/http"
	"time"

	"edgeresize/internal/id"
	"edgeresize/internal/observability"

	"github.com/gin-gonic/gin"
)

const requestIDHeader = "X-Request-ID"

// requestIDMiddleware propagates or assigns a request id and a log id.
func requestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		requestID := c.GetHeader(requestIDHeader)
		if requestID == "" {
			requestID = id.NewRequestID()
		}
		ctx := id.WithRequestID(c.Request.Context(), requestID)
		ctx, _ = id.EnsureLogID(ctx)
		c.Request = c.Request.WithContext(ctx)
		c.Header(requestIDHeader, requestID)
		c.Next()
	}
}

// accessLogMiddleware logs and measures each request. Lines carry the
// request_id and log_id set by requestIDMiddleware as structured fields.
func accessLogMiddleware(logger *observability.Logger, metrics *observability.MetricsCollector) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		latency := time.Since(start)

		route := c.FullPath()
		if route == "" {
			route = "edge"
		}
		ctx := c.Request.Context()
		status := c.Writer.Status()
		metrics.RecordHTTPServerRequest(ctx, c.Request.Method, route, status, latency)
		if logger == nil {
			return
		}
		fields := []any{
			"method", c.Request.Method,
			"uri", c.Request.URL.RequestURI(),
			"status", status,
			"latency_ms", latency.Milliseconds(),
		}
		if status >= http.StatusInternalServerError {
			logger.ErrorContext(ctx, "request failed", fields...)
			return
		}
		logger.InfoContext(ctx, "request", fields...)
	}
}
