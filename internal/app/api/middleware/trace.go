package middleware

import (
	"context"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// TraceMiddleware attaches a trace ID to the request context.
// It reads X-Request-ID if provided by the client; otherwise generates a
// UUID. The trace ID correlates every log row a business transaction writes.
func TraceMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		traceID := c.GetHeader("X-Request-ID")
		if traceID == "" {
			traceID = uuid.NewString()
		}

		// Attach to gin context and request context
		c.Set("traceID", traceID)
		ctx := context.WithValue(c.Request.Context(), "traceID", traceID)
		c.Request = c.Request.WithContext(ctx)

		c.Next()
	}
}

// TraceID returns the request's trace id, empty when the middleware did not
// run.
func TraceID(c *gin.Context) string {
	if v, ok := c.Get("traceID"); ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}
