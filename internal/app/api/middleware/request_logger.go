package middleware

import (
	"context"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/fatflowers/subtrack/pkg/logctx"
)

// RequestLoggerMiddleware attaches a logger carrying trace_id to gin.Context
// and the request context. RequireAuth later narrows it with user_id.
func RequestLoggerMiddleware(base *zap.SugaredLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		traceID := logctx.TraceID(c.Request.Context())

		reqLogger := base.With("trace_id", traceID)
		c.Set("logger", reqLogger)
		ctx := context.WithValue(c.Request.Context(), "logger", reqLogger)
		c.Request = c.Request.WithContext(ctx)

		if traceID != "" {
			c.Writer.Header().Set(headerRequestID, traceID)
		}
		c.Next()
	}
}
