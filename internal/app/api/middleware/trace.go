package middleware

import (
	"github.com/gin-gonic/gin"

	"github.com/fatflowers/subtrack/pkg/logctx"
	"github.com/fatflowers/subtrack/pkg/tool"
)

const headerRequestID = "X-Request-ID"

// TraceMiddleware tags the request with a trace id, taken from X-Request-ID
// when the caller sent a sane one and generated otherwise. The id is kept
// under "traceID" in both gin.Context and the request context.
func TraceMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		traceID := c.GetHeader(headerRequestID)
		if traceID == "" || len(traceID) > 128 {
			traceID = tool.GenerateUUIDV7()
		}
		c.Set("traceID", traceID)
		c.Request = c.Request.WithContext(logctx.WithTraceID(c.Request.Context(), traceID))
		c.Next()
	}
}
