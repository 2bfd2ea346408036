package middleware

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/fatflowers/subtrack/pkg/logctx"
)

// AccessLogMiddleware writes one line per request with the request-scoped
// logger. Server errors are logged at error level, rejected calls at warn.
func AccessLogMiddleware(base *zap.SugaredLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		status := c.Writer.Status()
		log := logctx.FromGin(c, base)
		fields := []any{
			"method", c.Request.Method,
			"path", c.FullPath(),
			"status", status,
			"latency_ms", time.Since(start).Milliseconds(),
			"client_ip", c.ClientIP(),
		}
		switch {
		case status >= http.StatusInternalServerError:
			log.Errorw("http_access", fields...)
		case status >= http.StatusBadRequest:
			log.Warnw("http_access", fields...)
		default:
			log.Infow("http_access", fields...)
		}
	}
}
