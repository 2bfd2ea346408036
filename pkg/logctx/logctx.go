package logctx

import (
	"context"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// FromGin returns a request-scoped logger from gin.Context if present,
// otherwise returns the provided base logger.
func FromGin(c *gin.Context, base *zap.SugaredLogger) *zap.SugaredLogger {
	if c == nil {
		return base
	}
	if l, ok := c.Get("logger"); ok {
		if lg, ok := l.(*zap.SugaredLogger); ok && lg != nil {
			return lg
		}
	}
	return FromCtx(c.Request.Context(), base)
}

// FromCtx returns a logger from context if set, otherwise attempts to enrich
// base with trace_id/user_id from context values.
func FromCtx(ctx context.Context, base *zap.SugaredLogger) *zap.SugaredLogger {
	if ctx == nil {
		return base
	}
	if lg, ok := ctx.Value("logger").(*zap.SugaredLogger); ok && lg != nil {
		return lg
	}
	var fields []interface{}
	if tid, ok := ctx.Value("traceID").(string); ok && tid != "" {
		fields = append(fields, "trace_id", tid)
	}
	if uid, ok := ctx.Value("user_id").(string); ok && uid != "" {
		fields = append(fields, "user_id", uid)
	}
	if len(fields) > 0 {
		return base.With(fields...)
	}
	return base
}

// WithUserID records the authenticated user on ctx and, when a request logger
// is attached, returns a copy of it carrying user_id.
func WithUserID(ctx context.Context, userID string) context.Context {
	ctx = context.WithValue(ctx, "user_id", userID)
	if lg, ok := ctx.Value("logger").(*zap.SugaredLogger); ok && lg != nil {
		ctx = context.WithValue(ctx, "logger", lg.With("user_id", userID))
	}
	return ctx
}

// UserID returns the user recorded by WithUserID.
func UserID(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	uid, _ := ctx.Value("user_id").(string)
	return uid
}

// TraceID returns the trace id set by the trace middleware.
func TraceID(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	tid, _ := ctx.Value("traceID").(string)
	return tid
}

// WithTraceID records traceID for TraceID and FromCtx.
func WithTraceID(ctx context.Context, traceID string) context.Context {
	return context.WithValue(ctx, "traceID", traceID)
}
