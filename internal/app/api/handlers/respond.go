package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/fatflowers/subtrack/internal/app/api/middleware"
	"github.com/fatflowers/subtrack/internal/app/session"
	"github.com/fatflowers/subtrack/internal/app/service/subscription"
	"github.com/fatflowers/subtrack/pkg/errs"
	"github.com/fatflowers/subtrack/pkg/logctx"
	"github.com/fatflowers/subtrack/pkg/response"
)

// errorCode maps service errors to envelope codes.
func errorCode(err error) response.APIResponseCode {
	switch {
	case errs.IsValidation(err):
		return response.APIResponseCodeBadRequest
	case errs.IsNotFound(err):
		return response.APIResponseCodeNotFound
	case errs.IsAccessDenied(err):
		return response.APIResponseCodeForbidden
	case errors.Is(err, errs.ErrNotInitialized), errs.IsConfiguration(err):
		return response.APIResponseCodeNotInitialized
	case errors.Is(err, subscription.ErrNoIdentity):
		return response.APIResponseCodeUnauthenticated
	case errs.IsTransient(err):
		return response.APIResponseCodeProviderError
	}
	return response.APIResponseCodeError
}

// writeError answers with HTTP 200 and the mapped code. Validation errors
// carry their per-field messages; unexpected errors are logged.
func writeError(c *gin.Context, log *zap.SugaredLogger, err error) {
	code := errorCode(err)
	var data any = err.Error()
	var verr *errs.ValidationError
	if errors.As(err, &verr) {
		data = gin.H{"fields": verr.Fields}
	}
	if code == response.APIResponseCodeError || code == response.APIResponseCodeProviderError {
		logctx.FromGin(c, log).Errorw("request failed", "path", c.FullPath(), "error", err)
	}
	c.JSON(http.StatusOK, response.ErrorT(code, data))
}

func badRequest(c *gin.Context, err error) {
	c.JSON(http.StatusOK, response.ErrorT[any](response.APIResponseCodeBadRequest, err.Error()))
}

// callerSession returns the session set by RequireAuth or answers 40100.
func callerSession(c *gin.Context) (*session.Session, session.Identity, bool) {
	sess, ok := middleware.SessionFrom(c)
	if ok {
		if id, ok := sess.Identity(); ok {
			return sess, id, true
		}
	}
	c.JSON(http.StatusOK, response.ErrorT[any](response.APIResponseCodeUnauthenticated, nil))
	return nil, session.Identity{}, false
}
