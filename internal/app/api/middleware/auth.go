package middleware

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"

	"github.com/fatflowers/subtrack/internal/app/guard"
	"github.com/fatflowers/subtrack/internal/app/session"
	"github.com/fatflowers/subtrack/internal/models"
	"github.com/fatflowers/subtrack/pkg/config"
	"github.com/fatflowers/subtrack/pkg/logctx"
	"github.com/fatflowers/subtrack/pkg/response"
	"github.com/fatflowers/subtrack/pkg/tool"
)

const sessionKey = "session"

// Users resolves the token identity to a stored user.
type Users interface {
	EnsureUser(ctx context.Context, id session.Identity) (*models.User, error)
}

// Claims are the access token claims issued by the auth provider. The
// subject is the user id.
type Claims struct {
	Email string `json:"email"`
	Name  string `json:"name"`
	jwt.RegisteredClaims
}

var errMissingToken = errors.New("missing bearer token")

// ParseToken verifies an HS256 access token against the auth settings.
func ParseToken(cfg config.AuthConfig, raw string) (*Claims, error) {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
	}
	if cfg.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(cfg.Issuer))
	}
	if cfg.Audience != "" {
		opts = append(opts, jwt.WithAudience(cfg.Audience))
	}
	claims := &Claims{}
	_, err := jwt.ParseWithClaims(raw, claims, func(*jwt.Token) (any, error) {
		return []byte(cfg.JWTSecret), nil
	}, opts...)
	if err != nil {
		return nil, err
	}
	if !tool.IsUUID(claims.Subject) {
		return nil, fmt.Errorf("token subject %q is not a user id", claims.Subject)
	}
	return claims, nil
}

func bearerToken(c *gin.Context) string {
	h := c.GetHeader("Authorization")
	if len(h) > 7 && strings.EqualFold(h[:7], "bearer ") {
		return strings.TrimSpace(h[7:])
	}
	return ""
}

// RequireAuth resolves the caller into a Session and runs the auth guard on
// it. Authenticated requests continue with the session in both contexts;
// the rest are sent to the login path, by redirect for browsers and with a
// 401 envelope for API clients.
func RequireAuth(cfg *config.Config, users Users, base *zap.SugaredLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		sess := session.New()
		defer sess.Dispose()

		var redirectTo string
		g := guard.NewAuthGuard(cfg.Auth.LoginPath, guard.NavigatorFunc(func(path string) { redirectTo = path }))

		id, err := resolveIdentity(c, cfg, users)
		switch {
		case err == nil:
		case !isAuthError(err):
			logctx.FromGin(c, base).Errorw("failed to load user", "error", err)
			c.AbortWithStatusJSON(http.StatusOK, response.ErrorT[any](response.APIResponseCodeError, "failed to load user"))
			return
		case !errors.Is(err, errMissingToken):
			logctx.FromGin(c, base).Infow("rejected access token", "error", err)
		}
		sess.Init(id)

		if g.Evaluate(sess.State()) != guard.OutcomeChildren {
			unauthenticated(c, redirectTo)
			return
		}

		ctx := session.WithSession(c.Request.Context(), sess)
		ctx = logctx.WithUserID(ctx, id.UserID)
		c.Request = c.Request.WithContext(ctx)
		c.Set(sessionKey, sess)
		c.Set("user_id", id.UserID)
		c.Set("logger", logctx.FromCtx(ctx, base))
		c.Next()
	}
}

type authError struct{ err error }

func (e *authError) Error() string { return e.err.Error() }
func (e *authError) Unwrap() error { return e.err }

func isAuthError(err error) bool {
	var ae *authError
	return errors.As(err, &ae)
}

// resolveIdentity returns an authError for anything the caller can fix by
// logging in again; other errors come from the user store.
func resolveIdentity(c *gin.Context, cfg *config.Config, users Users) (*session.Identity, error) {
	raw := bearerToken(c)
	if raw == "" {
		return nil, &authError{errMissingToken}
	}
	claims, err := ParseToken(cfg.Auth, raw)
	if err != nil {
		return nil, &authError{err}
	}
	id := session.Identity{UserID: claims.Subject, Email: claims.Email, Name: claims.Name}
	u, err := users.EnsureUser(c.Request.Context(), id)
	if err != nil {
		return nil, err
	}
	id.Role = u.Role
	if id.Name == "" {
		id.Name = u.FullName
	}
	return &id, nil
}

func wantsHTML(c *gin.Context) bool {
	return strings.Contains(c.GetHeader("Accept"), "text/html")
}

func unauthenticated(c *gin.Context, redirectTo string) {
	if wantsHTML(c) && redirectTo != "" {
		c.Redirect(http.StatusFound, redirectTo)
		c.Abort()
		return
	}
	c.AbortWithStatusJSON(http.StatusUnauthorized,
		response.ErrorT[any](response.APIResponseCodeUnauthenticated, gin.H{"redirect_to": redirectTo}))
}

// SessionFrom returns the session set by RequireAuth.
func SessionFrom(c *gin.Context) (*session.Session, bool) {
	if v, ok := c.Get(sessionKey); ok {
		if s, ok := v.(*session.Session); ok && s != nil {
			return s, true
		}
	}
	return session.FromContext(c.Request.Context())
}

// RequireCapability runs the role guard after RequireAuth. Callers without
// the capability get an access-denied envelope naming the fallback path.
func RequireCapability(capability guard.Capability, cfg *config.Config, base *zap.SugaredLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		var redirectTo string
		nav := guard.NavigatorFunc(func(path string) { redirectTo = path })
		g := guard.NewRoleGuard(guard.NewAuthGuard(cfg.Auth.LoginPath, nav), capability, cfg.Auth.AdminFallbackPath, nav)

		state := session.StateUnauthenticated
		var id session.Identity
		if sess, ok := SessionFrom(c); ok {
			state = sess.State()
			id, _ = sess.Identity()
		}

		d := g.Evaluate(state, id.Role)
		switch d.Outcome {
		case guard.OutcomeChildren:
			c.Next()
		case guard.OutcomeAccessDenied:
			logctx.FromGin(c, base).Warnw("access denied", "required", capability, "role", id.Role, "path", c.FullPath())
			if wantsHTML(c) {
				c.Redirect(http.StatusFound, redirectTo)
				c.Abort()
				return
			}
			c.AbortWithStatusJSON(http.StatusForbidden, response.ErrorT[any](response.APIResponseCodeForbidden, gin.H{
				"error":       d.Err.Error(),
				"required":    d.Err.Required,
				"redirect_to": d.Err.Fallback,
			}))
		default:
			unauthenticated(c, redirectTo)
		}
	}
}
