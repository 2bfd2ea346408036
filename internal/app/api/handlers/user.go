package handlers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/fatflowers/subtrack/internal/app/service/user"
	"github.com/fatflowers/subtrack/internal/models"
	"github.com/fatflowers/subtrack/pkg/response"
)

// Profiles is the caller-facing part of the user service.
type Profiles interface {
	Get(ctx context.Context, userID string) (*models.User, error)
	UpdateProfile(ctx context.Context, userID string, patch *user.ProfilePatch) (*models.User, error)
	NotificationPreferences(ctx context.Context, userID string) (*models.NotificationPreference, error)
	SaveNotificationPreferences(ctx context.Context, userID string, in *user.PreferencesInput) (*models.NotificationPreference, error)
}

// Categories lists the lookup table subscriptions are filed under.
type Categories interface {
	List(ctx context.Context) ([]*models.SubscriptionCategory, error)
}

// @Summary      Current user
// @Description  Returns the caller's profile and stored plan.
// @Tags         User
// @Produce      json
// @Security     BearerAuth
// @Success      200  {object}  handlers.RespUser
// @Router       /api/v1/me [get]
func ApiGetMe(users Profiles, log *zap.SugaredLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		_, id, ok := callerSession(c)
		if !ok {
			return
		}
		u, err := users.Get(c.Request.Context(), id.UserID)
		if err != nil {
			writeError(c, log, err)
			return
		}
		c.JSON(http.StatusOK, response.OKT(u))
	}
}

// @Summary      Update profile
// @Description  Updates full name, locale, currency or timezone. Omitted fields are kept.
// @Tags         User
// @Accept       json
// @Produce      json
// @Security     BearerAuth
// @Param        request body user.ProfilePatch true "Profile fields"
// @Success      200  {object}  handlers.RespUser
// @Router       /api/v1/me [patch]
func ApiUpdateMe(users Profiles, log *zap.SugaredLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		_, id, ok := callerSession(c)
		if !ok {
			return
		}
		var req user.ProfilePatch
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, err)
			return
		}
		u, err := users.UpdateProfile(c.Request.Context(), id.UserID, &req)
		if err != nil {
			writeError(c, log, err)
			return
		}
		c.JSON(http.StatusOK, response.OKT(u))
	}
}

// @Summary      Notification preferences
// @Description  Returns the caller's reminder settings, or the defaults when none were saved.
// @Tags         User
// @Produce      json
// @Security     BearerAuth
// @Success      200  {object}  handlers.RespNotificationPreference
// @Router       /api/v1/me/notification_preferences [get]
func ApiGetNotificationPreferences(users Profiles, log *zap.SugaredLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		_, id, ok := callerSession(c)
		if !ok {
			return
		}
		p, err := users.NotificationPreferences(c.Request.Context(), id.UserID)
		if err != nil {
			writeError(c, log, err)
			return
		}
		c.JSON(http.StatusOK, response.OKT(p))
	}
}

// @Summary      Save notification preferences
// @Tags         User
// @Accept       json
// @Produce      json
// @Security     BearerAuth
// @Param        request body user.PreferencesInput true "Reminder settings"
// @Success      200  {object}  handlers.RespNotificationPreference
// @Router       /api/v1/me/notification_preferences [put]
func ApiSaveNotificationPreferences(users Profiles, log *zap.SugaredLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		_, id, ok := callerSession(c)
		if !ok {
			return
		}
		var req user.PreferencesInput
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, err)
			return
		}
		p, err := users.SaveNotificationPreferences(c.Request.Context(), id.UserID, &req)
		if err != nil {
			writeError(c, log, err)
			return
		}
		c.JSON(http.StatusOK, response.OKT(p))
	}
}

// @Summary      List categories
// @Tags         User
// @Produce      json
// @Security     BearerAuth
// @Success      200  {object}  handlers.RespCategories
// @Router       /api/v1/categories [get]
func ApiListCategories(categories Categories, log *zap.SugaredLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		rows, err := categories.List(c.Request.Context())
		if err != nil {
			writeError(c, log, err)
			return
		}
		c.JSON(http.StatusOK, response.OKT(rows))
	}
}

func RegisterUserRoutes(r gin.IRouter, users Profiles, categories Categories, log *zap.SugaredLogger) {
	r.GET("/me", ApiGetMe(users, log))
	r.PATCH("/me", ApiUpdateMe(users, log))
	r.GET("/me/notification_preferences", ApiGetNotificationPreferences(users, log))
	r.PUT("/me/notification_preferences", ApiSaveNotificationPreferences(users, log))
	r.GET("/categories", ApiListCategories(categories, log))
}
