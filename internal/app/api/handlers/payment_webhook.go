package handlers

import (
	"context"
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	nh "github.com/fatflowers/subtrack/internal/app/service/notification_handler"
	"github.com/fatflowers/subtrack/internal/platform/apple/apple_notification"
	"github.com/fatflowers/subtrack/pkg/logctx"
	"github.com/fatflowers/subtrack/pkg/response"
)

const maxWebhookBody = 1 << 20

type Webhooks interface {
	HandleApple(ctx context.Context, signedPayload string) (*nh.Outcome, error)
	HandleCard(ctx context.Context, hash string, body []byte) (*nh.Outcome, error)
}

// webhookResult answers 401 for forged calls and 500 for failures so the
// provider retries; anything handled or deliberately ignored is 200.
func webhookResult(c *gin.Context, log *zap.SugaredLogger, provider string, out *nh.Outcome, err error) {
	l := logctx.FromGin(c, log)
	switch {
	case errors.Is(err, nh.ErrInvalidSignature):
		l.Warnw("webhook rejected", "provider", provider, "error", err)
		c.JSON(http.StatusUnauthorized, response.ErrorT[any](response.APIResponseCodeUnauthenticated, err.Error()))
	case err != nil:
		code := errorCode(err)
		if code == response.APIResponseCodeBadRequest {
			c.JSON(http.StatusBadRequest, response.ErrorT[any](code, err.Error()))
			return
		}
		l.Errorw("webhook handling failed", "provider", provider, "error", err)
		c.JSON(http.StatusInternalServerError, response.ErrorT[any](code, err.Error()))
	default:
		c.JSON(http.StatusOK, response.OKT(out))
	}
}

// @Summary      Apple webhook
// @Description  Handles App Store Server Notifications V2. The body carries the signed JWS payload.
// @Tags         Webhook
// @Accept       json
// @Produce      json
// @Param        payload body apple_notification.SignedPayloadRequest true "App Store Server Notification V2"
// @Success      200  {object}  handlers.RespWebhook
// @Router       /api/v2/payment/webhook/apple [post]
func ApiAppleWebhook(h Webhooks, log *zap.SugaredLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req apple_notification.SignedPayloadRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, response.ErrorT[any](response.APIResponseCodeBadRequest, err.Error()))
			return
		}
		out, err := h.HandleApple(c.Request.Context(), req.SignedPayload)
		webhookResult(c, log, "apple", out, err)
	}
}

// @Summary      Card webhook
// @Description  Handles card provider charge events. The verif-hash header must match the configured secret hash.
// @Tags         Webhook
// @Accept       json
// @Produce      json
// @Param        verif-hash header string true "Webhook secret hash"
// @Param        payload body flutterwave.WebhookEvent true "Charge event"
// @Success      200  {object}  handlers.RespWebhook
// @Router       /api/v2/payment/webhook/card [post]
func ApiCardWebhook(h Webhooks, log *zap.SugaredLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxWebhookBody))
		if err != nil {
			c.JSON(http.StatusBadRequest, response.ErrorT[any](response.APIResponseCodeBadRequest, err.Error()))
			return
		}
		out, err := h.HandleCard(c.Request.Context(), c.GetHeader("verif-hash"), body)
		webhookResult(c, log, "card", out, err)
	}
}

func RegisterPaymentWebhookRoutes(r gin.IRouter, h Webhooks, log *zap.SugaredLogger) {
	r.POST("/webhook/apple", ApiAppleWebhook(h, log))
	r.POST("/webhook/card", ApiCardWebhook(h, log))
}
