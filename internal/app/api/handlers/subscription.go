package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/fatflowers/subtrack/internal/app/service/subscription"
	"github.com/fatflowers/subtrack/internal/models"
	"github.com/fatflowers/subtrack/pkg/response"
)

// Subscriptions is what the collection reads and writes through plus the
// billing history.
type Subscriptions interface {
	subscription.Store
	Payments(ctx context.Context, userID, subscriptionID string) ([]*models.BillingTransaction, error)
}

// MutationResult is the changed row together with the reloaded list.
type MutationResult struct {
	Item  *models.Subscription   `json:"item,omitempty"`
	Items []*models.Subscription `json:"items"`
}

type MarkPaidRequest struct {
	// PaidAt defaults to now.
	PaidAt *time.Time `json:"paid_at"`
}

// withCollection binds a Collection to the caller's session for the length
// of one request.
func withCollection(c *gin.Context, subs Subscriptions, log *zap.SugaredLogger, fn func(coll *subscription.Collection)) {
	sess, _, ok := callerSession(c)
	if !ok {
		return
	}
	coll := subscription.NewCollection(subs, sess, log)
	defer coll.Dispose()
	fn(coll)
}

func mutationResult(coll *subscription.Collection, item *models.Subscription) *MutationResult {
	return &MutationResult{Item: item, Items: coll.View().Items}
}

// @Summary      List subscriptions
// @Description  Lists the caller's tracked subscriptions by next payment date.
// @Tags         Subscription
// @Produce      json
// @Security     BearerAuth
// @Success      200  {object}  handlers.RespSubscriptionView
// @Router       /api/v1/subscriptions [get]
func ApiListSubscriptions(subs Subscriptions, log *zap.SugaredLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		withCollection(c, subs, log, func(coll *subscription.Collection) {
			if err := coll.Refresh(c.Request.Context()); err != nil {
				writeError(c, log, err)
				return
			}
			c.JSON(http.StatusOK, response.OKT(coll.View()))
		})
	}
}

// @Summary      Create subscription
// @Tags         Subscription
// @Accept       json
// @Produce      json
// @Security     BearerAuth
// @Param        request body subscription.CreateInput true "New subscription"
// @Success      200  {object}  handlers.RespSubscriptionMutation
// @Router       /api/v1/subscriptions [post]
func ApiCreateSubscription(subs Subscriptions, log *zap.SugaredLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req subscription.CreateInput
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, err)
			return
		}
		withCollection(c, subs, log, func(coll *subscription.Collection) {
			created, err := coll.Create(c.Request.Context(), &req)
			if err != nil {
				writeError(c, log, err)
				return
			}
			c.JSON(http.StatusOK, response.OKT(mutationResult(coll, created)))
		})
	}
}

// @Summary      Update subscription
// @Description  Applies a partial patch. Unknown ids and other users' rows are not found.
// @Tags         Subscription
// @Accept       json
// @Produce      json
// @Security     BearerAuth
// @Param        id path string true "Subscription id"
// @Param        request body subscription.UpdateInput true "Fields to change"
// @Success      200  {object}  handlers.RespSubscriptionMutation
// @Router       /api/v1/subscriptions/{id} [patch]
func ApiUpdateSubscription(subs Subscriptions, log *zap.SugaredLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req subscription.UpdateInput
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, err)
			return
		}
		withCollection(c, subs, log, func(coll *subscription.Collection) {
			updated, err := coll.Update(c.Request.Context(), c.Param("id"), &req)
			if err != nil {
				writeError(c, log, err)
				return
			}
			c.JSON(http.StatusOK, response.OKT(mutationResult(coll, updated)))
		})
	}
}

// @Summary      Delete subscription
// @Description  Deleting an id that does not exist succeeds.
// @Tags         Subscription
// @Produce      json
// @Security     BearerAuth
// @Param        id path string true "Subscription id"
// @Success      200  {object}  handlers.RespSubscriptionMutation
// @Router       /api/v1/subscriptions/{id} [delete]
func ApiDeleteSubscription(subs Subscriptions, log *zap.SugaredLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		withCollection(c, subs, log, func(coll *subscription.Collection) {
			if err := coll.Delete(c.Request.Context(), c.Param("id")); err != nil {
				writeError(c, log, err)
				return
			}
			c.JSON(http.StatusOK, response.OKT(mutationResult(coll, nil)))
		})
	}
}

// @Summary      Mark subscription paid
// @Description  Records a manual payment and advances the next payment date by one cycle.
// @Tags         Subscription
// @Accept       json
// @Produce      json
// @Security     BearerAuth
// @Param        id path string true "Subscription id"
// @Param        request body handlers.MarkPaidRequest false "Payment time"
// @Success      200  {object}  handlers.RespSubscriptionMutation
// @Router       /api/v1/subscriptions/{id}/mark_paid [post]
func ApiMarkSubscriptionPaid(subs Subscriptions, log *zap.SugaredLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req MarkPaidRequest
		if c.Request.ContentLength > 0 {
			if err := c.ShouldBindJSON(&req); err != nil {
				badRequest(c, err)
				return
			}
		}
		withCollection(c, subs, log, func(coll *subscription.Collection) {
			paid, err := coll.MarkPaid(c.Request.Context(), c.Param("id"), req.PaidAt)
			if err != nil {
				writeError(c, log, err)
				return
			}
			c.JSON(http.StatusOK, response.OKT(mutationResult(coll, paid)))
		})
	}
}

// @Summary      Subscription payments
// @Tags         Subscription
// @Produce      json
// @Security     BearerAuth
// @Param        id path string true "Subscription id"
// @Success      200  {object}  handlers.RespBillingTransactions
// @Router       /api/v1/subscriptions/{id}/transactions [get]
func ApiListSubscriptionPayments(subs Subscriptions, log *zap.SugaredLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		_, id, ok := callerSession(c)
		if !ok {
			return
		}
		rows, err := subs.Payments(c.Request.Context(), id.UserID, c.Param("id"))
		if err != nil {
			writeError(c, log, err)
			return
		}
		c.JSON(http.StatusOK, response.OKT(rows))
	}
}

// @Summary      Billing history
// @Description  Lists payments of all the caller's subscriptions, newest first.
// @Tags         Subscription
// @Produce      json
// @Security     BearerAuth
// @Success      200  {object}  handlers.RespBillingTransactions
// @Router       /api/v1/transactions [get]
func ApiListPayments(subs Subscriptions, log *zap.SugaredLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		_, id, ok := callerSession(c)
		if !ok {
			return
		}
		rows, err := subs.Payments(c.Request.Context(), id.UserID, "")
		if err != nil {
			writeError(c, log, err)
			return
		}
		c.JSON(http.StatusOK, response.OKT(rows))
	}
}

// RegisterSubscriptionRoutes mounts the tracked-subscription API. limit
// guards the writes.
func RegisterSubscriptionRoutes(r gin.IRouter, subs Subscriptions, limit gin.HandlerFunc, log *zap.SugaredLogger) {
	r.GET("/subscriptions", ApiListSubscriptions(subs, log))
	r.POST("/subscriptions", limit, ApiCreateSubscription(subs, log))
	r.PATCH("/subscriptions/:id", limit, ApiUpdateSubscription(subs, log))
	r.DELETE("/subscriptions/:id", limit, ApiDeleteSubscription(subs, log))
	r.POST("/subscriptions/:id/mark_paid", limit, ApiMarkSubscriptionPaid(subs, log))
	r.GET("/subscriptions/:id/transactions", ApiListSubscriptionPayments(subs, log))
	r.GET("/transactions", ApiListPayments(subs, log))
}
