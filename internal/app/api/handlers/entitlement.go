package handlers

import (
	"context"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/fatflowers/subtrack/internal/app/service/entitlement"
	"github.com/fatflowers/subtrack/internal/app/session"
	"github.com/fatflowers/subtrack/pkg/errs"
	"github.com/fatflowers/subtrack/pkg/logctx"
	"github.com/fatflowers/subtrack/pkg/response"
)

// Entitlements mounts reconcilers on a session and lists packages.
type Entitlements interface {
	Open(ctx context.Context, sess *session.Session, extra entitlement.Notifier) *entitlement.Set
	Offerings(ctx context.Context) ([]entitlement.Offering, error)
}

type EntitlementsView struct {
	Effective entitlement.Effective `json:"effective"`
	Providers []entitlement.State   `json:"providers"`
}

// EntitlementOpResult is returned by purchase, restore and refresh. The
// notifications are the ones raised by this call.
type EntitlementOpResult struct {
	State         entitlement.State          `json:"state"`
	Effective     entitlement.Effective      `json:"effective"`
	CheckoutURL   string                     `json:"checkout_url,omitempty"`
	Notifications []entitlement.Notification `json:"notifications"`
}

type EntitlementPurchaseRequest struct {
	// Provider defaults to the authoritative one.
	Provider string `json:"provider"`
	entitlement.PurchaseRequest
}

type EntitlementRestoreRequest struct {
	Provider string `json:"provider"`
	entitlement.RestoreRequest
}

type EntitlementRefreshRequest struct {
	Provider string `json:"provider"`
}

// withEntitlements opens a reconciler set for the caller, runs fn and
// disposes the set.
func withEntitlements(c *gin.Context, ents Entitlements, fn func(set *entitlement.Set, inbox *entitlement.Inbox)) {
	sess, _, ok := callerSession(c)
	if !ok {
		return
	}
	inbox := &entitlement.Inbox{}
	set := ents.Open(c.Request.Context(), sess, inbox)
	defer set.Dispose()
	fn(set, inbox)
}

func pickReconciler(set *entitlement.Set, name string) (*entitlement.Reconciler, error) {
	if name == "" {
		return set.Authoritative(), nil
	}
	r, ok := set.Get(name)
	if !ok {
		return nil, errs.NewValidationError("provider", fmt.Sprintf("unknown provider: %s", name))
	}
	return r, nil
}

func opResult(set *entitlement.Set, r *entitlement.Reconciler, inbox *entitlement.Inbox) *EntitlementOpResult {
	return &EntitlementOpResult{
		State:         r.State(),
		Effective:     set.Effective(),
		Notifications: inbox.Items(),
	}
}

// @Summary      Entitlements
// @Description  Reconciles every provider for the caller and reports the effective plan.
// @Tags         Entitlement
// @Produce      json
// @Security     BearerAuth
// @Success      200  {object}  handlers.RespEntitlements
// @Router       /api/v1/entitlements [get]
func ApiGetEntitlements(ents Entitlements) gin.HandlerFunc {
	return func(c *gin.Context) {
		withEntitlements(c, ents, func(set *entitlement.Set, _ *entitlement.Inbox) {
			c.JSON(http.StatusOK, response.OKT(&EntitlementsView{Effective: set.Effective(), Providers: set.States()}))
		})
	}
}

// @Summary      Offerings
// @Description  Lists purchasable packages of every configured provider.
// @Tags         Entitlement
// @Produce      json
// @Security     BearerAuth
// @Success      200  {object}  handlers.RespOfferings
// @Router       /api/v1/entitlements/offerings [get]
func ApiListOfferings(ents Entitlements, log *zap.SugaredLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		items, err := ents.Offerings(c.Request.Context())
		if err != nil {
			writeError(c, log, err)
			return
		}
		c.JSON(http.StatusOK, response.OKT(items))
	}
}

// @Summary      Purchase
// @Description  Completes a store purchase or starts a card checkout. Fails with 40900 when the provider is not ready.
// @Tags         Entitlement
// @Accept       json
// @Produce      json
// @Security     BearerAuth
// @Param        request body handlers.EntitlementPurchaseRequest true "Package and store receipt"
// @Success      200  {object}  handlers.RespEntitlementOp
// @Router       /api/v1/entitlements/purchase [post]
func ApiPurchase(ents Entitlements, log *zap.SugaredLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req EntitlementPurchaseRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, err)
			return
		}
		withEntitlements(c, ents, func(set *entitlement.Set, inbox *entitlement.Inbox) {
			r, err := pickReconciler(set, req.Provider)
			if err != nil {
				writeError(c, log, err)
				return
			}
			res, err := r.Purchase(c.Request.Context(), &req.PurchaseRequest)
			if err != nil {
				writeError(c, log, err)
				return
			}
			out := opResult(set, r, inbox)
			out.CheckoutURL = res.CheckoutURL
			c.JSON(http.StatusOK, response.OKT(out))
		})
	}
}

// @Summary      Restore purchases
// @Tags         Entitlement
// @Accept       json
// @Produce      json
// @Security     BearerAuth
// @Param        request body handlers.EntitlementRestoreRequest true "Provider and receipt"
// @Success      200  {object}  handlers.RespEntitlementOp
// @Router       /api/v1/entitlements/restore [post]
func ApiRestore(ents Entitlements, log *zap.SugaredLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req EntitlementRestoreRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, err)
			return
		}
		withEntitlements(c, ents, func(set *entitlement.Set, inbox *entitlement.Inbox) {
			r, err := pickReconciler(set, req.Provider)
			if err != nil {
				writeError(c, log, err)
				return
			}
			if _, err := r.Restore(c.Request.Context(), &req.RestoreRequest); err != nil {
				writeError(c, log, err)
				return
			}
			c.JSON(http.StatusOK, response.OKT(opResult(set, r, inbox)))
		})
	}
}

// @Summary      Refresh entitlements
// @Description  Re-fetches one provider. A failed refresh is not an error: the state keeps the last snapshot and reports the failure.
// @Tags         Entitlement
// @Accept       json
// @Produce      json
// @Security     BearerAuth
// @Param        request body handlers.EntitlementRefreshRequest false "Provider"
// @Success      200  {object}  handlers.RespEntitlementOp
// @Router       /api/v1/entitlements/refresh [post]
func ApiRefresh(ents Entitlements, log *zap.SugaredLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req EntitlementRefreshRequest
		if c.Request.ContentLength > 0 {
			if err := c.ShouldBindJSON(&req); err != nil {
				badRequest(c, err)
				return
			}
		}
		withEntitlements(c, ents, func(set *entitlement.Set, inbox *entitlement.Inbox) {
			r, err := pickReconciler(set, req.Provider)
			if err != nil {
				writeError(c, log, err)
				return
			}
			if err := r.Refresh(c.Request.Context()); err != nil {
				logctx.FromGin(c, log).Debugw("entitlement refresh did not complete", "provider", r.Name(), "error", err)
			}
			c.JSON(http.StatusOK, response.OKT(opResult(set, r, inbox)))
		})
	}
}

func RegisterEntitlementRoutes(r gin.IRouter, ents Entitlements, limit gin.HandlerFunc, log *zap.SugaredLogger) {
	r.GET("/entitlements", ApiGetEntitlements(ents))
	r.GET("/entitlements/offerings", ApiListOfferings(ents, log))
	r.POST("/entitlements/purchase", limit, ApiPurchase(ents, log))
	r.POST("/entitlements/restore", limit, ApiRestore(ents, log))
	r.POST("/entitlements/refresh", limit, ApiRefresh(ents, log))
}
