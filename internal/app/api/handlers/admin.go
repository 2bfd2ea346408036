package handlers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/fatflowers/subtrack/internal/app/service/category"
	"github.com/fatflowers/subtrack/internal/app/service/entitlement"
	"github.com/fatflowers/subtrack/internal/app/service/ledger"
	"github.com/fatflowers/subtrack/internal/app/service/statistics"
	"github.com/fatflowers/subtrack/internal/app/service/transaction"
	"github.com/fatflowers/subtrack/internal/app/service/user"
	"github.com/fatflowers/subtrack/internal/app/session"
	"github.com/fatflowers/subtrack/internal/models"
	"github.com/fatflowers/subtrack/pkg/logctx"
	"github.com/fatflowers/subtrack/pkg/response"
	"github.com/fatflowers/subtrack/pkg/types"
)

type UserAdmin interface {
	Get(ctx context.Context, userID string) (*models.User, error)
	List(ctx context.Context, req *types.ScanRequest) (*user.ListResponse, error)
	SetRole(ctx context.Context, req *user.SetRoleRequest) (*models.User, error)
}

type Statistics interface {
	Get(ctx context.Context, req *statistics.Request) (*statistics.Response, error)
}

type CategoryAdmin interface {
	Create(ctx context.Context, req *category.CreateRequest) (*models.SubscriptionCategory, error)
}

// Syncer re-reconciles a user whose ledger changed outside a request of theirs.
type Syncer interface {
	Sync(ctx context.Context, id session.Identity) []entitlement.State
}

// AdminDeps groups what the admin surface needs.
type AdminDeps struct {
	Users        UserAdmin
	Stats        Statistics
	Transactions transaction.TransactionManager
	Categories   CategoryAdmin
	Sync         Syncer
	Log          *zap.SugaredLogger
}

type SendFreeGiftResponse struct {
	ActiveItems  []*ledger.ActiveItem `json:"active_items"`
	Entitlements []entitlement.State  `json:"entitlements"`
}

// @Summary      List users (Admin)
// @Description  Paginated, filterable user listing.
// @Tags         Admin
// @Accept       json
// @Produce      json
// @Security     BearerAuth
// @Param        request body types.ScanRequest true "Filters, paging and sorting"
// @Success      200  {object}  handlers.RespUserList
// @Router       /api/v1/admin/list_users [post]
func ApiListUsers(d *AdminDeps) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req types.ScanRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, err)
			return
		}
		res, err := d.Users.List(c.Request.Context(), &req)
		if err != nil {
			writeError(c, d.Log, err)
			return
		}
		c.JSON(http.StatusOK, response.OKT(res))
	}
}

// @Summary      Get statistics (Admin)
// @Description  Computes the requested statistics concurrently. A statistic the filters do not apply to is null.
// @Tags         Admin
// @Accept       json
// @Produce      json
// @Security     BearerAuth
// @Param        request body statistics.Request true "Statistic ids and filters"
// @Success      200  {object}  handlers.RespStatistic
// @Router       /api/v1/admin/get_statistic [post]
func ApiGetStatistic(d *AdminDeps) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req statistics.Request
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, err)
			return
		}
		res, err := d.Stats.Get(c.Request.Context(), &req)
		if err != nil {
			writeError(c, d.Log, err)
			return
		}
		c.JSON(http.StatusOK, response.OKT(res))
	}
}

// @Summary      List store transactions (Admin)
// @Description  Paginated, filterable listing of the store ledger.
// @Tags         Admin
// @Accept       json
// @Produce      json
// @Security     BearerAuth
// @Param        request body types.ScanRequest true "Filters, paging and sorting"
// @Success      200  {object}  handlers.RespStoreTransactions
// @Router       /api/v1/admin/list_store_transactions [post]
func ApiListStoreTransactions(d *AdminDeps) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req types.ScanRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, err)
			return
		}
		res, err := d.Transactions.ScanTransactions(c.Request.Context(), &req)
		if err != nil {
			writeError(c, d.Log, err)
			return
		}
		c.JSON(http.StatusOK, response.OKT(res))
	}
}

// @Summary      Set user role (Admin)
// @Tags         Admin
// @Accept       json
// @Produce      json
// @Security     BearerAuth
// @Param        request body user.SetRoleRequest true "User and role"
// @Success      200  {object}  handlers.RespUser
// @Router       /api/v1/admin/set_user_role [post]
func ApiSetUserRole(d *AdminDeps) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req user.SetRoleRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, err)
			return
		}
		u, err := d.Users.SetRole(c.Request.Context(), &req)
		if err != nil {
			writeError(c, d.Log, err)
			return
		}
		c.JSON(http.StatusOK, response.OKT(u))
	}
}

// @Summary      Send free gift (Admin)
// @Description  Grants a non-renewable package to a user and re-syncs their plan.
// @Tags         Admin
// @Accept       json
// @Produce      json
// @Security     BearerAuth
// @Param        request body transaction.SendFreeGiftRequest true "User and package"
// @Success      200  {object}  handlers.RespSendFreeGift
// @Router       /api/v1/admin/send_free_gift [post]
func ApiSendFreeGift(d *AdminDeps) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req transaction.SendFreeGiftRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, err)
			return
		}
		ctx := c.Request.Context()
		req.OperatorID = logctx.UserID(ctx)

		u, err := d.Users.Get(ctx, req.UserID)
		if err != nil {
			writeError(c, d.Log, err)
			return
		}
		items, err := d.Transactions.SendFreeGift(ctx, &req)
		if err != nil {
			writeError(c, d.Log, err)
			return
		}
		logctx.FromGin(c, d.Log).Infow("free gift sent", "target_user_id", req.UserID, "payment_item_id", req.PaymentItemID)

		states := d.Sync.Sync(ctx, session.Identity{UserID: u.ID, Email: u.Email, Name: u.FullName, Role: u.Role})
		c.JSON(http.StatusOK, response.OKT(&SendFreeGiftResponse{ActiveItems: items, Entitlements: states}))
	}
}

// @Summary      Create category (Admin)
// @Tags         Admin
// @Accept       json
// @Produce      json
// @Security     BearerAuth
// @Param        request body category.CreateRequest true "Category"
// @Success      200  {object}  handlers.RespCategory
// @Router       /api/v1/admin/create_category [post]
func ApiCreateCategory(d *AdminDeps) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req category.CreateRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, err)
			return
		}
		row, err := d.Categories.Create(c.Request.Context(), &req)
		if err != nil {
			writeError(c, d.Log, err)
			return
		}
		c.JSON(http.StatusOK, response.OKT(row))
	}
}

// RegisterAdminRoutes mounts read-only routes on elevated and the rest on
// admin. Both groups already passed RequireAuth.
func RegisterAdminRoutes(elevated, admin gin.IRouter, d *AdminDeps) {
	elevated.POST("/list_users", ApiListUsers(d))
	elevated.POST("/get_statistic", ApiGetStatistic(d))
	elevated.POST("/list_store_transactions", ApiListStoreTransactions(d))

	admin.POST("/set_user_role", ApiSetUserRole(d))
	admin.POST("/send_free_gift", ApiSendFreeGift(d))
	admin.POST("/create_category", ApiCreateCategory(d))
}
