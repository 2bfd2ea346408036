// Package statistics answers the admin dashboard: user and plan counts,
// tracked-expense aggregates and store revenue, each computed by its own
// query and fanned out concurrently.
package statistics

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"github.com/samber/lo"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/fatflowers/subtrack/internal/models"
	"github.com/fatflowers/subtrack/pkg/errs"
	"github.com/fatflowers/subtrack/pkg/logctx"
	"github.com/fatflowers/subtrack/pkg/types"
)

type StatisticType string

const (
	StatisticTypeTotalUsers                 StatisticType = "total_users"
	StatisticTypeUsersByPlan                StatisticType = "users_by_plan"
	StatisticTypeActiveSubscriptionCount    StatisticType = "active_subscription_count"
	StatisticTypeMonthlySpendByCurrency     StatisticType = "monthly_spend_by_currency"
	StatisticTypeSubscriptionsByCategory    StatisticType = "subscriptions_by_category"
	StatisticTypeDailyNewSubscriptions      StatisticType = "daily_new_subscriptions"
	StatisticTypeDailyPaidUserCount         StatisticType = "daily_paid_user_count"
	StatisticTypeDailyStoreTransactionCount StatisticType = "daily_store_transaction_count"
	StatisticTypeDailyStoreGmv              StatisticType = "daily_store_gmv"
)

// Store filters with custom SQL.
const (
	FilterIsFirstPurchase = "is_first_purchase"
	FilterIsAutoRenew     = "is_auto_renew"
)

// statistic is one query plus the filter fields it understands, mapped to
// the column they constrain.
type statistic struct {
	filters map[string]string
	query   func(s *Service, ctx context.Context, where clause.Expression) ([]DataItem, error)
}

var (
	userFilters = map[string]string{
		"plan":       "users.plan",
		"role":       "users.role",
		"created_at": "users.created_at",
	}
	subscriptionFilters = map[string]string{
		"currency":      "subscriptions.currency",
		"billing_cycle": "subscriptions.billing_cycle",
		"category_id":   "subscriptions.category_id",
		"created_at":    "subscriptions.created_at",
	}
	snapshotFilters = map[string]string{
		"plan":          "plan",
		"snapshot_date": "snapshot_date",
	}
	storeFilters = map[string]string{
		"payment_item_id":     "payment_item_id",
		"currency":            "currency",
		"created_at":          "created_at",
		FilterIsFirstPurchase: FilterIsFirstPurchase,
		FilterIsAutoRenew:     FilterIsAutoRenew,
	}
)

var statistics = map[StatisticType]statistic{
	StatisticTypeTotalUsers:                 {userFilters, (*Service).totalUsers},
	StatisticTypeUsersByPlan:                {userFilters, (*Service).usersByPlan},
	StatisticTypeActiveSubscriptionCount:    {subscriptionFilters, (*Service).activeSubscriptionCount},
	StatisticTypeMonthlySpendByCurrency:     {subscriptionFilters, (*Service).monthlySpendByCurrency},
	StatisticTypeSubscriptionsByCategory:    {subscriptionFilters, (*Service).subscriptionsByCategory},
	StatisticTypeDailyNewSubscriptions:      {subscriptionFilters, (*Service).dailyNewSubscriptions},
	StatisticTypeDailyPaidUserCount:         {snapshotFilters, (*Service).dailyPaidUserCount},
	StatisticTypeDailyStoreTransactionCount: {storeFilters, (*Service).dailyStoreTransactionCount},
	StatisticTypeDailyStoreGmv:              {storeFilters, (*Service).dailyStoreGmv},
}

type DataItemRequest struct {
	ID StatisticType `json:"id"`
}

type Request struct {
	Filters   []*types.CommonFilter `json:"filters"`
	DataItems []*DataItemRequest    `json:"data_items"`
}

// DataItem is one point of a series. Label carries the group key (plan,
// currency, category); Value2 an optional denominator.
type DataItem struct {
	Date   string `json:"date,omitempty"`
	Label  string `json:"label,omitempty"`
	Value  int64  `json:"value"`
	Value2 int64  `json:"value2,omitempty"`
}

type Response struct {
	DataItems map[StatisticType][]DataItem `json:"data_items"`
}

// Validate rejects unknown statistic ids and filter fields no requested
// statistic understands.
func (r *Request) Validate() error {
	if len(r.DataItems) == 0 {
		return errs.NewValidationError("data_items", "at least one statistic is required")
	}
	known := map[string]bool{}
	for _, di := range r.DataItems {
		if di == nil {
			return errs.NewValidationError("data_items", "statistic must not be null")
		}
		st, ok := statistics[di.ID]
		if !ok {
			return errs.NewValidationError("data_items", fmt.Sprintf("unsupported statistic: %s", di.ID))
		}
		for field := range st.filters {
			known[field] = true
		}
	}
	for _, f := range r.Filters {
		if f == nil || !known[f.Field] {
			return errs.NewValidationError("filters", fmt.Sprintf("unsupported filter field: %s", lo.FromPtr(f).Field))
		}
	}
	return nil
}

// filtersFor returns the filters st understands with fields rewritten to
// qualified columns, or false when a filter does not apply to st. Such a
// statistic is reported empty rather than unfiltered.
func (r *Request) filtersFor(st statistic) (clause.Expression, bool) {
	out := make(andExprs, 0, len(r.Filters))
	for _, f := range r.Filters {
		column, ok := st.filters[f.Field]
		if !ok {
			return nil, false
		}
		switch f.Field {
		case FilterIsFirstPurchase:
			out = append(out, boolFilter(f, "extra->>'is_first_purchase' = 'true'",
				"(extra->>'is_first_purchase' = 'false' OR extra->>'is_first_purchase' IS NULL)"))
		case FilterIsAutoRenew:
			out = append(out, boolFilter(f, "parent_transaction_id IS NOT NULL AND parent_transaction_id <> transaction_id",
				"(parent_transaction_id IS NULL OR parent_transaction_id = transaction_id)"))
		default:
			cp := *f
			cp.Field = column
			out = append(out, &cp)
		}
	}
	return out, true
}

func boolFilter(f *types.CommonFilter, whenTrue, whenFalse string) clause.Expression {
	if len(f.Values) > 0 && strings.EqualFold(fmt.Sprint(f.Values[0]), "true") {
		return clause.Expr{SQL: whenTrue}
	}
	return clause.Expr{SQL: whenFalse}
}

type andExprs []clause.Expression

func (a andExprs) Build(builder clause.Builder) {
	if len(a) == 0 {
		builder.WriteString("1=1")
		return
	}
	clause.And(a...).Build(builder)
}

type Service struct {
	db  *gorm.DB
	log *zap.SugaredLogger
}

func New(db *gorm.DB, log *zap.SugaredLogger) *Service { return &Service{db: db, log: log} }

var Module = fx.Options(
	fx.Provide(New),
)

// Get computes every requested statistic concurrently. The first failing
// query cancels the rest.
func (s *Service) Get(ctx context.Context, req *Request) (*Response, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	ids := lo.Uniq(lo.Map(req.DataItems, func(di *DataItemRequest, _ int) StatisticType { return di.ID }))
	results := make([][]DataItem, len(ids))

	g, gctx := errgroup.WithContext(ctx)
	for i, id := range ids {
		st := statistics[id]
		where, ok := req.filtersFor(st)
		if !ok {
			continue
		}
		g.Go(func() error {
			items, err := st.query(s, gctx, where)
			if err != nil {
				return fmt.Errorf("statistic %s: %w", id, err)
			}
			results[i] = items
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		logctx.FromCtx(ctx, s.log).Errorw("failed to compute statistics", "error", err)
		return nil, err
	}

	out := &Response{DataItems: make(map[StatisticType][]DataItem, len(ids))}
	for i, id := range ids {
		out.DataItems[id] = results[i]
	}
	return out, nil
}

// IDs lists the supported statistics in a stable order.
func IDs() []StatisticType {
	ids := lo.Keys(statistics)
	slices.Sort(ids)
	return ids
}

func (s *Service) totalUsers(ctx context.Context, where clause.Expression) ([]DataItem, error) {
	var out []DataItem
	err := s.db.WithContext(ctx).Table(models.User{}.TableName()).
		Select("count(*) AS value").
		Where(where).
		Find(&out).Error
	return out, err
}

func (s *Service) usersByPlan(ctx context.Context, where clause.Expression) ([]DataItem, error) {
	var out []DataItem
	err := s.db.WithContext(ctx).Table(models.User{}.TableName()).
		Select("plan AS label, count(*) AS value").
		Where(where).
		Group("plan").
		Order("plan").
		Find(&out).Error
	return out, err
}

func (s *Service) activeSubscriptions(ctx context.Context, where clause.Expression) *gorm.DB {
	return s.db.WithContext(ctx).Table(models.Subscription{}.TableName()).
		Where("subscriptions.status = ?", types.SubscriptionStatusActive).
		Where(where)
}

func (s *Service) activeSubscriptionCount(ctx context.Context, where clause.Expression) ([]DataItem, error) {
	var out []DataItem
	err := s.activeSubscriptions(ctx, where).Select("count(*) AS value").Find(&out).Error
	return out, err
}

// monthlySpendSQL normalises each amount to one month of its cycle with the
// rounding of types.BillingCycle.MonthlyAmount.
const monthlySpendSQL = `CASE subscriptions.billing_cycle
	WHEN 'weekly' THEN subscriptions.amount * 52 / 12
	WHEN 'monthly' THEN subscriptions.amount
	WHEN 'quarterly' THEN subscriptions.amount / 3
	WHEN 'semi_annual' THEN subscriptions.amount / 6
	WHEN 'annual' THEN subscriptions.amount / 12
	ELSE 0 END`

func (s *Service) monthlySpendByCurrency(ctx context.Context, where clause.Expression) ([]DataItem, error) {
	var out []DataItem
	err := s.activeSubscriptions(ctx, where).
		Select("subscriptions.currency AS label, COALESCE(SUM(" + monthlySpendSQL + "), 0) AS value, count(*) AS value2").
		Group("subscriptions.currency").
		Order("subscriptions.currency").
		Find(&out).Error
	return out, err
}

func (s *Service) subscriptionsByCategory(ctx context.Context, where clause.Expression) ([]DataItem, error) {
	var out []DataItem
	err := s.activeSubscriptions(ctx, where).
		Joins("LEFT JOIN subscription_categories ON subscription_categories.id = subscriptions.category_id").
		Select("COALESCE(subscription_categories.name, 'Uncategorized') AS label, count(*) AS value").
		Group("label").
		Order("value DESC, label").
		Find(&out).Error
	return out, err
}

func (s *Service) dailyNewSubscriptions(ctx context.Context, where clause.Expression) ([]DataItem, error) {
	var out []DataItem
	err := s.db.WithContext(ctx).Table(models.Subscription{}.TableName()).
		Select("TO_CHAR(subscriptions.created_at, 'YYYY-MM-DD') AS date, count(*) AS value").
		Where(where).
		Group("date").
		Order("date DESC").
		Find(&out).Error
	return out, err
}

// dailyPaidUserCount reads the daily plan snapshots; Value2 is the number
// of users snapshotted that day.
func (s *Service) dailyPaidUserCount(ctx context.Context, where clause.Expression) ([]DataItem, error) {
	var out []DataItem
	err := s.db.WithContext(ctx).Table(models.UserPlanDailySnapshot{}.TableName()).
		Select("snapshot_date AS date, count(*) FILTER (WHERE plan <> ?) AS value, count(*) AS value2", types.PlanFree).
		Where(where).
		Group("snapshot_date").
		Order("snapshot_date DESC").
		Find(&out).Error
	return out, err
}

func (s *Service) storeTransactions(ctx context.Context, where clause.Expression) *gorm.DB {
	return s.db.WithContext(ctx).Table(models.StoreTransaction{}.TableName()).
		Where("provider_id <> ?", types.PaymentProviderInner).
		Where(where)
}

func (s *Service) dailyStoreTransactionCount(ctx context.Context, where clause.Expression) ([]DataItem, error) {
	var out []DataItem
	err := s.storeTransactions(ctx, where).
		Select("TO_CHAR(created_at, 'YYYY-MM-DD') AS date, count(*) AS value").
		Group("date").
		Order("date DESC").
		Find(&out).Error
	return out, err
}

func (s *Service) dailyStoreGmv(ctx context.Context, where clause.Expression) ([]DataItem, error) {
	var out []DataItem
	err := s.storeTransactions(ctx, where).
		Where("refund_at IS NULL").
		Select("TO_CHAR(created_at, 'YYYY-MM-DD') AS date, currency AS label, COALESCE(SUM(price), 0) AS value").
		Group("date, currency").
		Order("date DESC, currency").
		Find(&out).Error
	return out, err
}
