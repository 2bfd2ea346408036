package statistics

import (
	"context"
	"testing"
	"time"

	"github.com/samber/lo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/fatflowers/subtrack/internal/models"
	"github.com/fatflowers/subtrack/internal/platform/db/dbtest"
	"github.com/fatflowers/subtrack/pkg/errs"
	"github.com/fatflowers/subtrack/pkg/tool"
	"github.com/fatflowers/subtrack/pkg/types"
)

func TestRequest_Validate(t *testing.T) {
	tests := []struct {
		name  string
		req   Request
		field string
	}{
		{"no statistics", Request{}, "data_items"},
		{"unknown statistic", Request{DataItems: []*DataItemRequest{{ID: "churn"}}}, "data_items"},
		{
			"filter nobody understands",
			Request{
				DataItems: []*DataItemRequest{{ID: StatisticTypeTotalUsers}},
				Filters:   []*types.CommonFilter{{Field: "payment_item_id", Operator: types.CommonFilterOperatorEq, Values: []any{"x"}}},
			},
			"filters",
		},
		{
			"raw sql as field",
			Request{
				DataItems: []*DataItemRequest{{ID: StatisticTypeDailyStoreGmv}},
				Filters:   []*types.CommonFilter{{Field: "1=1; drop table users", Operator: types.CommonFilterOperatorEq, Values: []any{1}}},
			},
			"filters",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.req.Validate()
			require.True(t, errs.IsValidation(err), "got %v", err)
			var verr *errs.ValidationError
			require.ErrorAs(t, err, &verr)
			assert.Contains(t, verr.Fields, tt.field)
		})
	}
}

func TestRequest_FiltersFor(t *testing.T) {
	req := &Request{Filters: []*types.CommonFilter{
		{Field: "currency", Operator: types.CommonFilterOperatorEq, Values: []any{"USD"}},
	}}

	where, ok := req.filtersFor(statistics[StatisticTypeMonthlySpendByCurrency])
	require.True(t, ok)
	exprs := where.(andExprs)
	require.Len(t, exprs, 1)
	assert.Equal(t, "subscriptions.currency", exprs[0].(*types.CommonFilter).Field)
	// the caller's filter is not rewritten in place
	assert.Equal(t, "currency", req.Filters[0].Field)

	_, ok = req.filtersFor(statistics[StatisticTypeTotalUsers])
	assert.False(t, ok)
}

func TestIDs_Sorted(t *testing.T) {
	ids := IDs()
	assert.Len(t, ids, 9)
	assert.IsIncreasing(t, lo.Map(ids, func(id StatisticType, _ int) string { return string(id) }))
}

func seed(t *testing.T, gdb *gorm.DB) {
	t.Helper()
	users := []*models.User{
		{ID: tool.GenerateUUIDV7(), Email: "a@example.com", Role: types.RoleUser, Plan: types.PlanFree},
		{ID: tool.GenerateUUIDV7(), Email: "b@example.com", Role: types.RoleUser, Plan: types.PlanPremium},
		{ID: tool.GenerateUUIDV7(), Email: "c@example.com", Role: types.RoleAdmin, Plan: types.PlanPremium},
	}
	require.NoError(t, gdb.Create(&users).Error)

	due := time.Date(2025, 7, 1, 0, 0, 0, 0, time.UTC)
	subs := []*models.Subscription{
		{Name: "Netflix", Amount: 1599, Currency: "USD", BillingCycle: types.BillingCycleMonthly, Status: types.SubscriptionStatusActive, CategoryID: lo.ToPtr("0190a000-0000-7000-8000-000000000001")},
		{Name: "iCloud", Amount: 11988, Currency: "USD", BillingCycle: types.BillingCycleAnnual, Status: types.SubscriptionStatusActive, CategoryID: lo.ToPtr("0190a000-0000-7000-8000-000000000004")},
		{Name: "Gym", Amount: 3000, Currency: "EUR", BillingCycle: types.BillingCycleQuarterly, Status: types.SubscriptionStatusActive},
		{Name: "Old", Amount: 500, Currency: "USD", BillingCycle: types.BillingCycleMonthly, Status: types.SubscriptionStatusCancelled},
	}
	for _, s := range subs {
		s.ID = tool.GenerateUUIDV7()
		s.UserID = users[0].ID
		s.NextPaymentDate = due
		require.NoError(t, gdb.Create(s).Error)
	}

	for i, u := range users {
		require.NoError(t, gdb.Create(&models.UserPlanDailySnapshot{
			ID: tool.GenerateUUIDV7(), UserID: u.ID, SnapshotDate: "2025-06-30", Plan: u.Plan, ActiveSubscriptions: i,
			MonthlySpend: datatypes.JSONMap{},
		}).Error)
	}

	txs := []*models.StoreTransaction{
		{ProviderID: types.PaymentProviderApple, Currency: "USD", Price: 999},
		{ProviderID: types.PaymentProviderApple, Currency: "USD", Price: 999},
		{ProviderID: types.PaymentProviderInner, Currency: "USD", Price: 0},
	}
	for _, tx := range txs {
		tx.ID = tool.GenerateUUIDV7()
		tx.UserID = users[1].ID
		tx.PaymentItemID = "premium_month"
		tx.TransactionID = tool.GenerateUUIDV7()
		tx.PurchaseAt = due
		tx.Extra = datatypes.NewJSONType(&models.StoreTransactionExtra{IsFirstPurchase: true})
		require.NoError(t, gdb.Create(tx).Error)
	}
}

func TestService_Postgres(t *testing.T) {
	gdb := dbtest.Open(t)
	seed(t, gdb)
	svc := New(gdb, zap.NewNop().Sugar())
	ctx := context.Background()

	all := lo.Map(IDs(), func(id StatisticType, _ int) *DataItemRequest { return &DataItemRequest{ID: id} })
	res, err := svc.Get(ctx, &Request{DataItems: all})
	require.NoError(t, err)
	got := res.DataItems

	assert.Equal(t, []DataItem{{Value: 3}}, got[StatisticTypeTotalUsers])
	assert.Equal(t, []DataItem{{Label: "free", Value: 1}, {Label: "premium", Value: 2}}, got[StatisticTypeUsersByPlan])
	assert.Equal(t, []DataItem{{Value: 3}}, got[StatisticTypeActiveSubscriptionCount])
	assert.Equal(t, []DataItem{
		{Label: "EUR", Value: 1000, Value2: 1},
		{Label: "USD", Value: 1599 + 999, Value2: 2},
	}, got[StatisticTypeMonthlySpendByCurrency])
	assert.ElementsMatch(t, []DataItem{
		{Label: "Streaming", Value: 1}, {Label: "Cloud Storage", Value: 1}, {Label: "Uncategorized", Value: 1},
	}, got[StatisticTypeSubscriptionsByCategory])
	assert.Equal(t, []DataItem{{Date: "2025-06-30", Value: 2, Value2: 3}}, got[StatisticTypeDailyPaidUserCount])

	require.Len(t, got[StatisticTypeDailyStoreTransactionCount], 1)
	assert.Equal(t, int64(2), got[StatisticTypeDailyStoreTransactionCount][0].Value)
	require.Len(t, got[StatisticTypeDailyStoreGmv], 1)
	assert.Equal(t, "USD", got[StatisticTypeDailyStoreGmv][0].Label)
	assert.Equal(t, int64(1998), got[StatisticTypeDailyStoreGmv][0].Value)

	t.Run("filters apply per statistic", func(t *testing.T) {
		res, err := svc.Get(ctx, &Request{
			DataItems: []*DataItemRequest{{ID: StatisticTypeActiveSubscriptionCount}, {ID: StatisticTypeTotalUsers}},
			Filters:   []*types.CommonFilter{{Field: "currency", Operator: types.CommonFilterOperatorEq, Values: []any{"EUR"}}},
		})
		require.NoError(t, err)
		assert.Equal(t, []DataItem{{Value: 1}}, res.DataItems[StatisticTypeActiveSubscriptionCount])
		assert.Nil(t, res.DataItems[StatisticTypeTotalUsers])
	})

	t.Run("first purchase filter", func(t *testing.T) {
		res, err := svc.Get(ctx, &Request{
			DataItems: []*DataItemRequest{{ID: StatisticTypeDailyStoreTransactionCount}},
			Filters:   []*types.CommonFilter{{Field: FilterIsFirstPurchase, Operator: types.CommonFilterOperatorEq, Values: []any{false}}},
		})
		require.NoError(t, err)
		assert.Empty(t, res.DataItems[StatisticTypeDailyStoreTransactionCount])
	})
}
