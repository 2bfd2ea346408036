package subscription

import (
	"context"
	"testing"
	"time"

	"github.com/samber/lo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/fatflowers/subtrack/internal/models"
	"github.com/fatflowers/subtrack/internal/platform/cache"
	"github.com/fatflowers/subtrack/internal/platform/db/dbtest"
	"github.com/fatflowers/subtrack/pkg/config"
	"github.com/fatflowers/subtrack/pkg/errs"
	"github.com/fatflowers/subtrack/pkg/tool"
	"github.com/fatflowers/subtrack/pkg/types"
)

func seedUser(t *testing.T, gdb *gorm.DB) string {
	t.Helper()
	id := tool.GenerateUUIDV7()
	require.NoError(t, gdb.Create(&models.User{ID: id, Email: id + "@example.com", Role: types.RoleUser, Plan: types.PlanFree}).Error)
	return id
}

func TestRepository_Postgres(t *testing.T) {
	gdb := dbtest.Open(t)
	ctx := context.Background()
	svc := NewService(&config.Config{}, NewRepository(gdb), cache.Nop{}, &staticDefaults{currency: "USD", days: 3}, zap.NewNop().Sugar())
	alice, bob := seedUser(t, gdb), seedUser(t, gdb)

	t.Run("empty list", func(t *testing.T) {
		rows, err := svc.List(ctx, alice)
		require.NoError(t, err)
		assert.NotNil(t, rows)
		assert.Empty(t, rows)
	})

	due := time.Date(2025, 7, 1, 0, 0, 0, 0, time.UTC)
	var ids []string
	for _, d := range []time.Time{due.AddDate(0, 0, 14), due, due} {
		in := validInput()
		in.NextPaymentDate = lo.ToPtr(d)
		in.CategoryID = lo.ToPtr("0190a000-0000-7000-8000-000000000001")
		sub, err := svc.Create(ctx, alice, in)
		require.NoError(t, err)
		ids = append(ids, sub.ID)
	}

	t.Run("ordering", func(t *testing.T) {
		rows, err := svc.List(ctx, alice)
		require.NoError(t, err)
		require.Len(t, rows, 3)
		assert.Equal(t, []string{ids[1], ids[2], ids[0]}, []string{rows[0].ID, rows[1].ID, rows[2].ID})
	})

	t.Run("unknown category", func(t *testing.T) {
		in := validInput()
		in.CategoryID = lo.ToPtr(tool.GenerateUUIDV7())
		_, err := svc.Create(ctx, alice, in)
		assert.True(t, errs.IsValidation(err))
	})

	t.Run("update keeps other columns", func(t *testing.T) {
		before, err := NewRepository(gdb).Get(ctx, alice, ids[0])
		require.NoError(t, err)
		after, err := svc.Update(ctx, alice, ids[0], &UpdateInput{Status: lo.ToPtr(types.SubscriptionStatusCancelled)})
		require.NoError(t, err)
		assert.Equal(t, types.SubscriptionStatusCancelled, after.Status)
		assert.Equal(t, before.Name, after.Name)
		assert.Equal(t, before.Amount, after.Amount)
		assert.True(t, before.NextPaymentDate.Equal(after.NextPaymentDate))
		assert.Equal(t, before.CategoryID, after.CategoryID)
	})

	t.Run("ownership", func(t *testing.T) {
		_, err := svc.Update(ctx, bob, ids[0], &UpdateInput{Name: lo.ToPtr("stolen")})
		assert.True(t, errs.IsNotFound(err))
		_, err = svc.Update(ctx, alice, "not-a-uuid", &UpdateInput{Name: lo.ToPtr("x")})
		assert.True(t, errs.IsNotFound(err))
		require.NoError(t, svc.Delete(ctx, bob, ids[0]))
		rows, err := svc.List(ctx, alice)
		require.NoError(t, err)
		assert.Len(t, rows, 3)
	})

	t.Run("mark paid and history", func(t *testing.T) {
		paidAt := time.Now().UTC().Add(-time.Hour).Truncate(time.Microsecond)
		sub, err := svc.MarkPaid(ctx, alice, ids[1], &paidAt)
		require.NoError(t, err)
		assert.True(t, sub.NextPaymentDate.Equal(types.BillingCycleMonthly.Advance(paidAt, 1)))

		payments, err := svc.Payments(ctx, alice, "")
		require.NoError(t, err)
		require.Len(t, payments, 1)
		assert.Equal(t, ids[1], payments[0].SubscriptionID)
		assert.Equal(t, types.BillingTransactionKindManual, payments[0].Kind)
	})

	t.Run("concurrent delete", func(t *testing.T) {
		errc := make(chan error, 2)
		for range 2 {
			go func() { errc <- svc.Delete(ctx, alice, ids[2]) }()
		}
		require.NoError(t, <-errc)
		require.NoError(t, <-errc)
		rows, err := svc.List(ctx, alice)
		require.NoError(t, err)
		for _, r := range rows {
			assert.NotEqual(t, ids[2], r.ID)
		}
	})
}
