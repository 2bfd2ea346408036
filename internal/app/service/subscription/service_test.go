package subscription

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/samber/lo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/fatflowers/subtrack/internal/models"
	"github.com/fatflowers/subtrack/internal/platform/cache"
	"github.com/fatflowers/subtrack/pkg/config"
	"github.com/fatflowers/subtrack/pkg/errs"
	"github.com/fatflowers/subtrack/pkg/types"
)

type staticDefaults struct {
	currency string
	days     int
	calls    int
}

func (d *staticDefaults) SubscriptionDefaults(context.Context, string) (string, int, error) {
	d.calls++
	return d.currency, d.days, nil
}

var now = time.Date(2025, 3, 15, 9, 0, 0, 0, time.UTC)

func newTestService(t *testing.T) (*Service, *memRepository, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)
	rc, err := cache.NewRedis(context.Background(), config.RedisConfig{Addr: mr.Addr()})
	require.NoError(t, err)
	t.Cleanup(func() { _ = rc.Close() })

	repo := newMemRepository()
	cfg := &config.Config{Redis: config.RedisConfig{ListTTL: time.Minute}}
	svc := NewService(cfg, repo, rc, &staticDefaults{currency: "EUR", days: 5}, zap.NewNop().Sugar())
	svc.now = func() time.Time { return now }
	return svc, repo, mr
}

func validInput() *CreateInput {
	return &CreateInput{
		Name:            "Netflix",
		Amount:          lo.ToPtr(int64(1599)),
		BillingCycle:    types.BillingCycleMonthly,
		NextPaymentDate: lo.ToPtr(now.AddDate(0, 0, 10)),
	}
}

func TestCreate_ValidationHappensBeforeIO(t *testing.T) {
	svc, repo, _ := newTestService(t)
	defaults := svc.defaults.(*staticDefaults)

	tests := []struct {
		name   string
		mutate func(in *CreateInput)
		field  string
	}{
		{"missing name", func(in *CreateInput) { in.Name = "  " }, "name"},
		{"missing amount", func(in *CreateInput) { in.Amount = nil }, "amount"},
		{"negative amount", func(in *CreateInput) { in.Amount = lo.ToPtr(int64(-1)) }, "amount"},
		{"missing cycle", func(in *CreateInput) { in.BillingCycle = "" }, "billing_cycle"},
		{"unknown cycle", func(in *CreateInput) { in.BillingCycle = "daily" }, "billing_cycle"},
		{"missing next payment", func(in *CreateInput) { in.NextPaymentDate = nil }, "next_payment_date"},
		{"unknown status", func(in *CreateInput) { in.Status = "deleted" }, "status"},
		{"reminder too far", func(in *CreateInput) { in.ReminderDays = lo.ToPtr(45) }, "reminder_days"},
		{"bad currency", func(in *CreateInput) { in.Currency = "euro" }, "currency"},
		{"bad category", func(in *CreateInput) { in.CategoryID = lo.ToPtr("streaming") }, "category_id"},
		{"last after next", func(in *CreateInput) { in.LastPaymentDate = lo.ToPtr(now.AddDate(0, 0, 11)) }, "next_payment_date"},
		{"next beyond one cycle", func(in *CreateInput) { in.LastPaymentDate = lo.ToPtr(now.AddDate(0, -2, 0)) }, "next_payment_date"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in := validInput()
			tt.mutate(in)
			_, err := svc.Create(context.Background(), "u1", in)
			var verr *errs.ValidationError
			require.ErrorAs(t, err, &verr)
			assert.Contains(t, verr.Fields, tt.field)
		})
	}
	assert.Zero(t, repo.calls)
	assert.Zero(t, defaults.calls)
}

func TestCreate_AppliesDefaults(t *testing.T) {
	svc, _, _ := newTestService(t)

	sub, err := svc.Create(context.Background(), "u1", validInput())
	require.NoError(t, err)
	assert.NotEmpty(t, sub.ID)
	assert.Equal(t, "u1", sub.UserID)
	assert.Equal(t, "EUR", sub.Currency)
	assert.Equal(t, 5, sub.ReminderDays)
	assert.Equal(t, types.SubscriptionStatusActive, sub.Status)
	assert.True(t, sub.AutoRenew)

	in := validInput()
	in.Currency = "usd"
	in.ReminderDays = lo.ToPtr(0)
	in.AutoRenew = lo.ToPtr(false)
	sub, err = svc.Create(context.Background(), "u1", in)
	require.NoError(t, err)
	assert.Equal(t, "USD", sub.Currency)
	assert.Equal(t, 0, sub.ReminderDays)
	assert.False(t, sub.AutoRenew)
}

func TestCreateThenList_RoundTrip(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	empty, err := svc.List(ctx, "u1")
	require.NoError(t, err)
	assert.NotNil(t, empty)
	assert.Empty(t, empty)

	in := validInput()
	in.Description = lo.ToPtr("family plan")
	in.Website = lo.ToPtr("https://netflix.com")
	created, err := svc.Create(ctx, "u1", in)
	require.NoError(t, err)

	rows, err := svc.List(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, rows, 1)
	got := rows[0]
	assert.Equal(t, created.ID, got.ID)
	assert.Equal(t, "Netflix", got.Name)
	assert.Equal(t, int64(1599), got.Amount)
	assert.Equal(t, "family plan", *got.Description)
	assert.True(t, got.NextPaymentDate.Equal(*in.NextPaymentDate))

	other, err := svc.List(ctx, "u2")
	require.NoError(t, err)
	assert.Empty(t, other)
}

func TestList_OrderedByNextPaymentThenID(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()
	for _, days := range []int{20, 5, 20, 1} {
		in := validInput()
		in.NextPaymentDate = lo.ToPtr(now.AddDate(0, 0, days))
		_, err := svc.Create(ctx, "u1", in)
		require.NoError(t, err)
	}
	rows, err := svc.List(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, rows, 4)
	for i := 1; i < len(rows); i++ {
		prev, cur := rows[i-1], rows[i]
		ok := prev.NextPaymentDate.Before(cur.NextPaymentDate) ||
			(prev.NextPaymentDate.Equal(cur.NextPaymentDate) && prev.ID < cur.ID)
		assert.True(t, ok, "rows %d and %d out of order", i-1, i)
	}
}

func TestList_CachedUntilMutation(t *testing.T) {
	svc, repo, mr := newTestService(t)
	ctx := context.Background()
	_, err := svc.Create(ctx, "u1", validInput())
	require.NoError(t, err)

	_, err = svc.List(ctx, "u1")
	require.NoError(t, err)
	calls := repo.calls
	_, err = svc.List(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, calls, repo.calls, "second list is served from cache")
	assert.True(t, mr.Exists(listKey("u1", 1)))

	_, err = svc.Create(ctx, "u1", validInput())
	require.NoError(t, err)
	rows, err := svc.List(ctx, "u1")
	require.NoError(t, err)
	assert.Len(t, rows, 2)
	assert.True(t, mr.Exists(listKey("u1", 2)))
	assert.False(t, mr.Exists(listKey("u1", 1)), "superseded list is dropped")
}

func TestMutation_RejectedWriteDoesNotBumpCache(t *testing.T) {
	svc, repo, mr := newTestService(t)
	ctx := context.Background()
	_, err := svc.List(ctx, "u1")
	require.NoError(t, err)

	repo.failNext = errors.New("connection reset")
	_, err = svc.Create(ctx, "u1", validInput())
	require.Error(t, err)

	v, err := mr.Get(versionKey("u1"))
	assert.Error(t, err, "version never bumped")
	assert.Empty(t, v)
	rows, err := svc.List(ctx, "u1")
	require.NoError(t, err)
	assert.Empty(t, rows)
}

func TestUpdate(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()
	in := validInput()
	in.Description = lo.ToPtr("4k")
	sub, err := svc.Create(ctx, "u1", in)
	require.NoError(t, err)

	updated, err := svc.Update(ctx, "u1", sub.ID, &UpdateInput{Status: lo.ToPtr(types.SubscriptionStatusCancelled)})
	require.NoError(t, err)
	assert.Equal(t, types.SubscriptionStatusCancelled, updated.Status)

	rows, err := svc.List(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, rows, 1)
	want := *sub
	want.Status = types.SubscriptionStatusCancelled
	assert.Equal(t, &want, rows[0], "only status changed")

	t.Run("foreign row is not found", func(t *testing.T) {
		_, err := svc.Update(ctx, "u2", sub.ID, &UpdateInput{Name: lo.ToPtr("mine now")})
		assert.True(t, errs.IsNotFound(err))
	})
	t.Run("missing row is not found", func(t *testing.T) {
		_, err := svc.Update(ctx, "u1", "0190a000-0000-7000-8000-00000000ffff", &UpdateInput{Name: lo.ToPtr("x")})
		assert.True(t, errs.IsNotFound(err))
	})
	t.Run("merged row is validated", func(t *testing.T) {
		_, err := svc.Update(ctx, "u1", sub.ID, &UpdateInput{LastPaymentDate: lo.ToPtr(sub.NextPaymentDate.AddDate(0, 0, 1))})
		assert.True(t, errs.IsValidation(err))
		_, err = svc.Update(ctx, "u1", sub.ID, &UpdateInput{Name: lo.ToPtr(" ")})
		assert.True(t, errs.IsValidation(err))
		_, err = svc.Update(ctx, "u1", sub.ID, &UpdateInput{Website: lo.ToPtr("nope")})
		assert.True(t, errs.IsValidation(err))
	})
	t.Run("empty string clears optional text", func(t *testing.T) {
		updated, err := svc.Update(ctx, "u1", sub.ID, &UpdateInput{Description: lo.ToPtr("")})
		require.NoError(t, err)
		assert.Nil(t, updated.Description)
	})
}

func TestDelete_Idempotent(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()
	sub, err := svc.Create(ctx, "u1", validInput())
	require.NoError(t, err)

	require.NoError(t, svc.Delete(ctx, "u2", sub.ID))
	rows, _ := svc.List(ctx, "u1")
	assert.Len(t, rows, 1, "a foreign delete is a silent no-op")

	require.NoError(t, svc.Delete(ctx, "u1", sub.ID))
	require.NoError(t, svc.Delete(ctx, "u1", sub.ID))
	rows, err = svc.List(ctx, "u1")
	require.NoError(t, err)
	assert.Empty(t, rows)
}

func TestMarkPaid(t *testing.T) {
	svc, repo, _ := newTestService(t)
	ctx := context.Background()
	in := validInput()
	in.NextPaymentDate = lo.ToPtr(time.Date(2025, 3, 31, 0, 0, 0, 0, time.UTC))
	sub, err := svc.Create(ctx, "u1", in)
	require.NoError(t, err)

	paidAt := time.Date(2025, 1, 31, 0, 0, 0, 0, time.UTC)
	got, err := svc.MarkPaid(ctx, "u1", sub.ID, &paidAt)
	require.NoError(t, err)
	assert.Equal(t, paidAt, *got.LastPaymentDate)
	assert.Equal(t, time.Date(2025, 2, 28, 0, 0, 0, 0, time.UTC), got.NextPaymentDate)

	require.Len(t, repo.payments, 1)
	assert.Equal(t, types.BillingTransactionKindManual, repo.payments[0].Kind)
	assert.Equal(t, int64(1599), repo.payments[0].Amount)

	_, err = svc.MarkPaid(ctx, "u1", sub.ID, &paidAt)
	assert.True(t, errs.IsValidation(err), "same payment twice")
	_, err = svc.MarkPaid(ctx, "u1", sub.ID, lo.ToPtr(now.AddDate(0, 0, 3)))
	assert.True(t, errs.IsValidation(err), "future payment")
	_, err = svc.MarkPaid(ctx, "u2", sub.ID, nil)
	assert.True(t, errs.IsNotFound(err))

	payments, err := svc.Payments(ctx, "u1", sub.ID)
	require.NoError(t, err)
	assert.Len(t, payments, 1)
	_, err = svc.Payments(ctx, "u2", sub.ID)
	assert.True(t, errs.IsNotFound(err))
}

func TestRollForward(t *testing.T) {
	svc, repo, _ := newTestService(t)
	ctx := context.Background()

	in := validInput()
	in.NextPaymentDate = lo.ToPtr(time.Date(2025, 1, 10, 0, 0, 0, 0, time.UTC))
	renewing, err := svc.Create(ctx, "u1", in)
	require.NoError(t, err)

	changed, err := svc.RollForward(ctx, renewing, now)
	require.NoError(t, err)
	assert.True(t, changed)
	assert.Equal(t, time.Date(2025, 4, 10, 0, 0, 0, 0, time.UTC), renewing.NextPaymentDate)
	assert.Equal(t, time.Date(2025, 3, 10, 0, 0, 0, 0, time.UTC), *renewing.LastPaymentDate)
	assert.Len(t, repo.payments, 3, "Jan, Feb and Mar were charged")

	in = validInput()
	in.NextPaymentDate = lo.ToPtr(now.AddDate(0, 0, -1))
	in.AutoRenew = lo.ToPtr(false)
	lapsing, err := svc.Create(ctx, "u1", in)
	require.NoError(t, err)
	changed, err = svc.RollForward(ctx, lapsing, now)
	require.NoError(t, err)
	assert.True(t, changed)
	assert.Equal(t, types.SubscriptionStatusExpired, lapsing.Status)
	assert.Len(t, repo.payments, 3)

	changed, err = svc.RollForward(ctx, lapsing, now)
	require.NoError(t, err)
	assert.False(t, changed)
}

func TestRollForward_KeepsMonthEndAnchor(t *testing.T) {
	svc, repo, _ := newTestService(t)
	ctx := context.Background()

	in := validInput()
	in.NextPaymentDate = lo.ToPtr(time.Date(2025, 1, 31, 0, 0, 0, 0, time.UTC))
	sub, err := svc.Create(ctx, "u1", in)
	require.NoError(t, err)

	changed, err := svc.RollForward(ctx, sub, time.Date(2025, 4, 1, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.True(t, changed)
	assert.Equal(t, time.Date(2025, 4, 30, 0, 0, 0, 0, time.UTC), sub.NextPaymentDate)
	assert.Equal(t, time.Date(2025, 3, 31, 0, 0, 0, 0, time.UTC), *sub.LastPaymentDate)

	paid := lo.Map(repo.payments, func(p *models.BillingTransaction, _ int) time.Time { return p.PaidAt })
	assert.Equal(t, []time.Time{
		time.Date(2025, 1, 31, 0, 0, 0, 0, time.UTC),
		time.Date(2025, 2, 28, 0, 0, 0, 0, time.UTC),
		time.Date(2025, 3, 31, 0, 0, 0, 0, time.UTC),
	}, paid)
}

func TestMarkReminded(t *testing.T) {
	svc, repo, mr := newTestService(t)
	ctx := context.Background()
	sub, err := svc.Create(ctx, "u1", validInput())
	require.NoError(t, err)
	_, err = svc.List(ctx, "u1")
	require.NoError(t, err)

	require.NoError(t, svc.MarkReminded(ctx, sub, now))
	require.NotNil(t, sub.LastRemindedAt)
	assert.Equal(t, now, *repo.rows[sub.ID].LastRemindedAt)
	ver, err := mr.Get(versionKey("u1"))
	require.NoError(t, err)
	assert.Equal(t, "2", ver)

	err = svc.MarkReminded(ctx, &models.Subscription{ID: "missing", UserID: "u1"}, now)
	assert.True(t, errs.IsNotFound(err))
}

var _ Store = (*Service)(nil)

func TestMerge_ReportsOnlyTouchedColumns(t *testing.T) {
	cur := &models.Subscription{ID: "s", Name: "a", Amount: 1, BillingCycle: types.BillingCycleMonthly}
	_, cols, err := merge(cur, &UpdateInput{Amount: lo.ToPtr(int64(2)), AutoRenew: lo.ToPtr(true)})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"amount": int64(2), "auto_renew": true}, cols)
}
