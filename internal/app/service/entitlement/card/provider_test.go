package card

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/fatflowers/subtrack/internal/app/service/entitlement"
	"github.com/fatflowers/subtrack/internal/app/session"
	"github.com/fatflowers/subtrack/internal/platform/flutterwave"
	"github.com/fatflowers/subtrack/pkg/config"
	"github.com/fatflowers/subtrack/pkg/errs"
	"github.com/fatflowers/subtrack/pkg/types"
)

type fakeClient struct {
	subs    []flutterwave.Subscription
	listErr error
	link    string
	linkReq *flutterwave.PaymentRequest
	email   string
}

func (f *fakeClient) CreatePaymentLink(_ context.Context, req *flutterwave.PaymentRequest) (string, error) {
	f.linkReq = req
	return f.link, nil
}

func (f *fakeClient) ListSubscriptions(_ context.Context, email string) ([]flutterwave.Subscription, error) {
	f.email = email
	return f.subs, f.listErr
}

func (f *fakeClient) VerifyTransaction(context.Context, int64) (*flutterwave.Transaction, error) {
	return nil, errors.New("not used")
}

var now = time.Date(2025, 5, 10, 12, 0, 0, 0, time.UTC)

func testConfig() *config.Config {
	return &config.Config{Card: config.CardConfig{
		SecretKey:   "FLWSECK_TEST-abc",
		RedirectURL: "https://app.example.com/billing/done",
		Plans: []*config.CardPlan{
			{ID: "standard_monthly", ProviderPlanID: 101, Tier: types.PlanStandard, Cycle: types.BillingCycleMonthly, Amount: 299, Currency: "USD", Title: "Standard"},
			{ID: "premium_annual", ProviderPlanID: 202, Tier: types.PlanPremium, Cycle: types.BillingCycleAnnual, Amount: 4999, Currency: "USD", Title: "Premium"},
		},
	}}
}

func newTestProvider(cli flutterwave.Client) *Provider {
	p := New(testConfig(), cli, zap.NewNop().Sugar())
	p.now = func() time.Time { return now }
	return p
}

func TestProvider_CheckConfig(t *testing.T) {
	assert.NoError(t, newTestProvider(&fakeClient{}).CheckConfig())

	cfg := testConfig()
	cfg.Card.SecretKey = "changeme"
	err := New(cfg, &fakeClient{}, zap.NewNop().Sugar()).CheckConfig()
	assert.True(t, errs.IsConfiguration(err))

	cfg = testConfig()
	cfg.Card.Plans = nil
	assert.True(t, errs.IsConfiguration(New(cfg, &fakeClient{}, zap.NewNop().Sugar()).CheckConfig()))
}

func TestProvider_ConfigureNeedsEmail(t *testing.T) {
	p := newTestProvider(&fakeClient{})
	assert.Error(t, p.Configure(context.Background(), session.Identity{UserID: "u1"}))
	assert.NoError(t, p.Configure(context.Background(), session.Identity{UserID: "u1", Email: "a@b.c"}))
}

func TestProvider_Fetch(t *testing.T) {
	cli := &fakeClient{subs: []flutterwave.Subscription{
		{ID: 1, Plan: 101, Status: "active", CreatedAt: time.Date(2025, 1, 31, 0, 0, 0, 0, time.UTC)},
		{ID: 2, Plan: 202, Status: "cancelled", CreatedAt: now.AddDate(0, -1, 0)},
		{ID: 3, Plan: 999, Status: "active", CreatedAt: now},
	}}
	p := newTestProvider(cli)

	snap, err := p.Fetch(context.Background(), session.Identity{UserID: "u1", Email: "a@b.c"})
	require.NoError(t, err)
	assert.Equal(t, "a@b.c", cli.email)
	assert.Equal(t, types.PlanStandard, snap.Plan)
	assert.Equal(t, []string{"standard"}, snap.Entitlements)
	require.NotNil(t, snap.ExpiresAt)
	assert.Equal(t, time.Date(2025, 5, 31, 0, 0, 0, 0, time.UTC), *snap.ExpiresAt)
}

func TestProvider_FetchHighestTierWins(t *testing.T) {
	cli := &fakeClient{subs: []flutterwave.Subscription{
		{ID: 1, Plan: 101, Status: "active", CreatedAt: now.AddDate(0, 0, -3)},
		{ID: 2, Plan: 202, Status: "active", CreatedAt: now.AddDate(0, 0, -3)},
	}}
	snap, err := newTestProvider(cli).Fetch(context.Background(), session.Identity{Email: "a@b.c"})
	require.NoError(t, err)
	assert.Equal(t, types.PlanPremium, snap.Plan)
	assert.Equal(t, now.AddDate(1, 0, -3), *snap.ExpiresAt)
}

func TestProvider_FetchError(t *testing.T) {
	transient := &errs.TransientProviderError{Provider: "card", Op: "list subscriptions", Err: errors.New("503")}
	_, err := newTestProvider(&fakeClient{listErr: transient}).Fetch(context.Background(), session.Identity{Email: "a@b.c"})
	assert.True(t, errs.IsTransient(err))
}

func TestProvider_Purchase(t *testing.T) {
	cli := &fakeClient{link: "https://checkout.example.com/pay/abc"}
	p := newTestProvider(cli)
	id := session.Identity{UserID: "u1", Email: "a@b.c", Name: "Ada"}

	res, err := p.Purchase(context.Background(), id, &entitlement.PurchaseRequest{PackageID: "premium_annual"})
	require.NoError(t, err)
	assert.Equal(t, "https://checkout.example.com/pay/abc", res.CheckoutURL)
	assert.Equal(t, types.PlanFree, res.Snapshot.Plan)

	req := cli.linkReq
	require.NotNil(t, req)
	assert.Equal(t, "49.99", req.Amount)
	assert.Equal(t, int64(202), req.PaymentPlan)
	assert.Equal(t, "a@b.c", req.Customer.Email)
	assert.Equal(t, "https://app.example.com/billing/done", req.RedirectURL)
	assert.True(t, strings.HasPrefix(req.TxRef, "u1:"))
	userID, ok := UserIDFromTxRef(req.TxRef)
	require.True(t, ok)
	assert.Equal(t, "u1", userID)

	_, err = p.Purchase(context.Background(), id, &entitlement.PurchaseRequest{PackageID: "nope"})
	assert.True(t, errs.IsValidation(err))
}

func TestProvider_Offerings(t *testing.T) {
	got, err := newTestProvider(&fakeClient{}).Offerings(context.Background())
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "202", got[1].ProductID)
	assert.Equal(t, types.BillingCycleAnnual, got[1].Cycle)
}

func TestUserIDFromTxRef(t *testing.T) {
	_, ok := UserIDFromTxRef("no-separator")
	assert.False(t, ok)
	_, ok = UserIDFromTxRef(":abc")
	assert.False(t, ok)
}

func TestMajorUnits(t *testing.T) {
	cases := []struct {
		minor int64
		code  string
		want  string
	}{
		{500, "USD", "5.00"},
		{7, "USD", "0.07"},
		{-1250, "EUR", "-12.50"},
		{500, "JPY", "500"},
		{1500, "KWD", "1.500"},
	}
	for _, tc := range cases {
		got, err := majorUnits(tc.minor, tc.code)
		require.NoError(t, err, tc.code)
		assert.Equal(t, tc.want, got, tc.code)
	}
	_, err := majorUnits(100, "dollars")
	assert.Error(t, err)
}
