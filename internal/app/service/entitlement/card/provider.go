// Package card adapts recurring card subscriptions to entitlement snapshots.
package card

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"golang.org/x/text/currency"

	"github.com/fatflowers/subtrack/internal/app/service/entitlement"
	"github.com/fatflowers/subtrack/internal/app/session"
	"github.com/fatflowers/subtrack/internal/platform/flutterwave"
	"github.com/fatflowers/subtrack/pkg/config"
	"github.com/fatflowers/subtrack/pkg/errs"
	"github.com/fatflowers/subtrack/pkg/logctx"
)

const Name = "card"

type Provider struct {
	cfg *config.Config
	cli flutterwave.Client
	log *zap.SugaredLogger
	now func() time.Time
}

func New(cfg *config.Config, cli flutterwave.Client, log *zap.SugaredLogger) *Provider {
	return &Provider{cfg: cfg, cli: cli, log: log, now: time.Now}
}

func newClient(cfg *config.Config) flutterwave.Client {
	return flutterwave.NewClient(cfg.Card)
}

var Module = fx.Options(
	fx.Provide(newClient),
	fx.Provide(fx.Annotate(New,
		fx.As(new(entitlement.Provider)),
		fx.ResultTags(`group:"entitlement_providers"`),
	)),
)

func (p *Provider) Name() string { return Name }

func (p *Provider) CheckConfig() error {
	if config.IsPlaceholder(p.cfg.Card.SecretKey) {
		return &errs.ConfigurationError{Component: Name, Reason: "card.secret_key is missing"}
	}
	if len(p.cfg.Card.Plans) == 0 {
		return &errs.ConfigurationError{Component: Name, Reason: "card.plans is empty"}
	}
	return nil
}

// Configure requires an email; the card provider keys customers by it.
func (p *Provider) Configure(ctx context.Context, id session.Identity) error {
	if id.Email == "" {
		return errors.New("card subscriptions need an email")
	}
	return nil
}

func (p *Provider) Offerings(ctx context.Context) ([]entitlement.Offering, error) {
	out := make([]entitlement.Offering, 0, len(p.cfg.Card.Plans))
	for _, plan := range p.cfg.Card.Plans {
		out = append(out, entitlement.Offering{
			ID:        plan.ID,
			Provider:  Name,
			ProductID: strconv.FormatInt(plan.ProviderPlanID, 10),
			Title:     plan.Title,
			Plan:      plan.Tier,
			Cycle:     plan.Cycle,
			Renewable: true,
			Price:     plan.Amount,
			Currency:  plan.Currency,
		})
	}
	return out, nil
}

// Fetch maps active subscriptions on configured plans to their tiers. The
// expiry is the latest next charge date across them.
func (p *Provider) Fetch(ctx context.Context, id session.Identity) (*entitlement.Snapshot, error) {
	subs, err := p.cli.ListSubscriptions(ctx, id.Email)
	if err != nil {
		return nil, err
	}
	now := p.now()
	log := logctx.FromCtx(ctx, p.log)

	var entitlements []string
	var expiresAt *time.Time
	for _, sub := range subs {
		if !sub.Active() {
			continue
		}
		plan := p.cfg.GetCardPlanByProviderPlanID(sub.Plan)
		if plan == nil {
			log.Warnw("card subscription on unknown plan", "subscription_id", sub.ID, "plan", sub.Plan)
			continue
		}
		entitlements = append(entitlements, string(plan.Tier))
		next := plan.Cycle.NextAfter(sub.CreatedAt, now)
		if expiresAt == nil || next.After(*expiresAt) {
			expiresAt = &next
		}
	}
	return entitlement.NewSnapshot(Name, entitlements, expiresAt, now), nil
}

// Purchase opens a hosted checkout. The plan changes later, when the charge
// webhook arrives, so the returned snapshot is the current one.
func (p *Provider) Purchase(ctx context.Context, id session.Identity, req *entitlement.PurchaseRequest) (*entitlement.PurchaseResult, error) {
	plan := p.cfg.GetCardPlanByID(req.PackageID)
	if plan == nil {
		return nil, errs.NewValidationError("package_id", "unknown card plan")
	}
	amount, err := majorUnits(plan.Amount, plan.Currency)
	if err != nil {
		return nil, &errs.ConfigurationError{Component: "card plan " + plan.ID, Reason: err.Error()}
	}
	link, err := p.cli.CreatePaymentLink(ctx, &flutterwave.PaymentRequest{
		TxRef:          TxRef(id.UserID),
		Amount:         amount,
		Currency:       plan.Currency,
		RedirectURL:    p.cfg.Card.RedirectURL,
		PaymentPlan:    plan.ProviderPlanID,
		Customer:       flutterwave.Customer{Email: id.Email, Name: id.Name},
		Customizations: flutterwave.Customizations{Title: plan.Title},
		Meta:           map[string]any{"user_id": id.UserID, "plan_id": plan.ID},
	})
	if err != nil {
		return nil, fmt.Errorf("create checkout: %w", err)
	}
	snap, err := p.Fetch(ctx, id)
	if err != nil {
		return nil, err
	}
	return &entitlement.PurchaseResult{Snapshot: snap, CheckoutURL: link}, nil
}

// Restore re-reads subscriptions; the provider is the record of truth.
func (p *Provider) Restore(ctx context.Context, id session.Identity, _ *entitlement.RestoreRequest) (*entitlement.Snapshot, error) {
	return p.Fetch(ctx, id)
}

// TxRef builds a unique checkout reference carrying the user id.
func TxRef(userID string) string {
	return userID + ":" + uuid.NewString()
}

// UserIDFromTxRef reverses TxRef.
func UserIDFromTxRef(ref string) (string, bool) {
	i := strings.LastIndex(ref, ":")
	if i <= 0 {
		return "", false
	}
	return ref[:i], true
}

// majorUnits renders minor units at the currency's ISO 4217 precision:
// JPY has no decimals and KWD has three.
func majorUnits(minor int64, code string) (string, error) {
	unit, err := currency.ParseISO(code)
	if err != nil {
		return "", fmt.Errorf("currency %q: %w", code, err)
	}
	scale, _ := currency.Standard.Rounding(unit)
	sign := ""
	if minor < 0 {
		sign = "-"
		minor = -minor
	}
	if scale == 0 {
		return fmt.Sprintf("%s%d", sign, minor), nil
	}
	pow := int64(1)
	for i := 0; i < scale; i++ {
		pow *= 10
	}
	return fmt.Sprintf("%s%d.%0*d", sign, minor/pow, scale, minor%pow), nil
}
