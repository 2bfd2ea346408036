// Package subscription is the data-access layer for tracked subscriptions:
// validated CRUD scoped to the caller, payments, and a per-user list cache.
package subscription

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/samber/lo"
	"go.uber.org/zap"

	"github.com/fatflowers/subtrack/internal/models"
	"github.com/fatflowers/subtrack/internal/platform/cache"
	"github.com/fatflowers/subtrack/pkg/config"
	"github.com/fatflowers/subtrack/pkg/errs"
	"github.com/fatflowers/subtrack/pkg/logctx"
	"github.com/fatflowers/subtrack/pkg/metrics"
	"github.com/fatflowers/subtrack/pkg/tool"
	"github.com/fatflowers/subtrack/pkg/types"
	"github.com/fatflowers/subtrack/pkg/validate"
)

const (
	defaultCurrency    = "USD"
	maxPaymentsListed  = 200
	maxFuturePaymentAt = 24 * time.Hour
)

// Defaults supplies per-user defaults for new subscriptions.
type Defaults interface {
	SubscriptionDefaults(ctx context.Context, userID string) (currency string, reminderDays int, err error)
}

type Service struct {
	repo     Repository
	cache    *listCache
	defaults Defaults
	log      *zap.SugaredLogger
	now      func() time.Time
}

func NewService(cfg *config.Config, repo Repository, c cache.Cache, defaults Defaults, log *zap.SugaredLogger) *Service {
	return &Service{
		repo:     repo,
		cache:    &listCache{c: c, ttl: cfg.Redis.ListTTL, log: log},
		defaults: defaults,
		log:      log,
		now:      time.Now,
	}
}

type CreateInput struct {
	Name            string                   `json:"name" validate:"required,max=255"`
	Description     *string                  `json:"description" validate:"omitempty,max=2000"`
	Website         *string                  `json:"website" validate:"omitempty,http_url,max=512"`
	CategoryID      *string                  `json:"category_id" validate:"omitempty,uuid"`
	Amount          *int64                   `json:"amount" validate:"required,min=0"`
	Currency        string                   `json:"currency" validate:"omitempty,iso4217"`
	BillingCycle    types.BillingCycle       `json:"billing_cycle" validate:"required,billing_cycle"`
	NextPaymentDate *time.Time               `json:"next_payment_date" validate:"required"`
	LastPaymentDate *time.Time               `json:"last_payment_date"`
	Status          types.SubscriptionStatus `json:"status" validate:"omitempty,subscription_status"`
	AutoRenew       *bool                    `json:"auto_renew"`
	ReminderDays    *int                     `json:"reminder_days" validate:"omitempty,min=0,max=30"`
}

// UpdateInput is a partial patch. Nil fields are left alone; an empty
// string clears description, website and category.
type UpdateInput struct {
	Name            *string                   `json:"name" validate:"omitempty,min=1,max=255"`
	Description     *string                   `json:"description" validate:"omitempty,max=2000"`
	Website         *string                   `json:"website" validate:"omitempty,max=512"`
	CategoryID      *string                   `json:"category_id"`
	Amount          *int64                    `json:"amount" validate:"omitempty,min=0"`
	Currency        *string                   `json:"currency" validate:"omitempty,iso4217"`
	BillingCycle    *types.BillingCycle       `json:"billing_cycle" validate:"omitempty,billing_cycle"`
	NextPaymentDate *time.Time                `json:"next_payment_date"`
	LastPaymentDate *time.Time                `json:"last_payment_date"`
	Status          *types.SubscriptionStatus `json:"status" validate:"omitempty,subscription_status"`
	AutoRenew       *bool                     `json:"auto_renew"`
	ReminderDays    *int                      `json:"reminder_days" validate:"omitempty,min=0,max=30"`
}

func (in *UpdateInput) empty() bool {
	return in.Name == nil && in.Description == nil && in.Website == nil && in.CategoryID == nil &&
		in.Amount == nil && in.Currency == nil && in.BillingCycle == nil && in.NextPaymentDate == nil &&
		in.LastPaymentDate == nil && in.Status == nil && in.AutoRenew == nil && in.ReminderDays == nil
}

// checkSchedule enforces last < next <= last + one cycle.
func checkSchedule(cycle types.BillingCycle, next time.Time, last *time.Time) error {
	if last == nil || !cycle.Valid() {
		return nil
	}
	if !last.Before(next) {
		return errs.NewValidationError("next_payment_date", "must be after last_payment_date")
	}
	if next.After(cycle.Advance(*last, 1)) {
		return errs.NewValidationError("next_payment_date", fmt.Sprintf("must be within one %s cycle of last_payment_date", cycle))
	}
	return nil
}

func normalizeCreate(in *CreateInput) {
	in.Name = strings.TrimSpace(in.Name)
	in.Currency = tool.NormalizeCurrency(in.Currency, "")
}

func (s *Service) List(ctx context.Context, userID string) ([]*models.Subscription, error) {
	rows, version, ok := s.cache.get(ctx, userID)
	if ok {
		return rows, nil
	}
	rows, err := s.repo.List(ctx, userID)
	if err != nil {
		return nil, err
	}
	s.cache.put(ctx, userID, version, rows)
	return rows, nil
}

// Create validates in before touching the database.
func (s *Service) Create(ctx context.Context, userID string, in *CreateInput) (sub *models.Subscription, err error) {
	defer func() { s.observe("create", err) }()

	normalizeCreate(in)
	if err := validate.Struct(in); err != nil {
		return nil, err
	}
	if err := checkSchedule(in.BillingCycle, *in.NextPaymentDate, in.LastPaymentDate); err != nil {
		return nil, err
	}

	currency, reminderDays := in.Currency, in.ReminderDays
	if currency == "" || reminderDays == nil {
		defCurrency, defDays, err := s.defaults.SubscriptionDefaults(ctx, userID)
		if err != nil {
			return nil, fmt.Errorf("failed to load subscription defaults: %w", err)
		}
		if currency == "" {
			currency = tool.NormalizeCurrency(defCurrency, defaultCurrency)
		}
		if reminderDays == nil {
			reminderDays = &defDays
		}
	}
	status := in.Status
	if status == "" {
		status = types.SubscriptionStatusActive
	}

	sub = &models.Subscription{
		ID:              tool.GenerateUUIDV7(),
		UserID:          userID,
		CategoryID:      emptyToNil(in.CategoryID),
		Name:            in.Name,
		Description:     emptyToNil(in.Description),
		Website:         emptyToNil(in.Website),
		Amount:          *in.Amount,
		Currency:        currency,
		BillingCycle:    in.BillingCycle,
		NextPaymentDate: in.NextPaymentDate.UTC(),
		LastPaymentDate: utcPtr(in.LastPaymentDate),
		Status:          status,
		AutoRenew:       lo.FromPtrOr(in.AutoRenew, true),
		ReminderDays:    *reminderDays,
	}
	if err := s.repo.Insert(ctx, sub); err != nil {
		return nil, err
	}
	s.cache.invalidate(ctx, userID)
	logctx.FromCtx(ctx, s.log).Infow("subscription created", "subscription_id", sub.ID, "billing_cycle", sub.BillingCycle)
	return sub, nil
}

// Update applies in to the caller's row. The merged row must still satisfy
// every rule Create enforces.
func (s *Service) Update(ctx context.Context, userID, id string, in *UpdateInput) (sub *models.Subscription, err error) {
	defer func() { s.observe("update", err) }()

	if in.Currency != nil {
		in.Currency = lo.ToPtr(tool.NormalizeCurrency(*in.Currency, ""))
	}
	if err := validate.Struct(in); err != nil {
		return nil, err
	}
	current, err := s.repo.Get(ctx, userID, id)
	if err != nil {
		return nil, err
	}
	if in.empty() {
		return current, nil
	}

	merged, columns, err := merge(current, in)
	if err != nil {
		return nil, err
	}
	if in.NextPaymentDate != nil || in.LastPaymentDate != nil || in.BillingCycle != nil {
		if err := checkSchedule(merged.BillingCycle, merged.NextPaymentDate, merged.LastPaymentDate); err != nil {
			return nil, err
		}
	}

	sub, err = s.repo.Update(ctx, userID, id, columns)
	if err != nil {
		return nil, err
	}
	s.cache.invalidate(ctx, userID)
	return sub, nil
}

// merge applies in to a copy of cur and returns the changed columns.
func merge(cur *models.Subscription, in *UpdateInput) (*models.Subscription, map[string]any, error) {
	m := *cur
	cols := map[string]any{}
	verr := &errs.ValidationError{}

	if in.Name != nil {
		name := strings.TrimSpace(*in.Name)
		if name == "" {
			verr.Add("name", "is required")
		}
		m.Name = name
		cols["name"] = name
	}
	if in.Description != nil {
		m.Description = emptyToNil(in.Description)
		cols["description"] = m.Description
	}
	if in.Website != nil {
		m.Website = emptyToNil(in.Website)
		if m.Website != nil {
			if err := validate.Struct(&struct {
				Website string `json:"website" validate:"http_url"`
			}{*m.Website}); err != nil {
				verr.Add("website", "must be a valid URL")
			}
		}
		cols["website"] = m.Website
	}
	if in.CategoryID != nil {
		m.CategoryID = emptyToNil(in.CategoryID)
		if m.CategoryID != nil && !tool.IsUUID(*m.CategoryID) {
			verr.Add("category_id", "must be a UUID")
		}
		cols["category_id"] = m.CategoryID
	}
	if in.Amount != nil {
		m.Amount = *in.Amount
		cols["amount"] = m.Amount
	}
	if in.Currency != nil {
		m.Currency = *in.Currency
		cols["currency"] = m.Currency
	}
	if in.BillingCycle != nil {
		m.BillingCycle = *in.BillingCycle
		cols["billing_cycle"] = m.BillingCycle
	}
	if in.NextPaymentDate != nil {
		m.NextPaymentDate = in.NextPaymentDate.UTC()
		cols["next_payment_date"] = m.NextPaymentDate
	}
	if in.LastPaymentDate != nil {
		m.LastPaymentDate = utcPtr(in.LastPaymentDate)
		cols["last_payment_date"] = m.LastPaymentDate
	}
	if in.Status != nil {
		m.Status = *in.Status
		cols["status"] = m.Status
	}
	if in.AutoRenew != nil {
		m.AutoRenew = *in.AutoRenew
		cols["auto_renew"] = m.AutoRenew
	}
	if in.ReminderDays != nil {
		m.ReminderDays = *in.ReminderDays
		cols["reminder_days"] = m.ReminderDays
	}
	if !verr.Empty() {
		return nil, nil, verr
	}
	return &m, cols, nil
}

// Delete is idempotent: a missing or foreign id is not an error.
func (s *Service) Delete(ctx context.Context, userID, id string) (err error) {
	defer func() { s.observe("delete", err) }()

	deleted, err := s.repo.Delete(ctx, userID, id)
	if err != nil {
		return err
	}
	if deleted {
		s.cache.invalidate(ctx, userID)
		logctx.FromCtx(ctx, s.log).Infow("subscription deleted", "subscription_id", id)
	}
	return nil
}

// MarkPaid records a manual payment at paidAt (now when nil) and moves the
// next payment one cycle past it.
func (s *Service) MarkPaid(ctx context.Context, userID, id string, paidAt *time.Time) (sub *models.Subscription, err error) {
	defer func() { s.observe("mark_paid", err) }()

	now := s.now()
	at := now
	if paidAt != nil {
		at = paidAt.UTC()
	}
	if at.After(now.Add(maxFuturePaymentAt)) {
		return nil, errs.NewValidationError("paid_at", "must not be in the future")
	}
	sub, err = s.repo.Get(ctx, userID, id)
	if err != nil {
		return nil, err
	}
	if sub.LastPaymentDate != nil && !at.After(*sub.LastPaymentDate) {
		return nil, errs.NewValidationError("paid_at", "must be after the last recorded payment")
	}

	sub.LastPaymentDate = &at
	sub.NextPaymentDate = sub.BillingCycle.Advance(at, 1)
	if sub.Status == types.SubscriptionStatusExpired {
		sub.Status = types.SubscriptionStatusActive
	}
	if err := s.repo.RecordPayment(ctx, sub, []*models.BillingTransaction{newPayment(sub, at, types.BillingTransactionKindManual)}); err != nil {
		return nil, err
	}
	s.cache.invalidate(ctx, userID)
	return sub, nil
}

// RollForward advances an overdue subscription to its first due date after
// now. Auto-renewing ones record one automatic payment per elapsed period;
// others expire. It reports whether the row changed.
func (s *Service) RollForward(ctx context.Context, sub *models.Subscription, now time.Time) (bool, error) {
	if sub.Status != types.SubscriptionStatusActive || sub.NextPaymentDate.After(now) {
		return false, nil
	}
	var payments []*models.BillingTransaction
	if sub.AutoRenew && sub.BillingCycle.Valid() {
		// Periods are counted from the original due date so a month-end
		// anchor survives short months.
		anchor := sub.NextPaymentDate
		for n := 1; !sub.NextPaymentDate.After(now); n++ {
			due := sub.NextPaymentDate
			payments = append(payments, newPayment(sub, due, types.BillingTransactionKindAuto))
			sub.LastPaymentDate = &due
			sub.NextPaymentDate = sub.BillingCycle.Advance(anchor, n)
		}
	} else {
		sub.Status = types.SubscriptionStatusExpired
	}
	if err := s.repo.RecordPayment(ctx, sub, payments); err != nil {
		return false, err
	}
	s.cache.invalidate(ctx, sub.UserID)
	logctx.FromCtx(ctx, s.log).Infow("subscription rolled forward",
		"subscription_id", sub.ID, "user_id", sub.UserID, "payments", len(payments), "status", sub.Status)
	return true, nil
}

// MarkReminded stamps that the reminder for the current due date went out.
func (s *Service) MarkReminded(ctx context.Context, sub *models.Subscription, at time.Time) error {
	at = at.UTC()
	if _, err := s.repo.Update(ctx, sub.UserID, sub.ID, map[string]any{"last_reminded_at": at}); err != nil {
		return err
	}
	sub.LastRemindedAt = &at
	s.cache.invalidate(ctx, sub.UserID)
	return nil
}

// Payments lists recorded payments newest first, for one subscription when
// subscriptionID is set.
func (s *Service) Payments(ctx context.Context, userID, subscriptionID string) ([]*models.BillingTransaction, error) {
	if subscriptionID != "" {
		if _, err := s.repo.Get(ctx, userID, subscriptionID); err != nil {
			return nil, err
		}
	}
	return s.repo.Payments(ctx, userID, subscriptionID, maxPaymentsListed)
}

func (s *Service) observe(op string, err error) {
	metrics.SubscriptionMutations.WithLabelValues(op, metrics.Result(err)).Inc()
}

func emptyToNil(p *string) *string {
	if p == nil {
		return nil
	}
	v := strings.TrimSpace(*p)
	if v == "" {
		return nil
	}
	return &v
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}
