package subscription

import (
	"cmp"
	"context"
	"slices"
	"sync"
	"time"

	"github.com/fatflowers/subtrack/internal/models"
	"github.com/fatflowers/subtrack/pkg/types"
)

// memRepository is an in-memory Repository for service tests.
type memRepository struct {
	mu       sync.Mutex
	rows     map[string]*models.Subscription
	payments []*models.BillingTransaction
	calls    int
	failNext error
}

func newMemRepository() *memRepository {
	return &memRepository{rows: map[string]*models.Subscription{}}
}

func (r *memRepository) hit() error {
	r.calls++
	err := r.failNext
	r.failNext = nil
	return err
}

func (r *memRepository) List(_ context.Context, userID string) ([]*models.Subscription, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.hit(); err != nil {
		return nil, err
	}
	out := []*models.Subscription{}
	for _, s := range r.rows {
		if s.UserID == userID {
			cp := *s
			out = append(out, &cp)
		}
	}
	slices.SortFunc(out, func(a, b *models.Subscription) int {
		if c := a.NextPaymentDate.Compare(b.NextPaymentDate); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})
	return out, nil
}

func (r *memRepository) Get(_ context.Context, userID, id string) (*models.Subscription, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.hit(); err != nil {
		return nil, err
	}
	s, ok := r.rows[id]
	if !ok || s.UserID != userID {
		return nil, notFound(id)
	}
	cp := *s
	return &cp, nil
}

func (r *memRepository) Insert(_ context.Context, sub *models.Subscription) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.hit(); err != nil {
		return err
	}
	cp := *sub
	r.rows[sub.ID] = &cp
	return nil
}

func (r *memRepository) Update(_ context.Context, userID, id string, columns map[string]any) (*models.Subscription, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.hit(); err != nil {
		return nil, err
	}
	s, ok := r.rows[id]
	if !ok || s.UserID != userID {
		return nil, notFound(id)
	}
	applyColumns(s, columns)
	cp := *s
	return &cp, nil
}

func (r *memRepository) Delete(_ context.Context, userID, id string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.hit(); err != nil {
		return false, err
	}
	s, ok := r.rows[id]
	if !ok || s.UserID != userID {
		return false, nil
	}
	delete(r.rows, id)
	return true, nil
}

func (r *memRepository) RecordPayment(_ context.Context, sub *models.Subscription, payments []*models.BillingTransaction) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.hit(); err != nil {
		return err
	}
	s, ok := r.rows[sub.ID]
	if !ok || s.UserID != sub.UserID {
		return notFound(sub.ID)
	}
	s.LastPaymentDate, s.NextPaymentDate, s.Status = sub.LastPaymentDate, sub.NextPaymentDate, sub.Status
	r.payments = append(r.payments, payments...)
	return nil
}

func (r *memRepository) Payments(_ context.Context, userID, subscriptionID string, limit int) ([]*models.BillingTransaction, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := []*models.BillingTransaction{}
	for i := len(r.payments) - 1; i >= 0 && len(out) < limit; i-- {
		p := r.payments[i]
		if p.UserID == userID && (subscriptionID == "" || p.SubscriptionID == subscriptionID) {
			out = append(out, p)
		}
	}
	return out, nil
}

func applyColumns(s *models.Subscription, columns map[string]any) {
	for col, v := range columns {
		switch col {
		case "name":
			s.Name = v.(string)
		case "description":
			s.Description = v.(*string)
		case "website":
			s.Website = v.(*string)
		case "category_id":
			s.CategoryID = v.(*string)
		case "amount":
			s.Amount = v.(int64)
		case "currency":
			s.Currency = v.(string)
		case "billing_cycle":
			s.BillingCycle = v.(types.BillingCycle)
		case "next_payment_date":
			s.NextPaymentDate = v.(time.Time)
		case "last_payment_date":
			s.LastPaymentDate = v.(*time.Time)
		case "status":
			s.Status = v.(types.SubscriptionStatus)
		case "auto_renew":
			s.AutoRenew = v.(bool)
		case "reminder_days":
			s.ReminderDays = v.(int)
		case "last_reminded_at":
			at := v.(time.Time)
			s.LastRemindedAt = &at
		default:
			panic("unexpected column " + col)
		}
	}
}
