package subscription

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/fatflowers/subtrack/internal/models"
	"github.com/fatflowers/subtrack/internal/platform/db"
	"github.com/fatflowers/subtrack/pkg/errs"
	"github.com/fatflowers/subtrack/pkg/tool"
	"github.com/fatflowers/subtrack/pkg/types"
)

// Repository is the persistence side of the service. Every method is scoped
// by user id; rows of other users behave as if they did not exist.
type Repository interface {
	List(ctx context.Context, userID string) ([]*models.Subscription, error)
	Get(ctx context.Context, userID, id string) (*models.Subscription, error)
	Insert(ctx context.Context, sub *models.Subscription) error
	// Update writes only the given columns and returns the row afterwards.
	Update(ctx context.Context, userID, id string, columns map[string]any) (*models.Subscription, error)
	// Delete reports whether a row was removed.
	Delete(ctx context.Context, userID, id string) (bool, error)
	// RecordPayment stores payment and applies the new payment dates in one
	// transaction.
	RecordPayment(ctx context.Context, sub *models.Subscription, payments []*models.BillingTransaction) error
	Payments(ctx context.Context, userID string, subscriptionID string, limit int) ([]*models.BillingTransaction, error)
}

type gormRepository struct {
	db *gorm.DB
}

func NewRepository(gdb *gorm.DB) Repository {
	return &gormRepository{db: gdb}
}

func notFound(id string) error {
	return &errs.NotFoundError{Resource: "subscription", ID: id}
}

func (r *gormRepository) List(ctx context.Context, userID string) ([]*models.Subscription, error) {
	rows := []*models.Subscription{}
	err := r.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("next_payment_date ASC, id ASC").
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list subscriptions: %w", err)
	}
	return rows, nil
}

func (r *gormRepository) Get(ctx context.Context, userID, id string) (*models.Subscription, error) {
	if !tool.IsUUID(id) {
		return nil, notFound(id)
	}
	var sub models.Subscription
	err := r.db.WithContext(ctx).Where("id = ? AND user_id = ?", id, userID).First(&sub).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, notFound(id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get subscription: %w", err)
	}
	return &sub, nil
}

func (r *gormRepository) Insert(ctx context.Context, sub *models.Subscription) error {
	if err := r.db.WithContext(ctx).Create(sub).Error; err != nil {
		return mapWriteError(err)
	}
	return nil
}

func (r *gormRepository) Update(ctx context.Context, userID, id string, columns map[string]any) (*models.Subscription, error) {
	if !tool.IsUUID(id) {
		return nil, notFound(id)
	}
	var sub models.Subscription
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&models.Subscription{}).Where("id = ? AND user_id = ?", id, userID).Updates(columns)
		if res.Error != nil {
			return mapWriteError(res.Error)
		}
		if res.RowsAffected == 0 {
			return notFound(id)
		}
		return tx.Where("id = ?", id).First(&sub).Error
	})
	if err != nil {
		return nil, err
	}
	return &sub, nil
}

func (r *gormRepository) Delete(ctx context.Context, userID, id string) (bool, error) {
	if !tool.IsUUID(id) {
		return false, nil
	}
	res := r.db.WithContext(ctx).Where("id = ? AND user_id = ?", id, userID).Delete(&models.Subscription{})
	if res.Error != nil {
		return false, fmt.Errorf("failed to delete subscription: %w", res.Error)
	}
	return res.RowsAffected > 0, nil
}

func (r *gormRepository) RecordPayment(ctx context.Context, sub *models.Subscription, payments []*models.BillingTransaction) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if len(payments) > 0 {
			if err := tx.Create(payments).Error; err != nil {
				return fmt.Errorf("failed to record payment: %w", err)
			}
		}
		res := tx.Model(&models.Subscription{}).
			Where("id = ? AND user_id = ?", sub.ID, sub.UserID).
			Updates(map[string]any{
				"last_payment_date": sub.LastPaymentDate,
				"next_payment_date": sub.NextPaymentDate,
				"status":            sub.Status,
				"updated_at":        time.Now(),
			})
		if res.Error != nil {
			return fmt.Errorf("failed to advance subscription: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			return notFound(sub.ID)
		}
		return nil
	})
}

func (r *gormRepository) Payments(ctx context.Context, userID string, subscriptionID string, limit int) ([]*models.BillingTransaction, error) {
	q := r.db.WithContext(ctx).Where("user_id = ?", userID)
	if subscriptionID != "" {
		q = q.Where("subscription_id = ?", subscriptionID)
	}
	rows := []*models.BillingTransaction{}
	if err := q.Order("paid_at DESC, id DESC").Limit(limit).Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to list payments: %w", err)
	}
	return rows, nil
}

// mapWriteError turns constraint violations into validation errors.
func mapWriteError(err error) error {
	switch {
	case db.IsForeignKeyViolation(err):
		return errs.NewValidationError("category_id", "unknown category")
	case db.IsInvalidText(err):
		return errs.NewValidationError("category_id", "must be a UUID")
	}
	return fmt.Errorf("failed to write subscription: %w", err)
}

func newPayment(sub *models.Subscription, paidAt time.Time, kind types.BillingTransactionKind) *models.BillingTransaction {
	return &models.BillingTransaction{
		ID:             tool.GenerateUUIDV7(),
		UserID:         sub.UserID,
		SubscriptionID: sub.ID,
		Amount:         sub.Amount,
		Currency:       sub.Currency,
		PaidAt:         paidAt,
		Kind:           kind,
	}
}
