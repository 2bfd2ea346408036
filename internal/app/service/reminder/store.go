package reminder

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/fatflowers/subtrack/internal/models"
	"github.com/fatflowers/subtrack/pkg/types"
)

// Candidate is a subscription inside its reminder window together with
// who to tell and how.
type Candidate struct {
	models.Subscription `gorm:"embedded"`
	Email               string `gorm:"column:user_email"`
	EmailReminders      bool   `gorm:"column:email_reminders"`
	PushReminders       bool   `gorm:"column:push_reminders"`
}

// Store is the read side of the job. Every query pages by id after afterID.
type Store interface {
	Due(ctx context.Context, now time.Time, afterID string, limit int) ([]*models.Subscription, error)
	ReminderCandidates(ctx context.Context, now time.Time, afterID string, limit int) ([]*Candidate, error)
	Users(ctx context.Context, afterID string, limit int) ([]*models.User, error)
	ActiveSubscriptions(ctx context.Context, userIDs []string) ([]*models.Subscription, error)
	SaveSnapshots(ctx context.Context, rows []*models.UserPlanDailySnapshot) error
}

type gormStore struct {
	db *gorm.DB
}

func NewStore(db *gorm.DB) Store { return &gormStore{db: db} }

func (s *gormStore) Due(ctx context.Context, now time.Time, afterID string, limit int) ([]*models.Subscription, error) {
	var out []*models.Subscription
	err := s.db.WithContext(ctx).
		Where("status = ? AND next_payment_date <= ? AND id > ?", types.SubscriptionStatusActive, now, orMin(afterID)).
		Order("id").
		Limit(limit).
		Find(&out).Error
	if err != nil {
		return nil, fmt.Errorf("failed to load due subscriptions: %w", err)
	}
	return out, nil
}

// ReminderCandidates returns active subscriptions whose window opened at or
// before now, not yet reminded for the current due date, of users with a
// reminder channel on. Users without saved preferences get email only.
func (s *gormStore) ReminderCandidates(ctx context.Context, now time.Time, afterID string, limit int) ([]*Candidate, error) {
	var out []*Candidate
	err := s.db.WithContext(ctx).
		Table("subscriptions").
		Select(`subscriptions.*, users.email AS user_email,
			COALESCE(np.email_reminders, TRUE) AS email_reminders,
			COALESCE(np.push_reminders, FALSE) AS push_reminders`).
		Joins("JOIN users ON users.id = subscriptions.user_id").
		Joins("LEFT JOIN notification_preferences np ON np.user_id = subscriptions.user_id").
		Where("subscriptions.status = ? AND subscriptions.next_payment_date > ?", types.SubscriptionStatusActive, now).
		Where("subscriptions.next_payment_date - make_interval(days => subscriptions.reminder_days) <= ?", now).
		Where("(subscriptions.last_reminded_at IS NULL OR subscriptions.last_reminded_at < subscriptions.next_payment_date - make_interval(days => subscriptions.reminder_days))").
		Where("(COALESCE(np.email_reminders, TRUE) OR COALESCE(np.push_reminders, FALSE))").
		Where("subscriptions.id > ?", orMin(afterID)).
		Order("subscriptions.id").
		Limit(limit).
		Scan(&out).Error
	if err != nil {
		return nil, fmt.Errorf("failed to load reminder candidates: %w", err)
	}
	return out, nil
}

func (s *gormStore) Users(ctx context.Context, afterID string, limit int) ([]*models.User, error) {
	var out []*models.User
	err := s.db.WithContext(ctx).Where("id > ?", orMin(afterID)).Order("id").Limit(limit).Find(&out).Error
	if err != nil {
		return nil, fmt.Errorf("failed to load users: %w", err)
	}
	return out, nil
}

func (s *gormStore) ActiveSubscriptions(ctx context.Context, userIDs []string) ([]*models.Subscription, error) {
	var out []*models.Subscription
	if len(userIDs) == 0 {
		return out, nil
	}
	err := s.db.WithContext(ctx).
		Where("user_id IN ? AND status = ?", userIDs, types.SubscriptionStatusActive).
		Find(&out).Error
	if err != nil {
		return nil, fmt.Errorf("failed to load active subscriptions: %w", err)
	}
	return out, nil
}

// SaveSnapshots skips users already snapshotted that day.
func (s *gormStore) SaveSnapshots(ctx context.Context, rows []*models.UserPlanDailySnapshot) error {
	if len(rows) == 0 {
		return nil
	}
	err := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "user_id"}, {Name: "snapshot_date"}}, DoNothing: true}).
		Create(&rows).Error
	if err != nil {
		return fmt.Errorf("failed to save plan snapshots: %w", err)
	}
	return nil
}

// orMin lets "id > ?" start from the beginning; uuid columns reject "".
func orMin(id string) string {
	if id == "" {
		return "00000000-0000-0000-0000-000000000000"
	}
	return id
}
