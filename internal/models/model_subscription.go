package models

import (
	"time"

	"github.com/fatflowers/subtrack/pkg/types"
)

// Subscription is a recurring expense the user tracks. Amount is in minor
// units of Currency.
type Subscription struct {
	ID              string                   `gorm:"column:id;type:uuid;primary_key" json:"id"`
	UserID          string                   `gorm:"column:user_id;type:uuid;not null;index:idx_subscriptions_user_next,priority:1" json:"user_id"`
	CategoryID      *string                  `gorm:"column:category_id;type:uuid;default:null" json:"category_id"`
	Name            string                   `gorm:"column:name;type:varchar(255);not null" json:"name"`
	Description     *string                  `gorm:"column:description;type:text" json:"description"`
	Website         *string                  `gorm:"column:website;type:varchar(512)" json:"website"`
	Amount          int64                    `gorm:"column:amount;type:bigint;not null" json:"amount"`
	Currency        string                   `gorm:"column:currency;type:varchar(3);not null" json:"currency"`
	BillingCycle    types.BillingCycle       `gorm:"column:billing_cycle;type:varchar(32);not null" json:"billing_cycle"`
	NextPaymentDate time.Time                `gorm:"column:next_payment_date;not null;index:idx_subscriptions_user_next,priority:2" json:"next_payment_date"`
	LastPaymentDate *time.Time               `gorm:"column:last_payment_date;default:null" json:"last_payment_date"`
	Status          types.SubscriptionStatus `gorm:"column:status;type:varchar(32);not null" json:"status"`
	AutoRenew       bool                     `gorm:"column:auto_renew;not null" json:"auto_renew"`
	ReminderDays    int                      `gorm:"column:reminder_days;not null" json:"reminder_days"`
	// LastRemindedAt is stamped by the reminder job once per due date.
	LastRemindedAt *time.Time `gorm:"column:last_reminded_at;default:null" json:"last_reminded_at"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

func (Subscription) TableName() string {
	return "subscriptions"
}

// ReminderAt is the moment the reminder window for the next payment opens.
func (s *Subscription) ReminderAt() time.Time {
	return s.NextPaymentDate.AddDate(0, 0, -s.ReminderDays)
}

// Reminded reports whether a reminder was already sent for the current due date.
func (s *Subscription) Reminded() bool {
	return s.LastRemindedAt != nil && !s.LastRemindedAt.Before(s.ReminderAt())
}
