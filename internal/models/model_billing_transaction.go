package models

import (
	"time"

	"github.com/fatflowers/subtrack/pkg/types"
)

// BillingTransaction is one recorded payment of a tracked subscription.
type BillingTransaction struct {
	ID             string                       `gorm:"column:id;type:uuid;primary_key" json:"id"`
	UserID         string                       `gorm:"column:user_id;type:uuid;not null;index:idx_billing_tx_user_paid,priority:1" json:"user_id"`
	SubscriptionID string                       `gorm:"column:subscription_id;type:uuid;not null;index" json:"subscription_id"`
	Amount         int64                        `gorm:"column:amount;type:bigint;not null" json:"amount"`
	Currency       string                       `gorm:"column:currency;type:varchar(3);not null" json:"currency"`
	PaidAt         time.Time                    `gorm:"column:paid_at;not null;index:idx_billing_tx_user_paid,priority:2" json:"paid_at"`
	Kind           types.BillingTransactionKind `gorm:"column:kind;type:varchar(16);not null" json:"kind"`
	CreatedAt      time.Time                    `json:"created_at"`
}

func (BillingTransaction) TableName() string {
	return "billing_transactions"
}
