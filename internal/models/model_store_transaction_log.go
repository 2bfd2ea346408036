package models

import (
	"time"

	"gorm.io/datatypes"

	"github.com/fatflowers/subtrack/pkg/types"
)

// StoreTransactionLog keeps before/after copies of every store transaction write.
type StoreTransactionLog struct {
	ID            string                                `gorm:"column:id;primary_key;type:uuid"`
	UserID        string                                `gorm:"column:user_id;type:varchar(64);not null;index"`
	PaymentItemID string                                `gorm:"column:payment_item_id;type:varchar(64);not null"`
	ProviderID    types.PaymentProvider                 `gorm:"column:provider_id;type:varchar(64);not null"`
	TransactionID string                                `gorm:"column:transaction_id;type:varchar(64);not null"`
	Reason        types.SubscriptionChangeReason        `gorm:"column:reason;type:varchar(64);not null"`
	Before        datatypes.JSONType[*StoreTransaction] `gorm:"column:before;type:jsonb;default:'null'"`
	After         datatypes.JSONType[*StoreTransaction] `gorm:"column:after;type:jsonb;default:'null'"`
	Extra         datatypes.JSONMap                     `gorm:"column:extra;type:jsonb;default:'{}'"`
	CreatedAt     time.Time                             `json:"created_at"`
}

func (StoreTransactionLog) TableName() string {
	return "store_transaction_logs"
}
