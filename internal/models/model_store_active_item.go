package models

import "time"

// StoreActiveItem is one period of the user's current contiguous chain of
// store entitlements, rebuilt after every store transaction write.
type StoreActiveItem struct {
	ID                       string     `gorm:"column:id;type:uuid;primaryKey"`
	StoreTransactionID       string     `gorm:"column:store_transaction_id;type:uuid;not null;index"`
	PaymentItemID            string     `gorm:"column:payment_item_id;type:varchar(64);not null"`
	UserID                   string     `gorm:"column:user_id;type:varchar(64);not null"`
	RemainingDurationSeconds int64      `gorm:"column:remaining_duration_seconds;type:bigint;not null"`
	ActivatedAt              time.Time  `gorm:"column:activated_at;not null"`
	ExpireAt                 time.Time  `gorm:"column:expire_at;not null"`
	NextAutoRenewAt          *time.Time `gorm:"column:next_auto_renew_at"`
	CreatedAt                time.Time
	UpdatedAt                time.Time
}

func (StoreActiveItem) TableName() string {
	return "store_active_items"
}
