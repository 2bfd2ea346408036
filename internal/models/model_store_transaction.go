package models

import (
	"time"

	"gorm.io/datatypes"

	"github.com/fatflowers/subtrack/pkg/types"
)

type StoreTransactionExtra struct {
	// OperatorID is set for gifts granted from the admin surface.
	OperatorID string `json:"operator_id,omitempty"`
	// PaymentItemSnapshot freezes the package definition at purchase time.
	PaymentItemSnapshot *types.PaymentItem `json:"payment_item_snapshot"`
	IsFirstPurchase     bool               `json:"is_first_purchase"`
}

// StoreTransaction is one verified purchase from the store-style provider.
// (provider_id, transaction_id) is unique; renewals share ParentTransactionID.
type StoreTransaction struct {
	ID                  string                `gorm:"column:id;primary_key;type:uuid" json:"id"`
	UserID              string                `gorm:"column:user_id;type:varchar(64);not null;index" json:"user_id"`
	ProviderID          types.PaymentProvider `gorm:"column:provider_id;type:varchar(64);not null" json:"provider_id"`
	PaymentItemID       string                `gorm:"column:payment_item_id;type:varchar(64);not null" json:"payment_item_id"`
	TransactionID       string                `gorm:"column:transaction_id;type:varchar(64);not null" json:"transaction_id"`
	Currency            string                `gorm:"column:currency;type:varchar(8);not null" json:"currency"`
	Price               int64                 `gorm:"column:price;type:bigint;not null" json:"price"`
	ParentTransactionID *string               `gorm:"column:parent_transaction_id;type:varchar(64)" json:"parent_transaction_id"`
	PurchaseAt          time.Time             `gorm:"column:purchase_at" json:"purchase_at"`
	RefundAt            *time.Time            `gorm:"column:refund_at;default:null" json:"refund_at"`
	// AutoRenewExpireAt is computed by the store for auto-renewable items.
	AutoRenewExpireAt *time.Time `gorm:"column:expire_at;default:null" json:"expire_at"`
	// NextAutoRenewAt is nil once the user turned auto-renew off.
	NextAutoRenewAt  *time.Time `gorm:"column:next_auto_renew_at;default:null" json:"next_auto_renew_at"`
	RevocationDate   *time.Time `gorm:"column:revocation_date;default:null" json:"revocation_date"`
	RevocationReason *string    `gorm:"column:revocation_reason;type:varchar(64);default:null" json:"revocation_reason"`
	// BeforeUpgradedTransactionID names the transaction this one replaced
	// through an upgrade; the replaced one stops counting from PurchaseAt.
	BeforeUpgradedTransactionID *string `gorm:"column:before_upgraded_transaction_id;type:varchar(64);default:null" json:"before_upgraded_transaction_id"`

	Extra     datatypes.JSONType[*StoreTransactionExtra] `gorm:"column:extra;type:jsonb;default:'{}'" json:"extra"`
	CreatedAt time.Time                                  `json:"created_at"`
	UpdatedAt time.Time                                  `json:"updated_at"`
}

func (StoreTransaction) TableName() string {
	return "store_transactions"
}

func (t *StoreTransaction) IsAutoRenewable() bool {
	return t != nil && t.NextAutoRenewAt != nil
}

func (t *StoreTransaction) GetPaymentItemSnapshot() *types.PaymentItem {
	if t == nil || t.Extra.Data() == nil {
		return nil
	}
	return t.Extra.Data().PaymentItemSnapshot
}
