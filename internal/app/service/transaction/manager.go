package transaction

import (
	"context"
	"errors"
	"time"

	"github.com/awa/go-iap/appstore"

	"github.com/fatflowers/subtrack/internal/app/service/ledger"
	"github.com/fatflowers/subtrack/internal/models"
	"github.com/fatflowers/subtrack/pkg/types"
)

// ErrVerifyTransactionDuplicate means another transaction already covers the
// same renewal period.
var ErrVerifyTransactionDuplicate = errors.New("duplicate transaction")

// ErrForeignTransaction means the transaction was bought for another user.
var ErrForeignTransaction = errors.New("transaction belongs to another user")

type TransactionVerifyRequest struct {
	ProviderID    string `json:"provider_id"`
	TransactionID string `json:"transaction_id"`
	// ServerVerificationData is the base64 receipt, needed to detect upgrades
	// of auto-renewable products.
	ServerVerificationData string `json:"server_verification_data,omitempty"`
	// ExpectedUserID rejects transactions whose account token names someone else.
	ExpectedUserID string `json:"-"`
	// ExpectedProductID rejects transactions for a different product.
	ExpectedProductID string `json:"-"`
}

type VerificationDataRequest struct {
	ProviderID  string `json:"provider_id"`
	ReceiptData string `json:"receipt_data"`
}

type VerifiedData struct {
	AppleReceipt *appstore.IAPResponse
}

// TransactionIDs lists every distinct transaction in the receipt, oldest first
// as the receipt orders them.
func (d *VerifiedData) TransactionIDs() []string {
	if d == nil || d.AppleReceipt == nil {
		return nil
	}
	infos := d.AppleReceipt.LatestReceiptInfo
	if len(infos) == 0 {
		infos = d.AppleReceipt.Receipt.InApp
	}
	seen := map[string]bool{}
	var out []string
	for _, info := range infos {
		id := string(info.TransactionID)
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	return out
}

type VerifyTransactionResult struct {
	IsUpgrade       bool                     `json:"is_upgrade,omitempty"`
	UserTransaction *models.StoreTransaction `json:"user_transaction,omitempty"`
	ActiveItems     []*ledger.ActiveItem     `json:"active_items"`
}

type SendFreeGiftRequest struct {
	UserID        string `json:"user_id" binding:"required"`
	PaymentItemID string `json:"payment_item_id" binding:"required"`
	OperatorID    string `json:"operator_id"`
}

// TransactionManager verifies store transactions and writes them to the ledger.
type TransactionManager interface {
	VerifyTransaction(ctx context.Context, req *TransactionVerifyRequest) (*VerifyTransactionResult, error)
	ParseVerificationData(ctx context.Context, req *VerificationDataRequest) (*VerifiedData, error)
	SendFreeGift(ctx context.Context, req *SendFreeGiftRequest) ([]*ledger.ActiveItem, error)
	ScanTransactions(ctx context.Context, req *types.ScanRequest) (*ledger.ScanResponse, error)
	// ConfigError is non-nil when the provider cannot be used at all.
	ConfigError(providerID string) error
}

// Recorder is the part of the ledger the verifiers write through.
type Recorder interface {
	Record(ctx context.Context, tx *models.StoreTransaction) ([]*ledger.ActiveItem, error)
	ExistsSamePurchase(ctx context.Context, providerID types.PaymentProvider, transactionID, parentTransactionID string, purchaseAt time.Time) (bool, error)
	GetByProviderTransactionID(ctx context.Context, providerID types.PaymentProvider, transactionID string) (*models.StoreTransaction, error)
}

// EventSaver persists raw provider callbacks and verification attempts.
type EventSaver interface {
	Save(ctx context.Context, event *models.WebhookEvent)
}
