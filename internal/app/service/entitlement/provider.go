package entitlement

import (
	"context"

	"github.com/fatflowers/subtrack/internal/app/session"
	"github.com/fatflowers/subtrack/pkg/types"
)

// Offering is a purchasable package as shown to the user.
type Offering struct {
	ID        string             `json:"id"`
	Provider  string             `json:"provider"`
	ProductID string             `json:"product_id,omitempty"`
	Title     string             `json:"title"`
	Plan      types.Plan         `json:"plan"`
	Cycle     types.BillingCycle `json:"cycle,omitempty"`
	Renewable bool               `json:"renewable"`
	Price     int64              `json:"price"`
	Currency  string             `json:"currency"`
}

type PurchaseRequest struct {
	// PackageID is an Offering.ID.
	PackageID string `json:"package_id" binding:"required"`
	// TransactionID and ReceiptData come from the store SDK after checkout.
	TransactionID string `json:"transaction_id"`
	ReceiptData   string `json:"receipt_data"`
}

type RestoreRequest struct {
	ReceiptData string `json:"receipt_data"`
}

// PurchaseResult carries the refreshed snapshot. Providers that finish the
// payment off-site return a CheckoutURL and an unchanged snapshot.
type PurchaseResult struct {
	Snapshot    *Snapshot `json:"snapshot"`
	CheckoutURL string    `json:"checkout_url,omitempty"`
}

// Provider adapts one billing integration.
type Provider interface {
	Name() string
	// CheckConfig returns a ConfigurationError when a credential is missing.
	CheckConfig() error
	// Configure binds the provider to the identity before the first fetch.
	Configure(ctx context.Context, id session.Identity) error
	Offerings(ctx context.Context) ([]Offering, error)
	Fetch(ctx context.Context, id session.Identity) (*Snapshot, error)
	Purchase(ctx context.Context, id session.Identity, req *PurchaseRequest) (*PurchaseResult, error)
	Restore(ctx context.Context, id session.Identity, req *RestoreRequest) (*Snapshot, error)
}
