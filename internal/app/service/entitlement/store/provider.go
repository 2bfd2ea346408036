// Package store adapts App Store purchases recorded in the ledger to
// entitlement snapshots.
package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/fatflowers/subtrack/internal/app/service/entitlement"
	"github.com/fatflowers/subtrack/internal/app/service/ledger"
	"github.com/fatflowers/subtrack/internal/app/service/transaction"
	"github.com/fatflowers/subtrack/internal/app/session"
	"github.com/fatflowers/subtrack/pkg/config"
	"github.com/fatflowers/subtrack/pkg/errs"
	"github.com/fatflowers/subtrack/pkg/logctx"
	"github.com/fatflowers/subtrack/pkg/types"
)

const Name = "store"

// ActiveItemSource is the read side of the ledger.
type ActiveItemSource interface {
	ActiveItems(ctx context.Context, userID string, at time.Time) ([]*ledger.ActiveItem, error)
}

type Provider struct {
	cfg   *config.Config
	tx    transaction.TransactionManager
	items ActiveItemSource
	log   *zap.SugaredLogger
	now   func() time.Time
}

func New(cfg *config.Config, tx transaction.TransactionManager, items ActiveItemSource, log *zap.SugaredLogger) *Provider {
	return &Provider{cfg: cfg, tx: tx, items: items, log: log, now: time.Now}
}

var Module = fx.Options(
	fx.Provide(func(s *ledger.Service) ActiveItemSource { return s }),
	fx.Provide(fx.Annotate(New,
		fx.As(new(entitlement.Provider)),
		fx.ResultTags(`group:"entitlement_providers"`),
	)),
)

func (p *Provider) Name() string { return Name }

func (p *Provider) CheckConfig() error {
	return p.tx.ConfigError(string(types.PaymentProviderApple))
}

func (p *Provider) Configure(ctx context.Context, id session.Identity) error {
	if id.UserID == "" {
		return errors.New("store purchases need a user id")
	}
	return nil
}

func (p *Provider) Offerings(ctx context.Context) ([]entitlement.Offering, error) {
	var out []entitlement.Offering
	for _, item := range p.cfg.PaymentItems {
		if item.ProviderID != types.PaymentProviderApple {
			continue
		}
		out = append(out, entitlement.Offering{
			ID:        item.ID,
			Provider:  Name,
			ProductID: item.ProviderItemID,
			Title:     item.Title,
			Plan:      item.Entitlement,
			Renewable: item.Renewable(),
			Price:     item.Price,
			Currency:  item.Currency,
		})
	}
	return out, nil
}

// Fetch reports the entitlements of ledger items active now. The expiry is
// the end of the current contiguous chain.
func (p *Provider) Fetch(ctx context.Context, id session.Identity) (*entitlement.Snapshot, error) {
	now := p.now()
	items, err := p.items.ActiveItems(ctx, id.UserID, now)
	if err != nil {
		return nil, fmt.Errorf("failed to load active items: %w", err)
	}
	var entitlements []string
	var expiresAt *time.Time
	for _, item := range items {
		if !item.ActiveAt(now) || item.Entitlement == "" {
			continue
		}
		entitlements = append(entitlements, string(item.Entitlement))
	}
	if len(entitlements) > 0 {
		end := items[len(items)-1].ExpireAt
		expiresAt = &end
	}
	return entitlement.NewSnapshot(Name, entitlements, expiresAt, now), nil
}

func (p *Provider) Purchase(ctx context.Context, id session.Identity, req *entitlement.PurchaseRequest) (*entitlement.PurchaseResult, error) {
	item := p.cfg.GetPaymentItemByID(req.PackageID)
	if item == nil || item.ProviderID != types.PaymentProviderApple {
		return nil, errs.NewValidationError("package_id", "unknown store package")
	}
	if req.TransactionID == "" {
		return nil, errs.NewValidationError("transaction_id", "required")
	}
	_, err := p.tx.VerifyTransaction(ctx, &transaction.TransactionVerifyRequest{
		ProviderID:             string(types.PaymentProviderApple),
		TransactionID:          req.TransactionID,
		ServerVerificationData: req.ReceiptData,
		ExpectedUserID:         id.UserID,
		ExpectedProductID:      item.ProviderItemID,
	})
	if err != nil && !errors.Is(err, transaction.ErrVerifyTransactionDuplicate) {
		return nil, err
	}
	snap, err := p.Fetch(ctx, id)
	if err != nil {
		return nil, err
	}
	return &entitlement.PurchaseResult{Snapshot: snap}, nil
}

// Restore replays every transaction in the receipt. Transactions that
// belong to someone else, are already recorded or are for unknown products
// are skipped; the first other error aborts.
func (p *Provider) Restore(ctx context.Context, id session.Identity, req *entitlement.RestoreRequest) (*entitlement.Snapshot, error) {
	if req == nil || req.ReceiptData == "" {
		return nil, errs.NewValidationError("receipt_data", "required")
	}
	verified, err := p.tx.ParseVerificationData(ctx, &transaction.VerificationDataRequest{
		ProviderID:  string(types.PaymentProviderApple),
		ReceiptData: req.ReceiptData,
	})
	if err != nil {
		return nil, err
	}

	log := logctx.FromCtx(ctx, p.log)
	for _, txID := range verified.TransactionIDs() {
		_, err := p.tx.VerifyTransaction(ctx, &transaction.TransactionVerifyRequest{
			ProviderID:     string(types.PaymentProviderApple),
			TransactionID:  txID,
			ExpectedUserID: id.UserID,
		})
		switch {
		case err == nil:
		case errors.Is(err, transaction.ErrForeignTransaction),
			errors.Is(err, transaction.ErrVerifyTransactionDuplicate),
			errors.Is(err, config.ErrUnknownPaymentItem):
			log.Infow("restore skipped transaction", "transaction_id", txID, "reason", err)
		default:
			return nil, fmt.Errorf("restore %s: %w", txID, err)
		}
	}
	return p.Fetch(ctx, id)
}
