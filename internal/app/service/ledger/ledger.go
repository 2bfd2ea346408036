// Package ledger stores store-provider transactions and derives the chain of
// periods they grant. It knows nothing about how transactions were verified.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/fatflowers/subtrack/internal/models"
	"github.com/fatflowers/subtrack/pkg/config"
	"github.com/fatflowers/subtrack/pkg/errs"
	"github.com/fatflowers/subtrack/pkg/logctx"
	"github.com/fatflowers/subtrack/pkg/tool"
	"github.com/fatflowers/subtrack/pkg/types"
)

type Service struct {
	cfg *config.Config
	db  *gorm.DB
	log *zap.SugaredLogger
}

func NewService(cfg *config.Config, db *gorm.DB, log *zap.SugaredLogger) *Service {
	return &Service{cfg: cfg, db: db, log: log}
}

var Module = fx.Options(
	fx.Provide(NewService),
)

// changeReason classifies what a transaction write means for the user.
func (s *Service) changeReason(tx *models.StoreTransaction) (types.SubscriptionChangeReason, error) {
	if tx.RefundAt != nil {
		return types.UserSubscriptionChangeReasonRefund, nil
	}
	if tx.BeforeUpgradedTransactionID != nil {
		return types.UserSubscriptionChangeReasonUpgrade, nil
	}
	paymentItem := tx.GetPaymentItemSnapshot()
	if paymentItem == nil {
		paymentItem = s.cfg.GetPaymentItemByID(tx.PaymentItemID)
		if paymentItem == nil {
			return types.UserSubscriptionChangeReasonPurchase, fmt.Errorf("payment item not found: %s", tx.PaymentItemID)
		}
	}
	if tx.ProviderID == types.PaymentProviderInner {
		return types.UserSubscriptionChangeReasonGift, nil
	}
	if paymentItem.Renewable() && !tx.IsAutoRenewable() {
		return types.UserSubscriptionChangeReasonCancelRenew, nil
	}
	return types.UserSubscriptionChangeReasonPurchase, nil
}

// Record upserts tx and rebuilds the user's active chain in one database
// transaction. It returns the chain current at max(now, tx.PurchaseAt).
func (s *Service) Record(ctx context.Context, tx *models.StoreTransaction) ([]*ActiveItem, error) {
	reason, err := s.changeReason(tx)
	if err != nil {
		return nil, fmt.Errorf("failed to get change reason: %w", err)
	}

	var items []*ActiveItem
	err = s.db.WithContext(ctx).Transaction(func(dbtx *gorm.DB) error {
		if err := s.upsertTransaction(ctx, dbtx, tx, reason); err != nil {
			return err
		}
		all, err := s.listTransactions(ctx, dbtx, tx.UserID)
		if err != nil {
			return fmt.Errorf("failed to list user transactions: %w", err)
		}

		processTime := time.Now()
		if tx.PurchaseAt.After(processTime) {
			processTime = tx.PurchaseAt
		}
		items, err = s.computeActiveItems(all, processTime)
		if err != nil {
			return fmt.Errorf("failed to compute active items: %w", err)
		}

		logctx.FromCtx(ctx, s.log).Infow("store transaction recorded",
			"user_id", tx.UserID, "transaction_id", tx.TransactionID, "reason", reason, "active_items", len(items))
		return s.rebuildActiveItems(ctx, dbtx, tx.UserID, items)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to record store transaction: %w", err)
	}
	return items, nil
}

// ActiveItems returns the chain stored for userID that covers at.
func (s *Service) ActiveItems(ctx context.Context, userID string, at time.Time) ([]*ActiveItem, error) {
	all, err := s.listTransactions(ctx, s.db, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list user transactions: %w", err)
	}
	return s.computeActiveItems(all, at)
}

func (s *Service) GetByProviderTransactionID(ctx context.Context, providerID types.PaymentProvider, transactionID string) (*models.StoreTransaction, error) {
	var item models.StoreTransaction
	err := s.db.WithContext(ctx).
		Where("provider_id = ? AND transaction_id = ?", providerID, transactionID).
		First(&item).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, &errs.NotFoundError{Resource: "store transaction", ID: transactionID}
	}
	if err != nil {
		return nil, err
	}
	return &item, nil
}

// ExistsSamePurchase detects a renewal recorded twice under different ids.
func (s *Service) ExistsSamePurchase(ctx context.Context, providerID types.PaymentProvider, transactionID, parentTransactionID string, purchaseAt time.Time) (bool, error) {
	var count int64
	err := s.db.WithContext(ctx).Model(&models.StoreTransaction{}).
		Where("transaction_id <> ? AND provider_id = ? AND parent_transaction_id = ? AND purchase_at = ?",
			transactionID, providerID, parentTransactionID, purchaseAt).
		Count(&count).Error
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

// SendFreeGift grants a configured package through the internal provider.
func (s *Service) SendFreeGift(ctx context.Context, userID, paymentItemID, operatorID string) ([]*ActiveItem, error) {
	if userID == "" || paymentItemID == "" {
		return nil, errs.NewValidationError("user_id", "user_id and payment_item_id are required")
	}
	paymentItem := s.cfg.GetPaymentItemByID(paymentItemID)
	if paymentItem == nil {
		return nil, &errs.NotFoundError{Resource: "payment item", ID: paymentItemID}
	}
	if paymentItem.Renewable() {
		return nil, errs.NewValidationError("payment_item_id", "gifts must be non-renewable packages")
	}

	return s.Record(ctx, &models.StoreTransaction{
		UserID:        userID,
		ProviderID:    types.PaymentProviderInner,
		PaymentItemID: paymentItemID,
		TransactionID: tool.GenerateUUIDV7(),
		Currency:      paymentItem.Currency,
		PurchaseAt:    time.Now(),
		Extra: datatypes.NewJSONType(&models.StoreTransactionExtra{
			PaymentItemSnapshot: paymentItem,
			OperatorID:          operatorID,
		}),
	})
}

func (s *Service) upsertTransaction(ctx context.Context, dbtx *gorm.DB, item *models.StoreTransaction, reason types.SubscriptionChangeReason) error {
	var original models.StoreTransaction
	err := dbtx.WithContext(ctx).
		Where("provider_id = ? AND transaction_id = ?", item.ProviderID, item.TransactionID).
		First(&original).Error
	if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		return fmt.Errorf("failed to load original transaction: %w", err)
	}

	extra := item.Extra.Data()
	if extra == nil {
		extra = &models.StoreTransactionExtra{}
	}
	created := original.ID == ""
	if !created {
		item.ID = original.ID
		item.CreatedAt = original.CreatedAt
		if orig := original.Extra.Data(); orig != nil {
			extra.IsFirstPurchase = orig.IsFirstPurchase
			if orig.PaymentItemSnapshot != nil {
				extra.PaymentItemSnapshot = orig.PaymentItemSnapshot
			}
		}
		// an upgrade link survives later re-verifications that lack the receipt
		if item.BeforeUpgradedTransactionID == nil {
			item.BeforeUpgradedTransactionID = original.BeforeUpgradedTransactionID
		}
	} else {
		if item.ID == "" {
			item.ID = tool.GenerateUUIDV7()
		}
		var count int64
		if err := dbtx.WithContext(ctx).Model(&models.StoreTransaction{}).
			Where("user_id = ?", item.UserID).Count(&count).Error; err != nil {
			return fmt.Errorf("failed to check first purchase: %w", err)
		}
		extra.IsFirstPurchase = count == 0
	}
	item.Extra = datatypes.NewJSONType(extra)

	if err := dbtx.WithContext(ctx).Save(item).Error; err != nil {
		return fmt.Errorf("failed to upsert transaction: %w", err)
	}

	var before *models.StoreTransaction
	if !created {
		before = &original
	}
	after := *item
	// audit rows are best effort and must not hold the transaction open
	go func() {
		entry := &models.StoreTransactionLog{
			ID:            tool.GenerateUUIDV7(),
			UserID:        after.UserID,
			PaymentItemID: after.PaymentItemID,
			ProviderID:    after.ProviderID,
			TransactionID: after.TransactionID,
			Reason:        reason,
			Before:        datatypes.NewJSONType(before),
			After:         datatypes.NewJSONType(&after),
			Extra:         datatypes.JSONMap{"trace_id": logctx.TraceID(ctx)},
		}
		if err := s.db.Create(entry).Error; err != nil {
			logctx.FromCtx(ctx, s.log).Errorf("failed to save store transaction log: %v", err)
		}
	}()

	if created && reason == types.UserSubscriptionChangeReasonRefund {
		logctx.FromCtx(ctx, s.log).Errorf("created refunded transaction not found previously: provider=%s txid=%s user=%s", item.ProviderID, item.TransactionID, item.UserID)
	}
	return nil
}

func (s *Service) rebuildActiveItems(ctx context.Context, dbtx *gorm.DB, userID string, items []*ActiveItem) error {
	if err := dbtx.WithContext(ctx).Where("user_id = ?", userID).Delete(&models.StoreActiveItem{}).Error; err != nil {
		return fmt.Errorf("failed to delete active items: %w", err)
	}
	rows := make([]*models.StoreActiveItem, 0, len(items))
	for _, item := range items {
		if row := item.ToModel(); row != nil {
			rows = append(rows, row)
		}
	}
	if len(rows) == 0 {
		return nil
	}
	if err := dbtx.WithContext(ctx).Create(rows).Error; err != nil {
		return fmt.Errorf("failed to create active items: %w", err)
	}
	return nil
}

func (s *Service) listTransactions(ctx context.Context, db *gorm.DB, userID string) ([]*models.StoreTransaction, error) {
	var items []*models.StoreTransaction
	if err := db.WithContext(ctx).Where("user_id = ?", userID).Order("purchase_at asc").Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}
