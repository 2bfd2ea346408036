package transaction

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/awa/go-iap/appstore/api"
	"github.com/samber/lo"
	"go.uber.org/zap"
	"gorm.io/datatypes"

	"github.com/fatflowers/subtrack/internal/models"
	"github.com/fatflowers/subtrack/internal/platform/apple/apple_iap"
	"github.com/fatflowers/subtrack/internal/platform/apple/apple_notification"
	"github.com/fatflowers/subtrack/pkg/config"
	"github.com/fatflowers/subtrack/pkg/logctx"
	"github.com/fatflowers/subtrack/pkg/types"
)

// AppleTransactionManager verifies App Store transactions.
type AppleTransactionManager struct {
	iapClient apple_iap.Client
	configErr error
	cfg       *config.Config
	ledger    Recorder
	events    EventSaver
	log       *zap.SugaredLogger
}

// NewAppleTransactionManager never fails on missing credentials: the manager
// keeps the ConfigurationError and returns it from every call.
func NewAppleTransactionManager(cfg *config.Config, ledger Recorder, events EventSaver, log *zap.SugaredLogger) *AppleTransactionManager {
	cli, err := apple_iap.NewClient(apple_iap.OptionsFromConfig(cfg.AppleIAP))
	if err != nil {
		log.Warnw("apple iap disabled", "error", err)
	}
	return newAppleTransactionManager(cfg, cli, err, ledger, events, log)
}

func newAppleTransactionManager(cfg *config.Config, cli apple_iap.Client, configErr error, ledger Recorder, events EventSaver, log *zap.SugaredLogger) *AppleTransactionManager {
	return &AppleTransactionManager{iapClient: cli, configErr: configErr, cfg: cfg, ledger: ledger, events: events, log: log}
}

func (a *AppleTransactionManager) ConfigError() error { return a.configErr }

// milliToMinor converts App Store milliunit prices to two-decimal minor units.
func milliToMinor(price int64) int64 { return price / 10 }

func (a *AppleTransactionManager) toTransaction(ti *api.JWSTransaction, renewal *api.JWSRenewalInfoDecodedPayload) (*models.StoreTransaction, error) {
	paymentItem, err := a.cfg.GetPaymentItemByProviderItemID(types.PaymentProviderApple, ti.ProductID)
	if err != nil {
		return nil, err
	}
	userID, err := apple_iap.UserIDFromAppAccountToken(ti.AppAccountToken)
	if err != nil {
		return nil, err
	}

	res := &models.StoreTransaction{
		UserID:        userID,
		ProviderID:    types.PaymentProviderApple,
		PaymentItemID: paymentItem.ID,
		TransactionID: ti.TransactionID,
		PurchaseAt:    time.UnixMilli(int64(ti.PurchaseDate)),
		Price:         milliToMinor(int64(ti.Price)),
		Currency:      ti.Currency,
		Extra: datatypes.NewJSONType(&models.StoreTransactionExtra{
			PaymentItemSnapshot: paymentItem,
		}),
	}
	if ti.OriginalTransactionId != "" {
		res.ParentTransactionID = lo.ToPtr(ti.OriginalTransactionId)
	}
	if ti.RevocationDate > 0 {
		res.RefundAt = lo.ToPtr(time.UnixMilli(int64(ti.RevocationDate)))
	}

	if ti.Type == api.AutoRenewable {
		if ti.ExpiresDate <= 0 {
			return nil, fmt.Errorf("auto renew transaction expires date is 0")
		}
		res.AutoRenewExpireAt = lo.ToPtr(time.UnixMilli(int64(ti.ExpiresDate)))
		if renewal != nil && renewal.AutoRenewStatus == api.AutoRenewStatusOn && renewal.RenewalDate > 0 {
			res.NextAutoRenewAt = lo.ToPtr(time.UnixMilli(int64(renewal.RenewalDate)))
			if res.ParentTransactionID == nil && renewal.OriginalTransactionId != "" {
				res.ParentTransactionID = lo.ToPtr(renewal.OriginalTransactionId)
			}
		}
	}
	return res, nil
}

// FromNotification maps a verified server notification to a ledger row. It
// returns nil for test notifications and for products that are not
// subscriptions.
func FromNotification(cfg *config.Config, n *apple_notification.Notification) (*models.StoreTransaction, error) {
	if n == nil || n.IsTest || n.TransactionInfo == nil {
		return nil, nil
	}
	info := n.TransactionInfo
	paymentItem, err := cfg.GetPaymentItemByProviderItemID(types.PaymentProviderApple, info.ProductID)
	if err != nil {
		return nil, err
	}
	if !paymentItem.IsSubscription() {
		return nil, nil
	}
	userID, err := apple_iap.UserIDFromAppAccountToken(info.AppAccountToken)
	if err != nil {
		return nil, fmt.Errorf("failed to get user id: %w", err)
	}

	res := &models.StoreTransaction{
		UserID:        userID,
		ProviderID:    types.PaymentProviderApple,
		PaymentItemID: paymentItem.ID,
		TransactionID: info.TransactionID,
		Currency:      info.Currency,
		Price:         milliToMinor(info.Price),
		PurchaseAt:    time.UnixMilli(info.PurchaseDate),
		Extra: datatypes.NewJSONType(&models.StoreTransactionExtra{
			PaymentItemSnapshot: paymentItem,
		}),
	}
	if info.OriginalTransactionID != "" {
		res.ParentTransactionID = lo.ToPtr(info.OriginalTransactionID)
	}
	if info.RevocationDate > 0 {
		res.RefundAt = lo.ToPtr(time.UnixMilli(info.RevocationDate))
	}
	if paymentItem.Renewable() && info.ExpiresDate > 0 {
		res.AutoRenewExpireAt = lo.ToPtr(time.UnixMilli(info.ExpiresDate))
	}
	if n.AutoRenewing() {
		res.NextAutoRenewAt = lo.ToPtr(time.UnixMilli(n.RenewalInfo.RenewalDate))
	}
	if res.ParentTransactionID == nil && n.RenewalInfo != nil && n.RenewalInfo.OriginalTransactionID != "" {
		res.ParentTransactionID = lo.ToPtr(n.RenewalInfo.OriginalTransactionID)
	}
	return res, nil
}

// detectAppleUpgrade reports the transaction the current one upgraded from:
// the receipt entry right after it flagged is_upgraded.
func detectAppleUpgrade(parseResult *VerifiedData, txInfo *api.JWSTransaction) (string, bool) {
	if parseResult == nil || parseResult.AppleReceipt == nil || txInfo == nil {
		return "", false
	}
	infos := parseResult.AppleReceipt.LatestReceiptInfo
	if len(infos) == 0 {
		infos = parseResult.AppleReceipt.Receipt.InApp
	}
	for i, info := range infos {
		if string(info.TransactionID) != txInfo.TransactionID {
			continue
		}
		if i+1 < len(infos) && infos[i+1].IsUpgraded == "true" {
			return string(infos[i+1].TransactionID), true
		}
		return "", false
	}
	return "", false
}

func (a *AppleTransactionManager) VerifyTransaction(ctx context.Context, req *TransactionVerifyRequest) (result *VerifyTransactionResult, retErr error) {
	if a.configErr != nil {
		return nil, a.configErr
	}
	log := logctx.FromCtx(ctx, a.log)
	var userIDPtr *string
	if v := logctx.UserID(ctx); v != "" {
		userIDPtr = &v
	}
	dataBytes, _ := json.Marshal(req)
	event := &models.WebhookEvent{
		ProviderID:    types.PaymentProviderApple,
		UserID:        userIDPtr,
		TransactionID: req.TransactionID,
		ReceivedAt:    time.Now(),
		Data:          datatypes.JSON(dataBytes),
		Status:        models.WebhookStatusReceived,
	}
	a.events.Save(ctx, event)

	var mapped *models.StoreTransaction
	var txInfo *api.JWSTransaction
	defer func() {
		resMap := map[string]any{"transaction": mapped, "transaction_info": txInfo}
		if retErr != nil {
			resMap["error"] = retErr.Error()
		}
		resBytes, _ := json.Marshal(resMap)
		done := *event
		done.ID = ""
		done.Finish(resBytes, retErr, false)
		a.events.Save(ctx, &done)
	}()

	txInfo, err := a.iapClient.Transaction(ctx, req.TransactionID)
	if err != nil {
		return nil, fmt.Errorf("failed to get transaction info: %w", err)
	}
	if a.cfg.AppleIAP.IsProd && txInfo.Environment != api.Production {
		return nil, fmt.Errorf("transaction is not in production environment")
	}
	if txInfo.Type != api.AutoRenewable && txInfo.Type != api.NonRenewable {
		return nil, fmt.Errorf("unsupported transaction type: %s", txInfo.Type)
	}

	renewal, err := a.iapClient.RenewalInfo(ctx, txInfo)
	if err != nil {
		return nil, fmt.Errorf("failed to get renewal info: %w", err)
	}
	item, err := a.toTransaction(txInfo, renewal)
	if err != nil {
		return nil, fmt.Errorf("failed to map transaction: %w", err)
	}
	mapped = item

	if req.ExpectedUserID != "" && item.UserID != req.ExpectedUserID {
		return nil, fmt.Errorf("%w: %s", ErrForeignTransaction, txInfo.TransactionID)
	}
	if req.ExpectedProductID != "" && txInfo.ProductID != req.ExpectedProductID {
		return nil, fmt.Errorf("transaction %s is for product %s, not %s", txInfo.TransactionID, txInfo.ProductID, req.ExpectedProductID)
	}

	result = &VerifyTransactionResult{}
	if txInfo.Type == api.AutoRenewable && req.ServerVerificationData != "" {
		parsed, err := a.ParseVerificationData(ctx, &VerificationDataRequest{
			ProviderID:  string(types.PaymentProviderApple),
			ReceiptData: req.ServerVerificationData,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to parse verification data: %w", err)
		}
		if beforeID, ok := detectAppleUpgrade(parsed, txInfo); ok {
			item.BeforeUpgradedTransactionID = lo.ToPtr(beforeID)
			result.IsUpgrade = true
		}
	}

	if txInfo.Type == api.AutoRenewable && item.ParentTransactionID != nil {
		exists, err := a.ledger.ExistsSamePurchase(ctx, types.PaymentProviderApple, txInfo.TransactionID, *item.ParentTransactionID, item.PurchaseAt)
		if err != nil {
			return nil, fmt.Errorf("failed to check duplicate transaction: %w", err)
		}
		if exists {
			return nil, fmt.Errorf("%w: %s", ErrVerifyTransactionDuplicate, txInfo.TransactionID)
		}
	}

	result.ActiveItems, err = a.ledger.Record(ctx, item)
	if err != nil {
		return nil, fmt.Errorf("failed to record transaction: %w", err)
	}
	log.Infow("apple transaction verified", "transaction_id", txInfo.TransactionID, "upgrade", result.IsUpgrade)

	if persisted, err := a.ledger.GetByProviderTransactionID(ctx, types.PaymentProviderApple, txInfo.TransactionID); err == nil {
		result.UserTransaction = persisted
	} else {
		result.UserTransaction = item
	}
	return result, nil
}

func (a *AppleTransactionManager) ParseVerificationData(ctx context.Context, req *VerificationDataRequest) (*VerifiedData, error) {
	if a.configErr != nil {
		return nil, a.configErr
	}
	receipt, err := a.iapClient.VerifyReceipt(ctx, req.ReceiptData)
	if err != nil {
		return nil, fmt.Errorf("failed to verify server verification data: %w", err)
	}
	return &VerifiedData{AppleReceipt: receipt}, nil
}
