package transaction

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/fatflowers/subtrack/internal/app/service/ledger"
	"github.com/fatflowers/subtrack/pkg/config"
	"github.com/fatflowers/subtrack/pkg/errs"
	"github.com/fatflowers/subtrack/pkg/types"
)

type Service struct {
	cfg                     *config.Config
	log                     *zap.SugaredLogger
	appleTransactionManager *AppleTransactionManager
	ledger                  *ledger.Service
}

func NewService(cfg *config.Config, log *zap.SugaredLogger, apple *AppleTransactionManager, ledgerSvc *ledger.Service) TransactionManager {
	return &Service{cfg: cfg, log: log, appleTransactionManager: apple, ledger: ledgerSvc}
}

func unsupported(providerID string) error {
	return errs.NewValidationError("provider_id", fmt.Sprintf("unsupported provider: %s", providerID))
}

func (s *Service) VerifyTransaction(ctx context.Context, req *TransactionVerifyRequest) (*VerifyTransactionResult, error) {
	if req == nil || req.TransactionID == "" {
		return nil, errs.NewValidationError("transaction_id", "required")
	}
	switch req.ProviderID {
	case string(types.PaymentProviderApple):
		return s.appleTransactionManager.VerifyTransaction(ctx, req)
	default:
		return nil, unsupported(req.ProviderID)
	}
}

func (s *Service) ParseVerificationData(ctx context.Context, req *VerificationDataRequest) (*VerifiedData, error) {
	if req == nil || req.ReceiptData == "" {
		return nil, errs.NewValidationError("receipt_data", "required")
	}
	switch req.ProviderID {
	case string(types.PaymentProviderApple):
		return s.appleTransactionManager.ParseVerificationData(ctx, req)
	default:
		return nil, unsupported(req.ProviderID)
	}
}

func (s *Service) ConfigError(providerID string) error {
	switch providerID {
	case string(types.PaymentProviderApple):
		return s.appleTransactionManager.ConfigError()
	default:
		return unsupported(providerID)
	}
}

func (s *Service) SendFreeGift(ctx context.Context, req *SendFreeGiftRequest) ([]*ledger.ActiveItem, error) {
	if req == nil {
		return nil, errs.NewValidationError("body", "required")
	}
	return s.ledger.SendFreeGift(ctx, req.UserID, req.PaymentItemID, req.OperatorID)
}

func (s *Service) ScanTransactions(ctx context.Context, req *types.ScanRequest) (*ledger.ScanResponse, error) {
	return s.ledger.Scan(ctx, req)
}
