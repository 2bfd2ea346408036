package ledger

import (
	"context"
	"fmt"

	"gorm.io/gorm/clause"

	"github.com/fatflowers/subtrack/internal/models"
	"github.com/fatflowers/subtrack/pkg/types"
)

var scanFields = []string{
	"id", "user_id", "provider_id", "payment_item_id", "transaction_id",
	"purchase_at", "refund_at", "expire_at", "created_at", "price", "currency",
}

type ScanResponse struct {
	Items []*models.StoreTransaction `json:"items"`
	Total int64                      `json:"total"`
}

// Scan lists store transactions for the admin surface.
func (s *Service) Scan(ctx context.Context, req *types.ScanRequest) (*ScanResponse, error) {
	if req == nil {
		req = &types.ScanRequest{}
	}
	if err := req.Normalize("purchase_at", scanFields...); err != nil {
		return nil, err
	}

	tx := s.db.WithContext(ctx).Model(&models.StoreTransaction{})
	if len(req.Filters) > 0 {
		tx = tx.Where(clause.Where{Exprs: []clause.Expression{types.AndFilters(req.Filters)}})
	}

	var total int64
	if err := tx.Count(&total).Error; err != nil {
		return nil, fmt.Errorf("failed to count store transactions: %w", err)
	}

	var rows []*models.StoreTransaction
	if err := tx.Order(req.OrderBy()).Offset(req.From).Limit(req.Size).Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to list store transactions: %w", err)
	}
	return &ScanResponse{Items: rows, Total: total}, nil
}
