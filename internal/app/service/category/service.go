package category

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/fatflowers/subtrack/internal/models"
	"github.com/fatflowers/subtrack/internal/platform/db"
	"github.com/fatflowers/subtrack/pkg/errs"
	"github.com/fatflowers/subtrack/pkg/logctx"
	"github.com/fatflowers/subtrack/pkg/tool"
	"github.com/fatflowers/subtrack/pkg/validate"
)

type Service struct {
	db  *gorm.DB
	log *zap.SugaredLogger
}

func NewService(db *gorm.DB, log *zap.SugaredLogger) *Service {
	return &Service{db: db, log: log}
}

var Module = fx.Options(
	fx.Provide(NewService),
)

func (s *Service) List(ctx context.Context) ([]*models.SubscriptionCategory, error) {
	var rows []*models.SubscriptionCategory
	if err := s.db.WithContext(ctx).Order("name ASC").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to list categories: %w", err)
	}
	return rows, nil
}

// Exists reports whether id names a category.
func (s *Service) Exists(ctx context.Context, id string) (bool, error) {
	var count int64
	if err := s.db.WithContext(ctx).Model(&models.SubscriptionCategory{}).Where("id = ?", id).Count(&count).Error; err != nil {
		return false, fmt.Errorf("failed to look up category: %w", err)
	}
	return count > 0, nil
}

type CreateRequest struct {
	Name  string `json:"name" validate:"required,max=64"`
	Icon  string `json:"icon" validate:"max=64"`
	Color string `json:"color" validate:"omitempty,hexcolor"`
}

func (s *Service) Create(ctx context.Context, req *CreateRequest) (*models.SubscriptionCategory, error) {
	req.Name = strings.TrimSpace(req.Name)
	if err := validate.Struct(req); err != nil {
		return nil, err
	}
	row := &models.SubscriptionCategory{
		ID:    tool.GenerateUUIDV7(),
		Name:  req.Name,
		Icon:  req.Icon,
		Color: req.Color,
	}
	if err := s.db.WithContext(ctx).Create(row).Error; err != nil {
		if db.IsUniqueViolation(err) {
			return nil, errs.NewValidationError("name", "category already exists")
		}
		return nil, fmt.Errorf("failed to create category: %w", err)
	}
	logctx.FromCtx(ctx, s.log).Infow("category created", "category_id", row.ID, "name", row.Name)
	return row, nil
}
