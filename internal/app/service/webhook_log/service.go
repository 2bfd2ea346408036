// Package webhook_log persists raw payment provider callbacks.
package webhook_log

import (
	"context"

	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/fatflowers/subtrack/internal/models"
	"github.com/fatflowers/subtrack/pkg/logctx"
	"github.com/fatflowers/subtrack/pkg/tool"
)

type Service struct {
	db  *gorm.DB
	log *zap.SugaredLogger
}

func New(db *gorm.DB, log *zap.SugaredLogger) *Service { return &Service{db: db, log: log} }

var Module = fx.Options(
	fx.Provide(New),
)

// Save asynchronously persists a webhook event. Nil input is ignored. The
// request context may be gone by the time the write runs, so only its
// logger fields are used.
func (s *Service) Save(ctx context.Context, event *models.WebhookEvent) {
	if event == nil {
		return
	}
	if event.ID == "" {
		event.ID = tool.GenerateUUIDV7()
	}
	if event.TraceID == "" {
		event.TraceID = logctx.TraceID(ctx)
	}
	row := *event
	log := logctx.FromCtx(ctx, s.log)
	go func() {
		if err := s.db.WithContext(context.WithoutCancel(ctx)).Save(&row).Error; err != nil {
			log.Errorw("failed to save webhook event", "provider", row.ProviderID, "event_id", row.ID, "error", err)
		}
	}()
}

// Recent lists the newest events for a provider, newest first.
func (s *Service) Recent(ctx context.Context, provider string, limit int) ([]*models.WebhookEvent, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	var out []*models.WebhookEvent
	q := s.db.WithContext(ctx).Order("created_at DESC").Limit(limit)
	if provider != "" {
		q = q.Where("provider_id = ?", provider)
	}
	if err := q.Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}
