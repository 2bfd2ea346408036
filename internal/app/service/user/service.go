// Package user owns the users row: lazy creation from the token identity,
// profile and reminder preferences, roles, and the persisted plan.
package user

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/samber/lo"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/fatflowers/subtrack/internal/app/service/entitlement"
	"github.com/fatflowers/subtrack/internal/app/service/subscription"
	"github.com/fatflowers/subtrack/internal/app/session"
	"github.com/fatflowers/subtrack/internal/models"
	"github.com/fatflowers/subtrack/pkg/errs"
	"github.com/fatflowers/subtrack/pkg/logctx"
	"github.com/fatflowers/subtrack/pkg/tool"
	"github.com/fatflowers/subtrack/pkg/types"
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
	fx.Provide(func(s *Service) entitlement.PlanWriter { return s }),
	fx.Provide(func(s *Service) subscription.Defaults { return s }),
)

// EnsureUser returns the row for id, creating it on first sight. The stored
// role wins over whatever the token claims.
func (s *Service) EnsureUser(ctx context.Context, id session.Identity) (*models.User, error) {
	if id.UserID == "" {
		return nil, errs.NewValidationError("user_id", "is required")
	}
	u := &models.User{
		ID:       id.UserID,
		Email:    id.Email,
		FullName: id.Name,
		Role:     types.RoleUser,
		Plan:     types.PlanFree,
	}
	err := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "id"}}, DoNothing: true}).
		Create(u).Error
	if err != nil {
		return nil, fmt.Errorf("failed to create user: %w", err)
	}
	got, err := s.Get(ctx, id.UserID)
	if err != nil {
		return nil, err
	}
	if id.Email != "" && got.Email != id.Email {
		if err := s.db.WithContext(ctx).Model(got).Update("email", id.Email).Error; err != nil {
			return nil, fmt.Errorf("failed to sync email: %w", err)
		}
		got.Email = id.Email
	}
	return got, nil
}

func (s *Service) Get(ctx context.Context, userID string) (*models.User, error) {
	var u models.User
	err := s.db.WithContext(ctx).Where("id = ?", userID).First(&u).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, &errs.NotFoundError{Resource: "user", ID: userID}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	return &u, nil
}

// ProfilePatch updates only the fields that are set.
type ProfilePatch struct {
	FullName *string `json:"full_name" validate:"omitempty,max=255"`
	Locale   *string `json:"locale" validate:"omitempty,bcp47_language_tag"`
	Currency *string `json:"currency" validate:"omitempty,iso4217"`
	Timezone *string `json:"timezone" validate:"omitempty,timezone"`
}

func (s *Service) UpdateProfile(ctx context.Context, userID string, patch *ProfilePatch) (*models.User, error) {
	if patch.Currency != nil {
		patch.Currency = lo.ToPtr(tool.NormalizeCurrency(*patch.Currency, ""))
	}
	if err := validate.Struct(patch); err != nil {
		return nil, err
	}
	updates := map[string]any{}
	if patch.FullName != nil {
		updates["full_name"] = *patch.FullName
	}
	if patch.Locale != nil {
		updates["locale"] = *patch.Locale
	}
	if patch.Currency != nil {
		updates["currency"] = *patch.Currency
	}
	if patch.Timezone != nil {
		updates["timezone"] = *patch.Timezone
	}
	if len(updates) > 0 {
		res := s.db.WithContext(ctx).Model(&models.User{}).Where("id = ?", userID).Updates(updates)
		if res.Error != nil {
			return nil, fmt.Errorf("failed to update profile: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			return nil, &errs.NotFoundError{Resource: "user", ID: userID}
		}
	}
	return s.Get(ctx, userID)
}

// NotificationPreferences returns the stored preferences or the defaults.
func (s *Service) NotificationPreferences(ctx context.Context, userID string) (*models.NotificationPreference, error) {
	var p models.NotificationPreference
	err := s.db.WithContext(ctx).Where("user_id = ?", userID).First(&p).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return models.DefaultNotificationPreference(userID), nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get notification preferences: %w", err)
	}
	return &p, nil
}

type PreferencesInput struct {
	EmailReminders      bool `json:"email_reminders"`
	PushReminders       bool `json:"push_reminders"`
	DefaultReminderDays int  `json:"default_reminder_days" validate:"min=0,max=30"`
}

func (s *Service) SaveNotificationPreferences(ctx context.Context, userID string, in *PreferencesInput) (*models.NotificationPreference, error) {
	if err := validate.Struct(in); err != nil {
		return nil, err
	}
	p := &models.NotificationPreference{
		UserID:              userID,
		EmailReminders:      in.EmailReminders,
		PushReminders:       in.PushReminders,
		DefaultReminderDays: in.DefaultReminderDays,
	}
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "user_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"email_reminders", "push_reminders", "default_reminder_days", "updated_at"}),
	}).Create(p).Error
	if err != nil {
		return nil, fmt.Errorf("failed to save notification preferences: %w", err)
	}
	return p, nil
}

// SubscriptionDefaults returns the currency and reminder lead time applied
// to new subscriptions of userID.
func (s *Service) SubscriptionDefaults(ctx context.Context, userID string) (string, int, error) {
	currency := ""
	var u models.User
	err := s.db.WithContext(ctx).Select("currency").Where("id = ?", userID).First(&u).Error
	switch {
	case err == nil:
		currency = u.Currency
	case !errors.Is(err, gorm.ErrRecordNotFound):
		return "", 0, fmt.Errorf("failed to get user currency: %w", err)
	}
	prefs, err := s.NotificationPreferences(ctx, userID)
	if err != nil {
		return "", 0, err
	}
	return currency, prefs.DefaultReminderDays, nil
}

var listFields = []string{"id", "email", "full_name", "role", "plan", "plan_expires_at", "plan_source", "created_at"}

type ListResponse struct {
	Items []*models.User `json:"items"`
	Total int64          `json:"total"`
}

// List is the admin user listing.
func (s *Service) List(ctx context.Context, req *types.ScanRequest) (*ListResponse, error) {
	if req == nil {
		req = &types.ScanRequest{}
	}
	if err := req.Normalize("created_at", listFields...); err != nil {
		return nil, err
	}
	tx := s.db.WithContext(ctx).Model(&models.User{})
	if len(req.Filters) > 0 {
		tx = tx.Where(clause.Where{Exprs: []clause.Expression{types.AndFilters(req.Filters)}})
	}
	var total int64
	if err := tx.Count(&total).Error; err != nil {
		return nil, fmt.Errorf("failed to count users: %w", err)
	}
	var rows []*models.User
	if err := tx.Order(req.OrderBy()).Offset(req.From).Limit(req.Size).Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to list users: %w", err)
	}
	return &ListResponse{Items: rows, Total: total}, nil
}

type SetRoleRequest struct {
	UserID string     `json:"user_id" validate:"required"`
	Role   types.Role `json:"role" validate:"required,role"`
}

func (s *Service) SetRole(ctx context.Context, req *SetRoleRequest) (*models.User, error) {
	if err := validate.Struct(req); err != nil {
		return nil, err
	}
	res := s.db.WithContext(ctx).Model(&models.User{}).Where("id = ?", req.UserID).Update("role", req.Role)
	if res.Error != nil {
		return nil, fmt.Errorf("failed to set role: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return nil, &errs.NotFoundError{Resource: "user", ID: req.UserID}
	}
	logctx.FromCtx(ctx, s.log).Infow("user role changed", "user_id", req.UserID, "role", req.Role, "operator_id", logctx.UserID(ctx))
	return s.Get(ctx, req.UserID)
}

// ApplyPlan writes next to the user row and an entitlement_logs row in one
// transaction. Nothing is written when the plan is unchanged.
func (s *Service) ApplyPlan(ctx context.Context, userID string, next models.EntitlementState, reason types.SubscriptionChangeReason) (bool, error) {
	changed := false
	err := s.db.WithContext(ctx).Transaction(func(dbtx *gorm.DB) error {
		var u models.User
		err := dbtx.Clauses(clause.Locking{Strength: "UPDATE"}).Where("id = ?", userID).First(&u).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return &errs.NotFoundError{Resource: "user", ID: userID}
		}
		if err != nil {
			return err
		}
		before := models.EntitlementState{Plan: u.Plan, ExpiresAt: u.PlanExpiresAt, Source: u.PlanSource}
		if sameState(before, next) {
			return nil
		}
		changed = true

		err = dbtx.Model(&u).Updates(map[string]any{
			"plan":            next.Plan,
			"plan_expires_at": next.ExpiresAt,
			"plan_source":     next.Source,
		}).Error
		if err != nil {
			return err
		}
		return dbtx.Create(&models.EntitlementLog{
			ID:       tool.GenerateUUIDV7(),
			UserID:   userID,
			Provider: next.Source,
			Reason:   reason,
			Before:   datatypes.NewJSONType(&before),
			After:    datatypes.NewJSONType(&next),
			Extra:    datatypes.JSONMap{"trace_id": logctx.TraceID(ctx)},
		}).Error
	})
	if err != nil {
		return false, fmt.Errorf("failed to apply plan: %w", err)
	}
	return changed, nil
}

func sameState(a, b models.EntitlementState) bool {
	if a.Plan != b.Plan || a.Source != b.Source {
		return false
	}
	switch {
	case a.ExpiresAt == nil && b.ExpiresAt == nil:
		return true
	case a.ExpiresAt == nil || b.ExpiresAt == nil:
		return false
	}
	return a.ExpiresAt.Truncate(time.Second).Equal(b.ExpiresAt.Truncate(time.Second))
}
