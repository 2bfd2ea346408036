package user

import (
	"context"
	"testing"
	"time"

	"github.com/samber/lo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/fatflowers/subtrack/internal/app/session"
	"github.com/fatflowers/subtrack/internal/models"
	"github.com/fatflowers/subtrack/internal/platform/db/dbtest"
	"github.com/fatflowers/subtrack/pkg/errs"
	"github.com/fatflowers/subtrack/pkg/tool"
	"github.com/fatflowers/subtrack/pkg/types"
)

func TestSameState(t *testing.T) {
	t1 := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	t2 := t1.Add(300 * time.Millisecond)
	a := models.EntitlementState{Plan: types.PlanPremium, ExpiresAt: &t1, Source: "store"}

	assert.True(t, sameState(a, models.EntitlementState{Plan: types.PlanPremium, ExpiresAt: &t2, Source: "store"}))
	assert.False(t, sameState(a, models.EntitlementState{Plan: types.PlanStandard, ExpiresAt: &t1, Source: "store"}))
	assert.False(t, sameState(a, models.EntitlementState{Plan: types.PlanPremium, Source: "store"}))
	assert.False(t, sameState(a, models.EntitlementState{Plan: types.PlanPremium, ExpiresAt: &t1, Source: "card"}))
	assert.True(t, sameState(models.EntitlementState{Plan: types.PlanFree}, models.EntitlementState{Plan: types.PlanFree}))
}

func TestUpdateProfile_ValidatesBeforeWriting(t *testing.T) {
	s := NewService(nil, zap.NewNop().Sugar())
	_, err := s.UpdateProfile(context.Background(), "u1", &ProfilePatch{Currency: lo.ToPtr("dollars"), Timezone: lo.ToPtr("Mars/Olympus")})
	var verr *errs.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Contains(t, verr.Fields, "currency")
	assert.Contains(t, verr.Fields, "timezone")
}

func TestSetRole_RejectsUnknownRole(t *testing.T) {
	s := NewService(nil, zap.NewNop().Sugar())
	_, err := s.SetRole(context.Background(), &SetRoleRequest{UserID: "u1", Role: "owner"})
	assert.True(t, errs.IsValidation(err))
}

func TestService_Postgres(t *testing.T) {
	gdb := dbtest.Open(t)
	s := NewService(gdb, zap.NewNop().Sugar())
	ctx := context.Background()
	userID := tool.GenerateUUIDV7()

	u, err := s.EnsureUser(ctx, session.Identity{UserID: userID, Email: "ada@example.com", Name: "Ada", Role: types.RoleAdmin})
	require.NoError(t, err)
	assert.Equal(t, types.RoleUser, u.Role, "token role is not trusted")
	assert.Equal(t, types.PlanFree, u.Plan)
	assert.Equal(t, "USD", u.Currency)

	u, err = s.EnsureUser(ctx, session.Identity{UserID: userID, Email: "ada@new.example.com"})
	require.NoError(t, err)
	assert.Equal(t, "ada@new.example.com", u.Email)
	assert.Equal(t, "Ada", u.FullName)

	t.Run("profile", func(t *testing.T) {
		u, err := s.UpdateProfile(ctx, userID, &ProfilePatch{Currency: lo.ToPtr("eur"), Timezone: lo.ToPtr("Europe/Berlin")})
		require.NoError(t, err)
		assert.Equal(t, "EUR", u.Currency)
		assert.Equal(t, "Europe/Berlin", u.Timezone)
		assert.Equal(t, "Ada", u.FullName)

		_, err = s.UpdateProfile(ctx, tool.GenerateUUIDV7(), &ProfilePatch{FullName: lo.ToPtr("x")})
		assert.True(t, errs.IsNotFound(err))
	})

	t.Run("preferences", func(t *testing.T) {
		p, err := s.NotificationPreferences(ctx, userID)
		require.NoError(t, err)
		assert.Equal(t, models.DefaultReminderDays, p.DefaultReminderDays)

		_, err = s.SaveNotificationPreferences(ctx, userID, &PreferencesInput{PushReminders: true, DefaultReminderDays: 7})
		require.NoError(t, err)
		p, err = s.NotificationPreferences(ctx, userID)
		require.NoError(t, err)
		assert.False(t, p.EmailReminders)
		assert.True(t, p.PushReminders)
		assert.Equal(t, 7, p.DefaultReminderDays)
	})

	t.Run("apply plan", func(t *testing.T) {
		exp := time.Now().Add(30 * 24 * time.Hour).UTC().Truncate(time.Second)
		next := models.EntitlementState{Plan: types.PlanPremium, ExpiresAt: &exp, Source: "store"}

		changed, err := s.ApplyPlan(ctx, userID, next, types.UserSubscriptionChangeReasonSync)
		require.NoError(t, err)
		assert.True(t, changed)
		changed, err = s.ApplyPlan(ctx, userID, next, types.UserSubscriptionChangeReasonSync)
		require.NoError(t, err)
		assert.False(t, changed)

		u, err := s.Get(ctx, userID)
		require.NoError(t, err)
		assert.Equal(t, types.PlanPremium, u.Plan)
		assert.Equal(t, "store", u.PlanSource)

		var logs []models.EntitlementLog
		require.NoError(t, gdb.Where("user_id = ?", userID).Find(&logs).Error)
		require.Len(t, logs, 1)
		assert.Equal(t, types.PlanFree, logs[0].Before.Data().Plan)
		assert.Equal(t, types.PlanPremium, logs[0].After.Data().Plan)

		_, err = s.ApplyPlan(ctx, tool.GenerateUUIDV7(), next, types.UserSubscriptionChangeReasonSync)
		assert.True(t, errs.IsNotFound(err))
	})

	t.Run("roles and listing", func(t *testing.T) {
		u, err := s.SetRole(ctx, &SetRoleRequest{UserID: userID, Role: types.RoleModerator})
		require.NoError(t, err)
		assert.Equal(t, types.RoleModerator, u.Role)

		res, err := s.List(ctx, &types.ScanRequest{Filters: []*types.CommonFilter{
			{Field: "role", Operator: types.CommonFilterOperatorEq, Values: []any{"moderator"}},
		}})
		require.NoError(t, err)
		assert.EqualValues(t, 1, res.Total)

		_, err = s.List(ctx, &types.ScanRequest{SortBy: "password"})
		assert.True(t, errs.IsValidation(err))
	})
}
