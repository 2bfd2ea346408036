package types

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestBillingCycle_Advance(t *testing.T) {
	base := time.Date(2026, 1, 31, 9, 0, 0, 0, time.UTC)
	tests := []struct {
		cycle BillingCycle
		n     int
		want  time.Time
	}{
		{BillingCycleWeekly, 1, time.Date(2026, 2, 7, 9, 0, 0, 0, time.UTC)},
		{BillingCycleMonthly, 1, time.Date(2026, 2, 28, 9, 0, 0, 0, time.UTC)},
		{BillingCycleMonthly, 2, time.Date(2026, 3, 31, 9, 0, 0, 0, time.UTC)},
		{BillingCycleQuarterly, 1, time.Date(2026, 4, 30, 9, 0, 0, 0, time.UTC)},
		{BillingCycleSemiAnnual, 1, time.Date(2026, 7, 31, 9, 0, 0, 0, time.UTC)},
		{BillingCycleAnnual, 1, time.Date(2027, 1, 31, 9, 0, 0, 0, time.UTC)},
	}
	for _, tt := range tests {
		t.Run(string(tt.cycle), func(t *testing.T) {
			require.Equal(t, tt.want, tt.cycle.Advance(base, tt.n))
		})
	}
}

func TestBillingCycle_AdvanceLeapYear(t *testing.T) {
	base := time.Date(2028, 1, 31, 0, 0, 0, 0, time.UTC)
	require.Equal(t, time.Date(2028, 2, 29, 0, 0, 0, 0, time.UTC), BillingCycleMonthly.Advance(base, 1))
}

func TestBillingCycle_NextAfter(t *testing.T) {
	anchor := time.Date(2026, 1, 15, 0, 0, 0, 0, time.UTC)

	ref := time.Date(2026, 4, 2, 0, 0, 0, 0, time.UTC)
	require.Equal(t, time.Date(2026, 4, 15, 0, 0, 0, 0, time.UTC), BillingCycleMonthly.NextAfter(anchor, ref))

	// boundary equal to ref is not "after"
	ref = time.Date(2026, 4, 15, 0, 0, 0, 0, time.UTC)
	require.Equal(t, time.Date(2026, 5, 15, 0, 0, 0, 0, time.UTC), BillingCycleMonthly.NextAfter(anchor, ref))

	future := time.Date(2027, 1, 1, 0, 0, 0, 0, time.UTC)
	require.Equal(t, future, BillingCycleAnnual.NextAfter(future, ref))

	require.Equal(t, anchor, BillingCycle("fortnightly").NextAfter(anchor, ref))
}

func TestEnums_Valid(t *testing.T) {
	require.True(t, BillingCycleSemiAnnual.Valid())
	require.False(t, BillingCycle("daily").Valid())
	require.True(t, SubscriptionStatusPaused.Valid())
	require.False(t, SubscriptionStatus("inactive").Valid())
	require.True(t, PlanPremium.Valid())
	require.False(t, Plan("gold").Valid())
	require.Less(t, PlanFree.Rank(), PlanStandard.Rank())
	require.Less(t, PlanStandard.Rank(), PlanPremium.Rank())
	require.Equal(t, -1, Plan("gold").Rank())
}

func TestRole_Capabilities(t *testing.T) {
	require.True(t, RoleAdmin.IsAdmin())
	require.True(t, RoleAdmin.HasElevatedAccess())
	require.False(t, RoleModerator.IsAdmin())
	require.True(t, RoleModerator.HasElevatedAccess())
	require.False(t, RoleUser.HasElevatedAccess())
	require.False(t, Role("root").Valid())
}

func TestBillingCycle_MonthlyAmount(t *testing.T) {
	tests := []struct {
		cycle  BillingCycle
		amount int64
		want   int64
	}{
		{BillingCycleWeekly, 300, 1300},
		{BillingCycleMonthly, 999, 999},
		{BillingCycleQuarterly, 3000, 1000},
		{BillingCycleSemiAnnual, 6001, 1000},
		{BillingCycleAnnual, 11999, 999},
		{BillingCycle("daily"), 100, 0},
	}
	for _, tt := range tests {
		t.Run(string(tt.cycle), func(t *testing.T) {
			require.Equal(t, tt.want, tt.cycle.MonthlyAmount(tt.amount))
		})
	}
}
