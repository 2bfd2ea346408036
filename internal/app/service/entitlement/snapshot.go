// Package entitlement reconciles what each billing provider says the user
// paid for into one plan tier. Providers are adapters that normalise their
// own payloads into a Snapshot; everything downstream sees only Snapshots.
package entitlement

import (
	"slices"
	"time"

	"github.com/fatflowers/subtrack/pkg/types"
)

// Snapshot is one provider's view of the user's entitlements at FetchedAt.
type Snapshot struct {
	Provider     string     `json:"provider"`
	Plan         types.Plan `json:"plan"`
	Active       bool       `json:"active"`
	ExpiresAt    *time.Time `json:"expires_at"`
	Entitlements []string   `json:"entitlements"`
	FetchedAt    time.Time  `json:"fetched_at"`
}

// DerivePlan applies the fixed precedence premium > standard > free.
// Unknown identifiers are ignored.
func DerivePlan(entitlements []string) types.Plan {
	switch {
	case slices.Contains(entitlements, string(types.PlanPremium)):
		return types.PlanPremium
	case slices.Contains(entitlements, string(types.PlanStandard)):
		return types.PlanStandard
	default:
		return types.PlanFree
	}
}

// NewSnapshot derives Plan and Active from the entitlement set. A free plan
// never carries an expiry.
func NewSnapshot(provider string, entitlements []string, expiresAt *time.Time, now time.Time) *Snapshot {
	plan := DerivePlan(entitlements)
	s := &Snapshot{
		Provider:     provider,
		Plan:         plan,
		Active:       plan != types.PlanFree,
		Entitlements: entitlements,
		FetchedAt:    now,
	}
	if s.Active {
		s.ExpiresAt = expiresAt
	}
	if s.Entitlements == nil {
		s.Entitlements = []string{}
	}
	return s
}
