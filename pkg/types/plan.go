package types

// Plan is the user's paid tier.
type Plan string

const (
	PlanFree     Plan = "free"
	PlanStandard Plan = "standard"
	PlanPremium  Plan = "premium"
)

var planRank = map[Plan]int{
	PlanFree:     0,
	PlanStandard: 1,
	PlanPremium:  2,
}

func (p Plan) Valid() bool {
	_, ok := planRank[p]
	return ok
}

// Rank orders plans; unknown plans rank below free.
func (p Plan) Rank() int {
	if r, ok := planRank[p]; ok {
		return r
	}
	return -1
}

// Role is the user's access role.
type Role string

const (
	RoleUser      Role = "user"
	RoleAdmin     Role = "admin"
	RoleModerator Role = "moderator"
)

func (r Role) Valid() bool {
	return r == RoleUser || r == RoleAdmin || r == RoleModerator
}

func (r Role) IsAdmin() bool { return r == RoleAdmin }

// HasElevatedAccess is true for admins and moderators.
func (r Role) HasElevatedAccess() bool { return r == RoleAdmin || r == RoleModerator }

type SubscriptionChangeReason string

const (
	UserSubscriptionChangeReasonPurchase    SubscriptionChangeReason = "purchase"
	UserSubscriptionChangeReasonRefund      SubscriptionChangeReason = "refund"
	UserSubscriptionChangeReasonCancelRenew SubscriptionChangeReason = "cancelRenew"
	UserSubscriptionChangeReasonGift        SubscriptionChangeReason = "gift"
	UserSubscriptionChangeReasonUpgrade     SubscriptionChangeReason = "upgrade"
	UserSubscriptionChangeReasonSync        SubscriptionChangeReason = "sync"
)
