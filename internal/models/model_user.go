package models

import (
	"time"

	"github.com/fatflowers/subtrack/pkg/types"
)

// User is the profile row for an identity issued by the auth provider.
// Rows are never hard-deleted.
type User struct {
	ID       string     `gorm:"column:id;type:uuid;primary_key" json:"id"`
	Email    string     `gorm:"column:email;type:varchar(255);not null;index" json:"email"`
	FullName string     `gorm:"column:full_name;type:varchar(255)" json:"full_name"`
	Role     types.Role `gorm:"column:role;type:varchar(32);not null;default:user" json:"role"`
	Plan     types.Plan `gorm:"column:plan;type:varchar(32);not null;default:free" json:"plan"`
	// PlanExpiresAt is nil for free users and for paid plans without a known end.
	PlanExpiresAt *time.Time `gorm:"column:plan_expires_at;default:null" json:"plan_expires_at"`
	// PlanSource names the entitlement provider that last wrote Plan.
	PlanSource string    `gorm:"column:plan_source;type:varchar(32)" json:"plan_source"`
	Locale     string    `gorm:"column:locale;type:varchar(16);not null;default:en" json:"locale"`
	Currency   string    `gorm:"column:currency;type:varchar(3);not null;default:USD" json:"currency"`
	Timezone   string    `gorm:"column:timezone;type:varchar(64);not null;default:UTC" json:"timezone"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

func (User) TableName() string {
	return "users"
}

// PaidPlanActive reports whether the stored plan grants paid features at t.
func (u *User) PaidPlanActive(t time.Time) bool {
	if u == nil || u.Plan == types.PlanFree || !u.Plan.Valid() {
		return false
	}
	return u.PlanExpiresAt == nil || u.PlanExpiresAt.After(t)
}
