package models

import (
	"time"

	"gorm.io/datatypes"

	"github.com/fatflowers/subtrack/pkg/types"
)

// UserPlanDailySnapshot is one row per user per day for plan analytics.
type UserPlanDailySnapshot struct {
	ID            string     `gorm:"column:id;type:uuid;primary_key" json:"id"`
	UserID        string     `gorm:"column:user_id;type:varchar(64);not null" json:"user_id"`
	SnapshotDate  string     `gorm:"column:snapshot_date;not null" json:"snapshot_date"`
	Plan          types.Plan `gorm:"column:plan;type:varchar(32);not null" json:"plan"`
	PlanExpiresAt *time.Time `gorm:"column:plan_expires_at;default:null" json:"plan_expires_at"`
	// ActiveSubscriptions and MonthlySpend describe the tracked expenses that day.
	ActiveSubscriptions int               `gorm:"column:active_subscriptions;not null" json:"active_subscriptions"`
	MonthlySpend        datatypes.JSONMap `gorm:"column:monthly_spend;type:jsonb;default:'{}'" json:"monthly_spend"`
	CreatedAt           time.Time         `json:"created_at"`
}

func (UserPlanDailySnapshot) TableName() string {
	return "user_plan_daily_snapshots"
}
