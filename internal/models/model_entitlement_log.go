package models

import (
	"time"

	"gorm.io/datatypes"

	"github.com/fatflowers/subtrack/pkg/types"
)

// EntitlementState is what gets persisted to users.plan for one user.
type EntitlementState struct {
	Plan      types.Plan `json:"plan"`
	ExpiresAt *time.Time `json:"expires_at"`
	Source    string     `json:"source"`
}

// EntitlementLog records every change of a user's persisted plan.
type EntitlementLog struct {
	ID        string                                `gorm:"column:id;type:uuid;primary_key" json:"id"`
	UserID    string                                `gorm:"column:user_id;type:varchar(64);not null;index" json:"user_id"`
	Provider  string                                `gorm:"column:provider;type:varchar(32);not null" json:"provider"`
	Reason    types.SubscriptionChangeReason        `gorm:"column:reason;type:varchar(64);not null" json:"reason"`
	Before    datatypes.JSONType[*EntitlementState] `gorm:"column:before;type:jsonb;default:'null'" json:"before"`
	After     datatypes.JSONType[*EntitlementState] `gorm:"column:after;type:jsonb;default:'null'" json:"after"`
	Extra     datatypes.JSONMap                     `gorm:"column:extra;type:jsonb;default:'{}'" json:"extra"`
	CreatedAt time.Time                             `json:"created_at"`
}

func (EntitlementLog) TableName() string {
	return "entitlement_logs"
}
