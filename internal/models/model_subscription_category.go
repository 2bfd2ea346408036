package models

import "time"

type SubscriptionCategory struct {
	ID        string    `gorm:"column:id;type:uuid;primary_key" json:"id"`
	Name      string    `gorm:"column:name;type:varchar(64);not null;uniqueIndex" json:"name"`
	Icon      string    `gorm:"column:icon;type:varchar(64)" json:"icon"`
	Color     string    `gorm:"column:color;type:varchar(16)" json:"color"`
	CreatedAt time.Time `json:"created_at"`
}

func (SubscriptionCategory) TableName() string {
	return "subscription_categories"
}
