package models

import "time"

type NotificationPreference struct {
	UserID              string    `gorm:"column:user_id;type:uuid;primary_key" json:"user_id"`
	EmailReminders      bool      `gorm:"column:email_reminders;not null" json:"email_reminders"`
	PushReminders       bool      `gorm:"column:push_reminders;not null" json:"push_reminders"`
	DefaultReminderDays int       `gorm:"column:default_reminder_days;not null" json:"default_reminder_days"`
	UpdatedAt           time.Time `json:"updated_at"`
}

func (NotificationPreference) TableName() string {
	return "notification_preferences"
}

const DefaultReminderDays = 3

// DefaultNotificationPreference is used for users who never saved preferences.
func DefaultNotificationPreference(userID string) *NotificationPreference {
	return &NotificationPreference{
		UserID:              userID,
		EmailReminders:      true,
		PushReminders:       false,
		DefaultReminderDays: DefaultReminderDays,
	}
}

// WantsReminders is true when at least one reminder channel is on.
func (p *NotificationPreference) WantsReminders() bool {
	return p != nil && (p.EmailReminders || p.PushReminders)
}
