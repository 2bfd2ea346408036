package models

import (
	"time"

	"gorm.io/datatypes"

	"github.com/fatflowers/subtrack/pkg/types"
)

type WebhookStatus string

const (
	WebhookStatusReceived WebhookStatus = "received"
	WebhookStatusHandled  WebhookStatus = "handled"
	WebhookStatusFailed   WebhookStatus = "handle_failed"
	// WebhookStatusIgnored marks events that parsed but carry nothing to apply.
	WebhookStatusIgnored WebhookStatus = "ignored"
)

// WebhookEvent is the raw payload of a payment provider callback together
// with what handling it produced.
type WebhookEvent struct {
	ID            string                `gorm:"column:id;type:uuid;primary_key" json:"id"`
	ProviderID    types.PaymentProvider `gorm:"column:provider_id;type:varchar(64);not null" json:"provider_id"`
	UserID        *string               `gorm:"column:user_id;type:varchar(64)" json:"user_id"`
	TraceID       string                `gorm:"column:trace_id;type:varchar(128)" json:"trace_id"`
	TransactionID string                `gorm:"column:transaction_id;type:varchar(128)" json:"transaction_id"`
	ReceivedAt    time.Time             `gorm:"column:notification_time" json:"received_at"`
	Data          datatypes.JSON        `gorm:"column:data;type:jsonb" json:"data"`
	Result        *datatypes.JSON       `gorm:"column:result;type:jsonb" json:"result"`
	Status        WebhookStatus         `gorm:"column:status;type:varchar(64);not null" json:"status"`
	CreatedAt     time.Time             `json:"created_at"`
	UpdatedAt     time.Time             `json:"updated_at"`
}

func (WebhookEvent) TableName() string { return "payment_notification_log" }

// Finish records the handling outcome. A nil err with ignored set leaves the
// event as ignored rather than handled.
func (e *WebhookEvent) Finish(result datatypes.JSON, err error, ignored bool) {
	if len(result) > 0 {
		e.Result = &result
	}
	switch {
	case err != nil:
		e.Status = WebhookStatusFailed
	case ignored:
		e.Status = WebhookStatusIgnored
	default:
		e.Status = WebhookStatusHandled
	}
}
