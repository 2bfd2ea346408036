package handlers

import (
	"github.com/fatflowers/subtrack/internal/app/service/entitlement"
	"github.com/fatflowers/subtrack/internal/app/service/ledger"
	nh "github.com/fatflowers/subtrack/internal/app/service/notification_handler"
	"github.com/fatflowers/subtrack/internal/app/service/statistics"
	"github.com/fatflowers/subtrack/internal/app/service/subscription"
	"github.com/fatflowers/subtrack/internal/app/service/user"
	"github.com/fatflowers/subtrack/internal/models"
	"github.com/fatflowers/subtrack/pkg/response"
)

// Envelopes below exist only for the generated API docs; swag cannot
// instantiate response.APIResponse[T].

type RespOK struct {
	Code    response.APIResponseCode `json:"code"`
	Message string                   `json:"message"`
	Data    interface{}              `json:"data"`
}

type RespUser struct {
	Code    response.APIResponseCode `json:"code"`
	Message string                   `json:"message"`
	Data    models.User              `json:"data"`
}

type RespUserList struct {
	Code    response.APIResponseCode `json:"code"`
	Message string                   `json:"message"`
	Data    user.ListResponse        `json:"data"`
}

type RespNotificationPreference struct {
	Code    response.APIResponseCode      `json:"code"`
	Message string                        `json:"message"`
	Data    models.NotificationPreference `json:"data"`
}

type RespCategory struct {
	Code    response.APIResponseCode    `json:"code"`
	Message string                      `json:"message"`
	Data    models.SubscriptionCategory `json:"data"`
}

type RespCategories struct {
	Code    response.APIResponseCode      `json:"code"`
	Message string                        `json:"message"`
	Data    []models.SubscriptionCategory `json:"data"`
}

type RespSubscriptionView struct {
	Code    response.APIResponseCode `json:"code"`
	Message string                   `json:"message"`
	Data    subscription.View        `json:"data"`
}

type RespSubscriptionMutation struct {
	Code    response.APIResponseCode `json:"code"`
	Message string                   `json:"message"`
	Data    MutationResult           `json:"data"`
}

type RespBillingTransactions struct {
	Code    response.APIResponseCode    `json:"code"`
	Message string                      `json:"message"`
	Data    []models.BillingTransaction `json:"data"`
}

type RespEntitlements struct {
	Code    response.APIResponseCode `json:"code"`
	Message string                   `json:"message"`
	Data    EntitlementsView         `json:"data"`
}

type RespOfferings struct {
	Code    response.APIResponseCode `json:"code"`
	Message string                   `json:"message"`
	Data    []entitlement.Offering   `json:"data"`
}

type RespEntitlementOp struct {
	Code    response.APIResponseCode `json:"code"`
	Message string                   `json:"message"`
	Data    EntitlementOpResult      `json:"data"`
}

type RespStatistic struct {
	Code    response.APIResponseCode `json:"code"`
	Message string                   `json:"message"`
	Data    statistics.Response      `json:"data"`
}

type RespStoreTransactions struct {
	Code    response.APIResponseCode `json:"code"`
	Message string                   `json:"message"`
	Data    ledger.ScanResponse      `json:"data"`
}

type RespSendFreeGift struct {
	Code    response.APIResponseCode `json:"code"`
	Message string                   `json:"message"`
	Data    SendFreeGiftResponse     `json:"data"`
}

type RespWebhook struct {
	Code    response.APIResponseCode `json:"code"`
	Message string                   `json:"message"`
	Data    nh.Outcome               `json:"data"`
}
