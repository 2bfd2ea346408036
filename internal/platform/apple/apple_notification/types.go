package apple_notification

import "github.com/golang-jwt/jwt/v5"

// SignedPayloadRequest is the body App Store Server Notifications V2 posts.
type SignedPayloadRequest struct {
	SignedPayload string `json:"signedPayload" binding:"required"`
}

type NotificationPayload struct {
	jwt.RegisteredClaims
	NotificationType string           `json:"notificationType"`
	Subtype          string           `json:"subtype"`
	NotificationUUID string           `json:"notificationUUID"`
	Version          string           `json:"version"`
	SignedDate       int64            `json:"signedDate"`
	Data             NotificationData `json:"data"`
}

type NotificationData struct {
	AppAppleID            int64  `json:"appAppleId"`
	BundleID              string `json:"bundleId"`
	BundleVersion         string `json:"bundleVersion"`
	Environment           string `json:"environment"`
	SignedTransactionInfo string `json:"signedTransactionInfo"`
	SignedRenewalInfo     string `json:"signedRenewalInfo"`
	Status                int    `json:"status"`
}

// TransactionInfo is the decoded signedTransactionInfo. Price is in
// milliunits of Currency.
type TransactionInfo struct {
	jwt.RegisteredClaims
	AppAccountToken             string `json:"appAccountToken"`
	BundleID                    string `json:"bundleId"`
	Currency                    string `json:"currency"`
	Environment                 string `json:"environment"`
	ExpiresDate                 int64  `json:"expiresDate"`
	InAppOwnershipType          string `json:"inAppOwnershipType"`
	IsUpgraded                  bool   `json:"isUpgraded"`
	OriginalTransactionID       string `json:"originalTransactionId"`
	Price                       int64  `json:"price"`
	ProductID                   string `json:"productId"`
	PurchaseDate                int64  `json:"purchaseDate"`
	RevocationDate              int64  `json:"revocationDate"`
	SubscriptionGroupIdentifier string `json:"subscriptionGroupIdentifier"`
	TransactionID               string `json:"transactionId"`
	Type                        string `json:"type"`
}

// RenewalInfo is the decoded signedRenewalInfo.
type RenewalInfo struct {
	jwt.RegisteredClaims
	AutoRenewProductID    string `json:"autoRenewProductId"`
	AutoRenewStatus       int    `json:"autoRenewStatus"`
	ExpirationIntent      int    `json:"expirationIntent"`
	OriginalTransactionID string `json:"originalTransactionId"`
	ProductID             string `json:"productId"`
	RenewalDate           int64  `json:"renewalDate"`
	SignedDate            int64  `json:"signedDate"`
}

// Notification is a verified server notification.
type Notification struct {
	Payload         *NotificationPayload `json:"payload"`
	TransactionInfo *TransactionInfo     `json:"transaction_info,omitempty"`
	RenewalInfo     *RenewalInfo         `json:"renewal_info,omitempty"`
	IsTest          bool                 `json:"is_test"`
	IsSandbox       bool                 `json:"is_sandbox"`
}

// AutoRenewing reports whether the renewal info says the product renews.
func (n *Notification) AutoRenewing() bool {
	return n != nil && n.RenewalInfo != nil && n.RenewalInfo.AutoRenewStatus == 1 && n.RenewalInfo.RenewalDate > 0
}
