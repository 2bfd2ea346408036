package types

type PaymentProvider string

const (
	PaymentProviderApple PaymentProvider = "apple"
	PaymentProviderInner PaymentProvider = "inner"
	// PaymentProviderCard is the hosted card checkout used on the web.
	PaymentProviderCard PaymentProvider = "card"
)

type PaymentItemType string

const (
	PaymentItemTypeAutoRenewableSubscription PaymentItemType = "auto_renewable_subscription"
	PaymentItemTypeNonRenewableSubscription  PaymentItemType = "non_renewable_subscription"
)

// PaymentItem is a store package: what the store sells and which plan it unlocks.
type PaymentItem struct {
	ID             string          `json:"id" mapstructure:"id"`
	ProviderID     PaymentProvider `json:"provider_id" mapstructure:"provider_id"`
	ProviderItemID string          `json:"provider_item_id" mapstructure:"provider_item_id"`
	Type           PaymentItemType `json:"type" mapstructure:"type"`
	// Entitlement is the plan identifier granted while the item is active.
	Entitlement Plan `json:"entitlement" mapstructure:"entitlement"`
	// Title and price are display-only, shown in offerings.
	Title    string `json:"title" mapstructure:"title"`
	Price    int64  `json:"price" mapstructure:"price"`
	Currency string `json:"currency" mapstructure:"currency"`
	// 时长类商品对应的时长，如果非时长类商品，则DurationHour为nil
	DurationHour *int64 `json:"duration_hour" mapstructure:"duration_hour"`
}

func (item *PaymentItem) IsSubscription() bool {
	return item.Type == PaymentItemTypeAutoRenewableSubscription || item.Type == PaymentItemTypeNonRenewableSubscription
}

func (item *PaymentItem) Renewable() bool {
	return item.Type == PaymentItemTypeAutoRenewableSubscription
}
