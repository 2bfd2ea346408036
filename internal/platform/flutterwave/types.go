package flutterwave

import "time"

type Customer struct {
	ID    int64  `json:"id,omitempty"`
	Email string `json:"email"`
	Name  string `json:"name,omitempty"`
}

type Customizations struct {
	Title string `json:"title,omitempty"`
}

// PaymentRequest opens a hosted checkout. Amount is in major units, as the
// API expects.
type PaymentRequest struct {
	TxRef          string         `json:"tx_ref"`
	Amount         string         `json:"amount"`
	Currency       string         `json:"currency"`
	RedirectURL    string         `json:"redirect_url"`
	PaymentPlan    int64          `json:"payment_plan,omitempty"`
	Customer       Customer       `json:"customer"`
	Customizations Customizations `json:"customizations"`
	Meta           map[string]any `json:"meta,omitempty"`
}

type envelope[T any] struct {
	Status  string `json:"status"`
	Message string `json:"message"`
	Data    T      `json:"data"`
}

type paymentLink struct {
	Link string `json:"link"`
}

type subscriptionCustomer struct {
	ID            int64  `json:"id"`
	CustomerEmail string `json:"customer_email"`
}

// Subscription is a recurring card charge against a payment plan.
type Subscription struct {
	ID        int64                `json:"id"`
	Amount    float64              `json:"amount"`
	Customer  subscriptionCustomer `json:"customer"`
	Plan      int64                `json:"plan"`
	Status    string               `json:"status"`
	CreatedAt time.Time            `json:"created_at"`
}

func (s Subscription) Active() bool { return s.Status == "active" }

// Transaction is a single charge.
type Transaction struct {
	ID        int64     `json:"id"`
	TxRef     string    `json:"tx_ref"`
	Status    string    `json:"status"`
	Amount    float64   `json:"amount"`
	Currency  string    `json:"currency"`
	Customer  Customer  `json:"customer"`
	CreatedAt time.Time `json:"created_at"`
}

func (t *Transaction) Successful() bool { return t != nil && t.Status == "successful" }

// WebhookEvent is the body of a charge notification.
type WebhookEvent struct {
	Event string      `json:"event"`
	Data  Transaction `json:"data"`
}
