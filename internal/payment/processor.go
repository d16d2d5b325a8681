package payment

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/4xmen/payveil/internal/models"
)

// CheckoutRequest describes the hosted checkout a recipient is sent to.
type CheckoutRequest struct {
	MessageID     int64
	Slug          string
	Title         string
	Amount        decimal.Decimal
	Currency      string
	SuccessURL    string
	CancelURL     string
	CustomerEmail string
}

type CheckoutSession struct {
	ID  string `json:"session_id"`
	URL string `json:"checkout_url"`
}

// SessionResult is what the processor reports about a checkout, either when
// polled or through a webhook.
type SessionResult struct {
	ID         string
	Paid       bool
	MessageID  int64
	Amount     decimal.Decimal
	Currency   string
	PayerEmail string
}

// Processor is a hosted-checkout payment provider.
type Processor interface {
	Provider() models.PaymentProvider
	CreateCheckout(ctx context.Context, req CheckoutRequest) (*CheckoutSession, error)
	GetSession(ctx context.Context, id string) (*SessionResult, error)
	// ParseWebhook verifies and decodes a webhook delivery. It returns nil
	// for authentic events that do not concern checkouts.
	ParseWebhook(payload []byte, signature string) (*SessionResult, error)
}

// Transferer moves funds to a connected account.
type Transferer interface {
	Transfer(ctx context.Context, amount decimal.Decimal, currency, destination string) (string, error)
}
