package payment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/client"
	"github.com/stripe/stripe-go/v76/webhook"

	"github.com/4xmen/payveil/internal/models"
)

var ErrNotConfigured = errors.New("payment processor is not configured")

// StripeProcessor uses Stripe Checkout Sessions.
type StripeProcessor struct {
	api           *client.API
	webhookSecret string
}

func NewStripeProcessor(secretKey, webhookSecret string) *StripeProcessor {
	sc := &client.API{}
	sc.Init(secretKey, nil)
	return &StripeProcessor{api: sc, webhookSecret: webhookSecret}
}

func (p *StripeProcessor) Provider() models.PaymentProvider { return models.ProviderStripe }

func (p *StripeProcessor) CreateCheckout(ctx context.Context, req CheckoutRequest) (*CheckoutSession, error) {
	params := &stripe.CheckoutSessionParams{
		Mode:              stripe.String(string(stripe.CheckoutSessionModePayment)),
		SuccessURL:        stripe.String(req.SuccessURL),
		CancelURL:         stripe.String(req.CancelURL),
		ClientReferenceID: stripe.String(strconv.FormatInt(req.MessageID, 10)),
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{
				PriceData: &stripe.CheckoutSessionLineItemPriceDataParams{
					Currency: stripe.String(strings.ToLower(req.Currency)),
					ProductData: &stripe.CheckoutSessionLineItemPriceDataProductDataParams{
						Name: stripe.String("Unlock: " + req.Title),
					},
					UnitAmount: stripe.Int64(models.Cents(req.Amount)),
				},
				Quantity: stripe.Int64(1),
			},
		},
	}
	if req.CustomerEmail != "" {
		params.CustomerEmail = stripe.String(req.CustomerEmail)
	}
	params.AddMetadata("message_id", strconv.FormatInt(req.MessageID, 10))
	params.AddMetadata("slug", req.Slug)
	params.Context = ctx

	s, err := p.api.CheckoutSessions.New(params)
	if err != nil {
		return nil, fmt.Errorf("failed to create stripe checkout session: %w", err)
	}
	return &CheckoutSession{ID: s.ID, URL: s.URL}, nil
}

func (p *StripeProcessor) GetSession(ctx context.Context, id string) (*SessionResult, error) {
	params := &stripe.CheckoutSessionParams{}
	params.Context = ctx

	s, err := p.api.CheckoutSessions.Get(id, params)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch stripe checkout session: %w", err)
	}
	return sessionResult(s)
}

func (p *StripeProcessor) ParseWebhook(payload []byte, signature string) (*SessionResult, error) {
	if p.webhookSecret == "" {
		return nil, ErrNotConfigured
	}

	event, err := webhook.ConstructEventWithOptions(payload, signature, p.webhookSecret,
		webhook.ConstructEventOptions{IgnoreAPIVersionMismatch: true})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}

	switch event.Type {
	case "checkout.session.completed", "checkout.session.async_payment_succeeded":
	default:
		return nil, nil
	}

	var s stripe.CheckoutSession
	if err := json.Unmarshal(event.Data.Raw, &s); err != nil {
		return nil, fmt.Errorf("failed to decode checkout session: %w", err)
	}
	return sessionResult(&s)
}

// Transfer pays out to a Stripe connected account.
func (p *StripeProcessor) Transfer(ctx context.Context, amount decimal.Decimal, currency, destination string) (string, error) {
	params := &stripe.TransferParams{
		Amount:      stripe.Int64(models.Cents(amount)),
		Currency:    stripe.String(strings.ToLower(currency)),
		Destination: stripe.String(destination),
	}
	params.Context = ctx

	t, err := p.api.Transfers.New(params)
	if err != nil {
		return "", fmt.Errorf("failed to create stripe transfer: %w", err)
	}
	return t.ID, nil
}

func sessionResult(s *stripe.CheckoutSession) (*SessionResult, error) {
	ref := s.Metadata["message_id"]
	if ref == "" {
		ref = s.ClientReferenceID
	}
	messageID, err := strconv.ParseInt(ref, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("checkout session %s has no message reference", s.ID)
	}

	res := &SessionResult{
		ID:        s.ID,
		Paid:      s.PaymentStatus == stripe.CheckoutSessionPaymentStatusPaid,
		MessageID: messageID,
		Amount:    models.FromCents(s.AmountTotal),
		Currency:  string(s.Currency),
	}
	if s.CustomerDetails != nil && s.CustomerDetails.Email != "" {
		res.PayerEmail = s.CustomerDetails.Email
	} else {
		res.PayerEmail = s.CustomerEmail
	}
	return res, nil
}
