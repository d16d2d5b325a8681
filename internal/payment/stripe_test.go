package payment

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testWebhookSecret = "whsec_test"

func signPayload(payload []byte, secret string) string {
	ts := time.Now().Unix()
	mac := hmac.New(sha256.New, []byte(secret))
	fmt.Fprintf(mac, "%d.%s", ts, payload)
	return fmt.Sprintf("t=%d,v1=%s", ts, hex.EncodeToString(mac.Sum(nil)))
}

func checkoutEvent(eventType, paymentStatus string) []byte {
	return []byte(fmt.Sprintf(`{
		"id": "evt_1",
		"object": "event",
		"api_version": "2023-10-16",
		"type": %q,
		"data": {
			"object": {
				"id": "cs_test_1",
				"object": "checkout.session",
				"payment_status": %q,
				"amount_total": 500,
				"currency": "usd",
				"client_reference_id": "42",
				"metadata": {"message_id": "42", "slug": "abc"},
				"customer_details": {"email": "payer@example.com"}
			}
		}
	}`, eventType, paymentStatus))
}

func TestStripeParseWebhook(t *testing.T) {
	p := NewStripeProcessor("sk_test", testWebhookSecret)
	payload := checkoutEvent("checkout.session.completed", "paid")

	res, err := p.ParseWebhook(payload, signPayload(payload, testWebhookSecret))
	require.NoError(t, err)
	require.NotNil(t, res)
	assert.Equal(t, "cs_test_1", res.ID)
	assert.True(t, res.Paid)
	assert.EqualValues(t, 42, res.MessageID)
	assert.Equal(t, "5.00", res.Amount.StringFixed(2))
	assert.Equal(t, "payer@example.com", res.PayerEmail)
}

func TestStripeParseWebhookUnpaid(t *testing.T) {
	p := NewStripeProcessor("sk_test", testWebhookSecret)
	payload := checkoutEvent("checkout.session.completed", "unpaid")

	res, err := p.ParseWebhook(payload, signPayload(payload, testWebhookSecret))
	require.NoError(t, err)
	assert.False(t, res.Paid)
}

func TestStripeParseWebhookIgnoresOtherEvents(t *testing.T) {
	p := NewStripeProcessor("sk_test", testWebhookSecret)
	payload := checkoutEvent("customer.created", "paid")

	res, err := p.ParseWebhook(payload, signPayload(payload, testWebhookSecret))
	require.NoError(t, err)
	assert.Nil(t, res)
}

func TestStripeParseWebhookBadSignature(t *testing.T) {
	p := NewStripeProcessor("sk_test", testWebhookSecret)
	payload := checkoutEvent("checkout.session.completed", "paid")

	_, err := p.ParseWebhook(payload, signPayload(payload, "whsec_other"))
	assert.ErrorIs(t, err, ErrInvalidSignature)
}

func TestStripeParseWebhookNotConfigured(t *testing.T) {
	p := NewStripeProcessor("sk_test", "")
	_, err := p.ParseWebhook([]byte("{}"), "")
	assert.ErrorIs(t, err, ErrNotConfigured)
}
