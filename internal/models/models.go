package models

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

type User struct {
	ID              int64     `json:"id"`
	Email           string    `json:"email"`
	DisplayName     *string   `json:"display_name,omitempty"`
	PayoutMethod    *string   `json:"payout_method,omitempty"`
	PayoutAddress   *string   `json:"payout_address,omitempty"`
	StripeAccountID *string   `json:"stripe_account_id,omitempty"`
	IsAdmin         bool      `json:"is_admin"`
	CreatedAt       time.Time `json:"created_at"`
}

// Payout methods a user can register.
const (
	PayoutBank    = "bank"
	PayoutCrypto  = "crypto"
	PayoutPayPal  = "paypal"
	PayoutVenmo   = "venmo"
	PayoutCashApp = "cashapp"
	PayoutZelle   = "zelle"
)

func ValidPayoutMethod(method string) bool {
	switch method {
	case PayoutBank, PayoutCrypto, PayoutPayPal, PayoutVenmo, PayoutCashApp, PayoutZelle:
		return true
	}
	return false
}

// PaymentProvider tags which processor settled a payment.
type PaymentProvider string

const (
	ProviderStripe      PaymentProvider = "stripe"
	ProviderCoinbase    PaymentProvider = "coinbase"
	ProviderNOWPayments PaymentProvider = "nowpayments"
)

func ParsePaymentProvider(s string) (PaymentProvider, error) {
	switch p := PaymentProvider(s); p {
	case ProviderStripe, ProviderCoinbase, ProviderNOWPayments:
		return p, nil
	}
	return "", fmt.Errorf("unknown payment provider: %q", s)
}

// Message kinds.
const (
	KindText = "text"
	KindFile = "file"
)

type Message struct {
	ID                 int64           `json:"id"`
	Slug               string          `json:"slug"`
	UserID             int64           `json:"user_id"`
	PartnerID          *string         `json:"partner_id,omitempty"`
	Title              string          `json:"title"`
	RecipientLabel     string          `json:"recipient_label"`
	Body               *string         `json:"body,omitempty"`
	FileKey            *string         `json:"-"`
	FileName           *string         `json:"file_name,omitempty"`
	FileType           *string         `json:"file_type,omitempty"`
	PreviewURL         *string         `json:"preview_url,omitempty"`
	Price              decimal.Decimal `json:"-"`
	Currency           string          `json:"currency"`
	Unlocked           bool            `json:"unlocked"`
	UnlockedAt         *time.Time      `json:"unlocked_at,omitempty"`
	Active             bool            `json:"active"`
	ExpiresAt          *time.Time      `json:"expires_at,omitempty"`
	ViewCount          int             `json:"view_count"`
	MaxViews           *int            `json:"max_views,omitempty"`
	FirstViewedAt      *time.Time      `json:"first_viewed_at,omitempty"`
	DeleteAfterMinutes *int            `json:"delete_after_minutes,omitempty"`
	DeleteAt           *time.Time      `json:"delete_at,omitempty"`
	Disappeared        bool            `json:"disappeared"`
	DisappearedReason  *string         `json:"disappeared_reason,omitempty"`
	DisappearedAt      *time.Time      `json:"disappeared_at,omitempty"`
	DeletedAt          *time.Time      `json:"-"`
	SenderEmail        *string         `json:"sender_email,omitempty"`
	CreatedAt          time.Time       `json:"created_at"`
	UpdatedAt          time.Time       `json:"updated_at"`
}

// Kind reports whether the message carries text or a file.
func (m *Message) Kind() string {
	if m.FileKey != nil || m.FileName != nil {
		return KindFile
	}
	return KindText
}

// Expired reports whether the payment window closed before now.
func (m *Message) Expired(now time.Time) bool {
	return m.ExpiresAt != nil && !now.Before(*m.ExpiresAt)
}

type Payment struct {
	ID             int64           `json:"id"`
	MessageID      int64           `json:"message_id"`
	Provider       PaymentProvider `json:"provider"`
	ProviderTxID   string          `json:"provider_tx_id"`
	Amount         decimal.Decimal `json:"amount"`
	PlatformFee    decimal.Decimal `json:"platform_fee"`
	SenderEarnings decimal.Decimal `json:"sender_earnings"`
	Currency       string          `json:"currency"`
	PayerEmail     *string         `json:"payer_email,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
}

type PayoutHistory struct {
	ID          int64           `json:"id"`
	UserID      int64           `json:"user_id"`
	Amount      decimal.Decimal `json:"amount"`
	Currency    string          `json:"currency"`
	Method      string          `json:"method"`
	Address     string          `json:"address"`
	Notes       string          `json:"notes"`
	ProviderRef *string         `json:"provider_ref,omitempty"`
	CreatedBy   int64           `json:"created_by"`
	CreatedAt   time.Time       `json:"created_at"`
}

type PartnerTheme struct {
	PrimaryColor    string `json:"primary_color"`
	BackgroundColor string `json:"background_color"`
	TextColor       string `json:"text_color"`
	ButtonText      string `json:"button_text"`
	LogoURL         string `json:"logo_url,omitempty"`
}

type Partner struct {
	ID          string          `json:"id"`
	Name        string          `json:"name"`
	OwnerUserID int64           `json:"owner_user_id"`
	MinPrice    decimal.Decimal `json:"min_price"`
	MaxPrice    decimal.Decimal `json:"max_price"`
	Currency    string          `json:"currency"`
	Theme       PartnerTheme    `json:"theme"`
	Active      bool            `json:"active"`
	CreatedAt   time.Time       `json:"created_at"`
}

// Cents converts a decimal amount to integer minor units.
func Cents(d decimal.Decimal) int64 {
	return d.Shift(2).Round(0).IntPart()
}

// FromCents converts integer minor units back to a decimal amount.
func FromCents(c int64) decimal.Decimal {
	return decimal.New(c, -2)
}
