package message

import (
	"strings"
	"time"
	"unicode/utf8"

	"github.com/shopspring/decimal"
)

const (
	MaxTitleLength = 200
	MaxBodyLength  = 20000
)

var maxPrice = decimal.NewFromInt(10000)

// CreateParams describes a new message. Exactly one of Body and File must be
// set.
type CreateParams struct {
	UserID             int64
	PartnerID          *string
	Title              string
	RecipientLabel     string
	Body               string
	File               *FileRef
	Price              decimal.Decimal
	Currency           string
	ExpiresAt          *time.Time
	MaxViews           *int
	DeleteAfterMinutes *int
	DeleteAt           *time.Time
	SenderEmail        *string
}

// FileRef points at an object already written to storage.
type FileRef struct {
	Key         string
	Name        string
	ContentType string
}

// Validate normalises the params in place and rejects bad input.
func (p *CreateParams) Validate(now time.Time) error {
	p.Title = strings.TrimSpace(p.Title)
	p.RecipientLabel = strings.TrimSpace(p.RecipientLabel)

	if p.Title == "" {
		return invalid("title is required")
	}
	if utf8.RuneCountInString(p.Title) > MaxTitleLength {
		return invalid("title must be at most %d characters", MaxTitleLength)
	}

	hasBody := strings.TrimSpace(p.Body) != ""
	hasFile := p.File != nil
	if hasBody == hasFile {
		return invalid("provide either a message body or a file, not both")
	}
	if hasBody && utf8.RuneCountInString(p.Body) > MaxBodyLength {
		return invalid("message body must be at most %d characters", MaxBodyLength)
	}

	if !p.Price.IsPositive() {
		return invalid("price must be greater than zero")
	}
	if p.Price.GreaterThan(maxPrice) {
		return invalid("price must be at most %s", maxPrice.StringFixed(2))
	}
	if p.Price.Exponent() < -2 && !p.Price.Equal(p.Price.Round(2)) {
		return invalid("price must have at most two decimal places")
	}

	if p.MaxViews != nil && *p.MaxViews < 1 {
		return invalid("max_views must be at least 1")
	}
	if p.DeleteAfterMinutes != nil && *p.DeleteAfterMinutes < 1 {
		return invalid("delete_after_minutes must be at least 1")
	}
	if p.DeleteAt != nil && !p.DeleteAt.After(now) {
		return invalid("delete_at must be in the future")
	}
	if p.ExpiresAt != nil && !p.ExpiresAt.After(now) {
		return invalid("expires_at must be in the future")
	}

	if p.Currency == "" {
		p.Currency = "usd"
	}
	return nil
}
