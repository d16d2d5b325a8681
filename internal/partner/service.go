package partner

import (
	"context"
	"errors"
	"fmt"
	"html"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/go-playground/validator/v10"
	"github.com/microcosm-cc/bluemonday"
	"github.com/shopspring/decimal"

	"github.com/4xmen/payveil/internal/message"
	"github.com/4xmen/payveil/internal/models"
)

const MaxContentLength = 5000

// Message statuses reported to partner sites.
const (
	StatusLocked      = "locked"
	StatusUnlocked    = "unlocked"
	StatusExpired     = "expired"
	StatusDisappeared = "disappeared"
)

type WidgetConfig struct {
	PartnerID string              `json:"partner_id"`
	Name      string              `json:"name"`
	Theme     models.PartnerTheme `json:"theme"`
	Pricing   Pricing             `json:"pricing"`
}

type Pricing struct {
	MinPrice string `json:"min_price"`
	MaxPrice string `json:"max_price"`
	Currency string `json:"currency"`
}

type CreateRequest struct {
	PartnerID   string
	Content     string
	SenderEmail string
	Price       decimal.Decimal
}

type Created struct {
	ID        string    `json:"id"`
	UnlockURL string    `json:"unlock_url"`
	Status    string    `json:"status"`
	Price     string    `json:"price"`
	CreatedAt time.Time `json:"created_at"`
}

type MessageStatus struct {
	ID       string `json:"id"`
	Status   string `json:"status"`
	Unlocked bool   `json:"unlocked"`
}

type Service struct {
	partners *Store
	messages *message.Service
	baseURL  string
	policy   *bluemonday.Policy
	validate *validator.Validate
}

func NewService(partners *Store, messages *message.Service, baseURL string) *Service {
	return &Service{
		partners: partners,
		messages: messages,
		baseURL:  strings.TrimRight(baseURL, "/"),
		policy:   bluemonday.StrictPolicy(),
		validate: validator.New(),
	}
}

func (s *Service) Partners() *Store { return s.partners }

func (s *Service) WidgetConfig(ctx context.Context, id string) (*WidgetConfig, error) {
	p, err := s.partners.ByID(ctx, id)
	if err != nil {
		return nil, err
	}
	return &WidgetConfig{
		PartnerID: p.ID,
		Name:      p.Name,
		Theme:     p.Theme,
		Pricing: Pricing{
			MinPrice: p.MinPrice.StringFixed(2),
			MaxPrice: p.MaxPrice.StringFixed(2),
			Currency: p.Currency,
		},
	}, nil
}

// Sanitize strips all markup from partner-submitted content.
func (s *Service) Sanitize(content string) string {
	return strings.TrimSpace(html.UnescapeString(s.policy.Sanitize(content)))
}

// CreateMessage stores a text message submitted through a partner widget.
// The message belongs to the partner's owner account.
func (s *Service) CreateMessage(ctx context.Context, req CreateRequest) (*Created, error) {
	p, err := s.partners.ByID(ctx, req.PartnerID)
	if err != nil {
		return nil, err
	}

	content := s.Sanitize(req.Content)
	if content == "" {
		return nil, &message.ValidationError{Msg: "Message content is required"}
	}
	if utf8.RuneCountInString(content) > MaxContentLength {
		return nil, &message.ValidationError{Msg: "Message content too long"}
	}

	var senderEmail *string
	if email := strings.TrimSpace(req.SenderEmail); email != "" {
		if err := s.validate.Var(email, "email"); err != nil {
			return nil, &message.ValidationError{Msg: "Invalid email address"}
		}
		senderEmail = &email
	}

	if req.Price.LessThan(p.MinPrice) || req.Price.GreaterThan(p.MaxPrice) {
		return nil, &message.ValidationError{
			Msg: fmt.Sprintf("Price must be between %s and %s", p.MinPrice.StringFixed(2), p.MaxPrice.StringFixed(2)),
		}
	}

	partnerID := p.ID
	m, err := s.messages.Create(ctx, message.CreateParams{
		UserID:      p.OwnerUserID,
		PartnerID:   &partnerID,
		Title:       "Message via " + p.Name,
		Body:        content,
		Price:       req.Price,
		Currency:    p.Currency,
		SenderEmail: senderEmail,
	})
	if err != nil {
		return nil, err
	}

	return &Created{
		ID:        m.Slug,
		UnlockURL: s.baseURL + "/m/" + m.Slug,
		Status:    StatusLocked,
		Price:     m.Price.StringFixed(2),
		CreatedAt: m.CreatedAt,
	}, nil
}

// Status reports the public state of a message by slug.
func (s *Service) Status(ctx context.Context, slug string) (*MessageStatus, error) {
	m, err := s.messages.Store().BySlug(ctx, slug)
	if err != nil {
		return nil, err
	}
	if !m.Active {
		return nil, message.ErrNotFound
	}
	var gone *message.GoneError
	if err := s.messages.CheckAvailable(ctx, m); err != nil && !errors.As(err, &gone) {
		return nil, err
	}
	return &MessageStatus{ID: m.Slug, Status: StatusOf(m, s.messages.Now()), Unlocked: m.Unlocked}, nil
}

// StatusOf derives the public status at now. A message whose clock rule has
// fired reports disappeared even before it is swept.
func StatusOf(m *models.Message, now time.Time) string {
	_, fired := message.TimeExpired(message.StateOf(m), now)
	switch {
	case m.Disappeared || fired:
		return StatusDisappeared
	case m.Unlocked:
		return StatusUnlocked
	case m.Expired(now):
		return StatusExpired
	default:
		return StatusLocked
	}
}
