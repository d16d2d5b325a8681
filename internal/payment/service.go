package payment

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/4xmen/payveil/internal/message"
	"github.com/4xmen/payveil/internal/metrics"
	"github.com/4xmen/payveil/internal/models"
)

// UnlockListener is told once per message, by the call that flipped its
// unlock gate. Implementations must not block.
type UnlockListener interface {
	MessageUnlocked(m *models.Message, p *models.Payment)
}

// Availability applies clock-based disappearance to a message before it is
// sold. message.Service implements it.
type Availability interface {
	CheckAvailable(ctx context.Context, m *models.Message) error
}

type Service struct {
	messages   *message.Store
	available  Availability
	ledger     *Ledger
	processor  Processor
	feePercent decimal.Decimal
	baseURL    string
	listener   UnlockListener
	log        logrus.FieldLogger
	now        func() time.Time
}

type Option func(*Service)

func WithUnlockListener(l UnlockListener) Option { return func(s *Service) { s.listener = l } }
func WithClock(now func() time.Time) Option       { return func(s *Service) { s.now = now } }
func WithAvailability(a Availability) Option      { return func(s *Service) { s.available = a } }

func NewService(messages *message.Store, ledger *Ledger, processor Processor, feePercent decimal.Decimal, baseURL string, log logrus.FieldLogger, opts ...Option) *Service {
	s := &Service{
		messages:   messages,
		ledger:     ledger,
		processor:  processor,
		feePercent: feePercent,
		baseURL:    strings.TrimRight(baseURL, "/"),
		log:        log,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// SplitFee returns the platform fee and the sender's share of amount.
func SplitFee(amount, feePercent decimal.Decimal) (fee, earnings decimal.Decimal) {
	fee = amount.Mul(feePercent).Div(decimal.NewFromInt(100)).Round(2)
	return fee, amount.Sub(fee)
}

// StartCheckout opens a hosted checkout for the message behind slug.
func (s *Service) StartCheckout(ctx context.Context, slug, email string) (*CheckoutSession, error) {
	m, err := s.messages.BySlug(ctx, slug)
	if err != nil {
		return nil, err
	}
	if !m.Active {
		return nil, message.ErrNotFound
	}
	if err := s.checkAvailable(ctx, m); err != nil {
		return nil, err
	}
	switch {
	case m.Unlocked:
		return nil, message.ErrAlreadyUnlocked
	case m.Expired(s.now()):
		return nil, message.ErrExpired
	}
	if s.processor == nil {
		return nil, &ProcessorError{Err: ErrNotConfigured}
	}

	session, err := s.processor.CreateCheckout(ctx, CheckoutRequest{
		MessageID:     m.ID,
		Slug:          m.Slug,
		Title:         m.Title,
		Amount:        m.Price,
		Currency:      m.Currency,
		SuccessURL:    s.baseURL + "/m/" + m.Slug + "?session_id={CHECKOUT_SESSION_ID}",
		CancelURL:     s.baseURL + "/m/" + m.Slug,
		CustomerEmail: strings.TrimSpace(email),
	})
	if err != nil {
		s.log.WithFields(logrus.Fields{"message_id": m.ID, "error": err}).Error("checkout creation failed")
		return nil, &ProcessorError{Err: err}
	}
	return session, nil
}

// HandleWebhook verifies a provider webhook and records the payment it
// reports. Events that are not paid checkouts are acknowledged and ignored.
func (s *Service) HandleWebhook(ctx context.Context, payload []byte, signature string) error {
	if s.processor == nil {
		return ErrNotConfigured
	}
	res, err := s.processor.ParseWebhook(payload, signature)
	if err != nil {
		return err
	}
	if res == nil || !res.Paid {
		return nil
	}

	_, _, err = s.RecordPayment(ctx, res.MessageID, s.processor.Provider(), res.ID, res.Amount, res.Currency, res.PayerEmail)
	if errors.Is(err, message.ErrNotFound) {
		// Retrying cannot bring the row back; acknowledge so the provider
		// stops redelivering and leave the payment for manual reconciliation.
		s.log.WithFields(logrus.Fields{
			"message_id": res.MessageID,
			"tx":         res.ID,
			"amount":     res.Amount.StringFixed(2),
		}).Error("paid checkout for unknown message")
		return nil
	}
	return err
}

// Verify is the polling fallback for a missed webhook. It reports whether the
// message is unlocked after the check.
func (s *Service) Verify(ctx context.Context, slug, sessionID string) (bool, error) {
	m, err := s.messages.BySlug(ctx, slug)
	if err != nil {
		return false, err
	}
	if !m.Active {
		return false, message.ErrNotFound
	}
	if err := s.checkAvailable(ctx, m); err != nil {
		return false, err
	}
	if m.Unlocked {
		return true, nil
	}
	if s.processor == nil {
		return false, &ProcessorError{Err: ErrNotConfigured}
	}

	res, err := s.processor.GetSession(ctx, sessionID)
	if err != nil {
		return false, &ProcessorError{Err: err}
	}
	if res.MessageID != m.ID {
		return false, ErrSessionMismatch
	}
	if !res.Paid {
		return false, nil
	}

	if _, _, err := s.RecordPayment(ctx, m.ID, s.processor.Provider(), res.ID, res.Amount, res.Currency, res.PayerEmail); err != nil {
		return false, err
	}
	return true, nil
}

// RecordPayment appends a payment to the ledger at most once per provider
// transaction and makes sure the message is unlocked. It is safe to call
// concurrently from the webhook and the polling path; the listener fires
// only for the call that flipped the gate.
func (s *Service) RecordPayment(ctx context.Context, messageID int64, provider models.PaymentProvider, txID string, amount decimal.Decimal, currency, payerEmail string) (*models.Payment, bool, error) {
	if txID == "" {
		return nil, false, fmt.Errorf("missing provider transaction id")
	}

	m, err := s.messages.ByID(ctx, messageID)
	if err != nil {
		return nil, false, err
	}

	existing, err := s.ledger.ByProviderTx(ctx, provider, txID)
	if err != nil {
		return nil, false, err
	}

	p := existing
	if p == nil {
		if amount.IsZero() {
			amount = m.Price
		}
		if currency == "" {
			currency = m.Currency
		}
		fee, earnings := SplitFee(amount, s.feePercent)
		candidate := &models.Payment{
			MessageID:      messageID,
			Provider:       provider,
			ProviderTxID:   txID,
			Amount:         amount,
			PlatformFee:    fee,
			SenderEarnings: earnings,
			Currency:       strings.ToLower(currency),
		}
		if payerEmail != "" {
			candidate.PayerEmail = &payerEmail
		}

		var inserted bool
		p, inserted, err = s.ledger.Insert(ctx, candidate, s.now())
		if err != nil {
			return nil, false, err
		}
		if inserted {
			s.log.WithFields(logrus.Fields{
				"message_id": messageID,
				"provider":   provider,
				"tx":         txID,
				"amount":     amount.StringFixed(2),
			}).Info("payment recorded")
		}
	}
	if p.MessageID != messageID {
		return nil, false, fmt.Errorf("%w: %s/%s", ErrSessionMismatch, provider, txID)
	}

	flipped, err := s.messages.MarkUnlocked(ctx, messageID, s.now())
	if err != nil {
		return nil, false, err
	}
	if flipped {
		metrics.Unlocks.WithLabelValues(string(provider)).Inc()
		now := s.now().UTC()
		m.Unlocked = true
		m.UnlockedAt = &now
		if m.Disappeared {
			s.log.WithFields(logrus.Fields{
				"message_id": messageID,
				"reason":     derefString(m.DisappearedReason),
			}).Warn("payment settled after the message disappeared")
			return p, flipped, nil
		}
		if s.listener != nil {
			s.listener.MessageUnlocked(m, p)
		}
	}
	return p, flipped, nil
}

// ByMessage lists an owner's payments for one message.
func (s *Service) ByMessage(ctx context.Context, messageID, userID int64) ([]*models.Payment, error) {
	if _, err := s.messages.ByOwner(ctx, messageID, userID); err != nil {
		return nil, err
	}
	return s.ledger.ByMessage(ctx, messageID)
}

// checkAvailable refuses a message whose clock rule has fired. Without an
// Availability the state is only read, not persisted.
func (s *Service) checkAvailable(ctx context.Context, m *models.Message) error {
	if s.available != nil {
		return s.available.CheckAvailable(ctx, m)
	}
	if m.Disappeared {
		return &message.GoneError{Reason: derefString(m.DisappearedReason)}
	}
	if reason, fired := message.TimeExpired(message.StateOf(m), s.now()); fired {
		return &message.GoneError{Reason: reason}
	}
	return nil
}

// IsClientError reports whether err is caused by the caller rather than the
// provider or storage.
func IsClientError(err error) bool {
	return errors.Is(err, ErrInvalidSignature) || errors.Is(err, ErrSessionMismatch)
}

func derefString(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
