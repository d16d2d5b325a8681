package payout

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/4xmen/payveil/internal/metrics"
	"github.com/4xmen/payveil/internal/models"
	"github.com/4xmen/payveil/internal/payment"
)

var (
	ErrUserNotFound   = errors.New("user not found")
	ErrNoPayoutMethod = errors.New("user has no payout method configured")
	ErrInvalidAmount  = errors.New("payout amount must be positive")
	ErrExceedsBalance = errors.New("payout exceeds owed balance")
)

// DefaultCryptoAsset is the NOWPayments currency code used when a crypto
// payout request names none.
const DefaultCryptoAsset = "usdttrc20"

// Payout channels.
const (
	ChannelStripe      = "stripe_transfer"
	ChannelNOWPayments = "nowpayments"
	ChannelManual      = "manual"
)

// CryptoPayer creates crypto payout batches.
type CryptoPayer interface {
	CreatePayout(ctx context.Context, withdrawals []Withdrawal) (*CreatedPayout, error)
}

// Balance is what the platform owes one user.
type Balance struct {
	UserID          int64           `json:"user_id"`
	Email           string          `json:"email"`
	PayoutMethod    *string         `json:"payout_method,omitempty"`
	PayoutAddress   *string         `json:"payout_address,omitempty"`
	StripeAccountID *string         `json:"stripe_account_id,omitempty"`
	Earned          decimal.Decimal `json:"earned"`
	Paid            decimal.Decimal `json:"paid"`
	Owed            decimal.Decimal `json:"owed"`
}

// Request asks for a payout of Amount to the user's configured method.
type Request struct {
	UserID      int64           `json:"user_id" binding:"required"`
	Amount      decimal.Decimal `json:"amount"`
	Notes       string          `json:"notes"`
	CryptoAsset string          `json:"crypto_currency"`
}

type Service struct {
	db       *sql.DB
	transfer payment.Transferer
	crypto   CryptoPayer
	currency string
	log      logrus.FieldLogger
	now      func() time.Time

	// serializes balance check and insert
	mu sync.Mutex
}

// NewService wires payouts. transfer and crypto may be nil, in which case
// those methods are recorded as manual payouts.
func NewService(db *sql.DB, transfer payment.Transferer, crypto CryptoPayer, currency string, log logrus.FieldLogger) *Service {
	return &Service{db: db, transfer: transfer, crypto: crypto, currency: currency, log: log, now: time.Now}
}

const balanceQuery = `
	SELECT u.id, u.email, u.payout_method, u.payout_address, u.stripe_account_id,
		COALESCE((SELECT SUM(p.sender_earnings_cents) FROM payments p
			JOIN messages m ON m.id = p.message_id WHERE m.user_id = u.id), 0),
		COALESCE((SELECT SUM(h.amount_cents) FROM payout_history h WHERE h.user_id = u.id), 0)
	FROM users u`

func scanBalance(row interface{ Scan(...any) error }) (*Balance, error) {
	b := &Balance{}
	var earned, paid int64
	if err := row.Scan(&b.UserID, &b.Email, &b.PayoutMethod, &b.PayoutAddress, &b.StripeAccountID, &earned, &paid); err != nil {
		return nil, err
	}
	b.Earned = models.FromCents(earned)
	b.Paid = models.FromCents(paid)
	b.Owed = b.Earned.Sub(b.Paid)
	return b, nil
}

// Balances lists every user with earnings, paid-out total and amount owed.
func (s *Service) Balances(ctx context.Context) ([]*Balance, error) {
	rows, err := s.db.QueryContext(ctx, balanceQuery+` ORDER BY u.id`)
	if err != nil {
		return nil, fmt.Errorf("failed to query balances: %w", err)
	}
	defer rows.Close()

	balances := []*Balance{}
	for rows.Next() {
		b, err := scanBalance(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan balance: %w", err)
		}
		balances = append(balances, b)
	}
	return balances, rows.Err()
}

func (s *Service) BalanceOf(ctx context.Context, userID int64) (*Balance, error) {
	b, err := scanBalance(s.db.QueryRowContext(ctx, balanceQuery+` WHERE u.id = ?`, userID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query balance: %w", err)
	}
	return b, nil
}

// Create pays a user and records the payout. Bank payouts to a Stripe
// connected account go out as a Stripe transfer, crypto payouts as a
// NOWPayments batch; everything else is recorded for manual settlement.
func (s *Service) Create(ctx context.Context, req Request, adminID int64) (*models.PayoutHistory, error) {
	if !req.Amount.IsPositive() {
		return nil, ErrInvalidAmount
	}
	amount := req.Amount.Round(2)

	s.mu.Lock()
	defer s.mu.Unlock()

	b, err := s.BalanceOf(ctx, req.UserID)
	if err != nil {
		return nil, err
	}
	if b.PayoutMethod == nil || *b.PayoutMethod == "" {
		return nil, ErrNoPayoutMethod
	}
	if amount.GreaterThan(b.Owed) {
		return nil, fmt.Errorf("%w: owed %s", ErrExceedsBalance, b.Owed.StringFixed(2))
	}

	method := *b.PayoutMethod
	address := deref(b.PayoutAddress)
	channel := ChannelManual
	var ref *string

	switch {
	case method == models.PayoutBank && b.StripeAccountID != nil && s.transfer != nil:
		id, err := s.transfer.Transfer(ctx, amount, s.currency, *b.StripeAccountID)
		if err != nil {
			return nil, err
		}
		channel, ref = ChannelStripe, &id
		if address == "" {
			address = *b.StripeAccountID
		}
	case method == models.PayoutCrypto && s.crypto != nil:
		asset := strings.ToLower(strings.TrimSpace(req.CryptoAsset))
		if asset == "" {
			asset = DefaultCryptoAsset
		}
		created, err := s.crypto.CreatePayout(ctx, []Withdrawal{{Address: address, Currency: asset, Amount: amount}})
		if err != nil {
			return nil, err
		}
		channel, ref = ChannelNOWPayments, &created.ID
	}

	now := s.now().UTC()
	h := &models.PayoutHistory{
		UserID:      req.UserID,
		Amount:      amount,
		Currency:    s.currency,
		Method:      method,
		Address:     address,
		Notes:       strings.TrimSpace(req.Notes),
		ProviderRef: ref,
		CreatedBy:   adminID,
		CreatedAt:   now,
	}
	result, err := s.db.ExecContext(ctx, `
		INSERT INTO payout_history (user_id, amount_cents, currency, method, address, notes, provider_ref, created_by, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, h.UserID, models.Cents(h.Amount), h.Currency, h.Method, h.Address, h.Notes, h.ProviderRef, h.CreatedBy, now)
	if err != nil {
		// money already moved
		s.log.WithFields(logrus.Fields{
			"user_id": h.UserID, "amount": h.Amount.StringFixed(2), "channel": channel, "provider_ref": deref(ref), "error": err,
		}).Error("payout sent but not recorded")
		return nil, fmt.Errorf("failed to record payout: %w", err)
	}
	if h.ID, err = result.LastInsertId(); err != nil {
		return nil, fmt.Errorf("failed to get payout id: %w", err)
	}

	metrics.Payouts.WithLabelValues(method, channel).Inc()
	s.log.WithFields(logrus.Fields{
		"payout_id": h.ID, "user_id": h.UserID, "amount": h.Amount.StringFixed(2), "channel": channel,
	}).Info("payout recorded")
	return h, nil
}

// History lists payouts newest first. userID 0 lists every user.
func (s *Service) History(ctx context.Context, userID int64) ([]*models.PayoutHistory, error) {
	query := `SELECT id, user_id, amount_cents, currency, method, address, notes, provider_ref, created_by, created_at
		FROM payout_history`
	var args []any
	if userID != 0 {
		query += ` WHERE user_id = ?`
		args = append(args, userID)
	}
	query += ` ORDER BY created_at DESC, id DESC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query payouts: %w", err)
	}
	defer rows.Close()

	history := []*models.PayoutHistory{}
	for rows.Next() {
		h := &models.PayoutHistory{}
		var cents int64
		if err := rows.Scan(&h.ID, &h.UserID, &cents, &h.Currency, &h.Method, &h.Address, &h.Notes,
			&h.ProviderRef, &h.CreatedBy, &h.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan payout: %w", err)
		}
		h.Amount = models.FromCents(cents)
		history = append(history, h)
	}
	return history, rows.Err()
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
