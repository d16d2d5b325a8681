package payment

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/4xmen/payveil/internal/models"
)

const paymentColumns = `
	id, message_id, provider, provider_tx_id, amount_cents, platform_fee_cents,
	sender_earnings_cents, currency, payer_email, created_at`

// Ledger is the append-only record of unlock payments.
type Ledger struct {
	db *sql.DB
}

func NewLedger(db *sql.DB) *Ledger {
	return &Ledger{db: db}
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPayment(row rowScanner) (*models.Payment, error) {
	p := &models.Payment{}
	var provider string
	var amount, fee, earnings int64
	err := row.Scan(&p.ID, &p.MessageID, &provider, &p.ProviderTxID, &amount, &fee, &earnings,
		&p.Currency, &p.PayerEmail, &p.CreatedAt)
	if err != nil {
		return nil, err
	}
	if p.Provider, err = models.ParsePaymentProvider(provider); err != nil {
		return nil, fmt.Errorf("payment %d: %w", p.ID, err)
	}
	p.Amount = models.FromCents(amount)
	p.PlatformFee = models.FromCents(fee)
	p.SenderEarnings = models.FromCents(earnings)
	return p, nil
}

// ByProviderTx returns the payment recorded for a provider transaction, or
// nil if there is none.
func (l *Ledger) ByProviderTx(ctx context.Context, provider models.PaymentProvider, txID string) (*models.Payment, error) {
	row := l.db.QueryRowContext(ctx, `SELECT `+paymentColumns+` FROM payments WHERE provider = ? AND provider_tx_id = ?`,
		string(provider), txID)
	p, err := scanPayment(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query payment: %w", err)
	}
	return p, nil
}

// Insert appends p unless its (provider, provider_tx_id) already exists. The
// unique index decides between racing callers; the loser reads the winner's
// row back. The returned bool reports whether this call inserted.
func (l *Ledger) Insert(ctx context.Context, p *models.Payment, now time.Time) (*models.Payment, bool, error) {
	result, err := l.db.ExecContext(ctx, `
		INSERT INTO payments (
			message_id, provider, provider_tx_id, amount_cents, platform_fee_cents,
			sender_earnings_cents, currency, payer_email, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (provider, provider_tx_id) DO NOTHING
	`, p.MessageID, string(p.Provider), p.ProviderTxID, models.Cents(p.Amount), models.Cents(p.PlatformFee),
		models.Cents(p.SenderEarnings), p.Currency, p.PayerEmail, now.UTC())
	if err != nil {
		return nil, false, fmt.Errorf("failed to insert payment: %w", err)
	}

	n, err := result.RowsAffected()
	if err != nil {
		return nil, false, err
	}
	if n == 0 {
		existing, err := l.ByProviderTx(ctx, p.Provider, p.ProviderTxID)
		if err != nil {
			return nil, false, err
		}
		if existing == nil {
			return nil, false, fmt.Errorf("payment %s/%s vanished after conflict", p.Provider, p.ProviderTxID)
		}
		return existing, false, nil
	}

	id, err := result.LastInsertId()
	if err != nil {
		return nil, false, fmt.Errorf("failed to get payment id: %w", err)
	}
	inserted := *p
	inserted.ID = id
	inserted.CreatedAt = now.UTC()
	return &inserted, true, nil
}

func (l *Ledger) ByMessage(ctx context.Context, messageID int64) ([]*models.Payment, error) {
	rows, err := l.db.QueryContext(ctx, `
		SELECT `+paymentColumns+` FROM payments WHERE message_id = ? ORDER BY created_at ASC, id ASC
	`, messageID)
	if err != nil {
		return nil, fmt.Errorf("failed to list payments: %w", err)
	}
	defer rows.Close()

	payments := []*models.Payment{}
	for rows.Next() {
		p, err := scanPayment(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan payment: %w", err)
		}
		payments = append(payments, p)
	}
	return payments, rows.Err()
}

// Count returns the number of payments and the gross amount in cents across
// all messages.
func (l *Ledger) Count(ctx context.Context) (int64, int64, error) {
	var n, gross int64
	err := l.db.QueryRowContext(ctx, `SELECT COUNT(*), COALESCE(SUM(amount_cents), 0) FROM payments`).Scan(&n, &gross)
	return n, gross, err
}
