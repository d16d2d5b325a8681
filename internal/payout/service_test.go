package payout

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/4xmen/payveil/internal/db"
	"github.com/4xmen/payveil/internal/logging"
)

type fakeTransfer struct {
	calls       int
	destination string
	err         error
}

func (f *fakeTransfer) Transfer(_ context.Context, _ decimal.Decimal, _, destination string) (string, error) {
	f.calls++
	f.destination = destination
	if f.err != nil {
		return "", f.err
	}
	return "tr_123", nil
}

type fakeCrypto struct {
	withdrawals []Withdrawal
}

func (f *fakeCrypto) CreatePayout(_ context.Context, w []Withdrawal) (*CreatedPayout, error) {
	f.withdrawals = w
	return &CreatedPayout{ID: "np_1"}, nil
}

// newTestDB creates users 1..3 where user 1 earned 18.00 across two payments.
func newTestDB(t *testing.T) *sql.DB {
	t.Helper()
	database, err := db.New(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { database.Close() })
	conn := database.GetConn()

	_, err = conn.Exec(`
		INSERT INTO users (id, email, password_hash, payout_method, payout_address, stripe_account_id) VALUES
			(1, 'bank@example.com', 'x', 'bank', NULL, 'acct_1'),
			(2, 'crypto@example.com', 'x', 'crypto', 'TXYZ', NULL),
			(3, 'none@example.com', 'x', NULL, NULL, NULL);
		INSERT INTO messages (id, slug, user_id, title, body, price_cents) VALUES
			(1, 'aaaa', 1, 'one', 'b', 1000),
			(2, 'bbbb', 2, 'two', 'b', 500);
		INSERT INTO payments (message_id, provider, provider_tx_id, amount_cents, platform_fee_cents, sender_earnings_cents) VALUES
			(1, 'stripe', 'cs_1', 1000, 100, 900),
			(1, 'stripe', 'cs_2', 1000, 100, 900),
			(2, 'stripe', 'cs_3', 500, 50, 450);
	`)
	require.NoError(t, err)
	return conn
}

func TestBalances(t *testing.T) {
	svc := NewService(newTestDB(t), nil, nil, "usd", logging.Discard())

	balances, err := svc.Balances(context.Background())
	require.NoError(t, err)
	require.Len(t, balances, 3)
	assert.Equal(t, "18.00", balances[0].Owed.StringFixed(2))
	assert.Equal(t, "4.50", balances[1].Earned.StringFixed(2))
	assert.True(t, balances[2].Owed.IsZero())
}

func TestCreateStripeTransfer(t *testing.T) {
	transfer := &fakeTransfer{}
	svc := NewService(newTestDB(t), transfer, nil, "usd", logging.Discard())
	ctx := context.Background()

	h, err := svc.Create(ctx, Request{UserID: 1, Amount: decimal.RequireFromString("10")}, 99)
	require.NoError(t, err)
	assert.Equal(t, "acct_1", transfer.destination)
	assert.Equal(t, "tr_123", *h.ProviderRef)
	assert.Equal(t, "acct_1", h.Address)
	assert.Equal(t, int64(99), h.CreatedBy)

	b, err := svc.BalanceOf(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, "8.00", b.Owed.StringFixed(2))

	_, err = svc.Create(ctx, Request{UserID: 1, Amount: decimal.RequireFromString("8.01")}, 99)
	assert.ErrorIs(t, err, ErrExceedsBalance)
	assert.Equal(t, 1, transfer.calls)
}

func TestCreateTransferFailureRecordsNothing(t *testing.T) {
	svc := NewService(newTestDB(t), &fakeTransfer{err: errors.New("declined")}, nil, "usd", logging.Discard())
	ctx := context.Background()

	_, err := svc.Create(ctx, Request{UserID: 1, Amount: decimal.RequireFromString("5")}, 99)
	require.Error(t, err)

	history, err := svc.History(ctx, 1)
	require.NoError(t, err)
	assert.Empty(t, history)
}

func TestCreateCryptoPayout(t *testing.T) {
	crypto := &fakeCrypto{}
	svc := NewService(newTestDB(t), nil, crypto, "usd", logging.Discard())

	h, err := svc.Create(context.Background(), Request{UserID: 2, Amount: decimal.RequireFromString("4.5")}, 99)
	require.NoError(t, err)
	require.Len(t, crypto.withdrawals, 1)
	assert.Equal(t, "TXYZ", crypto.withdrawals[0].Address)
	assert.Equal(t, DefaultCryptoAsset, crypto.withdrawals[0].Currency)
	assert.Equal(t, "np_1", *h.ProviderRef)
}

func TestCreateManualAndValidation(t *testing.T) {
	svc := NewService(newTestDB(t), nil, nil, "usd", logging.Discard())
	ctx := context.Background()

	h, err := svc.Create(ctx, Request{UserID: 1, Amount: decimal.RequireFromString("1"), Notes: " wire sent "}, 99)
	require.NoError(t, err)
	assert.Nil(t, h.ProviderRef)
	assert.Equal(t, "wire sent", h.Notes)

	_, err = svc.Create(ctx, Request{UserID: 3, Amount: decimal.RequireFromString("1")}, 99)
	assert.ErrorIs(t, err, ErrNoPayoutMethod)
	_, err = svc.Create(ctx, Request{UserID: 1, Amount: decimal.Zero}, 99)
	assert.ErrorIs(t, err, ErrInvalidAmount)
	_, err = svc.Create(ctx, Request{UserID: 42, Amount: decimal.RequireFromString("1")}, 99)
	assert.ErrorIs(t, err, ErrUserNotFound)

	all, err := svc.History(ctx, 0)
	require.NoError(t, err)
	assert.Len(t, all, 1)
}
