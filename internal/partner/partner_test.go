package partner

import (
	"context"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/4xmen/payveil/internal/db"
	"github.com/4xmen/payveil/internal/logging"
	"github.com/4xmen/payveil/internal/message"
	"github.com/4xmen/payveil/internal/models"
)

func newTestService(t *testing.T) *Service {
	t.Helper()
	database, err := db.New(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { database.Close() })
	conn := database.GetConn()

	_, err = conn.Exec(`INSERT INTO users (id, email, password_hash) VALUES (1, 'partner@example.com', 'x')`)
	require.NoError(t, err)

	partners := NewStore(conn)
	require.NoError(t, partners.Create(context.Background(), &models.Partner{
		ID:          "acme",
		Name:        "Acme",
		OwnerUserID: 1,
		MinPrice:    decimal.RequireFromString("1"),
		MaxPrice:    decimal.RequireFromString("50"),
		Currency:    "usd",
		Theme:       models.PartnerTheme{PrimaryColor: "#ff0000", ButtonText: "Unlock"},
		Active:      true,
	}))
	require.NoError(t, partners.Create(context.Background(), &models.Partner{
		ID:          "retired",
		Name:        "Retired",
		OwnerUserID: 1,
		MinPrice:    decimal.RequireFromString("1"),
		MaxPrice:    decimal.RequireFromString("50"),
		Currency:    "usd",
	}))

	messages := message.NewService(message.NewStore(conn), nil, logging.Discard())
	return NewService(partners, messages, "https://payveil.test")
}

func TestWidgetConfig(t *testing.T) {
	svc := newTestService(t)

	cfg, err := svc.WidgetConfig(context.Background(), "acme")
	require.NoError(t, err)
	assert.Equal(t, "Acme", cfg.Name)
	assert.Equal(t, "#ff0000", cfg.Theme.PrimaryColor)
	assert.Equal(t, "1.00", cfg.Pricing.MinPrice)
	assert.Equal(t, "50.00", cfg.Pricing.MaxPrice)

	_, err = svc.WidgetConfig(context.Background(), "retired")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Equal(t, "Partner not found", ErrNotFound.Error())
}

func TestCreateMessage(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	created, err := svc.CreateMessage(ctx, CreateRequest{
		PartnerID:   "acme",
		Content:     "<b>Hello</b> <script>alert(1)</script>there",
		SenderEmail: "fan@example.com",
		Price:       decimal.RequireFromString("5"),
	})
	require.NoError(t, err)
	assert.Equal(t, StatusLocked, created.Status)
	assert.Equal(t, "5.00", created.Price)
	assert.Equal(t, "https://payveil.test/m/"+created.ID, created.UnlockURL)

	m, err := svc.messages.Store().BySlug(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, "Hello there", *m.Body)
	assert.Equal(t, "acme", *m.PartnerID)
	assert.Equal(t, "fan@example.com", *m.SenderEmail)

	st, err := svc.Status(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusLocked, st.Status)
	assert.False(t, st.Unlocked)
}

func TestCreateMessageValidation(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	tests := []struct {
		name string
		req  CreateRequest
		want string
	}{
		{"empty", CreateRequest{PartnerID: "acme", Content: "<p> </p>", Price: decimal.NewFromInt(5)}, "Message content is required"},
		{"too long", CreateRequest{PartnerID: "acme", Content: strings.Repeat("a", MaxContentLength+1), Price: decimal.NewFromInt(5)}, "Message content too long"},
		{"bad email", CreateRequest{PartnerID: "acme", Content: "hi", SenderEmail: "nope", Price: decimal.NewFromInt(5)}, "Invalid email address"},
		{"cheap", CreateRequest{PartnerID: "acme", Content: "hi", Price: decimal.RequireFromString("0.50")}, "Price must be between 1.00 and 50.00"},
		{"pricey", CreateRequest{PartnerID: "acme", Content: "hi", Price: decimal.NewFromInt(51)}, "Price must be between 1.00 and 50.00"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.CreateMessage(ctx, tt.req)
			var verr *message.ValidationError
			require.ErrorAs(t, err, &verr)
			assert.Equal(t, tt.want, verr.Msg)
		})
	}

	_, err := svc.CreateMessage(ctx, CreateRequest{PartnerID: "ghost", Content: "hi", Price: decimal.NewFromInt(5)})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestContentAtLimitIsAccepted(t *testing.T) {
	svc := newTestService(t)
	_, err := svc.CreateMessage(context.Background(), CreateRequest{
		PartnerID: "acme",
		Content:   strings.Repeat("a", MaxContentLength),
		Price:     decimal.NewFromInt(5),
	})
	assert.NoError(t, err)
}

func TestStatusOf(t *testing.T) {
	now := time.Now()
	past := now.Add(-time.Hour)

	assert.Equal(t, StatusLocked, StatusOf(&models.Message{}, now))
	assert.Equal(t, StatusExpired, StatusOf(&models.Message{ExpiresAt: &past}, now))
	assert.Equal(t, StatusUnlocked, StatusOf(&models.Message{Unlocked: true, ExpiresAt: &past}, now))
	assert.Equal(t, StatusDisappeared, StatusOf(&models.Message{Unlocked: true, Disappeared: true}, now))
	assert.Equal(t, StatusDisappeared, StatusOf(&models.Message{DeleteAt: &past}, now))
}

func TestLimits(t *testing.T) {
	limits, err := NewLimits(2, 3, nil)
	require.NoError(t, err)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		lc, err := limits.Take(ctx, ScopeIP, "10.0.0.1")
		require.NoError(t, err)
		assert.False(t, lc.Reached)
	}
	lc, err := limits.Take(ctx, ScopeIP, "10.0.0.1")
	require.NoError(t, err)
	assert.True(t, lc.Reached)
	assert.GreaterOrEqual(t, RetryAfter(lc, time.Now()), int64(1))

	lc, err = limits.Take(ctx, ScopeIP, "10.0.0.2")
	require.NoError(t, err)
	assert.False(t, lc.Reached)

	for i := 0; i < 3; i++ {
		lc, err = limits.Take(ctx, ScopePartner, "acme")
		require.NoError(t, err)
		assert.False(t, lc.Reached)
	}
	lc, err = limits.Take(ctx, ScopePartner, "acme")
	require.NoError(t, err)
	assert.True(t, lc.Reached)

	_, err = limits.Take(ctx, "bogus", "x")
	assert.Error(t, err)
}
