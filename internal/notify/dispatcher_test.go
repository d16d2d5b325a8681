package notify

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/4xmen/payveil/internal/logging"
	"github.com/4xmen/payveil/internal/models"
)

type captureMailer struct {
	mu   sync.Mutex
	sent []Email
	err  error
}

func (m *captureMailer) Send(_ context.Context, e Email) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = append(m.sent, e)
	return m.err
}

type staticUsers map[int64]string

func (u staticUsers) EmailOf(_ context.Context, id int64) (string, error) {
	if email, ok := u[id]; ok {
		return email, nil
	}
	return "", errors.New("user not found")
}

type capturePublisher struct {
	mu     sync.Mutex
	events map[int64][]Event
}

func (p *capturePublisher) Publish(userID int64, event any) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.events == nil {
		p.events = map[int64][]Event{}
	}
	p.events[userID] = append(p.events[userID], event.(Event))
}

type presencePublisher struct {
	capturePublisher
	online map[int64]bool
}

func (p *presencePublisher) IsUserOnline(userID int64) bool { return p.online[userID] }

type capturePusher struct {
	titles []string
}

func (p *capturePusher) SendUnlockNotification(_ int64, title, _ string) {
	p.titles = append(p.titles, title)
}

func testMessage() *models.Message {
	maxViews := 1
	return &models.Message{
		ID:       7,
		Slug:     "abcDEF234567",
		UserID:   3,
		Title:    "Lunch <money>",
		Price:    decimal.RequireFromString("5"),
		Currency: "usd",
		MaxViews: &maxViews,
	}
}

func TestMessageUnlockedFansOut(t *testing.T) {
	mailer := &captureMailer{}
	pub := &capturePublisher{}
	pusher := &capturePusher{}
	d := NewDispatcher(mailer, staticUsers{3: "owner@example.com"}, pub, pusher, "https://payveil.test/", logging.Discard())

	payer := "payer@example.com"
	d.MessageUnlocked(testMessage(), &models.Payment{
		Amount:         decimal.RequireFromString("5"),
		SenderEarnings: decimal.RequireFromString("4.5"),
		Currency:       "usd",
		PayerEmail:     &payer,
	})
	d.Wait()

	require.Len(t, mailer.sent, 2)
	byRecipient := map[string]Email{}
	for _, e := range mailer.sent {
		byRecipient[e.To] = e
	}
	owner := byRecipient["owner@example.com"]
	assert.Contains(t, owner.HTML, "4.50 USD")
	assert.Contains(t, owner.HTML, "Lunch &lt;money&gt;")
	receipt := byRecipient["payer@example.com"]
	assert.Contains(t, receipt.HTML, "https://payveil.test/m/abcDEF234567")
	assert.Contains(t, receipt.HTML, "disappears after it is viewed")

	require.Len(t, pub.events[3], 1)
	assert.Equal(t, EventUnlocked, pub.events[3][0].Type)
	assert.Equal(t, []string{"Message unlocked: Lunch <money>"}, pusher.titles)
}

func TestMessageUnlockedSkipsPushForOnlineOwner(t *testing.T) {
	pub := &presencePublisher{online: map[int64]bool{3: true}}
	pusher := &capturePusher{}
	d := NewDispatcher(&captureMailer{}, staticUsers{}, pub, pusher, "https://payveil.test", logging.Discard())

	d.MessageUnlocked(testMessage(), &models.Payment{Amount: decimal.NewFromInt(5), Currency: "usd"})
	d.Wait()

	require.Len(t, pub.events[3], 1)
	assert.Empty(t, pusher.titles)

	pub.online[3] = false
	d.MessageUnlocked(testMessage(), &models.Payment{Amount: decimal.NewFromInt(5), Currency: "usd"})
	d.Wait()
	assert.Len(t, pusher.titles, 1)
}

func TestMessageUnlockedSwallowsFailures(t *testing.T) {
	mailer := &captureMailer{err: errors.New("smtp down")}
	d := NewDispatcher(mailer, staticUsers{}, nil, nil, "https://payveil.test", logging.Discard())

	d.MessageUnlocked(testMessage(), &models.Payment{Amount: decimal.NewFromInt(5), Currency: "usd"})
	d.Wait()

	// Owner lookup failed and there is no payer email.
	assert.Empty(t, mailer.sent)
}

func TestViewAndDisappearEvents(t *testing.T) {
	pub := &capturePublisher{}
	d := NewDispatcher(&captureMailer{}, staticUsers{}, pub, nil, "", logging.Discard())

	m := testMessage()
	m.ViewCount = 1
	remaining := 0
	d.MessageViewed(m, &remaining)

	reason := "view limit reached"
	m.DisappearedReason = &reason
	d.MessageDisappeared(m)

	events := pub.events[3]
	require.Len(t, events, 2)
	assert.Equal(t, EventViewed, events[0].Type)
	assert.Equal(t, 0, *events[0].ViewsRemaining)
	assert.Equal(t, EventDisappeared, events[1].Type)
	assert.Equal(t, reason, events[1].Reason)
}

func TestSendUnlockLink(t *testing.T) {
	mailer := &captureMailer{}
	d := NewDispatcher(mailer, staticUsers{}, nil, nil, "https://payveil.test", logging.Discard())

	m := testMessage()
	m.RecipientLabel = "Sam"
	require.NoError(t, d.SendUnlockLink(context.Background(), m, "sam@example.com"))

	require.Len(t, mailer.sent, 1)
	assert.Equal(t, "sam@example.com", mailer.sent[0].To)
	assert.Contains(t, mailer.sent[0].HTML, "Sam, you have a locked message")
	assert.Contains(t, mailer.sent[0].HTML, "5.00 USD")
}

func TestRenderEmailUnknownTemplate(t *testing.T) {
	_, err := renderEmail("nope", mailData{})
	assert.Error(t, err)
}
