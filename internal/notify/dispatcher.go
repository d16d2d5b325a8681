package notify

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/4xmen/payveil/internal/models"
)

// Owner event types pushed over the dashboard websocket.
const (
	EventUnlocked    = "message_unlocked"
	EventViewed      = "message_viewed"
	EventDisappeared = "message_disappeared"
)

const sendTimeout = 30 * time.Second

// Event is delivered to the owner's open dashboards.
type Event struct {
	Type           string    `json:"type"`
	MessageID      int64     `json:"message_id"`
	Slug           string    `json:"slug"`
	Title          string    `json:"title"`
	Amount         string    `json:"amount,omitempty"`
	ViewCount      int       `json:"view_count,omitempty"`
	ViewsRemaining *int      `json:"views_remaining,omitempty"`
	Reason         string    `json:"reason,omitempty"`
	At             time.Time `json:"at"`
}

type Publisher interface {
	Publish(userID int64, event any)
}

// OnlineChecker reports whether a user has a dashboard connected.
type OnlineChecker interface {
	IsUserOnline(userID int64) bool
}

type Pusher interface {
	SendUnlockNotification(userID int64, title, url string)
}

type UserLookup interface {
	EmailOf(ctx context.Context, userID int64) (string, error)
}

// Dispatcher fans lifecycle events out to email, websocket and web push.
// Everything is best effort: failures are logged and never returned.
type Dispatcher struct {
	mailer    Mailer
	users     UserLookup
	publisher Publisher
	online    OnlineChecker
	pusher    Pusher
	baseURL   string
	log       logrus.FieldLogger
	wg        sync.WaitGroup
}

// NewDispatcher wires the delivery channels. A publisher that also
// implements OnlineChecker suppresses web push for owners who already get the
// websocket event.
func NewDispatcher(mailer Mailer, users UserLookup, publisher Publisher, pusher Pusher, baseURL string, log logrus.FieldLogger) *Dispatcher {
	var online OnlineChecker
	if oc, ok := publisher.(OnlineChecker); ok {
		online = oc
	}
	return &Dispatcher{
		mailer:    mailer,
		users:     users,
		publisher: publisher,
		online:    online,
		pusher:    pusher,
		baseURL:   strings.TrimRight(baseURL, "/"),
		log:       log,
	}
}

// Wait blocks until queued emails have been handed to the mailer.
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}

func (d *Dispatcher) messageURL(slug string) string { return d.baseURL + "/m/" + slug }

func (d *Dispatcher) MessageUnlocked(m *models.Message, p *models.Payment) {
	amount := p.Amount.StringFixed(2) + " " + strings.ToUpper(p.Currency)

	d.publish(m.UserID, Event{
		Type:      EventUnlocked,
		MessageID: m.ID,
		Slug:      m.Slug,
		Title:     m.Title,
		Amount:    amount,
		At:        time.Now().UTC(),
	})
	if d.pusher != nil && !d.isOnline(m.UserID) {
		d.pusher.SendUnlockNotification(m.UserID, "Message unlocked: "+m.Title, "/dashboard/messages")
	}

	owner := mailData{
		Title:        m.Title,
		Amount:       amount,
		Earnings:     p.SenderEarnings.StringFixed(2) + " " + strings.ToUpper(p.Currency),
		DashboardURL: d.baseURL + "/dashboard",
	}
	d.async(func(ctx context.Context) {
		to, err := d.users.EmailOf(ctx, m.UserID)
		if err != nil {
			d.log.WithFields(logrus.Fields{"user_id": m.UserID, "error": err}).Warn("owner email lookup failed")
			return
		}
		d.send(ctx, to, "Your message was unlocked", "owner_unlocked", owner)
	})

	if p.PayerEmail != nil && *p.PayerEmail != "" {
		payer := mailData{
			Title:      m.Title,
			Amount:     amount,
			MessageURL: d.messageURL(m.Slug),
			Disappears: m.MaxViews != nil || m.DeleteAfterMinutes != nil || m.DeleteAt != nil,
		}
		to := *p.PayerEmail
		d.async(func(ctx context.Context) {
			d.send(ctx, to, "Your payment receipt", "payer_receipt", payer)
		})
	}
}

func (d *Dispatcher) MessageViewed(m *models.Message, viewsRemaining *int) {
	d.publish(m.UserID, Event{
		Type:           EventViewed,
		MessageID:      m.ID,
		Slug:           m.Slug,
		Title:          m.Title,
		ViewCount:      m.ViewCount,
		ViewsRemaining: viewsRemaining,
		At:             time.Now().UTC(),
	})
}

func (d *Dispatcher) MessageDisappeared(m *models.Message) {
	reason := ""
	if m.DisappearedReason != nil {
		reason = *m.DisappearedReason
	}
	d.publish(m.UserID, Event{
		Type:      EventDisappeared,
		MessageID: m.ID,
		Slug:      m.Slug,
		Title:     m.Title,
		Reason:    reason,
		At:        time.Now().UTC(),
	})
}

// SendUnlockLink emails a recipient the link to a locked message. Unlike the
// automatic notifications the error is returned to the caller.
func (d *Dispatcher) SendUnlockLink(ctx context.Context, m *models.Message, to string) error {
	body, err := renderEmail("unlock_link", mailData{
		Title:          m.Title,
		RecipientLabel: m.RecipientLabel,
		Amount:         m.Price.StringFixed(2) + " " + strings.ToUpper(m.Currency),
		MessageURL:     d.messageURL(m.Slug),
	})
	if err != nil {
		return err
	}
	return d.mailer.Send(ctx, Email{To: to, Subject: "You have a locked message", HTML: body})
}

func (d *Dispatcher) isOnline(userID int64) bool {
	return d.online != nil && d.online.IsUserOnline(userID)
}

func (d *Dispatcher) publish(userID int64, e Event) {
	if d.publisher != nil {
		d.publisher.Publish(userID, e)
	}
}

func (d *Dispatcher) async(fn func(ctx context.Context)) {
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), sendTimeout)
		defer cancel()
		fn(ctx)
	}()
}

func (d *Dispatcher) send(ctx context.Context, to, subject, tmpl string, data mailData) {
	body, err := renderEmail(tmpl, data)
	if err != nil {
		d.log.WithFields(logrus.Fields{"template": tmpl, "error": err}).Error("email render failed")
		return
	}
	if err := d.mailer.Send(ctx, Email{To: to, Subject: subject, HTML: body}); err != nil {
		d.log.WithFields(logrus.Fields{"to": to, "template": tmpl, "error": err}).Warn("email delivery failed")
	}
}
