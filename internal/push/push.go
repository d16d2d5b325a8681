package push

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	webpush "github.com/SherClockHolmes/webpush-go"
	"github.com/sirupsen/logrus"
)

var ErrInvalidSubscription = errors.New("subscription requires endpoint, p256dh and auth")

// Notifier sends Web Push notifications to subscribed owners.
type Notifier struct {
	db              *sql.DB
	vapidPublicKey  string
	vapidPrivateKey string
	subscriber      string
	log             logrus.FieldLogger
	send            func(data []byte, s *webpush.Subscription, opts *webpush.Options) (*http.Response, error)
}

// Subscription represents a stored Web Push subscription.
type Subscription struct {
	Endpoint  string `json:"endpoint"`
	KeyP256dh string `json:"p256dh"`
	KeyAuth   string `json:"auth"`
}

// NewNotifier creates a push Notifier. Returns nil if VAPID keys are empty;
// every method is safe on a nil Notifier.
func NewNotifier(db *sql.DB, vapidPublicKey, vapidPrivateKey, subscriber string, log logrus.FieldLogger) *Notifier {
	if vapidPublicKey == "" || vapidPrivateKey == "" {
		return nil
	}
	if subscriber == "" {
		subscriber = "mailto:push@payveil.local"
	}
	return &Notifier{
		db:              db,
		vapidPublicKey:  vapidPublicKey,
		vapidPrivateKey: vapidPrivateKey,
		subscriber:      subscriber,
		log:             log,
		send:            webpush.SendNotification,
	}
}

// VAPIDPublicKey returns the public VAPID key for the frontend.
func (n *Notifier) VAPIDPublicKey() string {
	if n == nil {
		return ""
	}
	return n.vapidPublicKey
}

// Subscribe stores a subscription for userID. Re-subscribing an endpoint
// moves it to the new user and clears any revocation.
func (n *Notifier) Subscribe(ctx context.Context, userID int64, sub Subscription) error {
	if sub.Endpoint == "" || sub.KeyP256dh == "" || sub.KeyAuth == "" {
		return ErrInvalidSubscription
	}
	_, err := n.db.ExecContext(ctx, `
		INSERT INTO push_subscriptions (user_id, endpoint, p256dh, auth)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (endpoint) DO UPDATE SET
			user_id = excluded.user_id, p256dh = excluded.p256dh, auth = excluded.auth, revoked_at = NULL
	`, userID, sub.Endpoint, sub.KeyP256dh, sub.KeyAuth)
	if err != nil {
		return fmt.Errorf("failed to save push subscription: %w", err)
	}
	return nil
}

// Unsubscribe revokes one endpoint of userID.
func (n *Notifier) Unsubscribe(ctx context.Context, userID int64, endpoint string) error {
	_, err := n.db.ExecContext(ctx, `
		UPDATE push_subscriptions SET revoked_at = CURRENT_TIMESTAMP
		WHERE user_id = ? AND endpoint = ? AND revoked_at IS NULL
	`, userID, endpoint)
	if err != nil {
		return fmt.Errorf("failed to revoke push subscription: %w", err)
	}
	return nil
}

// payload is the JSON structure sent inside the push notification.
type payload struct {
	Title string `json:"title"`
	Body  string `json:"body"`
	URL   string `json:"url"`
}

// SendUnlockNotification pushes to every active subscription of userID.
// Sends run in the background.
func (n *Notifier) SendUnlockNotification(userID int64, title, url string) {
	if n == nil {
		return
	}

	subs, err := n.subscriptions(userID)
	if err != nil {
		n.log.WithFields(logrus.Fields{"user_id": userID, "error": err}).Warn("push: failed to query subscriptions")
		return
	}
	if len(subs) == 0 {
		return
	}

	data, _ := json.Marshal(payload{
		Title: title,
		Body:  "Someone paid to unlock your message.",
		URL:   url,
	})

	n.log.WithFields(logrus.Fields{"user_id": userID, "subscriptions": len(subs)}).Debug("push: sending notification")
	for _, sub := range subs {
		go n.sendToSubscription(sub, data)
	}
}

func (n *Notifier) subscriptions(userID int64) ([]Subscription, error) {
	rows, err := n.db.Query(
		"SELECT endpoint, p256dh, auth FROM push_subscriptions WHERE user_id = ? AND revoked_at IS NULL",
		userID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var subs []Subscription
	for rows.Next() {
		var sub Subscription
		if err := rows.Scan(&sub.Endpoint, &sub.KeyP256dh, &sub.KeyAuth); err != nil {
			continue
		}
		subs = append(subs, sub)
	}
	return subs, rows.Err()
}

func (n *Notifier) sendToSubscription(sub Subscription, data []byte) {
	s := &webpush.Subscription{
		Endpoint: sub.Endpoint,
		Keys: webpush.Keys{
			P256dh: sub.KeyP256dh,
			Auth:   sub.KeyAuth,
		},
	}

	resp, err := n.send(data, s, &webpush.Options{
		VAPIDPublicKey:  n.vapidPublicKey,
		VAPIDPrivateKey: n.vapidPrivateKey,
		Subscriber:      n.subscriber,
		TTL:             86400,
	})
	if err != nil {
		n.log.WithFields(logrus.Fields{"endpoint": sub.Endpoint, "error": err}).Warn("push: send failed")
		return
	}
	defer resp.Body.Close()

	// 410 Gone or 404 means the subscription is expired; clean it up
	if resp.StatusCode == http.StatusGone || resp.StatusCode == http.StatusNotFound {
		n.db.Exec("DELETE FROM push_subscriptions WHERE endpoint = ?", sub.Endpoint)
		n.log.WithFields(logrus.Fields{"endpoint": sub.Endpoint, "status": resp.StatusCode}).Info("push: removed expired subscription")
	}
}
