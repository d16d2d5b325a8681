package notify

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"
	"gopkg.in/gomail.v2"
)

// Email is one outgoing HTML message.
type Email struct {
	To      string
	Subject string
	HTML    string
	Text    string
}

type Mailer interface {
	Send(ctx context.Context, e Email) error
}

// SMTPMailer delivers through an SMTP relay.
type SMTPMailer struct {
	dialer *gomail.Dialer
	from   string
}

func NewSMTPMailer(host string, port int, username, password, from string) *SMTPMailer {
	if from == "" {
		from = username
	}
	return &SMTPMailer{
		dialer: gomail.NewDialer(host, port, username, password),
		from:   from,
	}
}

func (m *SMTPMailer) Send(ctx context.Context, e Email) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	msg := gomail.NewMessage()
	msg.SetHeader("From", m.from)
	msg.SetHeader("To", e.To)
	msg.SetHeader("Subject", e.Subject)
	if e.Text != "" {
		msg.SetBody("text/plain", e.Text)
		msg.AddAlternative("text/html", e.HTML)
	} else {
		msg.SetBody("text/html", e.HTML)
	}

	if err := m.dialer.DialAndSend(msg); err != nil {
		return fmt.Errorf("failed to send email to %s: %w", e.To, err)
	}
	return nil
}

// LogMailer only logs. Used when SMTP is not configured.
type LogMailer struct {
	Log logrus.FieldLogger
}

func (m LogMailer) Send(_ context.Context, e Email) error {
	m.Log.WithFields(logrus.Fields{"to": e.To, "subject": e.Subject}).Info("email not sent: smtp is not configured")
	return nil
}
