package notify

import (
	"bytes"
	"fmt"
	"html/template"
)

var templates = template.Must(template.New("email").Parse(`
{{define "layout"}}<!doctype html>
<html><body style="font-family:Helvetica,Arial,sans-serif;background:#f3f4f6;padding:24px">
<div style="max-width:520px;margin:0 auto;background:#fff;border-radius:8px;padding:24px">
{{template "content" .}}
<p style="color:#9ca3af;font-size:12px;margin-top:32px">Sent by Payveil</p>
</div></body></html>{{end}}

{{define "owner_unlocked"}}{{template "layout" .}}{{end}}
{{define "payer_receipt"}}{{template "layout" .}}{{end}}
{{define "unlock_link"}}{{template "layout" .}}{{end}}
`))

// Each mail kind gets its own clone so the "content" blocks do not collide.
var contentBlocks = map[string]string{
	"owner_unlocked": `{{define "content"}}
<h2>Your message was unlocked</h2>
<p>"{{.Title}}" was just unlocked for {{.Amount}}.</p>
<p>Your earnings: <strong>{{.Earnings}}</strong></p>
<p><a href="{{.DashboardURL}}">Open your dashboard</a></p>
{{end}}`,
	"payer_receipt": `{{define "content"}}
<h2>Payment received</h2>
<p>You paid {{.Amount}} to unlock "{{.Title}}".</p>
<p><a href="{{.MessageURL}}">View the message</a></p>
{{if .Disappears}}<p>This message disappears after it is viewed, so open it when you are ready.</p>{{end}}
{{end}}`,
	"unlock_link": `{{define "content"}}
<h2>{{if .RecipientLabel}}{{.RecipientLabel}}, you{{else}}You{{end}} have a locked message</h2>
<p>"{{.Title}}" is waiting for you. Unlock it for {{.Amount}}.</p>
<p><a href="{{.MessageURL}}">Open the message</a></p>
{{end}}`,
}

type mailData struct {
	Title          string
	RecipientLabel string
	Amount         string
	Earnings       string
	MessageURL     string
	DashboardURL   string
	Disappears     bool
}

func renderEmail(name string, data mailData) (string, error) {
	block, ok := contentBlocks[name]
	if !ok {
		return "", fmt.Errorf("unknown email template %q", name)
	}
	t, err := templates.Clone()
	if err != nil {
		return "", err
	}
	if _, err := t.Parse(block); err != nil {
		return "", fmt.Errorf("failed to parse email template %q: %w", name, err)
	}

	var buf bytes.Buffer
	if err := t.ExecuteTemplate(&buf, name, data); err != nil {
		return "", fmt.Errorf("failed to render email %q: %w", name, err)
	}
	return buf.String(), nil
}
