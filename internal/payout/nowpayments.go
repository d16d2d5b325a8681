package payout

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"github.com/tidwall/gjson"
)

var ErrNOWPaymentsDisabled = errors.New("NOWPayments is not configured")

// APIError is a non-2xx answer from NOWPayments.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("nowpayments: %d %s", e.Status, e.Message)
}

// NOWPayments is a thin client for the NOWPayments mass-payout API. Payout
// endpoints need a short-lived bearer token obtained with the account
// email and password; it is cached until shortly before it expires.
type NOWPayments struct {
	baseURL    string
	apiKey     string
	email      string
	password   string
	httpClient *http.Client
	now        func() time.Time

	mu       sync.Mutex
	token    string
	tokenExp time.Time
}

type NOWPaymentsConfig struct {
	BaseURL  string
	APIKey   string
	Email    string
	Password string
	Timeout  time.Duration
}

// NewNOWPayments returns nil when no API key is configured.
func NewNOWPayments(cfg NOWPaymentsConfig) *NOWPayments {
	if cfg.APIKey == "" {
		return nil
	}
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	return &NOWPayments{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:     cfg.APIKey,
		email:      cfg.Email,
		password:   cfg.Password,
		httpClient: &http.Client{Timeout: timeout},
		now:        time.Now,
	}
}

// Withdrawal is one transfer inside a payout batch.
type Withdrawal struct {
	Address  string          `json:"address"`
	Currency string          `json:"currency"`
	Amount   decimal.Decimal `json:"amount"`
}

// MarshalJSON sends the amount as a JSON number.
func (w Withdrawal) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Address  string      `json:"address"`
		Currency string      `json:"currency"`
		Amount   json.Number `json:"amount"`
	}{w.Address, w.Currency, json.Number(w.Amount.String())})
}

// CreatedPayout is the batch NOWPayments created. Raw holds the full answer.
type CreatedPayout struct {
	ID     string
	Status string
	Raw    json.RawMessage
}

func (c *NOWPayments) CreatePayout(ctx context.Context, withdrawals []Withdrawal) (*CreatedPayout, error) {
	if c == nil {
		return nil, ErrNOWPaymentsDisabled
	}
	res, err := c.do(ctx, http.MethodPost, "/v1/payout", map[string]any{"withdrawals": withdrawals}, true)
	if err != nil {
		return nil, err
	}
	id := res.Get("id").String()
	if id == "" {
		return nil, fmt.Errorf("nowpayments: payout response has no id")
	}
	return &CreatedPayout{
		ID:     id,
		Status: res.Get("withdrawals.0.status").String(),
		Raw:    json.RawMessage(res.Raw),
	}, nil
}

// VerifyPayout confirms a batch with the 2FA code mailed to the account.
func (c *NOWPayments) VerifyPayout(ctx context.Context, id, code string) (json.RawMessage, error) {
	if c == nil {
		return nil, ErrNOWPaymentsDisabled
	}
	res, err := c.do(ctx, http.MethodPost, "/v1/payout/"+id+"/verify", map[string]string{"verification_code": code}, true)
	if err != nil {
		return nil, err
	}
	return json.RawMessage(res.Raw), nil
}

func (c *NOWPayments) PayoutStatus(ctx context.Context, id string) (json.RawMessage, error) {
	if c == nil {
		return nil, ErrNOWPaymentsDisabled
	}
	res, err := c.do(ctx, http.MethodGet, "/v1/payout/"+id, nil, true)
	if err != nil {
		return nil, err
	}
	return json.RawMessage(res.Raw), nil
}

func (c *NOWPayments) Balance(ctx context.Context) (json.RawMessage, error) {
	if c == nil {
		return nil, ErrNOWPaymentsDisabled
	}
	res, err := c.do(ctx, http.MethodGet, "/v1/balance", nil, false)
	if err != nil {
		return nil, err
	}
	return json.RawMessage(res.Raw), nil
}

func (c *NOWPayments) bearer(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.token != "" && c.now().Before(c.tokenExp) {
		return c.token, nil
	}

	res, err := c.send(ctx, http.MethodPost, "/v1/auth", map[string]string{"email": c.email, "password": c.password}, "")
	if err != nil {
		return "", fmt.Errorf("nowpayments auth: %w", err)
	}
	token := res.Get("token").String()
	if token == "" {
		return "", fmt.Errorf("nowpayments auth: no token in response")
	}

	c.token = token
	c.tokenExp = tokenExpiry(token, c.now())
	return token, nil
}

// tokenExpiry reads the exp claim of a JWT without verifying it and backs
// off thirty seconds. Tokens without a readable exp are kept four minutes.
func tokenExpiry(token string, now time.Time) time.Time {
	fallback := now.Add(4 * time.Minute)
	parts := strings.Split(token, ".")
	if len(parts) != 3 {
		return fallback
	}
	payload, err := base64.RawURLEncoding.DecodeString(parts[1])
	if err != nil {
		return fallback
	}
	exp := gjson.GetBytes(payload, "exp")
	if !exp.Exists() {
		return fallback
	}
	return time.Unix(exp.Int(), 0).Add(-30 * time.Second)
}

func (c *NOWPayments) do(ctx context.Context, method, path string, body any, needsAuth bool) (gjson.Result, error) {
	var token string
	if needsAuth {
		var err error
		if token, err = c.bearer(ctx); err != nil {
			return gjson.Result{}, err
		}
	}
	return c.send(ctx, method, path, body, token)
}

func (c *NOWPayments) send(ctx context.Context, method, path string, body any, token string) (gjson.Result, error) {
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return gjson.Result{}, fmt.Errorf("marshal request: %w", err)
		}
		reader = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return gjson.Result{}, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("x-api-key", c.apiKey)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return gjson.Result{}, fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return gjson.Result{}, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg := gjson.GetBytes(respBody, "message").String()
		if msg == "" {
			msg = strings.TrimSpace(string(respBody))
		}
		return gjson.Result{}, &APIError{Status: resp.StatusCode, Message: msg}
	}
	if !gjson.ValidBytes(respBody) {
		return gjson.Result{}, fmt.Errorf("nowpayments: invalid JSON response")
	}
	return gjson.ParseBytes(respBody), nil
}
