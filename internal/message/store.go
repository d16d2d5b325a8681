package message

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/4xmen/payveil/internal/models"
)

// maxViewAttempts bounds the optimistic retry loop in ConsumeView.
const maxViewAttempts = 8

const messageColumns = `
	id, slug, user_id, partner_id, title, recipient_label, body, file_key, file_name, file_type,
	preview_url, price_cents, currency, unlocked, unlocked_at, active, expires_at, view_count,
	max_views, first_viewed_at, delete_after_minutes, delete_at, disappeared, disappeared_reason,
	disappeared_at, deleted_at, sender_email, created_at, updated_at`

type Store struct {
	db *sql.DB
}

func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanMessage(row rowScanner) (*models.Message, error) {
	m := &models.Message{}
	var priceCents int64
	err := row.Scan(
		&m.ID, &m.Slug, &m.UserID, &m.PartnerID, &m.Title, &m.RecipientLabel, &m.Body, &m.FileKey,
		&m.FileName, &m.FileType, &m.PreviewURL, &priceCents, &m.Currency, &m.Unlocked, &m.UnlockedAt,
		&m.Active, &m.ExpiresAt, &m.ViewCount, &m.MaxViews, &m.FirstViewedAt, &m.DeleteAfterMinutes,
		&m.DeleteAt, &m.Disappeared, &m.DisappearedReason, &m.DisappearedAt, &m.DeletedAt, &m.SenderEmail,
		&m.CreatedAt, &m.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	m.Price = models.FromCents(priceCents)
	return m, nil
}

// Create inserts a validated message and fills in its id and slug.
func (s *Store) Create(ctx context.Context, p CreateParams, now time.Time) (*models.Message, error) {
	m := &models.Message{
		UserID:             p.UserID,
		PartnerID:          p.PartnerID,
		Title:              p.Title,
		RecipientLabel:     p.RecipientLabel,
		Price:              p.Price,
		Currency:           p.Currency,
		Active:             true,
		ExpiresAt:          utcPtr(p.ExpiresAt),
		MaxViews:           p.MaxViews,
		DeleteAfterMinutes: p.DeleteAfterMinutes,
		DeleteAt:           utcPtr(p.DeleteAt),
		SenderEmail:        p.SenderEmail,
		CreatedAt:          now.UTC(),
		UpdatedAt:          now.UTC(),
	}
	if p.File != nil {
		m.FileKey = &p.File.Key
		m.FileName = &p.File.Name
		m.FileType = &p.File.ContentType
	} else {
		body := p.Body
		m.Body = &body
	}

	// Retry on the (unlikely) slug collision.
	for attempt := 0; attempt < 3; attempt++ {
		m.Slug = NewSlug()
		result, err := s.db.ExecContext(ctx, `
			INSERT INTO messages (
				slug, user_id, partner_id, title, recipient_label, body, file_key, file_name, file_type,
				price_cents, currency, active, expires_at, max_views, delete_after_minutes, delete_at,
				sender_email, created_at, updated_at
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 1, ?, ?, ?, ?, ?, ?, ?)
		`, m.Slug, m.UserID, m.PartnerID, m.Title, m.RecipientLabel, m.Body, m.FileKey, m.FileName, m.FileType,
			models.Cents(m.Price), m.Currency, m.ExpiresAt, m.MaxViews, m.DeleteAfterMinutes, m.DeleteAt,
			m.SenderEmail, m.CreatedAt, m.UpdatedAt)
		if err != nil {
			if strings.Contains(err.Error(), "UNIQUE constraint failed: messages.slug") {
				continue
			}
			return nil, fmt.Errorf("failed to insert message: %w", err)
		}

		id, err := result.LastInsertId()
		if err != nil {
			return nil, fmt.Errorf("failed to get message id: %w", err)
		}
		m.ID = id
		return m, nil
	}

	return nil, fmt.Errorf("failed to allocate a unique slug")
}

func (s *Store) ByID(ctx context.Context, id int64) (*models.Message, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+messageColumns+` FROM messages WHERE id = ?`, id)
	return scanMessage(row)
}

func (s *Store) BySlug(ctx context.Context, slug string) (*models.Message, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+messageColumns+` FROM messages WHERE slug = ?`, slug)
	return scanMessage(row)
}

func (s *Store) ByFileKey(ctx context.Context, key string) (*models.Message, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+messageColumns+` FROM messages WHERE file_key = ?`, key)
	return scanMessage(row)
}

func (s *Store) ByPreviewURL(ctx context.Context, url string) (*models.Message, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+messageColumns+` FROM messages WHERE preview_url = ?`, url)
	return scanMessage(row)
}

// ByOwner returns a message only if userID owns it and has not deleted it;
// otherwise ErrNotFound.
func (s *Store) ByOwner(ctx context.Context, id, userID int64) (*models.Message, error) {
	m, err := s.ByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if m.UserID != userID || m.DeletedAt != nil {
		return nil, ErrNotFound
	}
	return m, nil
}

func (s *Store) ListByUser(ctx context.Context, userID int64, limit, offset int) ([]*models.Message, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+messageColumns+` FROM messages
		WHERE user_id = ? AND deleted_at IS NULL
		ORDER BY created_at DESC, id DESC
		LIMIT ? OFFSET ?
	`, userID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list messages: %w", err)
	}
	defer rows.Close()

	messages := []*models.Message{}
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan message: %w", err)
		}
		messages = append(messages, m)
	}
	return messages, rows.Err()
}

func (s *Store) SetActive(ctx context.Context, id, userID int64, active bool, now time.Time) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE messages SET active = ?, updated_at = ? WHERE id = ? AND user_id = ? AND deleted_at IS NULL
	`, active, now.UTC(), id, userID)
	if err != nil {
		return fmt.Errorf("failed to update message: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *Store) SetPreviewURL(ctx context.Context, id int64, url string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE messages SET preview_url = ? WHERE id = ?`, url, id)
	return err
}

// Delete retires a message owned by userID. The row stays behind as a
// tombstone so a payment settled after the delete still reaches the ledger.
// The content is purged and the message is disappeared for good; SetActive
// and the owner queries no longer see it.
func (s *Store) Delete(ctx context.Context, id, userID int64, now time.Time) error {
	now = now.UTC()
	result, err := s.db.ExecContext(ctx, `
		UPDATE messages
		SET active = 0, disappeared = 1,
			disappeared_reason = COALESCE(disappeared_reason, ?),
			disappeared_at = COALESCE(disappeared_at, ?),
			deleted_at = ?, body = NULL, file_key = NULL, preview_url = NULL, updated_at = ?
		WHERE id = ? AND user_id = ? AND deleted_at IS NULL
	`, ReasonDeleted, now, now, now, id, userID)
	if err != nil {
		return fmt.Errorf("failed to delete message: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// MarkUnlocked flips unlocked from false to true. It reports whether this
// call performed the transition; repeated calls are no-ops.
func (s *Store) MarkUnlocked(ctx context.Context, id int64, now time.Time) (bool, error) {
	result, err := s.db.ExecContext(ctx, `
		UPDATE messages SET unlocked = 1, unlocked_at = ?, updated_at = ?
		WHERE id = ? AND unlocked = 0
	`, now.UTC(), now.UTC(), id)
	if err != nil {
		return false, fmt.Errorf("failed to unlock message: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// MarkDisappeared moves a message to its terminal state and purges the body
// and file reference. It reports whether this call performed the transition.
func (s *Store) MarkDisappeared(ctx context.Context, id int64, reason string, now time.Time) (bool, error) {
	result, err := s.db.ExecContext(ctx, `
		UPDATE messages
		SET disappeared = 1, disappeared_reason = ?, disappeared_at = ?, body = NULL, file_key = NULL, updated_at = ?
		WHERE id = ? AND disappeared = 0
	`, reason, now.UTC(), now.UTC(), id)
	if err != nil {
		return false, fmt.Errorf("failed to mark message disappeared: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// ViewOutcome is the result of ConsumeView.
type ViewOutcome struct {
	Message  *models.Message
	Decision Decision
	// Purged is true when this call moved the message to disappeared. The
	// caller owns cleanup of the stored file named by PurgedFileKey.
	Purged        bool
	PurgedFileKey *string
}

// ConsumeView checks the unlock gate, evaluates the disappearance rules and
// counts the view as one transition. The increment is a conditional update
// guarded by the view_count that was evaluated, so concurrent viewers can
// never push the count past max_views.
func (s *Store) ConsumeView(ctx context.Context, slug string, now time.Time) (*ViewOutcome, error) {
	now = now.UTC()

	for attempt := 0; attempt < maxViewAttempts; attempt++ {
		m, err := s.BySlug(ctx, slug)
		if err != nil {
			return nil, err
		}
		if !m.Active {
			return nil, ErrNotFound
		}
		if m.Disappeared {
			return nil, &GoneError{Reason: deref(m.DisappearedReason)}
		}
		if !m.Unlocked {
			return nil, ErrLocked
		}

		d := Evaluate(StateOf(m), now)
		if !d.Allowed {
			fileKey := m.FileKey
			purged, err := s.MarkDisappeared(ctx, m.ID, d.Reason, now)
			if err != nil {
				return nil, err
			}
			m.Disappeared = true
			m.DisappearedReason = &d.Reason
			m.Body = nil
			m.FileKey = nil
			out := &ViewOutcome{Message: m, Decision: d, Purged: purged}
			if purged {
				out.PurgedFileKey = fileKey
			}
			return out, nil
		}

		result, err := s.db.ExecContext(ctx, `
			UPDATE messages
			SET view_count = view_count + 1, first_viewed_at = COALESCE(first_viewed_at, ?), updated_at = ?
			WHERE id = ? AND view_count = ? AND unlocked = 1 AND active = 1 AND disappeared = 0
		`, now, now, m.ID, m.ViewCount)
		if err != nil {
			return nil, fmt.Errorf("failed to record view: %w", err)
		}
		n, err := result.RowsAffected()
		if err != nil {
			return nil, err
		}
		if n == 0 {
			// Lost the race to another viewer; re-read and re-evaluate.
			continue
		}

		m.ViewCount++
		if m.FirstViewedAt == nil {
			m.FirstViewedAt = &now
		}
		return &ViewOutcome{Message: m, Decision: d}, nil
	}

	return nil, ErrViewContention
}

// DueForSweep lists undisappeared messages whose clock-based rules may have
// fired by now.
func (s *Store) DueForSweep(ctx context.Context, now time.Time) ([]*models.Message, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+messageColumns+` FROM messages
		WHERE disappeared = 0 AND (delete_at IS NOT NULL OR (delete_after_minutes IS NOT NULL AND first_viewed_at IS NOT NULL))
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query sweep candidates: %w", err)
	}
	defer rows.Close()

	var due []*models.Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan message: %w", err)
		}
		if _, fired := TimeExpired(StateOf(m), now); fired {
			due = append(due, m)
		}
	}
	return due, rows.Err()
}

// Stats summarises a user's messages and earnings.
type Stats struct {
	Messages    int64  `json:"messages"`
	Active      int64  `json:"active"`
	Unlocked    int64  `json:"unlocked"`
	Disappeared int64  `json:"disappeared"`
	Views       int64  `json:"views"`
	Earnings    string `json:"earnings"`
}

func (s *Store) Stats(ctx context.Context, userID int64) (*Stats, error) {
	st := &Stats{}
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*), COALESCE(SUM(active), 0), COALESCE(SUM(unlocked), 0),
			COALESCE(SUM(disappeared), 0), COALESCE(SUM(view_count), 0)
		FROM messages WHERE user_id = ? AND deleted_at IS NULL
	`, userID).Scan(&st.Messages, &st.Active, &st.Unlocked, &st.Disappeared, &st.Views)
	if err != nil {
		return nil, fmt.Errorf("failed to query message stats: %w", err)
	}

	var earningsCents int64
	err = s.db.QueryRowContext(ctx, `
		SELECT COALESCE(SUM(p.sender_earnings_cents), 0)
		FROM payments p JOIN messages m ON m.id = p.message_id
		WHERE m.user_id = ?
	`, userID).Scan(&earningsCents)
	if err != nil {
		return nil, fmt.Errorf("failed to query earnings: %w", err)
	}
	st.Earnings = models.FromCents(earningsCents).StringFixed(2)
	return st, nil
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
