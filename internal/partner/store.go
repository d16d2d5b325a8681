package partner

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/4xmen/payveil/internal/models"
)

var ErrNotFound = errors.New("Partner not found")

type Store struct {
	db *sql.DB
}

func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

func (s *Store) Create(ctx context.Context, p *models.Partner) error {
	theme, err := json.Marshal(p.Theme)
	if err != nil {
		return fmt.Errorf("failed to encode theme: %w", err)
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now().UTC()
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO partners (id, name, owner_user_id, min_price_cents, max_price_cents, currency, theme, active, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, p.ID, p.Name, p.OwnerUserID, models.Cents(p.MinPrice), models.Cents(p.MaxPrice), p.Currency, string(theme), p.Active, p.CreatedAt)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return fmt.Errorf("partner %q already exists", p.ID)
		}
		return fmt.Errorf("failed to insert partner: %w", err)
	}
	return nil
}

func scanPartner(row interface{ Scan(...any) error }) (*models.Partner, error) {
	p := &models.Partner{}
	var minCents, maxCents int64
	var theme string
	if err := row.Scan(&p.ID, &p.Name, &p.OwnerUserID, &minCents, &maxCents, &p.Currency, &theme, &p.Active, &p.CreatedAt); err != nil {
		return nil, err
	}
	p.MinPrice = models.FromCents(minCents)
	p.MaxPrice = models.FromCents(maxCents)
	if err := json.Unmarshal([]byte(theme), &p.Theme); err != nil {
		return nil, fmt.Errorf("failed to decode theme for partner %s: %w", p.ID, err)
	}
	return p, nil
}

// ByID returns an active partner.
func (s *Store) ByID(ctx context.Context, id string) (*models.Partner, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, name, owner_user_id, min_price_cents, max_price_cents, currency, theme, active, created_at
		FROM partners WHERE id = ? AND active = 1
	`, id)
	p, err := scanPartner(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return p, err
}

func (s *Store) List(ctx context.Context) ([]*models.Partner, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, owner_user_id, min_price_cents, max_price_cents, currency, theme, active, created_at
		FROM partners ORDER BY created_at DESC
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to list partners: %w", err)
	}
	defer rows.Close()

	partners := []*models.Partner{}
	for rows.Next() {
		p, err := scanPartner(rows)
		if err != nil {
			return nil, err
		}
		partners = append(partners, p)
	}
	return partners, rows.Err()
}
