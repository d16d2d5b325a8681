package auth

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"

	"github.com/4xmen/payveil/internal/models"
)

var (
	ErrInvalidCredentials = errors.New("invalid email or password")
	ErrEmailTaken         = errors.New("email already registered")
	ErrUserNotFound       = errors.New("user not found")
)

type Service struct {
	db        *sql.DB
	jwtSecret string
	tokenTTL  time.Duration
	validate  *validator.Validate
}

type Claims struct {
	UserID  int64  `json:"user_id"`
	Email   string `json:"email"`
	IsAdmin bool   `json:"is_admin,omitempty"`
	jwt.RegisteredClaims
}

func New(db *sql.DB, jwtSecret string) *Service {
	return NewWithTokenTTL(db, jwtSecret, 24*time.Hour)
}

func NewWithTokenTTL(db *sql.DB, jwtSecret string, tokenTTL time.Duration) *Service {
	if tokenTTL <= 0 {
		tokenTTL = 24 * time.Hour
	}

	return &Service{
		db:        db,
		jwtSecret: jwtSecret,
		tokenTTL:  tokenTTL,
		validate:  validator.New(),
	}
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func (s *Service) Register(ctx context.Context, email, password, displayName string) (*models.User, error) {
	email = normalizeEmail(email)
	if err := s.validate.Var(email, "required,email,max=254"); err != nil {
		return nil, fmt.Errorf("a valid email address is required")
	}

	if len(password) < 8 {
		return nil, fmt.Errorf("password must be at least 8 characters")
	}
	if len(password) > 72 {
		return nil, fmt.Errorf("password must be at most 72 bytes")
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}

	var name *string
	if displayName = strings.TrimSpace(displayName); displayName != "" {
		name = &displayName
	}

	now := time.Now().UTC()
	result, err := s.db.ExecContext(ctx,
		"INSERT INTO users (email, password_hash, display_name, created_at, updated_at) VALUES (?, ?, ?, ?, ?)",
		email, string(hash), name, now, now,
	)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return nil, ErrEmailTaken
		}
		return nil, fmt.Errorf("failed to register user: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("failed to get user id: %w", err)
	}

	return &models.User{ID: id, Email: email, DisplayName: name, CreatedAt: now}, nil
}

// Login checks the password and returns a signed token with the user.
func (s *Service) Login(ctx context.Context, email, password string) (string, *models.User, error) {
	email = normalizeEmail(email)

	var id int64
	var passwordHash string
	err := s.db.QueryRowContext(ctx, "SELECT id, password_hash FROM users WHERE email = ?", email).Scan(&id, &passwordHash)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", nil, ErrInvalidCredentials
		}
		return "", nil, fmt.Errorf("failed to query user: %w", err)
	}

	if err := bcrypt.CompareHashAndPassword([]byte(passwordHash), []byte(password)); err != nil {
		return "", nil, ErrInvalidCredentials
	}

	user, err := s.UserByID(ctx, id)
	if err != nil {
		return "", nil, err
	}

	token, err := s.GenerateToken(user)
	if err != nil {
		return "", nil, fmt.Errorf("failed to generate token: %w", err)
	}

	return token, user, nil
}

func (s *Service) GenerateToken(user *models.User) (string, error) {
	claims := Claims{
		UserID:  user.ID,
		Email:   user.Email,
		IsAdmin: user.IsAdmin,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(s.tokenTTL)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	tokenString, err := token.SignedString([]byte(s.jwtSecret))
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}

	return tokenString, nil
}

func (s *Service) ValidateToken(tokenString string) (*Claims, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return []byte(s.jwtSecret), nil
	})

	if err != nil {
		return nil, fmt.Errorf("failed to parse token: %w", err)
	}

	if !token.Valid {
		return nil, fmt.Errorf("invalid token")
	}

	return claims, nil
}

const userColumns = `id, email, display_name, payout_method, payout_address, stripe_account_id, is_admin, created_at`

func scanUser(row interface{ Scan(...any) error }) (*models.User, error) {
	u := &models.User{}
	err := row.Scan(&u.ID, &u.Email, &u.DisplayName, &u.PayoutMethod, &u.PayoutAddress, &u.StripeAccountID, &u.IsAdmin, &u.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrUserNotFound
	}
	return u, err
}

func (s *Service) UserByID(ctx context.Context, id int64) (*models.User, error) {
	return scanUser(s.db.QueryRowContext(ctx, "SELECT "+userColumns+" FROM users WHERE id = ?", id))
}

// EmailOf returns the user's address for notifications.
func (s *Service) EmailOf(ctx context.Context, id int64) (string, error) {
	var email string
	err := s.db.QueryRowContext(ctx, "SELECT email FROM users WHERE id = ?", id).Scan(&email)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrUserNotFound
	}
	return email, err
}

func (s *Service) ListUsers(ctx context.Context) ([]*models.User, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT "+userColumns+" FROM users ORDER BY id")
	if err != nil {
		return nil, fmt.Errorf("failed to list users: %w", err)
	}
	defer rows.Close()

	users := []*models.User{}
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

func (s *Service) UpdateDisplayName(ctx context.Context, id int64, displayName string) error {
	var name *string
	if displayName = strings.TrimSpace(displayName); displayName != "" {
		name = &displayName
	}
	_, err := s.db.ExecContext(ctx,
		"UPDATE users SET display_name = ?, updated_at = ? WHERE id = ?", name, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("failed to update profile: %w", err)
	}
	return nil
}

// UpdatePayout sets where the user's earnings are sent. A Stripe connected
// account id is only meaningful for bank payouts.
func (s *Service) UpdatePayout(ctx context.Context, id int64, method, address, stripeAccountID string) error {
	if !models.ValidPayoutMethod(method) {
		return fmt.Errorf("unsupported payout method %q", method)
	}
	address = strings.TrimSpace(address)
	if address == "" && stripeAccountID == "" {
		return fmt.Errorf("payout address is required")
	}

	var acct *string
	if stripeAccountID = strings.TrimSpace(stripeAccountID); stripeAccountID != "" && method == models.PayoutBank {
		acct = &stripeAccountID
	}

	_, err := s.db.ExecContext(ctx, `
		UPDATE users SET payout_method = ?, payout_address = ?, stripe_account_id = ?, updated_at = ? WHERE id = ?
	`, method, address, acct, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("failed to update payout settings: %w", err)
	}
	return nil
}

// SetAdmin grants or revokes admin rights. Used by operators from the CLI.
func (s *Service) SetAdmin(ctx context.Context, email string, admin bool) error {
	result, err := s.db.ExecContext(ctx, "UPDATE users SET is_admin = ? WHERE email = ?", admin, normalizeEmail(email))
	if err != nil {
		return fmt.Errorf("failed to update user: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return ErrUserNotFound
	}
	return nil
}
