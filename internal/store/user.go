package store

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/pavelanni/prognosis/internal/model"
)

const userColumns = `id, email, name, password_hash, provider_uid, auth_provider, created_at`

// CreateUser inserts a new user. A second password account with the same
// email (case-insensitive) fails with model.ErrEmailTaken.
func (s *Store) CreateUser(ctx context.Context, u model.User) (string, error) {
	if u.ID == "" {
		u.ID = uuid.NewString()
	}
	if u.CreatedAt.IsZero() {
		u.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO users (`+userColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		u.ID, u.Email, u.Name, u.PasswordHash, u.ProviderUID, u.AuthProvider, u.CreatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) && u.AuthProvider == model.AuthPassword {
			return "", model.ErrEmailTaken
		}
		slog.Error("failed to create user", "email", u.Email, "error", err)
		return "", err
	}
	slog.Info("created user", "id", u.ID, "email", u.Email, "provider", u.AuthProvider)
	return u.ID, nil
}

// GetUserByEmail returns the password account for email, or nil.
func (s *Store) GetUserByEmail(ctx context.Context, email string) (*model.User, error) {
	return s.getUser(ctx, `email = ? AND auth_provider = 'password'`, email)
}

// GetUserByID returns a user by ID, or nil.
func (s *Store) GetUserByID(ctx context.Context, id string) (*model.User, error) {
	return s.getUser(ctx, `id = ?`, id)
}

// GetUserByProviderUID returns the account linked to an external identity,
// or nil.
func (s *Store) GetUserByProviderUID(ctx context.Context, uid string) (*model.User, error) {
	if uid == "" {
		return nil, nil
	}
	return s.getUser(ctx, `provider_uid = ?`, uid)
}

func (s *Store) getUser(ctx context.Context, where string, arg any) (*model.User, error) {
	var u model.User
	err := s.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE `+where, arg).
		Scan(&u.ID, &u.Email, &u.Name, &u.PasswordHash, &u.ProviderUID, &u.AuthProvider, &u.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &u, nil
}

// UserCount returns the total number of users.
func (s *Store) UserCount(ctx context.Context) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM users`).Scan(&count)
	return count, err
}

func isUniqueViolation(err error) bool {
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}
