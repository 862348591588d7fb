package store

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"errors"
	"time"

	"github.com/pavelanni/prognosis/internal/model"
)

// CreateAuthToken creates a new opaque bearer token for a user.
func (s *Store) CreateAuthToken(ctx context.Context, userID string, ttl time.Duration) (string, error) {
	token, err := generateToken()
	if err != nil {
		return "", err
	}
	now := time.Now().UTC()
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO auth_tokens (token, user_id, created_at, expires_at) VALUES (?, ?, ?, ?)`,
		token, userID, now, now.Add(ttl),
	)
	if err != nil {
		return "", err
	}
	return token, nil
}

// GetAuthToken returns the token record, or nil if not found or expired.
// Expired tokens are deleted on lookup.
func (s *Store) GetAuthToken(ctx context.Context, token string) (*model.AuthToken, error) {
	var tok model.AuthToken
	err := s.db.QueryRowContext(ctx,
		`SELECT token, user_id, created_at, expires_at FROM auth_tokens WHERE token = ?`, token,
	).Scan(&tok.Token, &tok.UserID, &tok.CreatedAt, &tok.ExpiresAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if time.Now().After(tok.ExpiresAt) {
		_ = s.DeleteAuthToken(ctx, token)
		return nil, nil
	}
	return &tok, nil
}

// DeleteAuthToken removes a token.
func (s *Store) DeleteAuthToken(ctx context.Context, token string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM auth_tokens WHERE token = ?`, token)
	return err
}

// CleanupExpiredTokens removes all expired tokens and reports how many.
func (s *Store) CleanupExpiredTokens(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM auth_tokens WHERE expires_at < ?`, time.Now().UTC())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func generateToken() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
