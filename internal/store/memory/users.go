package memory

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/samber/lo"

	"github.com/pavelanni/prognosis/internal/model"
	"github.com/pavelanni/prognosis/internal/session"
)

// CreateUser stores a user. Password accounts must have a unique email.
func (s *Store) CreateUser(_ context.Context, u model.User) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if u.AuthProvider == model.AuthPassword {
		if _, taken := s.findUser(func(x model.User) bool {
			return x.AuthProvider == model.AuthPassword && strings.EqualFold(x.Email, u.Email)
		}); taken {
			return "", model.ErrEmailTaken
		}
	}
	if u.ID == "" {
		u.ID = uuid.NewString()
	}
	if _, exists := s.users[u.ID]; exists {
		return "", fmt.Errorf("user %s already exists", u.ID)
	}
	if u.CreatedAt.IsZero() {
		u.CreatedAt = s.now().UTC()
	}
	s.users[u.ID] = u
	return u.ID, nil
}

// GetUserByEmail returns the password account with the given email, or nil.
func (s *Store) GetUserByEmail(_ context.Context, email string) (*model.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.findUser(func(x model.User) bool {
		return x.AuthProvider == model.AuthPassword && strings.EqualFold(x.Email, email)
	})
	if !ok {
		return nil, nil
	}
	return &u, nil
}

func (s *Store) GetUserByID(_ context.Context, id string) (*model.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.users[id]
	if !ok {
		return nil, nil
	}
	return &u, nil
}

func (s *Store) GetUserByProviderUID(_ context.Context, uid string) (*model.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.findUser(func(x model.User) bool { return x.ProviderUID != "" && x.ProviderUID == uid })
	if !ok {
		return nil, nil
	}
	return &u, nil
}

func (s *Store) findUser(match func(model.User) bool) (model.User, bool) {
	return lo.Find(lo.Values(s.users), match)
}

// CreateAuthToken issues an opaque token for the user valid for ttl.
func (s *Store) CreateAuthToken(_ context.Context, userID string, ttl time.Duration) (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	now := s.now().UTC()
	tok := model.AuthToken{
		Token:     hex.EncodeToString(b),
		UserID:    userID,
		CreatedAt: now,
		ExpiresAt: now.Add(ttl),
	}
	s.mu.Lock()
	s.tokens[tok.Token] = tok
	s.mu.Unlock()
	return tok.Token, nil
}

// GetAuthToken returns the token record, or nil if unknown or expired.
func (s *Store) GetAuthToken(_ context.Context, token string) (*model.AuthToken, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	tok, ok := s.tokens[token]
	if !ok {
		return nil, nil
	}
	if s.now().After(tok.ExpiresAt) {
		delete(s.tokens, token)
		return nil, nil
	}
	return &tok, nil
}

// CleanupExpiredTokens removes expired tokens and reports how many.
func (s *Store) CleanupExpiredTokens(context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	var n int64
	for k, tok := range s.tokens {
		if now.After(tok.ExpiresAt) {
			delete(s.tokens, k)
			n++
		}
	}
	return n, nil
}

func (s *Store) GetImportedFileHash(_ context.Context, path string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.imported[path], nil
}

func (s *Store) SetImportedFileHash(_ context.Context, path, hash string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.imported[path] = hash
	return nil
}

// Leaderboard ranks users by their completed sessions.
func (s *Store) Leaderboard(ctx context.Context, limit int) ([]model.LeaderboardEntry, error) {
	sessions, err := s.AllSessions(ctx)
	if err != nil {
		return nil, err
	}
	return session.Rank(sessions, s.displayName, limit), nil
}

// ExportSessions returns every session joined with its case and user.
func (s *Store) ExportSessions(ctx context.Context) (*model.SessionExport, error) {
	sessions, err := s.AllSessions(ctx)
	if err != nil {
		return nil, err
	}
	return session.BuildExport(ctx, sessions, s, s.email, s.now().UTC())
}

func (s *Store) displayName(userID string) string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if u, ok := s.users[userID]; ok {
		return u.DisplayName()
	}
	return userID
}

func (s *Store) email(userID string) string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.users[userID].Email
}
