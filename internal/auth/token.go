package auth

import (
	"context"
	"fmt"
	"time"

	"github.com/pavelanni/prognosis/internal/model"
)

// TokenStore persists opaque bearer tokens. GetAuthToken returns nil for an
// unknown or expired token.
type TokenStore interface {
	CreateAuthToken(ctx context.Context, userID string, ttl time.Duration) (string, error)
	GetAuthToken(ctx context.Context, token string) (*model.AuthToken, error)
}

// UserLookup resolves a user id to its account. It returns nil for an
// unknown id.
type UserLookup interface {
	GetUserByID(ctx context.Context, id string) (*model.User, error)
}

// TokenProvider issues random tokens stored server-side.
type TokenProvider struct {
	tokens TokenStore
	users  UserLookup
	ttl    time.Duration
}

func NewTokenProvider(tokens TokenStore, users UserLookup, ttl time.Duration) *TokenProvider {
	return &TokenProvider{tokens: tokens, users: users, ttl: ttl}
}

func (p *TokenProvider) IssueToken(ctx context.Context, id model.Identity) (string, error) {
	token, err := p.tokens.CreateAuthToken(ctx, id.UserID, p.ttl)
	if err != nil {
		return "", fmt.Errorf("create auth token: %w", err)
	}
	return token, nil
}

func (p *TokenProvider) Verify(ctx context.Context, token string) (model.Identity, error) {
	tok, err := p.tokens.GetAuthToken(ctx, token)
	if err != nil {
		return model.Identity{}, fmt.Errorf("get auth token: %w", err)
	}
	if tok == nil {
		return model.Identity{}, fmt.Errorf("%w: unknown or expired token", model.ErrUnauthorized)
	}
	u, err := p.users.GetUserByID(ctx, tok.UserID)
	if err != nil {
		return model.Identity{}, fmt.Errorf("get user: %w", err)
	}
	if u == nil {
		return model.Identity{}, fmt.Errorf("%w: token user no longer exists", model.ErrUnauthorized)
	}
	return model.Identity{UserID: u.ID, Email: u.Email, Name: u.Name}, nil
}
