// Package auth verifies bearer credentials and issues tokens for
// authenticated users.
package auth

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/pavelanni/prognosis/internal/model"
)

// Provider verifies bearer tokens and issues new ones.
type Provider interface {
	Verify(ctx context.Context, token string) (model.Identity, error)
	IssueToken(ctx context.Context, id model.Identity) (string, error)
}

// BearerToken extracts the token from an "Authorization: Bearer <token>"
// header. It returns "" when the header is missing or malformed.
func BearerToken(r *http.Request) string {
	scheme, token, ok := strings.Cut(r.Header.Get("Authorization"), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}

// Authenticate resolves the caller of r. Any failure wraps
// model.ErrUnauthorized.
func Authenticate(r *http.Request, p Provider) (model.Identity, error) {
	token := BearerToken(r)
	if token == "" {
		return model.Identity{}, fmt.Errorf("%w: missing bearer token", model.ErrUnauthorized)
	}
	id, err := p.Verify(r.Context(), token)
	if err != nil {
		return model.Identity{}, err
	}
	return id, nil
}
