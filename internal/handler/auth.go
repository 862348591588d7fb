package handler

import (
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"unicode/utf8"

	"golang.org/x/crypto/bcrypt"

	"github.com/pavelanni/prognosis/internal/auth"
	"github.com/pavelanni/prognosis/internal/model"
)

// MinPasswordLength is the shortest password accepted at registration.
const MinPasswordLength = 6

// requireAuth rejects requests without a valid bearer token and stores the
// caller's identity in the request context.
func (h *Handler) requireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id, err := auth.Authenticate(r, h.auth)
		if err != nil {
			h.writeError(w, r, err)
			return
		}
		ctx := model.ContextWithIdentity(r.Context(), id)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// identity returns the caller stored by requireAuth.
func identity(r *http.Request) model.Identity {
	id, _ := model.IdentityFromContext(r.Context())
	return id
}

type credentials struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	Name     string `json:"name"`
}

type tokenResponse struct {
	Token  string `json:"token"`
	UserID string `json:"user_id"`
	Email  string `json:"email"`
}

type userResponse struct {
	UserID string `json:"user_id"`
	Email  string `json:"email"`
	Name   string `json:"name"`
}

func (h *Handler) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req credentials
	if err := decodeJSON(w, r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	req.Email = strings.TrimSpace(req.Email)
	if err := model.RequireFields("email", req.Email, "password", req.Password); err != nil {
		h.writeError(w, r, err)
		return
	}
	if !strings.Contains(req.Email, "@") {
		h.writeError(w, r, errInvalidEmail)
		return
	}
	if utf8.RuneCountInString(req.Password) < MinPasswordLength {
		h.writeError(w, r, errPasswordTooShort)
		return
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		h.writeError(w, r, fmt.Errorf("hash password: %w", err))
		return
	}

	userID, err := h.store.CreateUser(r.Context(), model.User{
		Email:        req.Email,
		Name:         strings.TrimSpace(req.Name),
		PasswordHash: string(hash),
		AuthProvider: model.AuthPassword,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	token, err := h.auth.IssueToken(r.Context(), model.Identity{UserID: userID, Email: req.Email, Name: req.Name})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	slog.Info("user registered", "user_id", userID)
	writeJSON(w, http.StatusCreated, tokenResponse{Token: token, UserID: userID, Email: req.Email})
}

func (h *Handler) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req credentials
	if err := decodeJSON(w, r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	if err := model.RequireFields("email", req.Email, "password", req.Password); err != nil {
		h.writeError(w, r, err)
		return
	}

	user, err := h.store.GetUserByEmail(r.Context(), strings.TrimSpace(req.Email))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if user == nil {
		h.writeError(w, r, model.ErrInvalidCredentials)
		return
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(req.Password)); err != nil {
		h.writeError(w, r, model.ErrInvalidCredentials)
		return
	}

	token, err := h.auth.IssueToken(r.Context(), model.Identity{UserID: user.ID, Email: user.Email, Name: user.Name})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, tokenResponse{Token: token, UserID: user.ID, Email: user.Email})
}

// handleSocial registers the caller of an externally issued token on first
// sight. The account id is the token subject so later requests resolve to it.
func (h *Handler) handleSocial(w http.ResponseWriter, r *http.Request) {
	id := identity(r)

	user, err := h.store.GetUserByProviderUID(r.Context(), id.UserID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if user != nil {
		writeJSON(w, http.StatusOK, userResponse{UserID: user.ID, Email: user.Email, Name: user.Name})
		return
	}

	// Accounts created by register already own their subject id.
	if existing, err := h.store.GetUserByID(r.Context(), id.UserID); err != nil {
		h.writeError(w, r, err)
		return
	} else if existing != nil {
		writeJSON(w, http.StatusOK, userResponse{UserID: existing.ID, Email: existing.Email, Name: existing.Name})
		return
	}

	userID, err := h.store.CreateUser(r.Context(), model.User{
		ID:           id.UserID,
		Email:        id.Email,
		Name:         id.Name,
		ProviderUID:  id.UserID,
		AuthProvider: model.AuthSocial,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	slog.Info("social user created", "user_id", userID)
	writeJSON(w, http.StatusCreated, userResponse{UserID: userID, Email: id.Email, Name: id.Name})
}

var (
	errInvalidEmail     = fmt.Errorf("%w: invalid email", model.ErrValidation)
	errPasswordTooShort = fmt.Errorf("%w: password too short", model.ErrValidation)
	errInvalidLimit     = fmt.Errorf("%w: invalid limit", model.ErrValidation)
	errBadJSON          = fmt.Errorf("%w: malformed JSON body", model.ErrValidation)
)
