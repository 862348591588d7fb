package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/pavelanni/prognosis/internal/auth"
	appI18n "github.com/pavelanni/prognosis/internal/i18n"
	"github.com/pavelanni/prognosis/internal/model"
	"github.com/pavelanni/prognosis/internal/session"
)

// DefaultLeaderboardLimit is used when the request gives no limit.
const DefaultLeaderboardLimit = 10

// Store is the persistence the HTTP layer needs beyond the session service.
// User lookups return nil when no account matches.
type Store interface {
	CreateUser(ctx context.Context, u model.User) (string, error)
	GetUserByEmail(ctx context.Context, email string) (*model.User, error)
	GetUserByID(ctx context.Context, id string) (*model.User, error)
	GetUserByProviderUID(ctx context.Context, uid string) (*model.User, error)
	Leaderboard(ctx context.Context, limit int) ([]model.LeaderboardEntry, error)
	Ping(ctx context.Context) error
}

// Handler holds shared dependencies for HTTP handlers.
type Handler struct {
	store    Store
	sessions *session.Service
	auth     auth.Provider
	config   model.Config
}

// New creates a new Handler.
func New(st Store, svc *session.Service, p auth.Provider, cfg model.Config) (*Handler, error) {
	if st == nil || svc == nil || p == nil {
		return nil, errors.New("handler: store, session service and auth provider are required")
	}
	return &Handler{store: st, sessions: svc, auth: p, config: cfg}, nil
}

// Mount installs the CORS and localization middleware on r and registers the
// routes under the configured base path. /health is also served at the root.
func (h *Handler) Mount(r chi.Router) {
	r.Use(CORS(h.config.AllowedOrigins))
	r.Use(appI18n.Middleware(h.config.Lang))
	if h.config.BasePath != "" {
		r.Get("/health", h.handleHealth)
		r.Route(h.config.BasePath, h.Routes)
		return
	}
	h.Routes(r)
}

// Routes registers all HTTP routes.
func (h *Handler) Routes(r chi.Router) {
	r.Get("/health", h.handleHealth)
	r.Post("/auth/register", h.handleRegister)
	r.Post("/auth/login", h.handleLogin)

	r.Group(func(r chi.Router) {
		r.Use(h.requireAuth)
		r.Post("/auth/social", h.handleSocial)
		r.Get("/case/start", h.handleStart)
		r.Post("/case/respond", h.handleRespond)
		r.Post("/case/submit", h.handleSubmit)
		r.Get("/sessions", h.handleListSessions)
		r.Get("/session/{sessionID}", h.handleSessionDetail)
		r.Get("/leaderboard", h.handleLeaderboard)
	})
}

type healthResponse struct {
	Status  string `json:"status"`
	Message string `json:"message"`
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.URL.Query().Get("deep") != "" {
		if err := h.store.Ping(r.Context()); err != nil {
			slog.Error("store health check failed", "error", err)
			writeJSON(w, http.StatusServiceUnavailable, healthResponse{
				Status:  "unhealthy",
				Message: appI18n.T(r.Context(), "HealthStoreDown"),
			})
			return
		}
	}
	writeJSON(w, http.StatusOK, healthResponse{
		Status:  "healthy",
		Message: appI18n.T(r.Context(), "HealthOK"),
	})
}

func (h *Handler) handleStart(w http.ResponseWriter, r *http.Request) {
	id := identity(r)
	res, err := h.sessions.Start(r.Context(), id.UserID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

type respondRequest struct {
	SessionID string `json:"session_id"`
	UserInput string `json:"user_input"`
}

type respondResponse struct {
	AIResponse string `json:"ai_response"`
}

func (h *Handler) handleRespond(w http.ResponseWriter, r *http.Request) {
	var req respondRequest
	if err := decodeJSON(w, r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	reply, err := h.sessions.Respond(r.Context(), identity(r).UserID, req.SessionID, req.UserInput)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, respondResponse{AIResponse: reply})
}

type submitRequest struct {
	SessionID string `json:"session_id"`
	Diagnosis string `json:"diagnosis"`
	Treatment string `json:"treatment"`
}

func (h *Handler) handleSubmit(w http.ResponseWriter, r *http.Request) {
	var req submitRequest
	if err := decodeJSON(w, r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	res, err := h.sessions.Submit(r.Context(), identity(r).UserID, req.SessionID, req.Diagnosis, req.Treatment)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *Handler) handleListSessions(w http.ResponseWriter, r *http.Request) {
	sessions, err := h.sessions.ListSessions(r.Context(), identity(r).UserID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"sessions": sessions})
}

func (h *Handler) handleSessionDetail(w http.ResponseWriter, r *http.Request) {
	detail, err := h.sessions.SessionDetail(r.Context(), identity(r).UserID, chi.URLParam(r, "sessionID"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, detail)
}

func (h *Handler) handleLeaderboard(w http.ResponseWriter, r *http.Request) {
	limit := DefaultLeaderboardLimit
	if s := r.URL.Query().Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 0 {
			h.writeError(w, r, errInvalidLimit)
			return
		}
		limit = n
	}
	entries, err := h.store.Leaderboard(r.Context(), limit)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"leaderboard": entries})
}
