package handler_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pavelanni/prognosis/internal/auth"
	"github.com/pavelanni/prognosis/internal/handler"
	appI18n "github.com/pavelanni/prognosis/internal/i18n"
	"github.com/pavelanni/prognosis/internal/llm"
	"github.com/pavelanni/prognosis/internal/llm/prompts"
	"github.com/pavelanni/prognosis/internal/model"
	"github.com/pavelanni/prognosis/internal/session"
	"github.com/pavelanni/prognosis/internal/store/memory"
)

const testSecret = "test-secret-0123456789"

type failingGenerator struct{}

func (failingGenerator) Generate(context.Context, string) (string, error) {
	return "", errors.New("upstream exploded with key sk-secret")
}

func (failingGenerator) Ping(context.Context) error { return nil }

type server struct {
	router   http.Handler
	store    *memory.Store
	provider *auth.JWTProvider
}

func newServer(t *testing.T, gen llm.Generator) *server {
	t.Helper()
	return newServerWithConfig(t, gen, model.Config{
		Lang:           "en",
		AllowedOrigins: []string{"https://*.vercel.app", "http://localhost:3000"},
	})
}

func newServerWithConfig(t *testing.T, gen llm.Generator, cfg model.Config) *server {
	t.Helper()
	require.NoError(t, appI18n.Init("en"))

	st := memory.New()
	responder, err := llm.NewResponder(gen, prompts.PromptStandard)
	require.NoError(t, err)
	svc := session.NewService(st, st, responder, session.WithPicker(func(int) int { return 0 }))

	provider, err := auth.NewJWTProvider(testSecret, time.Hour)
	require.NoError(t, err)

	h, err := handler.New(st, svc, provider, cfg)
	require.NoError(t, err)

	r := chi.NewRouter()
	h.Mount(r)
	return &server{router: r, store: st, provider: provider}
}

func (s *server) do(t *testing.T, method, path, token string, body any) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)

	var out map[string]any
	if rec.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	}
	return rec, out
}

func (s *server) register(t *testing.T, email string) (token, userID string) {
	t.Helper()
	rec, out := s.do(t, http.MethodPost, "/auth/register", "", map[string]string{
		"email": email, "password": "secret123",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	return out["token"].(string), out["user_id"].(string)
}

func TestHealth(t *testing.T) {
	s := newServer(t, llm.DryRun{})

	rec, out := s.do(t, http.MethodGet, "/health?deep=1", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "healthy", out["status"])
	assert.Equal(t, "Prognosis API is running", out["message"])

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("Accept-Language", "ru")
	rr := httptest.NewRecorder()
	s.router.ServeHTTP(rr, req)
	assert.Contains(t, rr.Body.String(), "Prognosis API работает")
}

func TestRegisterAndLogin(t *testing.T) {
	s := newServer(t, llm.DryRun{})

	_, userID := s.register(t, "ann@example.com")
	assert.NotEmpty(t, userID)

	rec, out := s.do(t, http.MethodPost, "/auth/register", "", map[string]string{
		"email": "ANN@example.com", "password": "secret123",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "An account with this email already exists", out["error"])

	rec, out = s.do(t, http.MethodPost, "/auth/login", "", map[string]string{
		"email": "ann@example.com", "password": "secret123",
	})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, userID, out["user_id"])
	assert.NotEmpty(t, out["token"])

	rec, out = s.do(t, http.MethodPost, "/auth/login", "", map[string]string{
		"email": "ann@example.com", "password": "wrong-password",
	})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "Invalid email or password", out["error"])

	rec, _ = s.do(t, http.MethodPost, "/auth/login", "", map[string]string{
		"email": "nobody@example.com", "password": "secret123",
	})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestRegisterValidation(t *testing.T) {
	s := newServer(t, llm.DryRun{})

	tests := []struct {
		name string
		body any
		want string
	}{
		{"missing fields", map[string]string{}, "Missing required fields: email, password"},
		{"bad email", map[string]string{"email": "ann", "password": "secret123"}, "Invalid email address"},
		{"short password", map[string]string{"email": "a@b.c", "password": "123"}, "Password must be at least 6 characters"},
		{"not json", "just a string", "Invalid request"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec, out := s.do(t, http.MethodPost, "/auth/register", "", tt.body)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.Equal(t, tt.want, out["error"])
		})
	}
}

func TestProtectedRoutesRequireToken(t *testing.T) {
	s := newServer(t, llm.DryRun{})

	for _, path := range []string{"/case/start", "/sessions", "/session/x", "/leaderboard"} {
		rec, out := s.do(t, http.MethodGet, path, "", nil)
		assert.Equal(t, http.StatusUnauthorized, rec.Code, path)
		assert.Equal(t, "Authentication required", out["error"], path)
	}
	rec, _ := s.do(t, http.MethodGet, "/sessions", "not-a-jwt", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestCaseFlow(t *testing.T) {
	s := newServer(t, llm.DryRun{})
	token, userID := s.register(t, "ann@example.com")

	rec, start := s.do(t, http.MethodGet, "/case/start", token, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "John Smith", start["patient_name"])
	assert.Contains(t, start, "vitals")
	assert.NotContains(t, start, "correct_diagnosis")
	assert.NotContains(t, start, "system_instruction")
	sessionID := start["session_id"].(string)

	rec, out := s.do(t, http.MethodPost, "/case/respond", token, map[string]string{
		"session_id": sessionID, "user_input": "Where does it hurt?",
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Contains(t, out["ai_response"], "(dry run)")

	rec, out = s.do(t, http.MethodPost, "/case/respond", token, map[string]string{"session_id": sessionID})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "Missing required fields: user_input", out["error"])

	rec, out = s.do(t, http.MethodPost, "/case/submit", token, map[string]string{
		"session_id": sessionID, "diagnosis": "acute coronary syndrome", "treatment": "give aspirin",
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.EqualValues(t, 90, out["score"])
	assert.Equal(t, "Acute Coronary Syndrome", out["correct_diagnosis"])
	assert.Contains(t, out["feedback"], "Dry-run feedback")

	rec, out = s.do(t, http.MethodPost, "/case/respond", token, map[string]string{
		"session_id": sessionID, "user_input": "One more question",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "This case has already been submitted", out["error"])

	rec, out = s.do(t, http.MethodGet, "/sessions", token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	list := out["sessions"].([]any)
	require.Len(t, list, 1)
	summary := list[0].(map[string]any)
	assert.Equal(t, sessionID, summary["session_id"])
	assert.Equal(t, "completed", summary["status"])

	rec, out = s.do(t, http.MethodGet, "/session/"+sessionID, token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, out["chat_history"], 1)
	assert.Equal(t, "Acute Coronary Syndrome", out["correct_diagnosis"])

	rec, out = s.do(t, http.MethodGet, "/leaderboard", token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	board := out["leaderboard"].([]any)
	require.Len(t, board, 1)
	entry := board[0].(map[string]any)
	assert.Equal(t, userID, entry["user_id"])
	assert.Equal(t, "ann", entry["name"])
	assert.EqualValues(t, 90, entry["best_score"])

	rec, _ = s.do(t, http.MethodGet, "/leaderboard?limit=abc", token, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestEmptySessionList(t *testing.T) {
	s := newServer(t, llm.DryRun{})
	token, _ := s.register(t, "ann@example.com")

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/sessions", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	s.router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"sessions":[]}`, rec.Body.String())
}

func TestOwnership(t *testing.T) {
	s := newServer(t, llm.DryRun{})
	ann, _ := s.register(t, "ann@example.com")
	bob, _ := s.register(t, "bob@example.com")

	_, start := s.do(t, http.MethodGet, "/case/start", ann, nil)
	sessionID := start["session_id"].(string)

	rec, out := s.do(t, http.MethodGet, "/session/"+sessionID, bob, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, "Access denied", out["error"])

	rec, _ = s.do(t, http.MethodPost, "/case/respond", bob, map[string]string{
		"session_id": sessionID, "user_input": "hello",
	})
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec, _ = s.do(t, http.MethodPost, "/case/submit", bob, map[string]string{
		"session_id": sessionID, "diagnosis": "x", "treatment": "y",
	})
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec, out = s.do(t, http.MethodGet, "/session/does-not-exist", ann, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "Not found", out["error"])
}

func TestGenerationFailureIsNotLeaked(t *testing.T) {
	s := newServer(t, failingGenerator{})
	token, _ := s.register(t, "ann@example.com")

	_, start := s.do(t, http.MethodGet, "/case/start", token, nil)
	rec, out := s.do(t, http.MethodPost, "/case/respond", token, map[string]string{
		"session_id": start["session_id"].(string), "user_input": "hello",
	})
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "The AI service failed to respond, please try again", out["error"])
	assert.NotContains(t, rec.Body.String(), "sk-secret")
}

func TestSocialSignIn(t *testing.T) {
	s := newServer(t, llm.DryRun{})
	token, err := s.provider.IssueToken(context.Background(), model.Identity{
		UserID: "google-oauth2|123", Email: "carol@example.com", Name: "Carol",
	})
	require.NoError(t, err)

	rec, out := s.do(t, http.MethodPost, "/auth/social", token, nil)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.Equal(t, "google-oauth2|123", out["user_id"])
	assert.Equal(t, "Carol", out["name"])

	rec, out = s.do(t, http.MethodPost, "/auth/social", token, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "carol@example.com", out["email"])

	u, err := s.store.GetUserByProviderUID(context.Background(), "google-oauth2|123")
	require.NoError(t, err)
	require.NotNil(t, u)
	assert.Equal(t, model.AuthSocial, u.AuthProvider)

	rec, _ = s.do(t, http.MethodGet, "/case/start", token, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestCORSPreflight(t *testing.T) {
	s := newServer(t, llm.DryRun{})

	tests := []struct {
		origin  string
		allowed bool
	}{
		{"https://prognosis-git-main.vercel.app", true},
		{"http://localhost:3000", true},
		{"https://evil.example.com", false},
	}
	for _, tt := range tests {
		t.Run(tt.origin, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodOptions, "/case/submit", nil)
			req.Header.Set("Origin", tt.origin)
			req.Header.Set("Access-Control-Request-Method", http.MethodPost)
			req.Header.Set("Access-Control-Request-Headers", "Authorization, Content-Type")
			rec := httptest.NewRecorder()
			s.router.ServeHTTP(rec, req)

			if tt.allowed {
				assert.Equal(t, tt.origin, rec.Header().Get("Access-Control-Allow-Origin"))
				assert.Equal(t, "true", rec.Header().Get("Access-Control-Allow-Credentials"))
			} else {
				assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
			}
		})
	}
}

func TestBasePath(t *testing.T) {
	s := newServerWithConfig(t, llm.DryRun{}, model.Config{Lang: "ru", BasePath: "/api"})

	rec, out := s.do(t, http.MethodGet, "/api/health", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Prognosis API работает", out["message"])

	rec, out = s.do(t, http.MethodGet, "/health", "", nil)
	require.Equal(t, http.StatusOK, rec.Code, "health is also served at the root")
	assert.Equal(t, "healthy", out["status"])

	rec, _ = s.do(t, http.MethodPost, "/api/auth/register", "", map[string]string{
		"email": "ann@example.com", "password": "secret123",
	})
	assert.Equal(t, http.StatusCreated, rec.Code)

	req := httptest.NewRequest(http.MethodPost, "/auth/register", nil)
	rr := httptest.NewRecorder()
	s.router.ServeHTTP(rr, req)
	assert.Contains(t, []int{http.StatusNotFound, http.StatusMethodNotAllowed}, rr.Code, "API routes live only under the base path")
}
