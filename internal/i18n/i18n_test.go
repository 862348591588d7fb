package i18n

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
)

func initLang(t *testing.T, lang string) context.Context {
	t.Helper()
	if err := Init(lang); err != nil {
		t.Fatalf("Init(%q): %v", lang, err)
	}
	return WithLocalizer(context.Background(), NewLocalizer(lang))
}

func TestTranslateEnglish(t *testing.T) {
	ctx := initLang(t, "en")

	if got := T(ctx, "HealthOK"); got != "Prognosis API is running" {
		t.Errorf("T(HealthOK) = %q, want 'Prognosis API is running'", got)
	}
	if got := T(ctx, "Forbidden"); got != "Access denied" {
		t.Errorf("T(Forbidden) = %q, want 'Access denied'", got)
	}
}

func TestTranslateRussian(t *testing.T) {
	ctx := initLang(t, "ru")

	if got := T(ctx, "Forbidden"); got != "Доступ запрещён" {
		t.Errorf("T(Forbidden) = %q, want 'Доступ запрещён'", got)
	}
}

func TestTemplateDataTranslation(t *testing.T) {
	ctx := initLang(t, "en")

	got := Td(ctx, "MissingFields", map[string]any{"Fields": "session_id, user_input"})
	if got != "Missing required fields: session_id, user_input" {
		t.Errorf("Td(MissingFields) = %q", got)
	}
}

func TestMissingKey(t *testing.T) {
	ctx := initLang(t, "en")

	if got := T(ctx, "NonExistentKey"); got != "NonExistentKey" {
		t.Errorf("T(NonExistentKey) = %q, want 'NonExistentKey'", got)
	}
}

func TestContextWithoutLocalizer(t *testing.T) {
	initLang(t, "ru")

	if got := T(context.Background(), "NotFound"); got != "Не найдено" {
		t.Errorf("T(NotFound) = %q, want default language", got)
	}
}

func TestMiddlewareAcceptLanguage(t *testing.T) {
	initLang(t, "en")

	tests := []struct {
		name   string
		accept string
		want   string
	}{
		{"default", "", "Not found"},
		{"russian", "ru-RU,ru;q=0.9,en;q=0.8", "Не найдено"},
		{"unsupported falls back", "de-DE", "Not found"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got string
			h := Middleware("en")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				got = T(r.Context(), "NotFound")
			}))
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			if tt.accept != "" {
				req.Header.Set("Accept-Language", tt.accept)
			}
			h.ServeHTTP(httptest.NewRecorder(), req)
			if got != tt.want {
				t.Errorf("got %q, want %q", got, tt.want)
			}
		})
	}
}
