package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5/middleware"

	appI18n "github.com/pavelanni/prognosis/internal/i18n"
	"github.com/pavelanni/prognosis/internal/model"
)

const maxBodyBytes = 1 << 20

type errorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("encode response", "error", err)
	}
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		slog.Debug("decode request body", "path", r.URL.Path, "error", err)
		return errBadJSON
	}
	return nil
}

// writeError maps err onto a status code and a localized message. Server
// side failures are logged; their details never reach the client.
func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status, msgID, data := classify(err)
	if status >= http.StatusInternalServerError {
		slog.Error("request failed",
			"method", r.Method,
			"path", r.URL.Path,
			"request_id", middleware.GetReqID(r.Context()),
			"error", err,
		)
	} else {
		slog.Debug("request rejected", "path", r.URL.Path, "status", status, "error", err)
	}
	writeJSON(w, status, errorResponse{Error: appI18n.Td(r.Context(), msgID, data)})
}

func classify(err error) (int, string, map[string]any) {
	var missing *model.MissingFieldsError
	switch {
	case errors.As(err, &missing):
		return http.StatusBadRequest, "MissingFields", map[string]any{"Fields": strings.Join(missing.Fields, ", ")}
	case errors.Is(err, model.ErrSessionCompleted):
		return http.StatusBadRequest, "SessionCompleted", nil
	case errors.Is(err, model.ErrEmailTaken):
		return http.StatusBadRequest, "EmailTaken", nil
	case errors.Is(err, errInvalidEmail):
		return http.StatusBadRequest, "InvalidEmail", nil
	case errors.Is(err, errPasswordTooShort):
		return http.StatusBadRequest, "PasswordTooShort", map[string]any{"Min": MinPasswordLength}
	case errors.Is(err, model.ErrValidation):
		return http.StatusBadRequest, "BadRequest", nil
	case errors.Is(err, model.ErrInvalidCredentials):
		return http.StatusUnauthorized, "InvalidCredentials", nil
	case errors.Is(err, model.ErrUnauthorized):
		return http.StatusUnauthorized, "Unauthorized", nil
	case errors.Is(err, model.ErrForbidden):
		return http.StatusForbidden, "Forbidden", nil
	case errors.Is(err, model.ErrNotFound):
		return http.StatusNotFound, "NotFound", nil
	case errors.Is(err, model.ErrGeneration):
		return http.StatusInternalServerError, "GenerationFailed", nil
	default:
		return http.StatusInternalServerError, "InternalError", nil
	}
}
