package handler

// RESPONSE HELPERS:
// Every handler in this package answers through writeJSON, writeError or
// writeProviderError so the two wire dialects stay consistent:
//
//   backend endpoints:  {"error": "not_found", "message": "game not found with id 7"}
//   identity endpoints: {"error": {"code": 400, "message": "EMAIL_EXISTS"}}
//
// The client only looks at the status line of backend errors, but it parses
// the identity body to surface the provider's reason code.

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/sakif/keno-client/internal/apperror"
)

// ErrorResponse is the backend error body.
type ErrorResponse struct {
	Error   string `json:"error"`   // machine-readable type, e.g. "not_found"
	Message string `json:"message"` // human-readable description
}

// ProviderErrorResponse is the identity provider error body.
type ProviderErrorResponse struct {
	Error ProviderError `json:"error"`
}

type ProviderError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// writeJSON sends a JSON response. Headers and status must go out before the
// body; once Encode writes, later header changes are ignored.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		if err := json.NewEncoder(w).Encode(data); err != nil {
			// Headers are already sent; all we can do is log.
			slog.Error("failed to encode JSON response", slog.String("error", err.Error()))
		}
	}
}

// writeError maps a domain error to an HTTP status.
//
// errors.Is walks the AppError's Unwrap chain, so a wrapped
// fmt.Errorf("...: %w", apperror.NotFound(...)) still maps to 404.
// Backend errors carry their own status in Code.
func writeError(w http.ResponseWriter, err error) {
	var appErr *apperror.AppError
	if !errors.As(err, &appErr) {
		// Never leak internal details.
		writeJSON(w, http.StatusInternalServerError, ErrorResponse{
			Error:   "internal_error",
			Message: "An internal error occurred",
		})
		return
	}

	status := http.StatusInternalServerError
	errorType := "internal_error"
	switch {
	case errors.Is(err, apperror.ErrValidation):
		status, errorType = http.StatusBadRequest, "validation_error"
	case errors.Is(err, apperror.ErrNotFound):
		status, errorType = http.StatusNotFound, "not_found"
	case errors.Is(err, apperror.ErrNotAuthenticated), errors.Is(err, apperror.ErrProviderAuth):
		status, errorType = http.StatusUnauthorized, "unauthorized"
	case errors.Is(err, apperror.ErrBackend):
		status, errorType = appErr.Code, "backend_error"
	}

	writeJSON(w, status, ErrorResponse{Error: errorType, Message: appErr.Message})
}

// writeProviderError writes an identity provider failure. Provider codes are
// HTTP statuses; anything else becomes 400.
func writeProviderError(w http.ResponseWriter, err error) {
	code, message := apperror.CodeAndMessage(err)
	if !errors.Is(err, apperror.ErrProviderAuth) {
		code, message = http.StatusInternalServerError, "INTERNAL"
	}
	if code < 400 || code > 599 {
		code = http.StatusBadRequest
	}
	writeJSON(w, code, ProviderErrorResponse{Error: ProviderError{Code: code, Message: message}})
}

// decodeJSON reads a JSON request body into v.
func decodeJSON(r *http.Request, v any) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return apperror.ValidationFailed("body", "invalid JSON")
	}
	return nil
}
