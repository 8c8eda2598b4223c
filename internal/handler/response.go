package handler

// RESPONSE HELPERS:
// Every JSON endpoint answers through writeJSON and writeError, so errors
// always have the same shape:
//
//	{"error": "cooldown_active", "message": "cooldown active, try again in 4m10s"}

import (
	"encoding/json"
	"errors"
	"log/slog"
	"math"
	"net/http"
	"strconv"

	"github.com/sakif/breakroom/internal/apperror"
)

// ErrorResponse is the standard error format returned by all API endpoints.
type ErrorResponse struct {
	Error   string `json:"error"`   // Machine-readable error type (e.g., "not_in_lobby")
	Message string `json:"message"` // Human-readable description
	Field   string `json:"field,omitempty"`
}

// writeJSON sends a JSON response with the given status code.
// Headers must be set before WriteHeader; the body comes last.
func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		if err := json.NewEncoder(w).Encode(data); err != nil {
			// Headers are already sent; all we can do is log.
			slog.Error("failed to encode JSON response", slog.String("error", err.Error()))
		}
	}
}

// errorStatus maps a domain error kind to its HTTP status and error type.
// The service layer never sees status codes; this is the only translation.
func errorStatus(err error) (int, string) {
	switch {
	case errors.Is(err, apperror.ErrValidation):
		return http.StatusBadRequest, "validation_error"
	case errors.Is(err, apperror.ErrDecodeFailure):
		return http.StatusBadRequest, "decode_failure"
	case errors.Is(err, apperror.ErrInvalidInvite):
		return http.StatusNotFound, "invalid_invite"
	case errors.Is(err, apperror.ErrNotFound):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, apperror.ErrNotInLobby):
		return http.StatusConflict, "not_in_lobby"
	case errors.Is(err, apperror.ErrCooldownActive):
		return http.StatusTooManyRequests, "cooldown_active"
	case errors.Is(err, apperror.ErrDuplicateInviteCode):
		return http.StatusConflict, "duplicate_invite_code"
	case errors.Is(err, apperror.ErrConflict):
		return http.StatusConflict, "conflict"
	default:
		return http.StatusInternalServerError, "internal_error"
	}
}

// writeError maps a domain error to the appropriate HTTP status code and
// sends it. A cooldown error also sets Retry-After in whole seconds.
//
// errors.As finds the *AppError anywhere in the chain, so
// fmt.Errorf("service: signal: %w", apperror.CooldownActive(d)) still maps.
func writeError(w http.ResponseWriter, err error) {
	var appErr *apperror.AppError
	if !errors.As(err, &appErr) {
		// Raw error text can leak SQL or file paths; never send it.
		writeJSON(w, http.StatusInternalServerError, ErrorResponse{
			Error:   "internal_error",
			Message: "An internal error occurred",
		})
		return
	}

	status, errorType := errorStatus(err)
	if d, ok := apperror.RetryAfter(err); ok {
		secs := int(math.Ceil(d.Seconds()))
		w.Header().Set("Retry-After", strconv.Itoa(secs))
	}

	writeJSON(w, status, ErrorResponse{
		Error:   errorType,
		Message: appErr.Message,
		Field:   appErr.Field,
	})
}
