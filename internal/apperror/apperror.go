// Package apperror defines the error kinds shared by every layer of the bot.
//
// Each kind is a sentinel error. Constructors wrap a sentinel in an *AppError
// that carries a human-readable message, so callers can branch with
// errors.Is(err, apperror.ErrNotInLobby) while transports show err.Error().
package apperror

import (
	"errors"
	"fmt"
	"time"
)

var (
	ErrNotFound   = errors.New("not found")
	ErrValidation = errors.New("validation error")
	ErrConflict   = errors.New("conflict")

	// Lobby domain kinds. All of them are scoped to a single invocation.
	ErrInvalidInvite       = errors.New("invalid invite")
	ErrNotInLobby          = errors.New("not in lobby")
	ErrCooldownActive      = errors.New("cooldown active")
	ErrDuplicateInviteCode = errors.New("duplicate invite code")
	ErrDecodeFailure       = errors.New("decode failure")
)

type AppError struct {
	Err     error  // sentinel kind
	Message string // Human-readable error message
	Field   string // Optional: field causing the error

	// RetryAfter is set for ErrCooldownActive: time left until the gate opens.
	RetryAfter time.Duration
}

func (e *AppError) Error() string {
	return e.Message
}

func (e *AppError) Unwrap() error {
	return e.Err
}

func NotFound(resource, id string) *AppError {
	return &AppError{
		Err:     ErrNotFound,
		Message: fmt.Sprintf("%s not found with id %s", resource, id),
	}
}

func ValidationFailed(field, message string) *AppError {
	return &AppError{
		Err:     ErrValidation,
		Message: message,
		Field:   field,
	}
}

func Conflict(resource, id string) *AppError {
	return &AppError{
		Err:     ErrConflict,
		Message: fmt.Sprintf("%s conflict with id %s", resource, id),
	}
}

// InvalidInvite reports an invite code that does not resolve to any lobby.
func InvalidInvite(code string) *AppError {
	return &AppError{
		Err:     ErrInvalidInvite,
		Message: fmt.Sprintf("invite code %q does not match any lobby", code),
		Field:   "code",
	}
}

// NotInLobby reports an operation that requires lobby membership.
func NotInLobby(userID int64) *AppError {
	return &AppError{
		Err:     ErrNotInLobby,
		Message: fmt.Sprintf("user %d is not in a lobby", userID),
	}
}

// CooldownActive reports that the lobby's signal gate is still closed.
func CooldownActive(remaining time.Duration) *AppError {
	if remaining < 0 {
		remaining = 0
	}
	return &AppError{
		Err:        ErrCooldownActive,
		Message:    fmt.Sprintf("cooldown active, try again in %s", remaining.Round(time.Second)),
		RetryAfter: remaining,
	}
}

// DuplicateInviteCode reports an invite code allocation that hit an
// existing lobby. The existing lobby is never overwritten.
func DuplicateInviteCode(code string) *AppError {
	return &AppError{
		Err:     ErrDuplicateInviteCode,
		Message: fmt.Sprintf("invite code %q is already taken", code),
	}
}

// DecodeFailure reports a malformed deep-link payload.
func DecodeFailure(payload string, cause error) *AppError {
	msg := fmt.Sprintf("malformed deep-link payload %q", payload)
	if cause != nil {
		msg += ": " + cause.Error()
	}
	return &AppError{
		Err:     ErrDecodeFailure,
		Message: msg,
		Field:   "payload",
	}
}

// RetryAfter extracts the remaining cooldown from err, if it carries one.
func RetryAfter(err error) (time.Duration, bool) {
	var appErr *AppError
	if errors.As(err, &appErr) && errors.Is(appErr.Err, ErrCooldownActive) {
		return appErr.RetryAfter, true
	}
	return 0, false
}
