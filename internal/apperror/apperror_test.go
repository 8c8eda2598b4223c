package apperror

import (
	"errors"
	"fmt"
	"testing"
	"time"
)

func TestErrorsIs(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		target    error
		wantMatch bool
	}{
		{
			name:      "NotFound wraps ErrNotFound",
			err:       NotFound("lobby", "42"),
			target:    ErrNotFound,
			wantMatch: true,
		},
		{
			name:      "ValidationFailed wraps ErrValidation",
			err:       ValidationFailed("code", "code is required"),
			target:    ErrValidation,
			wantMatch: true,
		},
		{
			name:      "InvalidInvite wraps ErrInvalidInvite",
			err:       InvalidInvite("abc"),
			target:    ErrInvalidInvite,
			wantMatch: true,
		},
		{
			name:      "NotInLobby wraps ErrNotInLobby",
			err:       NotInLobby(7),
			target:    ErrNotInLobby,
			wantMatch: true,
		},
		{
			name:      "CooldownActive wraps ErrCooldownActive",
			err:       CooldownActive(time.Minute),
			target:    ErrCooldownActive,
			wantMatch: true,
		},
		{
			name:      "DuplicateInviteCode wraps ErrDuplicateInviteCode",
			err:       DuplicateInviteCode("abc"),
			target:    ErrDuplicateInviteCode,
			wantMatch: true,
		},
		{
			name:      "DecodeFailure wraps ErrDecodeFailure",
			err:       DecodeFailure("%%%", errors.New("bad base64")),
			target:    ErrDecodeFailure,
			wantMatch: true,
		},
		{
			name:      "wrapped twice still matches",
			err:       fmt.Errorf("service: signal: %w", NotInLobby(7)),
			target:    ErrNotInLobby,
			wantMatch: true,
		},
		{
			name:      "InvalidInvite does NOT match ErrNotFound",
			err:       InvalidInvite("abc"),
			target:    ErrNotFound,
			wantMatch: false,
		},
		{
			name:      "DecodeFailure does NOT match ErrInvalidInvite",
			err:       DecodeFailure("x", nil),
			target:    ErrInvalidInvite,
			wantMatch: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := errors.Is(tt.err, tt.target)
			if got != tt.wantMatch {
				t.Errorf("errors.Is(%v, %v) = %v, want %v", tt.err, tt.target, got, tt.wantMatch)
			}
		})
	}
}

func TestErrorMessages(t *testing.T) {
	tests := []struct {
		name        string
		err         *AppError
		wantMessage string
	}{
		{
			name:        "NotFound message includes resource and id",
			err:         NotFound("lobby", "42"),
			wantMessage: "lobby not found with id 42",
		},
		{
			name:        "InvalidInvite quotes the code",
			err:         InvalidInvite("abc"),
			wantMessage: `invite code "abc" does not match any lobby`,
		},
		{
			name:        "NotInLobby names the user",
			err:         NotInLobby(7),
			wantMessage: "user 7 is not in a lobby",
		},
		{
			name:        "CooldownActive rounds to seconds",
			err:         CooldownActive(90*time.Second + 400*time.Millisecond),
			wantMessage: "cooldown active, try again in 1m30s",
		},
		{
			name:        "DecodeFailure without cause",
			err:         DecodeFailure("zz", nil),
			wantMessage: `malformed deep-link payload "zz"`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.Error(); got != tt.wantMessage {
				t.Errorf("Error() = %q, want %q", got, tt.wantMessage)
			}
		})
	}
}

func TestUnwrap(t *testing.T) {
	err := NotFound("lobby", "42")
	if unwrapped := err.Unwrap(); unwrapped != ErrNotFound {
		t.Errorf("Unwrap() = %v, want %v", unwrapped, ErrNotFound)
	}
}

func TestRetryAfter(t *testing.T) {
	wrapped := fmt.Errorf("signal: %w", CooldownActive(2*time.Minute))

	d, ok := RetryAfter(wrapped)
	if !ok {
		t.Fatal("RetryAfter() ok = false, want true")
	}
	if d != 2*time.Minute {
		t.Errorf("RetryAfter() = %v, want %v", d, 2*time.Minute)
	}

	if _, ok := RetryAfter(NotInLobby(1)); ok {
		t.Error("RetryAfter() should be false for non-cooldown errors")
	}
}

func TestCooldownActiveClampsNegative(t *testing.T) {
	err := CooldownActive(-time.Second)
	if err.RetryAfter != 0 {
		t.Errorf("RetryAfter = %v, want 0", err.RetryAfter)
	}
}
