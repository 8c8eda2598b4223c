// Package invite turns lobby invite codes into deep-link payloads and back.
//
// A payload is the url-safe base64 encoding of "invite_" + code with the
// padding stripped, which is what Telegram accepts in ?start=. Decoding
// accepts padded, unpadded and percent-escaped payloads alike.
package invite

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"net/url"
	"strings"

	"github.com/sakif/breakroom/internal/apperror"
)

const (
	// Prefix marks a decoded payload as an invite. Payloads without it
	// belong to some other deep-link feature.
	Prefix = "invite_"

	// CodeBytes is the entropy of a generated invite code.
	CodeBytes = 8

	// MaxPayloadLength is Telegram's limit for the start parameter.
	MaxPayloadLength = 64
)

// NewCode returns a fresh random invite code: CodeBytes bytes from
// crypto/rand, url-safe base64 without padding (11 characters).
func NewCode() (string, error) {
	buf := make([]byte, CodeBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("invite: reading random bytes: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

// Encode turns data into a url-safe deep-link payload.
func Encode(data string) string {
	payload := base64.RawURLEncoding.EncodeToString([]byte(data))
	// base64url never needs escaping; QueryEscape keeps that true if the
	// alphabet ever changes.
	return url.QueryEscape(payload)
}

// Decode is the inverse of Encode. Malformed payloads return an error
// wrapping apperror.ErrDecodeFailure; Decode never panics.
func Decode(payload string) (string, error) {
	if payload == "" {
		return "", apperror.DecodeFailure(payload, fmt.Errorf("empty payload"))
	}
	if len(payload) > MaxPayloadLength*3 {
		return "", apperror.DecodeFailure(payload[:16]+"...", fmt.Errorf("payload too long"))
	}

	raw, err := url.QueryUnescape(payload)
	if err != nil {
		return "", apperror.DecodeFailure(payload, err)
	}
	if len(raw) > MaxPayloadLength {
		return "", apperror.DecodeFailure(payload, fmt.Errorf("payload longer than %d characters", MaxPayloadLength))
	}

	// Restore padding so both padded and unpadded inputs decode.
	raw = strings.TrimRight(raw, "=")
	if rem := len(raw) % 4; rem != 0 {
		raw += strings.Repeat("=", 4-rem)
	}

	data, err := base64.URLEncoding.DecodeString(raw)
	if err != nil {
		return "", apperror.DecodeFailure(payload, err)
	}
	return string(data), nil
}

// EncodeInvite builds the deep-link payload for an invite code.
func EncodeInvite(code string) string {
	return Encode(Prefix + code)
}

// ParsePayload extracts an invite code from a deep-link payload.
//
// err is non-nil only for malformed payloads. A well-formed payload without
// the invite prefix returns ok == false and a nil error.
func ParsePayload(payload string) (code string, ok bool, err error) {
	data, err := Decode(payload)
	if err != nil {
		return "", false, err
	}
	code, ok = strings.CutPrefix(data, Prefix)
	if !ok || code == "" {
		return "", false, nil
	}
	return code, true, nil
}

// Link returns the shareable deep link for code on the given bot.
func Link(botUsername, code string) string {
	return fmt.Sprintf("https://t.me/%s?start=%s", strings.TrimPrefix(botUsername, "@"), EncodeInvite(code))
}
