package handler

import (
	"crypto/subtle"
	"encoding/json"
	"log/slog"
	"net/http"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/xid"
)

// SecretTokenHeader carries the secret registered with setWebhook.
const SecretTokenHeader = "X-Telegram-Bot-Api-Secret-Token"

// WebhookHandler receives Telegram updates in webhook mode.
type WebhookHandler struct {
	secret   string
	dispatch func(tgbotapi.Update)
	logger   *slog.Logger
}

// NewWebhookHandler returns a handler that passes every accepted update to
// dispatch. dispatch must not block: Telegram waits for the response and
// retries on timeouts. An empty secret disables the header check.
func NewWebhookHandler(secret string, dispatch func(tgbotapi.Update), logger *slog.Logger) *WebhookHandler {
	return &WebhookHandler{secret: secret, dispatch: dispatch, logger: logger}
}

// HandleWebhook accepts one update.
//
// HTTP: POST /telegram/webhook
func (h *WebhookHandler) HandleWebhook(w http.ResponseWriter, r *http.Request) {
	if h.secret != "" {
		got := r.Header.Get(SecretTokenHeader)
		if subtle.ConstantTimeCompare([]byte(got), []byte(h.secret)) != 1 {
			h.logger.Warn("webhook secret mismatch", slog.String("remote", r.RemoteAddr))
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
	}

	var update tgbotapi.Update
	if err := json.NewDecoder(r.Body).Decode(&update); err != nil {
		h.logger.Warn("invalid update JSON", slog.String("error", err.Error()))
		writeJSON(w, http.StatusBadRequest, ErrorResponse{
			Error:   "validation_error",
			Message: "invalid update body",
		})
		return
	}

	h.logger.Debug("update received",
		slog.String("delivery", xid.New().String()),
		slog.Int("updateID", update.UpdateID),
	)
	h.dispatch(update)
	w.WriteHeader(http.StatusOK)
}
