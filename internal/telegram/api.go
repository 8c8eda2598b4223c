package telegram

import (
	"context"
	"fmt"
	"net/http"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/sakif/breakroom/internal/model"
	"github.com/sakif/breakroom/internal/notify"
)

// API is the part of *tgbotapi.BotAPI the bot uses.
type API interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error)
	MakeRequest(endpoint string, params tgbotapi.Params) (*tgbotapi.APIResponse, error)
}

var _ API = (*tgbotapi.BotAPI)(nil)

// Connect authenticates with the Bot API. requestTimeout bounds every HTTP
// call the client makes; long polling adds its own timeout on top.
func Connect(token string, requestTimeout time.Duration) (*tgbotapi.BotAPI, error) {
	client := &http.Client{Timeout: requestTimeout + pollTimeout}
	api, err := tgbotapi.NewBotAPIWithClient(token, tgbotapi.APIEndpoint, client)
	if err != nil {
		return nil, fmt.Errorf("telegram: connecting: %w", err)
	}
	return api, nil
}

// SetWebhook registers url with Telegram. When secret is set Telegram echoes
// it in the X-Telegram-Bot-Api-Secret-Token header of every delivery.
func SetWebhook(api API, url, secret string) error {
	params := tgbotapi.Params{"url": url}
	params.AddNonEmpty("secret_token", secret)
	params.AddBool("drop_pending_updates", false)

	if _, err := api.MakeRequest("setWebhook", params); err != nil {
		return fmt.Errorf("telegram: setting webhook: %w", err)
	}
	return nil
}

// DeleteWebhook switches the bot back to getUpdates delivery.
func DeleteWebhook(api API) error {
	if _, err := api.Request(tgbotapi.DeleteWebhookConfig{}); err != nil {
		return fmt.Errorf("telegram: deleting webhook: %w", err)
	}
	return nil
}

// Sender delivers signal notifications as private messages.
type Sender struct {
	api API
}

var _ notify.Sender = (*Sender)(nil)

func NewSender(api API) *Sender {
	return &Sender{api: api}
}

// Send messages the user's private chat, whose id equals the user id. The
// Bot API client takes no context, so ctx only bounds how long Send waits.
func (s *Sender) Send(ctx context.Context, userID model.UserID, text string) error {
	done := make(chan error, 1)
	go func() {
		_, err := s.api.Send(tgbotapi.NewMessage(int64(userID), text))
		done <- err
	}()

	select {
	case err := <-done:
		if err != nil {
			return fmt.Errorf("telegram: sending to %d: %w", userID, err)
		}
		return nil
	case <-ctx.Done():
		return fmt.Errorf("telegram: sending to %d: %w", userID, ctx.Err())
	}
}
