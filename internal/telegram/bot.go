// Package telegram is the Telegram transport: it turns bot updates into
// LobbyService calls and renders the results as messages and inline
// keyboards.
//
// Updates are handled concurrently, one goroutine per update. Nothing here
// holds lobby state; all of it lives behind the service.
package telegram

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/sakif/breakroom/internal/apperror"
	"github.com/sakif/breakroom/internal/invite"
	"github.com/sakif/breakroom/internal/model"
	"github.com/sakif/breakroom/internal/service"
)

// pollTimeout is the long-polling timeout passed to getUpdates.
const pollTimeout = 60 * time.Second

type Bot struct {
	api      API
	svc      *service.LobbyService
	username string
	logger   *slog.Logger

	wg sync.WaitGroup
}

// NewBot returns a bot that answers as username, which is also used to build
// invite links.
func NewBot(api API, svc *service.LobbyService, username string, logger *slog.Logger) *Bot {
	return &Bot{
		api:      api,
		svc:      svc,
		username: strings.TrimPrefix(username, "@"),
		logger:   logger,
	}
}

// PollConfig is the getUpdates configuration used in polling mode.
func PollConfig() tgbotapi.UpdateConfig {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = int(pollTimeout / time.Second)
	u.AllowedUpdates = []string{"message", "callback_query"}
	return u
}

// Run dispatches updates until ctx is done or updates is closed, then waits
// for in-flight handlers.
func (b *Bot) Run(ctx context.Context, updates <-chan tgbotapi.Update) {
	defer b.Wait()

	for {
		select {
		case <-ctx.Done():
			return
		case u, ok := <-updates:
			if !ok {
				return
			}
			b.Dispatch(ctx, u)
		}
	}
}

// Dispatch handles u on its own goroutine.
func (b *Bot) Dispatch(ctx context.Context, u tgbotapi.Update) {
	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		defer func() {
			if r := recover(); r != nil {
				b.logger.Error("panic while handling update",
					slog.Int("updateID", u.UpdateID),
					slog.String("panic", fmt.Sprint(r)),
				)
			}
		}()
		b.HandleUpdate(ctx, u)
	}()
}

// Wait blocks until every dispatched update has been handled.
func (b *Bot) Wait() {
	b.wg.Wait()
}

// HandleUpdate processes a single update synchronously.
func (b *Bot) HandleUpdate(ctx context.Context, u tgbotapi.Update) {
	switch {
	case u.Message != nil:
		b.handleMessage(ctx, u.Message)
	case u.CallbackQuery != nil:
		b.handleCallback(ctx, u.CallbackQuery)
	default:
		b.logger.Debug("ignoring update", slog.Int("updateID", u.UpdateID))
	}
}

// =========================================================================
// COMMANDS
// =========================================================================

func (b *Bot) handleMessage(ctx context.Context, msg *tgbotapi.Message) {
	if msg.From == nil || msg.Chat == nil {
		return
	}
	uid := model.UserID(msg.From.ID)
	chatID := msg.Chat.ID

	if !msg.IsCommand() {
		b.reply(chatID, msgUnknown, nil)
		return
	}

	b.logger.Debug("command received",
		slog.String("command", msg.Command()),
		slog.Int64("userID", int64(uid)),
	)

	switch msg.Command() {
	case "start":
		b.cmdStart(ctx, chatID, uid, msg.CommandArguments())
	case "join":
		b.cmdJoin(ctx, chatID, uid, msg.CommandArguments())
	case "invite":
		b.cmdInvite(ctx, chatID, uid)
	case "leave":
		b.cmdLeave(ctx, chatID, uid)
	case "signal":
		b.cmdSignal(ctx, chatID, uid, displayName(msg.From))
	default:
		b.reply(chatID, msgUnknown, nil)
	}
}

func (b *Bot) cmdStart(ctx context.Context, chatID int64, uid model.UserID, payload string) {
	st, err := b.svc.Start(ctx, uid, strings.TrimSpace(payload))
	if err != nil {
		b.fail(chatID, uid, err)
		return
	}

	if !st.InLobby() {
		kb := newUserKeyboard()
		b.reply(chatID, msgWelcome, &kb)
		return
	}

	text := msgInLobby
	if st.Joined {
		text = msgJoinedLobby
	}
	kb := lobbyKeyboard(st.Cooldown.Active)
	b.reply(chatID, text, &kb)
}

func (b *Bot) cmdJoin(ctx context.Context, chatID int64, uid model.UserID, args string) {
	fields := strings.Fields(args)
	if len(fields) == 0 {
		b.reply(chatID, msgJoinUsage, nil)
		return
	}

	if _, err := b.svc.JoinByCode(ctx, uid, fields[0]); err != nil {
		b.fail(chatID, uid, err)
		return
	}

	st, err := b.svc.Status(ctx, uid)
	if err != nil {
		b.fail(chatID, uid, err)
		return
	}
	kb := lobbyKeyboard(st.Cooldown.Active)
	b.reply(chatID, msgJoinedLobby, &kb)
}

func (b *Bot) cmdInvite(ctx context.Context, chatID int64, uid model.UserID) {
	lobby, err := b.svc.GetInvite(ctx, uid)
	if err != nil {
		b.fail(chatID, uid, err)
		return
	}
	b.reply(chatID, shortInviteText(invite.Link(b.username, lobby.InviteCode), lobby.InviteCode), nil)
}

func (b *Bot) cmdLeave(ctx context.Context, chatID int64, uid model.UserID) {
	if err := b.svc.LeaveLobby(ctx, uid); err != nil {
		b.fail(chatID, uid, err)
		return
	}
	kb := newUserKeyboard()
	b.reply(chatID, msgLeftLobby, &kb)
}

func (b *Bot) cmdSignal(ctx context.Context, chatID int64, uid model.UserID, name string) {
	if _, err := b.svc.Signal(ctx, uid, name); err != nil {
		b.fail(chatID, uid, err)
		return
	}
	b.reply(chatID, ansSignalSent, nil)
}

// =========================================================================
// CALLBACKS
// =========================================================================

func (b *Bot) handleCallback(ctx context.Context, cb *tgbotapi.CallbackQuery) {
	if cb.From == nil {
		return
	}
	uid := model.UserID(cb.From.ID)

	switch cb.Data {
	case cbCreateInvite:
		b.onCreateInvite(ctx, cb, uid)
	case cbChangeLobby:
		b.onChangeLobby(ctx, cb, uid)
	case cbGetInvite:
		b.onGetInvite(ctx, cb, uid)
	case cbSignal:
		b.onSignal(ctx, cb, uid)
	case cbSignalWaiting:
		b.onSignalWaiting(ctx, cb, uid)
	default:
		b.answer(cb, "", false)
	}
}

func (b *Bot) onCreateInvite(ctx context.Context, cb *tgbotapi.CallbackQuery, uid model.UserID) {
	if _, err := b.svc.CreateLobby(ctx, uid); err != nil {
		b.failCallback(cb, uid, err)
		return
	}
	b.edit(cb, msgLobbyCreated, lobbyKeyboard(false))
	b.answer(cb, "", false)
}

func (b *Bot) onChangeLobby(ctx context.Context, cb *tgbotapi.CallbackQuery, uid model.UserID) {
	if err := b.svc.LeaveLobby(ctx, uid); err != nil {
		b.failCallback(cb, uid, err)
		return
	}
	b.edit(cb, msgLeftLobby, newUserKeyboard())
	b.answer(cb, "", false)
}

func (b *Bot) onGetInvite(ctx context.Context, cb *tgbotapi.CallbackQuery, uid model.UserID) {
	lobby, err := b.svc.GetInvite(ctx, uid)
	if err != nil {
		if errors.Is(err, apperror.ErrNotInLobby) {
			b.answer(cb, ansNotInLobby, true)
			return
		}
		b.failCallback(cb, uid, err)
		return
	}

	link := invite.Link(b.username, lobby.InviteCode)
	b.reply(cb.From.ID, inviteText(link, lobby.InviteCode), nil)
	b.answer(cb, ansInviteSent, false)
}

func (b *Bot) onSignal(ctx context.Context, cb *tgbotapi.CallbackQuery, uid model.UserID) {
	_, err := b.svc.Signal(ctx, uid, displayName(cb.From))
	switch {
	case err == nil:
		b.editMarkup(cb, lobbyKeyboard(true))
		b.answer(cb, ansSignalSent, false)
	case errors.Is(err, apperror.ErrNotInLobby):
		b.answer(cb, ansJoinFirst, true)
	case errors.Is(err, apperror.ErrCooldownActive):
		// Someone else signaled first; this keyboard is stale.
		b.editMarkup(cb, lobbyKeyboard(true))
		text, _ := errorText(err)
		b.answer(cb, text, false)
	default:
		b.failCallback(cb, uid, err)
	}
}

// onSignalWaiting answers presses on the inert button. Once the cooldown has
// passed the keyboard is refreshed so the real button comes back.
func (b *Bot) onSignalWaiting(ctx context.Context, cb *tgbotapi.CallbackQuery, uid model.UserID) {
	st, err := b.svc.Status(ctx, uid)
	if err != nil {
		b.failCallback(cb, uid, err)
		return
	}
	if st.InLobby() && !st.Cooldown.Active {
		b.editMarkup(cb, lobbyKeyboard(false))
		b.answer(cb, "", false)
		return
	}
	b.answer(cb, ansButtonWaiting, false)
}

// =========================================================================
// OUTPUT
// =========================================================================

func (b *Bot) reply(chatID int64, text string, kb *tgbotapi.InlineKeyboardMarkup) {
	msg := tgbotapi.NewMessage(chatID, text)
	if kb != nil {
		msg.ReplyMarkup = *kb
	}
	if _, err := b.api.Send(msg); err != nil {
		b.logger.Warn("failed to send message",
			slog.Int64("chatID", chatID),
			slog.String("error", err.Error()),
		)
	}
}

// edit replaces the text and keyboard of the message that carried cb. A
// callback from an inline message has no Message, so a new one is sent.
func (b *Bot) edit(cb *tgbotapi.CallbackQuery, text string, kb tgbotapi.InlineKeyboardMarkup) {
	if cb.Message == nil || cb.Message.Chat == nil {
		b.reply(cb.From.ID, text, &kb)
		return
	}
	b.request(tgbotapi.NewEditMessageTextAndMarkup(cb.Message.Chat.ID, cb.Message.MessageID, text, kb))
}

func (b *Bot) editMarkup(cb *tgbotapi.CallbackQuery, kb tgbotapi.InlineKeyboardMarkup) {
	if cb.Message == nil || cb.Message.Chat == nil {
		return
	}
	b.request(tgbotapi.NewEditMessageReplyMarkup(cb.Message.Chat.ID, cb.Message.MessageID, kb))
}

func (b *Bot) answer(cb *tgbotapi.CallbackQuery, text string, alert bool) {
	cfg := tgbotapi.NewCallback(cb.ID, text)
	if alert {
		cfg = tgbotapi.NewCallbackWithAlert(cb.ID, text)
	}
	b.request(cfg)
}

func (b *Bot) request(c tgbotapi.Chattable) {
	if _, err := b.api.Request(c); err != nil {
		b.logger.Warn("telegram request failed", slog.String("error", err.Error()))
	}
}

// fail reports err to the user. Unexpected errors are logged.
func (b *Bot) fail(chatID int64, uid model.UserID, err error) {
	text, known := errorText(err)
	if !known {
		b.logger.Error("failed to handle command",
			slog.Int64("userID", int64(uid)),
			slog.String("error", err.Error()),
		)
	}
	b.reply(chatID, text, nil)
}

func (b *Bot) failCallback(cb *tgbotapi.CallbackQuery, uid model.UserID, err error) {
	text, known := errorText(err)
	if !known {
		b.logger.Error("failed to handle callback",
			slog.String("data", cb.Data),
			slog.Int64("userID", int64(uid)),
			slog.String("error", err.Error()),
		)
	}
	b.answer(cb, text, !known)
}

// displayName is the user's full name, or their @username when Telegram
// has no name for them.
func displayName(u *tgbotapi.User) string {
	if u == nil {
		return ""
	}
	name := strings.TrimSpace(u.FirstName + " " + u.LastName)
	if name == "" && u.UserName != "" {
		name = "@" + u.UserName
	}
	return name
}
