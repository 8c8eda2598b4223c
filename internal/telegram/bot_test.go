package telegram

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sakif/breakroom/internal/apperror"
	"github.com/sakif/breakroom/internal/cooldown"
	"github.com/sakif/breakroom/internal/invite"
	"github.com/sakif/breakroom/internal/model"
	"github.com/sakif/breakroom/internal/notify"
	"github.com/sakif/breakroom/internal/repository/memory"
	"github.com/sakif/breakroom/internal/service"
)

// =========================================================================
// FAKES AND HELPERS
// =========================================================================

// fakeAPI records everything the bot sends instead of calling Telegram.
type fakeAPI struct {
	mu       sync.Mutex
	sent     []tgbotapi.MessageConfig
	requests []tgbotapi.Chattable
	calls    map[string]tgbotapi.Params

	failFor map[int64]bool
}

func newFakeAPI() *fakeAPI {
	return &fakeAPI{
		calls:   make(map[string]tgbotapi.Params),
		failFor: make(map[int64]bool),
	}
}

func (f *fakeAPI) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	msg, ok := c.(tgbotapi.MessageConfig)
	if !ok {
		f.requests = append(f.requests, c)
		return tgbotapi.Message{}, nil
	}
	if f.failFor[msg.ChatID] {
		return tgbotapi.Message{}, errors.New("Forbidden: bot was blocked by the user")
	}
	f.sent = append(f.sent, msg)
	return tgbotapi.Message{MessageID: len(f.sent)}, nil
}

func (f *fakeAPI) Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, c)
	return &tgbotapi.APIResponse{Ok: true}, nil
}

func (f *fakeAPI) MakeRequest(endpoint string, params tgbotapi.Params) (*tgbotapi.APIResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[endpoint] = params
	return &tgbotapi.APIResponse{Ok: true}, nil
}

func (f *fakeAPI) messagesTo(chatID int64) []tgbotapi.MessageConfig {
	f.mu.Lock()
	defer f.mu.Unlock()

	var out []tgbotapi.MessageConfig
	for _, m := range f.sent {
		if m.ChatID == chatID {
			out = append(out, m)
		}
	}
	return out
}

func (f *fakeAPI) lastMessageTo(t *testing.T, chatID int64) tgbotapi.MessageConfig {
	t.Helper()
	msgs := f.messagesTo(chatID)
	require.NotEmpty(t, msgs, "no message sent to %d", chatID)
	return msgs[len(msgs)-1]
}

func (f *fakeAPI) lastCallback(t *testing.T) tgbotapi.CallbackConfig {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()

	for i := len(f.requests) - 1; i >= 0; i-- {
		if cb, ok := f.requests[i].(tgbotapi.CallbackConfig); ok {
			return cb
		}
	}
	t.Fatal("no callback answered")
	return tgbotapi.CallbackConfig{}
}

func (f *fakeAPI) lastMarkupEdit(t *testing.T) tgbotapi.InlineKeyboardMarkup {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()

	for i := len(f.requests) - 1; i >= 0; i-- {
		switch e := f.requests[i].(type) {
		case tgbotapi.EditMessageReplyMarkupConfig:
			return *e.ReplyMarkup
		case tgbotapi.EditMessageTextConfig:
			return *e.ReplyMarkup
		}
	}
	t.Fatal("no message edited")
	return tgbotapi.InlineKeyboardMarkup{}
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type testBot struct {
	bot   *Bot
	api   *fakeAPI
	clock *fakeClock
}

func newTestBot(t *testing.T) *testBot {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	store := memory.New()
	api := newFakeAPI()
	clock := &fakeClock{now: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}

	fanout := notify.NewFanout(NewSender(api), notify.Config{
		Concurrency: 4,
		Rate:        1000,
		SendTimeout: time.Second,
	}, logger)

	svc := service.NewLobbyService(
		service.NewRegistry(store, logger),
		store,
		cooldown.NewGate(store, cooldown.DefaultDuration, cooldown.WithClock(clock.Now)),
		fanout,
		"",
		logger,
	)

	return &testBot{
		bot:   NewBot(api, svc, "@breakroom_bot", logger),
		api:   api,
		clock: clock,
	}
}

var (
	alice = &tgbotapi.User{ID: 1001, FirstName: "Alice", LastName: "Liddell"}
	bob   = &tgbotapi.User{ID: 1002, FirstName: "Bob"}
	carol = &tgbotapi.User{ID: 1003, UserName: "carol"}
)

func command(from *tgbotapi.User, text string) tgbotapi.Update {
	name := strings.Fields(text)[0]
	return tgbotapi.Update{Message: &tgbotapi.Message{
		MessageID: 1,
		From:      from,
		Chat:      &tgbotapi.Chat{ID: from.ID, Type: "private"},
		Text:      text,
		Entities:  []tgbotapi.MessageEntity{{Type: "bot_command", Offset: 0, Length: len(name)}},
	}}
}

func press(from *tgbotapi.User, data string) tgbotapi.Update {
	return tgbotapi.Update{CallbackQuery: &tgbotapi.CallbackQuery{
		ID:   fmt.Sprintf("cb-%d-%s", from.ID, data),
		From: from,
		Data: data,
		Message: &tgbotapi.Message{
			MessageID: 77,
			Chat:      &tgbotapi.Chat{ID: from.ID, Type: "private"},
		},
	}}
}

func callbackData(kb tgbotapi.InlineKeyboardMarkup) []string {
	var out []string
	for _, row := range kb.InlineKeyboard {
		for _, btn := range row {
			if btn.CallbackData != nil {
				out = append(out, *btn.CallbackData)
			}
		}
	}
	return out
}

func keyboardOf(t *testing.T, msg tgbotapi.MessageConfig) tgbotapi.InlineKeyboardMarkup {
	t.Helper()
	kb, ok := msg.ReplyMarkup.(tgbotapi.InlineKeyboardMarkup)
	require.True(t, ok, "message has no inline keyboard")
	return kb
}

// createLobby walks Alice through /start and the create button, and returns
// the invite code she would share.
func (tb *testBot) createLobby(t *testing.T, owner *tgbotapi.User) string {
	t.Helper()
	ctx := context.Background()

	tb.bot.HandleUpdate(ctx, command(owner, "/start"))
	tb.bot.HandleUpdate(ctx, press(owner, cbCreateInvite))

	lobby, err := tb.bot.svc.GetInvite(ctx, model.UserID(owner.ID))
	require.NoError(t, err)
	return lobby.InviteCode
}

// =========================================================================
// TESTS
// =========================================================================

func TestStartNewUser(t *testing.T) {
	tb := newTestBot(t)

	tb.bot.HandleUpdate(context.Background(), command(alice, "/start"))

	msg := tb.api.lastMessageTo(t, alice.ID)
	assert.Equal(t, msgWelcome, msg.Text)
	assert.Equal(t, []string{cbCreateInvite}, callbackData(keyboardOf(t, msg)))
}

func TestCreateInviteButton(t *testing.T) {
	tb := newTestBot(t)
	tb.createLobby(t, alice)

	kb := tb.api.lastMarkupEdit(t)
	assert.Equal(t, []string{cbChangeLobby, cbGetInvite, cbSignal}, callbackData(kb))

	tb.bot.HandleUpdate(context.Background(), command(alice, "/start"))
	msg := tb.api.lastMessageTo(t, alice.ID)
	assert.Equal(t, msgInLobby, msg.Text)
}

func TestGetInviteButton(t *testing.T) {
	tb := newTestBot(t)
	code := tb.createLobby(t, alice)

	tb.bot.HandleUpdate(context.Background(), press(alice, cbGetInvite))

	msg := tb.api.lastMessageTo(t, alice.ID)
	assert.Contains(t, msg.Text, "https://t.me/breakroom_bot?start="+invite.EncodeInvite(code))
	assert.Contains(t, msg.Text, "/join "+code)
	assert.Equal(t, ansInviteSent, tb.api.lastCallback(t).Text)
}

func TestGetInviteButtonNotInLobby(t *testing.T) {
	tb := newTestBot(t)

	tb.bot.HandleUpdate(context.Background(), press(bob, cbGetInvite))

	cb := tb.api.lastCallback(t)
	assert.Equal(t, ansNotInLobby, cb.Text)
	assert.True(t, cb.ShowAlert)
	assert.Empty(t, tb.api.messagesTo(bob.ID))
}

func TestJoinCommand(t *testing.T) {
	tb := newTestBot(t)
	code := tb.createLobby(t, alice)
	ctx := context.Background()

	tests := []struct {
		name     string
		text     string
		wantText string
	}{
		{name: "missing code", text: "/join", wantText: msgJoinUsage},
		{name: "unknown code", text: "/join nope", wantText: msgInvalidCode},
		{name: "valid code", text: "/join " + code, wantText: msgJoinedLobby},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tb.bot.HandleUpdate(ctx, command(bob, tt.text))
			assert.Equal(t, tt.wantText, tb.api.lastMessageTo(t, bob.ID).Text)
		})
	}

	st, err := tb.bot.svc.Status(ctx, model.UserID(bob.ID))
	require.NoError(t, err)
	assert.True(t, st.InLobby())
}

func TestStartWithDeepLink(t *testing.T) {
	tb := newTestBot(t)
	code := tb.createLobby(t, alice)

	tb.bot.HandleUpdate(context.Background(), command(bob, "/start "+invite.EncodeInvite(code)))

	msg := tb.api.lastMessageTo(t, bob.ID)
	assert.Equal(t, msgJoinedLobby, msg.Text)
	assert.Contains(t, callbackData(keyboardOf(t, msg)), cbSignal)
}

func TestStartWithGarbagePayload(t *testing.T) {
	tb := newTestBot(t)

	tb.bot.HandleUpdate(context.Background(), command(bob, "/start %%%garbage"))

	assert.Equal(t, msgWelcome, tb.api.lastMessageTo(t, bob.ID).Text)
}

func TestInviteCommand(t *testing.T) {
	tb := newTestBot(t)
	ctx := context.Background()

	tb.bot.HandleUpdate(ctx, command(alice, "/invite"))
	assert.Equal(t, msgNotInLobby, tb.api.lastMessageTo(t, alice.ID).Text)

	code := tb.createLobby(t, alice)
	tb.bot.HandleUpdate(ctx, command(alice, "/invite"))
	msg := tb.api.lastMessageTo(t, alice.ID)
	assert.Contains(t, msg.Text, "Code: "+code)
}

func TestSignalButton(t *testing.T) {
	tb := newTestBot(t)
	ctx := context.Background()

	code := tb.createLobby(t, alice)
	tb.bot.HandleUpdate(ctx, command(bob, "/join "+code))
	tb.bot.HandleUpdate(ctx, command(carol, "/join "+code))

	tb.bot.HandleUpdate(ctx, press(alice, cbSignal))

	for _, u := range []*tgbotapi.User{alice, bob, carol} {
		msg := tb.api.lastMessageTo(t, u.ID)
		assert.Equal(t, "Alice Liddell is calling everyone for a break!", msg.Text, "user %d", u.ID)
	}
	assert.Equal(t, ansSignalSent, tb.api.lastCallback(t).Text)
	assert.Equal(t, []string{cbChangeLobby, cbGetInvite, cbSignalWaiting}, callbackData(tb.api.lastMarkupEdit(t)))

	// Bob's keyboard is stale; his press is rejected by the gate.
	before := len(tb.api.messagesTo(alice.ID))
	tb.bot.HandleUpdate(ctx, press(bob, cbSignal))
	assert.True(t, strings.HasPrefix(tb.api.lastCallback(t).Text, ansWaitCooldown))
	assert.Len(t, tb.api.messagesTo(alice.ID), before, "no second broadcast")

	tb.bot.HandleUpdate(ctx, press(bob, cbSignalWaiting))
	assert.Equal(t, ansButtonWaiting, tb.api.lastCallback(t).Text)

	// Once the cooldown has passed the waiting button restores the real one.
	tb.clock.Advance(cooldown.DefaultDuration)
	tb.bot.HandleUpdate(ctx, press(bob, cbSignalWaiting))
	assert.Equal(t, []string{cbChangeLobby, cbGetInvite, cbSignal}, callbackData(tb.api.lastMarkupEdit(t)))

	tb.bot.HandleUpdate(ctx, command(carol, "/signal"))
	assert.Equal(t, "@carol is calling everyone for a break!", tb.api.messagesTo(alice.ID)[before].Text)
}

func TestSignalSurvivesBlockedMember(t *testing.T) {
	tb := newTestBot(t)
	ctx := context.Background()

	code := tb.createLobby(t, alice)
	tb.bot.HandleUpdate(ctx, command(bob, "/join "+code))
	tb.api.failFor[bob.ID] = true

	tb.bot.HandleUpdate(ctx, press(alice, cbSignal))

	assert.Equal(t, ansSignalSent, tb.api.lastCallback(t).Text)
	assert.Equal(t, "Alice Liddell is calling everyone for a break!", tb.api.lastMessageTo(t, alice.ID).Text)
}

func TestSignalButtonNotInLobby(t *testing.T) {
	tb := newTestBot(t)

	tb.bot.HandleUpdate(context.Background(), press(bob, cbSignal))

	cb := tb.api.lastCallback(t)
	assert.Equal(t, ansJoinFirst, cb.Text)
	assert.True(t, cb.ShowAlert)
}

func TestChangeLobbyAndLeave(t *testing.T) {
	tb := newTestBot(t)
	ctx := context.Background()

	tb.createLobby(t, alice)
	tb.bot.HandleUpdate(ctx, press(alice, cbChangeLobby))
	assert.Equal(t, []string{cbCreateInvite}, callbackData(tb.api.lastMarkupEdit(t)))

	code := tb.createLobby(t, bob)
	tb.bot.HandleUpdate(ctx, command(alice, "/join "+code))
	tb.bot.HandleUpdate(ctx, command(alice, "/leave"))
	assert.Equal(t, msgLeftLobby, tb.api.lastMessageTo(t, alice.ID).Text)

	st, err := tb.bot.svc.Status(ctx, model.UserID(alice.ID))
	require.NoError(t, err)
	assert.False(t, st.InLobby())
}

func TestPlainTextGetsHint(t *testing.T) {
	tb := newTestBot(t)

	tb.bot.HandleUpdate(context.Background(), tgbotapi.Update{Message: &tgbotapi.Message{
		From: alice,
		Chat: &tgbotapi.Chat{ID: alice.ID},
		Text: "hello?",
	}})

	assert.Equal(t, msgUnknown, tb.api.lastMessageTo(t, alice.ID).Text)
}

func TestRunDrainsUpdates(t *testing.T) {
	tb := newTestBot(t)

	updates := make(chan tgbotapi.Update, 3)
	updates <- command(alice, "/start")
	updates <- command(bob, "/start")
	updates <- command(carol, "/start")
	close(updates)

	done := make(chan struct{})
	go func() {
		tb.bot.Run(context.Background(), updates)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after the channel closed")
	}

	for _, u := range []*tgbotapi.User{alice, bob, carol} {
		assert.Len(t, tb.api.messagesTo(u.ID), 1)
	}
}

func TestRunStopsOnCancel(t *testing.T) {
	tb := newTestBot(t)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		tb.bot.Run(ctx, make(chan tgbotapi.Update))
		close(done)
	}()
	cancel()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

// blockingAPI never answers Send.
type blockingAPI struct {
	fakeAPI
	release chan struct{}
}

func (b *blockingAPI) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	<-b.release
	return tgbotapi.Message{}, nil
}

func TestSenderHonoursContext(t *testing.T) {
	api := &blockingAPI{release: make(chan struct{})}
	defer close(api.release)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	err := NewSender(api).Send(ctx, 42, "hi")
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestSenderWrapsErrors(t *testing.T) {
	api := newFakeAPI()
	api.failFor[42] = true

	err := NewSender(api).Send(context.Background(), 42, "hi")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "blocked")
}

func TestSetWebhook(t *testing.T) {
	api := newFakeAPI()

	require.NoError(t, SetWebhook(api, "https://example.com/telegram/webhook", "s3cret"))

	params := api.calls["setWebhook"]
	assert.Equal(t, "https://example.com/telegram/webhook", params["url"])
	assert.Equal(t, "s3cret", params["secret_token"])

	require.NoError(t, SetWebhook(api, "https://example.com/telegram/webhook", ""))
	_, hasSecret := api.calls["setWebhook"]["secret_token"]
	assert.False(t, hasSecret)
}

func TestDisplayName(t *testing.T) {
	tests := []struct {
		name string
		user *tgbotapi.User
		want string
	}{
		{name: "full name", user: alice, want: "Alice Liddell"},
		{name: "first name only", user: bob, want: "Bob"},
		{name: "username fallback", user: carol, want: "@carol"},
		{name: "nothing", user: &tgbotapi.User{ID: 5}, want: ""},
		{name: "nil", user: nil, want: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, displayName(tt.user))
		})
	}
}

func TestErrorText(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		wantText  string
		wantKnown bool
	}{
		{name: "not in lobby", err: apperror.NotInLobby(1), wantText: msgNotInLobby, wantKnown: true},
		{name: "invalid invite", err: fmt.Errorf("wrapped: %w", apperror.InvalidInvite("x")), wantText: msgInvalidCode, wantKnown: true},
		{name: "cooldown", err: apperror.CooldownActive(90 * time.Second), wantText: ansWaitCooldown + ", 1m30s left", wantKnown: true},
		{name: "unexpected", err: errors.New("disk on fire"), wantText: msgInternal, wantKnown: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			text, known := errorText(tt.err)
			assert.Equal(t, tt.wantText, text)
			assert.Equal(t, tt.wantKnown, known)
		})
	}
}
