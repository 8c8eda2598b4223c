package telegram

import (
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// Callback data carried by the inline buttons.
const (
	cbCreateInvite  = "create_invite"
	cbChangeLobby   = "change_lobby"
	cbGetInvite     = "get_invite"
	cbSignal        = "start"
	cbSignalWaiting = "start_disabled"
)

func newUserKeyboard() tgbotapi.InlineKeyboardMarkup {
	return tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData(btnCreateInvite, cbCreateInvite),
		),
	)
}

// lobbyKeyboard swaps the signal button for an inert one while the cooldown
// is active.
func lobbyKeyboard(cooldownActive bool) tgbotapi.InlineKeyboardMarkup {
	signal := tgbotapi.NewInlineKeyboardButtonData(btnSignal, cbSignal)
	if cooldownActive {
		signal = tgbotapi.NewInlineKeyboardButtonData(btnSignalWaiting, cbSignalWaiting)
	}

	return tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData(btnChangeLobby, cbChangeLobby),
		),
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData(btnGetInvite, cbGetInvite),
		),
		tgbotapi.NewInlineKeyboardRow(signal),
	)
}
