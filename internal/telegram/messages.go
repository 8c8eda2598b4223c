package telegram

import (
	"errors"
	"fmt"
	"time"

	"github.com/sakif/breakroom/internal/apperror"
)

// Button labels.
const (
	btnCreateInvite  = "Create invite link"
	btnChangeLobby   = "Change lobby"
	btnGetInvite     = "Get invite link"
	btnSignal        = "Call a break"
	btnSignalWaiting = "Break called, please wait"
)

const (
	msgWelcome      = "Welcome! Create your lobby and invite your friends."
	msgInLobby      = "You are in a lobby. Choose an action:"
	msgJoinedLobby  = "You joined the lobby."
	msgLobbyCreated = "Lobby created. Share the link and call your friends!"
	msgLeftLobby    = "You left the lobby. Create a new one or join by link."
	msgNotInLobby   = "You are not in a lobby. Create one or join by invite."
	msgJoinUsage    = "Usage: /join <code>"
	msgInvalidCode  = "Invalid invite code"
	msgUnknown      = "Use /start to open the menu."
	msgInternal     = "Something went wrong, please try again later."

	ansSignalSent    = "Signal sent to everyone in the lobby"
	ansWaitCooldown  = "Wait for the cooldown to finish"
	ansButtonWaiting = "The button is temporarily unavailable (cooldown)"
	ansJoinFirst     = "Join a lobby first"
	ansNotInLobby    = "You are not in a lobby"
	ansInviteSent    = "Invite link sent to your private messages"
)

func inviteText(link, code string) string {
	return fmt.Sprintf("Lobby invite:\nLink: %s\nCode: %s\n\nA friend can also send the bot: /join %s", link, code, code)
}

func shortInviteText(link, code string) string {
	return fmt.Sprintf("Link: %s\nCode: %s", link, code)
}

func cooldownText(remaining time.Duration) string {
	return fmt.Sprintf("%s, %s left", ansWaitCooldown, remaining.Round(time.Second))
}

// errorText turns a service error into something a user can read. ok is
// false for unexpected errors, which the caller should log.
func errorText(err error) (text string, ok bool) {
	switch {
	case errors.Is(err, apperror.ErrNotInLobby):
		return msgNotInLobby, true
	case errors.Is(err, apperror.ErrInvalidInvite):
		return msgInvalidCode, true
	case errors.Is(err, apperror.ErrCooldownActive):
		if d, has := apperror.RetryAfter(err); has && d > 0 {
			return cooldownText(d), true
		}
		return ansWaitCooldown, true
	default:
		return msgInternal, false
	}
}
