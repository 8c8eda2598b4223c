// Package service contains the lobby business logic.
//
// THE LAYERS:
//
//	Transport (telegram, handler) → parses platform events, renders replies
//	Service (this package)        → membership rules, cooldown gate, fanout
//	Repository                    → reads/writes lobbies, users, cooldowns
//
// LobbyService accepts primitives (user ids, codes, names), never platform
// types, so the Telegram bot and the JSON API share one implementation.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/sakif/breakroom/internal/apperror"
	"github.com/sakif/breakroom/internal/cooldown"
	"github.com/sakif/breakroom/internal/invite"
	"github.com/sakif/breakroom/internal/model"
	"github.com/sakif/breakroom/internal/notify"
	"github.com/sakif/breakroom/internal/repository"
)

const (
	DefaultSignalTemplate = "%s is calling everyone for a break!"

	// fallbackName is used when the platform gives us no display name.
	fallbackName = "Someone"
)

// Broadcaster is satisfied by *notify.Fanout.
type Broadcaster interface {
	Broadcast(ctx context.Context, recipients []model.UserID, text string) *notify.Result
}

// Status is what a user sees when they open the bot.
type Status struct {
	UserID   model.UserID
	Lobby    *model.Lobby // nil when the user is not in a lobby
	Cooldown cooldown.State

	// Joined is set by Start when the deep link moved the user into Lobby.
	Joined bool
}

func (s *Status) InLobby() bool { return s.Lobby != nil }

// SignalResult describes a signal that went out.
type SignalResult struct {
	LobbyID   model.LobbyID
	Until     time.Time // gate stays closed until this instant
	Broadcast *notify.Result
}

// Attempted is the number of members a delivery was attempted for.
func (r *SignalResult) Attempted() int { return r.Broadcast.Attempted() }

type LobbyService struct {
	registry *Registry
	members  repository.MembershipRepository
	gate     *cooldown.Gate
	fanout   Broadcaster
	template string
	logger   *slog.Logger
}

// NewLobbyService wires the service. An empty template falls back to
// DefaultSignalTemplate; the template takes the caller's display name as its
// only %s verb.
func NewLobbyService(
	registry *Registry,
	members repository.MembershipRepository,
	gate *cooldown.Gate,
	fanout Broadcaster,
	template string,
	logger *slog.Logger,
) *LobbyService {
	if template == "" {
		template = DefaultSignalTemplate
	}
	return &LobbyService{
		registry: registry,
		members:  members,
		gate:     gate,
		fanout:   fanout,
		template: template,
		logger:   logger,
	}
}

// CreateLobby creates a lobby and moves the user into it. A user already in
// another lobby leaves it.
func (s *LobbyService) CreateLobby(ctx context.Context, userID model.UserID) (*model.Lobby, error) {
	lobby, err := s.registry.CreateLobby(ctx)
	if err != nil {
		s.logger.Error("failed to create lobby",
			slog.Int64("userID", int64(userID)),
			slog.String("error", err.Error()),
		)
		return nil, fmt.Errorf("service: creating lobby: %w", err)
	}

	if err := s.members.SetLobby(ctx, userID, model.LobbyRef(lobby.ID)); err != nil {
		return nil, fmt.Errorf("service: joining created lobby %d: %w", lobby.ID, err)
	}

	s.logger.Info("lobby created",
		slog.Int64("lobbyID", int64(lobby.ID)),
		slog.Int64("userID", int64(userID)),
	)
	return lobby, nil
}

// JoinByCode moves the user into the lobby identified by code. Rejoining the
// same lobby or switching from another one both simply overwrite the
// membership. Unknown codes return apperror.ErrInvalidInvite and leave the
// membership unchanged.
func (s *LobbyService) JoinByCode(ctx context.Context, userID model.UserID, code string) (*model.Lobby, error) {
	code = strings.TrimSpace(code)
	if code == "" {
		return nil, apperror.InvalidInvite(code)
	}

	lobby, ok, err := s.registry.ResolveByCode(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("service: joining by code: %w", err)
	}
	if !ok {
		return nil, apperror.InvalidInvite(code)
	}

	if err := s.members.SetLobby(ctx, userID, model.LobbyRef(lobby.ID)); err != nil {
		return nil, fmt.Errorf("service: joining lobby %d: %w", lobby.ID, err)
	}

	s.logger.Info("user joined lobby",
		slog.Int64("lobbyID", int64(lobby.ID)),
		slog.Int64("userID", int64(userID)),
	)
	return lobby, nil
}

// LeaveLobby detaches the user. Leaving while not in a lobby is fine.
func (s *LobbyService) LeaveLobby(ctx context.Context, userID model.UserID) error {
	if err := s.members.SetLobby(ctx, userID, nil); err != nil {
		return fmt.Errorf("service: leaving lobby: %w", err)
	}
	s.logger.Info("user left lobby", slog.Int64("userID", int64(userID)))
	return nil
}

// GetInvite returns the user's lobby so the caller can render its invite
// code and link.
func (s *LobbyService) GetInvite(ctx context.Context, userID model.UserID) (*model.Lobby, error) {
	lobbyID, ok, err := s.lobbyOf(ctx, userID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, apperror.NotInLobby(int64(userID))
	}

	lobby, found, err := s.registry.Lobby(ctx, lobbyID)
	if err != nil {
		return nil, fmt.Errorf("service: getting invite: %w", err)
	}
	if !found {
		// users.lobby_id references lobbies.id, so this only happens if
		// someone deleted rows by hand.
		return nil, fmt.Errorf("service: getting invite: %w",
			apperror.NotFound("lobby", fmt.Sprint(lobbyID)))
	}
	return lobby, nil
}

// Signal notifies every member of the caller's lobby, the caller included.
//
// The cooldown is armed with a single conditional write before anything is
// sent, so of two concurrent signals in one lobby exactly one fans out; the
// other gets apperror.ErrCooldownActive. Delivery failures are reported in
// the result and never fail the call.
func (s *LobbyService) Signal(ctx context.Context, userID model.UserID, displayName string) (*SignalResult, error) {
	lobbyID, ok, err := s.lobbyOf(ctx, userID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, apperror.NotInLobby(int64(userID))
	}

	until, err := s.gate.TryArm(ctx, lobbyID)
	if err != nil {
		if errors.Is(err, apperror.ErrCooldownActive) {
			s.logger.Debug("signal rejected by cooldown",
				slog.Int64("lobbyID", int64(lobbyID)),
				slog.Int64("userID", int64(userID)),
			)
			return nil, err
		}
		return nil, fmt.Errorf("service: signal: %w", err)
	}

	members, err := s.members.ListMembers(ctx, lobbyID)
	if err != nil {
		// The gate stays armed: a signal counts as sent once armed.
		return nil, fmt.Errorf("service: listing members of lobby %d: %w", lobbyID, err)
	}

	text := s.SignalText(displayName)
	res := s.fanout.Broadcast(ctx, members, text)

	s.logger.Info("signal sent",
		slog.Int64("lobbyID", int64(lobbyID)),
		slog.Int64("userID", int64(userID)),
		slog.String("broadcast", res.ID),
		slog.Int("attempted", res.Attempted()),
		slog.Int("failed", len(res.Failures())),
	)

	return &SignalResult{LobbyID: lobbyID, Until: until, Broadcast: res}, nil
}

// SignalText renders the notification for displayName.
func (s *LobbyService) SignalText(displayName string) string {
	name := strings.TrimSpace(displayName)
	if name == "" {
		name = fallbackName
	}
	return fmt.Sprintf(s.template, name)
}

// Start handles a user opening the bot, optionally through a deep link.
//
// An invite payload with a known code moves the user into that lobby. A
// malformed payload, a payload from another feature, or an unknown code is
// ignored and the user's current lobby is used instead. Users seen for the
// first time get a record with no lobby.
func (s *LobbyService) Start(ctx context.Context, userID model.UserID, payload string) (*Status, error) {
	joined := false

	if payload != "" {
		lobby, err := s.joinByPayload(ctx, userID, payload)
		if err != nil {
			return nil, err
		}
		joined = lobby != nil
	}

	st, err := s.Status(ctx, userID)
	if err != nil {
		return nil, err
	}
	st.Joined = joined

	if !st.InLobby() {
		if err := s.members.SetLobby(ctx, userID, nil); err != nil {
			return nil, fmt.Errorf("service: registering user: %w", err)
		}
	}
	return st, nil
}

// joinByPayload returns the joined lobby, or nil when the payload did not
// lead anywhere.
func (s *LobbyService) joinByPayload(ctx context.Context, userID model.UserID, payload string) (*model.Lobby, error) {
	code, ok, err := invite.ParsePayload(payload)
	if err != nil {
		s.logger.Debug("ignoring malformed deep link",
			slog.Int64("userID", int64(userID)),
			slog.String("error", err.Error()),
		)
		return nil, nil
	}
	if !ok {
		return nil, nil
	}

	lobby, err := s.JoinByCode(ctx, userID, code)
	if err != nil {
		if errors.Is(err, apperror.ErrInvalidInvite) {
			s.logger.Debug("deep link with unknown invite code",
				slog.Int64("userID", int64(userID)),
			)
			return nil, nil
		}
		return nil, err
	}
	return lobby, nil
}

// Status returns the user's lobby and its cooldown state.
func (s *LobbyService) Status(ctx context.Context, userID model.UserID) (*Status, error) {
	st := &Status{UserID: userID}

	lobbyID, ok, err := s.lobbyOf(ctx, userID)
	if err != nil || !ok {
		return st, err
	}

	lobby, found, err := s.registry.Lobby(ctx, lobbyID)
	if err != nil {
		return nil, fmt.Errorf("service: status: %w", err)
	}
	if !found {
		return st, nil
	}
	st.Lobby = lobby

	st.Cooldown, err = s.gate.State(ctx, lobbyID)
	if err != nil {
		return nil, fmt.Errorf("service: status: %w", err)
	}
	return st, nil
}

// CooldownDuration is how long a signal blocks the lobby.
func (s *LobbyService) CooldownDuration() time.Duration {
	return s.gate.Duration()
}

func (s *LobbyService) lobbyOf(ctx context.Context, userID model.UserID) (model.LobbyID, bool, error) {
	u, err := s.members.GetUser(ctx, userID)
	if err != nil {
		if errors.Is(err, apperror.ErrNotFound) {
			return 0, false, nil
		}
		return 0, false, fmt.Errorf("service: looking up user %d: %w", userID, err)
	}
	if u.LobbyID == nil {
		return 0, false, nil
	}
	return *u.LobbyID, true, nil
}
