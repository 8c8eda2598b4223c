package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/sakif/breakroom/internal/apperror"
	"github.com/sakif/breakroom/internal/invite"
	"github.com/sakif/breakroom/internal/model"
	"github.com/sakif/breakroom/internal/repository"
)

// maxCodeAttempts bounds invite-code allocation retries. With 64 bits of
// entropy a single collision is already unlikely; three in a row means the
// generator is broken.
const maxCodeAttempts = 3

// Registry creates lobbies with unique invite codes and resolves codes to
// lobbies. Uniqueness itself is enforced by the store.
type Registry struct {
	repo    repository.LobbyRepository
	newCode func() (string, error)
	logger  *slog.Logger
}

func NewRegistry(repo repository.LobbyRepository, logger *slog.Logger) *Registry {
	return &Registry{
		repo:    repo,
		newCode: invite.NewCode,
		logger:  logger,
	}
}

// CreateLobby allocates a fresh code and inserts the lobby. A collision is
// logged and retried with a new code; after maxCodeAttempts the
// DuplicateInviteCode error is returned. Existing lobbies are never touched.
func (r *Registry) CreateLobby(ctx context.Context) (*model.Lobby, error) {
	var lastErr error
	for attempt := 1; attempt <= maxCodeAttempts; attempt++ {
		code, err := r.newCode()
		if err != nil {
			return nil, fmt.Errorf("registry: generating invite code: %w", err)
		}

		lobby, err := r.repo.CreateLobby(ctx, code)
		if err == nil {
			return lobby, nil
		}
		if !errors.Is(err, apperror.ErrDuplicateInviteCode) {
			return nil, fmt.Errorf("registry: creating lobby: %w", err)
		}

		r.logger.Warn("invite code collision",
			slog.Int("attempt", attempt),
			slog.String("error", err.Error()),
		)
		lastErr = err
	}
	return nil, fmt.Errorf("registry: creating lobby after %d attempts: %w", maxCodeAttempts, lastErr)
}

// ResolveByCode looks a lobby up by exact invite code.
func (r *Registry) ResolveByCode(ctx context.Context, code string) (*model.Lobby, bool, error) {
	lobby, err := r.repo.GetLobbyByCode(ctx, code)
	if err != nil {
		if errors.Is(err, apperror.ErrNotFound) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("registry: resolving invite code: %w", err)
	}
	return lobby, true, nil
}

// Lobby looks a lobby up by id.
func (r *Registry) Lobby(ctx context.Context, id model.LobbyID) (*model.Lobby, bool, error) {
	lobby, err := r.repo.GetLobby(ctx, id)
	if err != nil {
		if errors.Is(err, apperror.ErrNotFound) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("registry: getting lobby %d: %w", id, err)
	}
	return lobby, true, nil
}

// InviteCodeOf returns the invite code of lobby id.
func (r *Registry) InviteCodeOf(ctx context.Context, id model.LobbyID) (string, bool, error) {
	lobby, ok, err := r.Lobby(ctx, id)
	if err != nil || !ok {
		return "", ok, err
	}
	return lobby.InviteCode, true, nil
}
