// Package repository declares the storage capabilities the lobby core needs.
//
// Every method maps to a single-row read, a single-row upsert, or an indexed
// lookup. The only cross-row rule is the uniqueness of invite codes, which
// implementations must enforce in the store itself.
package repository

import (
	"context"
	"time"

	"github.com/sakif/breakroom/internal/model"
)

// LobbyRepository creates lobbies and resolves invite codes.
type LobbyRepository interface {
	// CreateLobby inserts a lobby with the given invite code. A code that is
	// already taken returns apperror.ErrDuplicateInviteCode and leaves the
	// existing lobby untouched.
	CreateLobby(ctx context.Context, inviteCode string) (*model.Lobby, error)
	// GetLobby returns apperror.ErrNotFound for unknown ids.
	GetLobby(ctx context.Context, id model.LobbyID) (*model.Lobby, error)
	// GetLobbyByCode returns apperror.ErrNotFound for unknown codes. Exact match only.
	GetLobbyByCode(ctx context.Context, inviteCode string) (*model.Lobby, error)
}

// MembershipRepository maps each user to at most one lobby.
type MembershipRepository interface {
	// SetLobby upserts the user. A nil lobbyID detaches the user but keeps the record.
	SetLobby(ctx context.Context, userID model.UserID, lobbyID *model.LobbyID) error
	// GetUser returns apperror.ErrNotFound for users never seen.
	GetUser(ctx context.Context, userID model.UserID) (*model.User, error)
	// ListMembers returns every user currently in the lobby, in no particular order.
	ListMembers(ctx context.Context, lobbyID model.LobbyID) ([]model.UserID, error)
}

// CooldownRepository stores one cooldown record per lobby, last write wins.
type CooldownRepository interface {
	// GetCooldown returns apperror.ErrNotFound when the lobby never signaled.
	GetCooldown(ctx context.Context, lobbyID model.LobbyID) (*model.Cooldown, error)
	// SetCooldown overwrites the record unconditionally.
	SetCooldown(ctx context.Context, lobbyID model.LobbyID, until time.Time) error
	// ArmCooldownIfExpired writes until only if no record exists or the
	// stored record is no longer active at now. It reports whether it wrote.
	// The check and the write are atomic.
	ArmCooldownIfExpired(ctx context.Context, lobbyID model.LobbyID, now, until time.Time) (bool, error)
}

// Store is the full persistence collaborator. sqlite, postgres and memory
// implement all of it.
type Store interface {
	LobbyRepository
	MembershipRepository
	CooldownRepository

	Ping(ctx context.Context) error
	Close() error
}
