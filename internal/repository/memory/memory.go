// Package memory is an in-process implementation of repository.Store.
//
// It backs the service tests and STORE=memory deployments. State lives in
// maps guarded by a single mutex and is lost on restart.
package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sakif/breakroom/internal/apperror"
	"github.com/sakif/breakroom/internal/model"
	"github.com/sakif/breakroom/internal/repository"
)

var _ repository.Store = (*Store)(nil)

type Store struct {
	mu        sync.Mutex
	nextID    model.LobbyID
	lobbies   map[model.LobbyID]*model.Lobby
	byCode    map[string]model.LobbyID
	users     map[model.UserID]*model.LobbyID
	cooldowns map[model.LobbyID]time.Time
}

// New returns an empty store. Lobby ids start at 1.
func New() *Store {
	return &Store{
		nextID:    1,
		lobbies:   make(map[model.LobbyID]*model.Lobby),
		byCode:    make(map[string]model.LobbyID),
		users:     make(map[model.UserID]*model.LobbyID),
		cooldowns: make(map[model.LobbyID]time.Time),
	}
}

func (s *Store) Ping(ctx context.Context) error { return nil }

func (s *Store) Close() error { return nil }

func (s *Store) CreateLobby(ctx context.Context, inviteCode string) (*model.Lobby, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, taken := s.byCode[inviteCode]; taken {
		return nil, apperror.DuplicateInviteCode(inviteCode)
	}

	l := &model.Lobby{
		ID:         s.nextID,
		InviteCode: inviteCode,
		CreatedAt:  time.Now(),
	}
	s.nextID++
	s.lobbies[l.ID] = l
	s.byCode[inviteCode] = l.ID

	copied := *l
	return &copied, nil
}

func (s *Store) GetLobby(ctx context.Context, id model.LobbyID) (*model.Lobby, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	l, ok := s.lobbies[id]
	if !ok {
		return nil, apperror.NotFound("lobby", fmt.Sprint(id))
	}
	copied := *l
	return &copied, nil
}

func (s *Store) GetLobbyByCode(ctx context.Context, inviteCode string) (*model.Lobby, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id, ok := s.byCode[inviteCode]
	if !ok {
		return nil, apperror.NotFound("lobby", inviteCode)
	}
	copied := *s.lobbies[id]
	return &copied, nil
}

func (s *Store) SetLobby(ctx context.Context, userID model.UserID, lobbyID *model.LobbyID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if lobbyID == nil {
		s.users[userID] = nil
		return nil
	}
	s.users[userID] = model.LobbyRef(*lobbyID)
	return nil
}

func (s *Store) GetUser(ctx context.Context, userID model.UserID) (*model.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ref, ok := s.users[userID]
	if !ok {
		return nil, apperror.NotFound("user", fmt.Sprint(userID))
	}
	u := &model.User{ID: userID}
	if ref != nil {
		u.LobbyID = model.LobbyRef(*ref)
	}
	return u, nil
}

func (s *Store) ListMembers(ctx context.Context, lobbyID model.LobbyID) ([]model.UserID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var members []model.UserID
	for uid, ref := range s.users {
		if ref != nil && *ref == lobbyID {
			members = append(members, uid)
		}
	}
	return members, nil
}

func (s *Store) GetCooldown(ctx context.Context, lobbyID model.LobbyID) (*model.Cooldown, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	until, ok := s.cooldowns[lobbyID]
	if !ok {
		return nil, apperror.NotFound("cooldown", fmt.Sprint(lobbyID))
	}
	return &model.Cooldown{LobbyID: lobbyID, Until: until}, nil
}

func (s *Store) SetCooldown(ctx context.Context, lobbyID model.LobbyID, until time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.cooldowns[lobbyID] = until
	return nil
}

func (s *Store) ArmCooldownIfExpired(ctx context.Context, lobbyID model.LobbyID, now, until time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if current, ok := s.cooldowns[lobbyID]; ok && now.Before(current) {
		return false, nil
	}
	s.cooldowns[lobbyID] = until
	return true, nil
}
