// Package repotest holds the conformance tests every repository.Store
// implementation must pass.
package repotest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sakif/breakroom/internal/apperror"
	"github.com/sakif/breakroom/internal/model"
	"github.com/sakif/breakroom/internal/repository"
)

// Run executes the suite. newStore must return an empty store for every call.
func Run(t *testing.T, newStore func(t *testing.T) repository.Store) {
	t.Run("Lobbies", func(t *testing.T) { testLobbies(t, newStore(t)) })
	t.Run("DuplicateInviteCode", func(t *testing.T) { testDuplicateCode(t, newStore(t)) })
	t.Run("ConcurrentCreate", func(t *testing.T) { testConcurrentCreate(t, newStore(t)) })
	t.Run("Membership", func(t *testing.T) { testMembership(t, newStore(t)) })
	t.Run("Cooldowns", func(t *testing.T) { testCooldowns(t, newStore(t)) })
	t.Run("ConditionalArm", func(t *testing.T) { testConditionalArm(t, newStore(t)) })
	t.Run("ConcurrentArm", func(t *testing.T) { testConcurrentArm(t, newStore(t)) })
}

func testLobbies(t *testing.T, s repository.Store) {
	ctx := context.Background()

	first, err := s.CreateLobby(ctx, "code-one")
	require.NoError(t, err)
	second, err := s.CreateLobby(ctx, "code-two")
	require.NoError(t, err)

	assert.Equal(t, "code-one", first.InviteCode)
	assert.Greater(t, second.ID, first.ID, "lobby ids must increase")

	got, err := s.GetLobby(ctx, second.ID)
	require.NoError(t, err)
	assert.Equal(t, "code-two", got.InviteCode)

	byCode, err := s.GetLobbyByCode(ctx, "code-one")
	require.NoError(t, err)
	assert.Equal(t, first.ID, byCode.ID)

	_, err = s.GetLobbyByCode(ctx, "CODE-ONE")
	assert.ErrorIs(t, err, apperror.ErrNotFound, "lookup must be exact")

	_, err = s.GetLobby(ctx, second.ID+100)
	assert.ErrorIs(t, err, apperror.ErrNotFound)
}

func testDuplicateCode(t *testing.T, s repository.Store) {
	ctx := context.Background()

	original, err := s.CreateLobby(ctx, "abc")
	require.NoError(t, err)

	_, err = s.CreateLobby(ctx, "abc")
	require.Error(t, err)
	assert.ErrorIs(t, err, apperror.ErrDuplicateInviteCode)

	got, err := s.GetLobbyByCode(ctx, "abc")
	require.NoError(t, err)
	assert.Equal(t, original.ID, got.ID, "existing lobby must not be overwritten")
}

func testConcurrentCreate(t *testing.T, s repository.Store) {
	ctx := context.Background()
	const workers = 8

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		created   int
		duplicate int
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.CreateLobby(ctx, "contested")
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				created++
			case errors.Is(err, apperror.ErrDuplicateInviteCode):
				duplicate++
			default:
				t.Errorf("CreateLobby() unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, created)
	assert.Equal(t, workers-1, duplicate)
}

func testMembership(t *testing.T, s repository.Store) {
	ctx := context.Background()

	l1, err := s.CreateLobby(ctx, "m-one")
	require.NoError(t, err)
	l2, err := s.CreateLobby(ctx, "m-two")
	require.NoError(t, err)

	_, err = s.GetUser(ctx, 1)
	assert.ErrorIs(t, err, apperror.ErrNotFound)

	for _, uid := range []model.UserID{1, 2, 3} {
		require.NoError(t, s.SetLobby(ctx, uid, model.LobbyRef(l1.ID)))
	}
	require.NoError(t, s.SetLobby(ctx, 4, model.LobbyRef(l2.ID)))

	members, err := s.ListMembers(ctx, l1.ID)
	require.NoError(t, err)
	assert.ElementsMatch(t, []model.UserID{1, 2, 3}, members)

	// idempotent
	require.NoError(t, s.SetLobby(ctx, 1, model.LobbyRef(l1.ID)))
	members, err = s.ListMembers(ctx, l1.ID)
	require.NoError(t, err)
	assert.Len(t, members, 3)

	// switch lobbies
	require.NoError(t, s.SetLobby(ctx, 2, model.LobbyRef(l2.ID)))
	u, err := s.GetUser(ctx, 2)
	require.NoError(t, err)
	require.NotNil(t, u.LobbyID)
	assert.Equal(t, l2.ID, *u.LobbyID)

	// detach keeps the record
	require.NoError(t, s.SetLobby(ctx, 3, nil))
	u, err = s.GetUser(ctx, 3)
	require.NoError(t, err)
	assert.Nil(t, u.LobbyID)

	members, err = s.ListMembers(ctx, l1.ID)
	require.NoError(t, err)
	assert.ElementsMatch(t, []model.UserID{1}, members)

	members, err = s.ListMembers(ctx, l2.ID)
	require.NoError(t, err)
	assert.ElementsMatch(t, []model.UserID{2, 4}, members)

	// first sight with no lobby creates the record
	require.NoError(t, s.SetLobby(ctx, 99, nil))
	u, err = s.GetUser(ctx, 99)
	require.NoError(t, err)
	assert.False(t, u.InLobby())
}

func testCooldowns(t *testing.T, s repository.Store) {
	ctx := context.Background()
	l, err := s.CreateLobby(ctx, "cd")
	require.NoError(t, err)

	_, err = s.GetCooldown(ctx, l.ID)
	assert.ErrorIs(t, err, apperror.ErrNotFound)

	until := time.Unix(1_800_000_000, 0)
	require.NoError(t, s.SetCooldown(ctx, l.ID, until))
	cd, err := s.GetCooldown(ctx, l.ID)
	require.NoError(t, err)
	assert.True(t, until.Equal(cd.Until), "got %v want %v", cd.Until, until)

	// last write wins, even when moving backwards
	earlier := until.Add(-time.Hour)
	require.NoError(t, s.SetCooldown(ctx, l.ID, earlier))
	cd, err = s.GetCooldown(ctx, l.ID)
	require.NoError(t, err)
	assert.True(t, earlier.Equal(cd.Until))
}

func testConditionalArm(t *testing.T, s repository.Store) {
	ctx := context.Background()
	l, err := s.CreateLobby(ctx, "arm")
	require.NoError(t, err)

	now := time.Unix(1_800_000_000, 0)
	until := now.Add(5 * time.Minute)

	armed, err := s.ArmCooldownIfExpired(ctx, l.ID, now, until)
	require.NoError(t, err)
	assert.True(t, armed, "absent record must arm")

	armed, err = s.ArmCooldownIfExpired(ctx, l.ID, now.Add(time.Minute), now.Add(6*time.Minute))
	require.NoError(t, err)
	assert.False(t, armed, "active record must hold")

	cd, err := s.GetCooldown(ctx, l.ID)
	require.NoError(t, err)
	assert.True(t, until.Equal(cd.Until), "held arm must not write")

	// exactly at until the record is expired
	armed, err = s.ArmCooldownIfExpired(ctx, l.ID, until, until.Add(5*time.Minute))
	require.NoError(t, err)
	assert.True(t, armed)
}

func testConcurrentArm(t *testing.T, s repository.Store) {
	ctx := context.Background()
	l, err := s.CreateLobby(ctx, "race")
	require.NoError(t, err)

	now := time.Unix(1_800_000_000, 0)
	const workers = 8

	var (
		wg    sync.WaitGroup
		mu    sync.Mutex
		armed int
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			ok, err := s.ArmCooldownIfExpired(ctx, l.ID, now, now.Add(time.Duration(i+1)*time.Minute))
			if err != nil {
				t.Errorf("ArmCooldownIfExpired() error: %v", err)
				return
			}
			if ok {
				mu.Lock()
				armed++
				mu.Unlock()
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 1, armed, fmt.Sprintf("exactly one of %d concurrent arms may win", workers))
}
