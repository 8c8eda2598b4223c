// Package cooldown implements the per-lobby signal gate.
//
// A lobby is Idle until a signal arms the gate, then Active until the wall
// clock reaches the stored instant. Expiry is evaluated on read; there are no
// timers and nothing is deleted when a cooldown ends.
package cooldown

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sakif/breakroom/internal/apperror"
	"github.com/sakif/breakroom/internal/model"
	"github.com/sakif/breakroom/internal/repository"
)

// DefaultDuration is how long a signal blocks the next one.
const DefaultDuration = 300 * time.Second

// State is a point-in-time view of a lobby's gate.
type State struct {
	Active    bool
	Until     time.Time // zero if the lobby never signaled
	Remaining time.Duration
}

type Gate struct {
	repo     repository.CooldownRepository
	duration time.Duration
	now      func() time.Time
}

type Option func(*Gate)

// WithClock replaces time.Now. Tests use it to move time without sleeping.
func WithClock(now func() time.Time) Option {
	return func(g *Gate) { g.now = now }
}

// NewGate returns a gate that arms for duration. A non-positive duration
// falls back to DefaultDuration.
func NewGate(repo repository.CooldownRepository, duration time.Duration, opts ...Option) *Gate {
	if duration <= 0 {
		duration = DefaultDuration
	}
	g := &Gate{repo: repo, duration: duration, now: time.Now}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

func (g *Gate) Duration() time.Duration { return g.duration }

// State reads the lobby's cooldown record and interprets it against now.
func (g *Gate) State(ctx context.Context, lobbyID model.LobbyID) (State, error) {
	cd, err := g.repo.GetCooldown(ctx, lobbyID)
	if err != nil {
		if errors.Is(err, apperror.ErrNotFound) {
			return State{}, nil
		}
		return State{}, fmt.Errorf("cooldown: reading lobby %d: %w", lobbyID, err)
	}

	now := g.now()
	return State{
		Active:    cd.ActiveAt(now),
		Until:     cd.Until,
		Remaining: cd.Remaining(now),
	}, nil
}

// IsActive reports whether a record exists and now is before its instant.
func (g *Gate) IsActive(ctx context.Context, lobbyID model.LobbyID) (bool, error) {
	st, err := g.State(ctx, lobbyID)
	if err != nil {
		return false, err
	}
	return st.Active, nil
}

// Arm sets the gate to now+duration, overwriting any existing record.
func (g *Gate) Arm(ctx context.Context, lobbyID model.LobbyID) (time.Time, error) {
	until := g.now().Add(g.duration)
	if err := g.repo.SetCooldown(ctx, lobbyID, until); err != nil {
		return time.Time{}, fmt.Errorf("cooldown: arming lobby %d: %w", lobbyID, err)
	}
	return until, nil
}

// TryArm arms the gate only if it is Idle, as one atomic store operation.
// When the gate is held it returns an error wrapping
// apperror.ErrCooldownActive with the remaining time.
//
// Of any number of concurrent TryArm calls on an Idle lobby exactly one
// succeeds.
func (g *Gate) TryArm(ctx context.Context, lobbyID model.LobbyID) (time.Time, error) {
	now := g.now()
	until := now.Add(g.duration)

	armed, err := g.repo.ArmCooldownIfExpired(ctx, lobbyID, now, until)
	if err != nil {
		return time.Time{}, fmt.Errorf("cooldown: arming lobby %d: %w", lobbyID, err)
	}
	if armed {
		return until, nil
	}

	// Lost to an active record. Read it back for the retry hint; if that
	// read fails the caller still gets a CooldownActive error.
	remaining := g.duration
	if st, err := g.State(ctx, lobbyID); err == nil && st.Active {
		remaining = st.Remaining
	}
	return time.Time{}, apperror.CooldownActive(remaining)
}
