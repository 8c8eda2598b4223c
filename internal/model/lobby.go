// Package model defines the data structures used throughout the application.
package model

import "time"

// LobbyID identifies a lobby. Allocated by the store, monotonically increasing.
type LobbyID int64

// Lobby is a group of users sharing one invite code and one cooldown timer.
// InviteCode is unique across all lobbies and never changes once assigned.
type Lobby struct {
	ID         LobbyID   `json:"id"`
	InviteCode string    `json:"inviteCode"`
	CreatedAt  time.Time `json:"createdAt"`
}

// Cooldown is the per-lobby signal gate record. The record is kept after it
// expires; it is read as inactive once now >= Until.
type Cooldown struct {
	LobbyID LobbyID   `json:"lobbyId"`
	Until   time.Time `json:"until"`
}

// ActiveAt reports whether the cooldown still blocks signaling at now.
func (c Cooldown) ActiveAt(now time.Time) bool {
	return now.Before(c.Until)
}

// Remaining returns how long the cooldown keeps blocking signals at now.
func (c Cooldown) Remaining(now time.Time) time.Duration {
	if !c.ActiveAt(now) {
		return 0
	}
	return c.Until.Sub(now)
}
