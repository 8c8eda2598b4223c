package model

// UserID is the messaging platform's user id. Trusted as given.
type UserID int64

// User is a platform user the bot has seen at least once.
//
// LobbyID is nil when the user is not in a lobby. A pointer keeps "no lobby"
// distinct from a lobby whose id happens to be zero.
type User struct {
	ID      UserID   `json:"id"`
	LobbyID *LobbyID `json:"lobbyId,omitempty"`
}

// InLobby reports whether the user currently references a lobby.
func (u User) InLobby() bool {
	return u.LobbyID != nil
}

// LobbyRef returns a pointer suitable for MembershipRepository.SetLobby.
func LobbyRef(id LobbyID) *LobbyID {
	return &id
}
