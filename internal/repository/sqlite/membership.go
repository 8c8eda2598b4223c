package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/sakif/breakroom/internal/apperror"
	"github.com/sakif/breakroom/internal/model"
)

// SetLobby upserts the user row. ON CONFLICT ... DO UPDATE keeps the row
// (unlike INSERT OR REPLACE, which deletes and reinserts it).
func (db *DB) SetLobby(ctx context.Context, userID model.UserID, lobbyID *model.LobbyID) error {
	var ref sql.NullInt64
	if lobbyID != nil {
		ref = sql.NullInt64{Int64: int64(*lobbyID), Valid: true}
	}

	_, err := db.conn.ExecContext(ctx,
		`INSERT INTO users (id, lobby_id, updated_at) VALUES (?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET lobby_id = excluded.lobby_id, updated_at = excluded.updated_at`,
		int64(userID),
		ref,
		time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("sqlite: setting lobby for user %d: %w", userID, err)
	}
	return nil
}

func (db *DB) GetUser(ctx context.Context, userID model.UserID) (*model.User, error) {
	var ref sql.NullInt64
	err := db.conn.QueryRowContext(ctx,
		`SELECT lobby_id FROM users WHERE id = ?`,
		int64(userID),
	).Scan(&ref)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperror.NotFound("user", strconv.FormatInt(int64(userID), 10))
		}
		return nil, fmt.Errorf("sqlite: getting user %d: %w", userID, err)
	}

	u := &model.User{ID: userID}
	if ref.Valid {
		u.LobbyID = model.LobbyRef(model.LobbyID(ref.Int64))
	}
	return u, nil
}

func (db *DB) ListMembers(ctx context.Context, lobbyID model.LobbyID) ([]model.UserID, error) {
	rows, err := db.conn.QueryContext(ctx,
		`SELECT id FROM users WHERE lobby_id = ?`,
		int64(lobbyID),
	)
	if err != nil {
		return nil, fmt.Errorf("sqlite: listing members of lobby %d: %w", lobbyID, err)
	}
	defer rows.Close()

	var members []model.UserID
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("sqlite: scanning member row: %w", err)
		}
		members = append(members, model.UserID(id))
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: iterating members: %w", err)
	}

	return members, nil
}
