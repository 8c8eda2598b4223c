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
	"github.com/sakif/breakroom/internal/repository"
)

var _ repository.Store = (*DB)(nil)

// CreateLobby inserts a new lobby row. The id comes from AUTOINCREMENT, so
// ids are never reused even if rows were removed by hand.
func (db *DB) CreateLobby(ctx context.Context, inviteCode string) (*model.Lobby, error) {
	lobby := &model.Lobby{
		InviteCode: inviteCode,
		CreatedAt:  time.Now().UTC(),
	}

	result, err := db.conn.ExecContext(ctx,
		`INSERT INTO lobbies (invite_code, created_at) VALUES (?, ?)`,
		lobby.InviteCode,
		lobby.CreatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, apperror.DuplicateInviteCode(inviteCode)
		}
		return nil, fmt.Errorf("sqlite: creating lobby: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("sqlite: reading lobby id: %w", err)
	}
	lobby.ID = model.LobbyID(id)

	return lobby, nil
}

func (db *DB) GetLobby(ctx context.Context, id model.LobbyID) (*model.Lobby, error) {
	return db.scanLobby(
		db.conn.QueryRowContext(ctx,
			`SELECT id, invite_code, created_at FROM lobbies WHERE id = ?`,
			int64(id),
		),
		strconv.FormatInt(int64(id), 10),
	)
}

func (db *DB) GetLobbyByCode(ctx context.Context, inviteCode string) (*model.Lobby, error) {
	return db.scanLobby(
		db.conn.QueryRowContext(ctx,
			`SELECT id, invite_code, created_at FROM lobbies WHERE invite_code = ?`,
			inviteCode,
		),
		inviteCode,
	)
}

func (db *DB) scanLobby(row *sql.Row, key string) (*model.Lobby, error) {
	var (
		l  model.Lobby
		id int64
	)
	if err := row.Scan(&id, &l.InviteCode, &l.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperror.NotFound("lobby", key)
		}
		return nil, fmt.Errorf("sqlite: getting lobby %s: %w", key, err)
	}
	l.ID = model.LobbyID(id)
	return &l, nil
}
