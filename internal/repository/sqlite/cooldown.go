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

// Cooldown instants are stored as unix milliseconds.

func (db *DB) GetCooldown(ctx context.Context, lobbyID model.LobbyID) (*model.Cooldown, error) {
	var untilMs int64
	err := db.conn.QueryRowContext(ctx,
		`SELECT until_ms FROM cooldowns WHERE lobby_id = ?`,
		int64(lobbyID),
	).Scan(&untilMs)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperror.NotFound("cooldown", strconv.FormatInt(int64(lobbyID), 10))
		}
		return nil, fmt.Errorf("sqlite: getting cooldown for lobby %d: %w", lobbyID, err)
	}
	return &model.Cooldown{LobbyID: lobbyID, Until: time.UnixMilli(untilMs)}, nil
}

func (db *DB) SetCooldown(ctx context.Context, lobbyID model.LobbyID, until time.Time) error {
	_, err := db.conn.ExecContext(ctx,
		`INSERT INTO cooldowns (lobby_id, until_ms) VALUES (?, ?)
		 ON CONFLICT(lobby_id) DO UPDATE SET until_ms = excluded.until_ms`,
		int64(lobbyID),
		until.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("sqlite: setting cooldown for lobby %d: %w", lobbyID, err)
	}
	return nil
}

// ArmCooldownIfExpired is a single conditional upsert: the DO UPDATE branch
// only fires when the stored instant is not after now. SQLite reports zero
// changed rows when the WHERE clause blocks the update.
func (db *DB) ArmCooldownIfExpired(ctx context.Context, lobbyID model.LobbyID, now, until time.Time) (bool, error) {
	result, err := db.conn.ExecContext(ctx,
		`INSERT INTO cooldowns (lobby_id, until_ms) VALUES (?, ?)
		 ON CONFLICT(lobby_id) DO UPDATE SET until_ms = excluded.until_ms
		 WHERE cooldowns.until_ms <= ?`,
		int64(lobbyID),
		until.UnixMilli(),
		now.UnixMilli(),
	)
	if err != nil {
		return false, fmt.Errorf("sqlite: arming cooldown for lobby %d: %w", lobbyID, err)
	}

	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("sqlite: checking rows affected: %w", err)
	}
	return n == 1, nil
}
