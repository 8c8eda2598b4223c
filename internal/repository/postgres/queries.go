package postgres

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/sakif/breakroom/internal/apperror"
	"github.com/sakif/breakroom/internal/model"
)

func (db *DB) CreateLobby(ctx context.Context, inviteCode string) (*model.Lobby, error) {
	var (
		l  = model.Lobby{InviteCode: inviteCode}
		id int64
	)
	err := db.pool.QueryRow(ctx,
		`INSERT INTO lobbies (invite_code) VALUES ($1) RETURNING id, created_at`,
		inviteCode,
	).Scan(&id, &l.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, apperror.DuplicateInviteCode(inviteCode)
		}
		return nil, fmt.Errorf("postgres: creating lobby: %w", err)
	}
	l.ID = model.LobbyID(id)
	return &l, nil
}

func (db *DB) GetLobby(ctx context.Context, id model.LobbyID) (*model.Lobby, error) {
	row := db.pool.QueryRow(ctx,
		`SELECT id, invite_code, created_at FROM lobbies WHERE id = $1`, int64(id))
	return scanLobby(row, strconv.FormatInt(int64(id), 10))
}

func (db *DB) GetLobbyByCode(ctx context.Context, inviteCode string) (*model.Lobby, error) {
	row := db.pool.QueryRow(ctx,
		`SELECT id, invite_code, created_at FROM lobbies WHERE invite_code = $1`, inviteCode)
	return scanLobby(row, inviteCode)
}

func scanLobby(row pgx.Row, key string) (*model.Lobby, error) {
	var (
		l  model.Lobby
		id int64
	)
	if err := row.Scan(&id, &l.InviteCode, &l.CreatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperror.NotFound("lobby", key)
		}
		return nil, fmt.Errorf("postgres: getting lobby %s: %w", key, err)
	}
	l.ID = model.LobbyID(id)
	return &l, nil
}

func (db *DB) SetLobby(ctx context.Context, userID model.UserID, lobbyID *model.LobbyID) error {
	var ref *int64
	if lobbyID != nil {
		v := int64(*lobbyID)
		ref = &v
	}
	_, err := db.pool.Exec(ctx,
		`INSERT INTO users (id, lobby_id, updated_at) VALUES ($1, $2, now())
		 ON CONFLICT (id) DO UPDATE SET lobby_id = EXCLUDED.lobby_id, updated_at = now()`,
		int64(userID), ref,
	)
	if err != nil {
		return fmt.Errorf("postgres: setting lobby for user %d: %w", userID, err)
	}
	return nil
}

func (db *DB) GetUser(ctx context.Context, userID model.UserID) (*model.User, error) {
	var ref *int64
	err := db.pool.QueryRow(ctx,
		`SELECT lobby_id FROM users WHERE id = $1`, int64(userID),
	).Scan(&ref)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperror.NotFound("user", strconv.FormatInt(int64(userID), 10))
		}
		return nil, fmt.Errorf("postgres: getting user %d: %w", userID, err)
	}

	u := &model.User{ID: userID}
	if ref != nil {
		u.LobbyID = model.LobbyRef(model.LobbyID(*ref))
	}
	return u, nil
}

func (db *DB) ListMembers(ctx context.Context, lobbyID model.LobbyID) ([]model.UserID, error) {
	rows, err := db.pool.Query(ctx,
		`SELECT id FROM users WHERE lobby_id = $1`, int64(lobbyID))
	if err != nil {
		return nil, fmt.Errorf("postgres: listing members of lobby %d: %w", lobbyID, err)
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[int64])
	if err != nil {
		return nil, fmt.Errorf("postgres: scanning members: %w", err)
	}

	members := make([]model.UserID, 0, len(ids))
	for _, id := range ids {
		members = append(members, model.UserID(id))
	}
	return members, nil
}

func (db *DB) GetCooldown(ctx context.Context, lobbyID model.LobbyID) (*model.Cooldown, error) {
	var until time.Time
	err := db.pool.QueryRow(ctx,
		`SELECT until_ts FROM cooldowns WHERE lobby_id = $1`, int64(lobbyID),
	).Scan(&until)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperror.NotFound("cooldown", strconv.FormatInt(int64(lobbyID), 10))
		}
		return nil, fmt.Errorf("postgres: getting cooldown for lobby %d: %w", lobbyID, err)
	}
	return &model.Cooldown{LobbyID: lobbyID, Until: until}, nil
}

func (db *DB) SetCooldown(ctx context.Context, lobbyID model.LobbyID, until time.Time) error {
	_, err := db.pool.Exec(ctx,
		`INSERT INTO cooldowns (lobby_id, until_ts) VALUES ($1, $2)
		 ON CONFLICT (lobby_id) DO UPDATE SET until_ts = EXCLUDED.until_ts`,
		int64(lobbyID), until,
	)
	if err != nil {
		return fmt.Errorf("postgres: setting cooldown for lobby %d: %w", lobbyID, err)
	}
	return nil
}

// ArmCooldownIfExpired relies on the row lock taken by ON CONFLICT: two
// concurrent arms on the same lobby serialize, and the second one sees the
// first one's until_ts in its WHERE clause.
func (db *DB) ArmCooldownIfExpired(ctx context.Context, lobbyID model.LobbyID, now, until time.Time) (bool, error) {
	tag, err := db.pool.Exec(ctx,
		`INSERT INTO cooldowns (lobby_id, until_ts) VALUES ($1, $2)
		 ON CONFLICT (lobby_id) DO UPDATE SET until_ts = EXCLUDED.until_ts
		 WHERE cooldowns.until_ts <= $3`,
		int64(lobbyID), until, now,
	)
	if err != nil {
		return false, fmt.Errorf("postgres: arming cooldown for lobby %d: %w", lobbyID, err)
	}
	return tag.RowsAffected() == 1, nil
}
