// Package postgres implements repository.Store with a pgx connection pool.
//
// The schema mirrors the sqlite store. Postgres enforces invite-code
// uniqueness with a UNIQUE index; a violation (SQLSTATE 23505) maps to
// apperror.ErrDuplicateInviteCode.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/sakif/breakroom/internal/repository"
)

const uniqueViolation = "23505"

var _ repository.Store = (*DB)(nil)

type DB struct {
	pool *pgxpool.Pool
}

// New connects to databaseURL, pings it and runs migrations.
func New(ctx context.Context, databaseURL string) (*DB, error) {
	cfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("postgres: parsing config: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("postgres: creating pool: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres: pinging database: %w", err)
	}

	db := &DB{pool: pool}
	if err := db.migrate(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres: running migrations: %w", err)
	}
	return db, nil
}

func (db *DB) Close() error {
	db.pool.Close()
	return nil
}

func (db *DB) Ping(ctx context.Context) error {
	return db.pool.Ping(ctx)
}

func (db *DB) migrate(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS lobbies (
			id          BIGINT GENERATED ALWAYS AS IDENTITY PRIMARY KEY,
			invite_code TEXT NOT NULL UNIQUE,
			created_at  TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE TABLE IF NOT EXISTS users (
			id         BIGINT PRIMARY KEY,
			lobby_id   BIGINT REFERENCES lobbies(id),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE INDEX IF NOT EXISTS idx_users_lobby_id ON users(lobby_id)`,
		`CREATE TABLE IF NOT EXISTS cooldowns (
			lobby_id BIGINT PRIMARY KEY REFERENCES lobbies(id),
			until_ts TIMESTAMPTZ NOT NULL
		)`,
	}
	for _, stmt := range stmts {
		if _, err := db.pool.Exec(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}
