// Package cache keeps lobby cooldowns in Redis.
//
// Cooldowns are the hottest state in the bot (read on every lobby render,
// written on every signal) and the only state that expires, which makes them
// a natural fit for Redis keys with a TTL. When REDIS_ADDR is set the
// service uses CooldownCache instead of the SQL cooldowns table.
package cache

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/sakif/breakroom/internal/apperror"
	"github.com/sakif/breakroom/internal/model"
	"github.com/sakif/breakroom/internal/repository"
)

// DefaultKeyPrefix namespaces cooldown keys: "<prefix><lobbyID>".
const DefaultKeyPrefix = "breakroom:cooldown:"

// expiryGrace keeps an expired record around for a while after until, so a
// read shortly after expiry still sees the record (and reads it as inactive).
const expiryGrace = time.Hour

var _ repository.CooldownRepository = (*CooldownCache)(nil)

// CooldownCache implements repository.CooldownRepository. Values are the
// until instant in unix milliseconds.
type CooldownCache struct {
	rdb    *redis.Client
	prefix string
}

// Connect creates a client for addr/db and pings it.
func Connect(ctx context.Context, addr string, db int) (*redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr: addr,
		DB:   db,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("cache: connecting to Redis at %s: %w", addr, err)
	}
	return rdb, nil
}

func NewCooldownCache(rdb *redis.Client) *CooldownCache {
	return &CooldownCache{rdb: rdb, prefix: DefaultKeyPrefix}
}

func (c *CooldownCache) key(lobbyID model.LobbyID) string {
	return c.prefix + strconv.FormatInt(int64(lobbyID), 10)
}

func (c *CooldownCache) GetCooldown(ctx context.Context, lobbyID model.LobbyID) (*model.Cooldown, error) {
	val, err := c.rdb.Get(ctx, c.key(lobbyID)).Int64()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, apperror.NotFound("cooldown", strconv.FormatInt(int64(lobbyID), 10))
		}
		return nil, fmt.Errorf("cache: getting cooldown for lobby %d: %w", lobbyID, err)
	}
	return &model.Cooldown{LobbyID: lobbyID, Until: time.UnixMilli(val)}, nil
}

func (c *CooldownCache) SetCooldown(ctx context.Context, lobbyID model.LobbyID, until time.Time) error {
	if err := c.rdb.Set(ctx, c.key(lobbyID), until.UnixMilli(), ttlFor(until)).Err(); err != nil {
		return fmt.Errorf("cache: setting cooldown for lobby %d: %w", lobbyID, err)
	}
	return nil
}

// ArmCooldownIfExpired uses WATCH/MULTI: if another client touches the key
// between our read and our write, EXEC fails with redis.TxFailedErr and we
// report the arm as lost. The comparison uses the caller's now, not the
// Redis server clock.
func (c *CooldownCache) ArmCooldownIfExpired(ctx context.Context, lobbyID model.LobbyID, now, until time.Time) (bool, error) {
	key := c.key(lobbyID)
	armed := false

	err := c.rdb.Watch(ctx, func(tx *redis.Tx) error {
		current, err := tx.Get(ctx, key).Int64()
		switch {
		case errors.Is(err, redis.Nil):
		case err != nil:
			return err
		case now.Before(time.UnixMilli(current)):
			return nil
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, until.UnixMilli(), ttlFor(until))
			return nil
		})
		if err != nil {
			return err
		}
		armed = true
		return nil
	}, key)

	if errors.Is(err, redis.TxFailedErr) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("cache: arming cooldown for lobby %d: %w", lobbyID, err)
	}
	return armed, nil
}

func ttlFor(until time.Time) time.Duration {
	ttl := time.Until(until) + expiryGrace
	if ttl < expiryGrace {
		ttl = expiryGrace
	}
	return ttl
}
