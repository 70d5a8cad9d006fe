// Package dedup provides a fast-path guard that remembers which run keys were
// already scheduled, so redelivered events can skip the database round-trip.
//
// The guard is advisory. The run repository's unique key remains the
// authority, so every error here fails open.
package dedup

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	DefaultTTL     = 24 * time.Hour
	keyPrefix      = "pipeflow:run:"
	connectTimeout = 5 * time.Second
)

// Guard records scheduled run keys.
type Guard interface {
	// Lookup returns the run id remembered for key, if any.
	Lookup(ctx context.Context, key string) (string, bool)
	// Remember records the run id of key after the run was persisted.
	Remember(ctx context.Context, key, runID string)
	Close() error
}

// Key builds the guard key of a run.
func Key(workflowID, contactID, dedupKey string) string {
	return workflowID + ":" + contactID + ":" + dedupKey
}

// RedisGuard keeps keys in Redis with a TTL.
type RedisGuard struct {
	client redis.UniversalClient
	ttl    time.Duration
	logger *slog.Logger
}

// NewRedisGuard connects to the Redis server at redisURL.
func NewRedisGuard(ctx context.Context, logger *slog.Logger, redisURL string, ttl time.Duration) (*RedisGuard, error) {
	options, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}

	client := redis.NewClient(options)

	pingCtx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()

	err = client.Ping(pingCtx).Err()
	if err != nil {
		_ = client.Close()

		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	logger.InfoContext(ctx, "Connected to Redis", "addr", options.Addr, "db", options.DB)

	return NewRedisGuardWithClient(client, logger, ttl), nil
}

// NewRedisGuardWithClient wraps an existing client.
func NewRedisGuardWithClient(client redis.UniversalClient, logger *slog.Logger, ttl time.Duration) *RedisGuard {
	if ttl <= 0 {
		ttl = DefaultTTL
	}

	return &RedisGuard{client: client, ttl: ttl, logger: logger.With("module", "dedup")}
}

func (g *RedisGuard) Lookup(ctx context.Context, key string) (string, bool) {
	runID, err := g.client.Get(ctx, keyPrefix+key).Result()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			g.logger.WarnContext(ctx, "dedup lookup failed, falling back to repository", "key", key, "error", err)
		}

		return "", false
	}

	return runID, true
}

func (g *RedisGuard) Remember(ctx context.Context, key, runID string) {
	err := g.client.SetNX(ctx, keyPrefix+key, runID, g.ttl).Err()
	if err != nil {
		g.logger.WarnContext(ctx, "failed to remember run key", "key", key, "error", err)
	}
}

func (g *RedisGuard) Close() error {
	return g.client.Close()
}

// Nop never remembers anything.
type Nop struct{}

func (Nop) Lookup(context.Context, string) (string, bool) { return "", false }

func (Nop) Remember(context.Context, string, string) {}

func (Nop) Close() error { return nil }
