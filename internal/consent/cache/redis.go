// Package cache holds the Redis-backed consent completeness cache.
//
// Completeness is cheap to recompute but sits on the hot path of every
// guarded request, so positive and negative answers are cached briefly.
// Invalidation is synchronous with the write that changes the answer: an
// acceptance drops the principal's key, a document activation bumps the
// generation so every cached answer goes stale at once.
package cache

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	id "docflow/pkg/domain"
)

const (
	generationKey = "consent:gen"
	entryTTL      = 5 * time.Minute
)

// Redis caches per-principal consent completeness. Cache failures degrade to
// a recompute, never to a wrong answer.
type Redis struct {
	client *redis.Client
	logger *slog.Logger
}

func NewRedis(client *redis.Client, logger *slog.Logger) *Redis {
	return &Redis{client: client, logger: logger}
}

func (c *Redis) key(ctx context.Context, principalID id.PrincipalID) (string, error) {
	gen, err := c.client.Get(ctx, generationKey).Int64()
	if err == redis.Nil {
		gen = 0
	} else if err != nil {
		return "", err
	}
	return fmt.Sprintf("consent:ok:%d:%s", gen, principalID.String()), nil
}

// Get returns the cached completeness answer and whether one was present.
func (c *Redis) Get(ctx context.Context, principalID id.PrincipalID) (complete bool, ok bool) {
	key, err := c.key(ctx, principalID)
	if err != nil {
		c.logger.WarnContext(ctx, "consent cache read failed", "error", err)
		return false, false
	}
	val, err := c.client.Get(ctx, key).Result()
	if err == redis.Nil {
		return false, false
	}
	if err != nil {
		c.logger.WarnContext(ctx, "consent cache read failed", "error", err)
		return false, false
	}
	return val == "1", true
}

// Set stores the completeness answer under the current generation.
func (c *Redis) Set(ctx context.Context, principalID id.PrincipalID, complete bool) {
	key, err := c.key(ctx, principalID)
	if err != nil {
		c.logger.WarnContext(ctx, "consent cache write failed", "error", err)
		return
	}
	val := "0"
	if complete {
		val = "1"
	}
	if err := c.client.Set(ctx, key, val, entryTTL).Err(); err != nil {
		c.logger.WarnContext(ctx, "consent cache write failed", "error", err)
	}
}

// InvalidatePrincipal drops one principal's cached answer. Called in the
// same request as a consent acceptance, before the response is written.
func (c *Redis) InvalidatePrincipal(ctx context.Context, principalID id.PrincipalID) {
	key, err := c.key(ctx, principalID)
	if err != nil {
		c.logger.WarnContext(ctx, "consent cache invalidation failed", "error", err)
		return
	}
	if err := c.client.Del(ctx, key).Err(); err != nil {
		c.logger.WarnContext(ctx, "consent cache invalidation failed", "error", err)
	}
}

// InvalidateAll bumps the generation, orphaning every cached answer. Called
// when the active document set changes; unlike the read-path helpers the
// error is returned, because a surviving complete answer would bypass the
// gate until its TTL expires. Orphaned keys expire via TTL.
func (c *Redis) InvalidateAll(ctx context.Context) error {
	if err := c.client.Incr(ctx, generationKey).Err(); err != nil {
		return fmt.Errorf("bump consent cache generation: %w", err)
	}
	return nil
}

// Noop satisfies the cache surface for deployments without Redis and for
// unit tests. Every read misses.
type Noop struct{}

func (Noop) Get(context.Context, id.PrincipalID) (bool, bool) { return false, false }

func (Noop) Set(context.Context, id.PrincipalID, bool) {}

func (Noop) InvalidatePrincipal(context.Context, id.PrincipalID) {}

func (Noop) InvalidateAll(context.Context) error { return nil }
