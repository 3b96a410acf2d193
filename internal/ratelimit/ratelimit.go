// Package ratelimit implements a Redis-backed fixed-window limiter
// guarding the RPC tool surface; the embed/oEmbed HTTP surface does not use
// it. When no Redis address is configured
// it is a permissive no-op, matching spec §6's "rate limiting" being an
// optional deployment concern rather than a hard requirement.
package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	apperrors "github.com/loistio/loist-mcp/internal/errors"
)

// Limiter enforces a per-key request budget within a fixed window that
// starts at the key's first request and resets when it expires.
type Limiter struct {
	client *redis.Client
	limit  int64
	window time.Duration
}

// New builds a Limiter against addr/db. If addr is empty, Allow always
// succeeds — there is no Redis to reach.
func New(addr string, db int, limit int64, window time.Duration) *Limiter {
	if addr == "" {
		return &Limiter{limit: limit, window: window}
	}
	return &Limiter{
		client: redis.NewClient(&redis.Options{Addr: addr, DB: db}),
		limit:  limit,
		window: window,
	}
}

// Allow increments key's counter, setting the window expiry on first use —
// the same INCR+EXPIRE idiom as a login-attempt counter. Exceeding limit
// within the window fails RATE_LIMIT_EXCEEDED.
func (l *Limiter) Allow(ctx context.Context, key string) error {
	if l.client == nil {
		return nil
	}

	count, err := l.client.Incr(ctx, key).Result()
	if err != nil {
		return apperrors.Wrap(apperrors.ExternalServiceError, "rate limit backend unavailable", err)
	}
	if count == 1 {
		if err := l.client.Expire(ctx, key, l.window).Err(); err != nil {
			return apperrors.Wrap(apperrors.ExternalServiceError, "rate limit backend unavailable", err)
		}
	}
	if count > l.limit {
		return apperrors.New(apperrors.RateLimitExceeded, fmt.Sprintf("rate limit of %d requests per %s exceeded", l.limit, l.window))
	}
	return nil
}

// Close releases the underlying Redis client, if any.
func (l *Limiter) Close() error {
	if l.client == nil {
		return nil
	}
	return l.client.Close()
}
