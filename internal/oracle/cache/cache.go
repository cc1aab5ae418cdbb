// Package cache remembers positive oracle answers in Redis. The unlock flag
// never returns to zero once set, so only "unlocked" is cached; "locked" is
// always read fresh.
package cache

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"trustcert/internal/oracle"
)

const keyPrefix = "trustcert:oracle:unlocked:"

// Client is the subset of go-redis the cache needs.
type Client interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value any, expiration time.Duration) *redis.StatusCmd
}

type Cache struct {
	next    oracle.Source
	client  Client
	ttl     time.Duration
	logger  *slog.Logger
	metrics *oracle.Metrics
}

type Option func(*Cache)

func WithLogger(logger *slog.Logger) Option {
	return func(c *Cache) {
		c.logger = logger
	}
}

func WithMetrics(m *oracle.Metrics) Option {
	return func(c *Cache) {
		c.metrics = m
	}
}

func New(next oracle.Source, client Client, ttl time.Duration, opts ...Option) *Cache {
	c := &Cache{
		next:   next,
		client: client,
		ttl:    ttl,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// IsUnlocked serves a cached "unlocked" when present and otherwise asks the
// wrapped source. Redis failures degrade to a direct read.
func (c *Cache) IsUnlocked(ctx context.Context, appID uint64) (bool, error) {
	key := cacheKey(appID)
	val, err := c.client.Get(ctx, key).Result()
	switch {
	case err == nil && val == "1":
		c.metrics.IncrementCache("hit")
		return true, nil
	case err == nil, errors.Is(err, redis.Nil):
		c.metrics.IncrementCache("miss")
	default:
		c.metrics.IncrementCache("error")
		c.logger.WarnContext(ctx, "oracle cache read failed", "app_id", appID, "error", err)
	}

	unlocked, err := c.next.IsUnlocked(ctx, appID)
	if err != nil || !unlocked {
		return unlocked, err
	}
	if err := c.client.Set(ctx, key, "1", c.ttl).Err(); err != nil {
		c.logger.WarnContext(ctx, "oracle cache write failed", "app_id", appID, "error", err)
	}
	return true, nil
}

func cacheKey(appID uint64) string {
	return fmt.Sprintf("%s%d", keyPrefix, appID)
}
