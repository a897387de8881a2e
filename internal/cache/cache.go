package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Cache is the single freshness authority: every upstream-fetching component
// consults it before making network calls and populates it after a
// successful fetch. Expiry is store-enforced; callers cannot distinguish
// "absent" from "present but expired".
type Cache struct {
	rdb    *redis.Client
	logger *zap.Logger
}

// New connects to redis and verifies the connection.
func New(ctx context.Context, addr, password string, db int, logger *zap.Logger) (*Cache, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}

	return &Cache{rdb: rdb, logger: logger}, nil
}

// NewWithClient wraps an existing redis client (used by tests).
func NewWithClient(rdb *redis.Client, logger *zap.Logger) *Cache {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Cache{rdb: rdb, logger: logger}
}

// GetJSON reads and decodes the value at key into dest. It returns false for
// a missing or expired key, and also for an undecodable value: a payload we
// can no longer read is as good as absent, so reads fail open and the caller
// refetches.
func (c *Cache) GetJSON(ctx context.Context, key string, dest any) (bool, error) {
	data, err := c.rdb.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("cache get %s: %w", key, err)
	}

	if err := json.Unmarshal(data, dest); err != nil {
		c.logger.Warn("cache.decode_failed", zap.String("key", key), zap.Error(err))
		return false, nil
	}
	return true, nil
}

// SetJSON serializes value and stores it under key. ttl 0 means no expiry.
// The write is a single SET, so readers see either the previous complete
// value or the new complete value, never a partial one.
func (c *Cache) SetJSON(ctx context.Context, key string, value any, ttl time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("cache marshal %s: %w", key, err)
	}
	if err := c.rdb.Set(ctx, key, data, ttl).Err(); err != nil {
		return fmt.Errorf("cache set %s: %w", key, err)
	}
	return nil
}

// Delete removes key. Deleting a missing key is a no-op.
func (c *Cache) Delete(ctx context.Context, key string) error {
	if err := c.rdb.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("cache delete %s: %w", key, err)
	}
	return nil
}

// Ping verifies connectivity for health checks.
func (c *Cache) Ping(ctx context.Context) error {
	return c.rdb.Ping(ctx).Err()
}

// Close releases the underlying connection.
func (c *Cache) Close() error {
	return c.rdb.Close()
}
