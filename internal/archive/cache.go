package archive

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

// StatusCache wraps a Store and caches RestoreStatus answers in redis for a
// short TTL. Restore progress is slow (hours for cold tiers) and clients poll,
// so dampening repeated HEAD calls is cheap. Writes pass through and drop the
// cached entry. With a nil client the wrapper is a transparent passthrough.
type StatusCache struct {
	Store

	client *redis.Client
	ttl    time.Duration
	logger *slog.Logger
}

func NewStatusCache(store Store, client *redis.Client, ttl time.Duration, logger *slog.Logger) *StatusCache {
	return &StatusCache{Store: store, client: client, ttl: ttl, logger: logger}
}

func (c *StatusCache) RestoreStatus(ctx context.Context, key string) (RestoreStatus, error) {
	if c.client == nil {
		return c.Store.RestoreStatus(ctx, key)
	}

	cacheKey := c.cacheKey(key)
	if raw, err := c.client.Get(ctx, cacheKey).Bytes(); err == nil {
		var status RestoreStatus
		if err := json.Unmarshal(raw, &status); err == nil {
			return status, nil
		}
		// Corrupt entry, fall through to the store and overwrite it.
	}

	status, err := c.Store.RestoreStatus(ctx, key)
	if err != nil {
		return RestoreStatus{}, err
	}

	if raw, err := json.Marshal(status); err == nil {
		if err := c.client.Set(ctx, cacheKey, raw, c.ttl).Err(); err != nil {
			c.logger.Warn("restore status cache write failed", "key", key, "error", err)
		}
	}
	return status, nil
}

func (c *StatusCache) Archive(ctx context.Context, key string, content []byte, contentType string, tier Tier) error {
	c.invalidate(ctx, key)
	return c.Store.Archive(ctx, key, content, contentType, tier)
}

func (c *StatusCache) RequestRestore(ctx context.Context, key string, availabilityDays int, speed RestoreSpeed) error {
	c.invalidate(ctx, key)
	return c.Store.RequestRestore(ctx, key, availabilityDays, speed)
}

func (c *StatusCache) Remove(ctx context.Context, key string) error {
	c.invalidate(ctx, key)
	return c.Store.Remove(ctx, key)
}

func (c *StatusCache) invalidate(ctx context.Context, key string) {
	if c.client == nil {
		return
	}
	if err := c.client.Del(ctx, c.cacheKey(key)).Err(); err != nil {
		c.logger.Warn("restore status cache invalidation failed", "key", key, "error", err)
	}
}

func (c *StatusCache) cacheKey(key string) string {
	return "repertor:restore-status:" + key
}
