package inventory

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const summaryVersionKey = "inventory:summary:version"

// Cache serves the stock summary from Redis with versioned invalidation:
// every committed movement bumps the version, orphaning stale entries
// instead of deleting them.
type Cache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewCache instantiates the cache helper.
func NewCache(client *redis.Client, ttl time.Duration) *Cache {
	return &Cache{client: client, ttl: ttl}
}

// Version returns the current cache version, initialising when missing.
func (c *Cache) Version(ctx context.Context) (int64, error) {
	if c == nil || c.client == nil {
		return 0, nil
	}
	ver, err := c.client.Get(ctx, summaryVersionKey).Int64()
	if errors.Is(err, redis.Nil) {
		if err := c.client.Set(ctx, summaryVersionKey, 1, 0).Err(); err != nil {
			return 0, err
		}
		return 1, nil
	}
	if err != nil {
		return 0, err
	}
	return ver, nil
}

// FetchSummary loads the cached summary or populates it via loader.
func (c *Cache) FetchSummary(ctx context.Context, loader func(context.Context) (StockSummary, error)) (StockSummary, error) {
	if loader == nil {
		return StockSummary{}, errors.New("inventory: cache loader required")
	}
	if c == nil || c.client == nil {
		return loader(ctx)
	}
	ver, err := c.Version(ctx)
	if err != nil {
		return StockSummary{}, err
	}
	key := fmt.Sprintf("inventory:summary:%d", ver)
	raw, err := c.client.Get(ctx, key).Bytes()
	if err == nil {
		var summary StockSummary
		if err := json.Unmarshal(raw, &summary); err == nil {
			return summary, nil
		}
	} else if !errors.Is(err, redis.Nil) {
		return StockSummary{}, err
	}
	summary, err := loader(ctx)
	if err != nil {
		return StockSummary{}, err
	}
	encoded, err := json.Marshal(summary)
	if err != nil {
		return StockSummary{}, err
	}
	if err := c.client.Set(ctx, key, encoded, c.ttl).Err(); err != nil {
		return StockSummary{}, err
	}
	return summary, nil
}

// Invalidate bumps the cache version so the next read reloads from storage.
func (c *Cache) Invalidate(ctx context.Context) error {
	if c == nil || c.client == nil {
		return nil
	}
	return c.client.Incr(ctx, summaryVersionKey).Err()
}
