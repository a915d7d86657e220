// Package cache provides Redis read-through caches over the Postgres stores.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"stockflow/internal/domain/stocksync"
	"stockflow/pkg/logger"
)

const keyPrefix = "stockflow:"

var _ stocksync.MappingStore = (*SKUMappingCache)(nil)

// SKUMappingCache layers Redis over a durable mapping store.
//
// The backing store stays the source of truth. Redis errors are logged and
// the call falls through to the backing store, so an unavailable cache only
// costs latency.
type SKUMappingCache struct {
	rdb     redis.UniversalClient
	backing stocksync.MappingStore
	ttl     time.Duration
	log     *logger.Logger
}

// NewSKUMappingCache creates the cache. ttl <= 0 keeps entries until invalidated.
func NewSKUMappingCache(rdb redis.UniversalClient, backing stocksync.MappingStore, ttl time.Duration, log *logger.Logger) *SKUMappingCache {
	if log == nil {
		log = logger.Default()
	}
	if ttl < 0 {
		ttl = 0
	}
	return &SKUMappingCache{
		rdb:     rdb,
		backing: backing,
		ttl:     ttl,
		log:     log.WithComponent("sku_cache"),
	}
}

// Key returns the Redis key of sku.
func Key(sku string) string {
	return keyPrefix + "tn_sku_map:" + sku
}

func (c *SKUMappingCache) GetSKUMapping(ctx context.Context, sku string) (stocksync.Mapping, bool, error) {
	if m, ok := c.lookup(ctx, sku); ok {
		return m, true, nil
	}

	m, ok, err := c.backing.GetSKUMapping(ctx, sku)
	if err != nil || !ok {
		return m, ok, err
	}
	c.store(ctx, sku, m)
	return m, true, nil
}

func (c *SKUMappingCache) SetSKUMapping(ctx context.Context, sku string, m stocksync.Mapping) error {
	if err := c.backing.SetSKUMapping(ctx, sku, m); err != nil {
		return err
	}
	c.store(ctx, sku, m)
	return nil
}

// DeleteSKUMapping evicts the cached entry, deletes the backing row and evicts
// again: a read between the first eviction and the delete may have cached the
// old row. If the first eviction fails the backing row is kept.
func (c *SKUMappingCache) DeleteSKUMapping(ctx context.Context, sku string) error {
	if err := c.evict(ctx, sku); err != nil {
		return err
	}
	if err := c.backing.DeleteSKUMapping(ctx, sku); err != nil {
		return err
	}
	return c.evict(ctx, sku)
}

func (c *SKUMappingCache) evict(ctx context.Context, sku string) error {
	if err := c.rdb.Del(ctx, Key(sku)).Err(); err != nil {
		return fmt.Errorf("evict sku mapping %q: %w", sku, err)
	}
	return nil
}

func (c *SKUMappingCache) lookup(ctx context.Context, sku string) (stocksync.Mapping, bool) {
	var m stocksync.Mapping
	raw, err := c.rdb.Get(ctx, Key(sku)).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			c.log.Warnw("redis get failed", "sku", sku, "error", err)
		}
		return m, false
	}
	if err := json.Unmarshal(raw, &m); err != nil {
		c.log.Warnw("corrupt cached sku mapping", "sku", sku, "error", err)
		return m, false
	}
	return m, true
}

func (c *SKUMappingCache) store(ctx context.Context, sku string, m stocksync.Mapping) {
	raw, err := json.Marshal(m)
	if err != nil {
		return
	}
	if err := c.rdb.Set(ctx, Key(sku), raw, c.ttl).Err(); err != nil {
		c.log.Warnw("redis set failed", "sku", sku, "error", err)
	}
}
