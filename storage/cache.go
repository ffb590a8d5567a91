package storage

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"

	"board-api/domain"
	"board-api/reorder"
)

// Cache wraps a Store with Redis-backed caching of collection snapshots.
// Every write through the cache evicts the snapshot of the collection it touched.
type Cache struct {
	base  Store
	redis *redis.Client
	ttl   time.Duration
}

// NewCache creates a caching Store wrapper using the provided Redis client and TTL.
func NewCache(base Store, client *redis.Client, ttl time.Duration) *Cache {
	if base == nil {
		panic("storage.NewCache: base storage is nil")
	}
	if ttl < 0 {
		ttl = 0
	}
	return &Cache{base: base, redis: client, ttl: ttl}
}

func (c *Cache) List(ctx context.Context, col domain.Collection) ([]domain.Item, error) {
	if items, ok := c.loadSnapshot(ctx, col); ok {
		return items, nil
	}

	items, err := c.base.List(ctx, col)
	if err != nil {
		return nil, err
	}

	c.storeSnapshot(ctx, col, items)
	return items, nil
}

func (c *Cache) Get(ctx context.Context, col domain.Collection, id string) (*domain.Item, error) {
	return c.base.Get(ctx, col, id)
}

func (c *Cache) Create(ctx context.Context, col domain.Collection, item domain.Item) (string, error) {
	id, err := c.base.Create(ctx, col, item)
	if err != nil {
		return "", err
	}
	c.Evict(ctx, col)
	return id, nil
}

func (c *Cache) Update(ctx context.Context, col domain.Collection, id string, p Patch) error {
	if err := c.base.Update(ctx, col, id, p); err != nil {
		return err
	}
	c.Evict(ctx, col)
	return nil
}

func (c *Cache) Delete(ctx context.Context, col domain.Collection, id string) error {
	if err := c.base.Delete(ctx, col, id); err != nil {
		return err
	}
	c.Evict(ctx, col)
	return nil
}

// ApplyAtomic forwards to the wrapped store when it is a Transactor.
func (c *Cache) ApplyAtomic(ctx context.Context, plan reorder.Plan) error {
	tx, ok := c.base.(Transactor)
	if !ok {
		return ErrNotAtomic
	}
	err := tx.ApplyAtomic(ctx, plan)
	c.Evict(ctx, plan.Collections()...)
	return err
}

// Evict drops the cached snapshots of the given collections.
func (c *Cache) Evict(ctx context.Context, cols ...domain.Collection) {
	if c.redis == nil || len(cols) == 0 {
		return
	}
	keys := make([]string, len(cols))
	for i, col := range cols {
		keys[i] = snapshotCacheKey(col)
	}
	_, _ = c.redis.Del(ctx, keys...).Result()
}

func (c *Cache) loadSnapshot(ctx context.Context, col domain.Collection) ([]domain.Item, bool) {
	if c.redis == nil {
		return nil, false
	}
	data, err := c.redis.Get(ctx, snapshotCacheKey(col)).Bytes()
	if err != nil {
		if err != redis.Nil {
			// On redis errors fall back to the backing storage without failing.
			_ = c.redis.Del(ctx, snapshotCacheKey(col)).Err()
		}
		return nil, false
	}
	var items []domain.Item
	if err := json.Unmarshal(data, &items); err != nil {
		_ = c.redis.Del(ctx, snapshotCacheKey(col)).Err()
		return nil, false
	}
	return items, true
}

func (c *Cache) storeSnapshot(ctx context.Context, col domain.Collection, items []domain.Item) {
	if c.redis == nil || c.ttl == 0 {
		return
	}
	data, err := json.Marshal(items)
	if err != nil {
		return
	}
	_ = c.redis.Set(ctx, snapshotCacheKey(col), data, c.ttl).Err()
}

func snapshotCacheKey(col domain.Collection) string {
	return "snapshot:" + string(col)
}
