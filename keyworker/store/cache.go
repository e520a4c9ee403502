package store

import (
	"context"
	"time"

	lru "github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/warp/keyworker-engine/keyworker"
)

// =============================================================================
// PRISON CONFIG CACHE - Read-through LRU in front of any PrisonConfigStore
// =============================================================================

// PrisonConfigCache remembers per-prison configuration for TTL. Stats
// requests look the same prison up once per call, so the cache mostly saves
// repeated reads across requests. MigratedPrisons is never cached: it is the
// list an operator changes when a prison goes live.
type PrisonConfigCache struct {
	inner keyworker.PrisonConfigStore
	cache *lru.LRU[string, keyworker.PrisonConfig]
}

var _ keyworker.PrisonConfigStore = (*PrisonConfigCache)(nil)

// NewPrisonConfigCache wraps inner with an LRU of size entries. A size below
// one disables caching and returns a cache that always reads through.
func NewPrisonConfigCache(inner keyworker.PrisonConfigStore, size int, ttl time.Duration) *PrisonConfigCache {
	c := &PrisonConfigCache{inner: inner}
	if size > 0 {
		c.cache = lru.NewLRU[string, keyworker.PrisonConfig](size, nil, ttl)
	}
	return c
}

func (c *PrisonConfigCache) PrisonConfig(ctx context.Context, prisonID string) (keyworker.PrisonConfig, error) {
	if c.cache != nil {
		if cfg, ok := c.cache.Get(prisonID); ok {
			return cfg, nil
		}
	}

	cfg, err := c.inner.PrisonConfig(ctx, prisonID)
	if err != nil {
		return keyworker.PrisonConfig{}, err
	}
	if c.cache != nil {
		c.cache.Add(prisonID, cfg)
	}
	return cfg, nil
}

func (c *PrisonConfigCache) MigratedPrisons(ctx context.Context) ([]keyworker.PrisonConfig, error) {
	return c.inner.MigratedPrisons(ctx)
}

// Invalidate drops one prison, or every prison when prisonID is empty.
func (c *PrisonConfigCache) Invalidate(prisonID string) {
	if c.cache == nil {
		return
	}
	if prisonID == "" {
		c.cache.Purge()
		return
	}
	c.cache.Remove(prisonID)
}
