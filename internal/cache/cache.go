// Package cache keeps loaded report tables between requests.
package cache

import (
	"context"
	"sync"
	"time"

	"github.com/dvloznov/ops-review/internal/pipeline"
)

// TableCache stores loaded tables by key.
type TableCache interface {
	Get(ctx context.Context, key string) (pipeline.Table, bool, error)
	Set(ctx context.Context, key string, table pipeline.Table) error
	Delete(ctx context.Context, key string) error
}

type entry struct {
	table   pipeline.Table
	expires time.Time
}

// MemoryCache is an in-process TableCache with a fixed TTL. A zero TTL
// keeps entries until they are deleted.
type MemoryCache struct {
	mu      sync.RWMutex
	entries map[string]entry
	ttl     time.Duration
	now     func() time.Time
}

// NewMemoryCache creates a new in-process cache.
func NewMemoryCache(ttl time.Duration) *MemoryCache {
	return &MemoryCache{
		entries: make(map[string]entry),
		ttl:     ttl,
		now:     time.Now,
	}
}

func (c *MemoryCache) Get(ctx context.Context, key string) (pipeline.Table, bool, error) {
	c.mu.RLock()
	e, ok := c.entries[key]
	c.mu.RUnlock()

	if !ok {
		return pipeline.Table{}, false, nil
	}
	if !e.expires.IsZero() && !c.now().Before(e.expires) {
		c.mu.Lock()
		delete(c.entries, key)
		c.mu.Unlock()
		return pipeline.Table{}, false, nil
	}
	return e.table, true, nil
}

func (c *MemoryCache) Set(ctx context.Context, key string, table pipeline.Table) error {
	e := entry{table: table}
	if c.ttl > 0 {
		e.expires = c.now().Add(c.ttl)
	}

	c.mu.Lock()
	c.entries[key] = e
	c.mu.Unlock()
	return nil
}

func (c *MemoryCache) Delete(ctx context.Context, key string) error {
	c.mu.Lock()
	delete(c.entries, key)
	c.mu.Unlock()
	return nil
}

// Key builds the cache key for a report source.
func Key(report pipeline.ReportType, variant string) string {
	if variant == "" {
		return "ops-review:table:" + string(report)
	}
	return "ops-review:table:" + string(report) + ":" + variant
}
