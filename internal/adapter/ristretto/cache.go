// Package ristretto implements the cache port with dgraph-io/ristretto as an
// in-process cache for context file reads.
package ristretto

import (
	"context"
	"fmt"
	"time"

	"github.com/dgraph-io/ristretto/v2"

	"github.com/Strob0t/Overwatch/internal/port/cache"
)

var _ cache.Cache = (*Cache)(nil)

// minCounters keeps admission statistics useful for very small caches.
const minCounters = 1000

// Cache wraps a ristretto cache keyed by string.
type Cache struct {
	c *ristretto.Cache[string, []byte]
}

// New creates a cache holding at most maxCostBytes of values.
func New(maxCostBytes int64) (*Cache, error) {
	if maxCostBytes < 1 {
		return nil, fmt.Errorf("ristretto: max cost must be positive, got %d", maxCostBytes)
	}
	c, err := ristretto.NewCache(&ristretto.Config[string, []byte]{
		NumCounters: max(maxCostBytes/100*10, minCounters), // ~10x expected items
		MaxCost:     maxCostBytes,
		BufferItems: 64,
		Metrics:     true,
	})
	if err != nil {
		return nil, fmt.Errorf("ristretto: %w", err)
	}
	return &Cache{c: c}, nil
}

// NewMB creates a cache sized in megabytes.
func NewMB(sizeMB int) (*Cache, error) {
	return New(int64(sizeMB) << 20)
}

// Get retrieves a value.
func (c *Cache) Get(_ context.Context, key string) (data []byte, ok bool, err error) {
	val, found := c.c.Get(key)
	if !found {
		return nil, false, nil
	}
	return val, true, nil
}

// Set stores a value with the given TTL; zero means no expiry. Sets are
// applied before returning so a following Get observes them, unless the
// admission policy rejected the value.
func (c *Cache) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	c.c.SetWithTTL(key, value, int64(len(value)), ttl)
	c.c.Wait()
	return nil
}

// Delete removes a value.
func (c *Cache) Delete(_ context.Context, key string) error {
	c.c.Del(key)
	return nil
}

// HitRatio reports the fraction of Gets served from the cache.
func (c *Cache) HitRatio() float64 {
	return c.c.Metrics.Ratio()
}

// Close releases the cache's goroutines.
func (c *Cache) Close() {
	c.c.Close()
}
