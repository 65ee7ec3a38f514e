// Package cache holds recently scraped records so a URL is not fetched
// twice inside the TTL window. Process-local and intentionally
// non-durable.
package cache

import (
	"sync/atomic"
	"time"

	gocache "github.com/patrickmn/go-cache"

	"github.com/scentbase/perfume-catalog/internal/models"
)

type Stats struct {
	Hits     int64 `json:"hits"`
	Misses   int64 `json:"misses"`
	KeyCount int   `json:"keyCount"`
}

type RecordCache struct {
	store  *gocache.Cache
	ttl    time.Duration
	hits   atomic.Int64
	misses atomic.Int64
}

func New(ttl time.Duration) *RecordCache {
	return &RecordCache{
		store: gocache.New(ttl, 10*time.Minute),
		ttl:   ttl,
	}
}

func (c *RecordCache) Get(key string) (*models.Perfume, bool) {
	v, ok := c.store.Get(key)
	if !ok {
		c.misses.Add(1)
		return nil, false
	}
	c.hits.Add(1)
	return v.(*models.Perfume), true
}

func (c *RecordCache) Set(key string, record *models.Perfume) {
	c.store.Set(key, record, c.ttl)
}

func (c *RecordCache) Stats() Stats {
	return Stats{
		Hits:     c.hits.Load(),
		Misses:   c.misses.Load(),
		KeyCount: c.store.ItemCount(),
	}
}

func (c *RecordCache) Flush() {
	c.store.Flush()
}
