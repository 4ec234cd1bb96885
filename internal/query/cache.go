package query

import (
	"sync"
	"time"

	"github.com/cadencehq/cadence/pkg/metrics"
)

// Key identifies one cached answer. It is a structured tuple rather than
// a formatted string so invalidation never relies on substring matching
// across organizations with similar ids.
type Key struct {
	OrganizationID string
	Method         string
	Options        string // canonical serialization of the query options
}

type cacheEntry struct {
	value     any
	expiresAt time.Time
}

// Cache is a process-local TTL cache for analytics answers. There is no
// cross-process coherence; each process may briefly serve different
// cached answers.
type Cache struct {
	mu      sync.RWMutex
	entries map[Key]cacheEntry
	byOrg   map[string]map[Key]struct{}
	now     func() time.Time
}

// CacheOption applies a configuration option to the Cache.
type CacheOption func(*Cache)

// WithCacheClock injects a clock for tests.
func WithCacheClock(now func() time.Time) CacheOption {
	return func(c *Cache) {
		if now != nil {
			c.now = now
		}
	}
}

// NewCache creates an empty cache.
func NewCache(opts ...CacheOption) *Cache {
	c := &Cache{
		entries: make(map[Key]cacheEntry),
		byOrg:   make(map[string]map[Key]struct{}),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Get returns the live value for k, expiring lazily.
func (c *Cache) Get(k Key) (any, bool) {
	c.mu.RLock()
	e, ok := c.entries[k]
	c.mu.RUnlock()
	if !ok {
		metrics.RecordCacheMiss()
		return nil, false
	}
	if !c.now().Before(e.expiresAt) {
		c.mu.Lock()
		c.removeLocked(k)
		c.mu.Unlock()
		metrics.RecordCacheMiss()
		return nil, false
	}
	metrics.RecordCacheHit()
	return e.value, true
}

// Set stores v under k for ttl.
func (c *Cache) Set(k Key, v any, ttl time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries[k] = cacheEntry{value: v, expiresAt: c.now().Add(ttl)}
	keys, ok := c.byOrg[k.OrganizationID]
	if !ok {
		keys = make(map[Key]struct{})
		c.byOrg[k.OrganizationID] = keys
	}
	keys[k] = struct{}{}
	metrics.UpdateCacheEntries(len(c.entries))
}

// InvalidateOrganization drops every entry for the organization,
// regardless of method or options, and returns how many were dropped.
func (c *Cache) InvalidateOrganization(organizationID string) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	keys := c.byOrg[organizationID]
	n := len(keys)
	for k := range keys {
		delete(c.entries, k)
	}
	delete(c.byOrg, organizationID)
	metrics.UpdateCacheEntries(len(c.entries))
	metrics.RecordCacheInvalidated(n)
	return n
}

// Len returns the number of stored entries, counting expired ones that
// have not been touched yet.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// removeLocked deletes k from both indexes. Caller holds the write lock.
func (c *Cache) removeLocked(k Key) {
	delete(c.entries, k)
	if keys, ok := c.byOrg[k.OrganizationID]; ok {
		delete(keys, k)
		if len(keys) == 0 {
			delete(c.byOrg, k.OrganizationID)
		}
	}
	metrics.UpdateCacheEntries(len(c.entries))
}
