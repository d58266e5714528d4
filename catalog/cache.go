package catalog

import (
	"context"
	"sync"
	"time"

	"github.com/liamcoop/screener/screener"
)

// DefinitionCache provides an abstraction for caching published definitions.
// This allows swapping between in-memory and Redis implementations.
type DefinitionCache interface {
	// Get retrieves a cached definition, returns false on miss or expiry
	Get(ctx context.Context, key Key) (*screener.Definition, bool)

	// Set stores a definition in the cache
	Set(ctx context.Context, key Key, def *screener.Definition)

	// Invalidate drops every cached definition
	Invalidate(ctx context.Context)
}

// CacheConfig holds configuration for cache behavior
type CacheConfig struct {
	// TTL is the time-to-live for cached entries.
	// Set to 0 for no expiration (manual invalidation only)
	TTL time.Duration
}

// DefaultCacheConfig returns the defaults used by the server
func DefaultCacheConfig() CacheConfig {
	return CacheConfig{
		TTL: 5 * time.Minute,
	}
}

type cacheEntry struct {
	def      *screener.Definition
	cachedAt time.Time
}

// InMemoryCache is a thread-safe in-memory DefinitionCache
type InMemoryCache struct {
	entries map[Key]cacheEntry
	config  CacheConfig
	now     func() time.Time
	mu      sync.RWMutex
}

// NewInMemoryCache creates a new in-memory definition cache
func NewInMemoryCache(config CacheConfig) *InMemoryCache {
	return &InMemoryCache{
		entries: make(map[Key]cacheEntry),
		config:  config,
		now:     time.Now,
	}
}

// Get retrieves a cached definition
func (c *InMemoryCache) Get(_ context.Context, key Key) (*screener.Definition, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	entry, ok := c.entries[key]
	if !ok {
		return nil, false
	}

	if c.config.TTL > 0 && c.now().Sub(entry.cachedAt) > c.config.TTL {
		return nil, false
	}

	return entry.def, true
}

// Set stores a definition in the cache
func (c *InMemoryCache) Set(_ context.Context, key Key, def *screener.Definition) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries[key] = cacheEntry{def: def, cachedAt: c.now()}
}

// Invalidate clears the cache
func (c *InMemoryCache) Invalidate(_ context.Context) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries = make(map[Key]cacheEntry)
}
