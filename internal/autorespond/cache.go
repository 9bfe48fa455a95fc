package autorespond

import (
	"log/slog"
	"sync"
	"time"
)

type cacheEntry struct {
	data     []byte
	cachedAt time.Time
}

// Cache is the in-memory TTL+capacity layer fronting the durable store.
// Eviction removes expired entries first, then oldest-inserted entries
// while over capacity. Insertion order, not access order: the disk store is
// authoritative, so a suboptimal eviction only costs one extra disk read.
type Cache struct {
	mu      sync.Mutex
	entries map[string]cacheEntry
	order   []string
	ttl     time.Duration
	cap     int
	store   *Store
	logger  *slog.Logger
	now     func() time.Time
}

func NewCache(log *slog.Logger, store *Store, cfg Config) *Cache {
	if log == nil {
		log = slog.Default()
	}
	cfg = cfg.withDefaults()
	return &Cache{
		entries: make(map[string]cacheEntry),
		ttl:     cfg.CacheTTL,
		cap:     cfg.CacheCapacity,
		store:   store,
		logger:  log.With(slog.String("component", "media_cache")),
		now:     time.Now,
	}
}

// Get returns a fresh memory hit or falls through to the store, writing a
// disk hit back into memory.
func (c *Cache) Get(rel string) ([]byte, bool) {
	c.mu.Lock()
	entry, ok := c.entries[rel]
	if ok && c.now().Sub(entry.cachedAt) < c.ttl {
		c.mu.Unlock()
		return entry.data, true
	}
	c.mu.Unlock()

	if c.store == nil {
		return nil, false
	}
	data, ok := c.store.Load(rel)
	if !ok {
		return nil, false
	}
	c.Put(rel, data)
	return data, true
}

// Put inserts or refreshes an entry, then evicts: expired entries first,
// then oldest-inserted while over capacity.
func (c *Cache) Put(rel string, data []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	if _, exists := c.entries[rel]; exists {
		c.removeFromOrder(rel)
	}
	c.entries[rel] = cacheEntry{data: data, cachedAt: now}
	c.order = append(c.order, rel)

	for key, entry := range c.entries {
		if now.Sub(entry.cachedAt) >= c.ttl {
			delete(c.entries, key)
			c.removeFromOrder(key)
		}
	}
	for len(c.entries) > c.cap {
		oldest := c.order[0]
		c.order = c.order[1:]
		delete(c.entries, oldest)
	}
}

// Invalidate drops a key from memory, e.g. after its file is deleted.
func (c *Cache) Invalidate(rel string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.entries[rel]; ok {
		delete(c.entries, rel)
		c.removeFromOrder(rel)
	}
}

// Len reports the current entry count.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

func (c *Cache) removeFromOrder(rel string) {
	for i, key := range c.order {
		if key == rel {
			c.order = append(c.order[:i], c.order[i+1:]...)
			return
		}
	}
}
