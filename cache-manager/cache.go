package cachemanager

import (
	"container/list"
	"strings"
	"sync"

	"github.com/jonboulle/clockwork"

	"github.com/budgetly/orchestrator/pkg/models"
)

type lruEntry struct {
	entry   *models.CacheEntry
	element *list.Element // pointer to list element for O(1) removal
}

// L1Cache implements a thread-safe in-memory cache with LRU eviction and TTL expiration.
// Trade-offs:
// - Mutex chosen over sync.Map: every Get reorders the LRU list, so reads write anyway.
// - Prefix invalidation is a full scan; the cache is bounded to a few hundred entries.
type L1Cache struct {
	mu         sync.Mutex
	cache      map[string]*lruEntry
	lruList    *list.List
	maxEntries int
	clock      clockwork.Clock
}

// NewL1Cache creates a new L1 cache with specified capacity.
func NewL1Cache(maxEntries int, clock clockwork.Clock) *L1Cache {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &L1Cache{
		cache:      make(map[string]*lruEntry, maxEntries),
		lruList:    list.New(),
		maxEntries: maxEntries,
		clock:      clock,
	}
}

// Get retrieves an entry and updates LRU ordering.
// The second result reports whether the key was present but expired; such
// entries are removed before returning.
// Complexity: O(1) average.
func (c *L1Cache) Get(key string) (entry *models.CacheEntry, expired bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, exists := c.cache[key]
	if !exists {
		return nil, false
	}

	// Check expiration (lazy)
	if e.entry.IsExpired(c.clock.Now()) {
		c.deleteUnsafe(key)
		return nil, true
	}

	c.lruList.MoveToFront(e.element)
	e.entry.Touch()
	return e.entry, false
}

// Set stores an entry, evicting the LRU entry if at capacity.
// Returns true if an entry was evicted to make room.
// Complexity: O(1).
func (c *L1Cache) Set(entry *models.CacheEntry) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if e, exists := c.cache[entry.Key]; exists {
		e.entry = entry
		c.lruList.MoveToFront(e.element)
		return false
	}

	evicted := false
	if c.maxEntries > 0 && c.lruList.Len() >= c.maxEntries {
		evicted = c.evictLRUUnsafe()
	}

	e := &lruEntry{entry: entry}
	e.element = c.lruList.PushFront(e)
	c.cache[entry.Key] = e
	return evicted
}

// Delete removes a key from L1 cache.
// Returns true if key existed, false otherwise.
func (c *L1Cache) Delete(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.deleteUnsafe(key)
}

// deleteUnsafe is the non-locking internal delete implementation.
func (c *L1Cache) deleteUnsafe(key string) bool {
	e, exists := c.cache[key]
	if !exists {
		return false
	}

	c.lruList.Remove(e.element)
	delete(c.cache, key)
	return true
}

// DeletePrefix removes every key starting with prefix.
// Returns number of keys deleted.
func (c *L1Cache) DeletePrefix(prefix string) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	// Collect matching keys first to avoid modification during iteration
	var toDelete []string
	for key := range c.cache {
		if strings.HasPrefix(key, prefix) {
			toDelete = append(toDelete, key)
		}
	}

	count := 0
	for _, key := range toDelete {
		if c.deleteUnsafe(key) {
			count++
		}
	}

	return count
}

// CleanupExpired removes all expired entries.
// Returns number of entries removed.
func (c *L1Cache) CleanupExpired() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.clock.Now()

	var expired []string
	for key, e := range c.cache {
		if e.entry.IsExpired(now) {
			expired = append(expired, key)
		}
	}

	count := 0
	for _, key := range expired {
		if c.deleteUnsafe(key) {
			count++
		}
	}

	return count
}

// evictLRUUnsafe removes the least recently used entry.
// Must be called with lock held.
func (c *L1Cache) evictLRUUnsafe() bool {
	oldest := c.lruList.Back()
	if oldest == nil {
		return false
	}
	e := oldest.Value.(*lruEntry)
	c.lruList.Remove(oldest)
	delete(c.cache, e.entry.Key)
	return true
}

// Keys returns the cached keys from most to least recently used.
func (c *L1Cache) Keys() []string {
	c.mu.Lock()
	defer c.mu.Unlock()

	keys := make([]string, 0, c.lruList.Len())
	for el := c.lruList.Front(); el != nil; el = el.Next() {
		keys = append(keys, el.Value.(*lruEntry).entry.Key)
	}
	return keys
}

// Size returns the current number of entries in L1 cache.
func (c *L1Cache) Size() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.cache)
}

// Clear removes all entries from the cache.
func (c *L1Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cache = make(map[string]*lruEntry, c.maxEntries)
	c.lruList = list.New()
}
