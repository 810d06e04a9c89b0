// Package models provides the data models shared by the request orchestrator.
//
// Design Philosophy:
// - Minimal allocations on hot paths
// - Immutable values once handed to more than one goroutine
// - Explicit expiry semantics (an entry is stale from ExpiresAt onward)
package models

import (
	"encoding/json"
	"fmt"
	"sync/atomic"
	"time"
)

// DefaultTTL is the default time-to-live for cached GET responses.
const DefaultTTL = 60 * time.Second

// CacheEntry is a cached, decoded JSON response body.
//
// Value holds the decoded document handed back to readers; Raw holds its
// canonical JSON encoding and is what the durable mirror persists.
//
// Thread Safety: AccessCount uses atomic operations. Value and Raw must not
// be mutated after the entry is stored.
type CacheEntry struct {
	Key       string      `json:"key" msgpack:"key"`
	Value     interface{} `json:"-" msgpack:"-"`
	Raw       []byte      `json:"raw" msgpack:"raw"`
	WrittenAt time.Time   `json:"written_at" msgpack:"written_at"`
	ExpiresAt time.Time   `json:"expires_at" msgpack:"expires_at"`

	AccessCount uint64 `json:"-" msgpack:"-"`
}

// NewCacheEntry encodes value and builds an entry written at now.
// Returns an error if value cannot be encoded as JSON.
func NewCacheEntry(key string, value interface{}, now time.Time, ttl time.Duration) (*CacheEntry, error) {
	raw, err := json.Marshal(value)
	if err != nil {
		return nil, fmt.Errorf("failed to encode cache value for %s: %w", key, err)
	}
	return &CacheEntry{
		Key:       key,
		Value:     value,
		Raw:       raw,
		WrittenAt: now,
		ExpiresAt: now.Add(ttl),
	}, nil
}

// DecodeRaw restores Value from Raw. Used after loading from the mirror.
func (e *CacheEntry) DecodeRaw() error {
	if len(e.Raw) == 0 {
		return fmt.Errorf("cache entry %s has no raw value", e.Key)
	}
	var v interface{}
	if err := json.Unmarshal(e.Raw, &v); err != nil {
		return fmt.Errorf("failed to decode cache entry %s: %w", e.Key, err)
	}
	e.Value = v
	return nil
}

// IsExpired reports whether the entry is stale at now.
// An entry written at T with TTL d is fresh for T <= now < T+d.
func (e *CacheEntry) IsExpired(now time.Time) bool {
	return !now.Before(e.ExpiresAt)
}

// TTL returns the lifetime the entry was written with.
func (e *CacheEntry) TTL() time.Duration {
	return e.ExpiresAt.Sub(e.WrittenAt)
}

// TimeUntilExpiry returns the duration until expiry, or 0 if already expired.
func (e *CacheEntry) TimeUntilExpiry(now time.Time) time.Duration {
	remaining := e.ExpiresAt.Sub(now)
	if remaining < 0 {
		return 0
	}
	return remaining
}

// Touch increments the access counter.
func (e *CacheEntry) Touch() {
	atomic.AddUint64(&e.AccessCount, 1)
}

// GetAccessCount returns the current access count (thread-safe).
func (e *CacheEntry) GetAccessCount() uint64 {
	return atomic.LoadUint64(&e.AccessCount)
}

// Size returns the approximate memory size of the entry in bytes.
func (e *CacheEntry) Size() int {
	// key + raw + timestamps/counters/pointers
	return len(e.Key) + len(e.Raw) + 64
}
