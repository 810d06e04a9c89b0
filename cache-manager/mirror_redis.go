package cachemanager

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/go-redis/redis/v8"
	"github.com/jonboulle/clockwork"

	"github.com/budgetly/orchestrator/pkg/models"
	"github.com/budgetly/orchestrator/pkg/utils"
)

// DefaultRedisNamespace prefixes every key the Redis mirror writes.
const DefaultRedisNamespace = "orchestrator:cache:"

// scanBatch is the COUNT hint for prefix deletes.
const scanBatch = 100

// RedisMirror stores each entry under namespace+key with a Redis TTL equal
// to the entry's remaining lifetime.
type RedisMirror struct {
	client    redis.UniversalClient
	namespace string
	enc       utils.Encoding
	clock     clockwork.Clock
}

// NewRedisMirror wraps an existing client. An empty namespace uses DefaultRedisNamespace.
func NewRedisMirror(client redis.UniversalClient, namespace string, clock clockwork.Clock) *RedisMirror {
	if namespace == "" {
		namespace = DefaultRedisNamespace
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &RedisMirror{
		client:    client,
		namespace: namespace,
		enc:       utils.EncodingMsgPack,
		clock:     clock,
	}
}

// Get implements Mirror.
func (m *RedisMirror) Get(ctx context.Context, key string) (*models.CacheEntry, error) {
	data, err := m.client.Get(ctx, m.namespace+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrMirrorMiss
	}
	if err != nil {
		return nil, fmt.Errorf("redis get: %w", err)
	}
	return utils.UnmarshalEntry(data, m.enc)
}

// Set implements Mirror. Already-expired entries are not written.
func (m *RedisMirror) Set(ctx context.Context, entry *models.CacheEntry) error {
	ttl := entry.TimeUntilExpiry(m.clock.Now())
	if ttl <= 0 {
		return nil
	}

	data, err := utils.MarshalEntry(entry, m.enc)
	if err != nil {
		return err
	}
	if err := m.client.Set(ctx, m.namespace+entry.Key, data, ttl).Err(); err != nil {
		return fmt.Errorf("redis set: %w", err)
	}
	return nil
}

// DeletePrefix implements Mirror using SCAN so large keyspaces are never
// blocked by KEYS.
func (m *RedisMirror) DeletePrefix(ctx context.Context, prefix string) (int, error) {
	match := escapeGlob(m.namespace+prefix) + "*"

	deleted := 0
	var cursor uint64
	for {
		keys, next, err := m.client.Scan(ctx, cursor, match, scanBatch).Result()
		if err != nil {
			return deleted, fmt.Errorf("redis scan: %w", err)
		}
		if len(keys) > 0 {
			n, err := m.client.Del(ctx, keys...).Result()
			if err != nil {
				return deleted, fmt.Errorf("redis del: %w", err)
			}
			deleted += int(n)
		}
		if next == 0 {
			return deleted, nil
		}
		cursor = next
	}
}

// escapeGlob escapes Redis MATCH metacharacters. Request keys carry URLs,
// which routinely contain '?' and may contain '*' or '['.
func escapeGlob(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		switch r {
		case '*', '?', '[', ']', '\\':
			b.WriteByte('\\')
		}
		b.WriteRune(r)
	}
	return b.String()
}
