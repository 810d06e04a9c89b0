package cachemanager

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/jonboulle/clockwork"
)

func TestFileMirror_RoundTrip(t *testing.T) {
	clock := clockwork.NewFakeClock()
	dir := t.TempDir()
	ctx := context.Background()

	m, err := NewFileMirror(dir, clock)
	if err != nil {
		t.Fatalf("NewFileMirror() error = %v", err)
	}

	if _, err := m.Get(ctx, "missing"); !errors.Is(err, ErrMirrorMiss) {
		t.Errorf("Get(missing) error = %v, want ErrMirrorMiss", err)
	}

	entry := mustEntry(t, "GET https://api.test/goals?x=1", map[string]interface{}{"n": 1.0}, clock.Now(), time.Minute)
	if err := m.Set(ctx, entry); err != nil {
		t.Fatalf("Set() error = %v", err)
	}

	// A second mirror over the same directory sees the persisted entry
	reopened, err := NewFileMirror(dir, clock)
	if err != nil {
		t.Fatalf("NewFileMirror() error = %v", err)
	}
	got, err := reopened.Get(ctx, entry.Key)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if !got.ExpiresAt.Equal(entry.ExpiresAt) {
		t.Errorf("ExpiresAt = %v, want %v", got.ExpiresAt, entry.ExpiresAt)
	}
	if got.Value.(map[string]interface{})["n"] != 1.0 {
		t.Errorf("Value = %v", got.Value)
	}
}

func TestFileMirror_DeletePrefixAndPrune(t *testing.T) {
	clock := clockwork.NewFakeClock()
	m, err := NewFileMirror(t.TempDir(), clock)
	if err != nil {
		t.Fatalf("NewFileMirror() error = %v", err)
	}
	ctx := context.Background()

	_ = m.Set(ctx, mustEntry(t, "GET /budgets/1", 1, clock.Now(), time.Minute))
	_ = m.Set(ctx, mustEntry(t, "GET /budgets/2", 2, clock.Now(), time.Minute))
	_ = m.Set(ctx, mustEntry(t, "GET /accounts", 3, clock.Now(), 10*time.Second))

	n, err := m.DeletePrefix(ctx, "GET /budgets")
	if err != nil || n != 2 {
		t.Errorf("DeletePrefix() = (%d, %v), want (2, nil)", n, err)
	}

	// Rewrites drop entries that expired in the meantime
	clock.Advance(20 * time.Second)
	_ = m.Set(ctx, mustEntry(t, "GET /goals", 4, clock.Now(), time.Minute))
	if _, err := m.Get(ctx, "GET /accounts"); !errors.Is(err, ErrMirrorMiss) {
		t.Errorf("expired entry should be pruned, got err = %v", err)
	}
}

func TestFileMirror_CorruptFileIsDiscarded(t *testing.T) {
	dir := t.TempDir()
	m, err := NewFileMirror(dir, nil)
	if err != nil {
		t.Fatalf("NewFileMirror() error = %v", err)
	}
	if err := os.WriteFile(m.Path(), []byte("garbage"), 0o600); err != nil {
		t.Fatal(err)
	}

	if _, err := m.Get(context.Background(), "k"); !errors.Is(err, ErrMirrorMiss) {
		t.Errorf("Get() on corrupt mirror error = %v, want ErrMirrorMiss", err)
	}
}

func TestNewFileMirror_EmptyDir(t *testing.T) {
	if _, err := NewFileMirror("", nil); err == nil {
		t.Error("expected error for empty directory")
	}
}

func TestEscapeGlob(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"GET https://api.test/a", "GET https://api.test/a"},
		{"GET /a?b=1", `GET /a\?b=1`},
		{"k*[x]", `k\*\[x\]`},
		{`back\slash`, `back\\slash`},
	}

	for _, tt := range tests {
		if got := escapeGlob(tt.in); got != tt.want {
			t.Errorf("escapeGlob(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

// TestRedisMirror runs against a live Redis when REDIS_ADDR is set.
func TestRedisMirror(t *testing.T) {
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		t.Skip("REDIS_ADDR not set")
	}

	client := redis.NewClient(&redis.Options{Addr: addr})
	defer client.Close()

	ctx := context.Background()
	if err := client.Ping(ctx).Err(); err != nil {
		t.Skipf("redis unavailable: %v", err)
	}

	clock := clockwork.NewRealClock()
	m := NewRedisMirror(client, "orchestrator:test:"+t.Name()+":", clock)

	entry := mustEntry(t, "GET /recurring?userId=1", []interface{}{1.0}, clock.Now(), time.Minute)
	if err := m.Set(ctx, entry); err != nil {
		t.Fatalf("Set() error = %v", err)
	}
	if _, err := m.Get(ctx, entry.Key); err != nil {
		t.Fatalf("Get() error = %v", err)
	}

	n, err := m.DeletePrefix(ctx, "GET /recurring")
	if err != nil || n != 1 {
		t.Errorf("DeletePrefix() = (%d, %v), want (1, nil)", n, err)
	}
	if _, err := m.Get(ctx, entry.Key); !errors.Is(err, ErrMirrorMiss) {
		t.Errorf("Get() after delete error = %v, want ErrMirrorMiss", err)
	}
}
