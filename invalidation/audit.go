package invalidation

import (
	"context"
	"strings"
	"sync"
	"time"
)

// AuditLog represents one invalidation for the in-process audit trail.
type AuditLog struct {
	ID          int64         `json:"id"`
	Method      string        `json:"method"`
	URL         string        `json:"url"`
	Resource    string        `json:"resource"` // empty when unmapped
	Prefixes    []string      `json:"prefixes"`
	Removed     int           `json:"removed"`
	TriggeredBy string        `json:"triggered_by"` // "write" or "manual"
	Timestamp   time.Time     `json:"timestamp"`
	RequestID   string        `json:"request_id"`
	Latency     time.Duration `json:"latency"`
}

// AuditLoggerInterface defines the interface for audit logging operations.
type AuditLoggerInterface interface {
	Insert(ctx context.Context, log AuditLog) error
	GetRecent(ctx context.Context, limit, offset int, prefixFilter string) ([]AuditLog, error)
	GetCount(ctx context.Context, prefixFilter string) (int, error)
	GetByRequestID(ctx context.Context, requestID string) ([]AuditLog, error)
}

// DefaultAuditCapacity bounds the in-memory trail.
const DefaultAuditCapacity = 256

// MemoryAuditLog keeps the most recent invalidations in a ring buffer.
//
// Design decisions:
//   - Append-only; the oldest record is overwritten once capacity is reached
//   - IDs are monotonically increasing across overwrites
//   - Newest-first reads
type MemoryAuditLog struct {
	mu     sync.RWMutex
	ring   []AuditLog
	next   int // write position
	size   int
	lastID int64
}

// NewMemoryAuditLog creates a trail holding up to capacity records.
func NewMemoryAuditLog(capacity int) *MemoryAuditLog {
	if capacity <= 0 {
		capacity = DefaultAuditCapacity
	}
	return &MemoryAuditLog{ring: make([]AuditLog, capacity)}
}

// Insert appends a record, assigning its ID.
// Complexity: O(1)
func (al *MemoryAuditLog) Insert(_ context.Context, log AuditLog) error {
	al.mu.Lock()
	defer al.mu.Unlock()

	al.lastID++
	log.ID = al.lastID
	log.Prefixes = append([]string(nil), log.Prefixes...)

	al.ring[al.next] = log
	al.next = (al.next + 1) % len(al.ring)
	if al.size < len(al.ring) {
		al.size++
	}
	return nil
}

// newestFirstUnsafe returns records newest first, optionally filtered to
// those that cleared a prefix starting with prefixFilter.
func (al *MemoryAuditLog) newestFirstUnsafe(prefixFilter string) []AuditLog {
	out := make([]AuditLog, 0, al.size)
	for i := 0; i < al.size; i++ {
		idx := (al.next - 1 - i + len(al.ring)) % len(al.ring)
		rec := al.ring[idx]
		if prefixFilter != "" && !clearedPrefix(rec, prefixFilter) {
			continue
		}
		out = append(out, rec)
	}
	return out
}

func clearedPrefix(rec AuditLog, filter string) bool {
	for _, p := range rec.Prefixes {
		if strings.HasPrefix(p, filter) {
			return true
		}
	}
	return false
}

// GetRecent retrieves recent audit logs with pagination, newest first.
func (al *MemoryAuditLog) GetRecent(_ context.Context, limit, offset int, prefixFilter string) ([]AuditLog, error) {
	al.mu.RLock()
	defer al.mu.RUnlock()

	all := al.newestFirstUnsafe(prefixFilter)
	if offset >= len(all) || limit <= 0 {
		return []AuditLog{}, nil
	}
	end := offset + limit
	if end > len(all) {
		end = len(all)
	}
	return append([]AuditLog(nil), all[offset:end]...), nil
}

// GetCount returns the number of retained records matching prefixFilter.
func (al *MemoryAuditLog) GetCount(_ context.Context, prefixFilter string) (int, error) {
	al.mu.RLock()
	defer al.mu.RUnlock()
	return len(al.newestFirstUnsafe(prefixFilter)), nil
}

// GetByRequestID returns every retained record for requestID, newest first.
func (al *MemoryAuditLog) GetByRequestID(_ context.Context, requestID string) ([]AuditLog, error) {
	al.mu.RLock()
	defer al.mu.RUnlock()

	var out []AuditLog
	for _, rec := range al.newestFirstUnsafe("") {
		if rec.RequestID == requestID {
			out = append(out, rec)
		}
	}
	return out, nil
}

// AuditStats summarizes the retained trail.
type AuditStats struct {
	Total        int
	Unmapped     int
	TotalRemoved int
	ByResource   map[string]int
}

// GetStats summarizes the retained records.
func (al *MemoryAuditLog) GetStats() AuditStats {
	al.mu.RLock()
	defer al.mu.RUnlock()

	stats := AuditStats{ByResource: make(map[string]int)}
	for _, rec := range al.newestFirstUnsafe("") {
		stats.Total++
		stats.TotalRemoved += rec.Removed
		if rec.Resource == "" {
			stats.Unmapped++
			continue
		}
		stats.ByResource[rec.Resource]++
	}
	return stats
}
