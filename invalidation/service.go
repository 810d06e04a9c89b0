// Package invalidation maps successful writes to the cached reads they make
// stale and clears them from the response cache.
//
// Design Philosophy:
//   - A fixed resource table decides what a write touches; nothing is inferred
//     generically, so unmapped resources are simply not invalidated
//   - Every invalidation is recorded in an in-memory audit trail and
//     published as an InvalidationEvent for in-process observers
//   - Failures to publish or audit never fail the write that triggered them
//
// Performance Characteristics:
//   - Table lookup: O(r) glob matches, r = resource rows
//   - Cache invalidation: O(n) per prefix over the bounded cache
package invalidation

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"

	"github.com/budgetly/orchestrator/pkg/middleware"
	"github.com/budgetly/orchestrator/pkg/pubsub"
)

// Sources recorded in AuditLog.TriggeredBy.
const (
	TriggeredByWrite  = "write"
	TriggeredByManual = "manual"
)

// Invalidator removes cache entries by key prefix.
type Invalidator interface {
	InvalidateByPrefix(ctx context.Context, prefix string) int
}

// Metrics tracks invalidation counters.
type Metrics struct {
	TotalInvalidations atomic.Int64 // writes processed
	Unmapped           atomic.Int64 // writes with no table row
	PrefixesCleared    atomic.Int64
	EntriesRemoved     atomic.Int64
	PubSubPublishes    atomic.Int64
	Errors             atomic.Int64
}

// Result describes one invalidation.
type Result struct {
	Resource string
	Prefixes []string
	Removed  int
}

// Option customizes a Service.
type Option func(*Service)

// WithTopic publishes an InvalidationEvent per write to topic.
func WithTopic(topic *pubsub.Topic[*pubsub.InvalidationEvent]) Option {
	return func(s *Service) { s.topic = topic }
}

// WithAuditLogger replaces the default in-memory audit trail.
func WithAuditLogger(al AuditLoggerInterface) Option {
	return func(s *Service) { s.auditLogger = al }
}

// WithLogger sets the logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(s *Service) { s.logger = logger }
}

// WithClock sets the clock used for audit timestamps.
func WithClock(clock clockwork.Clock) Option {
	return func(s *Service) { s.clock = clock }
}

// Service applies the resource table to the cache.
type Service struct {
	cache       Invalidator
	table       *ResourceTable
	auditLogger AuditLoggerInterface
	topic       *pubsub.Topic[*pubsub.InvalidationEvent]
	logger      zerolog.Logger
	clock       clockwork.Clock
	metrics     *Metrics
}

// NewService creates an invalidation service over cache. A nil table uses
// DefaultResourceTable.
func NewService(cache Invalidator, table *ResourceTable, opts ...Option) *Service {
	if table == nil {
		table = DefaultResourceTable()
	}
	s := &Service{
		cache:       cache,
		table:       table,
		auditLogger: NewMemoryAuditLog(DefaultAuditCapacity),
		logger:      zerolog.Nop(),
		clock:       clockwork.NewRealClock(),
		metrics:     &Metrics{},
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With().Str("component", "invalidation").Logger()
	return s
}

// Table returns the resource table in use.
func (s *Service) Table() *ResourceTable { return s.table }

// OnWriteSuccess invalidates every read prefix mapped to a successful write.
// Unmapped URLs are recorded and published with no prefixes.
func (s *Service) OnWriteSuccess(ctx context.Context, method, rawURL string) *Result {
	start := s.clock.Now()
	s.metrics.TotalInvalidations.Add(1)

	res, mapped := s.table.Lookup(rawURL)
	result := &Result{Resource: res.Name}
	if !mapped {
		s.metrics.Unmapped.Add(1)
	} else {
		result.Prefixes = s.table.Prefixes(rawURL)
		for _, prefix := range result.Prefixes {
			result.Removed += s.cache.InvalidateByPrefix(ctx, prefix)
		}
		s.metrics.PrefixesCleared.Add(int64(len(result.Prefixes)))
		s.metrics.EntriesRemoved.Add(int64(result.Removed))
	}

	requestID := middleware.RequestIDFromCtx(ctx)
	if requestID == "" {
		requestID = middleware.NewRequestID()
	}

	s.logger.Info().
		Str("request_id", requestID).
		Str("method", method).
		Str("url", rawURL).
		Str("resource", result.Resource).
		Strs("prefixes", result.Prefixes).
		Int("removed", result.Removed).
		Msg("cache invalidated after write")

	s.record(ctx, AuditLog{
		Method:      method,
		URL:         rawURL,
		Resource:    result.Resource,
		Prefixes:    result.Prefixes,
		Removed:     result.Removed,
		TriggeredBy: TriggeredByWrite,
		Timestamp:   start,
		RequestID:   requestID,
		Latency:     s.clock.Since(start),
	})
	s.publish(ctx, method, rawURL, requestID, result)

	return result
}

// InvalidatePrefix clears one prefix directly, bypassing the table.
func (s *Service) InvalidatePrefix(ctx context.Context, prefix string) (int, error) {
	if prefix == "" {
		return 0, errors.New("prefix cannot be empty")
	}

	start := s.clock.Now()
	removed := s.cache.InvalidateByPrefix(ctx, prefix)
	s.metrics.PrefixesCleared.Add(1)
	s.metrics.EntriesRemoved.Add(int64(removed))

	requestID := middleware.RequestIDFromCtx(ctx)
	if requestID == "" {
		requestID = middleware.NewRequestID()
	}
	s.record(ctx, AuditLog{
		Prefixes:    []string{prefix},
		Removed:     removed,
		TriggeredBy: TriggeredByManual,
		Timestamp:   start,
		RequestID:   requestID,
		Latency:     s.clock.Since(start),
	})
	return removed, nil
}

func (s *Service) record(ctx context.Context, log AuditLog) {
	if s.auditLogger == nil {
		return
	}
	if err := s.auditLogger.Insert(ctx, log); err != nil {
		s.metrics.Errors.Add(1)
		s.logger.Warn().Err(err).Str("request_id", log.RequestID).Msg("failed to write audit log")
	}
}

func (s *Service) publish(ctx context.Context, method, rawURL, requestID string, result *Result) {
	if s.topic == nil {
		return
	}
	event := &pubsub.InvalidationEvent{
		Version:     pubsub.EventVersion1,
		Method:      method,
		URL:         rawURL,
		Prefixes:    result.Prefixes,
		Removed:     result.Removed,
		TriggeredAt: s.clock.Now(),
		RequestID:   requestID,
	}
	if _, err := s.topic.Publish(ctx, event); err != nil {
		s.metrics.Errors.Add(1)
		s.logger.Warn().Err(err).Str("request_id", requestID).Msg("failed to publish invalidation event")
		return
	}
	s.metrics.PubSubPublishes.Add(1)
}

// Recent returns up to n audit records, newest first.
func (s *Service) Recent(ctx context.Context, n int) ([]AuditLog, error) {
	if s.auditLogger == nil {
		return nil, nil
	}
	return s.auditLogger.GetRecent(ctx, n, 0, "")
}

// MetricsResponse is a copy of the service counters.
type MetricsResponse struct {
	TotalInvalidations int64     `json:"total_invalidations"`
	Unmapped           int64     `json:"unmapped"`
	PrefixesCleared    int64     `json:"prefixes_cleared"`
	EntriesRemoved     int64     `json:"entries_removed"`
	PubSubPublishes    int64     `json:"pubsub_publishes"`
	Errors             int64     `json:"errors"`
	MappedRatio        float64   `json:"mapped_ratio"`
	CollectedAt        time.Time `json:"collected_at"`
}

// GetMetrics returns current invalidation metrics.
func (s *Service) GetMetrics() *MetricsResponse {
	total := s.metrics.TotalInvalidations.Load()
	unmapped := s.metrics.Unmapped.Load()

	ratio := 0.0
	if total > 0 {
		ratio = float64(total-unmapped) / float64(total)
	}

	return &MetricsResponse{
		TotalInvalidations: total,
		Unmapped:           unmapped,
		PrefixesCleared:    s.metrics.PrefixesCleared.Load(),
		EntriesRemoved:     s.metrics.EntriesRemoved.Load(),
		PubSubPublishes:    s.metrics.PubSubPublishes.Load(),
		Errors:             s.metrics.Errors.Load(),
		MappedRatio:        ratio,
		CollectedAt:        s.clock.Now(),
	}
}
