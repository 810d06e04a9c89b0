// Package monitoring counts orchestrator outcomes and exposes them as a
// models.MetricSnapshot and as a Prometheus collector.
//
// Design: atomic counters for every outcome, plus a bounded ring of recent
// network latencies for percentiles. Recording is O(1) and never blocks the
// request path for longer than the ring's short critical section.
//
// Memory: the latency ring holds the last LatencySamples observations; older
// samples are overwritten.
package monitoring

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/budgetly/orchestrator/pkg/models"
)

// MetricType names one countable orchestrator outcome.
type MetricType string

const (
	MetricNetworkCall    MetricType = "network_call"
	MetricCacheHit       MetricType = "cache_hit"
	MetricCacheMiss      MetricType = "cache_miss"
	MetricDedupJoin      MetricType = "dedup_join"
	MetricRateLimited    MetricType = "rate_limited"
	MetricRefresh        MetricType = "refresh"
	MetricRefreshFailure MetricType = "refresh_failure"
	MetricPremiumRetry   MetricType = "premium_retry"
	MetricUpgradePrompt  MetricType = "upgrade_prompt"
	MetricThrottled      MetricType = "throttled"
	MetricAborted        MetricType = "aborted"
	MetricFailure        MetricType = "failure"
	MetricInvalidation   MetricType = "invalidation"
)

// AllMetricTypes lists every MetricType in export order.
var AllMetricTypes = []MetricType{
	MetricNetworkCall,
	MetricCacheHit,
	MetricCacheMiss,
	MetricDedupJoin,
	MetricRateLimited,
	MetricRefresh,
	MetricRefreshFailure,
	MetricPremiumRetry,
	MetricUpgradePrompt,
	MetricThrottled,
	MetricAborted,
	MetricFailure,
	MetricInvalidation,
}

// DefaultLatencySamples bounds the latency ring.
const DefaultLatencySamples = 1024

// Gauges supplies point-in-time values owned by other components.
type Gauges interface {
	CacheSize() int
	InFlight() int
}

// MetricsCollector collects orchestrator counters.
type MetricsCollector struct {
	counters map[MetricType]*atomic.Uint64
	latency  *RingBuffer
	gauges   Gauges
	clock    clockwork.Clock
}

// NewMetricsCollector creates a collector. gauges may be nil.
func NewMetricsCollector(gauges Gauges, clock clockwork.Clock) *MetricsCollector {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	mc := &MetricsCollector{
		counters: make(map[MetricType]*atomic.Uint64, len(AllMetricTypes)),
		latency:  NewRingBuffer(DefaultLatencySamples),
		gauges:   gauges,
		clock:    clock,
	}
	// The map is never written after construction, so reads need no lock.
	for _, t := range AllMetricTypes {
		mc.counters[t] = new(atomic.Uint64)
	}
	return mc
}

// Record increments the counter for t by one. Unknown types are ignored.
func (mc *MetricsCollector) Record(t MetricType) {
	mc.Add(t, 1)
}

// Add increments the counter for t by n.
func (mc *MetricsCollector) Add(t MetricType, n uint64) {
	if c, ok := mc.counters[t]; ok {
		c.Add(n)
	}
}

// Count returns the current value for t.
func (mc *MetricsCollector) Count(t MetricType) uint64 {
	if c, ok := mc.counters[t]; ok {
		return c.Load()
	}
	return 0
}

// ObserveLatency records the duration of one network call.
func (mc *MetricsCollector) ObserveLatency(d time.Duration) {
	mc.latency.Add(d)
}

// Snapshot returns the current counters, gauges and latency summary.
func (mc *MetricsCollector) Snapshot() models.MetricSnapshot {
	snap := models.MetricSnapshot{
		Timestamp:       mc.clock.Now(),
		NetworkCalls:    mc.Count(MetricNetworkCall),
		CacheHits:       mc.Count(MetricCacheHit),
		CacheMisses:     mc.Count(MetricCacheMiss),
		DedupJoins:      mc.Count(MetricDedupJoin),
		RateLimited:     mc.Count(MetricRateLimited),
		Refreshes:       mc.Count(MetricRefresh),
		RefreshFailures: mc.Count(MetricRefreshFailure),
		PremiumRetries:  mc.Count(MetricPremiumRetry),
		UpgradePrompts:  mc.Count(MetricUpgradePrompt),
		Throttled:       mc.Count(MetricThrottled),
		Aborted:         mc.Count(MetricAborted),
		Failures:        mc.Count(MetricFailure),
		Invalidations:   mc.Count(MetricInvalidation),
		Latency:         models.CalculateLatencySummary(mc.latency.Samples()),
	}
	if mc.gauges != nil {
		snap.CacheSize = mc.gauges.CacheSize()
		snap.InFlight = mc.gauges.InFlight()
	}
	return snap.WithDerived()
}

// RingBuffer keeps the most recent latency samples.
//
// Complexity: Add O(1), Samples O(n) where n = buffer size.
type RingBuffer struct {
	mu     sync.Mutex
	buffer []time.Duration
	next   int
	full   bool
}

// NewRingBuffer creates a ring holding up to size samples.
func NewRingBuffer(size int) *RingBuffer {
	if size <= 0 {
		size = DefaultLatencySamples
	}
	return &RingBuffer{buffer: make([]time.Duration, size)}
}

// Add stores a sample, overwriting the oldest once full.
func (rb *RingBuffer) Add(d time.Duration) {
	rb.mu.Lock()
	rb.buffer[rb.next] = d
	rb.next = (rb.next + 1) % len(rb.buffer)
	if rb.next == 0 {
		rb.full = true
	}
	rb.mu.Unlock()
}

// Samples returns the retained samples, oldest first.
func (rb *RingBuffer) Samples() []time.Duration {
	rb.mu.Lock()
	defer rb.mu.Unlock()

	if !rb.full {
		return append([]time.Duration(nil), rb.buffer[:rb.next]...)
	}
	out := make([]time.Duration, 0, len(rb.buffer))
	out = append(out, rb.buffer[rb.next:]...)
	return append(out, rb.buffer[:rb.next]...)
}

// Len returns the number of retained samples.
func (rb *RingBuffer) Len() int {
	rb.mu.Lock()
	defer rb.mu.Unlock()
	if rb.full {
		return len(rb.buffer)
	}
	return rb.next
}
