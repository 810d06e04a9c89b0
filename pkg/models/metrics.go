package models

import (
	"math"
	"sort"
	"time"
)

// MetricSnapshot represents a point-in-time snapshot of orchestrator counters.
//
// All fields are exported for direct access but should be treated as immutable
// after creation.
type MetricSnapshot struct {
	Timestamp time.Time

	// Request path counters
	NetworkCalls uint64 // Calls that reached the transport (retries included)
	CacheHits    uint64
	CacheMisses  uint64
	DedupJoins   uint64 // Callers attached to an existing in-flight call
	RateLimited  uint64 // Rejected locally by the rate budget

	// Recovery flows
	Refreshes       uint64
	RefreshFailures uint64
	PremiumRetries  uint64
	UpgradePrompts  uint64
	Throttled       uint64 // 429 responses

	// Outcomes
	Aborted       uint64
	Failures      uint64
	Invalidations uint64

	// Gauges
	CacheSize int
	InFlight  int

	Latency LatencySummary // Network latency

	// Derived
	HitRate  float64
	MissRate float64
}

// LatencySummary provides statistical summary of latency measurements.
//
// Thread Safety: Caller must synchronize access.
type LatencySummary struct {
	Count uint64
	Sum   time.Duration
	Min   time.Duration
	Max   time.Duration
	P50   time.Duration
	P90   time.Duration
	P95   time.Duration
	P99   time.Duration
}

// WithDerived fills HitRate and MissRate from the hit and miss counters.
func (m MetricSnapshot) WithDerived() MetricSnapshot {
	total := m.CacheHits + m.CacheMisses
	m.HitRate = 0
	m.MissRate = 0
	if total > 0 {
		m.HitRate = float64(m.CacheHits) / float64(total)
		m.MissRate = float64(m.CacheMisses) / float64(total)
	}
	return m
}

// TotalLookups returns the number of cache lookups.
func (m *MetricSnapshot) TotalLookups() uint64 {
	return m.CacheHits + m.CacheMisses
}

// DedupRatio returns joins per network call (0 when there were no calls).
func (m *MetricSnapshot) DedupRatio() float64 {
	if m.NetworkCalls == 0 {
		return 0
	}
	return float64(m.DedupJoins) / float64(m.NetworkCalls)
}

// CalculateLatencySummary computes latency summary from samples.
// Complexity: O(n log n) due to sorting for percentiles.
func CalculateLatencySummary(samples []time.Duration) LatencySummary {
	if len(samples) == 0 {
		return LatencySummary{}
	}

	sorted := make([]time.Duration, len(samples))
	copy(sorted, samples)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i] < sorted[j]
	})

	var sum time.Duration
	for _, sample := range sorted {
		sum += sample
	}

	return LatencySummary{
		Count: uint64(len(sorted)),
		Sum:   sum,
		Min:   sorted[0],
		Max:   sorted[len(sorted)-1],
		P50:   percentileDuration(sorted, 0.50),
		P90:   percentileDuration(sorted, 0.90),
		P95:   percentileDuration(sorted, 0.95),
		P99:   percentileDuration(sorted, 0.99),
	}
}

// AvgLatency returns the average latency.
func (ls *LatencySummary) AvgLatency() time.Duration {
	if ls.Count == 0 {
		return 0
	}
	return ls.Sum / time.Duration(ls.Count)
}

// percentileDuration calculates the p-th percentile from sorted durations.
// Assumes samples is already sorted.
func percentileDuration(samples []time.Duration, p float64) time.Duration {
	if len(samples) == 0 {
		return 0
	}

	index := p * float64(len(samples)-1)
	lower := int(math.Floor(index))
	upper := int(math.Ceil(index))

	if lower == upper {
		return samples[lower]
	}

	// Linear interpolation
	weight := index - float64(lower)
	return time.Duration(float64(samples[lower])*(1-weight) + float64(samples[upper])*weight)
}
