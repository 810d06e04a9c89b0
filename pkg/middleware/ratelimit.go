// Package middleware provides the client-side request middleware of the orchestrator.
//
// This file implements the rate budget: a sliding-window counter over the
// trailing window (60s in the reference configuration) that fails fast once
// the ceiling is reached.
//
// Design Notes:
//   - Fail fast: TryAdmit never blocks and never queues
//   - Timestamps are kept in admission order, so pruning pops from the front
//   - Pruning is lazy (on every check); no background goroutine
//   - Time comes from an injected clockwork.Clock for deterministic tests
//
// Algorithm:
//   - On TryAdmit, drop timestamps older than now-window
//   - If len(stamps) >= ceiling, refuse
//   - Otherwise append now and admit
//
// Complexity:
//   - TryAdmit(): O(1) amortized
//   - Memory: O(ceiling)
package middleware

import (
	"fmt"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

// Reference budget: 20 requests per 60 seconds.
const (
	DefaultRateCeiling = 20
	DefaultRateWindow  = 60 * time.Second
)

// RateBudget is a sliding-window admission counter.
//
// Example usage:
//
//	budget := NewRateBudget(20, time.Minute, clockwork.NewRealClock())
//	if !budget.TryAdmit() {
//	    return ErrRateLimitExceeded
//	}
type RateBudget struct {
	mu      sync.Mutex
	ceiling int
	window  time.Duration
	stamps  []time.Time
	clock   clockwork.Clock

	admitted int64
	rejected int64
}

// NewRateBudget creates a budget admitting at most ceiling requests per window.
// Panics on non-positive arguments.
func NewRateBudget(ceiling int, window time.Duration, clock clockwork.Clock) *RateBudget {
	if ceiling <= 0 {
		panic("ceiling must be positive")
	}
	if window <= 0 {
		panic("window must be positive")
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}

	return &RateBudget{
		ceiling: ceiling,
		window:  window,
		stamps:  make([]time.Time, 0, ceiling),
		clock:   clock,
	}
}

// TryAdmit records an admission and returns true, or returns false without
// recording anything when the window is full.
func (rb *RateBudget) TryAdmit() bool {
	rb.mu.Lock()
	defer rb.mu.Unlock()

	now := rb.clock.Now()
	rb.pruneUnsafe(now)

	if len(rb.stamps) >= rb.ceiling {
		rb.rejected++
		return false
	}

	rb.stamps = append(rb.stamps, now)
	rb.admitted++
	return true
}

// Remaining returns how many admissions the window has left right now.
func (rb *RateBudget) Remaining() int {
	rb.mu.Lock()
	defer rb.mu.Unlock()

	rb.pruneUnsafe(rb.clock.Now())
	return rb.ceiling - len(rb.stamps)
}

// RetryIn returns how long until the oldest admission leaves the window.
// Zero when there is capacity.
func (rb *RateBudget) RetryIn() time.Duration {
	rb.mu.Lock()
	defer rb.mu.Unlock()

	now := rb.clock.Now()
	rb.pruneUnsafe(now)
	if len(rb.stamps) < rb.ceiling {
		return 0
	}
	return rb.stamps[0].Add(rb.window).Sub(now)
}

// Reset forgets every recorded admission.
func (rb *RateBudget) Reset() {
	rb.mu.Lock()
	defer rb.mu.Unlock()
	rb.stamps = rb.stamps[:0]
}

// pruneUnsafe drops timestamps that have left the window.
// Must be called with mu held.
func (rb *RateBudget) pruneUnsafe(now time.Time) {
	cutoff := now.Add(-rb.window)
	drop := 0
	for drop < len(rb.stamps) && !rb.stamps[drop].After(cutoff) {
		drop++
	}
	if drop > 0 {
		rb.stamps = append(rb.stamps[:0], rb.stamps[drop:]...)
	}
}

// BudgetStats is a point-in-time view of the budget.
type BudgetStats struct {
	Ceiling  int
	Window   time.Duration
	InWindow int
	Admitted int64
	Rejected int64
}

// Stats returns current budget statistics.
func (rb *RateBudget) Stats() BudgetStats {
	rb.mu.Lock()
	defer rb.mu.Unlock()

	rb.pruneUnsafe(rb.clock.Now())
	return BudgetStats{
		Ceiling:  rb.ceiling,
		Window:   rb.window,
		InWindow: len(rb.stamps),
		Admitted: rb.admitted,
		Rejected: rb.rejected,
	}
}

// String returns a human-readable representation of the budget config.
func (rb *RateBudget) String() string {
	return fmt.Sprintf("RateBudget{ceiling=%d, window=%s}", rb.ceiling, rb.window)
}
