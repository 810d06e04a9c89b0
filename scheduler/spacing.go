package scheduler

import (
	"sync"
	"time"
)

// spacer enforces a minimum gap between consecutive dispatches across all
// lanes. Reservations are handed out in call order, so a burst of callers is
// spread out as last, last+gap, last+2*gap, ...
type spacer struct {
	mu   sync.Mutex
	gap  time.Duration
	last time.Time
}

func newSpacer(gap time.Duration) *spacer {
	return &spacer{gap: gap}
}

// reserve books the earliest dispatch time not before earliest and at least
// gap after the previous reservation.
func (s *spacer) reserve(earliest time.Time) time.Time {
	if s.gap <= 0 {
		return earliest
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	next := earliest
	if !s.last.IsZero() {
		if floor := s.last.Add(s.gap); floor.After(next) {
			next = floor
		}
	}
	s.last = next
	return next
}
