package middleware

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
)

func TestRateBudget_TwentyFirstRejected(t *testing.T) {
	clock := clockwork.NewFakeClock()
	rb := NewRateBudget(20, 60*time.Second, clock)

	// 20 requests within one second are admitted
	for i := 0; i < 20; i++ {
		if !rb.TryAdmit() {
			t.Fatalf("Request %d should be admitted", i+1)
		}
		clock.Advance(40 * time.Millisecond)
	}

	// 21st is refused
	if rb.TryAdmit() {
		t.Error("Request 21 should be refused (window full)")
	}

	stats := rb.Stats()
	if stats.Admitted != 20 || stats.Rejected != 1 {
		t.Errorf("Stats = %+v, want 20 admitted / 1 rejected", stats)
	}
	if stats.InWindow != 20 {
		t.Errorf("InWindow = %d, want 20 (rejections are not recorded)", stats.InWindow)
	}
}

func TestRateBudget_WindowSlides(t *testing.T) {
	clock := clockwork.NewFakeClock()
	rb := NewRateBudget(3, 60*time.Second, clock)

	rb.TryAdmit() // t=0
	clock.Advance(10 * time.Second)
	rb.TryAdmit() // t=10
	rb.TryAdmit() // t=10

	if rb.TryAdmit() {
		t.Fatal("Budget should be exhausted")
	}

	if got := rb.RetryIn(); got != 50*time.Second {
		t.Errorf("RetryIn() = %v, want 50s", got)
	}

	// At t=60 the first admission is exactly one window old and leaves
	clock.Advance(50 * time.Second)
	if rb.Remaining() != 1 {
		t.Errorf("Remaining() = %d, want 1", rb.Remaining())
	}
	if !rb.TryAdmit() {
		t.Error("Request should be admitted after the oldest entry left the window")
	}
	if rb.TryAdmit() {
		t.Error("Window should be full again")
	}

	clock.Advance(10 * time.Second)
	if rb.Remaining() != 2 {
		t.Errorf("Remaining() = %d, want 2", rb.Remaining())
	}
}

func TestRateBudget_Reset(t *testing.T) {
	rb := NewRateBudget(2, time.Minute, clockwork.NewFakeClock())
	rb.TryAdmit()
	rb.TryAdmit()

	if rb.TryAdmit() {
		t.Fatal("Should be refused before reset")
	}

	rb.Reset()

	if !rb.TryAdmit() {
		t.Error("Should be admitted after reset")
	}
}

func TestRateBudget_Concurrent(t *testing.T) {
	rb := NewRateBudget(50, time.Minute, clockwork.NewFakeClock())

	var wg sync.WaitGroup
	var admitted, refused atomic.Int32

	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 20; j++ {
				if rb.TryAdmit() {
					admitted.Add(1)
				} else {
					refused.Add(1)
				}
			}
		}()
	}
	wg.Wait()

	if admitted.Load() != 50 {
		t.Errorf("Admitted = %d, want exactly 50", admitted.Load())
	}
	if refused.Load() != 150 {
		t.Errorf("Refused = %d, want 150", refused.Load())
	}
}

func TestNewRateBudget_InvalidArgs(t *testing.T) {
	tests := []struct {
		name    string
		ceiling int
		window  time.Duration
	}{
		{"zero ceiling", 0, time.Minute},
		{"negative window", 5, -time.Second},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			defer func() {
				if recover() == nil {
					t.Error("NewRateBudget() should panic")
				}
			}()
			NewRateBudget(tt.ceiling, tt.window, nil)
		})
	}
}

func TestRateBudget_String(t *testing.T) {
	rb := NewRateBudget(DefaultRateCeiling, DefaultRateWindow, nil)
	if got := rb.String(); got != "RateBudget{ceiling=20, window=1m0s}" {
		t.Errorf("String() = %q", got)
	}
}
