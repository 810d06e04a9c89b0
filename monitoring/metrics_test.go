package monitoring

import (
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

type fixedGauges struct{ size, inflight int }

func (g fixedGauges) CacheSize() int { return g.size }
func (g fixedGauges) InFlight() int  { return g.inflight }

func TestMetricsCollector_Record(t *testing.T) {
	clock := clockwork.NewFakeClock()
	mc := NewMetricsCollector(fixedGauges{size: 4, inflight: 1}, clock)

	mc.Record(MetricCacheHit)
	mc.Record(MetricCacheHit)
	mc.Record(MetricCacheHit)
	mc.Record(MetricCacheMiss)
	mc.Add(MetricNetworkCall, 2)
	mc.Record(MetricDedupJoin)
	mc.Record(MetricType("unknown"))

	snap := mc.Snapshot()

	if snap.CacheHits != 3 || snap.CacheMisses != 1 {
		t.Errorf("hits/misses = %d/%d, want 3/1", snap.CacheHits, snap.CacheMisses)
	}
	if snap.NetworkCalls != 2 || snap.DedupJoins != 1 {
		t.Errorf("calls/joins = %d/%d, want 2/1", snap.NetworkCalls, snap.DedupJoins)
	}
	if snap.HitRate != 0.75 || snap.MissRate != 0.25 {
		t.Errorf("HitRate/MissRate = %v/%v", snap.HitRate, snap.MissRate)
	}
	if snap.CacheSize != 4 || snap.InFlight != 1 {
		t.Errorf("gauges = %d/%d, want 4/1", snap.CacheSize, snap.InFlight)
	}
	if !snap.Timestamp.Equal(clock.Now()) {
		t.Errorf("Timestamp = %v, want clock time", snap.Timestamp)
	}
	if mc.Count(MetricType("unknown")) != 0 {
		t.Error("unknown metric types must not be counted")
	}
}

func TestMetricsCollector_Latency(t *testing.T) {
	mc := NewMetricsCollector(nil, nil)

	for i := 1; i <= 100; i++ {
		mc.ObserveLatency(time.Duration(i) * time.Millisecond)
	}

	lat := mc.Snapshot().Latency
	if lat.Count != 100 {
		t.Errorf("Count = %d, want 100", lat.Count)
	}
	if lat.Min != time.Millisecond || lat.Max != 100*time.Millisecond {
		t.Errorf("Min/Max = %v/%v", lat.Min, lat.Max)
	}
	if lat.P50 < 50*time.Millisecond || lat.P50 > 51*time.Millisecond {
		t.Errorf("P50 = %v, want ~50ms", lat.P50)
	}
	if lat.P99 < 98*time.Millisecond {
		t.Errorf("P99 = %v, want >= 98ms", lat.P99)
	}
}

func TestMetricsCollector_Concurrency(t *testing.T) {
	mc := NewMetricsCollector(nil, nil)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				mc.Record(MetricNetworkCall)
				mc.ObserveLatency(time.Millisecond)
			}
		}()
	}
	wg.Wait()

	if got := mc.Count(MetricNetworkCall); got != 5000 {
		t.Errorf("NetworkCalls = %d, want 5000", got)
	}
	if got := mc.latency.Len(); got != DefaultLatencySamples {
		t.Errorf("ring length = %d, want %d", got, DefaultLatencySamples)
	}
}

func TestRingBuffer_Overflow(t *testing.T) {
	rb := NewRingBuffer(3)

	if got := rb.Samples(); len(got) != 0 {
		t.Errorf("empty ring returned %v", got)
	}

	for i := 1; i <= 5; i++ {
		rb.Add(time.Duration(i))
	}

	got := rb.Samples()
	want := []time.Duration{3, 4, 5}
	if len(got) != len(want) {
		t.Fatalf("Samples() = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("Samples() = %v, want %v (oldest first)", got, want)
			break
		}
	}
}

func TestPrometheusCollector(t *testing.T) {
	mc := NewMetricsCollector(fixedGauges{size: 7, inflight: 2}, nil)
	mc.Add(MetricCacheHit, 5)
	mc.Record(MetricRateLimited)
	mc.ObserveLatency(20 * time.Millisecond)

	c := NewPrometheusCollector(mc)

	reg := prometheus.NewPedanticRegistry()
	if err := reg.Register(c); err != nil {
		t.Fatalf("Register() error = %v", err)
	}

	if got := testutil.CollectAndCount(c, "orchestrator_events_total"); got != len(AllMetricTypes) {
		t.Errorf("events series = %d, want %d", got, len(AllMetricTypes))
	}

	expected := `
# HELP orchestrator_cache_entries Entries in the in-memory response cache.
# TYPE orchestrator_cache_entries gauge
orchestrator_cache_entries 7
# HELP orchestrator_inflight_calls Network calls currently registered for dedup.
# TYPE orchestrator_inflight_calls gauge
orchestrator_inflight_calls 2
`
	if err := testutil.CollectAndCompare(c, strings.NewReader(expected),
		"orchestrator_cache_entries", "orchestrator_inflight_calls"); err != nil {
		t.Errorf("unexpected gauges: %v", err)
	}

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather() error = %v", err)
	}
	for _, mf := range families {
		if mf.GetName() != "orchestrator_events_total" {
			continue
		}
		for _, m := range mf.GetMetric() {
			label := m.GetLabel()[0].GetValue()
			want := float64(mc.Count(MetricType(label)))
			if got := m.GetCounter().GetValue(); got != want {
				t.Errorf("events_total{event=%q} = %v, want %v", label, got, want)
			}
		}
	}
}

func BenchmarkMetricsCollector_Record(b *testing.B) {
	mc := NewMetricsCollector(nil, nil)
	b.RunParallel(func(pb *testing.PB) {
		for pb.Next() {
			mc.Record(MetricCacheHit)
		}
	})
}
