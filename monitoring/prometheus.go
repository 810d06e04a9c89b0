package monitoring

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "orchestrator"

var (
	eventsDesc = prometheus.NewDesc(
		prometheus.BuildFQName(namespace, "", "events_total"),
		"Orchestrator outcomes by event.",
		[]string{"event"}, nil,
	)
	cacheEntriesDesc = prometheus.NewDesc(
		prometheus.BuildFQName(namespace, "cache", "entries"),
		"Entries in the in-memory response cache.",
		nil, nil,
	)
	inFlightDesc = prometheus.NewDesc(
		prometheus.BuildFQName(namespace, "", "inflight_calls"),
		"Network calls currently registered for dedup.",
		nil, nil,
	)
	latencyDesc = prometheus.NewDesc(
		prometheus.BuildFQName(namespace, "network", "latency_seconds"),
		"Latency of recent network calls.",
		nil, nil,
	)
)

// PrometheusCollector exports a MetricsCollector. Values are read at scrape
// time, so nothing is duplicated on the request path.
type PrometheusCollector struct {
	mc *MetricsCollector
}

// NewPrometheusCollector wraps mc for registration with a prometheus.Registerer.
func NewPrometheusCollector(mc *MetricsCollector) *PrometheusCollector {
	return &PrometheusCollector{mc: mc}
}

// Describe implements prometheus.Collector.
func (c *PrometheusCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- eventsDesc
	ch <- cacheEntriesDesc
	ch <- inFlightDesc
	ch <- latencyDesc
}

// Collect implements prometheus.Collector.
func (c *PrometheusCollector) Collect(ch chan<- prometheus.Metric) {
	for _, t := range AllMetricTypes {
		ch <- prometheus.MustNewConstMetric(eventsDesc, prometheus.CounterValue, float64(c.mc.Count(t)), string(t))
	}

	snap := c.mc.Snapshot()
	ch <- prometheus.MustNewConstMetric(cacheEntriesDesc, prometheus.GaugeValue, float64(snap.CacheSize))
	ch <- prometheus.MustNewConstMetric(inFlightDesc, prometheus.GaugeValue, float64(snap.InFlight))

	lat := snap.Latency
	ch <- prometheus.MustNewConstSummary(latencyDesc, lat.Count, lat.Sum.Seconds(), map[float64]float64{
		0.5:  lat.P50.Seconds(),
		0.9:  lat.P90.Seconds(),
		0.95: lat.P95.Seconds(),
		0.99: lat.P99.Seconds(),
	})
}
