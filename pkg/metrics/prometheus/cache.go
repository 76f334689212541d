// Package prometheus provides the Prometheus implementations of the metric
// interfaces consumed by the engine components. Importing it registers the
// constructors with pkg/metrics.
package prometheus

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/medview/pyraload/pkg/cache"
	"github.com/medview/pyraload/pkg/metrics"
)

func init() {
	metrics.RegisterCacheMetricsConstructor(NewCacheMetrics)
}

// cacheMetrics is the Prometheus implementation of cache.Metrics.
type cacheMetrics struct {
	lookups      *prometheus.CounterVec
	putBytes     prometheus.Histogram
	evictions    prometheus.Counter
	evictedBytes prometheus.Counter
	sizeBytes    prometheus.Gauge
	entries      prometheus.Gauge
}

// NewCacheMetrics creates a Prometheus-backed cache.Metrics instance.
//
// Returns nil if metrics are not enabled (InitRegistry not called).
func NewCacheMetrics() cache.Metrics {
	if !metrics.IsEnabled() {
		return nil
	}

	reg := metrics.GetRegistry()

	return &cacheMetrics{
		lookups: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "pyraload_cache_lookups_total",
				Help: "Total number of cache lookups by outcome",
			},
			[]string{"outcome"}, // "hit", "miss"
		),
		putBytes: promauto.With(reg).NewHistogram(
			prometheus.HistogramOpts{
				Name: "pyraload_cache_put_bytes",
				Help: "Distribution of payload sizes stored in the cache",
				Buckets: []float64{
					4096,     // 4KB - thumbnail levels
					32768,    // 32KB
					131072,   // 128KB
					524288,   // 512KB
					1048576,  // 1MB
					4194304,  // 4MB - typical full-quality slice
					16777216, // 16MB
				},
			},
		),
		evictions: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{
				Name: "pyraload_cache_evictions_total",
				Help: "Total number of entries evicted to satisfy the byte budget",
			},
		),
		evictedBytes: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{
				Name: "pyraload_cache_evicted_bytes_total",
				Help: "Total bytes reclaimed by eviction",
			},
		),
		sizeBytes: promauto.With(reg).NewGauge(
			prometheus.GaugeOpts{
				Name: "pyraload_cache_size_bytes",
				Help: "Current cache size in bytes",
			},
		),
		entries: promauto.With(reg).NewGauge(
			prometheus.GaugeOpts{
				Name: "pyraload_cache_entries",
				Help: "Current number of cached level payloads",
			},
		),
	}
}

func (m *cacheMetrics) ObserveGet(hit bool) {
	if m == nil {
		return
	}
	outcome := "miss"
	if hit {
		outcome = "hit"
	}
	m.lookups.WithLabelValues(outcome).Inc()
}

func (m *cacheMetrics) ObservePut(bytes int64) {
	if m == nil {
		return
	}
	m.putBytes.Observe(float64(bytes))
}

func (m *cacheMetrics) ObserveEviction(bytes int64) {
	if m == nil {
		return
	}
	m.evictions.Inc()
	m.evictedBytes.Add(float64(bytes))
}

func (m *cacheMetrics) SetSize(bytes int64, entries int) {
	if m == nil {
		return
	}
	m.sizeBytes.Set(float64(bytes))
	m.entries.Set(float64(entries))
}
