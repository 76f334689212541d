package metrics

import (
	"github.com/medview/pyraload/pkg/scheduler"
)

// NewSchedulerMetrics creates a Prometheus-backed scheduler.Metrics instance.
//
// Returns nil if metrics are not enabled (InitRegistry not called).
// When nil is returned, callers should leave scheduler.Deps.Metrics nil,
// which results in zero overhead.
//
// Example usage:
//
//	metrics.InitRegistry()
//	sched, err := scheduler.New(scheduler.Deps{
//		...
//		Metrics: metrics.NewSchedulerMetrics(),
//	}, cfg)
func NewSchedulerMetrics() scheduler.Metrics {
	if !IsEnabled() || newPrometheusSchedulerMetrics == nil {
		return nil
	}
	return newPrometheusSchedulerMetrics()
}

// newPrometheusSchedulerMetrics is implemented in
// pkg/metrics/prometheus/scheduler.go. This indirection avoids import cycles
// while keeping the API clean.
var newPrometheusSchedulerMetrics func() scheduler.Metrics

// RegisterSchedulerMetricsConstructor registers the Prometheus scheduler
// metrics constructor. Called by pkg/metrics/prometheus during package
// initialization.
func RegisterSchedulerMetricsConstructor(constructor func() scheduler.Metrics) {
	newPrometheusSchedulerMetrics = constructor
}
