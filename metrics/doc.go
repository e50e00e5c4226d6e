// Package metrics exports task lifecycle counts, liveness monitor sizes and
// router counters to Prometheus. TaskMetrics implements tasks.Metrics.
package metrics
