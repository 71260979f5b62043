// Package metrics exports reconciler outcomes as Prometheus metrics.
package metrics

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// DefaultNamespace prefixes every metric name.
const DefaultNamespace = "schema_reconciler"

// Recorder implements migration.Observer on a private Prometheus registry.
type Recorder struct {
	registry *prometheus.Registry

	runs          *prometheus.CounterVec
	pending       prometheus.Gauge
	unexpected    prometheus.Gauge
	lastRun       *prometheus.GaugeVec
	applied       prometheus.Counter
	applyDuration prometheus.Histogram
}

// NewRecorder creates a Recorder. An empty namespace uses DefaultNamespace.
func NewRecorder(namespace string) *Recorder {
	if namespace == "" {
		namespace = DefaultNamespace
	}
	reg := prometheus.NewRegistry()

	r := &Recorder{
		registry: reg,
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "runs_total",
			Help:      "Reconciler runs by operation and result",
		}, []string{"operation", "result"}),
		pending: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "pending_migrations",
			Help:      "Declared migrations without a recorded execution at the end of the last run",
		}),
		unexpected: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "unexpected_migrations",
			Help:      "Recorded executions without a declared migration at the end of the last run",
		}),
		lastRun: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_run_timestamp_seconds",
			Help:      "Unix time of the last run by operation",
		}, []string{"operation"}),
		applied: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "migrations_applied_total",
			Help:      "Migrations applied successfully",
		}),
		applyDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "migration_apply_duration_seconds",
			Help:      "Duration of individual migration transactions in seconds",
			Buckets:   prometheus.DefBuckets,
		}),
	}

	reg.MustRegister(r.runs, r.pending, r.unexpected, r.lastRun, r.applied, r.applyDuration)
	return r
}

// ReconcileFinished records the outcome of one reconciler operation.
func (r *Recorder) ReconcileFinished(operation, result string, pending, unexpected int) {
	r.runs.WithLabelValues(operation, result).Inc()
	r.pending.Set(float64(pending))
	r.unexpected.Set(float64(unexpected))
	r.lastRun.WithLabelValues(operation).SetToCurrentTime()
}

// MigrationApplied records one applied migration.
func (r *Recorder) MigrationApplied(version string, d time.Duration) {
	r.applied.Inc()
	r.applyDuration.Observe(d.Seconds())
}

// Registry exposes the underlying registry, e.g. for an HTTP handler.
func (r *Recorder) Registry() *prometheus.Registry {
	return r.registry
}

// WriteTextfile writes all metrics to path in the text exposition format,
// for the node_exporter textfile collector. The write is atomic.
func (r *Recorder) WriteTextfile(path string) error {
	if err := prometheus.WriteToTextfile(path, r.registry); err != nil {
		return fmt.Errorf("write metrics to %s: %w", path, err)
	}
	return nil
}
