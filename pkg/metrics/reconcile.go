package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/marmos91/blobspace/pkg/reconcile"
)

// reconcileMetrics is the Prometheus implementation of reconcile.Metrics.
type reconcileMetrics struct {
	runsTotal   *prometheus.CounterVec
	runDuration *prometheus.HistogramVec
	itemsTotal  *prometheus.CounterVec
}

// NewReconcileMetrics creates the metrics of the reconciliation loops, or
// nil if reg is nil.
func NewReconcileMetrics(reg *prometheus.Registry) reconcile.Metrics {
	if reg == nil {
		return nil
	}

	return &reconcileMetrics{
		runsTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "blobspace_reconcile_runs_total",
				Help: "Total number of reconciliation ticks by loop and status",
			},
			[]string{"loop", "status"},
		),
		runDuration: promauto.With(reg).NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "blobspace_reconcile_run_duration_seconds",
				Help:    "Duration of reconciliation ticks in seconds",
				Buckets: durationBuckets,
			},
			[]string{"loop"},
		),
		itemsTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "blobspace_reconcile_items_total",
				Help: "Total number of items handled by loop and counter",
			},
			[]string{"loop", "counter"},
		),
	}
}

// ObserveRun implements reconcile.Metrics.
func (m *reconcileMetrics) ObserveRun(loop string, duration time.Duration, err error) {
	m.runsTotal.WithLabelValues(loop, status(err)).Inc()
	m.runDuration.WithLabelValues(loop).Observe(duration.Seconds())
}

// RecordItems implements reconcile.Metrics.
func (m *reconcileMetrics) RecordItems(loop, counter string, n uint64) {
	m.itemsTotal.WithLabelValues(loop, counter).Add(float64(n))
}
