package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/marmos91/blobspace/pkg/space"
)

// storageMetrics is the Prometheus implementation of space.Metrics.
type storageMetrics struct {
	operationsTotal   *prometheus.CounterVec
	operationDuration *prometheus.HistogramVec
	optimisticRetries *prometheus.CounterVec
}

// NewStorageMetrics creates the metrics of the storage engine, or nil if
// reg is nil.
func NewStorageMetrics(reg *prometheus.Registry) space.Metrics {
	if reg == nil {
		return nil
	}

	return &storageMetrics{
		operationsTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "blobspace_space_operations_total",
				Help: "Total number of storage operations by space, operation and status",
			},
			[]string{"space", "operation", "status"},
		),
		operationDuration: promauto.With(reg).NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "blobspace_space_operation_duration_seconds",
				Help:    "Duration of storage operations in seconds",
				Buckets: durationBuckets,
			},
			[]string{"space", "operation"},
		),
		optimisticRetries: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "blobspace_space_optimistic_retries_total",
				Help: "Total number of lost uniqueness or compare-and-set races",
			},
			[]string{"space"},
		),
	}
}

// ObserveOperation implements space.Metrics.
func (m *storageMetrics) ObserveOperation(spaceName, operation string, duration time.Duration, err error) {
	m.operationsTotal.WithLabelValues(spaceName, operation, status(err)).Inc()
	m.operationDuration.WithLabelValues(spaceName, operation).Observe(duration.Seconds())
}

// RecordOptimisticRetry implements space.Metrics.
func (m *storageMetrics) RecordOptimisticRetry(spaceName string) {
	m.optimisticRetries.WithLabelValues(spaceName).Inc()
}
