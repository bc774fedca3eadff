package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/marmos91/blobspace/pkg/conversion"
	"github.com/marmos91/blobspace/pkg/space"
)

// conversionMetrics is the Prometheus implementation of conversion.Metrics.
type conversionMetrics struct {
	conversionsTotal *prometheus.CounterVec
	phaseDuration    *prometheus.HistogramVec
	queueDepth       prometheus.Gauge
}

// NewConversionMetrics creates the metrics of the conversion pipeline, or
// nil if reg is nil.
func NewConversionMetrics(reg *prometheus.Registry) conversion.Metrics {
	if reg == nil {
		return nil
	}

	return &conversionMetrics{
		conversionsTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "blobspace_conversions_total",
				Help: "Total number of finished conversion jobs by variant and outcome",
			},
			[]string{"variant", "outcome"}, // success, failure, discarded
		),
		phaseDuration: promauto.With(reg).NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "blobspace_conversion_phase_duration_seconds",
				Help:    "Duration of conversion phases (queue, conversion, transfer) in seconds",
				Buckets: durationBuckets,
			},
			[]string{"phase"},
		),
		queueDepth: promauto.With(reg).NewGauge(
			prometheus.GaugeOpts{
				Name: "blobspace_conversion_queue_depth",
				Help: "Number of conversion jobs waiting for a worker",
			},
		),
	}
}

// ObserveConversion implements conversion.Metrics.
func (m *conversionMetrics) ObserveConversion(variant, outcome string, timings space.ConversionTimings) {
	m.conversionsTotal.WithLabelValues(variant, outcome).Inc()
	m.phaseDuration.WithLabelValues("queue").Observe(timings.Queue.Seconds())
	m.phaseDuration.WithLabelValues("conversion").Observe(timings.Conversion.Seconds())
	if timings.Transfer > 0 {
		m.phaseDuration.WithLabelValues("transfer").Observe(timings.Transfer.Seconds())
	}
}

// SetQueueDepth implements conversion.Metrics.
func (m *conversionMetrics) SetQueueDepth(n int) {
	m.queueDepth.Set(float64(n))
}
