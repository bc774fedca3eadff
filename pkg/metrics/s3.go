package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/marmos91/blobspace/pkg/store/content/s3"
)

// s3Metrics is the Prometheus implementation of s3.S3Metrics.
type s3Metrics struct {
	operationsTotal   *prometheus.CounterVec
	operationDuration *prometheus.HistogramVec
	bytesTransferred  *prometheus.CounterVec
	multipartUploads  *prometheus.CounterVec
}

// NewS3Metrics creates the metrics of the S3 content store, or nil if reg
// is nil.
func NewS3Metrics(reg *prometheus.Registry) s3.S3Metrics {
	if reg == nil {
		return nil // the store falls back to its no-op metrics
	}

	return &s3Metrics{
		operationsTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "blobspace_s3_operations_total",
				Help: "Total number of S3 operations by operation type and status",
			},
			[]string{"operation", "status"},
		),
		operationDuration: promauto.With(reg).NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "blobspace_s3_operation_duration_seconds",
				Help:    "Duration of S3 operations in seconds",
				Buckets: durationBuckets,
			},
			[]string{"operation"},
		),
		bytesTransferred: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "blobspace_s3_bytes_transferred_total",
				Help: "Total bytes transferred in S3 operations",
			},
			[]string{"operation"}, // read or write
		),
		multipartUploads: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "blobspace_s3_multipart_uploads_total",
				Help: "Total number of S3 multipart uploads by status",
			},
			[]string{"status"}, // initiated, completed, aborted
		),
	}
}

// ObserveOperation implements s3.S3Metrics.
func (m *s3Metrics) ObserveOperation(operation string, duration time.Duration, err error) {
	st := "success"
	if err != nil {
		st = "error"
	}
	m.operationsTotal.WithLabelValues(operation, st).Inc()
	m.operationDuration.WithLabelValues(operation).Observe(duration.Seconds())
}

// RecordBytes implements s3.S3Metrics.
func (m *s3Metrics) RecordBytes(operation string, bytes int64) {
	m.bytesTransferred.WithLabelValues(operation).Add(float64(bytes))
}

// RecordMultipartUpload implements s3.S3Metrics.
func (m *s3Metrics) RecordMultipartUpload(st string) {
	m.multipartUploads.WithLabelValues(st).Inc()
}
