package s3

import "time"

// S3Metrics receives per-operation observations from the S3 store.
//
// pkg/metrics provides the Prometheus implementation. A nil S3Metrics in
// the config selects noopMetrics.
type S3Metrics interface {
	// ObserveOperation records one S3 API call and its outcome.
	ObserveOperation(operation string, duration time.Duration, err error)

	// RecordBytes records payload bytes moved by operation ("read" or "write").
	RecordBytes(operation string, bytes int64)

	// RecordMultipartUpload records a multipart lifecycle event:
	// "initiated", "completed" or "aborted".
	RecordMultipartUpload(status string)
}

type noopMetrics struct{}

func (noopMetrics) ObserveOperation(string, time.Duration, error) {}
func (noopMetrics) RecordBytes(string, int64) {}
func (noopMetrics) RecordMultipartUpload(string) {}
