package reconcile

import "time"

// Metrics receives loop observations. pkg/metrics provides the Prometheus
// implementation; nil selects a no-op.
type Metrics interface {
	// ObserveRun records one tick of a loop.
	ObserveRun(loop string, duration time.Duration, err error)

	// RecordItems records the counters of a tick, e.g. ("delete", "blobs", 12).
	RecordItems(loop, counter string, n uint64)
}

type noopMetrics struct{}

func (noopMetrics) ObserveRun(string, time.Duration, error) {}
func (noopMetrics) RecordItems(string, string, uint64) {}
