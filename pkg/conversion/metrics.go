package conversion

import "github.com/marmos91/blobspace/pkg/space"

// Metrics receives conversion observations. nil selects a no-op.
type Metrics interface {
	// ObserveConversion records one finished job. outcome is "success",
	// "failure" or "discarded".
	ObserveConversion(variant, outcome string, timings space.ConversionTimings)

	// SetQueueDepth reports the number of jobs waiting for a worker.
	SetQueueDepth(n int)
}

type noopMetrics struct{}

func (noopMetrics) ObserveConversion(string, string, space.ConversionTimings) {}
func (noopMetrics) SetQueueDepth(int) {}
