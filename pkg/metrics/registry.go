// Package metrics provides the Prometheus implementations of the metrics
// interfaces declared by pkg/space, pkg/reconcile, pkg/conversion and the
// S3 content store.
//
// Every constructor takes the registry to register with and returns nil
// when it is nil, which the components treat as "metrics disabled":
//
//	metrics.InitRegistry()
//	deps.Metrics = metrics.NewStorageMetrics(metrics.GetRegistry())
package metrics

import (
	"errors"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/marmos91/blobspace/pkg/space"
)

var (
	// registry is the process-wide registry, written once by InitRegistry
	registry     *prometheus.Registry
	registryOnce sync.Once
)

// NewRegistry creates a registry with the Go runtime and process
// collectors registered.
func NewRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg
}

// InitRegistry creates the process-wide registry. Subsequent calls are
// ignored.
func InitRegistry() {
	registryOnce.Do(func() {
		registry = NewRegistry()
	})
}

// GetRegistry returns the process-wide registry, or nil if InitRegistry
// was not called.
func GetRegistry() *prometheus.Registry {
	return registry
}

// IsEnabled reports whether InitRegistry was called.
func IsEnabled() bool {
	return GetRegistry() != nil
}

// durationBuckets covers fast metadata calls up to slow conversions.
var durationBuckets = []float64{
	0.001, // 1ms
	0.005, // 5ms
	0.01,  // 10ms
	0.05,  // 50ms
	0.1,   // 100ms
	0.5,   // 500ms
	1.0,   // 1s
	5.0,   // 5s
	30.0,  // 30s
	120.0, // 2min
	600.0, // 10min
}

// status renders the outcome label of an operation. Engine errors are
// labelled with their code.
func status(err error) string {
	if err == nil {
		return "success"
	}
	var spaceErr *space.Error
	if errors.As(err, &spaceErr) {
		return spaceErr.Code.String()
	}
	return "error"
}
