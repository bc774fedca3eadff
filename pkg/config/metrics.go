package config

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/marmos91/blobspace/pkg/conversion"
	"github.com/marmos91/blobspace/pkg/metrics"
	"github.com/marmos91/blobspace/pkg/reconcile"
	"github.com/marmos91/blobspace/pkg/space"
	"github.com/marmos91/blobspace/pkg/store/content/s3"
)

// MetricsResult contains all metrics-related components created from configuration.
//
// When metrics are disabled every collector is nil, which the components
// treat as a no-op.
type MetricsResult struct {
	// Registry collects every metric (nil if disabled)
	Registry *prometheus.Registry

	// Server is the HTTP server exposing the registry (nil if disabled)
	Server *metrics.Server

	Storage    space.Metrics
	Reconcile  reconcile.Metrics
	Conversion conversion.Metrics
	S3         s3.S3Metrics
}

// InitializeMetrics creates the metrics components selected by the
// configuration.
func InitializeMetrics(cfg *Config) *MetricsResult {
	if !cfg.Server.Metrics.Enabled {
		return &MetricsResult{}
	}

	metrics.InitRegistry()
	reg := metrics.GetRegistry()

	return &MetricsResult{
		Registry:   reg,
		Server:     metrics.NewServer(metrics.ServerConfig{Port: cfg.Server.Metrics.Port}, reg),
		Storage:    metrics.NewStorageMetrics(reg),
		Reconcile:  metrics.NewReconcileMetrics(reg),
		Conversion: metrics.NewConversionMetrics(reg),
		S3:         metrics.NewS3Metrics(reg),
	}
}
