package config

import (
	"context"
	"errors"
	"fmt"

	"github.com/marmos91/blobspace/internal/logger"
	"github.com/marmos91/blobspace/pkg/conversion"
	"github.com/marmos91/blobspace/pkg/reconcile"
	"github.com/marmos91/blobspace/pkg/space"
	"github.com/marmos91/blobspace/pkg/store/content"
	"github.com/marmos91/blobspace/pkg/store/metadata"
)

// Runtime bundles the components built from a Config.
type Runtime struct {
	Metadata metadata.MetadataStore
	Content  content.ContentStore
	Storage  *space.Storage

	// Pipeline converts variants (nil when conversion is disabled)
	Pipeline *conversion.Pipeline

	// Touches buffers read accesses (nil when no space tracks touches)
	Touches *reconcile.TouchBuffer

	Reconciler *reconcile.Reconciler
	Metrics    *MetricsResult
}

// BuildRuntime opens the stores and wires the spaces, the conversion
// pipeline and the reconciliation loops. Nothing is started. handlers
// receive blob change notifications and may be nil.
func BuildRuntime(ctx context.Context, cfg *Config, handlers []reconcile.ChangeHandler) (*Runtime, error) {
	rt := &Runtime{Metrics: InitializeMetrics(cfg)}

	var err error
	rt.Metadata, err = CreateMetadataStore(ctx, &cfg.Metadata)
	if err != nil {
		return nil, err
	}

	rt.Content, err = CreateContentStore(ctx, &cfg.Content, rt.Metrics.S3)
	if err != nil {
		_ = rt.Metadata.Close()
		return nil, err
	}

	deps := space.Dependencies{
		Metadata: rt.Metadata,
		Content:  rt.Content,
		Node:     cfg.Storage.Node,
		Metrics:  rt.Metrics.Storage,
		Options:  cfg.Storage.Options,
	}

	if cfg.Conversion.Enabled {
		registry := conversion.DefaultRegistry()
		registry.Register("zstd", conversion.ZstdConverter{Level: cfg.Conversion.ZstdLevel})
		rt.Pipeline = conversion.NewPipeline(cfg.Conversion.Config, registry, rt.Metrics.Conversion)
		deps.Dispatcher = rt.Pipeline
	}

	for _, sp := range cfg.Spaces {
		if sp.TouchTracking {
			rt.Touches = reconcile.NewTouchBuffer(cfg.Reconcile.TouchFlushRate)
			deps.Toucher = rt.Touches
			break
		}
	}

	rt.Storage, err = space.NewStorage(deps, cfg.Spaces...)
	if err != nil {
		_ = rt.Metadata.Close()
		return nil, fmt.Errorf("failed to create storage: %w", err)
	}

	rt.Reconciler = reconcile.NewReconciler(rt.Storage, rt.Touches, handlers, cfg.Reconcile.Config, rt.Metrics.Reconcile)

	logger.Info("Storage ready: node=%s, spaces=%d, metadata=%s, content=%s, conversion=%t",
		rt.Storage.Node(), len(cfg.Spaces), cfg.Metadata.Type, cfg.Content.Type, cfg.Conversion.Enabled)
	return rt, nil
}

// Start launches the conversion workers and the reconciliation loops.
func (rt *Runtime) Start() {
	if rt.Pipeline != nil {
		rt.Pipeline.Start()
	}
	rt.Reconciler.Start()
}

// Close stops the background work, flushes buffered touches and closes
// the metadata store.
func (rt *Runtime) Close(ctx context.Context) error {
	var errs []error

	if err := rt.Reconciler.Stop(ctx); err != nil {
		errs = append(errs, err)
	}
	if rt.Pipeline != nil {
		if err := rt.Pipeline.Stop(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	if rt.Touches != nil && rt.Touches.Pending() > 0 {
		if _, err := reconcile.NewLoop(reconcile.NewTouchFlusher(rt.Touches, rt.Storage), reconcile.LoopConfig{}, nil).RunNow(ctx); err != nil {
			errs = append(errs, fmt.Errorf("failed to flush touches: %w", err))
		}
	}
	if err := rt.Metadata.Close(); err != nil {
		errs = append(errs, err)
	}

	return errors.Join(errs...)
}
