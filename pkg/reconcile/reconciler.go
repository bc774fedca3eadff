package reconcile

import (
	"context"
	"errors"
	"time"

	"github.com/marmos91/blobspace/internal/logger"
	"github.com/marmos91/blobspace/pkg/space"
)

// Config configures the loops of a Reconciler.
type Config struct {
	// Enabled starts the loops in the background (default: false)
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`

	// DeleteInterval is the tick of the delete sweep (default: 1m)
	DeleteInterval time.Duration `mapstructure:"delete_interval" yaml:"delete_interval"`

	// ChangeInterval is the tick of the change processor (default: 30s)
	ChangeInterval time.Duration `mapstructure:"change_interval" yaml:"change_interval"`

	// RetentionInterval is the tick of the retention sweep (default: 1h)
	RetentionInterval time.Duration `mapstructure:"retention_interval" yaml:"retention_interval"`

	// TouchInterval is the tick of the touch flush (default: 1m)
	TouchInterval time.Duration `mapstructure:"touch_interval" yaml:"touch_interval"`

	// RunTimeout bounds a single tick (default: 10m)
	RunTimeout time.Duration `mapstructure:"run_timeout" yaml:"run_timeout"`

	// BatchSize bounds the rows selected per space and tick (default: 256)
	BatchSize int `mapstructure:"batch_size" yaml:"batch_size" validate:"omitempty,gte=1"`

	// TemporaryGrace is the lifetime of unused temporary blobs (default: 4h)
	TemporaryGrace time.Duration `mapstructure:"temporary_grace" yaml:"temporary_grace"`
}

// ApplyDefaults fills unset fields.
func (c *Config) ApplyDefaults() {
	if c.DeleteInterval <= 0 {
		c.DeleteInterval = time.Minute
	}
	if c.ChangeInterval <= 0 {
		c.ChangeInterval = 30 * time.Second
	}
	if c.RetentionInterval <= 0 {
		c.RetentionInterval = time.Hour
	}
	if c.TouchInterval <= 0 {
		c.TouchInterval = time.Minute
	}
	if c.RunTimeout <= 0 {
		c.RunTimeout = 10 * time.Minute
	}
	if c.BatchSize <= 0 {
		c.BatchSize = DefaultBatchSize
	}
	if c.TemporaryGrace <= 0 {
		c.TemporaryGrace = DefaultTemporaryGrace
	}
}

// Reconciler bundles the loops of every space of a Storage.
type Reconciler struct {
	loops []*Loop
}

// NewReconciler builds the delete, change, retention and (with a touch
// buffer) touch loops over every space of storage.
func NewReconciler(storage *space.Storage, touches *TouchBuffer, handlers []ChangeHandler, cfg Config, metrics Metrics) *Reconciler {
	cfg.ApplyDefaults()
	spaces := storage.Spaces()

	loop := func(task Task, interval time.Duration) *Loop {
		return NewLoop(task, LoopConfig{Enabled: cfg.Enabled, Interval: interval, Timeout: cfg.RunTimeout}, metrics)
	}

	r := &Reconciler{
		loops: []*Loop{
			loop(NewChangeProcessor(spaces, handlers, cfg.BatchSize), cfg.ChangeInterval),
			loop(NewRetentionSweeper(spaces, cfg.TemporaryGrace), cfg.RetentionInterval),
			loop(NewDeleteSweeper(spaces, cfg.BatchSize), cfg.DeleteInterval),
		},
	}
	if touches != nil {
		r.loops = append(r.loops, loop(NewTouchFlusher(touches, storage), cfg.TouchInterval))
	}
	return r
}

// Loops returns the loops in execution order of RunOnce.
func (r *Reconciler) Loops() []*Loop {
	return r.loops
}

// Start launches every loop.
func (r *Reconciler) Start() {
	for _, l := range r.loops {
		l.Start()
	}
}

// Stop stops every loop, waiting at most until ctx expires.
func (r *Reconciler) Stop(ctx context.Context) error {
	var errs []error
	for _, l := range r.loops {
		if err := l.Stop(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// RunOnce runs one tick of every loop, in order. A failing loop does not
// prevent the others from running.
func (r *Reconciler) RunOnce(ctx context.Context) ([]*Stats, error) {
	var (
		all  []*Stats
		errs []error
	)
	for _, l := range r.loops {
		stats, err := l.RunNow(ctx)
		all = append(all, stats)
		if err != nil {
			logger.Error("Reconcile[%s]: run failed: %v", l.Name(), err)
			errs = append(errs, err)
			continue
		}
		logger.Info("Reconcile[%s]: %s", l.Name(), stats.Summary())
	}
	return all, errors.Join(errs...)
}
