// Package conversion executes variant conversions claimed by pkg/space.
//
// A Pipeline is the space.Dispatcher of a process: Dispatch enqueues the
// job and returns, a fixed set of workers picks jobs up, converts the blob
// content with the Converter registered for the variant name, stores the
// result under a fresh physical key and records the outcome on the
// variant row.
//
// Jobs still queued when the pipeline stops are dropped. Their variants
// stay queued and are claimed again once the hanging-conversion interval
// of the space has passed.
package conversion

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"sync"
	"time"

	"github.com/marmos91/blobspace/internal/logger"
	"github.com/marmos91/blobspace/pkg/space"
	"github.com/marmos91/blobspace/pkg/store/content"
)

var (
	// ErrQueueFull is returned by Dispatch when every queue slot is taken.
	ErrQueueFull = errors.New("conversion queue is full")

	// ErrStopped is returned by Dispatch after Stop.
	ErrStopped = errors.New("conversion pipeline is stopped")

	// ErrNoConverter is returned by Dispatch for a variant name without a
	// registered converter.
	ErrNoConverter = errors.New("no converter registered")
)

// Config configures a Pipeline.
type Config struct {
	// Workers is the number of concurrent conversions (default: 2)
	Workers int `mapstructure:"workers" yaml:"workers" validate:"omitempty,gte=1"`

	// QueueSize bounds the jobs waiting for a worker (default: 64)
	QueueSize int `mapstructure:"queue_size" yaml:"queue_size" validate:"omitempty,gte=1"`

	// Timeout bounds a single conversion, including its transfers (default: 10m)
	Timeout time.Duration `mapstructure:"timeout" yaml:"timeout"`

	// TempDir holds converted bytes before they are stored. Empty selects
	// the system temporary directory.
	TempDir string `mapstructure:"temp_dir" yaml:"temp_dir"`
}

// ApplyDefaults fills unset fields.
func (c *Config) ApplyDefaults() {
	if c.Workers <= 0 {
		c.Workers = 2
	}
	if c.QueueSize <= 0 {
		c.QueueSize = 64
	}
	if c.Timeout <= 0 {
		c.Timeout = 10 * time.Minute
	}
}

// Pipeline is a bounded worker pool implementing space.Dispatcher.
//
// Thread Safety: Safe for concurrent use.
type Pipeline struct {
	cfg        Config
	converters *Registry
	metrics    Metrics

	jobs chan space.ConversionJob

	mu      sync.RWMutex
	stopped bool

	ctx    context.Context
	cancel context.CancelFunc
	quit   chan struct{}
	wg     sync.WaitGroup

	startOnce sync.Once
	stopOnce  sync.Once
}

var _ space.Dispatcher = (*Pipeline)(nil)

// NewPipeline creates a pipeline. Call Start to launch the workers.
func NewPipeline(cfg Config, converters *Registry, metrics Metrics) *Pipeline {
	cfg.ApplyDefaults()
	if converters == nil {
		converters = DefaultRegistry()
	}
	if metrics == nil {
		metrics = noopMetrics{}
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Pipeline{
		cfg:        cfg,
		converters: converters,
		metrics:    metrics,
		jobs:       make(chan space.ConversionJob, cfg.QueueSize),
		ctx:        ctx,
		cancel:     cancel,
		quit:       make(chan struct{}),
	}
}

// Start launches the workers. Subsequent calls are no-ops.
func (p *Pipeline) Start() {
	p.startOnce.Do(func() {
		logger.Info("Conversion: starting %d worker(s), queue size %d", p.cfg.Workers, p.cfg.QueueSize)
		for i := 0; i < p.cfg.Workers; i++ {
			p.wg.Add(1)
			go p.worker(i)
		}
	})
}

// Stop refuses new jobs and waits for running conversions. When ctx
// expires first, running conversions are cancelled and ctx.Err() is
// returned once they have returned.
func (p *Pipeline) Stop(ctx context.Context) error {
	var err error
	p.stopOnce.Do(func() {
		p.mu.Lock()
		p.stopped = true
		p.mu.Unlock()
		close(p.quit)

		done := make(chan struct{})
		go func() {
			p.wg.Wait()
			close(done)
		}()

		select {
		case <-done:
		case <-ctx.Done():
			p.cancel()
			<-done
			err = ctx.Err()
		}
		p.cancel()

		if dropped := len(p.jobs); dropped > 0 {
			logger.Warn("Conversion: dropped %d queued job(s) on shutdown", dropped)
		}
		logger.Info("Conversion: stopped")
	})
	return err
}

// Dispatch implements space.Dispatcher. It never blocks: a full queue
// fails the dispatch, which the space records as a failed attempt.
func (p *Pipeline) Dispatch(_ context.Context, job space.ConversionJob) error {
	if _, ok := p.converters.Lookup(job.Variant.VariantName); !ok {
		return fmt.Errorf("variant %q: %w", job.Variant.VariantName, ErrNoConverter)
	}

	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.stopped {
		return ErrStopped
	}

	select {
	case p.jobs <- job:
		p.metrics.SetQueueDepth(len(p.jobs))
		return nil
	default:
		return ErrQueueFull
	}
}

// Pending returns the number of queued jobs.
func (p *Pipeline) Pending() int {
	return len(p.jobs)
}

func (p *Pipeline) worker(id int) {
	defer p.wg.Done()
	logger.Debug("Conversion: worker %d started", id)

	for {
		select {
		case <-p.quit:
			logger.Debug("Conversion: worker %d stopped", id)
			return
		case job := <-p.jobs:
			p.metrics.SetQueueDepth(len(p.jobs))
			p.Process(p.ctx, job)
		}
	}
}

// Process runs one job to completion and records its outcome. Workers
// call it; it is exported for callers that convert synchronously.
func (p *Pipeline) Process(ctx context.Context, job space.ConversionJob) {
	sp := job.Space
	variant := job.Variant
	timings := space.ConversionTimings{Queue: sp.Now().Sub(job.QueuedAt)}
	if timings.Queue < 0 {
		timings.Queue = 0
	}

	ctx, cancel := context.WithTimeout(ctx, p.cfg.Timeout)
	defer cancel()

	result, err := p.convert(ctx, job, &timings)
	if err != nil {
		logger.Warn("Conversion: space %s: variant %s of blob %s failed: %v",
			sp.Name(), variant.VariantName, job.Blob.BlobKey, err)
		p.recordFailure(sp, job, timings)
		p.metrics.ObserveConversion(variant.VariantName, "failure", timings)
		return
	}

	recorded, err := sp.RecordConversionSuccess(ctx, variant, result)
	if err != nil || !recorded {
		if err != nil {
			logger.Warn("Conversion: space %s: failed to record variant %s of blob %s: %v",
				sp.Name(), variant.VariantName, job.Blob.BlobKey, err)
			p.recordFailure(sp, job, timings)
		} else {
			logger.Debug("Conversion: space %s: variant %s of blob %s vanished, discarding result",
				sp.Name(), variant.VariantName, job.Blob.BlobKey)
		}
		p.discard(sp, result.PhysicalKey)
		p.metrics.ObserveConversion(variant.VariantName, "discarded", timings)
		return
	}

	logger.Debug("Conversion: space %s: variant %s of blob %s converted (%d bytes)",
		sp.Name(), variant.VariantName, job.Blob.BlobKey, result.Size)
	p.metrics.ObserveConversion(variant.VariantName, "success", timings)
}

// convert streams the blob content through the converter into a
// temporary file, then stores the file under a fresh key.
func (p *Pipeline) convert(ctx context.Context, job space.ConversionJob, timings *space.ConversionTimings) (space.ConversionResult, error) {
	converter, ok := p.converters.Lookup(job.Variant.VariantName)
	if !ok {
		return space.ConversionResult{}, fmt.Errorf("variant %q: %w", job.Variant.VariantName, ErrNoConverter)
	}
	if job.Blob.PhysicalObjectKey == "" {
		return space.ConversionResult{}, errors.New("the blob has no content")
	}

	sp := job.Space
	tmp, err := os.CreateTemp(p.cfg.TempDir, "blobspace-conversion-*")
	if err != nil {
		return space.ConversionResult{}, err
	}
	defer func() {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
	}()

	start := time.Now()
	src, err := sp.Content().Get(ctx, job.Blob.PhysicalObjectKey)
	if err != nil {
		return space.ConversionResult{}, err
	}
	hash := sha256.New()
	err = converter.Convert(ctx, src, io.MultiWriter(tmp, hash))
	_ = src.Close()
	timings.Conversion = time.Since(start)
	if err != nil {
		return space.ConversionResult{}, err
	}

	size, err := tmp.Seek(0, io.SeekCurrent)
	if err != nil {
		return space.ConversionResult{}, err
	}
	if _, err := tmp.Seek(0, io.SeekStart); err != nil {
		return space.ConversionResult{}, err
	}

	start = time.Now()
	key := content.NewKey(path.Join(sp.Name(), "variants"))
	written, err := sp.Content().Put(ctx, key, tmp, size)
	timings.Transfer = time.Since(start)
	if err != nil {
		p.discard(sp, key)
		return space.ConversionResult{}, err
	}

	return space.ConversionResult{
		PhysicalKey:       key,
		Size:              written,
		Checksum:          hex.EncodeToString(hash.Sum(nil)),
		ConversionTimings: *timings,
	}, nil
}

// recordFailure uses its own context so that a cancelled job still ends
// its attempt.
func (p *Pipeline) recordFailure(sp *space.Space, job space.ConversionJob, timings space.ConversionTimings) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := sp.RecordConversionFailure(ctx, job.Variant, timings); err != nil {
		logger.Error("Conversion: space %s: failed to record failure of variant %s: %v",
			sp.Name(), job.Variant.VariantName, err)
	}
}

func (p *Pipeline) discard(sp *space.Space, key string) {
	if key == "" {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := sp.Content().Delete(ctx, key); err != nil {
		logger.Warn("Conversion: space %s: failed to delete unused object %s: %v", sp.Name(), key, err)
	}
}
