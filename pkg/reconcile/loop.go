// Package reconcile runs the background loops that converge the state of
// the storage spaces: cascading deletes, change notifications, retention
// and buffered touches.
//
// Every process runs its own loops. There is no leader election: each tick
// only acts on rows selected by flags and every action is idempotent, so
// concurrent ticks on several nodes repeat work at worst.
package reconcile

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/marmos91/blobspace/internal/logger"
)

// Task is the unit of work executed by a Loop on every tick.
type Task interface {
	// Name identifies the task in logs and metrics, e.g. "delete"
	Name() string

	// Run performs one tick. Per-item failures are counted in stats and
	// logged; only failures that prevent the whole tick are returned.
	Run(ctx context.Context, stats *Stats) error
}

// LoopConfig configures a Loop.
type LoopConfig struct {
	// Enabled controls whether Start launches the loop (default: true via Reconciler)
	Enabled bool

	// Interval is the time between ticks (default: 1m)
	Interval time.Duration

	// Timeout bounds a single tick (default: 10m)
	Timeout time.Duration
}

// Loop runs a Task periodically in the background.
//
// Thread Safety: Safe for concurrent use. RunNow may be called while the
// loop is running; both executions then proceed independently.
type Loop struct {
	task    Task
	config  LoopConfig
	metrics Metrics

	startOnce sync.Once
	stopOnce  sync.Once
	started   bool
	mu        sync.Mutex
	stopCh    chan struct{}
	doneCh    chan struct{}
}

// NewLoop creates a loop for task. The loop is not started.
func NewLoop(task Task, config LoopConfig, metrics Metrics) *Loop {
	if config.Interval <= 0 {
		config.Interval = time.Minute
	}
	if config.Timeout <= 0 {
		config.Timeout = 10 * time.Minute
	}
	if metrics == nil {
		metrics = noopMetrics{}
	}

	return &Loop{
		task:    task,
		config:  config,
		metrics: metrics,
		stopCh:  make(chan struct{}),
		doneCh:  make(chan struct{}),
	}
}

// Name returns the name of the task.
func (l *Loop) Name() string {
	return l.task.Name()
}

// Start launches the background goroutine. Subsequent calls are no-ops.
func (l *Loop) Start() {
	if !l.config.Enabled {
		logger.Info("Reconcile[%s]: disabled", l.Name())
		return
	}

	l.startOnce.Do(func() {
		l.mu.Lock()
		l.started = true
		l.mu.Unlock()

		logger.Info("Reconcile[%s]: starting (interval=%s)", l.Name(), l.config.Interval)
		go l.worker()
	})
}

// Stop signals the loop to stop and waits for the current tick to finish
// or for ctx to expire. Safe to call multiple times.
func (l *Loop) Stop(ctx context.Context) error {
	l.mu.Lock()
	started := l.started
	l.mu.Unlock()
	if !started {
		return nil
	}

	l.stopOnce.Do(func() { close(l.stopCh) })

	select {
	case <-l.doneCh:
		logger.Info("Reconcile[%s]: stopped", l.Name())
		return nil
	case <-ctx.Done():
		logger.Warn("Reconcile[%s]: shutdown timeout", l.Name())
		return ctx.Err()
	}
}

// RunNow executes one tick synchronously.
func (l *Loop) RunNow(ctx context.Context) (*Stats, error) {
	return l.run(ctx)
}

func (l *Loop) worker() {
	defer close(l.doneCh)

	ticker := time.NewTicker(l.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), l.config.Timeout)
			stats, err := l.run(ctx)
			cancel()

			if err != nil {
				logger.Error("Reconcile[%s]: tick failed: %v", l.Name(), err)
			} else if stats.Total() > 0 {
				logger.Info("Reconcile[%s]: %s", l.Name(), stats.Summary())
			} else {
				logger.Debug("Reconcile[%s]: %s", l.Name(), stats.Summary())
			}

		case <-l.stopCh:
			return
		}
	}
}

func (l *Loop) run(ctx context.Context) (*Stats, error) {
	stats := newStats(l.Name())
	err := l.task.Run(ctx, stats)
	stats.EndTime = time.Now()

	l.metrics.ObserveRun(l.Name(), stats.Duration(), err)
	for counter, n := range stats.Counters() {
		l.metrics.RecordItems(l.Name(), counter, n)
	}
	return stats, err
}

// ============================================================================
// Stats
// ============================================================================

// Stats contains the counters of one tick.
type Stats struct {
	Name      string
	StartTime time.Time
	EndTime   time.Time

	mu       sync.Mutex
	counters map[string]uint64
}

func newStats(name string) *Stats {
	return &Stats{
		Name:      name,
		StartTime: time.Now(),
		counters:  make(map[string]uint64),
	}
}

// Add increments counter by n.
func (s *Stats) Add(counter string, n int) {
	if n <= 0 {
		return
	}
	s.mu.Lock()
	s.counters[counter] += uint64(n)
	s.mu.Unlock()
}

// Get returns the value of counter.
func (s *Stats) Get(counter string) uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.counters[counter]
}

// Counters returns a copy of every counter.
func (s *Stats) Counters() map[string]uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]uint64, len(s.counters))
	for k, v := range s.counters {
		out[k] = v
	}
	return out
}

// Total returns the sum of all counters.
func (s *Stats) Total() uint64 {
	var total uint64
	for _, v := range s.Counters() {
		total += v
	}
	return total
}

// Duration returns the duration of the tick.
func (s *Stats) Duration() time.Duration {
	if s.EndTime.IsZero() {
		return time.Since(s.StartTime)
	}
	return s.EndTime.Sub(s.StartTime)
}

// Summary returns a human-readable summary of the tick.
func (s *Stats) Summary() string {
	counters := s.Counters()
	keys := make([]string, 0, len(counters))
	for k := range counters {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	for _, k := range keys {
		fmt.Fprintf(&b, "%s=%d ", k, counters[k])
	}
	fmt.Fprintf(&b, "duration=%s", s.Duration())
	return b.String()
}
