package reconcile

import (
	"context"
	"sort"
	"sync"

	"github.com/marmos91/blobspace/internal/logger"
	"github.com/marmos91/blobspace/internal/ratelimiter"
	"github.com/marmos91/blobspace/pkg/space"
)

// SpaceResolver looks up spaces by name. *space.Storage implements it.
type SpaceResolver interface {
	Space(name string) (*space.Space, error)
}

// TouchBuffer collects read accesses in memory and writes them in batches.
// It implements space.Toucher.
//
// Thread Safety: Safe for concurrent use.
type TouchBuffer struct {
	mu      sync.Mutex
	pending map[string]map[string]struct{}
	limiter *ratelimiter.RateLimiter
}

var _ space.Toucher = (*TouchBuffer)(nil)

// NewTouchBuffer creates a buffer whose flushes issue at most
// updatesPerSecond updates (0 means unlimited).
func NewTouchBuffer(updatesPerSecond uint) *TouchBuffer {
	return &TouchBuffer{
		pending: make(map[string]map[string]struct{}),
		limiter: ratelimiter.New(updatesPerSecond, updatesPerSecond),
	}
}

// Touch records an access of blobKey in spaceName.
func (b *TouchBuffer) Touch(spaceName, blobKey string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	keys, ok := b.pending[spaceName]
	if !ok {
		keys = make(map[string]struct{})
		b.pending[spaceName] = keys
	}
	keys[blobKey] = struct{}{}
}

// Pending returns the number of buffered touches.
func (b *TouchBuffer) Pending() int {
	b.mu.Lock()
	defer b.mu.Unlock()

	n := 0
	for _, keys := range b.pending {
		n += len(keys)
	}
	return n
}

// Flush writes every buffered touch, stamped with the clock of its space.
// Touches that could not be written are buffered again.
func (b *TouchBuffer) Flush(ctx context.Context, spaces SpaceResolver, stats *Stats) error {
	b.mu.Lock()
	batch := b.pending
	b.pending = make(map[string]map[string]struct{})
	b.mu.Unlock()

	for spaceName, keys := range batch {
		sp, err := spaces.Space(spaceName)
		if err != nil {
			logger.Warn("Reconcile[touch]: dropping %d touch(es) of unknown space %s", len(keys), spaceName)
			stats.Add("dropped", len(keys))
			continue
		}

		sorted := make([]string, 0, len(keys))
		for key := range keys {
			sorted = append(sorted, key)
		}
		sort.Strings(sorted)

		now := sp.Now()
		for i, key := range sorted {
			if err := b.limiter.Wait(ctx); err != nil {
				b.requeue(spaceName, sorted[i:])
				return err
			}
			n, err := sp.ApplyTouches(ctx, []string{key}, now)
			if err != nil {
				logger.Warn("Reconcile[touch]: space %s: failed to touch blob %s: %v", spaceName, key, err)
				b.requeue(spaceName, []string{key})
				stats.Add("failed", 1)
				continue
			}
			stats.Add("touched", n)
		}
	}
	return nil
}

func (b *TouchBuffer) requeue(spaceName string, keys []string) {
	for _, key := range keys {
		b.Touch(spaceName, key)
	}
}

// touchTask flushes a TouchBuffer on every tick.
type touchTask struct {
	buffer *TouchBuffer
	spaces SpaceResolver
}

// NewTouchFlusher returns the Task that flushes buffer.
func NewTouchFlusher(buffer *TouchBuffer, spaces SpaceResolver) Task {
	return &touchTask{buffer: buffer, spaces: spaces}
}

func (t *touchTask) Name() string {
	return "touch"
}

func (t *touchTask) Run(ctx context.Context, stats *Stats) error {
	return t.buffer.Flush(ctx, t.spaces, stats)
}
