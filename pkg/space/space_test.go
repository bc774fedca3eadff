package space

import (
	"bytes"
	"context"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	contentmemory "github.com/marmos91/blobspace/pkg/store/content/memory"
	"github.com/marmos91/blobspace/pkg/store/metadata"
	metadatamemory "github.com/marmos91/blobspace/pkg/store/metadata/memory"
)

// testClock is a settable clock shared by a test and its space.
type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// recordingDispatcher collects jobs instead of converting.
type recordingDispatcher struct {
	mu   sync.Mutex
	jobs []ConversionJob
	err  error
}

func (d *recordingDispatcher) Dispatch(_ context.Context, job ConversionJob) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.err != nil {
		return d.err
	}
	d.jobs = append(d.jobs, job)
	return nil
}

func (d *recordingDispatcher) Jobs() []ConversionJob {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]ConversionJob(nil), d.jobs...)
}

type testEnv struct {
	space    *Space
	metadata *metadatamemory.MemoryMetadataStore
	content  *contentmemory.MemoryContentStore
	clock    *testClock
}

type envOption func(*Settings, *Dependencies)

func withDispatcher(d Dispatcher) envOption {
	return func(_ *Settings, deps *Dependencies) { deps.Dispatcher = d }
}

func withSettings(fn func(*Settings)) envOption {
	return func(s *Settings, _ *Dependencies) { fn(s) }
}

func newTestEnv(t *testing.T, opts ...envOption) *testEnv {
	t.Helper()

	env := &testEnv{
		metadata: metadatamemory.NewMemoryMetadataStore(),
		content:  contentmemory.NewMemoryContentStore(),
		clock:    newTestClock(),
	}

	settings := Settings{Name: "docs", UseNormalizedNames: true}
	deps := Dependencies{
		Metadata: env.metadata,
		Content:  env.content,
		Node:     "node-1",
		Clock:    env.clock.Now,
		Options: Options{
			MaxOptimisticLockAttempts: 50,
			OptimisticLockBackoff:     5 * time.Millisecond,
			ConversionRetryDelay:      time.Millisecond,
			VariantDedupBackoff:       time.Millisecond,
		},
	}
	for _, opt := range opts {
		opt(&settings, &deps)
	}

	storage, err := NewStorage(deps, settings)
	require.NoError(t, err)
	env.space, err = storage.Space(settings.Name)
	require.NoError(t, err)
	return env
}

func (e *testEnv) root(t *testing.T) *metadata.Directory {
	t.Helper()
	root, err := e.space.CreateRoot(context.Background(), "T1")
	require.NoError(t, err)
	return root
}

func (e *testEnv) blobWithContent(t *testing.T, path string, data []byte) *metadata.Blob {
	t.Helper()
	ctx := context.Background()
	blob, err := e.space.FindOrCreateBlobByPath(ctx, "T1", path)
	require.NoError(t, err)
	_, err = e.space.UpdateContent(ctx, blob, "", bytes.NewReader(data), int64(len(data)))
	require.NoError(t, err)
	return blob
}

func readAll(t *testing.T, rc io.ReadCloser) []byte {
	t.Helper()
	defer rc.Close()
	data, err := io.ReadAll(rc)
	require.NoError(t, err)
	return data
}

func requireCode(t *testing.T, err error, code ErrorCode) {
	t.Helper()
	require.Error(t, err)
	require.Truef(t, IsCode(err, code), "expected %s, got %v", code, err)
}
