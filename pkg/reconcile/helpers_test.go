package reconcile

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/marmos91/blobspace/pkg/space"
	"github.com/marmos91/blobspace/pkg/store/content"
	contentmemory "github.com/marmos91/blobspace/pkg/store/content/memory"
	"github.com/marmos91/blobspace/pkg/store/metadata"
	metadatamemory "github.com/marmos91/blobspace/pkg/store/metadata/memory"
)

// countingContentStore counts deletions and can be told to fail them.
type countingContentStore struct {
	*contentmemory.MemoryContentStore

	mu      sync.Mutex
	deletes map[string]int
	failing bool
}

func newCountingContentStore() *countingContentStore {
	return &countingContentStore{
		MemoryContentStore: contentmemory.NewMemoryContentStore(),
		deletes:            make(map[string]int),
	}
}

func (c *countingContentStore) Delete(ctx context.Context, key string) error {
	c.mu.Lock()
	failing := c.failing
	if !failing {
		c.deletes[key]++
	}
	c.mu.Unlock()

	if failing {
		return errors.New("content store unavailable")
	}
	return c.MemoryContentStore.Delete(ctx, key)
}

func (c *countingContentStore) setFailing(failing bool) {
	c.mu.Lock()
	c.failing = failing
	c.mu.Unlock()
}

func (c *countingContentStore) deleteCount(key string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.deletes[key]
}

var _ content.ContentStore = (*countingContentStore)(nil)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type testEnv struct {
	storage  *space.Storage
	space    *space.Space
	metadata *metadatamemory.MemoryMetadataStore
	content  *countingContentStore
	clock    *testClock
}

func newTestEnv(t *testing.T, settings space.Settings, toucher space.Toucher) *testEnv {
	t.Helper()

	env := &testEnv{
		metadata: metadatamemory.NewMemoryMetadataStore(),
		content:  newCountingContentStore(),
		clock:    &testClock{now: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)},
	}
	if settings.Name == "" {
		settings.Name = "docs"
	}

	deps := space.Dependencies{
		Metadata: env.metadata,
		Content:  env.content,
		Node:     "node-1",
		Clock:    env.clock.Now,
		Toucher:  toucher,
	}

	var err error
	env.storage, err = space.NewStorage(deps, settings)
	require.NoError(t, err)
	env.space, err = env.storage.Space(settings.Name)
	require.NoError(t, err)
	return env
}

func (e *testEnv) blob(t *testing.T, path string, data string) *metadata.Blob {
	t.Helper()
	ctx := context.Background()

	blob, err := e.space.FindOrCreateBlobByPath(ctx, "T1", path)
	require.NoError(t, err)
	if data != "" {
		_, err = e.space.UpdateContent(ctx, blob, "", bytes.NewReader([]byte(data)), int64(len(data)))
		require.NoError(t, err)
	}
	return blob
}

func (e *testEnv) countDirectories(t *testing.T) int {
	t.Helper()
	n, err := e.metadata.CountDirectories(context.Background(), metadata.DirectoryQuery{})
	require.NoError(t, err)
	return n
}

func (e *testEnv) countBlobs(t *testing.T) int {
	t.Helper()
	agg, err := e.metadata.AggregateBlobs(context.Background(), metadata.BlobQuery{})
	require.NoError(t, err)
	return agg.Count
}

func (e *testEnv) storedBlob(t *testing.T, id string) *metadata.Blob {
	t.Helper()
	blob, err := e.metadata.GetBlob(context.Background(), id)
	require.NoError(t, err)
	return blob
}
