package conversion

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/klauspost/compress/zstd"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marmos91/blobspace/pkg/space"
	contentmemory "github.com/marmos91/blobspace/pkg/store/content/memory"
	"github.com/marmos91/blobspace/pkg/store/metadata"
	metadatamemory "github.com/marmos91/blobspace/pkg/store/metadata/memory"
)

type recordingMetrics struct {
	mu       sync.Mutex
	outcomes []string
}

func (m *recordingMetrics) ObserveConversion(variant, outcome string, _ space.ConversionTimings) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.outcomes = append(m.outcomes, variant+":"+outcome)
}

func (m *recordingMetrics) SetQueueDepth(int) {}

func (m *recordingMetrics) Outcomes() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.outcomes...)
}

type testEnv struct {
	pipeline *Pipeline
	metrics  *recordingMetrics
	space    *space.Space
	metadata *metadatamemory.MemoryMetadataStore
	content  *contentmemory.MemoryContentStore
}

func newTestEnv(t *testing.T, cfg Config, registry *Registry) *testEnv {
	t.Helper()

	env := &testEnv{
		metrics:  &recordingMetrics{},
		metadata: metadatamemory.NewMemoryMetadataStore(),
		content:  contentmemory.NewMemoryContentStore(),
	}
	cfg.TempDir = t.TempDir()
	env.pipeline = NewPipeline(cfg, registry, env.metrics)

	storage, err := space.NewStorage(space.Dependencies{
		Metadata:   env.metadata,
		Content:    env.content,
		Node:       "node-1",
		Dispatcher: env.pipeline,
		Options: space.Options{
			OptimisticLockBackoff: 5 * time.Millisecond,
			VariantDedupBackoff:   5 * time.Millisecond,
			ConversionRetryDelay:  20 * time.Millisecond,
		},
	}, space.Settings{Name: "docs"})
	require.NoError(t, err)
	env.space, err = storage.Space("docs")
	require.NoError(t, err)

	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = env.pipeline.Stop(ctx)
	})
	return env
}

func (e *testEnv) blob(t *testing.T, path, data string) *metadata.Blob {
	t.Helper()
	ctx := context.Background()

	blob, err := e.space.FindOrCreateBlobByPath(ctx, "T1", path)
	require.NoError(t, err)
	_, err = e.space.UpdateContent(ctx, blob, "", strings.NewReader(data), int64(len(data)))
	require.NoError(t, err)
	return blob
}

func (e *testEnv) waitForOutcomes(t *testing.T, n int) []string {
	t.Helper()
	require.Eventually(t, func() bool { return len(e.metrics.Outcomes()) >= n }, 5*time.Second, 5*time.Millisecond)
	return e.metrics.Outcomes()
}

func TestPipeline_ConvertsRequestedVariant(t *testing.T) {
	env := newTestEnv(t, Config{}, nil)
	env.pipeline.Start()
	ctx := context.Background()

	input := strings.Repeat("hello variant ", 200)
	blob := env.blob(t, "docs/readme.txt", input)

	requested, err := env.space.RequestVariant(ctx, blob, "zstd")
	require.NoError(t, err)
	require.NotNil(t, requested)
	assert.True(t, requested.QueuedForConversion)

	assert.Equal(t, []string{"zstd:success"}, env.waitForOutcomes(t, 1))

	variant, err := env.space.FindCompletedVariant(ctx, blob, "zstd")
	require.NoError(t, err)
	require.NotNil(t, variant)
	assert.False(t, variant.QueuedForConversion)
	assert.True(t, strings.HasPrefix(variant.PhysicalObjectKey, "docs/variants/"))

	rc, err := env.space.OpenVariant(ctx, variant)
	require.NoError(t, err)
	compressed, err := io.ReadAll(rc)
	require.NoError(t, rc.Close())
	require.NoError(t, err)

	assert.EqualValues(t, len(compressed), variant.Size)
	sum := sha256.Sum256(compressed)
	assert.Equal(t, hex.EncodeToString(sum[:]), variant.Checksum)

	dec, err := zstd.NewReader(bytes.NewReader(compressed))
	require.NoError(t, err)
	defer dec.Close()
	plain, err := io.ReadAll(dec)
	require.NoError(t, err)
	assert.Equal(t, input, string(plain))

	again, err := env.space.RequestVariant(ctx, blob, "zstd")
	require.NoError(t, err)
	assert.Equal(t, variant.ID, again.ID)
	assert.Len(t, env.metrics.Outcomes(), 1, "a completed variant is not converted again")
}

func TestPipeline_ResolveVariantWaitsForConversion(t *testing.T) {
	env := newTestEnv(t, Config{}, nil)
	env.pipeline.Start()

	blob := env.blob(t, "a.txt", "resolve me")

	variant, err := env.space.ResolveVariant(context.Background(), blob, "gzip", true)
	require.NoError(t, err)
	if variant == nil {
		// The default poll delay may elapse before the worker finishes.
		env.waitForOutcomes(t, 1)
		variant, err = env.space.FindCompletedVariant(context.Background(), blob, "gzip")
		require.NoError(t, err)
	}
	require.NotNil(t, variant)
	assert.True(t, variant.IsCompleted())
}

func TestPipeline_UnknownVariantFailsDispatch(t *testing.T) {
	env := newTestEnv(t, Config{}, nil)
	ctx := context.Background()
	blob := env.blob(t, "a.txt", "data")

	_, err := env.space.RequestVariant(ctx, blob, "thumbnail")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrNoConverter))

	variant, err := env.space.FindAnyVariant(ctx, blob, "thumbnail")
	require.NoError(t, err)
	require.NotNil(t, variant)
	assert.False(t, variant.QueuedForConversion, "a failed dispatch ends the attempt")
	assert.Equal(t, 1, variant.NumAttempts)
}

func TestPipeline_ConverterFailureRecordsAttempt(t *testing.T) {
	registry := NewRegistry()
	registry.Register("broken", ConverterFunc(func(context.Context, io.Reader, io.Writer) error {
		return errors.New("codec exploded")
	}))
	env := newTestEnv(t, Config{}, registry)
	env.pipeline.Start()
	ctx := context.Background()
	blob := env.blob(t, "a.txt", "data")

	_, err := env.space.RequestVariant(ctx, blob, "broken")
	require.NoError(t, err)
	assert.Equal(t, []string{"broken:failure"}, env.waitForOutcomes(t, 1))

	variant, err := env.space.FindAnyVariant(ctx, blob, "broken")
	require.NoError(t, err)
	require.NotNil(t, variant)
	assert.False(t, variant.QueuedForConversion)
	assert.Empty(t, variant.PhysicalObjectKey)
	assert.Equal(t, 1, env.content.Len(), "only the blob content is stored")
}

func TestPipeline_DiscardsResultOfVanishedVariant(t *testing.T) {
	env := newTestEnv(t, Config{}, nil)
	ctx := context.Background()
	blob := env.blob(t, "a.txt", "data")

	_, err := env.space.RequestVariant(ctx, blob, "zstd")
	require.NoError(t, err)
	require.Equal(t, 1, env.pipeline.Pending())

	_, err = env.metadata.DeleteVariants(ctx, metadata.VariantQuery{BlobID: metadata.Ptr(blob.ID)})
	require.NoError(t, err)

	env.pipeline.Start()
	assert.Equal(t, []string{"zstd:discarded"}, env.waitForOutcomes(t, 1))
	assert.Equal(t, []string{blob.PhysicalObjectKey}, env.content.Keys())
}

func TestPipeline_QueueFull(t *testing.T) {
	env := newTestEnv(t, Config{QueueSize: 1}, nil)
	ctx := context.Background()

	first := env.blob(t, "a.txt", "a")
	second := env.blob(t, "b.txt", "b")

	_, err := env.space.RequestVariant(ctx, first, "zstd")
	require.NoError(t, err)

	_, err = env.space.RequestVariant(ctx, second, "zstd")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrQueueFull))
}

func TestPipeline_Stop(t *testing.T) {
	env := newTestEnv(t, Config{}, nil)
	env.pipeline.Start()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, env.pipeline.Stop(ctx))
	require.NoError(t, env.pipeline.Stop(ctx))

	blob := env.blob(t, "a.txt", "data")
	_, err := env.space.RequestVariant(context.Background(), blob, "zstd")
	assert.True(t, errors.Is(err, ErrStopped))
}
