package reconcile

import (
	"bytes"
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marmos91/blobspace/pkg/space"
	"github.com/marmos91/blobspace/pkg/store/metadata"
)

func TestDeleteSweeper_ConvergesInDepthTicks(t *testing.T) {
	env := newTestEnv(t, space.Settings{}, nil)
	ctx := context.Background()

	paths := []string{"f0.txt", "a/f1.txt", "a/b/f2.txt", "a/b/c/f3.txt", "a/b/c/d/f4.txt"}
	var keys []string
	for i, path := range paths {
		blob := env.blob(t, path, fmt.Sprintf("content %d", i))
		keys = append(keys, blob.PhysicalObjectKey)
	}
	const depth = 5 // root, a, b, c, d
	require.Equal(t, depth, env.countDirectories(t))

	root, err := env.space.FindRoot(ctx, "T1")
	require.NoError(t, err)
	require.NoError(t, env.space.DeleteDirectory(ctx, root))

	sweeper := NewDeleteSweeper([]*space.Space{env.space}, 0)
	for tick := 1; tick <= depth; tick++ {
		stats := newStats(sweeper.Name())
		require.NoError(t, sweeper.Run(ctx, stats))
		assert.EqualValues(t, 1, stats.Get("directories"), "tick %d removes exactly one level", tick)
		assert.EqualValues(t, 1, stats.Get("blobs"), "tick %d removes the blob of that level", tick)

		if tick < depth {
			assert.Equal(t, depth-tick, env.countDirectories(t), "after tick %d", tick)
		}
	}

	assert.Zero(t, env.countDirectories(t))
	assert.Zero(t, env.countBlobs(t))
	for _, key := range keys {
		assert.Equal(t, 1, env.content.deleteCount(key), "content %s deleted exactly once", key)
	}
	assert.Zero(t, env.content.Len())

	// Further ticks find nothing left to do.
	stats := newStats(sweeper.Name())
	require.NoError(t, sweeper.Run(ctx, stats))
	assert.Zero(t, stats.Total())
}

func TestDeleteSweeper_KeepsRowWhenContentDeleteFails(t *testing.T) {
	env := newTestEnv(t, space.Settings{}, nil)
	ctx := context.Background()

	blob := env.blob(t, "doc.txt", "payload")
	require.NoError(t, env.space.DeleteBlob(ctx, blob))

	sweeper := NewDeleteSweeper([]*space.Space{env.space}, 0)

	env.content.setFailing(true)
	stats := newStats(sweeper.Name())
	require.NoError(t, sweeper.Run(ctx, stats))
	assert.EqualValues(t, 1, stats.Get("failed"))
	assert.Equal(t, 1, env.countBlobs(t))

	env.content.setFailing(false)
	stats = newStats(sweeper.Name())
	require.NoError(t, sweeper.Run(ctx, stats))
	assert.EqualValues(t, 1, stats.Get("blobs"))
	assert.Zero(t, env.countBlobs(t))
	assert.Equal(t, 1, env.content.deleteCount(blob.PhysicalObjectKey))
}

func TestDeleteSweeper_RemovesVariants(t *testing.T) {
	env := newTestEnv(t, space.Settings{}, nil)
	ctx := context.Background()

	blob := env.blob(t, "photo.jpg", "jpeg")
	_, err := env.content.Put(ctx, "docs/thumbs/1", bytes.NewReader([]byte("thumb")), 5)
	require.NoError(t, err)
	_, err = env.space.CreateConvertedVariant(ctx, blob, "thumbnail", "docs/thumbs/1", 5, "")
	require.NoError(t, err)

	require.NoError(t, env.space.DeleteBlob(ctx, blob))

	sweeper := NewDeleteSweeper([]*space.Space{env.space}, 0)
	require.NoError(t, sweeper.Run(ctx, newStats(sweeper.Name())))

	n, err := env.metadata.CountVariants(ctx, metadata.VariantQuery{})
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Equal(t, 1, env.content.deleteCount("docs/thumbs/1"))
}

func TestDeleteSweeper_BatchSize(t *testing.T) {
	env := newTestEnv(t, space.Settings{}, nil)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		blob := env.blob(t, fmt.Sprintf("f%d.txt", i), "")
		require.NoError(t, env.space.DeleteBlob(ctx, blob))
	}

	sweeper := NewDeleteSweeper([]*space.Space{env.space}, 2)
	stats := newStats(sweeper.Name())
	require.NoError(t, sweeper.Run(ctx, stats))
	assert.EqualValues(t, 2, stats.Get("blobs"))
	assert.Equal(t, 3, env.countBlobs(t))
}
