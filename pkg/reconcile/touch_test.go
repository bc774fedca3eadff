package reconcile

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marmos91/blobspace/pkg/space"
)

func TestTouchBuffer_Flush(t *testing.T) {
	buffer := NewTouchBuffer(0)
	env := newTestEnv(t, space.Settings{TouchTracking: true}, buffer)
	ctx := context.Background()

	blob := env.blob(t, "read.txt", "hello")
	env.clock.Advance(time.Hour)

	for i := 0; i < 3; i++ {
		rc, err := env.space.OpenContent(ctx, blob)
		require.NoError(t, err)
		require.NoError(t, rc.Close())
	}
	assert.Equal(t, 1, buffer.Pending(), "repeated reads collapse into one touch")
	assert.True(t, env.storedBlob(t, blob.ID).LastTouched.IsZero())

	stats := newStats("touch")
	require.NoError(t, buffer.Flush(ctx, env.storage, stats))
	assert.EqualValues(t, 1, stats.Get("touched"))
	assert.Zero(t, buffer.Pending())
	assert.Equal(t, env.clock.Now(), env.storedBlob(t, blob.ID).LastTouched)
}

func TestTouchBuffer_UnknownSpace(t *testing.T) {
	buffer := NewTouchBuffer(0)
	env := newTestEnv(t, space.Settings{}, buffer)

	buffer.Touch("missing", "key-1")
	buffer.Touch("missing", "key-2")

	stats := newStats("touch")
	require.NoError(t, buffer.Flush(context.Background(), env.storage, stats))
	assert.EqualValues(t, 2, stats.Get("dropped"))
	assert.Zero(t, buffer.Pending())
}

func TestTouchBuffer_RequeuesOnCancellation(t *testing.T) {
	buffer := NewTouchBuffer(1)
	env := newTestEnv(t, space.Settings{}, buffer)

	for _, key := range []string{"a", "b", "c"} {
		buffer.Touch("docs", key)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := buffer.Flush(ctx, env.storage, newStats("touch"))
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 3, buffer.Pending())
}
