package space

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marmos91/blobspace/pkg/store/metadata"
)

func TestRequestVariant_Scenario(t *testing.T) {
	dispatcher := &recordingDispatcher{}
	env := newTestEnv(t, withDispatcher(dispatcher))
	ctx := context.Background()
	blob := env.blobWithContent(t, "photo.jpg", []byte("jpeg"))

	const requesters = 2
	var wg sync.WaitGroup
	errs := make([]error, requesters)
	for i := 0; i < requesters; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = env.space.RequestVariant(ctx, blob, "thumbnail")
		}(i)
	}
	wg.Wait()
	for _, err := range errs {
		require.NoError(t, err)
	}

	rows, err := env.metadata.FindVariants(ctx, metadata.VariantQuery{
		BlobID:      metadata.Ptr(blob.ID),
		VariantName: metadata.Ptr("thumbnail"),
	}, metadata.ListOptions{})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	variant := rows[0]
	assert.True(t, variant.QueuedForConversion)

	claimed, err := env.space.ClaimConversion(ctx, variant)
	require.NoError(t, err)
	require.True(t, claimed)
	assert.Equal(t, 2, variant.NumAttempts)
	assert.Equal(t, "node-1", variant.Node)

	key := "docs/variants/thumb-1"
	_, err = env.content.Put(ctx, key, bytes.NewReader([]byte("thumb")), 5)
	require.NoError(t, err)

	ok, err := env.space.RecordConversionSuccess(ctx, variant, ConversionResult{
		PhysicalKey: key,
		Size:        5,
		Checksum:    sha([]byte("thumb")),
		ConversionTimings: ConversionTimings{
			Conversion: time.Second,
			Queue:      2 * time.Second,
		},
	})
	require.NoError(t, err)
	assert.True(t, ok)

	completed, err := env.space.FindCompletedVariant(ctx, blob, "thumbnail")
	require.NoError(t, err)
	require.NotNil(t, completed)
	assert.Equal(t, key, completed.PhysicalObjectKey)
	assert.False(t, completed.QueuedForConversion)
	assert.Equal(t, time.Second, completed.ConversionDuration)

	rc, err := env.space.OpenVariant(ctx, completed)
	require.NoError(t, err)
	assert.Equal(t, []byte("thumb"), readAll(t, rc))

	again, err := env.space.RequestVariant(ctx, blob, "thumbnail")
	require.NoError(t, err)
	assert.Equal(t, completed.ID, again.ID)
}

func TestRequestVariant_DispatchesOnce(t *testing.T) {
	dispatcher := &recordingDispatcher{}
	env := newTestEnv(t, withDispatcher(dispatcher))
	ctx := context.Background()
	blob := env.blobWithContent(t, "photo.jpg", []byte("jpeg"))

	first, err := env.space.RequestVariant(ctx, blob, "small")
	require.NoError(t, err)
	second, err := env.space.RequestVariant(ctx, blob, "small")
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID)
	require.Len(t, dispatcher.Jobs(), 1)

	job := dispatcher.Jobs()[0]
	assert.Equal(t, env.space, job.Space)
	assert.Equal(t, blob.ID, job.Blob.ID)
	assert.Equal(t, "small", job.Variant.VariantName)
}

func TestRequestVariant_Disabled(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	blob := env.blobWithContent(t, "photo.jpg", []byte("jpeg"))

	_, err := env.space.RequestVariant(ctx, blob, "thumbnail")
	requireCode(t, err, ErrConversionDisabled)

	created, err := env.space.CreateConvertedVariant(ctx, blob, "thumbnail", "docs/external/thumb", 3, "abc")
	require.NoError(t, err)

	found, err := env.space.RequestVariant(ctx, blob, "thumbnail")
	require.NoError(t, err)
	assert.Equal(t, created.ID, found.ID)

	empty, err := env.space.FindOrCreateBlobByPath(ctx, "T1", "empty.jpg")
	require.NoError(t, err)
	_, err = env.space.RequestVariant(ctx, empty, "thumbnail")
	requireCode(t, err, ErrNotFound)
}

func TestRequestVariant_RetriesHangingConversion(t *testing.T) {
	dispatcher := &recordingDispatcher{}
	env := newTestEnv(t, withDispatcher(dispatcher))
	ctx := context.Background()
	blob := env.blobWithContent(t, "photo.jpg", []byte("jpeg"))

	variant, err := env.space.RequestVariant(ctx, blob, "thumbnail")
	require.NoError(t, err)
	assert.Equal(t, 1, variant.NumAttempts)

	env.clock.Advance(10 * time.Minute)
	_, err = env.space.RequestVariant(ctx, blob, "thumbnail")
	require.NoError(t, err)
	assert.Len(t, dispatcher.Jobs(), 1, "a recent claim is left alone")

	env.clock.Advance(time.Hour)
	retried, err := env.space.RequestVariant(ctx, blob, "thumbnail")
	require.NoError(t, err)
	assert.Equal(t, 2, retried.NumAttempts)
	assert.Len(t, dispatcher.Jobs(), 2)
}

func TestRequestVariant_RetriesFailedConversion(t *testing.T) {
	dispatcher := &recordingDispatcher{}
	env := newTestEnv(t, withDispatcher(dispatcher))
	ctx := context.Background()
	blob := env.blobWithContent(t, "photo.jpg", []byte("jpeg"))

	for attempt := 1; attempt <= VariantMaxConversionAttempts; attempt++ {
		variant, err := env.space.RequestVariant(ctx, blob, "thumbnail")
		require.NoError(t, err, "attempt %d", attempt)
		require.Equal(t, attempt, variant.NumAttempts)
		require.NoError(t, env.space.RecordConversionFailure(ctx, variant, ConversionTimings{Conversion: time.Millisecond}))
	}

	_, err := env.space.RequestVariant(ctx, blob, "thumbnail")
	requireCode(t, err, ErrConversionExhausted)
	assert.Len(t, dispatcher.Jobs(), VariantMaxConversionAttempts)
}

func TestRequestVariant_DispatchFailure(t *testing.T) {
	dispatcher := &recordingDispatcher{err: errors.New("queue full")}
	env := newTestEnv(t, withDispatcher(dispatcher))
	ctx := context.Background()
	blob := env.blobWithContent(t, "photo.jpg", []byte("jpeg"))

	_, err := env.space.RequestVariant(ctx, blob, "thumbnail")
	require.Error(t, err)

	variant, err := env.space.FindAnyVariant(ctx, blob, "thumbnail")
	require.NoError(t, err)
	require.NotNil(t, variant)
	assert.False(t, variant.QueuedForConversion, "a failed dispatch ends the attempt")
}

func TestClaimConversion_SingleWinner(t *testing.T) {
	dispatcher := &recordingDispatcher{}
	env := newTestEnv(t, withDispatcher(dispatcher))
	ctx := context.Background()
	blob := env.blobWithContent(t, "photo.jpg", []byte("jpeg"))

	variant, err := env.space.RequestVariant(ctx, blob, "thumbnail")
	require.NoError(t, err)

	a := variant.Clone()
	b := variant.Clone()

	wonA, err := env.space.ClaimConversion(ctx, a)
	require.NoError(t, err)
	wonB, err := env.space.ClaimConversion(ctx, b)
	require.NoError(t, err)

	assert.True(t, wonA)
	assert.False(t, wonB)
	assert.Equal(t, 1, b.NumAttempts, "a lost claim leaves the local copy untouched")
}

func TestRecordConversionSuccess_VanishedVariant(t *testing.T) {
	dispatcher := &recordingDispatcher{}
	env := newTestEnv(t, withDispatcher(dispatcher))
	ctx := context.Background()
	blob := env.blobWithContent(t, "photo.jpg", []byte("jpeg"))

	variant, err := env.space.RequestVariant(ctx, blob, "thumbnail")
	require.NoError(t, err)

	_, err = env.space.UpdateContent(ctx, blob, "", bytes.NewReader([]byte("new")), 3)
	require.NoError(t, err)

	ok, err := env.space.RecordConversionSuccess(ctx, variant, ConversionResult{PhysicalKey: "docs/late"})
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestResolveVariant(t *testing.T) {
	dispatcher := &recordingDispatcher{}
	env := newTestEnv(t, withDispatcher(dispatcher))
	ctx := context.Background()
	blob := env.blobWithContent(t, "photo.jpg", []byte("jpeg"))

	pending, err := env.space.ResolveVariant(ctx, blob, "thumbnail", false)
	require.NoError(t, err)
	assert.Nil(t, pending, "nothing converts in this test")

	variant, err := env.space.FindAnyVariant(ctx, blob, "thumbnail")
	require.NoError(t, err)
	_, err = env.space.RecordConversionSuccess(ctx, variant, ConversionResult{PhysicalKey: "docs/thumb", Size: 1})
	require.NoError(t, err)

	resolved, err := env.space.ResolveVariant(ctx, blob, "thumbnail", true)
	require.NoError(t, err)
	require.NotNil(t, resolved)
	assert.Equal(t, "docs/thumb", resolved.PhysicalObjectKey)
}
