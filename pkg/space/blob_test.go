package space

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marmos91/blobspace/pkg/store/metadata"
)

func sha(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

func TestUpdateContent_Scenario(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	root := env.root(t)
	invoices, err := env.space.FindOrCreateChildDirectory(ctx, root, "invoices")
	require.NoError(t, err)
	blob, err := env.space.FindOrCreateChildBlob(ctx, invoices, "2024.pdf")
	require.NoError(t, err)
	assert.Equal(t, "pdf", blob.FileExtension)

	b1 := []byte("first version")
	previous, err := env.space.UpdateContent(ctx, blob, "", bytes.NewReader(b1), int64(len(b1)))
	require.NoError(t, err)
	assert.Empty(t, previous)
	assert.True(t, blob.Created)
	assert.False(t, blob.ContentUpdated)
	firstKey := blob.PhysicalObjectKey

	b2 := []byte("second, longer version")
	previous, err = env.space.UpdateContent(ctx, blob, "", bytes.NewReader(b2), int64(len(b2)))
	require.NoError(t, err)

	assert.Equal(t, firstKey, previous)
	assert.NotEqual(t, firstKey, blob.PhysicalObjectKey)
	assert.Equal(t, int64(len(b2)), blob.Size)
	assert.Equal(t, sha(b2), blob.Checksum)
	assert.True(t, blob.ContentUpdated)

	// No change tick ran between the writes: both notices are pending.
	stored, err := env.metadata.GetBlob(ctx, blob.ID)
	require.NoError(t, err)
	assert.True(t, stored.Created)
	assert.True(t, stored.ContentUpdated)
	assert.Equal(t, blob.PhysicalObjectKey, stored.PhysicalObjectKey)

	rc, err := env.space.OpenContent(ctx, blob)
	require.NoError(t, err)
	assert.Equal(t, b2, readAll(t, rc))

	exists, err := env.content.Exists(ctx, firstKey)
	require.NoError(t, err)
	assert.False(t, exists, "replaced content is deleted")
}

func TestUpdateContent_ConcurrentWriters(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	blob, err := env.space.FindOrCreateBlobByPath(ctx, "T1", "race.bin")
	require.NoError(t, err)

	payloads := [][]byte{
		bytes.Repeat([]byte("a"), 100),
		bytes.Repeat([]byte("b"), 200),
	}

	var wg sync.WaitGroup
	errs := make([]error, len(payloads))
	for i, payload := range payloads {
		wg.Add(1)
		go func(i int, payload []byte) {
			defer wg.Done()
			handle := blob.Clone()
			_, errs[i] = env.space.UpdateContent(ctx, handle, "", bytes.NewReader(payload), int64(len(payload)))
		}(i, payload)
	}
	wg.Wait()

	succeeded := 0
	for _, err := range errs {
		if err == nil {
			succeeded++
		} else {
			requireCode(t, err, ErrConflictExhausted)
		}
	}
	require.Positive(t, succeeded)

	final, err := env.metadata.GetBlob(ctx, blob.ID)
	require.NoError(t, err)

	rc, err := env.space.OpenContent(ctx, final)
	require.NoError(t, err)
	data := readAll(t, rc)

	matched := false
	for _, payload := range payloads {
		if bytes.Equal(payload, data) {
			matched = true
			assert.Equal(t, int64(len(payload)), final.Size)
			assert.Equal(t, sha(payload), final.Checksum)
		}
	}
	assert.True(t, matched, "final content must be exactly one of the payloads")

	// Only the winning object remains.
	assert.Equal(t, 1, env.content.Len())
}

func TestUpdateContent_Rename(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	blob := env.blobWithContent(t, "docs/draft.txt", []byte("v1"))
	_, err := env.space.FindOrCreateBlobByPath(ctx, "T1", "docs/taken.md")
	require.NoError(t, err)

	_, err = env.space.UpdateContent(ctx, blob, "taken.md", bytes.NewReader([]byte("v2")), 2)
	requireCode(t, err, ErrInvalidArgument)

	_, err = env.space.UpdateContent(ctx, blob, "final.md", bytes.NewReader([]byte("v2")), 2)
	require.NoError(t, err)
	assert.Equal(t, "final.md", blob.Filename)
	assert.Equal(t, "md", blob.FileExtension)
}

func TestUpdateContent_LengthMismatch(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	blob, err := env.space.FindOrCreateBlobByPath(ctx, "T1", "short.bin")
	require.NoError(t, err)

	_, err = env.space.UpdateContent(ctx, blob, "", bytes.NewReader([]byte("abc")), 10)
	requireCode(t, err, ErrInvalidArgument)
	assert.Empty(t, blob.PhysicalObjectKey)
	assert.Equal(t, 0, env.content.Len())
}

func TestUpdateContent_DropsVariants(t *testing.T) {
	dispatcher := &recordingDispatcher{}
	env := newTestEnv(t, withDispatcher(dispatcher))
	ctx := context.Background()

	blob := env.blobWithContent(t, "img.png", []byte("png"))
	variant, err := env.space.RequestVariant(ctx, blob, "thumbnail")
	require.NoError(t, err)
	require.NotNil(t, variant)

	_, err = env.space.UpdateContent(ctx, blob, "", bytes.NewReader([]byte("png2")), 4)
	require.NoError(t, err)

	n, err := env.metadata.CountVariants(ctx, metadata.VariantQuery{BlobID: metadata.Ptr(blob.ID)})
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestReadOnlyBlob(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	blob := env.blobWithContent(t, "locked.txt", []byte("x"))

	require.NoError(t, env.space.SetReadOnly(ctx, blob, true))
	assert.True(t, blob.ReadOnly)

	_, err := env.space.UpdateContent(ctx, blob, "", bytes.NewReader([]byte("y")), 1)
	requireCode(t, err, ErrReadOnly)
	requireCode(t, env.space.DeleteBlob(ctx, blob), ErrReadOnly)
	requireCode(t, env.space.RenameBlob(ctx, blob, "other.txt"), ErrReadOnly)

	require.NoError(t, env.space.SetReadOnly(ctx, blob, false))
	require.NoError(t, env.space.RenameBlob(ctx, blob, "other.txt"))
}

func TestRenameAndMoveBlob(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	blob := env.blobWithContent(t, "a/file.txt", []byte("x"))
	_, err := env.metadata.UpdateBlobs(ctx, metadata.BlobQuery{ID: metadata.Ptr(blob.ID)},
		metadata.BlobPatch{Created: metadata.Ptr(false)})
	require.NoError(t, err)
	blob.Created = false

	require.NoError(t, env.space.RenameBlob(ctx, blob, "File.PDF"))
	assert.Equal(t, "file.pdf", blob.NormalizedFilename)
	assert.Equal(t, "pdf", blob.FileExtension)
	assert.True(t, blob.Renamed)

	b, err := env.space.FindOrCreateDirectoryByPath(ctx, "T1", "b")
	require.NoError(t, err)
	require.NoError(t, env.space.MoveBlob(ctx, blob, b))
	assert.Equal(t, b.ID, blob.ParentID)
	assert.True(t, blob.ParentChanged)

	path, err := env.space.BlobPath(ctx, blob)
	require.NoError(t, err)
	assert.Equal(t, "/b/File.PDF", path)

	_, err = env.space.FindOrCreateBlobByPath(ctx, "T1", "a/file.pdf")
	require.NoError(t, err)
	a, err := env.space.FindOrCreateDirectoryByPath(ctx, "T1", "a")
	require.NoError(t, err)
	requireCode(t, env.space.MoveBlob(ctx, blob, a), ErrInvalidArgument)

	_, err = env.space.FindOrCreateDirectoryByPath(ctx, "T1", "b/sub")
	require.NoError(t, err)
	requireCode(t, env.space.RenameBlob(ctx, blob, "SUB"), ErrInvalidArgument)
}

func TestListChildBlobs(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	for i, name := range []string{"b.pdf", "a.png", "c.PDF", "report.txt"} {
		blob := env.blobWithContent(t, "dir/"+name, []byte(name))
		_, err := env.metadata.UpdateBlobs(ctx, metadata.BlobQuery{ID: metadata.Ptr(blob.ID)},
			metadata.BlobPatch{LastModified: metadata.Ptr(env.clock.Now().Add(time.Duration(i) * time.Hour))})
		require.NoError(t, err)
	}
	dir, err := env.space.FindOrCreateDirectoryByPath(ctx, "T1", "dir")
	require.NoError(t, err)

	names := func(blobs []*metadata.Blob) []string {
		out := make([]string, len(blobs))
		for i, b := range blobs {
			out[i] = b.Filename
		}
		return out
	}

	all, err := env.space.ListChildBlobs(ctx, dir, ListOptions{})
	require.NoError(t, err)
	assert.Equal(t, []string{"a.png", "b.pdf", "c.PDF", "report.txt"}, names(all))

	pdfs, err := env.space.ListChildBlobs(ctx, dir, ListOptions{FileTypes: []string{"pdf"}})
	require.NoError(t, err)
	assert.Equal(t, []string{"b.pdf", "c.PDF"}, names(pdfs))

	prefixed, err := env.space.ListChildBlobs(ctx, dir, ListOptions{Prefix: "RE"})
	require.NoError(t, err)
	assert.Equal(t, []string{"report.txt"}, names(prefixed))

	byDate := newTestEnv(t, withSettings(func(s *Settings) { s.SortByLastModified = true }))
	byDate.space.store = env.metadata
	recent, err := byDate.space.ListChildBlobs(ctx, dir, ListOptions{Limit: 2})
	require.NoError(t, err)
	assert.Equal(t, []string{"report.txt", "c.PDF"}, names(recent))
}

func TestTemporaryBlob(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	blob, err := env.space.CreateTemporaryBlob(ctx, "T1")
	require.NoError(t, err)
	assert.True(t, blob.Temporary)
	assert.True(t, blob.Committed)
	assert.NotEmpty(t, blob.BlobKey)

	found, err := env.space.FindByBlobKey(ctx, blob.BlobKey)
	require.NoError(t, err)
	require.NotNil(t, found)

	require.NoError(t, env.space.MarkAsUsed(ctx, blob))
	assert.False(t, blob.Temporary)
}

func TestOpenContent_Touch(t *testing.T) {
	env := newTestEnv(t, withSettings(func(s *Settings) { s.TouchTracking = true }))
	ctx := context.Background()

	blob := env.blobWithContent(t, "read.txt", []byte("hello"))
	env.clock.Advance(time.Hour)

	rc, err := env.space.OpenContent(ctx, blob)
	require.NoError(t, err)
	assert.Equal(t, []byte("hello"), readAll(t, rc))

	stored, err := env.metadata.GetBlob(ctx, blob.ID)
	require.NoError(t, err)
	assert.Equal(t, env.clock.Now(), stored.LastTouched)

	empty, err := env.space.FindOrCreateBlobByPath(ctx, "T1", "empty.txt")
	require.NoError(t, err)
	_, err = env.space.OpenContent(ctx, empty)
	requireCode(t, err, ErrNotFound)
}

func TestDeleteBlob(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	blob := env.blobWithContent(t, "x/gone.txt", []byte("bye"))
	require.NoError(t, env.space.DeleteBlob(ctx, blob))
	assert.True(t, blob.Deleted)
	assert.False(t, blob.Created)

	found, err := env.space.FindByPath(ctx, "T1", "x/gone.txt")
	require.NoError(t, err)
	assert.Nil(t, found)

	byKey, err := env.space.FindByBlobKey(ctx, blob.BlobKey)
	require.NoError(t, err)
	assert.Nil(t, byKey)

	_, err = env.space.UpdateContent(ctx, blob, "", bytes.NewReader([]byte("again")), 5)
	requireCode(t, err, ErrNotFound)
}

func TestStatistics(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	env.blobWithContent(t, "a/one.txt", []byte("12345"))
	attached := env.blobWithContent(t, "a/two.txt", []byte("123"))
	_, err := env.space.AttachBlobByType(ctx, attached.BlobKey, "order-1", "invoice")
	require.NoError(t, err)

	stats, err := env.space.Statistics(ctx, "T1")
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Directories)
	assert.Equal(t, 2, stats.Blobs)
	assert.Equal(t, int64(8), stats.BlobBytes)
	assert.Equal(t, 1, stats.ReferencedBlobs)
	assert.Equal(t, int64(3), stats.ReferencedBytes)

	other, err := env.space.Statistics(ctx, "T2")
	require.NoError(t, err)
	assert.Zero(t, other.Blobs)
	assert.Equal(t, 1, other.ReferencedBlobs, "references are counted across tenants")
}
