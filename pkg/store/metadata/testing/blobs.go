package testing

import (
	"sync"
	"testing"
	"time"

	"github.com/marmos91/blobspace/pkg/store/metadata"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// RunBlobTests executes the blob contract tests.
func (suite *StoreTestSuite) RunBlobTests(t *testing.T) {
	t.Run("Create_RoundTrip", suite.testCreateBlobRoundTrip)
	t.Run("Create_DuplicateBlobKey", suite.testCreateBlobDuplicateKey)
	t.Run("Get_NotFound", suite.testGetBlobNotFound)
	t.Run("Find_ByBlobKey", suite.testFindBlobByKey)
	t.Run("Find_Attached", suite.testFindAttachedBlobs)
	t.Run("Find_Extensions", suite.testFindBlobsByExtension)
	t.Run("Find_OrderByLastModified", suite.testFindBlobsOrderByLastModified)
	t.Run("Find_RetentionPredicates", suite.testFindBlobsRetentionPredicates)
	t.Run("Find_PendingFlags", suite.testFindBlobsPendingFlags)
	t.Run("Aggregate", suite.testAggregateBlobs)
	t.Run("Update_CompareAndSet", suite.testUpdateBlobCompareAndSet)
	t.Run("Update_ConcurrentCompareAndSet", suite.testUpdateBlobConcurrentCompareAndSet)
	t.Run("Update_Bulk", suite.testUpdateBlobsBulk)
	t.Run("Delete_ReleasesBlobKey", suite.testDeleteBlobReleasesKey)
}

func (suite *StoreTestSuite) testCreateBlobRoundTrip(t *testing.T) {
	store := suite.NewStore(t)

	root := mustCreateDirectory(t, store, newRoot("docs", "tenant-a"))
	blob := newBlob(root, "report.pdf")
	blob.Filename = "Report.PDF"
	blob.FileExtension = "pdf"
	blob.PhysicalObjectKey = "phys-1"
	blob.Size = 1234
	blob.Checksum = "abc"
	blob.Created = true
	mustCreateBlob(t, store, blob)

	got, err := store.GetBlob(testContext(), blob.ID)
	require.NoError(t, err)
	assert.Equal(t, blob.BlobKey, got.BlobKey)
	assert.Equal(t, "Report.PDF", got.Filename)
	assert.Equal(t, "report.pdf", got.NormalizedFilename)
	assert.Equal(t, "pdf", got.FileExtension)
	assert.Equal(t, "phys-1", got.PhysicalObjectKey)
	assert.Equal(t, int64(1234), got.Size)
	assert.Equal(t, "abc", got.Checksum)
	assert.True(t, got.Created)
	assert.True(t, got.LastModified.Equal(baseTime))
	assert.True(t, got.LastTouched.IsZero())
	assert.False(t, got.IsAttached())
}

func (suite *StoreTestSuite) testCreateBlobDuplicateKey(t *testing.T) {
	store := suite.NewStore(t)

	root := mustCreateDirectory(t, store, newRoot("docs", "tenant-a"))
	first := mustCreateBlob(t, store, newBlob(root, "a.txt"))

	dup := newBlob(root, "b.txt")
	dup.BlobKey = first.BlobKey
	err := store.CreateBlob(testContext(), dup)
	assert.True(t, metadata.IsAlreadyExists(err), "expected already exists, got %v", err)
}

func (suite *StoreTestSuite) testGetBlobNotFound(t *testing.T) {
	store := suite.NewStore(t)

	_, err := store.GetBlob(testContext(), metadata.NewID())
	assert.True(t, metadata.IsNotFound(err), "expected not found, got %v", err)
}

func (suite *StoreTestSuite) testFindBlobByKey(t *testing.T) {
	store := suite.NewStore(t)

	root := mustCreateDirectory(t, store, newRoot("docs", "tenant-a"))
	blob := mustCreateBlob(t, store, newBlob(root, "a.txt"))
	mustCreateBlob(t, store, newBlob(root, "b.txt"))

	found, err := store.FindBlobs(testContext(), metadata.BlobQuery{
		BlobKey:   metadata.Ptr(blob.BlobKey),
		SpaceName: metadata.Ptr("docs"),
	}, metadata.ListOptions{})
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.Equal(t, blob.ID, found[0].ID)

	found, err = store.FindBlobs(testContext(), metadata.BlobQuery{
		BlobKey:   metadata.Ptr(blob.BlobKey),
		SpaceName: metadata.Ptr("images"),
	}, metadata.ListOptions{})
	require.NoError(t, err)
	assert.Empty(t, found)

	found, err = store.FindBlobs(testContext(), metadata.BlobQuery{
		BlobKey: metadata.Ptr("missing"),
	}, metadata.ListOptions{})
	require.NoError(t, err)
	assert.Empty(t, found)
}

func (suite *StoreTestSuite) testFindAttachedBlobs(t *testing.T) {
	store := suite.NewStore(t)

	attach := func(ref, designator, name string) *metadata.Blob {
		return mustCreateBlob(t, store, &metadata.Blob{
			SpaceName:           "docs",
			ReferenceID:         ref,
			ReferenceDesignator: designator,
			Filename:            name,
			NormalizedFilename:  name,
			Committed:           true,
			LastModified:        baseTime,
		})
	}

	avatar := attach("user-1", "avatar", "me.png")
	attach("user-1", "cover", "cover.png")
	attach("user-2", "avatar", "other.png")

	found, err := store.FindBlobs(testContext(), metadata.BlobQuery{
		SpaceName:           metadata.Ptr("docs"),
		ReferenceID:         metadata.Ptr("user-1"),
		ReferenceDesignator: metadata.Ptr("avatar"),
		Deleted:             metadata.Ptr(false),
	}, metadata.ListOptions{})
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.Equal(t, avatar.ID, found[0].ID)
	assert.True(t, found[0].IsAttached())

	found, err = store.FindBlobs(testContext(), metadata.BlobQuery{
		ReferenceID: metadata.Ptr("user-1"),
	}, metadata.ListOptions{Order: metadata.OrderByName})
	require.NoError(t, err)
	require.Len(t, found, 2)
	assert.Equal(t, "cover.png", found[0].NormalizedFilename)
	assert.Equal(t, "me.png", found[1].NormalizedFilename)
}

func (suite *StoreTestSuite) testFindBlobsByExtension(t *testing.T) {
	store := suite.NewStore(t)

	root := mustCreateDirectory(t, store, newRoot("docs", "tenant-a"))
	for _, tc := range []struct{ name, ext string }{
		{"a.pdf", "pdf"},
		{"b.PNG", "png"},
		{"c.txt", "txt"},
		{"noext", ""},
	} {
		blob := newBlob(root, tc.name)
		blob.FileExtension = tc.ext
		mustCreateBlob(t, store, blob)
	}

	found, err := store.FindBlobs(testContext(), metadata.BlobQuery{
		ParentID:       metadata.Ptr(root.ID),
		FileExtensions: []string{".pdf", "png"},
	}, metadata.ListOptions{Order: metadata.OrderByName})
	require.NoError(t, err)
	require.Len(t, found, 2)
	assert.Equal(t, "a.pdf", found[0].NormalizedFilename)
	assert.Equal(t, "b.PNG", found[1].NormalizedFilename)
}

func (suite *StoreTestSuite) testFindBlobsOrderByLastModified(t *testing.T) {
	store := suite.NewStore(t)

	root := mustCreateDirectory(t, store, newRoot("docs", "tenant-a"))
	for i, name := range []string{"old", "newest", "middle"} {
		blob := newBlob(root, name)
		blob.LastModified = baseTime.Add([]time.Duration{0, 2 * time.Hour, time.Hour}[i])
		mustCreateBlob(t, store, blob)
	}

	found, err := store.FindBlobs(testContext(), metadata.BlobQuery{
		ParentID: metadata.Ptr(root.ID),
	}, metadata.ListOptions{Order: metadata.OrderByLastModifiedDesc, Limit: 2})
	require.NoError(t, err)
	require.Len(t, found, 2)
	assert.Equal(t, "newest", found[0].NormalizedFilename)
	assert.Equal(t, "middle", found[1].NormalizedFilename)
}

func (suite *StoreTestSuite) testFindBlobsRetentionPredicates(t *testing.T) {
	store := suite.NewStore(t)

	root := mustCreateDirectory(t, store, newRoot("docs", "tenant-a"))
	horizon := baseTime

	old := newBlob(root, "old-untouched")
	old.LastModified = horizon.Add(-48 * time.Hour)
	mustCreateBlob(t, store, old)

	oldTouchedRecently := newBlob(root, "old-touched")
	oldTouchedRecently.LastModified = horizon.Add(-48 * time.Hour)
	oldTouchedRecently.LastTouched = horizon.Add(time.Hour)
	mustCreateBlob(t, store, oldTouchedRecently)

	oldTouchedLongAgo := newBlob(root, "old-touched-long-ago")
	oldTouchedLongAgo.LastModified = horizon.Add(-48 * time.Hour)
	oldTouchedLongAgo.LastTouched = horizon.Add(-24 * time.Hour)
	mustCreateBlob(t, store, oldTouchedLongAgo)

	fresh := newBlob(root, "fresh")
	fresh.LastModified = horizon.Add(time.Hour)
	mustCreateBlob(t, store, fresh)

	found, err := store.FindBlobs(testContext(), metadata.BlobQuery{
		LastModifiedBefore: horizon,
	}, metadata.ListOptions{Order: metadata.OrderByName})
	require.NoError(t, err)
	assert.Len(t, found, 3)

	found, err = store.FindBlobs(testContext(), metadata.BlobQuery{
		LastModifiedBefore:       horizon,
		LastTouchedBeforeOrUnset: horizon,
	}, metadata.ListOptions{Order: metadata.OrderByName})
	require.NoError(t, err)
	require.Len(t, found, 2)
	assert.Equal(t, "old-touched-long-ago", found[0].NormalizedFilename)
	assert.Equal(t, "old-untouched", found[1].NormalizedFilename)
}

func (suite *StoreTestSuite) testFindBlobsPendingFlags(t *testing.T) {
	store := suite.NewStore(t)

	root := mustCreateDirectory(t, store, newRoot("docs", "tenant-a"))

	created := newBlob(root, "created")
	created.Created = true
	mustCreateBlob(t, store, created)

	renamed := newBlob(root, "renamed")
	renamed.Renamed = true
	renamed.ContentUpdated = true
	mustCreateBlob(t, store, renamed)

	mustCreateBlob(t, store, newBlob(root, "quiet"))

	for _, tc := range []struct {
		name  string
		query metadata.BlobQuery
		want  []string
	}{
		{"created", metadata.BlobQuery{Created: metadata.Ptr(true)}, []string{created.ID}},
		{"renamed", metadata.BlobQuery{Renamed: metadata.Ptr(true)}, []string{renamed.ID}},
		{"content_updated", metadata.BlobQuery{ContentUpdated: metadata.Ptr(true)}, []string{renamed.ID}},
		{"parent_changed", metadata.BlobQuery{ParentChanged: metadata.Ptr(true)}, []string{}},
	} {
		t.Run(tc.name, func(t *testing.T) {
			found, err := store.FindBlobs(testContext(), tc.query, metadata.ListOptions{})
			require.NoError(t, err)
			assert.ElementsMatch(t, tc.want, ids(found))
		})
	}
}

func (suite *StoreTestSuite) testAggregateBlobs(t *testing.T) {
	store := suite.NewStore(t)

	root := mustCreateDirectory(t, store, newRoot("docs", "tenant-a"))
	for i, size := range []int64{10, 20, 30} {
		blob := newBlob(root, string(rune('a'+i)))
		blob.Size = size
		blob.Deleted = i == 2
		mustCreateBlob(t, store, blob)
	}

	agg, err := store.AggregateBlobs(testContext(), metadata.BlobQuery{
		SpaceName: metadata.Ptr("docs"),
		Deleted:   metadata.Ptr(false),
	})
	require.NoError(t, err)
	assert.Equal(t, 2, agg.Count)
	assert.Equal(t, int64(30), agg.TotalSize)

	agg, err = store.AggregateBlobs(testContext(), metadata.BlobQuery{SpaceName: metadata.Ptr("empty")})
	require.NoError(t, err)
	assert.Equal(t, 0, agg.Count)
	assert.Equal(t, int64(0), agg.TotalSize)
}

func (suite *StoreTestSuite) testUpdateBlobCompareAndSet(t *testing.T) {
	store := suite.NewStore(t)

	root := mustCreateDirectory(t, store, newRoot("docs", "tenant-a"))
	blob := newBlob(root, "a.txt")
	blob.PhysicalObjectKey = "v1"
	mustCreateBlob(t, store, blob)

	modified := baseTime.Add(time.Minute)
	changed, err := store.UpdateBlobs(testContext(), metadata.BlobQuery{
		ID:                metadata.Ptr(blob.ID),
		PhysicalObjectKey: metadata.Ptr("v1"),
	}, metadata.BlobPatch{
		PhysicalObjectKey: metadata.Ptr("v2"),
		Size:              metadata.Ptr(int64(99)),
		LastModified:      &modified,
		ContentUpdated:    metadata.Ptr(true),
	})
	require.NoError(t, err)
	assert.Equal(t, 1, changed)

	// The old token no longer matches.
	changed, err = store.UpdateBlobs(testContext(), metadata.BlobQuery{
		ID:                metadata.Ptr(blob.ID),
		PhysicalObjectKey: metadata.Ptr("v1"),
	}, metadata.BlobPatch{PhysicalObjectKey: metadata.Ptr("v3")})
	require.NoError(t, err)
	assert.Equal(t, 0, changed)

	got, err := store.GetBlob(testContext(), blob.ID)
	require.NoError(t, err)
	assert.Equal(t, "v2", got.PhysicalObjectKey)
	assert.Equal(t, int64(99), got.Size)
	assert.True(t, got.LastModified.Equal(modified))
	assert.True(t, got.ContentUpdated)
	assert.Equal(t, "a.txt", got.Filename)
}

func (suite *StoreTestSuite) testUpdateBlobConcurrentCompareAndSet(t *testing.T) {
	store := suite.NewStore(t)

	root := mustCreateDirectory(t, store, newRoot("docs", "tenant-a"))
	blob := newBlob(root, "a.txt")
	blob.PhysicalObjectKey = "v1"
	mustCreateBlob(t, store, blob)

	const writers = 8
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		winners int
	)
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			changed, err := store.UpdateBlobs(testContext(), metadata.BlobQuery{
				ID:                metadata.Ptr(blob.ID),
				PhysicalObjectKey: metadata.Ptr("v1"),
			}, metadata.BlobPatch{PhysicalObjectKey: metadata.Ptr(metadata.NewID())})
			if err != nil {
				t.Errorf("writer %d: %v", i, err)
				return
			}
			mu.Lock()
			winners += changed
			mu.Unlock()
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 1, winners)
}

func (suite *StoreTestSuite) testUpdateBlobsBulk(t *testing.T) {
	store := suite.NewStore(t)

	root := mustCreateDirectory(t, store, newRoot("docs", "tenant-a"))
	other := mustCreateDirectory(t, store, newRoot("docs", "tenant-b"))
	for _, name := range []string{"a", "b", "c"} {
		mustCreateBlob(t, store, newBlob(root, name))
	}
	untouched := mustCreateBlob(t, store, newBlob(other, "x"))

	changed, err := store.UpdateBlobs(testContext(), metadata.BlobQuery{
		ParentID: metadata.Ptr(root.ID),
		Deleted:  metadata.Ptr(false),
	}, metadata.BlobPatch{Deleted: metadata.Ptr(true)})
	require.NoError(t, err)
	assert.Equal(t, 3, changed)

	agg, err := store.AggregateBlobs(testContext(), metadata.BlobQuery{Deleted: metadata.Ptr(true)})
	require.NoError(t, err)
	assert.Equal(t, 3, agg.Count)

	got, err := store.GetBlob(testContext(), untouched.ID)
	require.NoError(t, err)
	assert.False(t, got.Deleted)
}

func (suite *StoreTestSuite) testDeleteBlobReleasesKey(t *testing.T) {
	store := suite.NewStore(t)

	root := mustCreateDirectory(t, store, newRoot("docs", "tenant-a"))
	blob := mustCreateBlob(t, store, newBlob(root, "a.txt"))

	require.NoError(t, store.DeleteBlob(testContext(), blob.ID))
	require.NoError(t, store.DeleteBlob(testContext(), blob.ID))

	_, err := store.GetBlob(testContext(), blob.ID)
	assert.True(t, metadata.IsNotFound(err))

	reuse := newBlob(root, "b.txt")
	reuse.BlobKey = blob.BlobKey
	require.NoError(t, store.CreateBlob(testContext(), reuse))
}
