package testing

import (
	"testing"
	"time"

	"github.com/marmos91/blobspace/pkg/store/metadata"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// RunVariantTests executes the variant contract tests.
func (suite *StoreTestSuite) RunVariantTests(t *testing.T) {
	t.Run("Create_RoundTrip", suite.testCreateVariantRoundTrip)
	t.Run("Get_NotFound", suite.testGetVariantNotFound)
	t.Run("Find_ByBlobAndName", suite.testFindVariantsByBlobAndName)
	t.Run("Update_ClaimByAttempts", suite.testClaimVariantByAttempts)
	t.Run("Update_Completion", suite.testCompleteVariant)
	t.Run("DeleteVariants_ByBlob", suite.testDeleteVariantsByBlob)
}

func (suite *StoreTestSuite) testCreateVariantRoundTrip(t *testing.T) {
	store := suite.NewStore(t)

	variant := mustCreateVariant(t, store, &metadata.Variant{
		BlobID:      "blob-1",
		VariantName: "thumbnail",
		CreatedAt:   baseTime,
	})

	got, err := store.GetVariant(testContext(), variant.ID)
	require.NoError(t, err)
	assert.Equal(t, "blob-1", got.BlobID)
	assert.Equal(t, "thumbnail", got.VariantName)
	assert.False(t, got.QueuedForConversion)
	assert.Equal(t, 0, got.NumAttempts)
	assert.True(t, got.LastConversionAttempt.IsZero())
	assert.False(t, got.IsCompleted())
}

func (suite *StoreTestSuite) testGetVariantNotFound(t *testing.T) {
	store := suite.NewStore(t)

	_, err := store.GetVariant(testContext(), metadata.NewID())
	assert.True(t, metadata.IsNotFound(err), "expected not found, got %v", err)
}

func (suite *StoreTestSuite) testFindVariantsByBlobAndName(t *testing.T) {
	store := suite.NewStore(t)

	first := mustCreateVariant(t, store, &metadata.Variant{BlobID: "blob-1", VariantName: "thumbnail", CreatedAt: baseTime})
	second := mustCreateVariant(t, store, &metadata.Variant{BlobID: "blob-1", VariantName: "thumbnail", CreatedAt: baseTime.Add(time.Second)})
	mustCreateVariant(t, store, &metadata.Variant{BlobID: "blob-1", VariantName: "preview", CreatedAt: baseTime})
	mustCreateVariant(t, store, &metadata.Variant{BlobID: "blob-2", VariantName: "thumbnail", CreatedAt: baseTime})

	found, err := store.FindVariants(testContext(), metadata.VariantQuery{
		BlobID:      metadata.Ptr("blob-1"),
		VariantName: metadata.Ptr("thumbnail"),
	}, metadata.ListOptions{Order: metadata.OrderByCreated})
	require.NoError(t, err)
	require.Len(t, found, 2)
	assert.Equal(t, first.ID, found[0].ID)
	assert.Equal(t, second.ID, found[1].ID)

	count, err := store.CountVariants(testContext(), metadata.VariantQuery{
		BlobID:      metadata.Ptr("blob-1"),
		VariantName: metadata.Ptr("thumbnail"),
		ExcludeID:   first.ID,
	})
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func (suite *StoreTestSuite) testClaimVariantByAttempts(t *testing.T) {
	store := suite.NewStore(t)

	variant := mustCreateVariant(t, store, &metadata.Variant{BlobID: "blob-1", VariantName: "thumbnail"})

	claim := func(node string) int {
		now := baseTime
		changed, err := store.UpdateVariants(testContext(), metadata.VariantQuery{
			ID:          metadata.Ptr(variant.ID),
			NumAttempts: metadata.Ptr(0),
		}, metadata.VariantPatch{
			NumAttempts:           metadata.Ptr(1),
			QueuedForConversion:   metadata.Ptr(true),
			LastConversionAttempt: &now,
			Node:                  metadata.Ptr(node),
		})
		require.NoError(t, err)
		return changed
	}

	assert.Equal(t, 1, claim("node-a"))
	assert.Equal(t, 0, claim("node-b"))

	got, err := store.GetVariant(testContext(), variant.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, got.NumAttempts)
	assert.True(t, got.QueuedForConversion)
	assert.Equal(t, "node-a", got.Node)
	assert.True(t, got.LastConversionAttempt.Equal(baseTime))
}

func (suite *StoreTestSuite) testCompleteVariant(t *testing.T) {
	store := suite.NewStore(t)

	variant := mustCreateVariant(t, store, &metadata.Variant{
		BlobID:              "blob-1",
		VariantName:         "thumbnail",
		QueuedForConversion: true,
		NumAttempts:         1,
	})

	changed, err := store.UpdateVariants(testContext(), metadata.VariantQuery{ID: metadata.Ptr(variant.ID)}, metadata.VariantPatch{
		QueuedForConversion: metadata.Ptr(false),
		PhysicalObjectKey:   metadata.Ptr("variant-object"),
		Size:                metadata.Ptr(int64(512)),
		Checksum:            metadata.Ptr("sum"),
		ConversionDuration:  metadata.Ptr(1500 * time.Millisecond),
		QueueDuration:       metadata.Ptr(20 * time.Millisecond),
		TransferDuration:    metadata.Ptr(5 * time.Millisecond),
	})
	require.NoError(t, err)
	assert.Equal(t, 1, changed)

	completed, err := store.FindVariants(testContext(), metadata.VariantQuery{
		BlobID:            metadata.Ptr("blob-1"),
		HasPhysicalObject: metadata.Ptr(true),
	}, metadata.ListOptions{})
	require.NoError(t, err)
	require.Len(t, completed, 1)

	got := completed[0]
	assert.True(t, got.IsCompleted())
	assert.False(t, got.QueuedForConversion)
	assert.Equal(t, int64(512), got.Size)
	assert.Equal(t, "sum", got.Checksum)
	assert.Equal(t, 1500*time.Millisecond, got.ConversionDuration)
	assert.Equal(t, 20*time.Millisecond, got.QueueDuration)
	assert.Equal(t, 5*time.Millisecond, got.TransferDuration)
}

func (suite *StoreTestSuite) testDeleteVariantsByBlob(t *testing.T) {
	store := suite.NewStore(t)

	mustCreateVariant(t, store, &metadata.Variant{BlobID: "blob-1", VariantName: "thumbnail"})
	mustCreateVariant(t, store, &metadata.Variant{BlobID: "blob-1", VariantName: "preview"})
	keep := mustCreateVariant(t, store, &metadata.Variant{BlobID: "blob-2", VariantName: "thumbnail"})

	deleted, err := store.DeleteVariants(testContext(), metadata.VariantQuery{BlobID: metadata.Ptr("blob-1")})
	require.NoError(t, err)
	assert.Equal(t, 2, deleted)

	remaining, err := store.FindVariants(testContext(), metadata.VariantQuery{}, metadata.ListOptions{})
	require.NoError(t, err)
	require.Len(t, remaining, 1)
	assert.Equal(t, keep.ID, remaining[0].ID)

	require.NoError(t, store.DeleteVariant(testContext(), keep.ID))
	require.NoError(t, store.DeleteVariant(testContext(), keep.ID))
}
