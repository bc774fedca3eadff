package badger

import (
	"context"
	"testing"

	"github.com/marmos91/blobspace/pkg/store/metadata"
	storetesting "github.com/marmos91/blobspace/pkg/store/metadata/testing"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T, config BadgerMetadataStoreConfig) *BadgerMetadataStore {
	t.Helper()
	store, err := NewBadgerMetadataStore(context.Background(), config)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestBadgerMetadataStore(t *testing.T) {
	suite := &storetesting.StoreTestSuite{
		NewStore: func(t *testing.T) metadata.MetadataStore {
			return newTestStore(t, BadgerMetadataStoreConfig{DBPath: t.TempDir()})
		},
	}
	suite.Run(t)
}

func TestBadgerMetadataStore_InMemory(t *testing.T) {
	suite := &storetesting.StoreTestSuite{
		NewStore: func(t *testing.T) metadata.MetadataStore {
			return newTestStore(t, BadgerMetadataStoreConfig{InMemory: true})
		},
	}
	suite.Run(t)
}

func TestBadgerMetadataStore_Persistence(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	store, err := NewBadgerMetadataStore(ctx, BadgerMetadataStoreConfig{DBPath: dir})
	require.NoError(t, err)

	root := &metadata.Directory{SpaceName: "docs", TenantID: "t", Committed: true}
	require.NoError(t, store.CreateDirectory(ctx, root))
	blob := &metadata.Blob{BlobKey: "key-1", SpaceName: "docs", ParentID: root.ID, Filename: "a", NormalizedFilename: "a"}
	require.NoError(t, store.CreateBlob(ctx, blob))
	require.NoError(t, store.Close())

	reopened := newTestStore(t, BadgerMetadataStoreConfig{DBPath: dir})

	found, err := reopened.FindBlobs(ctx, metadata.BlobQuery{BlobKey: metadata.Ptr("key-1")}, metadata.ListOptions{})
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.Equal(t, blob.ID, found[0].ID)
	assert.Equal(t, root.ID, found[0].ParentID)
}

func TestBadgerMetadataStore_MoveUpdatesParentIndex(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t, BadgerMetadataStoreConfig{InMemory: true})

	root := &metadata.Directory{SpaceName: "docs", TenantID: "t", Committed: true}
	require.NoError(t, store.CreateDirectory(ctx, root))
	from := &metadata.Directory{SpaceName: "docs", TenantID: "t", ParentID: root.ID, Name: "from", NormalizedName: "from"}
	to := &metadata.Directory{SpaceName: "docs", TenantID: "t", ParentID: root.ID, Name: "to", NormalizedName: "to"}
	require.NoError(t, store.CreateDirectory(ctx, from))
	require.NoError(t, store.CreateDirectory(ctx, to))

	blob := &metadata.Blob{BlobKey: "k", SpaceName: "docs", ParentID: from.ID}
	require.NoError(t, store.CreateBlob(ctx, blob))

	changed, err := store.UpdateBlobs(ctx, metadata.BlobQuery{ID: metadata.Ptr(blob.ID)}, metadata.BlobPatch{ParentID: metadata.Ptr(to.ID)})
	require.NoError(t, err)
	assert.Equal(t, 1, changed)

	inFrom, err := store.FindBlobs(ctx, metadata.BlobQuery{ParentID: metadata.Ptr(from.ID)}, metadata.ListOptions{})
	require.NoError(t, err)
	assert.Empty(t, inFrom)

	inTo, err := store.FindBlobs(ctx, metadata.BlobQuery{ParentID: metadata.Ptr(to.ID)}, metadata.ListOptions{})
	require.NoError(t, err)
	require.Len(t, inTo, 1)
	assert.Equal(t, blob.ID, inTo[0].ID)
}
