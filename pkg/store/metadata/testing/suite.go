// Package testing provides a conformance suite for MetadataStore implementations.
package testing

import (
	"context"
	"testing"
	"time"

	"github.com/marmos91/blobspace/pkg/store/metadata"
	"github.com/stretchr/testify/require"
)

// StoreTestSuite checks the MetadataStore contract, not implementation details,
// so the same tests run against memory, badger and SQL backends.
//
// Usage:
//
//	func TestMyMetadataStore(t *testing.T) {
//	    suite := &storetesting.StoreTestSuite{
//	        NewStore: func(t *testing.T) metadata.MetadataStore {
//	            return mystore.New()
//	        },
//	    }
//	    suite.Run(t)
//	}
type StoreTestSuite struct {
	// NewStore creates a fresh, empty store for each test.
	// Implementations register their own cleanup with t.Cleanup.
	NewStore func(t *testing.T) metadata.MetadataStore
}

// Run executes all tests in the suite.
func (suite *StoreTestSuite) Run(t *testing.T) {
	t.Run("Directories", suite.RunDirectoryTests)
	t.Run("Blobs", suite.RunBlobTests)
	t.Run("Variants", suite.RunVariantTests)
}

func testContext() context.Context {
	return context.Background()
}

// baseTime is truncated to the microsecond so that every backend round-trips it exactly.
var baseTime = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func mustCreateDirectory(t *testing.T, store metadata.MetadataStore, dir *metadata.Directory) *metadata.Directory {
	t.Helper()
	require.NoError(t, store.CreateDirectory(testContext(), dir))
	require.NotEmpty(t, dir.ID)
	return dir
}

func mustCreateBlob(t *testing.T, store metadata.MetadataStore, blob *metadata.Blob) *metadata.Blob {
	t.Helper()
	if blob.BlobKey == "" {
		blob.BlobKey = metadata.NewID()
	}
	require.NoError(t, store.CreateBlob(testContext(), blob))
	require.NotEmpty(t, blob.ID)
	return blob
}

func mustCreateVariant(t *testing.T, store metadata.MetadataStore, variant *metadata.Variant) *metadata.Variant {
	t.Helper()
	require.NoError(t, store.CreateVariant(testContext(), variant))
	require.NotEmpty(t, variant.ID)
	return variant
}

func newRoot(space, tenant string) *metadata.Directory {
	return &metadata.Directory{
		SpaceName: space,
		TenantID:  tenant,
		Committed: true,
		CreatedAt: baseTime,
	}
}

func newChild(parent *metadata.Directory, name string) *metadata.Directory {
	return &metadata.Directory{
		SpaceName:      parent.SpaceName,
		TenantID:       parent.TenantID,
		ParentID:       parent.ID,
		Name:           name,
		NormalizedName: name,
		Committed:      true,
		CreatedAt:      baseTime,
	}
}

func newBlob(parent *metadata.Directory, filename string) *metadata.Blob {
	return &metadata.Blob{
		SpaceName:          parent.SpaceName,
		TenantID:           parent.TenantID,
		ParentID:           parent.ID,
		Filename:           filename,
		NormalizedFilename: filename,
		Committed:          true,
		LastModified:       baseTime,
		CreatedAt:          baseTime,
	}
}

func ids[T interface{ *metadata.Directory | *metadata.Blob | *metadata.Variant }](items []T) []string {
	out := make([]string, 0, len(items))
	for _, item := range items {
		switch v := any(item).(type) {
		case *metadata.Directory:
			out = append(out, v.ID)
		case *metadata.Blob:
			out = append(out, v.ID)
		case *metadata.Variant:
			out = append(out, v.ID)
		}
	}
	return out
}
