package memory

import (
	"context"
	"strings"
	"testing"

	"github.com/marmos91/blobspace/pkg/store/content"
	contenttesting "github.com/marmos91/blobspace/pkg/store/content/testing"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestMemoryContentStore runs the complete ContentStore test suite
// against the MemoryContentStore implementation.
func TestMemoryContentStore(t *testing.T) {
	suite := &contenttesting.StoreTestSuite{
		NewStore: func(t *testing.T) content.ContentStore {
			return NewMemoryContentStore()
		},
	}

	suite.Run(t)
}

func TestMemoryContentStore_Keys(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryContentStore()

	_, err := store.Put(ctx, "a/1", strings.NewReader("one"), 3)
	require.NoError(t, err)
	_, err = store.Put(ctx, "a/2", strings.NewReader("two"), -1)
	require.NoError(t, err)

	assert.Equal(t, 2, store.Len())
	assert.ElementsMatch(t, []string{"a/1", "a/2"}, store.Keys())
}
