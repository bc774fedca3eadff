// Package testing provides a conformance suite for ContentStore
// implementations.
package testing

import (
	"bytes"
	"context"
	"crypto/rand"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"

	"github.com/marmos91/blobspace/pkg/store/content"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// StoreTestSuite tests the ContentStore contract, not implementation
// details, so every store (memory, filesystem, S3) runs the same cases.
//
// Usage:
//
//	func TestMyContentStore(t *testing.T) {
//	    suite := &testing.StoreTestSuite{
//	        NewStore: func(t *testing.T) content.ContentStore {
//	            return mystore.New()
//	        },
//	    }
//	    suite.Run(t)
//	}
type StoreTestSuite struct {
	// NewStore creates a fresh store for each test.
	NewStore func(t *testing.T) content.ContentStore

	// LargeObjectSize, when non-zero, adds a round trip of that many bytes.
	// Stores with a multipart path set it above their part size.
	LargeObjectSize int
}

// Run executes all tests in the suite.
func (suite *StoreTestSuite) Run(t *testing.T) {
	t.Run("PutGet", suite.testPutGet)
	t.Run("UnknownSize", suite.testUnknownSize)
	t.Run("EmptyObject", suite.testEmptyObject)
	t.Run("Overwrite", suite.testOverwrite)
	t.Run("GetMissing", suite.testGetMissing)
	t.Run("Delete", suite.testDelete)
	t.Run("InvalidKey", suite.testInvalidKey)
	t.Run("Concurrent", suite.testConcurrent)
	if suite.LargeObjectSize > 0 {
		t.Run("LargeObject", suite.testLargeObject)
	}
}

func (suite *StoreTestSuite) testPutGet(t *testing.T) {
	ctx := context.Background()
	store := suite.NewStore(t)
	key := content.NewKey("docs")
	payload := []byte("hello, blobspace")

	n := mustPut(t, store, key, payload)
	assert.Equal(t, int64(len(payload)), n)

	assert.Equal(t, payload, mustGet(t, store, key))

	exists, err := store.Exists(ctx, key)
	require.NoError(t, err)
	assert.True(t, exists)
}

func (suite *StoreTestSuite) testUnknownSize(t *testing.T) {
	store := suite.NewStore(t)
	key := content.NewKey("docs")
	payload := bytes.Repeat([]byte("abc"), 1000)

	n, err := store.Put(context.Background(), key, bytes.NewReader(payload), -1)
	require.NoError(t, err)
	assert.Equal(t, int64(len(payload)), n)
	assert.Equal(t, payload, mustGet(t, store, key))
}

func (suite *StoreTestSuite) testEmptyObject(t *testing.T) {
	store := suite.NewStore(t)
	key := content.NewKey("docs")

	assert.Equal(t, int64(0), mustPut(t, store, key, nil))
	assert.Empty(t, mustGet(t, store, key))
}

func (suite *StoreTestSuite) testOverwrite(t *testing.T) {
	store := suite.NewStore(t)
	key := content.NewKey("docs")

	mustPut(t, store, key, []byte("first version"))
	mustPut(t, store, key, []byte("second"))
	assert.Equal(t, []byte("second"), mustGet(t, store, key))
}

func (suite *StoreTestSuite) testGetMissing(t *testing.T) {
	ctx := context.Background()
	store := suite.NewStore(t)
	key := content.NewKey("docs")

	_, err := store.Get(ctx, key)
	assert.True(t, errors.Is(err, content.ErrContentNotFound), "expected ErrContentNotFound, got %v", err)

	exists, err := store.Exists(ctx, key)
	require.NoError(t, err)
	assert.False(t, exists)
}

func (suite *StoreTestSuite) testDelete(t *testing.T) {
	ctx := context.Background()
	store := suite.NewStore(t)
	key := content.NewKey("docs")
	other := content.NewKey("docs")

	mustPut(t, store, key, []byte("doomed"))
	mustPut(t, store, other, []byte("survivor"))

	require.NoError(t, store.Delete(ctx, key))
	exists, err := store.Exists(ctx, key)
	require.NoError(t, err)
	assert.False(t, exists)

	// Deleting twice is fine.
	require.NoError(t, store.Delete(ctx, key))

	assert.Equal(t, []byte("survivor"), mustGet(t, store, other))
}

func (suite *StoreTestSuite) testInvalidKey(t *testing.T) {
	store := suite.NewStore(t)

	for _, key := range []string{"", "/abs", "a/../b"} {
		_, err := store.Put(context.Background(), key, strings.NewReader("x"), 1)
		assert.True(t, errors.Is(err, content.ErrInvalidKey), "key %q: expected ErrInvalidKey, got %v", key, err)
	}
}

func (suite *StoreTestSuite) testConcurrent(t *testing.T) {
	store := suite.NewStore(t)

	const writers = 8
	keys := make([]string, writers)
	for i := range keys {
		keys[i] = content.NewKey("concurrent")
	}

	var wg sync.WaitGroup
	errs := make(chan error, writers)
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			payload := bytes.Repeat([]byte{byte('a' + i)}, 512)
			if _, err := store.Put(context.Background(), keys[i], bytes.NewReader(payload), int64(len(payload))); err != nil {
				errs <- err
			}
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	for i, key := range keys {
		assert.Equal(t, bytes.Repeat([]byte{byte('a' + i)}, 512), mustGet(t, store, key))
	}
}

func (suite *StoreTestSuite) testLargeObject(t *testing.T) {
	store := suite.NewStore(t)
	key := content.NewKey("large")

	payload := make([]byte, suite.LargeObjectSize)
	_, err := rand.Read(payload)
	require.NoError(t, err)

	mustPut(t, store, key, payload)
	assert.Equal(t, payload, mustGet(t, store, key))
}

func mustPut(t *testing.T, store content.ContentStore, key string, payload []byte) int64 {
	t.Helper()
	n, err := store.Put(context.Background(), key, bytes.NewReader(payload), int64(len(payload)))
	require.NoError(t, err, "Put should succeed")
	return n
}

func mustGet(t *testing.T, store content.ContentStore, key string) []byte {
	t.Helper()
	reader, err := store.Get(context.Background(), key)
	require.NoError(t, err, "Get should succeed")
	defer reader.Close()

	data, err := io.ReadAll(reader)
	require.NoError(t, err, "reading content should succeed")
	return data
}
