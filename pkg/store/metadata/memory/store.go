// Package memory implements an in-memory MetadataStore.
//
// All rows live in maps guarded by a single RWMutex, so every call, including
// conditional updates, is atomic. Data is lost when the process exits.
package memory

import (
	"context"
	"sync"

	"github.com/marmos91/blobspace/pkg/store/metadata"
)

// MemoryMetadataStore implements metadata.MetadataStore using maps.
//
// Characteristics:
//   - Fast: all operations are memory-speed
//   - Volatile: data lost on restart
//   - Thread-safe: protected by RWMutex
//
// Rows are copied on the way in and on the way out so callers can never
// mutate stored state behind the store's back.
type MemoryMetadataStore struct {
	mu sync.RWMutex

	directories map[string]*metadata.Directory
	blobs       map[string]*metadata.Blob
	variants    map[string]*metadata.Variant

	// blobKeys maps blob keys to blob ids and enforces key uniqueness
	blobKeys map[string]string

	closed bool
}

// NewMemoryMetadataStore creates an empty store.
func NewMemoryMetadataStore() *MemoryMetadataStore {
	return &MemoryMetadataStore{
		directories: make(map[string]*metadata.Directory),
		blobs:       make(map[string]*metadata.Blob),
		variants:    make(map[string]*metadata.Variant),
		blobKeys:    make(map[string]string),
	}
}

// Close marks the store as closed. Subsequent calls fail.
func (s *MemoryMetadataStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// check validates the context and store state. Callers hold the lock.
func (s *MemoryMetadataStore) check(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s.closed {
		return &metadata.StoreError{Code: metadata.ErrIOError, Message: "store is closed"}
	}
	return nil
}

var _ metadata.MetadataStore = (*MemoryMetadataStore)(nil)
