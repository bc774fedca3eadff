// Package memory implements an in-memory content store.
//
// Intended for tests and for spaces whose content does not need to survive
// a restart.
package memory

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/marmos91/blobspace/pkg/store/content"
)

// MemoryContentStore keeps every object in a map.
//
// Thread Safety:
// All operations are protected by a RWMutex. Stored slices are never handed
// out directly: Get returns a reader over an immutable copy.
type MemoryContentStore struct {
	mu      sync.RWMutex
	objects map[string][]byte
}

// NewMemoryContentStore creates an empty store.
func NewMemoryContentStore() *MemoryContentStore {
	return &MemoryContentStore{objects: make(map[string][]byte)}
}

// Put stores the bytes read from r.
func (s *MemoryContentStore) Put(ctx context.Context, key string, r io.Reader, size int64) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if err := content.ValidateKey(key); err != nil {
		return 0, err
	}

	var buf bytes.Buffer
	if size > 0 {
		buf.Grow(int(size))
	}
	n, err := io.Copy(&buf, r)
	if err != nil {
		return 0, fmt.Errorf("failed to read content for %s: %w", key, err)
	}

	s.mu.Lock()
	s.objects[key] = buf.Bytes()
	s.mu.Unlock()

	return n, nil
}

// Get returns a reader over the stored bytes.
func (s *MemoryContentStore) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	data, ok := s.objects[key]
	s.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("content %s: %w", key, content.ErrContentNotFound)
	}

	return io.NopCloser(bytes.NewReader(data)), nil
}

// Delete removes key. Missing keys are ignored.
func (s *MemoryContentStore) Delete(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	delete(s.objects, key)
	s.mu.Unlock()
	return nil
}

// Exists reports whether key is stored.
func (s *MemoryContentStore) Exists(ctx context.Context, key string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	s.mu.RLock()
	_, ok := s.objects[key]
	s.mu.RUnlock()
	return ok, nil
}

// Len returns the number of stored objects.
func (s *MemoryContentStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.objects)
}

// Keys returns the stored keys in no particular order.
func (s *MemoryContentStore) Keys() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	keys := make([]string, 0, len(s.objects))
	for key := range s.objects {
		keys = append(keys, key)
	}
	return keys
}
