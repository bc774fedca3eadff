// Package content defines the physical byte storage used by the engine.
//
// Content is addressed by an opaque physical object key. Keys are never
// reused: every content write goes to a fresh key, and the old object is
// deleted once the metadata points at the new one.
package content

import (
	"context"
	"io"
)

// ContentStore stores immutable objects under physical object keys.
//
// Thread Safety:
// Implementations must be safe for concurrent use.
type ContentStore interface {
	// Put stores the bytes read from r under key and returns the number of
	// bytes written. size is a hint: -1 means unknown.
	Put(ctx context.Context, key string, r io.Reader, size int64) (int64, error)

	// Get opens the object stored under key. The caller closes the reader.
	// Returns ErrContentNotFound if the key does not exist.
	Get(ctx context.Context, key string) (io.ReadCloser, error)

	// Delete removes the object. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error

	// Exists reports whether key is stored.
	Exists(ctx context.Context, key string) (bool, error)
}
