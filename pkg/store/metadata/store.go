// Package metadata defines the persistence contract of the storage engine:
// plain entity structs for directories, blobs and variants, typed queries and
// patches, and the MetadataStore interface every backend implements.
package metadata

import (
	"context"
)

// ============================================================================
// MetadataStore Interface
// ============================================================================

// MetadataStore persists directories, blobs and variants.
//
// The engine above never takes a lock. All cross-request coordination is
// expressed as conditional updates: Update* applies a patch to every row
// matching a query and returns how many rows changed. A query that pins the
// row id plus the expected value of a column is a compare-and-set, and the
// store must evaluate the predicate and apply the patch atomically per row.
//
// No multi-row transactions are required. Callers filter soft-deleted rows
// themselves (Deleted: Ptr(false)).
//
// Create* assigns a fresh id when the entity has none. Get* returns a
// StoreError with code ErrNotFound for unknown ids. All returned entities are
// copies owned by the caller.
//
// Thread Safety:
// Implementations must be safe for concurrent use.
type MetadataStore interface {
	// ========================================================================
	// Directories
	// ========================================================================

	// CreateDirectory inserts a new directory row.
	CreateDirectory(ctx context.Context, dir *Directory) error

	// GetDirectory fetches a directory by id.
	GetDirectory(ctx context.Context, id string) (*Directory, error)

	// FindDirectories returns the directories matching q.
	FindDirectories(ctx context.Context, q DirectoryQuery, opts ListOptions) ([]*Directory, error)

	// CountDirectories counts the directories matching q.
	CountDirectories(ctx context.Context, q DirectoryQuery) (int, error)

	// UpdateDirectories applies patch to every directory matching q.
	UpdateDirectories(ctx context.Context, q DirectoryQuery, patch DirectoryPatch) (int, error)

	// DeleteDirectory removes a directory row. Deleting a missing row is not an error.
	DeleteDirectory(ctx context.Context, id string) error

	// ========================================================================
	// Blobs
	// ========================================================================

	// CreateBlob inserts a new blob row. The blob key must be unique.
	CreateBlob(ctx context.Context, blob *Blob) error

	// GetBlob fetches a blob by id.
	GetBlob(ctx context.Context, id string) (*Blob, error)

	// FindBlobs returns the blobs matching q.
	FindBlobs(ctx context.Context, q BlobQuery, opts ListOptions) ([]*Blob, error)

	// AggregateBlobs counts the blobs matching q and sums their sizes.
	AggregateBlobs(ctx context.Context, q BlobQuery) (Aggregate, error)

	// UpdateBlobs applies patch to every blob matching q.
	UpdateBlobs(ctx context.Context, q BlobQuery, patch BlobPatch) (int, error)

	// DeleteBlob removes a blob row. Deleting a missing row is not an error.
	DeleteBlob(ctx context.Context, id string) error

	// ========================================================================
	// Variants
	// ========================================================================

	// CreateVariant inserts a new variant row.
	CreateVariant(ctx context.Context, variant *Variant) error

	// GetVariant fetches a variant by id.
	GetVariant(ctx context.Context, id string) (*Variant, error)

	// FindVariants returns the variants matching q.
	FindVariants(ctx context.Context, q VariantQuery, opts ListOptions) ([]*Variant, error)

	// CountVariants counts the variants matching q.
	CountVariants(ctx context.Context, q VariantQuery) (int, error)

	// UpdateVariants applies patch to every variant matching q.
	UpdateVariants(ctx context.Context, q VariantQuery, patch VariantPatch) (int, error)

	// DeleteVariant removes a variant row. Deleting a missing row is not an error.
	DeleteVariant(ctx context.Context, id string) error

	// DeleteVariants removes every variant matching q.
	DeleteVariants(ctx context.Context, q VariantQuery) (int, error)

	// ========================================================================
	// Lifecycle
	// ========================================================================

	// Close releases the resources held by the store.
	Close() error
}
