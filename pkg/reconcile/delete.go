package reconcile

import (
	"context"

	"github.com/marmos91/blobspace/internal/logger"
	"github.com/marmos91/blobspace/pkg/space"
	"github.com/marmos91/blobspace/pkg/store/metadata"
)

// DefaultBatchSize bounds the rows selected per space and tick.
const DefaultBatchSize = 256

// DeleteSweeper hard-deletes soft-deleted directories and blobs.
//
// A deleted directory marks its immediate children as deleted and is then
// removed. Its grandchildren are reached on the next tick, once the
// children are themselves deleted directories, so a tree of depth D takes
// D ticks to disappear.
//
// A deleted blob loses its variants and content before its row. When the
// content cannot be deleted, the row stays and the blob is retried.
type DeleteSweeper struct {
	spaces    []*space.Space
	batchSize int
}

// NewDeleteSweeper creates the sweeper for spaces.
func NewDeleteSweeper(spaces []*space.Space, batchSize int) *DeleteSweeper {
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	return &DeleteSweeper{spaces: spaces, batchSize: batchSize}
}

// Name implements Task.
func (d *DeleteSweeper) Name() string {
	return "delete"
}

// Run implements Task.
func (d *DeleteSweeper) Run(ctx context.Context, stats *Stats) error {
	for _, sp := range d.spaces {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := d.sweepDirectories(ctx, sp, stats); err != nil {
			return err
		}
		if err := d.sweepBlobs(ctx, sp, stats); err != nil {
			return err
		}
	}
	return nil
}

func (d *DeleteSweeper) sweepDirectories(ctx context.Context, sp *space.Space, stats *Stats) error {
	store := sp.Metadata()

	dirs, err := store.FindDirectories(ctx, metadata.DirectoryQuery{
		SpaceName: metadata.Ptr(sp.Name()),
		Deleted:   metadata.Ptr(true),
	}, metadata.ListOptions{Limit: d.batchSize, Order: metadata.OrderByCreated})
	if err != nil {
		return err
	}

	for _, dir := range dirs {
		children, err := store.UpdateDirectories(ctx, metadata.DirectoryQuery{
			SpaceName: metadata.Ptr(sp.Name()),
			ParentID:  metadata.Ptr(dir.ID),
			Deleted:   metadata.Ptr(false),
		}, metadata.DirectoryPatch{Deleted: metadata.Ptr(true), Renamed: metadata.Ptr(false)})
		if err != nil {
			logger.Warn("Reconcile[delete]: space %s: failed to delete children of directory %s: %v", sp.Name(), dir.ID, err)
			stats.Add("failed", 1)
			continue
		}

		blobs, err := store.UpdateBlobs(ctx, metadata.BlobQuery{
			SpaceName: metadata.Ptr(sp.Name()),
			ParentID:  metadata.Ptr(dir.ID),
			Deleted:   metadata.Ptr(false),
		}, deletedBlobPatch())
		if err != nil {
			logger.Warn("Reconcile[delete]: space %s: failed to delete blobs of directory %s: %v", sp.Name(), dir.ID, err)
			stats.Add("failed", 1)
			continue
		}

		if err := store.DeleteDirectory(ctx, dir.ID); err != nil {
			logger.Warn("Reconcile[delete]: space %s: failed to remove directory %s: %v", sp.Name(), dir.ID, err)
			stats.Add("failed", 1)
			continue
		}

		stats.Add("directories", 1)
		stats.Add("cascaded", children+blobs)
	}
	return nil
}

func (d *DeleteSweeper) sweepBlobs(ctx context.Context, sp *space.Space, stats *Stats) error {
	store := sp.Metadata()

	blobs, err := store.FindBlobs(ctx, metadata.BlobQuery{
		SpaceName: metadata.Ptr(sp.Name()),
		Deleted:   metadata.Ptr(true),
	}, metadata.ListOptions{Limit: d.batchSize, Order: metadata.OrderByCreated})
	if err != nil {
		return err
	}

	for _, blob := range blobs {
		if err := d.removeBlob(ctx, sp, blob); err != nil {
			logger.Warn("Reconcile[delete]: space %s: failed to remove blob %s: %v", sp.Name(), blob.BlobKey, err)
			stats.Add("failed", 1)
			continue
		}
		stats.Add("blobs", 1)
	}
	return nil
}

func (d *DeleteSweeper) removeBlob(ctx context.Context, sp *space.Space, blob *metadata.Blob) error {
	store := sp.Metadata()

	variants, err := store.FindVariants(ctx, metadata.VariantQuery{BlobID: metadata.Ptr(blob.ID)}, metadata.ListOptions{})
	if err != nil {
		return err
	}
	for _, v := range variants {
		if v.PhysicalObjectKey != "" {
			if err := sp.Content().Delete(ctx, v.PhysicalObjectKey); err != nil {
				return err
			}
		}
		if err := store.DeleteVariant(ctx, v.ID); err != nil {
			return err
		}
	}

	if blob.PhysicalObjectKey != "" {
		if err := sp.Content().Delete(ctx, blob.PhysicalObjectKey); err != nil {
			return err
		}
	}
	return store.DeleteBlob(ctx, blob.ID)
}

// deletedBlobPatch soft-deletes a blob. Pending change notifications of a
// deleted blob are dropped.
func deletedBlobPatch() metadata.BlobPatch {
	return metadata.BlobPatch{
		Deleted:        metadata.Ptr(true),
		Created:        metadata.Ptr(false),
		Renamed:        metadata.Ptr(false),
		ContentUpdated: metadata.Ptr(false),
		ParentChanged:  metadata.Ptr(false),
	}
}
