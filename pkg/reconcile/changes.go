package reconcile

import (
	"context"

	"github.com/marmos91/blobspace/internal/logger"
	"github.com/marmos91/blobspace/pkg/space"
	"github.com/marmos91/blobspace/pkg/store/metadata"
)

// ChangeKind names the pending change a blob is notified for.
type ChangeKind int

const (
	// ChangeCreated is reported once after the first content write.
	ChangeCreated ChangeKind = iota

	// ChangeRenamed is reported after the blob or one of its ancestors was renamed or moved.
	ChangeRenamed

	// ChangeContentUpdated is reported after the content was replaced.
	ChangeContentUpdated

	// ChangeParentChanged is reported after the blob moved to another directory.
	ChangeParentChanged
)

func (k ChangeKind) String() string {
	switch k {
	case ChangeCreated:
		return "created"
	case ChangeRenamed:
		return "renamed"
	case ChangeContentUpdated:
		return "content_updated"
	case ChangeParentChanged:
		return "parent_changed"
	default:
		return "unknown"
	}
}

// ChangeHandler is notified of blob changes, e.g. by a search indexer.
//
// Handlers run at least once per change: a tick that fails after calling
// the handler but before clearing the flag repeats the notification.
type ChangeHandler interface {
	HandleBlobChange(ctx context.Context, sp *space.Space, kind ChangeKind, blob *metadata.Blob) error
}

// ChangeHandlerFunc adapts a function to ChangeHandler.
type ChangeHandlerFunc func(ctx context.Context, sp *space.Space, kind ChangeKind, blob *metadata.Blob) error

// HandleBlobChange implements ChangeHandler.
func (f ChangeHandlerFunc) HandleBlobChange(ctx context.Context, sp *space.Space, kind ChangeKind, blob *metadata.Blob) error {
	return f(ctx, sp, kind, blob)
}

// ChangeProcessor drains the change flags set by the space operations.
//
// Per tick and space, renamed directories are handled first: the flag is
// pushed down to their immediate children, so a rename reaches the whole
// subtree over successive ticks. Then blobs are notified in the order
// parent changed, created, renamed, content updated. A flag is cleared
// after its handlers ran, whether or not they failed.
type ChangeProcessor struct {
	spaces    []*space.Space
	handlers  []ChangeHandler
	batchSize int
}

// NewChangeProcessor creates the processor for spaces.
func NewChangeProcessor(spaces []*space.Space, handlers []ChangeHandler, batchSize int) *ChangeProcessor {
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	return &ChangeProcessor{spaces: spaces, handlers: handlers, batchSize: batchSize}
}

// Name implements Task.
func (p *ChangeProcessor) Name() string {
	return "changes"
}

// Run implements Task.
func (p *ChangeProcessor) Run(ctx context.Context, stats *Stats) error {
	for _, sp := range p.spaces {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := p.propagateRenames(ctx, sp, stats); err != nil {
			return err
		}
		for _, kind := range []ChangeKind{ChangeParentChanged, ChangeCreated, ChangeRenamed, ChangeContentUpdated} {
			if err := p.processBlobs(ctx, sp, kind, stats); err != nil {
				return err
			}
		}
	}
	return nil
}

func (p *ChangeProcessor) propagateRenames(ctx context.Context, sp *space.Space, stats *Stats) error {
	store := sp.Metadata()

	dirs, err := store.FindDirectories(ctx, metadata.DirectoryQuery{
		SpaceName: metadata.Ptr(sp.Name()),
		Renamed:   metadata.Ptr(true),
		Deleted:   metadata.Ptr(false),
	}, metadata.ListOptions{Limit: p.batchSize, Order: metadata.OrderByCreated})
	if err != nil {
		return err
	}

	for _, dir := range dirs {
		if _, err := store.UpdateDirectories(ctx, metadata.DirectoryQuery{
			SpaceName: metadata.Ptr(sp.Name()),
			ParentID:  metadata.Ptr(dir.ID),
			Deleted:   metadata.Ptr(false),
		}, metadata.DirectoryPatch{Renamed: metadata.Ptr(true)}); err != nil {
			logger.Warn("Reconcile[changes]: space %s: failed to propagate rename of directory %s: %v", sp.Name(), dir.ID, err)
			stats.Add("failed", 1)
			continue
		}

		// Blobs still waiting for their creation notice need no rename notice.
		if _, err := store.UpdateBlobs(ctx, metadata.BlobQuery{
			SpaceName: metadata.Ptr(sp.Name()),
			ParentID:  metadata.Ptr(dir.ID),
			Created:   metadata.Ptr(false),
			Deleted:   metadata.Ptr(false),
		}, metadata.BlobPatch{Renamed: metadata.Ptr(true)}); err != nil {
			logger.Warn("Reconcile[changes]: space %s: failed to propagate rename of directory %s: %v", sp.Name(), dir.ID, err)
			stats.Add("failed", 1)
			continue
		}

		if _, err := store.UpdateDirectories(ctx,
			metadata.DirectoryQuery{ID: metadata.Ptr(dir.ID)},
			metadata.DirectoryPatch{Renamed: metadata.Ptr(false)}); err != nil {
			logger.Warn("Reconcile[changes]: space %s: failed to clear rename of directory %s: %v", sp.Name(), dir.ID, err)
			stats.Add("failed", 1)
			continue
		}
		stats.Add("directories", 1)
	}
	return nil
}

func (p *ChangeProcessor) processBlobs(ctx context.Context, sp *space.Space, kind ChangeKind, stats *Stats) error {
	store := sp.Metadata()

	query := metadata.BlobQuery{
		SpaceName: metadata.Ptr(sp.Name()),
		Committed: metadata.Ptr(true),
		Deleted:   metadata.Ptr(false),
	}
	reset := metadata.BlobPatch{}
	switch kind {
	case ChangeCreated:
		query.Created = metadata.Ptr(true)
		reset.Created = metadata.Ptr(false)
	case ChangeRenamed:
		query.Renamed = metadata.Ptr(true)
		reset.Renamed = metadata.Ptr(false)
	case ChangeContentUpdated:
		query.ContentUpdated = metadata.Ptr(true)
		reset.ContentUpdated = metadata.Ptr(false)
	case ChangeParentChanged:
		query.ParentChanged = metadata.Ptr(true)
		reset.ParentChanged = metadata.Ptr(false)
	}

	blobs, err := store.FindBlobs(ctx, query, metadata.ListOptions{Limit: p.batchSize, Order: metadata.OrderByCreated})
	if err != nil {
		return err
	}

	for _, blob := range blobs {
		for _, handler := range p.handlers {
			if err := handler.HandleBlobChange(ctx, sp, kind, blob); err != nil {
				logger.Warn("Reconcile[changes]: space %s: %s handler failed for blob %s: %v", sp.Name(), kind, blob.BlobKey, err)
				stats.Add("handler_errors", 1)
			}
		}

		if _, err := store.UpdateBlobs(ctx, metadata.BlobQuery{ID: metadata.Ptr(blob.ID)}, reset); err != nil {
			logger.Warn("Reconcile[changes]: space %s: failed to clear %s flag of blob %s: %v", sp.Name(), kind, blob.BlobKey, err)
			stats.Add("failed", 1)
			continue
		}
		stats.Add(kind.String(), 1)
	}
	return nil
}
