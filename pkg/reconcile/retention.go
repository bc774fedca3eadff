package reconcile

import (
	"context"
	"time"

	"github.com/marmos91/blobspace/internal/logger"
	"github.com/marmos91/blobspace/pkg/space"
	"github.com/marmos91/blobspace/pkg/store/metadata"
)

// DefaultTemporaryGrace is the age after which unused temporary blobs are deleted.
const DefaultTemporaryGrace = 4 * time.Hour

// RetentionSweeper soft-deletes expired blobs:
//   - temporary blobs not modified within the grace period
//   - in spaces with a retention period, blobs neither modified nor (with
//     touch tracking) read within that period
type RetentionSweeper struct {
	spaces         []*space.Space
	temporaryGrace time.Duration
}

// NewRetentionSweeper creates the sweeper for spaces.
func NewRetentionSweeper(spaces []*space.Space, temporaryGrace time.Duration) *RetentionSweeper {
	if temporaryGrace <= 0 {
		temporaryGrace = DefaultTemporaryGrace
	}
	return &RetentionSweeper{spaces: spaces, temporaryGrace: temporaryGrace}
}

// Name implements Task.
func (r *RetentionSweeper) Name() string {
	return "retention"
}

// Run implements Task.
func (r *RetentionSweeper) Run(ctx context.Context, stats *Stats) error {
	for _, sp := range r.spaces {
		if err := ctx.Err(); err != nil {
			return err
		}

		now := sp.Now()
		n, err := sp.Metadata().UpdateBlobs(ctx, metadata.BlobQuery{
			SpaceName:          metadata.Ptr(sp.Name()),
			Temporary:          metadata.Ptr(true),
			Deleted:            metadata.Ptr(false),
			LastModifiedBefore: now.Add(-r.temporaryGrace),
		}, deletedBlobPatch())
		if err != nil {
			logger.Warn("Reconcile[retention]: space %s: failed to delete temporary blobs: %v", sp.Name(), err)
			stats.Add("failed", 1)
		} else {
			stats.Add("temporary", n)
		}

		settings := sp.Settings()
		if settings.RetentionDays <= 0 {
			continue
		}

		horizon := now.Add(-time.Duration(settings.RetentionDays) * 24 * time.Hour)
		query := metadata.BlobQuery{
			SpaceName:          metadata.Ptr(sp.Name()),
			Committed:          metadata.Ptr(true),
			Deleted:            metadata.Ptr(false),
			LastModifiedBefore: horizon,
		}
		if settings.TouchTracking {
			query.LastTouchedBeforeOrUnset = horizon
		}

		n, err = sp.Metadata().UpdateBlobs(ctx, query, deletedBlobPatch())
		if err != nil {
			logger.Warn("Reconcile[retention]: space %s: failed to delete expired blobs: %v", sp.Name(), err)
			stats.Add("failed", 1)
			continue
		}
		if n > 0 {
			logger.Info("Reconcile[retention]: space %s: deleted %d blob(s) older than %d days", sp.Name(), n, settings.RetentionDays)
		}
		stats.Add("expired", n)
	}
	return nil
}
