// Package space implements the storage engine: per-space directory trees,
// blobs with versioned content, attachments to owning records and derived
// variants.
//
// Nothing in this package takes a lock. Uniqueness is established by an
// insert followed by a re-check (see findOrCreate), and content updates and
// variant claims are compare-and-set updates on a single column. Work that
// can happen later (cascading deletes, change notifications, retention)
// is left to the loops of pkg/reconcile, driven by flags set here.
package space

import (
	"context"
	"time"

	"github.com/marmos91/blobspace/pkg/store/content"
	"github.com/marmos91/blobspace/pkg/store/metadata"
)

// Space is a named, tenant-partitioned namespace of directories and blobs.
//
// Thread Safety:
// Safe for concurrent use. Any number of processes may operate on the same
// space through a shared metadata store.
type Space struct {
	name       string
	settings   Settings
	opts       Options
	store      metadata.MetadataStore
	content    content.ContentStore
	node       string
	now        Clock
	dispatcher Dispatcher
	toucher    Toucher
	metrics    Metrics
}

func newSpace(settings Settings, deps Dependencies) *Space {
	return &Space{
		name:       settings.Name,
		settings:   settings,
		opts:       deps.Options,
		store:      deps.Metadata,
		content:    deps.Content,
		node:       deps.Node,
		now:        deps.Clock,
		dispatcher: deps.Dispatcher,
		toucher:    deps.Toucher,
		metrics:    deps.Metrics,
	}
}

// Name returns the name of the space.
func (s *Space) Name() string {
	return s.name
}

// Settings returns the configuration of the space.
func (s *Space) Settings() Settings {
	return s.settings
}

// Node returns the name this process uses in variant claims.
func (s *Space) Node() string {
	return s.node
}

// Metadata returns the persistence adapter of the space.
func (s *Space) Metadata() metadata.MetadataStore {
	return s.store
}

// Content returns the content store of the space.
func (s *Space) Content() content.ContentStore {
	return s.content
}

// ConversionEnabled reports whether missing variants can be created.
func (s *Space) ConversionEnabled() bool {
	return s.dispatcher != nil
}

// Now returns the current time of the space's clock.
func (s *Space) Now() time.Time {
	return s.now()
}

// checkWritable rejects mutations on read-only spaces.
func (s *Space) checkWritable(op, key string) error {
	if s.settings.ReadOnly {
		return s.newError(ErrReadOnly, op, key, "the space is read-only")
	}
	return nil
}

// observe reports an operation to the metrics sink. Use with a deferred
// call and a named error result.
func (s *Space) observe(op string, start time.Time, err *error) {
	s.metrics.ObserveOperation(s.name, op, time.Since(start), *err)
}

// ============================================================================
// Statistics
// ============================================================================

// Stats summarizes the live contents of a space.
type Stats struct {
	Directories     int
	Blobs           int
	BlobBytes       int64
	ReferencedBlobs int
	ReferencedBytes int64
}

// Statistics counts live directories and blobs, optionally for one tenant.
// Referenced blobs are counted across all tenants.
func (s *Space) Statistics(ctx context.Context, tenantID string) (Stats, error) {
	const op = "statistics"

	dirQuery := metadata.DirectoryQuery{
		SpaceName: metadata.Ptr(s.name),
		Committed: metadata.Ptr(true),
		Deleted:   metadata.Ptr(false),
	}
	blobQuery := metadata.BlobQuery{
		SpaceName: metadata.Ptr(s.name),
		Committed: metadata.Ptr(true),
		Deleted:   metadata.Ptr(false),
	}
	if tenantID != "" {
		dirQuery.TenantID = metadata.Ptr(tenantID)
		blobQuery.TenantID = metadata.Ptr(tenantID)
	}

	directories, err := s.store.CountDirectories(ctx, dirQuery)
	if err != nil {
		return Stats{}, s.annotate(err, op, tenantID)
	}

	blobs, err := s.store.AggregateBlobs(ctx, blobQuery)
	if err != nil {
		return Stats{}, s.annotate(err, op, tenantID)
	}

	all, err := s.store.AggregateBlobs(ctx, metadata.BlobQuery{
		SpaceName: metadata.Ptr(s.name),
		Committed: metadata.Ptr(true),
		Deleted:   metadata.Ptr(false),
	})
	if err != nil {
		return Stats{}, s.annotate(err, op, tenantID)
	}
	unreferenced, err := s.store.AggregateBlobs(ctx, metadata.BlobQuery{
		SpaceName:   metadata.Ptr(s.name),
		Committed:   metadata.Ptr(true),
		Deleted:     metadata.Ptr(false),
		ReferenceID: metadata.Ptr(""),
	})
	if err != nil {
		return Stats{}, s.annotate(err, op, tenantID)
	}

	return Stats{
		Directories:     directories,
		Blobs:           blobs.Count,
		BlobBytes:       blobs.TotalSize,
		ReferencedBlobs: all.Count - unreferenced.Count,
		ReferencedBytes: all.TotalSize - unreferenced.TotalSize,
	}, nil
}
