package space

import (
	"context"
	"time"

	"github.com/marmos91/blobspace/internal/logger"
	"github.com/marmos91/blobspace/pkg/store/metadata"
)

// An attached blob belongs to a field of an owning record, identified by
// the pair (referenceID, designator). Blobs attached by name instead carry
// an empty designator and are unique by filename per reference.

// FindAttachedBlob returns the blob attached to (referenceID, designator), or nil.
func (s *Space) FindAttachedBlob(ctx context.Context, referenceID, designator string) (*metadata.Blob, error) {
	if referenceID == "" || designator == "" {
		return nil, nil
	}

	blobs, err := s.store.FindBlobs(ctx, metadata.BlobQuery{
		SpaceName:           metadata.Ptr(s.name),
		ReferenceID:         metadata.Ptr(referenceID),
		ReferenceDesignator: metadata.Ptr(designator),
		Committed:           metadata.Ptr(true),
		Deleted:             metadata.Ptr(false),
	}, metadata.ListOptions{Limit: 1, Order: metadata.OrderByCreated})
	if err != nil {
		return nil, s.annotate(err, "find attached blob", referenceID)
	}
	if len(blobs) == 0 {
		return nil, nil
	}
	return blobs[0], nil
}

// FindAttachedBlobByName returns the blob named filename attached to referenceID, or nil.
func (s *Space) FindAttachedBlobByName(ctx context.Context, referenceID, filename string) (*metadata.Blob, error) {
	name, ok := sanitizeName(filename)
	if referenceID == "" || !ok {
		return nil, nil
	}

	blobs, err := s.store.FindBlobs(ctx, s.attachedByName(referenceID, name, true), metadata.ListOptions{Limit: 1, Order: metadata.OrderByCreated})
	if err != nil {
		return nil, s.annotate(err, "find attached blob", referenceID)
	}
	if len(blobs) == 0 {
		return nil, nil
	}
	return blobs[0], nil
}

// FindOrCreateAttachedBlobByName returns the blob named filename attached
// to referenceID, creating an empty one if needed.
func (s *Space) FindOrCreateAttachedBlobByName(ctx context.Context, referenceID, filename string) (blob *metadata.Blob, err error) {
	const op = "create attached blob"
	defer s.observe(op, time.Now(), &err)

	if referenceID == "" {
		return nil, s.newError(ErrInvalidArgument, op, filename, "a reference is required")
	}
	name, ok := sanitizeName(filename)
	if !ok {
		return nil, s.newError(ErrInvalidArgument, op, referenceID, "invalid filename")
	}

	blob, err = s.findOrCreateBlob(ctx, op, s.attachedByName(referenceID, name, false), func() *metadata.Blob {
		return &metadata.Blob{ReferenceID: referenceID}
	}, name)
	if err != nil {
		return nil, s.annotate(err, op, referenceID)
	}
	return blob, nil
}

// ListAttachedBlobs lists every live blob attached to referenceID.
func (s *Space) ListAttachedBlobs(ctx context.Context, referenceID string) ([]*metadata.Blob, error) {
	if referenceID == "" {
		return nil, nil
	}

	blobs, err := s.store.FindBlobs(ctx, metadata.BlobQuery{
		SpaceName:   metadata.Ptr(s.name),
		ReferenceID: metadata.Ptr(referenceID),
		Committed:   metadata.Ptr(true),
		Deleted:     metadata.Ptr(false),
	}, metadata.ListOptions{Order: metadata.OrderByName})
	if err != nil {
		return nil, s.annotate(err, "list attached blobs", referenceID)
	}
	return blobs, nil
}

// AttachBlobByType makes the blob with blobKey the one attached to
// (referenceID, designator). The previous occupant of the pair is detached
// first. The blob itself must be committed, permanent, live and unattached;
// otherwise ErrInUse is returned.
func (s *Space) AttachBlobByType(ctx context.Context, blobKey, referenceID, designator string) (blob *metadata.Blob, err error) {
	const op = "attach"
	defer s.observe(op, time.Now(), &err)

	if err := s.checkWritable(op, blobKey); err != nil {
		return nil, err
	}
	if blobKey == "" || referenceID == "" || designator == "" {
		return nil, s.newError(ErrInvalidArgument, op, blobKey, "a blob key, a reference and a designator are required")
	}

	detached, err := s.store.UpdateBlobs(ctx, metadata.BlobQuery{
		SpaceName:           metadata.Ptr(s.name),
		ReferenceID:         metadata.Ptr(referenceID),
		ReferenceDesignator: metadata.Ptr(designator),
		Temporary:           metadata.Ptr(false),
		Committed:           metadata.Ptr(true),
		Deleted:             metadata.Ptr(false),
	}, metadata.BlobPatch{
		ReferenceID:         metadata.Ptr(""),
		ReferenceDesignator: metadata.Ptr(""),
	})
	if err != nil {
		return nil, s.annotate(err, op, blobKey)
	}
	if detached > 0 {
		logger.Debug("Space %s: detached %d blob(s) from %s/%s", s.name, detached, referenceID, designator)
	}

	n, err := s.store.UpdateBlobs(ctx, metadata.BlobQuery{
		SpaceName:           metadata.Ptr(s.name),
		BlobKey:             metadata.Ptr(blobKey),
		ReferenceID:         metadata.Ptr(""),
		ReferenceDesignator: metadata.Ptr(""),
		Temporary:           metadata.Ptr(false),
		Committed:           metadata.Ptr(true),
		Deleted:             metadata.Ptr(false),
	}, metadata.BlobPatch{
		ReferenceID:         metadata.Ptr(referenceID),
		ReferenceDesignator: metadata.Ptr(designator),
	})
	if err != nil {
		return nil, s.annotate(err, op, blobKey)
	}
	if n == 0 {
		return nil, s.newError(ErrInUse, op, blobKey, "the blob is either deleted, temporary or already in use")
	}

	return s.FindByBlobKey(ctx, blobKey)
}

// AttachTemporaryBlob attaches a temporary blob to referenceID and makes
// it permanent.
func (s *Space) AttachTemporaryBlob(ctx context.Context, blobKey, referenceID string) (blob *metadata.Blob, err error) {
	const op = "attach temporary blob"
	defer s.observe(op, time.Now(), &err)

	if err := s.checkWritable(op, blobKey); err != nil {
		return nil, err
	}
	if blobKey == "" || referenceID == "" {
		return nil, s.newError(ErrInvalidArgument, op, blobKey, "a blob key and a reference are required")
	}

	n, err := s.store.UpdateBlobs(ctx, metadata.BlobQuery{
		SpaceName: metadata.Ptr(s.name),
		BlobKey:   metadata.Ptr(blobKey),
		Temporary: metadata.Ptr(true),
		Committed: metadata.Ptr(true),
		Deleted:   metadata.Ptr(false),
	}, metadata.BlobPatch{
		ReferenceID: metadata.Ptr(referenceID),
		Temporary:   metadata.Ptr(false),
	})
	if err != nil {
		return nil, s.annotate(err, op, blobKey)
	}
	if n == 0 {
		return nil, s.newError(ErrInUse, op, blobKey, "the blob is either deleted, permanent or already in use")
	}

	return s.FindByBlobKey(ctx, blobKey)
}

// DeleteAttachedBlobs soft-deletes every blob attached to referenceID.
func (s *Space) DeleteAttachedBlobs(ctx context.Context, referenceID string) (int, error) {
	if referenceID == "" {
		return 0, nil
	}
	return s.deleteMatching(ctx, "delete attached blobs", referenceID, metadata.BlobQuery{
		SpaceName:   metadata.Ptr(s.name),
		ReferenceID: metadata.Ptr(referenceID),
		Deleted:     metadata.Ptr(false),
	})
}

// DeleteReferencedBlobs soft-deletes the blobs attached to (referenceID,
// designator) except the one with excludedBlobKey.
func (s *Space) DeleteReferencedBlobs(ctx context.Context, referenceID, designator, excludedBlobKey string) (int, error) {
	if referenceID == "" || designator == "" {
		return 0, nil
	}
	return s.deleteMatching(ctx, "delete referenced blobs", referenceID, metadata.BlobQuery{
		SpaceName:           metadata.Ptr(s.name),
		ReferenceID:         metadata.Ptr(referenceID),
		ReferenceDesignator: metadata.Ptr(designator),
		Deleted:             metadata.Ptr(false),
		ExcludeBlobKey:      excludedBlobKey,
	})
}

func (s *Space) deleteMatching(ctx context.Context, op, key string, q metadata.BlobQuery) (int, error) {
	if err := s.checkWritable(op, key); err != nil {
		return 0, err
	}

	// Deletion clears the change flags regardless of the current row.
	patch := trackChanges(&metadata.Blob{}, metadata.BlobPatch{Deleted: metadata.Ptr(true)})
	n, err := s.store.UpdateBlobs(ctx, q, patch)
	if err != nil {
		return 0, s.annotate(err, op, key)
	}
	return n, nil
}

func (s *Space) attachedByName(referenceID, name string, committedOnly bool) metadata.BlobQuery {
	q := metadata.BlobQuery{
		SpaceName:           metadata.Ptr(s.name),
		ReferenceID:         metadata.Ptr(referenceID),
		ReferenceDesignator: metadata.Ptr(""),
		NormalizedFilename:  metadata.Ptr(s.normalize(name)),
		Deleted:             metadata.Ptr(false),
	}
	if committedOnly {
		q.Committed = metadata.Ptr(true)
	}
	return q
}
