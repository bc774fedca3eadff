package space

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"

	"github.com/marmos91/blobspace/internal/logger"
	"github.com/marmos91/blobspace/pkg/store/content"
	"github.com/marmos91/blobspace/pkg/store/metadata"
)

// ============================================================================
// Lookup and creation
// ============================================================================

// FindChildBlob returns the committed blob of parent named name, or nil.
func (s *Space) FindChildBlob(ctx context.Context, parent *metadata.Directory, name string) (*metadata.Blob, error) {
	const op = "find blob"

	clean, ok := sanitizeName(name)
	if !ok {
		return nil, s.newError(ErrInvalidArgument, op, name, "invalid filename")
	}
	if err := s.checkParent(op, clean, parent); err != nil {
		return nil, err
	}

	blobs, err := s.store.FindBlobs(ctx, metadata.BlobQuery{
		SpaceName:          metadata.Ptr(s.name),
		ParentID:           metadata.Ptr(parent.ID),
		NormalizedFilename: metadata.Ptr(s.normalize(clean)),
		Committed:          metadata.Ptr(true),
		Deleted:            metadata.Ptr(false),
	}, metadata.ListOptions{Limit: 1, Order: metadata.OrderByCreated})
	if err != nil {
		return nil, s.annotate(err, op, clean)
	}
	if len(blobs) == 0 {
		return nil, nil
	}
	return blobs[0], nil
}

// FindOrCreateChildBlob returns the blob of parent named name, creating an
// empty one if needed. Concurrent callers receive the same row.
func (s *Space) FindOrCreateChildBlob(ctx context.Context, parent *metadata.Directory, name string) (blob *metadata.Blob, err error) {
	const op = "create blob"
	defer s.observe(op, time.Now(), &err)

	clean, ok := sanitizeName(name)
	if !ok {
		return nil, s.newError(ErrInvalidArgument, op, name, "invalid filename")
	}
	if err := s.checkParent(op, clean, parent); err != nil {
		return nil, err
	}

	siblings := metadata.BlobQuery{
		SpaceName:          metadata.Ptr(s.name),
		ParentID:           metadata.Ptr(parent.ID),
		NormalizedFilename: metadata.Ptr(s.normalize(clean)),
		Deleted:            metadata.Ptr(false),
	}

	blob, err = s.findOrCreateBlob(ctx, op, siblings, func() *metadata.Blob {
		return &metadata.Blob{TenantID: parent.TenantID, ParentID: parent.ID}
	}, clean)
	if err != nil {
		return nil, s.annotate(err, op, clean)
	}
	return blob, nil
}

// FindByBlobKey returns the live blob with the given key, or nil.
func (s *Space) FindByBlobKey(ctx context.Context, blobKey string) (*metadata.Blob, error) {
	if blobKey == "" {
		return nil, nil
	}

	blobs, err := s.store.FindBlobs(ctx, metadata.BlobQuery{
		SpaceName: metadata.Ptr(s.name),
		BlobKey:   metadata.Ptr(blobKey),
		Committed: metadata.Ptr(true),
		Deleted:   metadata.Ptr(false),
	}, metadata.ListOptions{Limit: 1})
	if err != nil {
		return nil, s.annotate(err, "find blob", blobKey)
	}
	if len(blobs) == 0 {
		return nil, nil
	}
	return blobs[0], nil
}

// CreateTemporaryBlob creates a blob outside the tree and without an
// owner. Unless it is attached or marked as used, the retention sweep
// deletes it after a grace period.
func (s *Space) CreateTemporaryBlob(ctx context.Context, tenantID string) (blob *metadata.Blob, err error) {
	const op = "create temporary blob"
	defer s.observe(op, time.Now(), &err)

	if err := s.checkWritable(op, tenantID); err != nil {
		return nil, err
	}

	blob = s.newBlob(&metadata.Blob{TenantID: tenantID, Temporary: true}, "")
	blob.Committed = true
	if err := s.store.CreateBlob(ctx, blob); err != nil {
		return nil, s.annotate(err, op, tenantID)
	}
	return blob, nil
}

// ListChildBlobs lists the live blobs of parent, ordered by filename or,
// when the space sorts by modification, newest first.
func (s *Space) ListChildBlobs(ctx context.Context, parent *metadata.Directory, opts ListOptions) ([]*metadata.Blob, error) {
	if err := s.checkParent("list blobs", "", parent); err != nil {
		return nil, err
	}

	order := metadata.OrderByName
	if s.settings.SortByLastModified {
		order = metadata.OrderByLastModifiedDesc
	}

	blobs, err := s.store.FindBlobs(ctx, metadata.BlobQuery{
		SpaceName:      metadata.Ptr(s.name),
		ParentID:       metadata.Ptr(parent.ID),
		NamePrefix:     s.normalize(opts.Prefix),
		FileExtensions: opts.FileTypes,
		Committed:      metadata.Ptr(true),
		Deleted:        metadata.Ptr(false),
	}, metadata.ListOptions{Limit: opts.Limit, Offset: opts.Offset, Order: order})
	if err != nil {
		return nil, s.annotate(err, "list blobs", parent.ID)
	}
	return blobs, nil
}

// ============================================================================
// Mutations
// ============================================================================

// DeleteBlob soft-deletes blob. The sweep removes its content and row.
func (s *Space) DeleteBlob(ctx context.Context, blob *metadata.Blob) (err error) {
	const op = "delete blob"
	defer s.observe(op, time.Now(), &err)

	if err := s.checkBlobWritable(op, blob); err != nil {
		return err
	}

	if err := s.updateBlob(ctx, blob, metadata.BlobPatch{Deleted: metadata.Ptr(true)}); err != nil {
		return s.annotate(err, op, blob.BlobKey)
	}
	logger.Debug("Space %s: blob %s marked as deleted", s.name, blob.BlobKey)
	return nil
}

// MoveBlob places blob below newParent, which must belong to the same
// tenant and must not already hold an entry of the same name.
func (s *Space) MoveBlob(ctx context.Context, blob *metadata.Blob, newParent *metadata.Directory) (err error) {
	const op = "move blob"
	defer s.observe(op, time.Now(), &err)

	if err := s.checkBlobWritable(op, blob); err != nil {
		return err
	}
	if newParent == nil || newParent.SpaceName != s.name {
		return s.newError(ErrInvalidArgument, op, blob.BlobKey, "cannot move across spaces")
	}
	if newParent.TenantID != blob.TenantID {
		return s.newError(ErrInvalidArgument, op, blob.BlobKey, "invalid parent directory")
	}
	if newParent.ID == blob.ParentID {
		return nil
	}

	exists, err := s.hasChildNamed(ctx, newParent, blob.Filename, "", blob.ID)
	if err != nil {
		return s.annotate(err, op, blob.BlobKey)
	}
	if exists {
		return s.newError(ErrInvalidArgument, op, blob.BlobKey, "the target directory already contains an entry named "+blob.Filename)
	}

	if err := s.updateBlob(ctx, blob, metadata.BlobPatch{ParentID: metadata.Ptr(newParent.ID)}); err != nil {
		return s.annotate(err, op, blob.BlobKey)
	}
	return nil
}

// RenameBlob changes the filename (and thereby the extension) of blob.
func (s *Space) RenameBlob(ctx context.Context, blob *metadata.Blob, newName string) (err error) {
	const op = "rename blob"
	defer s.observe(op, time.Now(), &err)

	if err := s.checkBlobWritable(op, blob); err != nil {
		return err
	}
	name, ok := sanitizeName(newName)
	if !ok {
		return s.newError(ErrInvalidArgument, op, blob.BlobKey, "invalid filename")
	}

	if err := s.checkNameAvailable(ctx, op, blob, name); err != nil {
		return err
	}

	patch := metadata.BlobPatch{}
	s.setFilename(&patch, name)
	if err := s.updateBlob(ctx, blob, patch); err != nil {
		return s.annotate(err, op, blob.BlobKey)
	}
	return nil
}

// MarkAsUsed turns a temporary blob into a permanent one.
func (s *Space) MarkAsUsed(ctx context.Context, blob *metadata.Blob) error {
	const op = "mark as used"

	if !blob.Temporary {
		return nil
	}
	if err := s.checkWritable(op, blob.BlobKey); err != nil {
		return err
	}
	if err := s.updateBlob(ctx, blob, metadata.BlobPatch{Temporary: metadata.Ptr(false)}); err != nil {
		return s.annotate(err, op, blob.BlobKey)
	}
	return nil
}

// SetReadOnly protects blob against modification, or lifts the protection.
func (s *Space) SetReadOnly(ctx context.Context, blob *metadata.Blob, readOnly bool) error {
	const op = "set read-only"

	if err := s.checkWritable(op, blob.BlobKey); err != nil {
		return err
	}
	if err := s.updateBlob(ctx, blob, metadata.BlobPatch{ReadOnly: metadata.Ptr(readOnly)}); err != nil {
		return s.annotate(err, op, blob.BlobKey)
	}
	return nil
}

// BlobPath returns the path of a tree-resident blob, e.g. "/invoices/2024.pdf".
// Blobs outside the tree yield their bare filename.
func (s *Space) BlobPath(ctx context.Context, blob *metadata.Blob) (string, error) {
	if blob.ParentID == "" {
		return blob.Filename, nil
	}

	parent, err := s.store.GetDirectory(ctx, blob.ParentID)
	if metadata.IsNotFound(err) {
		return blob.Filename, nil
	}
	if err != nil {
		return "", s.annotate(err, "blob path", blob.BlobKey)
	}

	dirPath, err := s.DirectoryPath(ctx, parent)
	if err != nil {
		return "", err
	}
	if dirPath == "/" {
		return "/" + blob.Filename, nil
	}
	return dirPath + "/" + blob.Filename, nil
}

// ============================================================================
// Content
// ============================================================================

// UpdateContent stores the bytes of r as the new content of blob and
// returns the physical key of the replaced content ("" for the first
// write). A non-empty filename renames the blob in the same update.
//
// The physical key is the version token: the update only applies if the
// key read beforehand is still current. Losing that race is retried a
// fixed number of times. On success the replaced object and every variant
// of the blob are deleted.
func (s *Space) UpdateContent(ctx context.Context, blob *metadata.Blob, filename string, r io.Reader, length int64) (previousKey string, err error) {
	const op = "update content"
	defer s.observe(op, time.Now(), &err)

	if err := s.checkBlobWritable(op, blob); err != nil {
		return "", err
	}

	var rename metadata.BlobPatch
	if filename != "" {
		name, ok := sanitizeName(filename)
		if !ok {
			return "", s.newError(ErrInvalidArgument, op, blob.BlobKey, "invalid filename")
		}
		if name != blob.Filename {
			if err := s.checkNameAvailable(ctx, op, blob, name); err != nil {
				return "", err
			}
			s.setFilename(&rename, name)
		}
	}

	key := content.NewKey(s.name)
	hash := sha256.New()
	written, err := s.content.Put(ctx, key, io.TeeReader(r, hash), length)
	if err != nil {
		return "", s.annotate(err, op, blob.BlobKey)
	}
	if length >= 0 && written != length {
		s.discardContent(key)
		return "", s.newError(ErrInvalidArgument, op, blob.BlobKey,
			fmt.Sprintf("expected %d bytes but received %d", length, written))
	}
	checksum := hex.EncodeToString(hash.Sum(nil))

	updated, err := retryOptimistic(ctx, contentUpdateAttempts, s.opts.OptimisticLockBackoff, func(ctx context.Context) (*metadata.Blob, bool, error) {
		current, err := s.store.GetBlob(ctx, blob.ID)
		if metadata.IsNotFound(err) || (err == nil && current.Deleted) {
			return nil, false, &Error{Code: ErrNotFound, Message: "the blob has been deleted"}
		}
		if err != nil {
			return nil, false, err
		}

		patch := rename
		patch.PhysicalObjectKey = metadata.Ptr(key)
		patch.Size = metadata.Ptr(written)
		patch.Checksum = metadata.Ptr(checksum)
		patch.LastModified = metadata.Ptr(s.now())
		if current.PhysicalObjectKey == "" {
			patch.Created = metadata.Ptr(true)
		}
		patch = trackChanges(current, patch)
		// Replacing content is always reported, even before the creation
		// notice has been processed.
		if current.PhysicalObjectKey != "" {
			patch.ContentUpdated = metadata.Ptr(true)
		}

		n, err := s.store.UpdateBlobs(ctx, metadata.BlobQuery{
			ID:                metadata.Ptr(current.ID),
			PhysicalObjectKey: metadata.Ptr(current.PhysicalObjectKey),
		}, patch)
		if err != nil {
			return nil, false, err
		}
		switch n {
		case 0:
			s.metrics.RecordOptimisticRetry(s.name)
			return nil, false, nil
		case 1:
			previousKey = current.PhysicalObjectKey
			patch.Apply(current)
			return current, true, nil
		default:
			return nil, false, &Error{Code: ErrIllegalState, Message: fmt.Sprintf("a content update changed %d rows", n)}
		}
	})
	if err != nil {
		s.discardContent(key)
		if IsCode(err, ErrConflictExhausted) {
			err = &Error{
				Code:    ErrConflictExhausted,
				Message: fmt.Sprintf("cannot update the contents after %d retries", contentUpdateAttempts),
				Err:     err,
			}
		}
		return "", s.annotate(err, op, blob.BlobKey)
	}

	*blob = *updated
	s.dropVariants(ctx, blob)
	if previousKey != "" {
		if err := s.content.Delete(ctx, previousKey); err != nil {
			logger.Warn("Space %s: failed to delete replaced content %s of blob %s: %v", s.name, previousKey, blob.BlobKey, err)
		}
	}

	logger.Debug("Space %s: updated content of blob %s (%d bytes)", s.name, blob.BlobKey, written)
	return previousKey, nil
}

// OpenContent opens the current content of blob. The caller closes the reader.
func (s *Space) OpenContent(ctx context.Context, blob *metadata.Blob) (io.ReadCloser, error) {
	const op = "open content"

	if blob.PhysicalObjectKey == "" {
		return nil, s.newError(ErrNotFound, op, blob.BlobKey, "the blob has no content")
	}

	rc, err := s.content.Get(ctx, blob.PhysicalObjectKey)
	if errors.Is(err, content.ErrContentNotFound) {
		return nil, s.newError(ErrNotFound, op, blob.BlobKey, "the content of the blob is missing")
	}
	if err != nil {
		return nil, s.annotate(err, op, blob.BlobKey)
	}

	if s.settings.TouchTracking {
		s.Touch(ctx, blob.BlobKey)
	}
	return rc, nil
}

// Touch records a read access of blobKey. With a Toucher the access is
// buffered, otherwise it is written through.
func (s *Space) Touch(ctx context.Context, blobKey string) {
	if s.toucher != nil {
		s.toucher.Touch(s.name, blobKey)
		return
	}
	if _, err := s.ApplyTouches(ctx, []string{blobKey}, s.now()); err != nil {
		logger.Warn("Space %s: failed to touch blob %s: %v", s.name, blobKey, err)
	}
}

// ApplyTouches sets lastTouched of the given blobs to at and returns the
// number of rows updated.
func (s *Space) ApplyTouches(ctx context.Context, blobKeys []string, at time.Time) (int, error) {
	total := 0
	for _, key := range blobKeys {
		n, err := s.store.UpdateBlobs(ctx, metadata.BlobQuery{
			SpaceName: metadata.Ptr(s.name),
			BlobKey:   metadata.Ptr(key),
			Deleted:   metadata.Ptr(false),
		}, metadata.BlobPatch{LastTouched: metadata.Ptr(at)})
		if err != nil {
			return total, s.annotate(err, "touch", key)
		}
		total += n
	}
	return total, nil
}

// ============================================================================
// Internals
// ============================================================================

// findOrCreateBlob runs the optimistic create protocol for a blob named
// filename among the rows matched by siblings.
func (s *Space) findOrCreateBlob(ctx context.Context, op string, siblings metadata.BlobQuery, template func() *metadata.Blob, filename string) (*metadata.Blob, error) {
	return findOrCreate(ctx, s, optimisticCreate[*metadata.Blob]{
		lookup: func(ctx context.Context) (*metadata.Blob, bool, error) {
			blobs, err := s.store.FindBlobs(ctx, siblings, metadata.ListOptions{Order: metadata.OrderByCreated})
			if err != nil {
				return nil, false, err
			}
			for _, b := range blobs {
				if b.Committed {
					return b, true, nil
				}
			}
			if len(blobs) > 0 {
				return blobs[0], true, nil
			}
			return nil, false, nil
		},
		committed: func(b *metadata.Blob) bool { return b.Committed },
		stale: func(b *metadata.Blob) bool {
			return s.now().Sub(b.CreatedAt) > s.opts.StaleCandidateAge
		},
		create: func(ctx context.Context) (*metadata.Blob, error) {
			if err := s.checkWritable(op, filename); err != nil {
				return nil, err
			}
			blob := s.newBlob(template(), filename)
			if err := s.store.CreateBlob(ctx, blob); err != nil {
				return nil, err
			}
			return blob, nil
		},
		unique: func(ctx context.Context, _ *metadata.Blob) (bool, error) {
			agg, err := s.store.AggregateBlobs(ctx, siblings)
			return agg.Count == 1, err
		},
		commit: func(ctx context.Context, b *metadata.Blob) (bool, error) {
			n, err := s.store.UpdateBlobs(ctx,
				metadata.BlobQuery{ID: metadata.Ptr(b.ID), Deleted: metadata.Ptr(false)},
				metadata.BlobPatch{Committed: metadata.Ptr(true)})
			if err != nil {
				return false, err
			}
			b.Committed = n == 1
			return b.Committed, nil
		},
		rollback: func(ctx context.Context, b *metadata.Blob) error {
			return s.store.DeleteBlob(ctx, b.ID)
		},
	})
}

// newBlob completes blob with a fresh key, the space and the filename.
// The row starts uncommitted.
func (s *Space) newBlob(blob *metadata.Blob, filename string) *metadata.Blob {
	now := s.now()
	blob.BlobKey = uuid.NewString()
	blob.SpaceName = s.name
	blob.CreatedAt = now
	blob.LastModified = now
	if filename != "" {
		blob.Filename = filename
		blob.NormalizedFilename = s.normalize(filename)
		blob.FileExtension = fileExtension(filename)
	}
	return blob
}

func (s *Space) setFilename(patch *metadata.BlobPatch, name string) {
	patch.Filename = metadata.Ptr(name)
	patch.NormalizedFilename = metadata.Ptr(s.normalize(name))
	patch.FileExtension = metadata.Ptr(fileExtension(name))
}

func (s *Space) checkBlobWritable(op string, blob *metadata.Blob) error {
	if err := s.checkWritable(op, blob.BlobKey); err != nil {
		return err
	}
	if blob.ReadOnly {
		return s.newError(ErrReadOnly, op, blob.BlobKey, "the blob is read-only")
	}
	return nil
}

// checkNameAvailable rejects a rename of blob to a name already used by
// a sibling, in the tree or among the blobs of the same owner.
func (s *Space) checkNameAvailable(ctx context.Context, op string, blob *metadata.Blob, name string) error {
	var exists bool
	switch {
	case blob.ParentID != "":
		parent, err := s.store.GetDirectory(ctx, blob.ParentID)
		if err != nil && !metadata.IsNotFound(err) {
			return s.annotate(err, op, blob.BlobKey)
		}
		if parent == nil {
			return nil
		}
		exists, err = s.hasChildNamed(ctx, parent, name, "", blob.ID)
		if err != nil {
			return s.annotate(err, op, blob.BlobKey)
		}
	case blob.ReferenceID != "" && blob.ReferenceDesignator == "":
		agg, err := s.store.AggregateBlobs(ctx, metadata.BlobQuery{
			SpaceName:           metadata.Ptr(s.name),
			ReferenceID:         metadata.Ptr(blob.ReferenceID),
			ReferenceDesignator: metadata.Ptr(""),
			NormalizedFilename:  metadata.Ptr(s.normalize(name)),
			Deleted:             metadata.Ptr(false),
			ExcludeID:           blob.ID,
		})
		if err != nil {
			return s.annotate(err, op, blob.BlobKey)
		}
		exists = agg.Count > 0
	}

	if exists {
		return s.newError(ErrInvalidArgument, op, blob.BlobKey, "an entry named "+name+" already exists")
	}
	return nil
}

// updateBlob applies patch plus the change flags it implies, keyed on the
// blob id, and mirrors the result into blob.
func (s *Space) updateBlob(ctx context.Context, blob *metadata.Blob, patch metadata.BlobPatch) error {
	current, err := s.store.GetBlob(ctx, blob.ID)
	if metadata.IsNotFound(err) {
		return &Error{Code: ErrNotFound, Message: "the blob has been deleted"}
	}
	if err != nil {
		return err
	}

	patch = trackChanges(current, patch)
	n, err := s.store.UpdateBlobs(ctx, metadata.BlobQuery{ID: metadata.Ptr(blob.ID)}, patch)
	if err != nil {
		return err
	}
	if n != 1 {
		return &Error{Code: ErrIllegalState, Message: "the blob vanished during the update"}
	}
	patch.Apply(current)
	*blob = *current
	return nil
}

// dropVariants deletes the variants of blob together with their content.
// Failures are logged; leftover objects are unreachable but harmless.
func (s *Space) dropVariants(ctx context.Context, blob *metadata.Blob) {
	variants, err := s.store.FindVariants(ctx, metadata.VariantQuery{BlobID: metadata.Ptr(blob.ID)}, metadata.ListOptions{})
	if err != nil {
		logger.Warn("Space %s: failed to list variants of blob %s: %v", s.name, blob.BlobKey, err)
		return
	}
	for _, v := range variants {
		if err := s.store.DeleteVariant(ctx, v.ID); err != nil {
			logger.Warn("Space %s: failed to delete variant %s of blob %s: %v", s.name, v.VariantName, blob.BlobKey, err)
			continue
		}
		if v.PhysicalObjectKey != "" {
			if err := s.content.Delete(ctx, v.PhysicalObjectKey); err != nil {
				logger.Warn("Space %s: failed to delete content of variant %s: %v", s.name, v.VariantName, err)
			}
		}
	}
}

// discardContent deletes an object that never became visible.
func (s *Space) discardContent(key string) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := s.content.Delete(ctx, key); err != nil {
		logger.Warn("Space %s: failed to discard unused content %s: %v", s.name, key, err)
	}
}
