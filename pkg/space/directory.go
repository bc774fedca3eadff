package space

import (
	"context"
	"time"

	"github.com/marmos91/blobspace/internal/logger"
	"github.com/marmos91/blobspace/pkg/store/metadata"
)

// ListOptions bounds a listing of children.
type ListOptions struct {
	// Prefix filters by the (normalized) name prefix
	Prefix string

	// FileTypes filters blobs by extension, e.g. ["pdf", "png"]
	FileTypes []string

	Limit  int
	Offset int
}

// ============================================================================
// Roots
// ============================================================================

// FindRoot returns the committed root directory of tenantID, or nil.
func (s *Space) FindRoot(ctx context.Context, tenantID string) (*metadata.Directory, error) {
	dirs, err := s.store.FindDirectories(ctx, metadata.DirectoryQuery{
		SpaceName: metadata.Ptr(s.name),
		TenantID:  metadata.Ptr(tenantID),
		ParentID:  metadata.Ptr(""),
		Committed: metadata.Ptr(true),
		Deleted:   metadata.Ptr(false),
	}, metadata.ListOptions{Limit: 1, Order: metadata.OrderByCreated})
	if err != nil {
		return nil, s.annotate(err, "find root", tenantID)
	}
	if len(dirs) == 0 {
		return nil, nil
	}
	return dirs[0], nil
}

// CreateRoot returns the root directory of tenantID, creating it if needed.
func (s *Space) CreateRoot(ctx context.Context, tenantID string) (dir *metadata.Directory, err error) {
	const op = "create root"
	defer s.observe(op, time.Now(), &err)

	if tenantID == "" {
		return nil, s.newError(ErrInvalidArgument, op, tenantID, "a tenant is required")
	}

	rootQuery := metadata.DirectoryQuery{
		SpaceName: metadata.Ptr(s.name),
		TenantID:  metadata.Ptr(tenantID),
		ParentID:  metadata.Ptr(""),
		Deleted:   metadata.Ptr(false),
	}

	dir, err = findOrCreate(ctx, s, optimisticCreate[*metadata.Directory]{
		lookup: func(ctx context.Context) (*metadata.Directory, bool, error) {
			return s.findAnyDirectory(ctx, rootQuery)
		},
		committed: func(d *metadata.Directory) bool { return d.Committed },
		stale:     s.staleDirectory,
		create: func(ctx context.Context) (*metadata.Directory, error) {
			if err := s.checkWritable(op, tenantID); err != nil {
				return nil, err
			}
			return s.insertDirectory(ctx, &metadata.Directory{TenantID: tenantID})
		},
		unique: func(ctx context.Context, _ *metadata.Directory) (bool, error) {
			n, err := s.store.CountDirectories(ctx, rootQuery)
			return n == 1, err
		},
		commit:   s.commitDirectory,
		rollback: s.rollbackDirectory,
	})
	if err != nil {
		return nil, s.annotate(err, op, tenantID)
	}
	return dir, nil
}

// ============================================================================
// Children
// ============================================================================

// FindChildDirectory returns the committed child of parent named name, or nil.
func (s *Space) FindChildDirectory(ctx context.Context, parent *metadata.Directory, name string) (*metadata.Directory, error) {
	const op = "find directory"

	clean, ok := sanitizeName(name)
	if !ok {
		return nil, s.newError(ErrInvalidArgument, op, name, "invalid directory name")
	}
	name = clean
	if err := s.checkParent(op, name, parent); err != nil {
		return nil, err
	}

	dirs, err := s.store.FindDirectories(ctx, metadata.DirectoryQuery{
		SpaceName:      metadata.Ptr(s.name),
		ParentID:       metadata.Ptr(parent.ID),
		NormalizedName: metadata.Ptr(s.normalize(name)),
		Committed:      metadata.Ptr(true),
		Deleted:        metadata.Ptr(false),
	}, metadata.ListOptions{Limit: 1, Order: metadata.OrderByCreated})
	if err != nil {
		return nil, s.annotate(err, op, name)
	}
	if len(dirs) == 0 {
		return nil, nil
	}
	return dirs[0], nil
}

// FindOrCreateChildDirectory returns the child of parent named name,
// creating it if needed. Concurrent callers receive the same row.
func (s *Space) FindOrCreateChildDirectory(ctx context.Context, parent *metadata.Directory, name string) (dir *metadata.Directory, err error) {
	const op = "create directory"
	defer s.observe(op, time.Now(), &err)

	clean, ok := sanitizeName(name)
	if !ok {
		return nil, s.newError(ErrInvalidArgument, op, name, "invalid directory name")
	}
	name = clean
	if err := s.checkParent(op, name, parent); err != nil {
		return nil, err
	}

	siblings := metadata.DirectoryQuery{
		SpaceName:      metadata.Ptr(s.name),
		ParentID:       metadata.Ptr(parent.ID),
		NormalizedName: metadata.Ptr(s.normalize(name)),
		Deleted:        metadata.Ptr(false),
	}

	dir, err = findOrCreate(ctx, s, optimisticCreate[*metadata.Directory]{
		lookup: func(ctx context.Context) (*metadata.Directory, bool, error) {
			return s.findAnyDirectory(ctx, siblings)
		},
		committed: func(d *metadata.Directory) bool { return d.Committed },
		stale:     s.staleDirectory,
		create: func(ctx context.Context) (*metadata.Directory, error) {
			if err := s.checkWritable(op, name); err != nil {
				return nil, err
			}
			return s.insertDirectory(ctx, &metadata.Directory{
				TenantID:       parent.TenantID,
				ParentID:       parent.ID,
				Name:           name,
				NormalizedName: s.normalize(name),
			})
		},
		unique: func(ctx context.Context, _ *metadata.Directory) (bool, error) {
			n, err := s.store.CountDirectories(ctx, siblings)
			return n == 1, err
		},
		commit:   s.commitDirectory,
		rollback: s.rollbackDirectory,
	})
	if err != nil {
		return nil, s.annotate(err, op, name)
	}
	return dir, nil
}

// FindDirectory fetches a live directory of this space by id, or nil.
func (s *Space) FindDirectory(ctx context.Context, id string) (*metadata.Directory, error) {
	if id == "" {
		return nil, nil
	}
	dir, err := s.store.GetDirectory(ctx, id)
	if metadata.IsNotFound(err) {
		return nil, nil
	}
	if err != nil {
		return nil, s.annotate(err, "find directory", id)
	}
	if dir.SpaceName != s.name || dir.Deleted || !dir.Committed {
		return nil, nil
	}
	return dir, nil
}

// ListChildDirectories lists the live children of parent ordered by name.
func (s *Space) ListChildDirectories(ctx context.Context, parent *metadata.Directory, opts ListOptions) ([]*metadata.Directory, error) {
	if err := s.checkParent("list directories", "", parent); err != nil {
		return nil, err
	}

	dirs, err := s.store.FindDirectories(ctx, metadata.DirectoryQuery{
		SpaceName:  metadata.Ptr(s.name),
		ParentID:   metadata.Ptr(parent.ID),
		NamePrefix: s.normalize(opts.Prefix),
		Committed:  metadata.Ptr(true),
		Deleted:    metadata.Ptr(false),
	}, metadata.ListOptions{Limit: opts.Limit, Offset: opts.Offset, Order: metadata.OrderByName})
	if err != nil {
		return nil, s.annotate(err, "list directories", parent.ID)
	}
	return dirs, nil
}

// ============================================================================
// Mutations
// ============================================================================

// DeleteDirectory soft-deletes dir. Its children are deleted by the
// reconciliation sweep, one level per run.
func (s *Space) DeleteDirectory(ctx context.Context, dir *metadata.Directory) (err error) {
	const op = "delete directory"
	defer s.observe(op, time.Now(), &err)

	if err := s.checkWritable(op, dir.ID); err != nil {
		return err
	}

	if err := s.updateDirectory(ctx, dir, metadata.DirectoryPatch{Deleted: metadata.Ptr(true)}); err != nil {
		return s.annotate(err, op, dir.ID)
	}
	logger.Debug("Space %s: directory %s marked as deleted", s.name, dir.ID)
	return nil
}

// MoveDirectory re-parents dir below newParent. Both must belong to the
// same tenant, newParent must not contain a child of the same name, and
// newParent must not be dir or one of its descendants.
func (s *Space) MoveDirectory(ctx context.Context, dir, newParent *metadata.Directory) (err error) {
	const op = "move directory"
	defer s.observe(op, time.Now(), &err)

	if err := s.checkWritable(op, dir.ID); err != nil {
		return err
	}
	if dir.IsRoot() {
		return s.newError(ErrInvalidArgument, op, dir.ID, "a root directory cannot be moved")
	}
	if newParent == nil || newParent.TenantID != dir.TenantID {
		return s.newError(ErrInvalidArgument, op, dir.ID, "invalid parent directory")
	}
	if newParent.SpaceName != dir.SpaceName {
		return s.newError(ErrInvalidArgument, op, dir.ID, "cannot move across spaces")
	}

	exists, err := s.hasChildNamed(ctx, newParent, dir.Name, dir.ID, "")
	if err != nil {
		return s.annotate(err, op, dir.ID)
	}
	if exists {
		return s.newError(ErrInvalidArgument, op, dir.ID, "the target directory already contains an entry named "+dir.Name)
	}

	// Walk up from newParent. Reaching dir means the move would create a loop.
	for check := newParent; check != nil; {
		if check.ID == dir.ID {
			return s.newError(ErrInvalidArgument, op, dir.ID, "cannot move a directory into itself")
		}
		if check.IsRoot() {
			break
		}
		check, err = s.parentOf(ctx, check)
		if err != nil {
			return s.annotate(err, op, dir.ID)
		}
	}

	if err := s.updateDirectory(ctx, dir, metadata.DirectoryPatch{ParentID: metadata.Ptr(newParent.ID)}); err != nil {
		return s.annotate(err, op, dir.ID)
	}
	return nil
}

// RenameDirectory changes the name of dir.
func (s *Space) RenameDirectory(ctx context.Context, dir *metadata.Directory, newName string) (err error) {
	const op = "rename directory"
	defer s.observe(op, time.Now(), &err)

	if err := s.checkWritable(op, dir.ID); err != nil {
		return err
	}
	if dir.IsRoot() {
		return s.newError(ErrInvalidArgument, op, dir.ID, "a root directory cannot be renamed")
	}
	name, ok := sanitizeName(newName)
	if !ok {
		return s.newError(ErrInvalidArgument, op, dir.ID, "invalid directory name")
	}

	parent, err := s.parentOf(ctx, dir)
	if err != nil {
		return s.annotate(err, op, dir.ID)
	}
	if parent != nil {
		exists, err := s.hasChildNamed(ctx, parent, name, dir.ID, "")
		if err != nil {
			return s.annotate(err, op, dir.ID)
		}
		if exists {
			return s.newError(ErrInvalidArgument, op, dir.ID, "the directory already contains an entry named "+name)
		}
	}

	patch := metadata.DirectoryPatch{
		Name:           metadata.Ptr(name),
		NormalizedName: metadata.Ptr(s.normalize(name)),
	}
	if err := s.updateDirectory(ctx, dir, patch); err != nil {
		return s.annotate(err, op, dir.ID)
	}
	return nil
}

// DirectoryPath returns the slash separated path of dir, "/" for a root.
func (s *Space) DirectoryPath(ctx context.Context, dir *metadata.Directory) (string, error) {
	path := ""
	for current := dir; current != nil && !current.IsRoot(); {
		path = "/" + current.Name + path
		parent, err := s.parentOf(ctx, current)
		if err != nil {
			return "", s.annotate(err, "directory path", dir.ID)
		}
		current = parent
	}
	if path == "" {
		return "/", nil
	}
	return path, nil
}

// ============================================================================
// Path helpers
// ============================================================================

// FindByPath resolves "a/b/file.pdf" below the root of tenantID, or nil.
func (s *Space) FindByPath(ctx context.Context, tenantID, path string) (*metadata.Blob, error) {
	segments := splitPath(path)
	if len(segments) == 0 {
		return nil, nil
	}

	dir, err := s.FindRoot(ctx, tenantID)
	if err != nil || dir == nil {
		return nil, err
	}
	for _, segment := range segments[:len(segments)-1] {
		dir, err = s.FindChildDirectory(ctx, dir, segment)
		if err != nil || dir == nil {
			return nil, err
		}
	}
	return s.FindChildBlob(ctx, dir, segments[len(segments)-1])
}

// FindOrCreateDirectoryByPath resolves "a/b" below the root of tenantID,
// creating missing directories. An empty path yields the root.
func (s *Space) FindOrCreateDirectoryByPath(ctx context.Context, tenantID, path string) (*metadata.Directory, error) {
	dir, err := s.CreateRoot(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	for _, segment := range splitPath(path) {
		dir, err = s.FindOrCreateChildDirectory(ctx, dir, segment)
		if err != nil {
			return nil, err
		}
	}
	return dir, nil
}

// FindOrCreateBlobByPath resolves "a/b/file.pdf" below the root of
// tenantID, creating missing directories and the blob.
func (s *Space) FindOrCreateBlobByPath(ctx context.Context, tenantID, path string) (*metadata.Blob, error) {
	segments := splitPath(path)
	if len(segments) == 0 {
		return nil, s.newError(ErrInvalidArgument, "create blob", path, "an empty path was provided")
	}

	dir, err := s.FindOrCreateDirectoryByPath(ctx, tenantID, joinSegments(segments[:len(segments)-1]))
	if err != nil {
		return nil, err
	}
	return s.FindOrCreateChildBlob(ctx, dir, segments[len(segments)-1])
}

// ============================================================================
// Internals
// ============================================================================

// findAnyDirectory prefers a committed row and falls back to an
// uncommitted candidate.
func (s *Space) findAnyDirectory(ctx context.Context, q metadata.DirectoryQuery) (*metadata.Directory, bool, error) {
	dirs, err := s.store.FindDirectories(ctx, q, metadata.ListOptions{Order: metadata.OrderByCreated})
	if err != nil {
		return nil, false, err
	}
	for _, d := range dirs {
		if d.Committed {
			return d, true, nil
		}
	}
	if len(dirs) > 0 {
		return dirs[0], true, nil
	}
	return nil, false, nil
}

func (s *Space) insertDirectory(ctx context.Context, dir *metadata.Directory) (*metadata.Directory, error) {
	dir.SpaceName = s.name
	dir.Committed = false
	dir.CreatedAt = s.now()
	if err := s.store.CreateDirectory(ctx, dir); err != nil {
		return nil, err
	}
	return dir, nil
}

func (s *Space) commitDirectory(ctx context.Context, dir *metadata.Directory) (bool, error) {
	n, err := s.store.UpdateDirectories(ctx,
		metadata.DirectoryQuery{ID: metadata.Ptr(dir.ID), Deleted: metadata.Ptr(false)},
		metadata.DirectoryPatch{Committed: metadata.Ptr(true)})
	if err != nil {
		return false, err
	}
	dir.Committed = n == 1
	return dir.Committed, nil
}

// rollbackDirectory hard-deletes an uncommitted candidate. Nothing can
// reference it yet, so no cascade is needed.
func (s *Space) rollbackDirectory(ctx context.Context, dir *metadata.Directory) error {
	return s.store.DeleteDirectory(ctx, dir.ID)
}

func (s *Space) staleDirectory(dir *metadata.Directory) bool {
	return s.now().Sub(dir.CreatedAt) > s.opts.StaleCandidateAge
}

// updateDirectory applies patch plus the change flags it implies, keyed on
// the directory id, and mirrors the result into dir.
func (s *Space) updateDirectory(ctx context.Context, dir *metadata.Directory, patch metadata.DirectoryPatch) error {
	current, err := s.store.GetDirectory(ctx, dir.ID)
	if err != nil {
		return err
	}

	patch = trackDirectoryChanges(current, patch)
	n, err := s.store.UpdateDirectories(ctx, metadata.DirectoryQuery{ID: metadata.Ptr(dir.ID)}, patch)
	if err != nil {
		return err
	}
	if n != 1 {
		return &Error{Code: ErrIllegalState, Message: "the directory vanished during the update"}
	}
	patch.Apply(dir)
	return nil
}

// checkParent rejects a missing parent or one of another space.
func (s *Space) checkParent(op, key string, parent *metadata.Directory) error {
	if parent == nil {
		return s.newError(ErrInvalidArgument, op, key, "no parent directory was provided")
	}
	if parent.SpaceName != s.name {
		return s.newError(ErrInvalidArgument, op, key, "the parent directory belongs to another space")
	}
	return nil
}

func (s *Space) parentOf(ctx context.Context, dir *metadata.Directory) (*metadata.Directory, error) {
	if dir.IsRoot() {
		return nil, nil
	}
	parent, err := s.store.GetDirectory(ctx, dir.ParentID)
	if metadata.IsNotFound(err) {
		return nil, nil
	}
	return parent, err
}

// hasChildNamed reports whether parent holds a live directory or blob
// named name, other than the exempted ones.
func (s *Space) hasChildNamed(ctx context.Context, parent *metadata.Directory, name, exemptDirID, exemptBlobID string) (bool, error) {
	normalized := s.normalize(name)

	dirs, err := s.store.CountDirectories(ctx, metadata.DirectoryQuery{
		SpaceName:      metadata.Ptr(s.name),
		ParentID:       metadata.Ptr(parent.ID),
		NormalizedName: metadata.Ptr(normalized),
		Committed:      metadata.Ptr(true),
		Deleted:        metadata.Ptr(false),
		ExcludeID:      exemptDirID,
	})
	if err != nil || dirs > 0 {
		return dirs > 0, err
	}

	blobs, err := s.store.AggregateBlobs(ctx, metadata.BlobQuery{
		SpaceName:          metadata.Ptr(s.name),
		ParentID:           metadata.Ptr(parent.ID),
		NormalizedFilename: metadata.Ptr(normalized),
		Committed:          metadata.Ptr(true),
		Deleted:            metadata.Ptr(false),
		ExcludeID:          exemptBlobID,
	})
	if err != nil {
		return false, err
	}
	return blobs.Count > 0, nil
}

func joinSegments(segments []string) string {
	path := ""
	for _, segment := range segments {
		path += "/" + segment
	}
	return path
}
