package badger

import (
	"context"
	"time"

	badger "github.com/dgraph-io/badger/v4"
	"github.com/marmos91/blobspace/pkg/store/metadata"
)

// CreateDirectory inserts dir and its parent index entry.
func (s *BadgerMetadataStore) CreateDirectory(ctx context.Context, dir *metadata.Directory) error {
	if dir.ID == "" {
		dir.ID = metadata.NewID()
	}
	if dir.CreatedAt.IsZero() {
		dir.CreatedAt = time.Now()
	}

	err := s.update(ctx, func(txn *badger.Txn) error {
		found, err := exists(txn, keyDirectory(dir.ID))
		if err != nil {
			return err
		}
		if found {
			return metadata.NewAlreadyExistsError("directory", dir.ID)
		}

		if err := save(txn, keyDirectory(dir.ID), dir); err != nil {
			return err
		}
		return txn.Set(keyDirParent(dir.ParentID, dir.ID), nil)
	})
	return wrap("create directory", err)
}

// GetDirectory fetches a directory by id.
func (s *BadgerMetadataStore) GetDirectory(ctx context.Context, id string) (*metadata.Directory, error) {
	var dir *metadata.Directory
	err := s.view(ctx, func(txn *badger.Txn) error {
		var err error
		dir, err = load[metadata.Directory](txn, keyDirectory(id))
		return err
	})
	if err != nil {
		return nil, wrap("get directory", err)
	}
	if dir == nil {
		return nil, metadata.NewNotFoundError("directory", id)
	}
	return dir, nil
}

// directoryCandidates narrows a query to the rows it could match, using the
// id or the parent index when the query pins them.
func directoryCandidates(txn *badger.Txn, q *metadata.DirectoryQuery) ([]*metadata.Directory, error) {
	switch {
	case q.ID != nil:
		dir, err := load[metadata.Directory](txn, keyDirectory(*q.ID))
		if err != nil || dir == nil {
			return nil, err
		}
		return []*metadata.Directory{dir}, nil
	case q.ParentID != nil:
		ids := scanIndex(txn, keyDirParentPrefix(*q.ParentID))
		return loadAll[metadata.Directory](txn, ids, keyDirectory)
	default:
		return scanRows[metadata.Directory](txn, prefixDirectory)
	}
}

func (s *BadgerMetadataStore) matchDirectories(ctx context.Context, q *metadata.DirectoryQuery) ([]*metadata.Directory, error) {
	var result []*metadata.Directory
	err := s.view(ctx, func(txn *badger.Txn) error {
		candidates, err := directoryCandidates(txn, q)
		if err != nil {
			return err
		}
		for _, dir := range candidates {
			if q.Matches(dir) {
				result = append(result, dir)
			}
		}
		return nil
	})
	return result, err
}

// FindDirectories returns the directories matching q.
func (s *BadgerMetadataStore) FindDirectories(ctx context.Context, q metadata.DirectoryQuery, opts metadata.ListOptions) ([]*metadata.Directory, error) {
	result, err := s.matchDirectories(ctx, &q)
	if err != nil {
		return nil, wrap("find directories", err)
	}
	if result == nil {
		result = []*metadata.Directory{}
	}

	metadata.SortDirectories(result, opts.Order)
	return metadata.Paginate(result, opts), nil
}

// CountDirectories counts the directories matching q.
func (s *BadgerMetadataStore) CountDirectories(ctx context.Context, q metadata.DirectoryQuery) (int, error) {
	result, err := s.matchDirectories(ctx, &q)
	if err != nil {
		return 0, wrap("count directories", err)
	}
	return len(result), nil
}

// UpdateDirectories applies patch to every matching directory, one transaction per row.
func (s *BadgerMetadataStore) UpdateDirectories(ctx context.Context, q metadata.DirectoryQuery, patch metadata.DirectoryPatch) (int, error) {
	candidates, err := s.matchDirectories(ctx, &q)
	if err != nil {
		return 0, wrap("update directories", err)
	}

	changed := 0
	for _, candidate := range candidates {
		applied := false
		err := s.update(ctx, func(txn *badger.Txn) error {
			applied = false
			dir, err := load[metadata.Directory](txn, keyDirectory(candidate.ID))
			if err != nil || dir == nil || !q.Matches(dir) {
				return err
			}

			oldParent := dir.ParentID
			patch.Apply(dir)
			if err := save(txn, keyDirectory(dir.ID), dir); err != nil {
				return err
			}
			if dir.ParentID != oldParent {
				if err := txn.Delete(keyDirParent(oldParent, dir.ID)); err != nil {
					return err
				}
				if err := txn.Set(keyDirParent(dir.ParentID, dir.ID), nil); err != nil {
					return err
				}
			}
			applied = true
			return nil
		})
		if err != nil {
			return changed, wrap("update directory", err)
		}
		if applied {
			changed++
		}
	}
	return changed, nil
}

// DeleteDirectory removes a directory and its index entry.
func (s *BadgerMetadataStore) DeleteDirectory(ctx context.Context, id string) error {
	err := s.update(ctx, func(txn *badger.Txn) error {
		dir, err := load[metadata.Directory](txn, keyDirectory(id))
		if err != nil || dir == nil {
			return err
		}
		if err := txn.Delete(keyDirParent(dir.ParentID, id)); err != nil {
			return err
		}
		return txn.Delete(keyDirectory(id))
	})
	return wrap("delete directory", err)
}
