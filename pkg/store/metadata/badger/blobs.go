package badger

import (
	"context"
	"errors"
	"time"

	badger "github.com/dgraph-io/badger/v4"
	"github.com/marmos91/blobspace/pkg/store/metadata"
)

// CreateBlob inserts blob with its blob key and parent index entries.
func (s *BadgerMetadataStore) CreateBlob(ctx context.Context, blob *metadata.Blob) error {
	if blob.BlobKey == "" {
		return &metadata.StoreError{Code: metadata.ErrInvalidArgument, Message: "blob key is required"}
	}
	if blob.ID == "" {
		blob.ID = metadata.NewID()
	}
	if blob.CreatedAt.IsZero() {
		blob.CreatedAt = time.Now()
	}

	err := s.update(ctx, func(txn *badger.Txn) error {
		found, err := exists(txn, keyBlob(blob.ID))
		if err != nil {
			return err
		}
		if found {
			return metadata.NewAlreadyExistsError("blob", blob.ID)
		}

		found, err = exists(txn, keyBlobKey(blob.BlobKey))
		if err != nil {
			return err
		}
		if found {
			return metadata.NewAlreadyExistsError("blob key", blob.BlobKey)
		}

		if err := save(txn, keyBlob(blob.ID), blob); err != nil {
			return err
		}
		if err := txn.Set(keyBlobKey(blob.BlobKey), []byte(blob.ID)); err != nil {
			return err
		}
		if blob.ParentID != "" {
			return txn.Set(keyBlobParent(blob.ParentID, blob.ID), nil)
		}
		return nil
	})
	return wrap("create blob", err)
}

// GetBlob fetches a blob by id.
func (s *BadgerMetadataStore) GetBlob(ctx context.Context, id string) (*metadata.Blob, error) {
	var blob *metadata.Blob
	err := s.view(ctx, func(txn *badger.Txn) error {
		var err error
		blob, err = load[metadata.Blob](txn, keyBlob(id))
		return err
	})
	if err != nil {
		return nil, wrap("get blob", err)
	}
	if blob == nil {
		return nil, metadata.NewNotFoundError("blob", id)
	}
	return blob, nil
}

func blobCandidates(txn *badger.Txn, q *metadata.BlobQuery) ([]*metadata.Blob, error) {
	switch {
	case q.ID != nil:
		return loadAll[metadata.Blob](txn, []string{*q.ID}, keyBlob)
	case q.BlobKey != nil:
		item, err := txn.Get(keyBlobKey(*q.BlobKey))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil, nil
		}
		if err != nil {
			return nil, err
		}
		id, err := item.ValueCopy(nil)
		if err != nil {
			return nil, err
		}
		return loadAll[metadata.Blob](txn, []string{string(id)}, keyBlob)
	case q.ParentID != nil && *q.ParentID != "":
		ids := scanIndex(txn, keyBlobParentPrefix(*q.ParentID))
		return loadAll[metadata.Blob](txn, ids, keyBlob)
	default:
		return scanRows[metadata.Blob](txn, prefixBlob)
	}
}

func (s *BadgerMetadataStore) matchBlobs(ctx context.Context, q *metadata.BlobQuery) ([]*metadata.Blob, error) {
	var result []*metadata.Blob
	err := s.view(ctx, func(txn *badger.Txn) error {
		candidates, err := blobCandidates(txn, q)
		if err != nil {
			return err
		}
		for _, blob := range candidates {
			if q.Matches(blob) {
				result = append(result, blob)
			}
		}
		return nil
	})
	return result, err
}

// FindBlobs returns the blobs matching q.
func (s *BadgerMetadataStore) FindBlobs(ctx context.Context, q metadata.BlobQuery, opts metadata.ListOptions) ([]*metadata.Blob, error) {
	result, err := s.matchBlobs(ctx, &q)
	if err != nil {
		return nil, wrap("find blobs", err)
	}
	if result == nil {
		result = []*metadata.Blob{}
	}

	metadata.SortBlobs(result, opts.Order)
	return metadata.Paginate(result, opts), nil
}

// AggregateBlobs counts the blobs matching q and sums their sizes.
func (s *BadgerMetadataStore) AggregateBlobs(ctx context.Context, q metadata.BlobQuery) (metadata.Aggregate, error) {
	var agg metadata.Aggregate

	result, err := s.matchBlobs(ctx, &q)
	if err != nil {
		return agg, wrap("aggregate blobs", err)
	}
	for _, blob := range result {
		agg.Count++
		agg.TotalSize += blob.Size
	}
	return agg, nil
}

// UpdateBlobs applies patch to every matching blob, one transaction per row.
func (s *BadgerMetadataStore) UpdateBlobs(ctx context.Context, q metadata.BlobQuery, patch metadata.BlobPatch) (int, error) {
	candidates, err := s.matchBlobs(ctx, &q)
	if err != nil {
		return 0, wrap("update blobs", err)
	}

	changed := 0
	for _, candidate := range candidates {
		applied := false
		err := s.update(ctx, func(txn *badger.Txn) error {
			applied = false
			blob, err := load[metadata.Blob](txn, keyBlob(candidate.ID))
			if err != nil || blob == nil || !q.Matches(blob) {
				return err
			}

			oldParent := blob.ParentID
			patch.Apply(blob)
			if err := save(txn, keyBlob(blob.ID), blob); err != nil {
				return err
			}
			if blob.ParentID != oldParent {
				if oldParent != "" {
					if err := txn.Delete(keyBlobParent(oldParent, blob.ID)); err != nil {
						return err
					}
				}
				if blob.ParentID != "" {
					if err := txn.Set(keyBlobParent(blob.ParentID, blob.ID), nil); err != nil {
						return err
					}
				}
			}
			applied = true
			return nil
		})
		if err != nil {
			return changed, wrap("update blob", err)
		}
		if applied {
			changed++
		}
	}
	return changed, nil
}

// DeleteBlob removes a blob and its index entries.
func (s *BadgerMetadataStore) DeleteBlob(ctx context.Context, id string) error {
	err := s.update(ctx, func(txn *badger.Txn) error {
		blob, err := load[metadata.Blob](txn, keyBlob(id))
		if err != nil || blob == nil {
			return err
		}
		if blob.ParentID != "" {
			if err := txn.Delete(keyBlobParent(blob.ParentID, id)); err != nil {
				return err
			}
		}
		if err := txn.Delete(keyBlobKey(blob.BlobKey)); err != nil {
			return err
		}
		return txn.Delete(keyBlob(id))
	})
	return wrap("delete blob", err)
}
