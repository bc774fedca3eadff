package badger

import (
	"context"
	"time"

	badger "github.com/dgraph-io/badger/v4"
	"github.com/marmos91/blobspace/pkg/store/metadata"
)

// CreateVariant inserts variant and its blob index entry.
func (s *BadgerMetadataStore) CreateVariant(ctx context.Context, variant *metadata.Variant) error {
	if variant.ID == "" {
		variant.ID = metadata.NewID()
	}
	if variant.CreatedAt.IsZero() {
		variant.CreatedAt = time.Now()
	}

	err := s.update(ctx, func(txn *badger.Txn) error {
		found, err := exists(txn, keyVariant(variant.ID))
		if err != nil {
			return err
		}
		if found {
			return metadata.NewAlreadyExistsError("variant", variant.ID)
		}

		if err := save(txn, keyVariant(variant.ID), variant); err != nil {
			return err
		}
		return txn.Set(keyVariantBlob(variant.BlobID, variant.ID), nil)
	})
	return wrap("create variant", err)
}

// GetVariant fetches a variant by id.
func (s *BadgerMetadataStore) GetVariant(ctx context.Context, id string) (*metadata.Variant, error) {
	var variant *metadata.Variant
	err := s.view(ctx, func(txn *badger.Txn) error {
		var err error
		variant, err = load[metadata.Variant](txn, keyVariant(id))
		return err
	})
	if err != nil {
		return nil, wrap("get variant", err)
	}
	if variant == nil {
		return nil, metadata.NewNotFoundError("variant", id)
	}
	return variant, nil
}

func variantCandidates(txn *badger.Txn, q *metadata.VariantQuery) ([]*metadata.Variant, error) {
	switch {
	case q.ID != nil:
		return loadAll[metadata.Variant](txn, []string{*q.ID}, keyVariant)
	case q.BlobID != nil:
		ids := scanIndex(txn, keyVariantBlobPrefix(*q.BlobID))
		return loadAll[metadata.Variant](txn, ids, keyVariant)
	default:
		return scanRows[metadata.Variant](txn, prefixVariant)
	}
}

func (s *BadgerMetadataStore) matchVariants(ctx context.Context, q *metadata.VariantQuery) ([]*metadata.Variant, error) {
	var result []*metadata.Variant
	err := s.view(ctx, func(txn *badger.Txn) error {
		candidates, err := variantCandidates(txn, q)
		if err != nil {
			return err
		}
		for _, variant := range candidates {
			if q.Matches(variant) {
				result = append(result, variant)
			}
		}
		return nil
	})
	return result, err
}

// FindVariants returns the variants matching q.
func (s *BadgerMetadataStore) FindVariants(ctx context.Context, q metadata.VariantQuery, opts metadata.ListOptions) ([]*metadata.Variant, error) {
	result, err := s.matchVariants(ctx, &q)
	if err != nil {
		return nil, wrap("find variants", err)
	}
	if result == nil {
		result = []*metadata.Variant{}
	}

	metadata.SortVariants(result, opts.Order)
	return metadata.Paginate(result, opts), nil
}

// CountVariants counts the variants matching q.
func (s *BadgerMetadataStore) CountVariants(ctx context.Context, q metadata.VariantQuery) (int, error) {
	result, err := s.matchVariants(ctx, &q)
	if err != nil {
		return 0, wrap("count variants", err)
	}
	return len(result), nil
}

// UpdateVariants applies patch to every matching variant, one transaction per row.
func (s *BadgerMetadataStore) UpdateVariants(ctx context.Context, q metadata.VariantQuery, patch metadata.VariantPatch) (int, error) {
	candidates, err := s.matchVariants(ctx, &q)
	if err != nil {
		return 0, wrap("update variants", err)
	}

	changed := 0
	for _, candidate := range candidates {
		applied := false
		err := s.update(ctx, func(txn *badger.Txn) error {
			applied = false
			variant, err := load[metadata.Variant](txn, keyVariant(candidate.ID))
			if err != nil || variant == nil || !q.Matches(variant) {
				return err
			}
			patch.Apply(variant)
			if err := save(txn, keyVariant(variant.ID), variant); err != nil {
				return err
			}
			applied = true
			return nil
		})
		if err != nil {
			return changed, wrap("update variant", err)
		}
		if applied {
			changed++
		}
	}
	return changed, nil
}

func deleteVariantTxn(txn *badger.Txn, id string) (bool, error) {
	variant, err := load[metadata.Variant](txn, keyVariant(id))
	if err != nil || variant == nil {
		return false, err
	}
	if err := txn.Delete(keyVariantBlob(variant.BlobID, id)); err != nil {
		return false, err
	}
	return true, txn.Delete(keyVariant(id))
}

// DeleteVariant removes a variant and its index entry.
func (s *BadgerMetadataStore) DeleteVariant(ctx context.Context, id string) error {
	err := s.update(ctx, func(txn *badger.Txn) error {
		_, err := deleteVariantTxn(txn, id)
		return err
	})
	return wrap("delete variant", err)
}

// DeleteVariants removes every matching variant.
func (s *BadgerMetadataStore) DeleteVariants(ctx context.Context, q metadata.VariantQuery) (int, error) {
	candidates, err := s.matchVariants(ctx, &q)
	if err != nil {
		return 0, wrap("delete variants", err)
	}

	deleted := 0
	for _, candidate := range candidates {
		removed := false
		err := s.update(ctx, func(txn *badger.Txn) error {
			var err error
			removed, err = deleteVariantTxn(txn, candidate.ID)
			return err
		})
		if err != nil {
			return deleted, wrap("delete variant", err)
		}
		if removed {
			deleted++
		}
	}
	return deleted, nil
}
