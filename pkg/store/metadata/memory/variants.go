package memory

import (
	"context"
	"time"

	"github.com/marmos91/blobspace/pkg/store/metadata"
)

// CreateVariant inserts a copy of variant and assigns an id if needed.
func (s *MemoryMetadataStore) CreateVariant(ctx context.Context, variant *metadata.Variant) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.check(ctx); err != nil {
		return err
	}

	if variant.ID == "" {
		variant.ID = metadata.NewID()
	}
	if variant.CreatedAt.IsZero() {
		variant.CreatedAt = time.Now()
	}
	if _, exists := s.variants[variant.ID]; exists {
		return metadata.NewAlreadyExistsError("variant", variant.ID)
	}

	s.variants[variant.ID] = variant.Clone()
	return nil
}

// GetVariant returns a copy of the variant with the given id.
func (s *MemoryMetadataStore) GetVariant(ctx context.Context, id string) (*metadata.Variant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if err := s.check(ctx); err != nil {
		return nil, err
	}

	variant, ok := s.variants[id]
	if !ok {
		return nil, metadata.NewNotFoundError("variant", id)
	}
	return variant.Clone(), nil
}

// FindVariants returns copies of all matching variants.
func (s *MemoryMetadataStore) FindVariants(ctx context.Context, q metadata.VariantQuery, opts metadata.ListOptions) ([]*metadata.Variant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if err := s.check(ctx); err != nil {
		return nil, err
	}

	result := make([]*metadata.Variant, 0)
	for _, variant := range s.variants {
		if q.Matches(variant) {
			result = append(result, variant.Clone())
		}
	}

	metadata.SortVariants(result, opts.Order)
	return metadata.Paginate(result, opts), nil
}

// CountVariants counts matching variants.
func (s *MemoryMetadataStore) CountVariants(ctx context.Context, q metadata.VariantQuery) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if err := s.check(ctx); err != nil {
		return 0, err
	}

	count := 0
	for _, variant := range s.variants {
		if q.Matches(variant) {
			count++
		}
	}
	return count, nil
}

// UpdateVariants patches all matching variants under the write lock.
func (s *MemoryMetadataStore) UpdateVariants(ctx context.Context, q metadata.VariantQuery, patch metadata.VariantPatch) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.check(ctx); err != nil {
		return 0, err
	}

	changed := 0
	for _, variant := range s.variants {
		if q.Matches(variant) {
			patch.Apply(variant)
			changed++
		}
	}
	return changed, nil
}

// DeleteVariant removes a variant row.
func (s *MemoryMetadataStore) DeleteVariant(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.check(ctx); err != nil {
		return err
	}

	delete(s.variants, id)
	return nil
}

// DeleteVariants removes all matching variants.
func (s *MemoryMetadataStore) DeleteVariants(ctx context.Context, q metadata.VariantQuery) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.check(ctx); err != nil {
		return 0, err
	}

	deleted := 0
	for id, variant := range s.variants {
		if q.Matches(variant) {
			delete(s.variants, id)
			deleted++
		}
	}
	return deleted, nil
}
