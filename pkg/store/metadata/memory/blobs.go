package memory

import (
	"context"
	"time"

	"github.com/marmos91/blobspace/pkg/store/metadata"
)

// CreateBlob inserts a copy of blob and assigns an id if needed.
func (s *MemoryMetadataStore) CreateBlob(ctx context.Context, blob *metadata.Blob) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.check(ctx); err != nil {
		return err
	}

	if blob.BlobKey == "" {
		return &metadata.StoreError{Code: metadata.ErrInvalidArgument, Message: "blob key is required"}
	}
	if blob.ID == "" {
		blob.ID = metadata.NewID()
	}
	if blob.CreatedAt.IsZero() {
		blob.CreatedAt = time.Now()
	}
	if _, exists := s.blobs[blob.ID]; exists {
		return metadata.NewAlreadyExistsError("blob", blob.ID)
	}
	if _, exists := s.blobKeys[blob.BlobKey]; exists {
		return metadata.NewAlreadyExistsError("blob key", blob.BlobKey)
	}

	s.blobs[blob.ID] = blob.Clone()
	s.blobKeys[blob.BlobKey] = blob.ID
	return nil
}

// GetBlob returns a copy of the blob with the given id.
func (s *MemoryMetadataStore) GetBlob(ctx context.Context, id string) (*metadata.Blob, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if err := s.check(ctx); err != nil {
		return nil, err
	}

	blob, ok := s.blobs[id]
	if !ok {
		return nil, metadata.NewNotFoundError("blob", id)
	}
	return blob.Clone(), nil
}

// candidates narrows the scan to a single row when the query pins the id or blob key.
func (s *MemoryMetadataStore) candidates(q *metadata.BlobQuery) []*metadata.Blob {
	if q.ID != nil {
		if blob, ok := s.blobs[*q.ID]; ok {
			return []*metadata.Blob{blob}
		}
		return nil
	}
	if q.BlobKey != nil {
		if id, ok := s.blobKeys[*q.BlobKey]; ok {
			return []*metadata.Blob{s.blobs[id]}
		}
		return nil
	}

	all := make([]*metadata.Blob, 0, len(s.blobs))
	for _, blob := range s.blobs {
		all = append(all, blob)
	}
	return all
}

// FindBlobs returns copies of all matching blobs.
func (s *MemoryMetadataStore) FindBlobs(ctx context.Context, q metadata.BlobQuery, opts metadata.ListOptions) ([]*metadata.Blob, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if err := s.check(ctx); err != nil {
		return nil, err
	}

	result := make([]*metadata.Blob, 0)
	for _, blob := range s.candidates(&q) {
		if q.Matches(blob) {
			result = append(result, blob.Clone())
		}
	}

	metadata.SortBlobs(result, opts.Order)
	return metadata.Paginate(result, opts), nil
}

// AggregateBlobs counts matching blobs and sums their sizes.
func (s *MemoryMetadataStore) AggregateBlobs(ctx context.Context, q metadata.BlobQuery) (metadata.Aggregate, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var agg metadata.Aggregate
	if err := s.check(ctx); err != nil {
		return agg, err
	}

	for _, blob := range s.candidates(&q) {
		if q.Matches(blob) {
			agg.Count++
			agg.TotalSize += blob.Size
		}
	}
	return agg, nil
}

// UpdateBlobs patches all matching blobs under the write lock.
func (s *MemoryMetadataStore) UpdateBlobs(ctx context.Context, q metadata.BlobQuery, patch metadata.BlobPatch) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.check(ctx); err != nil {
		return 0, err
	}

	changed := 0
	for _, blob := range s.candidates(&q) {
		if q.Matches(blob) {
			patch.Apply(blob)
			changed++
		}
	}
	return changed, nil
}

// DeleteBlob removes a blob row.
func (s *MemoryMetadataStore) DeleteBlob(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.check(ctx); err != nil {
		return err
	}

	if blob, ok := s.blobs[id]; ok {
		delete(s.blobKeys, blob.BlobKey)
		delete(s.blobs, id)
	}
	return nil
}
