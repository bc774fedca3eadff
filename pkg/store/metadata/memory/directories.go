package memory

import (
	"context"
	"time"

	"github.com/marmos91/blobspace/pkg/store/metadata"
)

// CreateDirectory inserts a copy of dir and assigns an id if needed.
func (s *MemoryMetadataStore) CreateDirectory(ctx context.Context, dir *metadata.Directory) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.check(ctx); err != nil {
		return err
	}

	if dir.ID == "" {
		dir.ID = metadata.NewID()
	}
	if dir.CreatedAt.IsZero() {
		dir.CreatedAt = time.Now()
	}
	if _, exists := s.directories[dir.ID]; exists {
		return metadata.NewAlreadyExistsError("directory", dir.ID)
	}

	s.directories[dir.ID] = dir.Clone()
	return nil
}

// GetDirectory returns a copy of the directory with the given id.
func (s *MemoryMetadataStore) GetDirectory(ctx context.Context, id string) (*metadata.Directory, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if err := s.check(ctx); err != nil {
		return nil, err
	}

	dir, ok := s.directories[id]
	if !ok {
		return nil, metadata.NewNotFoundError("directory", id)
	}
	return dir.Clone(), nil
}

// FindDirectories returns copies of all matching directories.
func (s *MemoryMetadataStore) FindDirectories(ctx context.Context, q metadata.DirectoryQuery, opts metadata.ListOptions) ([]*metadata.Directory, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if err := s.check(ctx); err != nil {
		return nil, err
	}

	result := make([]*metadata.Directory, 0)
	for _, dir := range s.directories {
		if q.Matches(dir) {
			result = append(result, dir.Clone())
		}
	}

	metadata.SortDirectories(result, opts.Order)
	return metadata.Paginate(result, opts), nil
}

// CountDirectories counts matching directories.
func (s *MemoryMetadataStore) CountDirectories(ctx context.Context, q metadata.DirectoryQuery) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if err := s.check(ctx); err != nil {
		return 0, err
	}

	count := 0
	for _, dir := range s.directories {
		if q.Matches(dir) {
			count++
		}
	}
	return count, nil
}

// UpdateDirectories patches all matching directories under the write lock.
func (s *MemoryMetadataStore) UpdateDirectories(ctx context.Context, q metadata.DirectoryQuery, patch metadata.DirectoryPatch) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.check(ctx); err != nil {
		return 0, err
	}

	changed := 0
	for _, dir := range s.directories {
		if q.Matches(dir) {
			patch.Apply(dir)
			changed++
		}
	}
	return changed, nil
}

// DeleteDirectory removes a directory row.
func (s *MemoryMetadataStore) DeleteDirectory(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.check(ctx); err != nil {
		return err
	}

	delete(s.directories, id)
	return nil
}
