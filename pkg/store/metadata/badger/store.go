// Package badger implements a persistent MetadataStore on BadgerDB.
package badger

import (
	"context"
	"errors"
	"fmt"

	badger "github.com/dgraph-io/badger/v4"
	"github.com/dgraph-io/badger/v4/options"
	"github.com/marmos91/blobspace/pkg/store/metadata"
)

// maxConflictRetries bounds the retries of a transaction that lost a
// serializable conflict against a concurrent writer.
const maxConflictRetries = 16

// BadgerMetadataStore implements metadata.MetadataStore using BadgerDB.
//
// Key Features:
//   - Persistent storage with crash recovery (WAL-based)
//   - Serializable transactions, used to make conditional updates atomic
//   - Index keys for children, blob keys and variants (see keys.go)
//
// Conditional updates run one transaction per candidate row. Badger detects
// read/write conflicts at commit, so two writers racing on the same
// compare-and-set cannot both succeed: the loser retries, re-reads the row and
// no longer matches the predicate.
type BadgerMetadataStore struct {
	db *badger.DB
}

// BadgerMetadataStoreConfig contains configuration for creating a BadgerDB metadata store.
type BadgerMetadataStoreConfig struct {
	// DBPath is the directory where BadgerDB stores its files
	DBPath string `mapstructure:"db_path"`

	// InMemory keeps everything in memory. DBPath is ignored.
	InMemory bool `mapstructure:"in_memory"`

	// BlockCacheSizeMB is BadgerDB's block cache size in MB (default: 64)
	BlockCacheSizeMB int64 `mapstructure:"block_cache_size_mb"`

	// IndexCacheSizeMB is BadgerDB's index cache size in MB (default: 32)
	IndexCacheSizeMB int64 `mapstructure:"index_cache_size_mb"`
}

// NewBadgerMetadataStore opens (or creates) a BadgerDB database.
func NewBadgerMetadataStore(ctx context.Context, config BadgerMetadataStoreConfig) (*BadgerMetadataStore, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	opts := badger.DefaultOptions(config.DBPath)
	if config.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	}

	// Rows are small JSON documents, compression isn't worth it
	opts = opts.WithLoggingLevel(badger.WARNING)
	opts = opts.WithCompression(options.None)

	blockCacheMB := config.BlockCacheSizeMB
	if blockCacheMB == 0 {
		blockCacheMB = 64
	}
	indexCacheMB := config.IndexCacheSizeMB
	if indexCacheMB == 0 {
		indexCacheMB = 32
	}
	opts = opts.WithBlockCacheSize(blockCacheMB << 20)
	opts = opts.WithIndexCacheSize(indexCacheMB << 20)

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open BadgerDB at %s: %w", config.DBPath, err)
	}

	return &BadgerMetadataStore{db: db}, nil
}

// Close closes the underlying database.
func (s *BadgerMetadataStore) Close() error {
	return s.db.Close()
}

// update runs fn in a read-write transaction, retrying on commit conflicts.
func (s *BadgerMetadataStore) update(ctx context.Context, fn func(txn *badger.Txn) error) error {
	var err error
	for attempt := 0; attempt < maxConflictRetries; attempt++ {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		err = s.db.Update(fn)
		if !errors.Is(err, badger.ErrConflict) {
			return err
		}
	}
	return metadata.NewIOError("transaction", err)
}

// view runs fn in a read-only transaction.
func (s *BadgerMetadataStore) view(ctx context.Context, fn func(txn *badger.Txn) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.db.View(fn)
}

// wrap converts raw badger errors to StoreErrors and leaves domain errors untouched.
func wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	var storeErr *metadata.StoreError
	if errors.As(err, &storeErr) || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return metadata.NewIOError(op, err)
}

var _ metadata.MetadataStore = (*BadgerMetadataStore)(nil)
