// Package sqlstore implements MetadataStore on a relational database.
//
// Two dialects are supported through database/sql: PostgreSQL via the pgx
// stdlib driver and SQLite via mattn/go-sqlite3. The schema is managed with
// goose migrations embedded in the binary.
package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/marmos91/blobspace/internal/logger"
	"github.com/marmos91/blobspace/pkg/store/metadata"
	"github.com/marmos91/blobspace/pkg/store/metadata/sqlstore/migrations"
	"github.com/mattn/go-sqlite3"
	"github.com/pressly/goose/v3"
)

// Dialect names a supported SQL backend.
type Dialect string

const (
	DialectPostgres Dialect = "postgres"
	DialectSQLite   Dialect = "sqlite3"
)

// driverName returns the database/sql driver registered for the dialect.
func (d Dialect) driverName() (string, error) {
	switch d {
	case DialectPostgres:
		return "pgx", nil
	case DialectSQLite:
		return "sqlite3", nil
	default:
		return "", fmt.Errorf("unsupported sql dialect %q", d)
	}
}

// SQLMetadataStoreConfig contains configuration for the SQL metadata store.
type SQLMetadataStoreConfig struct {
	// Dialect is "postgres" or "sqlite3"
	Dialect Dialect `mapstructure:"dialect"`

	// DSN is the driver specific connection string.
	// For SQLite, ":memory:" gives a private in-memory database.
	DSN string `mapstructure:"dsn"`

	// MaxOpenConns bounds the connection pool (postgres only, SQLite always uses 1)
	MaxOpenConns int `mapstructure:"max_open_conns"`

	// SkipMigrations disables schema migration on open
	SkipMigrations bool `mapstructure:"skip_migrations"`
}

// SQLMetadataStore implements metadata.MetadataStore using database/sql.
//
// Every conditional update is a single UPDATE ... WHERE statement, so the
// database evaluates the predicate and applies the patch atomically per row.
type SQLMetadataStore struct {
	db      *sql.DB
	dialect Dialect
}

// gooseMu serializes migrations, goose keeps its settings in package globals.
var gooseMu sync.Mutex

// NewSQLMetadataStore opens the database and migrates it to the latest schema.
func NewSQLMetadataStore(ctx context.Context, config SQLMetadataStoreConfig) (*SQLMetadataStore, error) {
	driver, err := config.Dialect.driverName()
	if err != nil {
		return nil, err
	}

	db, err := sql.Open(driver, config.DSN)
	if err != nil {
		return nil, fmt.Errorf("db open error: %w", err)
	}

	if config.Dialect == DialectSQLite {
		// A single connection keeps ":memory:" databases alive and avoids SQLITE_BUSY
		db.SetMaxOpenConns(1)
	} else if config.MaxOpenConns > 0 {
		db.SetMaxOpenConns(config.MaxOpenConns)
	}

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("db ping error: %w", err)
	}

	store := NewSQLMetadataStoreFromDB(db, config.Dialect)

	if !config.SkipMigrations {
		if err := store.RunMigrations(ctx); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("migration error: %w", err)
		}
	}

	return store, nil
}

// NewSQLMetadataStoreFromDB wraps an existing connection. The caller is
// responsible for migrating the schema.
func NewSQLMetadataStoreFromDB(db *sql.DB, dialect Dialect) *SQLMetadataStore {
	return &SQLMetadataStore{db: db, dialect: dialect}
}

// RunMigrations applies every pending migration.
func (s *SQLMetadataStore) RunMigrations(ctx context.Context) error {
	gooseMu.Lock()
	defer gooseMu.Unlock()

	goose.SetBaseFS(migrations.Migrations)
	goose.SetLogger(gooseLogger{})
	if err := goose.SetDialect(string(s.dialect)); err != nil {
		return err
	}

	return goose.UpContext(ctx, s.db, ".")
}

// Close closes the connection pool.
func (s *SQLMetadataStore) Close() error {
	return s.db.Close()
}

// gooseLogger routes migration output through the application logger.
type gooseLogger struct{}

func (gooseLogger) Printf(format string, v ...any) {
	logger.Debug("Migrations: "+strings.TrimRight(format, "\n"), v...)
}

func (gooseLogger) Fatalf(format string, v ...any) {
	logger.Error("Migrations: "+strings.TrimRight(format, "\n"), v...)
}

// ============================================================================
// Error translation
// ============================================================================

// isUniqueViolation reports whether err is a primary key or unique constraint
// violation in either dialect.
func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}

	var liteErr sqlite3.Error
	if errors.As(err, &liteErr) {
		return liteErr.ExtendedCode == sqlite3.ErrConstraintUnique ||
			liteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
	}
	return false
}

func wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return metadata.NewIOError(op, err)
}

// ============================================================================
// Column encodings
// ============================================================================
//
// Timestamps and durations are stored as BIGINT nanoseconds. Zero stands for
// an unset timestamp, which keeps "IS NULL" handling out of the queries.

func toNanos(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixNano()
}

func fromNanos(n int64) time.Time {
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n).UTC()
}

var _ metadata.MetadataStore = (*SQLMetadataStore)(nil)
