package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/marmos91/blobspace/pkg/store/metadata"
)

var directoryColumns = []string{
	"id", "space_name", "tenant_id", "parent_id", "name", "normalized_name",
	"committed", "deleted", "renamed", "created_at",
}

var selectDirectories = "SELECT " + strings.Join(directoryColumns, ", ") + " FROM directories"

func scanDirectory(row interface{ Scan(...any) error }) (*metadata.Directory, error) {
	var (
		dir       metadata.Directory
		createdAt int64
	)
	err := row.Scan(
		&dir.ID, &dir.SpaceName, &dir.TenantID, &dir.ParentID, &dir.Name, &dir.NormalizedName,
		&dir.Committed, &dir.Deleted, &dir.Renamed, &createdAt,
	)
	if err != nil {
		return nil, err
	}
	dir.CreatedAt = fromNanos(createdAt)
	return &dir, nil
}

func (s *SQLMetadataStore) directoryWhere(b *builder, q *metadata.DirectoryQuery) {
	b.eqString("id", q.ID)
	b.eqString("space_name", q.SpaceName)
	b.eqString("tenant_id", q.TenantID)
	b.eqString("parent_id", q.ParentID)
	b.eqString("normalized_name", q.NormalizedName)
	b.hasPrefix("normalized_name", q.NamePrefix)
	b.eqBool("committed", q.Committed)
	b.eqBool("deleted", q.Deleted)
	b.eqBool("renamed", q.Renamed)
	b.notEq("id", q.ExcludeID)
}

// CreateDirectory inserts a new directory row.
func (s *SQLMetadataStore) CreateDirectory(ctx context.Context, dir *metadata.Directory) error {
	if dir.ID == "" {
		dir.ID = metadata.NewID()
	}
	if dir.CreatedAt.IsZero() {
		dir.CreatedAt = time.Now()
	}

	b := newBuilder(s.dialect)
	query := b.insert("directories", directoryColumns, []any{
		dir.ID, dir.SpaceName, dir.TenantID, dir.ParentID, dir.Name, dir.NormalizedName,
		dir.Committed, dir.Deleted, dir.Renamed, toNanos(dir.CreatedAt),
	})

	if _, err := s.db.ExecContext(ctx, query, b.args...); err != nil {
		if isUniqueViolation(err) {
			return metadata.NewAlreadyExistsError("directory", dir.ID)
		}
		return wrap("create directory", err)
	}
	return nil
}

// GetDirectory fetches a directory by id.
func (s *SQLMetadataStore) GetDirectory(ctx context.Context, id string) (*metadata.Directory, error) {
	b := newBuilder(s.dialect)
	b.eq("id", id)

	dir, err := scanDirectory(s.db.QueryRowContext(ctx, selectDirectories+b.whereClause(), b.args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, metadata.NewNotFoundError("directory", id)
	}
	if err != nil {
		return nil, wrap("get directory", err)
	}
	return dir, nil
}

// FindDirectories returns the directories matching q.
func (s *SQLMetadataStore) FindDirectories(ctx context.Context, q metadata.DirectoryQuery, opts metadata.ListOptions) ([]*metadata.Directory, error) {
	b := newBuilder(s.dialect)
	s.directoryWhere(b, &q)

	query := selectDirectories + b.whereClause()
	switch opts.Order {
	case metadata.OrderByName:
		query += b.orderBy("normalized_name", true, false)
	case metadata.OrderByCreated:
		query += b.orderBy("created_at", false, false)
	default:
		query += b.orderBy("", false, false)
	}
	query += b.limit(opts)

	rows, err := s.db.QueryContext(ctx, query, b.args...)
	if err != nil {
		return nil, wrap("find directories", err)
	}
	defer func() { _ = rows.Close() }()

	result := make([]*metadata.Directory, 0)
	for rows.Next() {
		dir, err := scanDirectory(rows)
		if err != nil {
			return nil, wrap("scan directory", err)
		}
		result = append(result, dir)
	}
	if err := rows.Err(); err != nil {
		return nil, wrap("find directories", err)
	}
	return result, nil
}

// CountDirectories counts the directories matching q.
func (s *SQLMetadataStore) CountDirectories(ctx context.Context, q metadata.DirectoryQuery) (int, error) {
	b := newBuilder(s.dialect)
	s.directoryWhere(b, &q)

	var count int
	err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM directories"+b.whereClause(), b.args...).Scan(&count)
	if err != nil {
		return 0, wrap("count directories", err)
	}
	return count, nil
}

// UpdateDirectories applies patch to every directory matching q.
func (s *SQLMetadataStore) UpdateDirectories(ctx context.Context, q metadata.DirectoryQuery, patch metadata.DirectoryPatch) (int, error) {
	b := newBuilder(s.dialect)
	b.setString("parent_id", patch.ParentID)
	b.setString("name", patch.Name)
	b.setString("normalized_name", patch.NormalizedName)
	b.setBool("committed", patch.Committed)
	b.setBool("deleted", patch.Deleted)
	b.setBool("renamed", patch.Renamed)
	if len(b.sets) == 0 {
		return s.CountDirectories(ctx, q)
	}
	s.directoryWhere(b, &q)

	query := "UPDATE directories SET " + strings.Join(b.sets, ", ") + b.whereClause()
	return s.exec(ctx, "update directories", query, b.args)
}

// DeleteDirectory removes a directory row.
func (s *SQLMetadataStore) DeleteDirectory(ctx context.Context, id string) error {
	b := newBuilder(s.dialect)
	b.eq("id", id)
	_, err := s.exec(ctx, "delete directory", "DELETE FROM directories"+b.whereClause(), b.args)
	return err
}

// exec runs a statement and returns the number of affected rows.
func (s *SQLMetadataStore) exec(ctx context.Context, op, query string, args []any) (int, error) {
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, wrap(op, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, wrap(op, err)
	}
	return int(affected), nil
}
