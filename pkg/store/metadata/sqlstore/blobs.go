package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/marmos91/blobspace/pkg/store/metadata"
)

var blobColumns = []string{
	"id", "blob_key", "space_name", "tenant_id", "parent_id", "reference_id", "reference_designator",
	"physical_object_key", "filename", "normalized_filename", "file_extension",
	"size", "checksum", "last_modified", "last_touched", "created_at",
	"committed", "deleted", "temporary", "read_only",
	"created", "renamed", "content_updated", "parent_changed",
}

var selectBlobs = "SELECT " + strings.Join(blobColumns, ", ") + " FROM blobs"

func scanBlob(row interface{ Scan(...any) error }) (*metadata.Blob, error) {
	var blob metadata.Blob
	var lastModified, lastTouched, createdAt int64
	err := row.Scan(
		&blob.ID, &blob.BlobKey, &blob.SpaceName, &blob.TenantID, &blob.ParentID, &blob.ReferenceID, &blob.ReferenceDesignator,
		&blob.PhysicalObjectKey, &blob.Filename, &blob.NormalizedFilename, &blob.FileExtension,
		&blob.Size, &blob.Checksum, &lastModified, &lastTouched, &createdAt,
		&blob.Committed, &blob.Deleted, &blob.Temporary, &blob.ReadOnly,
		&blob.Created, &blob.Renamed, &blob.ContentUpdated, &blob.ParentChanged,
	)
	if err != nil {
		return nil, err
	}
	blob.LastModified = fromNanos(lastModified)
	blob.LastTouched = fromNanos(lastTouched)
	blob.CreatedAt = fromNanos(createdAt)
	return &blob, nil
}

func (s *SQLMetadataStore) blobWhere(b *builder, q *metadata.BlobQuery) {
	b.eqString("id", q.ID)
	b.eqString("blob_key", q.BlobKey)
	b.eqString("space_name", q.SpaceName)
	b.eqString("tenant_id", q.TenantID)
	b.eqString("parent_id", q.ParentID)
	b.eqString("reference_id", q.ReferenceID)
	b.eqString("reference_designator", q.ReferenceDesignator)
	b.eqString("normalized_filename", q.NormalizedFilename)
	b.eqString("physical_object_key", q.PhysicalObjectKey)
	b.hasPrefix("normalized_filename", q.NamePrefix)
	b.inFold("file_extension", q.FileExtensions)
	b.eqBool("committed", q.Committed)
	b.eqBool("deleted", q.Deleted)
	b.eqBool("temporary", q.Temporary)
	b.eqBool("created", q.Created)
	b.eqBool("renamed", q.Renamed)
	b.eqBool("content_updated", q.ContentUpdated)
	b.eqBool("parent_changed", q.ParentChanged)
	if !q.LastModifiedBefore.IsZero() {
		b.cond("last_modified < " + b.bind(toNanos(q.LastModifiedBefore)))
	}
	if !q.LastTouchedBeforeOrUnset.IsZero() {
		b.cond("(last_touched = 0 OR last_touched < " + b.bind(toNanos(q.LastTouchedBeforeOrUnset)) + ")")
	}
	b.notEq("id", q.ExcludeID)
	b.notEq("blob_key", q.ExcludeBlobKey)
}

// CreateBlob inserts a new blob row.
func (s *SQLMetadataStore) CreateBlob(ctx context.Context, blob *metadata.Blob) error {
	if blob.BlobKey == "" {
		return &metadata.StoreError{Code: metadata.ErrInvalidArgument, Message: "blob key is required"}
	}
	if blob.ID == "" {
		blob.ID = metadata.NewID()
	}
	if blob.CreatedAt.IsZero() {
		blob.CreatedAt = time.Now()
	}

	b := newBuilder(s.dialect)
	query := b.insert("blobs", blobColumns, []any{
		blob.ID, blob.BlobKey, blob.SpaceName, blob.TenantID, blob.ParentID, blob.ReferenceID, blob.ReferenceDesignator,
		blob.PhysicalObjectKey, blob.Filename, blob.NormalizedFilename, blob.FileExtension,
		blob.Size, blob.Checksum, toNanos(blob.LastModified), toNanos(blob.LastTouched), toNanos(blob.CreatedAt),
		blob.Committed, blob.Deleted, blob.Temporary, blob.ReadOnly,
		blob.Created, blob.Renamed, blob.ContentUpdated, blob.ParentChanged,
	})

	if _, err := s.db.ExecContext(ctx, query, b.args...); err != nil {
		if isUniqueViolation(err) {
			return metadata.NewAlreadyExistsError("blob", blob.BlobKey)
		}
		return wrap("create blob", err)
	}
	return nil
}

// GetBlob fetches a blob by id.
func (s *SQLMetadataStore) GetBlob(ctx context.Context, id string) (*metadata.Blob, error) {
	b := newBuilder(s.dialect)
	b.eq("id", id)

	blob, err := scanBlob(s.db.QueryRowContext(ctx, selectBlobs+b.whereClause(), b.args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, metadata.NewNotFoundError("blob", id)
	}
	if err != nil {
		return nil, wrap("get blob", err)
	}
	return blob, nil
}

// FindBlobs returns the blobs matching q.
func (s *SQLMetadataStore) FindBlobs(ctx context.Context, q metadata.BlobQuery, opts metadata.ListOptions) ([]*metadata.Blob, error) {
	b := newBuilder(s.dialect)
	s.blobWhere(b, &q)

	query := selectBlobs + b.whereClause()
	switch opts.Order {
	case metadata.OrderByName:
		query += b.orderBy("normalized_filename", true, false)
	case metadata.OrderByLastModifiedDesc:
		query += b.orderBy("last_modified", false, true)
	case metadata.OrderByCreated:
		query += b.orderBy("created_at", false, false)
	default:
		query += b.orderBy("", false, false)
	}
	query += b.limit(opts)

	rows, err := s.db.QueryContext(ctx, query, b.args...)
	if err != nil {
		return nil, wrap("find blobs", err)
	}
	defer func() { _ = rows.Close() }()

	result := make([]*metadata.Blob, 0)
	for rows.Next() {
		blob, err := scanBlob(rows)
		if err != nil {
			return nil, wrap("scan blob", err)
		}
		result = append(result, blob)
	}
	if err := rows.Err(); err != nil {
		return nil, wrap("find blobs", err)
	}
	return result, nil
}

// AggregateBlobs counts the blobs matching q and sums their sizes.
func (s *SQLMetadataStore) AggregateBlobs(ctx context.Context, q metadata.BlobQuery) (metadata.Aggregate, error) {
	b := newBuilder(s.dialect)
	s.blobWhere(b, &q)

	var agg metadata.Aggregate
	query := "SELECT COUNT(*), COALESCE(CAST(SUM(size) AS BIGINT), 0) FROM blobs" + b.whereClause()
	if err := s.db.QueryRowContext(ctx, query, b.args...).Scan(&agg.Count, &agg.TotalSize); err != nil {
		return agg, wrap("aggregate blobs", err)
	}
	return agg, nil
}

// UpdateBlobs applies patch to every blob matching q.
func (s *SQLMetadataStore) UpdateBlobs(ctx context.Context, q metadata.BlobQuery, patch metadata.BlobPatch) (int, error) {
	b := newBuilder(s.dialect)
	b.setString("parent_id", patch.ParentID)
	b.setString("reference_id", patch.ReferenceID)
	b.setString("reference_designator", patch.ReferenceDesignator)
	b.setString("physical_object_key", patch.PhysicalObjectKey)
	b.setString("filename", patch.Filename)
	b.setString("normalized_filename", patch.NormalizedFilename)
	b.setString("file_extension", patch.FileExtension)
	if patch.Size != nil {
		b.set("size", *patch.Size)
	}
	b.setString("checksum", patch.Checksum)
	if patch.LastModified != nil {
		b.set("last_modified", toNanos(*patch.LastModified))
	}
	if patch.LastTouched != nil {
		b.set("last_touched", toNanos(*patch.LastTouched))
	}
	b.setBool("committed", patch.Committed)
	b.setBool("deleted", patch.Deleted)
	b.setBool("temporary", patch.Temporary)
	b.setBool("read_only", patch.ReadOnly)
	b.setBool("created", patch.Created)
	b.setBool("renamed", patch.Renamed)
	b.setBool("content_updated", patch.ContentUpdated)
	b.setBool("parent_changed", patch.ParentChanged)
	if len(b.sets) == 0 {
		agg, err := s.AggregateBlobs(ctx, q)
		return agg.Count, err
	}
	s.blobWhere(b, &q)

	query := "UPDATE blobs SET " + strings.Join(b.sets, ", ") + b.whereClause()
	return s.exec(ctx, "update blobs", query, b.args)
}

// DeleteBlob removes a blob row.
func (s *SQLMetadataStore) DeleteBlob(ctx context.Context, id string) error {
	b := newBuilder(s.dialect)
	b.eq("id", id)
	_, err := s.exec(ctx, "delete blob", "DELETE FROM blobs"+b.whereClause(), b.args)
	return err
}
