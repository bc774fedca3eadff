package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/marmos91/blobspace/pkg/store/metadata"
)

var variantColumns = []string{
	"id", "blob_id", "variant_name", "queued_for_conversion", "num_attempts", "last_conversion_attempt",
	"node", "physical_object_key", "size", "checksum",
	"conversion_duration", "queue_duration", "transfer_duration", "created_at",
}

var selectVariants = "SELECT " + strings.Join(variantColumns, ", ") + " FROM variants"

func scanVariant(row interface{ Scan(...any) error }) (*metadata.Variant, error) {
	var variant metadata.Variant
	var lastAttempt, createdAt, conversion, queue, transfer int64
	err := row.Scan(
		&variant.ID, &variant.BlobID, &variant.VariantName, &variant.QueuedForConversion, &variant.NumAttempts, &lastAttempt,
		&variant.Node, &variant.PhysicalObjectKey, &variant.Size, &variant.Checksum,
		&conversion, &queue, &transfer, &createdAt,
	)
	if err != nil {
		return nil, err
	}
	variant.LastConversionAttempt = fromNanos(lastAttempt)
	variant.CreatedAt = fromNanos(createdAt)
	variant.ConversionDuration = time.Duration(conversion)
	variant.QueueDuration = time.Duration(queue)
	variant.TransferDuration = time.Duration(transfer)
	return &variant, nil
}

func (s *SQLMetadataStore) variantWhere(b *builder, q *metadata.VariantQuery) {
	b.eqString("id", q.ID)
	b.eqString("blob_id", q.BlobID)
	b.eqString("variant_name", q.VariantName)
	b.eqBool("queued_for_conversion", q.QueuedForConversion)
	if q.NumAttempts != nil {
		b.eq("num_attempts", *q.NumAttempts)
	}
	if q.HasPhysicalObject != nil {
		if *q.HasPhysicalObject {
			b.cond("physical_object_key <> ''")
		} else {
			b.cond("physical_object_key = ''")
		}
	}
	b.notEq("id", q.ExcludeID)
}

// CreateVariant inserts a new variant row.
func (s *SQLMetadataStore) CreateVariant(ctx context.Context, variant *metadata.Variant) error {
	if variant.ID == "" {
		variant.ID = metadata.NewID()
	}
	if variant.CreatedAt.IsZero() {
		variant.CreatedAt = time.Now()
	}

	b := newBuilder(s.dialect)
	query := b.insert("variants", variantColumns, []any{
		variant.ID, variant.BlobID, variant.VariantName, variant.QueuedForConversion, variant.NumAttempts,
		toNanos(variant.LastConversionAttempt), variant.Node, variant.PhysicalObjectKey, variant.Size, variant.Checksum,
		int64(variant.ConversionDuration), int64(variant.QueueDuration), int64(variant.TransferDuration),
		toNanos(variant.CreatedAt),
	})

	if _, err := s.db.ExecContext(ctx, query, b.args...); err != nil {
		if isUniqueViolation(err) {
			return metadata.NewAlreadyExistsError("variant", variant.ID)
		}
		return wrap("create variant", err)
	}
	return nil
}

// GetVariant fetches a variant by id.
func (s *SQLMetadataStore) GetVariant(ctx context.Context, id string) (*metadata.Variant, error) {
	b := newBuilder(s.dialect)
	b.eq("id", id)

	variant, err := scanVariant(s.db.QueryRowContext(ctx, selectVariants+b.whereClause(), b.args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, metadata.NewNotFoundError("variant", id)
	}
	if err != nil {
		return nil, wrap("get variant", err)
	}
	return variant, nil
}

// FindVariants returns the variants matching q.
func (s *SQLMetadataStore) FindVariants(ctx context.Context, q metadata.VariantQuery, opts metadata.ListOptions) ([]*metadata.Variant, error) {
	b := newBuilder(s.dialect)
	s.variantWhere(b, &q)

	query := selectVariants + b.whereClause()
	if opts.Order == metadata.OrderByCreated {
		query += b.orderBy("created_at", false, false)
	} else {
		query += b.orderBy("", false, false)
	}
	query += b.limit(opts)

	rows, err := s.db.QueryContext(ctx, query, b.args...)
	if err != nil {
		return nil, wrap("find variants", err)
	}
	defer func() { _ = rows.Close() }()

	result := make([]*metadata.Variant, 0)
	for rows.Next() {
		variant, err := scanVariant(rows)
		if err != nil {
			return nil, wrap("scan variant", err)
		}
		result = append(result, variant)
	}
	if err := rows.Err(); err != nil {
		return nil, wrap("find variants", err)
	}
	return result, nil
}

// CountVariants counts the variants matching q.
func (s *SQLMetadataStore) CountVariants(ctx context.Context, q metadata.VariantQuery) (int, error) {
	b := newBuilder(s.dialect)
	s.variantWhere(b, &q)

	var count int
	err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM variants"+b.whereClause(), b.args...).Scan(&count)
	if err != nil {
		return 0, wrap("count variants", err)
	}
	return count, nil
}

// UpdateVariants applies patch to every variant matching q.
func (s *SQLMetadataStore) UpdateVariants(ctx context.Context, q metadata.VariantQuery, patch metadata.VariantPatch) (int, error) {
	b := newBuilder(s.dialect)
	b.setBool("queued_for_conversion", patch.QueuedForConversion)
	if patch.NumAttempts != nil {
		b.set("num_attempts", *patch.NumAttempts)
	}
	if patch.LastConversionAttempt != nil {
		b.set("last_conversion_attempt", toNanos(*patch.LastConversionAttempt))
	}
	b.setString("node", patch.Node)
	b.setString("physical_object_key", patch.PhysicalObjectKey)
	if patch.Size != nil {
		b.set("size", *patch.Size)
	}
	b.setString("checksum", patch.Checksum)
	if patch.ConversionDuration != nil {
		b.set("conversion_duration", int64(*patch.ConversionDuration))
	}
	if patch.QueueDuration != nil {
		b.set("queue_duration", int64(*patch.QueueDuration))
	}
	if patch.TransferDuration != nil {
		b.set("transfer_duration", int64(*patch.TransferDuration))
	}
	if len(b.sets) == 0 {
		return s.CountVariants(ctx, q)
	}
	s.variantWhere(b, &q)

	query := "UPDATE variants SET " + strings.Join(b.sets, ", ") + b.whereClause()
	return s.exec(ctx, "update variants", query, b.args)
}

// DeleteVariant removes a variant row.
func (s *SQLMetadataStore) DeleteVariant(ctx context.Context, id string) error {
	b := newBuilder(s.dialect)
	b.eq("id", id)
	_, err := s.exec(ctx, "delete variant", "DELETE FROM variants"+b.whereClause(), b.args)
	return err
}

// DeleteVariants removes every variant matching q.
func (s *SQLMetadataStore) DeleteVariants(ctx context.Context, q metadata.VariantQuery) (int, error) {
	b := newBuilder(s.dialect)
	s.variantWhere(b, &q)
	return s.exec(ctx, "delete variants", "DELETE FROM variants"+b.whereClause(), b.args)
}
