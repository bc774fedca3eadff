// Package s3 implements content storage on Amazon S3 or any S3-compatible
// service.
package s3

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/marmos91/blobspace/internal/logger"
	"github.com/marmos91/blobspace/pkg/store/content"
)

const (
	minPartSize     = 5 * 1024 * 1024
	maxPartSize     = 5 * 1024 * 1024 * 1024
	defaultPartSize = 10 * 1024 * 1024
)

// Client is the subset of *s3.Client used by the store.
type Client interface {
	HeadBucket(ctx context.Context, params *s3.HeadBucketInput, optFns ...func(*s3.Options)) (*s3.HeadBucketOutput, error)
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	HeadObject(ctx context.Context, params *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
	DeleteObject(ctx context.Context, params *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
	CreateMultipartUpload(ctx context.Context, params *s3.CreateMultipartUploadInput, optFns ...func(*s3.Options)) (*s3.CreateMultipartUploadOutput, error)
	UploadPart(ctx context.Context, params *s3.UploadPartInput, optFns ...func(*s3.Options)) (*s3.UploadPartOutput, error)
	CompleteMultipartUpload(ctx context.Context, params *s3.CompleteMultipartUploadInput, optFns ...func(*s3.Options)) (*s3.CompleteMultipartUploadOutput, error)
	AbortMultipartUpload(ctx context.Context, params *s3.AbortMultipartUploadInput, optFns ...func(*s3.Options)) (*s3.AbortMultipartUploadOutput, error)
}

var _ Client = (*s3.Client)(nil)

// S3ContentStore implements content.ContentStore on an S3 bucket.
//
// Objects up to PartSize bytes are uploaded with a single PutObject.
// Larger payloads are streamed as a multipart upload, buffering one part
// at a time, so memory use is bounded by PartSize regardless of object size.
//
// Physical keys map directly to object keys below the optional prefix:
//
//	Key Prefix: "blobspace/"
//	Physical:   "docs/2024/03/5f0c..."
//	S3 Key:     "blobspace/docs/2024/03/5f0c..."
//
// Thread Safety:
// Safe for concurrent use by multiple goroutines.
type S3ContentStore struct {
	client    Client
	bucket    string
	keyPrefix string
	partSize  int64
	metrics   S3Metrics
}

// S3ContentStoreConfig contains configuration for the S3 content store.
type S3ContentStoreConfig struct {
	// Client is the configured S3 client, usually an *s3.Client.
	Client Client

	// Bucket is the S3 bucket name. The bucket must already exist.
	Bucket string

	// KeyPrefix is an optional prefix for all object keys.
	KeyPrefix string

	// PartSize is the multipart part size (default: 10MB).
	// Must be between 5MB and 5GB.
	PartSize int64

	// Metrics is optional; nil disables metrics collection.
	Metrics S3Metrics
}

// NewS3ContentStore creates a new S3-based content store and verifies
// bucket access.
func NewS3ContentStore(ctx context.Context, cfg S3ContentStoreConfig) (*S3ContentStore, error) {
	// ========================================================================
	// Step 1: Check context before S3 operations
	// ========================================================================

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	// ========================================================================
	// Step 2: Validate configuration
	// ========================================================================

	if cfg.Client == nil {
		return nil, fmt.Errorf("S3 client is required")
	}

	if cfg.Bucket == "" {
		return nil, fmt.Errorf("bucket name is required")
	}

	partSize := cfg.PartSize
	if partSize == 0 {
		partSize = defaultPartSize
	}

	if partSize < minPartSize {
		return nil, fmt.Errorf("part size must be at least 5MB, got %d bytes", partSize)
	}
	if partSize > maxPartSize {
		return nil, fmt.Errorf("part size must be at most 5GB, got %d bytes", partSize)
	}

	metrics := cfg.Metrics
	if metrics == nil {
		metrics = noopMetrics{}
	}

	// ========================================================================
	// Step 3: Verify bucket access
	// ========================================================================

	_, err := cfg.Client.HeadBucket(ctx, &s3.HeadBucketInput{
		Bucket: aws.String(cfg.Bucket),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to access bucket %q: %w", cfg.Bucket, err)
	}

	return &S3ContentStore{
		client:    cfg.Client,
		bucket:    cfg.Bucket,
		keyPrefix: cfg.KeyPrefix,
		partSize:  partSize,
		metrics:   metrics,
	}, nil
}

// getObjectKey returns the full S3 object key for a physical key.
func (s *S3ContentStore) getObjectKey(key string) string {
	if s.keyPrefix != "" {
		return s.keyPrefix + key
	}
	return key
}

// Put uploads r. The first part is buffered to decide between a single
// PutObject and a multipart upload.
func (s *S3ContentStore) Put(ctx context.Context, key string, r io.Reader, size int64) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if err := content.ValidateKey(key); err != nil {
		return 0, err
	}

	first, err := readPart(r, s.partSize)
	if err != nil {
		return 0, fmt.Errorf("failed to read content for %s: %w", key, err)
	}

	if int64(len(first)) < s.partSize || (size >= 0 && int64(len(first)) >= size) {
		if err := s.putObject(ctx, key, first); err != nil {
			return 0, err
		}
		return int64(len(first)), nil
	}

	return s.putMultipart(ctx, key, first, r)
}

func (s *S3ContentStore) putObject(ctx context.Context, key string, data []byte) error {
	start := time.Now()
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(s.bucket),
		Key:           aws.String(s.getObjectKey(key)),
		Body:          bytes.NewReader(data),
		ContentLength: aws.Int64(int64(len(data))),
	})
	s.metrics.ObserveOperation("PutObject", time.Since(start), err)
	if err != nil {
		return fmt.Errorf("failed to write content %s to S3: %w", key, err)
	}
	s.metrics.RecordBytes("write", int64(len(data)))
	return nil
}

func (s *S3ContentStore) putMultipart(ctx context.Context, key string, first []byte, r io.Reader) (int64, error) {
	objectKey := s.getObjectKey(key)

	// ========================================================================
	// Step 1: Initiate the upload
	// ========================================================================

	start := time.Now()
	created, err := s.client.CreateMultipartUpload(ctx, &s3.CreateMultipartUploadInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(objectKey),
	})
	s.metrics.ObserveOperation("CreateMultipartUpload", time.Since(start), err)
	if err != nil {
		return 0, fmt.Errorf("failed to start multipart upload for %s: %w", key, err)
	}
	s.metrics.RecordMultipartUpload("initiated")
	uploadID := created.UploadId

	abort := func(cause error) (int64, error) {
		_, abortErr := s.client.AbortMultipartUpload(context.WithoutCancel(ctx), &s3.AbortMultipartUploadInput{
			Bucket:   aws.String(s.bucket),
			Key:      aws.String(objectKey),
			UploadId: uploadID,
		})
		if abortErr != nil {
			logger.Warn("S3: failed to abort multipart upload for %s: %v", key, abortErr)
		}
		s.metrics.RecordMultipartUpload("aborted")
		return 0, cause
	}

	// ========================================================================
	// Step 2: Upload parts, one buffered part at a time
	// ========================================================================

	var (
		parts []types.CompletedPart
		total int64
		part  = first
	)
	for partNumber := int32(1); len(part) > 0; partNumber++ {
		if err := ctx.Err(); err != nil {
			return abort(err)
		}

		start := time.Now()
		out, err := s.client.UploadPart(ctx, &s3.UploadPartInput{
			Bucket:        aws.String(s.bucket),
			Key:           aws.String(objectKey),
			UploadId:      uploadID,
			PartNumber:    aws.Int32(partNumber),
			Body:          bytes.NewReader(part),
			ContentLength: aws.Int64(int64(len(part))),
		})
		s.metrics.ObserveOperation("UploadPart", time.Since(start), err)
		if err != nil {
			return abort(fmt.Errorf("failed to upload part %d of %s: %w", partNumber, key, err))
		}

		parts = append(parts, types.CompletedPart{
			ETag:       out.ETag,
			PartNumber: aws.Int32(partNumber),
		})
		total += int64(len(part))
		s.metrics.RecordBytes("write", int64(len(part)))

		if int64(len(part)) < s.partSize {
			break
		}
		if part, err = readPart(r, s.partSize); err != nil {
			return abort(fmt.Errorf("failed to read content for %s: %w", key, err))
		}
	}

	// ========================================================================
	// Step 3: Complete the upload
	// ========================================================================

	start = time.Now()
	_, err = s.client.CompleteMultipartUpload(ctx, &s3.CompleteMultipartUploadInput{
		Bucket:          aws.String(s.bucket),
		Key:             aws.String(objectKey),
		UploadId:        uploadID,
		MultipartUpload: &types.CompletedMultipartUpload{Parts: parts},
	})
	s.metrics.ObserveOperation("CompleteMultipartUpload", time.Since(start), err)
	if err != nil {
		return abort(fmt.Errorf("failed to complete multipart upload for %s: %w", key, err))
	}
	s.metrics.RecordMultipartUpload("completed")

	return total, nil
}

// Get streams the object from S3.
func (s *S3ContentStore) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	start := time.Now()
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.getObjectKey(key)),
	})
	if err != nil {
		if isNotFound(err) {
			err = fmt.Errorf("content %s: %w", key, content.ErrContentNotFound)
		} else {
			err = fmt.Errorf("failed to read content %s from S3: %w", key, err)
		}
		s.metrics.ObserveOperation("GetObject", time.Since(start), err)
		return nil, err
	}
	s.metrics.ObserveOperation("GetObject", time.Since(start), nil)
	if out.ContentLength != nil {
		s.metrics.RecordBytes("read", *out.ContentLength)
	}

	return out.Body, nil
}

// Delete removes the object. S3 deletes are idempotent.
func (s *S3ContentStore) Delete(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	start := time.Now()
	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.getObjectKey(key)),
	})
	s.metrics.ObserveOperation("DeleteObject", time.Since(start), err)
	if err != nil && !isNotFound(err) {
		return fmt.Errorf("failed to delete content %s from S3: %w", key, err)
	}
	return nil
}

// Exists issues a HeadObject.
func (s *S3ContentStore) Exists(ctx context.Context, key string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	start := time.Now()
	_, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.getObjectKey(key)),
	})
	if err != nil {
		if isNotFound(err) {
			s.metrics.ObserveOperation("HeadObject", time.Since(start), nil)
			return false, nil
		}
		s.metrics.ObserveOperation("HeadObject", time.Since(start), err)
		return false, fmt.Errorf("failed to stat content %s in S3: %w", key, err)
	}
	s.metrics.ObserveOperation("HeadObject", time.Since(start), nil)
	return true, nil
}

func isNotFound(err error) bool {
	var noSuchKey *types.NoSuchKey
	if errors.As(err, &noSuchKey) {
		return true
	}
	var notFound *types.NotFound
	return errors.As(err, &notFound)
}

// readPart reads up to n bytes. A short result means r is exhausted.
func readPart(r io.Reader, n int64) ([]byte, error) {
	return io.ReadAll(io.LimitReader(r, n))
}
