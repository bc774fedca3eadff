package config

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/aws/retry"
	awsConfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	awss3 "github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/mitchellh/mapstructure"

	"github.com/marmos91/blobspace/internal/logger"
	"github.com/marmos91/blobspace/pkg/store/content"
	contentfs "github.com/marmos91/blobspace/pkg/store/content/fs"
	contentmemory "github.com/marmos91/blobspace/pkg/store/content/memory"
	"github.com/marmos91/blobspace/pkg/store/content/s3"
	"github.com/marmos91/blobspace/pkg/store/metadata"
	"github.com/marmos91/blobspace/pkg/store/metadata/badger"
	metadatamemory "github.com/marmos91/blobspace/pkg/store/metadata/memory"
	"github.com/marmos91/blobspace/pkg/store/metadata/sqlstore"
)

// decode decodes a store option map, accepting "30s" style durations.
func decode(options map[string]any, out any) error {
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		DecodeHook:       mapstructure.StringToTimeDurationHookFunc(),
		WeaklyTypedInput: true,
		Result:           out,
	})
	if err != nil {
		return fmt.Errorf("failed to create decoder: %w", err)
	}
	return decoder.Decode(options)
}

// CreateMetadataStore creates the metadata store selected by cfg.Type.
//
// Supported types:
//   - "memory": pkg/store/metadata/memory (ephemeral)
//   - "badger": pkg/store/metadata/badger (embedded, persistent)
//   - "sql": pkg/store/metadata/sqlstore (PostgreSQL or SQLite)
func CreateMetadataStore(ctx context.Context, cfg *MetadataConfig) (metadata.MetadataStore, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	switch cfg.Type {
	case "memory":
		return metadatamemory.NewMemoryMetadataStore(), nil
	case "badger":
		return createBadgerMetadataStore(ctx, cfg.Badger)
	case "sql":
		return createSQLMetadataStore(ctx, cfg.SQL)
	default:
		return nil, fmt.Errorf("unknown metadata store type: %q (supported: memory, badger, sql)", cfg.Type)
	}
}

// createBadgerMetadataStore creates a BadgerDB-based persistent metadata store.
func createBadgerMetadataStore(ctx context.Context, options map[string]any) (metadata.MetadataStore, error) {
	var storeCfg badger.BadgerMetadataStoreConfig
	if err := decode(options, &storeCfg); err != nil {
		return nil, fmt.Errorf("invalid badger config: %w", err)
	}

	if storeCfg.DBPath == "" && !storeCfg.InMemory {
		return nil, fmt.Errorf("badger metadata store: db_path is required")
	}

	store, err := badger.NewBadgerMetadataStore(ctx, storeCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to open badger database: %w", err)
	}

	logger.Info("Badger metadata store initialized: path=%s", storeCfg.DBPath)
	return store, nil
}

// createSQLMetadataStore opens a database/sql metadata store and migrates it.
func createSQLMetadataStore(ctx context.Context, options map[string]any) (metadata.MetadataStore, error) {
	var storeCfg sqlstore.SQLMetadataStoreConfig
	if err := decode(options, &storeCfg); err != nil {
		return nil, fmt.Errorf("invalid sql config: %w", err)
	}

	if storeCfg.DSN == "" {
		return nil, fmt.Errorf("sql metadata store: dsn is required")
	}

	store, err := sqlstore.NewSQLMetadataStore(ctx, storeCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to open sql metadata store: %w", err)
	}

	logger.Info("SQL metadata store initialized: dialect=%s", storeCfg.Dialect)
	return store, nil
}

// CreateContentStore creates the content store selected by cfg.Type.
//
// Supported types:
//   - "filesystem": pkg/store/content/fs (local files, optional zstd)
//   - "memory": pkg/store/content/memory (ephemeral)
//   - "s3": pkg/store/content/s3 (Amazon S3 or compatible storage)
//
// metrics is only used by the S3 store and may be nil.
func CreateContentStore(ctx context.Context, cfg *ContentConfig, metrics s3.S3Metrics) (content.ContentStore, error) {
	switch cfg.Type {
	case "filesystem":
		return createFilesystemContentStore(ctx, cfg.Filesystem)
	case "memory":
		return contentmemory.NewMemoryContentStore(), nil
	case "s3":
		return createS3ContentStore(ctx, cfg.S3, metrics)
	default:
		return nil, fmt.Errorf("unknown content store type: %q", cfg.Type)
	}
}

// createFilesystemContentStore creates a filesystem-based content store.
func createFilesystemContentStore(ctx context.Context, options map[string]any) (content.ContentStore, error) {
	var fsCfg struct {
		Path             string `mapstructure:"path"`
		Compress         bool   `mapstructure:"compress"`
		CompressionLevel string `mapstructure:"compression_level"`
	}
	if err := decode(options, &fsCfg); err != nil {
		return nil, fmt.Errorf("invalid filesystem config: %w", err)
	}

	if fsCfg.Path == "" {
		return nil, fmt.Errorf("filesystem content store: path is required")
	}

	store, err := contentfs.NewFSContentStore(ctx, contentfs.FSContentStoreConfig{
		BasePath:         fsCfg.Path,
		Compress:         fsCfg.Compress,
		CompressionLevel: fsCfg.CompressionLevel,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create filesystem content store: %w", err)
	}

	return store, nil
}

// s3StoreConfig is the option map of the S3 content store.
type s3StoreConfig struct {
	Region          string `mapstructure:"region"`
	Bucket          string `mapstructure:"bucket"`
	KeyPrefix       string `mapstructure:"key_prefix"`
	Endpoint        string `mapstructure:"endpoint"`
	AccessKeyID     string `mapstructure:"access_key_id"`
	SecretAccessKey string `mapstructure:"secret_access_key"`
	ForcePathStyle  bool   `mapstructure:"force_path_style"`
	PartSize        int64  `mapstructure:"part_size"`
	MaxRetries      int    `mapstructure:"max_retries"`
}

// createS3ContentStore creates an S3-based content store.
func createS3ContentStore(ctx context.Context, options map[string]any, metrics s3.S3Metrics) (content.ContentStore, error) {
	var storeCfg s3StoreConfig
	if err := decode(options, &storeCfg); err != nil {
		return nil, fmt.Errorf("invalid S3 config: %w", err)
	}

	if storeCfg.Bucket == "" {
		return nil, fmt.Errorf("S3 content store: bucket is required")
	}
	if storeCfg.Region == "" {
		return nil, fmt.Errorf("S3 content store: region is required")
	}

	client, err := newS3Client(ctx, storeCfg)
	if err != nil {
		return nil, err
	}

	store, err := s3.NewS3ContentStore(ctx, s3.S3ContentStoreConfig{
		Client:    client,
		Bucket:    storeCfg.Bucket,
		KeyPrefix: storeCfg.KeyPrefix,
		PartSize:  storeCfg.PartSize,
		Metrics:   metrics,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create S3 content store: %w", err)
	}

	logger.Info("S3 content store initialized: bucket=%s, region=%s, prefix=%s",
		storeCfg.Bucket, storeCfg.Region, storeCfg.KeyPrefix)

	return store, nil
}

// newS3Client builds the AWS client: static credentials when both keys
// are set, the default credential chain otherwise.
func newS3Client(ctx context.Context, storeCfg s3StoreConfig) (*awss3.Client, error) {
	configOptions := []func(*awsConfig.LoadOptions) error{
		awsConfig.WithRegion(storeCfg.Region),
	}

	if storeCfg.AccessKeyID != "" && storeCfg.SecretAccessKey != "" {
		configOptions = append(configOptions, awsConfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(storeCfg.AccessKeyID, storeCfg.SecretAccessKey, ""),
		))
	}

	// Retry transient failures (502, 503, timeouts) more than the AWS default of 3
	maxRetries := storeCfg.MaxRetries
	if maxRetries <= 0 {
		maxRetries = 10
	}
	configOptions = append(configOptions, awsConfig.WithRetryer(func() aws.Retryer {
		return retry.NewStandard(func(o *retry.StandardOptions) {
			o.MaxAttempts = maxRetries
		})
	}))

	awsCfg, err := awsConfig.LoadDefaultConfig(ctx, configOptions...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	return awss3.NewFromConfig(awsCfg, func(o *awss3.Options) {
		if storeCfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(storeCfg.Endpoint)
			// MinIO and Localstack need path-style addressing
			o.UsePathStyle = true
		}
		if storeCfg.ForcePathStyle {
			o.UsePathStyle = true
		}
	}), nil
}
