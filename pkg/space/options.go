package space

import (
	"context"
	"time"

	"github.com/marmos91/blobspace/pkg/store/content"
	"github.com/marmos91/blobspace/pkg/store/metadata"
)

// VariantMaxConversionAttempts is the number of conversions tried for a
// variant before requests fail with ErrConversionExhausted.
const VariantMaxConversionAttempts = 3

// contentUpdateAttempts bounds the compare-and-set loop of UpdateContent.
const contentUpdateAttempts = 3

// Clock returns the current time. Tests inject a fixed or stepping clock.
type Clock func() time.Time

// Settings configures one space.
type Settings struct {
	// Name identifies the space, e.g. "docs"
	Name string `mapstructure:"name" yaml:"name" validate:"required"`

	// Description is free text shown by tooling
	Description string `mapstructure:"description" yaml:"description"`

	// BaseURL is the public URL prefix of the space, if served over HTTP
	BaseURL string `mapstructure:"base_url" yaml:"base_url"`

	// ReadOnly rejects every mutation
	ReadOnly bool `mapstructure:"readonly" yaml:"readonly"`

	// Browsable marks the space as listable by end users
	Browsable bool `mapstructure:"browsable" yaml:"browsable"`

	// UseNormalizedNames compares names case-insensitively
	UseNormalizedNames bool `mapstructure:"use_normalized_names" yaml:"use_normalized_names"`

	// RetentionDays soft-deletes blobs not modified (or touched) for that
	// many days. Zero disables retention.
	RetentionDays int `mapstructure:"retention_days" yaml:"retention_days" validate:"gte=0"`

	// TouchTracking records reads in the blob's lastTouched column
	TouchTracking bool `mapstructure:"touch_tracking" yaml:"touch_tracking"`

	// SortByLastModified lists blobs newest first instead of by name
	SortByLastModified bool `mapstructure:"sort_by_last_modified" yaml:"sort_by_last_modified"`
}

// Options tunes the engine. Zero values select the defaults.
type Options struct {
	// MaxOptimisticLockAttempts bounds find-or-create retries (default: 10)
	MaxOptimisticLockAttempts int `mapstructure:"max_optimistic_lock_attempts" yaml:"max_optimistic_lock_attempts" validate:"omitempty,gte=1"`

	// OptimisticLockBackoff is the upper bound of the random wait between
	// find-or-create attempts (default: 250ms)
	OptimisticLockBackoff time.Duration `mapstructure:"optimistic_lock_backoff" yaml:"optimistic_lock_backoff"`

	// StaleCandidateAge is the age after which an uncommitted row is
	// considered abandoned by its creator (default: 1m)
	StaleCandidateAge time.Duration `mapstructure:"stale_candidate_age" yaml:"stale_candidate_age"`

	// HangingConversionRetryInterval is the age of a queued conversion
	// after which it is assumed lost and may be claimed again (default: 45m)
	HangingConversionRetryInterval time.Duration `mapstructure:"hanging_conversion_retry_interval" yaml:"hanging_conversion_retry_interval"`

	// ConversionRetryDelay is the wait between polls of ResolveVariant (default: 2s)
	ConversionRetryDelay time.Duration `mapstructure:"conversion_retry_delay" yaml:"conversion_retry_delay"`

	// ResolveAttempts is the number of polls of ResolveVariant (default: 5)
	ResolveAttempts int `mapstructure:"resolve_attempts" yaml:"resolve_attempts" validate:"omitempty,gte=1"`

	// LongResolveAttempts is used when the caller asks to wait longer (default: 20)
	LongResolveAttempts int `mapstructure:"long_resolve_attempts" yaml:"long_resolve_attempts" validate:"omitempty,gte=1"`

	// VariantDedupBackoff bounds the random wait after losing a variant
	// creation race (default: 150ms)
	VariantDedupBackoff time.Duration `mapstructure:"variant_dedup_backoff" yaml:"variant_dedup_backoff"`
}

// ApplyDefaults fills unset fields.
func (o *Options) ApplyDefaults() {
	if o.MaxOptimisticLockAttempts <= 0 {
		o.MaxOptimisticLockAttempts = 10
	}
	if o.OptimisticLockBackoff <= 0 {
		o.OptimisticLockBackoff = 250 * time.Millisecond
	}
	if o.StaleCandidateAge <= 0 {
		o.StaleCandidateAge = time.Minute
	}
	if o.HangingConversionRetryInterval <= 0 {
		o.HangingConversionRetryInterval = 45 * time.Minute
	}
	if o.ConversionRetryDelay <= 0 {
		o.ConversionRetryDelay = 2 * time.Second
	}
	if o.ResolveAttempts <= 0 {
		o.ResolveAttempts = 5
	}
	if o.LongResolveAttempts <= 0 {
		o.LongResolveAttempts = 20
	}
	if o.VariantDedupBackoff <= 0 {
		o.VariantDedupBackoff = 150 * time.Millisecond
	}
}

// ConversionJob is handed to the Dispatcher once a variant was claimed.
type ConversionJob struct {
	Space    *Space
	Blob     *metadata.Blob
	Variant  *metadata.Variant
	QueuedAt time.Time
}

// Dispatcher runs conversions asynchronously. A space without a
// dispatcher cannot create missing variants.
type Dispatcher interface {
	Dispatch(ctx context.Context, job ConversionJob) error
}

// Toucher buffers read accesses. When a space tracks touches but has no
// Toucher, every touch is written through.
type Toucher interface {
	Touch(spaceName, blobKey string)
}

// Metrics receives observations from the engine. pkg/metrics provides the
// Prometheus implementation; nil selects a no-op.
type Metrics interface {
	// ObserveOperation records one facade call and its outcome.
	ObserveOperation(space, operation string, duration time.Duration, err error)

	// RecordOptimisticRetry records a lost uniqueness or compare-and-set race.
	RecordOptimisticRetry(space string)
}

type noopMetrics struct{}

func (noopMetrics) ObserveOperation(string, string, time.Duration, error) {}
func (noopMetrics) RecordOptimisticRetry(string) {}

// Dependencies are the collaborators shared by every space.
type Dependencies struct {
	// Metadata is the persistence adapter (required)
	Metadata metadata.MetadataStore

	// Content stores blob and variant bytes (required)
	Content content.ContentStore

	// Node names this process in variant claims. Defaults to a random id.
	Node string

	// Clock defaults to time.Now
	Clock Clock

	// Dispatcher executes conversions; nil disables conversion
	Dispatcher Dispatcher

	// Toucher buffers touches; nil writes them through
	Toucher Toucher

	// Metrics is optional
	Metrics Metrics

	// Options tunes retries and conversion timing
	Options Options
}
