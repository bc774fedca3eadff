package space

import (
	"context"
	"errors"
	"io"
	"time"

	"github.com/marmos91/blobspace/internal/logger"
	"github.com/marmos91/blobspace/pkg/store/content"
	"github.com/marmos91/blobspace/pkg/store/metadata"
)

// ConversionTimings are recorded with every conversion outcome.
type ConversionTimings struct {
	Conversion time.Duration
	Queue      time.Duration
	Transfer   time.Duration
}

// ConversionResult describes the object produced by a conversion.
type ConversionResult struct {
	PhysicalKey string
	Size        int64
	Checksum    string
	ConversionTimings
}

// FindCompletedVariant returns the converted variant name of blob, or nil.
func (s *Space) FindCompletedVariant(ctx context.Context, blob *metadata.Blob, name string) (*metadata.Variant, error) {
	variants, err := s.store.FindVariants(ctx, metadata.VariantQuery{
		BlobID:            metadata.Ptr(blob.ID),
		VariantName:       metadata.Ptr(name),
		HasPhysicalObject: metadata.Ptr(true),
	}, metadata.ListOptions{Limit: 1, Order: metadata.OrderByCreated})
	if err != nil {
		return nil, s.annotate(err, "find variant", name)
	}
	if len(variants) == 0 {
		return nil, nil
	}
	return variants[0], nil
}

// FindAnyVariant returns the variant name of blob in whatever state, or nil.
func (s *Space) FindAnyVariant(ctx context.Context, blob *metadata.Blob, name string) (*metadata.Variant, error) {
	variants, err := s.store.FindVariants(ctx, metadata.VariantQuery{
		BlobID:      metadata.Ptr(blob.ID),
		VariantName: metadata.Ptr(name),
	}, metadata.ListOptions{Order: metadata.OrderByCreated})
	if err != nil {
		return nil, s.annotate(err, "find variant", name)
	}
	for _, v := range variants {
		if v.IsCompleted() {
			return v, nil
		}
	}
	if len(variants) == 0 {
		return nil, nil
	}
	return variants[0], nil
}

// RequestVariant makes sure the variant name of blob exists or is being
// converted, without waiting. The returned variant is completed only if
// it was converted before.
func (s *Space) RequestVariant(ctx context.Context, blob *metadata.Blob, name string) (variant *metadata.Variant, err error) {
	const op = "request variant"
	defer s.observe(op, time.Now(), &err)

	if blob.PhysicalObjectKey == "" {
		return nil, s.newError(ErrNotFound, op, name, "the blob has no content")
	}

	variant, err = s.requestVariant(ctx, blob, name)
	if err != nil {
		return nil, s.annotate(err, op, name)
	}
	return variant, nil
}

// ResolveVariant waits for the variant name of blob to be converted,
// requesting it if needed. It polls a bounded number of times (more when
// waitLonger is set) and returns nil if the conversion is still running.
func (s *Space) ResolveVariant(ctx context.Context, blob *metadata.Blob, name string, waitLonger bool) (variant *metadata.Variant, err error) {
	const op = "resolve variant"
	defer s.observe(op, time.Now(), &err)

	if blob.PhysicalObjectKey == "" {
		return nil, s.newError(ErrNotFound, op, name, "the blob has no content")
	}

	attempts := s.opts.ResolveAttempts
	if waitLonger {
		attempts = s.opts.LongResolveAttempts
	}

	for i := 0; i < attempts; i++ {
		variant, err = s.requestVariant(ctx, blob, name)
		if err != nil {
			return nil, s.annotate(err, op, name)
		}
		if variant != nil && variant.IsCompleted() {
			return variant, nil
		}
		if i < attempts-1 {
			if err := sleep(ctx, s.opts.ConversionRetryDelay); err != nil {
				return nil, s.annotate(err, op, name)
			}
		}
	}

	logger.Debug("Space %s: variant %s of blob %s not ready after %d attempts", s.name, name, blob.BlobKey, attempts)
	return nil, nil
}

// requestVariant runs the variant state machine until it settles. Only a
// lost creation race makes it go around again.
func (s *Space) requestVariant(ctx context.Context, blob *metadata.Blob, name string) (*metadata.Variant, error) {
	return retryOptimistic(ctx, s.opts.MaxOptimisticLockAttempts, s.opts.VariantDedupBackoff, func(ctx context.Context) (*metadata.Variant, bool, error) {
		return s.attemptVariant(ctx, blob, name)
	})
}

// attemptVariant is one step of the variant state machine.
func (s *Space) attemptVariant(ctx context.Context, blob *metadata.Blob, name string) (*metadata.Variant, bool, error) {
	variant, err := s.FindAnyVariant(ctx, blob, name)
	if err != nil {
		return nil, false, err
	}

	if variant == nil {
		if s.dispatcher == nil {
			return nil, false, &Error{Code: ErrConversionDisabled, Message: "the variant does not exist and conversion is disabled on this node"}
		}
		return s.createVariant(ctx, blob, name)
	}

	if variant.IsCompleted() {
		return variant, true, nil
	}
	if s.conversionExhausted(variant) {
		return nil, false, &Error{Code: ErrConversionExhausted, Message: "the conversion of the variant failed too often"}
	}
	if s.dispatcher == nil || !s.shouldRetryConversion(variant) {
		return variant, true, nil
	}

	if variant.NumAttempts >= VariantMaxConversionAttempts {
		// A lost conversion that used the last attempt ends the variant.
		if err := s.RecordConversionFailure(ctx, variant, ConversionTimings{}); err != nil {
			return nil, false, err
		}
		return nil, false, &Error{Code: ErrConversionExhausted, Message: "the conversion of the variant failed too often"}
	}

	claimed, err := s.ClaimConversion(ctx, variant)
	if err != nil {
		return nil, false, err
	}
	if !claimed {
		// Another node converts it.
		s.metrics.RecordOptimisticRetry(s.name)
		return variant, true, nil
	}
	return variant, true, s.dispatch(ctx, blob, variant)
}

// createVariant inserts a queued variant and dispatches it. A candidate
// that finds another row for the same name deletes itself and reports a
// lost round: at most one of two racing candidates can miss the other.
func (s *Space) createVariant(ctx context.Context, blob *metadata.Blob, name string) (*metadata.Variant, bool, error) {
	now := s.now()
	variant := &metadata.Variant{
		BlobID:                blob.ID,
		VariantName:           name,
		QueuedForConversion:   true,
		NumAttempts:           1,
		LastConversionAttempt: now,
		Node:                  s.node,
		CreatedAt:             now,
	}
	if err := s.store.CreateVariant(ctx, variant); err != nil {
		return nil, false, err
	}

	others, err := s.store.CountVariants(ctx, metadata.VariantQuery{
		BlobID:      metadata.Ptr(blob.ID),
		VariantName: metadata.Ptr(name),
		ExcludeID:   variant.ID,
	})
	if err != nil {
		return nil, false, err
	}
	if others > 0 {
		if err := s.store.DeleteVariant(ctx, variant.ID); err != nil {
			return nil, false, err
		}
		s.metrics.RecordOptimisticRetry(s.name)
		logger.Debug("Space %s: discarded duplicate variant %s of blob %s", s.name, name, blob.BlobKey)
		return nil, false, nil
	}

	return variant, true, s.dispatch(ctx, blob, variant)
}

// ClaimConversion takes over a variant for one more conversion attempt.
// It reports false if another node claimed it first.
func (s *Space) ClaimConversion(ctx context.Context, variant *metadata.Variant) (bool, error) {
	patch := metadata.VariantPatch{
		QueuedForConversion:   metadata.Ptr(true),
		LastConversionAttempt: metadata.Ptr(s.now()),
		Node:                  metadata.Ptr(s.node),
		NumAttempts:           metadata.Ptr(variant.NumAttempts + 1),
	}

	n, err := s.store.UpdateVariants(ctx, metadata.VariantQuery{
		ID:          metadata.Ptr(variant.ID),
		NumAttempts: metadata.Ptr(variant.NumAttempts),
	}, patch)
	if err != nil {
		return false, s.annotate(err, "claim conversion", variant.VariantName)
	}
	if n != 1 {
		return false, nil
	}
	patch.Apply(variant)
	return true, nil
}

// RecordConversionSuccess stores the outcome of a conversion. It reports
// false if the variant no longer exists, in which case the caller owns
// the produced object.
func (s *Space) RecordConversionSuccess(ctx context.Context, variant *metadata.Variant, result ConversionResult) (bool, error) {
	patch := metadata.VariantPatch{
		QueuedForConversion: metadata.Ptr(false),
		PhysicalObjectKey:   metadata.Ptr(result.PhysicalKey),
		Size:                metadata.Ptr(result.Size),
		Checksum:            metadata.Ptr(result.Checksum),
		ConversionDuration:  metadata.Ptr(result.Conversion),
		QueueDuration:       metadata.Ptr(result.Queue),
		TransferDuration:    metadata.Ptr(result.Transfer),
	}

	n, err := s.store.UpdateVariants(ctx, metadata.VariantQuery{ID: metadata.Ptr(variant.ID)}, patch)
	if err != nil {
		return false, s.annotate(err, "record conversion", variant.VariantName)
	}
	if n != 1 {
		return false, nil
	}
	patch.Apply(variant)
	return true, nil
}

// RecordConversionFailure ends the current attempt without a result.
func (s *Space) RecordConversionFailure(ctx context.Context, variant *metadata.Variant, timings ConversionTimings) error {
	patch := metadata.VariantPatch{
		QueuedForConversion: metadata.Ptr(false),
		ConversionDuration:  metadata.Ptr(timings.Conversion),
		QueueDuration:       metadata.Ptr(timings.Queue),
		TransferDuration:    metadata.Ptr(timings.Transfer),
	}

	if _, err := s.store.UpdateVariants(ctx, metadata.VariantQuery{ID: metadata.Ptr(variant.ID)}, patch); err != nil {
		return s.annotate(err, "record conversion", variant.VariantName)
	}
	patch.Apply(variant)
	logger.Info("Space %s: conversion of variant %s failed (attempt %d of %d)",
		s.name, variant.VariantName, variant.NumAttempts, VariantMaxConversionAttempts)
	return nil
}

// CreateConvertedVariant registers a variant produced outside the
// conversion pipeline, replacing any existing variant of that name.
func (s *Space) CreateConvertedVariant(ctx context.Context, blob *metadata.Blob, name, physicalKey string, size int64, checksum string) (variant *metadata.Variant, err error) {
	const op = "create variant"
	defer s.observe(op, time.Now(), &err)

	if physicalKey == "" {
		return nil, s.newError(ErrInvalidArgument, op, name, "a physical key is required")
	}

	existing, err := s.store.FindVariants(ctx, metadata.VariantQuery{
		BlobID:      metadata.Ptr(blob.ID),
		VariantName: metadata.Ptr(name),
	}, metadata.ListOptions{})
	if err != nil {
		return nil, s.annotate(err, op, name)
	}
	for _, v := range existing {
		if err := s.store.DeleteVariant(ctx, v.ID); err != nil {
			return nil, s.annotate(err, op, name)
		}
		if v.PhysicalObjectKey != "" && v.PhysicalObjectKey != physicalKey {
			if err := s.content.Delete(ctx, v.PhysicalObjectKey); err != nil {
				logger.Warn("Space %s: failed to delete content of replaced variant %s: %v", s.name, name, err)
			}
		}
	}

	now := s.now()
	variant = &metadata.Variant{
		BlobID:                blob.ID,
		VariantName:           name,
		NumAttempts:           1,
		LastConversionAttempt: now,
		Node:                  s.node,
		PhysicalObjectKey:     physicalKey,
		Size:                  size,
		Checksum:              checksum,
		CreatedAt:             now,
	}
	if err := s.store.CreateVariant(ctx, variant); err != nil {
		return nil, s.annotate(err, op, name)
	}
	return variant, nil
}

// OpenVariant opens the content of a completed variant.
func (s *Space) OpenVariant(ctx context.Context, variant *metadata.Variant) (io.ReadCloser, error) {
	const op = "open variant"

	if !variant.IsCompleted() {
		return nil, s.newError(ErrNotFound, op, variant.VariantName, "the variant has not been converted yet")
	}
	rc, err := s.content.Get(ctx, variant.PhysicalObjectKey)
	if errors.Is(err, content.ErrContentNotFound) {
		return nil, s.newError(ErrNotFound, op, variant.VariantName, "the content of the variant is missing")
	}
	if err != nil {
		return nil, s.annotate(err, op, variant.VariantName)
	}
	return rc, nil
}

func (s *Space) dispatch(ctx context.Context, blob *metadata.Blob, variant *metadata.Variant) error {
	job := ConversionJob{
		Space:    s,
		Blob:     blob.Clone(),
		Variant:  variant.Clone(),
		QueuedAt: s.now(),
	}
	if err := s.dispatcher.Dispatch(ctx, job); err != nil {
		logger.Warn("Space %s: failed to dispatch conversion of variant %s: %v", s.name, variant.VariantName, err)
		if recordErr := s.RecordConversionFailure(ctx, variant, ConversionTimings{}); recordErr != nil {
			return recordErr
		}
		return err
	}
	return nil
}

// shouldRetryConversion reports whether variant is idle or its last
// claim is old enough to assume the converting node is gone.
func (s *Space) shouldRetryConversion(variant *metadata.Variant) bool {
	if !variant.QueuedForConversion {
		return true
	}
	return s.now().Sub(variant.LastConversionAttempt) > s.opts.HangingConversionRetryInterval
}

func (s *Space) conversionExhausted(variant *metadata.Variant) bool {
	return !variant.QueuedForConversion &&
		variant.NumAttempts >= VariantMaxConversionAttempts &&
		!variant.IsCompleted()
}
