// Pricepipe - Retail Price Extract Ingestion Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/pricepipe

// Package watermark decides whether a source document needs publishing.
//
// A watermark is the last successfully published fingerprint for one
// provider/branch/document type. Only fingerprints are compared: a reissued
// file with an unchanged fingerprint is skipped whatever its timestamp.
// Lookups fail open so that an unavailable backend causes duplicate work,
// which the idempotent store absorbs, rather than silent data loss.
package watermark

import (
	"context"
	"fmt"
	"time"

	"github.com/tomtom215/pricepipe/internal/logging"
	"github.com/tomtom215/pricepipe/internal/metrics"
	"github.com/tomtom215/pricepipe/internal/models"
)

// Store applies the watermark policy on top of a Backend.
type Store struct {
	backend Backend
	log     *logging.PipelineLogger
	now     func() time.Time
}

// Option configures a Store.
type Option func(*Store)

// WithClock overrides the time source for UpdatedAt.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// WithLogger overrides the pipeline logger.
func WithLogger(l *logging.PipelineLogger) Option {
	return func(s *Store) { s.log = l }
}

// NewStore wraps backend.
func NewStore(backend Backend, opts ...Option) *Store {
	s := &Store{
		backend: backend,
		log:     logging.NewPipelineLogger("watermark"),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Backend returns the underlying backend.
func (s *Store) Backend() Backend {
	return s.backend
}

// ShouldProcess reports whether a document must be published: true when no
// record exists or the stored fingerprint differs. A backend error is
// logged, counted and answered with true. The timestamp takes no part in
// the decision.
func (s *Store) ShouldProcess(ctx context.Context, provider, branch string, docType models.DocumentType, fingerprint string, ts time.Time) bool {
	key := models.WatermarkKey(provider, branch, docType)

	rec, err := s.backend.Get(ctx, key)
	if err != nil {
		s.log.LogWatermarkFailOpen(ctx, key, err)
		metrics.RecordWatermarkFailOpen()
		return true
	}
	metrics.RecordWatermark("should_process", nil)

	if rec == nil {
		return true
	}
	if fingerprint == "" || rec.LastFingerprint != fingerprint {
		return true
	}

	s.log.Logger(ctx).Debug().
		Str("watermark_key", key).
		Time("source_ts", ts).
		Time("last_ts", rec.LastTimestamp).
		Msg("fingerprint unchanged")
	return false
}

// Advance records fingerprint as processed. Call it only after every chunk
// of the document has been enqueued. The stored timestamp never moves
// backwards: an older ts updates the fingerprint but keeps the timestamp.
func (s *Store) Advance(ctx context.Context, provider, branch string, docType models.DocumentType, fingerprint string, ts time.Time) error {
	key := models.WatermarkKey(provider, branch, docType)

	prev, err := s.backend.Get(ctx, key)
	if err != nil {
		metrics.RecordWatermark("advance", err)
		return fmt.Errorf("read watermark %s: %w", key, err)
	}

	rec := &models.WatermarkRecord{
		Key:             key,
		LastFingerprint: fingerprint,
		LastTimestamp:   ts.UTC(),
		UpdatedAt:       s.now().UTC(),
	}
	if prev != nil && ts.Before(prev.LastTimestamp) {
		s.log.Logger(ctx).Warn().
			Str("watermark_key", key).
			Time("source_ts", ts).
			Time("last_ts", prev.LastTimestamp).
			Msg("source timestamp older than watermark, keeping stored timestamp")
		rec.LastTimestamp = prev.LastTimestamp
	}

	err = s.backend.Put(ctx, rec)
	metrics.RecordWatermark("advance", err)
	if err != nil {
		return fmt.Errorf("write watermark %s: %w", key, err)
	}
	return nil
}

// Repair overwrites a record unconditionally. It is the only way to move a
// watermark backwards.
func (s *Store) Repair(ctx context.Context, rec models.WatermarkRecord) error {
	if rec.Key == "" {
		return fmt.Errorf("repair watermark: empty key")
	}
	if rec.UpdatedAt.IsZero() {
		rec.UpdatedAt = s.now().UTC()
	}
	err := s.backend.Put(ctx, &rec)
	metrics.RecordWatermark("repair", err)
	if err != nil {
		return fmt.Errorf("repair watermark %s: %w", rec.Key, err)
	}
	s.log.Logger(ctx).Warn().
		Str("watermark_key", rec.Key).
		Str("fingerprint", rec.LastFingerprint).
		Time("last_ts", rec.LastTimestamp).
		Msg("watermark repaired")
	return nil
}

// Get returns the record for key, or nil when absent.
func (s *Store) Get(ctx context.Context, key string) (*models.WatermarkRecord, error) {
	return s.backend.Get(ctx, key)
}

// Close closes the backend.
func (s *Store) Close() error {
	return s.backend.Close()
}
