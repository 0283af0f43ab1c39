// Pricepipe - Retail Price Extract Ingestion Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/pricepipe

package publisher

import (
	"context"
	"sync"
	"time"

	"github.com/tomtom215/pricepipe/internal/logging"
	"github.com/tomtom215/pricepipe/internal/metrics"
	"github.com/tomtom215/pricepipe/internal/models"
)

// Status is the outcome of one ingest.
type Status string

const (
	StatusSkipped   Status = "skipped"
	StatusPublished Status = "published"
	StatusFailed    Status = "failed"
)

// DocumentPublisher is the part of Publisher the Ingestor needs.
type DocumentPublisher interface {
	PublishDocument(ctx context.Context, doc *models.SourceDocument) (Report, error)
}

// Watermarks is the part of watermark.Store the Ingestor needs.
type Watermarks interface {
	ShouldProcess(ctx context.Context, provider, branch string, docType models.DocumentType, fingerprint string, ts time.Time) bool
	Advance(ctx context.Context, provider, branch string, docType models.DocumentType, fingerprint string, ts time.Time) error
}

// Result describes one ingest.
type Result struct {
	Key    string
	Status Status
	Report Report
	// WatermarkErr is set when the document was published but the
	// watermark could not be advanced. The next run republishes it.
	WatermarkErr error
}

// Ingestor runs the publish cycle for single documents.
type Ingestor struct {
	watermarks Watermarks
	publisher  DocumentPublisher
	log        *logging.PipelineLogger
	locks      *keyedMutex
}

// NewIngestor creates an ingestor.
func NewIngestor(watermarks Watermarks, publisher DocumentPublisher) *Ingestor {
	return &Ingestor{
		watermarks: watermarks,
		publisher:  publisher,
		log:        logging.NewPipelineLogger("ingestor"),
		locks:      newKeyedMutex(),
	}
}

// Ingest publishes doc unless its fingerprint matches the watermark. The
// watermark is advanced only after every chunk was sent, including for
// documents without items. Concurrent ingests of the same key in this
// process are serialized.
func (i *Ingestor) Ingest(ctx context.Context, doc *models.SourceDocument) (Result, error) {
	key := doc.WatermarkKey()
	result := Result{Key: key}

	unlock := i.locks.Lock(key)
	defer unlock()

	if !i.watermarks.ShouldProcess(ctx, doc.Provider, doc.Branch, doc.DocumentType, doc.SourceFingerprint, doc.SourceTimestamp) {
		result.Status = StatusSkipped
		metrics.RecordDocument(string(doc.DocumentType), string(StatusSkipped))
		i.log.LogDocumentSkipped(ctx, key, doc.SourceFingerprint)
		return result, nil
	}

	start := time.Now()
	report, err := i.publisher.PublishDocument(ctx, doc)
	result.Report = report
	if err != nil {
		result.Status = StatusFailed
		metrics.RecordDocument(string(doc.DocumentType), string(StatusFailed))
		i.log.Logger(ctx).Error().Err(err).
			Str("watermark_key", key).
			Int("chunks_sent", report.Sent).
			Msg("document publish failed, watermark not advanced")
		return result, err
	}

	elapsed := elapsedSince(start)
	result.Status = StatusPublished
	metrics.RecordDocument(string(doc.DocumentType), string(StatusPublished))
	metrics.RecordPublish(string(doc.DocumentType), report.ChunkBytes, report.Truncated, report.Dropped, elapsed)
	i.log.LogDocumentPublished(ctx, key, report.Items, report.Sent, report.Dropped, elapsed)

	if err := i.watermarks.Advance(ctx, doc.Provider, doc.Branch, doc.DocumentType, doc.SourceFingerprint, doc.SourceTimestamp); err != nil {
		result.WatermarkErr = err
		i.log.Logger(ctx).Error().Err(err).
			Str("watermark_key", key).
			Msg("watermark advance failed, document will be republished")
	}
	return result, nil
}

// keyedMutex serializes work per key. Entries are removed when unused.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*keyLock
}

type keyLock struct {
	mu   sync.Mutex
	refs int
}

func newKeyedMutex() *keyedMutex {
	return &keyedMutex{locks: make(map[string]*keyLock)}
}

// Lock acquires the lock for key and returns its release function.
func (k *keyedMutex) Lock(key string) func() {
	k.mu.Lock()
	l, ok := k.locks[key]
	if !ok {
		l = &keyLock{}
		k.locks[key] = l
	}
	l.refs++
	k.mu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()
		k.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(k.locks, key)
		}
		k.mu.Unlock()
	}
}

func (k *keyedMutex) size() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return len(k.locks)
}
