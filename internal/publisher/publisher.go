// Pricepipe - Retail Price Extract Ingestion Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/pricepipe

// Package publisher turns source documents into queue messages.
//
// A Chunker packs a document's items into envelopes that each fit the queue's
// message budget. The Publisher sends them under a circuit breaker and a rate
// limiter, optionally mirroring the full item list to the object store. The
// Ingestor wraps both with the watermark check so that an unchanged document
// is never republished, and a partially published one is retried in full.
package publisher

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"golang.org/x/time/rate"

	"github.com/tomtom215/pricepipe/internal/breaker"
	"github.com/tomtom215/pricepipe/internal/envelope"
	"github.com/tomtom215/pricepipe/internal/failure"
	"github.com/tomtom215/pricepipe/internal/logging"
	"github.com/tomtom215/pricepipe/internal/models"
	"github.com/tomtom215/pricepipe/internal/queue"
)

// OverflowConfig controls the object store path.
type OverflowConfig struct {
	// Enabled writes the full item list of every document to the object store.
	Enabled bool `koanf:"enabled"`
	// PointerOnly sends a single envelope that references the stored list
	// instead of inline chunks.
	PointerOnly bool `koanf:"pointer_only"`
}

// Config holds publisher settings.
type Config struct {
	MaxMessageBytes int            `koanf:"max_message_bytes"`
	RatePerSecond   float64        `koanf:"rate_per_second"` // 0 disables the limiter
	Burst           int            `koanf:"burst"`
	Overflow        OverflowConfig `koanf:"overflow"`
	Breaker         breaker.Config `koanf:"breaker"`
}

// DefaultConfig returns production defaults.
func DefaultConfig() Config {
	return Config{
		MaxMessageBytes: queue.DefaultMaxMessageBytes,
		RatePerSecond:   50,
		Burst:           10,
		Breaker:         breaker.DefaultConfig("publisher"),
	}
}

// Report summarizes one published document.
type Report struct {
	Sent       int
	Items      int
	Truncated  int
	Dropped    int
	ChunkBytes []int
	MessageIDs []string
	ItemsRef   *models.ObjectRef
}

// Publisher sends chunked documents to a queue.
type Publisher struct {
	queue   queue.Queue
	objects queue.ObjectStore
	chunker *Chunker
	breaker *breaker.Breaker
	limiter *rate.Limiter
	cfg     Config
	log     *logging.PipelineLogger

	mu     sync.RWMutex
	closed bool
}

// Option configures a Publisher.
type Option func(*Publisher)

// WithObjectStore sets the overflow object store.
func WithObjectStore(store queue.ObjectStore) Option {
	return func(p *Publisher) { p.objects = store }
}

// WithLogger overrides the pipeline logger.
func WithLogger(l *logging.PipelineLogger) Option {
	return func(p *Publisher) { p.log = l }
}

// New creates a publisher.
func New(q queue.Queue, cfg Config, opts ...Option) (*Publisher, error) {
	if cfg.MaxMessageBytes <= 0 {
		cfg.MaxMessageBytes = queue.DefaultMaxMessageBytes
	}
	if cfg.Breaker.Name == "" {
		cfg.Breaker = breaker.DefaultConfig("publisher")
	}

	limit := rate.Inf
	if cfg.RatePerSecond > 0 {
		limit = rate.Limit(cfg.RatePerSecond)
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = 1
	}

	p := &Publisher{
		queue:   q,
		chunker: NewChunker(cfg.MaxMessageBytes),
		breaker: breaker.New(cfg.Breaker),
		limiter: rate.NewLimiter(limit, burst),
		cfg:     cfg,
		log:     logging.NewPipelineLogger("publisher"),
	}
	for _, opt := range opts {
		opt(p)
	}
	if cfg.Overflow.Enabled && p.objects == nil {
		return nil, fmt.Errorf("overflow enabled without an object store")
	}
	return p, nil
}

// Publish sends doc and returns the number of messages sent. Any send
// failure aborts the document; chunks already sent stay on the queue.
func (p *Publisher) Publish(ctx context.Context, doc *models.SourceDocument) (int, error) {
	report, err := p.PublishDocument(ctx, doc)
	return report.Sent, err
}

// PublishDocument is Publish with the full report.
func (p *Publisher) PublishDocument(ctx context.Context, doc *models.SourceDocument) (Report, error) {
	var report Report

	p.mu.RLock()
	closed := p.closed
	p.mu.RUnlock()
	if closed {
		return report, failure.Transient(failure.StagePublish, "publisher is closed", queue.ErrClosed)
	}

	key := doc.WatermarkKey()
	report.Items = len(doc.Items)

	if p.cfg.Overflow.Enabled {
		ref, err := p.storeItems(ctx, doc)
		if err != nil {
			return report, err
		}
		report.ItemsRef = ref
		if p.cfg.Overflow.PointerOnly {
			env := models.Envelope{
				Provider:        doc.Provider,
				Branch:          doc.Branch,
				DocumentType:    doc.DocumentType,
				SourceTimestamp: doc.SourceTimestamp.UTC(),
				ItemsTotal:      len(doc.Items),
				Chunk:           &models.ChunkInfo{Index: 1, Total: 1},
				ItemsRef:        ref,
			}
			return report, p.sendAll(ctx, key, []models.Envelope{env}, &report)
		}
	}

	packing, err := p.chunker.Chunks(doc)
	if err != nil {
		return report, failure.Transient(failure.StagePublish, "chunk document", err)
	}
	for _, t := range packing.Truncated {
		p.log.LogItemTruncated(ctx, key, t.OriginalBytes, t.NewBytes)
	}
	for _, d := range packing.Dropped {
		p.log.LogItemDropped(ctx, key, d.ProductName, d.Size, p.cfg.MaxMessageBytes)
	}
	report.Truncated = len(packing.Truncated)
	report.Dropped = len(packing.Dropped)

	return report, p.sendAll(ctx, key, packing.Chunks, &report)
}

func (p *Publisher) sendAll(ctx context.Context, key string, chunks []models.Envelope, report *Report) error {
	for i := range chunks {
		env := &chunks[i]
		body, err := envelope.Encode(env)
		if err != nil {
			return failure.Transient(failure.StagePublish, "encode envelope", err)
		}
		if err := p.limiter.Wait(ctx); err != nil {
			return failure.Transient(failure.StagePublish, "rate limiter", err)
		}

		var id string
		err = breaker.Execute(p.breaker, func() error {
			var sendErr error
			id, sendErr = p.queue.Send(ctx, body)
			return sendErr
		})
		if err != nil {
			return failure.Transient(failure.StagePublish,
				fmt.Sprintf("send chunk %d/%d", env.Chunk.Index, env.Chunk.Total), err)
		}

		report.Sent++
		report.ChunkBytes = append(report.ChunkBytes, len(body))
		report.MessageIDs = append(report.MessageIDs, id)
		p.log.LogChunkPublished(ctx, key, id, env.Chunk.Index, env.Chunk.Total, len(env.Items), len(body))
	}
	return nil
}

// storeItems writes the document's items to the object store.
func (p *Publisher) storeItems(ctx context.Context, doc *models.SourceDocument) (*models.ObjectRef, error) {
	items := doc.Items
	if items == nil {
		items = []models.Item{}
	}
	data, err := json.Marshal(items)
	if err != nil {
		return nil, failure.Transient(failure.StagePublish, "encode item list", err)
	}
	key := ObjectKey(doc)
	if err := p.objects.Put(ctx, key, data); err != nil {
		return nil, failure.Transient(failure.StagePublish, "store item list", err)
	}
	return &models.ObjectRef{Bucket: p.objects.Bucket(), Key: key}, nil
}

// ObjectKey is the object store key for a document's item list:
// provider/branch/documentType/<timestamp>-<fingerprint prefix>.json.
func ObjectKey(doc *models.SourceDocument) string {
	fp := doc.SourceFingerprint
	if len(fp) > 16 {
		fp = fp[:16]
	}
	name := doc.SourceTimestamp.UTC().Format("20060102T150405Z")
	if fp != "" {
		name += "-" + fp
	}
	return strings.Join([]string{
		safeSegment(doc.Provider),
		safeSegment(doc.Branch),
		string(doc.DocumentType),
		name + ".json",
	}, "/")
}

func safeSegment(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return "_"
	}
	return strings.Map(func(r rune) rune {
		switch r {
		case '/', '\\', ' ', '*', '>':
			return '_'
		}
		return r
	}, s)
}

// Close stops the publisher. Further publishes fail.
func (p *Publisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	return nil
}

// elapsedSince is a seam for tests.
var elapsedSince = time.Since
