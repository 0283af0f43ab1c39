// Pricepipe - Retail Price Extract Ingestion Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/pricepipe

package logging

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

// PipelineLogger carries the domain-specific log lines of the ingestion
// pipeline so that every component reports the same events with the same
// field names.
type PipelineLogger struct {
	logger zerolog.Logger
}

// NewPipelineLogger returns a PipelineLogger tagged with component.
func NewPipelineLogger(component string) *PipelineLogger {
	return NewPipelineLoggerWithLogger(Logger(), component)
}

// NewPipelineLoggerWithLogger wraps an explicit logger.
//
//nolint:gocritic // zerolog.Logger is designed to be passed by value
func NewPipelineLoggerWithLogger(logger zerolog.Logger, component string) *PipelineLogger {
	return &PipelineLogger{logger: logger.With().Str("component", component).Logger()}
}

func (p *PipelineLogger) ctx(ctx context.Context) *zerolog.Logger {
	logCtx := p.logger.With()
	if id := CorrelationIDFromContext(ctx); id != "" {
		logCtx = logCtx.Str("correlation_id", id)
	}
	if id := MessageIDFromContext(ctx); id != "" {
		logCtx = logCtx.Str("message_id", id)
	}
	l := logCtx.Logger()
	return &l
}

// Logger exposes the underlying logger for ad hoc entries.
func (p *PipelineLogger) Logger(ctx context.Context) *zerolog.Logger {
	return p.ctx(ctx)
}

// LogDocumentSkipped records a document whose fingerprint matches the watermark.
func (p *PipelineLogger) LogDocumentSkipped(ctx context.Context, key, fingerprint string) {
	p.ctx(ctx).Info().
		Str("watermark_key", key).
		Str("fingerprint", fingerprint).
		Msg("document unchanged, skipped")
}

// LogDocumentPublished records a fully enqueued document.
func (p *PipelineLogger) LogDocumentPublished(ctx context.Context, key string, items, chunks, dropped int, elapsed time.Duration) {
	p.ctx(ctx).Info().
		Str("watermark_key", key).
		Int("items", items).
		Int("chunks", chunks).
		Int("dropped", dropped).
		Dur("elapsed", elapsed).
		Msg("document published")
}

// LogChunkPublished records one enqueued chunk.
func (p *PipelineLogger) LogChunkPublished(ctx context.Context, key, messageID string, index, total, items, bytes int) {
	p.ctx(ctx).Debug().
		Str("watermark_key", key).
		Str("queue_message_id", messageID).
		Int("chunk", index).
		Int("chunks", total).
		Int("items", items).
		Int("bytes", bytes).
		Msg("chunk published")
}

// LogItemTruncated records an item whose name was shortened to fit a message.
func (p *PipelineLogger) LogItemTruncated(ctx context.Context, key string, originalBytes, newBytes int) {
	p.ctx(ctx).Warn().
		Str("watermark_key", key).
		Int("original_bytes", originalBytes).
		Int("truncated_bytes", newBytes).
		Msg("item name truncated to fit message budget")
}

// LogItemDropped records an item that could not fit a message even after truncation.
func (p *PipelineLogger) LogItemDropped(ctx context.Context, key, productName string, size, budget int) {
	p.ctx(ctx).Error().
		Str("watermark_key", key).
		Str("product_name", productName).
		Int("item_bytes", size).
		Int("budget_bytes", budget).
		Msg("item exceeds message budget after truncation, dropped")
}

// LogWatermarkFailOpen records a watermark backend failure that was
// treated as "process anyway".
func (p *PipelineLogger) LogWatermarkFailOpen(ctx context.Context, key string, err error) {
	p.ctx(ctx).Error().
		Err(err).
		Str("watermark_key", key).
		Msg("watermark store unavailable, processing document anyway")
}

// LogMessagePersisted records a successfully persisted message.
func (p *PipelineLogger) LogMessagePersisted(ctx context.Context, key string, rows, skipped int, elapsed time.Duration) {
	p.ctx(ctx).Info().
		Str("watermark_key", key).
		Int("rows", rows).
		Int("skipped_items", skipped).
		Dur("elapsed", elapsed).
		Msg("message persisted")
}

// LogMessageDeadLettered records a message routed to the dead-letter sink.
func (p *PipelineLogger) LogMessageDeadLettered(ctx context.Context, kind, stage, field string, err error) {
	ev := p.ctx(ctx).Warn().
		Err(err).
		Str("error_kind", kind).
		Str("stage", stage)
	if field != "" {
		ev = ev.Str("field", field)
	}
	ev.Msg("message dead-lettered")
}

// LogMessageRetry records a transient failure left for redelivery.
func (p *PipelineLogger) LogMessageRetry(ctx context.Context, stage string, delivery int, err error) {
	p.ctx(ctx).Warn().
		Err(err).
		Str("stage", stage).
		Int("delivery", delivery).
		Msg("transient failure, message left for redelivery")
}

// LogNormalizationFlags records per-flag counts for one message.
func (p *PipelineLogger) LogNormalizationFlags(ctx context.Context, flagged map[string]int) {
	if len(flagged) == 0 {
		return
	}
	dict := zerolog.Dict()
	for flag, n := range flagged {
		dict = dict.Int(flag, n)
	}
	p.ctx(ctx).Debug().Dict("flags", dict).Msg("normalization warnings")
}
