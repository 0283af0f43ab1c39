// Pricepipe - Retail Price Extract Ingestion Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/pricepipe

// Package deadletter records messages the consumer gives up on. A sink
// never returns an error and never panics into its caller: a failed write
// is logged and counted, and the message is still acknowledged.
package deadletter

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/tomtom215/pricepipe/internal/failure"
	"github.com/tomtom215/pricepipe/internal/logging"
	"github.com/tomtom215/pricepipe/internal/metrics"
)

// Sink accepts dead-lettered payloads.
type Sink interface {
	Send(ctx context.Context, payload []byte, kind failure.Kind, detail string, stage failure.Stage)
}

// reportFailure logs and counts a failed write.
func reportFailure(ctx context.Context, sink string, stage failure.Stage, err error) {
	metrics.RecordDeadLetterSend(sink, err)
	logging.Ctx(ctx).Error().
		Err(err).
		Str("sink", sink).
		Str("stage", string(stage)).
		Str("message_id", logging.MessageIDFromContext(ctx)).
		Msg("dead-letter write failed")
}

// writeTimeout bounds a single sink write.
const writeTimeout = 5 * time.Second

// guard runs fn, turning a panic into a reported failure. fn gets a context
// that survives cancellation of ctx: the message is acknowledged after the
// write, so a shutdown must not discard the record.
func guard(ctx context.Context, sink string, stage failure.Stage, fn func(ctx context.Context) error) {
	defer func() {
		if r := recover(); r != nil {
			reportFailure(ctx, sink, stage, fmt.Errorf("panic: %v", r))
		}
	}()
	writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), writeTimeout)
	defer cancel()
	if err := fn(writeCtx); err != nil {
		reportFailure(ctx, sink, stage, err)
		return
	}
	metrics.RecordDeadLetterSend(sink, nil)
}

// LogSink writes records to a logger only. It is the fallback when no
// durable sink is configured.
type LogSink struct {
	log zerolog.Logger
	now func() time.Time
}

// NewLogSink returns a sink logging through l.
//
//nolint:gocritic // zerolog.Logger is designed to be passed by value
func NewLogSink(l zerolog.Logger) *LogSink {
	return &LogSink{log: l, now: time.Now}
}

// Send implements Sink.
func (s *LogSink) Send(ctx context.Context, payload []byte, kind failure.Kind, detail string, stage failure.Stage) {
	guard(ctx, "log", stage, func(ctx context.Context) error {
		rec := NewRecord(ctx, payload, kind, detail, stage, s.now())
		data, err := Marshal(rec)
		if err != nil {
			return err
		}
		s.log.Warn().
			Str("error_kind", rec.ErrorKind).
			Str("stage", rec.Stage).
			Str("field", rec.Field).
			Str("message_id", rec.MessageID).
			RawJSON("record", data).
			Msg("message dead-lettered")
		return nil
	})
}

// MultiSink fans a record out to every target. A failing target does not
// stop the others.
type MultiSink struct {
	sinks []Sink
}

// NewMultiSink combines sinks. Nil entries are ignored.
func NewMultiSink(sinks ...Sink) *MultiSink {
	m := &MultiSink{}
	for _, s := range sinks {
		if s != nil {
			m.sinks = append(m.sinks, s)
		}
	}
	return m
}

// Send implements Sink.
func (m *MultiSink) Send(ctx context.Context, payload []byte, kind failure.Kind, detail string, stage failure.Stage) {
	for i, s := range m.sinks {
		func() {
			defer func() {
				if r := recover(); r != nil {
					reportFailure(ctx, fmt.Sprintf("sink_%d", i), stage, fmt.Errorf("panic: %v", r))
				}
			}()
			s.Send(ctx, payload, kind, detail, stage)
		}()
	}
}

// Len returns the number of targets.
func (m *MultiSink) Len() int {
	return len(m.sinks)
}
