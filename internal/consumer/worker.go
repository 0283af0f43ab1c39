// Pricepipe - Retail Price Extract Ingestion Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/pricepipe

package consumer

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/rs/zerolog"

	"github.com/tomtom215/pricepipe/internal/failure"
	"github.com/tomtom215/pricepipe/internal/logging"
	"github.com/tomtom215/pricepipe/internal/metrics"
	"github.com/tomtom215/pricepipe/internal/queue"
)

const ackTimeout = 5 * time.Second

// Config configures the workers.
type Config struct {
	Workers      int           `koanf:"workers" validate:"gte=1,lte=64"`
	BatchSize    int           `koanf:"batch_size" validate:"gte=1,lte=10"`
	ReceiveWait  time.Duration `koanf:"receive_wait" validate:"gte=0"`
	IdleBackoff  time.Duration `koanf:"idle_backoff"`
	ErrorBackoff time.Duration `koanf:"error_backoff"`
}

// DefaultConfig returns the consumer defaults.
func DefaultConfig() Config {
	return Config{
		Workers:      2,
		BatchSize:    queue.MaxBatch,
		ReceiveWait:  20 * time.Second,
		IdleBackoff:  250 * time.Millisecond,
		ErrorBackoff: 2 * time.Second,
	}
}

// Stats counts the outcomes of one or more polls.
type Stats struct {
	Received     int
	Persisted    int
	DeadLettered int
	Retried      int
	Acked        int
}

// Add accumulates o into s.
func (s *Stats) Add(o Stats) {
	s.Received += o.Received
	s.Persisted += o.Persisted
	s.DeadLettered += o.DeadLettered
	s.Retried += o.Retried
	s.Acked += o.Acked
}

// Worker polls the queue and processes each message independently.
type Worker struct {
	id   int
	q    queue.Queue
	proc MessageProcessor
	cfg  Config
	log  zerolog.Logger
}

// NewWorker returns a worker. Zero config fields take their defaults.
func NewWorker(id int, q queue.Queue, proc MessageProcessor, cfg Config) *Worker {
	def := DefaultConfig()
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = def.BatchSize
	}
	cfg.BatchSize = queue.ClampBatch(cfg.BatchSize)
	if cfg.IdleBackoff <= 0 {
		cfg.IdleBackoff = def.IdleBackoff
	}
	if cfg.ErrorBackoff <= 0 {
		cfg.ErrorBackoff = def.ErrorBackoff
	}
	return &Worker{
		id:   id,
		q:    q,
		proc: proc,
		cfg:  cfg,
		log:  logging.WithComponent("consumer").With().Int("worker", id).Logger(),
	}
}

// RunOnce performs a single receive and processes what arrived. Messages
// are handled one at a time; cancellation is honoured between messages and
// the unprocessed rest of the batch is left for redelivery.
func (w *Worker) RunOnce(ctx context.Context) (Stats, error) {
	var stats Stats
	ctx = logging.ContextWithNewCorrelationID(logging.ContextWithLogger(ctx, w.log))

	msgs, err := w.q.ReceiveBatch(ctx, w.cfg.BatchSize, w.cfg.ReceiveWait)
	if err != nil {
		if ctx.Err() != nil {
			return stats, ctx.Err()
		}
		metrics.RecordQueueError("receive")
		return stats, failure.Transient(failure.StageReceive, "receive batch", err)
	}
	stats.Received = len(msgs)
	metrics.RecordReceived(len(msgs))

	for _, msg := range msgs {
		if ctx.Err() != nil {
			return stats, ctx.Err()
		}

		outcome := w.process(ctx, msg)
		switch outcome {
		case OutcomePersisted:
			stats.Persisted++
		case OutcomeDeadLettered:
			stats.DeadLettered++
		default:
			stats.Retried++
		}
		if outcome.Ack() && w.ack(ctx, msg) {
			stats.Acked++
		}
	}
	return stats, nil
}

// process isolates one message: a panic is treated as a transient failure
// of that message only.
func (w *Worker) process(ctx context.Context, msg queue.Message) (outcome Outcome) {
	defer func() {
		if r := recover(); r != nil {
			metrics.RecordWorkerPanic()
			metrics.RecordRetry(string(failure.StageReceive), 0)
			logging.Ctx(ctx).Error().
				Str("message_id", msg.ID).
				Str("panic", fmt.Sprint(r)).
				Bytes("stack", debug.Stack()).
				Msg("panic while processing message")
			outcome = OutcomeRetry
		}
	}()
	return w.proc.Process(ctx, msg)
}

// ack deletes msg. The outcome is already final, so cancellation of ctx
// does not abort the acknowledgement.
func (w *Worker) ack(ctx context.Context, msg queue.Message) bool {
	ackCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), ackTimeout)
	defer cancel()
	if err := w.q.Delete(ackCtx, msg.Receipt); err != nil {
		metrics.RecordQueueError("delete")
		logging.Ctx(ctx).Warn().
			Err(err).
			Str("message_id", msg.ID).
			Msg("acknowledge failed, message will be redelivered")
		return false
	}
	return true
}

// Run polls until ctx is done.
func (w *Worker) Run(ctx context.Context) error {
	w.log.Info().Msg("consumer worker started")
	defer w.log.Info().Msg("consumer worker stopped")

	for {
		stats, err := w.RunOnce(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}

		var pause time.Duration
		switch {
		case err != nil && !errors.Is(err, context.Canceled):
			w.log.Warn().Err(err).Msg("receive failed")
			pause = w.cfg.ErrorBackoff
		case stats.Received == 0:
			pause = w.cfg.IdleBackoff
		}
		if pause == 0 {
			continue
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(pause):
		}
	}
}
