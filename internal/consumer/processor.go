// Pricepipe - Retail Price Extract Ingestion Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/pricepipe

// Package consumer drains envelopes from the queue into the relational
// store. Each message ends in exactly one of three outcomes:
//
//	persisted      rows upserted, message acknowledged
//	dead-lettered  decode, validation or persistence failure recorded, message acknowledged
//	retry          transient failure, message left for redelivery when its lease expires
//
// There is no application-level retry loop. Lease expiry is the only retry.
package consumer

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/goccy/go-json"

	"github.com/tomtom215/pricepipe/internal/deadletter"
	"github.com/tomtom215/pricepipe/internal/envelope"
	"github.com/tomtom215/pricepipe/internal/failure"
	"github.com/tomtom215/pricepipe/internal/logging"
	"github.com/tomtom215/pricepipe/internal/metrics"
	"github.com/tomtom215/pricepipe/internal/models"
	"github.com/tomtom215/pricepipe/internal/normalize"
	"github.com/tomtom215/pricepipe/internal/queue"
)

// Outcome is the terminal state of one message.
type Outcome int

const (
	OutcomeRetry Outcome = iota
	OutcomePersisted
	OutcomeDeadLettered
)

func (o Outcome) String() string {
	switch o {
	case OutcomePersisted:
		return "persisted"
	case OutcomeDeadLettered:
		return "dead_lettered"
	default:
		return "retry"
	}
}

// Ack reports whether the message should be deleted from the queue.
func (o Outcome) Ack() bool {
	return o == OutcomePersisted || o == OutcomeDeadLettered
}

// Upserter is the part of store.PriceStore the consumer needs.
type Upserter interface {
	Upsert(ctx context.Context, rows []models.PriceRow) (int, error)
}

// MessageProcessor decides the outcome of one message.
type MessageProcessor interface {
	Process(ctx context.Context, msg queue.Message) Outcome
}

// Processor runs the per-message state machine.
type Processor struct {
	store      Upserter
	sink       deadletter.Sink
	objects    queue.ObjectStore
	normalizer *normalize.Normalizer
	log        *logging.PipelineLogger
}

// ProcessorOption configures a Processor.
type ProcessorOption func(*Processor)

// WithObjectStore enables resolution of itemsRef pointers.
func WithObjectStore(s queue.ObjectStore) ProcessorOption {
	return func(p *Processor) { p.objects = s }
}

// WithNormalizer replaces the default normalizer.
func WithNormalizer(n *normalize.Normalizer) ProcessorOption {
	return func(p *Processor) { p.normalizer = n }
}

// WithLogger replaces the default pipeline logger.
func WithLogger(l *logging.PipelineLogger) ProcessorOption {
	return func(p *Processor) { p.log = l }
}

// NewProcessor returns a processor writing to st and dead-lettering to sink.
func NewProcessor(st Upserter, sink deadletter.Sink, opts ...ProcessorOption) *Processor {
	p := &Processor{
		store:      st,
		sink:       sink,
		normalizer: normalize.New(),
		log:        logging.NewPipelineLogger("consumer"),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Process validates, normalizes and persists msg. It never returns an
// error: every failure is folded into the outcome.
func (p *Processor) Process(ctx context.Context, msg queue.Message) Outcome {
	ctx = logging.ContextWithMessageID(ctx, msg.ID)
	start := time.Now()

	env, err := envelope.Validate(msg.Body)
	if err != nil {
		return p.fail(ctx, msg, err, start)
	}

	if env.ItemsRef != nil {
		items, err := p.resolve(ctx, env.ItemsRef)
		if err != nil {
			return p.fail(ctx, msg, err, start)
		}
		env.Items = items
	}

	rows, stats := p.normalizer.Normalize(env)
	p.log.LogNormalizationFlags(ctx, stats.Flagged)

	n, err := p.store.Upsert(ctx, rows)
	if err != nil {
		return p.fail(withAttemptedRows(ctx, rows), msg, err, start)
	}

	elapsed := time.Since(start)
	metrics.RecordPersisted(string(env.DocumentType), n, stats.Skipped, stats.Flagged, elapsed)
	p.log.LogMessagePersisted(ctx, env.WatermarkKey(), n, stats.Skipped, elapsed)
	return OutcomePersisted
}

// resolve loads the item list an envelope points to.
func (p *Processor) resolve(ctx context.Context, ref *models.ObjectRef) ([]models.Item, error) {
	if p.objects == nil {
		return nil, failure.ValidationAt(failure.StageResolve, "itemsRef", "no object store configured", nil)
	}
	if ref.Bucket != "" && ref.Bucket != p.objects.Bucket() {
		return nil, failure.ValidationAt(failure.StageResolve, "itemsRef/bucket",
			fmt.Sprintf("unknown bucket %q", ref.Bucket), nil)
	}

	data, err := p.objects.Get(ctx, ref.Key)
	if errors.Is(err, queue.ErrObjectNotFound) {
		return nil, failure.ValidationAt(failure.StageResolve, "itemsRef/key", "referenced object does not exist", err)
	}
	if err != nil {
		return nil, failure.Transient(failure.StageResolve, "fetch referenced items", err)
	}

	var items []models.Item
	if err := json.Unmarshal(data, &items); err != nil {
		return nil, failure.ValidationAt(failure.StageResolve, "itemsRef/key", "referenced object is not an item list", err)
	}
	if items == nil {
		items = []models.Item{}
	}
	return items, nil
}

// withAttemptedRows attaches rows to dead letters built from ctx. An
// encoding failure leaves the record without them.
func withAttemptedRows(ctx context.Context, rows []models.PriceRow) context.Context {
	data, err := json.Marshal(rows)
	if err != nil {
		logging.Ctx(ctx).Warn().Err(err).Msg("encode attempted rows for dead letter")
		return ctx
	}
	return deadletter.ContextWithAttemptedRows(ctx, data)
}

// fail routes err to redelivery or to the dead-letter sink.
func (p *Processor) fail(ctx context.Context, msg queue.Message, err error, start time.Time) Outcome {
	stage := failure.StageOf(err, failure.StagePersistence)

	if !failure.ShouldDeadLetter(err) {
		metrics.RecordRetry(string(stage), time.Since(start))
		p.log.LogMessageRetry(ctx, string(stage), msg.Delivery, err)
		return OutcomeRetry
	}

	kind := failure.KindOf(err)
	field := ""
	if fe, ok := failure.As(err); ok {
		field = fe.Field
	}
	// The message is acknowledged after this, so the write must not observe
	// the worker's cancellation.
	sinkCtx := deadletter.ContextWithField(context.WithoutCancel(ctx), field)
	p.sink.Send(sinkCtx, msg.Body, kind, err.Error(), stage)

	metrics.RecordDeadLettered(string(stage), kind.String(), time.Since(start))
	p.log.LogMessageDeadLettered(ctx, kind.String(), string(stage), field, err)
	return OutcomeDeadLettered
}
