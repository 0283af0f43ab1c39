// Pricepipe - Retail Price Extract Ingestion Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/pricepipe

package queue

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/tomtom215/pricepipe/internal/logging"
	"github.com/tomtom215/pricepipe/internal/metrics"
)

// minFetchWait keeps pull requests from expiring before the server can
// answer them.
const minFetchWait = time.Second

// JetStreamConfig configures a JetStreamQueue.
type JetStreamConfig struct {
	Stream          StreamConfig
	Subject         string
	Durable         string
	AckWait         time.Duration
	MaxDeliver      int
	MaxAckPending   int
	MaxMessageBytes int
}

// DefaultJetStreamConfig returns the pipeline defaults.
func DefaultJetStreamConfig() JetStreamConfig {
	return JetStreamConfig{
		Stream:          DefaultStreamConfig(),
		Subject:         DefaultSubject,
		Durable:         "pricepipe-consumer",
		AckWait:         DefaultLease,
		MaxDeliver:      -1,
		MaxAckPending:   1000,
		MaxMessageBytes: DefaultMaxMessageBytes,
	}
}

// JetStreamQueue implements Queue on a JetStream work-queue stream. The
// ack wait of the durable pull consumer is the lease.
type JetStreamQueue struct {
	js       jetstream.JetStream
	consumer jetstream.Consumer
	cfg      JetStreamConfig

	mu       sync.Mutex
	inflight map[Receipt]jetstream.Msg
}

// NewJetStreamQueue ensures the stream and durable consumer exist and
// returns a queue bound to them.
func NewJetStreamQueue(ctx context.Context, nc *nats.Conn, cfg JetStreamConfig) (*JetStreamQueue, error) {
	js, err := jetstream.New(nc)
	if err != nil {
		return nil, fmt.Errorf("create JetStream context: %w", err)
	}
	if cfg.Subject == "" {
		cfg.Subject = DefaultSubject
	}
	if len(cfg.Stream.Subjects) == 0 {
		cfg.Stream.Subjects = []string{cfg.Subject}
	}
	if cfg.AckWait <= 0 {
		cfg.AckWait = DefaultLease
	}

	init, err := NewStreamInitializer(js, &cfg.Stream)
	if err != nil {
		return nil, err
	}
	if _, err := init.EnsureStream(ctx); err != nil {
		return nil, err
	}

	consumer, err := js.CreateOrUpdateConsumer(ctx, cfg.Stream.Name, jetstream.ConsumerConfig{
		Durable:       cfg.Durable,
		AckPolicy:     jetstream.AckExplicitPolicy,
		AckWait:       cfg.AckWait,
		MaxDeliver:    cfg.MaxDeliver,
		MaxAckPending: cfg.MaxAckPending,
		FilterSubject: cfg.Subject,
		DeliverPolicy: jetstream.DeliverAllPolicy,
	})
	if err != nil {
		return nil, fmt.Errorf("create consumer %s: %w", cfg.Durable, err)
	}

	logging.Info().
		Str("stream", cfg.Stream.Name).
		Str("subject", cfg.Subject).
		Str("durable", cfg.Durable).
		Dur("ack_wait", cfg.AckWait).
		Msg("JetStream queue ready")

	return &JetStreamQueue{
		js:       js,
		consumer: consumer,
		cfg:      cfg,
		inflight: make(map[Receipt]jetstream.Msg),
	}, nil
}

// JetStream exposes the underlying context, e.g. for the object store.
func (q *JetStreamQueue) JetStream() jetstream.JetStream {
	return q.js
}

// Send implements Queue. The message id doubles as the Nats-Msg-Id header
// so a retried publish inside the duplicate window is stored once.
func (q *JetStreamQueue) Send(ctx context.Context, body []byte) (string, error) {
	if q.cfg.MaxMessageBytes > 0 && len(body) > q.cfg.MaxMessageBytes {
		return "", fmt.Errorf("%w: %d > %d bytes", ErrMessageTooLarge, len(body), q.cfg.MaxMessageBytes)
	}

	id := uuid.NewString()
	msg := &nats.Msg{
		Subject: q.cfg.Subject,
		Data:    body,
		Header:  nats.Header{},
	}

	if _, err := q.js.PublishMsg(ctx, msg, jetstream.WithMsgID(id)); err != nil {
		metrics.RecordQueueError("send")
		return "", fmt.Errorf("publish to %s: %w", q.cfg.Subject, err)
	}
	return id, nil
}

// ReceiveBatch implements Queue.
func (q *JetStreamQueue) ReceiveBatch(ctx context.Context, max int, wait time.Duration) ([]Message, error) {
	if wait < minFetchWait {
		wait = minFetchWait
	}
	batch, err := q.consumer.Fetch(ClampBatch(max), jetstream.FetchMaxWait(wait))
	if err != nil {
		metrics.RecordQueueError("receive")
		return nil, fmt.Errorf("fetch: %w", err)
	}

	var out []Message
	for msg := range batch.Messages() {
		delivery := 1
		if meta, err := msg.Metadata(); err == nil {
			delivery = int(meta.NumDelivered)
		}
		id := msg.Headers().Get(nats.MsgIdHdr)
		if id == "" {
			if meta, err := msg.Metadata(); err == nil {
				id = strconv.FormatUint(meta.Sequence.Stream, 10)
			}
		}
		receipt := Receipt(uuid.NewString())

		q.mu.Lock()
		q.inflight[receipt] = msg
		q.mu.Unlock()

		out = append(out, Message{
			ID:       id,
			Body:     msg.Data(),
			Receipt:  receipt,
			Delivery: delivery,
		})
	}
	if err := batch.Error(); err != nil && !errors.Is(err, nats.ErrTimeout) && !errors.Is(err, context.DeadlineExceeded) {
		if len(out) == 0 {
			metrics.RecordQueueError("receive")
			return nil, fmt.Errorf("fetch: %w", err)
		}
		logging.Warn().Err(err).Int("received", len(out)).Msg("Partial fetch")
	}
	return out, nil
}

// Delete implements Queue by acknowledging the delivery and waiting for
// the server to confirm the ack.
func (q *JetStreamQueue) Delete(ctx context.Context, receipt Receipt) error {
	q.mu.Lock()
	msg, ok := q.inflight[receipt]
	delete(q.inflight, receipt)
	q.mu.Unlock()
	if !ok {
		return ErrUnknownReceipt
	}
	if err := msg.DoubleAck(ctx); err != nil {
		metrics.RecordQueueError("delete")
		return fmt.Errorf("ack: %w", err)
	}
	return nil
}

// Release forgets a delivery without acknowledging it, so the server
// redelivers it after the ack wait.
func (q *JetStreamQueue) Release(receipt Receipt) {
	q.mu.Lock()
	delete(q.inflight, receipt)
	q.mu.Unlock()
}

// Ping implements Pinger.
func (q *JetStreamQueue) Ping(ctx context.Context) error {
	_, err := q.consumer.Info(ctx)
	return err
}
