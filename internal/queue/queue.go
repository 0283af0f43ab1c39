// Pricepipe - Retail Price Extract Ingestion Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/pricepipe

// Package queue is the at-least-once message transport between the
// publisher and the consumer, plus the object store used for overflow
// item batches.
//
// Two Queue implementations exist: JetStreamQueue, backed by a NATS
// JetStream work-queue stream with a durable pull consumer, and
// MemoryQueue for tests and single-process runs. Both hand out a lease
// with every delivery; a message that is not deleted before its lease
// expires is delivered again.
package queue

import (
	"context"
	"errors"
	"time"
)

// MaxBatch is the largest batch ReceiveBatch returns.
const MaxBatch = 10

// DefaultMaxMessageBytes is the default message body limit.
const DefaultMaxMessageBytes = 256000

var (
	// ErrMessageTooLarge is returned by Send for bodies above the limit.
	ErrMessageTooLarge = errors.New("message exceeds maximum size")

	// ErrUnknownReceipt is returned by Delete for a receipt that is not
	// (or no longer) outstanding, e.g. after its lease expired.
	ErrUnknownReceipt = errors.New("unknown or expired receipt")

	// ErrClosed is returned after Close.
	ErrClosed = errors.New("queue closed")

	// ErrObjectNotFound is returned by ObjectStore.Get for a missing key.
	ErrObjectNotFound = errors.New("object not found")
)

// Receipt identifies one delivery of a message. It is only valid until
// the message's lease expires.
type Receipt string

// Message is one delivery.
type Message struct {
	ID       string
	Body     []byte
	Receipt  Receipt
	Delivery int
}

// Queue is the transport contract.
type Queue interface {
	// Send enqueues body and returns the message id.
	Send(ctx context.Context, body []byte) (string, error)

	// ReceiveBatch waits up to wait for at least one message and returns
	// at most max (clamped to [1, MaxBatch]) of them. An empty slice with
	// a nil error means nothing arrived in time.
	ReceiveBatch(ctx context.Context, max int, wait time.Duration) ([]Message, error)

	// Delete acknowledges a delivery so it is never redelivered.
	Delete(ctx context.Context, receipt Receipt) error
}

// Pinger is implemented by queues that can report their health.
type Pinger interface {
	Ping(ctx context.Context) error
}

// ClampBatch bounds a requested batch size to [1, MaxBatch].
func ClampBatch(n int) int {
	if n < 1 {
		return 1
	}
	if n > MaxBatch {
		return MaxBatch
	}
	return n
}
