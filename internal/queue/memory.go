// Pricepipe - Retail Price Extract Ingestion Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/pricepipe

package queue

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// DefaultLease is the visibility timeout used when none is configured.
const DefaultLease = 30 * time.Second

type memoryMessage struct {
	id         string
	body       []byte
	visibleAt  time.Time
	deliveries int
	receipt    Receipt
}

// MemoryQueue is an in-process Queue with per-message leases.
type MemoryQueue struct {
	mu       sync.Mutex
	messages []*memoryMessage
	history  map[string]int
	lease    time.Duration
	maxBytes int
	now      func() time.Time
	notify   chan struct{}
	closed   bool
}

// MemoryOption configures a MemoryQueue.
type MemoryOption func(*MemoryQueue)

// WithLease sets the visibility timeout.
func WithLease(d time.Duration) MemoryOption {
	return func(q *MemoryQueue) {
		if d > 0 {
			q.lease = d
		}
	}
}

// WithMaxMessageBytes sets the body limit. Zero disables the check.
func WithMaxMessageBytes(n int) MemoryOption {
	return func(q *MemoryQueue) { q.maxBytes = n }
}

// WithMemoryClock overrides the time source.
func WithMemoryClock(now func() time.Time) MemoryOption {
	return func(q *MemoryQueue) { q.now = now }
}

// NewMemoryQueue creates an empty queue.
func NewMemoryQueue(opts ...MemoryOption) *MemoryQueue {
	q := &MemoryQueue{
		history:  make(map[string]int),
		lease:    DefaultLease,
		maxBytes: DefaultMaxMessageBytes,
		now:      time.Now,
		notify:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

// Send implements Queue.
func (q *MemoryQueue) Send(_ context.Context, body []byte) (string, error) {
	if q.maxBytes > 0 && len(body) > q.maxBytes {
		return "", fmt.Errorf("%w: %d > %d bytes", ErrMessageTooLarge, len(body), q.maxBytes)
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return "", ErrClosed
	}

	m := &memoryMessage{
		id:   uuid.NewString(),
		body: append([]byte(nil), body...),
	}
	q.messages = append(q.messages, m)
	q.wakeLocked()
	return m.id, nil
}

// wakeLocked releases every waiting receiver.
func (q *MemoryQueue) wakeLocked() {
	close(q.notify)
	q.notify = make(chan struct{})
}

// ReceiveBatch implements Queue.
func (q *MemoryQueue) ReceiveBatch(ctx context.Context, max int, wait time.Duration) ([]Message, error) {
	max = ClampBatch(max)
	deadline := time.NewTimer(wait)
	defer deadline.Stop()

	for {
		q.mu.Lock()
		if q.closed {
			q.mu.Unlock()
			return nil, ErrClosed
		}
		batch, nextVisible := q.takeLocked(max)
		notify := q.notify
		q.mu.Unlock()

		if len(batch) > 0 {
			return batch, nil
		}

		// Wake up for new sends, lease expiry, timeout or cancellation.
		var (
			leaseTimer *time.Timer
			leaseC     <-chan time.Time
		)
		if !nextVisible.IsZero() {
			leaseTimer = time.NewTimer(time.Until(nextVisible))
			leaseC = leaseTimer.C
		}
		timedOut := false
		select {
		case <-ctx.Done():
			if leaseTimer != nil {
				leaseTimer.Stop()
			}
			return nil, ctx.Err()
		case <-deadline.C:
			timedOut = true
		case <-notify:
		case <-leaseC:
		}
		if leaseTimer != nil {
			leaseTimer.Stop()
		}
		if timedOut {
			return nil, nil
		}
	}
}

// takeLocked leases up to max visible messages. It also reports when the
// earliest in-flight message becomes visible again.
func (q *MemoryQueue) takeLocked(max int) ([]Message, time.Time) {
	now := q.now()
	var (
		batch       []Message
		nextVisible time.Time
	)
	for _, m := range q.messages {
		if m.visibleAt.After(now) {
			if nextVisible.IsZero() || m.visibleAt.Before(nextVisible) {
				nextVisible = m.visibleAt
			}
			continue
		}
		if len(batch) == max {
			break
		}
		m.deliveries++
		q.history[m.id] = m.deliveries
		m.visibleAt = now.Add(q.lease)
		m.receipt = Receipt(m.id + "/" + uuid.NewString())
		batch = append(batch, Message{
			ID:       m.id,
			Body:     append([]byte(nil), m.body...),
			Receipt:  m.receipt,
			Delivery: m.deliveries,
		})
	}
	return batch, nextVisible
}

// Delete implements Queue. A receipt from an expired lease is rejected.
func (q *MemoryQueue) Delete(_ context.Context, receipt Receipt) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return ErrClosed
	}
	for i, m := range q.messages {
		if m.receipt != receipt {
			continue
		}
		if !m.visibleAt.After(q.now()) {
			return ErrUnknownReceipt
		}
		q.messages = append(q.messages[:i], q.messages[i+1:]...)
		return nil
	}
	return ErrUnknownReceipt
}

// ExpireLeases makes every in-flight message visible again, as if its
// lease had run out.
func (q *MemoryQueue) ExpireLeases() {
	q.mu.Lock()
	defer q.mu.Unlock()
	now := q.now()
	for _, m := range q.messages {
		if m.visibleAt.After(now) {
			m.visibleAt = now
		}
	}
	q.wakeLocked()
}

// Len returns the number of messages not yet deleted.
func (q *MemoryQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.messages)
}

// Deliveries returns how often the message with id was delivered,
// including messages that have since been deleted.
func (q *MemoryQueue) Deliveries(id string) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.history[id]
}

// Ping implements Pinger.
func (q *MemoryQueue) Ping(context.Context) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return ErrClosed
	}
	return nil
}

// Close releases waiting receivers. Further calls fail with ErrClosed.
func (q *MemoryQueue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if !q.closed {
		q.closed = true
		q.wakeLocked()
	}
	return nil
}
