// Pricepipe - Retail Price Extract Ingestion Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/pricepipe

package publisher

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/goccy/go-json"

	"github.com/tomtom215/pricepipe/internal/breaker"
	"github.com/tomtom215/pricepipe/internal/envelope"
	"github.com/tomtom215/pricepipe/internal/failure"
	"github.com/tomtom215/pricepipe/internal/models"
	"github.com/tomtom215/pricepipe/internal/queue"
)

// recordingQueue records sent bodies and can fail after a number of sends.
type recordingQueue struct {
	mu        sync.Mutex
	bodies    [][]byte
	failAfter int // -1 never fails
	err       error
}

func newRecordingQueue() *recordingQueue {
	return &recordingQueue{failAfter: -1}
}

func (q *recordingQueue) Send(_ context.Context, body []byte) (string, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.failAfter >= 0 && len(q.bodies) >= q.failAfter {
		return "", q.err
	}
	q.bodies = append(q.bodies, append([]byte(nil), body...))
	return "msg-" + string(rune('a'+len(q.bodies))), nil
}

func (q *recordingQueue) ReceiveBatch(context.Context, int, time.Duration) ([]queue.Message, error) {
	return nil, nil
}

func (q *recordingQueue) Delete(context.Context, queue.Receipt) error { return nil }

func (q *recordingQueue) sent() [][]byte {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([][]byte(nil), q.bodies...)
}

func testConfig(maxBytes int) Config {
	cfg := DefaultConfig()
	cfg.MaxMessageBytes = maxBytes
	cfg.RatePerSecond = 0
	cfg.Breaker = breaker.DefaultConfig("publisher-test")
	return cfg
}

func TestPublisher_Publish(t *testing.T) {
	q := newRecordingQueue()
	p, err := New(q, testConfig(1024))
	if err != nil {
		t.Fatal(err)
	}

	doc := testDocument(60)
	sent, err := p.Publish(context.Background(), doc)
	if err != nil {
		t.Fatalf("Publish() error = %v", err)
	}
	bodies := q.sent()
	if sent != len(bodies) || sent < 2 {
		t.Fatalf("sent = %d, bodies = %d", sent, len(bodies))
	}

	items := 0
	for i, body := range bodies {
		if len(body) > 1024 {
			t.Errorf("message %d is %d bytes", i, len(body))
		}
		env, err := envelope.Validate(body)
		if err != nil {
			t.Fatalf("message %d does not validate: %v", i, err)
		}
		if env.Provider != "acme" || env.Chunk.Total != sent {
			t.Errorf("message %d envelope = %+v", i, env)
		}
		items += len(env.Items)
	}
	if items != 60 {
		t.Errorf("items across messages = %d, want 60", items)
	}
}

func TestPublisher_SendFailureAborts(t *testing.T) {
	q := newRecordingQueue()
	q.failAfter = 1
	q.err = errors.New("queue unreachable")

	p, err := New(q, testConfig(1024))
	if err != nil {
		t.Fatal(err)
	}
	report, err := p.PublishDocument(context.Background(), testDocument(60))
	if err == nil {
		t.Fatal("expected error")
	}
	if !failure.IsTransient(err) {
		t.Errorf("send failure should be transient, got %v", err)
	}
	if report.Sent != 1 {
		t.Errorf("Sent = %d, want 1", report.Sent)
	}
}

func TestPublisher_Closed(t *testing.T) {
	p, err := New(newRecordingQueue(), testConfig(1024))
	if err != nil {
		t.Fatal(err)
	}
	_ = p.Close()
	if _, err := p.Publish(context.Background(), testDocument(1)); !errors.Is(err, queue.ErrClosed) {
		t.Errorf("err = %v, want ErrClosed", err)
	}
}

func TestPublisher_OverflowPointerOnly(t *testing.T) {
	q := newRecordingQueue()
	objects := queue.NewMemoryObjectStore("items")
	cfg := testConfig(1024)
	cfg.Overflow = OverflowConfig{Enabled: true, PointerOnly: true}

	p, err := New(q, cfg, WithObjectStore(objects))
	if err != nil {
		t.Fatal(err)
	}
	doc := testDocument(500)
	report, err := p.PublishDocument(context.Background(), doc)
	if err != nil {
		t.Fatal(err)
	}
	if report.Sent != 1 || report.ItemsRef == nil {
		t.Fatalf("report = %+v", report)
	}

	env, err := envelope.Validate(q.sent()[0])
	if err != nil {
		t.Fatal(err)
	}
	if env.ItemsRef == nil || env.ItemsRef.Key != ObjectKey(doc) || env.ItemsTotal != 500 {
		t.Errorf("envelope = %+v", env)
	}

	data, err := objects.Get(context.Background(), env.ItemsRef.Key)
	if err != nil {
		t.Fatal(err)
	}
	var items []models.Item
	if err := json.Unmarshal(data, &items); err != nil {
		t.Fatal(err)
	}
	if len(items) != 500 {
		t.Errorf("stored %d items", len(items))
	}
}

func TestPublisher_OverflowMirror(t *testing.T) {
	q := newRecordingQueue()
	objects := queue.NewMemoryObjectStore("items")
	cfg := testConfig(1024)
	cfg.Overflow = OverflowConfig{Enabled: true}

	p, err := New(q, cfg, WithObjectStore(objects))
	if err != nil {
		t.Fatal(err)
	}
	doc := testDocument(40)
	report, err := p.PublishDocument(context.Background(), doc)
	if err != nil {
		t.Fatal(err)
	}
	if report.Sent < 2 {
		t.Errorf("mirror mode should still chunk inline, sent %d", report.Sent)
	}
	if _, err := objects.Get(context.Background(), ObjectKey(doc)); err != nil {
		t.Errorf("mirror copy missing: %v", err)
	}
}

func TestNew_OverflowNeedsObjectStore(t *testing.T) {
	cfg := testConfig(1024)
	cfg.Overflow.Enabled = true
	if _, err := New(newRecordingQueue(), cfg); err == nil {
		t.Fatal("expected error")
	}
}

func TestObjectKey(t *testing.T) {
	doc := &models.SourceDocument{
		Provider:          "acme/co",
		Branch:            " 7 ",
		DocumentType:      models.DocumentTypePromotions,
		SourceTimestamp:   time.Date(2024, 5, 1, 6, 0, 0, 0, time.UTC),
		SourceFingerprint: "0123456789abcdef0123",
	}
	want := "acme_co/7/promotions/20240501T060000Z-0123456789abcdef.json"
	if got := ObjectKey(doc); got != want {
		t.Errorf("ObjectKey() = %q, want %q", got, want)
	}
}
