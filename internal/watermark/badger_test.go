// Pricepipe - Retail Price Extract Ingestion Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/pricepipe

package watermark

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/tomtom215/pricepipe/internal/models"
)

func openTestBadger(t *testing.T) *BadgerBackend {
	t.Helper()
	b, err := OpenBadger(BadgerConfig{Path: t.TempDir()})
	if err != nil {
		t.Fatalf("OpenBadger: %v", err)
	}
	t.Cleanup(func() { _ = b.Close() })
	return b
}

func TestBadgerBackend_RoundTrip(t *testing.T) {
	ctx := context.Background()
	b := openTestBadger(t)

	rec, err := b.Get(ctx, "acme#001#prices")
	if err != nil || rec != nil {
		t.Fatalf("missing key: got %v, %v", rec, err)
	}

	want := &models.WatermarkRecord{
		Key:             "acme#001#prices",
		LastFingerprint: "sha256:abc",
		LastTimestamp:   t0,
		UpdatedAt:       t1,
	}
	if err := b.Put(ctx, want); err != nil {
		t.Fatalf("Put: %v", err)
	}
	got, err := b.Get(ctx, want.Key)
	if err != nil || got == nil {
		t.Fatalf("Get: %v, %v", got, err)
	}
	if got.LastFingerprint != want.LastFingerprint || !got.LastTimestamp.Equal(want.LastTimestamp) {
		t.Errorf("got %+v, want %+v", got, want)
	}

	list, err := b.List(ctx)
	if err != nil || len(list) != 1 {
		t.Errorf("List = %v, %v", list, err)
	}
	if err := b.RunGC(); err != nil {
		t.Errorf("RunGC: %v", err)
	}
}

func TestBadgerBackend_StoreScenario(t *testing.T) {
	ctx := context.Background()
	s := NewStore(openTestBadger(t))

	if !s.ShouldProcess(ctx, "acme", "001", models.DocumentTypePrices, "f1", t0) {
		t.Fatal("expected process on empty store")
	}
	if err := s.Advance(ctx, "acme", "001", models.DocumentTypePrices, "f1", t0); err != nil {
		t.Fatal(err)
	}
	if s.ShouldProcess(ctx, "acme", "001", models.DocumentTypePrices, "f1", t0) {
		t.Error("expected skip after advance")
	}
}

func TestBadgerBackend_Closed(t *testing.T) {
	b, err := OpenBadger(BadgerConfig{InMemory: true})
	if err != nil {
		t.Fatal(err)
	}
	if err := b.Close(); err != nil {
		t.Fatal(err)
	}
	if err := b.Close(); err != nil {
		t.Errorf("second Close = %v", err)
	}
	if _, err := b.Get(context.Background(), "k"); !errors.Is(err, ErrClosed) {
		t.Errorf("Get after close = %v", err)
	}
}

type countingGC struct{ n atomic.Int64 }

func (c *countingGC) RunGC() error {
	c.n.Add(1)
	return nil
}

func TestCompactor(t *testing.T) {
	gc := &countingGC{}
	c := NewCompactor(gc, 10*time.Millisecond)
	if err := c.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	if !c.IsRunning() {
		t.Error("expected running")
	}

	deadline := time.Now().Add(2 * time.Second)
	for gc.n.Load() < 2 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	_ = c.Stop()

	if gc.n.Load() < 2 {
		t.Errorf("expected at least 2 GC runs, got %d", gc.n.Load())
	}
	if c.IsRunning() {
		t.Error("expected stopped")
	}
	if c.Runs() != gc.n.Load() {
		t.Errorf("Runs() = %d, want %d", c.Runs(), gc.n.Load())
	}
}
