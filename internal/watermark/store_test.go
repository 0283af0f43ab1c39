// Pricepipe - Retail Price Extract Ingestion Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/pricepipe

package watermark

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/tomtom215/pricepipe/internal/metrics"
	"github.com/tomtom215/pricepipe/internal/models"
)

var (
	t0 = time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	t1 = t0.Add(time.Hour)
)

// failingBackend fails every call while failing is set.
type failingBackend struct {
	mu      sync.Mutex
	inner   *MemoryBackend
	failing bool
	gets    int
}

func (f *failingBackend) Get(ctx context.Context, key string) (*models.WatermarkRecord, error) {
	f.mu.Lock()
	f.gets++
	failing := f.failing
	f.mu.Unlock()
	if failing {
		return nil, errors.New("backend unreachable")
	}
	return f.inner.Get(ctx, key)
}

func (f *failingBackend) Put(ctx context.Context, rec *models.WatermarkRecord) error {
	f.mu.Lock()
	failing := f.failing
	f.mu.Unlock()
	if failing {
		return errors.New("backend unreachable")
	}
	return f.inner.Put(ctx, rec)
}

func (f *failingBackend) Close() error { return f.inner.Close() }

func TestStore_ShouldProcess(t *testing.T) {
	ctx := context.Background()
	s := NewStore(NewMemoryBackend(), WithClock(func() time.Time { return t1 }))

	if !s.ShouldProcess(ctx, "acme", "001", models.DocumentTypePrices, "etag-1", t0) {
		t.Fatal("first sighting must be processed")
	}
	if err := s.Advance(ctx, "acme", "001", models.DocumentTypePrices, "etag-1", t0); err != nil {
		t.Fatalf("Advance: %v", err)
	}

	for i := 0; i < 2; i++ {
		if s.ShouldProcess(ctx, "acme", "001", models.DocumentTypePrices, "etag-1", t0) {
			t.Fatalf("call %d: unchanged fingerprint must be skipped", i)
		}
	}

	// A reissued file with a new timestamp but the same fingerprint is skipped.
	if s.ShouldProcess(ctx, "acme", "001", models.DocumentTypePrices, "etag-1", t1) {
		t.Error("timestamp alone must not trigger processing")
	}
	if !s.ShouldProcess(ctx, "acme", "001", models.DocumentTypePrices, "etag-2", t0) {
		t.Error("new fingerprint must be processed")
	}

	// Keys are independent.
	if !s.ShouldProcess(ctx, "acme", "001", models.DocumentTypePromotions, "etag-1", t0) {
		t.Error("different document type must be processed")
	}
	if !s.ShouldProcess(ctx, "acme", "002", models.DocumentTypePrices, "etag-1", t0) {
		t.Error("different branch must be processed")
	}
}

func TestStore_ShouldProcess_EmptyFingerprintAlwaysProcessed(t *testing.T) {
	ctx := context.Background()
	s := NewStore(NewMemoryBackend())
	if err := s.Advance(ctx, "acme", "001", models.DocumentTypePrices, "", t0); err != nil {
		t.Fatal(err)
	}
	if !s.ShouldProcess(ctx, "acme", "001", models.DocumentTypePrices, "", t0) {
		t.Error("empty fingerprint cannot be compared and must be processed")
	}
}

func TestStore_FailOpen(t *testing.T) {
	ctx := context.Background()
	fb := &failingBackend{inner: NewMemoryBackend()}
	s := NewStore(fb)

	if err := s.Advance(ctx, "acme", "001", models.DocumentTypePrices, "etag-1", t0); err != nil {
		t.Fatal(err)
	}
	fb.failing = true

	before := testutil.ToFloat64(metrics.WatermarkFailOpen)
	if !s.ShouldProcess(ctx, "acme", "001", models.DocumentTypePrices, "etag-1", t0) {
		t.Error("backend failure must fail open")
	}
	if got := testutil.ToFloat64(metrics.WatermarkFailOpen) - before; got != 1 {
		t.Errorf("fail-open metric delta = %v, want 1", got)
	}

	if err := s.Advance(ctx, "acme", "001", models.DocumentTypePrices, "etag-2", t1); err == nil {
		t.Error("Advance must surface backend errors")
	}
}

func TestStore_AdvanceIsMonotonic(t *testing.T) {
	ctx := context.Background()
	backend := NewMemoryBackend()
	s := NewStore(backend, WithClock(func() time.Time { return t1 }))

	if err := s.Advance(ctx, "acme", "001", models.DocumentTypePrices, "etag-new", t1); err != nil {
		t.Fatal(err)
	}
	if err := s.Advance(ctx, "acme", "001", models.DocumentTypePrices, "etag-old", t0); err != nil {
		t.Fatal(err)
	}

	rec, err := backend.Get(ctx, "acme#001#prices")
	if err != nil || rec == nil {
		t.Fatalf("Get: %v %v", rec, err)
	}
	if rec.LastFingerprint != "etag-old" {
		t.Errorf("fingerprint = %q, want etag-old", rec.LastFingerprint)
	}
	if !rec.LastTimestamp.Equal(t1) {
		t.Errorf("timestamp moved backwards to %v", rec.LastTimestamp)
	}
}

func TestStore_Repair(t *testing.T) {
	ctx := context.Background()
	s := NewStore(NewMemoryBackend())
	if err := s.Advance(ctx, "acme", "001", models.DocumentTypePrices, "etag-2", t1); err != nil {
		t.Fatal(err)
	}
	err := s.Repair(ctx, models.WatermarkRecord{Key: "acme#001#prices", LastFingerprint: "etag-1", LastTimestamp: t0})
	if err != nil {
		t.Fatal(err)
	}
	rec, _ := s.Get(ctx, "acme#001#prices")
	if !rec.LastTimestamp.Equal(t0) || rec.LastFingerprint != "etag-1" {
		t.Errorf("repair not applied: %+v", rec)
	}
	if rec.UpdatedAt.IsZero() {
		t.Error("repair must stamp UpdatedAt")
	}
	if err := s.Repair(ctx, models.WatermarkRecord{}); err == nil {
		t.Error("expected error for empty key")
	}
}

func TestMemoryBackend_Closed(t *testing.T) {
	b := NewMemoryBackend()
	_ = b.Close()
	if _, err := b.Get(context.Background(), "k"); !errors.Is(err, ErrClosed) {
		t.Errorf("Get after close = %v, want ErrClosed", err)
	}
}

func TestBuildBackendFromDSN(t *testing.T) {
	tests := []struct {
		dsn     string
		want    string
		wantErr bool
	}{
		{"memory://", "*watermark.MemoryBackend", false},
		{"badger://memory", "*watermark.BadgerBackend", false},
		{"postgres://u:p@localhost/db?sslmode=disable", "*watermark.PostgresBackend", false},
		{"", "", true},
		{"redis://localhost", "", true},
		{"badger://", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.dsn, func(t *testing.T) {
			b, err := BuildBackendFromDSN(tt.dsn)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("expected error, got %T", b)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			defer b.Close()
			if got := typeName(b); got != tt.want {
				t.Errorf("backend type = %s, want %s", got, tt.want)
			}
		})
	}
}

func typeName(b Backend) string {
	switch b.(type) {
	case *MemoryBackend:
		return "*watermark.MemoryBackend"
	case *BadgerBackend:
		return "*watermark.BadgerBackend"
	case *PostgresBackend:
		return "*watermark.PostgresBackend"
	default:
		return "unknown"
	}
}

func TestParseDSN(t *testing.T) {
	tests := []struct {
		dsn        string
		wantScheme string
		wantErr    bool
	}{
		{"MEMORY://", "memory", false},
		{"badger:///var/lib/pricepipe/wm", "badger", false},
		{"postgresql://localhost/db", "postgresql", false},
		{"  ", "", true},
		{"file:///tmp/x", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.dsn, func(t *testing.T) {
			u, err := ParseDSN(tt.dsn)
			if tt.wantErr {
				if !errors.Is(err, ErrInvalidDSN) {
					t.Fatalf("err = %v, want ErrInvalidDSN", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if u.Scheme != tt.wantScheme {
				t.Errorf("scheme = %q, want %q", u.Scheme, tt.wantScheme)
			}
		})
	}
}
