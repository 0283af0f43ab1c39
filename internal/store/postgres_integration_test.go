// Pricepipe - Retail Price Extract Ingestion Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/pricepipe

//go:build integration

package store

import (
	"context"
	"testing"

	"github.com/tomtom215/pricepipe/internal/failure"
	"github.com/tomtom215/pricepipe/internal/models"
	"github.com/tomtom215/pricepipe/internal/testinfra"
)

func openPostgresStore(t *testing.T) *PostgresStore {
	t.Helper()
	pg := testinfra.StartPostgres(t)

	s, err := OpenPostgres(context.Background(), PostgresConfig{DSN: pg.DSN, MaxConns: 4})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = s.Close() })
	if err := s.EnsureSchema(context.Background()); err != nil {
		t.Fatal(err)
	}
	return s
}

func TestPostgresStore_Integration(t *testing.T) {
	s := openPostgresStore(t)
	ctx := context.Background()

	rows := []models.PriceRow{
		priceRow("Milk", "l", 5),
		priceRow("Bread", "unit", 7.5),
		priceRow("Milk", "l", 6),
	}
	for i := 0; i < 2; i++ {
		if _, err := s.Upsert(ctx, rows); err != nil {
			t.Fatalf("upsert %d: %v", i, err)
		}
	}

	got, err := s.Rows(ctx, models.DocumentTypePrices, "shufersal", "001")
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 {
		t.Fatalf("len = %d, want 2", len(got))
	}
	for _, r := range got {
		if r.ProductName == "Milk" && r.Price != 6 {
			t.Errorf("milk price = %v, want 6", r.Price)
		}
	}

	if err := s.Ping(ctx); err != nil {
		t.Errorf("Ping: %v", err)
	}
}

func TestPostgresStore_RollbackOnRejectedRow(t *testing.T) {
	s := openPostgresStore(t)
	ctx := context.Background()

	if _, err := s.pool.Exec(ctx,
		`ALTER TABLE prices ADD CONSTRAINT price_non_negative CHECK (price IS NULL OR price >= 0)`); err != nil {
		t.Fatal(err)
	}

	_, err := s.Upsert(ctx, []models.PriceRow{priceRow("Milk", "l", 5), priceRow("Refund", "unit", -1)})
	if failure.KindOf(err) != failure.KindPersistence {
		t.Fatalf("err = %v, want persistence failure", err)
	}

	got, err := s.Rows(ctx, models.DocumentTypePrices, "shufersal", "001")
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 0 {
		t.Errorf("rows = %d, want 0 after rollback", len(got))
	}
}
