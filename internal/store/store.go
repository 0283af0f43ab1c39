// Pricepipe - Retail Price Extract Ingestion Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/pricepipe

// Package store persists normalized rows with an idempotent upsert keyed on
// the natural key (provider, branch, source timestamp, product name, unit).
// Each document type has its own table. A call to Upsert is one
// transaction: either every row is written or none is.
package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/tomtom215/pricepipe/internal/models"
)

// Supported drivers.
const (
	DriverDuckDB   = "duckdb"
	DriverPostgres = "postgres"
)

// ErrClosed is returned after Close.
var ErrClosed = errors.New("store closed")

// PriceStore is the relational store contract.
type PriceStore interface {
	// Upsert writes rows in one transaction and returns the number of rows
	// inserted or updated.
	Upsert(ctx context.Context, rows []models.PriceRow) (int, error)
	EnsureSchema(ctx context.Context) error
	Ping(ctx context.Context) error
	Close() error
}

// RowReader reads persisted rows back, ordered by natural key.
type RowReader interface {
	Rows(ctx context.Context, docType models.DocumentType, provider, branch string) ([]models.PriceRow, error)
}

// Config selects and configures the store.
type Config struct {
	Driver   string         `koanf:"driver" validate:"oneof=duckdb postgres"`
	DuckDB   DuckDBConfig   `koanf:"duckdb"`
	Postgres PostgresConfig `koanf:"postgres"`
}

// DefaultConfig returns an on-disk DuckDB configuration.
func DefaultConfig() Config {
	return Config{
		Driver: DriverDuckDB,
		DuckDB: DuckDBConfig{
			Path:      "/data/pricepipe.duckdb",
			MaxMemory: "1GB",
		},
		Postgres: PostgresConfig{
			MaxConns: 4,
		},
	}
}

// Open creates the configured store and ensures its schema.
func Open(ctx context.Context, cfg Config) (PriceStore, error) {
	var (
		s   PriceStore
		err error
	)
	switch cfg.Driver {
	case DriverDuckDB, "":
		s, err = OpenDuckDB(cfg.DuckDB)
	case DriverPostgres:
		s, err = OpenPostgres(ctx, cfg.Postgres)
	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.Driver)
	}
	if err != nil {
		return nil, err
	}
	if err := s.EnsureSchema(ctx); err != nil {
		_ = s.Close()
		return nil, err
	}
	return s, nil
}

// TableFor returns the table holding rows of docType.
func TableFor(docType models.DocumentType) (string, error) {
	switch docType {
	case models.DocumentTypePrices:
		return "prices", nil
	case models.DocumentTypePromotions:
		return "promotions", nil
	default:
		return "", fmt.Errorf("%w: %q", models.ErrUnknownDocumentType, docType)
	}
}

// Dedupe collapses rows sharing a natural key, keeping the last occurrence
// at the position of the first. No single statement may touch a row twice.
func Dedupe(rows []models.PriceRow) []models.PriceRow {
	index := make(map[string]int, len(rows))
	out := make([]models.PriceRow, 0, len(rows))
	for _, r := range rows {
		key := r.NaturalKey()
		if i, ok := index[key]; ok {
			out[i] = r
			continue
		}
		index[key] = len(out)
		out = append(out, r)
	}
	return out
}

// groupByTable splits rows by destination table, keeping order.
func groupByTable(rows []models.PriceRow) ([]string, map[string][]models.PriceRow, error) {
	var tables []string
	groups := make(map[string][]models.PriceRow)
	for _, r := range rows {
		table, err := TableFor(r.DocumentType)
		if err != nil {
			return nil, nil, err
		}
		if _, ok := groups[table]; !ok {
			tables = append(tables, table)
		}
		groups[table] = append(groups[table], r)
	}
	return tables, groups, nil
}

type branchSeen struct {
	provider, branch string
	first, last      time.Time
}

// branchesOf returns the provider/branch pairs in rows with the source
// timestamp range seen for each.
func branchesOf(rows []models.PriceRow) []branchSeen {
	index := make(map[string]int)
	var out []branchSeen
	for _, r := range rows {
		key := r.Provider + "\x1f" + r.Branch
		ts := r.SourceTimestamp.UTC()
		if i, ok := index[key]; ok {
			if ts.Before(out[i].first) {
				out[i].first = ts
			}
			if ts.After(out[i].last) {
				out[i].last = ts
			}
			continue
		}
		index[key] = len(out)
		out = append(out, branchSeen{provider: r.Provider, branch: r.Branch, first: ts, last: ts})
	}
	return out
}

// nullablePrice maps an unparsed price to NULL.
func nullablePrice(r *models.PriceRow) any {
	if r.HasFlag(models.FlagPriceUnparsed) {
		return nil
	}
	return r.Price
}

func nullableString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func joinFlags(flags []string) string {
	return strings.Join(flags, ",")
}

func splitFlags(s string) []string {
	if s == "" {
		return nil
	}
	return strings.Split(s, ",")
}
