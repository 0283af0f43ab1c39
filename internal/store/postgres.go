// Pricepipe - Retail Price Extract Ingestion Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/pricepipe

package store

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/tomtom215/pricepipe/internal/metrics"
	"github.com/tomtom215/pricepipe/internal/models"
)

// PostgresConfig configures the PostgreSQL store.
type PostgresConfig struct {
	DSN      string `koanf:"dsn"`
	MaxConns int    `koanf:"max_conns"`
	// SimpleProtocol is required behind transaction-pooling bouncers.
	SimpleProtocol bool `koanf:"simple_protocol"`
}

// PostgresStore is a PriceStore on PostgreSQL via pgx.
type PostgresStore struct {
	pool *pgxpool.Pool
	now  func() time.Time

	mu     sync.RWMutex
	closed bool
}

// OpenPostgres connects a pool.
func OpenPostgres(ctx context.Context, cfg PostgresConfig) (*PostgresStore, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("postgres store: dsn is required")
	}
	pcfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		pcfg.MaxConns = int32(cfg.MaxConns)
	}
	if cfg.SimpleProtocol {
		pcfg.ConnConfig.DefaultQueryExecMode = pgx.QueryExecModeSimpleProtocol
	}
	pool, err := pgxpool.NewWithConfig(ctx, pcfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &PostgresStore{pool: pool, now: time.Now}, nil
}

func pgRowTableDDL(table string) string {
	return `CREATE TABLE IF NOT EXISTS ` + table + ` (
		provider TEXT NOT NULL,
		branch TEXT NOT NULL,
		source_ts TIMESTAMPTZ NOT NULL,
		product_name TEXT NOT NULL,
		unit TEXT NOT NULL,
		price DOUBLE PRECISION,
		quantity DOUBLE PRECISION NOT NULL,
		base_unit TEXT NOT NULL,
		multiplier DOUBLE PRECISION NOT NULL,
		price_per_base_unit DOUBLE PRECISION NOT NULL,
		barcode TEXT,
		promotion_id TEXT,
		flags TEXT NOT NULL DEFAULT '',
		updated_at TIMESTAMPTZ NOT NULL,
		PRIMARY KEY (provider, branch, source_ts, product_name, unit)
	)`
}

// EnsureSchema implements PriceStore.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	statements := []string{
		pgRowTableDDL("prices"),
		pgRowTableDDL("promotions"),
		`CREATE TABLE IF NOT EXISTS branches (
			provider TEXT NOT NULL,
			branch TEXT NOT NULL,
			first_seen TIMESTAMPTZ NOT NULL,
			last_seen TIMESTAMPTZ NOT NULL,
			PRIMARY KEY (provider, branch)
		)`,
	}
	for _, stmt := range statements {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("create schema: %w", err)
		}
	}
	return nil
}

func pgUpsertSQL(table string) string {
	return `INSERT INTO ` + table + ` (
		provider, branch, source_ts, product_name, unit,
		price, quantity, base_unit, multiplier, price_per_base_unit,
		barcode, promotion_id, flags, updated_at
	) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)
	ON CONFLICT (provider, branch, source_ts, product_name, unit) DO UPDATE SET
		price = EXCLUDED.price,
		quantity = EXCLUDED.quantity,
		base_unit = EXCLUDED.base_unit,
		multiplier = EXCLUDED.multiplier,
		price_per_base_unit = EXCLUDED.price_per_base_unit,
		barcode = EXCLUDED.barcode,
		promotion_id = EXCLUDED.promotion_id,
		flags = EXCLUDED.flags,
		updated_at = EXCLUDED.updated_at`
}

const pgBranchSQL = `INSERT INTO branches (provider, branch, first_seen, last_seen)
	VALUES ($1, $2, $3, $4)
	ON CONFLICT (provider, branch) DO UPDATE SET
		first_seen = LEAST(branches.first_seen, EXCLUDED.first_seen),
		last_seen = GREATEST(branches.last_seen, EXCLUDED.last_seen)`

// Upsert implements PriceStore. All statements travel in one batch inside
// one transaction.
func (s *PostgresStore) Upsert(ctx context.Context, rows []models.PriceRow) (n int, err error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		_, err := classify(DriverPostgres, "upsert", ErrClosed)
		return 0, err
	}
	if len(rows) == 0 {
		return 0, nil
	}

	start := time.Now()
	defer func() {
		errType := ""
		if err != nil {
			errType, err = classify(DriverPostgres, "upsert rows", err)
		}
		metrics.RecordDBQuery(DriverPostgres, "upsert", time.Since(start), errType)
	}()

	rows = Dedupe(rows)
	tables, groups, err := groupByTable(rows)
	if err != nil {
		return 0, err
	}

	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return 0, err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	now := s.now().UTC()
	b := &pgx.Batch{}
	count := 0
	for _, table := range tables {
		query := pgUpsertSQL(table)
		for i := range groups[table] {
			r := &groups[table][i]
			updated := r.UpdatedAt
			if updated.IsZero() {
				updated = now
			}
			b.Queue(query,
				r.Provider, r.Branch, r.SourceTimestamp.UTC(), r.ProductName, r.Unit,
				nullablePrice(r), r.Quantity, r.BaseUnit, r.Multiplier, r.PricePerBaseUnit,
				nullableString(r.Barcode), nullableString(r.PromotionID), joinFlags(r.Flags), updated.UTC(),
			)
			count++
		}
	}
	branches := branchesOf(rows)
	for _, br := range branches {
		b.Queue(pgBranchSQL, br.provider, br.branch, br.first, br.last)
	}

	results := tx.SendBatch(ctx, b)
	for k := 0; k < count; k++ {
		tag, err := results.Exec()
		if err != nil {
			_ = results.Close()
			return 0, err
		}
		n += int(tag.RowsAffected())
	}
	for range branches {
		if _, err := results.Exec(); err != nil {
			_ = results.Close()
			return 0, fmt.Errorf("branch registry: %w", err)
		}
	}
	if err := results.Close(); err != nil {
		return 0, err
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, err
	}
	return n, nil
}

// Rows implements RowReader.
func (s *PostgresStore) Rows(ctx context.Context, docType models.DocumentType, provider, branch string) ([]models.PriceRow, error) {
	table, err := TableFor(docType)
	if err != nil {
		return nil, err
	}
	rows, err := s.pool.Query(ctx, `SELECT provider, branch, source_ts, product_name, unit,
			price, quantity, base_unit, multiplier, price_per_base_unit,
			barcode, promotion_id, flags, updated_at
		FROM `+table+`
		WHERE provider = $1 AND branch = $2
		ORDER BY source_ts, product_name, unit`, provider, branch)
	if err != nil {
		return nil, fmt.Errorf("query %s: %w", table, err)
	}
	defer rows.Close()
	return scanRows(rows, docType)
}

// Ping implements PriceStore.
func (s *PostgresStore) Ping(ctx context.Context) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrClosed
	}
	return s.pool.Ping(ctx)
}

// Close implements PriceStore.
func (s *PostgresStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		s.pool.Close()
	}
	return nil
}
