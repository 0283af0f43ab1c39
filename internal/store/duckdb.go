// Pricepipe - Retail Price Extract Ingestion Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/pricepipe

package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sync"
	"time"

	_ "github.com/duckdb/duckdb-go/v2"

	"github.com/tomtom215/pricepipe/internal/logging"
	"github.com/tomtom215/pricepipe/internal/metrics"
	"github.com/tomtom215/pricepipe/internal/models"
)

// DuckDBConfig configures the embedded DuckDB store.
type DuckDBConfig struct {
	Path      string `koanf:"path"` // ":memory:" for an in-process database
	Threads   int    `koanf:"threads"`
	MaxMemory string `koanf:"max_memory"`
}

// DuckDBStore is a PriceStore on an embedded DuckDB database.
type DuckDBStore struct {
	db  *sql.DB
	now func() time.Time

	mu     sync.RWMutex
	closed bool
}

// OpenDuckDB opens (creating if needed) the database at cfg.Path.
func OpenDuckDB(cfg DuckDBConfig) (*DuckDBStore, error) {
	path := cfg.Path
	if path == "" {
		path = ":memory:"
	}
	threads := cfg.Threads
	if threads <= 0 {
		threads = runtime.NumCPU()
	}
	maxMemory := cfg.MaxMemory
	if maxMemory == "" {
		maxMemory = "1GB"
	}

	if path != ":memory:" {
		if dir := filepath.Dir(path); dir != "" && dir != "." {
			if err := os.MkdirAll(dir, 0o750); err != nil {
				return nil, fmt.Errorf("create database directory %s: %w", dir, err)
			}
		}
	}

	// Extensions are never auto-installed; nothing here needs them.
	connStr := fmt.Sprintf("%s?access_mode=read_write&threads=%d&max_memory=%s&autoinstall_known_extensions=false&autoload_known_extensions=false",
		path, threads, maxMemory)
	db, err := sql.Open("duckdb", connStr)
	if err != nil {
		return nil, fmt.Errorf("open duckdb: %w", err)
	}
	db.SetMaxOpenConns(runtime.NumCPU())
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(time.Hour)
	db.SetConnMaxIdleTime(5 * time.Minute)

	return &DuckDBStore{db: db, now: time.Now}, nil
}

// DB returns the underlying connection pool, shared with the dead-letter table.
func (s *DuckDBStore) DB() *sql.DB {
	return s.db
}

func rowTableDDL(table string) string {
	return `CREATE TABLE IF NOT EXISTS ` + table + ` (
		provider VARCHAR NOT NULL,
		branch VARCHAR NOT NULL,
		source_ts TIMESTAMP NOT NULL,
		product_name VARCHAR NOT NULL,
		unit VARCHAR NOT NULL,
		price DOUBLE,
		quantity DOUBLE,
		base_unit VARCHAR,
		multiplier DOUBLE,
		price_per_base_unit DOUBLE,
		barcode VARCHAR,
		promotion_id VARCHAR,
		flags VARCHAR,
		updated_at TIMESTAMP NOT NULL,
		PRIMARY KEY (provider, branch, source_ts, product_name, unit)
	)`
}

// EnsureSchema creates the tables. Statements run one at a time and are
// followed by a CHECKPOINT so the catalog never lives only in the WAL.
func (s *DuckDBStore) EnsureSchema(ctx context.Context) error {
	statements := []string{
		rowTableDDL("prices"),
		rowTableDDL("promotions"),
		`CREATE TABLE IF NOT EXISTS branches (
			provider VARCHAR NOT NULL,
			branch VARCHAR NOT NULL,
			first_seen TIMESTAMP NOT NULL,
			last_seen TIMESTAMP NOT NULL,
			PRIMARY KEY (provider, branch)
		)`,
	}
	for _, stmt := range statements {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("create schema: %w", err)
		}
	}
	if _, err := s.db.ExecContext(ctx, "CHECKPOINT"); err != nil {
		logging.Warn().Err(err).Msg("checkpoint after schema creation failed")
	}
	return nil
}

func duckdbUpsertSQL(table string) string {
	return `INSERT INTO ` + table + ` (
		provider, branch, source_ts, product_name, unit,
		price, quantity, base_unit, multiplier, price_per_base_unit,
		barcode, promotion_id, flags, updated_at
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT (provider, branch, source_ts, product_name, unit) DO UPDATE SET
		price = excluded.price,
		quantity = excluded.quantity,
		base_unit = excluded.base_unit,
		multiplier = excluded.multiplier,
		price_per_base_unit = excluded.price_per_base_unit,
		barcode = excluded.barcode,
		promotion_id = excluded.promotion_id,
		flags = excluded.flags,
		updated_at = excluded.updated_at`
}

const duckdbBranchSQL = `INSERT INTO branches (provider, branch, first_seen, last_seen)
	VALUES (?, ?, ?, ?)
	ON CONFLICT (provider, branch) DO UPDATE SET
		first_seen = least(branches.first_seen, excluded.first_seen),
		last_seen = greatest(branches.last_seen, excluded.last_seen)`

// Upsert implements PriceStore.
func (s *DuckDBStore) Upsert(ctx context.Context, rows []models.PriceRow) (n int, err error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		_, err := classify(DriverDuckDB, "upsert", ErrClosed)
		return 0, err
	}
	if len(rows) == 0 {
		return 0, nil
	}

	start := time.Now()
	defer func() {
		errType := ""
		if err != nil {
			errType, err = classify(DriverDuckDB, "upsert rows", err)
		}
		metrics.RecordDBQuery(DriverDuckDB, "upsert", time.Since(start), errType)
	}()

	rows = Dedupe(rows)
	tables, groups, err := groupByTable(rows)
	if err != nil {
		return 0, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	now := s.now().UTC()
	for _, table := range tables {
		stmt, err := tx.PrepareContext(ctx, duckdbUpsertSQL(table))
		if err != nil {
			return 0, err
		}
		for i := range groups[table] {
			r := &groups[table][i]
			updated := r.UpdatedAt
			if updated.IsZero() {
				updated = now
			}
			res, err := stmt.ExecContext(ctx,
				r.Provider, r.Branch, r.SourceTimestamp.UTC(), r.ProductName, r.Unit,
				nullablePrice(r), r.Quantity, r.BaseUnit, r.Multiplier, r.PricePerBaseUnit,
				nullableString(r.Barcode), nullableString(r.PromotionID), joinFlags(r.Flags), updated.UTC(),
			)
			if err != nil {
				_ = stmt.Close()
				return 0, fmt.Errorf("%s row %q: %w", table, r.ProductName, err)
			}
			affected, err := res.RowsAffected()
			if err != nil || affected == 0 {
				affected = 1
			}
			n += int(affected)
		}
		if err := stmt.Close(); err != nil {
			return 0, err
		}
	}

	for _, b := range branchesOf(rows) {
		if _, err := tx.ExecContext(ctx, duckdbBranchSQL, b.provider, b.branch, b.first, b.last); err != nil {
			return 0, fmt.Errorf("branch registry: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return n, nil
}

// Rows implements RowReader.
func (s *DuckDBStore) Rows(ctx context.Context, docType models.DocumentType, provider, branch string) ([]models.PriceRow, error) {
	table, err := TableFor(docType)
	if err != nil {
		return nil, err
	}
	query := `SELECT provider, branch, source_ts, product_name, unit,
			price, quantity, base_unit, multiplier, price_per_base_unit,
			barcode, promotion_id, flags, updated_at
		FROM ` + table + `
		WHERE provider = ? AND branch = ?
		ORDER BY source_ts, product_name, unit`
	rows, err := s.db.QueryContext(ctx, query, provider, branch)
	if err != nil {
		return nil, fmt.Errorf("query %s: %w", table, err)
	}
	defer rows.Close()
	return scanRows(rows, docType)
}

// CountRows returns the number of rows in docType's table.
func (s *DuckDBStore) CountRows(ctx context.Context, docType models.DocumentType) (int, error) {
	table, err := TableFor(docType)
	if err != nil {
		return 0, err
	}
	var n int
	if err := s.db.QueryRowContext(ctx, "SELECT count(*) FROM "+table).Scan(&n); err != nil {
		return 0, fmt.Errorf("count %s: %w", table, err)
	}
	return n, nil
}

type rowScanner interface {
	Next() bool
	Scan(dest ...any) error
	Err() error
}

func scanRows(rows rowScanner, docType models.DocumentType) ([]models.PriceRow, error) {
	var out []models.PriceRow
	for rows.Next() {
		var (
			r                    models.PriceRow
			price                sql.NullFloat64
			barcode, promotionID sql.NullString
			flags                sql.NullString
		)
		if err := rows.Scan(&r.Provider, &r.Branch, &r.SourceTimestamp, &r.ProductName, &r.Unit,
			&price, &r.Quantity, &r.BaseUnit, &r.Multiplier, &r.PricePerBaseUnit,
			&barcode, &promotionID, &flags, &r.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}
		r.DocumentType = docType
		r.Price = price.Float64
		r.Barcode = barcode.String
		r.PromotionID = promotionID.String
		r.Flags = splitFlags(flags.String)
		r.SourceTimestamp = r.SourceTimestamp.UTC()
		r.UpdatedAt = r.UpdatedAt.UTC()
		out = append(out, r)
	}
	return out, rows.Err()
}

// Ping implements PriceStore.
func (s *DuckDBStore) Ping(ctx context.Context) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrClosed
	}
	return s.db.PingContext(ctx)
}

// Close checkpoints and closes the database.
func (s *DuckDBStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if _, err := s.db.ExecContext(ctx, "CHECKPOINT"); err != nil {
		logging.Warn().Err(err).Msg("failed to checkpoint database before close")
	}
	return s.db.Close()
}
