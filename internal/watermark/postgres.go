// Pricepipe - Retail Price Extract Ingestion Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/pricepipe

package watermark

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "github.com/lib/pq" // postgres driver

	"github.com/tomtom215/pricepipe/internal/models"
)

const (
	postgresTableName        = "pricepipe_watermarks"
	postgresOperationTimeout = 5 * time.Second
)

type sqlOpenFunc func(driverName, dsn string) (*sql.DB, error)

// PostgresBackend stores watermarks in a single key-value table. The table
// is created on first use.
type PostgresBackend struct {
	dsn    string
	table  string
	openDB sqlOpenFunc

	initOnce sync.Once
	initErr  error
	db       *sql.DB
}

// NewPostgresBackend returns a backend for dsn. No connection is made
// until the first Get or Put.
func NewPostgresBackend(dsn string) (*PostgresBackend, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		return nil, ErrInvalidDSN
	}
	return &PostgresBackend{dsn: dsn, table: postgresTableName, openDB: sql.Open}, nil
}

func (b *PostgresBackend) ensureReady(ctx context.Context) error {
	b.initOnce.Do(func() {
		db, err := b.openDB("postgres", b.dsn)
		if err != nil {
			b.initErr = err
			return
		}
		ctx, cancel := context.WithTimeout(ctx, postgresOperationTimeout)
		defer cancel()

		query := fmt.Sprintf(`
			CREATE TABLE IF NOT EXISTS %s (
				wm_key TEXT PRIMARY KEY,
				last_fingerprint TEXT NOT NULL,
				last_timestamp TIMESTAMPTZ NOT NULL,
				updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
			)`, quoteIdentifier(b.table))
		if _, err := db.ExecContext(ctx, query); err != nil {
			_ = db.Close()
			b.initErr = fmt.Errorf("create watermark table: %w", err)
			return
		}
		b.db = db
	})
	return b.initErr
}

// Get implements Backend.
func (b *PostgresBackend) Get(ctx context.Context, key string) (*models.WatermarkRecord, error) {
	if err := b.ensureReady(ctx); err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(ctx, postgresOperationTimeout)
	defer cancel()

	query := fmt.Sprintf(
		"SELECT last_fingerprint, last_timestamp, updated_at FROM %s WHERE wm_key = $1",
		quoteIdentifier(b.table))
	rec := models.WatermarkRecord{Key: key}
	err := b.db.QueryRowContext(ctx, query, key).Scan(&rec.LastFingerprint, &rec.LastTimestamp, &rec.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	rec.LastTimestamp = rec.LastTimestamp.UTC()
	rec.UpdatedAt = rec.UpdatedAt.UTC()
	return &rec, nil
}

// Put implements Backend.
func (b *PostgresBackend) Put(ctx context.Context, rec *models.WatermarkRecord) error {
	if err := b.ensureReady(ctx); err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, postgresOperationTimeout)
	defer cancel()

	query := fmt.Sprintf(`
		INSERT INTO %s (wm_key, last_fingerprint, last_timestamp, updated_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (wm_key)
		DO UPDATE SET last_fingerprint = EXCLUDED.last_fingerprint,
			last_timestamp = EXCLUDED.last_timestamp,
			updated_at = EXCLUDED.updated_at`, quoteIdentifier(b.table))
	_, err := b.db.ExecContext(ctx, query, rec.Key, rec.LastFingerprint, rec.LastTimestamp.UTC(), rec.UpdatedAt.UTC())
	return err
}

// Close implements Backend.
func (b *PostgresBackend) Close() error {
	if b.db == nil {
		return nil
	}
	return b.db.Close()
}

func quoteIdentifier(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}
