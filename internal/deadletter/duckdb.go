// Pricepipe - Retail Price Extract Ingestion Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/pricepipe

package deadletter

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/tomtom215/pricepipe/internal/failure"
	"github.com/tomtom215/pricepipe/internal/logging"
	"github.com/tomtom215/pricepipe/internal/models"
)

// DuckDBSink appends records to a dead_letters table, normally in the same
// database as the price store.
type DuckDBSink struct {
	db  *sql.DB
	now func() time.Time
	mu  sync.Mutex
}

// NewDuckDBSink returns a sink on db. Call CreateTable before use.
func NewDuckDBSink(db *sql.DB) *DuckDBSink {
	return &DuckDBSink{db: db, now: time.Now}
}

// CreateTable creates the dead_letters table if it doesn't exist.
func (s *DuckDBSink) CreateTable(ctx context.Context) error {
	if s.db == nil {
		return errors.New("dead-letter sink has no database")
	}
	// DuckDB doesn't support multi-statement execution
	statements := []string{
		`CREATE TABLE IF NOT EXISTS dead_letters (
			id VARCHAR PRIMARY KEY,
			error_kind VARCHAR NOT NULL,
			error_detail VARCHAR NOT NULL,
			stage VARCHAR NOT NULL,
			field VARCHAR,
			message_id VARCHAR,
			original_payload BLOB NOT NULL,
			attempted_rows VARCHAR,
			recorded_at TIMESTAMP NOT NULL
		)`,
		`ALTER TABLE dead_letters ADD COLUMN IF NOT EXISTS attempted_rows VARCHAR`,
		`CREATE INDEX IF NOT EXISTS idx_dead_letters_recorded_at ON dead_letters(recorded_at)`,
		`CREATE INDEX IF NOT EXISTS idx_dead_letters_stage ON dead_letters(stage)`,
	}
	for _, stmt := range statements {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("create dead-letter schema: %w", err)
		}
	}
	if _, err := s.db.ExecContext(ctx, "CHECKPOINT"); err != nil {
		logging.Warn().Err(err).Msg("checkpoint after dead_letters creation failed")
	}
	return nil
}

// Send implements Sink.
func (s *DuckDBSink) Send(ctx context.Context, payload []byte, kind failure.Kind, detail string, stage failure.Stage) {
	guard(ctx, "duckdb", stage, func(ctx context.Context) error {
		return s.Save(ctx, NewRecord(ctx, payload, kind, detail, stage, s.now()))
	})
}

// Save inserts rec.
func (s *DuckDBSink) Save(ctx context.Context, rec *models.DeadLetterRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO dead_letters (
			id, error_kind, error_detail, stage, field, message_id, original_payload, attempted_rows, recorded_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		uuid.NewString(), rec.ErrorKind, rec.ErrorDetail, rec.Stage,
		nullable(rec.Field), nullable(rec.MessageID), rec.OriginalPayload,
		nullable(string(rec.AttemptedRows)), rec.Timestamp.UTC(),
	)
	if err != nil {
		return fmt.Errorf("insert dead letter: %w", err)
	}
	return nil
}

// List returns up to limit records, newest first. Optional stage filters.
func (s *DuckDBSink) List(ctx context.Context, stage failure.Stage, limit int) ([]*models.DeadLetterRecord, error) {
	if limit <= 0 {
		limit = 100
	}
	query := `SELECT error_kind, error_detail, stage, field, message_id, original_payload, attempted_rows, recorded_at
		FROM dead_letters`
	args := []any{}
	if stage != "" {
		query += ` WHERE stage = ?`
		args = append(args, string(stage))
	}
	query += ` ORDER BY recorded_at DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query dead letters: %w", err)
	}
	defer rows.Close()

	var out []*models.DeadLetterRecord
	for rows.Next() {
		var (
			rec             models.DeadLetterRecord
			field, mid, att sql.NullString
		)
		if err := rows.Scan(&rec.ErrorKind, &rec.ErrorDetail, &rec.Stage, &field, &mid,
			&rec.OriginalPayload, &att, &rec.Timestamp); err != nil {
			return nil, fmt.Errorf("scan dead letter: %w", err)
		}
		rec.Field = field.String
		rec.MessageID = mid.String
		if att.Valid {
			rec.AttemptedRows = []byte(att.String)
		}
		rec.Timestamp = rec.Timestamp.UTC()
		out = append(out, &rec)
	}
	return out, rows.Err()
}

// Count returns the number of stored records.
func (s *DuckDBSink) Count(ctx context.Context) (int64, error) {
	var n int64
	if err := s.db.QueryRowContext(ctx, "SELECT count(*) FROM dead_letters").Scan(&n); err != nil {
		return 0, fmt.Errorf("count dead letters: %w", err)
	}
	return n, nil
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}
