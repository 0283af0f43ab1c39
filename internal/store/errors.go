// Pricepipe - Retail Price Extract Ingestion Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/pricepipe

package store

import (
	"context"
	"errors"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/tomtom215/pricepipe/internal/failure"
)

// classify wraps a driver error as transient (left for redelivery) or
// persistence (dead-lettered), along with a short error type for metrics.
func classify(driver, detail string, err error) (string, error) {
	if err == nil {
		return "", nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return "timeout", failure.Transient(failure.StagePersistence, detail, err)
	}
	if errors.Is(err, ErrClosed) {
		return "closed", failure.Transient(failure.StagePersistence, detail, err)
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		class := ""
		if len(pgErr.Code) >= 2 {
			class = pgErr.Code[:2]
		}
		switch class {
		case "08", "40", "53", "57", "58":
			return "pg_" + pgErr.Code, failure.Transient(failure.StagePersistence, detail, err)
		default:
			return "pg_" + pgErr.Code, failure.Persistence(detail, err)
		}
	}

	if driver == DriverPostgres {
		if pgconn.SafeToRetry(err) || pgconn.Timeout(err) || isConnectionError(err) {
			return "connection", failure.Transient(failure.StagePersistence, detail, err)
		}
		return "unknown", failure.Transient(failure.StagePersistence, detail, err)
	}

	switch {
	case isConnectionError(err):
		return "connection", failure.Transient(failure.StagePersistence, detail, err)
	case isTransactionConflict(err):
		return "conflict", failure.Transient(failure.StagePersistence, detail, err)
	case isInternalError(err):
		return "internal", failure.Transient(failure.StagePersistence, detail, err)
	default:
		return "rejected", failure.Persistence(detail, err)
	}
}

// isConnectionError checks if an error indicates connection loss.
func isConnectionError(err error) bool {
	msg := err.Error()
	for _, s := range []string{
		"connection refused",
		"connection reset",
		"broken pipe",
		"bad connection",
		"database is closed",
		"no such host",
		"i/o timeout",
	} {
		if strings.Contains(msg, s) {
			return true
		}
	}
	return false
}

// isTransactionConflict checks if an error is a DuckDB transaction conflict.
func isTransactionConflict(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "Transaction conflict") ||
		strings.Contains(msg, "Conflict on update") ||
		strings.Contains(msg, "cannot update a table that has been altered")
}

// isInternalError checks if an error is a DuckDB INTERNAL error.
func isInternalError(err error) bool {
	return strings.Contains(err.Error(), "INTERNAL Error")
}
