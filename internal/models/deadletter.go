// Pricepipe - Retail Price Extract Ingestion Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/pricepipe

package models

import "time"

// DeadLetterRecord describes a message that could not be persisted and
// will not be retried. Records are append-only.
type DeadLetterRecord struct {
	ErrorKind       string
	ErrorDetail     string
	Stage           string
	OriginalPayload []byte
	Timestamp       time.Time
	MessageID       string
	Field           string

	// AttemptedRows is the JSON array of normalized rows the store rejected.
	// Only persistence-stage records carry it.
	AttemptedRows []byte
}
