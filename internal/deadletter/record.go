// Pricepipe - Retail Price Extract Ingestion Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/pricepipe

package deadletter

import (
	"context"
	"encoding/base64"
	"fmt"
	"time"
	"unicode/utf8"

	"github.com/goccy/go-json"

	"github.com/tomtom215/pricepipe/internal/failure"
	"github.com/tomtom215/pricepipe/internal/logging"
	"github.com/tomtom215/pricepipe/internal/models"
)

// EncodingBase64 marks a payload that was not valid UTF-8.
const EncodingBase64 = "base64"

type (
	fieldKey         struct{}
	attemptedRowsKey struct{}
)

// ContextWithField records the offending field for records built from ctx.
func ContextWithField(ctx context.Context, field string) context.Context {
	return context.WithValue(ctx, fieldKey{}, field)
}

func fieldFromContext(ctx context.Context) string {
	if f, ok := ctx.Value(fieldKey{}).(string); ok {
		return f
	}
	return ""
}

// ContextWithAttemptedRows attaches the JSON-encoded rows a failed write
// tried to persist.
func ContextWithAttemptedRows(ctx context.Context, rows []byte) context.Context {
	return context.WithValue(ctx, attemptedRowsKey{}, rows)
}

// AttemptedRowsFromContext returns the rows set by ContextWithAttemptedRows.
func AttemptedRowsFromContext(ctx context.Context) []byte {
	rows, _ := ctx.Value(attemptedRowsKey{}).([]byte)
	return rows
}

// NewRecord builds a record. The message id comes from the logging context
// the field from ContextWithField and the attempted rows from
// ContextWithAttemptedRows.
func NewRecord(ctx context.Context, payload []byte, kind failure.Kind, detail string, stage failure.Stage, at time.Time) *models.DeadLetterRecord {
	return &models.DeadLetterRecord{
		ErrorKind:       kind.String(),
		ErrorDetail:     detail,
		Stage:           string(stage),
		OriginalPayload: append([]byte(nil), payload...),
		Timestamp:       at.UTC(),
		MessageID:       logging.MessageIDFromContext(ctx),
		Field:           fieldFromContext(ctx),
		AttemptedRows:   AttemptedRowsFromContext(ctx),
	}
}

type wireRecord struct {
	ErrorKind       string    `json:"errorKind"`
	ErrorDetail     string    `json:"errorDetail"`
	Stage           string    `json:"stage"`
	OriginalPayload string    `json:"originalPayload"`
	PayloadEncoding string    `json:"payloadEncoding,omitempty"`
	Timestamp       time.Time `json:"timestamp"`
	MessageID       string    `json:"messageId,omitempty"`
	Field           string    `json:"field,omitempty"`

	AttemptedRows json.RawMessage `json:"attemptedRows,omitempty"`
}

// Marshal renders rec as JSON. The payload is kept as text when it is valid
// UTF-8 and base64-encoded otherwise.
func Marshal(rec *models.DeadLetterRecord) ([]byte, error) {
	w := wireRecord{
		ErrorKind:   rec.ErrorKind,
		ErrorDetail: rec.ErrorDetail,
		Stage:       rec.Stage,
		Timestamp:   rec.Timestamp.UTC(),
		MessageID:   rec.MessageID,
		Field:       rec.Field,
	}
	if json.Valid(rec.AttemptedRows) {
		w.AttemptedRows = rec.AttemptedRows
	}
	w.OriginalPayload, w.PayloadEncoding = EncodePayload(rec.OriginalPayload)
	return json.Marshal(&w)
}

// EncodePayload returns payload as text with an empty encoding when it is
// valid UTF-8, and base64 with EncodingBase64 otherwise.
func EncodePayload(payload []byte) (text, encoding string) {
	if utf8.Valid(payload) {
		return string(payload), ""
	}
	return base64.StdEncoding.EncodeToString(payload), EncodingBase64
}

// Unmarshal parses a record produced by Marshal.
func Unmarshal(data []byte) (*models.DeadLetterRecord, error) {
	var w wireRecord
	if err := json.Unmarshal(data, &w); err != nil {
		return nil, fmt.Errorf("decode dead-letter record: %w", err)
	}
	payload := []byte(w.OriginalPayload)
	if w.PayloadEncoding == EncodingBase64 {
		decoded, err := base64.StdEncoding.DecodeString(w.OriginalPayload)
		if err != nil {
			return nil, fmt.Errorf("decode dead-letter payload: %w", err)
		}
		payload = decoded
	}
	return &models.DeadLetterRecord{
		ErrorKind:       w.ErrorKind,
		ErrorDetail:     w.ErrorDetail,
		Stage:           w.Stage,
		OriginalPayload: payload,
		Timestamp:       w.Timestamp,
		MessageID:       w.MessageID,
		Field:           w.Field,
		AttemptedRows:   []byte(w.AttemptedRows),
	}, nil
}
