// Pricepipe - Retail Price Extract Ingestion Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/pricepipe

package models

import (
	"time"

	"github.com/goccy/go-json"
)

// APIResponse is the envelope of every ops API response.
type APIResponse struct {
	Status   string      `json:"status"`
	Data     interface{} `json:"data"`
	Metadata Metadata    `json:"metadata"`
	Error    *APIError   `json:"error,omitempty"`
}

// Metadata accompanies an APIResponse.
type Metadata struct {
	Timestamp   time.Time `json:"timestamp"`
	QueryTimeMS int64     `json:"query_time_ms,omitempty"`
}

// APIError describes a failed request.
type APIError struct {
	Code    string                 `json:"code"`
	Message string                 `json:"message"`
	Details map[string]interface{} `json:"details,omitempty"`
}

// DeadLetterView is the API rendering of a DeadLetterRecord. Payloads
// that are not valid UTF-8 are base64 encoded.
type DeadLetterView struct {
	MessageID       string    `json:"message_id,omitempty"`
	ErrorKind       string    `json:"error_kind"`
	ErrorDetail     string    `json:"error_detail"`
	Stage           string    `json:"stage"`
	Field           string    `json:"field,omitempty"`
	OriginalPayload string    `json:"original_payload"`
	PayloadEncoding string    `json:"payload_encoding,omitempty"`
	Timestamp       time.Time `json:"timestamp"`

	AttemptedRows json.RawMessage `json:"attempted_rows,omitempty"`
}

// HealthStatus is returned by the readiness endpoint.
type HealthStatus struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks"`
	Uptime float64           `json:"uptime_seconds"`
}
