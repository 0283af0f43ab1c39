// Pricepipe - Retail Price Extract Ingestion Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/pricepipe

package models

import (
	"strings"
	"time"
)

// WatermarkKeySeparator joins the components of a watermark key.
const WatermarkKeySeparator = "#"

// WatermarkKey renders provider#branch#documentType.
func WatermarkKey(provider, branch string, docType DocumentType) string {
	return strings.Join([]string{provider, branch, string(docType)}, WatermarkKeySeparator)
}

// WatermarkRecord is the last successfully published source identity for a
// provider/branch/document type. Normal processing only moves it forward.
type WatermarkRecord struct {
	Key             string    `json:"key"`
	LastFingerprint string    `json:"last_fingerprint"`
	LastTimestamp   time.Time `json:"last_timestamp"`
	UpdatedAt       time.Time `json:"updated_at"`
}
