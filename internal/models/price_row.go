// Pricepipe - Retail Price Extract Ingestion Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/pricepipe

package models

import (
	"strings"
	"time"
)

// Normalization flags attached to a PriceRow. A flagged row is still
// persisted; flags only record what the normalizer had to default.
const (
	FlagPriceUnparsed  = "price_unparsed"
	FlagUnitUnknown    = "unit_unknown"
	FlagUnitMissing    = "unit_missing"
	FlagNameTruncated  = "name_truncated"
	FlagBarcodeInvalid = "barcode_invalid"
)

// PriceRow is the canonical, persisted form of one item.
//
// The natural key is (Provider, Branch, DocumentType, SourceTimestamp,
// ProductName, Unit). At most one row exists per natural key.
type PriceRow struct {
	Provider        string       `json:"provider"`
	Branch          string       `json:"branch"`
	DocumentType    DocumentType `json:"document_type"`
	SourceTimestamp time.Time    `json:"source_ts"`
	ProductName     string       `json:"product_name"`
	Unit            string       `json:"unit"`

	Price            float64   `json:"price"`
	Quantity         float64   `json:"quantity"`
	BaseUnit         string    `json:"base_unit"`
	Multiplier       float64   `json:"multiplier"`
	PricePerBaseUnit float64   `json:"price_per_base_unit"`
	Barcode          string    `json:"barcode,omitempty"`
	PromotionID      string    `json:"promotion_id,omitempty"`
	Flags            []string  `json:"flags,omitempty"`
	UpdatedAt        time.Time `json:"updated_at"`
}

// NaturalKey returns the row's natural key as a single comparable string.
func (r *PriceRow) NaturalKey() string {
	return strings.Join([]string{
		r.Provider,
		r.Branch,
		string(r.DocumentType),
		r.SourceTimestamp.UTC().Format(time.RFC3339Nano),
		r.ProductName,
		r.Unit,
	}, "\x1f")
}

// HasFlag reports whether the row carries the given normalization flag.
func (r *PriceRow) HasFlag(flag string) bool {
	for _, f := range r.Flags {
		if f == flag {
			return true
		}
	}
	return false
}
