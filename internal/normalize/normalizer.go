// Pricepipe - Retail Price Extract Ingestion Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/pricepipe

// Package normalize maps raw item records to canonical price rows.
//
// Everything here is pure and total: a malformed price or unit never
// produces an error, only a defaulted field and a flag on the row. Only
// items whose cleaned product name is empty are skipped.
package normalize

import (
	"time"

	"github.com/tomtom215/pricepipe/internal/models"
	"github.com/tomtom215/pricepipe/internal/textutil"
)

// DefaultMaxNameBytes bounds a persisted product name.
const DefaultMaxNameBytes = 512

// Stats summarizes one Normalize call.
type Stats struct {
	Items   int
	Rows    int
	Skipped int
	Flagged map[string]int
}

// Option configures a Normalizer.
type Option func(*Normalizer)

// WithClock overrides the time source used for UpdatedAt.
func WithClock(now func() time.Time) Option {
	return func(n *Normalizer) { n.now = now }
}

// WithMaxNameBytes overrides DefaultMaxNameBytes.
func WithMaxNameBytes(max int) Option {
	return func(n *Normalizer) {
		if max > 0 {
			n.maxNameBytes = max
		}
	}
}

// Normalizer turns validated envelopes into PriceRows.
type Normalizer struct {
	now          func() time.Time
	maxNameBytes int
}

// New creates a Normalizer.
func New(opts ...Option) *Normalizer {
	n := &Normalizer{
		now:          time.Now,
		maxNameBytes: DefaultMaxNameBytes,
	}
	for _, opt := range opts {
		opt(n)
	}
	return n
}

// Normalize converts every item of env into a row. Row order follows item
// order. It never fails.
func (n *Normalizer) Normalize(env *models.Envelope) ([]models.PriceRow, Stats) {
	stats := Stats{Items: len(env.Items), Flagged: make(map[string]int)}
	rows := make([]models.PriceRow, 0, len(env.Items))
	now := n.now().UTC()

	for i := range env.Items {
		row, ok := n.NormalizeItem(env, &env.Items[i])
		if !ok {
			stats.Skipped++
			continue
		}
		row.UpdatedAt = now
		for _, f := range row.Flags {
			stats.Flagged[f]++
		}
		rows = append(rows, row)
	}
	stats.Rows = len(rows)
	return rows, stats
}

// NormalizeItem converts a single item. ok is false when the item has no
// usable product name.
func (n *Normalizer) NormalizeItem(env *models.Envelope, item *models.Item) (models.PriceRow, bool) {
	name := CleanText(item.ProductName)
	if name == "" && env.DocumentType == models.DocumentTypePromotions {
		name = CleanText(item.Description)
	}
	if name == "" {
		return models.PriceRow{}, false
	}

	row := models.PriceRow{
		Provider:        env.Provider,
		Branch:          env.Branch,
		DocumentType:    env.DocumentType,
		SourceTimestamp: env.SourceTimestamp.UTC(),
		PromotionID:     CleanText(item.PromotionID),
	}

	if truncated, cut := textutil.Truncate(name, n.maxNameBytes); cut {
		name = truncated
		row.Flags = append(row.Flags, models.FlagNameTruncated)
	}
	row.ProductName = name

	rawPrice := item.Price.String()
	if CleanText(rawPrice) == "" && env.DocumentType == models.DocumentTypePromotions {
		rawPrice = item.DiscountedPrice.String()
	}
	if price, ok := ParsePrice(rawPrice); ok {
		row.Price = price
	} else {
		row.Flags = append(row.Flags, models.FlagPriceUnparsed)
	}

	unit := ResolveUnit(item.Unit)
	if !unit.Known {
		if CleanText(item.Unit) == "" {
			row.Flags = append(row.Flags, models.FlagUnitMissing)
		} else {
			row.Flags = append(row.Flags, models.FlagUnitUnknown)
		}
	}
	if unit.Multiplier <= 0 {
		unit.Multiplier = 1
	}
	row.Unit = unit.Code
	row.BaseUnit = unit.BaseUnit
	row.Quantity = unit.Quantity
	row.Multiplier = unit.Multiplier
	row.PricePerBaseUnit = row.Price / row.Multiplier

	if barcode := CleanText(item.Barcode.String()); barcode != "" {
		if ValidBarcode(barcode) {
			row.Barcode = barcode
		} else {
			row.Flags = append(row.Flags, models.FlagBarcodeInvalid)
		}
	}

	return row, true
}

// ValidBarcode reports whether s is a 7 to 20 digit barcode.
func ValidBarcode(s string) bool {
	if len(s) < 7 || len(s) > 20 {
		return false
	}
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}
