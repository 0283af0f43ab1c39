// Pricepipe - Retail Price Extract Ingestion Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/pricepipe

package models

import (
	"bytes"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/goccy/go-json"
)

// DocumentType identifies the kind of extract a source document carries.
type DocumentType string

const (
	// DocumentTypePrices is a full price extract for one branch.
	DocumentTypePrices DocumentType = "prices"
	// DocumentTypePromotions is a full promotion extract for one branch.
	DocumentTypePromotions DocumentType = "promotions"
)

// ErrUnknownDocumentType is returned when a document type cannot be resolved.
var ErrUnknownDocumentType = errors.New("unknown document type")

// DocumentTypes lists every supported document type.
func DocumentTypes() []DocumentType {
	return []DocumentType{DocumentTypePrices, DocumentTypePromotions}
}

// Valid reports whether d is one of the canonical document types.
func (d DocumentType) Valid() bool {
	return d == DocumentTypePrices || d == DocumentTypePromotions
}

// String implements fmt.Stringer.
func (d DocumentType) String() string {
	return string(d)
}

// ParseDocumentType resolves canonical names and the spellings used by
// retail portals in object keys ("pricesFull", "PriceFull", "promoFull", ...).
// Matching is case-insensitive.
func ParseDocumentType(s string) (DocumentType, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "prices", "price", "pricesfull", "pricefull", "prices_full", "price_full":
		return DocumentTypePrices, nil
	case "promotions", "promotion", "promo", "promos", "promofull", "promosfull", "promo_full":
		return DocumentTypePromotions, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownDocumentType, s)
	}
}

// LooseString holds a scalar that providers emit either as a JSON string or
// as a bare number ("5,90" and 5.9 both occur for prices). Objects and arrays
// are rejected.
type LooseString string

// UnmarshalJSON implements json.Unmarshaler.
func (s *LooseString) UnmarshalJSON(data []byte) error {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		*s = ""
		return nil
	}
	switch trimmed[0] {
	case '"':
		var v string
		if err := json.Unmarshal(trimmed, &v); err != nil {
			return err
		}
		*s = LooseString(v)
		return nil
	case '{', '[':
		return fmt.Errorf("expected scalar, got %s", string(trimmed[:1]))
	default:
		*s = LooseString(trimmed)
		return nil
	}
}

// MarshalJSON always emits a JSON string.
func (s LooseString) MarshalJSON() ([]byte, error) {
	return json.Marshal(string(s))
}

// String returns the raw text.
func (s LooseString) String() string {
	return string(s)
}

// Item is one product observation inside a document. Items are value
// objects and carry no identity beyond their content.
type Item struct {
	ProductName string      `json:"productName"`
	Price       LooseString `json:"price"`
	Unit        string      `json:"unit,omitempty"`
	Barcode     LooseString `json:"barcode,omitempty"`

	// Promotion extras, empty for price documents.
	PromotionID     string      `json:"promotionId,omitempty"`
	Description     string      `json:"description,omitempty"`
	DiscountedPrice LooseString `json:"discountedPrice,omitempty"`
	MinQty          LooseString `json:"minQty,omitempty"`
}

// SourceDocument is one decompressed extract. It only exists for the
// duration of a single publish cycle.
type SourceDocument struct {
	Provider          string
	Branch            string
	DocumentType      DocumentType
	SourceTimestamp   time.Time
	SourceFingerprint string
	Items             []Item
}

// WatermarkKey returns the watermark key for the document.
func (d *SourceDocument) WatermarkKey() string {
	return WatermarkKey(d.Provider, d.Branch, d.DocumentType)
}

// ObjectRef points at an item batch stored in the object store.
type ObjectRef struct {
	Bucket string `json:"bucket,omitempty"`
	Key    string `json:"key" validate:"notblank"`
}

// ChunkInfo numbers a chunk within its document. Index is 1-based.
type ChunkInfo struct {
	Index int `json:"index" validate:"gte=1"`
	Total int `json:"total" validate:"omitempty,gtefield=Index"`
}

// Envelope is the message-level wrapper sent through the queue. Every chunk
// derived from one SourceDocument carries identical identity fields.
type Envelope struct {
	Provider        string       `json:"provider"`
	Branch          string       `json:"branch"`
	DocumentType    DocumentType `json:"documentType"`
	SourceTimestamp time.Time    `json:"sourceTimestamp"`
	ItemsTotal      int          `json:"itemsTotal"`
	Chunk           *ChunkInfo   `json:"chunk,omitempty"`
	ItemsRef        *ObjectRef   `json:"itemsRef,omitempty"`
	Items           []Item       `json:"items"`
}

// WatermarkKey returns the watermark key for the envelope's document.
func (e *Envelope) WatermarkKey() string {
	return WatermarkKey(e.Provider, e.Branch, e.DocumentType)
}

// SameDocument reports whether two envelopes describe the same source document.
func (e *Envelope) SameDocument(other *Envelope) bool {
	return e.Provider == other.Provider &&
		e.Branch == other.Branch &&
		e.DocumentType == other.DocumentType &&
		e.SourceTimestamp.Equal(other.SourceTimestamp)
}
