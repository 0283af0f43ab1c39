// Pricepipe - Retail Price Extract Ingestion Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/pricepipe

package extract

import (
	"bytes"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"strings"

	"golang.org/x/text/encoding/htmlindex"

	"github.com/tomtom215/pricepipe/internal/models"
)

type field int

const (
	fieldName field = iota
	fieldPrice
	fieldUnit
	fieldBarcode
	fieldPromotionID
	fieldDescription
	fieldDiscountedPrice
	fieldMinQty
	fieldCount
)

// aliases lists, per field, the element names that may carry it in order
// of preference. Element names are matched case-insensitively.
var aliases = [fieldCount][]string{
	fieldName:            {"ItemName", "ItemNm", "ManufacturerItemDescription", "ProductName", "Name", "ItemDesc", "Description"},
	fieldPrice:           {"ItemPrice", "Price", "UnitPrice", "CurrentPrice", "DiscountedPrice"},
	fieldUnit:            {"UnitOfMeasure", "UnitQty", "Unit", "UnitOfMeasurePrice", "Quantity", "QuantityInPackage"},
	fieldBarcode:         {"ItemCode", "Barcode", "ItemBarcode", "Code", "ItemId", "ProductId"},
	fieldPromotionID:     {"PromotionId", "PromotionID", "PromoId"},
	fieldDescription:     {"PromotionDescription", "Description", "PromoDescription"},
	fieldDiscountedPrice: {"DiscountedPrice", "DiscountPrice", "PromoPrice"},
	fieldMinQty:          {"MinQty", "MinQuantity", "MinPurchaseQty"},
}

type aliasRank struct {
	field field
	rank  int
}

var aliasIndex = buildAliasIndex()

func buildAliasIndex() map[string][]aliasRank {
	idx := make(map[string][]aliasRank)
	for f, names := range aliases {
		for rank, name := range names {
			key := strings.ToLower(name)
			idx[key] = append(idx[key], aliasRank{field: field(f), rank: rank})
		}
	}
	return idx
}

// recordElements are the elements that delimit one item per document type.
var recordElements = map[models.DocumentType]map[string]bool{
	models.DocumentTypePrices:     {"item": true, "product": true},
	models.DocumentTypePromotions: {"promotion": true, "sale": true},
}

// record accumulates the best-ranked value seen for each field.
type record struct {
	values [fieldCount]string
	ranks  [fieldCount]int
}

func newRecord() *record {
	r := &record{}
	for i := range r.ranks {
		r.ranks[i] = -1
	}
	return r
}

func (r *record) set(element, value string) {
	value = strings.TrimSpace(value)
	if value == "" {
		return
	}
	for _, a := range aliasIndex[strings.ToLower(element)] {
		if r.ranks[a.field] == -1 || a.rank < r.ranks[a.field] {
			r.values[a.field] = value
			r.ranks[a.field] = a.rank
		}
	}
}

func (r *record) item() models.Item {
	return models.Item{
		ProductName:     r.values[fieldName],
		Price:           models.LooseString(r.values[fieldPrice]),
		Unit:            r.values[fieldUnit],
		Barcode:         models.LooseString(r.values[fieldBarcode]),
		PromotionID:     r.values[fieldPromotionID],
		Description:     r.values[fieldDescription],
		DiscountedPrice: models.LooseString(r.values[fieldDiscountedPrice]),
		MinQty:          models.LooseString(r.values[fieldMinQty]),
	}
}

func (r *record) empty() bool {
	for _, v := range r.values {
		if v != "" {
			return false
		}
	}
	return true
}

// ParseItems walks the XML token stream and returns one item per record
// element. Elements nested inside a record (for example the item list of a
// promotion) contribute fields to the enclosing record; the best-ranked
// alias wins. Records without any known field are skipped.
func ParseItems(data []byte, docType models.DocumentType) ([]models.Item, error) {
	records, ok := recordElements[docType]
	if !ok {
		return nil, fmt.Errorf("%w: %q", models.ErrUnknownDocumentType, docType)
	}

	dec := xml.NewDecoder(bytes.NewReader(data))
	dec.Strict = false
	dec.CharsetReader = charsetReader

	var (
		items   = []models.Item{}
		current *record
		depth   int // record nesting depth, 0 when outside a record
		text    strings.Builder
		leaf    bool
	)

	for {
		tok, err := dec.Token()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("parse xml: %w", err)
		}

		switch t := tok.(type) {
		case xml.StartElement:
			name := strings.ToLower(t.Name.Local)
			if current == nil && records[name] {
				current = newRecord()
				depth = 1
			} else if current != nil {
				depth++
			}
			text.Reset()
			leaf = true
		case xml.CharData:
			if current != nil && leaf {
				text.Write(t)
			}
		case xml.EndElement:
			if current == nil {
				continue
			}
			if leaf {
				current.set(t.Name.Local, text.String())
			}
			leaf = false
			text.Reset()
			depth--
			if depth == 0 {
				if !current.empty() {
					items = append(items, current.item())
				}
				current = nil
			}
		}
	}
	return items, nil
}

// charsetReader decodes legacy encodings named in the XML declaration.
// Input already transcoded to UTF-8 is passed through.
func charsetReader(label string, input io.Reader) (io.Reader, error) {
	switch strings.ToLower(strings.TrimSpace(label)) {
	case "utf-8", "utf8", "utf-16", "utf-16le", "utf-16be", "unicode":
		return input, nil
	}
	enc, err := htmlindex.Get(label)
	if err != nil {
		return nil, fmt.Errorf("unsupported charset %q: %w", label, err)
	}
	return enc.NewDecoder().Reader(input), nil
}
