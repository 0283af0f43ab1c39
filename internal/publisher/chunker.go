// Pricepipe - Retail Price Extract Ingestion Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/pricepipe

package publisher

import (
	"errors"
	"fmt"
	"unicode/utf8"

	"github.com/goccy/go-json"

	"github.com/tomtom215/pricepipe/internal/envelope"
	"github.com/tomtom215/pricepipe/internal/models"
	"github.com/tomtom215/pricepipe/internal/textutil"
)

// ErrEnvelopeTooLarge is returned when the envelope metadata alone does
// not fit the byte budget.
var ErrEnvelopeTooLarge = errors.New("envelope metadata exceeds message budget")

// placeholderChunk reserves the widest chunk numbering while packing, so
// that filling in the real numbers can only shrink a chunk.
var placeholderChunk = models.ChunkInfo{Index: 999999, Total: 999999}

// Dropped describes an item that could not fit a message even after
// truncating its text.
type Dropped struct {
	ProductName string
	Size        int
}

// Truncation describes an item whose text was shortened to fit.
type Truncation struct {
	OriginalBytes int
	NewBytes      int
}

// Packing is the result of splitting one document into chunks.
type Packing struct {
	Chunks    []models.Envelope
	Truncated []Truncation
	Dropped   []Dropped
}

// Chunker splits documents into envelopes that each encode to at most
// MaxBytes.
type Chunker struct {
	MaxBytes int
}

// NewChunker returns a chunker with the given budget.
func NewChunker(maxBytes int) *Chunker {
	return &Chunker{MaxBytes: maxBytes}
}

// Chunks packs doc greedily. Items keep their order and every item ends up
// in exactly one chunk, unless it is reported in Packing.Dropped. An empty
// document yields a single envelope with no items.
func (c *Chunker) Chunks(doc *models.SourceDocument) (*Packing, error) {
	header := models.Envelope{
		Provider:        doc.Provider,
		Branch:          doc.Branch,
		DocumentType:    doc.DocumentType,
		SourceTimestamp: doc.SourceTimestamp.UTC(),
		ItemsTotal:      len(doc.Items),
		Chunk:           &placeholderChunk,
		Items:           []models.Item{},
	}
	base, err := encodedSize(&header)
	if err != nil {
		return nil, err
	}
	if base > c.MaxBytes {
		return nil, fmt.Errorf("%w: %d > %d bytes", ErrEnvelopeTooLarge, base, c.MaxBytes)
	}

	packing := &Packing{}
	var (
		groups  [][]models.Item
		current []models.Item
		size    = base
	)

	for i := range doc.Items {
		item := doc.Items[i]
		itemSize, err := encodedSize(&item)
		if err != nil {
			return nil, fmt.Errorf("encode item %d: %w", i, err)
		}

		if base+itemSize > c.MaxBytes {
			fitted, fittedSize, ok := c.fit(item, itemSize, c.MaxBytes-base)
			if !ok {
				packing.Dropped = append(packing.Dropped, Dropped{ProductName: item.ProductName, Size: itemSize})
				continue
			}
			packing.Truncated = append(packing.Truncated, Truncation{OriginalBytes: itemSize, NewBytes: fittedSize})
			item, itemSize = fitted, fittedSize
		}

		added := itemSize
		if len(current) > 0 {
			added++ // separator
		}
		if size+added > c.MaxBytes {
			groups = append(groups, current)
			current, size, added = nil, base, itemSize
		}
		current = append(current, item)
		size += added
	}
	if len(current) > 0 || len(groups) == 0 {
		groups = append(groups, current)
	}

	emitted := len(doc.Items) - len(packing.Dropped)
	packing.Chunks = make([]models.Envelope, len(groups))
	for i, items := range groups {
		if items == nil {
			items = []models.Item{}
		}
		env := header
		env.ItemsTotal = emitted
		env.Chunk = &models.ChunkInfo{Index: i + 1, Total: len(groups)}
		env.Items = items
		packing.Chunks[i] = env
	}
	return packing, nil
}

// minNameRunes is the shortest product name prefix kept in front of the
// ellipsis. A name is never cut below it.
const minNameRunes = 1

// fit shortens the item's text until it encodes to at most budget bytes.
// The description goes first and may be emptied; the product name is cut
// last and keeps at least minNameRunes runes plus the ellipsis. When that
// is still too large the item cannot fit.
func (c *Chunker) fit(item models.Item, size, budget int) (models.Item, int, bool) {
	var err error
	for size > budget && item.Description != "" {
		shortened, _ := textutil.Truncate(item.Description, len(item.Description)-(size-budget))
		if len(shortened) >= len(item.Description) {
			shortened = ""
		}
		item.Description = shortened
		if size, err = encodedSize(&item); err != nil {
			return item, size, false
		}
	}

	floor := nameFloor(item.ProductName)
	for size > budget {
		target := max(len(item.ProductName)-(size-budget), floor)
		shortened, _ := textutil.Truncate(item.ProductName, target)
		if len(shortened) >= len(item.ProductName) {
			return item, size, false
		}
		item.ProductName = shortened
		if size, err = encodedSize(&item); err != nil {
			return item, size, false
		}
	}
	return item, size, true
}

// nameFloor is the byte length of the shortest truncated form of name.
func nameFloor(name string) int {
	n, runes := 0, 0
	for _, r := range name {
		if runes == minNameRunes {
			break
		}
		n += utf8.RuneLen(r)
		runes++
	}
	return n + len(textutil.Ellipsis)
}

func encodedSize(v any) (int, error) {
	switch t := v.(type) {
	case *models.Envelope:
		b, err := envelope.Encode(t)
		return len(b), err
	default:
		b, err := json.Marshal(v)
		return len(b), err
	}
}
