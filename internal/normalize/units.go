// Pricepipe - Retail Price Extract Ingestion Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/pricepipe

package normalize

import (
	"regexp"
	"strconv"
	"strings"
)

// Canonical unit codes.
const (
	UnitKilogram   = "kg"
	UnitGram       = "g"
	UnitLiter      = "l"
	UnitMilliliter = "ml"
	UnitMeter      = "m"
	UnitEach       = "unit"
)

// Unit is a resolved unit of measure. Multiplier converts one priced
// quantity into base units: "kg" is 1000 g, "100 גרם" is 100 g.
type Unit struct {
	Code       string
	BaseUnit   string
	Multiplier float64
	Quantity   float64
	Known      bool
}

type unitDef struct {
	code string
	base string
	mult float64
}

var (
	defKilogram   = unitDef{UnitKilogram, UnitGram, 1000}
	defGram       = unitDef{UnitGram, UnitGram, 1}
	defLiter      = unitDef{UnitLiter, UnitMilliliter, 1000}
	defMilliliter = unitDef{UnitMilliliter, UnitMilliliter, 1}
	defMeter      = unitDef{UnitMeter, UnitMeter, 1}
	defEach       = unitDef{UnitEach, UnitEach, 1}
)

// unitSynonyms maps normalized spellings to unit definitions. Keys are
// lower-cased, with Hebrew gershayim/geresh folded to ASCII quotes and
// trailing periods removed (see unitKey).
var unitSynonyms = map[string]unitDef{
	// kilogram
	"kg": defKilogram, "kgs": defKilogram, "kilo": defKilogram, "kilos": defKilogram,
	"kilogram": defKilogram, "kilograms": defKilogram, "kilogramme": defKilogram,
	`ק"ג`: defKilogram, "ק'ג": defKilogram, "קג": defKilogram, "קילו": defKilogram,
	"קילוגרם": defKilogram, "קילוגרמים": defKilogram,

	// gram
	"g": defGram, "gr": defGram, "grs": defGram, "gram": defGram, "grams": defGram, "gramme": defGram,
	"גרם": defGram, "גר": defGram, "ג": defGram, "ג'": defGram, "גרמים": defGram,

	// liter
	"l": defLiter, "lt": defLiter, "ltr": defLiter, "liter": defLiter, "liters": defLiter,
	"litre": defLiter, "litres": defLiter,
	"ליטר": defLiter, "ליטרים": defLiter, "ל": defLiter, "ל'": defLiter, "לי": defLiter,

	// milliliter
	"ml": defMilliliter, "milliliter": defMilliliter, "milliliters": defMilliliter,
	"millilitre": defMilliliter, "cc": defMilliliter,
	`מ"ל`: defMilliliter, "מ'ל": defMilliliter, "מל": defMilliliter, "מיליליטר": defMilliliter,
	`סמ"ק`: defMilliliter,

	// meter
	"m": defMeter, "meter": defMeter, "meters": defMeter, "metre": defMeter, "metres": defMeter,
	"מטר": defMeter, "מטרים": defMeter, "מ'": defMeter,

	// count
	"unit": defEach, "units": defEach, "pc": defEach, "pcs": defEach, "piece": defEach,
	"pieces": defEach, "each": defEach, "ea": defEach, "pack": defEach, "pkg": defEach,
	"יח": defEach, "יח'": defEach, `י"ח`: defEach, "יחידה": defEach, "יחידות": defEach,
	"מארז": defEach, "אריזה": defEach,
}

var (
	leadingQuantity  = regexp.MustCompile(`^(\d+(?:[.,]\d+)?)\s*(.+)$`)
	trailingQuantity = regexp.MustCompile(`^(.+?)\s*(\d+(?:[.,]\d+)?)$`)
)

// unitKey normalizes a raw unit spelling for table lookup.
func unitKey(raw string) string {
	s := strings.ToLower(CleanText(raw))
	s = strings.NewReplacer("״", `"`, "׳", "'", "''", `"`, "`", "'", "’", "'").Replace(s)
	return strings.TrimRight(s, ". ")
}

// ResolveUnit maps a raw unit string to a canonical unit. It never fails:
// unknown or empty input resolves to the generic count unit with
// multiplier 1 and Known=false.
func ResolveUnit(raw string) Unit {
	key := unitKey(raw)
	if key == "" {
		return Unit{Code: UnitEach, BaseUnit: UnitEach, Multiplier: 1, Quantity: 1}
	}
	if def, ok := unitSynonyms[key]; ok {
		return newUnit(def, 1)
	}

	for _, re := range []*regexp.Regexp{leadingQuantity, trailingQuantity} {
		m := re.FindStringSubmatch(key)
		if m == nil {
			continue
		}
		qtyText, unitText := m[1], m[2]
		if re == trailingQuantity {
			qtyText, unitText = m[2], m[1]
		}
		def, ok := unitSynonyms[strings.TrimSpace(unitText)]
		if !ok {
			continue
		}
		qty, err := strconv.ParseFloat(strings.Replace(qtyText, ",", ".", 1), 64)
		if err != nil || qty <= 0 {
			continue
		}
		return newUnit(def, qty)
	}

	return Unit{Code: UnitEach, BaseUnit: UnitEach, Multiplier: 1, Quantity: 1}
}

func newUnit(def unitDef, qty float64) Unit {
	return Unit{
		Code:       def.code,
		BaseUnit:   def.base,
		Multiplier: def.mult * qty,
		Quantity:   qty,
		Known:      true,
	}
}
