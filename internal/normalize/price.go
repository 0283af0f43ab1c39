// Pricepipe - Retail Price Extract Ingestion Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/pricepipe

package normalize

import (
	"math"
	"strconv"
	"strings"
)

// currencyTokens are stripped before a price is parsed. Longer tokens come
// first so that "ש"ח" is removed before "ח" could ever match on its own.
var currencyTokens = []string{
	`ש"ח`, "ש״ח", "שח", "₪", "nis", "ils", "$", "€", "usd", "eur",
}

// ParsePrice parses a provider price. It tolerates a comma as decimal
// separator ("5,90"), thousands separators in either convention
// ("1.234,56", "1,234.56"), currency symbols and surrounding spaces.
// Negative, NaN and infinite values are rejected.
func ParsePrice(raw string) (float64, bool) {
	s := strings.ToLower(CleanText(raw))
	for _, tok := range currencyTokens {
		s = strings.ReplaceAll(s, tok, "")
	}
	s = strings.ReplaceAll(s, " ", "")
	if s == "" {
		return 0, false
	}

	s = normalizeSeparators(s)
	v, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) || v < 0 {
		return 0, false
	}
	return v, true
}

// normalizeSeparators rewrites s so that '.' is the only decimal separator.
func normalizeSeparators(s string) string {
	lastComma := strings.LastIndexByte(s, ',')
	lastDot := strings.LastIndexByte(s, '.')

	switch {
	case lastComma >= 0 && lastDot >= 0:
		if lastComma > lastDot {
			// 1.234,56
			s = strings.ReplaceAll(s, ".", "")
			return strings.Replace(s, ",", ".", 1)
		}
		// 1,234.56
		return strings.ReplaceAll(s, ",", "")
	case lastComma >= 0:
		if strings.Count(s, ",") > 1 {
			return strings.ReplaceAll(s, ",", "")
		}
		return strings.Replace(s, ",", ".", 1)
	case strings.Count(s, ".") > 1:
		return strings.ReplaceAll(s, ".", "")
	default:
		return s
	}
}
