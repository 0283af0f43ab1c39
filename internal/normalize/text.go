// Pricepipe - Retail Price Extract Ingestion Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/pricepipe

package normalize

import (
	"strings"
	"unicode"
)

// CleanText trims s, maps every Unicode space (NBSP included) to a plain
// space, drops control and bidi formatting characters, and collapses runs
// of whitespace into one space.
func CleanText(s string) string {
	if s == "" {
		return ""
	}
	cleaned := strings.Map(func(r rune) rune {
		switch {
		case unicode.IsSpace(r):
			return ' '
		case unicode.IsControl(r), unicode.Is(unicode.Cf, r):
			return -1
		default:
			return r
		}
	}, s)
	return strings.Join(strings.Fields(cleaned), " ")
}
