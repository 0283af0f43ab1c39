// Pricepipe - Retail Price Extract Ingestion Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/pricepipe

// Package textutil holds the text helpers shared across the pipeline.
// All truncation goes through this package so that every cut lands on a
// rune boundary and carries the same marker.
package textutil

import (
	"strings"
	"unicode/utf8"
)

// Ellipsis marks text that was shortened.
const Ellipsis = "…"

// Truncate shortens s so that the result, including the trailing Ellipsis,
// fits in maxBytes bytes. The cut never splits a multi-byte character.
// It returns s unchanged (with invalid UTF-8 replaced) and false when s
// already fits. When even the marker does not fit, the result is empty.
func Truncate(s string, maxBytes int) (string, bool) {
	s = strings.ToValidUTF8(s, "\uFFFD")
	if len(s) <= maxBytes {
		return s, false
	}
	budget := maxBytes - len(Ellipsis)
	if budget < 0 {
		return "", true
	}
	cut := 0
	for i, r := range s {
		size := utf8.RuneLen(r)
		if i+size > budget {
			break
		}
		cut = i + size
	}
	return strings.TrimRightFunc(s[:cut], isSpace) + Ellipsis, true
}

// TruncateRunes shortens s to at most n runes including the Ellipsis.
func TruncateRunes(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	if n <= 0 {
		return ""
	}
	runes := []rune(s)
	if n == 1 {
		return Ellipsis
	}
	return string(runes[:n-1]) + Ellipsis
}

func isSpace(r rune) bool {
	return r == ' ' || r == '\t' || r == '\n' || r == '\r' || r == '\u00a0'
}
