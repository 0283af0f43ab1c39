// Pricepipe - Retail Price Extract Ingestion Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/pricepipe

// Package extract turns raw extract files into source documents: object
// key parsing, decompression, alias-based XML item parsing, fingerprinting
// and an inbox watcher that feeds new files to the ingestor.
package extract

import (
	"errors"
	"fmt"
	"path"
	"regexp"
	"strings"
	"time"

	"github.com/tomtom215/pricepipe/internal/envelope"
	"github.com/tomtom215/pricepipe/internal/models"
)

// ErrUnrecognizedKey is returned when a file name matches no known layout.
var ErrUnrecognizedKey = errors.New("unrecognized extract key")

// KeyInfo is the identity encoded in an extract's object key.
type KeyInfo struct {
	Provider        string
	Branch          string
	DocumentType    models.DocumentType
	SourceTimestamp time.Time
}

var (
	// providers/<provider>/<branch>/pricesFull_2024050106.gz
	mirrorKey = regexp.MustCompile(`(?i)(?:^|/)providers/([^/]+)/([^/]+)/(pricesfull|promofull)_(\d{10}|\d{12}|\d{14})(?:\.[a-z0-9]+)+$`)
	// PriceFull7290027600007-001-202405010600.gz
	portalKey = regexp.MustCompile(`(?i)(pricefull|promofull|prices|promos|price|promo)(\d+)-(\d+)-(\d{10}|\d{12}|\d{14})(?:-\d+)?(?:\.[a-z0-9]+)*$`)
)

// ParseKey derives provider, branch, document type and timestamp from an
// object key or file path. Timestamps are read as UTC. For portal file
// names the provider is the first directory of the key when there is one,
// otherwise the chain id in the name.
func ParseKey(key string) (KeyInfo, error) {
	key = strings.ReplaceAll(key, "\\", "/")

	if m := mirrorKey.FindStringSubmatch(key); m != nil {
		return keyInfo(m[1], m[2], m[3], m[4], key)
	}

	base := path.Base(key)
	if m := portalKey.FindStringSubmatch(base); m != nil {
		provider := m[2]
		if dir := strings.Trim(path.Dir(key), "/"); dir != "" && dir != "." {
			provider = strings.SplitN(dir, "/", 2)[0]
		}
		return keyInfo(provider, m[3], m[1], m[4], key)
	}

	return KeyInfo{}, fmt.Errorf("%w: %s", ErrUnrecognizedKey, key)
}

func keyInfo(provider, branch, docType, ts, key string) (KeyInfo, error) {
	dt, err := models.ParseDocumentType(docType)
	if err != nil {
		return KeyInfo{}, fmt.Errorf("%w: %s: %v", ErrUnrecognizedKey, key, err)
	}
	t, err := envelope.ParseTimestamp(ts)
	if err != nil {
		return KeyInfo{}, fmt.Errorf("%w: %s: %v", ErrUnrecognizedKey, key, err)
	}
	return KeyInfo{
		Provider:        provider,
		Branch:          branch,
		DocumentType:    dt,
		SourceTimestamp: t,
	}, nil
}
