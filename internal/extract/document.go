// Pricepipe - Retail Price Extract Ingestion Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/pricepipe

package extract

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"

	"github.com/tomtom215/pricepipe/internal/models"
)

// Fingerprint returns the hex SHA-256 of the raw (still compressed) bytes.
func Fingerprint(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// Loader reads extract files into source documents.
type Loader struct {
	// MaxDecompressedBytes bounds one inflated extract. Zero means
	// DefaultMaxDecompressedBytes.
	MaxDecompressedBytes int64
	// Root, when set, is stripped from paths before key parsing so that
	// <root>/providers/... and <root>/<provider>/PriceFull... resolve.
	Root string
}

// LoadFile reads a file with default limits.
func LoadFile(path string) (*models.SourceDocument, error) {
	return (&Loader{}).Load(path)
}

// Load reads, decompresses and parses one extract file.
func (l *Loader) Load(path string) (*models.SourceDocument, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read extract: %w", err)
	}
	return l.Parse(l.keyFor(path), data)
}

// Parse builds a document from an object key and its raw bytes.
func (l *Loader) Parse(key string, data []byte) (*models.SourceDocument, error) {
	info, err := ParseKey(key)
	if err != nil {
		return nil, err
	}

	text, err := Decompress(data, l.MaxDecompressedBytes)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", key, err)
	}
	items, err := ParseItems(text, info.DocumentType)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", key, err)
	}

	return &models.SourceDocument{
		Provider:          info.Provider,
		Branch:            info.Branch,
		DocumentType:      info.DocumentType,
		SourceTimestamp:   info.SourceTimestamp,
		SourceFingerprint: Fingerprint(data),
		Items:             items,
	}, nil
}

func (l *Loader) keyFor(path string) string {
	if l.Root != "" {
		if rel, err := filepath.Rel(l.Root, path); err == nil {
			return filepath.ToSlash(rel)
		}
	}
	return filepath.ToSlash(path)
}
