// Pricepipe - Retail Price Extract Ingestion Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/pricepipe

package extract

import (
	"archive/zip"
	"bytes"
	"compress/gzip"
	"errors"
	"fmt"
	"io"
	"strings"

	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"
)

// DefaultMaxDecompressedBytes bounds the size of one decompressed extract.
const DefaultMaxDecompressedBytes = 512 << 20

// ErrTooLarge is returned when an extract inflates beyond the limit.
var ErrTooLarge = errors.New("decompressed extract exceeds limit")

// Decompress inflates gzip data, or the first XML member of a zip archive,
// and returns UTF-8 text. Plain input is passed through. A UTF-8 byte order
// mark is stripped and UTF-16 input with a byte order mark is transcoded.
func Decompress(data []byte, limit int64) ([]byte, error) {
	if limit <= 0 {
		limit = DefaultMaxDecompressedBytes
	}

	var (
		out []byte
		err error
	)
	switch {
	case len(data) >= 2 && data[0] == 0x1f && data[1] == 0x8b:
		out, err = gunzip(data, limit)
	case len(data) >= 4 && bytes.Equal(data[:4], []byte("PK\x03\x04")):
		out, err = unzip(data, limit)
	default:
		out = data
	}
	if err != nil {
		return nil, err
	}
	return toUTF8(out)
}

func gunzip(data []byte, limit int64) ([]byte, error) {
	zr, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("open gzip: %w", err)
	}
	defer zr.Close()
	return readLimited(zr, limit)
}

func unzip(data []byte, limit int64) ([]byte, error) {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("open zip: %w", err)
	}
	var member *zip.File
	for _, f := range zr.File {
		if f.FileInfo().IsDir() {
			continue
		}
		if strings.HasSuffix(strings.ToLower(f.Name), ".xml") {
			member = f
			break
		}
		if member == nil {
			member = f
		}
	}
	if member == nil {
		return nil, fmt.Errorf("zip archive has no files")
	}
	rc, err := member.Open()
	if err != nil {
		return nil, fmt.Errorf("open zip member %s: %w", member.Name, err)
	}
	defer rc.Close()
	return readLimited(rc, limit)
}

func readLimited(r io.Reader, limit int64) ([]byte, error) {
	out, err := io.ReadAll(io.LimitReader(r, limit+1))
	if err != nil {
		return nil, fmt.Errorf("decompress: %w", err)
	}
	if int64(len(out)) > limit {
		return nil, fmt.Errorf("%w (%d bytes)", ErrTooLarge, limit)
	}
	return out, nil
}

// toUTF8 honours a byte order mark and defaults to UTF-8.
func toUTF8(data []byte) ([]byte, error) {
	out, _, err := transform.Bytes(unicode.BOMOverride(transform.Nop), data)
	if err != nil {
		return nil, fmt.Errorf("decode text: %w", err)
	}
	return out, nil
}
