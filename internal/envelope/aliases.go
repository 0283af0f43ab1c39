// Pricepipe - Retail Price Extract Ingestion Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/pricepipe

package envelope

import (
	"github.com/goccy/go-json"
)

// alias maps a legacy top-level key onto its canonical name. Aliases are
// only applied when the canonical key is absent.
type alias struct {
	legacy    string
	canonical string
}

// legacyAliases is applied in order.
var legacyAliases = []alias{
	{legacy: "type", canonical: "documentType"},
	{legacy: "docType", canonical: "documentType"},
	{legacy: "document_type", canonical: "documentType"},
	{legacy: "timestamp", canonical: "sourceTimestamp"},
	{legacy: "source_timestamp", canonical: "sourceTimestamp"},
	{legacy: "items_sample", canonical: "items"},
	{legacy: "items_total", canonical: "itemsTotal"},
	{legacy: "items_ref", canonical: "itemsRef"},
}

// applyAliases rewrites legacy keys in place and reports whether anything
// changed.
func applyAliases(fields map[string]json.RawMessage) (bool, error) {
	changed := false
	for _, a := range legacyAliases {
		v, ok := fields[a.legacy]
		if !ok {
			continue
		}
		if _, exists := fields[a.canonical]; !exists {
			fields[a.canonical] = v
		}
		delete(fields, a.legacy)
		changed = true
	}

	bucket, hasBucket := fields["s3_bucket"]
	key, hasKey := fields["s3_key"]
	if hasBucket || hasKey {
		delete(fields, "s3_bucket")
		delete(fields, "s3_key")
		changed = true
		if _, exists := fields["itemsRef"]; !exists && hasKey {
			ref := map[string]json.RawMessage{"key": key}
			if hasBucket {
				ref["bucket"] = bucket
			}
			raw, err := json.Marshal(ref)
			if err != nil {
				return changed, err
			}
			fields["itemsRef"] = raw
		}
	}
	return changed, nil
}
