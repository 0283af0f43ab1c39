// Pricepipe - Retail Price Extract Ingestion Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/pricepipe

/*
Package models defines the data structures shared across the ingestion
pipeline.

Model Categories:

1. Extract Models:
  - SourceDocument: one parsed provider extract (prices or promotions)
  - Item: a loosely typed field map for a single extract entry
  - LooseString: accepts JSON strings, numbers and booleans as text

2. Queue Models:
  - Envelope: one chunk of a document as published to the queue
  - ObjectRef: pointer to an oversized payload in the object store
  - ChunkInfo: 1-based chunk index and total

3. Persistence Models:
  - PriceRow: one validated, normalized row keyed by its natural key
  - WatermarkRecord: last processed fingerprint per provider, branch and type
  - DeadLetterRecord: a message that could not be persisted, with its cause

4. API Models:
  - APIResponse, Metadata, APIError: the ops API response wrapper
  - DeadLetterView, HealthStatus: read views served by the ops API

Watermark keys have the form provider#branch#documentType and are built only
through WatermarkKey.
*/
package models
