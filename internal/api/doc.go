// Pricepipe - Retail Price Extract Ingestion Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/pricepipe

/*
Package api serves pricepipe's ops endpoints over chi:

	GET /healthz                       liveness
	GET /readyz                        store and queue reachability
	GET /metrics                       Prometheus exposition
	GET /api/v1/deadletters            recent dead letters (?stage=&limit=)
	GET /api/v1/deadletters/count      dead-letter total
	GET /api/v1/watermarks/{provider}/{branch}/{docType}

The /api/v1 routes are rate limited per client IP with go-chi/httprate.
Every response except /metrics uses the models.APIResponse envelope.
*/
package api
