// Pricepipe - Retail Price Extract Ingestion Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/pricepipe

// Package testinfra starts throwaway containers for integration tests.
// Everything here is behind the integration build tag:
//
//	go test -tags integration ./...
//
// Tests skip when no Docker daemon is reachable or PRICEPIPE_SKIP_DOCKER is set.
//
//	func TestUpsert_Postgres(t *testing.T) {
//	    pg := testinfra.StartPostgres(t)
//	    s, err := store.OpenPostgres(ctx, store.PostgresConfig{DSN: pg.DSN})
//	    ...
//	}
package testinfra
