// Pricepipe - Retail Price Extract Ingestion Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/pricepipe

//go:build integration

package testinfra

import (
	"strings"
	"testing"
)

func TestStartPostgres(t *testing.T) {
	pg := StartPostgres(t)
	if !strings.HasPrefix(pg.DSN, "postgres://pricepipe:") {
		t.Errorf("DSN = %q", pg.DSN)
	}
}
