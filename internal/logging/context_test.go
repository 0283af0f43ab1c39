// Pricepipe - Retail Price Extract Ingestion Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/pricepipe

package logging

import (
	"bytes"
	"context"
	"strings"
	"testing"
)

func TestGenerateCorrelationID(t *testing.T) {
	t.Parallel()
	a, b := GenerateCorrelationID(), GenerateCorrelationID()
	if len(a) != 8 {
		t.Errorf("expected 8 chars, got %q", a)
	}
	if a == b {
		t.Error("expected unique ids")
	}
}

func TestContextIDs(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	if CorrelationIDFromContext(ctx) != "" || MessageIDFromContext(ctx) != "" {
		t.Fatal("expected empty ids on background context")
	}
	ctx = ContextWithCorrelationID(ctx, "abc12345")
	ctx = ContextWithMessageID(ctx, "msg-1")
	if got := CorrelationIDFromContext(ctx); got != "abc12345" {
		t.Errorf("correlation id = %q", got)
	}
	if got := MessageIDFromContext(ctx); got != "msg-1" {
		t.Errorf("message id = %q", got)
	}
	if CorrelationIDFromContext(ContextWithNewCorrelationID(context.Background())) == "" {
		t.Error("expected generated correlation id")
	}
}

func TestCtx(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	ctx := ContextWithLogger(context.Background(), NewTestLogger(&buf))
	ctx = ContextWithCorrelationID(ctx, "corr")
	ctx = ContextWithMessageID(ctx, "m-7")

	Ctx(ctx).Info().Msg("with ids")

	out := buf.String()
	for _, want := range []string{`"correlation_id":"corr"`, `"message_id":"m-7"`, "with ids"} {
		if !strings.Contains(out, want) {
			t.Errorf("expected %s in %s", want, out)
		}
	}
}
