// Pricepipe - Retail Price Extract Ingestion Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/pricepipe

package failure

import (
	"context"
	"errors"
	"fmt"
	"testing"
)

func TestKind_String(t *testing.T) {
	tests := []struct {
		kind Kind
		want string
	}{
		{KindTransient, "transient"},
		{KindDecode, "decode"},
		{KindValidation, "validation"},
		{KindNormalizationWarning, "normalization_warning"},
		{KindPersistence, "persistence"},
		{Kind(99), "unknown"},
	}
	for _, tt := range tests {
		if got := tt.kind.String(); got != tt.want {
			t.Errorf("Kind(%d).String() = %q, want %q", tt.kind, got, tt.want)
		}
	}
}

func TestClassification(t *testing.T) {
	cause := errors.New("boom")
	tests := []struct {
		name       string
		err        error
		kind       Kind
		deadLetter bool
		transient  bool
	}{
		{"decode", Decode("invalid json", cause), KindDecode, true, false},
		{"validation", Validation("documentType", "unknown value"), KindValidation, true, false},
		{"persistence", Persistence("constraint violation", cause), KindPersistence, true, false},
		{"transient", Transient(StagePersistence, "store unreachable", cause), KindTransient, false, true},
		{"wrapped validation", fmt.Errorf("outer: %w", Validation("items", "not a list")), KindValidation, true, false},
		{"plain error", cause, KindTransient, false, true},
		{"canceled", context.Canceled, KindTransient, false, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := KindOf(tt.err); got != tt.kind {
				t.Errorf("KindOf() = %v, want %v", got, tt.kind)
			}
			if got := ShouldDeadLetter(tt.err); got != tt.deadLetter {
				t.Errorf("ShouldDeadLetter() = %v, want %v", got, tt.deadLetter)
			}
			if got := IsTransient(tt.err); got != tt.transient {
				t.Errorf("IsTransient() = %v, want %v", got, tt.transient)
			}
		})
	}

	if ShouldDeadLetter(nil) || IsTransient(nil) {
		t.Error("nil error must be neither terminal nor transient")
	}
}

func TestError_MessageAndUnwrap(t *testing.T) {
	cause := errors.New("connection reset")
	err := Transient(StageResolve, "fetch items", cause)

	if !errors.Is(err, cause) {
		t.Error("errors.Is should reach the cause")
	}
	if got, want := err.Error(), "resolve: fetch items: connection reset"; got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}

	v := Validation("sourceTimestamp", "unparseable timestamp")
	if got, want := v.Error(), "validation: sourceTimestamp: unparseable timestamp"; got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}
	if StageOf(v, StageReceive) != StageValidation {
		t.Error("StageOf should report the recorded stage")
	}
	if StageOf(cause, StageReceive) != StageReceive {
		t.Error("StageOf should fall back for unclassified errors")
	}
}

func TestValidStage(t *testing.T) {
	for _, s := range []Stage{StageReceive, StageDecode, StageValidation, StageResolve, StageNormalize, StagePersistence, StagePublish} {
		if !ValidStage(s) {
			t.Errorf("ValidStage(%q) = false", s)
		}
	}
	for _, s := range []Stage{"", "Decode", "upsert"} {
		if ValidStage(s) {
			t.Errorf("ValidStage(%q) = true", s)
		}
	}
}
