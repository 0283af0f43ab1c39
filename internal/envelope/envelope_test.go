// Pricepipe - Retail Price Extract Ingestion Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/pricepipe

package envelope

import (
	"strings"
	"testing"
	"time"

	"github.com/goccy/go-json"

	"github.com/tomtom215/pricepipe/internal/failure"
	"github.com/tomtom215/pricepipe/internal/models"
)

const validBody = `{
	"provider": "acme",
	"branch": "001",
	"documentType": "prices",
	"sourceTimestamp": "2024-05-01T06:00:00Z",
	"items": [{"productName": "Milk", "price": "5,90", "unit": "liter"}]
}`

func TestValidate_Valid(t *testing.T) {
	env, err := Validate([]byte(validBody))
	if err != nil {
		t.Fatalf("Validate() error = %v", err)
	}
	if env.Provider != "acme" || env.Branch != "001" {
		t.Errorf("identity = %q/%q", env.Provider, env.Branch)
	}
	if env.DocumentType != models.DocumentTypePrices {
		t.Errorf("DocumentType = %q", env.DocumentType)
	}
	want := time.Date(2024, 5, 1, 6, 0, 0, 0, time.UTC)
	if !env.SourceTimestamp.Equal(want) {
		t.Errorf("SourceTimestamp = %v, want %v", env.SourceTimestamp, want)
	}
	if len(env.Items) != 1 || env.Items[0].Price.String() != "5,90" {
		t.Errorf("Items = %+v", env.Items)
	}
	if env.ItemsTotal != 1 {
		t.Errorf("ItemsTotal = %d, want 1", env.ItemsTotal)
	}
}

func TestValidate_Rejections(t *testing.T) {
	tests := []struct {
		name      string
		body      string
		wantKind  failure.Kind
		wantField string
	}{
		{
			name:     "malformed JSON",
			body:     `{"provider": "acme",`,
			wantKind: failure.KindDecode,
		},
		{
			name:     "empty body",
			body:     "   ",
			wantKind: failure.KindDecode,
		},
		{
			name:      "array body",
			body:      `[1,2,3]`,
			wantKind:  failure.KindValidation,
			wantField: "",
		},
		{
			name:      "unknown document type",
			body:      `{"provider":"acme","branch":"1","documentType":"inventory","sourceTimestamp":"2024-05-01T06:00:00Z","items":[]}`,
			wantKind:  failure.KindValidation,
			wantField: "documentType",
		},
		{
			name:      "missing provider",
			body:      `{"branch":"1","documentType":"prices","sourceTimestamp":"2024-05-01T06:00:00Z","items":[]}`,
			wantKind:  failure.KindValidation,
			wantField: "provider",
		},
		{
			name:      "blank branch",
			body:      `{"provider":"acme","branch":"  ","documentType":"prices","sourceTimestamp":"2024-05-01T06:00:00Z","items":[]}`,
			wantKind:  failure.KindValidation,
			wantField: "branch",
		},
		{
			name:      "malformed timestamp",
			body:      `{"provider":"acme","branch":"1","documentType":"prices","sourceTimestamp":"yesterday","items":[]}`,
			wantKind:  failure.KindValidation,
			wantField: "sourceTimestamp",
		},
		{
			name:      "items not a list",
			body:      `{"provider":"acme","branch":"1","documentType":"prices","sourceTimestamp":"2024-05-01T06:00:00Z","items":{"a":1}}`,
			wantKind:  failure.KindValidation,
			wantField: "items",
		},
		{
			name:      "item price is an object",
			body:      `{"provider":"acme","branch":"1","documentType":"prices","sourceTimestamp":"2024-05-01T06:00:00Z","items":[{"productName":"x","price":{"v":1}}]}`,
			wantKind:  failure.KindValidation,
			wantField: "items/0/price",
		},
		{
			name:      "neither items nor pointer",
			body:      `{"provider":"acme","branch":"1","documentType":"prices","sourceTimestamp":"2024-05-01T06:00:00Z"}`,
			wantKind:  failure.KindValidation,
			wantField: "items",
		},
		{
			name:      "chunk index zero",
			body:      `{"provider":"acme","branch":"1","documentType":"prices","sourceTimestamp":"2024-05-01T06:00:00Z","chunk":{"index":0,"total":1},"items":[]}`,
			wantKind:  failure.KindValidation,
			wantField: "chunk/index",
		},
		{
			name:      "chunk total below index",
			body:      `{"provider":"acme","branch":"1","documentType":"prices","sourceTimestamp":"2024-05-01T06:00:00Z","chunk":{"index":3,"total":2},"items":[]}`,
			wantKind:  failure.KindValidation,
			wantField: "chunk/total",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Validate([]byte(tt.body))
			if err == nil {
				t.Fatal("expected error")
			}
			fe, ok := failure.As(err)
			if !ok {
				t.Fatalf("error %v is not a *failure.Error", err)
			}
			if fe.Kind != tt.wantKind {
				t.Errorf("Kind = %v, want %v", fe.Kind, tt.wantKind)
			}
			if tt.wantKind == failure.KindValidation && fe.Field != tt.wantField {
				t.Errorf("Field = %q, want %q (err: %v)", fe.Field, tt.wantField, err)
			}
			if !failure.ShouldDeadLetter(err) {
				t.Error("rejection should be dead-lettered")
			}
		})
	}
}

func TestValidate_LegacyKeys(t *testing.T) {
	body := `{
		"provider": "acme",
		"branch": 7,
		"type": "PriceFull",
		"timestamp": "202405010600",
		"items_sample": [{"productName": "Bread", "price": 7.5}]
	}`
	env, err := Validate([]byte(body))
	if err != nil {
		t.Fatalf("Validate() error = %v", err)
	}
	if env.Branch != "7" {
		t.Errorf("Branch = %q, want 7", env.Branch)
	}
	if env.DocumentType != models.DocumentTypePrices {
		t.Errorf("DocumentType = %q", env.DocumentType)
	}
	if !env.SourceTimestamp.Equal(time.Date(2024, 5, 1, 6, 0, 0, 0, time.UTC)) {
		t.Errorf("SourceTimestamp = %v", env.SourceTimestamp)
	}
	if len(env.Items) != 1 || env.Items[0].Price.String() != "7.5" {
		t.Errorf("Items = %+v", env.Items)
	}
}

func TestValidate_LegacyPointer(t *testing.T) {
	body := `{"provider":"acme","branch":"1","documentType":"promo","sourceTimestamp":"2024-05-01 06:00:00","s3_bucket":"b","s3_key":"k/1.json","itemsTotal":40}`
	env, err := Validate([]byte(body))
	if err != nil {
		t.Fatalf("Validate() error = %v", err)
	}
	if env.ItemsRef == nil || env.ItemsRef.Bucket != "b" || env.ItemsRef.Key != "k/1.json" {
		t.Fatalf("ItemsRef = %+v", env.ItemsRef)
	}
	if env.Items != nil {
		t.Errorf("Items = %+v, want nil for pointer envelopes", env.Items)
	}
	if env.ItemsTotal != 40 {
		t.Errorf("ItemsTotal = %d", env.ItemsTotal)
	}
	if env.DocumentType != models.DocumentTypePromotions {
		t.Errorf("DocumentType = %q", env.DocumentType)
	}
}

func TestDecode_CanonicalKeyWins(t *testing.T) {
	raw, err := Decode([]byte(`{"documentType":"prices","type":"promo"}`))
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	if !raw.Aliased {
		t.Error("Aliased = false")
	}
	if raw.Has("type") {
		t.Error("legacy key should be removed")
	}
	if !strings.Contains(string(raw.Bytes()), `"documentType":"prices"`) {
		t.Errorf("Bytes() = %s", raw.Bytes())
	}
}

func TestParseTimestamp(t *testing.T) {
	want := time.Date(2024, 5, 1, 6, 30, 0, 0, time.UTC)
	for _, in := range []string{
		"2024-05-01T06:30:00Z",
		"2024-05-01T09:30:00+03:00",
		"2024-05-01 06:30:00",
		"20240501063000",
		"202405010630",
	} {
		got, err := ParseTimestamp(in)
		if err != nil {
			t.Errorf("ParseTimestamp(%q) error = %v", in, err)
			continue
		}
		if !got.Equal(want) {
			t.Errorf("ParseTimestamp(%q) = %v, want %v", in, got, want)
		}
	}
	if _, err := ParseTimestamp("2024-13-45"); err == nil {
		t.Error("expected error for invalid date")
	}
}

func TestEncode_RoundTrip(t *testing.T) {
	env := &models.Envelope{
		Provider:        "acme",
		Branch:          "001",
		DocumentType:    models.DocumentTypePromotions,
		SourceTimestamp: time.Date(2024, 5, 1, 6, 0, 0, 0, time.UTC),
		Chunk:           &models.ChunkInfo{Index: 1, Total: 1},
	}
	body, err := Encode(env)
	if err != nil {
		t.Fatalf("Encode() error = %v", err)
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(body, &fields); err != nil {
		t.Fatal(err)
	}
	if string(fields["items"]) != "[]" {
		t.Errorf("items = %s, want []", fields["items"])
	}
	if env.Items != nil {
		t.Error("Encode must not mutate its argument")
	}

	back, err := Validate(body)
	if err != nil {
		t.Fatalf("Validate(Encode()) error = %v", err)
	}
	if !back.SameDocument(env) || back.Chunk.Total != 1 {
		t.Errorf("round trip = %+v", back)
	}
}
