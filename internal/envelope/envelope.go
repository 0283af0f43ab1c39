// Pricepipe - Retail Price Extract Ingestion Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/pricepipe

// Package envelope decodes, validates and encodes queue message bodies.
//
// Validation runs in three passes. The body is checked against an embedded
// JSON Schema first, so structural problems are reported with the location
// of the offending value. The decoded struct is then checked with the shared
// struct validator (document type aliases, blank identity fields). Finally
// the source timestamp is parsed. Every rejection is a *failure.Error of
// kind decode or validation carrying the failing field.
package envelope

import (
	"bytes"
	_ "embed"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/tomtom215/pricepipe/internal/failure"
	"github.com/tomtom215/pricepipe/internal/models"
	"github.com/tomtom215/pricepipe/internal/validation"
)

//go:embed schema.json
var schemaJSON []byte

const schemaURL = "https://github.com/tomtom215/pricepipe/envelope.schema.json"

var (
	compiled     *jsonschema.Schema
	compileErr   error
	compileOnce  sync.Once
	timestampFmt = []string{
		time.RFC3339Nano,
		time.RFC3339,
		"2006-01-02T15:04:05",
		"2006-01-02 15:04:05",
		"20060102150405",
		"200601021504",
		"2006010215",
	}
)

func schema() (*jsonschema.Schema, error) {
	compileOnce.Do(func() {
		doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(schemaJSON))
		if err != nil {
			compileErr = fmt.Errorf("parse envelope schema: %w", err)
			return
		}
		c := jsonschema.NewCompiler()
		if err := c.AddResource(schemaURL, doc); err != nil {
			compileErr = fmt.Errorf("add envelope schema: %w", err)
			return
		}
		compiled, compileErr = c.Compile(schemaURL)
	})
	return compiled, compileErr
}

// RawEnvelope is a decoded message body with legacy keys already mapped to
// their canonical names.
type RawEnvelope struct {
	fields  map[string]json.RawMessage
	body    []byte
	Aliased bool
}

// Has reports whether the canonical key is present.
func (r *RawEnvelope) Has(key string) bool {
	_, ok := r.fields[key]
	return ok
}

// Bytes returns the canonical JSON form of the envelope.
func (r *RawEnvelope) Bytes() []byte {
	return r.body
}

// Decode parses raw as a JSON object. Bodies that are not JSON at all yield
// a decode failure; JSON that is not an object yields a validation failure.
func Decode(raw []byte) (*RawEnvelope, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return nil, failure.Decode("empty message body", nil)
	}
	if !json.Valid(trimmed) {
		return nil, failure.Decode("message body is not valid JSON", nil)
	}
	if trimmed[0] != '{' {
		return nil, failure.Validation("", "envelope must be a JSON object")
	}

	fields := make(map[string]json.RawMessage)
	if err := json.Unmarshal(trimmed, &fields); err != nil {
		return nil, failure.Decode("message body is not a JSON object", err)
	}

	aliased, err := applyAliases(fields)
	if err != nil {
		return nil, failure.Decode("rewrite legacy keys", err)
	}

	body := trimmed
	if aliased {
		if body, err = json.Marshal(fields); err != nil {
			return nil, failure.Decode("re-encode envelope", err)
		}
	}
	return &RawEnvelope{fields: fields, body: body, Aliased: aliased}, nil
}

// wireEnvelope mirrors the message body before identity fields are resolved.
type wireEnvelope struct {
	Provider        models.LooseString `json:"provider" validate:"notblank"`
	Branch          models.LooseString `json:"branch" validate:"notblank"`
	DocumentType    string             `json:"documentType" validate:"required,doctype"`
	SourceTimestamp string             `json:"sourceTimestamp" validate:"notblank"`
	ItemsTotal      *int               `json:"itemsTotal,omitempty" validate:"omitempty,gte=0"`
	Chunk           *models.ChunkInfo  `json:"chunk,omitempty" validate:"omitempty"`
	ItemsRef        *models.ObjectRef  `json:"itemsRef,omitempty" validate:"omitempty"`
	Items           []models.Item      `json:"items"`
}

// Validate decodes and validates a message body.
func Validate(raw []byte) (*models.Envelope, error) {
	decoded, err := Decode(raw)
	if err != nil {
		return nil, err
	}
	return ValidateDecoded(decoded)
}

// ValidateDecoded validates an envelope returned by Decode.
func ValidateDecoded(decoded *RawEnvelope) (*models.Envelope, error) {
	sch, err := schema()
	if err != nil {
		return nil, failure.Transient(failure.StageValidation, "envelope schema unavailable", err)
	}

	inst, err := jsonschema.UnmarshalJSON(bytes.NewReader(decoded.body))
	if err != nil {
		return nil, failure.Decode("message body is not valid JSON", err)
	}
	if err := sch.Validate(inst); err != nil {
		return nil, schemaFailure(err)
	}

	var w wireEnvelope
	if err := json.Unmarshal(decoded.body, &w); err != nil {
		return nil, failure.ValidationAt(failure.StageValidation, "", "envelope does not match the expected shape", err)
	}

	if verr := validation.ValidateStruct(&w); verr != nil {
		first := verr.First()
		return nil, failure.Validation(fieldPointer(first.Field()), first.Error())
	}

	docType, err := models.ParseDocumentType(w.DocumentType)
	if err != nil {
		return nil, failure.Validation("documentType", err.Error())
	}

	ts, err := ParseTimestamp(w.SourceTimestamp)
	if err != nil {
		return nil, failure.Validation("sourceTimestamp", err.Error())
	}

	env := &models.Envelope{
		Provider:        strings.TrimSpace(w.Provider.String()),
		Branch:          strings.TrimSpace(w.Branch.String()),
		DocumentType:    docType,
		SourceTimestamp: ts,
		Chunk:           w.Chunk,
		ItemsRef:        w.ItemsRef,
		Items:           w.Items,
	}
	if env.Items == nil && env.ItemsRef == nil {
		env.Items = []models.Item{}
	}
	env.ItemsTotal = len(env.Items)
	if w.ItemsTotal != nil {
		env.ItemsTotal = *w.ItemsTotal
	}
	return env, nil
}

// ParseTimestamp accepts RFC 3339 and the compact layouts found in extract
// file names. Layouts without a zone are read as UTC.
func ParseTimestamp(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range timestampFmt {
		if t, err := time.ParseInLocation(layout, s, time.UTC); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unparseable timestamp %q", s)
}

// Encode serializes env as a message body. An envelope without an items
// pointer always carries an items array, even when empty.
func Encode(env *models.Envelope) ([]byte, error) {
	if env.ItemsRef == nil && env.Items == nil {
		clone := *env
		clone.Items = []models.Item{}
		env = &clone
	}
	return json.Marshal(env)
}

// fieldPointer turns a validator namespace ("chunk.total", "items[2].price")
// into the slash form used for schema failures ("chunk/total", "items/2/price").
func fieldPointer(ns string) string {
	var b strings.Builder
	for i := 0; i < len(ns); i++ {
		switch c := ns[i]; c {
		case '.', '[':
			b.WriteByte('/')
		case ']':
		default:
			b.WriteByte(c)
		}
	}
	return b.String()
}
