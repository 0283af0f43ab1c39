// Pricepipe - Retail Price Extract Ingestion Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/pricepipe

package envelope

import (
	"errors"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v6"
	"github.com/santhosh-tekuri/jsonschema/v6/kind"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/tomtom215/pricepipe/internal/failure"
)

var printer = message.NewPrinter(language.English)

// schemaFailure reports the deepest failing instance location of a schema
// violation. Missing required properties are named as part of the field.
func schemaFailure(err error) error {
	var ve *jsonschema.ValidationError
	if !errors.As(err, &ve) {
		return failure.ValidationAt(failure.StageValidation, "", "schema validation failed", err)
	}

	leaf := deepest(ve)
	location := append([]string(nil), leaf.InstanceLocation...)
	if req, ok := leaf.ErrorKind.(*kind.Required); ok && len(req.Missing) > 0 {
		location = append(location, req.Missing[0])
	}

	detail := "schema violation"
	if leaf.ErrorKind != nil {
		detail = leaf.ErrorKind.LocalizedString(printer)
	}
	return failure.Validation(strings.Join(location, "/"), detail)
}

func deepest(ve *jsonschema.ValidationError) *jsonschema.ValidationError {
	if len(ve.Causes) == 0 {
		return ve
	}
	var best *jsonschema.ValidationError
	for _, cause := range ve.Causes {
		d := deepest(cause)
		if best == nil || len(d.InstanceLocation) > len(best.InstanceLocation) {
			best = d
		}
	}
	return best
}
