// Pricepipe - Retail Price Extract Ingestion Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/pricepipe

// Package validation wraps go-playground/validator with a shared,
// lazily-built instance, the pipeline's custom tags and readable errors.
//
// Custom tags:
//
//	doctype   a document type name or alias (prices, PriceFull, promo, ...)
//	notblank  a string that is not empty after trimming whitespace
//
// Field names in errors are taken from json tags, so they match the wire
// format ("documentType", "items[3].price").
package validation

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"

	"github.com/tomtom215/pricepipe/internal/models"
)

var (
	validate     *validator.Validate
	validateOnce sync.Once
)

// ValidationError describes one failed field.
type ValidationError struct {
	field   string
	tag     string
	param   string
	value   interface{}
	message string
}

// Field returns the json path of the failing field.
func (e *ValidationError) Field() string { return e.field }

// Tag returns the failing validation tag.
func (e *ValidationError) Tag() string { return e.tag }

// Param returns the tag parameter, if any.
func (e *ValidationError) Param() string { return e.param }

// Value returns the offending value.
func (e *ValidationError) Value() interface{} { return e.value }

func (e *ValidationError) Error() string { return e.message }

// StructValidationError aggregates every failed field of one struct.
type StructValidationError struct {
	errors []ValidationError
}

// Errors returns the individual failures in declaration order.
func (ve *StructValidationError) Errors() []ValidationError {
	return ve.errors
}

// First returns the first failure.
func (ve *StructValidationError) First() ValidationError {
	if len(ve.errors) == 0 {
		return ValidationError{message: "validation failed"}
	}
	return ve.errors[0]
}

func (ve *StructValidationError) Error() string {
	if len(ve.errors) == 0 {
		return "validation failed"
	}
	messages := make([]string, 0, len(ve.errors))
	for _, err := range ve.errors {
		messages = append(messages, err.Error())
	}
	return strings.Join(messages, "; ")
}

// GetValidator returns the shared validator.
func GetValidator() *validator.Validate {
	validateOnce.Do(func() {
		v := validator.New(validator.WithRequiredStructEnabled())

		v.RegisterTagNameFunc(func(fld reflect.StructField) string {
			name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
			if name == "-" {
				return ""
			}
			if name == "" {
				if k := strings.SplitN(fld.Tag.Get("koanf"), ",", 2)[0]; k != "" {
					return k
				}
				return fld.Name
			}
			return name
		})

		mustRegister(v, "doctype", func(fl validator.FieldLevel) bool {
			_, err := models.ParseDocumentType(fl.Field().String())
			return err == nil
		})
		mustRegister(v, "notblank", func(fl validator.FieldLevel) bool {
			return strings.TrimSpace(fl.Field().String()) != ""
		})

		validate = v
	})
	return validate
}

func mustRegister(v *validator.Validate, tag string, fn validator.Func) {
	if err := v.RegisterValidation(tag, fn); err != nil {
		panic(fmt.Sprintf("register validation %q: %v", tag, err))
	}
}

// ValidateStruct validates s. It returns nil on success.
func ValidateStruct(s interface{}) *StructValidationError {
	err := GetValidator().Struct(s)
	if err == nil {
		return nil
	}

	var validationErrs validator.ValidationErrors
	if !errors.As(err, &validationErrs) {
		return &StructValidationError{
			errors: []ValidationError{{field: "", tag: "unknown", message: err.Error()}},
		}
	}

	fieldErrors := make([]ValidationError, len(validationErrs))
	for i, fe := range validationErrs {
		path := fieldPath(fe)
		fieldErrors[i] = ValidationError{
			field:   path,
			tag:     fe.Tag(),
			param:   fe.Param(),
			value:   fe.Value(),
			message: translateError(path, fe),
		}
	}
	return &StructValidationError{errors: fieldErrors}
}

// fieldPath strips the root struct name from the namespace.
func fieldPath(fe validator.FieldError) string {
	ns := fe.Namespace()
	if i := strings.IndexByte(ns, '.'); i >= 0 {
		return ns[i+1:]
	}
	return ns
}

var errorMessageTemplates = map[string]string{
	"required": "%s is required",
	"notblank": "%s must not be blank",
	"doctype":  "%s must be a known document type",
	"url":      "%s must be a valid URL",
}

var errorMessageWithParam = map[string]string{
	"oneof":    "%s must be one of: %s",
	"gte":      "%s must be greater than or equal to %s",
	"lte":      "%s must be less than or equal to %s",
	"gt":       "%s must be greater than %s",
	"lt":       "%s must be less than %s",
	"min":      "%s must be at least %s",
	"max":      "%s must be at most %s",
	"gtefield": "%s must be greater than or equal to %s",
}

func translateError(field string, fe validator.FieldError) string {
	if template, ok := errorMessageTemplates[fe.Tag()]; ok {
		return fmt.Sprintf(template, field)
	}
	if template, ok := errorMessageWithParam[fe.Tag()]; ok {
		return fmt.Sprintf(template, field, fe.Param())
	}
	return fmt.Sprintf("%s failed %s validation", field, fe.Tag())
}
