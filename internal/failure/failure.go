// Pricepipe - Retail Price Extract Ingestion Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/pricepipe

// Package failure defines the error taxonomy shared by the publisher and the
// consumer. Every error that reaches the consume loop is classified into a
// Kind, which decides between redelivery and dead-lettering.
package failure

import (
	"context"
	"errors"
	"strings"
)

// Kind categorizes a pipeline error for routing and metrics.
type Kind int

const (
	// KindTransient covers infrastructure errors (queue, store or object store
	// unreachable). The message is left unacknowledged and redelivered when
	// its lease expires.
	KindTransient Kind = iota
	// KindDecode means the message body is not a JSON document.
	KindDecode
	// KindValidation means the envelope violates the schema.
	KindValidation
	// KindNormalizationWarning is recorded on rows, never dead-lettered.
	KindNormalizationWarning
	// KindPersistence means the store rejected the rows for a reason other
	// than connectivity.
	KindPersistence
)

// String returns the string representation of the kind.
func (k Kind) String() string {
	switch k {
	case KindTransient:
		return "transient"
	case KindDecode:
		return "decode"
	case KindValidation:
		return "validation"
	case KindNormalizationWarning:
		return "normalization_warning"
	case KindPersistence:
		return "persistence"
	default:
		return "unknown"
	}
}

// Stage names the step of the consume state machine where an error occurred.
type Stage string

const (
	StageReceive     Stage = "receive"
	StageDecode      Stage = "decode"
	StageValidation  Stage = "validation"
	StageResolve     Stage = "resolve"
	StageNormalize   Stage = "normalize"
	StagePersistence Stage = "persistence"
	StagePublish     Stage = "publish"
)

// ValidStage reports whether s is one of the defined stages.
func ValidStage(s Stage) bool {
	switch s {
	case StageReceive, StageDecode, StageValidation, StageResolve, StageNormalize, StagePersistence, StagePublish:
		return true
	}
	return false
}

// Error is a classified pipeline error.
type Error struct {
	Kind   Kind
	Stage  Stage
	Field  string // JSON path of the offending field, validation errors only
	Detail string
	Cause  error
}

// Error implements the error interface.
func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(string(e.Stage))
	b.WriteString(": ")
	if e.Field != "" {
		b.WriteString(e.Field)
		b.WriteString(": ")
	}
	b.WriteString(e.Detail)
	if e.Cause != nil {
		b.WriteString(": ")
		b.WriteString(e.Cause.Error())
	}
	return b.String()
}

// Unwrap returns the underlying cause for error unwrapping.
func (e *Error) Unwrap() error {
	return e.Cause
}

// Transient creates a transient error for the given stage.
func Transient(stage Stage, detail string, cause error) *Error {
	return &Error{Kind: KindTransient, Stage: stage, Detail: detail, Cause: cause}
}

// Decode creates a decode error.
func Decode(detail string, cause error) *Error {
	return &Error{Kind: KindDecode, Stage: StageDecode, Detail: detail, Cause: cause}
}

// Validation creates a validation error naming the field that failed.
func Validation(field, detail string) *Error {
	return &Error{Kind: KindValidation, Stage: StageValidation, Field: field, Detail: detail}
}

// ValidationAt creates a validation error raised outside the validation stage,
// e.g. a dangling items pointer detected while resolving it.
func ValidationAt(stage Stage, field, detail string, cause error) *Error {
	return &Error{Kind: KindValidation, Stage: stage, Field: field, Detail: detail, Cause: cause}
}

// Persistence creates a persistence error.
func Persistence(detail string, cause error) *Error {
	return &Error{Kind: KindPersistence, Stage: StagePersistence, Detail: detail, Cause: cause}
}

// As extracts a *Error from err.
func As(err error) (*Error, bool) {
	var fe *Error
	if errors.As(err, &fe) {
		return fe, true
	}
	return nil, false
}

// KindOf classifies err. Unclassified errors are treated as transient so
// that an unexpected failure leads to redelivery rather than silent loss.
func KindOf(err error) Kind {
	if fe, ok := As(err); ok {
		return fe.Kind
	}
	return KindTransient
}

// StageOf returns the stage recorded on err, or fallback when err is unclassified.
func StageOf(err error, fallback Stage) Stage {
	if fe, ok := As(err); ok && fe.Stage != "" {
		return fe.Stage
	}
	return fallback
}

// ShouldDeadLetter reports whether err is terminal for the message.
func ShouldDeadLetter(err error) bool {
	if err == nil {
		return false
	}
	switch KindOf(err) {
	case KindDecode, KindValidation, KindPersistence:
		return true
	default:
		return false
	}
}

// IsTransient reports whether err should be left for queue redelivery.
// Context cancellation is always transient.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	return KindOf(err) == KindTransient
}
