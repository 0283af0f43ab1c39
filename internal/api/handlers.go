// Pricepipe - Retail Price Extract Ingestion Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/pricepipe

package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/goccy/go-json"

	"github.com/tomtom215/pricepipe/internal/deadletter"
	"github.com/tomtom215/pricepipe/internal/failure"
	"github.com/tomtom215/pricepipe/internal/models"
)

const (
	defaultListLimit = 50
	maxListLimit     = 500
	readyTimeout     = 2 * time.Second
)

// Check is a named readiness probe.
type Check struct {
	Name string
	Ping func(ctx context.Context) error
}

// DeadLetterReader reads stored dead letters.
type DeadLetterReader interface {
	List(ctx context.Context, stage failure.Stage, limit int) ([]*models.DeadLetterRecord, error)
	Count(ctx context.Context) (int64, error)
}

// WatermarkReader reads watermark records by key.
type WatermarkReader interface {
	Get(ctx context.Context, key string) (*models.WatermarkRecord, error)
}

// Handler serves the ops endpoints. Nil readers disable their routes.
type Handler struct {
	checks      []Check
	deadLetters DeadLetterReader
	watermarks  WatermarkReader
	startTime   time.Time
}

// NewHandler creates a Handler.
func NewHandler(checks []Check, deadLetters DeadLetterReader, watermarks WatermarkReader) *Handler {
	return &Handler{
		checks:      checks,
		deadLetters: deadLetters,
		watermarks:  watermarks,
		startTime:   time.Now(),
	}
}

// Live reports that the process is up.
func (h *Handler) Live(w http.ResponseWriter, r *http.Request) {
	respondData(w, http.StatusOK, map[string]interface{}{
		"alive":          true,
		"uptime_seconds": time.Since(h.startTime).Seconds(),
	}, time.Now())
}

// Ready runs every check and answers 503 if any fails.
func (h *Handler) Ready(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	ctx, cancel := context.WithTimeout(r.Context(), readyTimeout)
	defer cancel()

	status := models.HealthStatus{
		Status: "ready",
		Checks: make(map[string]string, len(h.checks)),
		Uptime: time.Since(h.startTime).Seconds(),
	}
	code := http.StatusOK
	for _, c := range h.checks {
		if err := c.Ping(ctx); err != nil {
			status.Checks[c.Name] = err.Error()
			status.Status = "not_ready"
			code = http.StatusServiceUnavailable
			continue
		}
		status.Checks[c.Name] = "ok"
	}

	respondJSON(w, code, &models.APIResponse{
		Status: status.Status,
		Data:   status,
		Metadata: models.Metadata{
			Timestamp:   time.Now().UTC(),
			QueryTimeMS: time.Since(start).Milliseconds(),
		},
	})
}

// DeadLetters lists recent dead letters, optionally filtered by stage.
func (h *Handler) DeadLetters(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	limit, err := parseLimit(r.URL.Query().Get("limit"))
	if err != nil {
		respondError(w, http.StatusBadRequest, "VALIDATION_ERROR", err.Error(), nil)
		return
	}
	stage := failure.Stage(r.URL.Query().Get("stage"))
	if stage != "" && !failure.ValidStage(stage) {
		respondError(w, http.StatusBadRequest, "VALIDATION_ERROR", "unknown stage "+strconv.Quote(string(stage)), nil)
		return
	}

	recs, err := h.deadLetters.List(r.Context(), stage, limit)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "QUERY_FAILED", "Failed to list dead letters", err)
		return
	}
	views := make([]models.DeadLetterView, 0, len(recs))
	for _, rec := range recs {
		views = append(views, viewOf(rec))
	}
	respondData(w, http.StatusOK, views, start)
}

// DeadLetterCount returns the number of stored dead letters.
func (h *Handler) DeadLetterCount(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	n, err := h.deadLetters.Count(r.Context())
	if err != nil {
		respondError(w, http.StatusInternalServerError, "QUERY_FAILED", "Failed to count dead letters", err)
		return
	}
	respondData(w, http.StatusOK, map[string]int64{"count": n}, start)
}

// Watermark returns the watermark of one provider, branch and document type.
func (h *Handler) Watermark(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	docType, err := models.ParseDocumentType(chi.URLParam(r, "docType"))
	if err != nil {
		respondError(w, http.StatusBadRequest, "VALIDATION_ERROR", err.Error(), nil)
		return
	}
	key := models.WatermarkKey(chi.URLParam(r, "provider"), chi.URLParam(r, "branch"), docType)

	rec, err := h.watermarks.Get(r.Context(), key)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "QUERY_FAILED", "Failed to read watermark", err)
		return
	}
	if rec == nil {
		respondError(w, http.StatusNotFound, "NOT_FOUND", "No watermark for "+key, nil)
		return
	}
	respondData(w, http.StatusOK, rec, start)
}

func parseLimit(raw string) (int, error) {
	if raw == "" {
		return defaultListLimit, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 1 {
		return 0, errors.New("limit must be a positive integer")
	}
	return min(n, maxListLimit), nil
}

func viewOf(rec *models.DeadLetterRecord) models.DeadLetterView {
	payload, encoding := deadletter.EncodePayload(rec.OriginalPayload)
	var attempted json.RawMessage
	if json.Valid(rec.AttemptedRows) {
		attempted = rec.AttemptedRows
	}
	return models.DeadLetterView{
		MessageID:       rec.MessageID,
		ErrorKind:       rec.ErrorKind,
		ErrorDetail:     rec.ErrorDetail,
		Stage:           rec.Stage,
		Field:           rec.Field,
		OriginalPayload: payload,
		PayloadEncoding: encoding,
		Timestamp:       rec.Timestamp,
		AttemptedRows:   attempted,
	}
}
