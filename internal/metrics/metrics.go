// Pricepipe - Retail Price Extract Ingestion Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/pricepipe

// Package metrics holds the Prometheus instruments of the pipeline.
//
// Instruments are package-level promauto globals registered on the default
// registry and exposed by the ops server at /metrics. Components call the
// RecordX helpers rather than touching the vectors directly so label values
// stay bounded.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/tomtom215/pricepipe/internal/textutil"
)

// maxLabelRunes bounds free-form label values such as error classes.
const maxLabelRunes = 50

var (
	// Publisher
	DocumentsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pricepipe_documents_total",
			Help: "Source documents seen by the ingestor, by result",
		},
		[]string{"document_type", "result"}, // published, skipped, failed
	)

	ChunksPublished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pricepipe_chunks_published_total",
			Help: "Envelope chunks sent to the queue",
		},
		[]string{"document_type"},
	)

	ChunkBytes = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "pricepipe_chunk_bytes",
			Help:    "Serialized size of published chunks",
			Buckets: prometheus.ExponentialBuckets(1024, 2, 9), // 1KiB .. 256KiB
		},
	)

	ItemsTruncated = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "pricepipe_items_truncated_total",
			Help: "Items whose product name was shortened to fit the message budget",
		},
	)

	ItemsDropped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "pricepipe_items_dropped_total",
			Help: "Items dropped because they exceed the message budget after truncation",
		},
	)

	PublishDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "pricepipe_publish_duration_seconds",
			Help:    "Time to chunk and enqueue one document",
			Buckets: prometheus.DefBuckets,
		},
	)

	// Watermark
	WatermarkFailOpen = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "pricepipe_watermark_failopen_total",
			Help: "Watermark lookups that failed and were treated as process-anyway",
		},
	)

	WatermarkOps = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pricepipe_watermark_operations_total",
			Help: "Watermark store operations by result",
		},
		[]string{"operation", "result"},
	)

	// Queue
	QueueReceived = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "pricepipe_queue_received_total",
			Help: "Messages received from the queue",
		},
	)

	QueueErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pricepipe_queue_errors_total",
			Help: "Queue operation failures",
		},
		[]string{"operation"}, // send, receive, delete
	)

	// Consumer
	MessagesOutcome = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pricepipe_messages_total",
			Help: "Processed messages by final outcome",
		},
		[]string{"outcome"}, // persisted, dead_lettered, retry
	)

	MessagesDeadLettered = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pricepipe_messages_dead_lettered_total",
			Help: "Messages routed to the dead-letter sink by failing stage",
		},
		[]string{"stage", "kind"},
	)

	MessagesRetried = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pricepipe_messages_retried_total",
			Help: "Messages left unacknowledged after a transient failure",
		},
		[]string{"stage"},
	)

	RowsUpserted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pricepipe_rows_upserted_total",
			Help: "Rows inserted or updated in the relational store",
		},
		[]string{"document_type"},
	)

	ItemsSkipped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "pricepipe_items_skipped_total",
			Help: "Items without a usable product name",
		},
	)

	NormalizationFlags = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pricepipe_normalization_flags_total",
			Help: "Normalization warnings attached to persisted rows",
		},
		[]string{"flag"},
	)

	ProcessingDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "pricepipe_message_processing_seconds",
			Help:    "Time from receive to ack decision for one message",
			Buckets: prometheus.DefBuckets,
		},
	)

	WorkerPanics = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "pricepipe_worker_panics_total",
			Help: "Panics recovered while processing a message",
		},
	)

	// Store
	DBQueryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "pricepipe_db_query_duration_seconds",
			Help:    "Duration of relational store operations",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"driver", "operation"},
	)

	DBQueryErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pricepipe_db_query_errors_total",
			Help: "Relational store errors",
		},
		[]string{"driver", "operation", "error_type"},
	)

	// Dead-letter
	DeadLetterSent = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pricepipe_deadletter_sent_total",
			Help: "Dead-letter records written, by sink",
		},
		[]string{"sink"},
	)

	DeadLetterSendFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pricepipe_deadletter_send_failures_total",
			Help: "Dead-letter records that could not be written and were dropped",
		},
		[]string{"sink"},
	)

	// Circuit breakers
	CircuitBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "pricepipe_circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=half-open, 2=open)",
		},
		[]string{"name"},
	)

	CircuitBreakerTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pricepipe_circuit_breaker_transitions_total",
			Help: "Circuit breaker state transitions",
		},
		[]string{"name", "from", "to"},
	)

	// Intake
	IntakeFiles = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pricepipe_intake_files_total",
			Help: "Files picked up by the inbox watcher, by result",
		},
		[]string{"result"},
	)

	// Ops HTTP
	APIRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pricepipe_http_requests_total",
			Help: "Ops HTTP requests",
		},
		[]string{"method", "route", "status"},
	)

	AppInfo = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "pricepipe_info",
			Help: "Build information",
		},
		[]string{"version"},
	)
)

// label shortens a free-form value so it can be used as a label.
func label(s string) string {
	if s == "" {
		return "unknown"
	}
	return textutil.TruncateRunes(s, maxLabelRunes)
}

// RecordDocument records the outcome of one ingest.
func RecordDocument(docType, result string) {
	DocumentsTotal.WithLabelValues(label(docType), result).Inc()
}

// RecordPublish records one fully published document.
func RecordPublish(docType string, chunkSizes []int, truncated, dropped int, d time.Duration) {
	ChunksPublished.WithLabelValues(label(docType)).Add(float64(len(chunkSizes)))
	for _, size := range chunkSizes {
		ChunkBytes.Observe(float64(size))
	}
	ItemsTruncated.Add(float64(truncated))
	ItemsDropped.Add(float64(dropped))
	PublishDuration.Observe(d.Seconds())
}

// RecordWatermark records a watermark operation. err == nil counts as ok.
func RecordWatermark(operation string, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	WatermarkOps.WithLabelValues(operation, result).Inc()
}

// RecordWatermarkFailOpen records a fail-open decision.
func RecordWatermarkFailOpen() {
	WatermarkFailOpen.Inc()
	WatermarkOps.WithLabelValues("should_process", "error").Inc()
}

// RecordQueueError records a failed queue operation.
func RecordQueueError(operation string) {
	QueueErrors.WithLabelValues(operation).Inc()
}

// RecordReceived records n received messages.
func RecordReceived(n int) {
	QueueReceived.Add(float64(n))
}

// RecordPersisted records a persisted message.
func RecordPersisted(docType string, rows, skipped int, flagged map[string]int, d time.Duration) {
	MessagesOutcome.WithLabelValues("persisted").Inc()
	RowsUpserted.WithLabelValues(label(docType)).Add(float64(rows))
	ItemsSkipped.Add(float64(skipped))
	for flag, n := range flagged {
		NormalizationFlags.WithLabelValues(label(flag)).Add(float64(n))
	}
	ProcessingDuration.Observe(d.Seconds())
}

// RecordDeadLettered records a message routed to the dead-letter sink.
func RecordDeadLettered(stage, kind string, d time.Duration) {
	MessagesOutcome.WithLabelValues("dead_lettered").Inc()
	MessagesDeadLettered.WithLabelValues(label(stage), label(kind)).Inc()
	ProcessingDuration.Observe(d.Seconds())
}

// RecordRetry records a message left for redelivery.
func RecordRetry(stage string, d time.Duration) {
	MessagesOutcome.WithLabelValues("retry").Inc()
	MessagesRetried.WithLabelValues(label(stage)).Inc()
	ProcessingDuration.Observe(d.Seconds())
}

// RecordWorkerPanic records a panic recovered while processing a message.
func RecordWorkerPanic() {
	WorkerPanics.Inc()
}

// RecordDBQuery records a relational store operation.
func RecordDBQuery(driver, operation string, d time.Duration, errorType string) {
	DBQueryDuration.WithLabelValues(driver, operation).Observe(d.Seconds())
	if errorType != "" {
		DBQueryErrors.WithLabelValues(driver, operation, label(errorType)).Inc()
	}
}

// RecordDeadLetterSend records a dead-letter write attempt.
func RecordDeadLetterSend(sink string, err error) {
	if err != nil {
		DeadLetterSendFailures.WithLabelValues(sink).Inc()
		return
	}
	DeadLetterSent.WithLabelValues(sink).Inc()
}

// RecordBreakerTransition records a circuit breaker state change.
func RecordBreakerTransition(name, from, to string, state float64) {
	CircuitBreakerTransitions.WithLabelValues(name, from, to).Inc()
	CircuitBreakerState.WithLabelValues(name).Set(state)
}

// RecordIntakeFile records a file seen by the inbox watcher.
func RecordIntakeFile(result string) {
	IntakeFiles.WithLabelValues(result).Inc()
}

// RecordAPIRequest records an ops HTTP request.
func RecordAPIRequest(method, route, status string) {
	APIRequestsTotal.WithLabelValues(method, label(route), status).Inc()
}
