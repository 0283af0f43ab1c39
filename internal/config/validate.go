// Pricepipe - Retail Price Extract Ingestion Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/pricepipe

package config

import (
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/tomtom215/pricepipe/internal/logging"
	"github.com/tomtom215/pricepipe/internal/store"
	"github.com/tomtom215/pricepipe/internal/validation"
	"github.com/tomtom215/pricepipe/internal/watermark"
)

// ackWaitMargin is the slack required between a long poll and the lease.
const ackWaitMargin = 10 * time.Second

// Validate checks struct tags, then cross-field rules. All problems are
// reported together.
func (c *Config) Validate() error {
	var errs []error
	if verr := validation.ValidateStruct(c); verr != nil {
		errs = append(errs, verr)
	}
	if !logging.ValidLevel(c.Logging.Level) {
		errs = append(errs, fmt.Errorf("logging.level: unknown level %q", c.Logging.Level))
	}
	errs = append(errs, c.validateStore()...)
	errs = append(errs, c.validateQueue()...)
	errs = append(errs, c.validateDeadLetter()...)
	errs = append(errs, c.validateIntake()...)
	if _, err := watermark.ParseDSN(c.Watermark.DSN); err != nil {
		errs = append(errs, fmt.Errorf("watermark.dsn: %w", err))
	}
	return errors.Join(errs...)
}

func (c *Config) validateStore() []error {
	var errs []error
	switch c.Store.Driver {
	case store.DriverDuckDB:
		if c.Store.DuckDB.Path == "" {
			errs = append(errs, errors.New("store.duckdb.path is required for the duckdb driver"))
		}
	case store.DriverPostgres:
		if c.Store.Postgres.DSN == "" {
			errs = append(errs, errors.New("store.postgres.dsn is required for the postgres driver"))
		}
	}
	return errs
}

func (c *Config) validateQueue() []error {
	var errs []error
	if c.Queue.Driver == QueueJetStream {
		if c.Queue.Stream == "" || c.Queue.Subject == "" || c.Queue.Durable == "" {
			errs = append(errs, errors.New("queue.stream, queue.subject and queue.durable are required for jetstream"))
		}
	}
	if c.Publisher.MaxMessageBytes > c.Queue.MaxMessageBytes {
		errs = append(errs, fmt.Errorf("publisher.max_message_bytes (%d) exceeds queue.max_message_bytes (%d)",
			c.Publisher.MaxMessageBytes, c.Queue.MaxMessageBytes))
	}
	if c.NATS.Embedded && c.NATS.MaxPayload > 0 && int64(c.Queue.MaxMessageBytes) > int64(c.NATS.MaxPayload) {
		errs = append(errs, fmt.Errorf("queue.max_message_bytes (%d) exceeds nats.max_payload (%d)",
			c.Queue.MaxMessageBytes, c.NATS.MaxPayload))
	}
	if c.Publisher.Overflow.PointerOnly && !c.Publisher.Overflow.Enabled {
		errs = append(errs, errors.New("publisher.overflow.pointer_only requires publisher.overflow.enabled"))
	}
	if c.Publisher.Overflow.Enabled && c.Queue.Driver == QueueJetStream && c.Queue.ObjectBucket == "" {
		errs = append(errs, errors.New("queue.object_bucket is required when overflow is enabled"))
	}
	return errs
}

func (c *Config) validateDeadLetter() []error {
	var errs []error
	if len(c.DeadLetter.Sinks) == 0 {
		errs = append(errs, errors.New("deadletter.sinks must name at least one sink"))
	}
	if slices.Contains(c.DeadLetter.Sinks, SinkDuckDB) && c.Store.Driver != store.DriverDuckDB {
		errs = append(errs, errors.New("deadletter sink duckdb requires store.driver duckdb"))
	}
	if slices.Contains(c.DeadLetter.Sinks, SinkNATS) && c.DeadLetter.NATS.Topic == "" {
		errs = append(errs, errors.New("deadletter.nats.topic is required for the nats sink"))
	}
	return errs
}

func (c *Config) validateIntake() []error {
	if !c.Intake.Enabled {
		return nil
	}
	var errs []error
	if c.Intake.Dir == "" {
		errs = append(errs, errors.New("intake.dir is required when intake is enabled"))
	}
	for _, dir := range []string{c.Intake.ProcessedDir, c.Intake.FailedDir} {
		if dir != "" && dir == c.Intake.Dir {
			errs = append(errs, fmt.Errorf("intake: %s must differ from intake.dir", dir))
		}
	}
	return errs
}

// Warnings lists settings that are legal but likely wrong.
func (c *Config) Warnings() []string {
	var warns []string
	if c.Queue.Driver == QueueJetStream && c.Queue.AckWait < c.Consumer.ReceiveWait+ackWaitMargin {
		warns = append(warns, fmt.Sprintf(
			"queue.ack_wait (%s) is less than consumer.receive_wait (%s) plus %s; messages may be redelivered while in flight",
			c.Queue.AckWait, c.Consumer.ReceiveWait, ackWaitMargin))
	}
	if c.Queue.Driver == QueueMemory {
		warns = append(warns, "queue.driver memory does not survive restarts")
	}
	if c.Publisher.RatePerSecond == 0 {
		warns = append(warns, "publisher.rate_per_second is 0; publishing is unthrottled")
	}
	return warns
}
