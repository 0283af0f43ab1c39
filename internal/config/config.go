// Pricepipe - Retail Price Extract Ingestion Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/pricepipe

package config

import (
	"time"

	"github.com/tomtom215/pricepipe/internal/consumer"
	"github.com/tomtom215/pricepipe/internal/deadletter"
	"github.com/tomtom215/pricepipe/internal/extract"
	"github.com/tomtom215/pricepipe/internal/logging"
	"github.com/tomtom215/pricepipe/internal/publisher"
	"github.com/tomtom215/pricepipe/internal/queue"
	"github.com/tomtom215/pricepipe/internal/store"
)

// Dead-letter sink names accepted in DeadLetterConfig.Sinks.
const (
	SinkLog    = "log"
	SinkDuckDB = "duckdb"
	SinkNATS   = "nats"
)

// Queue drivers.
const (
	QueueJetStream = "jetstream"
	QueueMemory    = "memory"
)

// Config holds all application configuration.
type Config struct {
	Logging    LoggingConfig    `koanf:"logging"`
	NATS       NATSConfig       `koanf:"nats"`
	Queue      QueueConfig      `koanf:"queue"`
	Publisher  publisher.Config `koanf:"publisher"`
	Consumer   consumer.Config  `koanf:"consumer"`
	Store      store.Config     `koanf:"store"`
	Watermark  WatermarkConfig  `koanf:"watermark"`
	DeadLetter DeadLetterConfig `koanf:"deadletter"`
	Intake     IntakeConfig     `koanf:"intake"`
	Server     ServerConfig     `koanf:"server"`
	Supervisor SupervisorConfig `koanf:"supervisor"`
}

// LoggingConfig configures the global zerolog logger.
type LoggingConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format" validate:"oneof=json console"`
	Caller bool   `koanf:"caller"`
}

// ToLogging converts to logging.Config.
func (c LoggingConfig) ToLogging() logging.Config {
	cfg := logging.DefaultConfig()
	cfg.Level = c.Level
	cfg.Format = c.Format
	cfg.Caller = c.Caller
	return cfg
}

// NATSConfig configures the NATS connection and the optional embedded server.
type NATSConfig struct {
	URL           string        `koanf:"url" validate:"required"`
	Embedded      bool          `koanf:"embedded"`
	Host          string        `koanf:"host"`
	Port          int           `koanf:"port"`
	StoreDir      string        `koanf:"store_dir"`
	MaxMemory     int64         `koanf:"max_memory"`
	MaxStore      int64         `koanf:"max_store"`
	MaxPayload    int32         `koanf:"max_payload"`
	MaxReconnects int           `koanf:"max_reconnects"`
	ReconnectWait time.Duration `koanf:"reconnect_wait"`
}

// ServerConfig returns the embedded server settings.
func (c NATSConfig) ServerConfig() queue.ServerConfig {
	return queue.ServerConfig{
		Host:              c.Host,
		Port:              c.Port,
		StoreDir:          c.StoreDir,
		JetStreamMaxMem:   c.MaxMemory,
		JetStreamMaxStore: c.MaxStore,
		MaxPayload:        c.MaxPayload,
	}
}

// ConnectConfig returns client connection settings.
func (c NATSConfig) ConnectConfig(name string) queue.ConnectConfig {
	return queue.ConnectConfig{
		URL:           c.URL,
		Name:          name,
		MaxReconnects: c.MaxReconnects,
		ReconnectWait: c.ReconnectWait,
	}
}

// QueueConfig configures the envelope queue.
type QueueConfig struct {
	Driver          string        `koanf:"driver" validate:"oneof=jetstream memory"`
	Stream          string        `koanf:"stream"`
	Subject         string        `koanf:"subject"`
	Durable         string        `koanf:"durable"`
	AckWait         time.Duration `koanf:"ack_wait" validate:"gt=0"`
	MaxDeliver      int           `koanf:"max_deliver"`
	MaxAckPending   int           `koanf:"max_ack_pending"`
	MaxMessageBytes int           `koanf:"max_message_bytes" validate:"gt=0"`
	MaxAge          time.Duration `koanf:"max_age"`
	Storage         string        `koanf:"storage" validate:"oneof=file memory"`
	ObjectBucket    string        `koanf:"object_bucket"`
}

// JetStreamConfig returns the JetStream queue settings.
func (c QueueConfig) JetStreamConfig() queue.JetStreamConfig {
	cfg := queue.DefaultJetStreamConfig()
	cfg.Stream.Name = c.Stream
	cfg.Stream.Subjects = []string{c.Subject}
	cfg.Stream.Storage = c.Storage
	if c.MaxAge > 0 {
		cfg.Stream.MaxAge = c.MaxAge
	}
	cfg.Subject = c.Subject
	cfg.Durable = c.Durable
	cfg.AckWait = c.AckWait
	cfg.MaxDeliver = c.MaxDeliver
	cfg.MaxAckPending = c.MaxAckPending
	cfg.MaxMessageBytes = c.MaxMessageBytes
	return cfg
}

// WatermarkConfig selects the watermark backend by DSN.
type WatermarkConfig struct {
	DSN        string        `koanf:"dsn" validate:"required"`
	GCInterval time.Duration `koanf:"gc_interval"`
}

// DeadLetterConfig lists the dead-letter sinks to fan out to.
type DeadLetterConfig struct {
	Sinks []string              `koanf:"sinks" validate:"dive,oneof=log duckdb nats"`
	NATS  deadletter.NATSConfig `koanf:"nats"`
}

// IntakeConfig configures the inbox watcher used by serve.
type IntakeConfig struct {
	Enabled              bool          `koanf:"enabled"`
	Dir                  string        `koanf:"dir"`
	Debounce             time.Duration `koanf:"debounce"`
	ProcessedDir         string        `koanf:"processed_dir"`
	FailedDir            string        `koanf:"failed_dir"`
	Extensions           []string      `koanf:"extensions"`
	MaxDecompressedBytes int64         `koanf:"max_decompressed_bytes"`
}

// WatcherConfig returns the watcher settings.
func (c IntakeConfig) WatcherConfig() extract.WatcherConfig {
	return extract.WatcherConfig{
		Dir:          c.Dir,
		Debounce:     c.Debounce,
		ProcessedDir: c.ProcessedDir,
		FailedDir:    c.FailedDir,
		Extensions:   c.Extensions,
	}
}

// ServerConfig configures the ops HTTP server.
type ServerConfig struct {
	Enabled           bool          `koanf:"enabled"`
	Host              string        `koanf:"host"`
	Port              int           `koanf:"port" validate:"gte=0,lte=65535"`
	ReadTimeout       time.Duration `koanf:"read_timeout"`
	WriteTimeout      time.Duration `koanf:"write_timeout"`
	RateLimitRequests int           `koanf:"rate_limit_requests"`
	RateLimitWindow   time.Duration `koanf:"rate_limit_window"`
}

// SupervisorConfig configures the suture tree.
type SupervisorConfig struct {
	FailureThreshold float64       `koanf:"failure_threshold"`
	FailureDecay     float64       `koanf:"failure_decay"`
	FailureBackoff   time.Duration `koanf:"failure_backoff"`
	ShutdownTimeout  time.Duration `koanf:"shutdown_timeout"`
}
