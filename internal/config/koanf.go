// Pricepipe - Retail Price Extract Ingestion Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/pricepipe

package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"

	"github.com/tomtom215/pricepipe/internal/consumer"
	"github.com/tomtom215/pricepipe/internal/deadletter"
	"github.com/tomtom215/pricepipe/internal/extract"
	"github.com/tomtom215/pricepipe/internal/publisher"
	"github.com/tomtom215/pricepipe/internal/queue"
	"github.com/tomtom215/pricepipe/internal/store"
)

// DefaultConfigPaths lists the paths searched for a config file, in order.
var DefaultConfigPaths = []string{
	"config.yaml",
	"config.yml",
	"/etc/pricepipe/config.yaml",
	"/etc/pricepipe/config.yml",
}

// ConfigPathEnvVar overrides the config file path.
const ConfigPathEnvVar = "CONFIG_PATH"

// defaultConfig returns the values applied before the file and env layers.
func defaultConfig() *Config {
	srv := queue.DefaultServerConfig()
	js := queue.DefaultJetStreamConfig()
	return &Config{
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		NATS: NATSConfig{
			URL:           "nats://127.0.0.1:4222",
			Embedded:      true,
			Host:          srv.Host,
			Port:          srv.Port,
			StoreDir:      srv.StoreDir,
			MaxMemory:     srv.JetStreamMaxMem,
			MaxStore:      srv.JetStreamMaxStore,
			MaxPayload:    srv.MaxPayload,
			MaxReconnects: -1,
			ReconnectWait: 2 * time.Second,
		},
		Queue: QueueConfig{
			Driver:          QueueJetStream,
			Stream:          js.Stream.Name,
			Subject:         js.Subject,
			Durable:         js.Durable,
			AckWait:         js.AckWait,
			MaxDeliver:      js.MaxDeliver,
			MaxAckPending:   js.MaxAckPending,
			MaxMessageBytes: js.MaxMessageBytes,
			MaxAge:          js.Stream.MaxAge,
			Storage:         js.Stream.Storage,
			ObjectBucket:    queue.DefaultBucket,
		},
		Publisher: publisher.DefaultConfig(),
		Consumer:  consumer.DefaultConfig(),
		Store:     store.DefaultConfig(),
		Watermark: WatermarkConfig{
			DSN:        "badger:///data/watermarks",
			GCInterval: 10 * time.Minute,
		},
		DeadLetter: DeadLetterConfig{
			Sinks: []string{SinkLog, SinkDuckDB},
			NATS:  deadletter.DefaultNATSConfig(),
		},
		Intake: IntakeConfig{
			Enabled:              false,
			Dir:                  "/data/inbox",
			Debounce:             500 * time.Millisecond,
			Extensions:           []string{".gz", ".zip", ".xml"},
			MaxDecompressedBytes: extract.DefaultMaxDecompressedBytes,
		},
		Server: ServerConfig{
			Enabled:           true,
			Host:              "0.0.0.0",
			Port:              8080,
			ReadTimeout:       10 * time.Second,
			WriteTimeout:      30 * time.Second,
			RateLimitRequests: 100,
			RateLimitWindow:   time.Minute,
		},
		Supervisor: SupervisorConfig{
			FailureThreshold: 5,
			FailureDecay:     30,
			FailureBackoff:   15 * time.Second,
			ShutdownTimeout:  10 * time.Second,
		},
	}
}

// Default returns the built-in configuration without reading any source.
func Default() *Config {
	return defaultConfig()
}

// LoadWithKoanf loads configuration from the default search paths.
func LoadWithKoanf() (*Config, error) {
	return Load("")
}

// Load loads configuration with layered sources:
//  1. Defaults
//  2. YAML file: path if set, otherwise CONFIG_PATH or DefaultConfigPaths
//  3. Environment variables (highest priority)
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(defaultConfig(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	if path == "" {
		path = findConfigFile()
	} else if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("config file %s: %w", path, err)
	}
	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", path, err)
		}
	}

	if err := k.Load(env.Provider("", ".", envTransformFunc), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	if err := processSliceFields(k); err != nil {
		return nil, fmt.Errorf("failed to process slice fields: %w", err)
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal configuration: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return cfg, nil
}

// findConfigFile returns the first existing config file, or "".
func findConfigFile() string {
	if envPath := os.Getenv(ConfigPathEnvVar); envPath != "" {
		if _, err := os.Stat(envPath); err == nil {
			return envPath
		}
	}
	for _, path := range DefaultConfigPaths {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	return ""
}

// sliceConfigPaths are split on commas when they arrive as strings.
var sliceConfigPaths = []string{
	"deadletter.sinks",
	"intake.extensions",
}

// processSliceFields converts comma-separated env values to slices.
func processSliceFields(k *koanf.Koanf) error {
	for _, path := range sliceConfigPaths {
		strVal, ok := k.Get(path).(string)
		if !ok || strVal == "" {
			continue
		}
		parts := strings.Split(strVal, ",")
		trimmed := make([]string, 0, len(parts))
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				trimmed = append(trimmed, p)
			}
		}
		if len(trimmed) > 0 {
			if err := k.Set(path, trimmed); err != nil {
				return fmt.Errorf("failed to set %s: %w", path, err)
			}
		}
	}
	return nil
}

// envMappings maps lowercased environment variable names to koanf paths.
var envMappings = map[string]string{
	"log_level":  "logging.level",
	"log_format": "logging.format",
	"log_caller": "logging.caller",

	"nats_url":            "nats.url",
	"nats_embedded":       "nats.embedded",
	"nats_host":           "nats.host",
	"nats_port":           "nats.port",
	"nats_store_dir":      "nats.store_dir",
	"nats_max_memory":     "nats.max_memory",
	"nats_max_store":      "nats.max_store",
	"nats_max_payload":    "nats.max_payload",
	"nats_max_reconnects": "nats.max_reconnects",

	"queue_driver":            "queue.driver",
	"queue_stream":            "queue.stream",
	"queue_subject":           "queue.subject",
	"queue_durable":           "queue.durable",
	"queue_ack_wait":          "queue.ack_wait",
	"queue_max_deliver":       "queue.max_deliver",
	"queue_max_message_bytes": "queue.max_message_bytes",
	"queue_storage":           "queue.storage",
	"queue_object_bucket":     "queue.object_bucket",

	"publisher_rate":                 "publisher.rate_per_second",
	"publisher_burst":                "publisher.burst",
	"publisher_max_message_bytes":    "publisher.max_message_bytes",
	"publisher_overflow_enabled":     "publisher.overflow.enabled",
	"publisher_overflow_pointer_only": "publisher.overflow.pointer_only",

	"consumer_workers":       "consumer.workers",
	"consumer_batch_size":    "consumer.batch_size",
	"consumer_receive_wait":  "consumer.receive_wait",
	"consumer_idle_backoff":  "consumer.idle_backoff",
	"consumer_error_backoff": "consumer.error_backoff",

	"store_driver":            "store.driver",
	"duckdb_path":             "store.duckdb.path",
	"duckdb_threads":          "store.duckdb.threads",
	"duckdb_max_memory":       "store.duckdb.max_memory",
	"postgres_dsn":            "store.postgres.dsn",
	"postgres_max_conns":      "store.postgres.max_conns",
	"postgres_simple_protocol": "store.postgres.simple_protocol",

	"watermark_dsn":         "watermark.dsn",
	"watermark_gc_interval": "watermark.gc_interval",

	"dlq_sinks":  "deadletter.sinks",
	"dlq_url":    "deadletter.nats.url",
	"dlq_topic":  "deadletter.nats.topic",
	"dlq_stream": "deadletter.nats.stream",

	"intake_enabled":       "intake.enabled",
	"intake_dir":           "intake.dir",
	"intake_debounce":      "intake.debounce",
	"intake_processed_dir": "intake.processed_dir",
	"intake_failed_dir":    "intake.failed_dir",
	"intake_extensions":    "intake.extensions",
	"intake_max_bytes":     "intake.max_decompressed_bytes",

	"http_enabled":        "server.enabled",
	"http_host":           "server.host",
	"http_port":           "server.port",
	"rate_limit_requests": "server.rate_limit_requests",
	"rate_limit_window":   "server.rate_limit_window",

	"supervisor_shutdown_timeout": "supervisor.shutdown_timeout",
}

// envTransformFunc maps an environment variable name to a koanf path.
// Unmapped variables return "" and are skipped.
//
// Examples:
//   - NATS_URL -> nats.url
//   - DUCKDB_PATH -> store.duckdb.path
//   - DLQ_SINKS -> deadletter.sinks
func envTransformFunc(key string) string {
	return envMappings[strings.ToLower(key)]
}

// WatchConfigFile calls callback whenever the file at path changes. The
// caller guards concurrent access to the reloaded configuration.
func WatchConfigFile(path string, callback func()) error {
	return file.Provider(path).Watch(func(_ interface{}, err error) {
		if err != nil {
			return
		}
		callback()
	})
}
