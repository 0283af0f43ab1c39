// Pricepipe - Retail Price Extract Ingestion Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/pricepipe

// Package breaker builds the circuit breakers that guard outbound sends
// (queue publishes and dead-letter publishes). State changes are logged
// and exported as metrics.
package breaker

import (
	"time"

	gobreaker "github.com/sony/gobreaker/v2"

	"github.com/tomtom215/pricepipe/internal/logging"
	"github.com/tomtom215/pricepipe/internal/metrics"
)

// Config holds circuit breaker settings.
type Config struct {
	Name             string        `koanf:"name"`
	MaxRequests      uint32        `koanf:"max_requests"`      // allowed in half-open state
	Interval         time.Duration `koanf:"interval"`          // reset interval for counts
	Timeout          time.Duration `koanf:"timeout"`           // time to stay open
	FailureThreshold uint32        `koanf:"failure_threshold"` // consecutive failures before opening
}

// DefaultConfig returns production defaults.
func DefaultConfig(name string) Config {
	return Config{
		Name:             name,
		MaxRequests:      3,
		Interval:         30 * time.Second,
		Timeout:          10 * time.Second,
		FailureThreshold: 5,
	}
}

// Breaker is the breaker type used across the pipeline.
type Breaker = gobreaker.CircuitBreaker[any]

// New creates a circuit breaker with the given configuration.
func New(cfg Config) *Breaker {
	if cfg.FailureThreshold == 0 {
		cfg.FailureThreshold = 1
	}
	settings := gobreaker.Settings{
		Name:        cfg.Name,
		MaxRequests: cfg.MaxRequests,
		Interval:    cfg.Interval,
		Timeout:     cfg.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.FailureThreshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			metrics.RecordBreakerTransition(name, from.String(), to.String(), StateValue(to))
			event := logging.Warn()
			if to == gobreaker.StateClosed {
				event = logging.Info()
			}
			event.Str("breaker", name).
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("circuit breaker state changed")
		},
	}
	return gobreaker.NewCircuitBreaker[any](settings)
}

// Execute runs fn under cb and discards the result value.
func Execute(cb *Breaker, fn func() error) error {
	_, err := cb.Execute(func() (any, error) {
		return nil, fn()
	})
	return err
}

// StateValue maps a state onto the gauge value exported for it:
// 0 closed, 1 half-open, 2 open.
func StateValue(s gobreaker.State) float64 {
	switch s {
	case gobreaker.StateHalfOpen:
		return 1
	case gobreaker.StateOpen:
		return 2
	default:
		return 0
	}
}
