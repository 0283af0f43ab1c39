// Pricepipe - Retail Price Extract Ingestion Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/pricepipe

package queue

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/nats-io/nats.go/jetstream"
)

// Stream and subject names used by the pipeline.
const (
	DefaultStreamName = "PRICEPIPE"
	DefaultSubject    = "pricepipe.envelopes"
)

// StreamConfig describes the envelope stream.
type StreamConfig struct {
	Name            string
	Subjects        []string
	MaxAge          time.Duration
	MaxBytes        int64
	MaxMsgs         int64
	DuplicateWindow time.Duration
	Replicas        int
	// Storage is "file" or "memory".
	Storage string
}

// DefaultStreamConfig returns production stream settings.
func DefaultStreamConfig() StreamConfig {
	return StreamConfig{
		Name:            DefaultStreamName,
		Subjects:        []string{DefaultSubject},
		MaxAge:          7 * 24 * time.Hour,
		MaxBytes:        -1,
		MaxMsgs:         -1,
		DuplicateWindow: 2 * time.Minute,
		Replicas:        1,
		Storage:         "file",
	}
}

// JetStreamContext is the subset of jetstream.JetStream used by
// StreamInitializer.
type JetStreamContext interface {
	Stream(ctx context.Context, name string) (jetstream.Stream, error)
	CreateStream(ctx context.Context, cfg jetstream.StreamConfig) (jetstream.Stream, error)
	UpdateStream(ctx context.Context, cfg jetstream.StreamConfig) (jetstream.Stream, error)
}

// StreamInitializer creates the envelope stream or brings an existing one
// up to date.
type StreamInitializer struct {
	js     JetStreamContext
	config StreamConfig
}

// NewStreamInitializer validates its inputs.
func NewStreamInitializer(js JetStreamContext, cfg *StreamConfig) (*StreamInitializer, error) {
	if js == nil {
		return nil, fmt.Errorf("JetStream context required")
	}
	if cfg == nil {
		return nil, fmt.Errorf("stream config required")
	}
	if cfg.Name == "" || len(cfg.Subjects) == 0 {
		return nil, fmt.Errorf("stream name and subjects required")
	}
	return &StreamInitializer{js: js, config: *cfg}, nil
}

// streamConfig builds the JetStream configuration. Work-queue retention
// removes a message once it has been acknowledged.
func (s *StreamInitializer) streamConfig() jetstream.StreamConfig {
	storage := jetstream.FileStorage
	if strings.EqualFold(s.config.Storage, "memory") {
		storage = jetstream.MemoryStorage
	}
	replicas := s.config.Replicas
	if replicas < 1 {
		replicas = 1
	}
	return jetstream.StreamConfig{
		Name:       s.config.Name,
		Subjects:   s.config.Subjects,
		Retention:  jetstream.WorkQueuePolicy,
		MaxAge:     s.config.MaxAge,
		MaxBytes:   s.config.MaxBytes,
		MaxMsgs:    s.config.MaxMsgs,
		Duplicates: s.config.DuplicateWindow,
		Replicas:   replicas,
		Storage:    storage,
		Discard:    jetstream.DiscardOld,
	}
}

// EnsureStream creates the stream if missing, otherwise updates it.
func (s *StreamInitializer) EnsureStream(ctx context.Context) (jetstream.Stream, error) {
	streamCfg := s.streamConfig()

	_, err := s.js.Stream(ctx, s.config.Name)
	if err == nil {
		stream, err := s.js.UpdateStream(ctx, streamCfg)
		if err != nil {
			return nil, fmt.Errorf("update stream %s: %w", s.config.Name, err)
		}
		return stream, nil
	}

	if errors.Is(err, jetstream.ErrStreamNotFound) {
		stream, err := s.js.CreateStream(ctx, streamCfg)
		if err != nil {
			return nil, fmt.Errorf("create stream %s: %w", s.config.Name, err)
		}
		return stream, nil
	}

	return nil, fmt.Errorf("check stream %s: %w", s.config.Name, err)
}

// IsHealthy reports whether the stream can be looked up.
func (s *StreamInitializer) IsHealthy(ctx context.Context) bool {
	_, err := s.js.Stream(ctx, s.config.Name)
	return err == nil
}

// Config returns the stream configuration.
func (s *StreamInitializer) Config() StreamConfig {
	return s.config
}
