// Pricepipe - Retail Price Extract Ingestion Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/pricepipe

package queue

import (
	"context"
	"errors"
	"testing"

	"github.com/nats-io/nats.go/jetstream"
)

// mockJetStream records calls; returned streams are nil because the
// initializer never dereferences them.
type mockJetStream struct {
	streamErr error
	createErr error
	updateErr error

	created *jetstream.StreamConfig
	updated *jetstream.StreamConfig
}

func (m *mockJetStream) Stream(context.Context, string) (jetstream.Stream, error) {
	return nil, m.streamErr
}

func (m *mockJetStream) CreateStream(_ context.Context, cfg jetstream.StreamConfig) (jetstream.Stream, error) {
	m.created = &cfg
	return nil, m.createErr
}

func (m *mockJetStream) UpdateStream(_ context.Context, cfg jetstream.StreamConfig) (jetstream.Stream, error) {
	m.updated = &cfg
	return nil, m.updateErr
}

func TestNewStreamInitializer_Validation(t *testing.T) {
	cfg := DefaultStreamConfig()
	if _, err := NewStreamInitializer(nil, &cfg); err == nil {
		t.Error("expected error for nil JetStream")
	}
	if _, err := NewStreamInitializer(&mockJetStream{}, nil); err == nil {
		t.Error("expected error for nil config")
	}
	if _, err := NewStreamInitializer(&mockJetStream{}, &StreamConfig{Name: "X"}); err == nil {
		t.Error("expected error for missing subjects")
	}
}

func TestStreamInitializer_CreatesMissingStream(t *testing.T) {
	js := &mockJetStream{streamErr: jetstream.ErrStreamNotFound}
	cfg := DefaultStreamConfig()
	init, err := NewStreamInitializer(js, &cfg)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := init.EnsureStream(context.Background()); err != nil {
		t.Fatalf("EnsureStream: %v", err)
	}
	if js.created == nil || js.updated != nil {
		t.Fatal("expected create, not update")
	}
	if js.created.Retention != jetstream.WorkQueuePolicy {
		t.Errorf("retention = %v, want work queue", js.created.Retention)
	}
	if js.created.Name != DefaultStreamName || js.created.Subjects[0] != DefaultSubject {
		t.Errorf("created = %+v", js.created)
	}
	if js.created.Storage != jetstream.FileStorage {
		t.Errorf("storage = %v", js.created.Storage)
	}
}

func TestStreamInitializer_UpdatesExistingStream(t *testing.T) {
	js := &mockJetStream{}
	cfg := DefaultStreamConfig()
	cfg.Storage = "memory"
	init, _ := NewStreamInitializer(js, &cfg)
	if _, err := init.EnsureStream(context.Background()); err != nil {
		t.Fatal(err)
	}
	if js.updated == nil || js.created != nil {
		t.Fatal("expected update, not create")
	}
	if js.updated.Storage != jetstream.MemoryStorage {
		t.Errorf("storage = %v", js.updated.Storage)
	}
	if !init.IsHealthy(context.Background()) {
		t.Error("expected healthy")
	}
}

func TestStreamInitializer_LookupError(t *testing.T) {
	js := &mockJetStream{streamErr: errors.New("no responders")}
	cfg := DefaultStreamConfig()
	init, _ := NewStreamInitializer(js, &cfg)
	if _, err := init.EnsureStream(context.Background()); err == nil {
		t.Error("expected error")
	}
	if init.IsHealthy(context.Background()) {
		t.Error("expected unhealthy")
	}
}
