// Pricepipe - Retail Price Extract Ingestion Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/pricepipe

package deadletter

import (
	"context"
	"testing"
	"time"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/tomtom215/pricepipe/internal/failure"
	"github.com/tomtom215/pricepipe/internal/logging"
	"github.com/tomtom215/pricepipe/internal/queue"
)

func startServer(t *testing.T) string {
	t.Helper()
	srv, err := queue.NewEmbeddedServer(&queue.ServerConfig{
		Host:       "127.0.0.1",
		Port:       -1,
		StoreDir:   t.TempDir(),
		MaxPayload: 1 << 20,
		Quiet:      true,
	})
	if err != nil {
		t.Fatalf("start embedded NATS: %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	})
	return srv.ClientURL()
}

func TestNATSSink_PublishesRecord(t *testing.T) {
	url := startServer(t)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	cfg := DefaultNATSConfig()
	cfg.URL = url
	cfg.Storage = "memory"
	sink, err := NewNATSSink(ctx, cfg)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = sink.Close() })

	msgCtx := logging.ContextWithMessageID(ctx, "env-42")
	sink.Send(msgCtx, []byte(`{"provider":"x"}`), failure.KindValidation, "branch is required", failure.StageValidation)

	nc, err := queue.Connect(queue.ConnectConfig{URL: url, Name: "dlq-reader"})
	if err != nil {
		t.Fatal(err)
	}
	defer nc.Close()
	js, err := jetstream.New(nc)
	if err != nil {
		t.Fatal(err)
	}
	consumer, err := js.CreateOrUpdateConsumer(ctx, DefaultStreamName, jetstream.ConsumerConfig{
		Durable:   "dlq-reader",
		AckPolicy: jetstream.AckExplicitPolicy,
	})
	if err != nil {
		t.Fatal(err)
	}
	batch, err := consumer.Fetch(1, jetstream.FetchMaxWait(5*time.Second))
	if err != nil {
		t.Fatal(err)
	}

	var got []byte
	for msg := range batch.Messages() {
		got = msg.Data()
		_ = msg.Ack()
	}
	if got == nil {
		t.Fatal("no dead-letter message received")
	}
	rec, err := Unmarshal(got)
	if err != nil {
		t.Fatal(err)
	}
	if rec.MessageID != "env-42" || rec.Stage != "validation" || string(rec.OriginalPayload) != `{"provider":"x"}` {
		t.Errorf("record = %+v", rec)
	}
}

func TestNATSSink_SendAfterCloseDoesNotPanic(t *testing.T) {
	url := startServer(t)
	cfg := DefaultNATSConfig()
	cfg.URL = url
	cfg.Storage = "memory"
	sink, err := NewNATSSink(context.Background(), cfg)
	if err != nil {
		t.Fatal(err)
	}
	if err := sink.Close(); err != nil {
		t.Fatal(err)
	}
	sink.Send(context.Background(), []byte("x"), failure.KindDecode, "x", failure.StageDecode)
}
