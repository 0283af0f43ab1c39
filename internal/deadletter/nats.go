// Pricepipe - Retail Price Extract Ingestion Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/pricepipe

package deadletter

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	wmNats "github.com/ThreeDotsLabs/watermill-nats/v2/pkg/nats"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/tomtom215/pricepipe/internal/breaker"
	"github.com/tomtom215/pricepipe/internal/failure"
	"github.com/tomtom215/pricepipe/internal/logging"
	"github.com/tomtom215/pricepipe/internal/queue"
)

// Defaults for the dead-letter stream.
const (
	DefaultTopic      = "pricepipe.deadletter"
	DefaultStreamName = "PRICEPIPE_DEADLETTER"
)

// errSinkClosed is reported for sends after Close.
var errSinkClosed = errors.New("dead-letter sink closed")

// NATSConfig configures a NATSSink.
type NATSConfig struct {
	URL           string         `koanf:"url"`
	Topic         string         `koanf:"topic"`
	Stream        string         `koanf:"stream"`
	MaxAge        time.Duration  `koanf:"max_age"`
	Storage       string         `koanf:"storage"`
	TrackMsgID    bool           `koanf:"track_msg_id"`
	MaxReconnects int            `koanf:"max_reconnects"`
	ReconnectWait time.Duration  `koanf:"reconnect_wait"`
	Breaker       breaker.Config `koanf:"breaker"`
}

// DefaultNATSConfig returns production defaults.
func DefaultNATSConfig() NATSConfig {
	return NATSConfig{
		URL:           nats.DefaultURL,
		Topic:         DefaultTopic,
		Stream:        DefaultStreamName,
		MaxAge:        30 * 24 * time.Hour,
		Storage:       "file",
		TrackMsgID:    true,
		MaxReconnects: -1,
		ReconnectWait: 2 * time.Second,
		Breaker:       breaker.DefaultConfig("deadletter-nats"),
	}
}

// NATSSink publishes records to a JetStream subject through Watermill.
type NATSSink struct {
	publisher message.Publisher
	breaker   *breaker.Breaker
	topic     string
	now       func() time.Time

	mu     sync.RWMutex
	closed bool
}

// NewNATSSink makes sure the dead-letter stream exists and returns a sink
// publishing to it.
func NewNATSSink(ctx context.Context, cfg NATSConfig) (*NATSSink, error) {
	if cfg.Topic == "" {
		cfg.Topic = DefaultTopic
	}
	if cfg.Stream == "" {
		cfg.Stream = DefaultStreamName
	}
	if err := ensureStream(ctx, cfg); err != nil {
		return nil, err
	}

	logger := watermill.NewSlogLogger(logging.NewComponentSlogLogger("deadletter"))
	natsOpts := []nats.Option{
		nats.Name("pricepipe-deadletter"),
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Error("NATS disconnected", err, nil)
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("NATS reconnected", watermill.LogFields{"url": nc.ConnectedUrl()})
		}),
	}

	pub, err := wmNats.NewPublisher(wmNats.PublisherConfig{
		URL:         cfg.URL,
		NatsOptions: natsOpts,
		Marshaler:   &wmNats.NATSMarshaler{},
		JetStream: wmNats.JetStreamConfig{
			Disabled:      false,
			AutoProvision: false, // ensureStream created it
			TrackMsgId:    cfg.TrackMsgID,
			PublishOptions: []nats.PubOpt{
				nats.RetryAttempts(3),
				nats.RetryWait(100 * time.Millisecond),
			},
		},
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("create watermill publisher: %w", err)
	}

	bcfg := cfg.Breaker
	if bcfg.Name == "" {
		bcfg = breaker.DefaultConfig("deadletter-nats")
	}
	return &NATSSink{
		publisher: pub,
		breaker:   breaker.New(bcfg),
		topic:     cfg.Topic,
		now:       time.Now,
	}, nil
}

func ensureStream(ctx context.Context, cfg NATSConfig) error {
	nc, err := queue.Connect(queue.ConnectConfig{URL: cfg.URL, Name: "pricepipe-deadletter-init"})
	if err != nil {
		return err
	}
	defer nc.Close()

	js, err := jetstream.New(nc)
	if err != nil {
		return fmt.Errorf("create JetStream context: %w", err)
	}
	streamCfg := queue.DefaultStreamConfig()
	streamCfg.Name = cfg.Stream
	streamCfg.Subjects = []string{cfg.Topic}
	if cfg.MaxAge > 0 {
		streamCfg.MaxAge = cfg.MaxAge
	}
	if cfg.Storage != "" {
		streamCfg.Storage = cfg.Storage
	}
	init, err := queue.NewStreamInitializer(js, &streamCfg)
	if err != nil {
		return err
	}
	_, err = init.EnsureStream(ctx)
	return err
}

// Send implements Sink.
func (s *NATSSink) Send(ctx context.Context, payload []byte, kind failure.Kind, detail string, stage failure.Stage) {
	guard(ctx, "nats", stage, func(ctx context.Context) error {
		data, err := Marshal(NewRecord(ctx, payload, kind, detail, stage, s.now()))
		if err != nil {
			return err
		}
		return s.publish(ctx, data, stage)
	})
}

func (s *NATSSink) publish(ctx context.Context, data []byte, stage failure.Stage) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return errSinkClosed
	}

	msg := message.NewMessage(uuid.NewString(), data)
	msg.SetContext(ctx)
	msg.Metadata.Set(nats.MsgIdHdr, msg.UUID)
	msg.Metadata.Set("stage", string(stage))
	if id := logging.MessageIDFromContext(ctx); id != "" {
		msg.Metadata.Set("source_message_id", id)
	}

	return breaker.Execute(s.breaker, func() error {
		return s.publisher.Publish(s.topic, msg)
	})
}

// Close shuts down the publisher.
func (s *NATSSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.publisher.Close()
}
