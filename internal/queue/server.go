// Pricepipe - Retail Price Extract Ingestion Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/pricepipe

package queue

import (
	"context"
	"fmt"
	"time"

	"github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go"

	"github.com/tomtom215/pricepipe/internal/logging"
)

// ServerConfig configures the embedded NATS server.
type ServerConfig struct {
	Host              string
	Port              int // -1 picks a random port
	StoreDir          string
	JetStreamMaxMem   int64
	JetStreamMaxStore int64
	MaxPayload        int32
	Quiet             bool
}

// DefaultServerConfig returns single-node defaults.
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		Host:              "127.0.0.1",
		Port:              4222,
		StoreDir:          "/data/nats/jetstream",
		JetStreamMaxMem:   256 << 20,
		JetStreamMaxStore: 10 << 30,
		MaxPayload:        1 << 20,
	}
}

// EmbeddedServer runs nats-server with JetStream in-process, for
// single-node deployments and tests.
type EmbeddedServer struct {
	server    *server.Server
	clientURL string
}

// NewEmbeddedServer starts a server and waits until it accepts clients.
func NewEmbeddedServer(cfg *ServerConfig) (*EmbeddedServer, error) {
	opts := &server.Options{
		ServerName:         "pricepipe",
		Host:               cfg.Host,
		Port:               cfg.Port,
		JetStream:          true,
		StoreDir:           cfg.StoreDir,
		JetStreamMaxMemory: cfg.JetStreamMaxMem,
		JetStreamMaxStore:  cfg.JetStreamMaxStore,
		MaxPayload:         cfg.MaxPayload,
		NoLog:              cfg.Quiet,
		NoSigs:             true,
	}

	ns, err := server.NewServer(opts)
	if err != nil {
		return nil, fmt.Errorf("create NATS server: %w", err)
	}
	if !cfg.Quiet {
		ns.ConfigureLogger()
	}

	go ns.Start()

	if !ns.ReadyForConnections(30 * time.Second) {
		ns.Shutdown()
		return nil, fmt.Errorf("NATS server not ready within timeout")
	}

	logging.Info().Str("url", ns.ClientURL()).Str("store_dir", cfg.StoreDir).Msg("Embedded NATS server started")
	return &EmbeddedServer{server: ns, clientURL: ns.ClientURL()}, nil
}

// ClientURL returns the URL clients connect to.
func (s *EmbeddedServer) ClientURL() string {
	return s.clientURL
}

// Shutdown stops the server and waits for it unless ctx ends first.
func (s *EmbeddedServer) Shutdown(ctx context.Context) error {
	s.server.Shutdown()
	done := make(chan struct{})
	go func() {
		s.server.WaitForShutdown()
		close(done)
	}()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-done:
		return nil
	}
}

// IsRunning reports whether the server is running.
func (s *EmbeddedServer) IsRunning() bool {
	return s.server.Running()
}

// ConnectConfig configures a client connection.
type ConnectConfig struct {
	URL           string
	Name          string
	MaxReconnects int
	ReconnectWait time.Duration
}

// Connect dials NATS with reconnect handling that logs through zerolog.
func Connect(cfg ConnectConfig) (*nats.Conn, error) {
	if cfg.ReconnectWait <= 0 {
		cfg.ReconnectWait = 2 * time.Second
	}
	log := logging.WithComponent("nats")
	opts := []nats.Option{
		nats.Name(cfg.Name),
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				log.Error().Err(err).Msg("NATS disconnected")
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info().Str("url", nc.ConnectedUrl()).Msg("NATS reconnected")
		}),
		nats.ErrorHandler(func(_ *nats.Conn, sub *nats.Subscription, err error) {
			ev := log.Error().Err(err)
			if sub != nil {
				ev = ev.Str("subject", sub.Subject)
			}
			ev.Msg("NATS error")
		}),
	}
	nc, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("connect to NATS %s: %w", cfg.URL, err)
	}
	return nc, nil
}
