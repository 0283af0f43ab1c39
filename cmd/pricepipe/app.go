// Pricepipe - Retail Price Extract Ingestion Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/pricepipe

package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/tomtom215/pricepipe/internal/api"
	"github.com/tomtom215/pricepipe/internal/config"
	"github.com/tomtom215/pricepipe/internal/consumer"
	"github.com/tomtom215/pricepipe/internal/deadletter"
	"github.com/tomtom215/pricepipe/internal/extract"
	"github.com/tomtom215/pricepipe/internal/logging"
	"github.com/tomtom215/pricepipe/internal/normalize"
	"github.com/tomtom215/pricepipe/internal/publisher"
	"github.com/tomtom215/pricepipe/internal/queue"
	"github.com/tomtom215/pricepipe/internal/store"
	"github.com/tomtom215/pricepipe/internal/watermark"
)

// app owns the long-lived resources of one pricepipe process. Components
// are opened on demand so publish does not need the store and consume does
// not need the watermark backend.
type app struct {
	cfg *config.Config

	natsServer *queue.EmbeddedServer
	nc         *nats.Conn
	q          queue.Queue
	objects    queue.ObjectStore

	prices      store.PriceStore
	sink        *deadletter.MultiSink
	deadLetters *deadletter.DuckDBSink
	pool        *consumer.Pool

	watermarks *watermark.Store
	publisher  *publisher.Publisher
	ingestor   *publisher.Ingestor

	closers []func() error
}

func newApp(cfg *config.Config) *app {
	return &app{cfg: cfg}
}

// natsURL returns the embedded server's URL when one runs.
func (a *app) natsURL() string {
	if a.natsServer != nil {
		return a.natsServer.ClientURL()
	}
	return a.cfg.NATS.URL
}

func (a *app) openQueue(ctx context.Context) error {
	if a.q != nil {
		return nil
	}
	qc := a.cfg.Queue
	if qc.Driver == config.QueueMemory {
		mq := queue.NewMemoryQueue(queue.WithLease(qc.AckWait), queue.WithMaxMessageBytes(qc.MaxMessageBytes))
		a.q = mq
		a.objects = queue.NewMemoryObjectStore(qc.ObjectBucket)
		a.closers = append(a.closers, mq.Close)
		return nil
	}

	if a.cfg.NATS.Embedded {
		srvCfg := a.cfg.NATS.ServerConfig()
		srv, err := queue.NewEmbeddedServer(&srvCfg)
		if err != nil {
			return fmt.Errorf("start embedded NATS: %w", err)
		}
		a.natsServer = srv
		a.closers = append(a.closers, func() error {
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			return srv.Shutdown(ctx)
		})
	}

	cc := a.cfg.NATS.ConnectConfig("pricepipe")
	cc.URL = a.natsURL()
	nc, err := queue.Connect(cc)
	if err != nil {
		return err
	}
	a.nc = nc
	a.closers = append(a.closers, func() error { return nc.Drain() })

	jq, err := queue.NewJetStreamQueue(ctx, nc, qc.JetStreamConfig())
	if err != nil {
		return err
	}
	a.q = jq

	objects, err := queue.NewNATSObjectStore(ctx, jq.JetStream(), qc.ObjectBucket)
	if err != nil {
		return err
	}
	a.objects = objects
	return nil
}

func (a *app) openConsumer(ctx context.Context) error {
	if a.pool != nil {
		return nil
	}
	if err := a.openQueue(ctx); err != nil {
		return err
	}

	prices, err := store.Open(ctx, a.cfg.Store)
	if err != nil {
		return err
	}
	a.prices = prices
	a.closers = append(a.closers, prices.Close)

	if err := a.openSinks(ctx); err != nil {
		return err
	}

	proc := consumer.NewProcessor(prices, a.sink,
		consumer.WithObjectStore(a.objects),
		consumer.WithNormalizer(normalize.New()),
	)
	a.pool = consumer.NewPool(a.cfg.Consumer, a.q, proc)
	return nil
}

func (a *app) openSinks(ctx context.Context) error {
	var sinks []deadletter.Sink
	for _, name := range a.cfg.DeadLetter.Sinks {
		switch name {
		case config.SinkLog:
			sinks = append(sinks, deadletter.NewLogSink(logging.WithComponent("deadletter")))
		case config.SinkDuckDB:
			duck, ok := a.prices.(*store.DuckDBStore)
			if !ok {
				return errors.New("duckdb dead-letter sink requires the duckdb store")
			}
			a.deadLetters = deadletter.NewDuckDBSink(duck.DB())
			if err := a.deadLetters.CreateTable(ctx); err != nil {
				return err
			}
			sinks = append(sinks, a.deadLetters)
		case config.SinkNATS:
			nc := a.cfg.DeadLetter.NATS
			if a.natsServer != nil {
				nc.URL = a.natsServer.ClientURL()
			}
			ns, err := deadletter.NewNATSSink(ctx, nc)
			if err != nil {
				return err
			}
			a.closers = append(a.closers, ns.Close)
			sinks = append(sinks, ns)
		default:
			return fmt.Errorf("unknown dead-letter sink %q", name)
		}
	}
	a.sink = deadletter.NewMultiSink(sinks...)
	return nil
}

func (a *app) openPublisher(ctx context.Context) error {
	if a.ingestor != nil {
		return nil
	}
	if err := a.openQueue(ctx); err != nil {
		return err
	}

	backend, err := watermark.BuildBackendFromDSN(a.cfg.Watermark.DSN)
	if err != nil {
		return err
	}
	a.watermarks = watermark.NewStore(backend)
	a.closers = append(a.closers, a.watermarks.Close)

	pub, err := publisher.New(a.q, a.cfg.Publisher, publisher.WithObjectStore(a.objects))
	if err != nil {
		return err
	}
	a.publisher = pub
	a.closers = append(a.closers, pub.Close)
	a.ingestor = publisher.NewIngestor(a.watermarks, pub)
	return nil
}

// loader returns an extract loader rooted at root, or at the intake dir.
func (a *app) loader(root string) *extract.Loader {
	if root == "" {
		root = a.cfg.Intake.Dir
	}
	return &extract.Loader{MaxDecompressedBytes: a.cfg.Intake.MaxDecompressedBytes, Root: root}
}

// readinessChecks pings whatever this process opened.
func (a *app) readinessChecks() []api.Check {
	var checks []api.Check
	if a.prices != nil {
		checks = append(checks, api.Check{Name: "store", Ping: a.prices.Ping})
	}
	if p, ok := a.q.(queue.Pinger); ok {
		checks = append(checks, api.Check{Name: "queue", Ping: p.Ping})
	}
	return checks
}

// close releases resources in reverse order of acquisition.
func (a *app) close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
