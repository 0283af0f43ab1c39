// Pricepipe - Retail Price Extract Ingestion Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/pricepipe

package main

import (
	"context"
	"errors"
	"flag"
	"fmt"

	"github.com/tomtom215/pricepipe/internal/consumer"
	"github.com/tomtom215/pricepipe/internal/logging"
)

func consume(ctx context.Context, a *app, args []string) error {
	fs := flag.NewFlagSet("consume", flag.ContinueOnError)
	once := fs.Bool("once", false, "drain the queue and exit")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if err := a.openConsumer(ctx); err != nil {
		return err
	}
	if *once {
		stats, err := a.pool.Drain(ctx)
		logStats("Queue drained", stats)
		return err
	}
	err := a.pool.Serve(ctx)
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func publish(ctx context.Context, a *app, args []string) error {
	fs := flag.NewFlagSet("publish", flag.ContinueOnError)
	root := fs.String("root", "", "directory stripped from file paths before key parsing")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() == 0 {
		return errors.New("publish: no files given")
	}
	if err := a.openPublisher(ctx); err != nil {
		return err
	}
	published, skipped, err := ingestFiles(ctx, a.loader(*root), a.ingestor, fs.Args())
	logging.Info().Int("published", published).Int("skipped", skipped).Msg("Publish finished")
	return err
}

// ingest publishes files and drains the queue in one process, which makes
// the memory queue driver usable from the command line.
func ingest(ctx context.Context, a *app, args []string) error {
	fs := flag.NewFlagSet("ingest", flag.ContinueOnError)
	root := fs.String("root", "", "directory stripped from file paths before key parsing")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() == 0 {
		return errors.New("ingest: no files given")
	}
	if err := a.openPublisher(ctx); err != nil {
		return err
	}
	if err := a.openConsumer(ctx); err != nil {
		return err
	}
	published, skipped, pubErr := ingestFiles(ctx, a.loader(*root), a.ingestor, fs.Args())
	stats, drainErr := a.pool.Drain(ctx)
	logging.Info().Int("published", published).Int("skipped", skipped).Msg("Publish finished")
	logStats("Queue drained", stats)
	return errors.Join(pubErr, drainErr)
}

func logStats(msg string, s consumer.Stats) {
	logging.Info().
		Int("received", s.Received).
		Int("persisted", s.Persisted).
		Int("dead_lettered", s.DeadLettered).
		Int("retried", s.Retried).
		Msg(msg)
}

const usage = `pricepipe ingests retail price and promotion extracts.

Usage:
  pricepipe [--config FILE] <command> [flags] [args]

Commands:
  serve                 run the consumer pool, intake watcher and ops server
  consume [--once]      process queued envelopes
  publish [--root DIR] FILE...
                        publish extract files to the queue
  ingest [--root DIR] FILE...
                        publish files and drain the queue in one process
  version               print the version
`

func printUsage(fs *flag.FlagSet) {
	fmt.Fprint(fs.Output(), usage)
	fs.PrintDefaults()
}
