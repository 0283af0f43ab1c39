// Pricepipe - Retail Price Extract Ingestion Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/pricepipe

// Package main is the pricepipe command: it publishes retail price and
// promotion extracts to a queue and consumes them into a relational store.
//
// Configuration is layered with koanf (defaults, then YAML, then env):
//
//	pricepipe --config /etc/pricepipe/config.yaml serve
//	QUEUE_DRIVER=memory STORE_DRIVER=duckdb DUCKDB_PATH=prices.duckdb \
//	  pricepipe ingest --root ./extracts ./extracts/providers/*/*.gz
//
// SIGINT and SIGTERM cancel the running command; in-flight messages finish
// or are left for redelivery.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/tomtom215/pricepipe/internal/config"
	"github.com/tomtom215/pricepipe/internal/logging"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	fs := flag.NewFlagSet("pricepipe", flag.ContinueOnError)
	configPath := fs.String("config", "", "config file (default: $CONFIG_PATH, ./config.yaml, /etc/pricepipe/config.yaml)")
	fs.Usage = func() { printUsage(fs) }
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 2
	}
	if fs.NArg() == 0 {
		fs.Usage()
		return 2
	}
	cmd, cmdArgs := fs.Arg(0), fs.Args()[1:]
	if cmd == "version" {
		fmt.Println(version)
		return 0
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		logging.Error().Err(err).Msg("Failed to load configuration")
		return 1
	}
	logging.Init(cfg.Logging.ToLogging())
	for _, w := range cfg.Warnings() {
		logging.Warn().Msg(w)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a := newApp(cfg)
	defer func() {
		if err := a.close(); err != nil {
			logging.Error().Err(err).Msg("Error during shutdown")
		}
	}()

	switch cmd {
	case "serve":
		err = serve(ctx, a, *configPath)
	case "consume":
		err = consume(ctx, a, cmdArgs)
	case "publish":
		err = publish(ctx, a, cmdArgs)
	case "ingest":
		err = ingest(ctx, a, cmdArgs)
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n", cmd)
		fs.Usage()
		return 2
	}
	if err != nil {
		logging.Error().Err(err).Str("command", cmd).Msg("Command failed")
		return 1
	}
	return 0
}
