// Pricepipe - Retail Price Extract Ingestion Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/pricepipe

package main

import (
	"context"
	"errors"
	"net"
	"strconv"

	"github.com/rs/zerolog"

	"github.com/tomtom215/pricepipe/internal/api"
	"github.com/tomtom215/pricepipe/internal/config"
	"github.com/tomtom215/pricepipe/internal/extract"
	"github.com/tomtom215/pricepipe/internal/logging"
	"github.com/tomtom215/pricepipe/internal/supervisor"
	"github.com/tomtom215/pricepipe/internal/supervisor/services"
	"github.com/tomtom215/pricepipe/internal/watermark"
)

// serve runs the consumer pool, optional intake watcher, watermark
// compaction and the ops server under one supervisor tree.
func serve(ctx context.Context, a *app, configPath string) error {
	cfg := a.cfg
	if err := a.openConsumer(ctx); err != nil {
		return err
	}
	if cfg.Intake.Enabled {
		if err := a.openPublisher(ctx); err != nil {
			return err
		}
	}

	sc := cfg.Supervisor
	tree, err := supervisor.NewSupervisorTree(logging.NewComponentSlogLogger("supervisor"), supervisor.TreeConfig{
		FailureThreshold: sc.FailureThreshold,
		FailureDecay:     sc.FailureDecay,
		FailureBackoff:   sc.FailureBackoff,
		ShutdownTimeout:  sc.ShutdownTimeout,
	})
	if err != nil {
		return err
	}

	if a.watermarks != nil {
		if gc, ok := a.watermarks.Backend().(*watermark.BadgerBackend); ok && cfg.Watermark.GCInterval > 0 {
			tree.AddDataService(services.NewLifecycleService("watermark-compactor",
				watermark.NewCompactor(gc, cfg.Watermark.GCInterval)))
		}
	}

	tree.AddMessagingService(a.pool)

	if cfg.Intake.Enabled {
		loader := a.loader("")
		watcher, err := extract.NewWatcher(cfg.Intake.WatcherConfig(), func(ctx context.Context, path string) error {
			_, err := ingestFile(ctx, loader, a.ingestor, path)
			return err
		})
		if err != nil {
			return err
		}
		tree.AddMessagingService(services.NewRunnerService("intake-watcher", watcher))
	}

	if cfg.Server.Enabled {
		handler := api.NewHandler(a.readinessChecks(), a.deadLetterReader(), a.watermarkReader())
		router := api.NewRouter(api.RouterConfig{
			RateLimitRequests: cfg.Server.RateLimitRequests,
			RateLimitWindow:   cfg.Server.RateLimitWindow,
		}, handler)
		addr := net.JoinHostPort(cfg.Server.Host, strconv.Itoa(cfg.Server.Port))
		srv := api.NewServer(addr, router, cfg.Server.ReadTimeout, cfg.Server.WriteTimeout)
		tree.AddAPIService(services.NewHTTPServerService(srv, sc.ShutdownTimeout))
		logging.Info().Str("addr", addr).Msg("Ops server configured")
	}

	if configPath != "" {
		watchLogLevel(configPath)
	}

	logging.Info().
		Int("workers", cfg.Consumer.Workers).
		Str("queue", cfg.Queue.Driver).
		Str("store", cfg.Store.Driver).
		Bool("intake", cfg.Intake.Enabled).
		Msg("Starting pricepipe supervisor tree")

	err = tree.Serve(ctx)
	if report, rerr := tree.UnstoppedServiceReport(); rerr == nil && len(report) > 0 {
		logging.Warn().Int("count", len(report)).Msg("Services did not stop within the shutdown timeout")
	}
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// deadLetterReader avoids handing a typed nil to the API.
func (a *app) deadLetterReader() api.DeadLetterReader {
	if a.deadLetters == nil {
		return nil
	}
	return a.deadLetters
}

func (a *app) watermarkReader() api.WatermarkReader {
	if a.watermarks == nil {
		return nil
	}
	return a.watermarks
}

// watchLogLevel applies logging.level changes from the config file without
// a restart. Other settings need a restart.
func watchLogLevel(path string) {
	err := config.WatchConfigFile(path, func() {
		cfg, err := config.Load(path)
		if err != nil {
			logging.Warn().Err(err).Str("path", path).Msg("Config reload failed")
			return
		}
		level, err := zerolog.ParseLevel(cfg.Logging.Level)
		if err != nil {
			return
		}
		logging.SetLevel(level)
		logging.Info().Str("level", level.String()).Msg("Log level reloaded")
	})
	if err != nil {
		logging.Warn().Err(err).Str("path", path).Msg("Config file watch unavailable")
	}
}
