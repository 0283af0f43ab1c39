// Pricepipe - Retail Price Extract Ingestion Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/pricepipe

// Package services adapts pricepipe components to suture.Service:
//
//   - HTTPServerService: the ops *http.Server
//   - LifecycleService: Start/Stop components such as the watermark compactor
//   - RunnerService: blocking Run(ctx) loops such as the intake watcher
package services
