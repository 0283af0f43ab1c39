// Pricepipe - Retail Price Extract Ingestion Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/pricepipe

/*
Package supervisor runs pricepipe's long-lived services under a suture v4
tree so a failing component is restarted with backoff instead of taking
the process down.

	pricepipe (root)
	├── data-layer       watermark compaction
	├── messaging-layer  consumer pool, intake watcher
	└── api-layer        ops HTTP server

Services implement suture.Service: Serve(ctx) blocks until ctx is done and
returns ctx.Err(); any other return is a failure and triggers a restart.
Returning suture.ErrDoNotRestart stops the service for good.

Supervisor events are logged through sutureslog on the zerolog-backed
slog.Logger from logging.NewComponentSlogLogger.

Adapters for components with Start/Stop or ListenAndServe lifecycles live
in the services subpackage.
*/
package supervisor
