// Pricepipe - Retail Price Extract Ingestion Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/pricepipe

/*
Package config loads pricepipe configuration in three layers, each
overriding the previous one:

 1. Defaults from defaultConfig.
 2. A YAML file: --config, CONFIG_PATH, config.yaml or /etc/pricepipe/config.yaml.
 3. Environment variables listed in envMappings (NATS_URL, DUCKDB_PATH, ...).

Unmapped environment variables are ignored. Comma-separated values are
split for slice fields such as DLQ_SINKS and INTAKE_EXTENSIONS.

Example config.yaml:

	nats:
	  embedded: true
	  store_dir: /data/nats
	consumer:
	  workers: 4
	store:
	  driver: duckdb
	  duckdb:
	    path: /data/pricepipe.duckdb
	watermark:
	  dsn: badger:///data/watermarks
	deadletter:
	  sinks: [duckdb, nats]
*/
package config
