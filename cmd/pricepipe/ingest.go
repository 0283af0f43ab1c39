// Pricepipe - Retail Price Extract Ingestion Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/pricepipe

package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/tomtom215/pricepipe/internal/logging"
	"github.com/tomtom215/pricepipe/internal/models"
	"github.com/tomtom215/pricepipe/internal/publisher"
)

// documentLoader is satisfied by *extract.Loader.
type documentLoader interface {
	Load(path string) (*models.SourceDocument, error)
}

// documentIngestor is satisfied by *publisher.Ingestor.
type documentIngestor interface {
	Ingest(ctx context.Context, doc *models.SourceDocument) (publisher.Result, error)
}

// ingestFile loads one extract file and publishes it through the watermark
// gate. A watermark failure after a successful publish is logged only.
func ingestFile(ctx context.Context, loader documentLoader, ing documentIngestor, path string) (publisher.Result, error) {
	ctx = logging.ContextWithNewCorrelationID(ctx)
	doc, err := loader.Load(path)
	if err != nil {
		return publisher.Result{}, fmt.Errorf("load %s: %w", path, err)
	}
	res, err := ing.Ingest(ctx, doc)
	if err != nil {
		return res, fmt.Errorf("ingest %s: %w", path, err)
	}
	logIngestResult(logging.Ctx(ctx), path, res)
	return res, nil
}

func logIngestResult(log *zerolog.Logger, path string, res publisher.Result) {
	level := zerolog.InfoLevel
	if res.WatermarkErr != nil {
		level = zerolog.WarnLevel
	}
	log.WithLevel(level).
		AnErr("watermark_error", res.WatermarkErr).
		Str("file", path).
		Str("watermark_key", res.Key).
		Str("status", string(res.Status)).
		Int("chunks", res.Report.Sent).
		Int("items", res.Report.Items).
		Msg("extract ingested")
}

// ingestFiles ingests every path and reports all failures together.
func ingestFiles(ctx context.Context, loader documentLoader, ing documentIngestor, paths []string) (published, skipped int, err error) {
	var errs []error
	for _, path := range paths {
		if ctx.Err() != nil {
			errs = append(errs, ctx.Err())
			break
		}
		res, err := ingestFile(ctx, loader, ing, path)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		switch res.Status {
		case publisher.StatusPublished:
			published++
		case publisher.StatusSkipped:
			skipped++
		}
	}
	return published, skipped, errors.Join(errs...)
}
