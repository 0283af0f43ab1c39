// Pricepipe - Retail Price Extract Ingestion Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/pricepipe

package logging

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func newBufferedSlog(level zerolog.Level) (*slog.Logger, *bytes.Buffer) {
	var buf bytes.Buffer
	zl := zerolog.New(&buf).Level(level)
	return slog.New(NewSlogHandlerWithLogger(zl)), &buf
}

func TestSlogHandler_Levels(t *testing.T) {
	prev := GetLevel()
	SetLevel(zerolog.TraceLevel)
	defer SetLevel(prev)

	tests := []struct {
		level slog.Level
		want  string
	}{
		{slog.LevelDebug, `"level":"debug"`},
		{slog.LevelInfo, `"level":"info"`},
		{slog.LevelWarn, `"level":"warn"`},
		{slog.LevelError, `"level":"error"`},
	}
	for _, tt := range tests {
		logger, buf := newBufferedSlog(zerolog.TraceLevel)
		logger.Log(context.Background(), tt.level, "msg")
		if !strings.Contains(buf.String(), tt.want) {
			t.Errorf("level %v: expected %s in %s", tt.level, tt.want, buf.String())
		}
	}
}

func TestSlogHandler_Enabled(t *testing.T) {
	h := NewSlogHandlerWithLogger(zerolog.New(&bytes.Buffer{}).Level(zerolog.WarnLevel))
	if h.Enabled(context.Background(), slog.LevelInfo) {
		t.Error("info should be disabled at warn level")
	}
	if !h.Enabled(context.Background(), slog.LevelError) {
		t.Error("error should be enabled at warn level")
	}
}

func TestSlogHandler_AttrsAndGroups(t *testing.T) {
	logger, buf := newBufferedSlog(zerolog.TraceLevel)
	logger = logger.With("service", "consumer").WithGroup("batch")
	logger.Info("polled",
		"size", 7,
		"wait", 2*time.Second,
		"ok", true,
		"err", errors.New("boom"),
		slog.Group("chunk", "index", 1),
	)

	out := buf.String()
	for _, want := range []string{
		`"service":"consumer"`,
		`"batch.size":7`,
		`"batch.ok":true`,
		`"batch.err":"boom"`,
		`"batch.chunk.index":1`,
	} {
		if !strings.Contains(out, want) {
			t.Errorf("expected %s in %s", want, out)
		}
	}
}

func TestSlogHandler_ContextIDs(t *testing.T) {
	logger, buf := newBufferedSlog(zerolog.TraceLevel)
	ctx := ContextWithCorrelationID(context.Background(), "c-1")
	logger.InfoContext(ctx, "hello")
	if !strings.Contains(buf.String(), `"correlation_id":"c-1"`) {
		t.Errorf("expected correlation id in %s", buf.String())
	}
}

func TestNewComponentSlogLogger(t *testing.T) {
	var buf bytes.Buffer
	SetLogger(NewTestLogger(&buf))
	defer Init(DefaultConfig())

	NewComponentSlogLogger("supervisor").Info("tree started")
	if !strings.Contains(buf.String(), `"component":"supervisor"`) {
		t.Errorf("expected component in %s", buf.String())
	}
}
