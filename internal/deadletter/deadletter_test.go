// Pricepipe - Retail Price Extract Ingestion Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/pricepipe

package deadletter

import (
	"bytes"
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/tomtom215/pricepipe/internal/failure"
	"github.com/tomtom215/pricepipe/internal/logging"
	"github.com/tomtom215/pricepipe/internal/metrics"
)

var fixedTime = time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)

func TestMarshal_PayloadEncoding(t *testing.T) {
	tests := []struct {
		name         string
		payload      []byte
		wantEncoding string
		wantFragment string
	}{
		{"utf8 text", []byte(`{"provider":"שופרסל"}`), "", `"originalPayload":"{\"provider\":\"שופרסל\"}"`},
		{"binary", []byte{0xff, 0xfe, 0x00}, EncodingBase64, `"originalPayload":"//4A"`},
		{"empty", nil, "", `"originalPayload":""`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := logging.ContextWithMessageID(context.Background(), "msg-1")
			ctx = ContextWithField(ctx, "items/0/price")
			rec := NewRecord(ctx, tt.payload, failure.KindValidation, "bad", failure.StageValidation, fixedTime)

			data, err := Marshal(rec)
			if err != nil {
				t.Fatal(err)
			}
			if !strings.Contains(string(data), tt.wantFragment) {
				t.Errorf("json = %s, want fragment %s", data, tt.wantFragment)
			}

			back, err := Unmarshal(data)
			if err != nil {
				t.Fatal(err)
			}
			if !bytes.Equal(back.OriginalPayload, tt.payload) {
				t.Errorf("payload = %v, want %v", back.OriginalPayload, tt.payload)
			}
			if back.MessageID != "msg-1" || back.Field != "items/0/price" {
				t.Errorf("record = %+v", back)
			}
			if back.ErrorKind != "validation" || back.Stage != "validation" {
				t.Errorf("kind/stage = %s/%s", back.ErrorKind, back.Stage)
			}
			if tt.wantEncoding != "" && !strings.Contains(string(data), `"payloadEncoding":"base64"`) {
				t.Error("missing payloadEncoding")
			}
		})
	}
}

func TestMarshal_AttemptedRows(t *testing.T) {
	rows := []byte(`[{"product_name":"Bread","unit":"unit","price":7.5}]`)
	ctx := ContextWithAttemptedRows(context.Background(), rows)
	rec := NewRecord(ctx, []byte(`{}`), failure.KindPersistence, "constraint", failure.StagePersistence, fixedTime)

	data, err := Marshal(rec)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(data), `"attemptedRows":[{"product_name":"Bread"`) {
		t.Errorf("json = %s, want inline attempted rows", data)
	}
	back, err := Unmarshal(data)
	if err != nil {
		t.Fatal(err)
	}
	if string(back.AttemptedRows) != string(rows) {
		t.Errorf("attempted rows = %s, want %s", back.AttemptedRows, rows)
	}

	plain, err := Marshal(NewRecord(context.Background(), []byte(`{}`), failure.KindDecode, "x", failure.StageDecode, fixedTime))
	if err != nil {
		t.Fatal(err)
	}
	if strings.Contains(string(plain), "attemptedRows") {
		t.Errorf("json = %s, attemptedRows should be omitted", plain)
	}
}

func TestNewRecord_CopiesPayload(t *testing.T) {
	payload := []byte("abc")
	rec := NewRecord(context.Background(), payload, failure.KindDecode, "x", failure.StageDecode, fixedTime)
	payload[0] = 'z'
	if string(rec.OriginalPayload) != "abc" {
		t.Error("record should not alias the caller's buffer")
	}
}

func TestLogSink_Send(t *testing.T) {
	var buf bytes.Buffer
	sink := NewLogSink(logging.NewTestLogger(&buf))
	sink.now = func() time.Time { return fixedTime }

	before := testutil.ToFloat64(metrics.DeadLetterSent.WithLabelValues("log"))
	sink.Send(context.Background(), []byte("not json"), failure.KindDecode, "invalid character", failure.StageDecode)

	out := buf.String()
	if !strings.Contains(out, "message dead-lettered") || !strings.Contains(out, `"errorKind":"decode"`) {
		t.Errorf("log output = %s", out)
	}
	if testutil.ToFloat64(metrics.DeadLetterSent.WithLabelValues("log"))-before != 1 {
		t.Error("sent counter not incremented")
	}
}

type recordingSink struct {
	mu     sync.Mutex
	stages []failure.Stage
	panics bool
}

func (r *recordingSink) Send(_ context.Context, _ []byte, _ failure.Kind, _ string, stage failure.Stage) {
	if r.panics {
		panic("sink exploded")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stages = append(r.stages, stage)
}

func TestMultiSink_IsolatesTargets(t *testing.T) {
	first := &recordingSink{}
	broken := &recordingSink{panics: true}
	last := &recordingSink{}
	m := NewMultiSink(first, nil, broken, last)
	if m.Len() != 3 {
		t.Fatalf("Len = %d, want 3", m.Len())
	}

	m.Send(context.Background(), []byte("{}"), failure.KindPersistence, "constraint", failure.StagePersistence)

	if len(first.stages) != 1 || len(last.stages) != 1 {
		t.Errorf("first=%v last=%v, want one record each", first.stages, last.stages)
	}
}

func TestGuard_ReportsErrorsWithoutReturning(t *testing.T) {
	before := testutil.ToFloat64(metrics.DeadLetterSendFailures.WithLabelValues("test"))
	guard(context.Background(), "test", failure.StageDecode, func(context.Context) error { return errSinkClosed })
	guard(context.Background(), "test", failure.StageDecode, func(context.Context) error { panic("boom") })
	if got := testutil.ToFloat64(metrics.DeadLetterSendFailures.WithLabelValues("test")) - before; got != 2 {
		t.Errorf("failures = %v, want 2", got)
	}
}
