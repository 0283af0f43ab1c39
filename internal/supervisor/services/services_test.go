// Pricepipe - Retail Price Extract Ingestion Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/pricepipe

package services

import (
	"context"
	"errors"
	"net/http"
	"sync/atomic"
	"testing"
	"time"

	"github.com/thejerf/suture/v4"

	"github.com/tomtom215/pricepipe/internal/watermark"
)

var (
	_ suture.Service = (*HTTPServerService)(nil)
	_ suture.Service = (*LifecycleService)(nil)
	_ suture.Service = (*RunnerService)(nil)
	_ StartStopper   = (*watermark.Compactor)(nil)
)

// mockHTTPServer blocks in ListenAndServe until Shutdown.
type mockHTTPServer struct {
	listenErr error
	started   chan struct{}
	stopCh    chan struct{}
	shutdowns atomic.Int32
}

func newMockHTTPServer() *mockHTTPServer {
	return &mockHTTPServer{started: make(chan struct{}, 1), stopCh: make(chan struct{})}
}

func (m *mockHTTPServer) ListenAndServe() error {
	m.started <- struct{}{}
	if m.listenErr != nil {
		return m.listenErr
	}
	<-m.stopCh
	return http.ErrServerClosed
}

func (m *mockHTTPServer) Shutdown(context.Context) error {
	m.shutdowns.Add(1)
	close(m.stopCh)
	return nil
}

func TestHTTPServerService_GracefulShutdown(t *testing.T) {
	srv := newMockHTTPServer()
	svc := NewHTTPServerService(srv, time.Second)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- svc.Serve(ctx) }()

	<-srv.started
	cancel()
	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("Serve() = %v, want context.Canceled", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Serve did not return")
	}
	if srv.shutdowns.Load() != 1 {
		t.Errorf("Shutdown called %d times, want 1", srv.shutdowns.Load())
	}
}

func TestHTTPServerService_ListenError(t *testing.T) {
	srv := newMockHTTPServer()
	srv.listenErr = errors.New("address in use")
	svc := NewHTTPServerService(srv, 0)

	err := svc.Serve(context.Background())
	if err == nil || !errors.Is(err, srv.listenErr) {
		t.Errorf("Serve() = %v, want wrapped listen error", err)
	}
	if svc.String() != "ops-http" {
		t.Errorf("String() = %q", svc.String())
	}
}

type countingGC struct{ runs atomic.Int32 }

func (g *countingGC) RunGC() error {
	g.runs.Add(1)
	return nil
}

func TestLifecycleService_Compactor(t *testing.T) {
	gc := &countingGC{}
	compactor := watermark.NewCompactor(gc, 10*time.Millisecond)
	svc := NewLifecycleService("watermark-compactor", compactor)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- svc.Serve(ctx) }()

	deadline := time.Now().Add(2 * time.Second)
	for gc.runs.Load() < 2 {
		if time.Now().After(deadline) {
			t.Fatal("compactor never ran")
		}
		time.Sleep(5 * time.Millisecond)
	}
	if !compactor.IsRunning() {
		t.Error("compactor should be running while served")
	}

	cancel()
	if err := <-done; !errors.Is(err, context.Canceled) {
		t.Errorf("Serve() = %v, want context.Canceled", err)
	}
	if compactor.IsRunning() {
		t.Error("compactor should be stopped after Serve returns")
	}
}

type stubStartStopper struct{ startErr error }

func (s stubStartStopper) Start(context.Context) error { return s.startErr }
func (s stubStartStopper) Stop() error                 { return nil }
func (s stubStartStopper) IsRunning() bool             { return false }

func TestLifecycleService_StartError(t *testing.T) {
	svc := NewLifecycleService("broken", stubStartStopper{startErr: errors.New("boom")})
	if err := svc.Serve(context.Background()); err == nil {
		t.Fatal("expected start error")
	}
}

type runnerFunc func(ctx context.Context) error

func (f runnerFunc) Run(ctx context.Context) error { return f(ctx) }

func TestRunnerService(t *testing.T) {
	t.Run("cancellation", func(t *testing.T) {
		svc := NewRunnerService("intake-watcher", runnerFunc(func(ctx context.Context) error {
			<-ctx.Done()
			return nil
		}))
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		if err := svc.Serve(ctx); !errors.Is(err, context.Canceled) {
			t.Errorf("Serve() = %v, want context.Canceled", err)
		}
	})

	t.Run("early exit is a failure", func(t *testing.T) {
		svc := NewRunnerService("intake-watcher", runnerFunc(func(context.Context) error { return nil }))
		if err := svc.Serve(context.Background()); err == nil {
			t.Fatal("expected failure for an early return")
		}
	})

	t.Run("error is wrapped", func(t *testing.T) {
		want := errors.New("inotify limit")
		svc := NewRunnerService("intake-watcher", runnerFunc(func(context.Context) error { return want }))
		if err := svc.Serve(context.Background()); !errors.Is(err, want) {
			t.Errorf("Serve() = %v, want %v", err, want)
		}
	})
}
