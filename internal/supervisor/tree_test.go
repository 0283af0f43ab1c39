// Pricepipe - Retail Price Extract Ingestion Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/pricepipe

package supervisor

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/tomtom215/pricepipe/internal/consumer"
	"github.com/tomtom215/pricepipe/internal/queue"
)

// mockService runs until canceled, optionally failing its first starts.
type mockService struct {
	name     string
	starts   atomic.Int32
	stops    atomic.Int32
	failures int32
}

func (m *mockService) Serve(ctx context.Context) error {
	n := m.starts.Add(1)
	defer m.stops.Add(1)
	if n <= m.failures {
		return errors.New("simulated failure")
	}
	<-ctx.Done()
	return ctx.Err()
}

func (m *mockService) String() string { return m.name }

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met before timeout")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestNewSupervisorTree_Defaults(t *testing.T) {
	tree, err := NewSupervisorTree(quietLogger(), TreeConfig{})
	if err != nil {
		t.Fatalf("NewSupervisorTree: %v", err)
	}
	if got, want := tree.Config(), DefaultTreeConfig(); got != want {
		t.Errorf("Config() = %+v, want %+v", got, want)
	}

	tree, err = NewSupervisorTree(quietLogger(), TreeConfig{FailureBackoff: time.Second})
	if err != nil {
		t.Fatalf("NewSupervisorTree: %v", err)
	}
	if tree.Config().FailureBackoff != time.Second {
		t.Errorf("FailureBackoff = %v, want 1s", tree.Config().FailureBackoff)
	}
}

func TestSupervisorTree_Lifecycle(t *testing.T) {
	tree, err := NewSupervisorTree(quietLogger(), TreeConfig{ShutdownTimeout: time.Second})
	if err != nil {
		t.Fatal(err)
	}
	data := &mockService{name: "compactor"}
	messaging := &mockService{name: "consumer"}
	api := &mockService{name: "ops-http"}
	tree.AddDataService(data)
	tree.AddMessagingService(messaging)
	tree.AddAPIService(api)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := tree.ServeBackground(ctx)

	waitFor(t, 2*time.Second, func() bool {
		return data.starts.Load() == 1 && messaging.starts.Load() == 1 && api.starts.Load() == 1
	})

	cancel()
	select {
	case <-errCh:
	case <-time.After(3 * time.Second):
		t.Fatal("tree did not stop")
	}
	for _, s := range []*mockService{data, messaging, api} {
		if s.stops.Load() != 1 {
			t.Errorf("%s stopped %d times, want 1", s.name, s.stops.Load())
		}
	}
	if report, err := tree.UnstoppedServiceReport(); err != nil || len(report) != 0 {
		t.Errorf("UnstoppedServiceReport() = %v, %v", report, err)
	}
}

func TestSupervisorTree_RestartsFailedService(t *testing.T) {
	tree, err := NewSupervisorTree(quietLogger(), TreeConfig{
		FailureThreshold: 10,
		FailureBackoff:   10 * time.Millisecond,
		ShutdownTimeout:  time.Second,
	})
	if err != nil {
		t.Fatal(err)
	}
	flaky := &mockService{name: "flaky", failures: 2}
	steady := &mockService{name: "ops-http"}
	tree.AddMessagingService(flaky)
	tree.AddAPIService(steady)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	tree.ServeBackground(ctx)

	waitFor(t, 3*time.Second, func() bool { return flaky.starts.Load() >= 3 })
	if steady.starts.Load() != 1 {
		t.Errorf("api service restarted %d times; messaging failures must not affect it", steady.starts.Load()-1)
	}
}

func TestSupervisorTree_RemoveMessagingService(t *testing.T) {
	tree, err := NewSupervisorTree(quietLogger(), TreeConfig{ShutdownTimeout: time.Second})
	if err != nil {
		t.Fatal(err)
	}
	svc := &mockService{name: "watcher"}
	token := tree.AddMessagingService(svc)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	tree.ServeBackground(ctx)
	waitFor(t, 2*time.Second, func() bool { return svc.starts.Load() == 1 })

	if err := tree.RemoveMessagingService(token); err != nil {
		t.Fatalf("RemoveMessagingService: %v", err)
	}
	waitFor(t, 2*time.Second, func() bool { return svc.stops.Load() == 1 })
}

// countingProcessor persists everything.
type countingProcessor struct {
	mu   sync.Mutex
	seen int
}

func (p *countingProcessor) Process(_ context.Context, _ queue.Message) consumer.Outcome {
	p.mu.Lock()
	p.seen++
	p.mu.Unlock()
	return consumer.OutcomePersisted
}

func (p *countingProcessor) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.seen
}

func TestSupervisorTree_RunsConsumerPool(t *testing.T) {
	q := queue.NewMemoryQueue()
	for i := 0; i < 5; i++ {
		if _, err := q.Send(context.Background(), []byte(`{}`)); err != nil {
			t.Fatal(err)
		}
	}

	cfg := consumer.DefaultConfig()
	cfg.ReceiveWait = 10 * time.Millisecond
	cfg.IdleBackoff = 10 * time.Millisecond
	proc := &countingProcessor{}
	pool := consumer.NewPool(cfg, q, proc)

	tree, err := NewSupervisorTree(quietLogger(), TreeConfig{ShutdownTimeout: time.Second})
	if err != nil {
		t.Fatal(err)
	}
	tree.AddMessagingService(pool)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := tree.ServeBackground(ctx)

	waitFor(t, 3*time.Second, func() bool { return proc.count() == 5 && q.Len() == 0 })
	cancel()
	<-errCh
}
