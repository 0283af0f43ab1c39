// Pricepipe - Retail Price Extract Ingestion Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/pricepipe

package consumer

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/tomtom215/pricepipe/internal/logging"
	"github.com/tomtom215/pricepipe/internal/queue"
)

// Pool runs independent workers over one queue. Workers share nothing but
// the queue and the processor's store.
type Pool struct {
	cfg  Config
	q    queue.Queue
	proc MessageProcessor

	mu            sync.Mutex
	workerCancels []context.CancelFunc
	wg            sync.WaitGroup
}

// NewPool returns a pool of cfg.Workers workers.
func NewPool(cfg Config, q queue.Queue, proc MessageProcessor) *Pool {
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	return &Pool{cfg: cfg, q: q, proc: proc}
}

// Start launches the workers in the background.
func (p *Pool) Start(ctx context.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for i := 0; i < p.cfg.Workers; i++ {
		wctx, cancel := context.WithCancel(ctx)
		p.workerCancels = append(p.workerCancels, cancel)
		w := NewWorker(len(p.workerCancels), p.q, p.proc, p.cfg)
		p.wg.Add(1)
		go func() {
			defer p.wg.Done()
			if err := w.Run(wctx); err != nil && !errors.Is(err, context.Canceled) {
				logging.Error().Err(err).Msg("consumer worker exited")
			}
		}()
	}
	logging.Info().Int("worker_count", len(p.workerCancels)).Msg("consumer workers started")
}

// Stop cancels every worker and waits for in-flight messages to finish.
func (p *Pool) Stop() {
	p.mu.Lock()
	for _, c := range p.workerCancels {
		c()
	}
	p.workerCancels = nil
	p.mu.Unlock()
	p.wg.Wait()
}

// WorkerCount returns the number of running workers.
func (p *Pool) WorkerCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.workerCancels)
}

// Serve runs the pool until ctx is done.
func (p *Pool) Serve(ctx context.Context) error {
	p.Start(ctx)
	<-ctx.Done()
	p.Stop()
	return ctx.Err()
}

// String names the pool for the supervisor.
func (p *Pool) String() string {
	return fmt.Sprintf("consumer-pool(%d)", p.cfg.Workers)
}

// RunOnce has every worker poll once, concurrently, and returns the
// combined stats. Receive errors are joined.
func (p *Pool) RunOnce(ctx context.Context) (Stats, error) {
	var (
		mu    sync.Mutex
		total Stats
		errs  []error
		wg    sync.WaitGroup
	)
	for i := 1; i <= p.cfg.Workers; i++ {
		w := NewWorker(i, p.q, p.proc, p.cfg)
		wg.Add(1)
		go func() {
			defer wg.Done()
			stats, err := w.RunOnce(ctx)
			mu.Lock()
			defer mu.Unlock()
			total.Add(stats)
			if err != nil {
				errs = append(errs, err)
			}
		}()
	}
	wg.Wait()
	return total, errors.Join(errs...)
}

// Drain polls until a round receives nothing or ctx is done.
func (p *Pool) Drain(ctx context.Context) (Stats, error) {
	var total Stats
	for {
		stats, err := p.RunOnce(ctx)
		total.Add(stats)
		if err != nil {
			return total, err
		}
		if stats.Received == 0 {
			return total, nil
		}
	}
}
