// Pricepipe - Retail Price Extract Ingestion Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/pricepipe

package watermark

import (
	"context"
	"sync"
	"time"

	"github.com/tomtom215/pricepipe/internal/logging"
)

// GarbageCollector is implemented by backends with reclaimable storage.
type GarbageCollector interface {
	RunGC() error
}

// Compactor periodically runs value-log GC on a backend.
type Compactor struct {
	gc       GarbageCollector
	interval time.Duration

	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu      sync.Mutex
	running bool
	lastRun time.Time
	runs    int64
}

// NewCompactor returns a compactor for gc. A non-positive interval
// defaults to 10 minutes.
func NewCompactor(gc GarbageCollector, interval time.Duration) *Compactor {
	if interval <= 0 {
		interval = 10 * time.Minute
	}
	return &Compactor{gc: gc, interval: interval}
}

// Start launches the background loop. Calling Start twice is a no-op.
func (c *Compactor) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.running {
		c.mu.Unlock()
		return nil
	}
	ctx, c.cancel = context.WithCancel(ctx)
	c.running = true
	c.mu.Unlock()

	c.wg.Add(1)
	go c.run(ctx)

	logging.Info().Dur("interval", c.interval).Msg("Watermark compactor started")
	return nil
}

// Stop halts the loop and waits for it to exit.
func (c *Compactor) Stop() error {
	c.mu.Lock()
	if !c.running {
		c.mu.Unlock()
		return nil
	}
	c.cancel()
	c.running = false
	c.mu.Unlock()

	c.wg.Wait()
	logging.Info().Msg("Watermark compactor stopped")
	return nil
}

// IsRunning reports whether the loop is active.
func (c *Compactor) IsRunning() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.running
}

// Runs returns how many GC passes completed.
func (c *Compactor) Runs() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.runs
}

func (c *Compactor) run(ctx context.Context) {
	defer c.wg.Done()

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.Compact()
		}
	}
}

// Compact runs one GC pass.
func (c *Compactor) Compact() {
	start := time.Now()
	if err := c.gc.RunGC(); err != nil {
		logging.Error().Err(err).Msg("Watermark compaction failed")
		return
	}
	c.mu.Lock()
	c.lastRun = time.Now()
	c.runs++
	c.mu.Unlock()
	logging.Debug().Dur("duration", time.Since(start)).Msg("Watermark compaction finished")
}
