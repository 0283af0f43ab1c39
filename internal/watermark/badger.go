// Pricepipe - Retail Price Extract Ingestion Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/pricepipe

package watermark

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/dgraph-io/badger/v4/options"
	"github.com/goccy/go-json"

	"github.com/tomtom215/pricepipe/internal/logging"
	"github.com/tomtom215/pricepipe/internal/models"
)

const badgerKeyPrefix = "wm:"

// BadgerConfig configures the embedded Badger backend.
type BadgerConfig struct {
	Path         string
	InMemory     bool
	SyncWrites   bool
	Compression  bool
	GCRatio      float64
	CloseTimeout time.Duration
}

// BadgerBackend stores one JSON record per key under the "wm:" prefix.
type BadgerBackend struct {
	db     *badger.DB
	config BadgerConfig

	mu     sync.RWMutex
	closed bool
}

// OpenBadger opens (or creates) a Badger database.
func OpenBadger(cfg BadgerConfig) (*BadgerBackend, error) {
	if !cfg.InMemory && cfg.Path == "" {
		return nil, fmt.Errorf("%w: badger path is required", ErrInvalidDSN)
	}
	if cfg.GCRatio <= 0 || cfg.GCRatio >= 1 {
		cfg.GCRatio = 0.5
	}
	if cfg.CloseTimeout == 0 {
		cfg.CloseTimeout = 30 * time.Second
	}

	opts := badger.DefaultOptions(cfg.Path)
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	}
	opts.SyncWrites = cfg.SyncWrites
	// Watermarks are tiny; keep the footprint small.
	opts.MemTableSize = 8 << 20
	opts.ValueLogFileSize = 64 << 20
	opts.NumCompactors = 2
	if cfg.Compression {
		opts.Compression = options.Snappy
	}
	opts.Logger = nil

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger: %w", err)
	}

	logging.Info().
		Str("path", cfg.Path).
		Bool("in_memory", cfg.InMemory).
		Bool("sync_writes", cfg.SyncWrites).
		Msg("Watermark store opened")

	return &BadgerBackend{db: db, config: cfg}, nil
}

func (b *BadgerBackend) checkOpen() error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return ErrClosed
	}
	return nil
}

// Get implements Backend.
func (b *BadgerBackend) Get(ctx context.Context, key string) (*models.WatermarkRecord, error) {
	if err := b.checkOpen(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var rec *models.WatermarkRecord
	err := b.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(badgerKeyPrefix + key))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			var r models.WatermarkRecord
			if err := json.Unmarshal(val, &r); err != nil {
				return fmt.Errorf("decode watermark %q: %w", key, err)
			}
			rec = &r
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return rec, nil
}

// Put implements Backend.
func (b *BadgerBackend) Put(ctx context.Context, rec *models.WatermarkRecord) error {
	if err := b.checkOpen(); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode watermark: %w", err)
	}
	return b.db.Update(func(txn *badger.Txn) error {
		return txn.SetEntry(badger.NewEntry([]byte(badgerKeyPrefix+rec.Key), data))
	})
}

// List returns every stored record. Used by the CLI for inspection.
func (b *BadgerBackend) List(ctx context.Context) ([]models.WatermarkRecord, error) {
	if err := b.checkOpen(); err != nil {
		return nil, err
	}
	var out []models.WatermarkRecord
	err := b.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(badgerKeyPrefix)
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			err := it.Item().Value(func(val []byte) error {
				var r models.WatermarkRecord
				if err := json.Unmarshal(val, &r); err != nil {
					return err
				}
				out = append(out, r)
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	return out, err
}

// RunGC reclaims value-log space until Badger reports nothing to rewrite.
func (b *BadgerBackend) RunGC() error {
	if err := b.checkOpen(); err != nil {
		return err
	}
	if b.config.InMemory {
		return nil
	}
	for {
		err := b.db.RunValueLogGC(b.config.GCRatio)
		if errors.Is(err, badger.ErrNoRewrite) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("run value log GC: %w", err)
		}
	}
}

// Close closes the database, giving up after CloseTimeout.
func (b *BadgerBackend) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	b.mu.Unlock()

	done := make(chan error, 1)
	go func() { done <- b.db.Close() }()

	select {
	case err := <-done:
		if err != nil {
			return fmt.Errorf("close badger: %w", err)
		}
		logging.Info().Msg("Watermark store closed")
		return nil
	case <-time.After(b.config.CloseTimeout):
		logging.Warn().Dur("timeout", b.config.CloseTimeout).Msg("Watermark store close timed out")
		return fmt.Errorf("badger close timeout after %v", b.config.CloseTimeout)
	}
}
