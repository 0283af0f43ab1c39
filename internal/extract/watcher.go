// Pricepipe - Retail Price Extract Ingestion Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/pricepipe

package extract

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"

	"github.com/tomtom215/pricepipe/internal/logging"
	"github.com/tomtom215/pricepipe/internal/metrics"
)

// Handler processes one extract file.
type Handler func(ctx context.Context, path string) error

// WatcherConfig configures the inbox watcher.
type WatcherConfig struct {
	Dir          string        `koanf:"dir"`
	Debounce     time.Duration `koanf:"debounce"`
	ProcessedDir string        `koanf:"processed_dir"` // files are moved here after success, if set
	FailedDir    string        `koanf:"failed_dir"`    // files are moved here after failure, if set
	Extensions   []string      `koanf:"extensions"`
}

// DefaultWatcherConfig returns defaults for an inbox at dir.
func DefaultWatcherConfig(dir string) WatcherConfig {
	return WatcherConfig{
		Dir:        dir,
		Debounce:   500 * time.Millisecond,
		Extensions: []string{".gz", ".zip", ".xml"},
	}
}

// Watcher feeds new files under an inbox directory to a Handler. Existing
// files are handled on start. Events for one path are debounced so a file
// is handled once its writer has gone quiet.
type Watcher struct {
	cfg    WatcherConfig
	handle Handler
	log    zerolog.Logger

	mu      sync.Mutex
	pending map[string]*time.Timer
	ready   chan string
	done    chan struct{}
}

// NewWatcher creates a watcher. Run starts it.
func NewWatcher(cfg WatcherConfig, handle Handler) (*Watcher, error) {
	if cfg.Dir == "" {
		return nil, errors.New("watcher: inbox directory is required")
	}
	if handle == nil {
		return nil, errors.New("watcher: handler is required")
	}
	if cfg.Debounce <= 0 {
		cfg.Debounce = 500 * time.Millisecond
	}
	if len(cfg.Extensions) == 0 {
		cfg.Extensions = DefaultWatcherConfig(cfg.Dir).Extensions
	}
	return &Watcher{
		cfg:     cfg,
		handle:  handle,
		log:     logging.WithComponent("intake"),
		pending: make(map[string]*time.Timer),
		ready:   make(chan string, 64),
		done:    make(chan struct{}),
	}, nil
}

// Run watches until ctx is done.
func (w *Watcher) Run(ctx context.Context) error {
	if err := os.MkdirAll(w.cfg.Dir, 0o750); err != nil {
		return fmt.Errorf("create inbox: %w", err)
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create fsnotify watcher: %w", err)
	}
	defer fsw.Close()
	defer w.stopTimers()

	if err := w.addTree(fsw, w.cfg.Dir); err != nil {
		return err
	}
	w.log.Info().Str("dir", w.cfg.Dir).Msg("inbox watcher started")

	for {
		select {
		case <-ctx.Done():
			w.log.Info().Msg("inbox watcher stopped")
			return nil
		case ev, ok := <-fsw.Events:
			if !ok {
				return errors.New("fsnotify event channel closed")
			}
			w.onEvent(fsw, ev)
		case err, ok := <-fsw.Errors:
			if !ok {
				return errors.New("fsnotify error channel closed")
			}
			w.log.Warn().Err(err).Msg("inbox watcher error")
		case path := <-w.ready:
			w.process(ctx, path)
		}
	}
}

func (w *Watcher) onEvent(fsw *fsnotify.Watcher, ev fsnotify.Event) {
	if !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Write) {
		return
	}
	info, err := os.Stat(ev.Name)
	if err != nil {
		return
	}
	if info.IsDir() {
		if err := w.addTree(fsw, ev.Name); err != nil {
			w.log.Warn().Err(err).Str("dir", ev.Name).Msg("cannot watch new directory")
		}
		return
	}
	if w.wanted(ev.Name) {
		w.schedule(ev.Name)
	}
}

// addTree watches root and its subdirectories and schedules the files
// already present.
func (w *Watcher) addTree(fsw *fsnotify.Watcher, root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if d.IsDir() {
			if w.excluded(path) {
				return filepath.SkipDir
			}
			if err := fsw.Add(path); err != nil {
				return fmt.Errorf("watch %s: %w", path, err)
			}
			return nil
		}
		if w.wanted(path) {
			w.schedule(path)
		}
		return nil
	})
}

func (w *Watcher) wanted(path string) bool {
	if w.excluded(path) {
		return false
	}
	lower := strings.ToLower(path)
	for _, ext := range w.cfg.Extensions {
		if strings.HasSuffix(lower, strings.ToLower(ext)) {
			return true
		}
	}
	return false
}

func (w *Watcher) excluded(path string) bool {
	for _, dir := range []string{w.cfg.ProcessedDir, w.cfg.FailedDir} {
		if dir == "" {
			continue
		}
		if rel, err := filepath.Rel(dir, path); err == nil && !strings.HasPrefix(rel, "..") {
			return true
		}
	}
	return false
}

func (w *Watcher) schedule(path string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if t, ok := w.pending[path]; ok {
		t.Reset(w.cfg.Debounce)
		return
	}
	w.pending[path] = time.AfterFunc(w.cfg.Debounce, func() {
		w.mu.Lock()
		delete(w.pending, path)
		w.mu.Unlock()
		select {
		case w.ready <- path:
		case <-w.done:
		}
	})
}

func (w *Watcher) stopTimers() {
	w.mu.Lock()
	defer w.mu.Unlock()
	close(w.done)
	for path, t := range w.pending {
		t.Stop()
		delete(w.pending, path)
	}
}

func (w *Watcher) process(ctx context.Context, path string) {
	if _, err := os.Stat(path); err != nil {
		return
	}
	start := time.Now()
	err := w.handle(ctx, path)
	if err != nil {
		metrics.RecordIntakeFile("failed")
		w.log.Error().Err(err).Str("file", path).Msg("extract file failed")
		w.move(path, w.cfg.FailedDir)
		return
	}
	metrics.RecordIntakeFile("handled")
	w.log.Info().Str("file", path).Dur("elapsed", time.Since(start)).Msg("extract file handled")
	w.move(path, w.cfg.ProcessedDir)
}

func (w *Watcher) move(path, destDir string) {
	if destDir == "" {
		return
	}
	rel, err := filepath.Rel(w.cfg.Dir, path)
	if err != nil || strings.HasPrefix(rel, "..") {
		rel = filepath.Base(path)
	}
	dest := filepath.Join(destDir, rel)
	if err := os.MkdirAll(filepath.Dir(dest), 0o750); err != nil {
		w.log.Warn().Err(err).Str("file", path).Msg("cannot create destination directory")
		return
	}
	if err := os.Rename(path, dest); err != nil {
		w.log.Warn().Err(err).Str("file", path).Str("dest", dest).Msg("cannot move extract file")
	}
}
