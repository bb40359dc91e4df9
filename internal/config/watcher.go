package config

import (
	"bytes"
	"context"
	"crypto/sha256"
	"fmt"
	"log/slog"
	"os"
	"sync/atomic"
	"time"
)

// DefaultWatchInterval is how often a [Watcher] stats its file.
const DefaultWatchInterval = 5 * time.Second

// ChangeFunc receives every accepted config change. It runs on the watcher
// goroutine, so calls never overlap.
type ChangeFunc func(old, new *Config, diff ConfigDiff)

// snapshot is one accepted version of the file.
type snapshot struct {
	cfg   *Config
	sum   [sha256.Size]byte
	mtime time.Time
}

// Watcher reloads a config file when it changes on disk. The mtime is checked
// on every tick and the file is only parsed when it moved; a rewrite with
// identical bytes is ignored. Invalid files are logged and skipped, so
// Current always returns a config that passed validation.
type Watcher struct {
	path     string
	interval time.Duration
	onChange ChangeFunc

	latest atomic.Pointer[snapshot]
	cancel context.CancelFunc
	done   chan struct{}
}

// WatcherOption configures a [Watcher].
type WatcherOption func(*Watcher)

// WithInterval overrides [DefaultWatchInterval]. Non-positive values are
// ignored.
func WithInterval(d time.Duration) WatcherOption {
	return func(w *Watcher) {
		if d > 0 {
			w.interval = d
		}
	}
}

// NewWatcher loads path and starts watching it. The initial load must
// succeed. onChange may be nil.
func NewWatcher(path string, onChange ChangeFunc, opts ...WatcherOption) (*Watcher, error) {
	w := &Watcher{path: path, interval: DefaultWatchInterval, onChange: onChange}
	for _, opt := range opts {
		opt(w)
	}

	snap, err := w.read()
	if err != nil {
		return nil, fmt.Errorf("config: watch %s: %w", path, err)
	}
	w.latest.Store(snap)

	ctx, cancel := context.WithCancel(context.Background())
	w.cancel = cancel
	w.done = make(chan struct{})
	go w.loop(ctx)
	return w, nil
}

// Current returns the newest valid config.
func (w *Watcher) Current() *Config {
	return w.latest.Load().cfg
}

// Stop ends watching and waits for a running callback to return. Calling it
// again is a no-op.
func (w *Watcher) Stop() {
	w.cancel()
	<-w.done
}

func (w *Watcher) loop(ctx context.Context) {
	defer close(w.done)
	t := time.NewTicker(w.interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			w.poll()
		}
	}
}

func (w *Watcher) poll() {
	prev := w.latest.Load()

	info, err := os.Stat(w.path)
	if err != nil {
		slog.Warn("config: watched file unavailable", "path", w.path, "err", err)
		return
	}
	if info.ModTime().Equal(prev.mtime) {
		return
	}

	next, err := w.read()
	if err != nil {
		slog.Warn("config: ignoring invalid edit, previous config stays active", "path", w.path, "err", err)
		return
	}
	if next.sum == prev.sum {
		// Same bytes; remember the mtime so the file is not parsed again.
		w.latest.Store(&snapshot{cfg: prev.cfg, sum: prev.sum, mtime: next.mtime})
		return
	}
	w.latest.Store(next)

	diff := Diff(prev.cfg, next.cfg)
	slog.Info("config: reloaded",
		"path", w.path,
		"log_level_changed", diff.LogLevelChanged,
		"params_changed", diff.ParamsChanged,
	)
	if len(diff.RestartRequired) > 0 {
		slog.Warn("config: restart needed to apply changes", "sections", diff.RestartRequired)
	}
	if w.onChange != nil {
		w.onChange(prev.cfg, next.cfg, diff)
	}
}

// read parses and validates the file. The checksum covers the raw bytes, so
// a changed environment variable alone does not count as an edit.
func (w *Watcher) read() (*snapshot, error) {
	info, err := os.Stat(w.path)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(w.path)
	if err != nil {
		return nil, err
	}
	cfg, err := LoadFromReader(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	return &snapshot{cfg: cfg, sum: sha256.Sum256(data), mtime: info.ModTime()}, nil
}
