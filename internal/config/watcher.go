package config

import (
	"bytes"
	"context"
	"crypto/sha256"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"
)

// ChangeFunc receives a newly loaded config together with its predecessor.
type ChangeFunc func(old, new *Config, diff ConfigDiff)

// stamp identifies one revision of the config file.
type stamp struct {
	modTime time.Time
	sum     [sha256.Size]byte
}

// Watcher polls a config file and hands every valid new revision to a
// [ChangeFunc]. A revision that fails to parse or validate is skipped and
// the previous config stays current.
type Watcher struct {
	path     string
	interval time.Duration
	onChange ChangeFunc

	mu      sync.Mutex
	current *Config
	seen    stamp

	cancel context.CancelFunc
	done   chan struct{}
}

// WatcherOption configures a [Watcher].
type WatcherOption func(*Watcher)

// WithInterval sets how often the file is polled. Default: 5s.
func WithInterval(d time.Duration) WatcherOption {
	return func(w *Watcher) {
		if d > 0 {
			w.interval = d
		}
	}
}

// NewWatcher loads path and starts polling it until Stop is called.
func NewWatcher(path string, onChange ChangeFunc, opts ...WatcherOption) (*Watcher, error) {
	w := &Watcher{
		path:     path,
		interval: 5 * time.Second,
		onChange: onChange,
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(w)
	}

	cfg, st, err := w.read()
	if err != nil {
		return nil, fmt.Errorf("config: watch %s: %w", path, err)
	}
	w.current, w.seen = cfg, st

	ctx, cancel := context.WithCancel(context.Background())
	w.cancel = cancel
	go w.loop(ctx)
	return w, nil
}

// Current returns the config in effect.
func (w *Watcher) Current() *Config {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.current
}

// Stop ends polling and waits for a running reload to finish. It may be
// called more than once.
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
			w.reload()
		}
	}
}

// reload applies the file if it changed since the last revision seen and
// reports whether a new config took effect. A bare mtime bump only updates
// the stamp.
func (w *Watcher) reload() bool {
	info, err := os.Stat(w.path)
	if err != nil {
		slog.Warn("config: stat failed", "path", w.path, "error", err)
		return false
	}
	w.mu.Lock()
	unchanged := info.ModTime().Equal(w.seen.modTime)
	w.mu.Unlock()
	if unchanged {
		return false
	}

	cfg, st, err := w.read()
	if err != nil {
		slog.Warn("config: ignoring invalid revision", "path", w.path, "error", err)
		return false
	}

	w.mu.Lock()
	if st.sum == w.seen.sum {
		w.seen = st
		w.mu.Unlock()
		return false
	}
	prev := w.current
	w.current, w.seen = cfg, st
	w.mu.Unlock()

	d := Diff(prev, cfg)
	slog.Info("config: reloaded",
		"path", w.path,
		"session_changed", d.SessionChanged,
		"glossary_changed", d.GlossaryChanged,
		"log_level_changed", d.LogLevelChanged,
	)
	if len(d.RestartRequired) > 0 {
		slog.Warn("config: restart required for some changes", "sections", d.RestartRequired)
	}
	if w.onChange != nil {
		w.onChange(prev, cfg, d)
	}
	return true
}

func (w *Watcher) read() (*Config, stamp, error) {
	info, err := os.Stat(w.path)
	if err != nil {
		return nil, stamp{}, err
	}
	data, err := os.ReadFile(w.path)
	if err != nil {
		return nil, stamp{}, err
	}
	cfg, err := LoadFromReader(bytes.NewReader(data))
	if err != nil {
		return nil, stamp{}, err
	}
	return cfg, stamp{modTime: info.ModTime(), sum: sha256.Sum256(data)}, nil
}
