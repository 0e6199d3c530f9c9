package config

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/juju/clock"

	"github.com/rhuss/credgate/pkg/debug"
	"github.com/rhuss/credgate/pkg/observability"
)

// DefaultDebounce is the quiet period before a changed file is reloaded.
const DefaultDebounce = 250 * time.Millisecond

// WatcherOptions tunes a Watcher.
type WatcherOptions struct {
	// Debounce collapses bursts of writes into one reload.
	// Default: DefaultDebounce.
	Debounce time.Duration

	Clock  clock.Clock
	Logger *slog.Logger
}

// Watcher reloads a config file when it changes and hands the result to
// a callback. A file that fails to load or validate is logged and the
// callback is not invoked, so the running configuration stays in effect.
//
// The parent directory is watched so that replaced files (editor saves,
// ConfigMap symlink swaps) are still seen.
type Watcher struct {
	path     string
	onReload func(*Config) error
	debounce time.Duration
	clock    clock.Clock
	logger   *slog.Logger

	started chan struct{}
}

// NewWatcher creates a watcher for path. onReload runs on the watcher's
// goroutine, one call at a time.
func NewWatcher(path string, onReload func(*Config) error, opts WatcherOptions) *Watcher {
	if onReload == nil {
		panic("config: NewWatcher called with nil callback")
	}
	if opts.Debounce <= 0 {
		opts.Debounce = DefaultDebounce
	}
	if opts.Clock == nil {
		opts.Clock = clock.WallClock
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Watcher{
		path:     filepath.Clean(path),
		onReload: onReload,
		debounce: opts.Debounce,
		clock:    opts.Clock,
		logger:   opts.Logger,
		started:  make(chan struct{}),
	}
}

// Run watches until ctx is cancelled. It returns an error only when the
// watch cannot be established or fsnotify shuts down underneath it.
func (w *Watcher) Run(ctx context.Context) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating fsnotify watcher: %w", err)
	}
	defer fw.Close()

	dir := filepath.Dir(w.path)
	if err := fw.Add(dir); err != nil {
		return fmt.Errorf("watching %s: %w", dir, err)
	}
	close(w.started)

	w.logger.Info("config watcher started", "path", w.path, "debounce", w.debounce)

	var timer clock.Timer
	fire := make(chan struct{}, 1)
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("config watcher stopped")
			return nil

		case event, ok := <-fw.Events:
			if !ok {
				return fmt.Errorf("fsnotify events channel closed")
			}
			if !w.relevant(event) {
				continue
			}
			debug.Log("config", "file event", "path", event.Name, "op", event.Op.String())

			if timer == nil {
				timer = w.clock.AfterFunc(w.debounce, func() {
					select {
					case fire <- struct{}{}:
					default:
					}
				})
			} else {
				timer.Reset(w.debounce)
			}

		case <-fire:
			w.reload()

		case err, ok := <-fw.Errors:
			if !ok {
				return fmt.Errorf("fsnotify errors channel closed")
			}
			w.logger.Error("config watcher error", "error", err)
		}
	}
}

// relevant reports whether event touches the watched file. ConfigMap
// updates surface as a swap of the "..data" symlink.
func (w *Watcher) relevant(event fsnotify.Event) bool {
	if event.Op == fsnotify.Chmod {
		return false
	}
	return filepath.Clean(event.Name) == w.path || filepath.Base(event.Name) == "..data"
}

func (w *Watcher) reload() {
	cfg, err := Load(w.path)
	if err != nil {
		observability.ConfigReloadsTotal.WithLabelValues("error").Inc()
		w.logger.Warn("config reload rejected, keeping current configuration", "path", w.path, "error", err)
		return
	}
	if err := w.onReload(cfg); err != nil {
		observability.ConfigReloadsTotal.WithLabelValues("error").Inc()
		w.logger.Warn("config reload not applied", "path", w.path, "error", err)
		return
	}
	observability.ConfigReloadsTotal.WithLabelValues("success").Inc()
	w.logger.Info("config reloaded", "path", w.path, "api_keys", len(cfg.Auth.APIKeys))
}
