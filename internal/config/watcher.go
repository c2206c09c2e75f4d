package config

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// SecretWatcher reloads the client API secret when its file changes. fsnotify
// drives reloads; a slow mtime poll runs alongside it in case events are missed.
type SecretWatcher struct {
	path     string
	apply    func(secret string)
	interval time.Duration
	logger   *slog.Logger

	mu      sync.Mutex
	modTime time.Time
	last    string
}

func NewSecretWatcher(path string, apply func(string), logger *slog.Logger) *SecretWatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &SecretWatcher{
		path:     path,
		apply:    apply,
		interval: 60 * time.Second,
		logger:   logger.With(slog.String("component", "secret_watcher")),
	}
}

// WithPollInterval overrides the fallback poll period.
func (w *SecretWatcher) WithPollInterval(d time.Duration) *SecretWatcher {
	w.interval = d
	return w
}

// Start records the current file state and launches the watch loops. They
// stop when ctx is done.
func (w *SecretWatcher) Start(ctx context.Context) {
	if info, err := os.Stat(w.path); err == nil {
		w.modTime = info.ModTime()
	}
	if s, err := ReadSecretFile(w.path); err == nil {
		w.last = s
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		w.logger.Warn("fsnotify unavailable, polling only", slog.Any("error", err))
	} else if err := watcher.Add(filepath.Dir(w.path)); err != nil {
		// Watching the directory survives editors that replace the file.
		w.logger.Warn("cannot watch secret directory, polling only", slog.String("path", w.path), slog.Any("error", err))
		watcher.Close()
		watcher = nil
	}

	if watcher != nil {
		go w.watchLoop(ctx, watcher)
	}
	go w.pollLoop(ctx)
}

func (w *SecretWatcher) watchLoop(ctx context.Context, watcher *fsnotify.Watcher) {
	defer watcher.Close()
	target := filepath.Clean(w.path)
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) {
				// Writers often truncate then write; let them finish.
				time.Sleep(100 * time.Millisecond)
				w.Reload()
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn("watch error", slog.Any("error", err))
		}
	}
}

func (w *SecretWatcher) pollLoop(ctx context.Context) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.ReloadIfChanged()
		}
	}
}

// ReloadIfChanged reloads only when the file's mtime moved.
func (w *SecretWatcher) ReloadIfChanged() {
	info, err := os.Stat(w.path)
	if err != nil {
		return
	}
	w.mu.Lock()
	changed := !info.ModTime().Equal(w.modTime)
	w.mu.Unlock()
	if changed {
		w.Reload()
	}
}

// Reload reads the file and applies a new, non-empty secret. An unreadable or
// empty file keeps the current secret.
func (w *SecretWatcher) Reload() {
	w.mu.Lock()
	defer w.mu.Unlock()

	if info, err := os.Stat(w.path); err == nil {
		w.modTime = info.ModTime()
	}
	secret, err := ReadSecretFile(w.path)
	if err != nil {
		w.logger.Warn("secret reload skipped", slog.Any("error", err))
		return
	}
	if secret == w.last {
		return
	}
	w.last = secret
	w.apply(secret)
	w.logger.Info("client API secret reloaded")
}
