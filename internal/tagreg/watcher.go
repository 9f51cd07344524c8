package tagreg

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Watcher reloads the registry when any of its config files change. Rapid
// editor write bursts are debounced into a single reload.
type Watcher struct {
	registry *Registry
	paths    []string
	debounce time.Duration
	logger   *slog.Logger
	running  atomic.Bool

	// Reloads counts completed reloads, for tests and the API.
	reloads atomic.Int64
}

// NewWatcher creates a watcher for the given config paths.
func NewWatcher(registry *Registry, paths []string, debounce time.Duration, logger *slog.Logger) *Watcher {
	if debounce <= 0 {
		debounce = 200 * time.Millisecond
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Watcher{registry: registry, paths: paths, debounce: debounce, logger: logger}
}

// Start begins watching. It returns once the underlying watches are
// established; watching stops when ctx is cancelled.
func (w *Watcher) Start(ctx context.Context) error {
	if !w.running.CompareAndSwap(false, true) {
		return fmt.Errorf("tagreg: watcher already running")
	}

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		w.running.Store(false)
		return fmt.Errorf("tagreg: create watcher: %w", err)
	}

	// Watch parent directories: hosts replace config files by rename, which
	// drops a watch on the file itself.
	dirs := map[string]struct{}{}
	for _, p := range w.paths {
		dirs[filepath.Dir(p)] = struct{}{}
	}
	for d := range dirs {
		if err := fw.Add(d); err != nil {
			w.logger.Warn("tagreg: cannot watch dir", "dir", d, "error", err)
		}
	}

	watched := map[string]struct{}{}
	for _, p := range w.paths {
		watched[filepath.Clean(p)] = struct{}{}
	}

	go func() {
		defer fw.Close()
		defer w.running.Store(false)

		var timer *time.Timer
		var fire <-chan time.Time
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-fw.Events:
				if !ok {
					return
				}
				if _, ours := watched[filepath.Clean(ev.Name)]; !ours {
					continue
				}
				if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
					continue
				}
				if timer == nil {
					timer = time.NewTimer(w.debounce)
					fire = timer.C
				} else {
					timer.Reset(w.debounce)
				}
			case err, ok := <-fw.Errors:
				if !ok {
					return
				}
				w.logger.Warn("tagreg: watch error", "error", err)
			case <-fire:
				timer = nil
				fire = nil
				w.registry.Load(w.paths...)
				w.reloads.Add(1)
			}
		}
	}()
	return nil
}

// Reloads returns the number of completed reloads.
func (w *Watcher) Reloads() int64 { return w.reloads.Load() }
