package watch

import (
	"context"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/openfroyo/rulegraph/pkg/telemetry"
)

// Handler receives a batch of changed paths, relative to the build root and
// sorted.
type Handler func(ctx context.Context, changes []string)

// Watcher watches a build root recursively for file changes.
type Watcher struct {
	root     string
	debounce time.Duration
	ignored  func(rel string, dir bool) bool
	logger   *telemetry.Logger

	watcher *fsnotify.Watcher

	mu      sync.Mutex
	pending map[string]struct{}
	timer   *time.Timer
}

// NewWatcher creates a watcher for root. ignored, when set, excludes paths
// relative to root from watching.
func NewWatcher(root string, debounce time.Duration, ignored func(rel string, dir bool) bool, logger *telemetry.Logger) (*Watcher, error) {
	if logger == nil {
		logger = telemetry.NopLogger()
	}
	if ignored == nil {
		ignored = func(string, bool) bool { return false }
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve build root: %w", err)
	}
	return &Watcher{
		root:     abs,
		debounce: debounce,
		ignored:  ignored,
		logger:   logger.NewComponentLogger("watch"),
		pending:  make(map[string]struct{}),
	}, nil
}

// Start begins watching and calls handler with each batch of changes until
// ctx is done or Close is called. It returns once every directory is watched.
func (w *Watcher) Start(ctx context.Context, handler Handler) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	w.watcher = watcher

	if err := w.watchDirectory(w.root); err != nil {
		_ = watcher.Close()
		return fmt.Errorf("failed to watch build root: %w", err)
	}

	go w.processEvents(ctx, handler)

	w.logger.WithField("root", w.root).Info("started watching build root")
	return nil
}

// Close stops watching.
func (w *Watcher) Close() error {
	w.mu.Lock()
	if w.timer != nil {
		w.timer.Stop()
	}
	w.mu.Unlock()
	if w.watcher == nil {
		return nil
	}
	return w.watcher.Close()
}

// watchDirectory adds dirPath and every directory below it that is not
// ignored.
func (w *Watcher) watchDirectory(dirPath string) error {
	return filepath.WalkDir(dirPath, func(p string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if rel, ok := w.relative(p); ok && rel != "." && w.ignored(rel, true) {
			return filepath.SkipDir
		}
		return w.watcher.Add(p)
	})
}

func (w *Watcher) relative(p string) (string, bool) {
	rel, err := filepath.Rel(w.root, p)
	if err != nil {
		return "", false
	}
	return filepath.ToSlash(rel), true
}

// processEvents collects events into the pending batch.
func (w *Watcher) processEvents(ctx context.Context, handler Handler) {
	for {
		select {
		case <-ctx.Done():
			_ = w.Close()
			return

		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			w.handleEvent(ctx, event, handler)

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.WithError(err).Error("watcher error")
		}
	}
}

func (w *Watcher) handleEvent(ctx context.Context, event fsnotify.Event, handler Handler) {
	if event.Op == fsnotify.Chmod {
		return
	}
	rel, ok := w.relative(event.Name)
	if !ok || rel == "." {
		return
	}

	dir := false
	if event.Op&fsnotify.Create != 0 {
		if info, err := os.Lstat(event.Name); err == nil && info.IsDir() {
			dir = true
		}
	}
	if w.ignored(rel, dir) {
		return
	}
	if dir {
		if err := w.watchDirectory(event.Name); err != nil {
			w.logger.WithError(err).WithField("path", rel).Warn("failed to watch new directory")
		}
	}

	w.logger.WithFields(map[string]interface{}{
		"path": rel,
		"op":   event.Op.String(),
	}).Debug("file changed")

	w.mu.Lock()
	defer w.mu.Unlock()
	w.pending[rel] = struct{}{}
	// Entries appearing or disappearing change the listing of the parent.
	if event.Op&(fsnotify.Create|fsnotify.Remove|fsnotify.Rename) != 0 {
		if parent := path.Dir(rel); parent != "." {
			w.pending[parent] = struct{}{}
		}
	}
	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(w.debounce, func() { w.flush(ctx, handler) })
}

func (w *Watcher) flush(ctx context.Context, handler Handler) {
	w.mu.Lock()
	changes := make([]string, 0, len(w.pending))
	for p := range w.pending {
		changes = append(changes, p)
	}
	w.pending = make(map[string]struct{})
	w.mu.Unlock()

	if len(changes) == 0 || ctx.Err() != nil {
		return
	}
	sort.Strings(changes)
	handler(ctx, changes)
}
