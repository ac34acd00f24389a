// internal/watch/watcher.go
package watch

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"docdelta/internal/logging"
	"docdelta/internal/source"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

const DefaultDebounce = 500 * time.Millisecond

// Handler receives the relative paths touched during one quiet period.
// An error is logged and watching continues.
type Handler func(ctx context.Context, paths []string) error

// Watcher batches filesystem events under a root and hands each settled
// batch to a Handler, typically a re-plan.
type Watcher struct {
	Root     string
	Policy   *source.Policy
	Debounce time.Duration

	watcher *fsnotify.Watcher
	pending map[string]bool
	logger  *logging.Logger
}

func New(root string, policy *source.Policy, debounce time.Duration, logger *logging.Logger) (*Watcher, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("getting absolute path for root %s: %w", root, err)
	}
	if policy == nil {
		policy = source.DefaultPolicy()
	}
	if debounce <= 0 {
		debounce = DefaultDebounce
	}

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("creating file watcher: %w", err)
	}

	w := &Watcher{
		Root:     abs,
		Policy:   policy,
		Debounce: debounce,
		watcher:  fw,
		pending:  make(map[string]bool),
		logger:   logger.Or(),
	}
	if err := w.addTree(abs, false); err != nil {
		fw.Close()
		return nil, fmt.Errorf("watching %s: %w", abs, err)
	}
	return w, nil
}

// addTree watches dir and its subdirectories. With record set, eligible
// files already inside are queued, covering files written before the watch
// was in place.
func (w *Watcher) addTree(dir string, record bool) error {
	return filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if path != w.Root && source.ShouldIgnoreDir(d.Name()) {
				return filepath.SkipDir
			}
			if err := w.watcher.Add(path); err != nil {
				return fmt.Errorf("adding directory to watcher: %w", err)
			}
			return nil
		}
		if record {
			if rel, ok := w.relative(path); ok {
				w.pending[rel] = true
			}
		}
		return nil
	})
}

// relative returns the slash-separated path under Root if the policy
// admits it.
func (w *Watcher) relative(path string) (string, bool) {
	rel, err := filepath.Rel(w.Root, path)
	if err != nil {
		return "", false
	}
	rel = filepath.ToSlash(rel)
	if rel == "." || strings.HasPrefix(rel, "../") {
		return "", false
	}
	for _, part := range strings.Split(rel, "/") {
		if source.ShouldIgnoreDir(part) {
			return "", false
		}
	}
	if !w.Policy.Allow(rel) {
		return "", false
	}
	return rel, true
}

func (w *Watcher) handleEvent(event fsnotify.Event) bool {
	if event.Op&fsnotify.Create == fsnotify.Create {
		if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
			if rel, err := filepath.Rel(w.Root, event.Name); err == nil && source.ShouldIgnoreDir(filepath.Base(rel)) {
				return false
			}
			before := len(w.pending)
			if err := w.addTree(event.Name, true); err != nil {
				w.logger.Error("adding new directory to watcher", zap.String("path", event.Name), zap.Error(err))
			}
			return len(w.pending) > before
		}
	}
	if event.Op == fsnotify.Chmod {
		return false
	}

	rel, ok := w.relative(event.Name)
	if !ok {
		return false
	}
	w.pending[rel] = true
	return true
}

func (w *Watcher) flush() []string {
	paths := make([]string, 0, len(w.pending))
	for p := range w.pending {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	w.pending = make(map[string]bool)
	return paths
}

// Run processes events until ctx is done. Handler calls happen on this
// goroutine, so batches never overlap.
func (w *Watcher) Run(ctx context.Context, h Handler) error {
	timer := time.NewTimer(w.Debounce)
	timer.Stop()

	w.logger.Info("watching for changes", zap.String("root", w.Root), zap.Duration("debounce", w.Debounce))

	for {
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()

		case event, ok := <-w.watcher.Events:
			if !ok {
				return nil
			}
			if !w.handleEvent(event) {
				continue
			}
			timer.Reset(w.Debounce)

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return nil
			}
			w.logger.Error("watcher error", zap.Error(err))

		case <-timer.C:
			paths := w.flush()
			if len(paths) == 0 {
				continue
			}
			w.logger.Debug("changes settled", zap.Strings("paths", paths))
			if err := h(ctx, paths); err != nil {
				w.logger.Error("change handler failed", zap.Error(err))
			}
		}
	}
}

func (w *Watcher) Close() error {
	return w.watcher.Close()
}
