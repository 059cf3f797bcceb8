package workspace

import (
	"context"
	"errors"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/Strob0t/TaskLoom/internal/domain/patch"
)

// ChangeLog receives settled change notifications destined for the event
// log.
type ChangeLog interface {
	AppendChanged(ctx context.Context, path, newRevision, op string) error
}

// ignoredDirs are never watched and never reported.
var ignoredDirs = map[string]struct{}{
	".git":         {},
	".taskloom":    {},
	".hg":          {},
	"node_modules": {},
}

// Watcher observes the workspace recursively and reports settled file
// changes as artifact.changed events. Raw fsnotify events are debounced per
// path: editors produce bursts of writes and renames for one logical save,
// and only the settled result matters for drift detection.
type Watcher struct {
	store     *Store
	artifacts ChangeLog
	debounce  time.Duration
	logger    *slog.Logger

	mu      sync.Mutex
	pending map[string]*time.Timer

	fw   *fsnotify.Watcher
	stop context.CancelFunc
	done chan struct{}
}

// NewWatcher creates a Watcher over the store's root.
func NewWatcher(store *Store, artifacts ChangeLog, debounce time.Duration, logger *slog.Logger) *Watcher {
	if debounce <= 0 {
		debounce = 500 * time.Millisecond
	}
	return &Watcher{
		store:     store,
		artifacts: artifacts,
		debounce:  debounce,
		logger:    logger.With("component", "watcher"),
		pending:   make(map[string]*time.Timer),
	}
}

// Start begins watching. It walks the tree once to register every
// directory; new directories are added as they appear.
func (w *Watcher) Start(ctx context.Context) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	w.fw = fw

	if err := w.addRecursive(w.store.Root()); err != nil {
		fw.Close()
		return err
	}

	ctx, w.stop = context.WithCancel(ctx)
	w.done = make(chan struct{})
	go w.run(ctx)
	w.logger.Info("workspace watcher started", "root", w.store.Root(), "debounce", w.debounce)
	return nil
}

// Stop halts the watcher and flushes nothing: pending debounce timers are
// discarded, the next start re-fingerprints on demand.
func (w *Watcher) Stop() {
	if w.stop != nil {
		w.stop()
		<-w.done
	}
	w.mu.Lock()
	for path, t := range w.pending {
		t.Stop()
		delete(w.pending, path)
	}
	w.mu.Unlock()
	if w.fw != nil {
		w.fw.Close()
	}
}

func (w *Watcher) run(ctx context.Context) {
	defer close(w.done)

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-w.fw.Events:
			if !ok {
				return
			}
			w.handle(ctx, ev)
		case err, ok := <-w.fw.Errors:
			if !ok {
				return
			}
			w.logger.Error("watch error", "error", err)
		}
	}
}

func (w *Watcher) handle(ctx context.Context, ev fsnotify.Event) {
	rel, ok := w.store.Rel(ev.Name)
	if !ok || ignored(rel) {
		return
	}

	// New directories must be registered before events inside them fire.
	if ev.Op.Has(fsnotify.Create) {
		if info, err := os.Stat(ev.Name); err == nil && info.IsDir() {
			if err := w.addRecursive(ev.Name); err != nil {
				w.logger.Error("watch new dir", "path", rel, "error", err)
			}
			return
		}
	}

	if !ev.Op.Has(fsnotify.Create) && !ev.Op.Has(fsnotify.Write) &&
		!ev.Op.Has(fsnotify.Remove) && !ev.Op.Has(fsnotify.Rename) {
		return
	}

	w.mu.Lock()
	if t, exists := w.pending[rel]; exists {
		t.Stop()
	}
	w.pending[rel] = time.AfterFunc(w.debounce, func() {
		w.mu.Lock()
		delete(w.pending, rel)
		w.mu.Unlock()
		w.settle(ctx, rel)
	})
	w.mu.Unlock()
}

// settle fingerprints the path after the burst quieted down and appends the
// change notification.
func (w *Watcher) settle(ctx context.Context, rel string) {
	abs, err := w.store.Resolve(rel)
	if err != nil {
		return
	}

	content, err := os.ReadFile(abs)
	switch {
	case err == nil:
		if err := w.artifacts.AppendChanged(ctx, rel, patch.Revision(content), "write"); err != nil {
			w.logger.Error("append artifact change", "path", rel, "error", err)
		}
	case errors.Is(err, os.ErrNotExist):
		if err := w.artifacts.AppendChanged(ctx, rel, "", "remove"); err != nil {
			w.logger.Error("append artifact removal", "path", rel, "error", err)
		}
	default:
		w.logger.Error("fingerprint artifact", "path", rel, "error", err)
	}
}

func (w *Watcher) addRecursive(root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil // unreadable subtree, skip
		}
		if !d.IsDir() {
			return nil
		}
		if _, skip := ignoredDirs[d.Name()]; skip && path != root {
			return filepath.SkipDir
		}
		return w.fw.Add(path)
	})
}

func ignored(rel string) bool {
	for _, part := range strings.Split(filepath.ToSlash(rel), "/") {
		if _, skip := ignoredDirs[part]; skip {
			return true
		}
	}
	return false
}
