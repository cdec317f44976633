package workspace

import (
	"context"
	"io/fs"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// debounceWindow batches rapid successive writes to the same file (an
// editor's atomic save is often a remove+create pair) into one reindex.
const debounceWindow = 300 * time.Millisecond

// Watcher notices GitLab CI YAML files changing on disk outside the
// editor's own didChange/didSave notifications - a checkout, a rebase, a
// teammate's external tool - and reindexes the workspaces that contain
// them. Started for a root directory by its caller through Start (the
// server does so in initialize, after DiscoverRoot).
type Watcher struct {
	reg *Registry
	log *zap.Logger
	fsw *fsnotify.Watcher

	mu      sync.Mutex
	pending map[string]time.Time
	stopCh  chan struct{}
	doneCh  chan struct{}
}

// NewWatcher builds a Watcher bound to reg; call Start to begin watching
// a root directory.
func NewWatcher(reg *Registry, log *zap.Logger) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	return &Watcher{
		reg:     reg,
		log:     log,
		fsw:     fsw,
		pending: make(map[string]time.Time),
		stopCh:  make(chan struct{}),
		doneCh:  make(chan struct{}),
	}, nil
}

// Start adds every directory under rootDir to the watch list (fsnotify
// has no recursive mode of its own) and begins the event loop in a
// goroutine. Safe to call once per Watcher.
func (w *Watcher) Start(ctx context.Context, rootDir string) error {
	err := filepath.WalkDir(rootDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if d.Name() == ".git" || d.Name() == "node_modules" {
			return filepath.SkipDir
		}
		return w.fsw.Add(path)
	})
	if err != nil {
		return err
	}
	go w.run(ctx)
	return nil
}

// Stop terminates the event loop and releases the underlying fsnotify
// watcher.
func (w *Watcher) Stop() error {
	close(w.stopCh)
	<-w.doneCh
	return w.fsw.Close()
}

func (w *Watcher) run(ctx context.Context) {
	defer close(w.doneCh)
	ticker := time.NewTicker(debounceWindow)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopCh:
			return
		case event, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			w.noteEvent(event)
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.log.Warn("watch error", zap.Error(err))
		case <-ticker.C:
			w.flush(ctx)
		}
	}
}

func (w *Watcher) noteEvent(event fsnotify.Event) {
	ext := strings.ToLower(filepath.Ext(event.Name))
	if ext != ".yml" && ext != ".yaml" {
		return
	}
	if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) == 0 {
		return
	}
	w.mu.Lock()
	w.pending[event.Name] = time.Now()
	w.mu.Unlock()
}

func (w *Watcher) flush(ctx context.Context) {
	now := time.Now()
	w.mu.Lock()
	var settled []string
	for path, at := range w.pending {
		if now.Sub(at) >= debounceWindow {
			settled = append(settled, path)
			delete(w.pending, path)
		}
	}
	w.mu.Unlock()

	for _, path := range settled {
		uri := "file://" + path
		if err := w.reg.OnDidChange(ctx, uri); err != nil {
			w.log.Warn("reindexing after external file change", zap.String("uri", uri), zap.Error(err))
		}
	}
}
