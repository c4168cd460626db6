package ingest

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/spetr/localchat/pkg/provider"
	"github.com/spetr/localchat/pkg/types"
)

// DefaultDebounce is the quiet period before a change triggers a pass.
const DefaultDebounce = 500 * time.Millisecond

// Watcher watches a source directory and re-runs incremental ingestion
// once changes settle.
type Watcher struct {
	dir      string
	include  func(relPath string) bool
	ingestor *Ingestor
	source   provider.Source
	onReport func(*types.IngestReport, error)

	watcher *fsnotify.Watcher

	// Debouncing
	pendingMu    sync.Mutex
	pendingFiles map[string]time.Time
	debounceTime time.Duration
}

// WatcherConfig contains watcher configuration.
type WatcherConfig struct {
	Dir      string
	Include  func(relPath string) bool // nil accepts every file
	Ingestor *Ingestor
	Source   provider.Source
	OnReport func(*types.IngestReport, error)
	Debounce time.Duration // Default: 500ms
}

// NewWatcher creates a new file watcher.
func NewWatcher(cfg WatcherConfig) (*Watcher, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	debounce := cfg.Debounce
	if debounce <= 0 {
		debounce = DefaultDebounce
	}

	return &Watcher{
		dir:          cfg.Dir,
		include:      cfg.Include,
		ingestor:     cfg.Ingestor,
		source:       cfg.Source,
		onReport:     cfg.OnReport,
		watcher:      watcher,
		pendingFiles: make(map[string]time.Time),
		debounceTime: debounce,
	}, nil
}

// Watch starts watching for file changes.
// It blocks until the context is cancelled.
func (w *Watcher) Watch(ctx context.Context) error {
	if err := w.addWatchDirs(); err != nil {
		return err
	}

	slog.Info("watching for document changes", "dir", w.dir, "debounce", w.debounceTime)

	go w.processDebounced(ctx)

	for {
		select {
		case <-ctx.Done():
			slog.Info("stopping watcher")
			return w.watcher.Close()

		case event, ok := <-w.watcher.Events:
			if !ok {
				return nil
			}
			w.handleEvent(event)

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return nil
			}
			slog.Warn("watcher error", "error", err)
		}
	}
}

// addWatchDirs recursively adds directories to watch.
func (w *Watcher) addWatchDirs() error {
	return filepath.WalkDir(w.dir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			if path == w.dir {
				return err
			}
			return nil
		}
		if !d.IsDir() {
			return nil
		}
		if path != w.dir && strings.HasPrefix(d.Name(), ".") {
			return filepath.SkipDir
		}
		if err := w.watcher.Add(path); err != nil {
			slog.Warn("failed to watch directory", "path", path, "error", err)
		}
		return nil
	})
}

// handleEvent records a relevant file system event.
func (w *Watcher) handleEvent(event fsnotify.Event) {
	if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) &&
		!event.Has(fsnotify.Remove) && !event.Has(fsnotify.Rename) {
		return
	}

	// New directories need their own watch
	if event.Has(fsnotify.Create) {
		if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
			if !strings.HasPrefix(info.Name(), ".") {
				if err := w.watcher.Add(event.Name); err != nil {
					slog.Warn("failed to watch directory", "path", event.Name, "error", err)
				}
			}
			w.markPending(event.Name)
			return
		}
	}

	relPath, err := filepath.Rel(w.dir, event.Name)
	if err != nil {
		return
	}
	relPath = filepath.ToSlash(relPath)

	// A removed or renamed path may have been a directory full of documents.
	// It no longer exists, so it cannot be told apart from a filtered file.
	gone := event.Has(fsnotify.Remove) || event.Has(fsnotify.Rename)
	if !gone && w.include != nil && !w.include(relPath) {
		return
	}

	w.markPending(event.Name)
	slog.Debug("document changed", "path", relPath, "op", event.Op.String())
}

func (w *Watcher) markPending(path string) {
	w.pendingMu.Lock()
	w.pendingFiles[path] = time.Now()
	w.pendingMu.Unlock()
}

// processDebounced checks pending changes on a short tick.
func (w *Watcher) processDebounced(ctx context.Context) {
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.processPending(ctx)
		}
	}
}

// processPending runs one pass once every pending change has been quiet
// for the debounce period.
func (w *Watcher) processPending(ctx context.Context) {
	w.pendingMu.Lock()
	if len(w.pendingFiles) == 0 {
		w.pendingMu.Unlock()
		return
	}
	now := time.Now()
	for _, changedAt := range w.pendingFiles {
		if now.Sub(changedAt) < w.debounceTime {
			w.pendingMu.Unlock()
			return
		}
	}
	count := len(w.pendingFiles)
	clear(w.pendingFiles)
	w.pendingMu.Unlock()

	slog.Info("documents changed, re-ingesting", "changes", count)
	report, err := w.ingestor.Ingest(ctx, w.source)
	if err != nil {
		slog.Warn("ingestion pass failed", "error", err)
	}
	if w.onReport != nil {
		w.onReport(report, err)
	}
}

// Close closes the watcher.
func (w *Watcher) Close() error {
	return w.watcher.Close()
}
