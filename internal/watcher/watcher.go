// Package watcher feeds new call-log files from watched directories into the index.
package watcher

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/hyperjump/callscope/internal/indexer"
	"github.com/hyperjump/callscope/internal/models"
	"github.com/hyperjump/callscope/internal/transcript"
	"github.com/hyperjump/callscope/pkg/utils"
)

const (
	defaultDebounce      = 400 * time.Millisecond
	defaultRetryInterval = 10 * time.Second
)

// FileIndexer appends one call-log file to the index.
type FileIndexer interface {
	IndexFile(ctx context.Context, path string, allowedExts []string) (*models.RebuildReport, error)
}

// Watcher watches directories and indexes created or rewritten call logs once writes
// settle. Files whose rebuild was blocked by collection state stay pending and are
// retried after the next successful index and on every retry tick.
type Watcher struct {
	sink       FileIndexer
	roots      []string
	extensions []string
	recursive  bool
	debounce   time.Duration
	retryEvery time.Duration
	logger     *zap.Logger

	mu          sync.Mutex
	ctx         context.Context
	watcher     *fsnotify.Watcher
	debounceMap map[string]*time.Timer
	pending     map[string]struct{}
	done        chan struct{}
	started     bool
	retrying    atomic.Bool
	stopOnce    sync.Once
}

// WatcherOption configures a Watcher.
type WatcherOption func(*Watcher)

// WithLogger sets the watcher logger.
func WithLogger(l *zap.Logger) WatcherOption {
	return func(w *Watcher) { w.logger = l }
}

// WithDebounce sets how long a file must stay quiet before it is indexed.
func WithDebounce(d time.Duration) WatcherOption {
	return func(w *Watcher) {
		if d > 0 {
			w.debounce = d
		}
	}
}

// WithRetryInterval sets how often pending files are retried.
func WithRetryInterval(d time.Duration) WatcherOption {
	return func(w *Watcher) {
		if d > 0 {
			w.retryEvery = d
		}
	}
}

// NewWatcher creates a watcher over roots that hands files with one of extensions to sink
// (transcript.DefaultExtensions when empty).
func NewWatcher(sink FileIndexer, roots []string, extensions []string, recursive bool, opts ...WatcherOption) *Watcher {
	if len(extensions) == 0 {
		extensions = transcript.DefaultExtensions
	}
	w := &Watcher{
		sink:        sink,
		roots:       append([]string(nil), roots...),
		extensions:  extensions,
		recursive:   recursive,
		debounce:    defaultDebounce,
		retryEvery:  defaultRetryInterval,
		debounceMap: make(map[string]*time.Timer),
		pending:     make(map[string]struct{}),
		done:        make(chan struct{}),
	}
	for _, opt := range opts {
		opt(w)
	}
	w.logger = utils.OrNop(w.logger)
	return w
}

// Start starts the watcher. It runs until ctx is cancelled or Stop is called. Missing
// roots are created.
func (w *Watcher) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.started {
		w.mu.Unlock()
		return nil
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		w.mu.Unlock()
		return err
	}
	w.watcher = watcher
	w.ctx = ctx
	w.started = true
	w.logger.Info("watcher starting",
		zap.Strings("roots", w.roots),
		zap.Strings("extensions", w.extensions),
		zap.Bool("recursive", w.recursive))
	for _, root := range w.roots {
		if err := w.addRootLocked(root); err != nil {
			_ = w.watcher.Close()
			w.watcher = nil
			w.started = false
			w.mu.Unlock()
			return err
		}
	}
	events, errs := watcher.Events, watcher.Errors
	w.mu.Unlock()
	go w.run(ctx, events, errs)
	return nil
}

func (w *Watcher) run(ctx context.Context, events <-chan fsnotify.Event, errs <-chan error) {
	ticker := time.NewTicker(w.retryEvery)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			w.Stop()
			return
		case <-w.done:
			return
		case <-ticker.C:
			w.retryPendingAsync()
		case ev, ok := <-events:
			if !ok {
				return
			}
			w.handleEvent(ev)
		case err, ok := <-errs:
			if !ok {
				return
			}
			if err != nil {
				w.logger.Warn("watcher error", zap.Error(err))
			}
		}
	}
}

func (w *Watcher) handleEvent(ev fsnotify.Event) {
	path := ev.Name
	if !w.underRoot(path) {
		return
	}
	w.logger.Debug("watcher event", zap.String("op", ev.Op.String()), zap.String("path", path))
	switch {
	case ev.Has(fsnotify.Create) || ev.Has(fsnotify.Write):
		info, err := os.Stat(path)
		if err == nil && info.IsDir() {
			w.handleNewDirectory(path)
			return
		}
		if w.matchExtension(path) {
			w.debounceIndex(path)
		}
	case ev.Has(fsnotify.Remove) || ev.Has(fsnotify.Rename):
		w.cancelDebounce(path)
		w.mu.Lock()
		delete(w.pending, path)
		w.mu.Unlock()
	}
}

// handleNewDirectory watches a directory created or moved under a root and indexes the
// call logs already inside it.
func (w *Watcher) handleNewDirectory(dirPath string) {
	w.mu.Lock()
	recursive := w.recursive
	watcher := w.watcher
	w.mu.Unlock()
	if watcher == nil || !recursive {
		return
	}
	_ = filepath.WalkDir(dirPath, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if err := watcher.Add(path); err != nil {
				w.logger.Debug("watcher failed to add directory", zap.String("path", path), zap.Error(err))
			}
		}
		return nil
	})
	w.syncDirectory(dirPath)
}

func (w *Watcher) underRoot(path string) bool {
	w.mu.Lock()
	roots := append([]string(nil), w.roots...)
	w.mu.Unlock()
	clean := filepath.Clean(path)
	for _, root := range roots {
		rootClean := filepath.Clean(root)
		if rootClean == clean || inDir(rootClean, clean) {
			return true
		}
	}
	return false
}

func inDir(dir, path string) bool {
	rel, err := filepath.Rel(dir, path)
	if err != nil {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

func (w *Watcher) matchExtension(path string) bool {
	return transcript.ExtensionAllowed(filepath.Ext(path), w.extensions)
}

func (w *Watcher) debounceIndex(path string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if t, ok := w.debounceMap[path]; ok {
		t.Stop()
	}
	w.debounceMap[path] = time.AfterFunc(w.debounce, func() {
		w.mu.Lock()
		delete(w.debounceMap, path)
		w.mu.Unlock()
		if w.index(path) {
			w.retryPending(path)
		}
	})
}

func (w *Watcher) cancelDebounce(path string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if t, ok := w.debounceMap[path]; ok {
		t.Stop()
		delete(w.debounceMap, path)
	}
}

// index hands path to the sink and reports whether it succeeded.
func (w *Watcher) index(path string) bool {
	w.mu.Lock()
	ctx := w.ctx
	w.mu.Unlock()
	if ctx == nil {
		ctx = context.Background()
	}
	report, err := w.sink.IndexFile(ctx, path, w.extensions)
	if err != nil {
		if indexer.IsConflict(err) {
			w.mu.Lock()
			w.pending[path] = struct{}{}
			w.mu.Unlock()
			w.logger.Info("watcher deferred file", zap.String("path", path), zap.Error(err))
		} else {
			w.logger.Warn("watcher failed to index file", zap.String("path", path), zap.Error(err))
		}
		return false
	}
	w.mu.Lock()
	delete(w.pending, path)
	w.mu.Unlock()
	w.logger.Info("watcher indexed file",
		zap.String("path", path),
		zap.Int("indexed", report.Indexed),
		zap.Int("skipped", report.Skipped))
	return true
}

// retryPendingAsync retries pending files off the event loop, skipping the tick while
// an earlier retry is still running.
func (w *Watcher) retryPendingAsync() {
	if len(w.Pending()) == 0 || !w.retrying.CompareAndSwap(false, true) {
		return
	}
	go func() {
		defer w.retrying.Store(false)
		w.retryPending("")
	}()
}

func (w *Watcher) retryPending(except string) {
	for _, path := range w.Pending() {
		if path != except {
			w.index(path)
		}
	}
}

// Pending returns the files waiting for a retry, sorted.
func (w *Watcher) Pending() []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make([]string, 0, len(w.pending))
	for p := range w.pending {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}

// AddDirectory adds a root directory to watch and optionally indexes its existing files.
func (w *Watcher) AddDirectory(root string, syncExisting bool) error {
	abs, err := filepath.Abs(root)
	if err != nil {
		return err
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.watcher == nil {
		return nil
	}
	for _, r := range w.roots {
		if filepath.Clean(r) == filepath.Clean(abs) {
			return nil
		}
	}
	if err := w.addRootLocked(abs); err != nil {
		return err
	}
	w.roots = append(w.roots, abs)
	w.logger.Debug("watcher directory added", zap.String("path", abs), zap.Bool("sync_existing", syncExisting))
	if syncExisting {
		go w.syncDirectory(abs)
	}
	return nil
}

func (w *Watcher) addRootLocked(root string) error {
	root = filepath.Clean(root)
	if _, err := os.Stat(root); err != nil {
		if !os.IsNotExist(err) {
			return err
		}
		if err := os.MkdirAll(root, 0755); err != nil {
			return err
		}
	}
	if !w.recursive {
		return w.watcher.Add(root)
	}
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		return w.watcher.Add(path)
	})
}

func (w *Watcher) syncDirectory(root string) {
	w.logger.Debug("watcher syncing directory", zap.String("root", root))
	_ = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if path != root && !w.recursive {
				return filepath.SkipDir
			}
			return nil
		}
		if w.matchExtension(path) {
			w.index(path)
		}
		return nil
	})
}

// Directories returns a copy of the current watched root directories.
func (w *Watcher) Directories() []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]string(nil), w.roots...)
}

// SyncExistingFiles indexes the matching files already present in every root. Call it
// after Start to pick up call logs written while nothing was watching.
func (w *Watcher) SyncExistingFiles() {
	for _, root := range w.Directories() {
		w.syncDirectory(root)
	}
}

// Stop stops the watcher and releases resources.
func (w *Watcher) Stop() {
	w.mu.Lock()
	if !w.started || w.watcher == nil {
		w.mu.Unlock()
		return
	}
	for path, t := range w.debounceMap {
		t.Stop()
		delete(w.debounceMap, path)
	}
	_ = w.watcher.Close()
	w.watcher = nil
	w.started = false
	w.mu.Unlock()
	w.stopOnce.Do(func() { close(w.done) })
}
