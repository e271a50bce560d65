// Package watcher turns file system notifications under a client root into
// debounced batches of changed paths.
package watcher

import (
	"context"
	"errors"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"golang.org/x/text/unicode/norm"

	foundation "git.home.luguber.info/inful/prebake/internal/foundation/errors"
	"git.home.luguber.info/inful/prebake/internal/logfields"
)

// Handler receives a batch of changed absolute paths.
type Handler func(ctx context.Context, paths []string)

// Watcher monitors a directory tree. Bursts of events are coalesced: a batch
// is delivered once the tree has been quiet for the debounce window, or once
// the max delay since the first pending event has passed.
type Watcher struct {
	root     string
	handler  Handler
	ignore   func(rel string) bool
	debounce time.Duration
	maxDelay time.Duration
	logger   *slog.Logger

	fsw *fsnotify.Watcher
	ctx context.Context

	// flushMu is held while the handler runs so batches are delivered one
	// at a time and in order, even when a timer fires during Flush.
	flushMu sync.Mutex

	mu       sync.Mutex
	pending  map[string]struct{}
	first    time.Time
	timer    *time.Timer
	started  bool
	stopChan chan struct{}
	done     chan struct{}
}

// Option configures a Watcher.
type Option func(*Watcher)

// WithDebounce sets the quiet window. The default is 250ms.
func WithDebounce(d time.Duration) Option { return func(w *Watcher) { w.debounce = d } }

// WithMaxDelay caps how long a batch may be postponed by continuing
// activity. The default is eight debounce windows.
func WithMaxDelay(d time.Duration) Option { return func(w *Watcher) { w.maxDelay = d } }

// WithIgnore skips root-relative paths. Directories are tested with a
// trailing "/".
func WithIgnore(fn func(rel string) bool) Option { return func(w *Watcher) { w.ignore = fn } }

// WithLogger sets the logger. The default is slog.Default().
func WithLogger(l *slog.Logger) Option { return func(w *Watcher) { w.logger = l } }

// New creates a watcher for the tree under root.
func New(root string, handler Handler, opts ...Option) (*Watcher, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, foundation.FileSystemError("failed to resolve watch root").WithCause(err).WithContext("root", root).Build()
	}
	if real, err := filepath.EvalSymlinks(abs); err == nil {
		abs = real
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, foundation.FileSystemError("failed to create file watcher").WithCause(err).Build()
	}
	w := &Watcher{
		root:     abs,
		handler:  handler,
		debounce: 250 * time.Millisecond,
		logger:   slog.Default(),
		fsw:      fsw,
		ctx:      context.Background(),
		pending:  map[string]struct{}{},
		stopChan: make(chan struct{}),
		done:     make(chan struct{}),
	}
	for _, o := range opts {
		o(w)
	}
	if w.maxDelay <= 0 {
		w.maxDelay = 8 * w.debounce
	}
	return w, nil
}

// Root returns the watched directory.
func (w *Watcher) Root() string { return w.root }

// Start adds watches for every directory under the root and begins
// delivering batches.
func (w *Watcher) Start(ctx context.Context) error {
	if _, err := w.addTree(w.root); err != nil {
		return err
	}
	w.mu.Lock()
	w.ctx = ctx
	w.started = true
	w.mu.Unlock()
	w.logger.Info("Starting file watcher", logfields.Dir(w.root))
	go w.watchLoop(ctx)
	return nil
}

// Stop stops the watcher and drops pending events.
func (w *Watcher) Stop() error {
	w.mu.Lock()
	select {
	case <-w.stopChan:
		w.mu.Unlock()
		return nil
	default:
	}
	close(w.stopChan)
	if w.timer != nil {
		w.timer.Stop()
	}
	started := w.started
	w.mu.Unlock()
	err := w.fsw.Close()
	if started {
		<-w.done
	}
	return err
}

func (w *Watcher) rel(p string) (string, bool) {
	r, err := filepath.Rel(w.root, p)
	if err != nil || r == ".." || strings.HasPrefix(r, ".."+string(filepath.Separator)) {
		return "", false
	}
	return filepath.ToSlash(r), true
}

func (w *Watcher) ignored(p string, dir bool) bool {
	if w.ignore == nil {
		return false
	}
	r, ok := w.rel(p)
	if !ok {
		return true
	}
	if r == "." {
		return false
	}
	if dir {
		r += "/"
	}
	return w.ignore(r)
}

// addTree watches dir and its subdirectories and returns the files found.
func (w *Watcher) addTree(dir string) ([]string, error) {
	var files []string
	err := filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			if p == dir {
				return err
			}
			return nil
		}
		if d.IsDir() {
			if w.ignored(p, true) {
				return filepath.SkipDir
			}
			if err := w.fsw.Add(p); err != nil {
				w.logger.Warn("Failed to watch directory", logfields.Dir(p), logfields.Error(err))
			}
			return nil
		}
		if !w.ignored(p, false) {
			files = append(files, p)
		}
		return nil
	})
	if err != nil {
		return nil, foundation.FileSystemError("failed to watch directory tree").WithCause(err).WithContext("path", dir).Build()
	}
	return files, nil
}

func (w *Watcher) watchLoop(ctx context.Context) {
	defer close(w.done)
	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopChan:
			return
		case event, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			w.handleEvent(event)
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.logger.Error("File watcher error", logfields.Error(err))
		}
	}
}

func (w *Watcher) handleEvent(event fsnotify.Event) {
	if event.Op == fsnotify.Chmod {
		return
	}
	path := norm.NFC.String(filepath.Clean(event.Name))
	info, err := os.Lstat(path)
	isDir := err == nil && info.IsDir()
	if w.ignored(path, isDir) {
		return
	}
	paths := []string{path}
	if isDir && event.Has(fsnotify.Create) {
		// Files can land in a new directory before its watch is added.
		files, err := w.addTree(path)
		if err != nil {
			w.logger.Warn("Failed to watch new directory", logfields.Dir(path), logfields.Error(err))
		}
		for _, f := range files {
			paths = append(paths, norm.NFC.String(f))
		}
	} else if errors.Is(err, fs.ErrNotExist) {
		w.logger.Debug("Path removed", logfields.Path(path))
	}
	w.enqueue(paths)
}

func (w *Watcher) enqueue(paths []string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	select {
	case <-w.stopChan:
		return
	default:
	}
	now := time.Now()
	if len(w.pending) == 0 {
		w.first = now
	}
	for _, p := range paths {
		w.pending[p] = struct{}{}
	}
	delay := w.debounce
	if deadline := w.first.Add(w.maxDelay); now.Add(delay).After(deadline) {
		delay = max(deadline.Sub(now), 0)
	}
	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(delay, w.flush)
}

// Flush delivers pending changes now instead of waiting for the debounce
// window. It must not be called from the handler.
func (w *Watcher) Flush() { w.flush() }

func (w *Watcher) flush() {
	w.flushMu.Lock()
	defer w.flushMu.Unlock()
	w.mu.Lock()
	if len(w.pending) == 0 {
		w.mu.Unlock()
		return
	}
	batch := make([]string, 0, len(w.pending))
	for p := range w.pending {
		batch = append(batch, p)
	}
	w.pending = map[string]struct{}{}
	if w.timer != nil {
		w.timer.Stop()
		w.timer = nil
	}
	ctx := w.ctx
	w.mu.Unlock()

	slices.Sort(batch)
	w.logger.Debug("Delivering change batch", logfields.Count(len(batch)))
	w.handler(ctx, batch)
}
