// Package watcher adds new and changed files under watched directories to the index.
// The index is insert-only, so removals and renames are logged and otherwise ignored.
package watcher

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/hyperjump/simdex/internal/models"
)

const (
	defaultDebounce = 400 * time.Millisecond
	queueSize       = 256
)

// FileAdder adds one file to the index. The library implements it.
type FileAdder interface {
	AddFile(ctx context.Context, path string) (*models.AddResult, error)
}

// Options configures a Watcher.
type Options struct {
	// Extensions filters files by extension, any case; empty means all files.
	Extensions []string
	Recursive  bool
	Debounce   time.Duration
	Logger     *zap.Logger
}

// Watcher feeds file events from watched directories to a FileAdder, one file at a time.
type Watcher struct {
	adder  FileAdder
	opts   Options
	logger *zap.Logger

	mu     sync.Mutex
	fsw    *fsnotify.Watcher
	roots  map[string][]string // root -> directories registered with fsnotify
	timers map[string]*time.Timer
	queue  chan string
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New returns a stopped Watcher.
func New(adder FileAdder, opts Options) *Watcher {
	if opts.Debounce <= 0 {
		opts.Debounce = defaultDebounce
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Watcher{
		adder:  adder,
		opts:   opts,
		logger: logger,
		roots:  make(map[string][]string),
		timers: make(map[string]*time.Timer),
	}
}

// Start watches roots and queues every matching file already in them. It runs until ctx is
// cancelled or Stop is called.
func (w *Watcher) Start(ctx context.Context, roots []string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.fsw != nil {
		return errors.New("watcher already started")
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	w.fsw = fsw
	w.ctx, w.cancel = context.WithCancel(ctx)
	w.queue = make(chan string, queueSize)

	for _, root := range roots {
		if _, err := w.addRootLocked(root); err != nil {
			w.cancel()
			_ = fsw.Close()
			w.fsw = nil
			return err
		}
	}
	w.wg.Add(2)
	go w.loop(fsw)
	go w.work()
	for root := range w.roots {
		w.syncLocked(root)
	}
	w.logger.Info("watching directories",
		zap.Strings("roots", w.directoriesLocked()),
		zap.Strings("extensions", w.opts.Extensions),
		zap.Bool("recursive", w.opts.Recursive))
	return nil
}

// loop turns fsnotify events into queued adds.
func (w *Watcher) loop(fsw *fsnotify.Watcher) {
	defer w.wg.Done()
	for {
		select {
		case <-w.ctx.Done():
			return
		case ev, ok := <-fsw.Events:
			if !ok {
				return
			}
			w.handle(ev)
		case err, ok := <-fsw.Errors:
			if !ok {
				return
			}
			w.logger.Warn("watcher error", zap.Error(err))
		}
	}
}

// work adds queued files one at a time.
func (w *Watcher) work() {
	defer w.wg.Done()
	for {
		select {
		case <-w.ctx.Done():
			return
		case path := <-w.queue:
			res, err := w.adder.AddFile(w.ctx, path)
			switch {
			case err != nil:
				w.logger.Warn("failed to add watched file", zap.String("path", path), zap.Error(err))
			case res.Skipped:
				w.logger.Debug("watched file unchanged", zap.String("path", path))
			default:
				w.logger.Info("watched file added", zap.String("path", path), zap.Uint64("position", res.Document.Position))
			}
		}
	}
}

func (w *Watcher) handle(ev fsnotify.Event) {
	path := filepath.Clean(ev.Name)
	switch {
	case ev.Has(fsnotify.Create) || ev.Has(fsnotify.Write):
		info, err := os.Stat(path)
		if err != nil {
			return
		}
		if info.IsDir() {
			w.handleNewDirectory(path)
			return
		}
		if w.matches(path) {
			w.debounce(path)
		}
	case ev.Has(fsnotify.Remove) || ev.Has(fsnotify.Rename):
		w.stopTimer(path)
		if w.matches(path) {
			w.logger.Info("watched file removed; its vectors stay in the index", zap.String("path", path))
		}
	}
}

// handleNewDirectory registers a directory created (or moved) under a recursive root and
// queues the files already inside it.
func (w *Watcher) handleNewDirectory(dir string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.fsw == nil || !w.opts.Recursive {
		return
	}
	root := w.rootOfLocked(dir)
	if root == "" {
		return
	}
	added, err := w.watchTreeLocked(dir)
	if err != nil {
		w.logger.Warn("failed to watch new directory", zap.String("path", dir), zap.Error(err))
	}
	w.roots[root] = append(w.roots[root], added...)
	w.syncLocked(dir)
}

func (w *Watcher) rootOfLocked(path string) string {
	for root := range w.roots {
		if inDir(root, path) {
			return root
		}
	}
	return ""
}

func inDir(dir, path string) bool {
	rel, err := filepath.Rel(dir, path)
	if err != nil {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

func (w *Watcher) matches(path string) bool {
	return matchExtension(path, w.opts.Extensions)
}

func matchExtension(path string, extensions []string) bool {
	if len(extensions) == 0 {
		return true
	}
	ext := strings.TrimPrefix(strings.ToLower(filepath.Ext(path)), ".")
	for _, e := range extensions {
		if strings.TrimPrefix(strings.ToLower(e), ".") == ext {
			return true
		}
	}
	return false
}

// debounce queues path once no event for it arrived for the debounce interval.
func (w *Watcher) debounce(path string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if t, ok := w.timers[path]; ok {
		t.Stop()
	}
	w.timers[path] = time.AfterFunc(w.opts.Debounce, func() {
		w.mu.Lock()
		delete(w.timers, path)
		w.mu.Unlock()
		w.enqueue(path)
	})
}

func (w *Watcher) stopTimer(path string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if t, ok := w.timers[path]; ok {
		t.Stop()
		delete(w.timers, path)
	}
}

func (w *Watcher) enqueue(path string) {
	select {
	case w.queue <- path:
	case <-w.ctx.Done():
	}
}

// AddDirectory starts watching root and queues its existing files.
func (w *Watcher) AddDirectory(root string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.fsw == nil {
		return errors.New("watcher not started")
	}
	abs, err := w.addRootLocked(root)
	if err != nil {
		return err
	}
	w.syncLocked(abs)
	w.logger.Info("watch directory added", zap.String("path", abs))
	return nil
}

// addRootLocked registers root, creating it when missing. Adding a watched root is a no-op.
func (w *Watcher) addRootLocked(root string) (string, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return "", err
	}
	if _, ok := w.roots[abs]; ok {
		return abs, nil
	}
	if err := os.MkdirAll(abs, 0755); err != nil {
		return "", err
	}
	var dirs []string
	if w.opts.Recursive {
		dirs, err = w.watchTreeLocked(abs)
	} else {
		err = w.fsw.Add(abs)
		dirs = []string{abs}
	}
	if err != nil {
		for _, d := range dirs {
			_ = w.fsw.Remove(d)
		}
		return "", err
	}
	w.roots[abs] = dirs
	return abs, nil
}

// watchTreeLocked registers dir and every directory below it.
func (w *Watcher) watchTreeLocked(dir string) ([]string, error) {
	var dirs []string
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if err := w.fsw.Add(path); err != nil {
			return err
		}
		dirs = append(dirs, path)
		return nil
	})
	return dirs, err
}

// syncLocked queues matching files under dir from a background goroutine.
func (w *Watcher) syncLocked(dir string) {
	recursive := w.opts.Recursive
	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		_ = filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return nil
			}
			if w.ctx.Err() != nil {
				return filepath.SkipAll
			}
			if d.IsDir() {
				if path != dir && !recursive {
					return filepath.SkipDir
				}
				return nil
			}
			if w.matches(path) {
				w.enqueue(path)
			}
			return nil
		})
	}()
}

// RemoveDirectory stops watching root. Documents already added stay in the index.
func (w *Watcher) RemoveDirectory(root string) error {
	abs, err := filepath.Abs(root)
	if err != nil {
		return err
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	dirs, ok := w.roots[abs]
	if !ok {
		return nil
	}
	if w.fsw != nil {
		for _, d := range dirs {
			_ = w.fsw.Remove(d)
		}
	}
	delete(w.roots, abs)
	w.logger.Info("watch directory removed", zap.String("path", abs))
	return nil
}

// Directories returns the watched roots, sorted.
func (w *Watcher) Directories() []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.directoriesLocked()
}

func (w *Watcher) directoriesLocked() []string {
	out := make([]string, 0, len(w.roots))
	for root := range w.roots {
		out = append(out, root)
	}
	sort.Strings(out)
	return out
}

// Stop stops watching and waits for the in-flight add to finish.
func (w *Watcher) Stop() {
	w.mu.Lock()
	if w.fsw == nil {
		w.mu.Unlock()
		return
	}
	w.cancel()
	for path, t := range w.timers {
		t.Stop()
		delete(w.timers, path)
	}
	_ = w.fsw.Close()
	w.fsw = nil
	w.mu.Unlock()
	w.wg.Wait()
}
