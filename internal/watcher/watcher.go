// Package watcher keeps the index in step with files dropped into or removed from the image directory.
package watcher

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/hyperjump/kagami/internal/fileid"
	"github.com/hyperjump/kagami/internal/imagestore"
	"go.uber.org/zap"
)

const defaultDebounce = 500 * time.Millisecond

// Handler is called with the id (base file name) of a changed image.
type Handler func(ctx context.Context, id string) error

// Watcher watches a single flat image directory and invokes callbacks on file changes.
type Watcher struct {
	dir         string
	onIndex     Handler
	onRemove    Handler
	debounce    time.Duration
	watcher     *fsnotify.Watcher
	mu          sync.Mutex
	debounceMap map[string]*time.Timer
	ctx         context.Context
	done        chan struct{}
	started     bool
	stopOnce    sync.Once
	logger      *zap.Logger
}

// Option configures a Watcher.
type Option func(*Watcher)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(w *Watcher) { w.logger = l }
}

// WithDebounce sets how long a file must stay quiet before it is indexed.
func WithDebounce(d time.Duration) Option {
	return func(w *Watcher) {
		if d > 0 {
			w.debounce = d
		}
	}
}

// NewWatcher creates a watcher for dir. onIndex runs once writes to an image settle; onRemove runs when
// an image is deleted or moved away.
func NewWatcher(dir string, onIndex, onRemove Handler, opts ...Option) *Watcher {
	w := &Watcher{
		dir:         filepath.Clean(dir),
		onIndex:     onIndex,
		onRemove:    onRemove,
		debounce:    defaultDebounce,
		debounceMap: make(map[string]*time.Timer),
		done:        make(chan struct{}),
		logger:      zap.NewNop(),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Dir returns the watched directory.
func (w *Watcher) Dir() string { return w.dir }

// Start begins watching. It runs until ctx is cancelled or Stop is called.
func (w *Watcher) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.started {
		return nil
	}
	if err := os.MkdirAll(w.dir, 0755); err != nil {
		return err
	}
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := fw.Add(w.dir); err != nil {
		_ = fw.Close()
		return err
	}
	w.watcher = fw
	w.ctx = ctx
	w.started = true
	w.logger.Info("watching image directory", zap.String("dir", w.dir), zap.Duration("debounce", w.debounce))
	go w.run(ctx, fw)
	return nil
}

func (w *Watcher) run(ctx context.Context, fw *fsnotify.Watcher) {
	for {
		select {
		case <-ctx.Done():
			w.Stop()
			return
		case <-w.done:
			return
		case ev, ok := <-fw.Events:
			if !ok {
				return
			}
			w.handleEvent(ev)
		case err, ok := <-fw.Errors:
			if !ok {
				return
			}
			w.logger.Warn("watcher error", zap.Error(err))
		}
	}
}

func (w *Watcher) handleEvent(ev fsnotify.Event) {
	if filepath.Dir(filepath.Clean(ev.Name)) != w.dir {
		return
	}
	id := fileid.FromPath(ev.Name)
	if !imagestore.IsIndexable(id) {
		return
	}
	w.logger.Debug("watcher event", zap.String("op", ev.Op.String()), zap.String("id", id))
	switch {
	case ev.Has(fsnotify.Remove), ev.Has(fsnotify.Rename):
		w.cancelDebounce(id)
		w.call("remove", w.onRemove, id)
	case ev.Has(fsnotify.Create), ev.Has(fsnotify.Write):
		info, err := os.Stat(ev.Name)
		if err != nil || !info.Mode().IsRegular() {
			return
		}
		w.debounceIndex(id)
	}
}

func (w *Watcher) call(op string, h Handler, id string) {
	if h == nil {
		return
	}
	w.mu.Lock()
	ctx := w.ctx
	w.mu.Unlock()
	if ctx == nil {
		ctx = context.Background()
	}
	if err := h(ctx, id); err != nil && !errors.Is(err, context.Canceled) {
		w.logger.Warn("watcher "+op+" failed", zap.String("id", id), zap.Error(err))
	}
}

func (w *Watcher) debounceIndex(id string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if t, ok := w.debounceMap[id]; ok {
		t.Stop()
	}
	w.debounceMap[id] = time.AfterFunc(w.debounce, func() {
		w.mu.Lock()
		delete(w.debounceMap, id)
		w.mu.Unlock()
		// the file may have been removed while we waited
		if _, err := os.Stat(filepath.Join(w.dir, id)); err != nil {
			return
		}
		w.call("index", w.onIndex, id)
	})
}

func (w *Watcher) cancelDebounce(id string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if t, ok := w.debounceMap[id]; ok {
		t.Stop()
		delete(w.debounceMap, id)
	}
}

// Pending returns the number of images waiting for their debounce to expire.
func (w *Watcher) Pending() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.debounceMap)
}

// Stop stops the watcher and releases resources.
func (w *Watcher) Stop() {
	w.mu.Lock()
	if !w.started {
		w.mu.Unlock()
		return
	}
	for id, t := range w.debounceMap {
		t.Stop()
		delete(w.debounceMap, id)
	}
	_ = w.watcher.Close()
	w.started = false
	w.mu.Unlock()
	w.stopOnce.Do(func() { close(w.done) })
}
