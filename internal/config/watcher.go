package config

import (
	"context"
	"log/slog"
	"maps"
	"os"
	"path/filepath"
	"slices"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/fsnotify/fsnotify"
)

const defaultWatchDebounce = 1500 * time.Millisecond

// Watcher reloads a settings file when it changes on disk and hands the
// fresh value to every subscriber. The parent directory is watched, so
// saves that rename a temp file over the original are seen too. A change
// event whose file content matches the last applied version is dropped,
// which keeps touch and chmod from re-applying channel settings.
type Watcher[T any] struct {
	path     string
	debounce time.Duration
	load     func(path string) (T, error)
	onError  func(error)
	logger   *slog.Logger

	mu       sync.Mutex
	nextID   int
	handlers map[int]func(T)
	applied  uint64

	fsw  *fsnotify.Watcher
	stop context.CancelFunc
	done chan struct{}
}

// WatcherOption configures a Watcher.
type WatcherOption[T any] func(*Watcher[T])

// WithDebounce sets how long the file must stay quiet before it is
// reloaded. Default is 1500ms.
func WithDebounce[T any](d time.Duration) WatcherOption[T] {
	return func(w *Watcher[T]) { w.debounce = d }
}

// WithErrorHandler is called with every load error. Errors are always logged.
func WithErrorHandler[T any](handler func(error)) WatcherOption[T] {
	return func(w *Watcher[T]) { w.onError = handler }
}

// NewConfigWatcher creates a watcher for path. load runs on every accepted
// change; subscribers never see a cached value.
func NewConfigWatcher[T any](
	path string,
	load func(path string) (T, error),
	logger *slog.Logger,
	opts ...WatcherOption[T],
) *Watcher[T] {
	w := &Watcher[T]{
		path:     filepath.Clean(path),
		debounce: defaultWatchDebounce,
		load:     load,
		logger:   logger.With("file", filepath.Base(path)),
		handlers: make(map[int]func(T)),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// OnReload subscribes handler and returns a function that unsubscribes it.
func (w *Watcher[T]) OnReload(handler func(T)) func() {
	w.mu.Lock()
	id := w.nextID
	w.nextID++
	w.handlers[id] = handler
	w.mu.Unlock()

	return func() {
		w.mu.Lock()
		delete(w.handlers, id)
		w.mu.Unlock()
	}
}

// Start begins watching. The content present now counts as applied.
// Watching ends when ctx is cancelled or Stop is called.
func (w *Watcher[T]) Start(ctx context.Context) error {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := fsw.Add(filepath.Dir(w.path)); err != nil {
		fsw.Close()
		return err
	}

	if sum, ok := w.digest(); ok {
		w.mu.Lock()
		w.applied = sum
		w.mu.Unlock()
	}

	ctx, w.stop = context.WithCancel(ctx)
	w.fsw = fsw
	w.done = make(chan struct{})
	w.logger.Info("Watching settings file", "path", w.path, "debounce", w.debounce)
	go w.run(ctx)
	return nil
}

// Stop ends watching and waits for the watch loop to exit.
func (w *Watcher[T]) Stop() error {
	if w.fsw == nil {
		return nil
	}
	w.stop()
	err := w.fsw.Close()
	<-w.done
	return err
}

func (w *Watcher[T]) run(ctx context.Context) {
	defer close(w.done)

	// Stopped until the first relevant event arms it.
	quiet := time.NewTimer(time.Hour)
	quiet.Stop()
	defer quiet.Stop()

	for {
		select {
		case <-ctx.Done():
			w.logger.Debug("Settings watcher stopped")
			return

		case ev, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if filepath.Clean(ev.Name) != w.path || !ev.Has(fsnotify.Write|fsnotify.Create|fsnotify.Rename) {
				continue
			}
			w.logger.Debug("Settings file event", "op", ev.Op.String())
			quiet.Reset(w.debounce)

		case <-quiet.C:
			sum, ok := w.digest()
			w.mu.Lock()
			unchanged := ok && sum == w.applied
			w.mu.Unlock()
			if unchanged {
				w.logger.Debug("Settings file content unchanged, skipping reload")
				continue
			}
			w.apply()

		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.logger.Warn("Settings watcher error", "error", err)
		}
	}
}

// Reload loads the file now and notifies subscribers, even if the content
// has not changed. It works without Start.
func (w *Watcher[T]) Reload() {
	w.apply()
}

func (w *Watcher[T]) apply() {
	sum, _ := w.digest()
	value, err := w.load(w.path)
	if err != nil {
		w.logger.Warn("Settings file rejected", "error", err)
		if w.onError != nil {
			w.onError(err)
		}
		return
	}

	w.mu.Lock()
	w.applied = sum
	subscribers := make([]func(T), 0, len(w.handlers))
	for _, id := range slices.Sorted(maps.Keys(w.handlers)) {
		subscribers = append(subscribers, w.handlers[id])
	}
	w.mu.Unlock()

	w.logger.Info("Settings file reloaded", "subscribers", len(subscribers))
	for _, h := range subscribers {
		h(value)
	}
}

// digest hashes the current file content. A missing or unreadable file
// reports ok false and is left to the loader to judge.
func (w *Watcher[T]) digest() (uint64, bool) {
	data, err := os.ReadFile(w.path)
	if err != nil {
		return 0, false
	}
	return xxhash.Sum64(data), true
}
