package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// DefaultDebounce is how long the watcher waits for a file to settle before
// reloading it.
const DefaultDebounce = 100 * time.Millisecond

// WatcherConfig configures a definitions directory watcher.
type WatcherConfig struct {
	Dir      string
	Applier  Applier
	Debounce time.Duration
	Logger   *slog.Logger
}

// Watcher hot-reloads server definition files. A created or written
// *.yaml, *.yml or *.json file is parsed and applied; a removed or renamed
// file removes the server it last defined. Events are debounced per file.
type Watcher struct {
	dir      string
	applier  Applier
	debounce time.Duration
	logger   *slog.Logger

	mu      sync.Mutex
	fsw     *fsnotify.Watcher
	pending map[string]*time.Timer
	owners  map[string]string // file path -> server id
	done    chan struct{}
	reloads sync.WaitGroup
}

// NewWatcher validates cfg and returns an idle watcher.
func NewWatcher(cfg WatcherConfig) (*Watcher, error) {
	if cfg.Dir == "" {
		return nil, errors.New("watcher: directory is required")
	}
	if cfg.Applier == nil {
		return nil, errors.New("watcher: applier is nil")
	}
	if cfg.Debounce <= 0 {
		cfg.Debounce = DefaultDebounce
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Watcher{
		dir:      filepath.Clean(cfg.Dir),
		applier:  cfg.Applier,
		debounce: cfg.Debounce,
		logger:   cfg.Logger,
		pending:  make(map[string]*time.Timer),
		owners:   make(map[string]string),
	}, nil
}

// LoadAll applies every definition file currently in the directory. Files
// that fail to parse or apply are logged and skipped.
func (w *Watcher) LoadAll(ctx context.Context) error {
	files, err := definitionFiles(w.dir)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("watcher: list %s: %w", w.dir, err)
	}
	for _, path := range files {
		w.reload(ctx, path)
	}
	return nil
}

// Start creates the directory if needed and begins watching it. Reloads run
// with ctx until Close.
func (w *Watcher) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.fsw != nil {
		return nil
	}

	if err := os.MkdirAll(w.dir, 0o755); err != nil {
		return fmt.Errorf("watcher: create %s: %w", w.dir, err)
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("watcher: %w", err)
	}
	if err := fsw.Add(w.dir); err != nil {
		_ = fsw.Close()
		return fmt.Errorf("watcher: watch %s: %w", w.dir, err)
	}

	w.fsw = fsw
	w.done = make(chan struct{})
	go w.loop(ctx, fsw, w.done)

	w.logger.Info("watching server definitions", "dir", w.dir)
	return nil
}

// Close stops watching, drops pending reloads and waits for running ones.
func (w *Watcher) Close() error {
	w.mu.Lock()
	fsw := w.fsw
	done := w.done
	w.fsw = nil
	for path, timer := range w.pending {
		if timer.Stop() {
			w.reloads.Done()
		}
		delete(w.pending, path)
	}
	w.mu.Unlock()

	var err error
	if fsw != nil {
		err = fsw.Close()
		<-done
	}
	w.reloads.Wait()
	return err
}

func (w *Watcher) loop(ctx context.Context, fsw *fsnotify.Watcher, done chan struct{}) {
	defer close(done)
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-fsw.Events:
			if !ok {
				return
			}
			if !IsDefinitionFile(event.Name) {
				continue
			}
			if event.Has(fsnotify.Create) || event.Has(fsnotify.Write) ||
				event.Has(fsnotify.Remove) || event.Has(fsnotify.Rename) {
				w.schedule(ctx, event.Name)
			}
		case err, ok := <-fsw.Errors:
			if !ok {
				return
			}
			w.logger.Error("definition watcher error", "error", err)
		}
	}
}

// schedule debounces reloads of path. The file's state is read when the
// timer fires, so the last event wins.
func (w *Watcher) schedule(ctx context.Context, path string) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if timer, ok := w.pending[path]; ok && timer.Stop() {
		w.reloads.Done()
	}
	w.reloads.Add(1)
	w.pending[path] = time.AfterFunc(w.debounce, func() {
		defer w.reloads.Done()
		w.mu.Lock()
		delete(w.pending, path)
		w.mu.Unlock()
		w.reload(ctx, path)
	})
}

func (w *Watcher) reload(ctx context.Context, path string) {
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		w.remove(ctx, path)
		return
	}

	def, err := LoadServerDefinition(path)
	if err != nil {
		w.logger.Error("definition reload failed", "path", path, "error", err)
		return
	}

	w.mu.Lock()
	previous, hadPrevious := w.owners[path]
	w.mu.Unlock()

	rt, err := w.applier.ApplyServer(ctx, def)
	if err != nil {
		w.logger.Error("definition reload failed", "path", path, "server_id", def.ID, "error", err)
		return
	}

	w.mu.Lock()
	w.owners[path] = rt.ID
	w.mu.Unlock()

	if hadPrevious && previous != rt.ID {
		if err := w.applier.RemoveServer(ctx, previous); err != nil {
			w.logger.Warn("removing renamed server failed", "server_id", previous, "error", err)
		}
	}
	w.logger.Info("server definition reloaded", "path", path, "server_id", rt.ID, "status", rt.Status)
}

func (w *Watcher) remove(ctx context.Context, path string) {
	w.mu.Lock()
	id, ok := w.owners[path]
	delete(w.owners, path)
	w.mu.Unlock()
	if !ok {
		id = idFromPath(path)
	}

	if err := w.applier.RemoveServer(ctx, id); err != nil {
		w.logger.Error("definition removal failed", "path", path, "server_id", id, "error", err)
		return
	}
	w.logger.Info("server definition removed", "path", path, "server_id", id)
}
