package config

import (
	"context"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/irensaltali/serverlessapigateway/internal/logging"
)

// Watcher keeps the latest good parse of a config file and reloads it when
// the file changes. It is a Source, so the dispatcher sees a reload on the
// next request.
type Watcher struct {
	watcher    *fsnotify.Watcher
	loader     *Loader
	configPath string
	debounce   time.Duration
	current    atomic.Pointer[APIConfig]

	mu        sync.Mutex
	callbacks []func(*APIConfig)
	timer     *time.Timer
	done      chan struct{}
}

// NewWatcher loads configPath once and prepares to watch it.
func NewWatcher(loader *Loader, configPath string) (*Watcher, error) {
	fsWatcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	w := &Watcher{
		watcher:    fsWatcher,
		loader:     loader,
		configPath: configPath,
		debounce:   500 * time.Millisecond,
		done:       make(chan struct{}),
	}

	cfg, err := loader.Load(configPath)
	if err != nil {
		fsWatcher.Close()
		return nil, err
	}
	w.current.Store(cfg)

	return w, nil
}

func (w *Watcher) Name() string { return "watched file" }

// Load returns the latest good configuration.
func (w *Watcher) Load(context.Context) (*APIConfig, error) {
	cfg := w.current.Load()
	if cfg == nil {
		return nil, ErrNoDocument
	}
	return cfg, nil
}

// OnChange registers a callback for config changes.
func (w *Watcher) OnChange(callback func(*APIConfig)) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.callbacks = append(w.callbacks, callback)
}

// SetDebounce sets the debounce duration for file changes.
func (w *Watcher) SetDebounce(d time.Duration) {
	w.debounce = d
}

// Start begins watching. The directory is watched so editors that replace
// the file atomically are still seen.
func (w *Watcher) Start() error {
	if err := w.watcher.Add(filepath.Dir(w.configPath)); err != nil {
		return err
	}
	go w.watch()
	return nil
}

func (w *Watcher) watch() {
	for {
		select {
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Base(event.Name) != filepath.Base(w.configPath) {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}

			w.mu.Lock()
			if w.timer != nil {
				w.timer.Stop()
			}
			w.timer = time.AfterFunc(w.debounce, w.Reload)
			w.mu.Unlock()

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			logging.Error("config watcher error", zap.Error(err))

		case <-w.done:
			return
		}
	}
}

// Reload re-reads the file. A document that fails to load keeps the
// previous configuration in place.
func (w *Watcher) Reload() {
	cfg, err := w.loader.Load(w.configPath)
	if err != nil {
		logging.Error("failed to reload config", zap.String("path", w.configPath), zap.Error(err))
		return
	}
	w.current.Store(cfg)

	w.mu.Lock()
	callbacks := make([]func(*APIConfig), len(w.callbacks))
	copy(callbacks, w.callbacks)
	w.mu.Unlock()

	logging.Info("configuration reloaded",
		zap.String("path", w.configPath),
		zap.Int("routes", len(cfg.Paths)),
	)
	for _, cb := range callbacks {
		cb(cfg)
	}
}

// Stop stops watching for changes.
func (w *Watcher) Stop() error {
	w.mu.Lock()
	if w.timer != nil {
		w.timer.Stop()
	}
	w.mu.Unlock()
	select {
	case <-w.done:
	default:
		close(w.done)
	}
	return w.watcher.Close()
}
