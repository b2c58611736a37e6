package config

import (
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/fsnotify/fsnotify"

	"github.com/wudi/arverify/internal/logging"
)

// Watcher watches the configuration file for changes and reloads it,
// notifying registered callbacks (used to hot-swap routing strategy and
// the logging section without a restart).
type Watcher struct {
	watcher    *fsnotify.Watcher
	loader     *Loader
	configPath string
	debounce   time.Duration

	mu           sync.RWMutex
	callbacks    []func(*Config)
	lastConfig   *Config
	lastChecksum uint64
}

// NewWatcher loads configPath once and prepares a Watcher to track further
// changes to it.
func NewWatcher(configPath string) (*Watcher, error) {
	fsWatcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	w := &Watcher{
		watcher:    fsWatcher,
		loader:     NewLoader(),
		configPath: configPath,
		debounce:   500 * time.Millisecond,
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		fsWatcher.Close()
		return nil, err
	}
	cfg, err := w.loader.Parse(data)
	if err != nil {
		fsWatcher.Close()
		return nil, err
	}
	w.lastConfig = cfg
	w.lastChecksum = xxhash.Sum64(data)
	return w, nil
}

// OnChange registers a callback invoked (on its own goroutine) each time
// the watched file is successfully reloaded.
func (w *Watcher) OnChange(callback func(*Config)) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.callbacks = append(w.callbacks, callback)
}

// Start begins watching the config file's directory in the background.
func (w *Watcher) Start() error {
	if err := w.watcher.Add(filepath.Dir(w.configPath)); err != nil {
		return err
	}
	go w.watch()
	return nil
}

func (w *Watcher) watch() {
	var debounceTimer *time.Timer
	var lastEvent time.Time

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

			now := time.Now()
			if now.Sub(lastEvent) < w.debounce && debounceTimer != nil {
				debounceTimer.Stop()
			}
			lastEvent = now
			debounceTimer = time.AfterFunc(w.debounce, w.reload)

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			logging.Error("config watcher error", logging.Err(err))
		}
	}
}

func (w *Watcher) reload() {
	data, err := os.ReadFile(w.configPath)
	if err != nil {
		logging.Error("failed to reload config", logging.Err(err))
		return
	}

	// Editors often fire several write events for one save; the checksum
	// collapses them (and no-op touches) into a single reload.
	sum := xxhash.Sum64(data)
	w.mu.RLock()
	unchanged := sum == w.lastChecksum
	w.mu.RUnlock()
	if unchanged {
		return
	}

	cfg, err := w.loader.Parse(data)
	if err != nil {
		logging.Error("rejected reloaded config, keeping prior configuration", logging.Err(err))
		return
	}

	w.mu.Lock()
	w.lastConfig = cfg
	w.lastChecksum = sum
	callbacks := make([]func(*Config), len(w.callbacks))
	copy(callbacks, w.callbacks)
	w.mu.Unlock()

	logging.Info("configuration reloaded", logging.String("path", w.configPath))
	for _, cb := range callbacks {
		go cb(cfg)
	}
}

// GetConfig returns the most recently loaded Config.
func (w *Watcher) GetConfig() *Config {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.lastConfig
}

// Stop stops watching for changes.
func (w *Watcher) Stop() error {
	return w.watcher.Close()
}
