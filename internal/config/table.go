package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"

	"github.com/ralphctl/coordinator/pkg/logging"
)

const tableSubsystem = "ProviderTable"

// debounceInterval absorbs the burst of fsnotify events a single `mv` or
// editor save tends to generate (write-then-rename, multiple chunks) into
// one reload.
const debounceInterval = 500 * time.Millisecond

// pollInterval is the fallback cadence when fsnotify can't watch path
// (missing directory, platform without inotify/kqueue support).
const pollInterval = 5 * time.Second

// providerImagesFile is the on-disk shape of the default-image table.
type providerImagesFile struct {
	Images map[string]string `yaml:"images"`
}

// ProviderTable is a hot-reloadable provider-to-default-image mapping
// backed by a YAML file. The Coordinator consults it through Image to
// pick each provider's sandbox base image and passes that image to the
// Preparation Pipeline; runs do not carry an image of their own. Operators edit the file in place and the running process picks
// up the change without a restart.
type ProviderTable struct {
	path string

	mu     sync.RWMutex
	images map[string]string

	watcher       *fsnotify.Watcher
	stopCh        chan struct{}
	debounceMu    sync.Mutex
	debounceTimer *time.Timer
	lastModTime   time.Time
}

// NewProviderTable loads path once (a missing file is not an error - it
// just means no overrides) and returns a table ready for Image lookups.
// Call Watch to start picking up subsequent edits.
func NewProviderTable(path string) (*ProviderTable, error) {
	t := &ProviderTable{path: path, images: map[string]string{}}
	if err := t.reload(); err != nil {
		return nil, err
	}
	return t, nil
}

// Image returns provider's configured default sandbox image, or "" if the
// table has no entry for it.
func (t *ProviderTable) Image(provider string) string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.images[provider]
}

func (t *ProviderTable) reload() error {
	data, err := os.ReadFile(t.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("read provider image table %s: %w", t.path, err)
	}

	var parsed providerImagesFile
	if err := yaml.Unmarshal(data, &parsed); err != nil {
		return fmt.Errorf("parse provider image table %s: %w", t.path, err)
	}

	t.mu.Lock()
	t.images = parsed.Images
	if t.images == nil {
		t.images = map[string]string{}
	}
	t.mu.Unlock()

	logging.Info(tableSubsystem, "loaded %d provider image override(s) from %s", len(parsed.Images), t.path)
	return nil
}

// Watch starts watching path for changes in its own goroutine, reloading
// (debounced) on every write. It prefers fsnotify and falls back to
// polling when the watch can't be established - the same shape the
// teacher uses for its certificate watcher, generalized from three fixed
// filenames to one.
func (t *ProviderTable) Watch() error {
	t.stopCh = make(chan struct{})

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		logging.Warn(tableSubsystem, "fsnotify unavailable, falling back to polling: %v", err)
		go t.pollForChanges()
		return nil
	}

	dir := filepath.Dir(t.path)
	if err := watcher.Add(dir); err != nil {
		logging.Warn(tableSubsystem, "failed to watch %s, falling back to polling: %v", dir, err)
		watcher.Close()
		go t.pollForChanges()
		return nil
	}

	t.watcher = watcher
	go t.processEvents(watcher.Events, watcher.Errors)
	logging.Info(tableSubsystem, "watching %s for changes", t.path)
	return nil
}

// Stop halts the watcher goroutine, whichever variant is active.
func (t *ProviderTable) Stop() {
	if t.stopCh == nil {
		return
	}
	close(t.stopCh)
	t.debounceMu.Lock()
	if t.debounceTimer != nil {
		t.debounceTimer.Stop()
	}
	t.debounceMu.Unlock()
	if t.watcher != nil {
		t.watcher.Close()
	}
}

func (t *ProviderTable) processEvents(events <-chan fsnotify.Event, errs <-chan error) {
	for {
		select {
		case <-t.stopCh:
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			if filepath.Clean(ev.Name) != filepath.Clean(t.path) {
				continue
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			t.triggerReloadDebounced()
		case err, ok := <-errs:
			if !ok {
				return
			}
			logging.Warn(tableSubsystem, "watch error: %v", err)
		}
	}
}

func (t *ProviderTable) triggerReloadDebounced() {
	t.debounceMu.Lock()
	defer t.debounceMu.Unlock()

	if t.debounceTimer != nil {
		t.debounceTimer.Stop()
	}
	t.debounceTimer = time.AfterFunc(debounceInterval, func() {
		if err := t.reload(); err != nil {
			logging.Warn(tableSubsystem, "reload failed: %v", err)
		}
	})
}

func (t *ProviderTable) pollForChanges() {
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	if info, err := os.Stat(t.path); err == nil {
		t.lastModTime = info.ModTime()
	}

	for {
		select {
		case <-t.stopCh:
			return
		case <-ticker.C:
			info, err := os.Stat(t.path)
			if err != nil {
				continue
			}
			if info.ModTime().After(t.lastModTime) {
				t.lastModTime = info.ModTime()
				if err := t.reload(); err != nil {
					logging.Warn(tableSubsystem, "reload failed: %v", err)
				}
			}
		}
	}
}
