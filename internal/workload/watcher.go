package workload

import (
	"context"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"explorer/internal/logging"
)

// Watcher keeps the registry in sync with the workload directory:
// created and modified manifests register their modules, deleted
// manifests evict them. Rapid saves are debounced so editors writing
// in multiple steps register once.
type Watcher struct {
	mu          sync.RWMutex
	watcher     *fsnotify.Watcher
	registry    *Registry
	dir         string
	debounceMap map[string]time.Time
	debounceDur time.Duration
	stopCh      chan struct{}
	doneCh      chan struct{}
	running     bool

	stats WatcherStats
}

// WatcherStats tracks watcher activity for status and debugging.
type WatcherStats struct {
	ManifestsLoaded  int
	ManifestsRemoved int
	Errors           int
	LastEventTime    time.Time
	LastEventPath    string
	LastEventType    string
}

// NewWatcher creates a watcher over dir feeding registry.
func NewWatcher(dir string, registry *Registry) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	return &Watcher{
		watcher:     fsw,
		registry:    registry,
		dir:         dir,
		debounceMap: make(map[string]time.Time),
		debounceDur: 500 * time.Millisecond,
		stopCh:      make(chan struct{}),
		doneCh:      make(chan struct{}),
	}, nil
}

// Start begins watching. Non-blocking; the event loop runs in its own
// goroutine until Stop or context cancellation.
func (w *Watcher) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return nil
	}
	w.running = true
	w.mu.Unlock()

	if err := os.MkdirAll(w.dir, 0755); err != nil {
		logging.Get(logging.CategoryWorkload).Warn("Failed to create workload dir %s: %v (continuing)", w.dir, err)
	}
	if err := w.watcher.Add(w.dir); err != nil {
		logging.Get(logging.CategoryWorkload).Warn("Initial watch failed on %s: %v", w.dir, err)
	} else {
		logging.Workload("Watching workload dir: %s", w.dir)
	}

	go w.run(ctx)
	return nil
}

// Stop stops the watcher and waits for the event loop to drain.
func (w *Watcher) Stop() {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return
	}
	w.running = false
	w.mu.Unlock()

	close(w.stopCh)
	<-w.doneCh

	if err := w.watcher.Close(); err != nil {
		logging.Get(logging.CategoryWorkload).Error("Error closing watcher: %v", err)
	}
	logging.Workload("Workload watcher stopped")
}

// IsWatching reports whether the event loop is live.
func (w *Watcher) IsWatching() bool {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.running
}

// Stats returns a copy of the activity counters.
func (w *Watcher) Stats() WatcherStats {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.stats
}

func (w *Watcher) run(ctx context.Context) {
	defer close(w.doneCh)

	debounceTicker := time.NewTicker(100 * time.Millisecond)
	defer debounceTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			logging.Workload("Workload watcher: context cancelled")
			return

		case <-w.stopCh:
			return

		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			w.handleEvent(event)

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			logging.Get(logging.CategoryWorkload).Error("Workload watcher error: %v", err)
			w.mu.Lock()
			w.stats.Errors++
			w.mu.Unlock()

		case <-debounceTicker.C:
			w.processDebounced()
		}
	}
}

func (w *Watcher) handleEvent(event fsnotify.Event) {
	if !strings.HasSuffix(event.Name, ManifestSuffix) {
		return
	}

	var eventType string
	switch {
	case event.Op&fsnotify.Create != 0:
		eventType = "create"
	case event.Op&fsnotify.Write != 0:
		eventType = "modify"
	case event.Op&fsnotify.Remove != 0:
		eventType = "delete"
	case event.Op&fsnotify.Rename != 0:
		eventType = "rename"
	default:
		return
	}

	logging.WorkloadDebug("Manifest %s event: %s", eventType, event.Name)

	w.mu.Lock()
	w.stats.LastEventTime = time.Now()
	w.stats.LastEventPath = event.Name
	w.stats.LastEventType = eventType
	w.debounceMap[event.Name] = time.Now()
	w.mu.Unlock()
}

// processDebounced applies events that have settled past the debounce
// window. Whether a settled path means load or evict is decided by
// whether the file still exists, so a rapid create-delete sequence
// lands on the right side.
func (w *Watcher) processDebounced() {
	w.mu.Lock()
	now := time.Now()
	var settled []string
	for path, eventTime := range w.debounceMap {
		if now.Sub(eventTime) >= w.debounceDur {
			settled = append(settled, path)
			delete(w.debounceMap, path)
		}
	}
	w.mu.Unlock()

	for _, path := range settled {
		w.apply(path)
	}
}

func (w *Watcher) apply(path string) {
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			if name, ok := w.registry.RemoveByManifest(path); ok {
				logging.Workload("Manifest deleted, module evicted: %s", name)
				w.mu.Lock()
				w.stats.ManifestsRemoved++
				w.mu.Unlock()
			}
			return
		}
		logging.Get(logging.CategoryWorkload).Error("Stat %s failed: %v", path, err)
		w.mu.Lock()
		w.stats.Errors++
		w.mu.Unlock()
		return
	}

	m, err := w.registry.LoadManifest(path)
	if err != nil {
		logging.Get(logging.CategoryWorkload).Warn("Manifest rejected: %v", err)
		w.mu.Lock()
		w.stats.Errors++
		w.mu.Unlock()
		return
	}
	logging.Workload("Manifest applied: %s (module %s)", path, m.Name)
	w.mu.Lock()
	w.stats.ManifestsLoaded++
	w.mu.Unlock()
}
