package proxy

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"graphmem/internal/customtypes"
	"graphmem/internal/logging"
)

// TypesWatcher reloads a custom type set file when it changes on disk.
// Editors save by rename or truncate-and-write, so the watcher follows the
// file's directory and debounces bursts of events.
type TypesWatcher struct {
	mu          sync.Mutex
	watcher     *fsnotify.Watcher
	path        string
	onReload    func(*customtypes.TypeSet)
	pendingAt   time.Time
	debounceDur time.Duration
	stopCh      chan struct{}
	doneCh      chan struct{}
	running     bool

	stats WatcherStats
}

// WatcherStats counts watcher activity.
type WatcherStats struct {
	Events        int
	Reloads       int
	Rejected      int
	LastReload    time.Time
	LastRejection string
}

// NewTypesWatcher watches path and calls onReload with every valid new
// version of it. Invalid versions are logged and skipped.
func NewTypesWatcher(path string, onReload func(*customtypes.TypeSet)) (*TypesWatcher, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve %s: %w", path, err)
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create file watcher: %w", err)
	}
	return &TypesWatcher{
		watcher:     watcher,
		path:        abs,
		onReload:    onReload,
		debounceDur: 300 * time.Millisecond,
		stopCh:      make(chan struct{}),
		doneCh:      make(chan struct{}),
	}, nil
}

// Start begins watching. It does not block.
func (tw *TypesWatcher) Start(ctx context.Context) error {
	tw.mu.Lock()
	if tw.running {
		tw.mu.Unlock()
		return nil
	}
	tw.running = true
	tw.mu.Unlock()

	dir := filepath.Dir(tw.path)
	if err := tw.watcher.Add(dir); err != nil {
		tw.mu.Lock()
		tw.running = false
		tw.mu.Unlock()
		return fmt.Errorf("failed to watch %s: %w", dir, err)
	}
	logging.Types("Watching custom types file %s", tw.path)

	go tw.run(ctx)
	return nil
}

// Stop stops the watcher and waits for its goroutine to exit.
func (tw *TypesWatcher) Stop() {
	tw.mu.Lock()
	if !tw.running {
		tw.mu.Unlock()
		_ = tw.watcher.Close()
		return
	}
	tw.running = false
	tw.mu.Unlock()

	close(tw.stopCh)
	<-tw.doneCh

	if err := tw.watcher.Close(); err != nil {
		logging.Get(logging.CategoryTypes).Error("Types watcher: error closing watcher: %v", err)
	}
}

// Stats returns a snapshot of the watcher counters.
func (tw *TypesWatcher) Stats() WatcherStats {
	tw.mu.Lock()
	defer tw.mu.Unlock()
	return tw.stats
}

func (tw *TypesWatcher) run(ctx context.Context) {
	defer close(tw.doneCh)

	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-tw.stopCh:
			return

		case event, ok := <-tw.watcher.Events:
			if !ok {
				return
			}
			tw.handleEvent(event)

		case err, ok := <-tw.watcher.Errors:
			if !ok {
				return
			}
			logging.Get(logging.CategoryTypes).Error("Types watcher error: %v", err)

		case <-ticker.C:
			tw.processSettled()
		}
	}
}

func (tw *TypesWatcher) handleEvent(event fsnotify.Event) {
	if filepath.Clean(event.Name) != tw.path {
		return
	}
	if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Rename|fsnotify.Remove) == 0 {
		return
	}
	logging.Get(logging.CategoryTypes).Debug("Types watcher: %s %s", event.Op, event.Name)

	tw.mu.Lock()
	tw.stats.Events++
	tw.pendingAt = time.Now()
	tw.mu.Unlock()
}

func (tw *TypesWatcher) processSettled() {
	tw.mu.Lock()
	if tw.pendingAt.IsZero() || time.Since(tw.pendingAt) < tw.debounceDur {
		tw.mu.Unlock()
		return
	}
	tw.pendingAt = time.Time{}
	tw.mu.Unlock()

	tw.reload()
}

func (tw *TypesWatcher) reload() {
	if _, err := os.Stat(tw.path); os.IsNotExist(err) {
		logging.Get(logging.CategoryTypes).Debug("Types watcher: %s removed, keeping current types", tw.path)
		return
	}

	set, err := customtypes.LoadFile(tw.path)
	if err == nil {
		err = set.Validate()
	}
	if err != nil {
		logging.Get(logging.CategoryTypes).Warn("Ignoring invalid custom types in %s: %v", tw.path, err)
		tw.mu.Lock()
		tw.stats.Rejected++
		tw.stats.LastRejection = err.Error()
		tw.mu.Unlock()
		return
	}

	for _, w := range set.Lint() {
		logging.Get(logging.CategoryTypes).Warn("%s: %s", filepath.Base(tw.path), w)
	}

	tw.mu.Lock()
	tw.stats.Reloads++
	tw.stats.LastReload = time.Now()
	tw.mu.Unlock()

	logging.Types("Reloaded custom types from %s", tw.path)
	if tw.onReload != nil {
		tw.onReload(set)
	}
}
