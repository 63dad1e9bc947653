// Package watch regenerates a target list whenever its compiler logs change.
package watch

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"promptrun/internal/logging"
	"promptrun/internal/targets"
)

// DefaultDebounce batches the burst of writes a compiler makes to its log.
const DefaultDebounce = 500 * time.Millisecond

// Regeneration reports one re-derivation of the target list.
type Regeneration struct {
	At      time.Time
	Trigger string // log path whose change caused it; empty for the initial pass
	Pairs   int
	Err     error
}

// Options configures a LogWatcher.
type Options struct {
	// TargetList is overwritten on every regeneration.
	TargetList string

	// Logs are concatenated in order, as with targets.Derive.
	Logs []string

	// Debounce is how long a log must be quiet before regenerating.
	Debounce time.Duration

	// Initial regenerates once at Start if every log exists.
	Initial bool

	// OnRegenerate is called from the watcher goroutine after each pass.
	OnRegenerate func(Regeneration)
}

// LogWatcherStats tracks watcher activity.
type LogWatcherStats struct {
	Events        int
	Regenerations int
	Errors        int
	LastEventTime time.Time
	LastEventPath string
	LastPairs     int
}

// LogWatcher watches the directories holding the logs, since compilers often
// replace a log rather than append to it.
type LogWatcher struct {
	mu          sync.RWMutex
	watcher     *fsnotify.Watcher
	opts        Options
	logs        map[string]bool
	debounceMap map[string]time.Time
	stopCh      chan struct{}
	doneCh      chan struct{}
	running     bool

	stats LogWatcherStats
}

// NewLogWatcher creates a watcher. Paths should already be resolved.
func NewLogWatcher(opts Options) (*LogWatcher, error) {
	if opts.TargetList == "" {
		return nil, fmt.Errorf("watch: target list not set")
	}
	if len(opts.Logs) == 0 {
		return nil, fmt.Errorf("watch: no logs to watch")
	}
	if opts.Debounce <= 0 {
		opts.Debounce = DefaultDebounce
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	logs := make(map[string]bool, len(opts.Logs))
	for _, l := range opts.Logs {
		logs[filepath.Clean(l)] = true
	}

	return &LogWatcher{
		watcher:     watcher,
		opts:        opts,
		logs:        logs,
		debounceMap: make(map[string]time.Time),
		stopCh:      make(chan struct{}),
		doneCh:      make(chan struct{}),
	}, nil
}

// Start begins watching. It returns once the directories are registered.
func (w *LogWatcher) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return nil
	}
	w.running = true
	w.mu.Unlock()

	dirs := make(map[string]bool)
	for l := range w.logs {
		dirs[filepath.Dir(l)] = true
	}
	for dir := range dirs {
		if err := w.watcher.Add(dir); err != nil {
			w.mu.Lock()
			w.running = false
			w.mu.Unlock()
			w.watcher.Close()
			return fmt.Errorf("watch %s: %w", dir, err)
		}
		logging.Watch("Watching directory: %s", dir)
	}

	if w.opts.Initial && w.allLogsExist() {
		w.regenerate(ctx, "")
	}

	go w.run(ctx)
	return nil
}

// Stop stops the watcher and waits for cleanup.
func (w *LogWatcher) Stop() {
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
		logging.WatchError("Error closing watcher: %v", err)
	}
	logging.Watch("Watcher stopped")
}

// Run starts the watcher and blocks until ctx is done.
func (w *LogWatcher) Run(ctx context.Context) error {
	if err := w.Start(ctx); err != nil {
		return err
	}
	<-ctx.Done()
	w.Stop()
	return nil
}

// GetStats returns a copy of the current stats.
func (w *LogWatcher) GetStats() LogWatcherStats {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.stats
}

func (w *LogWatcher) run(ctx context.Context) {
	defer close(w.doneCh)

	tick := w.opts.Debounce / 2
	if tick > 100*time.Millisecond {
		tick = 100 * time.Millisecond
	}
	debounceTicker := time.NewTicker(tick)
	defer debounceTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			logging.WatchDebug("Context cancelled")
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
			logging.WatchError("Watcher error: %v", err)
			w.mu.Lock()
			w.stats.Errors++
			w.mu.Unlock()

		case <-debounceTicker.C:
			w.processDebouncedEvents(ctx)
		}
	}
}

func (w *LogWatcher) handleEvent(event fsnotify.Event) {
	path := filepath.Clean(event.Name)
	if !w.logs[path] {
		return
	}
	if !event.Has(fsnotify.Create) && !event.Has(fsnotify.Write) {
		return
	}

	logging.WatchDebug("%s event for %s", event.Op, path)

	w.mu.Lock()
	w.stats.Events++
	w.stats.LastEventTime = time.Now()
	w.stats.LastEventPath = path
	w.debounceMap[path] = time.Now()
	w.mu.Unlock()
}

// processDebouncedEvents regenerates once for all logs that have settled.
func (w *LogWatcher) processDebouncedEvents(ctx context.Context) {
	w.mu.Lock()
	now := time.Now()
	trigger := ""
	for path, eventTime := range w.debounceMap {
		if now.Sub(eventTime) >= w.opts.Debounce {
			trigger = path
			delete(w.debounceMap, path)
		}
	}
	w.mu.Unlock()

	if trigger != "" {
		w.regenerate(ctx, trigger)
	}
}

func (w *LogWatcher) regenerate(ctx context.Context, trigger string) {
	n, err := targets.Derive(ctx, w.opts.TargetList, w.opts.Logs...)
	reg := Regeneration{At: time.Now(), Trigger: trigger, Pairs: n, Err: err}

	w.mu.Lock()
	if err != nil {
		w.stats.Errors++
	} else {
		w.stats.Regenerations++
		w.stats.LastPairs = n
	}
	w.mu.Unlock()

	if err != nil {
		logging.WatchError("Regenerating %s failed: %v", w.opts.TargetList, err)
	} else {
		logging.Watch("Regenerated %s: %d targets", w.opts.TargetList, n)
	}

	if w.opts.OnRegenerate != nil {
		w.opts.OnRegenerate(reg)
	}
}

func (w *LogWatcher) allLogsExist() bool {
	for _, l := range w.opts.Logs {
		if _, err := os.Stat(l); err != nil {
			return false
		}
	}
	return true
}
