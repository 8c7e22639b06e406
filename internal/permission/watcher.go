package permission

import (
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"tandem/internal/config"
	"tandem/internal/logging"
)

// debounceWindow coalesces the burst of events editors emit on save.
const debounceWindow = 250 * time.Millisecond

// ruleWatcher reloads the gate's rules when the config file changes on disk.
// Event driven rather than polled. A malformed edit keeps the previous rules
// in effect; only the initial load is fatal on bad rules.
type ruleWatcher struct {
	gate    *Gate
	path    string
	watcher *fsnotify.Watcher

	mu      sync.Mutex
	timer   *time.Timer
	stopped bool
	done    chan struct{}
}

// WatchRules starts hot-reloading permission rules from the config file at
// path. Call StopWatching to release the watcher.
func (g *Gate) WatchRules(path string) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create rules watcher: %w", err)
	}
	// Watch the directory: editors replace files on save, which drops a
	// watch registered on the file itself.
	if err := w.Add(filepath.Dir(path)); err != nil {
		w.Close()
		return fmt.Errorf("failed to watch rules directory: %w", err)
	}

	rw := &ruleWatcher{
		gate:    g,
		path:    path,
		watcher: w,
		done:    make(chan struct{}),
	}

	g.mu.Lock()
	if g.watcher != nil {
		g.mu.Unlock()
		w.Close()
		return fmt.Errorf("rules watcher already running")
	}
	g.watcher = rw
	g.mu.Unlock()

	go rw.run()
	logging.Permission("watching %s for rule changes", path)
	return nil
}

// StopWatching stops the hot-reload watcher, if any.
func (g *Gate) StopWatching() {
	g.mu.Lock()
	rw := g.watcher
	g.watcher = nil
	g.mu.Unlock()

	if rw != nil {
		rw.stop()
	}
}

func (rw *ruleWatcher) run() {
	defer close(rw.done)
	for {
		select {
		case event, ok := <-rw.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != filepath.Clean(rw.path) {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			rw.scheduleReload()
		case err, ok := <-rw.watcher.Errors:
			if !ok {
				return
			}
			logging.Get(logging.CategoryPermission).Warn("rules watcher error: %v", err)
		}
	}
}

// scheduleReload debounces a reload.
func (rw *ruleWatcher) scheduleReload() {
	rw.mu.Lock()
	defer rw.mu.Unlock()
	if rw.stopped {
		return
	}
	if rw.timer != nil {
		rw.timer.Stop()
	}
	rw.timer = time.AfterFunc(debounceWindow, rw.reload)
}

func (rw *ruleWatcher) reload() {
	cfg, err := config.Load(rw.path)
	if err != nil {
		logging.Get(logging.CategoryPermission).Warn("rules reload rejected, keeping previous rules: %v", err)
		return
	}
	mode, err := ParseMode(cfg.Permissions.Mode)
	if err != nil {
		logging.Get(logging.CategoryPermission).Warn("rules reload rejected, keeping previous rules: %v", err)
		return
	}
	if err := rw.gate.setRules(cfg.Permissions.Allow, cfg.Permissions.Deny); err != nil {
		logging.Get(logging.CategoryPermission).Warn("rules reload rejected, keeping previous rules: %v", err)
		return
	}
	rw.gate.SetMode(mode)
	logging.Permission("rules reloaded: %d allow, %d deny, mode %s",
		len(cfg.Permissions.Allow), len(cfg.Permissions.Deny), mode)
}

func (rw *ruleWatcher) stop() {
	rw.mu.Lock()
	rw.stopped = true
	if rw.timer != nil {
		rw.timer.Stop()
	}
	rw.mu.Unlock()

	rw.watcher.Close()
	<-rw.done
}
