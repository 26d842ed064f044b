package config

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/injector/injector/pkg/logger"
)

// ReloadCallback is called with the re-read options, or the error that
// prevented reading them.
type ReloadCallback func(*Options, error)

// ReloadManager watches the options file and re-reads it on change. The
// build commands and post-processing flags can then be edited while a
// session is open.
type ReloadManager struct {
	path           string
	logger         logger.Logger
	watcher        *fsnotify.Watcher
	callbacks      []ReloadCallback
	current        *Options
	lastModTime    time.Time
	debounceTimer  *time.Timer
	debouncePeriod time.Duration
	mu             sync.RWMutex
	cancel         context.CancelFunc
	watching       bool
}

// NewReloadManager creates a reload manager for the options file at path
func NewReloadManager(path string, log logger.Logger) *ReloadManager {
	return &ReloadManager{
		path:           path,
		logger:         log,
		debouncePeriod: 300 * time.Millisecond,
	}
}

// AddCallback adds a reload callback
func (rm *ReloadManager) AddCallback(cb ReloadCallback) {
	rm.mu.Lock()
	defer rm.mu.Unlock()
	rm.callbacks = append(rm.callbacks, cb)
}

// SetDebouncePeriod sets the quiet period before a change is re-read
func (rm *ReloadManager) SetDebouncePeriod(period time.Duration) {
	rm.mu.Lock()
	defer rm.mu.Unlock()
	rm.debouncePeriod = period
}

// Current returns the last successfully read options, or nil
func (rm *ReloadManager) Current() *Options {
	rm.mu.RLock()
	defer rm.mu.RUnlock()
	return rm.current
}

// Start reads the options once and begins watching the file's directory.
// Watching stops when ctx is cancelled or Stop is called.
func (rm *ReloadManager) Start(ctx context.Context) (*Options, error) {
	rm.mu.Lock()
	defer rm.mu.Unlock()

	if rm.watching {
		return nil, fmt.Errorf("already watching %s", rm.path)
	}

	opts, err := ReadOptions(rm.path)
	if err != nil {
		return nil, err
	}
	rm.current = opts
	if stat, err := os.Stat(rm.path); err == nil {
		rm.lastModTime = stat.ModTime()
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create file watcher: %w", err)
	}
	if err := watcher.Add(filepath.Dir(rm.path)); err != nil {
		watcher.Close()
		return nil, fmt.Errorf("failed to watch options directory: %w", err)
	}
	rm.watcher = watcher

	watchCtx, cancel := context.WithCancel(ctx)
	rm.cancel = cancel
	rm.watching = true

	go rm.watchLoop(watchCtx, watcher)

	rm.logger.Debug("Watching options file", logger.WithField("path", rm.path))
	return opts, nil
}

// Stop stops watching
func (rm *ReloadManager) Stop() error {
	rm.mu.Lock()
	defer rm.mu.Unlock()

	if !rm.watching {
		return nil
	}
	rm.cancel()
	if rm.debounceTimer != nil {
		rm.debounceTimer.Stop()
		rm.debounceTimer = nil
	}
	err := rm.watcher.Close()
	rm.watcher = nil
	rm.watching = false
	return err
}

func (rm *ReloadManager) watchLoop(ctx context.Context, watcher *fsnotify.Watcher) {
	defer func() {
		if r := recover(); r != nil {
			rm.logger.Error("Options watcher panic recovered", logger.WithField("panic", r))
		}
	}()

	name := filepath.Base(rm.path)
	for {
		select {
		case <-ctx.Done():
			return

		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if filepath.Base(event.Name) != name {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename|fsnotify.Remove) == 0 {
				continue
			}
			rm.debounce()

		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			rm.logger.Error("Options watcher error", logger.WithField("error", err))
			rm.notify(nil, err)
		}
	}
}

func (rm *ReloadManager) debounce() {
	rm.mu.Lock()
	defer rm.mu.Unlock()

	if rm.debounceTimer != nil {
		rm.debounceTimer.Stop()
	}
	rm.debounceTimer = time.AfterFunc(rm.debouncePeriod, rm.reload)
}

func (rm *ReloadManager) reload() {
	stat, err := os.Stat(rm.path)
	if err != nil {
		rm.logger.Warn("Options file unavailable", logger.WithField("error", err))
		rm.notify(nil, err)
		return
	}

	rm.mu.Lock()
	if !stat.ModTime().After(rm.lastModTime) {
		rm.mu.Unlock()
		return
	}
	rm.lastModTime = stat.ModTime()
	rm.mu.Unlock()

	opts, err := ReadOptions(rm.path)
	if err != nil {
		rm.logger.Error("Failed to reload options", logger.WithField("error", err))
		rm.notify(nil, err)
		return
	}

	rm.mu.Lock()
	rm.current = opts
	rm.mu.Unlock()

	for k := range opts.Unknown {
		rm.logger.Warn("Unknown option key", logger.WithField("key", k))
	}
	rm.logger.Info("Options reloaded", logger.WithField("path", rm.path))
	rm.notify(opts, nil)
}

func (rm *ReloadManager) notify(opts *Options, err error) {
	rm.mu.RLock()
	callbacks := make([]ReloadCallback, len(rm.callbacks))
	copy(callbacks, rm.callbacks)
	rm.mu.RUnlock()

	for _, cb := range callbacks {
		func() {
			defer func() {
				if r := recover(); r != nil {
					rm.logger.Error("Reload callback panic recovered", logger.WithField("panic", r))
				}
			}()
			cb(opts, err)
		}()
	}
}
