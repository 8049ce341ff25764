package watcher

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/lance13c/casepilot/internal/logging"
)

// ErrAlreadyWatching is returned by Start on a running watcher
var ErrAlreadyWatching = errors.New("watcher is already running")

// caseExts are the file types a case can be loaded from
var caseExts = map[string]bool{".yaml": true, ".yml": true, ".json": true, ".md": true}

// ChangeFunc is called with the case files that settled after a change
type ChangeFunc func(ctx context.Context, files []string) error

// FileWatcher reports edits to case files once they stop changing
type FileWatcher struct {
	targets  []string
	debounce time.Duration
	watcher  *fsnotify.Watcher
	onChange ChangeFunc
	now      func() time.Time

	mu         sync.Mutex
	isWatching bool
	pending    map[string]time.Time
}

// NewFileWatcher watches the given case files or directories of case files
func NewFileWatcher(targets []string, debounce time.Duration, onChange ChangeFunc) (*FileWatcher, error) {
	if len(targets) == 0 {
		return nil, errors.New("nothing to watch")
	}
	if debounce <= 0 {
		debounce = 300 * time.Millisecond
	}
	abs := make([]string, len(targets))
	for i, t := range targets {
		p, err := filepath.Abs(t)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve %s: %w", t, err)
		}
		abs[i] = p
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create watcher: %w", err)
	}
	return &FileWatcher{
		targets:  abs,
		debounce: debounce,
		watcher:  w,
		onChange: onChange,
		now:      time.Now,
		pending:  make(map[string]time.Time),
	}, nil
}

// Start watches until ctx is done. Callback errors are logged and watching continues.
func (fw *FileWatcher) Start(ctx context.Context) error {
	fw.mu.Lock()
	if fw.isWatching {
		fw.mu.Unlock()
		return ErrAlreadyWatching
	}
	fw.isWatching = true
	fw.mu.Unlock()
	defer fw.Stop()

	if err := fw.addWatchPaths(); err != nil {
		return fmt.Errorf("failed to add watch paths: %w", err)
	}

	ticker := time.NewTicker(fw.debounce / 2)
	defer ticker.Stop()

	logging.Info("Watching %d path(s) (debounce: %v)", len(fw.targets), fw.debounce)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case event, ok := <-fw.watcher.Events:
			if !ok {
				return errors.New("watcher events channel closed")
			}
			if fw.relevant(event) {
				fw.mu.Lock()
				fw.pending[event.Name] = fw.now()
				fw.mu.Unlock()
			}

		case err, ok := <-fw.watcher.Errors:
			if !ok {
				return errors.New("watcher errors channel closed")
			}
			logging.Warn("File watcher error: %v", err)

		case <-ticker.C:
			files := fw.settled()
			if len(files) == 0 || fw.onChange == nil {
				continue
			}
			logging.Info("Detected changes in %d file(s)", len(files))
			if err := fw.onChange(ctx, files); err != nil {
				logging.Error("Error handling file changes: %v", err)
			}
		}
	}
}

// Stop stops the watcher
func (fw *FileWatcher) Stop() {
	fw.mu.Lock()
	defer fw.mu.Unlock()
	if fw.isWatching {
		fw.watcher.Close()
		fw.isWatching = false
		logging.Info("File watcher stopped")
	}
}

// IsWatching returns true if the watcher is currently active
func (fw *FileWatcher) IsWatching() bool {
	fw.mu.Lock()
	defer fw.mu.Unlock()
	return fw.isWatching
}

// addWatchPaths watches each target directory, or the directory holding each
// target file; editors often replace a file instead of writing it in place.
func (fw *FileWatcher) addWatchPaths() error {
	dirs := map[string]bool{}
	for _, t := range fw.targets {
		info, err := os.Stat(t)
		if err != nil {
			return err
		}
		if info.IsDir() {
			dirs[t] = true
		} else {
			dirs[filepath.Dir(t)] = true
		}
	}
	for dir := range dirs {
		if err := fw.watcher.Add(dir); err != nil {
			return err
		}
	}
	return nil
}

// relevant reports whether an event touches a watched case file
func (fw *FileWatcher) relevant(event fsnotify.Event) bool {
	if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
		return false
	}
	base := filepath.Base(event.Name)
	if strings.HasPrefix(base, ".") || strings.HasSuffix(base, "~") {
		return false
	}
	for _, t := range fw.targets {
		if event.Name == t {
			return true
		}
		if filepath.Dir(event.Name) == t && caseExts[strings.ToLower(filepath.Ext(event.Name))] {
			return true
		}
	}
	return false
}

// settled removes and returns files that have not changed for the debounce period
func (fw *FileWatcher) settled() []string {
	fw.mu.Lock()
	defer fw.mu.Unlock()
	threshold := fw.now().Add(-fw.debounce)
	var files []string
	for file, at := range fw.pending {
		if !at.After(threshold) {
			files = append(files, file)
			delete(fw.pending, file)
		}
	}
	sort.Strings(files)
	return files
}
