// Package watch reports changes to a set of files so scenarios can be
// re-run while the subject is being developed.
package watch

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/timvw/shtest/internal/logging"
)

// DefaultDebounceInterval is how long the watcher waits after the last
// change before firing.
const DefaultDebounceInterval = 300 * time.Millisecond

// DefaultPollInterval is the polling interval used when fsnotify is not available.
const DefaultPollInterval = time.Second

// Config holds configuration for the watcher.
type Config struct {
	// Paths are files or directories to watch. A directory matches any
	// change inside it; a file matches only itself.
	Paths []string

	// Debounce collapses bursts of events, such as a compiler rewriting
	// the subject, into one callback.
	Debounce time.Duration

	// PollInterval is the fallback polling interval.
	PollInterval time.Duration

	// OnChange is called once per debounced burst. Calls never overlap.
	OnChange func()
}

// Watcher monitors files and directories for changes.
type Watcher struct {
	config Config

	// targets maps cleaned absolute paths to whether they are directories.
	targets map[string]bool

	mu      sync.Mutex
	timer   *time.Timer
	pending chan struct{}
}

// New creates a watcher. Paths that do not exist yet are watched through
// their parent directory.
func New(config Config) (*Watcher, error) {
	if config.Debounce <= 0 {
		config.Debounce = DefaultDebounceInterval
	}
	if config.PollInterval <= 0 {
		config.PollInterval = DefaultPollInterval
	}

	targets := make(map[string]bool, len(config.Paths))
	for _, p := range config.Paths {
		abs, err := filepath.Abs(p)
		if err != nil {
			return nil, err
		}
		info, err := os.Stat(abs)
		targets[abs] = err == nil && info.IsDir()
	}

	return &Watcher{
		config:  config,
		targets: targets,
		pending: make(chan struct{}, 1),
	}, nil
}

// Run watches until ctx is done. OnChange runs on the Run goroutine.
func (w *Watcher) Run(ctx context.Context) error {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		logging.Warn("Watch", "fsnotify not available, falling back to polling: %v", err)
		return w.poll(ctx)
	}
	defer fsw.Close()

	for _, dir := range w.watchDirs() {
		if err := fsw.Add(dir); err != nil {
			logging.Warn("Watch", "Cannot watch %s: %v", dir, err)
			continue
		}
		logging.Debug("Watch", "Watching %s", dir)
	}

	for {
		select {
		case <-ctx.Done():
			w.stopTimer()
			return nil
		case event, ok := <-fsw.Events:
			if !ok {
				return nil
			}
			w.handleEvent(event)
		case err, ok := <-fsw.Errors:
			if !ok {
				return nil
			}
			logging.Error("Watch", err, "fsnotify error")
		case <-w.pending:
			w.fire()
		}
	}
}

// watchDirs returns the directories to register. Files are watched through
// their parent so that editors replacing a file by rename are noticed.
func (w *Watcher) watchDirs() []string {
	seen := make(map[string]bool)
	var dirs []string
	for path, isDir := range w.targets {
		dir := path
		if !isDir {
			dir = filepath.Dir(path)
		}
		if !seen[dir] {
			seen[dir] = true
			dirs = append(dirs, dir)
		}
	}
	return dirs
}

func (w *Watcher) handleEvent(event fsnotify.Event) {
	if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename|fsnotify.Remove) == 0 {
		return
	}
	if !w.matches(event.Name) {
		return
	}
	logging.Debug("Watch", "Changed: %s (%s)", event.Name, event.Op)
	w.trigger()
}

// matches reports whether name is a watched file or lies inside a watched directory.
func (w *Watcher) matches(name string) bool {
	name = filepath.Clean(name)
	if _, ok := w.targets[name]; ok {
		return true
	}
	for path, isDir := range w.targets {
		if isDir && filepath.Dir(name) == path {
			return true
		}
	}
	return false
}

// trigger (re)arms the debounce timer.
func (w *Watcher) trigger() {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(w.config.Debounce, func() {
		select {
		case w.pending <- struct{}{}:
		default:
		}
	})
}

func (w *Watcher) stopTimer() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.timer != nil {
		w.timer.Stop()
		w.timer = nil
	}
}

func (w *Watcher) fire() {
	if w.config.OnChange != nil {
		w.config.OnChange()
	}
}

// poll is the fallback when fsnotify cannot be used.
func (w *Watcher) poll(ctx context.Context) error {
	ticker := time.NewTicker(w.config.PollInterval)
	defer ticker.Stop()

	last := w.snapshot()
	for {
		select {
		case <-ctx.Done():
			w.stopTimer()
			return nil
		case <-ticker.C:
			current := w.snapshot()
			if changed(last, current) {
				logging.Debug("Watch", "Changes detected via polling")
				w.trigger()
			}
			last = current
		case <-w.pending:
			w.fire()
		}
	}
}

// snapshot records modification times of the watched files and of the
// direct entries of watched directories.
func (w *Watcher) snapshot() map[string]time.Time {
	times := make(map[string]time.Time)
	for path, isDir := range w.targets {
		if !isDir {
			if info, err := os.Stat(path); err == nil {
				times[path] = info.ModTime()
			}
			continue
		}
		entries, err := os.ReadDir(path)
		if err != nil {
			continue
		}
		for _, e := range entries {
			if info, err := e.Info(); err == nil {
				times[filepath.Join(path, e.Name())] = info.ModTime()
			}
		}
	}
	return times
}

func changed(before, after map[string]time.Time) bool {
	if len(before) != len(after) {
		return true
	}
	for path, t := range after {
		if prev, ok := before[path]; !ok || !prev.Equal(t) {
			return true
		}
	}
	return false
}
