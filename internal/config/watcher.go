package config

import (
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
)

// Watcher monitors the settings file for changes and publishes full
// replacements to subscribers. Unlike the teacher's poll-based watcher this
// is event-driven via fsnotify, so settings changes propagate within a
// write, not on a multi-second tick — the snapshot-swap semantics this
// module builds on call for prompt propagation.
type Watcher struct {
	path     string
	onChange func(old, new AppSettings)

	mu      sync.Mutex
	current AppSettings

	watcher *fsnotify.Watcher
	done    chan struct{}
	stopOnce sync.Once
}

// NewWatcher creates a settings file watcher. It loads the initial
// settings immediately (creating a default file if absent, see [Load]) and
// starts watching in a background goroutine.
func NewWatcher(path string, onChange func(old, new AppSettings)) (*Watcher, error) {
	settings, err := Load(path)
	if err != nil {
		return nil, fmt.Errorf("config: watcher initial load: %w", err)
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("config: create fsnotify watcher: %w", err)
	}
	if err := fsw.Add(filepath.Dir(path)); err != nil {
		fsw.Close()
		return nil, fmt.Errorf("config: watch directory of %q: %w", path, err)
	}

	w := &Watcher{
		path:     path,
		onChange: onChange,
		current:  settings,
		watcher:  fsw,
		done:     make(chan struct{}),
	}

	go w.run()
	return w, nil
}

// Current returns the most recently loaded valid settings snapshot.
func (w *Watcher) Current() AppSettings {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.current
}

// Stop stops the file watcher and releases the underlying fsnotify handle.
func (w *Watcher) Stop() {
	w.stopOnce.Do(func() {
		close(w.done)
		w.watcher.Close()
	})
}

// run consumes fsnotify events for the settings file's directory, reloading
// on any write/create/rename that targets the settings file itself.
func (w *Watcher) run() {
	for {
		select {
		case <-w.done:
			return
		case ev, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if ev.Name != w.path {
				continue
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			w.reload()
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			slog.Warn("config watcher: fsnotify error", "err", err)
		}
	}
}

// reload reads and validates the settings file and, if it parses cleanly,
// swaps the in-memory snapshot and notifies the subscriber. A malformed
// write (e.g. a partially flushed editor save) is logged and ignored; the
// previous valid snapshot remains current.
func (w *Watcher) reload() {
	settings, err := Load(w.path)
	if err != nil {
		slog.Warn("config watcher: failed to reload settings", "path", w.path, "err", err)
		return
	}

	w.mu.Lock()
	old := w.current
	next := settings
	next.Permissions.Version = old.Permissions.Version + 1
	w.current = next
	w.mu.Unlock()

	diff := Diff(old, next)
	slog.Info("config watcher: settings reloaded",
		"path", w.path,
		"permissionsChanged", diff.PermissionsChanged,
		"version", next.Permissions.Version,
	)

	if w.onChange != nil {
		w.onChange(old, next)
	}
}
