package integrity

import (
	"context"
	"io/fs"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// debounceDefault is the default debounce interval for file events.
// An editor save or build touches several files in quick succession;
// one verification per burst is enough.
const debounceDefault = 500 * time.Millisecond

// Watcher watches the covered directories and invokes a handler after
// each debounced burst of filesystem changes. The handler typically
// runs Monitor.Verify and feeds the result into the guardian.
type Watcher struct {
	root        string
	coveredDirs []string
	handler     func(changed []string)
	debounce    time.Duration
}

// NewWatcher creates a watcher over root's covered directories.
func NewWatcher(root string, coveredDirs []string, handler func(changed []string)) *Watcher {
	return &Watcher{
		root:        root,
		coveredDirs: append([]string(nil), coveredDirs...),
		handler:     handler,
		debounce:    debounceDefault,
	}
}

// Run watches until ctx is cancelled. fsnotify does not recurse, so
// every subdirectory of each covered tree is added explicitly.
func (w *Watcher) Run(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer func() { _ = watcher.Close() }()

	for _, dir := range w.coveredDirs {
		base := filepath.Join(w.root, filepath.FromSlash(dir))
		err := filepath.WalkDir(base, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return nil // covered dir may not exist yet
			}
			if !d.IsDir() {
				return nil
			}
			if skippedDirs[d.Name()] || strings.HasPrefix(d.Name(), ".") {
				return filepath.SkipDir
			}
			return watcher.Add(path)
		})
		if err != nil {
			return err
		}
	}

	// A single timer resets on each event; when it fires, all
	// accumulated paths flush to the handler in one call. No per-file
	// goroutines.
	var mu sync.Mutex
	pending := make(map[string]bool)
	timer := time.NewTimer(w.debounce)
	if !timer.Stop() {
		<-timer.C
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			if !coveredFile(filepath.Base(event.Name)) {
				continue
			}
			mu.Lock()
			pending[event.Name] = true
			mu.Unlock()
			timer.Reset(w.debounce)

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			_ = err // transient watch errors do not stop the monitor

		case <-timer.C:
			mu.Lock()
			changed := make([]string, 0, len(pending))
			for p := range pending {
				changed = append(changed, p)
			}
			pending = make(map[string]bool)
			mu.Unlock()
			if len(changed) > 0 {
				w.handler(changed)
			}
		}
	}
}
