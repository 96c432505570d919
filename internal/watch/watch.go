// Package watch reports source file changes made outside the editor, such
// as a git checkout, using github.com/fsnotify/fsnotify.
//
// Directories are watched recursively, skipping the same directories as
// discovery. Rapid repeated writes to one path are debounced.
package watch

import (
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/phobologic/rubydef/internal/discover"
	"github.com/phobologic/rubydef/internal/lang"
)

// DebounceInterval is the window in which repeated events for a path are
// collapsed into one.
const DebounceInterval = 50 * time.Millisecond

// Watcher delivers changed paths on a bounded channel.
type Watcher struct {
	fw     *fsnotify.Watcher
	events chan string
	done   chan struct{}
	log    *slog.Logger

	mu      sync.Mutex
	stopped bool
	wg      sync.WaitGroup
}

// New starts a watcher whose channel holds up to buffer pending paths.
func New(buffer int, log *slog.Logger) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if log == nil {
		log = slog.Default()
	}
	w := &Watcher{
		fw:     fw,
		events: make(chan string, buffer),
		done:   make(chan struct{}),
		log:    log,
	}
	w.wg.Add(1)
	go w.loop()
	return w, nil
}

// Events returns the channel of changed paths. A path may be a file that
// was written, created or removed, or a directory that was created,
// removed or renamed.
func (w *Watcher) Events() <-chan string {
	return w.events
}

// Add watches root and every directory below it.
func (w *Watcher) Add(root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil // skip inaccessible paths
		}
		if !d.IsDir() {
			return nil
		}
		if path != root && discover.SkipDir(d.Name()) {
			return filepath.SkipDir
		}
		return w.fw.Add(path)
	})
}

// Remove stops watching root and the directories below it.
func (w *Watcher) Remove(root string) {
	prefix := root + string(filepath.Separator)
	for _, p := range w.fw.WatchList() {
		if p == root || strings.HasPrefix(p, prefix) {
			_ = w.fw.Remove(p)
		}
	}
}

// Close stops the watcher. It is safe to call more than once.
func (w *Watcher) Close() error {
	w.mu.Lock()
	if w.stopped {
		w.mu.Unlock()
		return nil
	}
	w.stopped = true
	close(w.done)
	w.mu.Unlock()

	err := w.fw.Close()
	w.wg.Wait()
	return err
}

func (w *Watcher) loop() {
	defer w.wg.Done()

	d := newDebouncer(DebounceInterval)
	for {
		select {
		case event, ok := <-w.fw.Events:
			if !ok {
				return
			}
			path, ok := w.relevant(event)
			if !ok {
				continue
			}

			if !d.pass(path, event.Op, time.Now()) {
				continue
			}

			select {
			case w.events <- path:
			case <-w.done:
				return
			}

		case err, ok := <-w.fw.Errors:
			if !ok {
				return
			}
			w.log.Warn("watch error", "err", err)

		case <-w.done:
			return
		}
	}
}

// debouncer collapses pure writes to one path within a window. Creates and
// removes always pass. Paths whose window has closed are forgotten.
type debouncer struct {
	window time.Duration
	last   map[string]time.Time
}

func newDebouncer(window time.Duration) *debouncer {
	return &debouncer{window: window, last: make(map[string]time.Time)}
}

// pass reports whether an event for path at now is delivered.
func (d *debouncer) pass(path string, op fsnotify.Op, now time.Time) bool {
	for p, t := range d.last {
		if now.Sub(t) >= d.window {
			delete(d.last, p)
		}
	}
	if op.Has(fsnotify.Remove) || op.Has(fsnotify.Rename) {
		delete(d.last, path)
		return true
	}
	if _, seen := d.last[path]; seen && op == fsnotify.Write {
		return false
	}
	d.last[path] = now
	return true
}

// relevant filters fsnotify events down to Ruby files and directories.
// Skipped directories are never added, so their events never arrive.
func (w *Watcher) relevant(event fsnotify.Event) (string, bool) {
	if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) &&
		!event.Has(fsnotify.Remove) && !event.Has(fsnotify.Rename) {
		return "", false
	}
	path := event.Name
	if lang.ForExtension(filepath.Ext(path)) != "" {
		return path, true
	}

	if event.Has(fsnotify.Create) {
		info, err := os.Stat(path)
		if err != nil || !info.IsDir() || discover.SkipDir(info.Name()) {
			return "", false
		}
		if err := w.Add(path); err != nil {
			w.log.Warn("cannot watch", "path", path, "err", err)
		}
		return path, true
	}
	// A removed or renamed directory cannot be stat'ed any more.
	return path, event.Has(fsnotify.Remove) || event.Has(fsnotify.Rename)
}
