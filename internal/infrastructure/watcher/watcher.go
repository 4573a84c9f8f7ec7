// Package watcher observes an active environment's module directory so the
// session log records what changed while the environment was in use.
package watcher

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/doeshing/psenv/internal/domain"
	"github.com/doeshing/psenv/internal/ports"
)

// flushInterval batches rapid events (a module install touches dozens of
// files) into one log pass.
const flushInterval = 500 * time.Millisecond

// ModuleWatcher appends filesystem change events under <root>/Modules to
// <root>/Logs/modules.log while a session is active.
type ModuleWatcher struct {
	log ports.Logger

	mu      sync.Mutex
	fsw     *fsnotify.Watcher
	env     domain.Environment
	stopCh  chan struct{}
	doneCh  chan struct{}
	running bool

	// pending is touched only by the run goroutine.
	pending map[string]string
}

// NewModuleWatcher builds a watcher. It does nothing until Start.
func NewModuleWatcher(log ports.Logger) *ModuleWatcher {
	return &ModuleWatcher{log: log}
}

// Start implements ports.SessionWatcher. Starting twice without Stop is a
// no-op for the second caller.
func (w *ModuleWatcher) Start(env domain.Environment) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.running {
		return nil
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}

	modulesDir := filepath.Join(env.Root, domain.ModuleDir)
	if err := fsw.Add(modulesDir); err != nil {
		fsw.Close()
		return fmt.Errorf("watch %s: %w", modulesDir, err)
	}
	// fsnotify does not recurse. Watching the existing module directories
	// catches edits inside them; new ones are added as they appear.
	if entries, err := os.ReadDir(modulesDir); err == nil {
		for _, entry := range entries {
			if entry.IsDir() {
				_ = fsw.Add(filepath.Join(modulesDir, entry.Name()))
			}
		}
	}

	w.fsw = fsw
	w.env = env
	w.pending = make(map[string]string)
	w.stopCh = make(chan struct{})
	w.doneCh = make(chan struct{})
	w.running = true

	go w.run()
	return nil
}

// Stop implements ports.SessionWatcher. Pending events are flushed before
// the watcher closes. Stopping a stopped watcher is a no-op.
func (w *ModuleWatcher) Stop() error {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return nil
	}
	w.running = false
	stopCh, doneCh, fsw := w.stopCh, w.doneCh, w.fsw
	w.mu.Unlock()

	close(stopCh)
	<-doneCh
	return fsw.Close()
}

func (w *ModuleWatcher) run() {
	defer close(w.doneCh)

	flush := time.NewTicker(flushInterval)
	defer flush.Stop()

	for {
		select {
		case <-w.stopCh:
			w.flushPending()
			return
		case event, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			w.handleEvent(event)
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			if w.log != nil {
				w.log.Warn("module watcher error", map[string]interface{}{"error": err.Error()})
			}
		case <-flush.C:
			w.flushPending()
		}
	}
}

func (w *ModuleWatcher) handleEvent(event fsnotify.Event) {
	var verb string
	switch {
	case event.Op&fsnotify.Create != 0:
		verb = "created"
	case event.Op&fsnotify.Write != 0:
		verb = "modified"
	case event.Op&fsnotify.Remove != 0:
		verb = "removed"
	case event.Op&fsnotify.Rename != 0:
		verb = "renamed"
	default:
		return
	}

	if verb == "created" {
		if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
			_ = w.fsw.Add(event.Name)
		}
	}

	w.pending[event.Name] = verb
}

// flushPending appends the batched events to modules.log, one line each,
// sorted by path so a single install reads as a block.
func (w *ModuleWatcher) flushPending() {
	if len(w.pending) == 0 {
		return
	}

	paths := make([]string, 0, len(w.pending))
	for path := range w.pending {
		paths = append(paths, path)
	}
	sort.Strings(paths)

	var b strings.Builder
	now := time.Now().Format(domain.TimestampFormat)
	for _, path := range paths {
		b.WriteString(fmt.Sprintf("%s %s %s\n", now, w.pending[path], w.relative(path)))
	}
	w.pending = make(map[string]string)

	logPath := filepath.Join(w.env.Root, domain.LogsDir, "modules.log")
	if err := appendFile(logPath, b.String()); err != nil && w.log != nil {
		w.log.Warn("module log append failed", map[string]interface{}{"error": err.Error()})
	}
}

func (w *ModuleWatcher) relative(path string) string {
	if rel, err := filepath.Rel(w.env.Root, path); err == nil {
		return rel
	}
	return path
}

func appendFile(path, content string) error {
	if err := os.MkdirAll(filepath.Dir(path), domain.DirectoryPermissions); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = f.WriteString(content)
	return err
}

var _ ports.SessionWatcher = (*ModuleWatcher)(nil)
