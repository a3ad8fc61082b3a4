package policy

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/fsnotify/fsnotify"
)

// Watcher re-loads a policy file when it changes and atomically swaps the
// merged value. The last good policy is retained when a reload fails.
type Watcher struct {
	mu      sync.RWMutex
	path    string
	current *Policy
	watcher *fsnotify.Watcher
	done    chan struct{}
	logger  *slog.Logger
}

// NewWatcher loads the policy once and begins watching its file. The
// returned watcher must be closed with Close.
func NewWatcher(path string) (*Watcher, error) {
	initial, err := Load(path)
	if err != nil {
		return nil, err
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("policy: watcher: %w", err)
	}
	if err := fsw.Add(path); err != nil {
		_ = fsw.Close()
		return nil, fmt.Errorf("policy: watch %s: %w", path, err)
	}

	w := &Watcher{
		path:    path,
		current: initial,
		watcher: fsw,
		done:    make(chan struct{}),
		logger:  slog.Default().With("component", "policy-watcher"),
	}
	go w.run()
	return w, nil
}

// Current returns the most recently loaded policy.
func (w *Watcher) Current() *Policy {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.current
}

// Close stops watching.
func (w *Watcher) Close() error {
	close(w.done)
	return w.watcher.Close()
}

func (w *Watcher) run() {
	for {
		select {
		case <-w.done:
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}
			next, err := Load(w.path)
			if err != nil {
				w.logger.Warn("reload failed, keeping previous policy", "path", w.path, "err", err)
				continue
			}
			w.mu.Lock()
			w.current = next
			w.mu.Unlock()
			w.logger.Info("policy reloaded", "path", w.path)
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn("watch error", "err", err)
		}
	}
}
