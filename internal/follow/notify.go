package follow

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// waiter is the idle strategy between polls.
type waiter interface {
	// Wait blocks for at most d, possibly returning earlier when the watched
	// file changed.
	Wait(d time.Duration)
	Close()
}

type sleepWaiter struct{}

func (sleepWaiter) Wait(d time.Duration) { time.Sleep(d) }
func (sleepWaiter) Close()               {}

// notifyWaiter wakes early on fsnotify events for one path. The poll timeout
// stays in place: fsnotify is an optimization, never the source of truth.
type notifyWaiter struct {
	path    string
	watcher *fsnotify.Watcher
}

func newNotifyWaiter(path string) (*notifyWaiter, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("fsnotify watcher: %w", err)
	}
	// Watch the directory: watching the file itself breaks across
	// rename-style rotation.
	if err := w.Add(filepath.Dir(abs)); err != nil {
		_ = w.Close()
		return nil, fmt.Errorf("watch %s: %w", filepath.Dir(abs), err)
	}
	return &notifyWaiter{path: abs, watcher: w}, nil
}

func (n *notifyWaiter) Wait(d time.Duration) {
	timer := time.NewTimer(d)
	defer timer.Stop()
	for {
		select {
		case ev, ok := <-n.watcher.Events:
			if !ok {
				return
			}
			if ev.Name == n.path {
				return
			}
		case <-n.watcher.Errors:
			// Fall back to the timer; the poll loop still makes progress.
		case <-timer.C:
			return
		}
	}
}

func (n *notifyWaiter) Close() { _ = n.watcher.Close() }
