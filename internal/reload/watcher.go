// Package reload keeps a running daemon in step with its config file: a
// polling watcher notices edits, and a handler re-validates the file and
// swaps the job set without touching in-flight runs.
package reload

import (
	"context"
	"os"
	"sync"
	"sync/atomic"
	"time"
)

const defaultPollInterval = 5 * time.Second

// Change is one observed modification of the watched file.
type Change struct {
	Path string
	// ModTime is the file mtime that triggered the notification.
	ModTime time.Time
}

// stamp is the identity of one file version. Size is tracked alongside
// mtime because editors that rewrite within the filesystem's mtime
// granularity would otherwise go unnoticed.
type stamp struct {
	mod  time.Time
	size int64
}

// Watcher polls a config file and reports content changes. Polling keeps
// reload behavior identical across platforms; a scheduler daemon has no
// need for sub-second reload latency.
type Watcher struct {
	path     string
	interval time.Duration
	changes  chan Change
	stop     chan struct{}
	stopped  chan struct{}

	last stamp

	started   atomic.Bool
	startOnce sync.Once
	stopOnce  sync.Once
}

// NewWatcher watches path, checking every interval. A non-positive
// interval falls back to 5 seconds.
func NewWatcher(path string, interval time.Duration) *Watcher {
	if interval <= 0 {
		interval = defaultPollInterval
	}
	return &Watcher{
		path:     path,
		interval: interval,
		changes:  make(chan Change, 1),
		stop:     make(chan struct{}),
		stopped:  make(chan struct{}),
	}
}

// Start begins polling. The baseline stamp is taken synchronously, so a
// modification after Start returns is never missed. Repeated calls are
// no-ops.
func (w *Watcher) Start(ctx context.Context) {
	w.startOnce.Do(func() {
		w.last = w.stat()
		w.started.Store(true)
		go w.poll(ctx)
	})
}

// Changes returns the notification channel. At most one change is
// buffered; edits that land while a notification is pending coalesce
// into it.
func (w *Watcher) Changes() <-chan Change {
	return w.changes
}

// Stop halts polling and waits for the poll goroutine to exit. Safe to
// call multiple times and before Start.
func (w *Watcher) Stop() {
	w.stopOnce.Do(func() {
		close(w.stop)
	})
	if w.started.Load() {
		<-w.stopped
	}
}

func (w *Watcher) poll(ctx context.Context) {
	defer close(w.stopped)

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stop:
			return
		case <-ticker.C:
			cur := w.stat()
			// A missing file is not a change; wait for it to come back.
			if cur.mod.IsZero() {
				continue
			}
			if cur == w.last {
				continue
			}
			w.last = cur
			select {
			case w.changes <- Change{Path: w.path, ModTime: cur.mod}:
			default:
			}
		}
	}
}

func (w *Watcher) stat() stamp {
	info, err := os.Stat(w.path)
	if err != nil {
		return stamp{}
	}
	return stamp{mod: info.ModTime(), size: info.Size()}
}
