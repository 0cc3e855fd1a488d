// Package notify watches the store directory for writes made by other
// processes and signals "something changed" on a bounded channel.
//
// The engine's own read activity generates filesystem events too (opening
// a WAL database touches its -shm file), so events are filtered by
// originating process id where the kernel reports one; without that
// filter the engine would wake itself in a tight loop.
package notify

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

// ErrUnavailable means no filesystem watch could be established. The
// caller should fall back to fixed-interval polling, not crash.
var ErrUnavailable = errors.New("filesystem change notifications unavailable")

// Event is one raw filesystem notification with its originating process.
// PID is 0 when the watch backend does not report one.
type Event struct {
	PID  int32
	Path string
}

// Notifier delivers coalesced change signals. Delivery is at-least-once;
// bursts of external writes may collapse into a single signal.
type Notifier struct {
	events chan struct{}
	done   chan struct{}

	stopOnce sync.Once
	stop     func()
}

// C returns the signal channel.
func (n *Notifier) C() <-chan struct{} { return n.events }

// Close tears down the watch. Safe to call more than once.
func (n *Notifier) Close() error {
	n.stopOnce.Do(func() {
		close(n.done)
		if n.stop != nil {
			n.stop()
		}
	})
	return nil
}

// Start attaches a watcher to dir's message subtree. fanotify is preferred
// because its events carry the writing PID, enabling strict self-loop
// filtering; fsnotify is the fallback when fanotify cannot be established
// (missing privileges, non-Linux).
func Start(dir string, log *zap.Logger) (*Notifier, error) {
	n := &Notifier{
		events: make(chan struct{}, 32),
		done:   make(chan struct{}),
	}

	if err := n.startFanotify(dir, log); err == nil {
		log.Info("change notifier started", zap.String("backend", "fanotify"))
		return n, nil
	} else {
		log.Info("fanotify unavailable, trying fsnotify", zap.Error(err))
	}

	if err := n.startFsnotify(dir, log); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	log.Info("change notifier started", zap.String("backend", "fsnotify"))
	return n, nil
}

// filter forwards one signal per event that was not caused by selfPID and
// touches a database file. Runs until in is closed. The output channel is
// bounded; a full channel drops the signal, which is safe because delivery
// only needs to be at-least-once per burst.
func filter(in <-chan Event, selfPID int32, out chan<- struct{}) {
	for ev := range in {
		if ev.PID != 0 && ev.PID == selfPID {
			continue
		}
		if ev.Path != "" && !strings.Contains(ev.Path, ".db") {
			continue
		}
		select {
		case out <- struct{}{}:
		default:
		}
	}
}

// waitForPath polls until path exists or done closes. The external
// application may not have created the watched directory at startup.
func waitForPath(path string, interval time.Duration, done <-chan struct{}) bool {
	for {
		if _, err := os.Stat(path); err == nil {
			return true
		}
		select {
		case <-done:
			return false
		case <-time.After(interval):
		}
	}
}
