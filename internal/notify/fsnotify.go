package notify

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// startFsnotify watches dir/message with inotify via fsnotify. inotify
// events carry no originating PID, so self-loop suppression is left to
// the consumer's debounce; signals are still coalesced by the bounded
// channel.
func (n *Notifier) startFsnotify(dir string, log *zap.Logger) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("fsnotify: %w", err)
	}
	n.stop = func() {
		watcher.Close()
	}

	msgDir := filepath.Join(dir, "message")
	raw := make(chan Event, 64)
	go filter(raw, 0, n.events)

	go func() {
		defer close(raw)
		if !waitForPath(msgDir, time.Second, n.done) {
			return
		}
		if err := watcher.Add(msgDir); err != nil {
			log.Error("fsnotify add failed; no proactive notifications",
				zap.String("dir", msgDir), zap.Error(err))
			return
		}
		log.Info("watching for writes", zap.String("dir", msgDir))

		for {
			select {
			case <-n.done:
				return
			case ev, ok := <-watcher.Events:
				if !ok {
					return
				}
				if ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
					continue
				}
				if !strings.Contains(filepath.Base(ev.Name), ".db") {
					continue
				}
				raw <- Event{Path: ev.Name}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				log.Warn("watch error", zap.Error(err))
			}
		}
	}()
	return nil
}
