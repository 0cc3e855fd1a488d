//go:build linux

package notify

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"time"
	"unsafe"

	"go.uber.org/zap"
	"golang.org/x/sys/unix"
)

// startFanotify watches dir/message with fanotify. Unlike inotify,
// fanotify events report the writing PID, so the engine's own activity is
// filtered out exactly instead of being papered over with cooldowns.
//
// Requires CAP_SYS_ADMIN; returns an error (and the caller falls back)
// when initialization is not permitted.
func (n *Notifier) startFanotify(dir string, log *zap.Logger) error {
	fd, err := unix.FanotifyInit(
		unix.FAN_CLASS_NOTIF|unix.FAN_CLOEXEC,
		unix.O_RDONLY|unix.O_LARGEFILE|unix.O_CLOEXEC,
	)
	if err != nil {
		return fmt.Errorf("fanotify_init: %w", err)
	}
	n.stop = func() {
		// Unblocks the reader thread.
		unix.Close(fd)
	}

	msgDir := filepath.Join(dir, "message")
	raw := make(chan Event, 64)

	go func() {
		// fanotify reads block in the kernel; keep them off the scheduler
		// by pinning this goroutine to its own OS thread.
		runtime.LockOSThread()
		defer close(raw)

		if !waitForPath(msgDir, time.Second, n.done) {
			return
		}
		if err := unix.FanotifyMark(fd, unix.FAN_MARK_ADD, unix.FAN_MODIFY, unix.AT_FDCWD, msgDir); err != nil {
			log.Error("fanotify mark failed; no proactive notifications",
				zap.String("dir", msgDir), zap.Error(err))
			return
		}
		log.Info("watching for external writes", zap.String("dir", msgDir))
		fanotifyReadLoop(fd, raw, log)
	}()

	go filter(raw, int32(os.Getpid()), n.events)
	return nil
}

func fanotifyReadLoop(fd int, out chan<- Event, log *zap.Logger) {
	buf := make([]byte, 4096)
	for {
		count, err := unix.Read(fd, buf)
		if err == unix.EINTR {
			continue
		}
		if err != nil {
			// Also the normal exit: Close closed the descriptor.
			log.Debug("fanotify read ended", zap.Error(err))
			return
		}

		offset := 0
		for offset < count {
			if count-offset < int(unsafe.Sizeof(unix.FanotifyEventMetadata{})) {
				break
			}
			meta := (*unix.FanotifyEventMetadata)(unsafe.Pointer(&buf[offset]))
			if meta.Event_len < uint32(unsafe.Sizeof(unix.FanotifyEventMetadata{})) {
				break
			}
			out <- Event{PID: meta.Pid, Path: eventPath(meta.Fd)}
			if meta.Fd >= 0 {
				unix.Close(int(meta.Fd))
			}
			offset += int(meta.Event_len)
		}
	}
}

// eventPath resolves the file an event refers to via its open descriptor.
func eventPath(fd int32) string {
	if fd < 0 {
		return ""
	}
	path, err := os.Readlink(fmt.Sprintf("/proc/self/fd/%d", fd))
	if err != nil {
		return ""
	}
	return path
}
