//go:build !linux

package notify

import (
	"errors"

	"go.uber.org/zap"
)

func (n *Notifier) startFanotify(dir string, log *zap.Logger) error {
	return errors.New("fanotify requires linux")
}
