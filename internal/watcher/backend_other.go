//go:build !linux

package watcher

import (
	"errors"
	"time"
)

func newPlatformBackend(settle time.Duration) (Backend, error) {
	return newFsnotifyBackend(settle)
}

func newInotifyBackend() (Backend, error) {
	return nil, errors.New("inotify backend is only available on linux")
}
