//go:build linux

package watcher

import "time"

func newPlatformBackend(time.Duration) (Backend, error) {
	return newInotifyBackend()
}
