package watcher

import (
	"fmt"
	"strings"
	"time"
)

// Backend names accepted by NewBackend.
const (
	BackendAuto     = "auto"
	BackendInotify  = "inotify"
	BackendFsnotify = "fsnotify"
)

// NewBackend builds the named backend. "auto" picks inotify on Linux and
// fsnotify elsewhere. settle only applies to fsnotify.
func NewBackend(name string, settle time.Duration) (Backend, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", BackendAuto:
		return newPlatformBackend(settle)
	case BackendInotify:
		return newInotifyBackend()
	case BackendFsnotify:
		return newFsnotifyBackend(settle)
	default:
		return nil, fmt.Errorf("unknown watch backend %q", name)
	}
}
