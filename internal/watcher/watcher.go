// Package watcher turns filesystem change notifications into a stream of
// descriptor files that are ready to be handed off.
//
// A Backend delivers raw events for registered directories. The Watcher
// filters them down to files that finished arriving (closed after a write or
// moved into the directory) and whose name ends in ".torrent", compared
// case-insensitively. Files already present when a directory is registered
// are not reported.
package watcher

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/italolelis/watchdir/internal/logctx"
	"github.com/italolelis/watchdir/internal/telemetry"
)

// DescriptorExt is the suffix a file needs to be handed off.
const DescriptorExt = ".torrent"

// ErrStopped ends the event sequence. It is returned once the context passed
// to Next is cancelled or the backend has been closed.
var ErrStopped = errors.New("watcher stopped")

// Kind is the kind of change a backend observed.
type Kind int

const (
	KindOther Kind = iota
	// KindCloseWrite is a file closed after being opened for writing.
	KindCloseWrite
	// KindMovedTo is a file renamed into a watched directory.
	KindMovedTo
)

func (k Kind) String() string {
	switch k {
	case KindCloseWrite:
		return "close_write"
	case KindMovedTo:
		return "moved_to"
	default:
		return "other"
	}
}

// Event is a single change reported by a Backend.
type Event struct {
	Dir  string
	Name string
	Kind Kind
}

// Path returns the full path of the file the event refers to.
func (e Event) Path() string {
	return filepath.Join(e.Dir, e.Name)
}

// Backend is an OS change-notification source.
type Backend interface {
	// Add starts watching a directory.
	Add(path string) error
	// Next blocks until an event is available. It returns ErrStopped once ctx
	// is cancelled or the backend is closed.
	Next(ctx context.Context) (Event, error)
	Close() error
}

// Qualifies reports whether an event announces a descriptor file that is
// ready to be handed off.
func Qualifies(ev Event) bool {
	if ev.Kind != KindCloseWrite && ev.Kind != KindMovedTo {
		return false
	}

	return strings.HasSuffix(strings.ToLower(ev.Name), DescriptorExt)
}

// Watcher filters backend events into ready descriptor paths.
type Watcher struct {
	backend   Backend
	telemetry *telemetry.Telemetry

	mu   sync.Mutex
	dirs []string
}

// New creates a Watcher on top of backend. tel may be nil.
func New(backend Backend, tel *telemetry.Telemetry) *Watcher {
	return &Watcher{
		backend:   backend,
		telemetry: tel,
	}
}

// Register starts watching path. A path that is not an existing directory, or
// that the backend refuses, is logged and skipped; the return value reports
// whether the directory is now being watched.
func (w *Watcher) Register(ctx context.Context, path string) bool {
	logger := logctx.LoggerFromContext(ctx).With("dir", path)

	info, err := os.Stat(path)
	if err != nil {
		logger.Error("cannot watch directory", "err", err)

		return false
	}

	if !info.IsDir() {
		logger.Error("cannot watch directory", "err", fmt.Errorf("%s is not a directory", path))

		return false
	}

	if err := w.backend.Add(path); err != nil {
		logger.Error("cannot watch directory", "err", err)
		w.telemetry.RecordSystemError(ctx, "watcher", "register")

		return false
	}

	w.mu.Lock()
	w.dirs = append(w.dirs, path)
	w.mu.Unlock()

	logger.Info("watching directory")

	return true
}

// Dirs returns the directories registered so far.
func (w *Watcher) Dirs() []string {
	w.mu.Lock()
	defer w.mu.Unlock()

	return append([]string(nil), w.dirs...)
}

// Next blocks until a qualifying file is ready and returns its path.
// Non-qualifying events are dropped. Cancellation yields ErrStopped; any
// other error means the backend failed.
func (w *Watcher) Next(ctx context.Context) (string, error) {
	logger := logctx.LoggerFromContext(ctx)

	for {
		ev, err := w.backend.Next(ctx)
		if err != nil {
			if errors.Is(err, ErrStopped) || ctx.Err() != nil {
				return "", ErrStopped
			}

			w.telemetry.RecordSystemError(ctx, "watcher", "backend")

			return "", fmt.Errorf("failed to read watch events: %w", err)
		}

		ok := Qualifies(ev)
		w.telemetry.RecordWatcherEvent(ctx, ev.Kind.String(), ok)

		if !ok {
			logger.Debug("ignoring event", "dir", ev.Dir, "name", ev.Name, "kind", ev.Kind.String())

			continue
		}

		return ev.Path(), nil
	}
}

// All returns the ready paths as an iterator. Iteration stops on
// cancellation or on a backend failure; use Next to observe the error.
func (w *Watcher) All(ctx context.Context) iter.Seq[string] {
	return func(yield func(string) bool) {
		for {
			path, err := w.Next(ctx)
			if err != nil {
				return
			}

			if !yield(path) {
				return
			}
		}
	}
}

// Close releases the backend and its kernel registrations.
func (w *Watcher) Close() error {
	return w.backend.Close()
}
