//go:build linux

package watcher

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"
	"unsafe"

	"golang.org/x/sys/unix"
)

const inotifyMask = unix.IN_CLOSE_WRITE | unix.IN_MOVED_TO

// inotifyBackend reads raw inotify events. The descriptor is non-blocking and
// wrapped in an *os.File so reads park on the runtime poller and can be
// interrupted with a read deadline.
type inotifyBackend struct {
	fd   int
	file *os.File
	buf  [unix.SizeofInotifyEvent * 256]byte

	mu      sync.Mutex
	watches map[int32]string
	queue   []Event
	closed  bool
}

func newInotifyBackend() (Backend, error) {
	fd, err := unix.InotifyInit1(unix.IN_NONBLOCK | unix.IN_CLOEXEC)
	if err != nil {
		return nil, fmt.Errorf("failed to initialise inotify: %w", err)
	}

	return &inotifyBackend{
		fd:      fd,
		file:    os.NewFile(uintptr(fd), "inotify"),
		watches: make(map[int32]string),
	}, nil
}

func (b *inotifyBackend) Add(path string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return ErrStopped
	}

	wd, err := unix.InotifyAddWatch(b.fd, path, inotifyMask)
	if err != nil {
		return fmt.Errorf("failed to add inotify watch for %s: %w", path, err)
	}

	b.watches[int32(wd)] = path

	return nil
}

func (b *inotifyBackend) Next(ctx context.Context) (Event, error) {
	if ev, ok := b.pop(); ok {
		return ev, nil
	}

	if ctx.Err() != nil {
		return Event{}, ErrStopped
	}

	if err := b.file.SetReadDeadline(time.Time{}); err != nil {
		return Event{}, b.readErr(ctx, err)
	}

	stop := context.AfterFunc(ctx, func() {
		_ = b.file.SetReadDeadline(time.Now())
	})
	defer stop()

	for {
		n, err := b.file.Read(b.buf[:])
		if err != nil {
			return Event{}, b.readErr(ctx, err)
		}

		b.parse(b.buf[:n])

		if ev, ok := b.pop(); ok {
			return ev, nil
		}
	}
}

func (b *inotifyBackend) readErr(ctx context.Context, err error) error {
	if ctx.Err() != nil || errors.Is(err, os.ErrClosed) || errors.Is(err, os.ErrDeadlineExceeded) {
		return ErrStopped
	}

	return fmt.Errorf("failed to read inotify events: %w", err)
}

func (b *inotifyBackend) parse(buf []byte) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for off := 0; off+unix.SizeofInotifyEvent <= len(buf); {
		raw := (*unix.InotifyEvent)(unsafe.Pointer(&buf[off]))
		end := off + unix.SizeofInotifyEvent + int(raw.Len)

		var name string
		if raw.Len > 0 && end <= len(buf) {
			name = strings.TrimRight(string(buf[off+unix.SizeofInotifyEvent:end]), "\x00")
		}

		off = end

		switch {
		case raw.Mask&unix.IN_IGNORED != 0:
			delete(b.watches, raw.Wd)

			continue
		case raw.Mask&unix.IN_Q_OVERFLOW != 0:
			b.queue = append(b.queue, Event{Kind: KindOther})

			continue
		}

		ev := Event{Dir: b.watches[raw.Wd], Name: name, Kind: KindOther}

		switch {
		case raw.Mask&unix.IN_ISDIR != 0:
		case raw.Mask&unix.IN_CLOSE_WRITE != 0:
			ev.Kind = KindCloseWrite
		case raw.Mask&unix.IN_MOVED_TO != 0:
			ev.Kind = KindMovedTo
		}

		b.queue = append(b.queue, ev)
	}
}

func (b *inotifyBackend) pop() (Event, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if len(b.queue) == 0 {
		return Event{}, false
	}

	ev := b.queue[0]
	b.queue = b.queue[1:]

	return ev, true
}

func (b *inotifyBackend) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()

		return nil
	}

	b.closed = true
	b.mu.Unlock()

	return b.file.Close()
}
