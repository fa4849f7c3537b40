package watcher

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// pendingFile tracks a path that has not been quiet for a full settle window.
type pendingFile struct {
	timer   *time.Timer
	written bool
}

// fsnotifyBackend derives ready events from portable notifications. fsnotify
// has no close-after-write signal, so a file is reported once it has been
// quiet for the settle window: as KindCloseWrite if it saw writes, or as
// KindMovedTo if it only appeared.
type fsnotifyBackend struct {
	watcher *fsnotify.Watcher
	settle  time.Duration

	mu      sync.Mutex
	pending map[string]*pendingFile
	ready   []Event
	err     error

	notify    chan struct{}
	done      chan struct{}
	closeOnce sync.Once
}

func newFsnotifyBackend(settle time.Duration) (Backend, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create fsnotify watcher: %w", err)
	}

	b := &fsnotifyBackend{
		watcher: w,
		settle:  settle,
		pending: make(map[string]*pendingFile),
		notify:  make(chan struct{}, 1),
		done:    make(chan struct{}),
	}

	go b.loop()

	return b, nil
}

func (b *fsnotifyBackend) Add(path string) error {
	if err := b.watcher.Add(path); err != nil {
		return fmt.Errorf("failed to add fsnotify watch for %s: %w", path, err)
	}

	return nil
}

func (b *fsnotifyBackend) Next(ctx context.Context) (Event, error) {
	for {
		b.mu.Lock()
		if len(b.ready) > 0 {
			ev := b.ready[0]
			b.ready = b.ready[1:]
			b.mu.Unlock()

			return ev, nil
		}

		if err := b.err; err != nil {
			b.err = nil
			b.mu.Unlock()

			return Event{}, err
		}
		b.mu.Unlock()

		select {
		case <-ctx.Done():
			return Event{}, ErrStopped
		case <-b.done:
			return Event{}, ErrStopped
		case <-b.notify:
		}
	}
}

func (b *fsnotifyBackend) Close() error {
	var err error

	b.closeOnce.Do(func() {
		close(b.done)

		b.mu.Lock()
		for path, p := range b.pending {
			p.timer.Stop()
			delete(b.pending, path)
		}
		b.mu.Unlock()

		err = b.watcher.Close()
	})

	return err
}

func (b *fsnotifyBackend) loop() {
	for {
		select {
		case ev, ok := <-b.watcher.Events:
			if !ok {
				return
			}

			b.handle(ev)
		case err, ok := <-b.watcher.Errors:
			if !ok {
				return
			}

			if errors.Is(err, fsnotify.ErrEventOverflow) {
				b.push(Event{Kind: KindOther})

				continue
			}

			b.mu.Lock()
			b.err = err
			b.mu.Unlock()
			b.wake()
		case <-b.done:
			return
		}
	}
}

func (b *fsnotifyBackend) handle(ev fsnotify.Event) {
	b.mu.Lock()
	defer b.mu.Unlock()

	p, tracked := b.pending[ev.Name]

	switch {
	case ev.Has(fsnotify.Create) || ev.Has(fsnotify.Write):
		if !tracked {
			path := ev.Name
			p = &pendingFile{timer: time.AfterFunc(b.settle, func() { b.promote(path) })}
			b.pending[path] = p
		} else {
			p.timer.Reset(b.settle)
		}

		if ev.Has(fsnotify.Write) {
			p.written = true
		}
	case ev.Has(fsnotify.Remove) || ev.Has(fsnotify.Rename):
		if tracked {
			p.timer.Stop()
			delete(b.pending, ev.Name)
		}

		b.ready = append(b.ready, toEvent(ev.Name, KindOther))
		b.wake()
	}
}

// promote moves a settled path to the ready queue.
func (b *fsnotifyBackend) promote(path string) {
	b.mu.Lock()

	p, ok := b.pending[path]
	if !ok {
		b.mu.Unlock()

		return
	}

	delete(b.pending, path)

	kind := KindMovedTo
	if p.written {
		kind = KindCloseWrite
	}

	if info, err := os.Stat(path); err != nil || info.IsDir() {
		kind = KindOther
	}

	b.ready = append(b.ready, toEvent(path, kind))
	b.mu.Unlock()

	b.wake()
}

func (b *fsnotifyBackend) push(ev Event) {
	b.mu.Lock()
	b.ready = append(b.ready, ev)
	b.mu.Unlock()

	b.wake()
}

func (b *fsnotifyBackend) wake() {
	select {
	case b.notify <- struct{}{}:
	default:
	}
}

func toEvent(path string, kind Kind) Event {
	return Event{Dir: filepath.Dir(path), Name: filepath.Base(path), Kind: kind}
}
