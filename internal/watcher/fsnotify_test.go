package watcher

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestFsnotify(t *testing.T, dir string) Backend {
	t.Helper()

	b, err := newFsnotifyBackend(20 * time.Millisecond)
	require.NoError(t, err)
	t.Cleanup(func() { _ = b.Close() })

	require.NoError(t, b.Add(dir))

	return b
}

// nextMatching skips events for other names, such as removals.
func nextMatching(t *testing.T, b Backend, name string) Event {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	for {
		ev, err := b.Next(ctx)
		require.NoError(t, err)

		if ev.Name == name {
			return ev
		}
	}
}

func TestFsnotifyBackend_WrittenFileSettles(t *testing.T) {
	dir := t.TempDir()
	b := newTestFsnotify(t, dir)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "new.torrent"), []byte("d8:announce0:e"), 0o644))

	ev := nextMatching(t, b, "new.torrent")
	assert.Equal(t, KindCloseWrite, ev.Kind)
	assert.Equal(t, dir, ev.Dir)
}

func TestFsnotifyBackend_MovedInFile(t *testing.T) {
	src := t.TempDir()
	dir := t.TempDir()

	staged := filepath.Join(src, "moved.torrent")
	require.NoError(t, os.WriteFile(staged, []byte("d8:announce0:e"), 0o644))

	b := newTestFsnotify(t, dir)

	require.NoError(t, os.Rename(staged, filepath.Join(dir, "moved.torrent")))

	ev := nextMatching(t, b, "moved.torrent")
	assert.Equal(t, KindMovedTo, ev.Kind)
}

func TestFsnotifyBackend_DirectoryIsNotReady(t *testing.T) {
	dir := t.TempDir()
	b := newTestFsnotify(t, dir)

	require.NoError(t, os.Mkdir(filepath.Join(dir, "sub.torrent"), 0o755))

	ev := nextMatching(t, b, "sub.torrent")
	assert.Equal(t, KindOther, ev.Kind)
}

func TestFsnotifyBackend_StopsOnCancelAndClose(t *testing.T) {
	b := newTestFsnotify(t, t.TempDir())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := b.Next(ctx)
	require.ErrorIs(t, err, ErrStopped)

	require.NoError(t, b.Close())
	require.NoError(t, b.Close())

	_, err = b.Next(context.Background())
	require.ErrorIs(t, err, ErrStopped)
}
