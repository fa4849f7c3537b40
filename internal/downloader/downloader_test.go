package downloader

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/italolelis/watchdir/internal/cleanup"
	"github.com/italolelis/watchdir/internal/logctx"
	"github.com/italolelis/watchdir/internal/storage"
	"github.com/italolelis/watchdir/internal/storage/sqlite"
	"github.com/italolelis/watchdir/internal/transfer"
	"github.com/italolelis/watchdir/internal/watcher"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// chanBackend replays events from a channel. Closing the channel stops it,
// or fails it when err is set.
type chanBackend struct {
	events chan watcher.Event
	err    error
}

func newChanBackend() *chanBackend {
	return &chanBackend{events: make(chan watcher.Event, 16)}
}

func (b *chanBackend) Add(string) error { return nil }

func (b *chanBackend) Next(ctx context.Context) (watcher.Event, error) {
	select {
	case <-ctx.Done():
		return watcher.Event{}, watcher.ErrStopped
	case ev, ok := <-b.events:
		if !ok {
			if b.err != nil {
				return watcher.Event{}, b.err
			}

			return watcher.Event{}, watcher.ErrStopped
		}

		return ev, nil
	}
}

func (b *chanBackend) Close() error { return nil }

type recordingWorker struct {
	mu       sync.Mutex
	requests []transfer.Request
	fail     bool
}

func (w *recordingWorker) Name() string { return "recording" }

func (w *recordingWorker) Add(_ context.Context, req transfer.Request) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.requests = append(w.requests, req)

	if w.fail {
		return &transfer.ExitStatusError{Command: "transmission-remote", ExitCode: 1, Stderr: "Couldn't connect to server"}
	}

	return nil
}

type recordingNotifier struct {
	messages []string
}

func (n *recordingNotifier) Notify(_ context.Context, content string) error {
	n.messages = append(n.messages, content)

	return nil
}

type fixture struct {
	watchDir string
	destDir  string
	backend  *chanBackend
	worker   *recordingWorker
	notifier *recordingNotifier
	history  *sqlite.HandoffRepository
	logs     *bytes.Buffer
	ctx      context.Context
	d        *Downloader
}

func newFixture(t *testing.T, maxRetries uint, fail bool) *fixture {
	t.Helper()

	root := t.TempDir()

	db, err := sqlite.InitDB(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	f := &fixture{
		watchDir: filepath.Join(root, "watch"),
		destDir:  filepath.Join(root, "dest"),
		backend:  newChanBackend(),
		worker:   &recordingWorker{fail: fail},
		notifier: &recordingNotifier{},
		history:  sqlite.NewHandoffRepository(db),
		logs:     &bytes.Buffer{},
	}

	logger := slog.New(slog.NewJSONHandler(f.logs, &slog.HandlerOptions{Level: slog.LevelDebug}))
	f.ctx = logctx.WithLogger(context.Background(), logger)

	post, err := cleanup.New(cleanup.StrategyRename, cleanup.DefaultSuffix, "")
	require.NoError(t, err)

	f.d = NewDownloader(
		[]string{f.watchDir},
		f.destDir,
		[]string{"--start-paused"},
		watcher.New(f.backend, nil),
		transfer.NewInvoker(f.worker, maxRetries, time.Millisecond),
		post,
		Options{History: f.history, Notifier: f.notifier},
	)

	require.NoError(t, f.d.Prepare(f.ctx))

	return f
}

func (f *fixture) drop(t *testing.T, name string) string {
	t.Helper()

	path := filepath.Join(f.watchDir, name)
	require.NoError(t, os.WriteFile(path, []byte("d8:announce0:e"), 0o644))

	f.backend.events <- watcher.Event{Dir: f.watchDir, Name: name, Kind: watcher.KindCloseWrite}

	return path
}

func TestDownloader_Prepare_CreatesDirectories(t *testing.T) {
	f := newFixture(t, 1, false)

	assert.DirExists(t, f.watchDir)
	assert.DirExists(t, f.destDir)
}

func TestDownloader_Success(t *testing.T) {
	f := newFixture(t, 5, false)

	path := f.drop(t, "report.torrent")
	close(f.backend.events)

	require.NoError(t, f.d.Run(f.ctx))

	require.Len(t, f.worker.requests, 1)
	assert.Equal(t, transfer.Request{
		TorrentPath: path,
		DownloadDir: f.destDir,
		ExtraArgs:   []string{"--start-paused"},
	}, f.worker.requests[0])

	assert.NoFileExists(t, path)
	assert.FileExists(t, path+".added")
	assert.Empty(t, f.notifier.messages)

	records, err := f.history.GetHandoffs(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, storage.StatusAdded, records[0].Status)
	assert.Equal(t, path, records[0].TorrentPath)
	assert.Equal(t, "recording", records[0].Worker)
	assert.EqualValues(t, len("d8:announce0:e"), records[0].SizeBytes)
	assert.Contains(t, f.logs.String(), `"handoff_id":"`+records[0].ID+`"`)
}

func TestDownloader_AlwaysFailing(t *testing.T) {
	f := newFixture(t, 3, true)

	path := f.drop(t, "report.torrent")
	close(f.backend.events)

	require.NoError(t, f.d.Run(f.ctx))

	assert.Len(t, f.worker.requests, 3)
	assert.FileExists(t, path)
	assert.NoFileExists(t, path+".added")
	assert.Equal(t, 1, strings.Count(f.logs.String(), `"msg":"giving up"`))
	assert.Contains(t, f.logs.String(), "Couldn't connect to server")

	require.Len(t, f.notifier.messages, 1)
	assert.Contains(t, f.notifier.messages[0], "report.torrent")

	records, err := f.history.GetHandoffs(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, storage.StatusFailed, records[0].Status)
}

func TestDownloader_ProcessesFilesInOrder(t *testing.T) {
	f := newFixture(t, 1, false)

	first := f.drop(t, "a.torrent")
	f.backend.events <- watcher.Event{Dir: f.watchDir, Name: "notes.txt", Kind: watcher.KindCloseWrite}
	second := f.drop(t, "b.TORRENT")
	close(f.backend.events)

	require.NoError(t, f.d.Run(f.ctx))

	require.Len(t, f.worker.requests, 2)
	assert.Equal(t, first, f.worker.requests[0].TorrentPath)
	assert.Equal(t, second, f.worker.requests[1].TorrentPath)
}

func TestDownloader_PostProcessFailureIsLogged(t *testing.T) {
	f := newFixture(t, 1, false)

	// The event refers to a file that is not on disk, so the rename fails.
	f.backend.events <- watcher.Event{Dir: f.watchDir, Name: "ghost.torrent", Kind: watcher.KindMovedTo}
	close(f.backend.events)

	require.NoError(t, f.d.Run(f.ctx))

	assert.Len(t, f.worker.requests, 1)
	assert.Contains(t, f.logs.String(), "failed to post-process torrent file")
}

func TestDownloader_CancellationStopsCleanly(t *testing.T) {
	f := newFixture(t, 1, false)

	ctx, cancel := context.WithCancel(f.ctx)

	done := make(chan error, 1)
	go func() { done <- f.d.Run(ctx) }()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancellation")
	}
}

func TestDownloader_BackendFailure(t *testing.T) {
	f := newFixture(t, 1, false)

	f.backend.err = errors.New("inotify queue broken")
	close(f.backend.events)

	err := f.d.Run(f.ctx)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "inotify queue broken")
}

func TestDownloader_RecoversFromWorkerPanic(t *testing.T) {
	f := newFixture(t, 1, false)

	post, err := cleanup.New(cleanup.StrategyRename, "", "")
	require.NoError(t, err)

	calls := 0
	worker := transfer.WorkerFunc{WorkerName: "panicky", Fn: func(context.Context, transfer.Request) error {
		calls++
		if calls == 1 {
			panic("boom")
		}

		return nil
	}}

	d := NewDownloader([]string{f.watchDir}, f.destDir, nil,
		watcher.New(f.backend, nil), transfer.NewInvoker(worker, 1, time.Millisecond), post, Options{})
	require.NoError(t, d.Prepare(f.ctx))

	first := f.drop(t, "a.torrent")
	second := f.drop(t, "b.torrent")
	close(f.backend.events)

	require.NoError(t, d.Run(f.ctx))

	assert.Equal(t, 2, calls)
	assert.FileExists(t, first)
	assert.FileExists(t, second+".added")
	assert.Contains(t, f.logs.String(), "hand-off panic")
}

func TestDownloader_Prepare_DestinationFailure(t *testing.T) {
	root := t.TempDir()
	blocker := filepath.Join(root, "file")
	require.NoError(t, os.WriteFile(blocker, nil, 0o644))

	d := NewDownloader([]string{filepath.Join(root, "watch")}, filepath.Join(blocker, "dest"), nil,
		watcher.New(newChanBackend(), nil), transfer.NewInvoker(&recordingWorker{}, 1, 0), cleanup.Remove{}, Options{})

	err := d.Prepare(context.Background())

	var setupErr *SetupError
	require.ErrorAs(t, err, &setupErr)
	assert.Equal(t, filepath.Join(blocker, "dest"), setupErr.Path)
}

func TestDownloader_Prepare_SkipsBadWatchDirectory(t *testing.T) {
	root := t.TempDir()
	blocker := filepath.Join(root, "file")
	require.NoError(t, os.WriteFile(blocker, nil, 0o644))

	good := filepath.Join(root, "good")
	w := watcher.New(newChanBackend(), nil)

	d := NewDownloader([]string{filepath.Join(blocker, "watch"), good}, filepath.Join(root, "dest"), nil,
		w, transfer.NewInvoker(&recordingWorker{}, 1, 0), cleanup.Remove{}, Options{})

	require.NoError(t, d.Prepare(context.Background()))
	assert.Equal(t, []string{good}, w.Dirs())
}

func TestDownloader_Prepare_NoWatchDirectory(t *testing.T) {
	root := t.TempDir()
	blocker := filepath.Join(root, "file")
	require.NoError(t, os.WriteFile(blocker, nil, 0o644))

	d := NewDownloader([]string{filepath.Join(blocker, "watch")}, filepath.Join(root, "dest"), nil,
		watcher.New(newChanBackend(), nil), transfer.NewInvoker(&recordingWorker{}, 1, 0), cleanup.Remove{}, Options{})

	require.ErrorIs(t, d.Prepare(context.Background()), ErrNoWatchDirs)
}

func TestDownloader_Prepare_WarnsWhenProcessedDirIsWatched(t *testing.T) {
	root := t.TempDir()
	watchDir := filepath.Join(root, "watch")

	var logs bytes.Buffer
	ctx := logctx.WithLogger(context.Background(), slog.New(slog.NewJSONHandler(&logs, nil)))

	d := NewDownloader([]string{watchDir}, filepath.Join(root, "dest"), nil,
		watcher.New(newChanBackend(), nil), transfer.NewInvoker(&recordingWorker{}, 1, 0),
		&cleanup.Move{Dir: watchDir + string(filepath.Separator)}, Options{})

	require.NoError(t, d.Prepare(ctx))
	assert.Contains(t, logs.String(), "processed directory is also watched")
}

func TestDownloader_Prepare_SeparateProcessedDir(t *testing.T) {
	root := t.TempDir()

	var logs bytes.Buffer
	ctx := logctx.WithLogger(context.Background(), slog.New(slog.NewJSONHandler(&logs, nil)))

	d := NewDownloader([]string{filepath.Join(root, "watch")}, filepath.Join(root, "dest"), nil,
		watcher.New(newChanBackend(), nil), transfer.NewInvoker(&recordingWorker{}, 1, 0),
		&cleanup.Move{Dir: filepath.Join(root, "processed")}, Options{})

	require.NoError(t, d.Prepare(ctx))
	assert.NotContains(t, logs.String(), "processed directory is also watched")
}

func TestGenerateInstanceID(t *testing.T) {
	a := GenerateInstanceID()
	b := GenerateInstanceID()

	assert.NotEqual(t, a, b)
	assert.Contains(t, a, "-")
}
