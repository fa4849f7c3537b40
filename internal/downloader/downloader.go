// Package downloader drives the watch, hand-off and post-process pipeline.
package downloader

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime/debug"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	"github.com/italolelis/watchdir/internal/cleanup"
	"github.com/italolelis/watchdir/internal/logctx"
	"github.com/italolelis/watchdir/internal/notifier"
	"github.com/italolelis/watchdir/internal/storage"
	"github.com/italolelis/watchdir/internal/telemetry"
	"github.com/italolelis/watchdir/internal/transfer"
	"github.com/italolelis/watchdir/internal/watcher"
)

const (
	dirPerm = 0755

	// statusAbandoned labels hand-offs cut short by shutdown. They are
	// neither recorded nor notified.
	statusAbandoned = "abandoned"
)

// ErrNoWatchDirs is returned by Prepare when no watch directory could be
// registered.
var ErrNoWatchDirs = errors.New("no watch directory could be registered")

// SetupError is a directory that could not be created at startup.
type SetupError struct {
	Path string
	Err  error
}

func (e *SetupError) Error() string {
	return fmt.Sprintf("failed to create directory %s: %v", e.Path, e.Err)
}

func (e *SetupError) Unwrap() error {
	return e.Err
}

// Options are the optional collaborators of a Downloader.
type Options struct {
	History   storage.HandoffWriteRepository
	Notifier  notifier.Notifier
	Telemetry *telemetry.Telemetry
}

// Downloader processes one ready file at a time: it waits for the watcher,
// hands the file to the invoker and post-processes it on success.
type Downloader struct {
	watchDirs   []string
	downloadDir string
	extraArgs   []string

	watcher    *watcher.Watcher
	invoker    *transfer.Invoker
	post       cleanup.PostProcessor
	history    storage.HandoffWriteRepository
	notifier   notifier.Notifier
	telemetry  *telemetry.Telemetry
	instanceID string
}

func NewDownloader(
	watchDirs []string,
	downloadDir string,
	extraArgs []string,
	w *watcher.Watcher,
	inv *transfer.Invoker,
	post cleanup.PostProcessor,
	opts Options,
) *Downloader {
	n := opts.Notifier
	if n == nil {
		n = notifier.NopNotifier{}
	}

	return &Downloader{
		watchDirs:   watchDirs,
		downloadDir: downloadDir,
		extraArgs:   extraArgs,
		watcher:     w,
		invoker:     inv,
		post:        post,
		history:     opts.History,
		notifier:    n,
		telemetry:   opts.Telemetry,
		instanceID:  GenerateInstanceID(),
	}
}

// Prepare creates the destination and the watch directories, then registers
// the watch directories. A destination that cannot be created aborts with a
// *SetupError. A watch directory that cannot be created or registered is
// logged and skipped.
func (d *Downloader) Prepare(ctx context.Context) error {
	logger := logctx.LoggerFromContext(ctx)

	if err := os.MkdirAll(d.downloadDir, dirPerm); err != nil {
		return &SetupError{Path: d.downloadDir, Err: err}
	}

	for _, dir := range d.watchDirs {
		if err := os.MkdirAll(dir, dirPerm); err != nil {
			logger.Error("skipping watch directory", "dir", dir, "err", &SetupError{Path: dir, Err: err})

			continue
		}

		d.watcher.Register(ctx, dir)
	}

	if len(d.watcher.Dirs()) == 0 {
		return ErrNoWatchDirs
	}

	if m, ok := d.post.(*cleanup.Move); ok {
		for _, dir := range d.watcher.Dirs() {
			if sameDir(dir, m.Dir) {
				logger.Warn("processed directory is also watched, moved files will be handed off again", "dir", dir)
			}
		}
	}

	return nil
}

func sameDir(a, b string) bool {
	absA, errA := filepath.Abs(a)
	absB, errB := filepath.Abs(b)

	if errA != nil || errB != nil {
		return filepath.Clean(a) == filepath.Clean(b)
	}

	return absA == absB
}

// Run processes ready files until ctx is cancelled, which returns nil. A
// failing watch backend returns an error.
func (d *Downloader) Run(ctx context.Context) error {
	logger := logctx.LoggerFromContext(ctx)

	logger.Info("waiting for torrent files",
		"watch_dirs", d.watcher.Dirs(),
		"download_dir", d.downloadDir,
		"worker", d.invoker.WorkerName(),
		"post_process", d.post.Name(),
	)

	for {
		path, err := d.watcher.Next(ctx)
		if err != nil {
			if errors.Is(err, watcher.ErrStopped) {
				logger.Info("shutting down downloader", "reason", "context_cancelled")

				return nil
			}

			return fmt.Errorf("watcher failed: %w", err)
		}

		d.handle(ctx, path)
	}
}

// handle runs one hand-off. A panic is logged and the file left in place.
func (d *Downloader) handle(ctx context.Context, path string) {
	id := uuid.NewString()
	ctx, logger := logctx.With(ctx, "handoff_id", id)

	defer func() {
		if r := recover(); r != nil {
			logger.Error("hand-off panic",
				"torrent", path,
				"panic", r,
				"stack", string(debug.Stack()))
			d.telemetry.RecordSystemError(ctx, "downloader", "panic")
		}
	}()

	var size int64
	if info, err := os.Stat(path); err == nil {
		size = info.Size()
	}

	logger.Info("torrent file ready", "torrent", path, "file_size", humanize.Bytes(uint64(size)))

	status := d.telemetry.InstrumentHandoff(ctx, func(ctx context.Context) string {
		ok := d.invoker.Invoke(ctx, transfer.Request{
			TorrentPath: path,
			DownloadDir: d.downloadDir,
			ExtraArgs:   d.extraArgs,
		})
		if !ok {
			if ctx.Err() != nil {
				return statusAbandoned
			}

			return storage.StatusFailed
		}

		err := d.telemetry.InstrumentPostProcess(ctx, d.post.Name(), func(ctx context.Context) error {
			return d.post.Process(ctx, path)
		})
		if err != nil {
			logger.Error("failed to post-process torrent file", "torrent", path, "strategy", d.post.Name(), "err", err)
		}

		return storage.StatusAdded
	})

	if status == statusAbandoned {
		return
	}

	d.record(ctx, id, path, status, size)

	if status == storage.StatusFailed {
		msg := fmt.Sprintf("watchdir gave up on %s after %d attempts (worker %s)",
			filepath.Base(path), d.invoker.MaxRetries(), d.invoker.WorkerName())

		if err := d.notifier.Notify(ctx, msg); err != nil {
			logger.Warn("failed to send notification", "err", err)
		}
	}
}

func (d *Downloader) record(ctx context.Context, id, path, status string, size int64) {
	if d.history == nil {
		return
	}

	rec := storage.HandoffRecord{
		ID:          id,
		InstanceID:  d.instanceID,
		TorrentPath: path,
		DownloadDir: d.downloadDir,
		Worker:      d.invoker.WorkerName(),
		Status:      status,
		SizeBytes:   size,
	}

	if err := d.history.RecordHandoff(ctx, rec); err != nil {
		logctx.LoggerFromContext(ctx).Error("failed to record hand-off", "err", err)
	}
}
