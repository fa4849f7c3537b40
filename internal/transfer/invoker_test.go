package transfer

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/italolelis/watchdir/internal/logctx"
	"github.com/italolelis/watchdir/internal/telemetry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// failingWorker fails the first failures calls, then succeeds.
type failingWorker struct {
	failures int32
	calls    atomic.Int32
	err      error
}

func (w *failingWorker) Name() string { return "fake" }

func (w *failingWorker) Add(_ context.Context, _ Request) error {
	n := w.calls.Add(1)
	if w.failures < 0 || n <= w.failures {
		return w.err
	}

	return nil
}

func captureLogs(t *testing.T) (context.Context, *bytes.Buffer) {
	t.Helper()

	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))

	return logctx.WithLogger(context.Background(), logger), &buf
}

func countMessages(buf *bytes.Buffer, msg string) int {
	return strings.Count(buf.String(), `"msg":"`+msg+`"`)
}

func TestInvoker_SucceedsFirstTry(t *testing.T) {
	ctx, logs := captureLogs(t)
	worker := &failingWorker{err: errors.New("boom")}

	ok := NewInvoker(worker, 5, time.Millisecond).Invoke(ctx, Request{TorrentPath: "/w/a.torrent", DownloadDir: "/d"})

	assert.True(t, ok)
	assert.EqualValues(t, 1, worker.calls.Load())
	assert.Zero(t, countMessages(logs, "retrying hand-off"))
	assert.Zero(t, countMessages(logs, "giving up"))
}

func TestInvoker_RecoversAfterFailures(t *testing.T) {
	const maxRetries = 5

	for k := int32(1); k < maxRetries; k++ {
		ctx, logs := captureLogs(t)
		worker := &failingWorker{failures: k, err: &ExitStatusError{Command: "transmission-remote", ExitCode: 1, Stderr: "refused"}}

		ok := NewInvoker(worker, maxRetries, time.Millisecond).Invoke(ctx, Request{TorrentPath: "/w/a.torrent"})

		assert.True(t, ok, "k=%d", k)
		assert.Equal(t, k+1, worker.calls.Load(), "k=%d", k)
		assert.Equal(t, int(k), countMessages(logs, "retrying hand-off"), "k=%d", k)
		assert.Equal(t, int(k), countMessages(logs, "hand-off attempt failed"), "k=%d", k)
		assert.Zero(t, countMessages(logs, "giving up"), "k=%d", k)
		assert.Contains(t, logs.String(), `"error_kind":"exit_status"`)
		assert.Contains(t, logs.String(), `"stderr":"refused"`)
	}
}

func TestInvoker_GivesUp(t *testing.T) {
	ctx, logs := captureLogs(t)
	worker := &failingWorker{failures: -1, err: &InvocationError{Command: "missing", Err: errors.New("not found")}}

	start := time.Now()
	ok := NewInvoker(worker, 5, 10*time.Millisecond).Invoke(ctx, Request{TorrentPath: "/w/a.torrent"})

	assert.False(t, ok)
	assert.EqualValues(t, 5, worker.calls.Load())
	assert.Equal(t, 4, countMessages(logs, "retrying hand-off"))
	assert.Equal(t, 1, countMessages(logs, "giving up"))
	assert.Contains(t, logs.String(), `"error_kind":"invocation"`)
	assert.GreaterOrEqual(t, time.Since(start), 40*time.Millisecond)
}

func TestInvoker_SingleAttempt(t *testing.T) {
	ctx, logs := captureLogs(t)
	worker := &failingWorker{failures: -1, err: errors.New("boom")}

	ok := NewInvoker(worker, 1, time.Hour).Invoke(ctx, Request{})

	assert.False(t, ok)
	assert.EqualValues(t, 1, worker.calls.Load())
	assert.Zero(t, countMessages(logs, "retrying hand-off"))
	assert.Equal(t, 1, countMessages(logs, "giving up"))
}

func TestInvoker_DefaultRetries(t *testing.T) {
	inv := NewInvoker(&failingWorker{}, 0, DefaultRetryDelay)

	assert.EqualValues(t, DefaultMaxRetries, inv.maxRetries)
}

func TestInvoker_CancelDuringDelay(t *testing.T) {
	ctx, logs := captureLogs(t)
	ctx, cancel := context.WithCancel(ctx)

	worker := &failingWorker{failures: -1, err: errors.New("boom")}
	inv := NewInvoker(worker, 5, time.Hour)

	done := make(chan bool, 1)
	go func() {
		done <- inv.Invoke(ctx, Request{TorrentPath: "/w/a.torrent"})
	}()

	require.Eventually(t, func() bool { return worker.calls.Load() == 1 }, time.Second, time.Millisecond)
	cancel()

	select {
	case ok := <-done:
		assert.False(t, ok)
	case <-time.After(time.Second):
		t.Fatal("Invoke did not return after cancellation")
	}

	assert.EqualValues(t, 1, worker.calls.Load())
	assert.Zero(t, countMessages(logs, "giving up"))
	assert.Equal(t, 1, countMessages(logs, "hand-off abandoned"))
}

func TestInstrumentedWorker(t *testing.T) {
	tel, err := telemetry.New(context.Background(), telemetry.Config{Enabled: false})
	require.NoError(t, err)

	inner := &failingWorker{failures: 1, err: &NetworkError{Operation: "upload", APIMessage: "timeout"}}
	w := NewInstrumentedWorker(inner, tel)

	assert.Equal(t, "fake", w.Name())

	err = w.Add(context.Background(), Request{})
	var netErr *NetworkError
	require.ErrorAs(t, err, &netErr)

	require.NoError(t, w.Add(context.Background(), Request{}))
}

func TestWorkerFunc(t *testing.T) {
	var got Request

	w := WorkerFunc{WorkerName: "func", Fn: func(_ context.Context, req Request) error {
		got = req

		return nil
	}}

	req := Request{TorrentPath: "a.torrent", DownloadDir: "/d", ExtraArgs: []string{"-x"}}
	require.NoError(t, w.Add(context.Background(), req))

	assert.Equal(t, "func", w.Name())
	assert.Equal(t, req, got)
}
