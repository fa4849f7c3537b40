package transfer

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/italolelis/watchdir/internal/logctx"
)

const (
	DefaultMaxRetries = 5
	DefaultRetryDelay = time.Second
)

// Invoker hands a file to a Worker with a bounded number of attempts and a
// fixed delay between them.
type Invoker struct {
	worker     Worker
	maxRetries uint
	delay      time.Duration
}

// NewInvoker creates an Invoker. A zero maxRetries falls back to
// DefaultMaxRetries.
func NewInvoker(worker Worker, maxRetries uint, delay time.Duration) *Invoker {
	if maxRetries == 0 {
		maxRetries = DefaultMaxRetries
	}

	return &Invoker{
		worker:     worker,
		maxRetries: maxRetries,
		delay:      delay,
	}
}

// WorkerName returns the name of the wrapped worker.
func (i *Invoker) WorkerName() string {
	return i.worker.Name()
}

// MaxRetries returns the attempt limit.
func (i *Invoker) MaxRetries() uint {
	return i.maxRetries
}

// Invoke reports whether the worker accepted req. Failures are logged and
// retried; they never escape. Cancelling ctx abandons the hand-off.
func (i *Invoker) Invoke(ctx context.Context, req Request) bool {
	logger := logctx.LoggerFromContext(ctx).With("torrent", req.TorrentPath, "worker", i.worker.Name())

	var attempt uint

	operation := func() (struct{}, error) {
		attempt++

		err := i.worker.Add(ctx, req)
		if err == nil {
			return struct{}{}, nil
		}

		if ctx.Err() != nil {
			return struct{}{}, backoff.Permanent(err)
		}

		args := []any{
			"attempt", attempt,
			"max_retries", i.maxRetries,
			"error_kind", Classify(err),
			"err", err,
		}
		if stderr := stderrOf(err); stderr != "" {
			args = append(args, "stderr", stderr)
		}

		logger.Error("hand-off attempt failed", args...)

		return struct{}{}, err
	}

	_, err := backoff.Retry(ctx, operation,
		backoff.WithBackOff(backoff.NewConstantBackOff(i.delay)),
		backoff.WithMaxTries(i.maxRetries),
		backoff.WithMaxElapsedTime(0),
		backoff.WithNotify(func(_ error, next time.Duration) {
			logger.Debug("retrying hand-off", "delay", next.String())
		}),
	)
	if err == nil {
		logger.Info("hand-off succeeded", "attempts", attempt)

		return true
	}

	if ctx.Err() != nil {
		logger.Warn("hand-off abandoned", "attempts", attempt, "reason", "context_cancelled")

		return false
	}

	logger.Error("giving up", "attempts", attempt, "err", err)

	return false
}
