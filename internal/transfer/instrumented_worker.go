package transfer

import (
	"context"

	"github.com/italolelis/watchdir/internal/telemetry"
)

// InstrumentedWorker wraps a Worker with a span and an attempt counter.
type InstrumentedWorker struct {
	worker    Worker
	telemetry *telemetry.Telemetry
}

// NewInstrumentedWorker creates a new instrumented worker.
func NewInstrumentedWorker(worker Worker, tel *telemetry.Telemetry) *InstrumentedWorker {
	return &InstrumentedWorker{
		worker:    worker,
		telemetry: tel,
	}
}

func (w *InstrumentedWorker) Name() string {
	return w.worker.Name()
}

// Add runs one attempt of the wrapped worker.
func (w *InstrumentedWorker) Add(ctx context.Context, req Request) error {
	err := w.telemetry.InstrumentOperation(ctx, "handoff_attempt", w.worker.Name(), func(ctx context.Context) error {
		return w.worker.Add(ctx, req)
	})

	status := "success"
	if err != nil {
		status = "error"
	}

	w.telemetry.RecordHandoffAttempt(ctx, w.worker.Name(), status, Classify(err))

	return err
}
