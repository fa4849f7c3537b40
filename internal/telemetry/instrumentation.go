package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// Span attributes must stay low cardinality: operation, component, worker
// and status are fine; torrent paths, file names and handoff IDs belong in
// the logs, which carry trace_id for correlation.

// InstrumentedFunc represents a function that can be instrumented.
type InstrumentedFunc func(ctx context.Context) error

// InstrumentOperation runs fn inside a span named operationName.
func (t *Telemetry) InstrumentOperation(ctx context.Context, operationName, component string, fn InstrumentedFunc) error {
	if t == nil || t.tracer == nil {
		return fn(ctx)
	}

	start := time.Now()
	ctx, span := t.tracer.Start(ctx, operationName)

	defer span.End()

	span.SetAttributes(
		attribute.String("component", component),
		attribute.String("operation", operationName),
	)

	err := fn(ctx)

	status := "success"
	if err != nil {
		status = "error"

		span.SetAttributes(attribute.Bool("error", true))
		span.SetStatus(codes.Error, err.Error())
	}

	span.SetAttributes(
		attribute.String("status", status),
		attribute.Float64("duration_seconds", time.Since(start).Seconds()),
	)

	return err
}

// InstrumentDBOperation instruments history ledger operations.
func (t *Telemetry) InstrumentDBOperation(ctx context.Context, operation string, fn InstrumentedFunc) error {
	start := time.Now()
	err := t.InstrumentOperation(ctx, "db_"+operation, "database", fn)

	status := "success"
	if err != nil {
		status = "error"
	}

	t.RecordDBOperation(ctx, operation, status, time.Since(start))

	return err
}

// InstrumentHandoff wraps one complete hand-off, retries included. fn returns
// the outcome label recorded on handoffs_total.
func (t *Telemetry) InstrumentHandoff(ctx context.Context, fn func(ctx context.Context) string) string {
	if t == nil || t.tracer == nil {
		return fn(ctx)
	}

	start := time.Now()

	t.IncrementActiveHandoffs(ctx)
	defer t.DecrementActiveHandoffs(ctx)

	ctx, span := t.tracer.Start(ctx, "handoff")
	defer span.End()

	status := fn(ctx)

	span.SetAttributes(attribute.String("status", status))
	t.RecordHandoff(ctx, status, time.Since(start))

	return status
}

// InstrumentPostProcess instruments the post-processing step.
func (t *Telemetry) InstrumentPostProcess(ctx context.Context, strategy string, fn InstrumentedFunc) error {
	err := t.InstrumentOperation(ctx, "post_process", "cleanup", fn)

	status := "success"
	if err != nil {
		status = "error"
	}

	t.RecordPostProcess(ctx, strategy, status)

	return err
}
