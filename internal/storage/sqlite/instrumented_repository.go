package sqlite

import (
	"context"
	"database/sql"

	"github.com/italolelis/watchdir/internal/storage"
	"github.com/italolelis/watchdir/internal/telemetry"
)

// InstrumentedHandoffRepository wraps HandoffRepository with telemetry.
type InstrumentedHandoffRepository struct {
	repo      *HandoffRepository
	telemetry *telemetry.Telemetry
}

// NewInstrumentedHandoffRepository creates a new instrumented handoff repository.
func NewInstrumentedHandoffRepository(dbConn *sql.DB, tel *telemetry.Telemetry) *InstrumentedHandoffRepository {
	return &InstrumentedHandoffRepository{
		repo:      NewHandoffRepository(dbConn),
		telemetry: tel,
	}
}

// RecordHandoff records a hand-off with telemetry.
func (r *InstrumentedHandoffRepository) RecordHandoff(ctx context.Context, rec storage.HandoffRecord) error {
	return r.telemetry.InstrumentDBOperation(ctx, "record_handoff", func(ctx context.Context) error {
		return r.repo.RecordHandoff(ctx, rec)
	})
}

// GetHandoffs retrieves hand-offs with telemetry.
func (r *InstrumentedHandoffRepository) GetHandoffs(ctx context.Context, limit int) ([]storage.HandoffRecord, error) {
	var result []storage.HandoffRecord

	err := r.telemetry.InstrumentDBOperation(ctx, "get_handoffs", func(ctx context.Context) error {
		var err error

		result, err = r.repo.GetHandoffs(ctx, limit)

		return err
	})
	if err != nil {
		return nil, err
	}

	return result, nil
}
