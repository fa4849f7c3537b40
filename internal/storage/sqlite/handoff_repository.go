package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/italolelis/watchdir/internal/storage"
)

// timeLayout is fixed width so finished_at sorts correctly as text.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

type HandoffRepository struct {
	db *sql.DB
}

func NewHandoffRepository(dbConn *sql.DB) *HandoffRepository {
	return &HandoffRepository{db: dbConn}
}

// RecordHandoff appends a finished hand-off to the ledger.
func (r *HandoffRepository) RecordHandoff(ctx context.Context, rec storage.HandoffRecord) error {
	if rec.FinishedAt.IsZero() {
		rec.FinishedAt = time.Now()
	}

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO handoffs (id, instance_id, torrent_path, download_dir, worker, status, size_bytes, finished_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, rec.ID, rec.InstanceID, rec.TorrentPath, rec.DownloadDir, rec.Worker, rec.Status, rec.SizeBytes,
		rec.FinishedAt.UTC().Format(timeLayout))
	if err != nil {
		return fmt.Errorf("failed to insert handoff: %w", err)
	}

	return nil
}

// GetHandoffs returns up to limit records, newest first.
func (r *HandoffRepository) GetHandoffs(ctx context.Context, limit int) ([]storage.HandoffRecord, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, instance_id, torrent_path, download_dir, worker, status, size_bytes, finished_at
		FROM handoffs
		ORDER BY finished_at DESC, rowid DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query handoffs: %w", err)
	}
	defer rows.Close()

	var records []storage.HandoffRecord

	for rows.Next() {
		var (
			rec        storage.HandoffRecord
			instanceID sql.NullString
			dir        sql.NullString
			worker     sql.NullString
			finishedAt string
		)

		if err := rows.Scan(&rec.ID, &instanceID, &rec.TorrentPath, &dir, &worker, &rec.Status, &rec.SizeBytes, &finishedAt); err != nil {
			return nil, fmt.Errorf("failed to scan handoff: %w", err)
		}

		rec.InstanceID = instanceID.String
		rec.DownloadDir = dir.String
		rec.Worker = worker.String

		if t, err := time.Parse(timeLayout, finishedAt); err == nil {
			rec.FinishedAt = t
		}

		records = append(records, rec)
	}

	return records, rows.Err()
}
