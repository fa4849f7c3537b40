package storage

import (
	"context"
	"time"
)

// Hand-off outcomes stored in the history ledger.
const (
	StatusAdded  = "added"
	StatusFailed = "failed"
)

// HandoffRecord is one finished hand-off. Records are written once and never
// read back by the pipeline.
type HandoffRecord struct {
	ID          string
	InstanceID  string
	TorrentPath string
	DownloadDir string
	Worker      string
	Status      string
	SizeBytes   int64
	FinishedAt  time.Time
}

type HandoffWriteRepository interface {
	RecordHandoff(ctx context.Context, rec HandoffRecord) error
}

type HandoffReadRepository interface {
	// GetHandoffs returns the most recent records first.
	GetHandoffs(ctx context.Context, limit int) ([]HandoffRecord, error)
}

type HandoffRepository interface {
	HandoffWriteRepository
	HandoffReadRepository
}
