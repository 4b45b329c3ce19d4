package etl

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"

	"github.com/wangz99-crypto/dc-moving-violations-cloud-etl/internal/db"
)

// SyncEntry represents a row in etl.sync_log.
type SyncEntry struct {
	ID          string     `json:"id"`
	Dataset     string     `json:"dataset"`
	Status      string     `json:"status"`
	StartedAt   time.Time  `json:"started_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	RowsSynced  int64      `json:"rows_synced"`
	RangeStart  *time.Time `json:"range_start,omitempty"`
	RangeEnd    *time.Time `json:"range_end,omitempty"`
	Error       string     `json:"error,omitempty"`
}

// SyncLog provides read/write access to the etl.sync_log table. It records
// run history for operators; range resolution never reads it (the watermark
// is derived from the target tables).
type SyncLog struct {
	pool db.Pool
}

// NewSyncLog creates a new SyncLog backed by the given connection pool.
func NewSyncLog(pool db.Pool) *SyncLog {
	return &SyncLog{pool: pool}
}

// Start records the beginning of a sync run and returns its ID.
func (s *SyncLog) Start(ctx context.Context, dataset string) (string, error) {
	id := uuid.NewString()
	_, err := s.pool.Exec(ctx,
		`INSERT INTO etl.sync_log (id, dataset, status, started_at)
		 VALUES ($1, $2, 'running', now())`,
		id, dataset,
	)
	if err != nil {
		return "", eris.Wrapf(err, "synclog: start sync for %s", dataset)
	}
	return id, nil
}

// Complete marks a sync run as successfully completed.
func (s *SyncLog) Complete(ctx context.Context, syncID string, rowsSynced int64, rangeStart, rangeEnd time.Time) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE etl.sync_log
		 SET status = 'complete', completed_at = now(), rows_synced = $1, range_start = $2, range_end = $3
		 WHERE id = $4`,
		rowsSynced, rangeStart, rangeEnd, syncID,
	)
	if err != nil {
		return eris.Wrapf(err, "synclog: complete sync %s", syncID)
	}
	return nil
}

// Fail marks a sync run as failed with an error message.
func (s *SyncLog) Fail(ctx context.Context, syncID string, errMsg string) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE etl.sync_log
		 SET status = 'failed', completed_at = now(), error = $1
		 WHERE id = $2`,
		errMsg, syncID,
	)
	if err != nil {
		return eris.Wrapf(err, "synclog: fail sync %s", syncID)
	}
	return nil
}

// Recent returns the most recent sync log entries, newest first.
func (s *SyncLog) Recent(ctx context.Context, limit int) ([]SyncEntry, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.pool.Query(ctx,
		`SELECT id, dataset, status, started_at, completed_at, rows_synced, range_start, range_end, error
		 FROM etl.sync_log ORDER BY started_at DESC LIMIT $1`,
		limit,
	)
	if err != nil {
		return nil, eris.Wrap(err, "synclog: list recent")
	}
	defer rows.Close()

	var entries []SyncEntry
	for rows.Next() {
		var e SyncEntry
		var errStr *string
		if err := rows.Scan(&e.ID, &e.Dataset, &e.Status, &e.StartedAt, &e.CompletedAt, &e.RowsSynced, &e.RangeStart, &e.RangeEnd, &errStr); err != nil {
			return nil, eris.Wrap(err, "synclog: scan entry")
		}
		if errStr != nil {
			e.Error = *errStr
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
