// Package dataset implements the synchronized datasets and the engine that
// drives their incremental and backfill runs.
package dataset

import (
	"context"
	"time"

	"github.com/wangz99-crypto/dc-moving-violations-cloud-etl/internal/db"
)

// Dataset is one upstream source synchronized into one target table.
type Dataset interface {
	// Name returns the unique identifier for this dataset (e.g., "violations").
	Name() string

	// Table returns the target table (e.g., "etl.violations").
	Table() string

	// DateColumn returns the column the watermark is derived from.
	DateColumn() string

	// Epoch returns the earliest date available upstream, used as the range
	// start when the target table is empty.
	Epoch() time.Time

	// SyncDay fetches, normalizes, and writes all records for one calendar
	// day. It returns the number of rows submitted to storage.
	SyncDay(ctx context.Context, pool db.Pool, day time.Time) (int64, error)

	// Backfill fetches, normalizes, and writes all records in the inclusive
	// date range using the historical (authoritative, overwrite) path.
	Backfill(ctx context.Context, pool db.Pool, start, end time.Time) (int64, error)
}
