package etl

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/rotisserie/eris"

	"github.com/wangz99-crypto/dc-moving-violations-cloud-etl/internal/db"
)

// Watermark returns the most recently persisted date in the given column, or
// nil when the table is empty. It is a side-effect-free read and can be
// called repeatedly; the watermark is always derived from committed rows,
// never stored separately.
func Watermark(ctx context.Context, pool db.Pool, table, column string) (*time.Time, error) {
	query := fmt.Sprintf("SELECT MAX(%s) FROM %s", pgx.Identifier{column}.Sanitize(), sanitizeTable(table))

	var max *time.Time
	if err := pool.QueryRow(ctx, query).Scan(&max); err != nil {
		return nil, eris.Wrapf(err, "etl: watermark for %s.%s", table, column)
	}
	return max, nil
}

// ResolveRange computes the inclusive [start, end] date span still needing
// ingestion. An empty table starts at the dataset epoch; otherwise the day
// after the watermark. The end bound is always yesterday relative to today,
// never today, because upstream sources may not have finalized the current
// day. ok is false when there is nothing to do.
func ResolveRange(watermark *time.Time, epoch, today time.Time) (start, end time.Time, ok bool) {
	if watermark == nil {
		start = dateOnly(epoch)
	} else {
		start = dateOnly(*watermark).AddDate(0, 0, 1)
	}

	end = dateOnly(today).AddDate(0, 0, -1)

	if start.After(end) {
		return time.Time{}, time.Time{}, false
	}
	return start, end, true
}

// dateOnly truncates a timestamp to its calendar date in UTC.
func dateOnly(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// sanitizeTable handles schema-qualified table names like "etl.violations".
func sanitizeTable(table string) string {
	parts := strings.SplitN(table, ".", 2)
	if len(parts) == 2 {
		return pgx.Identifier{parts[0], parts[1]}.Sanitize()
	}
	return pgx.Identifier{table}.Sanitize()
}
