package dataset

import (
	"context"
	"fmt"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/wangz99-crypto/dc-moving-violations-cloud-etl/internal/db"
	"github.com/wangz99-crypto/dc-moving-violations-cloud-etl/pkg/arcgis"
)

// violationColumns is the canonical row shape of etl.violations, in insert order.
var violationColumns = []string{
	"violation_id",
	"issue_date",
	"violation_date",
	"issuing_agency_name",
	"accident_indicator",
	"location",
	"violation_code",
	"violation_desc",
	"fine_amount",
	"total_paid",
	"latitude",
	"longitude",
	"month",
}

// violationAliases maps each canonical field to its accepted upstream names,
// first-present-wins. The incremental feed uses UPPER_SNAKE attribute names,
// the historical feed lower_snake; the description field has drifted twice.
var violationAliases = map[string][]string{
	"object_id":           {"OBJECTID", "objectid"},
	"issue_date":          {"ISSUE_DATE", "issue_date"},
	"issuing_agency_name": {"ISSUING_AGENCY_NAME", "issuing_agency_name"},
	"accident_indicator":  {"ACCIDENT_INDICATOR", "accident_indicator"},
	"location":            {"LOCATION", "location"},
	"violation_code":      {"VIOLATION_CODE", "violation_code"},
	"violation_desc":      {"VIOLATION_PROCESS_DESC", "violation_process_desc", "VIOLATION_DESC", "violation_desc"},
	"fine_amount":         {"FINE_AMOUNT", "fine_amount"},
	"total_paid":          {"TOTAL_PAID", "total_paid"},
	"latitude":            {"LATITUDE", "latitude"},
	"longitude":           {"LONGITUDE", "longitude"},
}

// Violations syncs DC moving-violation records from the GIS MapServer layers.
type Violations struct {
	client *arcgis.Client
	epoch  time.Time
}

// NewViolations creates the violations dataset.
func NewViolations(client *arcgis.Client, epoch time.Time) *Violations {
	return &Violations{client: client, epoch: epoch}
}

func (d *Violations) Name() string       { return "violations" }
func (d *Violations) Table() string      { return "etl.violations" }
func (d *Violations) DateColumn() string { return "violation_date" }
func (d *Violations) Epoch() time.Time   { return d.epoch }

// SyncDay pulls one day of records by ISSUE_DATE range and writes them with
// insert-and-skip-on-conflict semantics: a re-fetch never touches rows that
// already exist.
func (d *Violations) SyncDay(ctx context.Context, pool db.Pool, day time.Time) (int64, error) {
	attrs, err := d.client.QueryDay(ctx, day)
	if err != nil {
		return 0, eris.Wrapf(err, "violations: fetch %s", day.Format("2006-01-02"))
	}

	rows := d.normalizeAll(attrs, arcgis.PeriodKey(day))

	n, err := db.BulkUpsert(ctx, pool, db.UpsertConfig{
		Table:        d.Table(),
		Columns:      violationColumns,
		ConflictKeys: []string{"violation_id"},
		Policy:       db.ConflictIgnore,
	}, rows)
	if err != nil {
		return 0, eris.Wrapf(err, "violations: write %s", day.Format("2006-01-02"))
	}
	return n, nil
}

// Backfill pulls whole months by layer and overwrites on conflict; the
// historical load is authoritative for the periods it covers.
func (d *Violations) Backfill(ctx context.Context, pool db.Pool, start, end time.Time) (int64, error) {
	log := zap.L().With(zap.String("dataset", d.Name()))

	var total int64
	for m := monthStart(start); !m.After(end); m = m.AddDate(0, 1, 0) {
		select {
		case <-ctx.Done():
			return total, ctx.Err()
		default:
		}

		periodKey := arcgis.PeriodKey(m)
		attrs, err := d.client.QueryMonth(ctx, periodKey)
		if err != nil {
			return total, eris.Wrapf(err, "violations: backfill %s", periodKey)
		}

		rows := d.normalizeAll(attrs, periodKey)

		n, err := db.BulkUpsert(ctx, pool, db.UpsertConfig{
			Table:        d.Table(),
			Columns:      violationColumns,
			ConflictKeys: []string{"violation_id"},
			Policy:       db.ConflictOverwrite,
		}, rows)
		if err != nil {
			return total, eris.Wrapf(err, "violations: backfill write %s", periodKey)
		}
		total += n

		log.Info("backfilled month", zap.String("period", periodKey), zap.Int64("rows", n))
	}

	return total, nil
}

// normalizeAll converts raw upstream records to canonical rows, dropping
// records that carry no usable object id.
func (d *Violations) normalizeAll(attrs []arcgis.Attributes, periodKey string) [][]any {
	rows := make([][]any, 0, len(attrs))
	for _, a := range attrs {
		if row, ok := normalizeViolation(a, periodKey); ok {
			rows = append(rows, row)
		}
	}
	if skipped := len(attrs) - len(rows); skipped > 0 {
		zap.L().Warn("skipped records without object id",
			zap.String("period", periodKey),
			zap.Int("skipped", skipped),
		)
	}
	return rows
}

// normalizeViolation maps one raw upstream record plus its period key to the
// canonical violations row. The primary key is {period_key}_{object_id} on
// both the incremental and historical paths, so the same physical record
// always resolves to the same key.
func normalizeViolation(attrs arcgis.Attributes, periodKey string) ([]any, bool) {
	objectID := firstPresent(attrs, violationAliases["object_id"])
	f, ok := floatOrNull(objectID).(float64)
	if !ok {
		return nil, false
	}
	violationID := fmt.Sprintf("%s_%d", periodKey, int64(f))

	issueDate, violationDate := millisToTimestamp(firstPresent(attrs, violationAliases["issue_date"]))

	return []any{
		violationID,
		issueDate,
		violationDate,
		textOrNull(firstPresent(attrs, violationAliases["issuing_agency_name"])),
		textOrNull(firstPresent(attrs, violationAliases["accident_indicator"])),
		textOrNull(firstPresent(attrs, violationAliases["location"])),
		textOrNull(firstPresent(attrs, violationAliases["violation_code"])),
		textOrNull(firstPresent(attrs, violationAliases["violation_desc"])),
		floatOrNull(firstPresent(attrs, violationAliases["fine_amount"])),
		floatOrNull(firstPresent(attrs, violationAliases["total_paid"])),
		floatOrNull(firstPresent(attrs, violationAliases["latitude"])),
		floatOrNull(firstPresent(attrs, violationAliases["longitude"])),
		periodKey,
	}, true
}

// monthStart returns the first day of the month containing t.
func monthStart(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
}
