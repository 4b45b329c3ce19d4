package dataset

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/wangz99-crypto/dc-moving-violations-cloud-etl/internal/db"
	"github.com/wangz99-crypto/dc-moving-violations-cloud-etl/internal/etl"
	"github.com/wangz99-crypto/dc-moving-violations-cloud-etl/pkg/arcgis"
)

// Engine drives dataset sync runs: it resolves the missing date range once
// per dataset, then walks it one calendar day at a time.
type Engine struct {
	pool     db.Pool
	syncLog  *etl.SyncLog
	datasets []Dataset
	now      func() time.Time
}

// RunOpts configures which datasets to sync and how failures propagate.
type RunOpts struct {
	// Datasets restricts the run to specific dataset names; empty runs all.
	Datasets []string

	// StopOnError aborts the whole run at the first per-day failure instead
	// of skipping the day and continuing. The recurring incremental job runs
	// with isolation (false); one bad day never blocks the rest of the range.
	StopOnError bool
}

// DatasetSummary is the outcome of one dataset within a run.
type DatasetSummary struct {
	Dataset       string     `json:"dataset"`
	Rows          int64      `json:"rows"`
	DaysProcessed int        `json:"days_processed"`
	DaysFailed    int        `json:"days_failed"`
	RangeStart    *time.Time `json:"range_start,omitempty"`
	RangeEnd      *time.Time `json:"range_end,omitempty"`
	UpToDate      bool       `json:"up_to_date,omitempty"`
	Error         string     `json:"error,omitempty"`
}

// RunReport accumulates per-dataset summaries for one engine run.
type RunReport struct {
	Summaries []DatasetSummary `json:"summaries"`
}

// Message renders the human-readable run summary returned to the caller.
func (r *RunReport) Message() string {
	if len(r.Summaries) == 0 {
		return "No datasets selected."
	}

	parts := make([]string, 0, len(r.Summaries))
	for _, s := range r.Summaries {
		switch {
		case s.Error != "":
			parts = append(parts, fmt.Sprintf("%s: failed (%s)", s.Dataset, s.Error))
		case s.UpToDate:
			parts = append(parts, fmt.Sprintf("%s: up to date", s.Dataset))
		default:
			msg := fmt.Sprintf("%s: %d rows from %s to %s (%d days",
				s.Dataset, s.Rows,
				s.RangeStart.Format("2006-01-02"), s.RangeEnd.Format("2006-01-02"),
				s.DaysProcessed)
			if s.DaysFailed > 0 {
				msg += fmt.Sprintf(", %d failed", s.DaysFailed)
			}
			parts = append(parts, msg+")")
		}
	}
	return strings.Join(parts, "; ")
}

// NewEngine creates a sync engine over the given datasets.
func NewEngine(pool db.Pool, syncLog *etl.SyncLog, datasets []Dataset) *Engine {
	return &Engine{
		pool:     pool,
		syncLog:  syncLog,
		datasets: datasets,
		now:      time.Now,
	}
}

// Run executes the incremental sync for the selected datasets. The returned
// error is non-nil only when the driver itself cannot proceed (unknown
// dataset name, an unmapped layer period, StopOnError abort); per-day
// failures are logged, counted in the report, and leave the watermark
// untouched so the next run re-attempts those days.
func (e *Engine) Run(ctx context.Context, opts RunOpts) (*RunReport, error) {
	log := zap.L().With(zap.String("component", "etl.engine"))

	selected, err := e.selectDatasets(opts.Datasets)
	if err != nil {
		return nil, err
	}

	report := &RunReport{}

	for _, ds := range selected {
		summary, err := e.runDataset(ctx, ds, opts.StopOnError)
		report.Summaries = append(report.Summaries, *summary)
		if err != nil {
			if opts.StopOnError || eris.Is(err, arcgis.ErrUnmappedPeriod) ||
				eris.Is(err, context.Canceled) || eris.Is(err, context.DeadlineExceeded) {
				return report, err
			}
			log.Error("dataset sync failed", zap.String("dataset", ds.Name()), zap.Error(err))
		}
	}

	log.Info("run complete", zap.String("summary", report.Message()))
	return report, nil
}

// runDataset resolves the missing range for one dataset and walks it a day at
// a time.
func (e *Engine) runDataset(ctx context.Context, ds Dataset, stopOnError bool) (*DatasetSummary, error) {
	log := zap.L().With(zap.String("component", "etl.engine"), zap.String("dataset", ds.Name()))
	summary := &DatasetSummary{Dataset: ds.Name()}

	wm, err := etl.Watermark(ctx, e.pool, ds.Table(), ds.DateColumn())
	if err != nil {
		summary.Error = err.Error()
		return summary, eris.Wrapf(err, "engine: watermark for %s", ds.Name())
	}

	start, end, ok := etl.ResolveRange(wm, ds.Epoch(), e.now())
	if !ok {
		log.Info("nothing to sync, store is up to date")
		summary.UpToDate = true
		return summary, nil
	}
	summary.RangeStart = &start
	summary.RangeEnd = &end

	log.Info("resolved sync range",
		zap.String("start", start.Format("2006-01-02")),
		zap.String("end", end.Format("2006-01-02")),
	)

	syncID, err := e.syncLog.Start(ctx, ds.Name())
	if err != nil {
		summary.Error = err.Error()
		return summary, eris.Wrapf(err, "engine: start sync log for %s", ds.Name())
	}

	for day := start; !day.After(end); day = day.AddDate(0, 0, 1) {
		select {
		case <-ctx.Done():
			e.failSync(ctx, syncID, ctx.Err())
			summary.Error = ctx.Err().Error()
			return summary, ctx.Err()
		default:
		}

		rows, err := ds.SyncDay(ctx, e.pool, day)
		if err != nil {
			// One bad day never blocks the remainder of the range unless the
			// caller asked for whole-run abort. The skipped day's data is not
			// lost: its watermark was not advanced, so the next run
			// re-attempts it.
			//
			// A period with no layer mapping is the exception: that is a
			// configuration gap, not a transient fetch problem, and every
			// later day in the same month fails identically.
			log.Error("day failed",
				zap.String("day", day.Format("2006-01-02")),
				zap.Error(err),
			)
			summary.DaysFailed++
			if stopOnError || eris.Is(err, arcgis.ErrUnmappedPeriod) {
				e.failSync(ctx, syncID, err)
				summary.Error = err.Error()
				return summary, eris.Wrapf(err, "engine: %s day %s", ds.Name(), day.Format("2006-01-02"))
			}
			continue
		}

		summary.Rows += rows
		summary.DaysProcessed++
		log.Info("day complete",
			zap.String("day", day.Format("2006-01-02")),
			zap.Int64("rows", rows),
		)
	}

	if err := e.syncLog.Complete(ctx, syncID, summary.Rows, start, end); err != nil {
		log.Error("failed to record sync completion", zap.Error(err))
	}

	return summary, nil
}

// RunBackfill executes the historical load for the selected datasets over the
// inclusive date range. Unlike the incremental run there is no per-period
// isolation: the first failure aborts the remaining work.
func (e *Engine) RunBackfill(ctx context.Context, datasets []string, start, end time.Time) (*RunReport, error) {
	log := zap.L().With(zap.String("component", "etl.engine"))

	selected, err := e.selectDatasets(datasets)
	if err != nil {
		return nil, err
	}

	report := &RunReport{}

	for _, ds := range selected {
		summary := DatasetSummary{Dataset: ds.Name(), RangeStart: &start, RangeEnd: &end}

		syncID, err := e.syncLog.Start(ctx, ds.Name())
		if err != nil {
			return report, eris.Wrapf(err, "engine: start sync log for %s", ds.Name())
		}

		log.Info("starting backfill",
			zap.String("dataset", ds.Name()),
			zap.String("start", start.Format("2006-01-02")),
			zap.String("end", end.Format("2006-01-02")),
		)

		rows, err := ds.Backfill(ctx, e.pool, start, end)
		summary.Rows = rows
		if err != nil {
			e.failSync(ctx, syncID, err)
			summary.Error = err.Error()
			report.Summaries = append(report.Summaries, summary)
			return report, eris.Wrapf(err, "engine: backfill %s", ds.Name())
		}

		if err := e.syncLog.Complete(ctx, syncID, rows, start, end); err != nil {
			log.Error("failed to record sync completion", zap.Error(err))
		}

		summary.DaysProcessed = int(end.Sub(start).Hours()/24) + 1
		report.Summaries = append(report.Summaries, summary)

		log.Info("backfill complete", zap.String("dataset", ds.Name()), zap.Int64("rows", rows))
	}

	return report, nil
}

// selectDatasets filters the registered datasets by name; empty selects all.
func (e *Engine) selectDatasets(names []string) ([]Dataset, error) {
	if len(names) == 0 {
		return e.datasets, nil
	}

	byName := make(map[string]Dataset, len(e.datasets))
	for _, ds := range e.datasets {
		byName[ds.Name()] = ds
	}

	selected := make([]Dataset, 0, len(names))
	for _, name := range names {
		ds, ok := byName[strings.TrimSpace(name)]
		if !ok {
			return nil, eris.Errorf("engine: unknown dataset %q", name)
		}
		selected = append(selected, ds)
	}
	return selected, nil
}

// failSync records a failed run, logging rather than propagating bookkeeping
// errors.
func (e *Engine) failSync(ctx context.Context, syncID string, cause error) {
	// The run's context may already be cancelled; the bookkeeping write
	// should still land.
	if err := e.syncLog.Fail(context.WithoutCancel(ctx), syncID, cause.Error()); err != nil {
		zap.L().Error("failed to record sync failure", zap.Error(err))
	}
}
