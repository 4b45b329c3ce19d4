package etl

import (
	"context"
	"testing"
	"time"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSyncLog_StartCompleteFail(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	log := NewSyncLog(mock)
	ctx := context.Background()

	mock.ExpectExec("INSERT INTO etl.sync_log").
		WithArgs(pgxmock.AnyArg(), "violations").
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	id, err := log.Start(ctx, "violations")
	require.NoError(t, err)
	assert.NotEmpty(t, id)

	start := date(2025, time.March, 6)
	end := date(2025, time.March, 11)
	mock.ExpectExec("UPDATE etl.sync_log").
		WithArgs(int64(4500), start, end, id).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	require.NoError(t, log.Complete(ctx, id, 4500, start, end))

	mock.ExpectExec("UPDATE etl.sync_log").
		WithArgs("boom", id).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	require.NoError(t, log.Fail(ctx, id, "boom"))

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSyncLog_Recent(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	started := time.Now().UTC()
	completed := started.Add(time.Minute)
	rangeStart := date(2025, time.March, 6)
	rangeEnd := date(2025, time.March, 11)
	errMsg := "timeout"

	mock.ExpectQuery("SELECT (.+) FROM etl.sync_log").
		WithArgs(2).
		WillReturnRows(pgxmock.NewRows([]string{
			"id", "dataset", "status", "started_at", "completed_at", "rows_synced", "range_start", "range_end", "error",
		}).
			AddRow("a", "violations", "complete", started, &completed, int64(100), &rangeStart, &rangeEnd, (*string)(nil)).
			AddRow("b", "weather", "failed", started, &completed, int64(0), (*time.Time)(nil), (*time.Time)(nil), &errMsg))

	entries, err := NewSyncLog(mock).Recent(context.Background(), 2)
	require.NoError(t, err)
	require.Len(t, entries, 2)

	assert.Equal(t, "violations", entries[0].Dataset)
	assert.Equal(t, "complete", entries[0].Status)
	assert.Equal(t, int64(100), entries[0].RowsSynced)
	assert.Empty(t, entries[0].Error)

	assert.Equal(t, "failed", entries[1].Status)
	assert.Equal(t, "timeout", entries[1].Error)
	assert.Nil(t, entries[1].RangeStart)
}
