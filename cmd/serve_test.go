package main

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wangz99-crypto/dc-moving-violations-cloud-etl/internal/etl"
	"github.com/wangz99-crypto/dc-moving-violations-cloud-etl/internal/etl/dataset"
)

func TestServeHealth(t *testing.T) {
	router := newRouter(context.Background(), dataset.NewEngine(nil, nil, nil), nil)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

func TestServeSync_InvalidBody(t *testing.T) {
	router := newRouter(context.Background(), dataset.NewEngine(nil, nil, nil), nil)

	req := httptest.NewRequest(http.MethodPost, "/v1/sync", strings.NewReader("{not json"))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestServeSync_Accepted(t *testing.T) {
	// No datasets registered: the triggered run is a no-op, so the handler's
	// accept path can be exercised without a database.
	router := newRouter(context.Background(), dataset.NewEngine(nil, nil, nil), nil)

	req := httptest.NewRequest(http.MethodPost, "/v1/sync", strings.NewReader(`{"datasets":[]}`))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusAccepted, rec.Code)
	assert.JSONEq(t, `{"status":"accepted"}`, rec.Body.String())
}

func TestServeStatus(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	started := time.Date(2025, time.March, 12, 6, 0, 0, 0, time.UTC)
	mock.ExpectQuery(`SELECT id, dataset, status`).
		WithArgs(20).
		WillReturnRows(pgxmock.NewRows([]string{
			"id", "dataset", "status", "started_at", "completed_at", "rows_synced", "range_start", "range_end", "error",
		}).AddRow("abc", "violations", "complete", started, nil, int64(120), nil, nil, nil))

	router := newRouter(context.Background(), dataset.NewEngine(nil, nil, nil), etl.NewSyncLog(mock))

	req := httptest.NewRequest(http.MethodGet, "/v1/status", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Entries []etl.SyncEntry `json:"entries"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body.Entries, 1)
	assert.Equal(t, "violations", body.Entries[0].Dataset)
	assert.Equal(t, int64(120), body.Entries[0].RowsSynced)
	assert.NoError(t, mock.ExpectationsWereMet())
}
