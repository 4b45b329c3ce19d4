package dataset

import (
	"context"
	"encoding/json"
	"math"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wangz99-crypto/dc-moving-violations-cloud-etl/internal/fetcher"
	"github.com/wangz99-crypto/dc-moving-violations-cloud-etl/pkg/arcgis"
)

func testArcGISClient(t *testing.T, srvURL string) *arcgis.Client {
	t.Helper()
	loc, err := arcgis.NewLocator([]arcgis.LayerRange{
		{From: "2024-09", To: "2025-12", ServiceURL: srvURL, FirstLayer: 0},
	})
	require.NoError(t, err)

	f := fetcher.NewHTTPFetcher(fetcher.HTTPOptions{MaxRetries: 1, Timeout: 5 * time.Second})
	c, err := arcgis.NewClient(f, arcgis.Options{Locator: loc, ChunkSize: 2000})
	require.NoError(t, err)
	return c
}

func TestNormalizeViolation_UpperCaseFeed(t *testing.T) {
	issueMs := float64(time.Date(2024, time.September, 15, 14, 30, 0, 0, time.UTC).UnixMilli())
	attrs := arcgis.Attributes{
		"OBJECTID":               float64(815012),
		"ISSUE_DATE":             issueMs,
		"ISSUING_AGENCY_NAME":    "DDOT",
		"ACCIDENT_INDICATOR":     "N",
		"LOCATION":               "600 BLK NEW YORK AVE NE",
		"VIOLATION_CODE":         "T119",
		"VIOLATION_PROCESS_DESC": "SPEED 11-15 MPH OVER",
		"FINE_AMOUNT":            float64(100),
		"TOTAL_PAID":             float64(100),
		"LATITUDE":               float64(38.9072),
		"LONGITUDE":              float64(-77.0369),
	}

	row, ok := normalizeViolation(attrs, "2024-09")
	require.True(t, ok)
	require.Len(t, row, len(violationColumns))

	assert.Equal(t, "2024-09_815012", row[0])
	assert.Equal(t, time.Date(2024, time.September, 15, 14, 30, 0, 0, time.UTC), row[1])
	assert.Equal(t, time.Date(2024, time.September, 15, 0, 0, 0, 0, time.UTC), row[2])
	assert.Equal(t, "DDOT", row[3])
	assert.Equal(t, "T119", row[6])
	assert.Equal(t, "SPEED 11-15 MPH OVER", row[7])
	assert.Equal(t, float64(100), row[8])
	assert.Equal(t, "2024-09", row[12])
}

func TestNormalizeViolation_LowerCaseFeed(t *testing.T) {
	attrs := arcgis.Attributes{
		"objectid":       float64(7),
		"violation_desc": "RED LIGHT",
		"fine_amount":    "150",
	}

	row, ok := normalizeViolation(attrs, "2025-01")
	require.True(t, ok)
	assert.Equal(t, "2025-01_7", row[0])
	assert.Equal(t, "RED LIGHT", row[7], "description aliases cover the historical field name")
	assert.Equal(t, float64(150), row[8], "numeric strings coerce")
}

func TestNormalizeViolation_AnomaliesBecomeNull(t *testing.T) {
	attrs := arcgis.Attributes{
		"OBJECTID":    float64(99),
		"ISSUE_DATE":  "not-a-timestamp",
		"FINE_AMOUNT": math.NaN(),
		"LATITUDE":    math.Inf(1),
	}

	row, ok := normalizeViolation(attrs, "2024-10")
	require.True(t, ok, "a row with anomalous fields is kept, not dropped")
	assert.Equal(t, "2024-10_99", row[0])
	assert.Nil(t, row[1], "unparsable issue date stores as null")
	assert.Nil(t, row[2])
	assert.Nil(t, row[8], "NaN fine stores as null")
	assert.Nil(t, row[10], "infinite latitude stores as null")
}

func TestNormalizeViolation_MissingObjectID(t *testing.T) {
	_, ok := normalizeViolation(arcgis.Attributes{"LOCATION": "somewhere"}, "2024-09")
	assert.False(t, ok)
}

func TestViolations_SyncDay(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"features": []map[string]any{
				{"attributes": map[string]any{"OBJECTID": 1, "VIOLATION_CODE": "T119"}},
				{"attributes": map[string]any{"OBJECTID": 2, "VIOLATION_CODE": "T120"}},
			},
		})
	}))
	defer srv.Close()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectBegin()
	mock.ExpectExec("CREATE TEMP TABLE").WillReturnResult(pgxmock.NewResult("CREATE", 0))
	mock.ExpectCopyFrom(pgx.Identifier{"_tmp_upsert_etl_violations"}, violationColumns).WillReturnResult(2)
	mock.ExpectExec("DELETE FROM").WillReturnResult(pgxmock.NewResult("DELETE", 0))
	mock.ExpectExec(`ON CONFLICT \("violation_id"\) DO NOTHING`).WillReturnResult(pgxmock.NewResult("INSERT", 2))
	mock.ExpectCommit()

	ds := NewViolations(testArcGISClient(t, srv.URL), date(2024, time.September, 1))

	n, err := ds.SyncDay(context.Background(), mock, date(2025, time.March, 10))
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestViolations_SyncDay_FetchError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "layer not found", http.StatusNotFound)
	}))
	defer srv.Close()

	ds := NewViolations(testArcGISClient(t, srv.URL), date(2024, time.September, 1))

	_, err := ds.SyncDay(context.Background(), nil, date(2025, time.March, 10))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "violations: fetch 2025-03-10")
}

func TestViolations_Backfill_OverwritesByMonth(t *testing.T) {
	var counts int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("returnCountOnly") == "true" {
			counts++
			json.NewEncoder(w).Encode(map[string]any{"count": 1})
			return
		}
		json.NewEncoder(w).Encode(map[string]any{
			"features": []map[string]any{
				{"attributes": map[string]any{"OBJECTID": 10}},
			},
		})
	}))
	defer srv.Close()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	// Two calendar months: one authoritative overwrite per month.
	for range 2 {
		mock.ExpectBegin()
		mock.ExpectExec("CREATE TEMP TABLE").WillReturnResult(pgxmock.NewResult("CREATE", 0))
		mock.ExpectCopyFrom(pgx.Identifier{"_tmp_upsert_etl_violations"}, violationColumns).WillReturnResult(1)
		mock.ExpectExec("DELETE FROM").WillReturnResult(pgxmock.NewResult("DELETE", 0))
		mock.ExpectExec(`DO UPDATE SET`).WillReturnResult(pgxmock.NewResult("INSERT", 1))
		mock.ExpectCommit()
	}

	ds := NewViolations(testArcGISClient(t, srv.URL), date(2024, time.September, 1))

	n, err := ds.Backfill(context.Background(), mock, date(2024, time.September, 5), date(2024, time.October, 20))
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
	assert.Equal(t, 2, counts, "one count query per month")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestViolations_Metadata(t *testing.T) {
	ds := NewViolations(nil, date(2024, time.September, 1))
	assert.Equal(t, "violations", ds.Name())
	assert.Equal(t, "etl.violations", ds.Table())
	assert.Equal(t, "violation_date", ds.DateColumn())
	assert.Equal(t, date(2024, time.September, 1), ds.Epoch())
}
