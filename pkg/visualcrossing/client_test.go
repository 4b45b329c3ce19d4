package visualcrossing

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wangz99-crypto/dc-moving-violations-cloud-etl/internal/fetcher"
)

func testClient(t *testing.T, srvURL string) *Client {
	t.Helper()
	f := fetcher.NewHTTPFetcher(fetcher.HTTPOptions{MaxRetries: 1, Timeout: 5 * time.Second})
	c, err := NewClient(f, Options{
		APIKey:   "test-key",
		Location: "Washington,DC",
		BaseURL:  srvURL,
	})
	require.NoError(t, err)
	return c
}

func TestNewClient_RequiredFields(t *testing.T) {
	f := fetcher.NewHTTPFetcher(fetcher.HTTPOptions{})

	_, err := NewClient(f, Options{Location: "Washington,DC"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "api key")

	_, err = NewClient(f, Options{APIKey: "k"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "location")
}

func TestFetchDay(t *testing.T) {
	var gotPath string
	var gotQuery map[string]string

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// r.URL.Path is decoded; only the escaped form shows whether the
		// location's comma survived as %2C on the wire.
		gotPath = r.URL.EscapedPath()
		gotQuery = map[string]string{
			"unitGroup":   r.URL.Query().Get("unitGroup"),
			"include":     r.URL.Query().Get("include"),
			"key":         r.URL.Query().Get("key"),
			"contentType": r.URL.Query().Get("contentType"),
		}
		precip := 2.5
		json.NewEncoder(w).Encode(timelineResponse{Days: []Day{
			{Datetime: "2025-03-10", Precip: &precip, Conditions: "Rain, Overcast"},
		}})
	}))
	defer srv.Close()

	c := testClient(t, srv.URL)
	day, err := c.FetchDay(context.Background(), time.Date(2025, time.March, 10, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	require.NotNil(t, day)

	assert.Equal(t, "2025-03-10", day.Datetime)
	assert.Equal(t, 2.5, *day.Precip)
	assert.Nil(t, day.Temp)
	assert.Contains(t, gotPath, "/Washington%2CDC/2025-03-10")
	assert.Equal(t, map[string]string{
		"unitGroup":   "metric",
		"include":     "days",
		"key":         "test-key",
		"contentType": "json",
	}, gotQuery)
}

func TestFetchDay_NoData(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(timelineResponse{Days: []Day{}})
	}))
	defer srv.Close()

	c := testClient(t, srv.URL)
	day, err := c.FetchDay(context.Background(), time.Date(2025, time.March, 10, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.Nil(t, day)
}

func TestFetchRange(t *testing.T) {
	var gotPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		json.NewEncoder(w).Encode(timelineResponse{Days: []Day{
			{Datetime: "2024-12-01", Conditions: "Clear"},
			{Datetime: "2024-12-02", Conditions: "Light Rain"},
		}})
	}))
	defer srv.Close()

	c := testClient(t, srv.URL)
	days, err := c.FetchRange(context.Background(),
		time.Date(2024, time.December, 1, 0, 0, 0, 0, time.UTC),
		time.Date(2024, time.December, 15, 0, 0, 0, 0, time.UTC),
	)
	require.NoError(t, err)
	assert.Len(t, days, 2)
	assert.Contains(t, gotPath, "/2024-12-01/2024-12-15")
}

func TestFetchDay_UpstreamFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	c := testClient(t, srv.URL)
	_, err := c.FetchDay(context.Background(), time.Date(2025, time.March, 10, 0, 0, 0, 0, time.UTC))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "timeline 2025-03-10")
}
