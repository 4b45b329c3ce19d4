// Package visualcrossing queries the Visual Crossing timeline API for daily
// weather observations.
package visualcrossing

import (
	"context"
	"fmt"
	"net/url"
	"time"

	"github.com/rotisserie/eris"

	"github.com/wangz99-crypto/dc-moving-violations-cloud-etl/internal/fetcher"
)

const defaultBaseURL = "https://weather.visualcrossing.com/VisualCrossingWebServices/rest/services/timeline"

// Day is one daily observation from the timeline API. Measurements are
// pointers because the upstream omits fields it has no data for.
type Day struct {
	Datetime   string   `json:"datetime"`
	TempMax    *float64 `json:"tempmax"`
	TempMin    *float64 `json:"tempmin"`
	Temp       *float64 `json:"temp"`
	Precip     *float64 `json:"precip"`
	Humidity   *float64 `json:"humidity"`
	WindSpeed  *float64 `json:"windspeed"`
	Conditions string   `json:"conditions"`
}

type timelineResponse struct {
	Days []Day `json:"days"`
}

// Options configures the client.
type Options struct {
	APIKey    string
	Location  string        // e.g. "Washington,DC"
	UnitGroup string        // "metric" or "us"
	BaseURL   string        // overridable for tests
	Timeout   time.Duration // per-request deadline (default 30s)
}

// Client fetches day-granularity weather for a fixed location.
type Client struct {
	fetcher   fetcher.Fetcher
	apiKey    string
	location  string
	unitGroup string
	baseURL   string
	timeout   time.Duration
}

// NewClient creates a Client. The API key and location are required.
func NewClient(f fetcher.Fetcher, opts Options) (*Client, error) {
	if opts.APIKey == "" {
		return nil, eris.New("visualcrossing: api key is required")
	}
	if opts.Location == "" {
		return nil, eris.New("visualcrossing: location is required")
	}
	if opts.UnitGroup == "" {
		opts.UnitGroup = "metric"
	}
	if opts.BaseURL == "" {
		opts.BaseURL = defaultBaseURL
	}
	if opts.Timeout == 0 {
		opts.Timeout = 30 * time.Second
	}
	return &Client{
		fetcher:   f,
		apiKey:    opts.APIKey,
		location:  opts.Location,
		unitGroup: opts.UnitGroup,
		baseURL:   opts.BaseURL,
		timeout:   opts.Timeout,
	}, nil
}

// FetchDay returns the observation for one calendar day, or nil if the
// upstream has no data for it.
func (c *Client) FetchDay(ctx context.Context, d time.Time) (*Day, error) {
	days, err := c.fetchTimeline(ctx, d.Format("2006-01-02"))
	if err != nil {
		return nil, err
	}
	if len(days) == 0 {
		return nil, nil
	}
	return &days[0], nil
}

// FetchRange returns the observations for an inclusive date range.
func (c *Client) FetchRange(ctx context.Context, start, end time.Time) ([]Day, error) {
	path := fmt.Sprintf("%s/%s", start.Format("2006-01-02"), end.Format("2006-01-02"))
	return c.fetchTimeline(ctx, path)
}

func (c *Client) fetchTimeline(ctx context.Context, datePath string) ([]Day, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	params := url.Values{
		"unitGroup":   {c.unitGroup},
		"include":     {"days"},
		"key":         {c.apiKey},
		"contentType": {"json"},
	}
	reqURL := fmt.Sprintf("%s/%s/%s?%s", c.baseURL, url.PathEscape(c.location), datePath, params.Encode())

	var resp timelineResponse
	if err := c.fetcher.DownloadJSON(ctx, reqURL, &resp); err != nil {
		return nil, eris.Wrapf(err, "visualcrossing: timeline %s", datePath)
	}
	return resp.Days, nil
}
