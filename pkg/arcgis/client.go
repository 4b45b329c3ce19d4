// Package arcgis queries DC GIS MapServer layers for moving-violation records.
package arcgis

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/wangz99-crypto/dc-moving-violations-cloud-etl/internal/fetcher"
)

// Attributes is one raw upstream record: field name to value, with casing
// that differs between the historical and incremental feeds.
type Attributes map[string]any

// Options configures the ArcGIS client.
type Options struct {
	Locator      *Locator      // period-to-layer mapping; nil uses the defaults
	ChunkSize    int           // page size for offset pagination (default 2000)
	DayTimeout   time.Duration // per-request deadline for day queries (default 30s)
	MonthTimeout time.Duration // per-request deadline for month queries (default 60s)
}

// Client retrieves violation records from the DC GIS MapServer REST API with
// bounded-size paged requests.
type Client struct {
	fetcher      fetcher.Fetcher
	locator      *Locator
	chunkSize    int
	dayTimeout   time.Duration
	monthTimeout time.Duration
}

// NewClient creates a Client. The locator must already be validated; pass nil
// to use the built-in mapping.
func NewClient(f fetcher.Fetcher, opts Options) (*Client, error) {
	locator := opts.Locator
	if locator == nil {
		var err error
		locator, err = NewLocator(DefaultLayerRanges())
		if err != nil {
			return nil, err
		}
	}
	if opts.ChunkSize == 0 {
		opts.ChunkSize = 2000
	}
	if opts.DayTimeout == 0 {
		opts.DayTimeout = 30 * time.Second
	}
	if opts.MonthTimeout == 0 {
		opts.MonthTimeout = 60 * time.Second
	}
	return &Client{
		fetcher:      f,
		locator:      locator,
		chunkSize:    opts.ChunkSize,
		dayTimeout:   opts.DayTimeout,
		monthTimeout: opts.MonthTimeout,
	}, nil
}

type queryError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type queryResponse struct {
	Features []struct {
		Attributes Attributes `json:"attributes"`
	} `json:"features"`
	Error *queryError `json:"error,omitempty"`
}

type countResponse struct {
	Count int         `json:"count"`
	Error *queryError `json:"error,omitempty"`
}

// QueryDay retrieves every record whose ISSUE_DATE falls on the given
// calendar day, paging by offset until a short page signals exhaustion.
func (c *Client) QueryDay(ctx context.Context, day time.Time) ([]Attributes, error) {
	periodKey := PeriodKey(day)
	queryURL, err := c.layerQueryURL(periodKey)
	if err != nil {
		return nil, err
	}

	startMs, endMs := dayMillisRange(day)
	where := fmt.Sprintf("ISSUE_DATE >= %d AND ISSUE_DATE < %d", startMs, endMs)

	var all []Attributes
	offset := 0

	for {
		page, err := c.fetchPage(ctx, queryURL, where, offset, c.dayTimeout)
		if err != nil {
			return nil, eris.Wrapf(err, "arcgis: day query %s offset %d", day.Format("2006-01-02"), offset)
		}
		if len(page) == 0 {
			break
		}

		all = append(all, page...)
		zap.L().Debug("fetched violations page",
			zap.String("day", day.Format("2006-01-02")),
			zap.String("period", periodKey),
			zap.Int("offset", offset),
			zap.Int("rows", len(page)),
		)

		if len(page) < c.chunkSize {
			break
		}
		offset += c.chunkSize
	}

	return all, nil
}

// QueryMonth retrieves every record in the layer backing the given period,
// using a count-only query to precompute the number of pages.
func (c *Client) QueryMonth(ctx context.Context, periodKey string) ([]Attributes, error) {
	queryURL, err := c.layerQueryURL(periodKey)
	if err != nil {
		return nil, err
	}

	total, err := c.fetchCount(ctx, queryURL)
	if err != nil {
		return nil, eris.Wrapf(err, "arcgis: month count %s", periodKey)
	}
	if total == 0 {
		return nil, nil
	}

	pages := (total + c.chunkSize - 1) / c.chunkSize
	all := make([]Attributes, 0, total)

	for i := range pages {
		page, err := c.fetchPage(ctx, queryURL, "1=1", i*c.chunkSize, c.monthTimeout)
		if err != nil {
			return nil, eris.Wrapf(err, "arcgis: month query %s page %d", periodKey, i)
		}
		all = append(all, page...)
	}

	zap.L().Debug("fetched month",
		zap.String("period", periodKey),
		zap.Int("count", total),
		zap.Int("pages", pages),
	)

	return all, nil
}

// layerQueryURL builds the query endpoint for the layer backing periodKey.
func (c *Client) layerQueryURL(periodKey string) (string, error) {
	base, layer, err := c.locator.Resolve(periodKey)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%s/%d/query", base, layer), nil
}

// fetchPage issues one bounded-size page request against a layer query URL.
func (c *Client) fetchPage(ctx context.Context, queryURL, where string, offset int, timeout time.Duration) ([]Attributes, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	params := url.Values{
		"where":             {where},
		"outFields":         {"*"},
		"returnGeometry":    {"false"},
		"f":                 {"json"},
		"resultOffset":      {strconv.Itoa(offset)},
		"resultRecordCount": {strconv.Itoa(c.chunkSize)},
	}

	var resp queryResponse
	if err := c.fetcher.DownloadJSON(ctx, queryURL+"?"+params.Encode(), &resp); err != nil {
		return nil, err
	}
	if resp.Error != nil {
		return nil, eris.Errorf("mapserver error %d: %s", resp.Error.Code, resp.Error.Message)
	}

	page := make([]Attributes, 0, len(resp.Features))
	for _, f := range resp.Features {
		page = append(page, f.Attributes)
	}
	return page, nil
}

// fetchCount issues a count-only query against a layer query URL.
func (c *Client) fetchCount(ctx context.Context, queryURL string) (int, error) {
	ctx, cancel := context.WithTimeout(ctx, c.monthTimeout)
	defer cancel()

	params := url.Values{
		"where":           {"1=1"},
		"returnCountOnly": {"true"},
		"f":               {"json"},
	}

	var resp countResponse
	if err := c.fetcher.DownloadJSON(ctx, queryURL+"?"+params.Encode(), &resp); err != nil {
		return 0, err
	}
	if resp.Error != nil {
		return 0, eris.Errorf("mapserver error %d: %s", resp.Error.Code, resp.Error.Message)
	}

	return resp.Count, nil
}

// dayMillisRange converts a calendar day to the half-open [start, end)
// millisecond range the upstream ISSUE_DATE filter expects (epoch ms, UTC).
func dayMillisRange(day time.Time) (int64, int64) {
	start := time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, time.UTC)
	end := start.AddDate(0, 0, 1)
	return start.UnixMilli(), end.UnixMilli()
}
