// Package fetcher provides a rate-limited, retrying HTTP transport shared by
// the upstream API clients.
package fetcher

import (
	"context"
	"io"
)

// Fetcher defines the interface for downloading remote data.
type Fetcher interface {
	// Download fetches the URL and returns the response body.
	Download(ctx context.Context, url string) (io.ReadCloser, error)

	// DownloadJSON fetches the URL and decodes the JSON response into out.
	DownloadJSON(ctx context.Context, url string, out any) error
}
