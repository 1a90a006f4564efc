// Package fetcher downloads remote soil data: API responses, whole raster
// maps for the local cache, and byte ranges of maps read in place.
package fetcher

import (
	"context"
	"io"
)

// Fetcher defines the interface for downloading remote data.
type Fetcher interface {
	// Download fetches the URL and returns the response body.
	Download(ctx context.Context, url string) (io.ReadCloser, error)

	// DownloadToFile fetches the URL and writes it to the given path. Returns bytes written.
	DownloadToFile(ctx context.Context, url string, path string) (int64, error)

	// Stat performs a HEAD request and returns the remote size.
	Stat(ctx context.Context, url string) (RemoteInfo, error)

	// ReadRange fetches length bytes starting at offset with a Range request.
	ReadRange(ctx context.Context, url string, offset, length int64) ([]byte, error)
}

// RemoteInfo describes a remote resource without downloading it.
type RemoteInfo struct {
	Size int64
}
