// Package fetcher downloads POI sources over HTTP and parses XLSX, CSV and JSON rows.
package fetcher

import (
	"context"
	"io"
	"strings"
)

// Fetcher defines the interface for downloading remote data.
type Fetcher interface {
	// Download fetches the URL and returns the response body.
	Download(ctx context.Context, url string) (io.ReadCloser, error)

	// DownloadIfChanged fetches the URL only if the ETag has changed.
	// Returns (body, newETag, changed, error). If not changed, body is nil and changed is false.
	DownloadIfChanged(ctx context.Context, url string, etag string) (io.ReadCloser, string, bool, error)
}

// Record is one data row keyed by its normalized column header.
type Record map[string]string

// normalizeHeader trims and lowercases a header cell.
func normalizeHeader(h string) string {
	return strings.ToLower(strings.TrimSpace(h))
}

// buildRecord pairs cells with headers. Cells past the last header and
// columns with a blank header are dropped. Returns nil for a blank row.
func buildRecord(headers, cells []string) Record {
	rec := make(Record, len(headers))
	blank := true
	for i, h := range headers {
		if h == "" || i >= len(cells) {
			continue
		}
		v := strings.TrimSpace(cells[i])
		if v != "" {
			blank = false
		}
		rec[h] = v
	}
	if blank {
		return nil
	}
	return rec
}

func normalizeHeaders(row []string) []string {
	out := make([]string, len(row))
	for i, h := range row {
		out[i] = normalizeHeader(strings.TrimPrefix(h, "\ufeff"))
	}
	return out
}
