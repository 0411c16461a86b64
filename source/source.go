// Package source fetches raw monthly trip batches from the public bikeshare
// data bucket. One batch (one month) is one retry scope: a failed fetch
// surfaces as *UnavailableError and the caller decides whether to retry the
// whole month.
package source

import (
	"archive/zip"
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// DefaultBaseURL is the public Capital Bikeshare trip data bucket.
const DefaultBaseURL = "https://s3.amazonaws.com/capitalbikeshare-data"

// Config holds configuration for the batch fetcher.
type Config struct {
	// BaseURL of the public data bucket.
	BaseURL string `yaml:"base_url"`

	// TimeoutSeconds for one batch download. Default: 120.
	TimeoutSeconds int `yaml:"timeout_seconds"`
}

// ApplyDefaults fills in zero-valued settings.
func (c *Config) ApplyDefaults() {
	if c.BaseURL == "" {
		c.BaseURL = DefaultBaseURL
	}
	if c.TimeoutSeconds == 0 {
		c.TimeoutSeconds = 120
	}
}

// UnavailableError reports that a source batch could not be read. It is not
// recovered locally; the ingestion caller owns the retry decision.
type UnavailableError struct {
	Year  int
	Month int
	Err   error
}

func (e *UnavailableError) Error() string {
	return fmt.Sprintf("source batch %04d-%02d unavailable: %v", e.Year, e.Month, e.Err)
}

func (e *UnavailableError) Unwrap() error { return e.Err }

// Fetcher downloads monthly trip batches.
type Fetcher struct {
	baseURL string
	client  *http.Client
}

// NewFetcher creates a batch fetcher.
func NewFetcher(cfg Config) *Fetcher {
	cfg.ApplyDefaults()
	return &Fetcher{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		client: &http.Client{
			Timeout: time.Duration(cfg.TimeoutSeconds) * time.Second,
		},
	}
}

// BatchURL returns the download URL for a monthly batch.
func (f *Fetcher) BatchURL(year, month int) string {
	return fmt.Sprintf("%s/%04d%02d-capitalbikeshare-tripdata.zip", f.baseURL, year, month)
}

// FetchMonth downloads one monthly zip archive and returns a reader over the
// first CSV inside it. Any failure, from the HTTP round trip to a zip with
// no CSV entry, comes back as *UnavailableError wrapping the cause.
func (f *Fetcher) FetchMonth(ctx context.Context, year, month int) (io.ReadCloser, error) {
	url := f.BatchURL(year, month)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, &UnavailableError{Year: year, Month: month, Err: err}
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, &UnavailableError{Year: year, Month: month, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, &UnavailableError{
			Year:  year,
			Month: month,
			Err:   fmt.Errorf("unexpected status %s for %s", resp.Status, url),
		}
	}

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &UnavailableError{Year: year, Month: month, Err: err}
	}

	csv, err := openFirstCSV(payload)
	if err != nil {
		return nil, &UnavailableError{Year: year, Month: month, Err: err}
	}
	return csv, nil
}

// openFirstCSV opens the first .csv entry of a zip archive. Monthly archives
// occasionally carry a __MACOSX resource fork alongside the data file, which
// is skipped.
func openFirstCSV(payload []byte) (io.ReadCloser, error) {
	zr, err := zip.NewReader(bytes.NewReader(payload), int64(len(payload)))
	if err != nil {
		return nil, fmt.Errorf("failed to open zip archive: %w", err)
	}

	for _, entry := range zr.File {
		name := strings.ToLower(entry.Name)
		if strings.HasPrefix(entry.Name, "__MACOSX/") {
			continue
		}
		if strings.HasSuffix(name, ".csv") {
			return entry.Open()
		}
	}
	return nil, fmt.Errorf("zip archive contains no csv entry")
}

// Months enumerates (year, month) pairs from start through end inclusive.
// It is used to drive a backfill from the first published month to now.
func Months(startYear, startMonth, endYear, endMonth int) [][2]int {
	var out [][2]int
	year, month := startYear, startMonth
	for year < endYear || (year == endYear && month <= endMonth) {
		out = append(out, [2]int{year, month})
		month++
		if month > 12 {
			month = 1
			year++
		}
	}
	return out
}
