package main

import (
	"archive/zip"
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/jmgjasongardner/capital-bikeshare/source"
)

const testBatchCSV = `ride_id,rideable_type,started_at,ended_at,start_station_name,start_station_id,end_station_name,end_station_id,start_lat,start_lng,end_lat,end_lng,member_casual
R1,classic_bike,2021-05-01 10:00:00,2021-05-01 10:20:00,Union Station,A,Dupont Circle,B,38.89,-77.00,38.90,-77.04,member
R2,electric_bike,2021-05-02 09:00:00,2021-05-02 09:30:00,Dupont Circle,B,Union Station,A,38.90,-77.04,38.89,-77.00,casual
R3,classic_bike,2021-05-03 11:00:00,2021-05-03 10:30:00,Union Station,A,Dupont Circle,B,38.89,-77.00,38.90,-77.04,member
`

func serveBatch(t *testing.T, fetches *int) *httptest.Server {
	t.Helper()

	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	w, err := zw.Create("202105-capitalbikeshare-tripdata.csv")
	if err != nil {
		t.Fatalf("zip create failed: %v", err)
	}
	if _, err := w.Write([]byte(testBatchCSV)); err != nil {
		t.Fatalf("zip write failed: %v", err)
	}
	if err := zw.Close(); err != nil {
		t.Fatalf("zip close failed: %v", err)
	}
	payload := buf.Bytes()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		*fetches++
		w.Write(payload)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func testIngester(t *testing.T, catalog *Catalog, baseURL string) *Ingester {
	t.Helper()
	fetcher := source.NewFetcher(source.Config{BaseURL: baseURL})
	return NewIngester(catalog, fetcher, IngestConfig{
		StartYear: 2021, StartMonth: 5,
		EndYear: 2021, EndMonth: 5,
	})
}

func countTrips(t *testing.T, catalog *Catalog) int64 {
	t.Helper()
	var n int64
	if err := catalog.DB().QueryRow(`SELECT COUNT(*) FROM trips`).Scan(&n); err != nil {
		t.Fatalf("count trips: %v", err)
	}
	return n
}

func TestIngesterLoadsBatchAndSkipsLoadedMonths(t *testing.T) {
	catalog := openTestCatalog(t)
	var fetches int
	srv := serveBatch(t, &fetches)
	ing := testIngester(t, catalog, srv.URL)
	ctx := context.Background()

	if err := ing.Run(ctx, false); err != nil {
		t.Fatalf("first run failed: %v", err)
	}

	// R3 ends before it starts and must not reach the master table.
	if n := countTrips(t, catalog); n != 2 {
		t.Errorf("got %d trips, want 2", n)
	}

	var rejected int64
	err := catalog.DB().QueryRow(
		`SELECT rows_rejected FROM ingest_manifest WHERE year = 2021 AND month = 5`).Scan(&rejected)
	if err != nil {
		t.Fatalf("manifest row missing: %v", err)
	}
	if rejected != 1 {
		t.Errorf("manifest rows_rejected = %d, want 1", rejected)
	}

	var stationCount int64
	if err := catalog.DB().QueryRow(`SELECT COUNT(*) FROM stations`).Scan(&stationCount); err != nil {
		t.Fatalf("count stations: %v", err)
	}
	if stationCount != 2 {
		t.Errorf("got %d stations, want 2", stationCount)
	}

	// A second run finds the month in the manifest and fetches nothing.
	fetchesBefore := fetches
	if err := ing.Run(ctx, false); err != nil {
		t.Fatalf("second run failed: %v", err)
	}
	if fetches != fetchesBefore {
		t.Errorf("second run fetched %d batches, want 0", fetches-fetchesBefore)
	}
	if n := countTrips(t, catalog); n != 2 {
		t.Errorf("second run changed trip count to %d, want 2", n)
	}
}

func TestIngesterRebuildDoesNotDoubleCount(t *testing.T) {
	catalog := openTestCatalog(t)
	var fetches int
	srv := serveBatch(t, &fetches)
	ing := testIngester(t, catalog, srv.URL)
	ctx := context.Background()

	if err := ing.Run(ctx, false); err != nil {
		t.Fatalf("first run failed: %v", err)
	}
	if err := ing.Run(ctx, true); err != nil {
		t.Fatalf("rebuild run failed: %v", err)
	}

	if fetches != 2 {
		t.Errorf("got %d fetches, want 2 (rebuild must refetch)", fetches)
	}
	if n := countTrips(t, catalog); n != 2 {
		t.Errorf("got %d trips after rebuild, want 2 (month is cleared before reload)", n)
	}
}

func TestIngesterPropagatesSourceFailure(t *testing.T) {
	catalog := openTestCatalog(t)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	ing := testIngester(t, catalog, srv.URL)
	err := ing.Run(context.Background(), false)

	var unavailable *source.UnavailableError
	if !errors.As(err, &unavailable) {
		t.Fatalf("expected *source.UnavailableError, got %v", err)
	}
	if unavailable.Year != 2021 || unavailable.Month != 5 {
		t.Errorf("error carries wrong batch: %+v", unavailable)
	}
}
