package main

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func publishTestStore(t *testing.T, catalog *Catalog) *SummaryStore {
	t.Helper()
	rebuild(t, catalog)
	store, err := NewSummaryStore(catalog.DB(), t.TempDir())
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	if err := store.WriteAll(context.Background()); err != nil {
		t.Fatalf("failed to publish tables: %v", err)
	}
	return store
}

func TestWriteAllPublishesEveryTable(t *testing.T) {
	catalog := openTestCatalog(t)
	store := publishTestStore(t, catalog)

	for _, table := range summaryTables {
		if _, err := os.Stat(store.TablePath(table)); err != nil {
			t.Errorf("%s not published: %v", table, err)
		}
	}

	// Nothing may be left behind in staging.
	entries, err := os.ReadDir(filepath.Join(store.dataDir, "staging"))
	if err != nil {
		t.Fatalf("failed to read staging dir: %v", err)
	}
	if len(entries) != 0 {
		t.Errorf("staging dir has %d leftover files, want 0", len(entries))
	}
}

func TestQueryTableDateRangePushdown(t *testing.T) {
	catalog := openTestCatalog(t)
	db := catalog.DB()

	for i, day := range []time.Time{
		time.Date(2023, 6, 1, 0, 0, 0, 0, time.UTC),
		time.Date(2023, 6, 2, 0, 0, 0, 0, time.UTC),
		time.Date(2023, 6, 3, 0, 0, 0, 0, time.UTC),
	} {
		insertTrip(t, db, i, testTrip{
			startStation: "A", endStation: "B",
			start: day.Add(9 * time.Hour),
			end:   day.Add(9*time.Hour + 30*time.Minute),
		})
	}

	store := publishTestStore(t, catalog)
	service := NewQueryService(store, db)

	rows, err := service.SystemDaily(context.Background(), TableFilter{
		StartDate: time.Date(2023, 6, 2, 0, 0, 0, 0, time.UTC),
		EndDate:   time.Date(2023, 6, 2, 0, 0, 0, 0, time.UTC),
	})
	if err != nil {
		t.Fatalf("query failed: %v", err)
	}
	if len(rows) != 1 {
		t.Fatalf("got %d rows, want 1", len(rows))
	}
	if rows[0].RideDate != "2023-06-02" {
		t.Errorf("ride_date = %s, want 2023-06-02", rows[0].RideDate)
	}
	if rows[0].TripCount != 1 {
		t.Errorf("trip_count = %d, want 1", rows[0].TripCount)
	}
}

func TestQueryTableStationFilter(t *testing.T) {
	catalog := openTestCatalog(t)
	db := catalog.DB()
	day := time.Date(2023, 6, 1, 0, 0, 0, 0, time.UTC)

	insertTrip(t, db, 1, testTrip{
		startStation: "A", endStation: "B",
		start: day.Add(8 * time.Hour), end: day.Add(8*time.Hour + 10*time.Minute),
	})
	insertTrip(t, db, 2, testTrip{
		startStation: "C", endStation: "D",
		start: day.Add(9 * time.Hour), end: day.Add(9*time.Hour + 10*time.Minute),
	})

	store := publishTestStore(t, catalog)
	service := NewQueryService(store, db)

	rows, err := service.StationDaily(context.Background(), TableFilter{
		StationIDs: []string{"A", "B"},
	}, false)
	if err != nil {
		t.Fatalf("query failed: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("got %d rows, want 2", len(rows))
	}
	for _, r := range rows {
		if r.StationID != "A" && r.StationID != "B" {
			t.Errorf("station %s leaked through the filter", r.StationID)
		}
	}
}

func TestQueryTableUnknownTable(t *testing.T) {
	catalog := openTestCatalog(t)
	store := publishTestStore(t, catalog)

	if _, err := store.QueryTable(context.Background(), "trips; DROP TABLE trips", TableFilter{}); err == nil {
		t.Error("expected error for unknown table name")
	}
}

func TestQueryTableUnpublished(t *testing.T) {
	catalog := openTestCatalog(t)
	store, err := NewSummaryStore(catalog.DB(), t.TempDir())
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}

	if _, err := store.QueryTable(context.Background(), "system_daily", TableFilter{}); err == nil {
		t.Error("expected error reading a table that was never published")
	}
}

func TestQueryTripsRawScanFilters(t *testing.T) {
	catalog := openTestCatalog(t)
	db := catalog.DB()
	day := time.Date(2023, 6, 1, 0, 0, 0, 0, time.UTC)

	insertTrip(t, db, 1, testTrip{
		startStation: "A", endStation: "B", memberType: "member",
		start: day.Add(8 * time.Hour), end: day.Add(8*time.Hour + 10*time.Minute),
	})
	insertTrip(t, db, 2, testTrip{
		startStation: "A", endStation: "B", memberType: "casual",
		start: day.Add(9 * time.Hour), end: day.Add(9*time.Hour + 10*time.Minute),
	})

	store := publishTestStore(t, catalog)
	service := NewQueryService(store, db)

	trips, err := service.Trips(context.Background(), TripFilter{MemberType: "casual"})
	if err != nil {
		t.Fatalf("raw scan failed: %v", err)
	}
	if len(trips) != 1 {
		t.Fatalf("got %d trips, want 1", len(trips))
	}
	if trips[0].MemberType != "casual" {
		t.Errorf("member_type = %s, want casual", trips[0].MemberType)
	}
}
