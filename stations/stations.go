// Package stations maintains the station dimension: one row per station id
// ever observed in a trip batch, with last-known metadata derived from trip
// history and optional geocoded enrichment fields.
package stations

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// Station is one row of the dimension. City/State/ZipCode are nil until the
// enrichment run populates them.
type Station struct {
	ID         string
	Name       string
	Lat        float64
	Lng        float64
	FirstSeen  time.Time
	LatestSeen time.Time
	City       *string
	State      *string
	ZipCode    *string
}

// Enriched reports whether the geocoded fields are already populated.
func (s *Station) Enriched() bool {
	return s.City != nil && *s.City != ""
}

// EnsureTable creates the stations table if it does not exist.
func EnsureTable(ctx context.Context, db *sql.DB) error {
	createSQL := `
		CREATE TABLE IF NOT EXISTS stations (
			station_id VARCHAR NOT NULL,
			name VARCHAR,
			lat DOUBLE,
			lng DOUBLE,
			first_seen DATE,
			latest_seen DATE,
			city VARCHAR,
			state VARCHAR,
			zip_code VARCHAR
		)`

	if _, err := db.ExecContext(ctx, createSQL); err != nil {
		return fmt.Errorf("failed to create stations table: %w", err)
	}
	return nil
}

// RebuildFromTrips refreshes the dimension from the master trips table.
//
// Observed metadata wins: name is the most frequent observed value, the
// coordinates are the last-known ones, first_seen/latest_seen extend over
// the full trip history. Stations already in the dimension but absent from
// the current trip set are kept as-is; a station is never deleted. Already
// populated enrichment columns are carried over untouched.
func RebuildFromTrips(ctx context.Context, db *sql.DB) error {
	if err := EnsureTable(ctx, db); err != nil {
		return err
	}

	rebuildSQL := `
		CREATE OR REPLACE TEMP TABLE stations_rebuild AS
		WITH obs AS (
			SELECT start_station_id AS station_id,
			       start_station_name AS name,
			       start_lat AS lat,
			       start_lng AS lng,
			       CAST(start_time AS DATE) AS seen
			FROM trips
			WHERE start_station_id IS NOT NULL
			UNION ALL
			SELECT end_station_id,
			       end_station_name,
			       end_lat,
			       end_lng,
			       CAST(end_time AS DATE)
			FROM trips
			WHERE end_station_id IS NOT NULL
		),
		observed AS (
			SELECT station_id,
			       mode(name) AS name,
			       arg_max(lat, seen) AS lat,
			       arg_max(lng, seen) AS lng,
			       min(seen) AS first_seen,
			       max(seen) AS latest_seen
			FROM obs
			GROUP BY station_id
		)
		SELECT COALESCE(o.station_id, s.station_id) AS station_id,
		       COALESCE(o.name, s.name) AS name,
		       COALESCE(o.lat, s.lat) AS lat,
		       COALESCE(o.lng, s.lng) AS lng,
		       LEAST(o.first_seen, s.first_seen) AS first_seen,
		       GREATEST(o.latest_seen, s.latest_seen) AS latest_seen,
		       s.city,
		       s.state,
		       s.zip_code
		FROM observed o
		FULL OUTER JOIN stations s USING (station_id)`

	if _, err := db.ExecContext(ctx, rebuildSQL); err != nil {
		return fmt.Errorf("failed to rebuild station dimension: %w", err)
	}

	swapSQL := `CREATE OR REPLACE TABLE stations AS SELECT * FROM stations_rebuild`
	if _, err := db.ExecContext(ctx, swapSQL); err != nil {
		return fmt.Errorf("failed to swap station dimension: %w", err)
	}

	if _, err := db.ExecContext(ctx, `DROP TABLE stations_rebuild`); err != nil {
		return fmt.Errorf("failed to drop rebuild table: %w", err)
	}
	return nil
}

// Count returns the number of stations in the dimension.
func Count(ctx context.Context, db *sql.DB) (int64, error) {
	var n int64
	if err := db.QueryRowContext(ctx, `SELECT COUNT(*) FROM stations`).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count stations: %w", err)
	}
	return n, nil
}

// List returns stations ordered by id, up to limit rows.
func List(ctx context.Context, db *sql.DB, limit int) ([]Station, error) {
	querySQL := `
		SELECT station_id, name, lat, lng, first_seen, latest_seen, city, state, zip_code
		FROM stations
		ORDER BY station_id
		LIMIT ?`

	rows, err := db.QueryContext(ctx, querySQL, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query stations: %w", err)
	}
	defer rows.Close()

	return scanStations(rows)
}

// LoadUnenriched returns stations whose enrichment fields are still absent,
// ordered by id so a rate-limited run makes deterministic progress. Stations
// with no observed coordinates (only ever seen in files without lat/lng) are
// left out; there is nothing to reverse geocode for them.
func LoadUnenriched(ctx context.Context, db *sql.DB) ([]Station, error) {
	querySQL := `
		SELECT station_id, name, lat, lng, first_seen, latest_seen, city, state, zip_code
		FROM stations
		WHERE (city IS NULL OR city = '')
		  AND lat IS NOT NULL AND lng IS NOT NULL
		ORDER BY station_id`

	rows, err := db.QueryContext(ctx, querySQL)
	if err != nil {
		return nil, fmt.Errorf("failed to query unenriched stations: %w", err)
	}
	defer rows.Close()

	return scanStations(rows)
}

func scanStations(rows *sql.Rows) ([]Station, error) {
	var out []Station
	for rows.Next() {
		var (
			s                    Station
			name                 sql.NullString
			lat, lng             sql.NullFloat64
			firstSeen, latestSeen sql.NullTime
			city, state, zipCode sql.NullString
		)
		if err := rows.Scan(&s.ID, &name, &lat, &lng, &firstSeen, &latestSeen, &city, &state, &zipCode); err != nil {
			return nil, fmt.Errorf("failed to scan station: %w", err)
		}
		s.Name = name.String
		s.Lat = lat.Float64
		s.Lng = lng.Float64
		s.FirstSeen = firstSeen.Time
		s.LatestSeen = latestSeen.Time
		if city.Valid {
			s.City = &city.String
		}
		if state.Valid {
			s.State = &state.String
		}
		if zipCode.Valid {
			s.ZipCode = &zipCode.String
		}
		out = append(out, s)
	}
	return out, rows.Err()
}
