package main

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
)

const (
	routeMinTrips = 10
	routeLimit    = 10000
	sampleRows    = 200000
	sampleSeed    = 42
)

// validTripsSource selects the trip rows that aggregates are allowed to see.
// Every table is computed from this set so a rejected trip can never leak
// into one table but not another.
const validTripsSource = `SELECT * FROM trips WHERE duration_sec > 0`

// Aggregator rebuilds the summary tables from the master trips table.
// Each table is computed independently from the trips table, never from
// another aggregate, so any one of them can be rebuilt on its own.
type Aggregator struct {
	db *sql.DB
}

// NewAggregator creates an aggregator over an open catalog database.
func NewAggregator(db *sql.DB) *Aggregator {
	return &Aggregator{db: db}
}

// RebuildAll recomputes every summary table over the full trip history.
// A window with zero valid trips yields empty tables, not an error.
func (a *Aggregator) RebuildAll(ctx context.Context) error {
	builds := []struct {
		name  string
		query string
	}{
		{"system_daily", systemDailyQuery()},
		{"system_daily_detailed", systemDailyDetailedQuery()},
		{"station_daily", stationDailyQuery()},
		{"station_daily_sample", stationDailySampleQuery()},
		{"station_daily_detailed", stationDailyDetailedQuery()},
		{"station_hourly", stationHourlyQuery()},
		{"station_routes", stationRoutesQuery()},
		{"time_aggregated", timeAggregatedQuery()},
	}

	started := time.Now()
	for _, b := range builds {
		buildStart := time.Now()
		if _, err := a.db.ExecContext(ctx, b.query); err != nil {
			return fmt.Errorf("failed to build %s: %w", b.name, err)
		}
		elapsed := time.Since(buildStart)
		aggregateBuildDuration.WithLabelValues(b.name).Observe(elapsed.Seconds())

		rows, err := a.tableRowCount(ctx, b.name)
		if err != nil {
			return fmt.Errorf("failed to count %s: %w", b.name, err)
		}
		aggregateRows.WithLabelValues(b.name).Set(float64(rows))

		log.Info().
			Str("table", b.name).
			Int64("rows", rows).
			Dur("elapsed", elapsed).
			Msg("Aggregate table rebuilt")
	}

	lastRebuildTimestamp.Set(float64(time.Now().Unix()))
	log.Info().Dur("elapsed", time.Since(started)).Msg("Aggregate rebuild complete")
	return nil
}

func (a *Aggregator) tableRowCount(ctx context.Context, table string) (int64, error) {
	var n int64
	err := a.db.QueryRowContext(ctx, fmt.Sprintf(`SELECT COUNT(*) FROM %s`, table)).Scan(&n)
	return n, err
}

// systemDailyQuery builds one row per calendar date across the whole system.
func systemDailyQuery() string {
	return fmt.Sprintf(`
		CREATE OR REPLACE TABLE system_daily AS
		SELECT
			CAST(start_time AS DATE) AS ride_date,
			COUNT(*) AS trip_count,
			COUNT(*) FILTER (WHERE member_type = 'member') AS member_trips,
			COUNT(*) FILTER (WHERE member_type = 'casual') AS casual_trips,
			AVG(duration_sec) AS avg_duration_sec,
			SUM(duration_sec) AS total_duration_sec
		FROM (%s)
		GROUP BY ride_date
		ORDER BY ride_date
	`, validTripsSource)
}

// stationDailySelect is the SELECT shared by station_daily and its sample.
// Checkouts group by start station and returns by end station, both
// bucketed by the trip's start date, then the two sides are outer-joined so
// a station with checkouts but no returns that day still gets a row with
// returns = 0.
func stationDailySelect() string {
	return fmt.Sprintf(`
		WITH valid AS (%s),
		checkouts AS (
			SELECT
				start_station_id AS station_id,
				CAST(start_time AS DATE) AS ride_date,
				COUNT(*) AS checkouts,
				AVG(duration_sec) AS avg_duration_sec,
				COUNT(DISTINCT bike_id) AS distinct_bikes
			FROM valid
			WHERE start_station_id IS NOT NULL AND start_station_id <> ''
			GROUP BY station_id, ride_date
		),
		returns AS (
			SELECT
				end_station_id AS station_id,
				CAST(start_time AS DATE) AS ride_date,
				COUNT(*) AS returns
			FROM valid
			WHERE end_station_id IS NOT NULL AND end_station_id <> ''
			GROUP BY station_id, ride_date
		)
		SELECT
			station_id,
			ride_date,
			COALESCE(c.checkouts, 0) AS checkouts,
			COALESCE(r.returns, 0) AS returns,
			COALESCE(c.checkouts, 0) - COALESCE(r.returns, 0) AS net_flow,
			c.avg_duration_sec,
			COALESCE(c.distinct_bikes, 0) AS distinct_bikes,
			s.name AS station_name,
			s.lat,
			s.lng
		FROM checkouts c
		FULL OUTER JOIN returns r USING (station_id, ride_date)
		LEFT JOIN stations s USING (station_id)
		ORDER BY ride_date, station_id
	`, validTripsSource)
}

func stationDailyQuery() string {
	return `CREATE OR REPLACE TABLE station_daily AS ` + stationDailySelect()
}

// stationDailySampleQuery reservoir-samples the aggregated station-day rows,
// not the raw trips: every sampled row carries the same measures as its
// station_daily counterpart, the sample just holds fewer rows.
func stationDailySampleQuery() string {
	return fmt.Sprintf(
		`CREATE OR REPLACE TABLE station_daily_sample AS
		SELECT * FROM (%s) USING SAMPLE reservoir(%d ROWS) REPEATABLE (%d)`,
		stationDailySelect(), sampleRows, sampleSeed)
}

// systemDailyDetailedQuery splits system_daily by member and vehicle type.
// Trips from files that predate a dimension fall into an "unknown" bucket
// so the detailed totals still sum to system_daily's.
func systemDailyDetailedQuery() string {
	return fmt.Sprintf(`
		CREATE OR REPLACE TABLE system_daily_detailed AS
		SELECT
			CAST(start_time AS DATE) AS ride_date,
			COALESCE(NULLIF(member_type, ''), 'unknown') AS member_type,
			COALESCE(NULLIF(rideable_type, ''), 'unknown') AS rideable_type,
			COUNT(*) AS trip_count,
			AVG(duration_sec) AS avg_duration_sec
		FROM (%s)
		GROUP BY 1, 2, 3
		ORDER BY 1, 2, 3
	`, validTripsSource)
}

// stationDailyDetailedQuery is station_daily with member and vehicle type
// dimensions, so member/bike-type filters can be answered from a summary
// table instead of the raw-scan slow path. Checkout and return durations
// are averaged separately.
func stationDailyDetailedQuery() string {
	return fmt.Sprintf(`
		CREATE OR REPLACE TABLE station_daily_detailed AS
		WITH valid AS (
			SELECT *,
			       COALESCE(NULLIF(member_type, ''), 'unknown') AS member_bucket,
			       COALESCE(NULLIF(rideable_type, ''), 'unknown') AS rideable_bucket
			FROM (%s)
		),
		checkouts AS (
			SELECT
				start_station_id AS station_id,
				CAST(start_time AS DATE) AS ride_date,
				member_bucket AS member_type,
				rideable_bucket AS rideable_type,
				COUNT(*) AS checkouts,
				AVG(duration_sec) AS avg_duration_checkout_sec,
				COUNT(DISTINCT bike_id) AS distinct_bikes
			FROM valid
			WHERE start_station_id IS NOT NULL AND start_station_id <> ''
			GROUP BY 1, 2, 3, 4
		),
		returns AS (
			SELECT
				end_station_id AS station_id,
				CAST(start_time AS DATE) AS ride_date,
				member_bucket AS member_type,
				rideable_bucket AS rideable_type,
				COUNT(*) AS returns,
				AVG(duration_sec) AS avg_duration_return_sec
			FROM valid
			WHERE end_station_id IS NOT NULL AND end_station_id <> ''
			GROUP BY 1, 2, 3, 4
		)
		SELECT
			station_id,
			ride_date,
			member_type,
			rideable_type,
			COALESCE(c.checkouts, 0) AS checkouts,
			COALESCE(r.returns, 0) AS returns,
			COALESCE(c.checkouts, 0) - COALESCE(r.returns, 0) AS net_flow,
			c.avg_duration_checkout_sec,
			r.avg_duration_return_sec,
			COALESCE(c.distinct_bikes, 0) AS distinct_bikes,
			s.name AS station_name,
			s.lat,
			s.lng
		FROM checkouts c
		FULL OUTER JOIN returns r USING (station_id, ride_date, member_type, rideable_type)
		LEFT JOIN stations s USING (station_id)
		ORDER BY ride_date, station_id, member_type, rideable_type
	`, validTripsSource)
}

// timeAggregatedQuery unions four calendar rollups (day, day-of-week,
// month, year) into one long table keyed by agg_level, each level split by
// member and vehicle type. agg_sort_key keeps the display order without
// parsing agg_value.
func timeAggregatedQuery() string {
	return fmt.Sprintf(`
		CREATE OR REPLACE TABLE time_aggregated AS
		WITH valid AS (
			SELECT *,
			       COALESCE(NULLIF(member_type, ''), 'unknown') AS member_bucket,
			       COALESCE(NULLIF(rideable_type, ''), 'unknown') AS rideable_bucket
			FROM (%[1]s)
		)
		SELECT 'day' AS agg_level,
		       CAST(CAST(start_time AS DATE) AS VARCHAR) AS agg_value,
		       datediff('day', DATE '1970-01-01', CAST(start_time AS DATE)) AS agg_sort_key,
		       member_bucket AS member_type,
		       rideable_bucket AS rideable_type,
		       COUNT(*) AS trip_count,
		       AVG(duration_sec) AS avg_duration_sec
		FROM valid
		GROUP BY 2, 3, 4, 5
		UNION ALL
		SELECT 'day_of_week',
		       dayname(start_time),
		       CAST(isodow(start_time) - 1 AS INT),
		       member_bucket,
		       rideable_bucket,
		       COUNT(*),
		       AVG(duration_sec)
		FROM valid
		GROUP BY 2, 3, 4, 5
		UNION ALL
		SELECT 'month',
		       monthname(start_time),
		       CAST(month(start_time) AS INT),
		       member_bucket,
		       rideable_bucket,
		       COUNT(*),
		       AVG(duration_sec)
		FROM valid
		GROUP BY 2, 3, 4, 5
		UNION ALL
		SELECT 'year',
		       CAST(year(start_time) AS VARCHAR),
		       CAST(year(start_time) AS INT),
		       member_bucket,
		       rideable_bucket,
		       COUNT(*),
		       AVG(duration_sec)
		FROM valid
		GROUP BY 2, 3, 4, 5
		ORDER BY agg_level, agg_sort_key, member_type, rideable_type
	`, validTripsSource)
}

// stationHourlyQuery is the same shape as station_daily at hourly grain.
func stationHourlyQuery() string {
	return fmt.Sprintf(`
		CREATE OR REPLACE TABLE station_hourly AS
		WITH valid AS (%s),
		checkouts AS (
			SELECT
				start_station_id AS station_id,
				CAST(start_time AS DATE) AS ride_date,
				EXTRACT(hour FROM start_time) AS ride_hour,
				COUNT(*) AS checkouts,
				AVG(duration_sec) AS avg_duration_sec,
				COUNT(DISTINCT bike_id) AS distinct_bikes
			FROM valid
			WHERE start_station_id IS NOT NULL AND start_station_id <> ''
			GROUP BY station_id, ride_date, ride_hour
		),
		returns AS (
			SELECT
				end_station_id AS station_id,
				CAST(start_time AS DATE) AS ride_date,
				EXTRACT(hour FROM start_time) AS ride_hour,
				COUNT(*) AS returns
			FROM valid
			WHERE end_station_id IS NOT NULL AND end_station_id <> ''
			GROUP BY station_id, ride_date, ride_hour
		)
		SELECT
			station_id,
			ride_date,
			ride_hour,
			COALESCE(c.checkouts, 0) AS checkouts,
			COALESCE(r.returns, 0) AS returns,
			COALESCE(c.checkouts, 0) - COALESCE(r.returns, 0) AS net_flow,
			c.avg_duration_sec,
			COALESCE(c.distinct_bikes, 0) AS distinct_bikes
		FROM checkouts c
		FULL OUTER JOIN returns r USING (station_id, ride_date, ride_hour)
		ORDER BY ride_date, ride_hour, station_id
	`, validTripsSource)
}

// stationRoutesQuery builds the top station-to-station pairs by volume.
// Round trips are excluded, pairs below the volume floor are discarded,
// and ties at the cutoff break on the station id pair ascending so the
// retained set is deterministic across rebuilds.
func stationRoutesQuery() string {
	return fmt.Sprintf(`
		CREATE OR REPLACE TABLE station_routes AS
		SELECT
			t.start_station_id,
			t.end_station_id,
			COUNT(*) AS trip_count,
			AVG(t.duration_sec) AS avg_duration_sec,
			any_value(ss.name) AS start_station_name,
			any_value(es.name) AS end_station_name
		FROM (%s) t
		LEFT JOIN stations ss ON ss.station_id = t.start_station_id
		LEFT JOIN stations es ON es.station_id = t.end_station_id
		WHERE t.start_station_id IS NOT NULL AND t.start_station_id <> ''
		  AND t.end_station_id IS NOT NULL AND t.end_station_id <> ''
		  AND t.start_station_id <> t.end_station_id
		GROUP BY t.start_station_id, t.end_station_id
		HAVING COUNT(*) >= %d
		ORDER BY trip_count DESC, t.start_station_id, t.end_station_id
		LIMIT %d
	`, validTripsSource, routeMinTrips, routeLimit)
}
