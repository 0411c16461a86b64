package main

import (
	"context"
	"database/sql"
	"time"

	"github.com/jmgjasongardner/capital-bikeshare/stations"
)

const dateLayout = "2006-01-02"

// SystemDailyRow is one calendar date of system-wide activity.
type SystemDailyRow struct {
	RideDate         string  `json:"ride_date"`
	TripCount        int64   `json:"trip_count"`
	MemberTrips      int64   `json:"member_trips"`
	CasualTrips      int64   `json:"casual_trips"`
	AvgDurationSec   float64 `json:"avg_duration_sec"`
	TotalDurationSec int64   `json:"total_duration_sec"`
}

// StationDailyRow is one station's activity on one date.
type StationDailyRow struct {
	StationID      string   `json:"station_id"`
	RideDate       string   `json:"ride_date"`
	Checkouts      int64    `json:"checkouts"`
	Returns        int64    `json:"returns"`
	NetFlow        int64    `json:"net_flow"`
	AvgDurationSec *float64 `json:"avg_duration_sec,omitempty"`
	DistinctBikes  int64    `json:"distinct_bikes"`
	StationName    *string  `json:"station_name,omitempty"`
	Lat            *float64 `json:"lat,omitempty"`
	Lng            *float64 `json:"lng,omitempty"`
}

// StationHourlyRow is one station's activity in one hour of one date.
type StationHourlyRow struct {
	StationID      string   `json:"station_id"`
	RideDate       string   `json:"ride_date"`
	RideHour       int      `json:"ride_hour"`
	Checkouts      int64    `json:"checkouts"`
	Returns        int64    `json:"returns"`
	NetFlow        int64    `json:"net_flow"`
	AvgDurationSec *float64 `json:"avg_duration_sec,omitempty"`
	DistinctBikes  int64    `json:"distinct_bikes"`
}

// StationRouteRow is one retained station-to-station pair.
type StationRouteRow struct {
	StartStationID   string  `json:"start_station_id"`
	EndStationID     string  `json:"end_station_id"`
	TripCount        int64   `json:"trip_count"`
	AvgDurationSec   float64 `json:"avg_duration_sec"`
	StartStationName *string `json:"start_station_name,omitempty"`
	EndStationName   *string `json:"end_station_name,omitempty"`
}

// TripRow is one raw trip on the slow scan path.
type TripRow struct {
	TripID         string  `json:"trip_id"`
	StartTime      string  `json:"start_time"`
	EndTime        string  `json:"end_time"`
	DurationSec    int64   `json:"duration_sec"`
	StartStationID string  `json:"start_station_id"`
	EndStationID   string  `json:"end_station_id"`
	MemberType     string  `json:"member_type"`
	RideableType   *string `json:"rideable_type,omitempty"`
	BikeID         *string `json:"bike_id,omitempty"`
}

// QueryService reads summary tables and the station dimension on behalf
// of the HTTP layer.
type QueryService struct {
	store *SummaryStore
	db    *sql.DB
}

// NewQueryService creates a query service over the store and catalog.
func NewQueryService(store *SummaryStore, db *sql.DB) *QueryService {
	return &QueryService{store: store, db: db}
}

// SystemDaily returns system-wide daily activity for the filter window.
func (q *QueryService) SystemDaily(ctx context.Context, filter TableFilter) ([]SystemDailyRow, error) {
	rows, err := q.store.QueryTable(ctx, "system_daily", filter)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []SystemDailyRow{}
	for rows.Next() {
		var rideDate time.Time
		var r SystemDailyRow
		if err := rows.Scan(&rideDate, &r.TripCount, &r.MemberTrips, &r.CasualTrips,
			&r.AvgDurationSec, &r.TotalDurationSec); err != nil {
			return nil, err
		}
		r.RideDate = rideDate.Format(dateLayout)
		out = append(out, r)
	}
	return out, rows.Err()
}

// StationDaily returns per-station daily activity. Set sample to read the
// downsampled variant used for fast default rendering.
func (q *QueryService) StationDaily(ctx context.Context, filter TableFilter, sample bool) ([]StationDailyRow, error) {
	table := "station_daily"
	if sample {
		table = "station_daily_sample"
	}
	rows, err := q.store.QueryTable(ctx, table, filter)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []StationDailyRow{}
	for rows.Next() {
		var rideDate time.Time
		var avgDur sql.NullFloat64
		var name sql.NullString
		var lat, lng sql.NullFloat64
		var r StationDailyRow
		if err := rows.Scan(&r.StationID, &rideDate, &r.Checkouts, &r.Returns,
			&r.NetFlow, &avgDur, &r.DistinctBikes, &name, &lat, &lng); err != nil {
			return nil, err
		}
		r.RideDate = rideDate.Format(dateLayout)
		if avgDur.Valid {
			r.AvgDurationSec = &avgDur.Float64
		}
		if name.Valid {
			r.StationName = &name.String
		}
		if lat.Valid {
			r.Lat = &lat.Float64
		}
		if lng.Valid {
			r.Lng = &lng.Float64
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// StationHourly returns per-station hourly activity.
func (q *QueryService) StationHourly(ctx context.Context, filter TableFilter) ([]StationHourlyRow, error) {
	rows, err := q.store.QueryTable(ctx, "station_hourly", filter)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []StationHourlyRow{}
	for rows.Next() {
		var rideDate time.Time
		var avgDur sql.NullFloat64
		var r StationHourlyRow
		if err := rows.Scan(&r.StationID, &rideDate, &r.RideHour, &r.Checkouts,
			&r.Returns, &r.NetFlow, &avgDur, &r.DistinctBikes); err != nil {
			return nil, err
		}
		r.RideDate = rideDate.Format(dateLayout)
		if avgDur.Valid {
			r.AvgDurationSec = &avgDur.Float64
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// StationRoutes returns the retained station-to-station pairs.
func (q *QueryService) StationRoutes(ctx context.Context, filter TableFilter) ([]StationRouteRow, error) {
	rows, err := q.store.QueryTable(ctx, "station_routes", filter)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []StationRouteRow{}
	for rows.Next() {
		var startName, endName sql.NullString
		var r StationRouteRow
		if err := rows.Scan(&r.StartStationID, &r.EndStationID, &r.TripCount,
			&r.AvgDurationSec, &startName, &endName); err != nil {
			return nil, err
		}
		if startName.Valid {
			r.StartStationName = &startName.String
		}
		if endName.Valid {
			r.EndStationName = &endName.String
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// Stations returns the station dimension.
func (q *QueryService) Stations(ctx context.Context, limit int) ([]stations.Station, error) {
	return stations.List(ctx, q.db, limit)
}

// Trips re-scans raw trips for the advanced-filter path.
func (q *QueryService) Trips(ctx context.Context, filter TripFilter) ([]TripRow, error) {
	rows, err := q.store.QueryTrips(ctx, filter)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []TripRow{}
	for rows.Next() {
		var start, end time.Time
		var rideable, bike sql.NullString
		var r TripRow
		if err := rows.Scan(&r.TripID, &start, &end, &r.DurationSec,
			&r.StartStationID, &r.EndStationID, &r.MemberType, &rideable, &bike); err != nil {
			return nil, err
		}
		r.StartTime = start.Format(time.RFC3339)
		r.EndTime = end.Format(time.RFC3339)
		if rideable.Valid && rideable.String != "" {
			r.RideableType = &rideable.String
		}
		if bike.Valid && bike.String != "" {
			r.BikeID = &bike.String
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
