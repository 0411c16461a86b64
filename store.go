package main

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
)

// summaryTables is the full set of tables the store manages.
var summaryTables = []string{
	"system_daily",
	"system_daily_detailed",
	"station_daily",
	"station_daily_sample",
	"station_daily_detailed",
	"station_hourly",
	"station_routes",
	"time_aggregated",
}

// SummaryStore persists the summary tables as Parquet files on disk.
// Writes are staged into a scratch directory and swapped into place with
// a rename, so a reader never observes a half-written table.
type SummaryStore struct {
	db      *sql.DB
	dataDir string
}

// NewSummaryStore creates a store rooted at dataDir. The aggregates and
// staging subdirectories are created if missing.
func NewSummaryStore(db *sql.DB, dataDir string) (*SummaryStore, error) {
	for _, sub := range []string{"aggregates", "staging"} {
		if err := os.MkdirAll(filepath.Join(dataDir, sub), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create %s dir: %w", sub, err)
		}
	}
	return &SummaryStore{db: db, dataDir: dataDir}, nil
}

// TablePath returns the on-disk location of a published table.
func (s *SummaryStore) TablePath(table string) string {
	return filepath.Join(s.dataDir, "aggregates", table+".parquet")
}

func (s *SummaryStore) stagingPath(table string) string {
	return filepath.Join(s.dataDir, "staging", table+".parquet")
}

// WriteAll exports every summary table from the catalog to Parquet and
// publishes each one atomically.
func (s *SummaryStore) WriteAll(ctx context.Context) error {
	for _, table := range summaryTables {
		if err := s.WriteTable(ctx, table); err != nil {
			return err
		}
	}
	return nil
}

// WriteTable exports one catalog table, fully replacing the prior file.
func (s *SummaryStore) WriteTable(ctx context.Context, table string) error {
	staged := s.stagingPath(table)
	final := s.TablePath(table)

	copyQuery := fmt.Sprintf(
		`COPY (SELECT * FROM %s) TO '%s' (FORMAT PARQUET, COMPRESSION ZSTD)`,
		table, staged)
	if _, err := s.db.ExecContext(ctx, copyQuery); err != nil {
		return fmt.Errorf("failed to export %s: %w", table, err)
	}

	if err := os.Rename(staged, final); err != nil {
		return fmt.Errorf("failed to publish %s: %w", table, err)
	}

	log.Info().Str("table", table).Str("path", final).Msg("Summary table published")
	return nil
}

// TableFilter narrows a summary table read. Zero values mean no filter.
type TableFilter struct {
	StartDate  time.Time
	EndDate    time.Time
	StationIDs []string
	Limit      int
}

// whereClause renders the filter as SQL predicates over the Parquet scan
// so DuckDB can prune row groups instead of scanning the whole file.
func (f TableFilter) whereClause(dateColumn string) string {
	var preds []string
	if !f.StartDate.IsZero() {
		preds = append(preds, fmt.Sprintf("%s >= DATE '%s'", dateColumn, f.StartDate.Format("2006-01-02")))
	}
	if !f.EndDate.IsZero() {
		preds = append(preds, fmt.Sprintf("%s <= DATE '%s'", dateColumn, f.EndDate.Format("2006-01-02")))
	}
	if len(f.StationIDs) > 0 {
		quoted := make([]string, len(f.StationIDs))
		for i, id := range f.StationIDs {
			quoted[i] = "'" + strings.ReplaceAll(id, "'", "''") + "'"
		}
		preds = append(preds, fmt.Sprintf("station_id IN (%s)", strings.Join(quoted, ", ")))
	}
	if len(preds) == 0 {
		return ""
	}
	return "WHERE " + strings.Join(preds, " AND ")
}

// dateColumns maps each table to the column its date predicates apply to.
// station_routes and time_aggregated have no date grain, so range filters
// are ignored for them.
var dateColumns = map[string]string{
	"system_daily":           "ride_date",
	"system_daily_detailed":  "ride_date",
	"station_daily":          "ride_date",
	"station_daily_sample":   "ride_date",
	"station_daily_detailed": "ride_date",
	"station_hourly":         "ride_date",
}

// stationKeyed lists the tables that carry a station_id column.
var stationKeyed = map[string]bool{
	"station_daily":          true,
	"station_daily_sample":   true,
	"station_daily_detailed": true,
	"station_hourly":         true,
}

// QueryTable reads a published summary table with the filter pushed into
// the Parquet scan. Returns open rows the caller must close.
func (s *SummaryStore) QueryTable(ctx context.Context, table string, filter TableFilter) (*sql.Rows, error) {
	if !isSummaryTable(table) {
		return nil, fmt.Errorf("unknown summary table %q", table)
	}

	path := s.TablePath(table)
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("summary table %s has not been published: %w", table, err)
	}

	where := ""
	if col, ok := dateColumns[table]; ok {
		if !stationKeyed[table] {
			filter.StationIDs = nil
		}
		where = filter.whereClause(col)
	} else if table == "station_routes" && len(filter.StationIDs) > 0 {
		// Routes filter on the start station of each pair.
		routeFilter := TableFilter{StationIDs: filter.StationIDs}
		where = strings.ReplaceAll(routeFilter.whereClause(""), "station_id", "start_station_id")
	}

	limit := ""
	if filter.Limit > 0 {
		limit = fmt.Sprintf("LIMIT %d", filter.Limit)
	}

	query := fmt.Sprintf(`SELECT * FROM read_parquet('%s') %s %s`, path, where, limit)
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query %s: %w", table, err)
	}
	return rows, nil
}

func isSummaryTable(table string) bool {
	for _, t := range summaryTables {
		if t == table {
			return true
		}
	}
	return false
}

// TripFilter narrows a raw trip scan. This is the slow path behind the
// advanced filters that the pre-aggregated tables cannot answer.
type TripFilter struct {
	TableFilter
	MemberType   string
	RideableType string
}

// QueryTrips re-scans the master trips table directly. Unlike QueryTable
// this walks raw trip rows, so callers should treat it as expensive.
func (s *SummaryStore) QueryTrips(ctx context.Context, filter TripFilter) (*sql.Rows, error) {
	var preds []string
	preds = append(preds, "duration_sec > 0")
	if !filter.StartDate.IsZero() {
		preds = append(preds, fmt.Sprintf("CAST(start_time AS DATE) >= DATE '%s'", filter.StartDate.Format("2006-01-02")))
	}
	if !filter.EndDate.IsZero() {
		preds = append(preds, fmt.Sprintf("CAST(start_time AS DATE) <= DATE '%s'", filter.EndDate.Format("2006-01-02")))
	}
	if len(filter.StationIDs) > 0 {
		quoted := make([]string, len(filter.StationIDs))
		for i, id := range filter.StationIDs {
			quoted[i] = "'" + strings.ReplaceAll(id, "'", "''") + "'"
		}
		preds = append(preds, fmt.Sprintf("start_station_id IN (%s)", strings.Join(quoted, ", ")))
	}

	args := []interface{}{}
	if filter.MemberType != "" {
		preds = append(preds, "member_type = ?")
		args = append(args, strings.ToLower(filter.MemberType))
	}
	if filter.RideableType != "" {
		preds = append(preds, "rideable_type = ?")
		args = append(args, filter.RideableType)
	}

	limit := ""
	if filter.Limit > 0 {
		limit = fmt.Sprintf("LIMIT %d", filter.Limit)
	}

	query := fmt.Sprintf(`
		SELECT trip_id, start_time, end_time, duration_sec,
		       start_station_id, end_station_id, member_type,
		       rideable_type, bike_id
		FROM trips
		WHERE %s
		ORDER BY start_time
		%s`, strings.Join(preds, " AND "), limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to scan trips: %w", err)
	}
	return rows, nil
}
