package main

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/jmgjasongardner/capital-bikeshare/source"
	"github.com/jmgjasongardner/capital-bikeshare/stations"
	"github.com/jmgjasongardner/capital-bikeshare/trips"
)

// Ingester loads monthly trip batches into the master trips table and keeps
// the station dimension and the ingest manifest in step.
type Ingester struct {
	catalog *Catalog
	fetcher *source.Fetcher
	config  IngestConfig

	// now is swappable in tests.
	now func() time.Time
}

// NewIngester creates an ingester over the given catalog and batch fetcher.
func NewIngester(catalog *Catalog, fetcher *source.Fetcher, config IngestConfig) *Ingester {
	return &Ingester{
		catalog: catalog,
		fetcher: fetcher,
		config:  config,
		now:     time.Now,
	}
}

// Run ingests every month of the configured window that is not yet recorded
// in the manifest, then rebuilds the station dimension. With rebuild set,
// previously loaded months are reloaded instead of skipped.
//
// A batch that cannot be read aborts the run and the *source.UnavailableError
// propagates untouched: one batch is one retry scope and the retry decision
// belongs to the operator, not to this loop.
func (ing *Ingester) Run(ctx context.Context, rebuild bool) error {
	endYear, endMonth := ing.config.EndYear, ing.config.EndMonth
	if endYear == 0 {
		now := ing.now()
		endYear, endMonth = now.Year(), int(now.Month())
	}

	months := source.Months(ing.config.StartYear, ing.config.StartMonth, endYear, endMonth)
	if len(months) == 0 {
		return fmt.Errorf("ingest window %04d-%02d..%04d-%02d is empty",
			ing.config.StartYear, ing.config.StartMonth, endYear, endMonth)
	}

	loaded, err := ing.loadedMonths(ctx)
	if err != nil {
		return err
	}

	log.Info().
		Int("window_months", len(months)).
		Int("already_loaded", len(loaded)).
		Bool("rebuild", rebuild).
		Msg("Starting ingest run")

	var processed int
	for _, ym := range months {
		year, month := ym[0], ym[1]
		if !rebuild && loaded[ym] {
			continue
		}

		if err := ing.loadMonth(ctx, year, month); err != nil {
			return err
		}
		processed++
	}

	if processed == 0 {
		log.Info().Msg("No missing months, master table is up to date")
		return nil
	}

	log.Info().Int("months_loaded", processed).Msg("Rebuilding station dimension")
	if err := stations.RebuildFromTrips(ctx, ing.catalog.DB()); err != nil {
		return err
	}

	count, err := stations.Count(ctx, ing.catalog.DB())
	if err != nil {
		return err
	}
	log.Info().Int64("stations", count).Msg("Ingest run complete")
	return nil
}

// loadMonth fetches, normalizes and appends one monthly batch, replacing
// any rows previously loaded for that month so a reload cannot double-count.
func (ing *Ingester) loadMonth(ctx context.Context, year, month int) error {
	era := trips.EraFor(year, month)
	start := time.Now()

	batch, err := ing.fetcher.FetchMonth(ctx, year, month)
	if err != nil {
		batchesFailed.Inc()
		return err
	}
	defer batch.Close()
	batchesFetched.Inc()

	if err := ing.clearMonth(ctx, year, month); err != nil {
		return err
	}

	stats, err := ing.appendBatch(batch, era, year, month)
	if err != nil {
		return fmt.Errorf("failed to load batch %04d-%02d: %w", year, month, err)
	}

	recordsIngested.Add(float64(stats.Valid))
	recordsRejected.WithLabelValues("malformed").Add(float64(stats.Malformed))
	recordsRejected.WithLabelValues("invalid_duration").Add(float64(stats.InvalidDuration))

	if err := ing.recordManifest(ctx, year, month, era, stats); err != nil {
		return err
	}

	log.Info().
		Int("year", year).
		Int("month", month).
		Str("era", string(era)).
		Int64("valid", stats.Valid).
		Int64("rejected", stats.Rejected()).
		Dur("elapsed", time.Since(start)).
		Msg("Loaded monthly batch")
	return nil
}

// appendBatch streams one CSV batch through the normalizer into the trips
// appender.
func (ing *Ingester) appendBatch(batch io.Reader, era trips.Era, year, month int) (trips.Stats, error) {
	appender, err := ing.catalog.TripAppender()
	if err != nil {
		return trips.Stats{}, err
	}

	stats, err := trips.Normalize(batch, era, func(rec trips.TripRecord) error {
		return appender.AppendRow(
			rec.TripID,
			rec.StartTime,
			rec.EndTime,
			rec.DurationSec,
			nullString(rec.StartStationID),
			nullString(rec.StartStationName),
			nullString(rec.EndStationID),
			nullString(rec.EndStationName),
			nullString(rec.BikeID),
			nullString(rec.RideableType),
			nullString(rec.MemberType),
			nullFloat(rec.StartLat),
			nullFloat(rec.StartLng),
			nullFloat(rec.EndLat),
			nullFloat(rec.EndLng),
			int32(year),
			int32(month),
		)
	})
	if err != nil {
		appender.Close()
		return stats, err
	}

	if err := appender.Close(); err != nil {
		return stats, fmt.Errorf("failed to flush trips appender: %w", err)
	}
	return stats, nil
}

func (ing *Ingester) clearMonth(ctx context.Context, year, month int) error {
	if _, err := ing.catalog.DB().ExecContext(ctx,
		`DELETE FROM trips WHERE year = ? AND month = ?`, year, month); err != nil {
		return fmt.Errorf("failed to clear month %04d-%02d: %w", year, month, err)
	}
	return nil
}

func (ing *Ingester) recordManifest(ctx context.Context, year, month int, era trips.Era, stats trips.Stats) error {
	db := ing.catalog.DB()

	if _, err := db.ExecContext(ctx,
		`DELETE FROM ingest_manifest WHERE year = ? AND month = ?`, year, month); err != nil {
		return fmt.Errorf("failed to clear manifest row: %w", err)
	}

	if _, err := db.ExecContext(ctx, `
		INSERT INTO ingest_manifest (year, month, era, rows_loaded, rows_rejected, loaded_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		year, month, string(era), stats.Valid, stats.Rejected(), time.Now()); err != nil {
		return fmt.Errorf("failed to record manifest row: %w", err)
	}
	return nil
}

// loadedMonths returns the set of (year, month) already in the manifest.
func (ing *Ingester) loadedMonths(ctx context.Context) (map[[2]int]bool, error) {
	rows, err := ing.catalog.DB().QueryContext(ctx,
		`SELECT year, month FROM ingest_manifest`)
	if err != nil {
		return nil, fmt.Errorf("failed to read ingest manifest: %w", err)
	}
	defer rows.Close()

	out := make(map[[2]int]bool)
	for rows.Next() {
		var year, month int
		if err := rows.Scan(&year, &month); err != nil {
			return nil, fmt.Errorf("failed to scan manifest row: %w", err)
		}
		out[[2]int{year, month}] = true
	}
	return out, rows.Err()
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func nullFloat(f *float64) any {
	if f == nil {
		return nil
	}
	return *f
}
