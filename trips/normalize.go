package trips

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
)

// Stats counts the outcome of normalizing one source batch. Rejections are
// surfaced, never silent: the caller decides what a high reject rate means.
type Stats struct {
	Valid           int64
	Malformed       int64
	InvalidDuration int64
}

// Rejected returns the total number of dropped records.
func (s Stats) Rejected() int64 {
	return s.Malformed + s.InvalidDuration
}

// Normalize streams one monthly CSV batch through the reconciler and yields
// valid TripRecords to fn in file order.
//
// Duration is derived here as end - start in whole seconds. Records where it
// is not strictly positive are dropped entirely: the upstream data contains
// trips whose recorded end precedes their start, and a partial contribution
// to any aggregate would be worse than none. Malformed records (missing
// required fields for the era) are likewise dropped and counted.
//
// An error from fn or from the underlying reader aborts the batch and is
// returned alongside the stats accumulated so far.
func Normalize(r io.Reader, era Era, fn func(TripRecord) error) (Stats, error) {
	var stats Stats

	cr := csv.NewReader(r)
	cr.ReuseRecord = true

	header, err := cr.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return stats, nil
		}
		return stats, fmt.Errorf("failed to read batch header: %w", err)
	}
	columns := make([]string, len(header))
	copy(columns, header)

	for {
		row, err := cr.Read()
		if errors.Is(err, io.EOF) {
			return stats, nil
		}
		if err != nil {
			return stats, fmt.Errorf("failed to read batch row: %w", err)
		}

		raw := make(Record, len(columns))
		for i, col := range columns {
			if i < len(row) {
				raw[col] = row[i]
			}
		}

		rec, err := Reconcile(raw, era)
		if err != nil {
			var malformed *MalformedRecordError
			if errors.As(err, &malformed) {
				stats.Malformed++
				continue
			}
			return stats, err
		}

		rec.DurationSec = int64(rec.EndTime.Sub(rec.StartTime).Seconds())
		if rec.DurationSec <= 0 {
			stats.InvalidDuration++
			continue
		}

		if err := fn(rec); err != nil {
			return stats, err
		}
		stats.Valid++
	}
}
