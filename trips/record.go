package trips

import "time"

// Rideable type values after normalization. A TripRecord from before the
// schema cutover has no rideable type at all; RideableUnset marks true
// absence, not a default bucket.
const (
	RideableUnset    = ""
	RideableClassic  = "classic"
	RideableElectric = "electric"
	RideableDocked   = "docked"
)

// Member type canonical values.
const (
	MemberTypeMember = "member"
	MemberTypeCasual = "casual"
)

// TripRecord is the canonical trip shape after schema reconciliation.
// String fields use "" for absence; coordinate fields use nil.
type TripRecord struct {
	TripID    string
	StartTime time.Time
	EndTime   time.Time

	// DurationSec is derived as EndTime - StartTime. Records where it is
	// not strictly positive never reach the master table.
	DurationSec int64

	// Station ids may be empty for trips that started or ended outside a
	// dock. Station-keyed aggregates skip the empty side.
	StartStationID   string
	StartStationName string
	EndStationID     string
	EndStationName   string

	// Pre-cutover only.
	BikeID string

	// Post-cutover only.
	RideableType string
	StartLat     *float64
	StartLng     *float64
	EndLat       *float64
	EndLng       *float64

	MemberType string
}

// Year and Month of the trip's start, used for partition bookkeeping.
func (t *TripRecord) Year() int  { return t.StartTime.Year() }
func (t *TripRecord) Month() int { return int(t.StartTime.Month()) }
