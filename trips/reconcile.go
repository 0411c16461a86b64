package trips

import (
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Record is one raw row keyed by its source column headers, as read from a
// monthly CSV.
type Record map[string]string

// Timestamp layouts observed across the published files. Older exports
// carry whole seconds; some newer ones carry milliseconds.
var timeLayouts = []string{
	"2006-01-02 15:04:05",
	"2006-01-02 15:04:05.000",
	"2006-01-02T15:04:05Z",
}

// rideableAliases maps source vehicle-type labels to canonical values.
// Unlisted values stay unset rather than being bucketed somewhere wrong.
var rideableAliases = map[string]string{
	"classic_bike":  RideableClassic,
	"electric_bike": RideableElectric,
	"docked_bike":   RideableDocked,
}

// memberAliases folds legacy membership labels into the canonical set.
var memberAliases = map[string]string{
	"registered": MemberTypeMember,
	"subscriber": MemberTypeMember,
}

// Reconcile maps a raw record onto the canonical TripRecord shape using the
// era's column alias table. It fails with *MalformedRecordError when a
// required field (start/end time, start/end station id) is absent, and with
// *UnknownEraError for an era without a mapping.
//
// Fields the era does not carry are left unset: a bike-key record has no
// rideable type and a ride-key record has no bike id.
func Reconcile(raw Record, era Era) (TripRecord, error) {
	mapping, ok := eraMappings[era]
	if !ok {
		return TripRecord{}, &UnknownEraError{Era: era}
	}

	// Resolve aliases first so validation sees canonical fields only.
	fields := make(map[Field]string, len(raw))
	for col, val := range raw {
		canonical, ok := mapping[strings.ToLower(strings.TrimSpace(col))]
		if !ok {
			continue
		}
		fields[canonical] = strings.TrimSpace(val)
	}

	for _, req := range requiredFields {
		if fields[req] == "" {
			return TripRecord{}, &MalformedRecordError{Era: era, Missing: req}
		}
	}

	startTime, err := parseTime(fields[FieldStartTime])
	if err != nil {
		return TripRecord{}, &MalformedRecordError{Era: era, Missing: FieldStartTime}
	}
	endTime, err := parseTime(fields[FieldEndTime])
	if err != nil {
		return TripRecord{}, &MalformedRecordError{Era: era, Missing: FieldEndTime}
	}

	rec := TripRecord{
		TripID:           fields[FieldTripID],
		StartTime:        startTime,
		EndTime:          endTime,
		StartStationID:   fields[FieldStartID],
		StartStationName: fields[FieldStartName],
		EndStationID:     fields[FieldEndID],
		EndStationName:   fields[FieldEndName],
		BikeID:           fields[FieldBikeID],
		RideableType:     rideableAliases[strings.ToLower(fields[FieldRideableType])],
		MemberType:       normalizeMemberType(fields[FieldMemberType]),
		StartLat:         parseCoord(fields[FieldStartLat]),
		StartLng:         parseCoord(fields[FieldStartLng]),
		EndLat:           parseCoord(fields[FieldEndLat]),
		EndLng:           parseCoord(fields[FieldEndLng]),
	}

	// Bike-key files carry no ride id; synthesize one so every master row
	// has a stable opaque identifier.
	if rec.TripID == "" {
		rec.TripID = uuid.NewString()
	}

	return rec, nil
}

func parseTime(s string) (time.Time, error) {
	var lastErr error
	for _, layout := range timeLayouts {
		t, err := time.Parse(layout, s)
		if err == nil {
			return t, nil
		}
		lastErr = err
	}
	return time.Time{}, lastErr
}

func parseCoord(s string) *float64 {
	if s == "" {
		return nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return nil
	}
	return &v
}

func normalizeMemberType(s string) string {
	lower := strings.ToLower(s)
	if canonical, ok := memberAliases[lower]; ok {
		return canonical
	}
	return lower
}
