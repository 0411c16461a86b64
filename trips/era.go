package trips

// Era identifies which source schema a raw batch uses. Capital Bikeshare
// changed its published trip format in April 2020: the bike-identifier
// schema was replaced by a ride-identifier schema carrying coordinates and
// a vehicle type instead of a bike number.
type Era string

const (
	// EraBikeKey is the pre-cutover schema (through March 2020).
	EraBikeKey Era = "bike_key"
	// EraRideKey is the post-cutover schema (April 2020 onward).
	EraRideKey Era = "ride_key"
)

// cutover is the first (year, month) published in the ride-key schema.
const (
	cutoverYear  = 2020
	cutoverMonth = 4
)

// EraFor returns the schema era for a monthly batch.
func EraFor(year, month int) Era {
	if year > cutoverYear || (year == cutoverYear && month >= cutoverMonth) {
		return EraRideKey
	}
	return EraBikeKey
}

// Field names canonical TripRecord fields as they appear in raw sources.
type Field string

const (
	FieldTripID       Field = "trip_id"
	FieldStartTime    Field = "start_time"
	FieldEndTime      Field = "end_time"
	FieldStartID      Field = "start_station_id"
	FieldStartName    Field = "start_station_name"
	FieldEndID        Field = "end_station_id"
	FieldEndName      Field = "end_station_name"
	FieldBikeID       Field = "bike_id"
	FieldRideableType Field = "rideable_type"
	FieldMemberType   Field = "member_type"
	FieldStartLat     Field = "start_lat"
	FieldStartLng     Field = "start_lng"
	FieldEndLat       Field = "end_lat"
	FieldEndLng       Field = "end_lng"
)

// FieldMapping maps raw column headers to canonical fields. The mapping is
// data, not branching logic: a future era's aliases are one more map entry,
// not a new conditional path through the reconciler.
type FieldMapping map[string]Field

// eraMappings holds the column alias table per era. Headers are matched
// after lowercasing and trimming, so capitalization variants across files
// within an era resolve to the same canonical field.
var eraMappings = map[Era]FieldMapping{
	EraBikeKey: {
		"start date":           FieldStartTime,
		"end date":             FieldEndTime,
		"start station number": FieldStartID,
		"start station":        FieldStartName,
		"end station number":   FieldEndID,
		"end station":          FieldEndName,
		"bike number":          FieldBikeID,
		"member type":          FieldMemberType,
	},
	EraRideKey: {
		"ride_id":            FieldTripID,
		"rideable_type":      FieldRideableType,
		"started_at":         FieldStartTime,
		"ended_at":           FieldEndTime,
		"start_station_id":   FieldStartID,
		"start_station_name": FieldStartName,
		"end_station_id":     FieldEndID,
		"end_station_name":   FieldEndName,
		"start_lat":          FieldStartLat,
		"start_lng":          FieldStartLng,
		"end_lat":            FieldEndLat,
		"end_lng":            FieldEndLng,
		"member_casual":      FieldMemberType,
	},
}

// requiredFields are the fields a raw record must supply in any era.
var requiredFields = []Field{FieldStartTime, FieldEndTime, FieldStartID, FieldEndID}

// Mapping returns the column alias table for an era.
func Mapping(era Era) (FieldMapping, bool) {
	m, ok := eraMappings[era]
	return m, ok
}
