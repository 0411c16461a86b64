package trips

import (
	"errors"
	"testing"
	"time"
)

func bikeKeyRecord() Record {
	return Record{
		"Duration":             "1200",
		"Start date":           "2019-06-01 10:00:00",
		"End date":             "2019-06-01 10:20:00",
		"Start station number": "31000",
		"Start station":        "Eads St & 15th St S",
		"End station number":   "31001",
		"End station":          "18th St & S Eads St",
		"Bike number":          "W21971",
		"Member type":          "Member",
	}
}

func rideKeyRecord() Record {
	return Record{
		"ride_id":            "5D9BF97E8D9E4D43",
		"rideable_type":      "electric_bike",
		"started_at":         "2021-03-15 08:12:01",
		"ended_at":           "2021-03-15 08:30:44",
		"start_station_id":   "31000",
		"start_station_name": "Eads St & 15th St S",
		"end_station_id":     "31001",
		"end_station_name":   "18th St & S Eads St",
		"start_lat":          "38.858971",
		"start_lng":          "-77.053230",
		"end_lat":            "38.857250",
		"end_lng":            "-77.053320",
		"member_casual":      "casual",
	}
}

func TestReconcileBikeKeyEra(t *testing.T) {
	rec, err := Reconcile(bikeKeyRecord(), EraBikeKey)
	if err != nil {
		t.Fatalf("Reconcile failed: %v", err)
	}

	if rec.BikeID != "W21971" {
		t.Errorf("BikeID mismatch: got %q, want W21971", rec.BikeID)
	}
	if rec.RideableType != RideableUnset {
		t.Errorf("RideableType should be unset for bike-key era, got %q", rec.RideableType)
	}
	if rec.StartLat != nil || rec.EndLat != nil {
		t.Error("coordinates should be unset for bike-key era")
	}
	if rec.TripID == "" {
		t.Error("expected synthetic trip id for bike-key record")
	}
	if rec.MemberType != MemberTypeMember {
		t.Errorf("MemberType mismatch: got %q, want member", rec.MemberType)
	}
	want := time.Date(2019, 6, 1, 10, 0, 0, 0, time.UTC)
	if !rec.StartTime.Equal(want) {
		t.Errorf("StartTime mismatch: got %v, want %v", rec.StartTime, want)
	}
}

func TestReconcileRideKeyEra(t *testing.T) {
	rec, err := Reconcile(rideKeyRecord(), EraRideKey)
	if err != nil {
		t.Fatalf("Reconcile failed: %v", err)
	}

	if rec.TripID != "5D9BF97E8D9E4D43" {
		t.Errorf("TripID mismatch: got %q", rec.TripID)
	}
	if rec.RideableType != RideableElectric {
		t.Errorf("RideableType mismatch: got %q, want electric", rec.RideableType)
	}
	if rec.BikeID != "" {
		t.Errorf("BikeID should be unset for ride-key era, got %q", rec.BikeID)
	}
	if rec.StartLat == nil || *rec.StartLat != 38.858971 {
		t.Errorf("StartLat mismatch: got %v", rec.StartLat)
	}
	if rec.MemberType != MemberTypeCasual {
		t.Errorf("MemberType mismatch: got %q, want casual", rec.MemberType)
	}
}

// The two eras must differ exactly in which optional fields are set.
func TestReconcileEraFieldAbsence(t *testing.T) {
	pre, err := Reconcile(bikeKeyRecord(), EraBikeKey)
	if err != nil {
		t.Fatalf("Reconcile bike-key failed: %v", err)
	}
	post, err := Reconcile(rideKeyRecord(), EraRideKey)
	if err != nil {
		t.Fatalf("Reconcile ride-key failed: %v", err)
	}

	if pre.BikeID == "" || post.BikeID != "" {
		t.Errorf("bike_id set wrong way around: pre=%q post=%q", pre.BikeID, post.BikeID)
	}
	if pre.RideableType != RideableUnset || post.RideableType == RideableUnset {
		t.Errorf("rideable_type set wrong way around: pre=%q post=%q", pre.RideableType, post.RideableType)
	}
	if pre.StartLat != nil || post.StartLat == nil {
		t.Error("coordinates set wrong way around")
	}
}

func TestReconcileMissingRequiredFields(t *testing.T) {
	tests := []struct {
		name    string
		drop    string
		missing Field
	}{
		{"no start time", "Start date", FieldStartTime},
		{"no end time", "End date", FieldEndTime},
		{"no start station", "Start station number", FieldStartID},
		{"no end station", "End station number", FieldEndID},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			raw := bikeKeyRecord()
			delete(raw, tt.drop)

			_, err := Reconcile(raw, EraBikeKey)
			var malformed *MalformedRecordError
			if !errors.As(err, &malformed) {
				t.Fatalf("expected MalformedRecordError, got %v", err)
			}
			if malformed.Missing != tt.missing {
				t.Errorf("Missing mismatch: got %s, want %s", malformed.Missing, tt.missing)
			}
			if malformed.Era != EraBikeKey {
				t.Errorf("Era mismatch: got %s", malformed.Era)
			}
		})
	}
}

func TestReconcileUnknownRideableStaysUnset(t *testing.T) {
	raw := rideKeyRecord()
	raw["rideable_type"] = "hoverboard"

	rec, err := Reconcile(raw, EraRideKey)
	if err != nil {
		t.Fatalf("Reconcile failed: %v", err)
	}
	if rec.RideableType != RideableUnset {
		t.Errorf("unknown rideable type should stay unset, got %q", rec.RideableType)
	}
}

func TestReconcileUnknownEra(t *testing.T) {
	_, err := Reconcile(bikeKeyRecord(), Era("scooter_key"))
	var unknown *UnknownEraError
	if !errors.As(err, &unknown) {
		t.Fatalf("expected UnknownEraError, got %v", err)
	}
}

func TestReconcileHeaderCaseInsensitive(t *testing.T) {
	raw := Record{
		"START DATE":           "2019-06-01 10:00:00",
		"End Date":             "2019-06-01 10:20:00",
		"start station number": "31000",
		"End Station Number":   "31001",
		"Member Type":          "CASUAL",
	}

	rec, err := Reconcile(raw, EraBikeKey)
	if err != nil {
		t.Fatalf("Reconcile failed: %v", err)
	}
	if rec.MemberType != MemberTypeCasual {
		t.Errorf("MemberType mismatch: got %q, want casual", rec.MemberType)
	}
}

func TestNormalizeMemberType(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"Member", "member"},
		{"CASUAL", "casual"},
		{"Registered", "member"},
		{"Subscriber", "member"},
		{"casual", "casual"},
	}

	for _, tt := range tests {
		if got := normalizeMemberType(tt.in); got != tt.want {
			t.Errorf("normalizeMemberType(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestEraFor(t *testing.T) {
	tests := []struct {
		year  int
		month int
		want  Era
	}{
		{2013, 1, EraBikeKey},
		{2020, 3, EraBikeKey},
		{2020, 4, EraRideKey},
		{2021, 1, EraRideKey},
		{2026, 12, EraRideKey},
	}

	for _, tt := range tests {
		if got := EraFor(tt.year, tt.month); got != tt.want {
			t.Errorf("EraFor(%d, %d) = %s, want %s", tt.year, tt.month, got, tt.want)
		}
	}
}
