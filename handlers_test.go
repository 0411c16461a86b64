package main

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func testHandlers() *Handlers {
	return NewHandlers(nil, QueryConfig{DefaultLimit: 100, MaxLimit: 1000})
}

func TestParseLimit(t *testing.T) {
	tests := []struct {
		name  string
		query string
		want  int
	}{
		{"missing uses default", "", 100},
		{"explicit limit", "limit=50", 50},
		{"clamped to max", "limit=99999", 1000},
		{"zero uses default", "limit=0", 100},
		{"negative uses default", "limit=-5", 100},
		{"garbage uses default", "limit=abc", 100},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodGet, "/api/v1/system_daily?"+tt.query, nil)
			if got := parseLimit(r, 100, 1000); got != tt.want {
				t.Errorf("parseLimit = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestParseFilter(t *testing.T) {
	h := testHandlers()

	r := httptest.NewRequest(http.MethodGet,
		"/api/v1/station_daily?start_date=2023-01-01&end_date=2023-06-30&station_id=31000,%2031001,", nil)
	filter, err := h.parseFilter(r)
	if err != nil {
		t.Fatalf("parseFilter failed: %v", err)
	}

	if got := filter.StartDate.Format(dateLayout); got != "2023-01-01" {
		t.Errorf("start_date = %s, want 2023-01-01", got)
	}
	if got := filter.EndDate.Format(dateLayout); got != "2023-06-30" {
		t.Errorf("end_date = %s, want 2023-06-30", got)
	}
	if len(filter.StationIDs) != 2 || filter.StationIDs[0] != "31000" || filter.StationIDs[1] != "31001" {
		t.Errorf("station_ids = %v, want [31000 31001]", filter.StationIDs)
	}
	if filter.Limit != 100 {
		t.Errorf("limit = %d, want default 100", filter.Limit)
	}
}

func TestParseFilterBadDate(t *testing.T) {
	h := testHandlers()

	r := httptest.NewRequest(http.MethodGet, "/api/v1/system_daily?start_date=01/02/2023", nil)
	if _, err := h.parseFilter(r); err == nil {
		t.Error("expected error for malformed date")
	}
}

func TestHandleTripsRequiresRawScanOptIn(t *testing.T) {
	h := testHandlers()

	r := httptest.NewRequest(http.MethodGet, "/api/v1/trips?member_type=member", nil)
	w := httptest.NewRecorder()
	h.HandleTrips(w, r)

	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want %d without raw_scan=true", w.Code, http.StatusBadRequest)
	}
}
