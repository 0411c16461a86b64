package main

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// Handlers contains the HTTP handlers for the summary query API.
type Handlers struct {
	service *QueryService
	config  QueryConfig
}

// NewHandlers creates the API handlers.
func NewHandlers(service *QueryService, config QueryConfig) *Handlers {
	return &Handlers{service: service, config: config}
}

// Register attaches every route to the mux.
func (h *Handlers) Register(mux *http.ServeMux) {
	mux.HandleFunc("/api/v1/system_daily", h.HandleSystemDaily)
	mux.HandleFunc("/api/v1/station_daily", h.HandleStationDaily)
	mux.HandleFunc("/api/v1/station_hourly", h.HandleStationHourly)
	mux.HandleFunc("/api/v1/station_routes", h.HandleStationRoutes)
	mux.HandleFunc("/api/v1/stations", h.HandleStations)
	mux.HandleFunc("/api/v1/trips", h.HandleTrips)
}

// HandleSystemDaily returns system-wide daily activity.
// GET /api/v1/system_daily?start_date=2023-01-01&end_date=2023-12-31
func (h *Handlers) HandleSystemDaily(w http.ResponseWriter, r *http.Request) {
	filter, err := h.parseFilter(r)
	if err != nil {
		respondError(w, err.Error(), http.StatusBadRequest)
		return
	}

	rows, err := h.service.SystemDaily(r.Context(), filter)
	if err != nil {
		respondError(w, err.Error(), http.StatusInternalServerError)
		return
	}

	respondJSON(w, map[string]interface{}{
		"days":  rows,
		"count": len(rows),
	})
}

// HandleStationDaily returns per-station daily activity.
// GET /api/v1/station_daily?station_id=31000,31001&start_date=...&sample=true
func (h *Handlers) HandleStationDaily(w http.ResponseWriter, r *http.Request) {
	filter, err := h.parseFilter(r)
	if err != nil {
		respondError(w, err.Error(), http.StatusBadRequest)
		return
	}
	sample := r.URL.Query().Get("sample") == "true"

	rows, err := h.service.StationDaily(r.Context(), filter, sample)
	if err != nil {
		respondError(w, err.Error(), http.StatusInternalServerError)
		return
	}

	respondJSON(w, map[string]interface{}{
		"rows":    rows,
		"count":   len(rows),
		"sampled": sample,
	})
}

// HandleStationHourly returns per-station hourly activity.
// GET /api/v1/station_hourly?station_id=31000&start_date=...
func (h *Handlers) HandleStationHourly(w http.ResponseWriter, r *http.Request) {
	filter, err := h.parseFilter(r)
	if err != nil {
		respondError(w, err.Error(), http.StatusBadRequest)
		return
	}

	rows, err := h.service.StationHourly(r.Context(), filter)
	if err != nil {
		respondError(w, err.Error(), http.StatusInternalServerError)
		return
	}

	respondJSON(w, map[string]interface{}{
		"rows":  rows,
		"count": len(rows),
	})
}

// HandleStationRoutes returns the retained station-to-station pairs.
// GET /api/v1/station_routes?station_id=31000&limit=100
func (h *Handlers) HandleStationRoutes(w http.ResponseWriter, r *http.Request) {
	filter, err := h.parseFilter(r)
	if err != nil {
		respondError(w, err.Error(), http.StatusBadRequest)
		return
	}

	rows, err := h.service.StationRoutes(r.Context(), filter)
	if err != nil {
		respondError(w, err.Error(), http.StatusInternalServerError)
		return
	}

	respondJSON(w, map[string]interface{}{
		"routes": rows,
		"count":  len(rows),
	})
}

// HandleStations returns the station dimension.
// GET /api/v1/stations?limit=500
func (h *Handlers) HandleStations(w http.ResponseWriter, r *http.Request) {
	limit := parseLimit(r, h.config.DefaultLimit, h.config.MaxLimit)

	list, err := h.service.Stations(r.Context(), limit)
	if err != nil {
		respondError(w, err.Error(), http.StatusInternalServerError)
		return
	}

	respondJSON(w, map[string]interface{}{
		"stations": list,
		"count":    len(list),
	})
}

// HandleTrips re-scans raw trips. This is the slow path and requires the
// caller to opt in explicitly with raw_scan=true.
// GET /api/v1/trips?raw_scan=true&member_type=member&rideable_type=electric
func (h *Handlers) HandleTrips(w http.ResponseWriter, r *http.Request) {
	if r.URL.Query().Get("raw_scan") != "true" {
		respondError(w, "raw_scan=true required: this endpoint scans raw trips and is not pre-aggregated", http.StatusBadRequest)
		return
	}

	base, err := h.parseFilter(r)
	if err != nil {
		respondError(w, err.Error(), http.StatusBadRequest)
		return
	}

	filter := TripFilter{
		TableFilter:  base,
		MemberType:   r.URL.Query().Get("member_type"),
		RideableType: r.URL.Query().Get("rideable_type"),
	}

	rows, err := h.service.Trips(r.Context(), filter)
	if err != nil {
		respondError(w, err.Error(), http.StatusInternalServerError)
		return
	}

	respondJSON(w, map[string]interface{}{
		"trips": rows,
		"count": len(rows),
	})
}

// parseFilter reads the shared date-range, station and limit parameters.
func (h *Handlers) parseFilter(r *http.Request) (TableFilter, error) {
	filter := TableFilter{
		Limit: parseLimit(r, h.config.DefaultLimit, h.config.MaxLimit),
	}

	if s := r.URL.Query().Get("start_date"); s != "" {
		t, err := time.Parse(dateLayout, s)
		if err != nil {
			return filter, err
		}
		filter.StartDate = t
	}
	if s := r.URL.Query().Get("end_date"); s != "" {
		t, err := time.Parse(dateLayout, s)
		if err != nil {
			return filter, err
		}
		filter.EndDate = t
	}
	if s := r.URL.Query().Get("station_id"); s != "" {
		for _, id := range strings.Split(s, ",") {
			if id = strings.TrimSpace(id); id != "" {
				filter.StationIDs = append(filter.StationIDs, id)
			}
		}
	}
	return filter, nil
}

func parseLimit(r *http.Request, defaultLimit, maxLimit int) int {
	limitStr := r.URL.Query().Get("limit")
	if limitStr == "" {
		return defaultLimit
	}

	limit, err := strconv.Atoi(limitStr)
	if err != nil || limit <= 0 {
		return defaultLimit
	}

	if limit > maxLimit {
		return maxLimit
	}

	return limit
}

func respondJSON(w http.ResponseWriter, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, message string, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(map[string]interface{}{
		"error": message,
	})
}
