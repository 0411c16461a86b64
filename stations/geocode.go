package stations

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"
)

// Location is the result of reverse geocoding one coordinate pair.
type Location struct {
	City    string
	State   string
	ZipCode string
}

// Geocoder resolves a coordinate pair to an administrative location.
type Geocoder interface {
	ReverseGeocode(ctx context.Context, lat, lng float64) (Location, error)
}

// NominatimConfig configures the OpenStreetMap Nominatim client.
type NominatimConfig struct {
	BaseURL   string `yaml:"base_url"`
	UserAgent string `yaml:"user_agent"`

	// RequestsPerSecond caps the request rate. Nominatim's usage policy
	// allows at most 1 request per second. Default: 1.
	RequestsPerSecond float64 `yaml:"requests_per_second"`

	TimeoutSeconds int `yaml:"timeout_seconds"`
}

// ApplyDefaults fills in zero-valued settings.
func (c *NominatimConfig) ApplyDefaults() {
	if c.BaseURL == "" {
		c.BaseURL = "https://nominatim.openstreetmap.org"
	}
	if c.UserAgent == "" {
		c.UserAgent = "capital-bikeshare-analytics/1.0"
	}
	if c.RequestsPerSecond == 0 {
		c.RequestsPerSecond = 1
	}
	if c.TimeoutSeconds == 0 {
		c.TimeoutSeconds = 10
	}
}

// Nominatim is a rate-limited reverse geocoding client for the OpenStreetMap
// Nominatim API.
type Nominatim struct {
	baseURL   string
	userAgent string
	client    *http.Client
	limiter   *rate.Limiter
}

// NewNominatim creates a Nominatim client honouring the configured rate cap.
func NewNominatim(cfg NominatimConfig) *Nominatim {
	cfg.ApplyDefaults()
	return &Nominatim{
		baseURL:   cfg.BaseURL,
		userAgent: cfg.UserAgent,
		client:    &http.Client{Timeout: time.Duration(cfg.TimeoutSeconds) * time.Second},
		limiter:   rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), 1),
	}
}

// nominatimResponse is the subset of the reverse geocoding payload we read.
type nominatimResponse struct {
	Address struct {
		City     string `json:"city"`
		Town     string `json:"town"`
		Village  string `json:"village"`
		County   string `json:"county"`
		State    string `json:"state"`
		Postcode string `json:"postcode"`
	} `json:"address"`
}

// ReverseGeocode resolves one coordinate pair. It blocks on the rate limiter
// before issuing the request.
func (n *Nominatim) ReverseGeocode(ctx context.Context, lat, lng float64) (Location, error) {
	if err := n.limiter.Wait(ctx); err != nil {
		return Location{}, err
	}

	params := url.Values{}
	params.Set("lat", strconv.FormatFloat(lat, 'f', -1, 64))
	params.Set("lon", strconv.FormatFloat(lng, 'f', -1, 64))
	params.Set("format", "json")
	params.Set("addressdetails", "1")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, n.baseURL+"/reverse?"+params.Encode(), nil)
	if err != nil {
		return Location{}, fmt.Errorf("failed to build geocode request: %w", err)
	}
	req.Header.Set("User-Agent", n.userAgent)

	resp, err := n.client.Do(req)
	if err != nil {
		return Location{}, fmt.Errorf("geocode request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return Location{}, fmt.Errorf("geocode request returned %s", resp.Status)
	}

	var payload nominatimResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return Location{}, fmt.Errorf("failed to decode geocode response: %w", err)
	}

	addr := payload.Address

	// Nominatim labels the locality differently depending on place size.
	city := addr.City
	if city == "" {
		city = addr.Town
	}
	if city == "" {
		city = addr.Village
	}
	if city == "" {
		city = addr.County
	}

	return Location{
		City:    orUnknown(city),
		State:   orUnknown(addr.State),
		ZipCode: orUnknown(addr.Postcode),
	}, nil
}

func orUnknown(s string) string {
	if s == "" {
		return "Unknown"
	}
	return s
}

// Update is one station's freshly geocoded enrichment fields.
type Update struct {
	StationID string
	Location  Location
}

// Enrich geocodes every station in the slice that is not already enriched
// and returns the resulting updates. Already populated stations are skipped
// without a geocoder call, which makes a repeat run over an unchanged
// dimension a no-op. A failed lookup skips that station for this run; it
// stays unenriched and is picked up again next time.
func Enrich(ctx context.Context, g Geocoder, list []Station) ([]Update, error) {
	var updates []Update
	for i := range list {
		st := &list[i]
		if st.Enriched() {
			continue
		}
		// Stations whose coordinates were never observed scan as (0, 0),
		// which would geocode the Gulf of Guinea and store "Unknown" for
		// good. Leave them alone until a batch supplies real coordinates.
		if st.Lat == 0 && st.Lng == 0 {
			continue
		}
		if err := ctx.Err(); err != nil {
			return updates, err
		}

		loc, err := g.ReverseGeocode(ctx, st.Lat, st.Lng)
		if err != nil {
			log.Warn().
				Str("station_id", st.ID).
				Err(err).
				Msg("Reverse geocode failed, station left unenriched")
			continue
		}

		updates = append(updates, Update{StationID: st.ID, Location: loc})
	}
	return updates, nil
}

// ApplyUpdates writes enrichment results back to the dimension. Only rows
// still unpopulated are touched, so concurrent or repeated runs cannot
// overwrite existing values.
func ApplyUpdates(ctx context.Context, db *sql.DB, updates []Update) error {
	updateSQL := `
		UPDATE stations
		SET city = ?, state = ?, zip_code = ?
		WHERE station_id = ? AND (city IS NULL OR city = '')`

	for _, u := range updates {
		if _, err := db.ExecContext(ctx, updateSQL,
			u.Location.City, u.Location.State, u.Location.ZipCode, u.StationID); err != nil {
			return fmt.Errorf("failed to apply enrichment for station %s: %w", u.StationID, err)
		}
	}
	return nil
}
