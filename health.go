package main

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
)

var (
	// Ingest metrics
	batchesFetched = promauto.NewCounter(prometheus.CounterOpts{
		Name: "trip_pipeline_batches_fetched_total",
		Help: "Total number of monthly batches fetched from the source bucket",
	})

	batchesFailed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "trip_pipeline_batches_failed_total",
		Help: "Total number of monthly batch fetches that failed",
	})

	recordsIngested = promauto.NewCounter(prometheus.CounterOpts{
		Name: "trip_pipeline_records_ingested_total",
		Help: "Total number of valid trip records loaded into the master table",
	})

	recordsRejected = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "trip_pipeline_records_rejected_total",
		Help: "Total number of rejected trip records by reason",
	}, []string{"reason"})

	// Aggregation metrics
	aggregateBuildDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "trip_pipeline_aggregate_build_duration_seconds",
		Help:    "Duration of individual aggregate table builds",
		Buckets: []float64{1, 5, 10, 30, 60, 120, 300},
	}, []string{"table_name"})

	aggregateRows = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "trip_pipeline_aggregate_rows",
		Help: "Row count of each aggregate table after the last rebuild",
	}, []string{"table_name"})

	lastRebuildTimestamp = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "trip_pipeline_last_rebuild_timestamp_seconds",
		Help: "Unix timestamp of the last completed aggregate rebuild",
	})

	// Enrichment metrics
	geocodeRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "trip_pipeline_geocode_requests_total",
		Help: "Total number of reverse geocoding lookups by outcome",
	}, []string{"outcome"})
)

// HealthServer serves the health and Prometheus metrics endpoints.
type HealthServer struct {
	serviceName string
	port        int
	startTime   time.Time
}

// NewHealthServer creates a health server.
func NewHealthServer(serviceName string, port int) *HealthServer {
	return &HealthServer{
		serviceName: serviceName,
		port:        port,
		startTime:   time.Now(),
	}
}

// Start starts the health and metrics HTTP server.
func (h *HealthServer) Start() error {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", h.handleHealth)
	mux.HandleFunc("/ready", h.handleReady)
	mux.Handle("/metrics", promhttp.Handler())

	addr := fmt.Sprintf(":%d", h.port)
	log.Info().Str("addr", addr).Msg("Health server listening")

	return http.ListenAndServe(addr, mux)
}

func (h *HealthServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	health := map[string]interface{}{
		"status":         "healthy",
		"service":        h.serviceName,
		"timestamp":      time.Now().UTC().Format(time.RFC3339),
		"uptime_seconds": int64(time.Since(h.startTime).Seconds()),
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(health)
}

func (h *HealthServer) handleReady(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	fmt.Fprintf(w, "ready")
}
