package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/jmgjasongardner/capital-bikeshare/source"
	"github.com/jmgjasongardner/capital-bikeshare/stations"
)

func main() {
	configPath := flag.String("config", "config.yaml", "Path to configuration file")
	mode := flag.String("mode", "all", "Pipeline mode: ingest, aggregate, geocode, serve, or all")
	rebuild := flag.Bool("rebuild", false, "Reload months already recorded in the ingest manifest")
	flag.Parse()

	config, err := LoadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}
	if err := config.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "invalid config: %v\n", err)
		os.Exit(1)
	}

	setupLogging(config.Logging)

	log.Info().
		Str("mode", *mode).
		Str("config", *configPath).
		Msg("Starting trip pipeline")

	healthServer := NewHealthServer(config.Service.Name, config.Service.HealthPort)
	go func() {
		if err := healthServer.Start(); err != nil {
			log.Error().Err(err).Msg("Health server stopped")
		}
	}()

	catalog, err := OpenCatalog(config.Catalog.Path)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open catalog")
	}
	defer catalog.Close()

	ctx := context.Background()

	if err := run(ctx, config, catalog, *mode, *rebuild); err != nil {
		log.Fatal().Err(err).Str("mode", *mode).Msg("Pipeline failed")
	}
}

func run(ctx context.Context, config *Config, catalog *Catalog, mode string, rebuild bool) error {
	switch mode {
	case "ingest":
		return runIngest(ctx, config, catalog, rebuild)
	case "aggregate":
		return runAggregate(ctx, config, catalog)
	case "geocode":
		return runGeocode(ctx, config, catalog)
	case "serve":
		return runServe(config, catalog)
	case "all":
		// The full batch pass: ingest then aggregate. Geocoding talks to a
		// rate-limited external service and serve blocks on the listener,
		// so both stay opt-in modes of their own.
		if err := runIngest(ctx, config, catalog, rebuild); err != nil {
			return err
		}
		return runAggregate(ctx, config, catalog)
	default:
		return fmt.Errorf("unknown mode %q", mode)
	}
}

// runIngest backfills monthly batches into the master trips table and
// refreshes the station dimension.
func runIngest(ctx context.Context, config *Config, catalog *Catalog, rebuild bool) error {
	fetcher := source.NewFetcher(config.Source)
	ingester := NewIngester(catalog, fetcher, config.Ingest)
	return ingester.Run(ctx, rebuild)
}

// runAggregate rebuilds the summary tables and publishes them to the
// summary store.
func runAggregate(ctx context.Context, config *Config, catalog *Catalog) error {
	aggregator := NewAggregator(catalog.DB())
	if err := aggregator.RebuildAll(ctx); err != nil {
		return err
	}

	store, err := NewSummaryStore(catalog.DB(), config.Store.DataDir)
	if err != nil {
		return err
	}
	return store.WriteAll(ctx)
}

// runGeocode fills city/state/zip for stations that do not have them yet.
// Already-enriched stations are never touched, so reruns are free.
func runGeocode(ctx context.Context, config *Config, catalog *Catalog) error {
	unenriched, err := stations.LoadUnenriched(ctx, catalog.DB())
	if err != nil {
		return err
	}
	if len(unenriched) == 0 {
		log.Info().Msg("All stations already enriched")
		return nil
	}

	geocoder := stations.NewNominatim(config.Geocoding)
	updates, err := stations.Enrich(ctx, geocoder, unenriched)
	if err != nil {
		return err
	}
	geocodeRequests.WithLabelValues("success").Add(float64(len(updates)))
	geocodeRequests.WithLabelValues("failed").Add(float64(len(unenriched) - len(updates)))
	if err := stations.ApplyUpdates(ctx, catalog.DB(), updates); err != nil {
		return err
	}

	log.Info().
		Int("stations", len(unenriched)).
		Int("enriched", len(updates)).
		Msg("Station enrichment complete")
	return nil
}

// runServe exposes the summary tables over HTTP until interrupted.
func runServe(config *Config, catalog *Catalog) error {
	store, err := NewSummaryStore(catalog.DB(), config.Store.DataDir)
	if err != nil {
		return err
	}

	service := NewQueryService(store, catalog.DB())
	handlers := NewHandlers(service, config.Query)

	mux := http.NewServeMux()
	handlers.Register(mux)
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		respondJSON(w, map[string]interface{}{"status": "healthy"})
	})

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", config.Service.Port),
		Handler:      mux,
		ReadTimeout:  time.Duration(config.Service.ReadTimeoutSeconds) * time.Second,
		WriteTimeout: time.Duration(config.Service.WriteTimeoutSeconds) * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", server.Addr).Msg("Query API listening")
		errCh <- server.ListenAndServe()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return err
	case sig := <-sigCh:
		log.Info().Str("signal", sig.String()).Msg("Shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	}
}

func setupLogging(cfg LoggingConfig) {
	level, err := zerolog.ParseLevel(strings.ToLower(cfg.Level))
	if err != nil || cfg.Level == "" {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	if cfg.Format == "console" {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	}
}
