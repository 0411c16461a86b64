package main

import (
	"fmt"
	"os"

	"github.com/jmgjasongardner/capital-bikeshare/source"
	"github.com/jmgjasongardner/capital-bikeshare/stations"
	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the trip pipeline.
type Config struct {
	Service   ServiceConfig            `yaml:"service"`
	Source    source.Config            `yaml:"source"`
	Ingest    IngestConfig             `yaml:"ingest"`
	Catalog   CatalogConfig            `yaml:"catalog"`
	Store     StoreConfig              `yaml:"store"`
	Query     QueryConfig              `yaml:"query"`
	Geocoding stations.NominatimConfig `yaml:"geocoding"`
	Logging   LoggingConfig            `yaml:"logging"`
}

// ServiceConfig contains service-level settings.
type ServiceConfig struct {
	Name                string `yaml:"name"`
	Port                int    `yaml:"port"`
	HealthPort          int    `yaml:"health_port"`
	ReadTimeoutSeconds  int    `yaml:"read_timeout_seconds"`
	WriteTimeoutSeconds int    `yaml:"write_timeout_seconds"`
}

// IngestConfig controls the monthly backfill window.
type IngestConfig struct {
	// First month of published trip data to ingest.
	StartYear  int `yaml:"start_year"`
	StartMonth int `yaml:"start_month"`

	// Optional end of the window; zero means "through the current month".
	EndYear  int `yaml:"end_year"`
	EndMonth int `yaml:"end_month"`
}

// CatalogConfig locates the DuckDB catalog holding the master trips table,
// the station dimension and the ingest manifest.
type CatalogConfig struct {
	// Path to the DuckDB database file. Empty means in-memory, which is
	// only useful for tests.
	Path string `yaml:"path"`
}

// StoreConfig locates the summary store on disk.
type StoreConfig struct {
	// DataDir is the root directory for aggregate parquet tables. Staged
	// writes land in DataDir/staging and are renamed into
	// DataDir/aggregates once complete.
	DataDir string `yaml:"data_dir"`
}

// QueryConfig bounds API result sizes.
type QueryConfig struct {
	DefaultLimit int `yaml:"default_limit"`
	MaxLimit     int `yaml:"max_limit"`
}

// LoggingConfig controls structured log output.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // "console" or "json"
}

// LoadConfig loads configuration from a YAML file and applies defaults.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	// Defaults
	if config.Service.Name == "" {
		config.Service.Name = "trip-pipeline"
	}
	if config.Service.Port == 0 {
		config.Service.Port = 8080
	}
	if config.Service.HealthPort == 0 {
		config.Service.HealthPort = 8081
	}
	if config.Service.ReadTimeoutSeconds == 0 {
		config.Service.ReadTimeoutSeconds = 30
	}
	if config.Service.WriteTimeoutSeconds == 0 {
		config.Service.WriteTimeoutSeconds = 60
	}
	if config.Ingest.StartYear == 0 {
		// First month Capital Bikeshare published trip files.
		config.Ingest.StartYear = 2010
		config.Ingest.StartMonth = 9
	}
	if config.Ingest.StartMonth == 0 {
		config.Ingest.StartMonth = 1
	}
	if config.Query.DefaultLimit == 0 {
		config.Query.DefaultLimit = 1000
	}
	if config.Query.MaxLimit == 0 {
		config.Query.MaxLimit = 50000
	}
	if config.Logging.Level == "" {
		config.Logging.Level = "info"
	}
	config.Source.ApplyDefaults()
	config.Geocoding.ApplyDefaults()

	return &config, nil
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if c.Catalog.Path == "" {
		return fmt.Errorf("catalog.path is required")
	}
	if c.Store.DataDir == "" {
		return fmt.Errorf("store.data_dir is required")
	}
	if c.Ingest.StartMonth < 1 || c.Ingest.StartMonth > 12 {
		return fmt.Errorf("ingest.start_month must be 1-12")
	}
	if c.Query.DefaultLimit > c.Query.MaxLimit {
		return fmt.Errorf("query.default_limit must not exceed query.max_limit")
	}
	return nil
}
