package main

import (
	"context"
	"database/sql"
	"fmt"

	duckdb "github.com/duckdb/duckdb-go/v2"
	"github.com/rs/zerolog/log"

	"github.com/jmgjasongardner/capital-bikeshare/stations"
)

// Catalog wraps the DuckDB database holding the master trips table, the
// station dimension and the ingest manifest.
//
// Dual connection model: sql.DB for DDL and queries, a native connection
// for the Appender API used during batch loads.
type Catalog struct {
	connector *duckdb.Connector
	db        *sql.DB
	conn      *duckdb.Conn
}

// OpenCatalog opens (or creates) the DuckDB catalog and ensures the core
// tables exist. An empty path opens an in-memory database, which is only
// useful for tests.
func OpenCatalog(path string) (*Catalog, error) {
	connector, err := duckdb.NewConnector(path, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create DuckDB connector: %w", err)
	}

	c := &Catalog{
		connector: connector,
		db:        sql.OpenDB(connector),
	}

	// Keep a small pool: one batch writer at a time, readers share.
	c.db.SetMaxOpenConns(4)
	c.db.SetMaxIdleConns(2)

	if err := c.initialize(); err != nil {
		c.db.Close()
		return nil, err
	}

	log.Info().Str("path", path).Msg("DuckDB catalog ready")
	return c, nil
}

// DB exposes the pooled handle for packages that run their own SQL.
func (c *Catalog) DB() *sql.DB { return c.db }

// TripAppender returns a DuckDB appender over the trips table, lazily
// opening the native connection it requires.
func (c *Catalog) TripAppender() (*duckdb.Appender, error) {
	if c.conn == nil {
		conn, err := c.connector.Connect(context.Background())
		if err != nil {
			return nil, fmt.Errorf("failed to open native connection: %w", err)
		}
		duckConn, ok := conn.(*duckdb.Conn)
		if !ok {
			return nil, fmt.Errorf("unexpected connection type %T", conn)
		}
		c.conn = duckConn
	}

	appender, err := duckdb.NewAppenderFromConn(c.conn, "", "trips")
	if err != nil {
		return nil, fmt.Errorf("failed to create trips appender: %w", err)
	}
	return appender, nil
}

func (c *Catalog) initialize() error {
	ctx := context.Background()

	if err := c.createTripsTable(ctx); err != nil {
		return err
	}
	if err := c.createManifestTable(ctx); err != nil {
		return err
	}
	if err := stations.EnsureTable(ctx, c.db); err != nil {
		return err
	}
	return nil
}

// createTripsTable creates the master trips table. One row per valid
// normalized trip; year/month mirror the source batch for pruning and for
// manifest bookkeeping.
func (c *Catalog) createTripsTable(ctx context.Context) error {
	createSQL := `
		CREATE TABLE IF NOT EXISTS trips (
			trip_id VARCHAR NOT NULL,
			start_time TIMESTAMP NOT NULL,
			end_time TIMESTAMP NOT NULL,
			duration_sec BIGINT NOT NULL,
			start_station_id VARCHAR,
			start_station_name VARCHAR,
			end_station_id VARCHAR,
			end_station_name VARCHAR,
			bike_id VARCHAR,
			rideable_type VARCHAR,
			member_type VARCHAR,
			start_lat DOUBLE,
			start_lng DOUBLE,
			end_lat DOUBLE,
			end_lng DOUBLE,
			year INT NOT NULL,
			month INT NOT NULL
		)`

	if _, err := c.db.ExecContext(ctx, createSQL); err != nil {
		return fmt.Errorf("failed to create trips table: %w", err)
	}
	return nil
}

// createManifestTable creates the ingest manifest. One row per loaded
// monthly batch; its presence is what makes re-ingestion skip the month.
func (c *Catalog) createManifestTable(ctx context.Context) error {
	createSQL := `
		CREATE TABLE IF NOT EXISTS ingest_manifest (
			year INT NOT NULL,
			month INT NOT NULL,
			era VARCHAR NOT NULL,
			rows_loaded BIGINT NOT NULL,
			rows_rejected BIGINT NOT NULL,
			loaded_at TIMESTAMP NOT NULL
		)`

	if _, err := c.db.ExecContext(ctx, createSQL); err != nil {
		return fmt.Errorf("failed to create ingest_manifest table: %w", err)
	}
	return nil
}

// Close closes the catalog connections.
func (c *Catalog) Close() error {
	if c.conn != nil {
		c.conn.Close()
	}
	if c.db != nil {
		return c.db.Close()
	}
	return nil
}
