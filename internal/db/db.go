package db

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/rs/zerolog/log"
)

// DB represents a PostgreSQL database connection
type DB struct {
	client *sql.DB
	config *Config
}

// GetConfig returns the original DB connection settings
func (d *DB) GetConfig() *Config {
	return d.config
}

// Config holds PostgreSQL connection configuration
type Config struct {
	Host         string        // Database host
	Port         string        // Database port
	User         string        // Database user
	Password     string        // Database password
	Database     string        // Database name
	SSLMode      string        // SSL mode (disable, require, verify-ca, verify-full)
	MaxIdleConns int           // Maximum number of idle connections
	MaxOpenConns int           // Maximum number of open connections
	MaxLifetime  time.Duration // Maximum lifetime of a connection
	DatabaseURL  string        // Original DATABASE_URL if used
}

// ConnectionString returns the PostgreSQL connection string
func (c *Config) ConnectionString() string {
	// If we have a DatabaseURL, use it directly
	if c.DatabaseURL != "" {
		return c.DatabaseURL
	}

	// Otherwise use the individual components
	return fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode)
}

// New creates a new PostgreSQL database connection
func New(config *Config) (*DB, error) {
	// Validate required fields
	if config.Host == "" {
		return nil, fmt.Errorf("database host is required")
	}
	if config.Port == "" {
		return nil, fmt.Errorf("database port is required")
	}
	if config.User == "" {
		return nil, fmt.Errorf("database user is required")
	}
	if config.Database == "" {
		return nil, fmt.Errorf("database name is required")
	}

	// Set defaults for optional fields
	if config.SSLMode == "" {
		config.SSLMode = "disable"
	}
	if config.MaxIdleConns == 0 {
		config.MaxIdleConns = 30
	}
	if config.MaxOpenConns == 0 {
		config.MaxOpenConns = 75
	}
	if config.MaxLifetime == 0 {
		config.MaxLifetime = 20 * time.Minute
	}

	client, err := sql.Open("pgx", config.ConnectionString())
	if err != nil {
		return nil, fmt.Errorf("failed to connect to PostgreSQL: %w", err)
	}

	// Configure connection pool
	client.SetMaxOpenConns(config.MaxOpenConns)
	client.SetMaxIdleConns(config.MaxIdleConns)
	client.SetConnMaxLifetime(config.MaxLifetime)

	// Test connection
	if err := client.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping PostgreSQL: %w", err)
	}

	// Initialise schema
	if err := setupSchema(client); err != nil {
		return nil, fmt.Errorf("failed to setup schema: %w", err)
	}

	return &DB{client: client, config: config}, nil
}

// InitFromEnv creates a PostgreSQL connection using environment variables
func InitFromEnv() (*DB, error) {
	// If DATABASE_URL is provided, use it with default config
	if url := os.Getenv("DATABASE_URL"); url != "" {
		config := &Config{
			DatabaseURL:  url,
			MaxIdleConns: 30,
			MaxOpenConns: 75,
			MaxLifetime:  20 * time.Minute,
		}

		client, err := sql.Open("pgx", url)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to PostgreSQL via DATABASE_URL: %w", err)
		}

		// Configure connection pool using the same settings
		client.SetMaxOpenConns(config.MaxOpenConns)
		client.SetMaxIdleConns(config.MaxIdleConns)
		client.SetConnMaxLifetime(config.MaxLifetime)

		// Verify connection
		if err := client.Ping(); err != nil {
			return nil, fmt.Errorf("failed to ping PostgreSQL via DATABASE_URL: %w", err)
		}

		// Initialise schema
		if err := setupSchema(client); err != nil {
			return nil, fmt.Errorf("failed to setup schema: %w", err)
		}

		return &DB{client: client, config: config}, nil
	}

	config := &Config{
		Host:         os.Getenv("POSTGRES_HOST"),
		Port:         os.Getenv("POSTGRES_PORT"),
		User:         os.Getenv("POSTGRES_USER"),
		Password:     os.Getenv("POSTGRES_PASSWORD"),
		Database:     os.Getenv("POSTGRES_DB"),
		SSLMode:      os.Getenv("POSTGRES_SSL_MODE"),
		MaxIdleConns: 30,
		MaxOpenConns: 75,
		MaxLifetime:  20 * time.Minute,
	}

	// Use defaults if not set
	if config.Host == "" {
		config.Host = "localhost"
	}
	if config.Port == "" {
		config.Port = "5432"
	}
	if config.User == "" {
		config.User = "postgres"
	}
	if config.Database == "" {
		config.Database = "harrier"
	}

	return New(config)
}

// setupSchema creates the necessary tables in PostgreSQL.
// Timestamps are TIMESTAMPTZ because staleness comparisons span supervisors
// on different hosts.
func setupSchema(db *sql.DB) error {
	// Create the jobs table
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS crawl_jobs (
			id TEXT PRIMARY KEY,
			payload JSONB NOT NULL,
			priority INTEGER NOT NULL DEFAULT 0,
			status TEXT NOT NULL DEFAULT 'pending',
			worker_id TEXT,
			progress_percentage REAL NOT NULL DEFAULT 0,
			retry_count INTEGER NOT NULL DEFAULT 0,
			max_retries INTEGER NOT NULL DEFAULT 3,
			error_message TEXT,
			source_id TEXT,
			user_id TEXT,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			started_at TIMESTAMPTZ,
			completed_at TIMESTAMPTZ,
			last_heartbeat TIMESTAMPTZ
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create crawl_jobs table: %w", err)
	}

	// Create the checkpoint table (1:1 with crawl_jobs)
	_, err = db.Exec(`
		CREATE TABLE IF NOT EXISTS crawl_states (
			job_id TEXT PRIMARY KEY REFERENCES crawl_jobs(id) ON DELETE CASCADE,
			frontier JSONB NOT NULL DEFAULT '[]',
			visited_urls JSONB NOT NULL DEFAULT '[]',
			total_processed INTEGER NOT NULL DEFAULT 0,
			total_pending INTEGER NOT NULL DEFAULT 0,
			current_depth INTEGER NOT NULL DEFAULT 0,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create crawl_states table: %w", err)
	}

	// Optimised index for claim ordering: priority tier first, FIFO inside it
	_, err = db.Exec(`CREATE INDEX IF NOT EXISTS idx_crawl_jobs_pending_claim
		ON crawl_jobs (priority DESC, created_at ASC) WHERE status = 'pending'`)
	if err != nil {
		return fmt.Errorf("failed to create pending claim index: %w", err)
	}

	// Index for the watchdog's stale-heartbeat scan
	_, err = db.Exec(`CREATE INDEX IF NOT EXISTS idx_crawl_jobs_heartbeat
		ON crawl_jobs (last_heartbeat) WHERE status = 'processing'`)
	if err != nil {
		return fmt.Errorf("failed to create heartbeat index: %w", err)
	}

	return nil
}

// Close closes the database connection
func (db *DB) Close() error {
	return db.client.Close()
}

// GetDB returns the underlying database connection
func (db *DB) GetDB() *sql.DB {
	return db.client
}

// ResetSchema drops and recreates the queue tables. Development use only.
func (db *DB) ResetSchema() error {
	log.Warn().Msg("Resetting PostgreSQL schema")

	// Drop tables in reverse order to respect foreign keys
	tables := []string{"crawl_states", "crawl_jobs"}
	for _, table := range tables {
		log.Debug().Str("table", table).Msg("Dropping table")
		_, err := db.client.Exec(fmt.Sprintf(`DROP TABLE IF EXISTS %s CASCADE`, table))
		if err != nil {
			log.Error().Err(err).Str("table", table).Msg("Failed to drop table")
			return fmt.Errorf("failed to drop table %s: %w", table, err)
		}
	}

	// Recreate schema
	if err := setupSchema(db.client); err != nil {
		log.Error().Err(err).Msg("Failed to recreate schema")
		return fmt.Errorf("failed to recreate schema: %w", err)
	}

	log.Info().Msg("Successfully reset database schema")
	return nil
}

// Serialise converts data to JSON string representation.
// It is named with British English spelling for consistency.
func Serialise(v interface{}) string {
	data, err := json.Marshal(v)
	if err != nil {
		log.Error().Err(err).Msg("Failed to serialise data")
		return "{}"
	}
	return string(data)
}
