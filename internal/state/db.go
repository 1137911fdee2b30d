// ./internal/state/db.go
package state

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq" // PostgreSQL driver
	"github.com/rs/zerolog/log"
)

// DB is a global database connection pool.
var DB *sql.DB

// DBConfig holds database connection parameters.
type DBConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	DBName   string
	SSLMode  string // "disable", "require", "verify-full", etc.
}

// InitDB initializes the database connection pool.
func InitDB(cfg DBConfig) error {
	psqlInfo := fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		cfg.Host, cfg.Port, cfg.User, cfg.Password, cfg.DBName, cfg.SSLMode)

	var err error
	DB, err = sql.Open("postgres", psqlInfo)
	if err != nil {
		return fmt.Errorf("failed to open database connection: %w", err)
	}

	DB.SetMaxOpenConns(25)
	DB.SetMaxIdleConns(25)
	DB.SetConnMaxLifetime(5 * time.Minute)

	err = DB.Ping()
	if err != nil {
		DB.Close()
		return fmt.Errorf("failed to ping database: %w", err)
	}

	log.Info().Msg("Successfully connected to the PostgreSQL database!")
	return nil
}

// CloseDB closes the database connection pool.
func CloseDB() {
	if DB != nil {
		log.Info().Msg("Closing database connection...")
		if err := DB.Close(); err != nil {
			log.Error().Err(err).Msg("Error closing database connection")
		}
	}
}

// EnsureSchema applies the necessary DDL to create tables if they don't exist.
func EnsureSchema() error {
	if DB == nil {
		return fmt.Errorf("database not initialized")
	}

	schemaSQL := `
		CREATE TABLE IF NOT EXISTS destinations (
			address VARCHAR(42) PRIMARY KEY,
			asset VARCHAR(42) NOT NULL,
			enabled BOOLEAN NOT NULL DEFAULT TRUE,
			registered_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP
		);

		CREATE TABLE IF NOT EXISTS accounts (
			owner VARCHAR(42) PRIMARY KEY,
			installed_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP
		);

		-- Append-only valuation history. Timestamps are Unix seconds; the
		-- uniqueness constraint backs the strictly-increasing invariant.
		CREATE TABLE IF NOT EXISTS snapshots (
			snapshot_id BIGSERIAL PRIMARY KEY,
			destination VARCHAR(42) NOT NULL REFERENCES destinations(address),
			valuation NUMERIC(78, 0) NOT NULL,
			recorded_at BIGINT NOT NULL,
			CONSTRAINT uq_snapshots_destination_ts UNIQUE (destination, recorded_at)
		);
		CREATE INDEX IF NOT EXISTS idx_snapshots_destination_ts ON snapshots(destination, recorded_at DESC);

		CREATE TABLE IF NOT EXISTS policies (
			owner VARCHAR(42) NOT NULL,
			asset VARCHAR(42) NOT NULL,
			approved_destinations TEXT[] NOT NULL,
			min_improvement NUMERIC(78, 0) NOT NULL,
			snapshots_required INTEGER NOT NULL,
			max_time_between_snapshots BIGINT NOT NULL,
			max_investment NUMERIC(78, 0) NOT NULL,
			apr_method VARCHAR(16) NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP,
			PRIMARY KEY (owner, asset)
		);

		CREATE TABLE IF NOT EXISTS move_receipts (
			receipt_id BIGSERIAL PRIMARY KEY,
			move_id VARCHAR(36) NOT NULL,
			owner VARCHAR(42) NOT NULL,
			from_destination VARCHAR(42) NOT NULL,
			to_destination VARCHAR(42) NOT NULL,
			asset VARCHAR(42) NOT NULL,
			amount NUMERIC(78, 0) NOT NULL,
			from_apr NUMERIC(78, 0) NOT NULL,
			to_apr NUMERIC(78, 0) NOT NULL,
			tx_hash VARCHAR(66) NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP
		);
		CREATE INDEX IF NOT EXISTS idx_move_receipts_owner ON move_receipts(owner, created_at DESC);
		CREATE INDEX IF NOT EXISTS idx_move_receipts_created ON move_receipts(created_at DESC);

		CREATE TABLE IF NOT EXISTS events (
			event_id BIGSERIAL PRIMARY KEY,
			kind VARCHAR(50) NOT NULL,
			subject VARCHAR(100) NOT NULL,
			payload JSONB,
			created_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP
		);
		CREATE INDEX IF NOT EXISTS idx_events_kind ON events(kind, created_at DESC);

		CREATE TABLE IF NOT EXISTS payment_schedules (
			schedule_id BIGSERIAL PRIMARY KEY,
			owner VARCHAR(42) NOT NULL,
			beneficiary VARCHAR(42) NOT NULL,
			asset VARCHAR(42) NOT NULL,
			max_amount NUMERIC(78, 0) NOT NULL,
			interval_seconds BIGINT NOT NULL,
			last_executed BIGINT NOT NULL DEFAULT 0,
			created_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP
		);
		CREATE INDEX IF NOT EXISTS idx_payment_schedules_owner ON payment_schedules(owner);
	`
	_, err := DB.Exec(schemaSQL)
	if err != nil {
		return fmt.Errorf("failed to execute schema DDL: %w", err)
	}
	log.Info().Msg("Database schema ensured.")
	return nil
}

// TestDBConnection tests if the database connection is healthy
func TestDBConnection() error {
	if DB == nil {
		return fmt.Errorf("database connection is nil")
	}

	// Use a short timeout context for health checks
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err := DB.PingContext(ctx)
	if err != nil {
		return fmt.Errorf("database ping failed: %w", err)
	}

	return nil
}
