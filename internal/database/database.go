package database

import (
	"context"
	"fmt"
	"time"

	"dockqueue-backend/internal/config"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"github.com/rs/zerolog/log"
)

// Connect opens the postgres pool and verifies it with a ping.
func Connect(ctx context.Context, cfg config.StoreConfig) (*sqlx.DB, error) {
	log.Info().Int("url_length", len(cfg.DatabaseURL)).Msg("🔌 Connecting to postgres")

	db, err := sqlx.Open("postgres", cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		log.Error().Err(err).Msg("❌ DATABASE CONNECTION FAILED AT Ping()")
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	log.Info().Msg("✅ DATABASE CONNECTION SUCCESSFUL")
	return db, nil
}

const (
	constraintDriverTaxID  = "drivers_tax_id_key"
	constraintDriverKey    = "drivers_identification_key_key"
	indexActiveQueueEntry  = "idx_queue_entries_active_tax_id"
	uniqueViolationCode    = "23505"
	activeStatusesSQLArray = "('waiting', 'unloading')"
)

// Migrate creates the schema. Every statement is idempotent.
func Migrate(ctx context.Context, db *sqlx.DB) error {
	migrations := []string{
		// Destination waypoints (XPT)
		`CREATE TABLE IF NOT EXISTS waypoints (
			id TEXT PRIMARY KEY,
			city TEXT NOT NULL,
			code TEXT NOT NULL UNIQUE,
			latitude DOUBLE PRECISION NOT NULL,
			longitude DOUBLE PRECISION NOT NULL,
			radius_meters DOUBLE PRECISION NOT NULL DEFAULT 0,
			origin TEXT
		)`,

		// Driver enrollments
		`CREATE TABLE IF NOT EXISTS drivers (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			tax_id TEXT NOT NULL,
			phone TEXT NOT NULL DEFAULT '',
			email TEXT NOT NULL DEFAULT '',
			origin TEXT NOT NULL,
			destination TEXT NOT NULL,
			identification_key TEXT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			CONSTRAINT ` + constraintDriverTaxID + ` UNIQUE (tax_id),
			CONSTRAINT ` + constraintDriverKey + ` UNIQUE (identification_key)
		)`,

		// Queue entries
		`CREATE TABLE IF NOT EXISTS queue_entries (
			id TEXT PRIMARY KEY,
			tax_id TEXT NOT NULL REFERENCES drivers(tax_id),
			driver_name TEXT NOT NULL,
			identification_key TEXT NOT NULL,
			origin TEXT NOT NULL,
			destination TEXT NOT NULL,
			status TEXT NOT NULL CHECK(status IN ('waiting', 'unloading', 'finished')),
			arrived_at TIMESTAMPTZ NOT NULL,
			unload_started_at TIMESTAMPTZ,
			unload_ended_at TIMESTAMPTZ,
			wait_seconds BIGINT NOT NULL DEFAULT 0 CHECK(wait_seconds >= 0),
			unload_seconds BIGINT NOT NULL DEFAULT 0 CHECK(unload_seconds >= 0),
			dock TEXT,
			dock_notified_at TIMESTAMPTZ,
			cage_count INT CHECK(cage_count >= 0),
			pallet_count INT CHECK(pallet_count >= 0),
			sleeve_count INT CHECK(sleeve_count >= 0),
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,

		// At most one active entry per driver
		`CREATE UNIQUE INDEX IF NOT EXISTS ` + indexActiveQueueEntry + `
			ON queue_entries(tax_id) WHERE status IN ` + activeStatusesSQLArray,
		`CREATE INDEX IF NOT EXISTS idx_queue_entries_arrived_at ON queue_entries(arrived_at DESC, id DESC)`,
		`CREATE INDEX IF NOT EXISTS idx_queue_entries_status ON queue_entries(status)`,
		`CREATE INDEX IF NOT EXISTS idx_queue_entries_destination ON queue_entries(destination)`,
		`CREATE INDEX IF NOT EXISTS idx_queue_entries_origin ON queue_entries(origin)`,

		// Push tokens
		`CREATE TABLE IF NOT EXISTS fcm_tokens (
			token TEXT PRIMARY KEY,
			tax_id TEXT NOT NULL REFERENCES drivers(tax_id) ON DELETE CASCADE,
			device_type TEXT NOT NULL CHECK(device_type IN ('ios', 'android')),
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
		`CREATE INDEX IF NOT EXISTS idx_fcm_tokens_tax_id ON fcm_tokens(tax_id)`,
	}

	for _, migration := range migrations {
		if _, err := db.ExecContext(ctx, migration); err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}
	}

	log.Info().Int("statements", len(migrations)).Msg("✓ Database migrations completed")
	return nil
}
