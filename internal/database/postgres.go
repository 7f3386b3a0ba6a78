package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq"
	"go.uber.org/zap"
)

// PostgresConfig holds the backing store connection settings
type PostgresConfig struct {
	DSN             string
	MaxConns        int
	MaxIdle         int
	ConnMaxLifetime time.Duration
}

// NewPostgres opens the server-side backing store
func NewPostgres(ctx context.Context, cfg PostgresConfig, logger *zap.Logger) (*sql.DB, error) {
	db, err := sql.Open("postgres", cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if cfg.MaxConns > 0 {
		db.SetMaxOpenConns(cfg.MaxConns)
	}
	if cfg.MaxIdle > 0 {
		db.SetMaxIdleConns(cfg.MaxIdle)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	logger.Info("Postgres connection established",
		zap.Int("max_conns", cfg.MaxConns),
	)
	return db, nil
}

// MigratePostgres creates the two tables the alert pipeline owns. escort_service is
// owned elsewhere and only read here.
func MigratePostgres(ctx context.Context, db *sql.DB) error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS alarm_event (
			id UUID PRIMARY KEY,
			type VARCHAR(32) NOT NULL,
			service_id VARCHAR(64),
			company VARCHAR(32),
			client_name VARCHAR(180),
			plate VARCHAR(16),
			service_kind VARCHAR(32),
			lat DOUBLE PRECISION,
			lng DOUBLE PRECISION,
			address VARCHAR(180),
			timestamp TIMESTAMPTZ NOT NULL DEFAULT now(),
			metadata JSONB,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE INDEX IF NOT EXISTS idx_alarm_event_service_type ON alarm_event(service_id, type, timestamp DESC)`,
		`CREATE INDEX IF NOT EXISTS idx_alarm_event_company ON alarm_event(company, timestamp DESC)`,
		`CREATE TABLE IF NOT EXISTS push_subscription (
			id BIGSERIAL PRIMARY KEY,
			endpoint TEXT NOT NULL UNIQUE,
			p256dh TEXT NOT NULL,
			auth TEXT NOT NULL,
			role VARCHAR(16) NOT NULL,
			company VARCHAR(32),
			service_id VARCHAR(64),
			user_agent TEXT,
			is_active BOOLEAN NOT NULL DEFAULT TRUE,
			last_seen_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE INDEX IF NOT EXISTS idx_push_subscription_role_company ON push_subscription(role, company)`,
	}

	for _, migration := range migrations {
		if _, err := db.ExecContext(ctx, migration); err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}
	}
	return nil
}
