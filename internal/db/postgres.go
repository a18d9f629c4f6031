package db

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

func ConnectPostgres(ctx context.Context, dsn string) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}

	cfg.MaxConns = 10
	cfg.MinConns = 1
	cfg.HealthCheckPeriod = 30 * time.Second
	cfg.MaxConnLifetime = time.Hour
	cfg.MaxConnIdleTime = 15 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create pgx pool: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	return pool, nil
}

var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS accounts (
		username      TEXT PRIMARY KEY,
		password_hash TEXT NOT NULL,
		role          TEXT NOT NULL CHECK (role IN ('patient', 'caregiver')),
		created_at    TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE TABLE IF NOT EXISTS availabilities (
		avail_date DATE NOT NULL,
		caregiver  TEXT NOT NULL,
		PRIMARY KEY (avail_date, caregiver)
	)`,
	`CREATE TABLE IF NOT EXISTS vaccines (
		name  TEXT PRIMARY KEY,
		doses INTEGER NOT NULL CHECK (doses >= 0)
	)`,
	`CREATE TABLE IF NOT EXISTS appointments (
		id         BIGSERIAL PRIMARY KEY,
		appt_date  DATE NOT NULL,
		caregiver  TEXT NOT NULL,
		vaccine    TEXT NOT NULL,
		patient    TEXT NOT NULL,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE INDEX IF NOT EXISTS idx_appointments_patient ON appointments (patient)`,
	`CREATE INDEX IF NOT EXISTS idx_appointments_caregiver ON appointments (caregiver)`,
}

// EnsureSchema creates the tables the service needs. Statements are
// idempotent so running it on every startup is safe.
func EnsureSchema(ctx context.Context, pool *pgxpool.Pool) error {
	for _, stmt := range schemaStatements {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
	}
	return nil
}
