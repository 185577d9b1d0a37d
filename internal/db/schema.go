package db

import (
	"context"
	"database/sql"
	"fmt"
)

// schema holds the tables the resolver reads and writes. Statements are
// idempotent so CreateSchema can run on every start.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS malls (
		mall_id       TEXT PRIMARY KEY,
		name          TEXT NOT NULL DEFAULT '',
		original_name TEXT NOT NULL DEFAULT '',
		province_code TEXT NOT NULL DEFAULT '',
		city_code     TEXT NOT NULL DEFAULT '',
		district_code TEXT NOT NULL DEFAULT '',
		lat           DOUBLE PRECISION,
		lng           DOUBLE PRECISION,
		store_count   INTEGER NOT NULL DEFAULT 0
	)`,
	`CREATE INDEX IF NOT EXISTS malls_city_idx ON malls (city_code)`,
	`CREATE TABLE IF NOT EXISTS stores (
		store_id      TEXT PRIMARY KEY,
		brand         TEXT NOT NULL DEFAULT '',
		name          TEXT NOT NULL DEFAULT '',
		address       TEXT NOT NULL DEFAULT '',
		category      TEXT NOT NULL DEFAULT '',
		province_code TEXT NOT NULL DEFAULT '',
		city_code     TEXT NOT NULL DEFAULT '',
		district_code TEXT NOT NULL DEFAULT '',
		lat           DOUBLE PRECISION,
		lng           DOUBLE PRECISION,
		mall_id       TEXT REFERENCES malls (mall_id),
		distance_km   DOUBLE PRECISION,
		inactive      BOOLEAN NOT NULL DEFAULT FALSE
	)`,
	`CREATE INDEX IF NOT EXISTS stores_mall_idx ON stores (mall_id)`,
	`CREATE TABLE IF NOT EXISTS review_queue (
		run_id              TEXT NOT NULL,
		store_id            TEXT NOT NULL,
		rank                INTEGER NOT NULL,
		candidate_mall_id   TEXT,
		candidate_mall_name TEXT,
		distance_km         DOUBLE PRECISION,
		name_similarity     DOUBLE PRECISION,
		confidence_tier     TEXT NOT NULL,
		reason              TEXT NOT NULL,
		created_at          TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		PRIMARY KEY (run_id, store_id, rank)
	)`,
	`CREATE TABLE IF NOT EXISTS resolution_runs (
		run_id     TEXT PRIMARY KEY,
		started_at TIMESTAMPTZ NOT NULL,
		duration_ms BIGINT NOT NULL,
		total      INTEGER NOT NULL,
		auto_high  INTEGER NOT NULL,
		queued_medium INTEGER NOT NULL,
		queued_low INTEGER NOT NULL,
		errors     INTEGER NOT NULL,
		report     JSONB NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS decision_audit (
		audit_id    BIGSERIAL PRIMARY KEY,
		run_id      TEXT NOT NULL,
		store_id    TEXT NOT NULL,
		verdict     TEXT NOT NULL,
		mall_id     TEXT,
		search_name TEXT,
		confidence  TEXT NOT NULL,
		reason      TEXT,
		source      TEXT,
		queue_tier  TEXT,
		queue_reason TEXT,
		decided_at  TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE TABLE IF NOT EXISTS decision_candidates (
		audit_id        BIGINT NOT NULL REFERENCES decision_audit (audit_id),
		rank            INTEGER NOT NULL,
		mall_id         TEXT NOT NULL,
		distance_km     DOUBLE PRECISION NOT NULL,
		name_similarity DOUBLE PRECISION NOT NULL,
		score           DOUBLE PRECISION NOT NULL,
		tier            TEXT NOT NULL,
		PRIMARY KEY (audit_id, rank)
	)`,
}

// CreateSchema creates any missing tables and indexes in one transaction
func CreateSchema(ctx context.Context, db *sql.DB) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	for _, stmt := range schema {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to create schema: %w", err)
		}
	}
	return tx.Commit()
}
