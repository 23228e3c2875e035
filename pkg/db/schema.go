package db

import (
	"context"
	"database/sql"
	"fmt"
)

const currentSchemaVersion = 1

// Schema SQL for version 1
const schemaV1 = `
-- Schema version tracking
CREATE TABLE IF NOT EXISTS schema_version (
    version     INTEGER PRIMARY KEY,
    applied_at  TEXT NOT NULL DEFAULT (datetime('now'))
);

-- Profiles hold the runtime configuration of one gateway installation
CREATE TABLE IF NOT EXISTS profiles (
    id                 INTEGER PRIMARY KEY AUTOINCREMENT,
    name               TEXT NOT NULL UNIQUE,
    timezone           TEXT NOT NULL DEFAULT 'UTC',
    gateway_id         TEXT NOT NULL,
    memory_tier        TEXT NOT NULL DEFAULT 'medium',
    state_debounce_ms  INTEGER NOT NULL DEFAULT 100,
    api_host           TEXT NOT NULL DEFAULT '0.0.0.0',
    api_port           INTEGER NOT NULL DEFAULT 8080,
    is_active          INTEGER NOT NULL DEFAULT 0,
    created_at         TEXT NOT NULL DEFAULT (datetime('now')),
    updated_at         TEXT NOT NULL DEFAULT (datetime('now'))
);

-- Device command records; times are unix nanoseconds
CREATE TABLE IF NOT EXISTS device_commands (
    id                 TEXT PRIMARY KEY,
    device_id          TEXT NOT NULL,
    command_id         TEXT NOT NULL,
    gateway_id         TEXT NOT NULL DEFAULT '',
    status             TEXT NOT NULL,
    inputs             TEXT NOT NULL DEFAULT '{}',
    requested_by_id    TEXT NOT NULL DEFAULT '',
    requested_by_type  TEXT NOT NULL DEFAULT '',
    request_context    TEXT NOT NULL DEFAULT '',
    idempotence_key    TEXT NOT NULL DEFAULT '',
    history            TEXT NOT NULL DEFAULT '[]',
    created_at         INTEGER NOT NULL,
    not_before_at      INTEGER,
    not_after_at       INTEGER,
    sent_at            INTEGER,
    received_at        INTEGER,
    pending_at         INTEGER,
    finished_at        INTEGER
);

-- Device state history
CREATE TABLE IF NOT EXISTS device_states (
    id                   INTEGER PRIMARY KEY AUTOINCREMENT,
    device_id            TEXT NOT NULL,
    machine_state        REAL NOT NULL,
    machine_state_extra  TEXT NOT NULL DEFAULT '{}',
    human_state          TEXT NOT NULL DEFAULT '',
    human_message        TEXT NOT NULL DEFAULT '',
    energy_usage         REAL NOT NULL DEFAULT 0,
    energy_type          TEXT NOT NULL DEFAULT 'none',
    command_id           TEXT NOT NULL DEFAULT '',
    device_command_id    TEXT NOT NULL DEFAULT '',
    gateway_id           TEXT NOT NULL DEFAULT '',
    requested_by_id      TEXT NOT NULL DEFAULT '',
    requested_by_type    TEXT NOT NULL DEFAULT '',
    request_context      TEXT NOT NULL DEFAULT '',
    reporting_source     TEXT NOT NULL DEFAULT '',
    uploaded             INTEGER NOT NULL DEFAULT 0,
    uploadable           INTEGER NOT NULL DEFAULT 1,
    created_at           INTEGER NOT NULL
);

-- Create indexes for common queries
CREATE INDEX IF NOT EXISTS idx_profiles_active ON profiles(is_active);
CREATE INDEX IF NOT EXISTS idx_device_commands_device ON device_commands(device_id, created_at);
CREATE INDEX IF NOT EXISTS idx_device_states_device ON device_states(device_id, created_at);
`

// Migrate runs database migrations to bring the schema up to date.
func (db *DB) Migrate(ctx context.Context) error {
	version, err := db.getSchemaVersion(ctx)
	if err != nil {
		return fmt.Errorf("failed to get schema version: %w", err)
	}

	if version >= currentSchemaVersion {
		return nil // Already up to date
	}

	if version < 1 {
		if err := db.applySchemaV1(ctx); err != nil {
			return fmt.Errorf("failed to apply schema v1: %w", err)
		}
	}

	return nil
}

// getSchemaVersion returns the current schema version, or 0 if no schema exists.
func (db *DB) getSchemaVersion(ctx context.Context) (int, error) {
	// Check if schema_version table exists
	var count int
	err := db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM sqlite_master
		WHERE type='table' AND name='schema_version'
	`).Scan(&count)
	if err != nil {
		return 0, err
	}

	if count == 0 {
		return 0, nil
	}

	var version int
	err = db.QueryRowContext(ctx, `SELECT COALESCE(MAX(version), 0) FROM schema_version`).Scan(&version)
	if err != nil {
		return 0, err
	}

	return version, nil
}

// applySchemaV1 applies the initial schema.
func (db *DB) applySchemaV1(ctx context.Context) error {
	return db.Tx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, schemaV1); err != nil {
			return fmt.Errorf("failed to execute schema: %w", err)
		}

		if _, err := tx.ExecContext(ctx, `INSERT INTO schema_version (version) VALUES (1)`); err != nil {
			return fmt.Errorf("failed to record schema version: %w", err)
		}

		return nil
	})
}

// SchemaVersion returns the current schema version.
func (db *DB) SchemaVersion(ctx context.Context) (int, error) {
	return db.getSchemaVersion(ctx)
}
