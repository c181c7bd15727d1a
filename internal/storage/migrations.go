package storage

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/Masterminds/semver/v3"
)

const (
	// CurrentSchemaVersion tracks the database schema version
	CurrentSchemaVersion = "1.0.0"
)

// Migration represents a database schema migration. Migrations are additive
// and forward-only in normal operation; Down exists for recovery tooling.
type Migration struct {
	Version string
	Up      string
	Down    string
}

// AllMigrations contains all database migrations in order
var AllMigrations = []Migration{
	{
		Version: "1.0.0",
		Up:      migrationV1Up,
		Down:    migrationV1Down,
	},
}

const migrationV1Up = `
-- Schema version tracking
CREATE TABLE IF NOT EXISTS schema_version (
    version TEXT PRIMARY KEY,
    applied_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
);

-- Notebooks: top-level entities owning files and activity history.
-- file_count/total_size are maintained aggregates, repaired by rescan.
CREATE TABLE IF NOT EXISTS notebooks (
    id TEXT PRIMARY KEY,
    name TEXT NOT NULL,
    description TEXT NOT NULL DEFAULT '',
    created_at TIMESTAMP NOT NULL,
    updated_at TIMESTAMP NOT NULL,
    last_accessed_at TIMESTAMP NOT NULL,
    access_count INTEGER NOT NULL DEFAULT 0,
    file_count INTEGER NOT NULL DEFAULT 0,
    total_size INTEGER NOT NULL DEFAULT 0,
    cache_enabled BOOLEAN NOT NULL DEFAULT 1,
    max_cache_size INTEGER
);

CREATE INDEX IF NOT EXISTS idx_notebooks_last_accessed ON notebooks(last_accessed_at);
CREATE INDEX IF NOT EXISTS idx_notebooks_access_count ON notebooks(access_count);
CREATE INDEX IF NOT EXISTS idx_notebooks_updated ON notebooks(updated_at);

-- File metadata: id is notebook_id + separator + file_path. Rows can
-- outlive their content (soft-referenced large files).
CREATE TABLE IF NOT EXISTS files_metadata (
    id TEXT PRIMARY KEY,
    notebook_id TEXT NOT NULL,
    file_path TEXT NOT NULL,
    file_name TEXT NOT NULL,
    file_type TEXT NOT NULL DEFAULT '',
    size INTEGER NOT NULL DEFAULT 0,
    last_modified TIMESTAMP NOT NULL,
    cached_at TIMESTAMP NOT NULL,
    last_accessed_at TIMESTAMP NOT NULL,
    access_count INTEGER NOT NULL DEFAULT 0,
    storage_type TEXT NOT NULL DEFAULT 'local',
    has_local_content BOOLEAN NOT NULL DEFAULT 0,
    remote_url TEXT,
    content_hash TEXT,
    is_large_file BOOLEAN NOT NULL DEFAULT 0,
    content_preview TEXT,
    UNIQUE(notebook_id, file_path)
);

CREATE INDEX IF NOT EXISTS idx_files_notebook ON files_metadata(notebook_id);
CREATE INDEX IF NOT EXISTS idx_files_last_accessed ON files_metadata(last_accessed_at);
CREATE INDEX IF NOT EXISTS idx_files_storage_type ON files_metadata(storage_type);
CREATE INDEX IF NOT EXISTS idx_files_large ON files_metadata(is_large_file);
CREATE INDEX IF NOT EXISTS idx_files_cached ON files_metadata(cached_at);

-- File content: exists iff owning metadata has has_local_content set
CREATE TABLE IF NOT EXISTS files_content (
    file_id TEXT PRIMARY KEY,
    content TEXT NOT NULL,
    compressed BOOLEAN NOT NULL DEFAULT 0,
    encoding TEXT NOT NULL DEFAULT 'utf8'
);

-- Activities: append-only, pruned by age
CREATE TABLE IF NOT EXISTS activities (
    id TEXT PRIMARY KEY,
    notebook_id TEXT NOT NULL,
    activity_type TEXT NOT NULL,
    file_path TEXT,
    timestamp TIMESTAMP NOT NULL,
    metadata TEXT
);

CREATE INDEX IF NOT EXISTS idx_activities_notebook ON activities(notebook_id);
CREATE INDEX IF NOT EXISTS idx_activities_timestamp ON activities(timestamp);
CREATE INDEX IF NOT EXISTS idx_activities_notebook_ts ON activities(notebook_id, timestamp);
CREATE INDEX IF NOT EXISTS idx_activities_type ON activities(activity_type);

-- Singleton configuration row
CREATE TABLE IF NOT EXISTS config (
    id TEXT PRIMARY KEY CHECK (id = 'storage'),
    max_notebooks INTEGER NOT NULL,
    max_total_size INTEGER NOT NULL,
    max_file_size INTEGER NOT NULL,
    cleanup_interval_ms INTEGER NOT NULL,
    retention_period_ms INTEGER NOT NULL,
    compression_enabled BOOLEAN NOT NULL,
    last_cleanup TIMESTAMP
);

-- Tab state cache: ephemeral UI state, isolated from the file cache
CREATE TABLE IF NOT EXISTS tab_states (
    notebook_id TEXT PRIMARY KEY,
    state TEXT NOT NULL,
    last_updated TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_tab_states_updated ON tab_states(last_updated);

-- Split preview cache: ephemeral render previews, isolated likewise
CREATE TABLE IF NOT EXISTS split_previews (
    notebook_id TEXT NOT NULL,
    path TEXT NOT NULL,
    preview TEXT NOT NULL,
    cached_at TIMESTAMP NOT NULL,
    PRIMARY KEY (notebook_id, path)
);

CREATE INDEX IF NOT EXISTS idx_split_previews_cached ON split_previews(cached_at);
`

const migrationV1Down = `
DROP TABLE IF EXISTS split_previews;
DROP TABLE IF EXISTS tab_states;
DROP TABLE IF EXISTS config;
DROP TABLE IF EXISTS activities;
DROP TABLE IF EXISTS files_content;
DROP TABLE IF EXISTS files_metadata;
DROP TABLE IF EXISTS notebooks;
`

// ApplyMigrations runs all pending migrations
func ApplyMigrations(ctx context.Context, db *sql.DB) error {
	// Check if schema_version table exists
	var tableName string
	err := db.QueryRowContext(ctx, "SELECT name FROM sqlite_master WHERE type='table' AND name='schema_version'").Scan(&tableName)

	// Parse current version (default to 0.0.0 if no migrations applied or table doesn't exist)
	var currentVersion *semver.Version
	if err == sql.ErrNoRows {
		currentVersion = semver.MustParse("0.0.0")
	} else if err != nil {
		return fmt.Errorf("failed to check schema_version table: %w", err)
	} else {
		var currentVersionStr string
		err = db.QueryRowContext(ctx, "SELECT version FROM schema_version ORDER BY applied_at DESC LIMIT 1").Scan(&currentVersionStr)
		if err == sql.ErrNoRows || currentVersionStr == "" {
			currentVersion = semver.MustParse("0.0.0")
		} else if err != nil {
			return fmt.Errorf("failed to read schema_version: %w", err)
		} else {
			currentVersion, err = semver.NewVersion(currentVersionStr)
			if err != nil {
				return fmt.Errorf("invalid current schema version %s: %w", currentVersionStr, err)
			}
		}
	}

	// Run migrations in order
	for _, migration := range AllMigrations {
		migrationVersion, err := semver.NewVersion(migration.Version)
		if err != nil {
			return fmt.Errorf("invalid migration version %s: %w", migration.Version, err)
		}

		if !currentVersion.LessThan(migrationVersion) {
			continue // Already applied
		}

		_, err = db.ExecContext(ctx, migration.Up)
		if err != nil {
			return fmt.Errorf("failed to apply migration %s: %w", migration.Version, err)
		}

		_, err = db.ExecContext(ctx, "INSERT INTO schema_version (version) VALUES (?)", migration.Version)
		if err != nil {
			return fmt.Errorf("failed to record migration %s: %w", migration.Version, err)
		}

		currentVersion = migrationVersion
	}

	return nil
}

// RollbackMigration rolls back the most recent migration
func RollbackMigration(ctx context.Context, db *sql.DB) error {
	var currentVersion string
	err := db.QueryRowContext(ctx, "SELECT version FROM schema_version ORDER BY applied_at DESC LIMIT 1").Scan(&currentVersion)
	if err != nil {
		return fmt.Errorf("no migrations to rollback: %w", err)
	}

	var migration *Migration
	for i := range AllMigrations {
		if AllMigrations[i].Version == currentVersion {
			migration = &AllMigrations[i]
			break
		}
	}

	if migration == nil {
		return fmt.Errorf("migration %s not found", currentVersion)
	}

	_, err = db.ExecContext(ctx, migration.Down)
	if err != nil {
		return fmt.Errorf("failed to rollback migration %s: %w", currentVersion, err)
	}

	_, err = db.ExecContext(ctx, "DELETE FROM schema_version WHERE version = ?", currentVersion)
	if err != nil {
		return fmt.Errorf("failed to remove migration record %s: %w", currentVersion, err)
	}

	return nil
}
