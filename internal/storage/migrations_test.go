package storage

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openRawDB(t *testing.T) *sql.DB {
	db, err := openDatabase(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestApplyMigrations(t *testing.T) {
	db := openRawDB(t)
	ctx := context.Background()

	require.NoError(t, ApplyMigrations(ctx, db))

	// Every table the engine relies on exists
	for _, table := range []string{
		"schema_version", "notebooks", "files_metadata", "files_content",
		"activities", "config", "tab_states", "split_previews",
	} {
		var name string
		err := db.QueryRowContext(ctx,
			`SELECT name FROM sqlite_master WHERE type='table' AND name = ?`, table).Scan(&name)
		require.NoError(t, err, table)
	}

	var version string
	require.NoError(t, db.QueryRowContext(ctx,
		`SELECT version FROM schema_version ORDER BY applied_at DESC LIMIT 1`).Scan(&version))
	assert.Equal(t, CurrentSchemaVersion, version)

	// Running again is a no-op
	require.NoError(t, ApplyMigrations(ctx, db))
	var n int
	require.NoError(t, db.QueryRowContext(ctx, `SELECT COUNT(*) FROM schema_version`).Scan(&n))
	assert.Equal(t, 1, n)
}

func TestFileMetadataUniqueKey(t *testing.T) {
	db := openRawDB(t)
	ctx := context.Background()
	require.NoError(t, ApplyMigrations(ctx, db))

	insert := `INSERT INTO files_metadata (id, notebook_id, file_path, file_name, size,
	                                       last_modified, cached_at, last_accessed_at)
	           VALUES (?, ?, ?, ?, ?, ?, ?, ?)`
	now := time.Now()
	_, err := db.ExecContext(ctx, insert, "nb1::a.md", "nb1", "a.md", "a.md", 1, now, now, now)
	require.NoError(t, err)

	// Same notebook and path under a different id violates the unique index
	_, err = db.ExecContext(ctx, insert, "other-id", "nb1", "a.md", "a.md", 1, now, now, now)
	assert.Error(t, err)
}

func TestRollbackMigration(t *testing.T) {
	db := openRawDB(t)
	ctx := context.Background()

	// Nothing applied yet
	assert.Error(t, RollbackMigration(ctx, db))

	require.NoError(t, ApplyMigrations(ctx, db))
	require.NoError(t, RollbackMigration(ctx, db))

	var name string
	err := db.QueryRowContext(ctx,
		`SELECT name FROM sqlite_master WHERE type='table' AND name='notebooks'`).Scan(&name)
	assert.ErrorIs(t, err, sql.ErrNoRows)
}
