package migration

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/notekit/nbstore/internal/storage"
)

func setupTestEngine(t *testing.T) (*Engine, *storage.Store, string) {
	dataDir := t.TempDir()
	conn := storage.NewConn(":memory:", nil)
	store := storage.NewStore(conn, nil, nil)
	t.Cleanup(func() { _ = store.Close() })
	return New(store, dataDir, nil), store, dataDir
}

// writeLegacyStore creates a prior-generation store file with three files
// across two notebooks, using the camelCase column names those releases had.
func writeLegacyStore(t *testing.T, dataDir, name string) {
	t.Helper()
	db, err := sql.Open(storage.DriverName, filepath.Join(dataDir, name))
	require.NoError(t, err)
	defer db.Close()

	_, err = db.Exec(`
		CREATE TABLE file_cache (
			notebookId TEXT,
			filePath TEXT,
			content TEXT,
			size INTEGER,
			lastAccessedAt TIMESTAMP,
			accessCount INTEGER
		)
	`)
	require.NoError(t, err)

	accessed := time.Now().Add(-24 * time.Hour)
	rows := []struct {
		nb, path, content string
		count             int64
	}{
		{"alpha-notebook-1234", "notes/a.md", "first file", 3},
		{"alpha-notebook-1234", "notes/b.md", "second file", 1},
		{"beta-notebook-5678", "readme.md", "third file", 9},
	}
	for _, r := range rows {
		_, err = db.Exec(
			`INSERT INTO file_cache (notebookId, filePath, content, size, lastAccessedAt, accessCount) VALUES (?, ?, ?, ?, ?, ?)`,
			r.nb, r.path, r.content, len(r.content), accessed, r.count)
		require.NoError(t, err)
	}
}

func TestIsNeeded(t *testing.T) {
	engine, store, dataDir := setupTestEngine(t)
	ctx := context.Background()

	// No legacy stores at all
	needed, err := engine.IsNeeded(ctx)
	require.NoError(t, err)
	assert.False(t, needed)

	writeLegacyStore(t, dataDir, "notebook_file_cache.db")
	needed, err = engine.IsNeeded(ctx)
	require.NoError(t, err)
	assert.True(t, needed)

	// A populated current store disables migration regardless of legacy data
	require.NoError(t, store.Notebooks().Upsert(ctx, &storage.Notebook{ID: "nb1", Name: "N"}))
	needed, err = engine.IsNeeded(ctx)
	require.NoError(t, err)
	assert.False(t, needed)
}

func TestMigrateImportsLegacyStore(t *testing.T) {
	engine, store, dataDir := setupTestEngine(t)
	ctx := context.Background()

	writeLegacyStore(t, dataDir, "notebook_file_cache.db")

	report, err := engine.Migrate(ctx)
	require.NoError(t, err)
	assert.NotEmpty(t, report.RunID)
	assert.Equal(t, 1, report.StoresScanned)
	assert.Equal(t, 2, report.NotebooksImported)
	assert.Equal(t, 3, report.FilesImported)
	assert.Empty(t, report.Errors)
	assert.False(t, report.Failed())

	// Two synthesized notebooks, named from the id prefix
	nb, err := store.Notebooks().Get(ctx, "alpha-notebook-1234")
	require.NoError(t, err)
	require.NotNil(t, nb)
	assert.Equal(t, "Notebook alpha-no", nb.Name)

	stats, err := store.Notebooks().Stats(ctx, "alpha-notebook-1234")
	require.NoError(t, err)
	assert.Equal(t, int64(2), stats.FileCount)

	stats, err = store.Notebooks().Stats(ctx, "beta-notebook-5678")
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats.FileCount)

	// Content survived the import
	res, err := store.Files().Get(ctx, "beta-notebook-5678", "readme.md")
	require.NoError(t, err)
	require.NotNil(t, res)
	require.NotNil(t, res.Content)
	assert.Equal(t, "third file", *res.Content)
}

func TestMigrateRestoresLegacyAccessTime(t *testing.T) {
	engine, store, dataDir := setupTestEngine(t)
	ctx := context.Background()

	db, err := sql.Open(storage.DriverName, filepath.Join(dataDir, "notebook_file_cache.db"))
	require.NoError(t, err)
	_, err = db.Exec(`
		CREATE TABLE file_cache (
			notebookId TEXT,
			filePath TEXT,
			content TEXT,
			size INTEGER,
			lastAccessedAt TIMESTAMP,
			accessCount INTEGER
		)
	`)
	require.NoError(t, err)
	stale := time.Now().Add(-30 * 24 * time.Hour)
	_, err = db.Exec(
		`INSERT INTO file_cache (notebookId, filePath, content, size, lastAccessedAt, accessCount) VALUES (?, ?, ?, ?, ?, ?)`,
		"cold-notebook-0001", "notes/a.md", "old content", 11, stale, 2)
	require.NoError(t, err)
	require.NoError(t, db.Close())

	_, err = engine.Migrate(ctx)
	require.NoError(t, err)

	// The recovered access time must survive import, so a notebook stale in
	// the legacy store is retention-eligible in the very first cleanup pass.
	inactive, err := store.Notebooks().Inactive(ctx, 7*24*time.Hour)
	require.NoError(t, err)
	require.Len(t, inactive, 1)
	assert.Equal(t, "cold-notebook-0001", inactive[0].ID)
	assert.WithinDuration(t, stale, inactive[0].LastAccessedAt, time.Second)
}

func TestMigrateCarriesSizeWithoutContent(t *testing.T) {
	engine, store, dataDir := setupTestEngine(t)
	ctx := context.Background()

	// A legacy generation that kept only metadata: size column, no payload
	db, err := sql.Open(storage.DriverName, filepath.Join(dataDir, "file_cache_v2.db"))
	require.NoError(t, err)
	_, err = db.Exec(`
		CREATE TABLE file_cache (
			notebookId TEXT,
			filePath TEXT,
			size INTEGER,
			lastAccessedAt TIMESTAMP,
			accessCount INTEGER
		)
	`)
	require.NoError(t, err)
	accessed := time.Now().Add(-time.Hour)
	for _, r := range []struct {
		path string
		size int64
	}{
		{"media/clip.mp4", 1000},
		{"media/scan.pdf", 2500},
	} {
		_, err = db.Exec(
			`INSERT INTO file_cache (notebookId, filePath, size, lastAccessedAt, accessCount) VALUES (?, ?, ?, ?, ?)`,
			"gamma-notebook-9", r.path, r.size, accessed, 1)
		require.NoError(t, err)
	}
	require.NoError(t, db.Close())

	report, err := engine.Migrate(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, report.FilesImported)
	assert.Empty(t, report.Errors)

	// Stats rescans files_metadata, so the legacy sizes must be there
	stats, err := store.Notebooks().Stats(ctx, "gamma-notebook-9")
	require.NoError(t, err)
	require.NotNil(t, stats)
	assert.Equal(t, int64(3500), stats.TotalSize)

	// The payloadless rows came through as soft references
	res, err := store.Files().Get(ctx, "gamma-notebook-9", "media/clip.mp4")
	require.NoError(t, err)
	require.NotNil(t, res)
	assert.True(t, res.NeedsRemoteFetch)
	assert.Equal(t, int64(1000), res.Metadata.Size)
}

func TestMigrateSkipsBadRows(t *testing.T) {
	engine, store, dataDir := setupTestEngine(t)
	ctx := context.Background()

	path := filepath.Join(dataDir, "file_cache_v2.db")
	db, err := sql.Open(storage.DriverName, path)
	require.NoError(t, err)
	_, err = db.Exec(`CREATE TABLE cached_files (notebook_id TEXT, file_path TEXT, content TEXT)`)
	require.NoError(t, err)
	_, err = db.Exec(`INSERT INTO cached_files VALUES ('nb1', 'good.md', 'fine')`)
	require.NoError(t, err)
	_, err = db.Exec(`INSERT INTO cached_files VALUES ('nb1', NULL, 'orphan')`)
	require.NoError(t, err)
	require.NoError(t, db.Close())

	report, err := engine.Migrate(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.FilesImported)
	require.Len(t, report.Errors, 1)
	assert.Contains(t, report.Errors[0], "missing notebook id or path")

	res, err := store.Files().Get(ctx, "nb1", "good.md")
	require.NoError(t, err)
	require.NotNil(t, res)
}

func TestMigrateIgnoresUnreadableStore(t *testing.T) {
	engine, store, dataDir := setupTestEngine(t)
	ctx := context.Background()

	// A legacy store with no recognizable table contributes nothing
	path := filepath.Join(dataDir, "ai_notebook_cache.db")
	db, err := sql.Open(storage.DriverName, path)
	require.NoError(t, err)
	_, err = db.Exec(`CREATE TABLE settings (k TEXT, v TEXT)`)
	require.NoError(t, err)
	_, err = db.Exec(`INSERT INTO settings VALUES ('theme', 'dark')`)
	require.NoError(t, err)
	require.NoError(t, db.Close())

	report, err := engine.Migrate(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.StoresScanned)
	assert.Zero(t, report.NotebooksImported)
	assert.Empty(t, report.Errors)

	count, err := store.Notebooks().Count(ctx)
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestForceMigrationClearsCurrentData(t *testing.T) {
	engine, store, dataDir := setupTestEngine(t)
	ctx := context.Background()

	writeLegacyStore(t, dataDir, "notebook_file_cache.db")

	// Pre-existing current data is wiped before the re-import
	require.NoError(t, store.Notebooks().Upsert(ctx, &storage.Notebook{ID: "stale", Name: "Stale"}))

	report, err := engine.ForceMigration(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, report.NotebooksImported)

	gone, err := store.Notebooks().Get(ctx, "stale")
	require.NoError(t, err)
	assert.Nil(t, gone)

	count, err := store.Notebooks().Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, count)
}

func TestSynthesizeNotebook(t *testing.T) {
	old := time.Now().Add(-48 * time.Hour)
	newer := time.Now().Add(-time.Hour)
	nb := synthesizeNotebook("0123456789abcdef", []legacyFile{
		{NotebookID: "0123456789abcdef", FilePath: "a", LastAccessed: old, AccessCount: 2},
		{NotebookID: "0123456789abcdef", FilePath: "b", LastAccessed: newer, AccessCount: 7},
	})

	assert.Equal(t, "0123456789abcdef", nb.ID)
	assert.Equal(t, "Notebook 01234567", nb.Name)
	assert.Equal(t, newer, nb.LastAccessedAt)
	assert.Equal(t, int64(7), nb.AccessCount)
	assert.True(t, nb.CacheEnabled)
}
