package storage

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/notekit/nbstore/pkg/types"
)

func TestUpsertNotebook(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	nb := &Notebook{ID: "nb1", Name: "Research", Description: "notes", CacheEnabled: true}
	require.NoError(t, store.Notebooks().Upsert(ctx, nb))
	assert.False(t, nb.CreatedAt.IsZero())

	got, err := store.Notebooks().Get(ctx, "nb1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "Research", got.Name)
	assert.Equal(t, "notes", got.Description)
	assert.True(t, got.CacheEnabled)
}

func TestUpsertPreservesCreatedAtAndAggregates(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	nb := &Notebook{ID: "nb1", Name: "First"}
	require.NoError(t, store.Notebooks().Upsert(ctx, nb))

	first, err := store.Notebooks().Get(ctx, "nb1")
	require.NoError(t, err)
	require.NotNil(t, first)

	// Simulate accumulated aggregates, then upsert again
	require.NoError(t, store.Notebooks().AdjustStats(ctx, "nb1", 3, 1000))
	time.Sleep(10 * time.Millisecond)
	require.NoError(t, store.Notebooks().Upsert(ctx, &Notebook{ID: "nb1", Name: "Renamed"}))

	second, err := store.Notebooks().Get(ctx, "nb1")
	require.NoError(t, err)
	require.NotNil(t, second)
	assert.Equal(t, "Renamed", second.Name)
	assert.WithinDuration(t, first.CreatedAt, second.CreatedAt, time.Second)
	assert.Equal(t, int64(3), second.FileCount)
	assert.Equal(t, int64(1000), second.TotalSize)
	assert.True(t, second.UpdatedAt.After(first.UpdatedAt) || second.UpdatedAt.Equal(first.UpdatedAt))
}

func TestUpsertHonorsProvidedAccessTime(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	past := time.Now().Add(-72 * time.Hour)
	nb := &Notebook{ID: "nb1", Name: "Imported", CacheEnabled: true, LastAccessedAt: past}
	require.NoError(t, store.Notebooks().Upsert(ctx, nb))
	assert.WithinDuration(t, past, nb.LastAccessedAt, time.Second)

	got, err := store.Notebooks().Get(ctx, "nb1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.WithinDuration(t, past, got.LastAccessedAt, time.Second)

	// Without a caller-provided time the upsert stamps the row fresh
	fresh := &Notebook{ID: "nb2", Name: "New", CacheEnabled: true}
	require.NoError(t, store.Notebooks().Upsert(ctx, fresh))
	assert.WithinDuration(t, time.Now(), fresh.LastAccessedAt, time.Second)
}

func TestUpsertValidation(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	err := store.Notebooks().Upsert(ctx, &Notebook{Name: "no id"})
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "notebook.id", verr.Field)

	err = store.Notebooks().Upsert(ctx, &Notebook{ID: "nb1"})
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "notebook.name", verr.Field)
}

func TestGetNotebookAbsentReturnsNil(t *testing.T) {
	store := setupTestStore(t)

	got, err := store.Notebooks().Get(context.Background(), "missing")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestGetBumpsAccessLazily(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.Notebooks().Upsert(ctx, &Notebook{ID: "nb1", Name: "N"}))

	// The first read returns the stats as written; the bump runs behind it
	got, err := store.Notebooks().Get(ctx, "nb1")
	require.NoError(t, err)
	assert.Equal(t, int64(0), got.AccessCount)

	store.Flush()

	got, err = store.Notebooks().Get(ctx, "nb1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), got.AccessCount)
}

func TestUpsertLogsOpenActivity(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.Notebooks().Upsert(ctx, &Notebook{ID: "nb1", Name: "N"}))
	store.Flush()

	stats, err := store.Notebooks().Stats(ctx, "nb1")
	require.NoError(t, err)
	require.NotNil(t, stats)
	require.Len(t, stats.RecentActivities, 1)
	assert.Equal(t, types.ActivityOpen, stats.RecentActivities[0].Type)
}

func TestListNotebooksOrdering(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	for _, id := range []string{"a", "b", "c"} {
		require.NoError(t, store.Notebooks().Upsert(ctx, &Notebook{ID: id, Name: id}))
	}

	db, err := store.Conn().DB(ctx)
	require.NoError(t, err)
	now := time.Now()
	for i, id := range []string{"a", "b", "c"} {
		_, err = db.ExecContext(ctx,
			`UPDATE notebooks SET access_count = ?, last_accessed_at = ? WHERE id = ?`,
			(i+1)*10, now.Add(-time.Duration(i)*time.Hour), id)
		require.NoError(t, err)
	}

	byAccess, err := store.Notebooks().List(ctx, OrderByAccessCount, 0, 0)
	require.NoError(t, err)
	require.Len(t, byAccess, 3)
	assert.Equal(t, "c", byAccess[0].ID)
	assert.Equal(t, "a", byAccess[2].ID)

	byRecency, err := store.Notebooks().List(ctx, OrderByLastAccessed, 0, 0)
	require.NoError(t, err)
	assert.Equal(t, "a", byRecency[0].ID)

	limited, err := store.Notebooks().List(ctx, OrderByLastAccessed, 2, 1)
	require.NoError(t, err)
	require.Len(t, limited, 2)
	assert.Equal(t, "b", limited[0].ID)
}

func TestDeleteNotebookCascades(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.Notebooks().Upsert(ctx, &Notebook{ID: "nb1", Name: "N"}))
	_, err := store.Files().Save(ctx, SaveFileInput{
		NotebookID: "nb1", FilePath: "a.md", Content: "alpha",
	}, types.SaveOptions{})
	require.NoError(t, err)
	_, err = store.Files().Save(ctx, SaveFileInput{
		NotebookID: "nb1", FilePath: "b.md", Content: "beta",
	}, types.SaveOptions{})
	require.NoError(t, err)
	store.Flush()

	require.NoError(t, store.Notebooks().Delete(ctx, "nb1"))

	got, err := store.Notebooks().Get(ctx, "nb1")
	require.NoError(t, err)
	assert.Nil(t, got)

	db, err := store.Conn().DB(ctx)
	require.NoError(t, err)
	for _, q := range []string{
		`SELECT COUNT(*) FROM files_metadata WHERE notebook_id = 'nb1'`,
		`SELECT COUNT(*) FROM files_content WHERE file_id LIKE 'nb1::%'`,
		`SELECT COUNT(*) FROM activities WHERE notebook_id = 'nb1'`,
	} {
		var n int
		require.NoError(t, db.QueryRowContext(ctx, q).Scan(&n))
		assert.Zero(t, n, q)
	}

	// Deleting again is a no-op, not an error
	require.NoError(t, store.Notebooks().Delete(ctx, "nb1"))
}

func TestNotebookStatsRescansFiles(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.Notebooks().Upsert(ctx, &Notebook{ID: "nb1", Name: "N"}))
	_, err := store.Files().Save(ctx, SaveFileInput{
		NotebookID: "nb1", FilePath: "a.md", Content: "12345",
	}, types.SaveOptions{})
	require.NoError(t, err)

	// Poison the cached aggregate; the rescan must not echo it
	require.NoError(t, store.Notebooks().AdjustStats(ctx, "nb1", 10, 9999))

	stats, err := store.Notebooks().Stats(ctx, "nb1")
	require.NoError(t, err)
	require.NotNil(t, stats)
	assert.Equal(t, int64(1), stats.FileCount)
	assert.Equal(t, int64(5), stats.TotalSize)
}

func TestNotebookStatsAbsentReturnsNil(t *testing.T) {
	store := setupTestStore(t)

	stats, err := store.Notebooks().Stats(context.Background(), "missing")
	require.NoError(t, err)
	assert.Nil(t, stats)
}

func TestAdjustStatsClampsAtZero(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.Notebooks().Upsert(ctx, &Notebook{ID: "nb1", Name: "N"}))
	require.NoError(t, store.Notebooks().AdjustStats(ctx, "nb1", -5, -100))

	got, err := store.Notebooks().Get(ctx, "nb1")
	require.NoError(t, err)
	assert.Equal(t, int64(0), got.FileCount)
	assert.Equal(t, int64(0), got.TotalSize)
}

func TestRecalcStatsRepairsDrift(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	_, err := store.Files().Save(ctx, SaveFileInput{
		NotebookID: "nb1", FilePath: "a.md", Content: "12345678",
	}, types.SaveOptions{})
	require.NoError(t, err)

	// Inject drift, then repair
	require.NoError(t, store.Notebooks().AdjustStats(ctx, "nb1", 7, 4242))
	require.NoError(t, store.Notebooks().RecalcStats(ctx, "nb1"))

	got, err := store.Notebooks().Get(ctx, "nb1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), got.FileCount)
	assert.Equal(t, int64(8), got.TotalSize)
}

func TestInactiveAndOldestByAccess(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	for _, id := range []string{"old", "older", "fresh"} {
		require.NoError(t, store.Notebooks().Upsert(ctx, &Notebook{ID: id, Name: id}))
	}

	db, err := store.Conn().DB(ctx)
	require.NoError(t, err)
	now := time.Now()
	_, err = db.ExecContext(ctx, `UPDATE notebooks SET last_accessed_at = ? WHERE id = 'old'`, now.Add(-8*24*time.Hour))
	require.NoError(t, err)
	_, err = db.ExecContext(ctx, `UPDATE notebooks SET last_accessed_at = ? WHERE id = 'older'`, now.Add(-30*24*time.Hour))
	require.NoError(t, err)

	inactive, err := store.Notebooks().Inactive(ctx, 7*24*time.Hour)
	require.NoError(t, err)
	require.Len(t, inactive, 2)
	assert.Equal(t, "older", inactive[0].ID)
	assert.Equal(t, "old", inactive[1].ID)

	oldest, err := store.Notebooks().OldestByAccess(ctx, 2)
	require.NoError(t, err)
	require.Len(t, oldest, 2)
	assert.Equal(t, "older", oldest[0].ID)
	assert.Equal(t, "old", oldest[1].ID)
}

func TestPruneActivities(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.Notebooks().Upsert(ctx, &Notebook{ID: "nb1", Name: "N"}))
	store.Flush()

	db, err := store.Conn().DB(ctx)
	require.NoError(t, err)

	// Age the open activity past the retention window
	_, err = db.ExecContext(ctx, `UPDATE activities SET timestamp = ?`, time.Now().Add(-10*24*time.Hour))
	require.NoError(t, err)

	removed, err := store.Notebooks().PruneActivities(ctx, 7*24*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, int64(1), removed)

	removed, err = store.Notebooks().PruneActivities(ctx, 7*24*time.Hour)
	require.NoError(t, err)
	assert.Zero(t, removed)
}

func TestNotebookCount(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	n, err := store.Notebooks().Count(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	require.NoError(t, store.Notebooks().Upsert(ctx, &Notebook{ID: "a", Name: "a"}))
	require.NoError(t, store.Notebooks().Upsert(ctx, &Notebook{ID: "b", Name: "b"}))

	n, err = store.Notebooks().Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}
