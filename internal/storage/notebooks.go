package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/notekit/nbstore/pkg/types"
)

// NotebookOrder selects the index List walks, always descending
type NotebookOrder string

const (
	OrderByLastAccessed NotebookOrder = "lastAccessedAt"
	OrderByUpdated      NotebookOrder = "updatedAt"
	OrderByAccessCount  NotebookOrder = "accessCount"
)

var orderColumns = map[NotebookOrder]string{
	OrderByLastAccessed: "last_accessed_at",
	OrderByUpdated:      "updated_at",
	OrderByAccessCount:  "access_count",
}

// NotebookStats is the live, rescan-based view of a notebook. FileCount and
// TotalSize here ignore the cached aggregate on the notebook row.
type NotebookStats struct {
	Notebook         *Notebook
	FileCount        int64
	TotalSize        int64
	RecentActivities []*Activity
}

// NotebookRepo provides CRUD and stat bookkeeping over notebooks
type NotebookRepo struct {
	s *Store
}

const notebookColumns = `id, name, description, created_at, updated_at, last_accessed_at,
	       access_count, file_count, total_size, cache_enabled, max_cache_size`

func scanNotebook(row interface{ Scan(...any) error }) (*Notebook, error) {
	var nb Notebook
	var maxCache sql.NullInt64
	err := row.Scan(
		&nb.ID, &nb.Name, &nb.Description, &nb.CreatedAt, &nb.UpdatedAt,
		&nb.LastAccessedAt, &nb.AccessCount, &nb.FileCount, &nb.TotalSize,
		&nb.CacheEnabled, &maxCache,
	)
	if err != nil {
		return nil, err
	}
	if maxCache.Valid {
		nb.MaxCacheSize = &maxCache.Int64
	}
	return &nb, nil
}

// Upsert creates or updates a notebook. An existing row keeps its original
// createdAt and its aggregate counters; updatedAt is always refreshed, and
// lastAccessedAt too unless the caller supplies one (the migration engine
// restores the access time recovered from a legacy store). Logs an "open"
// activity as a best-effort side effect.
func (r *NotebookRepo) Upsert(ctx context.Context, nb *Notebook) error {
	if err := nb.Validate(); err != nil {
		return err
	}

	err := runWatchdog(ctx, "notebook upsert", upsertTimeout, func(wctx context.Context) error {
		db, err := r.s.db(wctx)
		if err != nil {
			return err
		}

		now := time.Now()
		accessed := nb.LastAccessedAt
		if accessed.IsZero() {
			accessed = now
		}
		var maxCache any
		if nb.MaxCacheSize != nil {
			maxCache = *nb.MaxCacheSize
		}
		query := `
			INSERT INTO notebooks (id, name, description, created_at, updated_at, last_accessed_at,
			                       access_count, file_count, total_size, cache_enabled, max_cache_size)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET
				name = excluded.name,
				description = excluded.description,
				updated_at = excluded.updated_at,
				last_accessed_at = excluded.last_accessed_at,
				cache_enabled = excluded.cache_enabled,
				max_cache_size = excluded.max_cache_size
		`
		_, err = db.ExecContext(wctx, query,
			nb.ID, nb.Name, nb.Description, now, now, accessed,
			nb.AccessCount, nb.FileCount, nb.TotalSize, nb.CacheEnabled, maxCache)
		if err != nil {
			return fmt.Errorf("failed to upsert notebook: %w", err)
		}
		nb.UpdatedAt = now
		nb.LastAccessedAt = accessed
		if nb.CreatedAt.IsZero() {
			nb.CreatedAt = now
		}
		return nil
	})
	if err != nil {
		return err
	}

	r.LogActivity(nb.ID, types.ActivityOpen, nil, nil)
	return nil
}

// ensureExists creates a minimal notebook row for implicit creation on
// first file save. Does not touch an existing row.
func (r *NotebookRepo) ensureExists(ctx context.Context, id string) error {
	db, err := r.s.db(ctx)
	if err != nil {
		return err
	}
	now := time.Now()
	_, err = db.ExecContext(ctx, `
		INSERT INTO notebooks (id, name, created_at, updated_at, last_accessed_at, cache_enabled)
		VALUES (?, ?, ?, ?, ?, 1)
		ON CONFLICT(id) DO NOTHING
	`, id, id, now, now, now)
	return err
}

// Get returns the notebook or nil when absent. A hit enqueues the
// access-stat bump on the background queue, so a read can observe stats one
// access behind. That laziness is deliberate.
func (r *NotebookRepo) Get(ctx context.Context, id string) (*Notebook, error) {
	if id == "" {
		return nil, &ValidationError{Field: "notebook.id", Reason: "must not be empty"}
	}

	db, err := r.s.db(ctx)
	if err != nil {
		return nil, err
	}

	row := db.QueryRowContext(ctx, `SELECT `+notebookColumns+` FROM notebooks WHERE id = ?`, id)
	nb, err := scanNotebook(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	r.s.queue.Enqueue("notebook access bump", logActivityTimeout, func(bctx context.Context) error {
		return r.bumpAccess(bctx, id)
	})
	return nb, nil
}

func (r *NotebookRepo) bumpAccess(ctx context.Context, id string) error {
	db, err := r.s.db(ctx)
	if err != nil {
		return err
	}
	_, err = db.ExecContext(ctx,
		`UPDATE notebooks SET access_count = access_count + 1, last_accessed_at = ? WHERE id = ?`,
		time.Now(), id)
	return err
}

// List returns notebooks ordered descending by the chosen index. A zero
// limit means no limit.
func (r *NotebookRepo) List(ctx context.Context, orderBy NotebookOrder, limit, offset int) ([]*Notebook, error) {
	col, ok := orderColumns[orderBy]
	if !ok {
		col = orderColumns[OrderByLastAccessed]
	}

	db, err := r.s.db(ctx)
	if err != nil {
		return nil, err
	}

	query := fmt.Sprintf(`SELECT `+notebookColumns+` FROM notebooks ORDER BY %s DESC`, col)
	args := []any{}
	if limit > 0 {
		query += " LIMIT ? OFFSET ?"
		args = append(args, limit, offset)
	}

	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Notebook
	for rows.Next() {
		nb, err := scanNotebook(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, nb)
	}
	return out, rows.Err()
}

// Delete removes the notebook and all dependent file metadata, content, and
// activities in one transaction. Deleting a nonexistent id succeeds.
func (r *NotebookRepo) Delete(ctx context.Context, id string) error {
	if id == "" {
		return &ValidationError{Field: "notebook.id", Reason: "must not be empty"}
	}

	return runWatchdog(ctx, "notebook delete", deleteFileTimeout, func(wctx context.Context) error {
		db, err := r.s.db(wctx)
		if err != nil {
			return err
		}

		tx, err := db.BeginTx(wctx, nil)
		if err != nil {
			return &TransactionError{Op: "notebook delete", Cause: err}
		}
		defer func() { _ = tx.Rollback() }()

		steps := []struct {
			q    string
			args []any
		}{
			{`DELETE FROM files_content WHERE file_id IN (SELECT id FROM files_metadata WHERE notebook_id = ?)`, []any{id}},
			{`DELETE FROM files_metadata WHERE notebook_id = ?`, []any{id}},
			{`DELETE FROM activities WHERE notebook_id = ?`, []any{id}},
			{`DELETE FROM notebooks WHERE id = ?`, []any{id}},
		}
		for _, st := range steps {
			if _, err := tx.ExecContext(wctx, st.q, st.args...); err != nil {
				return &TransactionError{Op: "notebook delete", Cause: err}
			}
		}

		if err := tx.Commit(); err != nil {
			return &TransactionError{Op: "notebook delete", Cause: err}
		}
		return nil
	})
}

// Stats rescans file metadata for the ground-truth count and size, ignoring
// the cached aggregate, and attaches the 50 most recent activities.
func (r *NotebookRepo) Stats(ctx context.Context, id string) (*NotebookStats, error) {
	nb, err := r.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if nb == nil {
		return nil, nil
	}

	db, err := r.s.db(ctx)
	if err != nil {
		return nil, err
	}

	stats := &NotebookStats{Notebook: nb}
	err = db.QueryRowContext(ctx,
		`SELECT COUNT(*), COALESCE(SUM(size), 0) FROM files_metadata WHERE notebook_id = ?`,
		id).Scan(&stats.FileCount, &stats.TotalSize)
	if err != nil {
		return nil, err
	}

	rows, err := db.QueryContext(ctx, `
		SELECT id, notebook_id, activity_type, file_path, timestamp, metadata
		FROM activities
		WHERE notebook_id = ?
		ORDER BY timestamp DESC
		LIMIT 50
	`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var a Activity
		var filePath, metadata sql.NullString
		if err := rows.Scan(&a.ID, &a.NotebookID, &a.Type, &filePath, &a.Timestamp, &metadata); err != nil {
			return nil, err
		}
		if filePath.Valid {
			a.FilePath = &filePath.String
		}
		if metadata.Valid {
			a.Metadata = &metadata.String
		}
		stats.RecentActivities = append(stats.RecentActivities, &a)
	}
	return stats, rows.Err()
}

// LogActivity appends to the activity log on the background queue, bounded
// at one second. Failures never propagate; they only count against the
// queue's failure metric.
func (r *NotebookRepo) LogActivity(notebookID string, t types.ActivityType, filePath, metadata *string) {
	if notebookID == "" || !t.Valid() {
		return
	}
	ts := time.Now()
	r.s.queue.Enqueue("activity append", logActivityTimeout, func(bctx context.Context) error {
		db, err := r.s.db(bctx)
		if err != nil {
			return err
		}
		var fp, md any
		if filePath != nil {
			fp = *filePath
		}
		if metadata != nil {
			md = *metadata
		}
		_, err = db.ExecContext(bctx, `
			INSERT INTO activities (id, notebook_id, activity_type, file_path, timestamp, metadata)
			VALUES (?, ?, ?, ?, ?, ?)
			ON CONFLICT(id) DO NOTHING
		`, ActivityID(notebookID, ts), notebookID, string(t), fp, ts, md)
		return err
	})
}

// logActivitySync is the foreground variant used inside already-bounded
// flows (file save/delete) where ordering with the primary write matters.
func (r *NotebookRepo) logActivitySync(ctx context.Context, notebookID string, t types.ActivityType, filePath *string) {
	db, err := r.s.db(ctx)
	if err != nil {
		return
	}
	ts := time.Now()
	var fp any
	if filePath != nil {
		fp = *filePath
	}
	_, err = db.ExecContext(ctx, `
		INSERT INTO activities (id, notebook_id, activity_type, file_path, timestamp, metadata)
		VALUES (?, ?, ?, ?, ?, NULL)
		ON CONFLICT(id) DO NOTHING
	`, ActivityID(notebookID, ts), notebookID, string(t), fp, ts)
	if err != nil {
		r.s.logger.Warn("activity append failed", "notebook", notebookID, "type", t, "error", err)
	}
}

// Inactive returns notebooks with lastAccessedAt older than the retention
// window, oldest first.
func (r *NotebookRepo) Inactive(ctx context.Context, retention time.Duration) ([]*Notebook, error) {
	db, err := r.s.db(ctx)
	if err != nil {
		return nil, err
	}

	cutoff := time.Now().Add(-retention)
	rows, err := db.QueryContext(ctx,
		`SELECT `+notebookColumns+` FROM notebooks WHERE last_accessed_at < ? ORDER BY last_accessed_at ASC`,
		cutoff)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Notebook
	for rows.Next() {
		nb, err := scanNotebook(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, nb)
	}
	return out, rows.Err()
}

// AdjustStats applies file-count and byte deltas to the cached aggregate in
// one statement, clamped at zero. Concurrent adjusters cannot interleave
// within the statement, but a crashed caller can still leave drift;
// RecalcStats repairs that.
func (r *NotebookRepo) AdjustStats(ctx context.Context, id string, deltaFiles, deltaBytes int64) error {
	db, err := r.s.db(ctx)
	if err != nil {
		return err
	}
	_, err = db.ExecContext(ctx, `
		UPDATE notebooks
		SET file_count = MAX(0, file_count + ?),
		    total_size = MAX(0, total_size + ?)
		WHERE id = ?
	`, deltaFiles, deltaBytes, id)
	return err
}

// RecalcStats replaces the cached aggregate with a full rescan. Safe to run
// at any time, concurrently with other operations; the correction is a
// single statement so it cannot add drift of its own.
func (r *NotebookRepo) RecalcStats(ctx context.Context, id string) error {
	if id == "" {
		return &ValidationError{Field: "notebook.id", Reason: "must not be empty"}
	}
	db, err := r.s.db(ctx)
	if err != nil {
		return err
	}
	_, err = db.ExecContext(ctx, `
		UPDATE notebooks
		SET file_count = (SELECT COUNT(*) FROM files_metadata WHERE notebook_id = notebooks.id),
		    total_size = (SELECT COALESCE(SUM(size), 0) FROM files_metadata WHERE notebook_id = notebooks.id)
		WHERE id = ?
	`, id)
	return err
}

// OldestByAccess returns up to limit notebooks ordered by lastAccessedAt
// ascending, regardless of retention. Feeds capacity eviction.
func (r *NotebookRepo) OldestByAccess(ctx context.Context, limit int) ([]*Notebook, error) {
	db, err := r.s.db(ctx)
	if err != nil {
		return nil, err
	}

	rows, err := db.QueryContext(ctx,
		`SELECT `+notebookColumns+` FROM notebooks ORDER BY last_accessed_at ASC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Notebook
	for rows.Next() {
		nb, err := scanNotebook(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, nb)
	}
	return out, rows.Err()
}

// PruneActivities deletes activity rows older than the retention window and
// reports how many were removed.
func (r *NotebookRepo) PruneActivities(ctx context.Context, retention time.Duration) (int64, error) {
	db, err := r.s.db(ctx)
	if err != nil {
		return 0, err
	}
	res, err := db.ExecContext(ctx, `DELETE FROM activities WHERE timestamp < ?`, time.Now().Add(-retention))
	if err != nil {
		return 0, err
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// Count returns the total number of notebooks
func (r *NotebookRepo) Count(ctx context.Context) (int, error) {
	db, err := r.s.db(ctx)
	if err != nil {
		return 0, err
	}
	var n int
	err = db.QueryRowContext(ctx, `SELECT COUNT(*) FROM notebooks`).Scan(&n)
	return n, err
}
