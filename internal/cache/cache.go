// Package cache holds the auxiliary UI-adjacent caches: split render
// previews and per-notebook tab state. Both are structurally independent
// stores that never call into the repositories, so ephemeral UI state
// cannot corrupt or be corrupted by the authoritative file cache.
package cache

import (
	"context"
	"database/sql"
	"time"

	"github.com/notekit/nbstore/internal/logging"
	"github.com/notekit/nbstore/internal/storage"
)

// Default TTLs for age-based cleanup
const (
	DefaultPreviewTTL  = 7 * 24 * time.Hour
	DefaultTabStateTTL = 30 * 24 * time.Hour
)

// Stats reports occupancy of one auxiliary cache
type Stats struct {
	Entries int
	Bytes   int64
	Oldest  time.Time
}

// SplitPreview is one cached render preview, keyed (notebookID, path)
type SplitPreview struct {
	NotebookID string
	Path       string
	Preview    string
	CachedAt   time.Time
}

// TabState is the persisted tab layout for one notebook
type TabState struct {
	NotebookID  string
	State       string
	LastUpdated time.Time
}

// SplitPreviewCache stores render previews
type SplitPreviewCache struct {
	conn   *storage.Conn
	logger logging.Logger
}

// NewSplitPreviewCache creates the preview cache over conn
func NewSplitPreviewCache(conn *storage.Conn, logger logging.Logger) *SplitPreviewCache {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	return &SplitPreviewCache{conn: conn, logger: logger}
}

// Get returns the preview or nil when absent
func (c *SplitPreviewCache) Get(ctx context.Context, notebookID, path string) (*SplitPreview, error) {
	db, err := c.conn.DB(ctx)
	if err != nil {
		return nil, err
	}
	var p SplitPreview
	err = db.QueryRowContext(ctx,
		`SELECT notebook_id, path, preview, cached_at FROM split_previews WHERE notebook_id = ? AND path = ?`,
		notebookID, path).Scan(&p.NotebookID, &p.Path, &p.Preview, &p.CachedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// Save writes or replaces the preview
func (c *SplitPreviewCache) Save(ctx context.Context, notebookID, path, preview string) error {
	db, err := c.conn.DB(ctx)
	if err != nil {
		return err
	}
	_, err = db.ExecContext(ctx, `
		INSERT INTO split_previews (notebook_id, path, preview, cached_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(notebook_id, path) DO UPDATE SET
			preview = excluded.preview,
			cached_at = excluded.cached_at
	`, notebookID, path, preview, time.Now())
	return err
}

// Delete removes one preview; absence is success
func (c *SplitPreviewCache) Delete(ctx context.Context, notebookID, path string) error {
	db, err := c.conn.DB(ctx)
	if err != nil {
		return err
	}
	_, err = db.ExecContext(ctx,
		`DELETE FROM split_previews WHERE notebook_id = ? AND path = ?`, notebookID, path)
	return err
}

// Clear empties the cache
func (c *SplitPreviewCache) Clear(ctx context.Context) error {
	db, err := c.conn.DB(ctx)
	if err != nil {
		return err
	}
	_, err = db.ExecContext(ctx, `DELETE FROM split_previews`)
	return err
}

// Stats reports occupancy
func (c *SplitPreviewCache) Stats(ctx context.Context) (*Stats, error) {
	db, err := c.conn.DB(ctx)
	if err != nil {
		return nil, err
	}
	var s Stats
	var oldest sql.NullTime
	err = db.QueryRowContext(ctx,
		`SELECT COUNT(*), COALESCE(SUM(LENGTH(preview)), 0), MIN(cached_at) FROM split_previews`).
		Scan(&s.Entries, &s.Bytes, &oldest)
	if err != nil {
		return nil, err
	}
	if oldest.Valid {
		s.Oldest = oldest.Time
	}
	return &s, nil
}

// Cleanup removes entries older than maxAge and reports how many
func (c *SplitPreviewCache) Cleanup(ctx context.Context, maxAge time.Duration) (int64, error) {
	if maxAge <= 0 {
		maxAge = DefaultPreviewTTL
	}
	db, err := c.conn.DB(ctx)
	if err != nil {
		return 0, err
	}
	res, err := db.ExecContext(ctx,
		`DELETE FROM split_previews WHERE cached_at < ?`, time.Now().Add(-maxAge))
	if err != nil {
		return 0, err
	}
	n, _ := res.RowsAffected()
	if n > 0 {
		c.logger.Debug("split preview cache pruned", "removed", n)
	}
	return n, nil
}

// TabStateCache stores per-notebook tab layout
type TabStateCache struct {
	conn   *storage.Conn
	logger logging.Logger
}

// NewTabStateCache creates the tab state cache over conn
func NewTabStateCache(conn *storage.Conn, logger logging.Logger) *TabStateCache {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	return &TabStateCache{conn: conn, logger: logger}
}

// Get returns the tab state or nil when absent
func (c *TabStateCache) Get(ctx context.Context, notebookID string) (*TabState, error) {
	db, err := c.conn.DB(ctx)
	if err != nil {
		return nil, err
	}
	var t TabState
	err = db.QueryRowContext(ctx,
		`SELECT notebook_id, state, last_updated FROM tab_states WHERE notebook_id = ?`,
		notebookID).Scan(&t.NotebookID, &t.State, &t.LastUpdated)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// Save writes or replaces the tab state
func (c *TabStateCache) Save(ctx context.Context, notebookID, state string) error {
	db, err := c.conn.DB(ctx)
	if err != nil {
		return err
	}
	_, err = db.ExecContext(ctx, `
		INSERT INTO tab_states (notebook_id, state, last_updated)
		VALUES (?, ?, ?)
		ON CONFLICT(notebook_id) DO UPDATE SET
			state = excluded.state,
			last_updated = excluded.last_updated
	`, notebookID, state, time.Now())
	return err
}

// Delete removes one notebook's tab state; absence is success
func (c *TabStateCache) Delete(ctx context.Context, notebookID string) error {
	db, err := c.conn.DB(ctx)
	if err != nil {
		return err
	}
	_, err = db.ExecContext(ctx, `DELETE FROM tab_states WHERE notebook_id = ?`, notebookID)
	return err
}

// Clear empties the cache
func (c *TabStateCache) Clear(ctx context.Context) error {
	db, err := c.conn.DB(ctx)
	if err != nil {
		return err
	}
	_, err = db.ExecContext(ctx, `DELETE FROM tab_states`)
	return err
}

// Stats reports occupancy
func (c *TabStateCache) Stats(ctx context.Context) (*Stats, error) {
	db, err := c.conn.DB(ctx)
	if err != nil {
		return nil, err
	}
	var s Stats
	var oldest sql.NullTime
	err = db.QueryRowContext(ctx,
		`SELECT COUNT(*), COALESCE(SUM(LENGTH(state)), 0), MIN(last_updated) FROM tab_states`).
		Scan(&s.Entries, &s.Bytes, &oldest)
	if err != nil {
		return nil, err
	}
	if oldest.Valid {
		s.Oldest = oldest.Time
	}
	return &s, nil
}

// Cleanup removes entries older than maxAge and reports how many
func (c *TabStateCache) Cleanup(ctx context.Context, maxAge time.Duration) (int64, error) {
	if maxAge <= 0 {
		maxAge = DefaultTabStateTTL
	}
	db, err := c.conn.DB(ctx)
	if err != nil {
		return 0, err
	}
	res, err := db.ExecContext(ctx,
		`DELETE FROM tab_states WHERE last_updated < ?`, time.Now().Add(-maxAge))
	if err != nil {
		return 0, err
	}
	n, _ := res.RowsAffected()
	if n > 0 {
		c.logger.Debug("tab state cache pruned", "removed", n)
	}
	return n, nil
}
