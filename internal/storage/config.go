package storage

import (
	"context"
	"database/sql"
	"time"
)

const configKey = "storage"

// LoadConfig reads the persisted singleton row, or nil when it has never
// been written.
func (s *Store) LoadConfig(ctx context.Context) (*StorageConfig, error) {
	db, err := s.db(ctx)
	if err != nil {
		return nil, err
	}

	var cfg StorageConfig
	var cleanupMS, retentionMS int64
	var lastCleanup sql.NullTime
	err = db.QueryRowContext(ctx, `
		SELECT max_notebooks, max_total_size, max_file_size,
		       cleanup_interval_ms, retention_period_ms, compression_enabled, last_cleanup
		FROM config WHERE id = ?
	`, configKey).Scan(
		&cfg.MaxNotebooks, &cfg.MaxTotalSize, &cfg.MaxFileSize,
		&cleanupMS, &retentionMS, &cfg.CompressionEnabled, &lastCleanup,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	cfg.CleanupInterval = time.Duration(cleanupMS) * time.Millisecond
	cfg.RetentionPeriod = time.Duration(retentionMS) * time.Millisecond
	if lastCleanup.Valid {
		cfg.LastCleanup = lastCleanup.Time
	}
	return &cfg, nil
}

// SaveConfig writes the singleton row
func (s *Store) SaveConfig(ctx context.Context, cfg *StorageConfig) error {
	db, err := s.db(ctx)
	if err != nil {
		return err
	}

	var lastCleanup any
	if !cfg.LastCleanup.IsZero() {
		lastCleanup = cfg.LastCleanup
	}
	_, err = db.ExecContext(ctx, `
		INSERT INTO config (id, max_notebooks, max_total_size, max_file_size,
		                    cleanup_interval_ms, retention_period_ms, compression_enabled, last_cleanup)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			max_notebooks = excluded.max_notebooks,
			max_total_size = excluded.max_total_size,
			max_file_size = excluded.max_file_size,
			cleanup_interval_ms = excluded.cleanup_interval_ms,
			retention_period_ms = excluded.retention_period_ms,
			compression_enabled = excluded.compression_enabled,
			last_cleanup = excluded.last_cleanup
	`, configKey, cfg.MaxNotebooks, cfg.MaxTotalSize, cfg.MaxFileSize,
		cfg.CleanupInterval.Milliseconds(), cfg.RetentionPeriod.Milliseconds(),
		cfg.CompressionEnabled, lastCleanup)
	return err
}

// EnsureConfig returns the persisted config, writing the defaults first if
// no row exists. The large-file threshold on the store is refreshed as a
// side effect.
func (s *Store) EnsureConfig(ctx context.Context) (*StorageConfig, error) {
	cfg, err := s.LoadConfig(ctx)
	if err != nil {
		return nil, err
	}
	if cfg == nil {
		defaults := DefaultConfig()
		if err := s.SaveConfig(ctx, &defaults); err != nil {
			return nil, err
		}
		cfg = &defaults
	}
	s.SetMaxFileSize(cfg.MaxFileSize)
	return cfg, nil
}

// TouchLastCleanup persists lastCleanup = now
func (s *Store) TouchLastCleanup(ctx context.Context) error {
	db, err := s.db(ctx)
	if err != nil {
		return err
	}
	_, err = db.ExecContext(ctx, `UPDATE config SET last_cleanup = ? WHERE id = ?`, time.Now(), configKey)
	return err
}
