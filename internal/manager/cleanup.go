package manager

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/notekit/nbstore/internal/storage"
	"github.com/notekit/nbstore/pkg/types"
)

// recalcConcurrency bounds the post-cleanup aggregate repair pass
const recalcConcurrency = 4

// emergencyKeepRatio is how much of maxNotebooks survives an emergency trim
const emergencyKeepRatio = 0.7

// CleanupStorage applies the eviction policy in order: retention-expired
// notebooks, capacity excess (oldest by lastAccessedAt), then aged activity
// rows, then persists lastCleanup. Per-item failures are logged and skipped.
// Unforced calls refuse to run while another cleanup is active.
func (m *Manager) CleanupStorage(ctx context.Context, force bool) (*types.CleanupResult, error) {
	owned := m.cleanupActive.CompareAndSwap(false, true)
	if !owned && !force {
		return nil, ErrCleanupInProgress
	}
	if owned {
		defer m.cleanupActive.Store(false)
	}

	start := time.Now()
	result := &types.CleanupResult{}

	cfg, err := m.store.LoadConfig(ctx)
	if err != nil {
		return nil, err
	}
	if cfg == nil {
		defaults := storage.DefaultConfig()
		cfg = &defaults
	}

	notebooks := m.store.Notebooks()

	// (a) hard-delete notebooks inactive beyond the retention window
	inactive, err := notebooks.Inactive(ctx, cfg.RetentionPeriod)
	if err != nil {
		return nil, err
	}
	m.deleteNotebooks(ctx, inactive, result)

	// (b) enforce maxNotebooks, evicting the oldest excess
	count, err := notebooks.Count(ctx)
	if err != nil {
		return nil, err
	}
	if excess := count - cfg.MaxNotebooks; excess > 0 {
		oldest, err := notebooks.OldestByAccess(ctx, excess)
		if err != nil {
			return nil, err
		}
		m.deleteNotebooks(ctx, oldest, result)
	}

	// (c) prune aged activity rows
	if _, err := notebooks.PruneActivities(ctx, cfg.RetentionPeriod); err != nil {
		m.logger.Warn("activity pruning failed", "error", err)
	}

	// (d) persist lastCleanup
	if err := m.store.TouchLastCleanup(ctx); err != nil {
		m.logger.Warn("failed to persist lastCleanup", "error", err)
	}

	m.repairAggregates(ctx)

	result.Duration = time.Since(start)
	m.logger.Info("cleanup finished",
		"notebooksDeleted", result.NotebooksDeleted,
		"filesDeleted", result.FilesDeleted,
		"bytesFreed", result.BytesFreed,
		"duration", result.Duration)
	return result, nil
}

// EmergencyCleanup trims the notebook set to 70% of maxNotebooks regardless
// of retention, oldest first. Invoked when external storage pressure is
// detected.
func (m *Manager) EmergencyCleanup(ctx context.Context) (*types.CleanupResult, error) {
	start := time.Now()
	result := &types.CleanupResult{}

	cfg, err := m.store.LoadConfig(ctx)
	if err != nil {
		return nil, err
	}
	if cfg == nil {
		defaults := storage.DefaultConfig()
		cfg = &defaults
	}

	notebooks := m.store.Notebooks()
	count, err := notebooks.Count(ctx)
	if err != nil {
		return nil, err
	}

	keep := int(float64(cfg.MaxNotebooks) * emergencyKeepRatio)
	if excess := count - keep; excess > 0 {
		oldest, err := notebooks.OldestByAccess(ctx, excess)
		if err != nil {
			return nil, err
		}
		m.deleteNotebooks(ctx, oldest, result)
	}

	result.Duration = time.Since(start)
	m.logger.Info("emergency cleanup finished",
		"notebooksDeleted", result.NotebooksDeleted,
		"bytesFreed", result.BytesFreed)
	return result, nil
}

// deleteNotebooks cascades each notebook, accumulating what was freed.
// Failures are recorded against the log and skipped.
func (m *Manager) deleteNotebooks(ctx context.Context, list []*storage.Notebook, result *types.CleanupResult) {
	for _, nb := range list {
		// Cached aggregates are close enough for the freed-space report
		files := nb.FileCount
		bytes := nb.TotalSize
		if err := m.store.Notebooks().Delete(ctx, nb.ID); err != nil {
			m.logger.Warn("notebook eviction failed", "notebook", nb.ID, "error", err)
			continue
		}
		result.NotebooksDeleted++
		result.FilesDeleted += int(files)
		result.BytesFreed += bytes
	}
}

// repairAggregates recalculates fileCount/totalSize for every surviving
// notebook. Concurrency is bounded; individual failures only log.
func (m *Manager) repairAggregates(ctx context.Context) {
	survivors, err := m.store.Notebooks().List(ctx, storage.OrderByLastAccessed, 0, 0)
	if err != nil {
		m.logger.Warn("aggregate repair skipped", "error", err)
		return
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(recalcConcurrency)
	for _, nb := range survivors {
		g.Go(func() error {
			if err := m.store.Notebooks().RecalcStats(gctx, nb.ID); err != nil {
				m.logger.Warn("aggregate repair failed", "notebook", nb.ID, "error", err)
			}
			return nil
		})
	}
	_ = g.Wait()
}

// StorageStats is a read-only snapshot of store occupancy against limits
func (m *Manager) StorageStats(ctx context.Context) (*types.StorageStats, error) {
	cfg, err := m.store.LoadConfig(ctx)
	if err != nil {
		return nil, err
	}
	if cfg == nil {
		defaults := storage.DefaultConfig()
		cfg = &defaults
	}

	notebookCount, err := m.store.Notebooks().Count(ctx)
	if err != nil {
		return nil, err
	}
	files, bytes, large, err := m.store.Files().GlobalStats(ctx)
	if err != nil {
		return nil, err
	}

	return &types.StorageStats{
		NotebookCount: notebookCount,
		FileCount:     files,
		TotalSize:     bytes,
		LargeFiles:    large,
		MaxNotebooks:  cfg.MaxNotebooks,
		MaxTotalSize:  cfg.MaxTotalSize,
		LastCleanup:   cfg.LastCleanup,
	}, nil
}

// CleanupCandidates reports what the next cleanup pass would remove and why
func (m *Manager) CleanupCandidates(ctx context.Context) ([]types.CleanupCandidate, error) {
	cfg, err := m.store.LoadConfig(ctx)
	if err != nil {
		return nil, err
	}
	if cfg == nil {
		defaults := storage.DefaultConfig()
		cfg = &defaults
	}

	notebooks := m.store.Notebooks()
	var out []types.CleanupCandidate
	seen := make(map[string]bool)

	inactive, err := notebooks.Inactive(ctx, cfg.RetentionPeriod)
	if err != nil {
		return nil, err
	}
	for _, nb := range inactive {
		seen[nb.ID] = true
		out = append(out, candidate(nb, "retention expired"))
	}

	count, err := notebooks.Count(ctx)
	if err != nil {
		return nil, err
	}
	if excess := count - cfg.MaxNotebooks; excess > 0 {
		oldest, err := notebooks.OldestByAccess(ctx, excess)
		if err != nil {
			return nil, err
		}
		for _, nb := range oldest {
			if seen[nb.ID] {
				continue
			}
			out = append(out, candidate(nb, "over notebook capacity"))
		}
	}
	return out, nil
}

func candidate(nb *storage.Notebook, reason string) types.CleanupCandidate {
	return types.CleanupCandidate{
		NotebookID:     nb.ID,
		Name:           nb.Name,
		LastAccessedAt: nb.LastAccessedAt,
		FileCount:      int(nb.FileCount),
		TotalSize:      nb.TotalSize,
		Reason:         reason,
	}
}
