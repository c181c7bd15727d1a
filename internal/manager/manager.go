// Package manager is the facade over the storage engine: it owns
// configuration, the initialization state machine, and the cleanup/eviction
// policy with its scheduled maintenance pass.
package manager

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/notekit/nbstore/internal/config"
	"github.com/notekit/nbstore/internal/logging"
	"github.com/notekit/nbstore/internal/migration"
	"github.com/notekit/nbstore/internal/storage"
)

// State is the initialization state machine
type State int32

const (
	StateUninitialized State = iota
	StateInitializing
	StateInitialized
)

func (s State) String() string {
	switch s {
	case StateInitializing:
		return "initializing"
	case StateInitialized:
		return "initialized"
	default:
		return "uninitialized"
	}
}

// checkInterval is how often the scheduler wakes to see whether a cleanup
// is due. A wake triggers real cleanup only once the persisted
// cleanupInterval has elapsed since lastCleanup.
const checkInterval = time.Hour

// ErrCleanupInProgress is returned when an unforced cleanup finds another
// cleanup already running.
var ErrCleanupInProgress = errors.New("cleanup already in progress")

// Manager owns the store lifecycle
type Manager struct {
	store     *storage.Store
	migrator  *migration.Engine
	logger    logging.Logger
	overrides config.StorageOverrides

	state  atomic.Int32
	initSF singleflight.Group

	cleanupActive atomic.Bool

	mu       sync.Mutex
	stopCh   chan struct{}
	schedWG  sync.WaitGroup
	schedRun bool
}

// New creates a manager around store. The migration engine scans dataDir
// for legacy store files.
func New(store *storage.Store, dataDir string, logger logging.Logger) *Manager {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	return &Manager{
		store:    store,
		migrator: migration.New(store, dataDir, logger),
		logger:   logger,
	}
}

// SetStorageOverrides installs process-config overrides applied over the
// persisted storage policy during Initialize. Zero values keep what is
// persisted. Must be called before Initialize.
func (m *Manager) SetStorageOverrides(o config.StorageOverrides) { m.overrides = o }

// State returns the current lifecycle state
func (m *Manager) State() State { return State(m.state.Load()) }

// Store exposes the underlying store
func (m *Manager) Store() *storage.Store { return m.store }

// Migrator exposes the migration engine for recovery tooling
func (m *Manager) Migrator() *migration.Engine { return m.migrator }

// Initialize brings the engine up: open the connection, ensure a persisted
// config row, run the migration check (non-fatal on failure), and start the
// maintenance scheduler. Concurrent calls collapse into one shared in-flight
// task. On failure the state resets so a retry is possible.
func (m *Manager) Initialize(ctx context.Context) error {
	if m.State() == StateInitialized {
		return nil
	}

	_, err, _ := m.initSF.Do("init", func() (any, error) {
		if m.State() == StateInitialized {
			return nil, nil
		}
		m.state.Store(int32(StateInitializing))

		if err := m.initialize(ctx); err != nil {
			m.state.Store(int32(StateUninitialized))
			return nil, err
		}
		m.state.Store(int32(StateInitialized))
		return nil, nil
	})
	if err != nil {
		m.initSF.Forget("init")
	}
	return err
}

// applyOverrides folds non-zero process-config values into the persisted
// policy, reporting whether anything changed.
func applyOverrides(cfg *storage.StorageConfig, o config.StorageOverrides) bool {
	changed := false
	if o.MaxNotebooks > 0 && o.MaxNotebooks != cfg.MaxNotebooks {
		cfg.MaxNotebooks = o.MaxNotebooks
		changed = true
	}
	if o.MaxTotalSize > 0 && o.MaxTotalSize != cfg.MaxTotalSize {
		cfg.MaxTotalSize = o.MaxTotalSize
		changed = true
	}
	if o.MaxFileSize > 0 && o.MaxFileSize != cfg.MaxFileSize {
		cfg.MaxFileSize = o.MaxFileSize
		changed = true
	}
	if o.RetentionDays > 0 {
		if d := time.Duration(o.RetentionDays) * 24 * time.Hour; d != cfg.RetentionPeriod {
			cfg.RetentionPeriod = d
			changed = true
		}
	}
	if o.CleanupMinutes > 0 {
		if d := time.Duration(o.CleanupMinutes) * time.Minute; d != cfg.CleanupInterval {
			cfg.CleanupInterval = d
			changed = true
		}
	}
	if o.DisableCompress && cfg.CompressionEnabled {
		cfg.CompressionEnabled = false
		changed = true
	}
	return changed
}

func (m *Manager) initialize(ctx context.Context) error {
	if _, err := m.store.Conn().DB(ctx); err != nil {
		return err
	}

	cfg, err := m.store.EnsureConfig(ctx)
	if err != nil {
		return err
	}
	if applyOverrides(cfg, m.overrides) {
		if err := m.store.SaveConfig(ctx, cfg); err != nil {
			return err
		}
		m.store.SetMaxFileSize(cfg.MaxFileSize)
		m.logger.Info("storage policy overridden from process config")
	}
	m.logger.Info("storage config loaded",
		"maxNotebooks", cfg.MaxNotebooks,
		"maxFileSize", cfg.MaxFileSize,
		"retention", cfg.RetentionPeriod)

	// Migration failures leave the engine usable with an empty store
	needed, err := m.migrator.IsNeeded(ctx)
	if err != nil {
		m.logger.Warn("migration check failed", "error", err)
	} else if needed {
		report, err := m.migrator.Migrate(ctx)
		if err != nil {
			m.logger.Warn("migration failed", "error", err)
		} else if len(report.Errors) > 0 {
			m.logger.Warn("migration finished with errors",
				"run", report.RunID, "errors", len(report.Errors))
		}
	}

	m.startScheduler()
	return nil
}

func (m *Manager) startScheduler() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.schedRun {
		return
	}
	m.stopCh = make(chan struct{})
	m.schedRun = true
	m.schedWG.Add(1)
	go m.schedulerLoop(m.stopCh)
}

func (m *Manager) schedulerLoop(stop <-chan struct{}) {
	defer m.schedWG.Done()
	ticker := time.NewTicker(checkInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			m.maybeCleanup()
		}
	}
}

// maybeCleanup runs a real cleanup only once the configured interval has
// elapsed since the persisted lastCleanup.
func (m *Manager) maybeCleanup() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	cfg, err := m.store.LoadConfig(ctx)
	if err != nil || cfg == nil {
		m.logger.Warn("scheduled cleanup skipped, config unavailable", "error", err)
		return
	}
	if time.Since(cfg.LastCleanup) < cfg.CleanupInterval {
		return
	}
	if _, err := m.CleanupStorage(ctx, false); err != nil && !errors.Is(err, ErrCleanupInProgress) {
		m.logger.Warn("scheduled cleanup failed", "error", err)
	}
}

// Close stops the scheduler and releases the store. The manager returns to
// uninitialized and can be initialized again.
func (m *Manager) Close() error {
	m.mu.Lock()
	if m.schedRun {
		close(m.stopCh)
		m.schedRun = false
	}
	m.mu.Unlock()
	m.schedWG.Wait()

	m.state.Store(int32(StateUninitialized))
	return m.store.Close()
}
