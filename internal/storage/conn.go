package storage

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/singleflight"

	"github.com/notekit/nbstore/internal/logging"
)

// obsoleteStoreFiles names store files from superseded schema generations of
// this engine. They are removed best-effort after a successful open. Data
// recovery from structurally incompatible prior stores is the migration
// engine's job, never this purge; its legacy sources are a separate list.
var obsoleteStoreFiles = []string{
	"nbstore-v0.db",
	"nbstore-v0.db-wal",
	"nbstore-v0.db-shm",
	"nbstore.db.tmp",
}

// Conn owns the single shared database handle. It is constructed explicitly
// and passed by reference to every component; there is no package-level
// singleton.
type Conn struct {
	path   string
	logger logging.Logger

	group singleflight.Group
	mu    sync.Mutex
	db    *sql.DB
}

// NewConn creates a connection manager for the store at path. The path
// ":memory:" is honored for tests. The database is not opened until the
// first DB call.
func NewConn(path string, logger logging.Logger) *Conn {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	return &Conn{path: path, logger: logger}
}

// Path returns the store file path
func (c *Conn) Path() string { return c.path }

// openDatabase opens a SQLite database with appropriate settings
func openDatabase(dbPath string) (*sql.DB, error) {
	db, err := sql.Open(DriverName, dbPath)
	if err != nil {
		return nil, err
	}

	// Enable WAL mode for better concurrency
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	// Single writer; database/sql serializes access for us
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	return db, nil
}

// DB returns the shared handle, lazily opening the store. Concurrent
// callers during initialization share one in-flight open. The open carries
// a 20s watchdog; on expiry the guard resets so a later call can retry.
func (c *Conn) DB(ctx context.Context) (*sql.DB, error) {
	c.mu.Lock()
	if c.db != nil {
		db := c.db
		c.mu.Unlock()
		return db, nil
	}
	c.mu.Unlock()

	db, err := withWatchdog(ctx, "store open", initTimeout, func(wctx context.Context) (*sql.DB, error) {
		v, err, _ := c.group.Do("open", func() (any, error) {
			return c.open(wctx)
		})
		if err != nil {
			return nil, err
		}
		return v.(*sql.DB), nil
	})
	if err != nil {
		c.group.Forget("open")
		if IsTimeout(err) {
			return nil, &InitializationError{Cause: err}
		}
		return nil, err
	}
	return db, nil
}

func (c *Conn) open(ctx context.Context) (*sql.DB, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.db != nil {
		return c.db, nil
	}

	db, err := openDatabase(c.path)
	if err != nil {
		return nil, &InitializationError{Cause: err}
	}

	if err := ApplyMigrations(ctx, db); err != nil {
		_ = db.Close()
		return nil, &InitializationError{Cause: err}
	}

	c.db = db
	c.logger.Info("store opened", "path", c.path, "driver", DriverName, "schema", CurrentSchemaVersion)

	go c.purgeObsoleteStores()

	return db, nil
}

// purgeObsoleteStores deletes superseded store files next to the current
// one. Best-effort: failures are logged and never block or fail an open.
func (c *Conn) purgeObsoleteStores() {
	if c.path == ":memory:" || c.path == "" {
		return
	}
	dir := filepath.Dir(c.path)
	for _, name := range obsoleteStoreFiles {
		p := filepath.Join(dir, name)
		if _, err := os.Stat(p); err != nil {
			continue
		}
		if err := os.Remove(p); err != nil {
			c.logger.Warn("failed to remove obsolete store", "path", p, "error", err)
			continue
		}
		c.logger.Debug("removed obsolete store", "path", p)
	}
}

// Close releases the handle. The next DB call reinitializes from scratch.
func (c *Conn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.db == nil {
		return nil
	}
	err := c.db.Close()
	c.db = nil
	return err
}

// Store bundles the connection with the pieces every repository needs: the
// content codec, the background queue for best-effort side effects, and the
// logger. Repositories hang off it so callers wire exactly one object.
type Store struct {
	conn   *Conn
	queue  *taskQueue
	codec  Codec
	logger logging.Logger

	// maxFileSize is the large-file threshold; the storage manager
	// refreshes it from the persisted config row
	maxFileSize atomic.Int64

	closed atomic.Bool
}

// NewStore creates a Store around conn. A nil codec means passthrough.
func NewStore(conn *Conn, codec Codec, logger logging.Logger) *Store {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	if codec == nil {
		codec = NoopCodec{}
	}
	s := &Store{
		conn:   conn,
		queue:  newTaskQueue(logger, 256),
		codec:  codec,
		logger: logger,
	}
	s.maxFileSize.Store(DefaultConfig().MaxFileSize)
	return s
}

// Conn exposes the connection manager
func (s *Store) Conn() *Conn { return s.conn }

// db guards repository access: unlike Conn, which can reopen after Close, a
// closed Store stays closed because its background queue is gone.
func (s *Store) db(ctx context.Context) (*sql.DB, error) {
	if s.closed.Load() {
		return nil, ErrClosed
	}
	return s.conn.DB(ctx)
}

// SetMaxFileSize updates the large-file threshold
func (s *Store) SetMaxFileSize(n int64) {
	if n > 0 {
		s.maxFileSize.Store(n)
	}
}

// MaxFileSize returns the current large-file threshold
func (s *Store) MaxFileSize() int64 { return s.maxFileSize.Load() }

// BackgroundFailures reports errored best-effort tasks since startup
func (s *Store) BackgroundFailures() uint64 { return s.queue.Failures() }

// Flush waits for already-queued background work to complete
func (s *Store) Flush() { s.queue.Flush() }

// Notebooks returns the notebook repository
func (s *Store) Notebooks() *NotebookRepo { return &NotebookRepo{s: s} }

// Files returns the file repository
func (s *Store) Files() *FileRepo { return &FileRepo{s: s, notebooks: s.Notebooks()} }

// Close drains the background queue and releases the connection. A closed
// Store is terminal; later operations return ErrClosed.
func (s *Store) Close() error {
	s.closed.Store(true)
	s.queue.Close()
	return s.conn.Close()
}
