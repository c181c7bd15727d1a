// Package migration imports data from prior-generation store files into the
// current schema. It is the only recovery path for legacy data: the
// connection manager's in-place upgrade never transforms old rows.
//
// Imports follow a collect-and-continue policy: per-item failures accumulate
// into the report's error list while the batch proceeds. Partial success is
// the expected outcome, not a failure mode.
package migration

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/notekit/nbstore/internal/logging"
	"github.com/notekit/nbstore/internal/storage"
	"github.com/notekit/nbstore/pkg/types"
)

// LegacyStoreNames are the prior-generation store files probed in the data
// directory. The list is fixed; these names were shipped by earlier
// releases and are not configurable.
var LegacyStoreNames = []string{
	"notebook_file_cache.db",
	"file_cache_v2.db",
	"ai_notebook_cache.db",
}

// perStoreTimeout bounds the import of one legacy store
const perStoreTimeout = 30 * time.Second

// importConcurrency bounds how many notebook groups import at once
const importConcurrency = 4

// legacyFile is one row recovered from a legacy store, after column mapping
type legacyFile struct {
	NotebookID   string
	FilePath     string
	Content      string
	Size         int64
	LastAccessed time.Time
	AccessCount  int64
}

// Engine detects and imports legacy stores
type Engine struct {
	store   *storage.Store
	dataDir string
	logger  logging.Logger
}

// New creates a migration engine scanning dataDir for legacy store files
func New(store *storage.Store, dataDir string, logger logging.Logger) *Engine {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	return &Engine{store: store, dataDir: dataDir, logger: logger}
}

// IsNeeded reports whether migration should run: the current store holds
// zero notebooks and at least one legacy store has data.
func (e *Engine) IsNeeded(ctx context.Context) (bool, error) {
	count, err := e.store.Notebooks().Count(ctx)
	if err != nil {
		return false, err
	}
	if count > 0 {
		return false, nil
	}

	for _, name := range LegacyStoreNames {
		path := filepath.Join(e.dataDir, name)
		if _, err := os.Stat(path); err != nil {
			continue
		}
		has, err := e.legacyHasData(ctx, path)
		if err != nil {
			e.logger.Warn("legacy store probe failed", "store", path, "error", err)
			continue
		}
		if has {
			return true, nil
		}
	}
	return false, nil
}

func (e *Engine) legacyHasData(ctx context.Context, path string) (bool, error) {
	db, err := sql.Open(storage.DriverName, path)
	if err != nil {
		return false, err
	}
	defer db.Close()

	table, count, err := firstDataTable(ctx, db)
	if err != nil {
		return false, err
	}
	return table != "" && count > 0, nil
}

// Migrate imports every readable legacy store. Each store gets a 30s
// watchdog; each notebook group and file is imported independently so one
// bad row never aborts the batch.
func (e *Engine) Migrate(ctx context.Context) (*types.MigrationReport, error) {
	start := time.Now()
	report := &types.MigrationReport{RunID: uuid.NewString()}

	for _, name := range LegacyStoreNames {
		path := filepath.Join(e.dataDir, name)
		if _, err := os.Stat(path); err != nil {
			continue
		}
		report.StoresScanned++

		sctx, cancel := context.WithTimeout(ctx, perStoreTimeout)
		err := e.importStore(sctx, path, report)
		cancel()
		if err != nil {
			// Whole-store failure (unopenable or timed out): recorded,
			// remaining stores still run
			report.Errors = append(report.Errors, fmt.Sprintf("%s: %v", name, err))
			e.logger.Warn("legacy store import failed", "store", path, "error", err)
		}
	}

	report.Duration = time.Since(start)
	e.logger.Info("migration finished",
		"run", report.RunID,
		"stores", report.StoresScanned,
		"notebooks", report.NotebooksImported,
		"files", report.FilesImported,
		"errors", len(report.Errors))
	return report, nil
}

// ForceMigration destructively deletes all current notebooks, then reruns
// Migrate. Recovery and debug tool only.
func (e *Engine) ForceMigration(ctx context.Context) (*types.MigrationReport, error) {
	notebooks, err := e.store.Notebooks().List(ctx, storage.OrderByLastAccessed, 0, 0)
	if err != nil {
		return nil, err
	}
	for _, nb := range notebooks {
		if err := e.store.Notebooks().Delete(ctx, nb.ID); err != nil {
			return nil, fmt.Errorf("failed to clear notebook %s: %w", nb.ID, err)
		}
	}
	return e.Migrate(ctx)
}

func (e *Engine) importStore(ctx context.Context, path string, report *types.MigrationReport) error {
	db, err := sql.Open(storage.DriverName, path)
	if err != nil {
		return fmt.Errorf("open failed: %w", err)
	}
	defer db.Close()

	table, count, err := firstDataTable(ctx, db)
	if err != nil {
		return err
	}
	if table == "" || count == 0 {
		return nil
	}

	files, rowErrs, err := readLegacyFiles(ctx, db, table)
	if err != nil {
		return err
	}
	var mu sync.Mutex
	mu.Lock()
	report.Errors = append(report.Errors, rowErrs...)
	mu.Unlock()

	// Group rows by notebook and synthesize one notebook per group
	groups := make(map[string][]legacyFile)
	for _, f := range files {
		groups[f.NotebookID] = append(groups[f.NotebookID], f)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(importConcurrency)
	for notebookID, group := range groups {
		g.Go(func() error {
			imported, errs := e.importGroup(gctx, notebookID, group)
			mu.Lock()
			if imported > 0 {
				report.NotebooksImported++
				report.FilesImported += imported
			}
			report.Errors = append(report.Errors, errs...)
			mu.Unlock()
			return nil // per-group failures never abort the batch
		})
	}
	_ = g.Wait()
	return nil
}

// importGroup upserts the synthesized notebook, then each file under the
// current schema. Returns the number of files imported and per-item errors.
func (e *Engine) importGroup(ctx context.Context, notebookID string, group []legacyFile) (int, []string) {
	var errs []string

	nb := synthesizeNotebook(notebookID, group)
	if err := e.store.Notebooks().Upsert(ctx, nb); err != nil {
		return 0, []string{fmt.Sprintf("notebook %s: %v", notebookID, err)}
	}

	imported := 0
	for _, f := range group {
		_, err := e.store.Files().Save(ctx, storage.SaveFileInput{
			NotebookID:   f.NotebookID,
			FilePath:     f.FilePath,
			Content:      f.Content,
			LastModified: f.LastAccessed,
			Size:         f.Size,
		}, types.SaveOptions{})
		if err != nil {
			errs = append(errs, fmt.Sprintf("file %s/%s: %v", f.NotebookID, f.FilePath, err))
			continue
		}
		imported++
	}
	return imported, errs
}

// synthesizeNotebook builds the notebook row a legacy group implies:
// totalSize is the sum over the group, lastAccessedAt and accessCount the
// maxima. The cached aggregate is left for Save to build up via deltas.
func synthesizeNotebook(notebookID string, group []legacyFile) *storage.Notebook {
	name := notebookID
	if len(name) > 8 {
		name = name[:8]
	}
	nb := &storage.Notebook{
		ID:           notebookID,
		Name:         "Notebook " + name,
		CacheEnabled: true,
	}
	for _, f := range group {
		if f.LastAccessed.After(nb.LastAccessedAt) {
			nb.LastAccessedAt = f.LastAccessed
		}
		if f.AccessCount > nb.AccessCount {
			nb.AccessCount = f.AccessCount
		}
	}
	return nb
}

// firstDataTable finds the first table whose name suggests file or cache
// data and which has at least one row.
func firstDataTable(ctx context.Context, db *sql.DB) (string, int64, error) {
	rows, err := db.QueryContext(ctx,
		`SELECT name FROM sqlite_master WHERE type='table' ORDER BY name`)
	if err != nil {
		return "", 0, err
	}
	defer rows.Close()

	var candidates []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return "", 0, err
		}
		lower := strings.ToLower(name)
		if strings.Contains(lower, "file") || strings.Contains(lower, "cache") {
			candidates = append(candidates, name)
		}
	}
	if err := rows.Err(); err != nil {
		return "", 0, err
	}

	for _, table := range candidates {
		var count int64
		// Table names come from sqlite_master, not from user input
		err := db.QueryRowContext(ctx, fmt.Sprintf(`SELECT COUNT(*) FROM %q`, table)).Scan(&count)
		if err != nil {
			continue
		}
		if count > 0 {
			return table, count, nil
		}
	}
	return "", 0, nil
}

// Column aliases seen across legacy schema generations
var (
	notebookCols = []string{"notebook_id", "notebookId", "nb_id"}
	pathCols     = []string{"file_path", "filePath", "path"}
	contentCols  = []string{"content", "data", "body"}
	sizeCols     = []string{"size", "file_size", "byte_size"}
	accessedCols = []string{"last_accessed_at", "lastAccessedAt", "accessed_at"}
	countCols    = []string{"access_count", "accessCount"}
)

func pickColumn(have map[string]bool, aliases []string) string {
	for _, a := range aliases {
		if have[a] {
			return a
		}
	}
	return ""
}

// readLegacyFiles reads every row of the candidate table, mapping whatever
// recognizable columns are present. Rows missing a notebook id or path are
// recorded as errors and skipped.
func readLegacyFiles(ctx context.Context, db *sql.DB, table string) ([]legacyFile, []string, error) {
	cols, err := tableColumns(ctx, db, table)
	if err != nil {
		return nil, nil, err
	}

	nbCol := pickColumn(cols, notebookCols)
	pathCol := pickColumn(cols, pathCols)
	if nbCol == "" || pathCol == "" {
		return nil, nil, fmt.Errorf("table %s has no recognizable notebook/path columns", table)
	}

	selected := []string{nbCol, pathCol}
	contentCol := pickColumn(cols, contentCols)
	sizeCol := pickColumn(cols, sizeCols)
	accessedCol := pickColumn(cols, accessedCols)
	countCol := pickColumn(cols, countCols)
	for _, c := range []string{contentCol, sizeCol, accessedCol, countCol} {
		if c != "" {
			selected = append(selected, c)
		}
	}

	quoted := make([]string, len(selected))
	for i, c := range selected {
		quoted[i] = fmt.Sprintf("%q", c)
	}
	rows, err := db.QueryContext(ctx,
		fmt.Sprintf(`SELECT %s FROM %q`, strings.Join(quoted, ", "), table))
	if err != nil {
		return nil, nil, err
	}
	defer rows.Close()

	var out []legacyFile
	var errs []string
	rowNum := 0
	for rows.Next() {
		rowNum++
		dest := make([]any, len(selected))
		var nbID, path sql.NullString
		dest[0] = &nbID
		dest[1] = &path
		var content sql.NullString
		var size, count sql.NullInt64
		var accessed sql.NullTime
		i := 2
		if contentCol != "" {
			dest[i] = &content
			i++
		}
		if sizeCol != "" {
			dest[i] = &size
			i++
		}
		if accessedCol != "" {
			dest[i] = &accessed
			i++
		}
		if countCol != "" {
			dest[i] = &count
		}

		if err := rows.Scan(dest...); err != nil {
			errs = append(errs, fmt.Sprintf("%s row %d: %v", table, rowNum, err))
			continue
		}
		if !nbID.Valid || nbID.String == "" || !path.Valid || path.String == "" {
			errs = append(errs, fmt.Sprintf("%s row %d: missing notebook id or path", table, rowNum))
			continue
		}

		f := legacyFile{
			NotebookID: nbID.String,
			FilePath:   path.String,
			Content:    content.String,
			Size:       size.Int64,
		}
		if accessed.Valid {
			f.LastAccessed = accessed.Time
		}
		if count.Valid {
			f.AccessCount = count.Int64
		}
		out = append(out, f)
	}
	return out, errs, rows.Err()
}

func tableColumns(ctx context.Context, db *sql.DB, table string) (map[string]bool, error) {
	rows, err := db.QueryContext(ctx, fmt.Sprintf(`PRAGMA table_info(%q)`, table))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	cols := make(map[string]bool)
	for rows.Next() {
		var cid int
		var name, ctype string
		var notnull, pk int
		var dflt sql.NullString
		if err := rows.Scan(&cid, &name, &ctype, &notnull, &dflt, &pk); err != nil {
			return nil, err
		}
		cols[name] = true
	}
	return cols, rows.Err()
}
