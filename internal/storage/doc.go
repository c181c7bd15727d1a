// Package storage provides SQLite-based persistence for notebook documents
// and their cached files.
//
// The storage layer manages:
//   - Notebook entities and their maintained aggregate counters
//   - File metadata with size-tiered storage (local, remote, hybrid)
//   - File content rows for locally cached payloads
//   - Append-only activity logs, pruned by age
//   - The persisted singleton configuration row
//
// # Database Schema
//
// Tables:
//   - notebooks: notebook entities with cached fileCount/totalSize
//   - files_metadata: one row per file, keyed notebookId + separator + path
//   - files_content: payload rows, present iff hasLocalContent
//   - activities: append-only activity log
//   - config: singleton configuration row
//   - tab_states, split_previews: auxiliary UI caches (see internal/cache)
//
// # Basic Usage
//
//	conn := storage.NewConn("~/.nbstore/nbstore.db", logger)
//	store := storage.NewStore(conn, nil, logger)
//	defer store.Close()
//
//	meta, err := store.Files().Save(ctx, storage.SaveFileInput{
//	    NotebookID: "nb1",
//	    FilePath:   "notes/a.txt",
//	    Content:    "hello",
//	}, types.SaveOptions{})
//
// # Soft References
//
// Files past the configured threshold keep metadata and a 500-character
// preview only; reads return needsRemoteFetch and the caller promotes the
// fetched payload back with UpdateContent:
//
//	res, _ := store.Files().Get(ctx, "nb1", "big.bin")
//	if res.NeedsRemoteFetch {
//	    content := fetchFromBackend(res.Metadata.ID)
//	    _ = store.Files().UpdateContent(ctx, "nb1", "big.bin", content)
//	}
//
// # Aggregates and Drift
//
// Every file mutation applies an incremental delta to the owning notebook's
// fileCount/totalSize. Deltas from interrupted operations can leave drift;
// RecalcStats replaces the aggregate with a full rescan and is safe to call
// concurrently with anything else.
//
// # Watchdogs
//
// Every operation races against a fixed deadline. An expired call returns
// TimeoutError, but the underlying transaction may still complete: treat a
// timeout as an unknown outcome that is safe to retry idempotently.
//
// # Build Tags
//
// Two driver configurations are supported:
//
//   - CGO build (cgo_sqlite tag): github.com/mattn/go-sqlite3
//   - Pure Go build (default or purego tag): modernc.org/sqlite
package storage
