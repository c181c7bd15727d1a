package storage

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/notekit/nbstore/pkg/types"
)

// SaveFileInput carries everything needed to cache one file
type SaveFileInput struct {
	NotebookID   string
	FilePath     string
	Content      string
	LastModified time.Time
	RemoteURL    *string

	// Size is honored only when Content is empty: a metadata-only save
	// records the reported size as a soft reference with no local content.
	// Legacy imports use this for rows that carried a size but no payload.
	Size int64
}

// FileResult is what a read returns. NeedsRemoteFetch means this layer has
// no usable content: either the file is soft-referenced (large/remote) or
// the metadata promised local content and the content row is missing. The
// caller fetches from the remote collaborator and promotes via
// UpdateContent; this layer only signals the need.
type FileResult struct {
	Metadata         *FileMetadata
	Content          *string
	Encoding         types.Encoding
	NeedsRemoteFetch bool
}

// FileRepo provides CRUD over file metadata and content with size-tiered
// storage. It keeps the owning notebook's aggregate counters approximately
// correct through NotebookRepo.AdjustStats.
type FileRepo struct {
	s         *Store
	notebooks *NotebookRepo
}

const fileColumns = `id, notebook_id, file_path, file_name, file_type, size, last_modified,
	       cached_at, last_accessed_at, access_count, storage_type, has_local_content,
	       remote_url, content_hash, is_large_file, content_preview`

func scanFileMetadata(row interface{ Scan(...any) error }) (*FileMetadata, error) {
	var m FileMetadata
	var remoteURL, contentHash, preview sql.NullString
	err := row.Scan(
		&m.ID, &m.NotebookID, &m.FilePath, &m.FileName, &m.FileType, &m.Size,
		&m.LastModified, &m.CachedAt, &m.LastAccessedAt, &m.AccessCount,
		&m.StorageType, &m.HasLocalContent, &remoteURL, &contentHash,
		&m.IsLargeFile, &preview,
	)
	if err != nil {
		return nil, err
	}
	if remoteURL.Valid {
		m.RemoteURL = &remoteURL.String
	}
	if contentHash.Valid {
		m.ContentHash = &contentHash.String
	}
	if preview.Valid {
		m.ContentPreview = &preview.String
	}
	return &m, nil
}

func hashContent(content string) string {
	sum := sha256.Sum256([]byte(content))
	return hex.EncodeToString(sum[:])
}

func validateFileKey(notebookID, filePath string) error {
	if notebookID == "" {
		return &ValidationError{Field: "file.notebookId", Reason: "must not be empty"}
	}
	if filePath == "" {
		return &ValidationError{Field: "file.filePath", Reason: "must not be empty"}
	}
	return nil
}

// Save writes file metadata and, below the large-file threshold, content.
// Past the threshold only a preview is retained and the full payload stays
// remote until promoted. Aggregate deltas are computed against any
// pre-existing row at the same key. A timeout here means unknown outcome:
// the write may still land.
func (r *FileRepo) Save(ctx context.Context, in SaveFileInput, opts types.SaveOptions) (*FileMetadata, error) {
	if err := validateFileKey(in.NotebookID, in.FilePath); err != nil {
		return nil, err
	}

	meta, err := withWatchdog(ctx, "file save", saveFileTimeout, func(wctx context.Context) (*FileMetadata, error) {
		db, err := r.s.db(wctx)
		if err != nil {
			return nil, err
		}

		if err := r.notebooks.ensureExists(wctx, in.NotebookID); err != nil {
			return nil, err
		}

		fileID := FileID(in.NotebookID, in.FilePath)
		size := int64(len(in.Content))
		metaOnly := size == 0 && in.Size > 0
		if metaOnly {
			size = in.Size
		}
		isLarge := size > r.s.MaxFileSize() && !opts.ForceLocal

		// Deltas against any existing row at this key
		var oldSize, oldCount int64
		var exists bool
		err = db.QueryRowContext(wctx,
			`SELECT size, access_count FROM files_metadata WHERE id = ?`, fileID).Scan(&oldSize, &oldCount)
		switch {
		case err == sql.ErrNoRows:
			exists = false
		case err != nil:
			return nil, err
		default:
			exists = true
		}

		now := time.Now()
		lastModified := in.LastModified
		if lastModified.IsZero() {
			lastModified = now
		}

		m := &FileMetadata{
			ID:              fileID,
			NotebookID:      in.NotebookID,
			FilePath:        in.FilePath,
			FileName:        FileNameOf(in.FilePath),
			FileType:        FileTypeOf(in.FilePath),
			Size:            size,
			LastModified:    lastModified,
			CachedAt:        now,
			LastAccessedAt:  now,
			AccessCount:     1,
			RemoteURL:       in.RemoteURL,
			IsLargeFile:     isLarge,
			HasLocalContent: !isLarge && !metaOnly,
		}
		if exists {
			// The conflict clause keeps the stored counter; report it back
			m.AccessCount = oldCount
		}
		if !metaOnly {
			hash := hashContent(in.Content)
			m.ContentHash = &hash
		}

		switch {
		case metaOnly:
			m.StorageType = types.StorageRemote
		case isLarge:
			preview := types.Preview(in.Content)
			m.ContentPreview = &preview
			if preview != "" {
				m.StorageType = types.StorageHybrid
			} else {
				m.StorageType = types.StorageRemote
			}
		default:
			m.StorageType = types.StorageLocal
		}

		tx, err := db.BeginTx(wctx, nil)
		if err != nil {
			return nil, &TransactionError{Op: "file save", Cause: err}
		}
		defer func() { _ = tx.Rollback() }()

		var remoteURL, preview, contentHash any
		if m.RemoteURL != nil {
			remoteURL = *m.RemoteURL
		}
		if m.ContentPreview != nil {
			preview = *m.ContentPreview
		}
		if m.ContentHash != nil {
			contentHash = *m.ContentHash
		}
		_, err = tx.ExecContext(wctx, `
			INSERT INTO files_metadata (id, notebook_id, file_path, file_name, file_type, size,
			                            last_modified, cached_at, last_accessed_at, access_count,
			                            storage_type, has_local_content, remote_url, content_hash,
			                            is_large_file, content_preview)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET
				file_name = excluded.file_name,
				file_type = excluded.file_type,
				size = excluded.size,
				last_modified = excluded.last_modified,
				cached_at = excluded.cached_at,
				last_accessed_at = excluded.last_accessed_at,
				storage_type = excluded.storage_type,
				has_local_content = excluded.has_local_content,
				remote_url = excluded.remote_url,
				content_hash = excluded.content_hash,
				is_large_file = excluded.is_large_file,
				content_preview = excluded.content_preview
		`,
			m.ID, m.NotebookID, m.FilePath, m.FileName, m.FileType, m.Size,
			m.LastModified, m.CachedAt, m.LastAccessedAt, m.AccessCount,
			string(m.StorageType), m.HasLocalContent, remoteURL, contentHash,
			m.IsLargeFile, preview)
		if err != nil {
			return nil, &TransactionError{Op: "file save", Cause: err}
		}

		if isLarge || metaOnly {
			// A re-save without local content invalidates any stale local copy
			if _, err := tx.ExecContext(wctx, `DELETE FROM files_content WHERE file_id = ?`, fileID); err != nil {
				return nil, &TransactionError{Op: "file save", Cause: err}
			}
		} else {
			encoded, compressed, err := r.s.codec.Encode(in.Content)
			if err != nil {
				return nil, fmt.Errorf("codec encode failed: %w", err)
			}
			enc := types.DetectEncoding(in.Content)
			_, err = tx.ExecContext(wctx, `
				INSERT INTO files_content (file_id, content, compressed, encoding)
				VALUES (?, ?, ?, ?)
				ON CONFLICT(file_id) DO UPDATE SET
					content = excluded.content,
					compressed = excluded.compressed,
					encoding = excluded.encoding
			`, fileID, encoded, compressed, string(enc))
			if err != nil {
				return nil, &TransactionError{Op: "file save", Cause: err}
			}
		}

		if err := tx.Commit(); err != nil {
			return nil, &TransactionError{Op: "file save", Cause: err}
		}

		var deltaFiles int64
		if !exists {
			deltaFiles = 1
		}
		if err := r.notebooks.AdjustStats(wctx, in.NotebookID, deltaFiles, size-oldSize); err != nil {
			r.s.logger.Warn("stat adjust failed after save", "file", fileID, "error", err)
		}

		r.notebooks.logActivitySync(wctx, in.NotebookID, types.ActivityFileCreate, &in.FilePath)
		return m, nil
	})
	return meta, err
}

// Get looks up one file by its composite key. Absence returns nil, nil. A
// hit bumps the file's access stats in the same flow before returning;
// unlike the notebook repository's lazy bump, this one is synchronous on
// purpose.
func (r *FileRepo) Get(ctx context.Context, notebookID, filePath string) (*FileResult, error) {
	if err := validateFileKey(notebookID, filePath); err != nil {
		return nil, err
	}

	return withWatchdog(ctx, "file get", getFileTimeout, func(wctx context.Context) (*FileResult, error) {
		db, err := r.s.db(wctx)
		if err != nil {
			return nil, err
		}

		fileID := FileID(notebookID, filePath)
		row := db.QueryRowContext(wctx, `SELECT `+fileColumns+` FROM files_metadata WHERE id = ?`, fileID)
		m, err := scanFileMetadata(row)
		if err == sql.ErrNoRows {
			return nil, nil
		}
		if err != nil {
			return nil, err
		}

		now := time.Now()
		if _, err := db.ExecContext(wctx,
			`UPDATE files_metadata SET access_count = access_count + 1, last_accessed_at = ? WHERE id = ?`,
			now, fileID); err != nil {
			r.s.logger.Warn("file access bump failed", "file", fileID, "error", err)
		} else {
			m.AccessCount++
			m.LastAccessedAt = now
		}

		// Every hit is an access, including ones that degrade to a remote fetch
		r.notebooks.LogActivity(notebookID, types.ActivityFileAccess, &filePath, nil)

		res := &FileResult{Metadata: m}
		if !m.HasLocalContent {
			res.NeedsRemoteFetch = true
			return res, nil
		}

		content, enc, err := r.loadContent(wctx, db, fileID)
		if err != nil {
			// Metadata promised local content but the row is missing or
			// unreadable; degrade to a remote fetch instead of failing.
			r.s.logger.Warn("content row missing for local file", "file", fileID, "error", err)
			res.NeedsRemoteFetch = true
			return res, nil
		}
		res.Content = &content
		res.Encoding = enc
		return res, nil
	})
}

func (r *FileRepo) loadContent(ctx context.Context, db *sql.DB, fileID string) (string, types.Encoding, error) {
	var row FileContent
	err := db.QueryRowContext(ctx,
		`SELECT file_id, content, compressed, encoding FROM files_content WHERE file_id = ?`,
		fileID).Scan(&row.FileID, &row.Content, &row.Compressed, &row.Encoding)
	if err != nil {
		return "", "", err
	}
	content, err := r.s.codec.Decode(row.Content, row.Compressed)
	if err != nil {
		return "", "", fmt.Errorf("codec decode failed: %w", err)
	}
	return content, row.Encoding, nil
}

// GetAllForNotebook lists every file in the notebook. A per-row content
// failure degrades that row to needsRemoteFetch rather than aborting the
// listing. Notebook-level access stats are touched once per call.
func (r *FileRepo) GetAllForNotebook(ctx context.Context, notebookID string, includeContent bool) ([]*FileResult, error) {
	if notebookID == "" {
		return nil, &ValidationError{Field: "file.notebookId", Reason: "must not be empty"}
	}

	return withWatchdog(ctx, "file list", listFilesTimeout, func(wctx context.Context) ([]*FileResult, error) {
		db, err := r.s.db(wctx)
		if err != nil {
			return nil, err
		}

		rows, err := db.QueryContext(wctx,
			`SELECT `+fileColumns+` FROM files_metadata WHERE notebook_id = ? ORDER BY file_path`,
			notebookID)
		if err != nil {
			return nil, err
		}
		defer rows.Close()

		var out []*FileResult
		for rows.Next() {
			m, err := scanFileMetadata(rows)
			if err != nil {
				return nil, err
			}
			res := &FileResult{Metadata: m}
			switch {
			case !m.HasLocalContent:
				res.NeedsRemoteFetch = true
			case includeContent:
				content, enc, err := r.loadContent(wctx, db, m.ID)
				if err != nil {
					r.s.logger.Warn("content join failed, degrading row",
						"file", m.ID, "error", err)
					res.NeedsRemoteFetch = true
				} else {
					res.Content = &content
					res.Encoding = enc
				}
			}
			out = append(out, res)
		}
		if err := rows.Err(); err != nil {
			return nil, err
		}

		if err := r.notebooks.bumpAccess(wctx, notebookID); err != nil {
			r.s.logger.Warn("notebook access bump failed", "notebook", notebookID, "error", err)
		}
		return out, nil
	})
}

// Delete removes metadata then content and applies negative stat deltas.
// Deleting a nonexistent file succeeds.
func (r *FileRepo) Delete(ctx context.Context, notebookID, filePath string) error {
	if err := validateFileKey(notebookID, filePath); err != nil {
		return err
	}

	return runWatchdog(ctx, "file delete", deleteFileTimeout, func(wctx context.Context) error {
		db, err := r.s.db(wctx)
		if err != nil {
			return err
		}

		fileID := FileID(notebookID, filePath)

		var size int64
		err = db.QueryRowContext(wctx, `SELECT size FROM files_metadata WHERE id = ?`, fileID).Scan(&size)
		if err == sql.ErrNoRows {
			return nil
		}
		if err != nil {
			return err
		}

		tx, err := db.BeginTx(wctx, nil)
		if err != nil {
			return &TransactionError{Op: "file delete", Cause: err}
		}
		defer func() { _ = tx.Rollback() }()

		if _, err := tx.ExecContext(wctx, `DELETE FROM files_metadata WHERE id = ?`, fileID); err != nil {
			return &TransactionError{Op: "file delete", Cause: err}
		}
		// Absence of a content row is normal for soft-referenced files
		if _, err := tx.ExecContext(wctx, `DELETE FROM files_content WHERE file_id = ?`, fileID); err != nil {
			return &TransactionError{Op: "file delete", Cause: err}
		}
		if err := tx.Commit(); err != nil {
			return &TransactionError{Op: "file delete", Cause: err}
		}

		if err := r.notebooks.AdjustStats(wctx, notebookID, -1, -size); err != nil {
			r.s.logger.Warn("stat adjust failed after delete", "file", fileID, "error", err)
		}
		r.notebooks.logActivitySync(wctx, notebookID, types.ActivityFileDelete, &filePath)
		return nil
	})
}

// UpdateContent promotes a soft-referenced file to local: the payload is
// written, hasLocalContent and storageType flip to local, size is
// recomputed, and only the byte delta hits the aggregate (the file count is
// unchanged).
func (r *FileRepo) UpdateContent(ctx context.Context, notebookID, filePath, content string) error {
	if err := validateFileKey(notebookID, filePath); err != nil {
		return err
	}

	return runWatchdog(ctx, "file content update", updateContentTimeout, func(wctx context.Context) error {
		db, err := r.s.db(wctx)
		if err != nil {
			return err
		}

		fileID := FileID(notebookID, filePath)

		var oldSize int64
		err = db.QueryRowContext(wctx, `SELECT size FROM files_metadata WHERE id = ?`, fileID).Scan(&oldSize)
		if err == sql.ErrNoRows {
			return ErrNotFound
		}
		if err != nil {
			return err
		}

		newSize := int64(len(content))
		hash := hashContent(content)

		encoded, compressed, err := r.s.codec.Encode(content)
		if err != nil {
			return fmt.Errorf("codec encode failed: %w", err)
		}
		enc := types.DetectEncoding(content)

		tx, err := db.BeginTx(wctx, nil)
		if err != nil {
			return &TransactionError{Op: "file content update", Cause: err}
		}
		defer func() { _ = tx.Rollback() }()

		_, err = tx.ExecContext(wctx, `
			INSERT INTO files_content (file_id, content, compressed, encoding)
			VALUES (?, ?, ?, ?)
			ON CONFLICT(file_id) DO UPDATE SET
				content = excluded.content,
				compressed = excluded.compressed,
				encoding = excluded.encoding
		`, fileID, encoded, compressed, string(enc))
		if err != nil {
			return &TransactionError{Op: "file content update", Cause: err}
		}

		_, err = tx.ExecContext(wctx, `
			UPDATE files_metadata
			SET has_local_content = 1, storage_type = ?, size = ?, content_hash = ?, last_modified = ?
			WHERE id = ?
		`, string(types.StorageLocal), newSize, hash, time.Now(), fileID)
		if err != nil {
			return &TransactionError{Op: "file content update", Cause: err}
		}

		if err := tx.Commit(); err != nil {
			return &TransactionError{Op: "file content update", Cause: err}
		}

		if err := r.notebooks.AdjustStats(wctx, notebookID, 0, newSize-oldSize); err != nil {
			r.s.logger.Warn("stat adjust failed after content update", "file", fileID, "error", err)
		}
		return nil
	})
}

// GlobalStats reports store-wide file occupancy for reporting
func (r *FileRepo) GlobalStats(ctx context.Context) (files int, bytes int64, large int, err error) {
	db, err := r.s.db(ctx)
	if err != nil {
		return 0, 0, 0, err
	}
	err = db.QueryRowContext(ctx, `
		SELECT COUNT(*), COALESCE(SUM(size), 0), COALESCE(SUM(is_large_file), 0)
		FROM files_metadata
	`).Scan(&files, &bytes, &large)
	return files, bytes, large, err
}

// GetLargeFiles lists soft-referenced files, globally or scoped to one
// notebook. Feeds cleanup and sync tooling.
func (r *FileRepo) GetLargeFiles(ctx context.Context, notebookID string) ([]*FileMetadata, error) {
	db, err := r.s.db(ctx)
	if err != nil {
		return nil, err
	}

	query := `SELECT ` + fileColumns + ` FROM files_metadata WHERE is_large_file = 1`
	args := []any{}
	if notebookID != "" {
		query += ` AND notebook_id = ?`
		args = append(args, notebookID)
	}
	query += ` ORDER BY size DESC`

	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*FileMetadata
	for rows.Next() {
		m, err := scanFileMetadata(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}
