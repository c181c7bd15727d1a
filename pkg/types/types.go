package types

import (
	"time"
)

// StorageType describes where a file's content is stored
type StorageType string

const (
	StorageLocal  StorageType = "local"
	StorageRemote StorageType = "remote"
	StorageHybrid StorageType = "hybrid"
)

// Encoding classifies file content for round-trip fidelity
type Encoding string

const (
	EncodingUTF8   Encoding = "utf8"
	EncodingBase64 Encoding = "base64"
	EncodingBinary Encoding = "binary"
)

// ActivityType identifies an entry in a notebook's activity log
type ActivityType string

const (
	ActivityOpen       ActivityType = "open"
	ActivityClose      ActivityType = "close"
	ActivityFileAccess ActivityType = "file_access"
	ActivityFileCreate ActivityType = "file_create"
	ActivityFileDelete ActivityType = "file_delete"
)

// Valid reports whether the activity type is one of the known kinds
func (a ActivityType) Valid() bool {
	switch a {
	case ActivityOpen, ActivityClose, ActivityFileAccess, ActivityFileCreate, ActivityFileDelete:
		return true
	}
	return false
}

// SaveOptions controls file save behavior
type SaveOptions struct {
	// ForceLocal caches full content even past the large-file threshold
	ForceLocal bool
	// Compress requests the configured codec; the default codec is a
	// passthrough, so this is a policy point rather than a guarantee
	Compress bool
}

// CleanupResult reports what a cleanup pass removed
type CleanupResult struct {
	NotebooksDeleted int
	FilesDeleted     int
	BytesFreed       int64
	Duration         time.Duration
}

// CleanupCandidate describes a notebook eligible for eviction
type CleanupCandidate struct {
	NotebookID     string
	Name           string
	LastAccessedAt time.Time
	FileCount      int
	TotalSize      int64
	Reason         string
}

// StorageStats is a read-only snapshot of store occupancy
type StorageStats struct {
	NotebookCount int
	FileCount     int
	TotalSize     int64
	LargeFiles    int
	MaxNotebooks  int
	MaxTotalSize  int64
	LastCleanup   time.Time
}

// MigrationReport carries the outcome of a legacy store import
type MigrationReport struct {
	RunID             string
	StoresScanned     int
	NotebooksImported int
	FilesImported     int
	Errors            []string
	Duration          time.Duration
}

// Failed reports whether the migration produced nothing but errors
func (r *MigrationReport) Failed() bool {
	return r.NotebooksImported == 0 && r.FilesImported == 0 && len(r.Errors) > 0
}

