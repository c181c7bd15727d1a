package storage

import (
	"fmt"
	"strings"
	"time"

	"github.com/notekit/nbstore/pkg/types"
)

// KeySeparator joins composite identifiers. Changing it orphans every
// existing row, so it is fixed.
const KeySeparator = "::"

// Notebook is the top-level entity owning files and an activity history.
// FileCount and TotalSize are maintained aggregates that can drift from
// ground truth under concurrent writes; RecalcStats repairs them.
type Notebook struct {
	ID             string
	Name           string
	Description    string
	CreatedAt      time.Time
	UpdatedAt      time.Time
	LastAccessedAt time.Time
	AccessCount    int64
	FileCount      int64
	TotalSize      int64
	CacheEnabled   bool
	MaxCacheSize   *int64
}

// FileMetadata describes one cached file. The row can outlive its content:
// large files keep metadata plus a preview while the full payload stays
// remote until promoted via UpdateContent.
type FileMetadata struct {
	ID              string
	NotebookID      string
	FilePath        string
	FileName        string
	FileType        string
	Size            int64
	LastModified    time.Time
	CachedAt        time.Time
	LastAccessedAt  time.Time
	AccessCount     int64
	StorageType     types.StorageType
	HasLocalContent bool
	RemoteURL       *string
	ContentHash     *string
	IsLargeFile     bool
	ContentPreview  *string
}

// FileContent is the payload row; it exists iff the owning metadata has
// HasLocalContent set.
type FileContent struct {
	FileID     string
	Content    string
	Compressed bool
	Encoding   types.Encoding
}

// Activity is one append-only entry in a notebook's activity log
type Activity struct {
	ID         string
	NotebookID string
	Type       types.ActivityType
	FilePath   *string
	Timestamp  time.Time
	Metadata   *string
}

// StorageConfig is the persisted singleton configuration row
type StorageConfig struct {
	MaxNotebooks       int
	MaxTotalSize       int64
	MaxFileSize        int64
	CleanupInterval    time.Duration
	RetentionPeriod    time.Duration
	CompressionEnabled bool
	LastCleanup        time.Time
}

// DefaultConfig returns the defaults persisted on first initialization
func DefaultConfig() StorageConfig {
	return StorageConfig{
		MaxNotebooks:       50,
		MaxTotalSize:       500 * 1024 * 1024,
		MaxFileSize:        10 * 1024 * 1024,
		CleanupInterval:    time.Hour,
		RetentionPeriod:    7 * 24 * time.Hour,
		CompressionEnabled: true,
	}
}

// FileID builds the composite file key
func FileID(notebookID, filePath string) string {
	return notebookID + KeySeparator + filePath
}

// ActivityID builds the composite activity key
func ActivityID(notebookID string, ts time.Time) string {
	return fmt.Sprintf("%s%s%d", notebookID, KeySeparator, ts.UnixNano())
}

// FileNameOf extracts the base name from a slash-separated path
func FileNameOf(filePath string) string {
	if i := strings.LastIndexByte(filePath, '/'); i >= 0 {
		return filePath[i+1:]
	}
	return filePath
}

// FileTypeOf extracts the lowercase extension, without the dot
func FileTypeOf(filePath string) string {
	name := FileNameOf(filePath)
	if i := strings.LastIndexByte(name, '.'); i > 0 && i < len(name)-1 {
		return strings.ToLower(name[i+1:])
	}
	return ""
}

// Validate checks the identifying fields required before any IO
func (n *Notebook) Validate() error {
	if n.ID == "" {
		return &ValidationError{Field: "notebook.id", Reason: "must not be empty"}
	}
	if n.Name == "" {
		return &ValidationError{Field: "notebook.name", Reason: "must not be empty"}
	}
	return nil
}
