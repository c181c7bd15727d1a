package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/notekit/nbstore/internal/manager"
	"github.com/notekit/nbstore/internal/storage"
	"github.com/notekit/nbstore/pkg/types"
)

// MCP error codes
const (
	ErrorCodeInvalidParams     = -32602 // Invalid method parameters
	ErrorCodeInternalError     = -32603 // Internal JSON-RPC error
	ErrorCodeNotebookNotFound  = -32001 // Notebook does not exist
	ErrorCodeCleanupInProgress = -32002 // Another cleanup is already running
)

// handleSaveFile handles the save_file tool invocation
func (s *Server) handleSaveFile(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, ok := request.Params.Arguments.(map[string]interface{})
	if !ok {
		return nil, newMCPError(ErrorCodeInvalidParams, "invalid arguments", nil)
	}

	notebookID, filePath, err := fileKeyArgs(args)
	if err != nil {
		return nil, err
	}
	content, ok := args["content"].(string)
	if !ok {
		return nil, newMCPError(ErrorCodeInvalidParams, "content parameter is required", map[string]interface{}{
			"param": "content",
		})
	}
	forceLocal := getBoolDefault(args, "force_local", false)

	meta, err := s.manager.Store().Files().Save(ctx, storage.SaveFileInput{
		NotebookID: notebookID,
		FilePath:   filePath,
		Content:    content,
	}, types.SaveOptions{ForceLocal: forceLocal})
	if err != nil {
		return nil, newMCPError(ErrorCodeInternalError, "save failed", map[string]interface{}{
			"error": err.Error(),
		})
	}

	return mcp.NewToolResultText(formatJSON(map[string]interface{}{
		"saved":             true,
		"file_id":           meta.ID,
		"size":              meta.Size,
		"storage_type":      string(meta.StorageType),
		"has_local_content": meta.HasLocalContent,
		"is_large_file":     meta.IsLargeFile,
	})), nil
}

// handleGetFile handles the get_file tool invocation
func (s *Server) handleGetFile(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, ok := request.Params.Arguments.(map[string]interface{})
	if !ok {
		return nil, newMCPError(ErrorCodeInvalidParams, "invalid arguments", nil)
	}

	notebookID, filePath, err := fileKeyArgs(args)
	if err != nil {
		return nil, err
	}

	res, err := s.manager.Store().Files().Get(ctx, notebookID, filePath)
	if err != nil {
		return nil, newMCPError(ErrorCodeInternalError, "read failed", map[string]interface{}{
			"error": err.Error(),
		})
	}
	if res == nil {
		return mcp.NewToolResultText(formatJSON(map[string]interface{}{
			"found": false,
		})), nil
	}

	response := map[string]interface{}{
		"found":              true,
		"metadata":           metadataJSON(res.Metadata),
		"needs_remote_fetch": res.NeedsRemoteFetch,
	}
	if res.Content != nil {
		response["content"] = *res.Content
		response["encoding"] = string(res.Encoding)
	}
	return mcp.NewToolResultText(formatJSON(response)), nil
}

// handleListFiles handles the list_files tool invocation
func (s *Server) handleListFiles(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, ok := request.Params.Arguments.(map[string]interface{})
	if !ok {
		return nil, newMCPError(ErrorCodeInvalidParams, "invalid arguments", nil)
	}

	notebookID, ok := args["notebook_id"].(string)
	if !ok || notebookID == "" {
		return nil, newMCPError(ErrorCodeInvalidParams, "notebook_id parameter is required", nil)
	}
	includeContent := getBoolDefault(args, "include_content", false)

	results, err := s.manager.Store().Files().GetAllForNotebook(ctx, notebookID, includeContent)
	if err != nil {
		return nil, newMCPError(ErrorCodeInternalError, "listing failed", map[string]interface{}{
			"error": err.Error(),
		})
	}

	files := make([]map[string]interface{}, 0, len(results))
	for _, res := range results {
		entry := metadataJSON(res.Metadata)
		entry["needs_remote_fetch"] = res.NeedsRemoteFetch
		if res.Content != nil {
			entry["content"] = *res.Content
		}
		files = append(files, entry)
	}
	return mcp.NewToolResultText(formatJSON(map[string]interface{}{
		"notebook_id": notebookID,
		"count":       len(files),
		"files":       files,
	})), nil
}

// handleListNotebooks handles the list_notebooks tool invocation
func (s *Server) handleListNotebooks(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, _ := request.Params.Arguments.(map[string]interface{})
	if args == nil {
		args = map[string]interface{}{}
	}

	orderBy := storage.NotebookOrder(getStringDefault(args, "order_by", string(storage.OrderByLastAccessed)))
	limit := getIntDefault(args, "limit", 20)
	offset := getIntDefault(args, "offset", 0)
	if limit < 0 || offset < 0 {
		return nil, newMCPError(ErrorCodeInvalidParams, "limit and offset must not be negative", nil)
	}

	notebooks, err := s.manager.Store().Notebooks().List(ctx, orderBy, limit, offset)
	if err != nil {
		return nil, newMCPError(ErrorCodeInternalError, "listing failed", map[string]interface{}{
			"error": err.Error(),
		})
	}

	out := make([]map[string]interface{}, 0, len(notebooks))
	for _, nb := range notebooks {
		out = append(out, map[string]interface{}{
			"id":               nb.ID,
			"name":             nb.Name,
			"file_count":       nb.FileCount,
			"total_size":       nb.TotalSize,
			"access_count":     nb.AccessCount,
			"last_accessed_at": nb.LastAccessedAt.Format(time.RFC3339),
		})
	}
	return mcp.NewToolResultText(formatJSON(map[string]interface{}{
		"count":     len(out),
		"notebooks": out,
	})), nil
}

// handleNotebookStats handles the notebook_stats tool invocation
func (s *Server) handleNotebookStats(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, ok := request.Params.Arguments.(map[string]interface{})
	if !ok {
		return nil, newMCPError(ErrorCodeInvalidParams, "invalid arguments", nil)
	}
	notebookID, ok := args["notebook_id"].(string)
	if !ok || notebookID == "" {
		return nil, newMCPError(ErrorCodeInvalidParams, "notebook_id parameter is required", nil)
	}

	stats, err := s.manager.Store().Notebooks().Stats(ctx, notebookID)
	if err != nil {
		return nil, newMCPError(ErrorCodeInternalError, "stats failed", map[string]interface{}{
			"error": err.Error(),
		})
	}
	if stats == nil {
		return nil, newMCPError(ErrorCodeNotebookNotFound, "notebook not found", map[string]interface{}{
			"notebook_id": notebookID,
		})
	}

	activities := make([]map[string]interface{}, 0, len(stats.RecentActivities))
	for _, a := range stats.RecentActivities {
		entry := map[string]interface{}{
			"type":      string(a.Type),
			"timestamp": a.Timestamp.Format(time.RFC3339),
		}
		if a.FilePath != nil {
			entry["file_path"] = *a.FilePath
		}
		activities = append(activities, entry)
	}

	return mcp.NewToolResultText(formatJSON(map[string]interface{}{
		"notebook_id":       notebookID,
		"name":              stats.Notebook.Name,
		"file_count":        stats.FileCount,
		"total_size":        stats.TotalSize,
		"access_count":      stats.Notebook.AccessCount,
		"recent_activities": activities,
	})), nil
}

// handleDeleteNotebook handles the delete_notebook tool invocation
func (s *Server) handleDeleteNotebook(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, ok := request.Params.Arguments.(map[string]interface{})
	if !ok {
		return nil, newMCPError(ErrorCodeInvalidParams, "invalid arguments", nil)
	}
	notebookID, ok := args["notebook_id"].(string)
	if !ok || notebookID == "" {
		return nil, newMCPError(ErrorCodeInvalidParams, "notebook_id parameter is required", nil)
	}

	if err := s.manager.Store().Notebooks().Delete(ctx, notebookID); err != nil {
		return nil, newMCPError(ErrorCodeInternalError, "delete failed", map[string]interface{}{
			"error": err.Error(),
		})
	}
	return mcp.NewToolResultText(formatJSON(map[string]interface{}{
		"deleted":     true,
		"notebook_id": notebookID,
	})), nil
}

// handleStorageStats handles the storage_stats tool invocation
func (s *Server) handleStorageStats(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	stats, err := s.manager.StorageStats(ctx)
	if err != nil {
		return nil, newMCPError(ErrorCodeInternalError, "stats failed", map[string]interface{}{
			"error": err.Error(),
		})
	}

	response := map[string]interface{}{
		"notebook_count": stats.NotebookCount,
		"file_count":     stats.FileCount,
		"total_size":     stats.TotalSize,
		"large_files":    stats.LargeFiles,
		"max_notebooks":  stats.MaxNotebooks,
		"max_total_size": stats.MaxTotalSize,
	}
	if !stats.LastCleanup.IsZero() {
		response["last_cleanup"] = stats.LastCleanup.Format(time.RFC3339)
	}
	return mcp.NewToolResultText(formatJSON(response)), nil
}

// handleRunCleanup handles the run_cleanup tool invocation
func (s *Server) handleRunCleanup(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, _ := request.Params.Arguments.(map[string]interface{})
	if args == nil {
		args = map[string]interface{}{}
	}
	force := getBoolDefault(args, "force", false)
	emergency := getBoolDefault(args, "emergency", false)

	var result *types.CleanupResult
	var err error
	if emergency {
		result, err = s.manager.EmergencyCleanup(ctx)
	} else {
		result, err = s.manager.CleanupStorage(ctx, force)
	}
	if err != nil {
		code := ErrorCodeInternalError
		if errors.Is(err, manager.ErrCleanupInProgress) {
			code = ErrorCodeCleanupInProgress
		}
		return nil, newMCPError(code, "cleanup failed", map[string]interface{}{
			"error": err.Error(),
		})
	}

	return mcp.NewToolResultText(formatJSON(map[string]interface{}{
		"notebooks_deleted": result.NotebooksDeleted,
		"files_deleted":     result.FilesDeleted,
		"bytes_freed":       result.BytesFreed,
		"duration_ms":       result.Duration.Milliseconds(),
	})), nil
}

// Helper functions

func fileKeyArgs(args map[string]interface{}) (string, string, error) {
	notebookID, ok := args["notebook_id"].(string)
	if !ok || notebookID == "" {
		return "", "", newMCPError(ErrorCodeInvalidParams, "notebook_id parameter is required", map[string]interface{}{
			"param": "notebook_id",
		})
	}
	filePath, ok := args["file_path"].(string)
	if !ok || filePath == "" {
		return "", "", newMCPError(ErrorCodeInvalidParams, "file_path parameter is required", map[string]interface{}{
			"param": "file_path",
		})
	}
	return notebookID, filePath, nil
}

func metadataJSON(m *storage.FileMetadata) map[string]interface{} {
	entry := map[string]interface{}{
		"file_id":           m.ID,
		"file_path":         m.FilePath,
		"file_name":         m.FileName,
		"size":              m.Size,
		"storage_type":      string(m.StorageType),
		"has_local_content": m.HasLocalContent,
		"is_large_file":     m.IsLargeFile,
		"access_count":      m.AccessCount,
		"last_accessed_at":  m.LastAccessedAt.Format(time.RFC3339),
	}
	if m.ContentPreview != nil {
		entry["content_preview"] = *m.ContentPreview
	}
	return entry
}

// newMCPError creates a properly formatted MCP error
func newMCPError(code int, message string, data interface{}) error {
	// MCP errors are returned as regular errors, the framework handles encoding
	return &MCPError{
		Code:    code,
		Message: message,
		Data:    data,
	}
}

// MCPError represents an MCP protocol error
type MCPError struct {
	Code    int
	Message string
	Data    interface{}
}

func (e *MCPError) Error() string {
	return fmt.Sprintf("MCP error %d: %s", e.Code, e.Message)
}

// formatJSON formats a map as indented JSON
func formatJSON(data map[string]interface{}) string {
	bytes, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return fmt.Sprintf("%v", data)
	}
	return string(bytes)
}

// getBoolDefault extracts a boolean parameter with a default value
func getBoolDefault(args map[string]interface{}, key string, defaultValue bool) bool {
	if val, ok := args[key].(bool); ok {
		return val
	}
	return defaultValue
}

// getIntDefault extracts an integer parameter with a default value
func getIntDefault(args map[string]interface{}, key string, defaultValue int) int {
	if val, ok := args[key].(float64); ok {
		return int(val)
	}
	if val, ok := args[key].(int); ok {
		return val
	}
	return defaultValue
}

// getStringDefault extracts a string parameter with a default value
func getStringDefault(args map[string]interface{}, key string, defaultValue string) string {
	if val, ok := args[key].(string); ok {
		return val
	}
	return defaultValue
}
