package mcp

import (
	"github.com/mark3labs/mcp-go/mcp"
)

// saveFileTool returns the tool definition for save_file
func saveFileTool() mcp.Tool {
	return mcp.Tool{
		Name:        "save_file",
		Description: "Cache a file under a notebook; large files keep metadata and a preview only",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"notebook_id": map[string]interface{}{
					"type":        "string",
					"description": "Owning notebook identifier",
				},
				"file_path": map[string]interface{}{
					"type":        "string",
					"description": "Path of the file inside the notebook",
				},
				"content": map[string]interface{}{
					"type":        "string",
					"description": "Full file content",
				},
				"force_local": map[string]interface{}{
					"type":        "boolean",
					"description": "Cache full content even past the large-file threshold",
					"default":     false,
				},
			},
			Required: []string{"notebook_id", "file_path", "content"},
		},
	}
}

// getFileTool returns the tool definition for get_file
func getFileTool() mcp.Tool {
	return mcp.Tool{
		Name:        "get_file",
		Description: "Read a cached file; needs_remote_fetch means the caller must fetch content from the backend",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"notebook_id": map[string]interface{}{
					"type":        "string",
					"description": "Owning notebook identifier",
				},
				"file_path": map[string]interface{}{
					"type":        "string",
					"description": "Path of the file inside the notebook",
				},
			},
			Required: []string{"notebook_id", "file_path"},
		},
	}
}

// listFilesTool returns the tool definition for list_files
func listFilesTool() mcp.Tool {
	return mcp.Tool{
		Name:        "list_files",
		Description: "List every cached file in a notebook",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"notebook_id": map[string]interface{}{
					"type":        "string",
					"description": "Owning notebook identifier",
				},
				"include_content": map[string]interface{}{
					"type":        "boolean",
					"description": "Include content for locally cached files",
					"default":     false,
				},
			},
			Required: []string{"notebook_id"},
		},
	}
}

// listNotebooksTool returns the tool definition for list_notebooks
func listNotebooksTool() mcp.Tool {
	return mcp.Tool{
		Name:        "list_notebooks",
		Description: "List notebooks ordered by recency or access count",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"order_by": map[string]interface{}{
					"type":        "string",
					"description": "One of lastAccessedAt, updatedAt, accessCount",
					"default":     "lastAccessedAt",
				},
				"limit": map[string]interface{}{
					"type":        "integer",
					"description": "Maximum number of notebooks to return",
					"default":     20,
				},
				"offset": map[string]interface{}{
					"type":        "integer",
					"description": "Number of notebooks to skip",
					"default":     0,
				},
			},
		},
	}
}

// notebookStatsTool returns the tool definition for notebook_stats
func notebookStatsTool() mcp.Tool {
	return mcp.Tool{
		Name:        "notebook_stats",
		Description: "Ground-truth file count and size for a notebook, plus recent activity",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"notebook_id": map[string]interface{}{
					"type":        "string",
					"description": "Notebook identifier",
				},
			},
			Required: []string{"notebook_id"},
		},
	}
}

// deleteNotebookTool returns the tool definition for delete_notebook
func deleteNotebookTool() mcp.Tool {
	return mcp.Tool{
		Name:        "delete_notebook",
		Description: "Cascade-delete a notebook with all file metadata, content, and activities",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"notebook_id": map[string]interface{}{
					"type":        "string",
					"description": "Notebook identifier",
				},
			},
			Required: []string{"notebook_id"},
		},
	}
}

// storageStatsTool returns the tool definition for storage_stats
func storageStatsTool() mcp.Tool {
	return mcp.Tool{
		Name:        "storage_stats",
		Description: "Store-wide occupancy against configured limits",
		InputSchema: mcp.ToolInputSchema{
			Type:       "object",
			Properties: map[string]interface{}{},
		},
	}
}

// runCleanupTool returns the tool definition for run_cleanup
func runCleanupTool() mcp.Tool {
	return mcp.Tool{
		Name:        "run_cleanup",
		Description: "Run the retention/capacity cleanup pass now",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"force": map[string]interface{}{
					"type":        "boolean",
					"description": "Run even if another cleanup is already active",
					"default":     false,
				},
				"emergency": map[string]interface{}{
					"type":        "boolean",
					"description": "Trim the notebook set to 70% of capacity regardless of retention",
					"default":     false,
				},
			},
		},
	}
}
