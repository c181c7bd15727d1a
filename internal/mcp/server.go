package mcp

import (
	"context"
	"fmt"
	"os"

	"github.com/mark3labs/mcp-go/server"

	"github.com/notekit/nbstore/internal/config"
	"github.com/notekit/nbstore/internal/logging"
	"github.com/notekit/nbstore/internal/manager"
	"github.com/notekit/nbstore/internal/storage"
)

const (
	// ServerName is the MCP server name
	ServerName = "nbstore"
	// ServerVersion is the current server version
	ServerVersion = "1.0.0"
)

// Server wraps the MCP server with the storage engine it fronts
type Server struct {
	mcp     *server.MCPServer
	manager *manager.Manager
	logger  logging.Logger
}

// NewServer wires the engine under cfg.DataDir and registers the tools. The
// engine is initialized here so a broken store fails fast at startup.
func NewServer(cfg *config.Config, logger logging.Logger) (*Server, error) {
	if logger == nil {
		logger = logging.NewNopLogger()
	}

	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	conn := storage.NewConn(cfg.DBPath(), logger)
	store := storage.NewStore(conn, nil, logger)
	mgr := manager.New(store, cfg.DataDir, logger)
	mgr.SetStorageOverrides(cfg.Storage)

	if err := mgr.Initialize(context.Background()); err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("failed to initialize storage: %w", err)
	}

	mcpServer := server.NewMCPServer(
		ServerName,
		ServerVersion,
	)

	s := &Server{
		mcp:     mcpServer,
		manager: mgr,
		logger:  logger,
	}
	s.registerTools()
	return s, nil
}

// Serve runs the MCP server on stdio and blocks until shutdown
func (s *Server) Serve(ctx context.Context) error {
	defer func() { _ = s.manager.Close() }()
	return server.ServeStdio(s.mcp)
}

// Close releases the engine without serving
func (s *Server) Close() error {
	return s.manager.Close()
}

func (s *Server) registerTools() {
	s.mcp.AddTool(saveFileTool(), s.handleSaveFile)
	s.mcp.AddTool(getFileTool(), s.handleGetFile)
	s.mcp.AddTool(listFilesTool(), s.handleListFiles)
	s.mcp.AddTool(listNotebooksTool(), s.handleListNotebooks)
	s.mcp.AddTool(notebookStatsTool(), s.handleNotebookStats)
	s.mcp.AddTool(deleteNotebookTool(), s.handleDeleteNotebook)
	s.mcp.AddTool(storageStatsTool(), s.handleStorageStats)
	s.mcp.AddTool(runCleanupTool(), s.handleRunCleanup)
}
