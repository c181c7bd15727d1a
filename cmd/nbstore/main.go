package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/notekit/nbstore/internal/config"
	"github.com/notekit/nbstore/internal/logging"
	"github.com/notekit/nbstore/internal/manager"
	"github.com/notekit/nbstore/internal/mcp"
	"github.com/notekit/nbstore/internal/storage"
)

var (
	version   = "dev"
	buildTime = "unknown"
)

var configPath string

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "path to TOML config file")
	rootCmd.AddCommand(versionCmd, serveCmd, statsCmd, cleanupCmd, migrateCmd)

	cleanupCmd.Flags().Bool("force", false, "run even if another cleanup is active")
	cleanupCmd.Flags().Bool("emergency", false, "trim to 70% of capacity regardless of retention")
	migrateCmd.Flags().Bool("force", false, "delete current notebooks first, then reimport")
}

// newManager wires the engine from the config file. The caller must defer
// Close on the returned manager.
func newManager() (*manager.Manager, *config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, err
	}
	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return nil, nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	logger := logging.New(os.Stderr, cfg.LogLevel)
	conn := storage.NewConn(cfg.DBPath(), logger)
	store := storage.NewStore(conn, nil, logger)
	mgr := manager.New(store, cfg.DataDir, logger)
	mgr.SetStorageOverrides(cfg.Storage)

	if err := mgr.Initialize(context.Background()); err != nil {
		_ = store.Close()
		return nil, nil, err
	}
	return mgr, cfg, nil
}

var rootCmd = &cobra.Command{
	Use:   "nbstore",
	Short: "Embedded notebook/file cache engine",
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version and build information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("nbstore\n")
		fmt.Printf("Version: %s\n", version)
		fmt.Printf("Build Time: %s\n", buildTime)
		fmt.Printf("Build Mode: %s\n", storage.BuildMode)
		fmt.Printf("SQLite Driver: %s\n", storage.DriverName)
		fmt.Printf("Schema: %s\n", storage.CurrentSchemaVersion)
	},
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the engine over MCP on stdio",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(configPath)
		if err != nil {
			return err
		}

		// stdout is reserved for the MCP protocol; logs go to stderr
		logger := logging.New(os.Stderr, cfg.LogLevel)
		srv, err := mcp.NewServer(cfg, logger)
		if err != nil {
			return err
		}

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

		errChan := make(chan error, 1)
		go func() {
			errChan <- srv.Serve(ctx)
		}()

		select {
		case sig := <-sigChan:
			logger.Info("shutting down", "signal", sig.String())
			cancel()
			return nil
		case err := <-errChan:
			return err
		}
	},
}

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Print store occupancy against configured limits",
	RunE: func(cmd *cobra.Command, args []string) error {
		mgr, _, err := newManager()
		if err != nil {
			return err
		}
		defer func() { _ = mgr.Close() }()

		stats, err := mgr.StorageStats(cmd.Context())
		if err != nil {
			return err
		}

		fmt.Printf("Notebooks: %d / %d\n", stats.NotebookCount, stats.MaxNotebooks)
		fmt.Printf("Files: %d (%d soft-referenced)\n", stats.FileCount, stats.LargeFiles)
		fmt.Printf("Total size: %d / %d bytes\n", stats.TotalSize, stats.MaxTotalSize)
		if !stats.LastCleanup.IsZero() {
			fmt.Printf("Last cleanup: %s\n", stats.LastCleanup)
		}

		candidates, err := mgr.CleanupCandidates(cmd.Context())
		if err != nil {
			return err
		}
		if len(candidates) > 0 {
			fmt.Printf("\nCleanup candidates:\n")
			for _, c := range candidates {
				fmt.Printf("  %s (%s): %s\n", c.NotebookID, c.Name, c.Reason)
			}
		}
		return nil
	},
}

var cleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Run the retention/capacity cleanup pass now",
	RunE: func(cmd *cobra.Command, args []string) error {
		mgr, _, err := newManager()
		if err != nil {
			return err
		}
		defer func() { _ = mgr.Close() }()

		force, _ := cmd.Flags().GetBool("force")
		emergency, _ := cmd.Flags().GetBool("emergency")

		if emergency {
			res, err := mgr.EmergencyCleanup(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Printf("Deleted %d notebooks, freed %d bytes in %s\n",
				res.NotebooksDeleted, res.BytesFreed, res.Duration)
			return nil
		}

		res, err := mgr.CleanupStorage(cmd.Context(), force)
		if err != nil {
			return err
		}
		fmt.Printf("Deleted %d notebooks (%d files), freed %d bytes in %s\n",
			res.NotebooksDeleted, res.FilesDeleted, res.BytesFreed, res.Duration)
		return nil
	},
}

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Import data from prior-generation store files",
	RunE: func(cmd *cobra.Command, args []string) error {
		mgr, _, err := newManager()
		if err != nil {
			return err
		}
		defer func() { _ = mgr.Close() }()

		force, _ := cmd.Flags().GetBool("force")

		run := mgr.Migrator().Migrate
		if force {
			run = mgr.Migrator().ForceMigration
		}
		res, err := run(cmd.Context())
		if err != nil {
			return err
		}

		fmt.Printf("Run %s: %d stores scanned, %d notebooks, %d files imported in %s\n",
			res.RunID, res.StoresScanned, res.NotebooksImported, res.FilesImported, res.Duration)
		for _, e := range res.Errors {
			fmt.Printf("  error: %s\n", e)
		}
		return nil
	},
}
