package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/Shreyas-ITB/Vibgyor-Optimus/internal/config"
	"github.com/Shreyas-ITB/Vibgyor-Optimus/internal/scheduler"
	"github.com/Shreyas-ITB/Vibgyor-Optimus/internal/sqldb"
	"github.com/Shreyas-ITB/Vibgyor-Optimus/internal/sqlindex"
	"github.com/Shreyas-ITB/Vibgyor-Optimus/internal/toolserver"
)

var (
	toolserverListen    string
	toolserverIndexPath string
)

func init() {
	toolserverCmd.Flags().StringVar(&toolserverListen, "listen", "", "listen address (overrides tool_server.listen)")
	toolserverCmd.Flags().StringVar(&toolserverIndexPath, "index-path", "", "SQL tree to index at startup (overrides tool_server.index_path)")
	rootCmd.AddCommand(toolserverCmd)
}

var toolserverCmd = &cobra.Command{
	Use:   "toolserver",
	Short: "Start the MCP tool server for the SQL index and live databases",
	Args:  cobra.NoArgs,
	RunE:  runToolserver,
}

func openStore(cfg *config.Config, logger *slog.Logger) (*sqldb.Store, error) {
	return sqldb.Open(sqldb.Config{
		Driver:  cfg.Database.Driver,
		DSNs:    cfg.Database.DSNs,
		Default: cfg.Database.Default,
		Logger:  logger,
	})
}

func runToolserver(cmd *cobra.Command, args []string) error {
	cfg := loadConfig()
	closeLog, err := setupLogging(cfg)
	if err != nil {
		return err
	}
	defer closeLog()
	stopTracing, err := setupTracing(cfg)
	if err != nil {
		return err
	}
	defer stopTracing()
	logger := slog.Default()

	listen := cfg.ToolServer.Listen
	if toolserverListen != "" {
		listen = toolserverListen
	}
	indexPath := cfg.ToolServer.IndexPath
	if toolserverIndexPath != "" {
		indexPath = toolserverIndexPath
	}

	store, err := openStore(cfg, logger)
	if err != nil {
		return err
	}
	defer store.Close()
	if len(cfg.Database.DSNs) == 0 {
		logger.Warn("no databases configured; live tools will report not connected")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	indexer := sqlindex.NewIndexer(&sqlindex.LogProgress{Logger: logger, Every: 500})
	srv := toolserver.New(toolserver.Config{Name: cfg.ToolServer.Name, Version: cfg.ToolServer.Version}, indexer, store, logger)

	if indexPath != "" {
		if _, _, err := indexer.Load(ctx, indexPath, false); err != nil {
			logger.Error("startup index failed", "path", indexPath, "error", err)
		}
	}

	if schedule := cfg.ToolServer.RefreshSchedule; schedule != "" {
		if indexPath == "" {
			return fmt.Errorf("tool_server.refresh_schedule needs tool_server.index_path")
		}
		sched := scheduler.New(logger)
		if err := sched.Add(scheduler.ReindexJob(indexer, indexPath, schedule)); err != nil {
			return err
		}
		sched.Start()
		defer sched.Stop()
	}

	if cfg.ToolServer.Watch {
		if indexPath == "" {
			return fmt.Errorf("tool_server.watch needs tool_server.index_path")
		}
		go func() {
			if err := sqlindex.Watch(ctx, indexer, indexPath, sqlindex.DefaultQuiet, logger); err != nil {
				logger.Error("sql tree watcher stopped", "path", indexPath, "error", err)
			}
		}()
	}

	httpServer := &http.Server{Addr: listen, Handler: srv.Handler(), ReadHeaderTimeout: 10 * time.Second}
	errCh := make(chan error, 1)
	go func() {
		logger.Info("tool server listening", "listen", listen, "path", toolserver.DefaultPath,
			"name", cfg.ToolServer.Name, "driver", store.Driver(), "databases", store.Allowed())
		errCh <- httpServer.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("tool server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info("shutting down tool server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return httpServer.Shutdown(shutdownCtx)
}
