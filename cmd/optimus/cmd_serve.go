package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/gofrs/flock"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/Shreyas-ITB/Vibgyor-Optimus/internal/api"
	"github.com/Shreyas-ITB/Vibgyor-Optimus/internal/config"
	ctxengine "github.com/Shreyas-ITB/Vibgyor-Optimus/internal/context"
	"github.com/Shreyas-ITB/Vibgyor-Optimus/internal/dispatch"
	"github.com/Shreyas-ITB/Vibgyor-Optimus/internal/gateway"
	"github.com/Shreyas-ITB/Vibgyor-Optimus/internal/runtime"
	"github.com/Shreyas-ITB/Vibgyor-Optimus/internal/state"
	"github.com/Shreyas-ITB/Vibgyor-Optimus/internal/telegram"
	"github.com/Shreyas-ITB/Vibgyor-Optimus/internal/tools"
	"github.com/Shreyas-ITB/Vibgyor-Optimus/internal/types"
	"github.com/Shreyas-ITB/Vibgyor-Optimus/pkg/llm"
	"github.com/Shreyas-ITB/Vibgyor-Optimus/pkg/llm/ollama"
	"github.com/Shreyas-ITB/Vibgyor-Optimus/pkg/llm/openai"
)

const pidFileName = "optimus.pid"

func init() {
	rootCmd.AddCommand(serveCmd)
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the chat API (and the Telegram bot when configured)",
	Args:  cobra.NoArgs,
	RunE:  runServe,
}

// daemonLock is the serve process's claim on its data dir: an exclusive
// flock next to the PID file.
type daemonLock struct {
	pidPath string
	lock    *flock.Flock
}

// claimDaemon takes the lock and writes the PID file. It fails when another
// serve process holds the same data dir.
func claimDaemon(dataDir string) (*daemonLock, error) {
	pidPath := filepath.Join(dataDir, pidFileName)
	fl := flock.New(pidPath + ".lock")
	locked, err := fl.TryLock()
	if err != nil {
		return nil, fmt.Errorf("lock %s: %w", fl.Path(), err)
	}
	if !locked {
		return nil, fmt.Errorf("another optimus serve is running with data dir %s", dataDir)
	}
	if err := os.WriteFile(pidPath, []byte(strconv.Itoa(os.Getpid())+"\n"), 0o644); err != nil {
		fl.Unlock()
		return nil, fmt.Errorf("write PID file: %w", err)
	}
	return &daemonLock{pidPath: pidPath, lock: fl}, nil
}

func (d *daemonLock) release() {
	os.Remove(d.pidPath)
	d.lock.Unlock()
}

func newProvider(cfg *config.Config) llm.Provider {
	lc := &llm.Config{BaseURL: cfg.LLM.BaseURL, APIKey: cfg.LLM.APIKey, Timeout: cfg.LLMTimeout()}
	if cfg.LLM.Provider == "openai" {
		return openai.New(lc)
	}
	return ollama.New(lc)
}

// gatewayStack is everything one serve process shares between surfaces.
type gatewayStack struct {
	provider  llm.Provider
	gateway   *gateway.Gateway
	runtime   *runtime.Runtime
	events    types.EventStore
	artifacts types.ArtifactStore
}

func buildGateway(cfg *config.Config, logger *slog.Logger) (*gatewayStack, error) {
	engine, err := ctxengine.New(cfg.LLM.Encoding)
	if err != nil {
		return nil, fmt.Errorf("create context engine: %w", err)
	}

	retry := gateway.DefaultRetryPolicy()
	if cfg.LLM.RetryAttempts > 0 {
		retry.MaxAttempts = cfg.LLM.RetryAttempts
	}

	st := &gatewayStack{
		provider: newProvider(cfg),
		gateway:  gateway.New(int64(cfg.MaxConcurrent), retry),
	}
	if cfg.Transcripts.Enabled {
		st.events = state.NewEventStore(cfg.DataDir)
		st.artifacts = state.NewArtifactStore(cfg.DataDir)
	}

	dispatcher := dispatch.New(dispatch.Config{
		URL:           cfg.MCP.URL,
		Timeout:       cfg.MCPTimeout(),
		ClientName:    cfg.MCP.ClientName,
		ClientVersion: cfg.MCP.ClientVersion,
	}, nil, logger)

	st.runtime = runtime.New(runtime.Deps{
		Provider:            st.provider,
		Dispatcher:          dispatcher,
		Catalog:             tools.ModelCatalog(cfg.Databases(), cfg.MCP.ExposeIndexTools),
		Engine:              engine,
		Gateway:             st.gateway,
		Retry:               retry,
		Events:              st.events,
		Artifacts:           st.artifacts,
		Logger:              logger,
		MaxRounds:           cfg.MaxToolRounds,
		MaxToolResultTokens: cfg.LLM.MaxToolResultTokens,
		DefaultDatabase:     cfg.Database.Default,
	})
	return st, nil
}

func runServe(cmd *cobra.Command, args []string) error {
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

	if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}
	daemon, err := claimDaemon(cfg.DataDir)
	if err != nil {
		return err
	}
	defer daemon.release()

	st, err := buildGateway(cfg, logger)
	if err != nil {
		return err
	}

	var adapter *telegram.Adapter
	if cfg.Telegram.Token != "" {
		model := cfg.Telegram.Model
		if model == "" {
			model = cfg.LLM.Model
		}
		adapter, err = telegram.New(cfg.Telegram.Token, telegram.Options{
			Runner:      st.runtime,
			Gateway:     st.gateway,
			Model:       model,
			Temperature: cfg.LLM.Temperature,
			Logger:      logger,
		})
		if err != nil {
			return fmt.Errorf("create telegram adapter: %w", err)
		}
	} else {
		logger.Info("telegram adapter disabled (no token)")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// SIGHUP restarts after a graceful shutdown; SIGINT and SIGTERM stop.
	var restart atomic.Bool
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)
	defer signal.Stop(sigChan)
	go func() {
		select {
		case sig := <-sigChan:
			restart.Store(sig == syscall.SIGHUP)
			logger.Info("shutting down", "signal", sig, "restart", restart.Load())
			cancel()
		case <-ctx.Done():
		}
	}()

	g, gctx := errgroup.WithContext(ctx)

	httpServer := &http.Server{
		Addr: cfg.HTTP.Listen,
		Handler: api.NewServer(api.Options{
			Runner:       st.runtime,
			Models:       st.provider,
			Gateway:      st.gateway,
			Events:       st.events,
			Artifacts:    st.artifacts,
			DefaultModel: cfg.LLM.Model,
			Temperature:  cfg.LLM.Temperature,
			RateLimit:    cfg.HTTP.RateLimit,
			RateBurst:    cfg.HTTP.RateBurst,
			Logger:       logger,
		}),
		ReadHeaderTimeout: 10 * time.Second,
	}
	g.Go(func() error {
		logger.Info("chat API listening", "listen", cfg.HTTP.Listen)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("chat API: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, done := context.WithTimeout(context.Background(), 10*time.Second)
		defer done()
		err := httpServer.Shutdown(shutdownCtx)
		if !st.gateway.Drain(30 * time.Second) {
			logger.Warn("conversations still running at shutdown", "active", len(st.gateway.Active()))
		}
		return err
	})

	if adapter != nil {
		g.Go(func() error {
			adapter.Start(gctx)
			return nil
		})
	}

	logger.Info("optimus started",
		"data_dir", cfg.DataDir,
		"pid_file", daemon.pidPath,
		"llm_provider", st.provider.Name(),
		"llm_model", cfg.LLM.Model,
		"mcp_url", cfg.MCP.URL,
		"max_concurrent", cfg.MaxConcurrent,
		"max_tool_rounds", st.runtime.MaxRounds(),
		"transcripts", cfg.Transcripts.Enabled,
	)

	if err := g.Wait(); err != nil {
		return err
	}
	if restart.Load() {
		daemon.release()
		return reexec()
	}
	return nil
}

// reexec replaces the process with a fresh copy of itself.
func reexec() error {
	execPath, err := os.Executable()
	if err != nil {
		return fmt.Errorf("find executable: %w", err)
	}
	slog.Info("restarting", "exec", execPath)
	return syscall.Exec(execPath, os.Args, os.Environ())
}
