// zurk-server is the orchestration backend for long-running coding
// agent sessions. It exposes the HTTP API, owns the sqlite store, and
// supervises agent and preview subprocesses.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/zurk-ai/zurk/internal/agent"
	"github.com/zurk-ai/zurk/internal/approval"
	"github.com/zurk-ai/zurk/internal/config"
	"github.com/zurk-ai/zurk/internal/discovery"
	"github.com/zurk-ai/zurk/internal/event"
	"github.com/zurk-ai/zurk/internal/logging"
	"github.com/zurk-ai/zurk/internal/orchestrator"
	"github.com/zurk-ai/zurk/internal/preview"
	"github.com/zurk-ai/zurk/internal/project"
	"github.com/zurk-ai/zurk/internal/server"
	"github.com/zurk-ai/zurk/internal/store"
)

// Version information set at build time.
var (
	Version   = server.Version
	BuildTime = "dev"
)

// shutdownTimeout bounds graceful shutdown of in-flight requests.
const shutdownTimeout = 30 * time.Second

var (
	flagHost     string
	flagPort     int
	flagLogLevel string
	flagPretty   bool
)

var rootCmd = &cobra.Command{
	Use:   "zurk-server",
	Short: "Orchestration backend for coding agent sessions",
	Long: `zurk-server manages long-running coding agent sessions: it registers
projects, launches and resumes agent processes, coordinates tool
approvals, runs dev-server previews, and streams session events over
an HTTP API.`,
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE:          runServe,
}

func init() {
	rootCmd.Flags().StringVar(&flagHost, "host", "", "Address to bind (overrides config)")
	rootCmd.Flags().IntVarP(&flagPort, "port", "p", 0, "Port to listen on (overrides config)")
	rootCmd.Flags().StringVar(&flagLogLevel, "log-level", "", "Log level (DEBUG|INFO|WARN|ERROR)")
	rootCmd.Flags().BoolVar(&flagPretty, "pretty", false, "Human-readable console logging")

	rootCmd.SetVersionTemplate(fmt.Sprintf("zurk-server %s (%s)\n", Version, BuildTime))
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if flagHost != "" {
		cfg.Host = flagHost
	}
	if flagPort != 0 {
		cfg.Port = flagPort
	}
	if flagLogLevel != "" {
		cfg.LogLevel = flagLogLevel
	}
	if flagPretty {
		cfg.LogPretty = true
	}

	logging.Init(logging.Config{
		Level:  logging.ParseLevel(cfg.LogLevel),
		Pretty: cfg.LogPretty,
	})
	log := logging.ForComponent("main")

	paths := config.GetPaths()
	if err := paths.EnsurePaths(); err != nil {
		return fmt.Errorf("failed to create data directories: %w", err)
	}

	st, err := store.Open(cfg.DatabasePath)
	if err != nil {
		return fmt.Errorf("failed to open store at %s: %w", cfg.DatabasePath, err)
	}
	defer st.Close()

	bus := event.NewBus()
	defer bus.Close()

	approvals := approval.NewHandler()
	runtime := agent.NewRuntime(cfg, approvals)
	orch := orchestrator.New(st, runtime, approvals, bus)
	registry := project.NewRegistry(st)
	previews := preview.NewManager(filepath.Join(paths.State, "preview"), bus)
	scanner := discovery.NewScanner(cfg.AgentHome)

	srvCfg := server.DefaultConfig()
	srvCfg.Host = cfg.Host
	srvCfg.Port = cfg.Port
	srvCfg.CORSOrigins = cfg.CORSOrigins
	srvCfg.AgentBinary = cfg.AgentBinary

	srv := server.New(srvCfg, server.Deps{
		Store:        st,
		Registry:     registry,
		Orchestrator: orch,
		Runtime:      runtime,
		Preview:      previews,
		Scanner:      scanner,
		Bus:          bus,
	})

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", cfg.Addr()).Str("version", Version).Msg("server listening")
		if err := srv.Start(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-quit:
		log.Info().Str("signal", sig.String()).Msg("shutting down")
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("server shutdown error")
	}
	runtime.Cleanup()
	previews.CleanupAll()

	log.Info().Msg("server stopped")
	return nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
