// Command orchestrator runs the GTM orchestration-core HTTP/SSE server: the
// scheduler, checkpoint store, event bus, and validator wired together
// behind the API surface in pkg/api.
package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/codeready-toolchain/gtmcore/pkg/api"
	"github.com/codeready-toolchain/gtmcore/pkg/checkpoint"
	"github.com/codeready-toolchain/gtmcore/pkg/database"
	"github.com/codeready-toolchain/gtmcore/pkg/events"
	"github.com/codeready-toolchain/gtmcore/pkg/graph"
	"github.com/codeready-toolchain/gtmcore/pkg/provider"
	"github.com/codeready-toolchain/gtmcore/pkg/retention"
	"github.com/codeready-toolchain/gtmcore/pkg/runtimeconfig"
	"github.com/codeready-toolchain/gtmcore/pkg/scheduler"
	"github.com/codeready-toolchain/gtmcore/pkg/version"
)

// retentionCheckInterval is how often the retention loop checks for
// runs to purge — independent of CheckpointRetention, which is how old a
// completed run must be before it's eligible.
const retentionCheckInterval = 1 * time.Hour

// Exit codes (§C.3): 0 clean shutdown, 2 boot/config failure, 3 store
// connection failure, 4 schema-version mismatch on the checkpoint table.
const (
	exitOK             = 0
	exitBootFailure    = 2
	exitStoreFailure   = 3
	exitSchemaMismatch = 4
)

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func main() {
	os.Exit(run())
}

func run() int {
	configDir := flag.String("config-dir", getEnv("CONFIG_DIR", "./deploy/config"), "Path to configuration directory")
	flag.Parse()

	envPath := filepath.Join(*configDir, ".env")
	if err := godotenv.Load(envPath); err != nil {
		slog.Warn("could not load .env file, continuing with existing environment", "path", envPath, "error", err)
	} else {
		slog.Info("loaded environment", "path", envPath)
	}

	cfgPath := filepath.Join(*configDir, "runtime.yaml")
	cfg, err := loadRuntimeConfig(cfgPath)
	if err != nil {
		slog.Error("failed to load runtime configuration", "path", cfgPath, "error", err)
		return exitBootFailure
	}

	dbConfig, err := database.LoadConfigFromEnv()
	if err != nil {
		slog.Error("failed to load database configuration", "error", err)
		return exitBootFailure
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	dbClient, err := database.NewClient(ctx, dbConfig)
	if err != nil {
		if strings.Contains(err.Error(), "migrat") {
			slog.Error("checkpoint schema is not at the version this binary expects", "error", err)
			return exitSchemaMismatch
		}
		slog.Error("failed to connect to database", "error", err)
		return exitStoreFailure
	}
	defer func() {
		if err := dbClient.Close(); err != nil {
			slog.Error("error closing database client", "error", err)
		}
	}()
	slog.Info("connected to postgres, schema up to date")

	store := checkpoint.New(dbClient.DB())
	bus := events.NewBus(store)

	registry, err := buildRegistry(cfg)
	if err != nil {
		slog.Error("failed to build agent registry", "error", err)
		return exitBootFailure
	}

	sched := scheduler.New(store, bus, registry, cfg)
	server := api.NewServer(cfg, dbClient, store, bus, sched)

	retentionSvc := retention.NewService(store, cfg.CheckpointRetention, retentionCheckInterval)
	retentionSvc.Start(ctx)
	defer retentionSvc.Stop()

	slog.Info("starting "+version.Full(), "bind_address", cfg.HTTPBindAddress, "provider_mode", cfg.ProviderMode)

	errCh := make(chan error, 1)
	go func() {
		if err := server.Start(cfg.HTTPBindAddress); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		slog.Info("shutdown signal received")
	case err := <-errCh:
		slog.Error("http server failed", "error", err)
		return exitBootFailure
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.Error("error during graceful shutdown", "error", err)
	}

	return exitOK
}

// loadRuntimeConfig loads path if present, or falls back to built-in
// defaults validated as-is — runtime.yaml is optional, unlike the database
// environment variables (§A Configuration).
func loadRuntimeConfig(path string) (*runtimeconfig.RuntimeConfig, error) {
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		cfg := runtimeconfig.Defaults()
		if err := runtimeconfig.NewValidator(cfg).ValidateAll(); err != nil {
			return nil, err
		}
		return cfg, nil
	}
	return runtimeconfig.Load(path)
}

// buildRegistry constructs the thirteen-agent provider.Registry per
// cfg.ProviderMode: fixture agents read recorded outputs from
// cfg.FixtureDir, real agents call cfg.AgentEndpointBase + "/" + name
// (§5, §C.4).
func buildRegistry(cfg *runtimeconfig.RuntimeConfig) (*provider.Registry, error) {
	agents := make([]provider.Agent, 0, len(graph.AgentSequence))
	switch cfg.ProviderMode {
	case runtimeconfig.ProviderModeReal:
		httpClient := &http.Client{Timeout: cfg.AgentTimeout}
		for _, name := range graph.AgentSequence {
			agents = append(agents, provider.NewHTTPAgent(name, cfg.AgentEndpointBase+"/"+name, httpClient))
		}
	default:
		for _, name := range graph.AgentSequence {
			agents = append(agents, provider.NewFixtureAgent(name, cfg.FixtureDir))
		}
	}
	return provider.NewRegistry(agents...), nil
}
