// The expenser-agent is the headless client runtime: it owns the local
// cache, watches connectivity, and keeps the pending queues draining toward
// the backend. A UI embeds the app facade; this binary runs the same stack
// standalone.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"expenser/internal/api"
	"expenser/internal/app"
	"expenser/internal/config"
	applog "expenser/internal/log"
	"expenser/internal/store"
	syncengine "expenser/internal/sync"
)

func main() {
	// Load .env file for local development (ignore errors in production/docker)
	_ = godotenv.Load()

	cfg := config.Load()
	logger := applog.Setup(cfg.LogLevel)

	if err := cfg.Validate(); err != nil {
		logger.Error("Configuration validation failed", "error", err)
		os.Exit(1)
	}

	logger.Info("Starting expenser agent", "api", cfg.APIBaseURL)

	st, err := store.Open(cfg.AgentDBPath)
	if err != nil {
		logger.Error("Failed to open local store", "error", err, "path", cfg.AgentDBPath)
		os.Exit(1)
	}
	defer st.Close()

	client := api.NewClient(cfg.APIBaseURL, api.StaticToken(cfg.APIToken), applog.ForComponent("api"))

	engine := syncengine.NewEngine(st, client, syncengine.Config{
		RefreshInterval: cfg.RefreshInterval,
	}, applog.ForComponent("sync"))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := engine.Start(ctx); err != nil {
		logger.Error("Failed to start sync engine", "error", err)
		os.Exit(1)
	}

	prober := syncengine.NewHTTPProber(cfg.APIBaseURL + "/api/health")
	monitor := syncengine.NewMonitor(prober, cfg.ProbeInterval, engine.SetOnline, applog.ForComponent("connectivity"))
	monitor.Start(ctx)

	facade := app.New(st, client, engine, applog.ForComponent("app"))
	if err := facade.LoadLocal(ctx); err != nil {
		logger.Error("Failed to load local state", "error", err)
		os.Exit(1)
	}
	logger.Info("Local state loaded",
		"transactions", len(facade.Transactions()),
		"workflows", len(facade.Workflows()),
		"pending", facade.PendingCount(ctx))

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigChan
	logger.Info("Shutdown signal received", "signal", sig.String())

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	monitor.Stop()
	if err := engine.Stop(shutdownCtx); err != nil {
		logger.Error("Sync engine stop error", "error", err)
	}

	logger.Info("Agent stopped gracefully")
}
