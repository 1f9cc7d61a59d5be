package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"expenser/internal/config"
	"expenser/internal/core"
	"expenser/internal/events"
	applog "expenser/internal/log"
	"expenser/internal/reconcile"
	"expenser/internal/repository"
	"expenser/internal/server"
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
	if cfg.APIToken == "" {
		logger.Warn("API_TOKEN is empty, every authenticated endpoint will reject requests")
	}

	repo, err := repository.NewSQLiteRepository(cfg.ServerDBPath)
	if err != nil {
		logger.Error("Failed to initialize repository", "error", err, "path", cfg.ServerDBPath)
		os.Exit(1)
	}
	defer repo.Close()

	// Bootstrap the configured user so a fresh install serves a profile.
	profile, err := repo.EnsureUser(context.Background(), core.Profile{
		UserID:         cfg.UserID,
		Name:           "New User",
		PaymentMethods: core.AllPaymentMethods(),
	})
	if err != nil {
		logger.Error("Failed to bootstrap user", "error", err)
		os.Exit(1)
	}
	logger.Info("Serving user", "user_id", profile.UserID, "onboarded", profile.Onboarded)

	// AMQP event publishing is optional: no URL, no publisher.
	var publisher *events.Publisher
	if cfg.AMQPURL != "" {
		publisher, err = events.NewPublisher(cfg.AMQPURL, cfg.AMQPExchange, cfg.AMQPQueue, applog.ForComponent("events"))
		if err != nil {
			logger.Error("Failed to initialize event publisher", "error", err)
			os.Exit(1)
		}
		defer publisher.Close()
		logger.Info("Event publishing enabled", "exchange", cfg.AMQPExchange, "queue", cfg.AMQPQueue)
	} else {
		logger.Info("Event publishing disabled - no AMQP_URL provided")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	auditor := reconcile.NewAuditor(repo, applog.ForComponent("reconcile"))
	if err := auditor.Start(ctx, cfg.ReconcileSchedule); err != nil {
		logger.Error("Failed to start balance auditor", "error", err)
		os.Exit(1)
	}
	defer auditor.Stop()

	var srvEvents server.Publisher
	if publisher != nil {
		srvEvents = publisher
	}
	limiter := server.NewLimiter(server.LimiterConfig{RequestsPerMinute: cfg.RateLimitPerMinute})
	defer limiter.Stop()

	api := server.New(repo, server.StaticAuth{Token: cfg.APIToken, User: profile.UserID}, srvEvents, limiter, applog.ForComponent("http"))

	srv := &http.Server{
		Addr:           ":" + cfg.Port,
		Handler:        api.Router(),
		ReadTimeout:    10 * time.Second,
		WriteTimeout:   10 * time.Second,
		IdleTimeout:    60 * time.Second,
		MaxHeaderBytes: 1 << 16, // 64KB
	}

	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		sig := <-sigChan
		logger.Info("Shutdown signal received", "signal", sig.String())

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer shutdownCancel()

		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("Server shutdown error", "error", err)
		}
		cancel()
	}()

	logger.Info("Starting expenser server", "port", cfg.Port)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error("Server error", "error", err, "port", cfg.Port)
		os.Exit(1)
	}

	<-ctx.Done()
	logger.Info("Server stopped gracefully")
}
