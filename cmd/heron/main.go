// Heron - Community risk scoring for moderation teams.
// Copyright (c) 2026 opensource.community
// Licensed under the Apache License 2.0

package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/opensource-community/heron/internal/api"
	"github.com/opensource-community/heron/internal/bus"
	"github.com/opensource-community/heron/internal/cache"
	"github.com/opensource-community/heron/internal/domain"
	"github.com/opensource-community/heron/internal/moderation"
	"github.com/opensource-community/heron/internal/repository"
	"github.com/opensource-community/heron/internal/risk"
	"github.com/opensource-community/heron/internal/rules"
	"github.com/opensource-community/heron/internal/worker"
)

// Version information (set via ldflags)
var (
	Version   = "dev"
	Commit    = "none"
	BuildDate = "unknown"
)

func main() {
	cfg, err := domain.LoadConfig(os.Getenv)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	slog.SetDefault(newLogger(cfg.Logging))

	slog.Info("starting heron",
		"version", Version,
		"commit", Commit,
		"build_date", BuildDate,
	)
	slog.Info("configuration loaded",
		"tier", cfg.Tier,
		"repository", cfg.Repository.Driver,
		"cache", cfg.Cache.Type,
		"eventbus", cfg.EventBus.Type,
		"recency_window", cfg.Risk.RecencyWindow.String(),
		"tracing", cfg.Tracing.Enabled,
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		slog.Info("received shutdown signal", "signal", sig)
		cancel()
	}()

	repo, err := repository.New(cfg.Repository)
	if err != nil {
		slog.Error("failed to initialize repository", "error", err)
		os.Exit(1)
	}
	defer repo.Close()
	slog.Info("repository initialized", "driver", cfg.Repository.Driver)

	cacheImpl, err := cache.New(cfg.Cache)
	if err != nil {
		slog.Error("failed to initialize cache", "error", err)
		os.Exit(1)
	}
	defer cacheImpl.Close()
	slog.Info("cache initialized", "type", cfg.Cache.Type)

	busImpl, err := bus.New(cfg.EventBus)
	if err != nil {
		slog.Error("failed to initialize event bus", "error", err)
		os.Exit(1)
	}
	defer busImpl.Close()
	slog.Info("event bus initialized", "type", cfg.EventBus.Type)

	riskEngine := risk.NewEngine(risk.WithRecencyWindow(cfg.Risk.RecencyWindow))

	svc := moderation.NewService(repo, riskEngine,
		moderation.WithCache(cacheImpl),
		moderation.WithBus(busImpl),
		moderation.WithUserTTL(cfg.Cache.UserTTL),
	)

	ruleEngine, err := rules.NewEngine(func(ctx context.Context, userID int64, window time.Duration) (int, error) {
		return svc.Velocity().CountSince(ctx, userID, window)
	}, cfg.Risk.MaxRuleWorkers)
	if err != nil {
		slog.Error("failed to initialize rule engine", "error", err)
		os.Exit(1)
	}
	defer ruleEngine.Close()
	moderation.WithRules(ruleEngine)(svc)

	count, err := svc.LoadRules(ctx)
	if err != nil {
		// Start without flag rules; they can be fixed and reloaded via the API.
		slog.Warn("failed to load flag rules", "error", err)
	}
	slog.Info("rule engine initialized", "rules_count", count)

	if cfg.Seed {
		n, err := svc.Seed(ctx)
		if err != nil {
			slog.Error("failed to seed demo users", "error", err)
			os.Exit(1)
		}
		slog.Info("demo users seeded", "count", n)
	}

	eventWorker := worker.NewWorker(busImpl, svc)
	if err := eventWorker.Start(); err != nil {
		slog.Error("failed to start event worker", "error", err)
		os.Exit(1)
	}

	srv := api.NewServer(cfg.Server, svc, repo, cacheImpl, busImpl, Version)

	go func() {
		if err := srv.Start(); err != nil && err != http.ErrServerClosed {
			slog.Error("server failed", "error", err)
			os.Exit(1)
		}
	}()

	slog.Info("heron is ready",
		"host", cfg.Server.Host,
		"port", cfg.Server.Port,
	)

	printBanner(cfg, Version)

	<-ctx.Done()
	slog.Info("shutting down...")

	// Stop consuming before the server goes away so no event is half applied.
	if err := eventWorker.Stop(); err != nil {
		slog.Error("failed to stop event worker", "error", err)
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server forced to shutdown", "error", err)
	}

	slog.Info("heron shutdown complete")
}

func newLogger(cfg domain.LoggingConfig) *slog.Logger {
	level := slog.LevelInfo
	switch strings.ToLower(cfg.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}
	opts := &slog.HandlerOptions{Level: level}

	if cfg.Format == "text" {
		return slog.New(slog.NewTextHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, opts))
}

func printBanner(cfg *domain.Config, version string) {
	fmt.Println()
	fmt.Println("  +-------------------------------------------+")
	fmt.Println("  |                  HERON                    |")
	fmt.Println("  |     Community Risk Scoring Dashboard      |")
	fmt.Println("  +-------------------------------------------+")
	fmt.Println()
	fmt.Printf("  Version:  %s\n", version)
	fmt.Printf("  Tier:     %s\n", cfg.Tier)
	fmt.Printf("  Server:   http://%s:%d\n", cfg.Server.Host, cfg.Server.Port)
	fmt.Println()
	fmt.Println("  Endpoints:")
	fmt.Println("    GET  /api/users                    - List users by risk")
	fmt.Println("    GET  /api/users/risk-analysis      - Risk breakdown per user")
	fmt.Println("    GET  /api/users/{id}               - User with infractions")
	fmt.Println("    POST /api/users/{id}/infractions   - Apply an infraction")
	fmt.Println("    PUT  /api/users/{id}/risk          - Set a manual risk score")
	fmt.Println("    POST /api/users/{id}/actions/...   - Warning, education, timeout")
	fmt.Println("    GET  /api/users/{id}/export        - Export user data")
	fmt.Println("    POST /api/events                   - Queue a dashboard event")
	fmt.Println("    GET  /api/stats                    - Dashboard statistics")
	fmt.Println("    GET  /ws/dashboard                 - Live dashboard updates")
	fmt.Println("    GET  /metrics                      - Prometheus metrics")
	fmt.Println()
}
