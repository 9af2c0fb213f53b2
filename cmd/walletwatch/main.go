// Walletwatch - Wallet risk scoring for on-chain transactions.
// Copyright (c) 2025 opensource.finance
// Licensed under the Apache License 2.0

package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/opensource-finance/walletwatch/internal/api"
	"github.com/opensource-finance/walletwatch/internal/bus"
	"github.com/opensource-finance/walletwatch/internal/cache"
	"github.com/opensource-finance/walletwatch/internal/config"
	"github.com/opensource-finance/walletwatch/internal/domain"
	"github.com/opensource-finance/walletwatch/internal/explain"
	"github.com/opensource-finance/walletwatch/internal/observability"
	"github.com/opensource-finance/walletwatch/internal/oracle"
	"github.com/opensource-finance/walletwatch/internal/repository"
	"github.com/opensource-finance/walletwatch/internal/risk"
	"github.com/opensource-finance/walletwatch/internal/worker"
)

// Version information (set via ldflags)
var (
	Version   = "dev"
	Commit    = "none"
	BuildDate = "unknown"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid configuration: %v\n", err)
		os.Exit(1)
	}

	slog.SetDefault(newLogger(cfg.Logging))

	slog.Info("starting walletwatch",
		"version", Version,
		"commit", Commit,
		"build_date", BuildDate,
	)
	slog.Info("configuration loaded",
		"repository", cfg.Repository.Driver,
		"cache", cfg.Cache.Type,
		"eventbus", cfg.EventBus.Type,
		"window_size", cfg.Risk.WindowSize,
		"interval_policy", cfg.Risk.IntervalPolicy,
		"explain", cfg.Explain.Enabled,
		"oracle", cfg.Oracle.Enabled,
	)

	// Create context with cancellation
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle shutdown signals
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		slog.Info("received shutdown signal", "signal", sig)
		cancel()
	}()

	shutdownTracing, err := observability.InitTracing(ctx, cfg.Tracing, Version)
	if err != nil {
		slog.Error("failed to initialize tracing", "error", err)
		os.Exit(1)
	}

	metrics := observability.NewMetrics()

	// Initialize Repository
	repo, err := repository.New(cfg.Repository)
	if err != nil {
		slog.Error("failed to initialize repository", "error", err)
		os.Exit(1)
	}
	defer repo.Close()
	slog.Info("repository initialized", "driver", cfg.Repository.Driver)

	// Initialize Cache
	cacheImpl, err := cache.New(cfg.Cache)
	if err != nil {
		slog.Error("failed to initialize cache", "error", err)
		os.Exit(1)
	}
	defer cacheImpl.Close()
	if s, ok := cacheImpl.(interface {
		RunSweeper(context.Context, time.Duration)
	}); ok {
		go s.RunSweeper(ctx, time.Minute)
	}
	slog.Info("cache initialized", "type", cfg.Cache.Type)

	// Initialize EventBus
	busImpl, err := bus.New(cfg.EventBus)
	if err != nil {
		slog.Error("failed to initialize event bus", "error", err)
		os.Exit(1)
	}
	defer busImpl.Close()
	slog.Info("event bus initialized", "type", cfg.EventBus.Type)

	// Initialize risk pipeline
	svc, err := risk.NewService(cfg.Risk)
	if err != nil {
		slog.Error("failed to initialize risk service", "error", err)
		os.Exit(1)
	}
	svc.WithRecorder(metrics)
	slog.Info("risk service initialized", "rules_count", len(svc.Definitions()))

	batchWorker := worker.NewWorker(busImpl, repo, svc).WithRecorder(metrics)

	deps := api.Deps{
		Repo:       repo,
		Cache:      cacheImpl,
		Bus:        busImpl,
		Service:    svc,
		Batch:      batchWorker,
		AsyncBatch: cfg.AsyncWorker,
		Version:    Version,
	}

	if cfg.Explain.Enabled {
		gen := explain.NewGeminiClient(cfg.Explain, metrics)
		deps.Explainer = explain.NewExplainer(gen, cacheImpl, cfg.Cache.ReportTTL).WithRecorder(metrics)
		slog.Info("forensic reports enabled", "url", cfg.Explain.APIURL)
	}

	if cfg.Oracle.Enabled {
		deps.Oracle = oracle.NewClient(cfg.Oracle, metrics)
		slog.Info("oracle enabled", "url", cfg.Oracle.BaseURL)
	}

	// Initialize async Worker
	if cfg.AsyncWorker {
		if err := batchWorker.Start(); err != nil {
			slog.Error("failed to start async worker", "error", err)
			deps.AsyncBatch = false
		} else {
			slog.Info("async worker started")
		}
	}

	// Initialize Server
	srv := api.NewServer(api.ServerConfig{
		Host:         cfg.Server.Host,
		Port:         cfg.Server.Port,
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
		Registry:     metrics.Registry,
	}, deps)

	// Start Server in goroutine
	go func() {
		if err := srv.Start(); err != nil && err != http.ErrServerClosed {
			slog.Error("server failed", "error", err)
			os.Exit(1)
		}
	}()

	slog.Info("walletwatch is ready",
		"host", cfg.Server.Host,
		"port", cfg.Server.Port,
	)

	printBanner(cfg, Version)

	// Wait for shutdown signal
	<-ctx.Done()
	slog.Info("shutting down...")

	// Stop async worker first
	if cfg.AsyncWorker {
		if err := batchWorker.Stop(); err != nil {
			slog.Error("failed to stop async worker", "error", err)
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server forced to shutdown", "error", err)
	}
	if err := shutdownTracing(shutdownCtx); err != nil {
		slog.Error("failed to flush traces", "error", err)
	}

	slog.Info("walletwatch shutdown complete")
}

func newLogger(cfg domain.LoggingConfig) *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}
	if cfg.Format == "text" {
		return slog.New(slog.NewTextHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, opts))
}

func printBanner(cfg *domain.Config, version string) {
	fmt.Println()
	fmt.Println("  WALLETWATCH")
	fmt.Println("  Wallet risk scoring for on-chain transactions")
	fmt.Println()
	fmt.Printf("  Version:  %s\n", version)
	fmt.Printf("  Server:   http://%s:%d\n", cfg.Server.Host, cfg.Server.Port)
	fmt.Printf("  Window:   %d transactions (%s)\n", cfg.Risk.WindowSize, cfg.Risk.IntervalPolicy)
	fmt.Println()
	fmt.Println("  Endpoints:")
	fmt.Println("    POST /aml-checks                - Check a transaction before it is recorded")
	fmt.Println("    POST /wallets/{address}/evaluate - Evaluate a wallet with an optional candidate")
	fmt.Println("    GET  /wallets/{address}/metrics  - Wallet metrics and rule results")
	fmt.Println("    POST /transactions              - Store transactions (JSON)")
	fmt.Println("    POST /transactions/upload       - Store transactions (CSV)")
	fmt.Println("    GET  /transactions/{id}         - Get transaction by ID")
	fmt.Println("    POST /batch                     - Evaluate every stored wallet")
	fmt.Println("    GET  /batch/{id}                - Get batch job by ID")
	fmt.Println("    GET  /assessments/{id}          - Get assessment by ID")
	fmt.Println("    GET  /rules                     - List the rule table")
	fmt.Println("    GET  /health                    - Health check")
	fmt.Println("    GET  /metrics                   - Prometheus metrics")
	fmt.Println()
}
