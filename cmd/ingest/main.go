// Package main is the ingester entry point: wires configuration, storage,
// the RPC fetcher, the DEX resolver, the reorg controller, the poller, and
// the health surface together, then runs until a termination signal.
package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/baseingest/ingester/internal/circuitbreaker"
	"github.com/baseingest/ingester/internal/config"
	"github.com/baseingest/ingester/internal/dexresolver"
	"github.com/baseingest/ingester/internal/health"
	"github.com/baseingest/ingester/internal/logging"
	"github.com/baseingest/ingester/internal/poller"
	"github.com/baseingest/ingester/internal/reorg"
	"github.com/baseingest/ingester/internal/retry"
	"github.com/baseingest/ingester/internal/rpcclient"
	"github.com/baseingest/ingester/internal/store"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}

	logging.InitGlobalLogger(logging.ParseLogLevel(cfg.LogLevel), logging.ParseLogFormat(cfg.LogFormat))
	logger := logging.GetGlobalLogger().WithField("component", "main")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	logger.Info("running migrations")
	if err := store.RunMigrations(cfg.DBPath, "migrations"); err != nil {
		logger.Fatalf("failed to run migrations: %v", err)
	}

	db, err := store.Open(ctx, cfg.DBPath)
	if err != nil {
		logger.Fatalf("failed to open store: %v", err)
	}
	defer db.Close()

	if err := db.SeedContractLabels(ctx, store.DefaultContractLabels); err != nil {
		logger.Fatalf("failed to seed contract labels: %v", err)
	}

	retryConfig := retry.DefaultRetryConfig()
	retryConfig.MaxAttempts = cfg.RetryMaxAttempts

	breaker := circuitbreaker.NewCircuitBreaker(&circuitbreaker.Config{
		Name:             "rpc",
		MaxFailures:      10,
		FailureThreshold: 0.5,
		Timeout:          cfg.CircuitBreakerTimeout,
		HalfOpenMaxCalls: 3,
	})

	fetcher, err := rpcclient.New(ctx, cfg.RPCURL, retryConfig, breaker, cfg.ConcurrencyLimit)
	if err != nil {
		logger.Fatalf("failed to dial RPC endpoint: %v", err)
	}

	resolver := dexresolver.New(fetcher.Client(), db)
	if err := resolver.LoadCache(ctx); err != nil {
		logger.Fatalf("failed to load pool/dex cache: %v", err)
	}

	reorgController := reorg.New(db, fetcher, cfg.ReorgRewindDepth)

	p, err := poller.New(poller.Config{
		Store:                  db,
		Chain:                  fetcher,
		Reorg:                  reorgController,
		Resolver:               resolver,
		PollInterval:           cfg.PollInterval,
		SafetyBufferBlocks:     cfg.SafetyBufferBlocks,
		CatchupThresholdBlocks: cfg.CatchupThresholdBlocks,
	})
	if err != nil {
		logger.Fatalf("failed to build poller: %v", err)
	}

	if err := p.Start(ctx); err != nil {
		logger.Fatalf("failed to start poller: %v", err)
	}
	logger.Info("poller started")

	var healthServer *health.Server
	if cfg.HealthAddr != "" {
		healthServer = health.NewServer(cfg.HealthAddr, p)
		go func() {
			if err := healthServer.Start(); err != nil {
				logger.WithError(err).Warn("health server stopped")
			}
		}()
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh
	logger.Info("shutdown signal received")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if healthServer != nil {
		if err := healthServer.Shutdown(shutdownCtx); err != nil {
			logger.WithError(err).Warn("health server shutdown error")
		}
	}

	if err := p.Stop(shutdownCtx); err != nil {
		logger.Fatalf("failed to stop poller cleanly: %v", err)
	}

	fmt.Println("ingester stopped")
}
