package main

import (
	"context"
	"log" // Use standard log only for fatal errors before the logger is set up
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"levercore/config"
	"levercore/internal/adapters/logger"
	"levercore/internal/adapters/pricefeed"
	"levercore/internal/adapters/sqlite"
	"levercore/internal/adapters/treasury"
	apilayer "levercore/internal/api"
	"levercore/internal/domain"
	"levercore/internal/engine"
	"levercore/internal/ledger"
	"levercore/internal/monitor"
)

func main() {
	// 1. Load Configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("FATAL: Failed to load configuration: %v", err)
	}

	// 2. Initialize Logger
	appLogger, err := logger.New(logger.ParseLevel(cfg.LogLevel))
	if err != nil {
		log.Fatalf("FATAL: Failed to initialize logger: %v", err)
	}
	defer func() { _ = appLogger.Sync() }()
	ctx := context.Background()
	appLogger.Info(ctx, "Logger initialized", map[string]interface{}{"level": cfg.LogLevel})

	// 3. Build the leverage tier table
	tiers, err := domain.NewTierTable(cfg.Tiers)
	if err != nil {
		appLogger.Error(ctx, err, "FATAL: Invalid leverage tier configuration")
		log.Fatalf("FATAL: Invalid leverage tier configuration: %v", err)
	}

	// 4. Initialize Repository (Database Adapter)
	repo, err := sqlite.NewRepository(sqlite.Config{
		DBPath: cfg.DBPath,
		Logger: appLogger,
	})
	if err != nil {
		appLogger.Error(ctx, err, "FATAL: Failed to initialize database repository")
		log.Fatalf("FATAL: Failed to initialize database repository: %v", err)
	}
	defer func() {
		if err := repo.Close(); err != nil {
			appLogger.Error(ctx, err, "Error closing database repository")
		}
	}()

	// 5. Initialize Price Feed (Binance Adapter)
	feed, err := pricefeed.New(pricefeed.Config{
		Logger:               appLogger,
		UseTestnet:           cfg.IsTestnet,
		ReconnectDelay:       cfg.ReconnectDelay,
		MaxReconnectAttempts: cfg.MaxReconnectAttempts,
	})
	if err != nil {
		appLogger.Error(ctx, err, "FATAL: Failed to initialize price feed")
		log.Fatalf("FATAL: Failed to initialize price feed: %v", err)
	}
	if err := feed.Watch(ctx, cfg.Pairs); err != nil {
		appLogger.Error(ctx, err, "FATAL: Failed to start price streams")
		log.Fatalf("FATAL: Failed to start price streams: %v", err)
	}
	defer feed.Stop()

	// 6. Ledger, collaborators, engine
	ldg, err := ledger.New(repo, appLogger)
	if err != nil {
		appLogger.Error(ctx, err, "FATAL: Failed to initialize ledger")
		log.Fatalf("FATAL: Failed to initialize ledger: %v", err)
	}
	feePool := treasury.NewFeePool(appLogger)
	insurance := treasury.NewInsuranceFund(appLogger)

	eng, err := engine.New(engine.Config{
		Tiers:         tiers,
		MakerFeeRate:  cfg.MakerFeeRate,
		TakerFeeRate:  cfg.TakerFeeRate,
		MinCollateral: cfg.MinCollateral,
		MaxPriceAge:   cfg.MaxPriceAge,
	}, appLogger, ldg, repo, repo, repo, feed, feePool, insurance)
	if err != nil {
		appLogger.Error(ctx, err, "FATAL: Failed to initialize position engine")
		log.Fatalf("FATAL: Failed to initialize position engine: %v", err)
	}

	// 7. Liquidation Monitor
	mon, err := monitor.New(monitor.Config{
		Interval: cfg.SweepInterval,
		Tiers:    tiers,
	}, appLogger, repo, feed, eng)
	if err != nil {
		appLogger.Error(ctx, err, "FATAL: Failed to initialize liquidation monitor")
		log.Fatalf("FATAL: Failed to initialize liquidation monitor: %v", err)
	}
	if err := mon.Start(ctx); err != nil {
		appLogger.Error(ctx, err, "FATAL: Failed to start liquidation monitor")
		log.Fatalf("FATAL: Failed to start liquidation monitor: %v", err)
	}
	defer mon.Stop()

	// 8. HTTP API
	router := apilayer.SetupRoutes(&apilayer.Dependencies{Engine: eng, Logger: appLogger})
	server := &http.Server{
		Addr:         cfg.HTTPAddr,
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		appLogger.Info(ctx, "HTTP server listening", map[string]interface{}{"addr": cfg.HTTPAddr})
		errCh <- server.ListenAndServe()
	}()

	// 9. Wait for shutdown signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	select {
	case sig := <-sigCh:
		appLogger.Info(ctx, "Received shutdown signal", map[string]interface{}{"signal": sig.String()})
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			appLogger.Error(ctx, err, "HTTP server exited with error")
		}
	}

	shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		appLogger.Error(ctx, err, "HTTP server shutdown failed")
	}
	appLogger.Info(ctx, "Application finished gracefully.")
}
