/*
main.go - Application entry point

PURPOSE:
  Initializes and starts the payroll engine server. Handles
  configuration, dependency injection, and graceful shutdown.

STARTUP SEQUENCE:
  1. Load configuration (file + environment)
  2. Initialize the zap logger
  3. Initialize SQLite store
  4. Wire the domain: index, ledger, resolver, queue, processor
  5. Start the HTTP server with graceful shutdown

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop accepting new connections
  2. Wait for active requests to complete (30s timeout)
  3. Close database connection
  4. Exit

EXAMPLES:
  # Run with defaults (data/payroll.db, port 8080)
  ./server

  # Run with a config file
  ./server -config=./config.yaml

  # Override via environment
  PORT=3000 DATABASE_PATH=":memory:" ./server

SEE ALSO:
  - config/config.go: Configuration schema and defaults
  - api/server.go: Router configuration
*/
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/warp/payroll-engine/api"
	"github.com/warp/payroll-engine/config"
	"github.com/warp/payroll-engine/identity"
	"github.com/warp/payroll-engine/ledger"
	"github.com/warp/payroll-engine/match"
	"github.com/warp/payroll-engine/report"
	"github.com/warp/payroll-engine/resolve"
	"github.com/warp/payroll-engine/review"
	"github.com/warp/payroll-engine/store/sqlite"
)

func main() {
	configPath := flag.String("config", "", "Path to config file (optional)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	logger, err := newLogger(cfg.Logger)
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer logger.Sync()
	zap.ReplaceGlobals(logger)

	store, err := sqlite.New(cfg.Database.Path)
	if err != nil {
		logger.Fatal("failed to initialize database", zap.Error(err))
	}
	defer store.Close()

	// Domain wiring. The single sqlite store backs all three interfaces.
	var indexOpts []identity.IndexOption
	if cfg.Cache.Enabled {
		indexOpts = append(indexOpts, identity.WithCache(cfg.Cache.Size, cfg.Cache.TTL))
	}
	index := identity.NewIndex(store, match.NewScorer(), indexOpts...)
	led := ledger.New(store, store)
	agg := ledger.NewAggregator(store)
	resolver := resolve.NewResolver(index, store, store, resolve.Config{
		AcceptThreshold:  cfg.Resolver.AcceptThreshold,
		ContextThreshold: cfg.Resolver.ContextThreshold,
	})
	queue := review.NewQueue(store, index, led)
	processor := report.NewProcessor(resolver, led, store, cfg.Resolver.RecentWindowDays)
	exporter := report.NewExporter(store, store, nil)

	handler := api.NewHandler(index, led, agg, queue, processor, exporter)
	if cfg.Server.DemoScenarios {
		handler.Resetter = store
		logger.Warn("demo scenario loading enabled; the database can be wiped over HTTP")
	}
	router := api.NewRouter(handler, cfg.Server.AllowedOrigins)

	sweeper := api.NewReviewSweeper(store)
	sweeper.CheckInterval = cfg.Review.SweepInterval
	sweeper.StaleAfter = cfg.Review.StaleAfter
	sweeper.Enabled = cfg.Review.SweepEnabled
	sweeper.Start()

	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("server starting",
			zap.String("addr", server.Addr),
			zap.String("database", cfg.Database.Path),
		)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server failed", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down server")
	sweeper.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		logger.Fatal("server forced to shutdown", zap.Error(err))
	}
	logger.Info("server stopped")
}

func newLogger(cfg config.LoggerConfig) (*zap.Logger, error) {
	var zcfg zap.Config
	if cfg.Format == "console" {
		zcfg = zap.NewDevelopmentConfig()
	} else {
		zcfg = zap.NewProductionConfig()
	}
	level, err := zap.ParseAtomicLevel(cfg.Level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", cfg.Level, err)
	}
	zcfg.Level = level
	return zcfg.Build()
}
