package main

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/rail-service/yield_bridge/internal/api/routes"
	"github.com/rail-service/yield_bridge/internal/infrastructure/config"
	"github.com/rail-service/yield_bridge/internal/infrastructure/database"
	"github.com/rail-service/yield_bridge/internal/infrastructure/di"
	"github.com/rail-service/yield_bridge/pkg/graceful"
	"github.com/rail-service/yield_bridge/pkg/logger"
	"github.com/rail-service/yield_bridge/pkg/metrics"
	"github.com/rail-service/yield_bridge/pkg/tracing"
)

var version = "dev"

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		panic(fmt.Sprintf("Failed to load config: %v", err))
	}

	log := logger.New(cfg.LogLevel, cfg.Environment)
	defer log.Sync()

	tracingShutdown, err := tracing.InitTracer(context.Background(), tracing.Config{
		Enabled:      cfg.Tracing.Enabled,
		CollectorURL: cfg.Tracing.CollectorURL,
		Environment:  cfg.Environment,
		SampleRate:   cfg.Tracing.SampleRate,
		Insecure:     cfg.Tracing.Insecure,
	}, log.Zap())
	if err != nil {
		log.Fatal("Failed to initialize tracing", "error", err)
	}
	defer tracingShutdown(context.Background())

	metrics.MustRegister()

	db, err := database.NewConnection(cfg.Database)
	if err != nil {
		log.Fatal("Failed to connect to database", "error", err)
	}

	if err := database.RunMigrations(db, cfg.Database.MigrationsPath); err != nil {
		log.Fatal("Failed to run migrations", "error", err)
	}

	startCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	container, err := di.NewContainer(startCtx, cfg, db, log)
	cancel()
	if err != nil {
		log.Fatal("Failed to create DI container", "error", err)
	}

	if err := container.Rebalancer.Start(); err != nil {
		log.Fatal("Failed to start liquidity rebalancer", "error", err)
	}

	server := &http.Server{
		Addr:           fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:        routes.SetupRoutes(container, version),
		ReadTimeout:    time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout:   time.Duration(cfg.Server.WriteTimeout) * time.Second,
		IdleTimeout:    120 * time.Second,
		MaxHeaderBytes: 1 << 20,
	}

	go func() {
		log.Info("Starting ops server",
			"port", cfg.Server.Port,
			"environment", cfg.Environment,
			"version", version,
		)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("Failed to start server", "error", err)
		}
	}()

	shutdown := graceful.NewShutdownManager(server, 30*time.Second, log)
	container.RegisterShutdown(shutdown)
	shutdown.WaitForShutdown()
}
