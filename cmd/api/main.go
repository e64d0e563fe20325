package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/commercecrafted/nichepipeline/internal/api"
	"github.com/commercecrafted/nichepipeline/internal/api/handler"
	"github.com/commercecrafted/nichepipeline/internal/app"
	"github.com/commercecrafted/nichepipeline/internal/config"
	"github.com/commercecrafted/nichepipeline/internal/logger"
	"github.com/commercecrafted/nichepipeline/internal/metrics"
	"github.com/commercecrafted/nichepipeline/internal/repository"
	"github.com/commercecrafted/nichepipeline/internal/storage"
)

func main() {
	// Initialize logger first so config errors are structured too
	appLogger := logger.NewFromEnv(nil)
	logger.SetDefaultLogger(appLogger)
	defer logger.Sync()

	// Load configuration
	// Support CONFIG_PATH environment variable for production deployments
	configPath := os.Getenv("CONFIG_PATH")
	cfg, err := config.Load(configPath)
	if err != nil {
		appLogger.WithError(err).Fatal("Failed to load config")
	}

	// Initialize database
	db, err := repository.InitDB(&cfg.Database)
	if err != nil {
		appLogger.WithError(err).Fatal("Failed to initialize database")
	}
	sqlDB, err := db.DB()
	if err != nil {
		appLogger.WithError(err).Fatal("Failed to get database handle")
	}
	defer sqlDB.Close()

	ctx := context.Background()

	// Report archive storage is optional
	store, err := storage.NewStorage(cfg.Storage)
	switch {
	case errors.Is(err, storage.ErrDisabled):
		store = nil
	case err != nil:
		appLogger.WithError(err).Fatal("Failed to initialize storage")
	default:
		if s3, ok := store.(*storage.S3Storage); ok {
			if err := s3.EnsureBucket(ctx); err != nil {
				appLogger.WithError(err).Fatal("Failed to ensure storage bucket")
			}
		}
	}

	var m *metrics.Metrics
	if cfg.Metrics.Enabled {
		m = metrics.New()
	}

	publisher := app.NewPublisher(cfg.Redis, appLogger)
	defer publisher.Close()

	pipeline := app.NewPipeline(cfg, db, publisher, m, store, appLogger)
	appLogger.WithField("sources", pipeline.Registry.Names()).Info("Providers registered")

	niches, err := handler.NewNicheHandler(handler.NicheHandlerConfig{
		Runner:      pipeline.Runner,
		Niches:      pipeline.Niches,
		Products:    pipeline.Products,
		Keywords:    pipeline.Keywords,
		Reports:     pipeline.Reports,
		StaleAfter:  cfg.Pipeline.StaleAfter,
		StatusCache: cfg.Cache.StatusSize,
	})
	if err != nil {
		appLogger.WithError(err).Fatal("Failed to create niche handler")
	}

	// Setup router
	router := api.SetupRouter(api.RouterDeps{
		Server:      cfg.Server,
		Logger:      appLogger,
		Metrics:     m,
		MetricsPath: cfg.Metrics.Path,
		Niches:      niches,
		Health:      handler.NewHealthHandler(sqlDB),
	})

	// Create HTTP server
	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Server.Port),
		Handler: router,
	}

	// Start server in goroutine
	go func() {
		appLogger.WithFields(logger.Fields{
			"port": cfg.Server.Port,
			"mode": cfg.Server.Mode,
		}).Info("Starting API server")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			appLogger.WithError(err).Fatal("Failed to start server")
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	appLogger.Info("Shutting down server...")

	// Graceful shutdown with timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		appLogger.WithError(err).Error("Server forced to shutdown")
	}

	// Running jobs stay in processing and resume on the next Run
	appLogger.Info("Server exited")
}
