package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/radiusdt/vector-promo/internal/config"
	"github.com/radiusdt/vector-promo/internal/database"
	"github.com/radiusdt/vector-promo/internal/geo"
	"github.com/radiusdt/vector-promo/internal/httpserver"
	"github.com/radiusdt/vector-promo/internal/jobs"
	"github.com/radiusdt/vector-promo/internal/metrics"
	"github.com/radiusdt/vector-promo/internal/middleware"
	"go.uber.org/zap"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger, err := middleware.NewLogger(cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	logger.Info("starting Vector-Promo",
		zap.String("env", cfg.Server.Env),
		zap.String("addr", cfg.Server.Addr),
		zap.String("timezone", cfg.Attribution.Timezone),
	)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	var db *database.PostgresDB
	if cfg.Database.Enabled {
		db, err = database.NewPostgresDB(ctx, cfg.Database, logger)
		if err != nil {
			logger.Warn("PostgreSQL not available, using in-memory storage", zap.Error(err))
			db = nil
		} else {
			defer db.Close()
		}
	}

	var redis *database.RedisDB
	if cfg.Redis.Enabled {
		redis, err = database.NewRedisDB(ctx, cfg.Redis, logger)
		if err != nil {
			logger.Warn("Redis not available, counter and locks are process-local", zap.Error(err))
			redis = nil
		} else {
			defer redis.Close()
		}
	}

	var geoProvider geo.Provider
	if cfg.Geo.Enabled {
		mm, err := geo.NewMaxMindProvider(cfg.Geo.DatabasePath)
		if err != nil {
			logger.Warn("GeoIP database not available, clicks are not geo-tagged", zap.Error(err))
		} else {
			geoProvider = geo.NewCachedProvider(mm, 10000, time.Hour)
			defer geoProvider.Close()
		}
	}

	var m *metrics.Metrics
	if cfg.Metrics.Enabled {
		m = metrics.NewMetrics("vector_promo")
	}

	server := httpserver.New(&httpserver.Dependencies{
		DB:      db,
		Redis:   redis,
		Geo:     geoProvider,
		Config:  cfg,
		Logger:  logger,
		Metrics: m,
	})

	rateLimiter := middleware.NewRateLimitMiddleware(cfg.RateLimit, logger, m)
	handler := middleware.NewRecoveryMiddleware(logger).Handler(
		middleware.NewLoggingMiddleware(logger).Handler(
			rateLimiter.Handler(
				middleware.NewAuthMiddleware(cfg.Auth, logger).Handler(
					server.Routes(),
				),
			),
		),
	)

	var monthly *jobs.MonthlyJob
	if cfg.Jobs.MonthlyEnabled {
		monthly = jobs.NewMonthlyJob(server.Aggregator(), cfg.Jobs, cfg.Attribution.Location, nil, logger)
		if err := monthly.Start(); err != nil {
			logger.Fatal("failed to schedule monthly aggregation", zap.Error(err))
		}
	}

	stopCleanup := make(chan struct{})
	go func() {
		ticker := time.NewTicker(10 * time.Minute)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				rateLimiter.CleanupIPLimiters(time.Hour)
			case <-stopCleanup:
				return
			}
		}
	}()

	srv := &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("HTTP server listening", zap.String("addr", cfg.Server.Addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server failed", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server forced to shutdown", zap.Error(err))
	}
	close(stopCleanup)
	if monthly != nil {
		monthly.Stop(shutdownCtx)
	}

	logger.Info("server stopped")
}
