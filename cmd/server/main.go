package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/cypherlabdev/win-probability-service/internal/cache"
	"github.com/cypherlabdev/win-probability-service/internal/config"
	httpHandler "github.com/cypherlabdev/win-probability-service/internal/handler/http"
	"github.com/cypherlabdev/win-probability-service/internal/messaging"
	"github.com/cypherlabdev/win-probability-service/internal/models"
	"github.com/cypherlabdev/win-probability-service/internal/service"
	"github.com/cypherlabdev/win-probability-service/internal/store"
	"github.com/cypherlabdev/win-probability-service/pkg/adjuster"
	"github.com/cypherlabdev/win-probability-service/pkg/estimator"
	"github.com/cypherlabdev/win-probability-service/pkg/simulator"
)

func main() {
	// Load configuration
	cfg, err := config.LoadConfig("config/config.yaml")
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}

	// Setup logger
	logger := setupLogger(cfg.Logging)
	logger.Info().Msg("starting win-probability-service")

	// Create context with cancellation
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Create tiered prediction cache
	predictionCache := cache.NewTieredCache(
		cache.TieredCacheConfig{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			TTLs: map[models.DataKind]time.Duration{
				models.KindRateProfile:    cfg.Cache.RateProfileTTL,
				models.KindEffectiveRates: cfg.Cache.EffectiveRatesTTL,
				models.KindSimulation:     cfg.Cache.SimulationTTL,
			},
			StaleRetentionFactor: cfg.Cache.StaleRetentionFactor,
		},
		logger,
	)
	defer predictionCache.Close()

	// Test Redis connection
	if err := predictionCache.Ping(ctx); err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to Redis")
	}
	logger.Info().Str("addr", cfg.Redis.Addr).Msg("connected to Redis")

	// Create historical data reader
	historyStore := store.NewRedisHistoryStore(
		store.RedisHistoryStoreConfig{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		},
		logger,
	)
	defer historyStore.Close()

	// Create engine components
	rateEstimator := estimator.NewEstimator(cfg.Estimation.ToEstimatorParams(), logger)
	contextAdjuster := adjuster.NewAdjuster(cfg.Adjustment.ToAdjusterParams(), logger)
	simulationEngine := simulator.NewEngine(cfg.Simulation.ToSimulatorOptions(), logger)
	logger.Info().Msg("prediction engine initialized")

	// Create orchestrator
	predictionService := service.NewPredictionService(
		rateEstimator,
		contextAdjuster,
		simulationEngine,
		predictionCache,
		historyStore,
		service.Config{
			Workers:        cfg.Orchestrator.Workers,
			AsyncRecompute: cfg.Orchestrator.AsyncRecompute,
			AllowStale:     cfg.Orchestrator.AllowStale,
			DefaultWindow:  cfg.Estimation.DefaultWindow,
		},
		logger,
	)
	predictionService.Start(ctx)
	logger.Info().Msg("prediction service initialized")

	// Create Kafka trigger consumer
	consumer := messaging.NewTriggerConsumer(
		messaging.TriggerConsumerConfig{
			Brokers:         cfg.Kafka.Brokers,
			HistoricalTopic: cfg.Kafka.HistoricalTopic,
			GameStateTopic:  cfg.Kafka.GameStateTopic,
			GroupID:         cfg.Kafka.GroupID,
		},
		predictionService,
		logger,
	)
	defer consumer.Close()

	// Start Kafka consumer in goroutine
	go func() {
		if err := consumer.Start(ctx); err != nil {
			logger.Error().Err(err).Msg("Kafka consumer failed")
		}
	}()

	// Initialize HTTP handler
	predictionHandler := httpHandler.NewPredictionHandler(predictionService, logger)
	logger.Info().Msg("HTTP handler initialized")

	// Setup HTTP server routes
	mux := http.NewServeMux()

	// Health and monitoring endpoints
	mux.HandleFunc("/health", healthHandler)
	mux.HandleFunc("/ready", func(w http.ResponseWriter, r *http.Request) {
		readyHandler(w, r, predictionCache)
	})
	mux.Handle("/metrics", promhttp.Handler())

	// Register API routes
	predictionHandler.RegisterRoutes(mux)
	logger.Info().Msg("API routes registered")

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      mux,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	// Start HTTP server in goroutine
	go func() {
		logger.Info().Int("port", cfg.Server.Port).Msg("starting HTTP server")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error().Err(err).Msg("HTTP server failed")
		}
	}()

	// Wait for interrupt signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	logger.Info().Msg("shutting down gracefully...")

	// Cancel context to stop consumer and workers
	cancel()
	predictionService.Wait()

	// Shutdown HTTP server
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("HTTP server shutdown failed")
	}

	logger.Info().Msg("shutdown complete")
}

// setupLogger configures the logger based on config
func setupLogger(cfg config.LoggingConfig) zerolog.Logger {
	// Set log level
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	// Set format
	if cfg.Format == "console" {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339})
	}

	return log.Logger.With().Str("service", "win-probability").Logger()
}

// healthHandler returns 200 if service is running
func healthHandler(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("OK"))
}

// readyHandler returns 200 if service is ready to accept traffic
func readyHandler(w http.ResponseWriter, r *http.Request, cache *cache.TieredCache) {
	// Check Redis connection
	if err := cache.Ping(r.Context()); err != nil {
		w.WriteHeader(http.StatusServiceUnavailable)
		w.Write([]byte("Redis unavailable"))
		return
	}

	w.WriteHeader(http.StatusOK)
	w.Write([]byte("READY"))
}
