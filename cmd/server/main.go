package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/quicktap/arena/internal/config"
	"github.com/quicktap/arena/internal/handler"
	"github.com/quicktap/arena/internal/kafka"
	"github.com/quicktap/arena/internal/match"
	"github.com/quicktap/arena/internal/postgres"
	"github.com/quicktap/arena/internal/postgres/migrations"
	"github.com/quicktap/arena/internal/redis"
	"github.com/quicktap/arena/internal/service"
	"github.com/quicktap/arena/internal/websocket"
	"github.com/quicktap/arena/internal/worker"
)

func main() {
	configPath := flag.String("config", "config.yaml", "Path to configuration file")
	logLevel := flag.String("log-level", "", "Override the configured log level (debug, info, warn, error)")
	flag.Parse()

	// Load configuration
	cfg, cfgErr := config.Load(*configPath)
	if cfgErr != nil {
		cfg = config.DefaultConfig()
	}
	if *logLevel != "" {
		cfg.Log.Level = *logLevel
	}

	logger := newLogger(cfg.Log)
	slog.SetDefault(logger)
	if cfgErr != nil {
		logger.Warn("failed to load config file, using defaults", "path", *configPath, "error", cfgErr)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Initialize PostgreSQL
	logger.Info("connecting to PostgreSQL", "host", cfg.Postgres.Host, "database", cfg.Postgres.Database)
	if err := migrate(cfg.Postgres.ConnectionString(), logger); err != nil {
		logger.Error("failed to run migrations", "error", err)
		os.Exit(1)
	}
	repo, err := postgres.NewRepository(&cfg.Postgres, logger)
	if err != nil {
		logger.Error("failed to connect to PostgreSQL", "error", err)
		os.Exit(1)
	}
	defer repo.Close()

	// Initialize Redis
	logger.Info("connecting to Redis", "addr", cfg.Redis.Addr)
	rankCache, err := redis.NewRankCache(&cfg.Redis, logger)
	if err != nil {
		logger.Error("failed to connect to Redis", "error", err)
		os.Exit(1)
	}
	defer rankCache.Close()

	leaderboardService := service.NewLeaderboardService(repo, rankCache, &cfg.Leaderboard, logger)
	matchService := service.NewMatchService(repo, &cfg.Leaderboard, logger)

	// Rebuild the rank cache from the database, then keep it fresh
	syncWorker := worker.NewSyncWorker(repo, rankCache, &cfg.Sync, logger)
	if cfg.Sync.Enabled {
		if err := syncWorker.Start(ctx); err != nil {
			logger.Error("failed to start sync worker", "error", err)
			os.Exit(1)
		}
	} else {
		syncWorker.RunOnce(ctx)
	}

	// Match results go through Kafka when enabled, straight to the database otherwise
	var publisher match.ResultPublisher = matchService
	var producer *kafka.Producer
	var consumer *kafka.Consumer
	if cfg.Kafka.Enabled {
		logger.Info("initializing Kafka", "brokers", cfg.Kafka.Brokers, "topic", cfg.Kafka.Topic)
		producer, err = kafka.NewProducer(&cfg.Kafka, logger)
		if err != nil {
			logger.Warn("failed to create Kafka producer, recording matches directly", "error", err)
		} else {
			publisher = producer
		}

		consumer, err = kafka.NewConsumer(&cfg.Kafka, matchService, logger)
		if err != nil {
			logger.Warn("failed to create Kafka consumer, continuing without it", "error", err)
			consumer = nil
		} else if err := consumer.Start(); err != nil {
			logger.Warn("failed to start Kafka consumer, continuing without it", "error", err)
			consumer = nil
		}
	}

	// WebSocket hub and match coordinator
	wsHub := websocket.NewHub(logger)
	go wsHub.Run()

	coordinator := match.NewCoordinator(
		match.NewMachine(match.MachineRules{
			TotalRounds:    cfg.Match.TotalRounds,
			CountdownDelay: cfg.Match.CountdownDelay,
			RelaunchDelay:  cfg.Match.RelaunchDelay,
		}),
		match.NewValidator(match.ValidatorRules{
			RateLimitWindow: cfg.Match.RateLimitWindow,
			MinReactionTime: cfg.Match.MinReactionTime,
			SuspiciousLag:   cfg.Match.SuspiciousLag,
			MaxLag:          cfg.Match.MaxLag,
		}),
		wsHub,
		logger,
		match.WithResultPublisher(publisher),
	)
	coordinatorDone := make(chan struct{})
	go func() {
		defer close(coordinatorDone)
		coordinator.Run(ctx)
	}()

	wsHandler := websocket.NewHandler(wsHub, coordinator, websocket.Options{
		SendBuffer:     cfg.WebSocket.SendBuffer,
		MaxMessageSize: cfg.WebSocket.MaxMessageSize,
		AckTimeout:     cfg.WebSocket.AckTimeout,
		AllowedOrigin:  cfg.Server.CORSOrigin,
	}, logger)

	httpHandler := handler.NewHandler(handler.Dependencies{
		Leaderboard: leaderboardService,
		Matches:     matchService,
		Rooms:       coordinator,
		Connections: wsHub,
		WebSocket:   wsHandler,
		Readiness: map[string]handler.Pinger{
			"postgres": repo,
			"redis":    rankCache,
		},
	}, cfg.Server.CORSOrigin, logger)

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      httpHandler.Router(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go func() {
		logger.Info("starting HTTP server", "port", cfg.Server.Port)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("HTTP server error", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	// Stop accepting requests, then close open sockets so every player departs
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("failed to shutdown server", "error", err)
	}
	wsHub.Stop()

	coordinator.Stop()
	select {
	case <-coordinatorDone:
	case <-shutdownCtx.Done():
		logger.Warn("match coordinator did not stop in time")
	}

	if producer != nil {
		if err := producer.Close(); err != nil {
			logger.Error("failed to close Kafka producer", "error", err)
		}
	}
	if consumer != nil {
		if err := consumer.Stop(); err != nil {
			logger.Error("failed to stop Kafka consumer", "error", err)
		}
	}

	if err := syncWorker.Stop(); err != nil {
		logger.Error("failed to stop sync worker", "error", err)
	}

	logger.Info("server stopped")
}

// newLogger builds the process logger from the log section
func newLogger(cfg config.LogConfig) *slog.Logger {
	var level slog.Level
	switch strings.ToLower(cfg.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}
	if strings.ToLower(cfg.Format) == "text" {
		return slog.New(slog.NewTextHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, opts))
}

// migrate brings the schema up to date before the pool is opened
func migrate(databaseURL string, logger *slog.Logger) error {
	m, err := migrations.New(databaseURL, logger)
	if err != nil {
		return err
	}
	defer m.Close()
	return m.Up()
}
