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

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"

	"github.com/Faraz1608/IMOS-sub000/internal/alerting"
	"github.com/Faraz1608/IMOS-sub000/internal/config"
	"github.com/Faraz1608/IMOS-sub000/internal/database"
	"github.com/Faraz1608/IMOS-sub000/internal/handlers"
	"github.com/Faraz1608/IMOS-sub000/internal/hub"
	"github.com/Faraz1608/IMOS-sub000/internal/kafka"
	"github.com/Faraz1608/IMOS-sub000/internal/metrics"
	"github.com/Faraz1608/IMOS-sub000/internal/rules"
	"github.com/Faraz1608/IMOS-sub000/internal/scheduler"
)

const (
	serviceName    = "alerting-service"
	serviceVersion = "1.0.0"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logger := setupLogging(cfg)
	logger.Info("Starting alerting service", "environment", cfg.Environment)

	db, err := database.Connect(cfg.Database)
	if err != nil {
		logger.Error("Failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	if err := database.RunMigrations(cfg.Database); err != nil {
		logger.Error("Failed to run migrations", "error", err)
		os.Exit(1)
	}

	collector := metrics.NewCollector(prometheus.DefaultRegisterer)

	alertRepo := database.NewAlertRepository(db, logger)
	inventoryRepo := database.NewInventoryRepository(db, logger)

	broadcastHub := hub.New(logger)
	broadcastHub.AttachMetrics(collector)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if cfg.Redis.Enabled {
		redisClient := redis.NewClient(&redis.Options{
			Addr:     fmt.Sprintf("%s:%d", cfg.Redis.Host, cfg.Redis.Port),
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		broadcastHub.AttachRelay(redisClient, cfg.Redis.Channel)
		go broadcastHub.RunRelay(ctx)
		logger.Info("Broadcast relay enabled", "channel", cfg.Redis.Channel)
	}

	var producer *kafka.Producer
	var alertPublisher alerting.Publisher
	var sweepPublisher rules.SweepPublisher
	if cfg.Kafka.Enabled {
		producer = kafka.NewProducer(cfg.Kafka, logger)
		defer producer.Close()
		alertPublisher = producer
		sweepPublisher = producer
		logger.Info("Kafka producer enabled", "brokers", cfg.Kafka.Brokers)
	}

	manager := alerting.NewManager(cfg, logger, alertRepo, broadcastHub, alertPublisher, collector)
	engine := rules.NewEngine(cfg, logger, inventoryRepo, manager, broadcastHub, sweepPublisher, collector)

	if cfg.Scheduler.Enabled {
		sched := scheduler.New(cfg.Scheduler, logger, engine, manager)
		if err := sched.Start(); err != nil {
			logger.Error("Failed to start scheduler", "error", err)
			os.Exit(1)
		}
		defer sched.Stop()
	}

	apiServer := handlers.NewServer(logger, manager, engine, broadcastHub)

	httpServer := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.HTTPPort),
		Handler:      apiServer.Router(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go func() {
		logger.Info("HTTP server listening", "port", cfg.Server.HTTPPort)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("HTTP server failed", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP server shutdown failed", "error", err)
	}

	logger.Info("Shutdown complete")
}

func setupLogging(cfg *config.Config) *slog.Logger {
	var level slog.Level
	switch cfg.Logging.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{
		Level:     level,
		AddSource: cfg.Logging.IncludeSource,
	}

	var handler slog.Handler
	if cfg.Logging.Format == "json" || cfg.Environment == "production" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	logger := slog.New(handler).With(
		"service", serviceName,
		"version", serviceVersion,
	)
	slog.SetDefault(logger)
	return logger
}
