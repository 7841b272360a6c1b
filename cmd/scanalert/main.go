package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/rewired-gh/scanalert/internal/config"
	"github.com/rewired-gh/scanalert/internal/logger"
	"github.com/rewired-gh/scanalert/internal/monitor"
	"github.com/rewired-gh/scanalert/internal/pipeline"
	"github.com/rewired-gh/scanalert/internal/rules"
	"github.com/rewired-gh/scanalert/internal/storage"
	"github.com/rewired-gh/scanalert/internal/telegram"
	"github.com/rewired-gh/scanalert/internal/triggers"
)

var configPath = flag.String("config", "configs/config.yaml", "Path to configuration file")

func main() {
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	logger.Init(cfg.Logging.Level, cfg.Logging.Format)
	logger.Info("Configuration loaded from %s", *configPath)

	store, err := storage.New(cfg.Storage.MaxAlerts, cfg.Storage.DBPath)
	if err != nil {
		logger.Fatal("Failed to initialize storage: %v", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			logger.Error("Failed to close storage: %v", err)
		}
	}()

	catalog, err := rules.Load(cfg.Engine.RulesPath)
	if err != nil {
		logger.Fatal("Failed to load alert rules: %v", err)
	}
	logger.Info("Loaded alert rules for %d algorithms", len(catalog.Names()))

	mon := monitor.New(store, catalog, triggers.NewRegistry(), monitor.Config{
		Retention:         cfg.Engine.Retention,
		DefaultPriceField: cfg.Engine.DefaultPriceField,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var notifier pipeline.Notifier
	if cfg.Telegram.Enabled {
		telegramClient, err := telegram.NewClient(cfg.Telegram.BotToken, cfg.Telegram.ChatID, cfg.Telegram.MaxRetries, time.Second)
		if err != nil {
			logger.Fatal("Failed to initialize Telegram client: %v", err)
		}
		telegramClient.ListenForCommands(ctx)
		notifier = telegramClient
		logger.Info("Telegram client initialized successfully")
	} else {
		logger.Debug("Telegram notifications disabled, alerts will be logged")
		notifier = pipeline.NewLogNotifier()
	}

	runner := pipeline.NewRunner(store, mon, notifier, cfg.Sources, pipeline.Options{
		DispatchBatch:  cfg.Schedule.DispatchBatch,
		AlertRetention: cfg.Schedule.AlertRetention,
	})

	var metricsServer *http.Server
	if cfg.Metrics.Enabled {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		metricsServer = &http.Server{Addr: cfg.Metrics.Addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
		go func() {
			if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("Metrics server failed: %v", err)
			}
		}()
		logger.Info("Serving metrics on %s", cfg.Metrics.Addr)
	}

	pollJob := pipeline.PollJob{Ctx: ctx, Runner: runner}
	scheduler := pipeline.NewScheduler()
	if err := scheduler.AddJob(cfg.Schedule.Poll, pollJob); err != nil {
		logger.Fatal("Failed to schedule poll job: %v", err)
	}
	if err := scheduler.AddJob(cfg.Schedule.Maintenance, pipeline.MaintenanceJob{Ctx: ctx, Runner: runner}); err != nil {
		logger.Fatal("Failed to schedule maintenance job: %v", err)
	}

	logger.Info("Starting scanner (%d sources, poll: %s, maintenance: %s)",
		len(cfg.Sources), cfg.Schedule.Poll, cfg.Schedule.Maintenance)

	if err := scheduler.RunNow(pollJob); err != nil {
		logger.Warn("Initial poll finished with errors")
	}
	scheduler.Start()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan
	logger.Info("Shutdown signal received, cleaning up...")

	cancel()
	scheduler.Stop()
	if metricsServer != nil {
		shutdownCtx, done := context.WithTimeout(context.Background(), 5*time.Second)
		defer done()
		if err := metricsServer.Shutdown(shutdownCtx); err != nil {
			logger.Warn("Failed to stop metrics server: %v", err)
		}
	}
	logger.Info("Service stopped")
}
