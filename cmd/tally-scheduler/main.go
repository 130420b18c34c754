package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/robfig/cron/v3"

	"tally/internal/amqp"
	"tally/internal/config"
	"tally/internal/core"
	"tally/internal/services"
	"tally/internal/storage"
)

func main() {
	// Load .env file for local development (ignore errors in production/docker)
	_ = godotenv.Load()

	// Setup structured logging
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	logger.Info("Starting tally-scheduler")

	// Load configuration
	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		logger.Error("Configuration validation failed", "error", err)
		os.Exit(1)
	}

	// Initialize SQLite repository
	repo, err := storage.NewSQLiteRepository(cfg.SQLiteDBPath)
	if err != nil {
		logger.Error("Failed to initialize SQLite repository", "error", err, "path", cfg.SQLiteDBPath)
		os.Exit(1)
	}
	defer repo.Close()

	// Initialize AMQP client for publishing generation events
	var events services.EventPublisher
	if cfg.AMQPURL != "" {
		amqpClient, err := amqp.NewClient(cfg.AMQPURL, cfg.AMQPExchange, cfg.AMQPQueue)
		if err != nil {
			logger.Warn("Failed to initialize AMQP client, continuing without generation events", "error", err)
		} else {
			defer amqpClient.Close()
			events = amqpClient
			logger.Info("AMQP client initialized", "exchange", cfg.AMQPExchange, "queue", cfg.AMQPQueue)
		}
	}

	scheduler := services.NewSchedulerService(repo, repo, events, services.SystemClock{}).
		WithParallelism(cfg.RuleParallelism)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sweep := func() {
		asOf := core.DateOf(time.Now())
		owners, err := repo.ListOwnersWithDueRules(ctx, asOf)
		if err != nil {
			logger.Error("Failed to list owners with due rules", "error", err)
			return
		}
		if len(owners) == 0 {
			logger.Info("No due rules", "as_of", asOf.String())
			return
		}

		for _, owner := range owners {
			summary, err := scheduler.GenerateDueOccurrences(ctx, owner, asOf)
			if err != nil {
				logger.Error("Sweep failed for owner", "owner_id", owner, "error", err)
				continue
			}
			logger.Info("Sweep complete for owner",
				"owner_id", owner,
				"generated", summary.Successful,
				"failed", summary.Failed)
		}
	}

	// Run an initial sweep on startup so overdue occurrences are caught up
	// without waiting for the first scheduled tick.
	logger.Info("Running initial generation sweep...")
	sweep()

	c := cron.New()
	if _, err := c.AddFunc(cfg.ScheduleCron, sweep); err != nil {
		logger.Error("Failed to schedule sweep", "cron", cfg.ScheduleCron, "error", err)
		os.Exit(1)
	}
	c.Start()
	logger.Info("Generation sweeps scheduled", "cron", cfg.ScheduleCron)

	// Handle shutdown signals
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigChan
	logger.Info("Shutdown signal received", "signal", sig.String())
	cancel()

	// Let an in-flight sweep finish before exiting.
	stopCtx := c.Stop()
	select {
	case <-stopCtx.Done():
		logger.Info("Tally-scheduler shutdown complete")
	case <-time.After(30 * time.Second):
		logger.Warn("Shutdown timeout reached")
	}
}
