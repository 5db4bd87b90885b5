package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/hibiken/asynq"

	"github.com/botica-erp/botica/internal/app"
	"github.com/botica-erp/botica/internal/inventory"
	"github.com/botica-erp/botica/internal/platform/db"
	"github.com/botica-erp/botica/internal/shared"
	"github.com/botica-erp/botica/jobs"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := app.NewLogger(cfg)

	dbpool, err := db.New(ctx, cfg.PGDSN)
	if err != nil {
		logger.Error("connect postgres", slog.Any("error", err))
		os.Exit(1)
	}
	defer dbpool.Close()

	auditLogger := shared.NewAuditLogger(dbpool)
	inventoryRepo := inventory.NewRepository(dbpool)
	inventoryService := inventory.NewService(inventoryRepo, auditLogger)
	idempotencyStore := shared.NewIdempotencyStore(dbpool)

	sweeper := jobs.NewExpirySweeper(inventoryService, logger)
	scanner := jobs.NewLowStockScanner(inventoryService, logger, cfg.LowStockThreshold)
	cleaner := jobs.NewIdempotencyCleaner(idempotencyStore, logger, cfg.IdempotencyTTL)

	sweepTask, err := jobs.NewExpirySweepTask(jobs.ExpirySweepPayload{HorizonDays: cfg.ExpiryWarnDays})
	if err != nil {
		logger.Error("build sweep task", slog.Any("error", err))
		os.Exit(1)
	}
	scanTask, err := jobs.NewLowStockScanTask(jobs.LowStockScanPayload{Threshold: cfg.LowStockThreshold})
	if err != nil {
		logger.Error("build scan task", slog.Any("error", err))
		os.Exit(1)
	}
	cleanupTask, err := jobs.NewIdempotencyCleanupTask(jobs.IdempotencyCleanupPayload{OlderThan: cfg.IdempotencyTTL})
	if err != nil {
		logger.Error("build cleanup task", slog.Any("error", err))
		os.Exit(1)
	}

	worker, err := jobs.NewWorker(jobs.WorkerConfig{
		RedisOpts: asynq.RedisClientOpt{Addr: cfg.RedisAddr},
		Logger:    logger,
		Handlers: []jobs.TaskHandler{
			{Type: jobs.TaskExpirySweep, Handler: sweeper.Handle},
			{Type: jobs.TaskLowStockScan, Handler: scanner.Handle},
			{Type: jobs.TaskIdempotencyCleanup, Handler: cleaner.Handle},
		},
		Cron: []jobs.CronRegistration{
			{Spec: cfg.ExpirySweepSchedule, Task: sweepTask, Options: []asynq.Option{asynq.Queue(jobs.QueueDefault)}},
			{Spec: cfg.LowStockSchedule, Task: scanTask, Options: []asynq.Option{asynq.Queue(jobs.QueueDefault)}},
			{Spec: "30 3 * * *", Task: cleanupTask, Options: []asynq.Option{asynq.Queue(jobs.QueueDefault)}},
		},
	})
	if err != nil {
		logger.Error("build worker", slog.Any("error", err))
		os.Exit(1)
	}

	logger.Info("starting worker", slog.String("redis", cfg.RedisAddr))
	if err := worker.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("worker stopped", slog.Any("error", err))
		os.Exit(1)
	}
}
