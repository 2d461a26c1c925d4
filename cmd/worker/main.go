package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"

	"github.com/stockyard-erp/stockyard-erp/internal/app"
	"github.com/stockyard-erp/stockyard-erp/internal/inventory"
	"github.com/stockyard-erp/stockyard-erp/internal/platform/db"
	"github.com/stockyard-erp/stockyard-erp/internal/shared"
	"github.com/stockyard-erp/stockyard-erp/jobs"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping worker startup")
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := app.NewLogger(cfg)

	pool, err := db.New(ctx, cfg.PGDSN)
	if err != nil {
		logger.Error("connect postgres", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()

	inventoryRepo := inventory.NewRepository(pool)
	auditLogger := shared.NewAuditLogger(pool)
	scanner := jobs.NewExpiringLotsScanner(inventoryRepo, auditLogger, logger)

	scanTask, err := jobs.NewExpiringLotsTask(cfg.ExpiryScanDays, time.Now().UTC())
	if err != nil {
		logger.Error("build expiring lots task", slog.Any("error", err))
		os.Exit(1)
	}

	worker, err := jobs.NewWorker(jobs.WorkerConfig{
		RedisOpts: asynq.RedisClientOpt{Addr: cfg.RedisAddr},
		Logger:    logger,
		Handlers: []jobs.TaskHandler{
			{Type: jobs.TaskExpiringLotsScan, Handler: scanner.Handle},
		},
		Cron: []jobs.CronRegistration{
			{Spec: cfg.ExpiryScanCron, Task: scanTask, Options: []asynq.Option{asynq.MaxRetry(3)}},
		},
	})
	if err != nil {
		logger.Error("init worker", slog.Any("error", err))
		os.Exit(1)
	}

	if err := worker.Run(ctx); err != nil && err != context.Canceled {
		logger.Error("worker run", slog.Any("error", err))
		os.Exit(1)
	}
}
