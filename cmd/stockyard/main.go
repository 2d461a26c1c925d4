package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"

	"github.com/stockyard-erp/stockyard-erp/internal/app"
	"github.com/stockyard-erp/stockyard-erp/internal/catalog"
	"github.com/stockyard-erp/stockyard-erp/internal/document"
	"github.com/stockyard-erp/stockyard-erp/internal/inventory"
	"github.com/stockyard-erp/stockyard-erp/internal/observability"
	"github.com/stockyard-erp/stockyard-erp/internal/platform/db"
	"github.com/stockyard-erp/stockyard-erp/internal/shared"
	"github.com/stockyard-erp/stockyard-erp/jobs"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping runtime startup")
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

	redisClient := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	if err := redisClient.Ping(ctx).Err(); err != nil {
		logger.Warn("redis ping", slog.Any("error", err))
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Warn("redis close", slog.Any("error", err))
		}
	}()

	metrics := observability.NewMetrics()
	auditLogger := shared.NewAuditLogger(pool)
	idempotency := shared.NewIdempotencyStore(pool)

	catalogRepo := catalog.NewRepository(pool)
	inventoryRepo := inventory.NewRepository(pool)
	summaryCache := inventory.NewCache(redisClient, cfg.StockSummaryTTL)
	engine := inventory.NewEngine(inventoryRepo, auditLogger, metrics, summaryCache, logger)
	inventoryHandler := inventory.NewHandler(logger, engine, inventoryRepo, summaryCache, cfg.ExpiryScanDays)

	documentRepo := document.NewRepository(pool)
	documentService := document.NewService(documentRepo, engine, catalogRepo, idempotency, auditLogger, metrics, logger)
	documentHandler := document.NewHandler(logger, documentService)

	redisOpts := asynq.RedisClientOpt{Addr: cfg.RedisAddr}
	jobClient, err := jobs.NewClient(redisOpts)
	if err != nil {
		logger.Error("init job client", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := jobClient.Close(); err != nil {
			logger.Warn("job client close", slog.Any("error", err))
		}
	}()
	jobHandler := jobs.NewHandler(asynq.NewInspector(redisOpts), jobClient, cfg.ExpiryScanDays, logger)

	router := app.NewRouter(app.RouterParams{
		Logger:           logger,
		Config:           cfg,
		Pool:             pool,
		InventoryHandler: inventoryHandler,
		DocumentHandler:  documentHandler,
		JobHandler:       jobHandler,
		Metrics:          metrics,
	})

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	go func() {
		logger.Info("starting http server", slog.String("addr", cfg.AppAddr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server", slog.Any("error", err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown", slog.Any("error", err))
	}
}
