package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"

	"github.com/podworks/podworks/internal/app"
	"github.com/podworks/podworks/internal/platform/db"
	"github.com/podworks/podworks/internal/products"
	"github.com/podworks/podworks/internal/shared"
	"github.com/podworks/podworks/internal/stocktake"
	"github.com/podworks/podworks/jobs"
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
		logger.Error("connect database", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()

	mailClient, err := jobs.NewClient(asynq.RedisClientOpt{Addr: cfg.RedisAddr})
	if err != nil {
		logger.Error("init job client", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := mailClient.Close(); err != nil {
			logger.Warn("job client close", slog.Any("error", err))
		}
	}()

	auditLogger := shared.NewAuditLogger(pool)
	productsRepo := products.NewRepository(pool)
	productsService := products.NewService(productsRepo, auditLogger)
	stocktakeRepo := stocktake.NewRepository(pool)
	stocktakeService := stocktake.NewService(logger, stocktakeRepo, productsService, auditLogger, nil)

	reportJob := jobs.NewReportNotifyJob(stocktakeService, mailClient, cfg.OpsEmail, logger)
	reminderJob := jobs.NewDiscrepancyReminderJob(stocktakeService, mailClient, cfg.OpsEmail, cfg.ReminderAge, logger)

	reminderTask, err := jobs.NewDiscrepancyReminderTask(time.Now().UTC())
	if err != nil {
		logger.Error("build reminder task", slog.Any("error", err))
		os.Exit(1)
	}

	worker, err := jobs.NewWorker(jobs.WorkerConfig{
		RedisOpts: asynq.RedisClientOpt{Addr: cfg.RedisAddr},
		Logger:    logger,
		Handlers: []jobs.TaskHandler{
			{Type: jobs.TaskTypeReportNotify, Handler: reportJob.Handle},
			{Type: jobs.TaskTypeDiscrepancyReminder, Handler: reminderJob.Handle},
		},
		Cron: []jobs.CronRegistration{
			{Spec: cfg.ReminderSchedule, Task: reminderTask, Options: []asynq.Option{asynq.MaxRetry(3)}},
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
