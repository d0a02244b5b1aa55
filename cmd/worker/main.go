package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/hibiken/asynq"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/odyssey-erp/customer-portal/internal/app"
	"github.com/odyssey-erp/customer-portal/internal/billing/export"
	jobmetrics "github.com/odyssey-erp/customer-portal/internal/jobs"
	workerjobs "github.com/odyssey-erp/customer-portal/jobs"
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

	svc, release, err := app.NewBilling(ctx, cfg, logger)
	if err != nil {
		logger.Error("init billing", slog.Any("error", err))
		os.Exit(1)
	}
	defer release()

	storageDir := cfg.StatementStorageDir
	if storageDir == "" {
		storageDir = filepath.Join(os.TempDir(), "statements")
	}
	statementJob := export.NewJob(export.JobConfig{
		Exporter:   svc.Exporter,
		StorageDir: storageDir,
		Logger:     logger,
		Metrics:    jobmetrics.NewMetrics(nil),
	})

	// Zero payload: previous month for the default customer.
	monthEndTask, err := workerjobs.NewStatementRenderTask(workerjobs.StatementRenderPayload{})
	if err != nil {
		logger.Error("build month-end task", slog.Any("error", err))
		os.Exit(1)
	}

	worker, err := workerjobs.NewWorker(workerjobs.WorkerConfig{
		RedisOpts:   cfg.RedisOptions().Asynq(),
		Logger:      logger,
		Concurrency: cfg.WorkerConcurrency,
		Handlers: []workerjobs.TaskHandler{
			{Type: workerjobs.TaskStatementRender, Handler: statementJob.Handle},
		},
		Cron: []workerjobs.CronRegistration{
			{Schedule: cfg.StatementCron, Task: monthEndTask, Options: []asynq.Option{asynq.MaxRetry(3)}},
		},
	})
	if err != nil {
		logger.Error("init worker", slog.Any("error", err))
		os.Exit(1)
	}

	if cfg.WorkerMetricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		metricsServer := &http.Server{Addr: cfg.WorkerMetricsAddr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
		go func() {
			if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.Warn("worker metrics server", slog.Any("error", err))
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = metricsServer.Shutdown(shutdownCtx)
		}()
	}

	logger.Info("starting worker",
		slog.String("storage_dir", storageDir),
		slog.String("statement_cron", cfg.StatementCron),
	)
	if err := worker.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("worker run", slog.Any("error", err))
		os.Exit(1)
	}
}
