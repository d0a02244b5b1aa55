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

	"github.com/odyssey-erp/customer-portal/internal/app"
	billinghttp "github.com/odyssey-erp/customer-portal/internal/billing/http"
	"github.com/odyssey-erp/customer-portal/internal/observability"
	"github.com/odyssey-erp/customer-portal/jobs"
	"github.com/odyssey-erp/customer-portal/report"
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

	svc, release, err := app.NewBilling(ctx, cfg, logger)
	if err != nil {
		logger.Error("init billing", slog.Any("error", err))
		os.Exit(1)
	}
	defer release()

	redisOpts := cfg.RedisOptions().Asynq()
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

	inspector := asynq.NewInspector(redisOpts)
	defer func() {
		if err := inspector.Close(); err != nil {
			logger.Warn("inspector close", slog.Any("error", err))
		}
	}()

	metrics := observability.NewMetrics()
	svc.Cache.SetObserver(metrics)

	billingHandler := billinghttp.NewHandler(billinghttp.Config{
		Logger:           logger,
		Dashboard:        svc.Dashboard,
		Invoices:         svc.Invoices,
		Payments:         svc.Payments,
		Statements:       svc.Statements,
		Exporter:         svc.Exporter,
		Enqueuer:         jobClient,
		Idempotency:      svc.Idempotency,
		Metrics:          metrics,
		ExportsPerMinute: cfg.ExportsPerMinute,
	})

	router := app.NewRouter(app.RouterParams{
		Logger:         logger,
		Config:         cfg,
		BillingHandler: billingHandler,
		ReportHandler:  report.NewHandler(svc.PDFClient, logger),
		JobHandler:     jobs.NewHandler(inspector, logger),
		Metrics:        metrics,
	})

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	go func() {
		logger.Info("starting http server",
			slog.String("addr", cfg.AppAddr),
			slog.String("store", cfg.StoreDriver),
			slog.Bool("events", cfg.PublishesEvents()),
		)
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
