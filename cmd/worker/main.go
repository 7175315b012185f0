package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/kirillkom/parish-ocr-validation/internal/bootstrap"
	"github.com/kirillkom/parish-ocr-validation/internal/config"
	"github.com/kirillkom/parish-ocr-validation/internal/core/domain"
	"github.com/kirillkom/parish-ocr-validation/internal/observability/logging"
)

func main() {
	cfg := config.Load()
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, err := bootstrap.NewWorker(ctx, cfg)
	if err != nil {
		logging.NewJSONLogger("worker", cfg.LogLevel).Error("bootstrap_failed", "error", err)
		os.Exit(1)
	}
	defer app.Close()
	logger := app.Logger

	mux := http.NewServeMux()
	mux.Handle("GET /metrics", app.Metrics.Handler())
	metricsServer := &http.Server{
		Addr:              ":" + cfg.WorkerMetricsPort,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		logger.Info("worker_metrics_listening", "port", cfg.WorkerMetricsPort)
		if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("worker_metrics_server_failed", "error", err)
		}
	}()
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = metricsServer.Shutdown(shutdownCtx)
	}()

	logger.Info("worker_subscribed", "subject", cfg.NATSTupleValidatedSubject, "queue_group", cfg.NATSQueueGroup)
	err = app.Bus.SubscribeTupleValidated(ctx, func(handlerCtx context.Context, event domain.TupleValidatedEvent) error {
		writeCtx, cancel := context.WithTimeout(handlerCtx, 30*time.Second)
		defer cancel()

		if !event.ValidatedAt.IsZero() {
			app.Metrics.ObserveEventLag(time.Since(event.ValidatedAt))
		}
		app.Metrics.StartEvent()
		started := time.Now()
		err := app.Journal.Append(writeCtx, event)
		app.Metrics.FinishEvent(time.Since(started), err)
		if err != nil {
			return err
		}

		if event.Result.Completed {
			count, err := app.Journal.CountByDocument(writeCtx, event.Decision.DocumentID)
			if err != nil {
				logger.Warn("journal_count_failed", "document_id", event.Decision.DocumentID, "error", err)
				return nil
			}
			logger.Info("document_journal_completed",
				"document_id", event.Decision.DocumentID,
				"journal_entries", count,
				"total_tuples", event.Result.TotalTuples,
			)
		}
		return nil
	})
	if err != nil {
		logger.Error("worker_subscribe_failed", "error", err)
	}
}
