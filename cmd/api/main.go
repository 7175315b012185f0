package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	httpadapter "github.com/kirillkom/parish-ocr-validation/internal/adapters/http"
	"github.com/kirillkom/parish-ocr-validation/internal/bootstrap"
	"github.com/kirillkom/parish-ocr-validation/internal/config"
	"github.com/kirillkom/parish-ocr-validation/internal/observability/logging"
)

func main() {
	cfg := config.Load()
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, err := bootstrap.NewAPI(ctx, cfg)
	if err != nil {
		logging.NewJSONLogger("api", cfg.LogLevel).Error("bootstrap_failed", "error", err)
		os.Exit(1)
	}
	defer app.Close()
	logger := app.Logger

	router := httpadapter.NewRouter(cfg, app.Progress, app.Validation, app.Metrics, logger).Handler()
	server := &http.Server{
		Addr:         ":" + cfg.APIPort,
		Handler:      router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		err := app.Bus.SubscribeJobStarted(ctx, func(_ context.Context, documentID string) error {
			return app.Progress.BeginTracking(documentID)
		})
		if err != nil {
			logger.Error("job_started_subscription_failed", "error", err)
		}
	}()

	go func() {
		logger.Info("api_listening", "port", cfg.APIPort)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("api_server_failed", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("api_shutdown_failed", "error", err)
	}
}
