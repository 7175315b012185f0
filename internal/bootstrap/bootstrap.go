package bootstrap

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"github.com/kirillkom/parish-ocr-validation/internal/config"
	"github.com/kirillkom/parish-ocr-validation/internal/core/domain"
	"github.com/kirillkom/parish-ocr-validation/internal/core/ports"
	"github.com/kirillkom/parish-ocr-validation/internal/core/usecase"
	"github.com/kirillkom/parish-ocr-validation/internal/infrastructure/fieldmap"
	"github.com/kirillkom/parish-ocr-validation/internal/infrastructure/queue/nats"
	"github.com/kirillkom/parish-ocr-validation/internal/infrastructure/registry"
	"github.com/kirillkom/parish-ocr-validation/internal/infrastructure/repository/postgres"
	"github.com/kirillkom/parish-ocr-validation/internal/infrastructure/resilience"
	"github.com/kirillkom/parish-ocr-validation/internal/observability/logging"
	"github.com/kirillkom/parish-ocr-validation/internal/observability/metrics"
)

// API holds everything the HTTP process serves.
type API struct {
	Config config.Config
	Logger *slog.Logger

	Metrics    *metrics.HTTPServerMetrics
	Bus        ports.EventBus
	Progress   *usecase.ProgressAggregator
	Validation *usecase.ValidationService

	closeFn func()
}

func NewAPI(ctx context.Context, cfg config.Config) (*API, error) {
	logger := logging.NewJSONLogger("api", cfg.LogLevel)
	httpMetrics := metrics.NewHTTPServerMetrics("api")
	executor := resilience.NewExecutor(resilienceConfig(cfg),
		resilience.WithLogger(logger),
		resilience.WithObserver(httpMetrics),
	)

	fieldMap, err := loadFieldMap(cfg.FieldMapPath)
	if err != nil {
		return nil, err
	}

	client := registry.New(cfg.RegistryBaseURL, registry.Options{
		Token:              cfg.RegistryAPIToken,
		Timeout:            cfg.RegistryTimeout,
		ResilienceExecutor: executor,
	})

	var (
		finder ports.PersonFinder = client
		db     *sql.DB
	)
	if cfg.PersonSearchBackend == config.PersonSearchPostgres {
		db, err = postgres.OpenDB(cfg.PostgresDSN)
		if err != nil {
			return nil, fmt.Errorf("open postgres: %w", err)
		}
		finder = postgres.NewPersonRepository(db)
	}

	bus, err := nats.New(cfg.NATSURL, nats.Options{
		Name:               "parish-ocr-validation-api",
		Subjects:           subjects(cfg),
		QueueGroup:         cfg.NATSQueueGroup,
		ResilienceExecutor: executor,
		Logger:             logger,
	})
	if err != nil {
		closeDB(db)
		return nil, fmt.Errorf("init event bus: %w", err)
	}

	progress := usecase.NewProgressAggregator(client, usecase.ProgressOptions{
		Interval:    cfg.ProgressPollInterval,
		Concurrency: cfg.ProgressPollConcurrency,
		PollTimeout: cfg.ProgressPollTimeout,
		Logger:      logger,
		Observer:    httpMetrics,
		OnTerminal: func(doc domain.TrackedDocument) {
			logger.Info("document_tracking_finished",
				"document_id", doc.DocumentID,
				"state", string(doc.State),
				"message", doc.Message,
			)
		},
	})

	validation := usecase.NewValidationService(usecase.ValidationDeps{
		Tuples:    client,
		Validator: client,
		Resolver:  usecase.NewDuplicatePersonResolver(finder, logger),
		Notifier:  bus,
		FieldMap:  fieldMap,
		Logger:    logger,
		Observer:  httpMetrics,
	}, client)

	logger.Info("api_bootstrapped",
		"registry_base_url", cfg.RegistryBaseURL,
		"person_search_backend", cfg.PersonSearchBackend,
		"field_map_path", cfg.FieldMapPath,
	)

	return &API{
		Config:     cfg,
		Logger:     logger,
		Metrics:    httpMetrics,
		Bus:        bus,
		Progress:   progress,
		Validation: validation,
		closeFn: func() {
			progress.Close()
			bus.Close()
			closeDB(db)
		},
	}, nil
}

func (a *API) Close() {
	if a.closeFn != nil {
		a.closeFn()
	}
}

// Worker holds the journal consumer.
type Worker struct {
	Config config.Config
	Logger *slog.Logger

	Metrics *metrics.WorkerMetrics
	Bus     ports.EventBus
	Journal ports.DecisionJournal

	closeFn func()
}

func NewWorker(ctx context.Context, cfg config.Config) (*Worker, error) {
	logger := logging.NewJSONLogger("worker", cfg.LogLevel)
	workerMetrics := metrics.NewWorkerMetrics("worker")
	executor := resilience.NewExecutor(resilienceConfig(cfg),
		resilience.WithLogger(logger),
		resilience.WithObserver(workerMetrics),
	)

	db, err := postgres.OpenDB(cfg.PostgresDSN)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := postgres.EnsureSchema(ctx, db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ensure schema: %w", err)
	}

	bus, err := nats.New(cfg.NATSURL, nats.Options{
		Name:               "parish-ocr-validation-worker",
		Subjects:           subjects(cfg),
		QueueGroup:         cfg.NATSQueueGroup,
		ResilienceExecutor: executor,
		Logger:             logger,
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("init event bus: %w", err)
	}

	return &Worker{
		Config:  cfg,
		Logger:  logger,
		Metrics: workerMetrics,
		Bus:     bus,
		Journal: postgres.NewJournalRepository(db),
		closeFn: func() {
			bus.Close()
			_ = db.Close()
		},
	}, nil
}

func (w *Worker) Close() {
	if w.closeFn != nil {
		w.closeFn()
	}
}

func resilienceConfig(cfg config.Config) resilience.Config {
	out := resilience.DefaultConfig()
	out.RetryMaxAttempts = cfg.ResilienceRetryMaxAttempts
	out.RetryInitialBackoff = cfg.ResilienceRetryInitialBackoff
	out.RetryMaxBackoff = cfg.ResilienceRetryMaxBackoff
	out.BreakerEnabled = cfg.ResilienceBreakerEnabled
	if cfg.ResilienceBreakerMinRequests > 0 {
		out.BreakerMinRequests = uint32(cfg.ResilienceBreakerMinRequests)
	}
	out.BreakerFailureRatio = cfg.ResilienceBreakerFailureRatio
	out.BreakerOpenTimeout = cfg.ResilienceBreakerOpenTimeout
	return out
}

func subjects(cfg config.Config) nats.Subjects {
	return nats.Subjects{
		JobStarted:        cfg.NATSJobStartedSubject,
		TupleValidated:    cfg.NATSTupleValidatedSubject,
		DocumentValidated: cfg.NATSDocumentValidatedSubject,
	}
}

func loadFieldMap(path string) (domain.FieldMap, error) {
	if path == "" {
		return domain.DefaultFieldMap(), nil
	}
	fm, err := fieldmap.Load(path)
	if err != nil {
		return nil, fmt.Errorf("load field map: %w", err)
	}
	return fm, nil
}

func closeDB(db *sql.DB) {
	if db != nil {
		_ = db.Close()
	}
}
