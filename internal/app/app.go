package app

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"GazetteScanner/internal/config"
	"GazetteScanner/internal/domain"
	"GazetteScanner/internal/extractor"
	"GazetteScanner/internal/gazette"
	"GazetteScanner/internal/infrastructure/fetch"
	"GazetteScanner/internal/infrastructure/report"
	schedinfra "GazetteScanner/internal/infrastructure/scheduler"
	"GazetteScanner/internal/infrastructure/storage"
	"GazetteScanner/internal/logging"
	"GazetteScanner/internal/merger"
	"GazetteScanner/internal/pagestore"
	"GazetteScanner/internal/ports"
	"GazetteScanner/internal/usecase"
)

// Application wires configuration to the extraction engine and owns its
// lifecycle. Constructed once at process start; all dependents receive
// it by reference.
type Application struct {
	cfg        config.Config
	logger     *slog.Logger
	db         *sql.DB
	repository *storage.Repository
	scheduler  *usecase.Scheduler
}

// New builds the runnable application. A configuration the scheduler or
// extractor cannot run with is rejected here, before any trigger is
// registered.
func New(cfg config.Config, baseLogger *slog.Logger) (*Application, error) {
	if baseLogger == nil {
		baseLogger = logging.New(cfg.Logging.Level)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("fatal configuration: %w", err)
	}

	db, err := storage.Open(cfg.Database.Driver, cfg.Database.DSN)
	if err != nil {
		return nil, fmt.Errorf("open publication store: %w", err)
	}
	repository := storage.NewRepository(db, cfg.Database.Driver)

	registry := gazette.NewRegistry()
	registry.Register(fetch.NewDJESource(nil))
	source := gazette.NewStrategySource(registry, cfg.Gazette, baseLogger.With("component", "source"))

	var sink ports.ReportSink
	if cfg.Report.WebhookURL != "" {
		sink = report.NewWebhookSink(cfg.Report.WebhookURL)
	}

	pipeline := usecase.NewPipeline(usecase.PipelineDeps{
		Source:     source,
		Repository: repository,
		Store:      pagestore.New(),
		Extractor:  extractor.New(cfg.Extraction.DefaultDefendant, baseLogger.With("component", "extractor")),
		ReportSink: sink,
		MergerCfg: merger.Config{
			StartMarker: cfg.Extraction.StartMarker,
			EndMarker:   cfg.Extraction.EndMarker,
			MaxSpan:     cfg.Extraction.MaxMergeSpan,
		},
		Fetch: usecase.FetchPolicy{
			Workers:         cfg.Fetch.Workers,
			Retries:         cfg.Fetch.Retries,
			MaxPageFailures: cfg.Fetch.MaxPageFailures,
			Backoff:         cfg.Fetch.Backoff.Std(),
		},
		Logger: baseLogger.With("component", "pipeline"),
	})

	loc := cfg.Scheduler.Location()
	driver := schedinfra.NewSlotScheduler(loc, baseLogger.With("component", "scheduler"),
		schedinfra.Slot{Name: domain.SlotMorning, Hour: cfg.Scheduler.Morning.Hour, Minute: cfg.Scheduler.Morning.Minute},
		schedinfra.Slot{Name: domain.SlotAfternoon, Hour: cfg.Scheduler.Afternoon.Hour, Minute: cfg.Scheduler.Afternoon.Minute},
	)

	sched := usecase.NewScheduler(driver, pipeline, loc, cfg.Fetch.RunTimeout.Std(),
		cfg.Report.History, baseLogger.With("component", "runner"))

	return &Application{
		cfg:        cfg,
		logger:     baseLogger,
		db:         db,
		repository: repository,
		scheduler:  sched,
	}, nil
}

// Run bootstraps the schema, starts the slot triggers and blocks until
// the context is cancelled.
func (a *Application) Run(ctx context.Context) error {
	if err := a.repository.EnsureSchema(ctx); err != nil {
		return fmt.Errorf("bootstrap schema: %w", err)
	}

	if err := a.scheduler.Start(ctx); err != nil {
		return fmt.Errorf("start scheduler: %w", err)
	}
	a.logger.Info("scheduler started",
		"gazette", a.cfg.Gazette.Name,
		"morning", fmt.Sprintf("%02d:%02d", a.cfg.Scheduler.Morning.Hour, a.cfg.Scheduler.Morning.Minute),
		"afternoon", fmt.Sprintf("%02d:%02d", a.cfg.Scheduler.Afternoon.Hour, a.cfg.Scheduler.Afternoon.Minute),
	)

	<-ctx.Done()

	stopCtx := context.WithoutCancel(ctx)
	if err := a.scheduler.Stop(stopCtx); err != nil {
		a.logger.Warn("scheduler stop", "error", err)
	}
	if err := a.db.Close(); err != nil {
		a.logger.Warn("close publication store", "error", err)
	}
	return nil
}
