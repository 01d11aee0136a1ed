package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/ternarybob/arbor"

	"TechNotesScanner/internal/config"
	"TechNotesScanner/internal/infrastructure/archive"
	"TechNotesScanner/internal/infrastructure/document"
	"TechNotesScanner/internal/infrastructure/fetcher"
	"TechNotesScanner/internal/infrastructure/llm"
	"TechNotesScanner/internal/infrastructure/parser"
	"TechNotesScanner/internal/infrastructure/scheduler"
	"TechNotesScanner/internal/infrastructure/storage/badger"
	"TechNotesScanner/internal/infrastructure/storage/postgres"
	"TechNotesScanner/internal/infrastructure/telegram"
	"TechNotesScanner/internal/logging"
	"TechNotesScanner/internal/ports"
	"TechNotesScanner/internal/scanner"
	"TechNotesScanner/internal/server"
	"TechNotesScanner/internal/usecase"
)

// Application wires configs to use cases and owns their lifecycle.
type Application struct {
	cfg         config.Config
	logger      arbor.ILogger
	store       ports.Store
	closers     []func() error
	catalog     *parser.SourceCatalog
	scheduler   *scheduler.JobScheduler
	coordinator *usecase.Coordinator
	server      *server.Server
}

// New opens the stores and builds every component. Call Close (or Shutdown) to release them.
func New(ctx context.Context, cfg config.Config, logger arbor.ILogger) (*Application, error) {
	if logger == nil {
		logger = logging.New(cfg.Logging.Level)
	}
	a := &Application{cfg: cfg, logger: logger}

	jobStore, err := badger.Open(cfg.Storage.BadgerPath, logger)
	if err != nil {
		return nil, fmt.Errorf("open job store: %w", err)
	}
	a.closers = append(a.closers, jobStore.Close)

	switch cfg.Storage.Driver {
	case "postgres":
		repo, err := postgres.Open(ctx, cfg.Storage.DSN)
		if err != nil {
			_ = a.Close()
			return nil, err
		}
		a.closers = append(a.closers, repo.Close)
		if err := repo.Migrate(ctx); err != nil {
			_ = a.Close()
			return nil, err
		}
		a.store = repo
	default:
		a.store = jobStore
	}

	httpClient := &http.Client{Timeout: cfg.Fetcher.Timeout}
	contentFetcher := fetcher.New(httpClient, fetcher.Options{
		Delay:         cfg.Fetcher.Delay,
		MaxRetries:    cfg.Fetcher.MaxRetries,
		BackoffBase:   cfg.Fetcher.BackoffBase,
		MaxRetryWait:  cfg.Fetcher.MaxRetryWait,
		UserAgent:     cfg.Fetcher.UserAgent,
		RespectRobots: cfg.Fetcher.RespectRobots,
	}, logger)

	registry := newRegistry(contentFetcher, cfg.Extraction, logger)
	a.catalog = parser.NewSourceCatalog(registry, a.store, cfg.Sources, logger)

	rawArchive, err := archive.New(cfg.Archive)
	if err != nil {
		_ = a.Close()
		return nil, fmt.Errorf("archive: %w", err)
	}

	model, err := llm.New(ctx, cfg.LLM, &http.Client{Timeout: cfg.LLM.Timeout})
	if err != nil {
		logger.Warn().Err(err).Msg("language model unavailable, summarization will fail until configured")
	}

	var notifier ports.Notifier
	if cfg.Notifications.Telegram.Enabled() {
		notifier = telegram.NewNotifier(cfg.Notifications.Telegram.BotToken, cfg.Notifications.Telegram.ChatID)
	}

	scraper := usecase.NewScraperPipeline(usecase.ScraperDeps{
		Fetcher:      contentFetcher,
		Documents:    a.store,
		Logs:         a.store,
		Archive:      rawArchive,
		Logger:       logger,
		PreviewLimit: cfg.Pipeline.PreviewLimit,
	})
	summarizer := usecase.NewSummarizerService(usecase.SummarizerDeps{
		Documents:   a.store,
		Summaries:   a.store,
		Logs:        a.store,
		LLM:         model,
		Logger:      logger,
		Temperature: cfg.LLM.Temperature,
		MaxTokens:   cfg.LLM.MaxTokens,
	})
	tasks := usecase.NewTasks(usecase.TaskDeps{
		Sources:    a.catalog,
		SourceName: config.NFeSourceName,
		Scraper:    scraper,
		Summarizer: summarizer,
		Documents:  a.store,
		Notifier:   notifier,
		Logger:     logger,
	})

	a.scheduler = scheduler.New(jobStore, scheduler.Options{
		Location: cfg.Scheduler.Location(),
		PoolSize: cfg.Scheduler.PoolSize,
	}, logger)
	a.coordinator = usecase.NewCoordinator(usecase.CoordinatorDeps{
		Scheduler:  a.scheduler,
		Tasks:      tasks,
		Summarizer: summarizer,
		Sources:    a.store,
		Documents:  a.store,
		Logs:       a.store,
		Jobs:       usecase.JobSpecs(cfg.Jobs),
		Logger:     logger,
	})

	if cfg.Server.Addr != "" {
		a.server = server.New(a.coordinator, logger)
	}
	return a, nil
}

func newRegistry(f ports.Fetcher, cfg config.ExtractionConfig, logger arbor.ILogger) *scanner.Registry {
	listing := parser.NewNFeListingExtractor(logger)
	pdf := document.NewPDFFetcher(f, cfg.MaxPages, cfg.PreviewLimit, logger)

	registry := scanner.NewRegistry()
	registry.Register(scanner.Strategy{Name: "nfe", Listing: listing, Document: pdf})
	registry.Register(scanner.Strategy{Name: "pdf", Listing: listing, Document: pdf})
	registry.Register(scanner.Strategy{Name: "html", Listing: listing, Document: document.NewHTMLFetcher(f, cfg.PreviewLimit, logger)})
	registry.Register(scanner.Strategy{Name: "text", Listing: listing, Document: document.NewTextFetcher(f, cfg.PreviewLimit)})
	return registry
}

// Coordinator exposes the job coordinator for manual triggers.
func (a *Application) Coordinator() *usecase.Coordinator {
	return a.coordinator
}

// Scheduler exposes the job engine.
func (a *Application) Scheduler() *scheduler.JobScheduler {
	return a.scheduler
}

// PrepareSources creates configured data sources that are not stored yet.
func (a *Application) PrepareSources(ctx context.Context) error {
	if _, err := a.catalog.EnsureAll(ctx); err != nil {
		return fmt.Errorf("prepare data sources: %w", err)
	}
	a.logger.Debug().Strs("sources", a.catalog.Names()).Msg("data sources ready")
	return nil
}

// Setup materializes configured sources and registers the default jobs.
func (a *Application) Setup(ctx context.Context) (usecase.SetupResult, error) {
	if err := a.PrepareSources(ctx); err != nil {
		return usecase.SetupResult{}, err
	}
	result := a.coordinator.SetupDefaultJobs(ctx)
	if len(result.Errors) > 0 {
		return result, fmt.Errorf("job setup: %d registration(s) failed", len(result.Errors))
	}
	return result, nil
}

// Start runs the scheduler and, when configured, the status server.
func (a *Application) Start(ctx context.Context) error {
	if err := a.scheduler.Start(ctx); err != nil {
		return fmt.Errorf("start scheduler: %w", err)
	}
	if a.server != nil {
		go func() {
			if err := a.server.Listen(a.cfg.Server.Addr); err != nil {
				a.logger.Error().Err(err).Msg("status server stopped")
			}
		}()
	}
	a.logger.Info().Msg("application started")
	return nil
}

// Shutdown stops the server and scheduler, waiting up to the configured timeout, then closes the stores.
func (a *Application) Shutdown(ctx context.Context) error {
	if timeout := a.cfg.Scheduler.ShutdownTimeout; timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	var errs []error
	if a.server != nil {
		if err := a.server.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("status server: %w", err))
		}
	}
	if err := a.scheduler.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("scheduler: %w", err))
	}
	if err := a.Close(); err != nil {
		errs = append(errs, err)
	}
	a.logger.Info().Msg("application stopped")
	return errors.Join(errs...)
}

// Close releases the stores. It is safe to call more than once.
func (a *Application) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
