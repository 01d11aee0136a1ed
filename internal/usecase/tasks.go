package usecase

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/ternarybob/arbor"

	"TechNotesScanner/internal/domain"
	"TechNotesScanner/internal/logging"
	"TechNotesScanner/internal/ports"
	"TechNotesScanner/internal/scanner"
)

const (
	defaultSummarizeItems    = 10
	defaultPipelineItems     = 20
	defaultReadinessTimeout  = 5 * time.Second
	defaultReadinessInterval = 100 * time.Millisecond
	digestPreviewChars       = 300
)

// SourceResolver loads a configured data source and the strategy that scrapes it.
type SourceResolver interface {
	Ensure(ctx context.Context, name string) (domain.DataSource, error)
	Strategy(source domain.DataSource) (scanner.Strategy, error)
}

// TaskDeps wires the task functions.
type TaskDeps struct {
	Sources           SourceResolver
	SourceName        string
	Scraper           *ScraperPipeline
	Summarizer        *SummarizerService
	Documents         ports.DocumentRepository
	Notifier          ports.Notifier
	Logger            arbor.ILogger
	ReadinessTimeout  time.Duration
	ReadinessInterval time.Duration
}

// Tasks holds the job bodies shared by the scheduler and manual triggers.
type Tasks struct {
	sources           SourceResolver
	sourceName        string
	scraper           *ScraperPipeline
	summarizer        *SummarizerService
	documents         ports.DocumentRepository
	notifier          ports.Notifier
	logger            arbor.ILogger
	readinessTimeout  time.Duration
	readinessInterval time.Duration
}

// ScrapeJobStats is the stats payload of a scrape run.
type ScrapeJobStats struct {
	domain.ScrapeStats
	DataSourceID string `json:"data_source_id"`
}

// PipelineStats is the stats payload of a full pipeline run.
type PipelineStats struct {
	Scraping      domain.JobResult  `json:"scraping"`
	Summarization *domain.JobResult `json:"summarization,omitempty"`
	Skipped       string            `json:"skipped,omitempty"`
}

// HealthStats is the stats payload of a health check.
type HealthStats struct {
	Status string                  `json:"status"`
	Stats  *domain.ProcessingStats `json:"stats,omitempty"`
}

// NewTasks constructs the task set.
func NewTasks(deps TaskDeps) *Tasks {
	logger := deps.Logger
	if logger == nil {
		logger = logging.Discard()
	}
	timeout := deps.ReadinessTimeout
	if timeout <= 0 {
		timeout = defaultReadinessTimeout
	}
	interval := deps.ReadinessInterval
	if interval <= 0 {
		interval = defaultReadinessInterval
	}
	return &Tasks{
		sources:           deps.Sources,
		sourceName:        deps.SourceName,
		scraper:           deps.Scraper,
		summarizer:        deps.Summarizer,
		documents:         deps.Documents,
		notifier:          deps.Notifier,
		logger:            logger,
		readinessTimeout:  timeout,
		readinessInterval: interval,
	}
}

// Scrape harvests new documents from the configured source.
func (t *Tasks) Scrape(ctx context.Context, _ map[string]string) domain.JobResult {
	result := domain.JobResult{StartTime: time.Now()}
	stats, err := t.scrape(ctx)
	result.Stats = stats
	if err != nil {
		t.logger.Error().Err(err).Str("source", t.sourceName).Msg("scrape job failed")
		return result.Fail(err)
	}
	result.Success = true
	return result.Finish()
}

func (t *Tasks) scrape(ctx context.Context) (ScrapeJobStats, error) {
	source, err := t.sources.Ensure(ctx, t.sourceName)
	if err != nil {
		return ScrapeJobStats{}, err
	}
	if !source.Active {
		return ScrapeJobStats{DataSourceID: source.ID}, fmt.Errorf("%s: %w", source.Name, domain.ErrSourceInactive)
	}
	strategy, err := t.sources.Strategy(source)
	if err != nil {
		return ScrapeJobStats{DataSourceID: source.ID}, err
	}
	stats, err := t.scraper.ScrapeNewItems(ctx, source, strategy)
	return ScrapeJobStats{ScrapeStats: stats, DataSourceID: source.ID}, err
}

// Summarize processes up to max_items pending documents, oldest first.
func (t *Tasks) Summarize(ctx context.Context, args map[string]string) domain.JobResult {
	result := domain.JobResult{StartTime: time.Now()}
	limit := intArg(args, "max_items", defaultSummarizeItems)

	docs, err := t.summarizer.GetPendingDocuments(ctx, limit)
	if err != nil {
		t.logger.Error().Err(err).Msg("summarize job failed to list pending documents")
		return result.Fail(err)
	}
	if len(docs) == 0 {
		t.logger.Info().Msg("no pending documents to process")
		result.Success = true
		result.Stats = domain.BatchResult{Results: []domain.ProcessResult{}}
		return result.Finish()
	}

	batch := t.summarizer.ProcessBatch(ctx, docs)
	if batch.Processed > 0 {
		t.notify(ctx, docs, batch)
	}
	result.Success = true
	result.Stats = batch
	return result.Finish()
}

// FullPipeline scrapes, then summarizes the freshly harvested backlog.
// Summarization is skipped when scraping fails.
func (t *Tasks) FullPipeline(ctx context.Context, args map[string]string) domain.JobResult {
	result := domain.JobResult{StartTime: time.Now()}
	limit := intArg(args, "max_items", defaultPipelineItems)

	scrape := t.Scrape(ctx, nil)
	stats := PipelineStats{Scraping: scrape}
	if !scrape.Success {
		stats.Skipped = "summarize skipped: scraping failed"
		result.Stats = stats
		t.logger.Warn().Str("error", scrape.Error).Msg("full pipeline stopped after scraping")
		return result.Fail(fmt.Errorf("scraping failed: %s", scrape.Error))
	}

	if scraped, ok := scrape.Stats.(ScrapeJobStats); ok && len(scraped.NewDocumentIDs) > 0 {
		if err := t.awaitReadable(ctx, scraped.NewDocumentIDs); err != nil {
			t.logger.Warn().Err(err).Msg("new documents not yet readable, summarizing visible backlog")
		}
	}

	summarize := t.Summarize(ctx, map[string]string{"max_items": strconv.Itoa(limit)})
	stats.Summarization = &summarize
	result.Stats = stats
	if !summarize.Success {
		return result.Fail(fmt.Errorf("summarization failed: %s", summarize.Error))
	}
	result.Success = true
	return result.Finish()
}

// HealthCheck reports processing statistics.
func (t *Tasks) HealthCheck(ctx context.Context, _ map[string]string) domain.JobResult {
	result := domain.JobResult{StartTime: time.Now()}
	stats, err := t.summarizer.ProcessingStats(ctx)
	if err != nil {
		result.Stats = HealthStats{Status: "unhealthy"}
		t.logger.Error().Err(err).Msg("health check failed")
		return result.Fail(err)
	}
	result.Success = true
	result.Stats = HealthStats{Status: "healthy", Stats: &stats}
	return result.Finish()
}

// awaitReadable polls until every id can be loaded or the readiness window closes.
func (t *Tasks) awaitReadable(ctx context.Context, ids []string) error {
	deadline := time.Now().Add(t.readinessTimeout)
	pending := append([]string(nil), ids...)
	for {
		remaining := pending[:0]
		for _, id := range pending {
			if _, err := t.documents.GetDocument(ctx, id); err != nil {
				if !errors.Is(err, domain.ErrNotFound) {
					return err
				}
				remaining = append(remaining, id)
			}
		}
		pending = remaining
		if len(pending) == 0 {
			return nil
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("%d document(s) not visible after %s", len(pending), t.readinessTimeout)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(t.readinessInterval):
		}
	}
}

func (t *Tasks) notify(ctx context.Context, docs []domain.Document, batch domain.BatchResult) {
	if t.notifier == nil {
		return
	}
	if err := t.notifier.PublishDigest(ctx, buildDigest(docs, batch)); err != nil {
		t.logger.Warn().Err(err).Msg("digest notification failed")
		return
	}
	t.logger.Info().Int("processed", batch.Processed).Msg("digest published")
}

func buildDigest(docs []domain.Document, batch domain.BatchResult) string {
	titles := make(map[string]string, len(docs))
	for _, doc := range docs {
		titles[doc.ID] = doc.Title
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Novas notas técnicas NFe processadas: %d\n", batch.Processed)
	for _, r := range batch.Results {
		if !r.Success {
			continue
		}
		title := titles[r.DocumentID]
		if title == "" {
			title = r.DocumentID
		}
		fmt.Fprintf(&b, "\n• %s\n", title)
		if r.SummaryPreview != "" {
			b.WriteString(domain.TruncateRunes(r.SummaryPreview, digestPreviewChars))
			b.WriteString("\n")
		}
	}
	return b.String()
}

func intArg(args map[string]string, key string, fallback int) int {
	raw, ok := args[key]
	if !ok || raw == "" {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return fallback
	}
	return n
}
