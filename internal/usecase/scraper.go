package usecase

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ternarybob/arbor"

	"TechNotesScanner/internal/domain"
	"TechNotesScanner/internal/infrastructure/archive"
	"TechNotesScanner/internal/logging"
	"TechNotesScanner/internal/ports"
	"TechNotesScanner/internal/scanner"
)

const (
	defaultPersistPreview = 1000
	logTitleLimit         = 50
)

// ScraperDeps wires the adapters the scraper pipeline drives.
type ScraperDeps struct {
	Fetcher      ports.Fetcher
	Documents    ports.DocumentRepository
	Logs         ports.LogRepository
	Archive      ports.Archive
	Logger       arbor.ILogger
	PreviewLimit int
}

// ScraperPipeline harvests new documents from a source listing.
type ScraperPipeline struct {
	fetcher      ports.Fetcher
	documents    ports.DocumentRepository
	logs         ports.LogRepository
	archive      ports.Archive
	dedup        *Deduplicator
	logger       arbor.ILogger
	previewLimit int
	now          func() time.Time
}

// NewScraperPipeline constructs the pipeline.
func NewScraperPipeline(deps ScraperDeps) *ScraperPipeline {
	logger := deps.Logger
	if logger == nil {
		logger = logging.Discard()
	}
	limit := deps.PreviewLimit
	if limit <= 0 {
		limit = defaultPersistPreview
	}
	return &ScraperPipeline{
		fetcher:      deps.Fetcher,
		documents:    deps.Documents,
		logs:         deps.Logs,
		archive:      deps.Archive,
		dedup:        NewDeduplicator(deps.Documents),
		logger:       logger,
		previewLimit: limit,
		now:          time.Now,
	}
}

// ScrapeNewItems fetches the listing and persists every item not seen before.
// A listing failure aborts the run; item failures are counted and logged.
func (p *ScraperPipeline) ScrapeNewItems(ctx context.Context, source domain.DataSource, strategy scanner.Strategy) (domain.ScrapeStats, error) {
	start := p.now()
	var stats domain.ScrapeStats
	finish := func() domain.ScrapeStats {
		stats.ProcessingTimeSeconds = p.now().Sub(start).Seconds()
		return stats
	}

	p.logger.Info().Str("source", source.Name).Msg("scraping started")

	resp, err := p.fetcher.Fetch(ctx, source.ListingURL, source.Headers())
	if err != nil {
		stats.Errors++
		p.logger.Error().Err(err).Str("source", source.Name).Msg("listing fetch failed")
		return finish(), fmt.Errorf("fetch listing %s: %w", source.ListingURL, err)
	}

	items, err := strategy.Listing.Extract(ctx, source, resp.Body)
	if err != nil {
		stats.Errors++
		return finish(), fmt.Errorf("extract listing %s: %w", source.ListingURL, err)
	}
	stats.TotalFound = len(items)
	p.logger.Info().Str("source", source.Name).Int("items", len(items)).Msg("listing parsed")

	for _, item := range items {
		if err := ctx.Err(); err != nil {
			p.logger.Warn().Str("source", source.Name).Msg("scraping interrupted")
			return finish(), err
		}

		id, err := p.processItem(ctx, source, strategy, item)
		switch {
		case errors.Is(err, domain.ErrDuplicate):
			stats.DuplicatesSkipped++
		case err != nil:
			stats.Errors++
			p.logger.Error().Err(err).Str("url", item.URL).Msg("item failed")
			p.audit(ctx, &domain.ProcessingLogEntry{
				Operation: domain.OpScraping,
				Level:     domain.LevelError,
				Message:   fmt.Sprintf("failed to process item: %v", err),
				Details:   map[string]string{"url": item.URL, "title": item.Title, "error": err.Error()},
			})
		default:
			stats.NewItems++
			stats.NewDocumentIDs = append(stats.NewDocumentIDs, id)
		}
	}

	out := finish()
	p.logger.Info().
		Str("source", source.Name).
		Int("total_found", out.TotalFound).
		Int("new_items", out.NewItems).
		Int("duplicates_skipped", out.DuplicatesSkipped).
		Int("errors", out.Errors).
		Msg("scraping finished")
	return out, nil
}

// processItem returns the new document id, domain.ErrDuplicate for a dedup hit, or a failure.
func (p *ScraperPipeline) processItem(ctx context.Context, source domain.DataSource, strategy scanner.Strategy, item domain.ListingItem) (string, error) {
	seen, err := p.dedup.IsDuplicateByURL(ctx, source.ID, item.URL)
	if err != nil {
		return "", err
	}
	if seen {
		return "", domain.ErrDuplicate
	}

	fetched, err := strategy.Document.FetchContent(ctx, source, item)
	if err != nil {
		return "", fmt.Errorf("download: %w", err)
	}

	hash := ContentHash(fetched.Content)
	seen, err = p.dedup.IsDuplicateByHash(ctx, hash)
	if err != nil {
		return "", err
	}
	if seen {
		return "", domain.ErrDuplicate
	}

	size := fetched.Size
	if size == 0 {
		size = int64(len(fetched.Content))
	}
	doc := domain.Document{
		SourceID:        source.ID,
		Title:           item.Title,
		URL:             item.URL,
		ContentHash:     hash,
		PublicationDate: item.PublicationDate,
		Status:          domain.StatusPending,
		Size:            size,
		Preview:         domain.TruncateRunes(fetched.Preview, p.previewLimit),
		CreatedAt:       p.now(),
	}
	p.store(ctx, source, &doc, fetched)

	if err := p.documents.CreateDocument(ctx, &doc); err != nil {
		if errors.Is(err, domain.ErrDuplicate) {
			return "", err
		}
		return "", fmt.Errorf("persist document: %w", err)
	}

	p.audit(ctx, &domain.ProcessingLogEntry{
		DocumentID: doc.ID,
		Operation:  domain.OpScraping,
		Level:      domain.LevelInfo,
		Message:    fmt.Sprintf("new technical note collected: %s...", domain.TruncateRunes(item.Title, logTitleLimit)),
		Details: map[string]string{
			"url":  item.URL,
			"hash": hash,
			"size": fmt.Sprint(size),
		},
	})
	return doc.ID, nil
}

// store archives raw bytes when an archive is configured. Failures only warn.
func (p *ScraperPipeline) store(ctx context.Context, source domain.DataSource, doc *domain.Document, fetched domain.FetchedDocument) {
	if p.archive == nil {
		return
	}
	contentType := fetched.ContentType
	if contentType == "" {
		contentType = source.ContentType
	}
	key := archive.Key(source.Name, *doc, contentType)
	location, err := p.archive.Put(ctx, key, fetched.Content, archive.MIMEType(contentType))
	if err != nil {
		p.logger.Warn().Err(err).Str("key", key).Msg("archive failed")
		return
	}
	doc.LocalPath = location
}

func (p *ScraperPipeline) audit(ctx context.Context, entry *domain.ProcessingLogEntry) {
	if p.logs == nil {
		return
	}
	if err := p.logs.AppendLog(ctx, entry); err != nil {
		p.logger.Warn().Err(err).Msg("failed to append processing log")
	}
}

