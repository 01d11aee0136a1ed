package document

import (
	"bytes"
	"context"
	"fmt"
	"strings"

	"github.com/ledongthuc/pdf"
	"github.com/ternarybob/arbor"

	"TechNotesScanner/internal/domain"
	"TechNotesScanner/internal/logging"
	"TechNotesScanner/internal/ports"
)

// textExtractor pulls plain text out of the first maxPages pages of a PDF.
type textExtractor interface {
	Name() string
	Extract(data []byte, maxPages int) (string, error)
}

// PDFFetcher downloads PDF documents and extracts a bounded text preview.
type PDFFetcher struct {
	fetcher      ports.Fetcher
	maxPages     int
	previewLimit int
	extractors   []textExtractor
	logger       arbor.ILogger
}

var _ ports.DocumentFetcher = (*PDFFetcher)(nil)

// NewPDFFetcher wires the primary and fallback extractors. maxPages defaults to 3,
// previewLimit to 2000 characters.
func NewPDFFetcher(fetcher ports.Fetcher, maxPages, previewLimit int, logger arbor.ILogger) *PDFFetcher {
	if maxPages <= 0 {
		maxPages = 3
	}
	if previewLimit <= 0 {
		previewLimit = 2000
	}
	if logger == nil {
		logger = logging.Discard()
	}
	return &PDFFetcher{
		fetcher:      fetcher,
		maxPages:     maxPages,
		previewLimit: previewLimit,
		extractors:   []textExtractor{plainTextExtractor{}, newContentStreamExtractor()},
		logger:       logger,
	}
}

// FetchContent downloads the item. Only the download may fail; preview problems
// degrade to a bracketed placeholder.
func (f *PDFFetcher) FetchContent(ctx context.Context, source domain.DataSource, item domain.ListingItem) (domain.FetchedDocument, error) {
	resp, err := f.fetcher.Fetch(ctx, item.URL, source.Headers())
	if err != nil {
		return domain.FetchedDocument{}, fmt.Errorf("download %s: %w", item.URL, err)
	}

	return domain.FetchedDocument{
		Content:     resp.Body,
		Preview:     f.Preview(resp.Body),
		ContentType: domain.ContentPDF,
		Size:        int64(len(resp.Body)),
	}, nil
}

// Preview extracts and cleans text, trying each extractor in order.
func (f *PDFFetcher) Preview(data []byte) string {
	var (
		failures  []string
		extracted bool
	)
	for _, ex := range f.extractors {
		text, err := ex.Extract(data, f.maxPages)
		if err != nil {
			f.logger.Warn().Str("extractor", ex.Name()).Err(err).Msg("pdf extraction failed")
			failures = append(failures, fmt.Sprintf("%s: %v", ex.Name(), err))
			continue
		}
		extracted = true
		if strings.TrimSpace(text) == "" {
			f.logger.Debug().Str("extractor", ex.Name()).Msg("pdf extraction returned no text")
			continue
		}
		return CleanText(text, f.previewLimit)
	}

	if extracted {
		return ""
	}
	return fmt.Sprintf("[PDF text extraction failed: %s]", strings.Join(failures, "; "))
}


// plainTextExtractor reads text through the page content model.
type plainTextExtractor struct{}

func (plainTextExtractor) Name() string { return "pdf-reader" }

func (plainTextExtractor) Extract(data []byte, maxPages int) (text string, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: reader panic: %v", domain.ErrExtraction, r)
		}
	}()

	reader, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", fmt.Errorf("%w: open: %v", domain.ErrExtraction, err)
	}

	pages := reader.NumPage()
	if maxPages > 0 && pages > maxPages {
		pages = maxPages
	}

	texts := make([]string, 0, pages)
	for i := 1; i <= pages; i++ {
		page := reader.Page(i)
		if page.V.IsNull() {
			continue
		}
		content, err := page.GetPlainText(nil)
		if err != nil {
			return "", fmt.Errorf("%w: page %d: %v", domain.ErrExtraction, i, err)
		}
		texts = append(texts, content)
	}
	return strings.Join(texts, "\n\n"), nil
}
