package document

import (
	"bytes"
	"context"
	"fmt"
	"net/url"
	"strings"

	htmltomarkdown "github.com/JohannesKaufmann/html-to-markdown/v2"
	"github.com/PuerkitoBio/goquery"
	readability "github.com/go-shiori/go-readability"
	"github.com/ternarybob/arbor"

	"TechNotesScanner/internal/domain"
	"TechNotesScanner/internal/logging"
	"TechNotesScanner/internal/ports"
)

// HTMLFetcher downloads HTML notes and keeps the readable article body as markdown.
type HTMLFetcher struct {
	fetcher      ports.Fetcher
	previewLimit int
	logger       arbor.ILogger
}

var _ ports.DocumentFetcher = (*HTMLFetcher)(nil)

// NewHTMLFetcher builds an HTML document fetcher.
func NewHTMLFetcher(fetcher ports.Fetcher, previewLimit int, logger arbor.ILogger) *HTMLFetcher {
	if previewLimit <= 0 {
		previewLimit = 2000
	}
	if logger == nil {
		logger = logging.Discard()
	}
	return &HTMLFetcher{fetcher: fetcher, previewLimit: previewLimit, logger: logger}
}

// FetchContent downloads the page and converts its main content to a preview.
func (f *HTMLFetcher) FetchContent(ctx context.Context, source domain.DataSource, item domain.ListingItem) (domain.FetchedDocument, error) {
	resp, err := f.fetcher.Fetch(ctx, item.URL, source.Headers())
	if err != nil {
		return domain.FetchedDocument{}, fmt.Errorf("download %s: %w", item.URL, err)
	}

	preview, err := f.preview(resp.Body, item.URL)
	if err != nil {
		f.logger.Warn().Str("url", item.URL).Err(err).Msg("html extraction failed")
		preview = fmt.Sprintf("[HTML text extraction failed: %v]", err)
	}

	return domain.FetchedDocument{
		Content:     resp.Body,
		Preview:     preview,
		ContentType: domain.ContentHTML,
		Size:        int64(len(resp.Body)),
	}, nil
}

func (f *HTMLFetcher) preview(body []byte, pageURL string) (string, error) {
	parsedURL, err := url.Parse(pageURL)
	if err != nil {
		return "", fmt.Errorf("%w: parse url: %v", domain.ErrExtraction, err)
	}

	article, err := readability.FromReader(bytes.NewReader(body), parsedURL)
	if err == nil && strings.TrimSpace(article.Content) != "" {
		markdown, mdErr := htmltomarkdown.ConvertString(article.Content)
		if mdErr == nil && strings.TrimSpace(markdown) != "" {
			return CleanText(markdown, f.previewLimit), nil
		}
		f.logger.Debug().Str("url", pageURL).Msg("markdown conversion empty, using document text")
	}

	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("%w: parse html: %v", domain.ErrExtraction, err)
	}
	doc.Find("script, style, noscript").Remove()
	return CleanText(strings.TrimSpace(doc.Find("body").Text()), f.previewLimit), nil
}

// TextFetcher downloads plain-text notes.
type TextFetcher struct {
	fetcher      ports.Fetcher
	previewLimit int
}

var _ ports.DocumentFetcher = (*TextFetcher)(nil)

// NewTextFetcher builds a plain-text document fetcher.
func NewTextFetcher(fetcher ports.Fetcher, previewLimit int) *TextFetcher {
	if previewLimit <= 0 {
		previewLimit = 2000
	}
	return &TextFetcher{fetcher: fetcher, previewLimit: previewLimit}
}

// FetchContent downloads the item and cleans its body as the preview.
func (f *TextFetcher) FetchContent(ctx context.Context, source domain.DataSource, item domain.ListingItem) (domain.FetchedDocument, error) {
	resp, err := f.fetcher.Fetch(ctx, item.URL, source.Headers())
	if err != nil {
		return domain.FetchedDocument{}, fmt.Errorf("download %s: %w", item.URL, err)
	}
	return domain.FetchedDocument{
		Content:     resp.Body,
		Preview:     CleanText(strings.ToValidUTF8(resp.Text(), ""), f.previewLimit),
		ContentType: domain.ContentText,
		Size:        int64(len(resp.Body)),
	}, nil
}
