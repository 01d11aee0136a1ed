package parser

import (
	"bytes"
	"context"
	"fmt"
	"net/url"
	"regexp"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/PuerkitoBio/goquery"
	"github.com/ternarybob/arbor"

	"TechNotesScanner/internal/domain"
	"TechNotesScanner/internal/logging"
	"TechNotesScanner/internal/ports"
)

const (
	defaultFileLinks     = `a[href*="exibirArquivo.aspx"]`
	defaultFallbackLinks = `a[href*="conteudo="]`
	minTitleLength       = 10
	fallbackTitlePrefix  = "Nota Técnica"
)

type datePattern struct {
	expr   *regexp.Regexp
	layout string
}

var datePatterns = []datePattern{
	{regexp.MustCompile(`\b(\d{1,2})/(\d{1,2})/(\d{4})\b`), "2/1/2006"},
	{regexp.MustCompile(`\b(\d{1,2})-(\d{1,2})-(\d{4})\b`), "2-1-2006"},
	{regexp.MustCompile(`\b(\d{4})/(\d{1,2})/(\d{1,2})\b`), "2006/1/2"},
	{regexp.MustCompile(`\b(\d{4})-(\d{1,2})-(\d{1,2})\b`), "2006-1-2"},
}

// NFeListingExtractor parses the technical-note listing of the NFe portal.
type NFeListingExtractor struct {
	now    func() time.Time
	logger arbor.ILogger
}

var _ ports.ListingExtractor = (*NFeListingExtractor)(nil)

// NewNFeListingExtractor builds an extractor using the wall clock for synthetic titles.
func NewNFeListingExtractor(logger arbor.ILogger) *NFeListingExtractor {
	if logger == nil {
		logger = logging.Discard()
	}
	return &NFeListingExtractor{now: time.Now, logger: logger}
}

// Extract returns one item per distinct link URL found on the page.
func (e *NFeListingExtractor) Extract(ctx context.Context, source domain.DataSource, page []byte) ([]domain.ListingItem, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(page))
	if err != nil {
		return nil, fmt.Errorf("parse listing: %w", err)
	}

	base, err := baseURL(source)
	if err != nil {
		return nil, err
	}

	links := doc.Find(source.Option("file_links", defaultFileLinks))
	if links.Length() == 0 {
		e.logger.Debug().Str("source", source.Name).Msg("no primary file links, using fallback selector")
		links = doc.Find(source.Option("fallback_links", defaultFallbackLinks))
	}

	items := make([]domain.ListingItem, 0, links.Length())
	seen := map[string]struct{}{}

	links.Each(func(_ int, link *goquery.Selection) {
		href := strings.TrimSpace(link.AttrOr("href", ""))
		if href == "" || href == "#" || strings.HasPrefix(strings.ToLower(href), "javascript:") {
			return
		}

		ref, err := url.Parse(href)
		if err != nil {
			e.logger.Debug().Str("href", href).Err(err).Msg("skip malformed link")
			return
		}
		absolute := base.ResolveReference(ref).String()

		if _, ok := seen[absolute]; ok {
			return
		}
		seen[absolute] = struct{}{}

		items = append(items, domain.ListingItem{
			Title:           resolveTitle(link, e.now()),
			URL:             absolute,
			PublicationDate: resolveDate(link),
		})
	})

	e.logger.Debug().Str("source", source.Name).Int("items", len(items)).Msg("listing extracted")
	return items, nil
}

func baseURL(source domain.DataSource) (*url.URL, error) {
	raw := source.BaseURL
	if raw == "" {
		raw = source.ListingURL
	}
	parsed, err := url.Parse(raw)
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return nil, fmt.Errorf("invalid base url %q for source %s", raw, source.Name)
	}
	return parsed, nil
}

// resolveTitle walks the cascade: link text, parent text, then sibling and row
// cells without anchors, then a timestamped synthetic title.
func resolveTitle(link *goquery.Selection, now time.Time) string {
	if title := normalizeSpace(link.Text()); longEnough(title) {
		return title
	}

	parent := link.Parent()
	if title := normalizeSpace(parent.Text()); longEnough(title) {
		return title
	}

	var title string
	parent.Siblings().Filter("td, div, span").EachWithBreak(func(_ int, sib *goquery.Selection) bool {
		if sib.Find("a").Length() > 0 {
			return true
		}
		if text := normalizeSpace(sib.Text()); longEnough(text) {
			title = text
			return false
		}
		return true
	})
	if title != "" {
		return title
	}

	link.Closest("tr").Find("td").EachWithBreak(func(_ int, cell *goquery.Selection) bool {
		if cell.Find("a").Length() > 0 {
			return true
		}
		if text := normalizeSpace(cell.Text()); longEnough(text) {
			title = text
			return false
		}
		return true
	})
	if title != "" {
		return title
	}

	return fmt.Sprintf("%s %s", fallbackTitlePrefix, now.Format("20060102_150405"))
}

func resolveDate(link *goquery.Selection) *time.Time {
	scope := link.Closest("tr")
	if scope.Length() == 0 {
		scope = link.Parent()
	}
	return parseDate(scope.Text())
}

// parseDate returns the first date found in text, or nil.
func parseDate(text string) *time.Time {
	for _, p := range datePatterns {
		match := p.expr.FindString(text)
		if match == "" {
			continue
		}
		parsed, err := time.Parse(p.layout, match)
		if err != nil {
			continue
		}
		return &parsed
	}
	return nil
}

func normalizeSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func longEnough(s string) bool {
	return utf8.RuneCountInString(s) > minTitleLength
}
