package usecase

import (
	"context"
	"errors"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"TechNotesScanner/internal/domain"
	"TechNotesScanner/internal/infrastructure/archive"
)

func TestContentHashIsMD5Hex(t *testing.T) {
	assert.Equal(t, "d41d8cd98f00b204e9800998ecf8427e", ContentHash(nil))
	assert.Equal(t, ContentHash([]byte("nota")), ContentHash([]byte("nota")))
	assert.NotEqual(t, ContentHash([]byte("nota 1")), ContentHash([]byte("nota 2")))
}

func TestScrapeTwiceIsIdempotent(t *testing.T) {
	store := openStore(t)
	source := saveSource(t, store, true)
	listing := &stubListing{items: []domain.ListingItem{
		{Title: "NT 2024.001", URL: "https://portal.test/a.pdf"},
		{Title: "NT 2024.002", URL: "https://portal.test/b.pdf"},
	}}
	docs := &stubDocuments{content: map[string]string{
		"https://portal.test/a.pdf": "conteudo a",
		"https://portal.test/b.pdf": "conteudo b",
	}}
	p := NewScraperPipeline(ScraperDeps{Fetcher: &stubFetcher{}, Documents: store, Logs: store})
	ctx := context.Background()

	first, err := p.ScrapeNewItems(ctx, source, fakeStrategy(listing, docs))
	require.NoError(t, err)
	assert.Equal(t, 2, first.TotalFound)
	assert.Equal(t, 2, first.NewItems)
	assert.Len(t, first.NewDocumentIDs, 2)

	second, err := p.ScrapeNewItems(ctx, source, fakeStrategy(listing, docs))
	require.NoError(t, err)
	assert.Equal(t, 0, second.NewItems)
	assert.Equal(t, second.TotalFound, second.DuplicatesSkipped)
	assert.Empty(t, second.NewDocumentIDs)

	logs, err := store.ListLogs(ctx, "", 0)
	require.NoError(t, err)
	require.Len(t, logs, 2)
	for _, entry := range logs {
		assert.Equal(t, domain.OpScraping, entry.Operation)
		assert.True(t, strings.HasPrefix(entry.Message, "new technical note collected: NT 2024.00"))
		assert.NotEmpty(t, entry.Details["hash"])
	}
}

func TestScrapeSkipsSameContentUnderNewURL(t *testing.T) {
	store := openStore(t)
	source := saveSource(t, store, true)
	listing := &stubListing{items: []domain.ListingItem{
		{Title: "NT original", URL: "https://portal.test/a.pdf"},
		{Title: "NT espelho", URL: "https://portal.test/mirror.pdf"},
	}}
	docs := &stubDocuments{content: map[string]string{
		"https://portal.test/a.pdf":      "mesmo conteudo",
		"https://portal.test/mirror.pdf": "mesmo conteudo",
	}}
	p := NewScraperPipeline(ScraperDeps{Fetcher: &stubFetcher{}, Documents: store})

	stats, err := p.ScrapeNewItems(context.Background(), source, fakeStrategy(listing, docs))
	require.NoError(t, err)
	assert.Equal(t, 1, stats.NewItems)
	assert.Equal(t, 1, stats.DuplicatesSkipped)
}

func TestScrapeStoresPipelinePreviewCap(t *testing.T) {
	store := openStore(t)
	source := saveSource(t, store, true)
	long := strings.Repeat("á", 3000)
	listing := &stubListing{items: []domain.ListingItem{{Title: "NT longa", URL: "https://portal.test/long.pdf"}}}
	docs := &stubDocuments{
		content: map[string]string{"https://portal.test/long.pdf": "bytes"},
		preview: map[string]string{"https://portal.test/long.pdf": long},
	}
	p := NewScraperPipeline(ScraperDeps{Fetcher: &stubFetcher{}, Documents: store})

	stats, err := p.ScrapeNewItems(context.Background(), source, fakeStrategy(listing, docs))
	require.NoError(t, err)
	require.Len(t, stats.NewDocumentIDs, 1)

	doc, err := store.GetDocument(context.Background(), stats.NewDocumentIDs[0])
	require.NoError(t, err)
	assert.Equal(t, 1000, utf8.RuneCountInString(doc.Preview))
	assert.Equal(t, domain.StatusPending, doc.Status)
	assert.Equal(t, ContentHash([]byte("bytes")), doc.ContentHash)
}

func TestScrapeItemFailureIsCounted(t *testing.T) {
	store := openStore(t)
	source := saveSource(t, store, true)
	listing := &stubListing{items: []domain.ListingItem{
		{Title: "NT ok", URL: "https://portal.test/ok.pdf"},
		{Title: "NT quebrada", URL: "https://portal.test/missing.pdf"},
	}}
	docs := &stubDocuments{content: map[string]string{"https://portal.test/ok.pdf": "ok"}}
	p := NewScraperPipeline(ScraperDeps{Fetcher: &stubFetcher{}, Documents: store, Logs: store})

	stats, err := p.ScrapeNewItems(context.Background(), source, fakeStrategy(listing, docs))
	require.NoError(t, err)
	assert.Equal(t, 1, stats.NewItems)
	assert.Equal(t, 1, stats.Errors)

	logs, err := store.ListLogs(context.Background(), "", 0)
	require.NoError(t, err)
	var failures int
	for _, entry := range logs {
		if entry.Level == domain.LevelError {
			failures++
			assert.Equal(t, "https://portal.test/missing.pdf", entry.Details["url"])
			assert.Equal(t, "NT quebrada", entry.Details["title"])
		}
	}
	assert.Equal(t, 1, failures)
}

func TestScrapeListingFailureIsFatal(t *testing.T) {
	store := openStore(t)
	source := saveSource(t, store, true)
	fetchErr := &domain.NetworkError{URL: source.ListingURL, Attempts: 3, Err: errors.New("connection refused")}
	p := NewScraperPipeline(ScraperDeps{Fetcher: &stubFetcher{err: fetchErr}, Documents: store})

	stats, err := p.ScrapeNewItems(context.Background(), source, fakeStrategy(&stubListing{}, &stubDocuments{}))
	require.Error(t, err)
	var netErr *domain.NetworkError
	assert.True(t, errors.As(err, &netErr))
	assert.Equal(t, 1, stats.Errors)
	assert.Equal(t, 0, stats.TotalFound)
}

func TestScrapeArchivesRawBytes(t *testing.T) {
	store := openStore(t)
	source := saveSource(t, store, true)
	dir := t.TempDir()
	local, err := archive.NewLocal(dir)
	require.NoError(t, err)

	listing := &stubListing{items: []domain.ListingItem{{Title: "NT", URL: "https://portal.test/a.pdf"}}}
	docs := &stubDocuments{content: map[string]string{"https://portal.test/a.pdf": "%PDF-1.4"}}
	p := NewScraperPipeline(ScraperDeps{Fetcher: &stubFetcher{}, Documents: store, Archive: local})

	stats, err := p.ScrapeNewItems(context.Background(), source, fakeStrategy(listing, docs))
	require.NoError(t, err)
	require.Len(t, stats.NewDocumentIDs, 1)

	doc, err := store.GetDocument(context.Background(), stats.NewDocumentIDs[0])
	require.NoError(t, err)
	assert.Contains(t, doc.LocalPath, ContentHash([]byte("%PDF-1.4"))+".pdf")
	assert.FileExists(t, doc.LocalPath)
}
