package usecase

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"TechNotesScanner/internal/domain"
	"TechNotesScanner/internal/infrastructure/storage/badger"
	"TechNotesScanner/internal/ports"
	"TechNotesScanner/internal/scanner"
)

func openStore(t *testing.T) *badger.Store {
	t.Helper()
	store, err := badger.Open(t.TempDir(), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func saveSource(t *testing.T, store *badger.Store, active bool) domain.DataSource {
	t.Helper()
	source := domain.DataSource{
		Name:        "NFE FAZENDA",
		BaseURL:     "https://portal.test",
		ListingURL:  "https://portal.test/lista",
		ContentType: domain.ContentPDF,
		Scraper:     "fake",
		Active:      active,
	}
	require.NoError(t, store.SaveSource(context.Background(), &source))
	return source
}

type stubFetcher struct {
	mu    sync.Mutex
	calls int
	err   error
}

func (f *stubFetcher) Fetch(_ context.Context, url string, _ http.Header) (*domain.Response, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return &domain.Response{URL: url, StatusCode: http.StatusOK, Body: []byte("<html></html>")}, nil
}

type stubListing struct {
	items []domain.ListingItem
}

func (l *stubListing) Extract(context.Context, domain.DataSource, []byte) ([]domain.ListingItem, error) {
	return l.items, nil
}

// stubDocuments serves content keyed by URL; a missing URL fails the download.
type stubDocuments struct {
	content map[string]string
	preview map[string]string
}

func (d *stubDocuments) FetchContent(_ context.Context, _ domain.DataSource, item domain.ListingItem) (domain.FetchedDocument, error) {
	body, ok := d.content[item.URL]
	if !ok {
		return domain.FetchedDocument{}, &domain.NetworkError{URL: item.URL, Attempts: 3, StatusCode: http.StatusNotFound}
	}
	preview := d.preview[item.URL]
	if preview == "" {
		preview = body
	}
	return domain.FetchedDocument{
		Content:     []byte(body),
		Preview:     preview,
		ContentType: domain.ContentPDF,
		Size:        int64(len(body)),
	}, nil
}

func fakeStrategy(listing *stubListing, docs *stubDocuments) scanner.Strategy {
	return scanner.Strategy{Name: "fake", Listing: listing, Document: docs}
}

// stubLLM replies with a fixed summary and fails prompts containing failOn.
type stubLLM struct {
	mu     sync.Mutex
	calls  int
	failOn string
	reply  string
}

func (l *stubLLM) Complete(_ context.Context, req ports.CompletionRequest) (ports.CompletionResponse, error) {
	l.mu.Lock()
	l.calls++
	l.mu.Unlock()
	if l.failOn != "" && strings.Contains(req.Prompt, l.failOn) {
		return ports.CompletionResponse{}, errors.New("upstream timeout")
	}
	reply := l.reply
	if reply == "" {
		reply = "```json\n" + `{"summary": "Nova regra de validação para o grupo de transporte.", "key_points": ["Regra 123", " "], "changes_identified": [], "topics": ["validação"], "confidence_score": 1.4}` + "\n```"
	}
	return ports.CompletionResponse{Text: reply, Model: "stub-model", InputTokens: 100, OutputTokens: 50}, nil
}

func (l *stubLLM) Model() string { return "stub-model" }

func (l *stubLLM) Calls() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.calls
}

type stubNotifier struct {
	mu      sync.Mutex
	digests []string
	err     error
}

func (n *stubNotifier) PublishDigest(_ context.Context, digest string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.digests = append(n.digests, digest)
	return n.err
}

func pendingDocument(t *testing.T, store *badger.Store, sourceID, marker string) domain.Document {
	t.Helper()
	doc := domain.Document{
		SourceID:    sourceID,
		Title:       "Nota Técnica " + marker,
		URL:         "https://portal.test/" + marker,
		ContentHash: "hash-" + marker,
		Status:      domain.StatusPending,
		Preview:     fmt.Sprintf("Nota técnica %s altera as regras de validação da NF-e modelo 55 em produção.", marker),
	}
	require.NoError(t, store.CreateDocument(context.Background(), &doc))
	return doc
}
