package domain

import (
	"net/http"
	"time"
	"unicode/utf8"
)

// ContentType enumerates document formats a data source publishes.
type ContentType string

const (
	ContentPDF  ContentType = "pdf"
	ContentHTML ContentType = "html"
	ContentText ContentType = "text"
)

// DataSource is a configured origin to scrape.
type DataSource struct {
	ID          string            `json:"id" badgerhold:"key"`
	Name        string            `json:"name"`
	BaseURL     string            `json:"base_url"`
	ListingURL  string            `json:"listing_url"`
	ContentType ContentType       `json:"content_type"`
	Scraper     string            `json:"scraper,omitempty"`
	Active      bool              `json:"active"`
	Config      map[string]string `json:"config,omitempty"`
	CreatedAt   time.Time         `json:"created_at"`
	UpdatedAt   time.Time         `json:"updated_at"`
}

// Option returns a scraper-specific setting or the fallback when it is not set.
func (s DataSource) Option(key, fallback string) string {
	if v, ok := s.Config[key]; ok && v != "" {
		return v
	}
	return fallback
}

// Headers returns the request headers the source asks for, currently only its Referer.
func (s DataSource) Headers() http.Header {
	headers := http.Header{}
	if referer := s.Option("referer", ""); referer != "" {
		headers.Set("Referer", referer)
	}
	return headers
}

// DocumentStatus enumerates summarization lifecycle milestones.
type DocumentStatus string

const (
	StatusPending    DocumentStatus = "pending"
	StatusProcessing DocumentStatus = "processing"
	StatusProcessed  DocumentStatus = "processed"
	StatusError      DocumentStatus = "error"
)

// AllStatuses lists document statuses in lifecycle order.
var AllStatuses = []DocumentStatus{StatusPending, StatusProcessing, StatusProcessed, StatusError}

// Document is one harvested technical note.
type Document struct {
	ID              string `badgerhold:"key"`
	SourceID        string
	Title           string
	URL             string
	ContentHash     string
	PublicationDate *time.Time
	Status          DocumentStatus
	Size            int64
	Preview         string
	LocalPath       string
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// ListingItem is a candidate extracted from a listing page.
type ListingItem struct {
	Title           string
	URL             string
	PublicationDate *time.Time
}

// FetchedDocument carries downloaded bytes and the preview extracted from them.
type FetchedDocument struct {
	Content     []byte
	Preview     string
	ContentType ContentType
	Size        int64
}

// ScrapeStats aggregates a single scraping run.
type ScrapeStats struct {
	TotalFound            int      `json:"total_found"`
	NewItems              int      `json:"new_items"`
	DuplicatesSkipped     int      `json:"duplicates_skipped"`
	Errors                int      `json:"errors"`
	ProcessingTimeSeconds float64  `json:"processing_time_seconds"`
	NewDocumentIDs        []string `json:"new_document_ids,omitempty"`
}

// Response is a completed HTTP retrieval.
type Response struct {
	URL        string
	StatusCode int
	Header     map[string][]string
	Body       []byte
}

// Text returns the body decoded as a string.
func (r *Response) Text() string {
	if r == nil {
		return ""
	}
	return string(r.Body)
}

// TruncateRunes cuts s to at most n characters without splitting a rune.
func TruncateRunes(s string, n int) string {
	if n <= 0 || utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n])
}
