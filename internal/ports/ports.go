package ports

import (
	"context"
	"net/http"
	"time"

	"TechNotesScanner/internal/domain"
)

// Fetcher retrieves remote resources under a shared politeness policy.
type Fetcher interface {
	Fetch(ctx context.Context, url string, headers http.Header) (*domain.Response, error)
}

// ListingExtractor turns a listing page into candidate items.
type ListingExtractor interface {
	Extract(ctx context.Context, source domain.DataSource, page []byte) ([]domain.ListingItem, error)
}

// DocumentFetcher downloads a candidate and extracts its text preview.
type DocumentFetcher interface {
	FetchContent(ctx context.Context, source domain.DataSource, item domain.ListingItem) (domain.FetchedDocument, error)
}

// SourceRepository persists configured data sources.
type SourceRepository interface {
	GetSourceByName(ctx context.Context, name string) (domain.DataSource, error)
	SaveSource(ctx context.Context, source *domain.DataSource) error
	ListSources(ctx context.Context) ([]domain.DataSource, error)
	SetSourceActive(ctx context.Context, name string, active bool) error
}

// DocumentRepository persists harvested documents and answers dedup lookups.
type DocumentRepository interface {
	// CreateDocument rejects a document whose content hash already exists with domain.ErrDuplicate.
	CreateDocument(ctx context.Context, doc *domain.Document) error
	GetDocument(ctx context.Context, id string) (domain.Document, error)
	ExistsByURL(ctx context.Context, sourceID, url string) (bool, error)
	ExistsByHash(ctx context.Context, hash string) (bool, error)
	UpdateStatus(ctx context.Context, id string, status domain.DocumentStatus) error
	// ListByStatus returns documents oldest-created first; limit <= 0 means no limit.
	ListByStatus(ctx context.Context, status domain.DocumentStatus, limit int) ([]domain.Document, error)
	CountByStatus(ctx context.Context, sourceID string) (map[domain.DocumentStatus]int, error)
}

// SummaryRepository persists summaries; one per document.
type SummaryRepository interface {
	// CreateSummary rejects a second summary for a document with domain.ErrAlreadyProcessed.
	CreateSummary(ctx context.Context, summary *domain.Summary) error
	GetSummaryByDocument(ctx context.Context, documentID string) (domain.Summary, error)
	HasSummary(ctx context.Context, documentID string) (bool, error)
	CountSummaries(ctx context.Context) (int, error)
	ModelUsage(ctx context.Context) (map[string]int, error)
}

// LogRepository appends audit entries.
type LogRepository interface {
	AppendLog(ctx context.Context, entry *domain.ProcessingLogEntry) error
	ListLogs(ctx context.Context, documentID string, limit int) ([]domain.ProcessingLogEntry, error)
}

// Store bundles the entity repositories backed by one storage engine.
type Store interface {
	SourceRepository
	DocumentRepository
	SummaryRepository
	LogRepository
	Close() error
}

// JobStore is the durable scheduler state keyed by job id.
type JobStore interface {
	SaveJob(ctx context.Context, def *domain.JobDefinition) error
	GetJob(ctx context.Context, id string) (domain.JobDefinition, error)
	DeleteJob(ctx context.Context, id string) error
	ListJobs(ctx context.Context) ([]domain.JobDefinition, error)
	SaveExecution(ctx context.Context, exec *domain.JobExecution) error
	ListExecutions(ctx context.Context, jobID string, limit int) ([]domain.JobExecution, error)
	FailRunningExecutions(ctx context.Context, reason string) (int, error)
}

// Archive stores raw document bytes and returns their location.
type Archive interface {
	Put(ctx context.Context, key string, data []byte, contentType string) (string, error)
}

// CompletionRequest is a single-turn LLM call.
type CompletionRequest struct {
	System      string
	Prompt      string
	Temperature float64
	MaxTokens   int
	JSON        bool
}

// CompletionResponse carries the model reply and usage.
type CompletionResponse struct {
	Text         string
	Model        string
	InputTokens  int
	OutputTokens int
}

// LLM is the external language model capability.
type LLM interface {
	Complete(ctx context.Context, req CompletionRequest) (CompletionResponse, error)
	Model() string
}

// Notifier streams digests to chat channels.
type Notifier interface {
	PublishDigest(ctx context.Context, digest string) error
}

// JobFunc is a schedulable task body.
type JobFunc func(ctx context.Context, args map[string]string) domain.JobResult

// JobOptions tune a registration.
type JobOptions struct {
	Name         string
	Description  string
	MaxInstances int
	Coalesce     bool
	Args         map[string]string
}

// JobInfo summarizes a registered job.
type JobInfo struct {
	ID       string     `json:"id"`
	Name     string     `json:"name"`
	Trigger  string     `json:"trigger"`
	Enabled  bool       `json:"enabled"`
	Running  int        `json:"running"`
	NextRun  *time.Time `json:"next_run,omitempty"`
	LastRun  *time.Time `json:"last_run,omitempty"`
	RunCount int        `json:"run_count"`
}

// Scheduler is the job orchestration engine used by the coordinator.
type Scheduler interface {
	RegisterFunc(name string, fn JobFunc)
	AddJob(ctx context.Context, id, funcName string, trigger domain.Trigger, opts JobOptions) (JobInfo, error)
	RemoveJob(ctx context.Context, id string) error
	PauseJob(ctx context.Context, id string) error
	ResumeJob(ctx context.Context, id string) error
	GetJob(ctx context.Context, id string) (JobInfo, error)
	ListJobs(ctx context.Context) ([]JobInfo, error)
	ListExecutions(ctx context.Context, jobID string, limit int) ([]domain.JobExecution, error)
	TriggerJob(ctx context.Context, id string) error
	IsRunning() bool
}
