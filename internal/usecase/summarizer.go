package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/ternarybob/arbor"

	"TechNotesScanner/internal/domain"
	"TechNotesScanner/internal/logging"
	"TechNotesScanner/internal/ports"
)

const (
	minPreviewChars     = 50
	summaryPreviewChars = 200
	defaultTemperature  = 0.1
	defaultMaxTokens    = 2000
	impactTemperature   = 0.2
)

// SummarizerDeps wires the summarizer.
type SummarizerDeps struct {
	Documents   ports.DocumentRepository
	Summaries   ports.SummaryRepository
	Logs        ports.LogRepository
	LLM         ports.LLM
	Logger      arbor.ILogger
	Temperature float64
	MaxTokens   int
}

// SummarizerService turns pending documents into structured summaries.
type SummarizerService struct {
	documents   ports.DocumentRepository
	summaries   ports.SummaryRepository
	logs        ports.LogRepository
	llm         ports.LLM
	logger      arbor.ILogger
	temperature float64
	maxTokens   int
	now         func() time.Time
}

// NewSummarizerService constructs the service.
func NewSummarizerService(deps SummarizerDeps) *SummarizerService {
	logger := deps.Logger
	if logger == nil {
		logger = logging.Discard()
	}
	temperature := deps.Temperature
	if temperature <= 0 {
		temperature = defaultTemperature
	}
	maxTokens := deps.MaxTokens
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}
	return &SummarizerService{
		documents:   deps.Documents,
		summaries:   deps.Summaries,
		logs:        deps.Logs,
		llm:         deps.LLM,
		logger:      logger,
		temperature: temperature,
		maxTokens:   maxTokens,
		now:         time.Now,
	}
}

type summaryPayload struct {
	Summary           string   `json:"summary"`
	KeyPoints         []string `json:"key_points"`
	ChangesIdentified []string `json:"changes_identified"`
	Topics            []string `json:"topics"`
	ConfidenceScore   float64  `json:"confidence_score"`
}

// ProcessDocument summarizes one document. Guard rejections leave the status untouched.
func (s *SummarizerService) ProcessDocument(ctx context.Context, doc domain.Document) domain.ProcessResult {
	result, _ := s.process(ctx, doc)
	return result
}

func (s *SummarizerService) process(ctx context.Context, doc domain.Document) (domain.ProcessResult, error) {
	start := s.now()
	fail := func(err error) (domain.ProcessResult, error) {
		return domain.ProcessResult{
			Success:        false,
			DocumentID:     doc.ID,
			Error:          err.Error(),
			ProcessingTime: s.now().Sub(start).Seconds(),
		}, err
	}

	done, err := s.summaries.HasSummary(ctx, doc.ID)
	if err != nil {
		return fail(fmt.Errorf("check summary: %w", err))
	}
	if done {
		return fail(domain.ErrAlreadyProcessed)
	}

	content := strings.TrimSpace(doc.Preview)
	if n := utf8.RuneCountInString(content); n < minPreviewChars {
		return fail(fmt.Errorf("%w: preview has %d characters", domain.ErrInsufficientContent, n))
	}

	if err := s.documents.UpdateStatus(ctx, doc.ID, domain.StatusProcessing); err != nil {
		return fail(fmt.Errorf("mark processing: %w", err))
	}
	s.audit(ctx, doc.ID, domain.LevelInfo, "technical note processing started", nil, 0)
	s.logger.Info().Str("document_id", doc.ID).Msg("processing technical note")

	summary, err := s.summarize(ctx, doc, content)
	if err == nil {
		summary.ProcessingTime = s.now().Sub(start)
		err = s.summaries.CreateSummary(ctx, &summary)
	}
	if err != nil {
		if errors.Is(err, domain.ErrAlreadyProcessed) {
			_ = s.documents.UpdateStatus(ctx, doc.ID, domain.StatusProcessed)
			return fail(err)
		}
		if statusErr := s.documents.UpdateStatus(ctx, doc.ID, domain.StatusError); statusErr != nil {
			s.logger.Warn().Err(statusErr).Str("document_id", doc.ID).Msg("failed to mark document as error")
		}
		s.audit(ctx, doc.ID, domain.LevelError, fmt.Sprintf("processing failed: %v", err), map[string]string{"error": err.Error()}, s.now().Sub(start))
		s.logger.Error().Err(err).Str("document_id", doc.ID).Msg("technical note processing failed")
		return fail(err)
	}

	if err := s.documents.UpdateStatus(ctx, doc.ID, domain.StatusProcessed); err != nil {
		return fail(fmt.Errorf("mark processed: %w", err))
	}
	elapsed := s.now().Sub(start)
	s.audit(ctx, doc.ID, domain.LevelInfo, "technical note processed", map[string]string{"model": summary.ModelUsed}, elapsed)
	s.logger.Info().Str("document_id", doc.ID).Dur("elapsed", elapsed).Msg("technical note processed")

	preview := ""
	if summary.Text != "" {
		preview = domain.TruncateRunes(summary.Text, summaryPreviewChars) + "..."
	}
	return domain.ProcessResult{
		Success:        true,
		DocumentID:     doc.ID,
		SummaryID:      summary.ID,
		ProcessingTime: elapsed.Seconds(),
		ModelUsed:      summary.ModelUsed,
		SummaryPreview: preview,
	}, nil
}

func (s *SummarizerService) summarize(ctx context.Context, doc domain.Document, content string) (domain.Summary, error) {
	if s.llm == nil {
		return domain.Summary{}, fmt.Errorf("%w: no language model configured", domain.ErrLLMProcessing)
	}
	resp, err := s.llm.Complete(ctx, ports.CompletionRequest{
		System:      summarySystemPrompt,
		Prompt:      summaryPrompt(content),
		Temperature: s.temperature,
		MaxTokens:   s.maxTokens,
		JSON:        true,
	})
	if err != nil {
		return domain.Summary{}, fmt.Errorf("%w: %v", domain.ErrLLMProcessing, err)
	}

	var payload summaryPayload
	if err := decodeJSONReply(resp.Text, &payload); err != nil {
		return domain.Summary{}, err
	}
	if strings.TrimSpace(payload.Summary) == "" {
		return domain.Summary{}, fmt.Errorf("%w: reply has no summary", domain.ErrLLMProcessing)
	}

	model := resp.Model
	if model == "" {
		model = s.llm.Model()
	}
	tokens := resp.InputTokens + resp.OutputTokens
	return domain.Summary{
		DocumentID:        doc.ID,
		Text:              strings.TrimSpace(payload.Summary),
		KeyPoints:         compact(payload.KeyPoints),
		ChangesIdentified: compact(payload.ChangesIdentified),
		Topics:            compact(payload.Topics),
		ModelUsed:         model,
		TokenCount:        tokens,
		ConfidenceScore:   clamp01(payload.ConfidenceScore),
		CreatedAt:         s.now(),
	}, nil
}

// ProcessBatch runs ProcessDocument over docs and classifies each outcome.
func (s *SummarizerService) ProcessBatch(ctx context.Context, docs []domain.Document) domain.BatchResult {
	batch := domain.BatchResult{Total: len(docs), Results: make([]domain.ProcessResult, 0, len(docs))}
	s.logger.Info().Int("documents", len(docs)).Msg("batch processing started")

	for _, doc := range docs {
		result, err := s.safeProcess(ctx, doc)
		batch.Results = append(batch.Results, result)
		switch {
		case result.Success:
			batch.Processed++
		case errors.Is(err, domain.ErrAlreadyProcessed):
			batch.Skipped++
		default:
			batch.Errors++
		}
	}

	s.logger.Info().
		Int("total", batch.Total).
		Int("processed", batch.Processed).
		Int("errors", batch.Errors).
		Int("skipped", batch.Skipped).
		Msg("batch processing finished")
	return batch
}

func (s *SummarizerService) safeProcess(ctx context.Context, doc domain.Document) (result domain.ProcessResult, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("unexpected failure: %v", r)
			s.logger.Error().Str("document_id", doc.ID).Str("panic", fmt.Sprint(r)).Msg("document processing panicked")
			result = domain.ProcessResult{Success: false, DocumentID: doc.ID, Error: err.Error()}
		}
	}()
	return s.process(ctx, doc)
}

// GetPendingDocuments lists pending documents oldest first. limit <= 0 lists all.
func (s *SummarizerService) GetPendingDocuments(ctx context.Context, limit int) ([]domain.Document, error) {
	return s.documents.ListByStatus(ctx, domain.StatusPending, limit)
}

// ProcessingStats aggregates status counts and summary usage.
func (s *SummarizerService) ProcessingStats(ctx context.Context) (domain.ProcessingStats, error) {
	counts, err := s.documents.CountByStatus(ctx, "")
	if err != nil {
		return domain.ProcessingStats{}, err
	}
	total, err := s.summaries.CountSummaries(ctx)
	if err != nil {
		return domain.ProcessingStats{}, err
	}
	usage, err := s.summaries.ModelUsage(ctx)
	if err != nil {
		return domain.ProcessingStats{}, err
	}
	return domain.ProcessingStats{
		StatusCounts:   counts,
		TotalSummaries: total,
		ModelUsage:     usage,
		Pending:        counts[domain.StatusPending],
		Processed:      counts[domain.StatusProcessed],
		Errors:         counts[domain.StatusError],
	}, nil
}

// AnalyzeImpact asks the model for an impact assessment of a summarized document.
func (s *SummarizerService) AnalyzeImpact(ctx context.Context, documentID string) (domain.ImpactAnalysis, error) {
	if s.llm == nil {
		return domain.ImpactAnalysis{}, fmt.Errorf("%w: no language model configured", domain.ErrLLMProcessing)
	}
	doc, err := s.documents.GetDocument(ctx, documentID)
	if err != nil {
		return domain.ImpactAnalysis{}, err
	}
	summary, err := s.summaries.GetSummaryByDocument(ctx, documentID)
	if err != nil {
		return domain.ImpactAnalysis{}, fmt.Errorf("document %s has no summary: %w", documentID, err)
	}

	resp, err := s.llm.Complete(ctx, ports.CompletionRequest{
		System:      impactSystemPrompt,
		Prompt:      impactPrompt(doc.Title, summary.Text, summary.KeyPoints, summary.ChangesIdentified),
		Temperature: impactTemperature,
		MaxTokens:   s.maxTokens,
		JSON:        true,
	})
	if err != nil {
		return domain.ImpactAnalysis{}, fmt.Errorf("%w: %v", domain.ErrLLMProcessing, err)
	}

	var raw struct {
		domain.ImpactAnalysis
		ActionRequired json.RawMessage `json:"action_required"`
		Deadline       *string         `json:"implementation_deadline"`
	}
	if err := decodeJSONReply(resp.Text, &raw); err != nil {
		return domain.ImpactAnalysis{}, err
	}
	analysis := raw.ImpactAnalysis
	analysis.ActionRequired = parseActionRequired(raw.ActionRequired)
	if raw.Deadline != nil {
		analysis.ImplementationDeadline = *raw.Deadline
	}
	return analysis, nil
}

// ReprocessErrors moves errored documents without a summary back to pending.
func (s *SummarizerService) ReprocessErrors(ctx context.Context, limit int) (int, error) {
	docs, err := s.documents.ListByStatus(ctx, domain.StatusError, limit)
	if err != nil {
		return 0, err
	}
	reset := 0
	for _, doc := range docs {
		done, err := s.summaries.HasSummary(ctx, doc.ID)
		if err != nil {
			return reset, err
		}
		if done {
			continue
		}
		if err := s.documents.UpdateStatus(ctx, doc.ID, domain.StatusPending); err != nil {
			return reset, err
		}
		s.audit(ctx, doc.ID, domain.LevelInfo, "technical note queued for reprocessing", nil, 0)
		reset++
	}
	return reset, nil
}

func (s *SummarizerService) audit(ctx context.Context, documentID string, level domain.LogLevel, message string, details map[string]string, elapsed time.Duration) {
	if s.logs == nil {
		return
	}
	entry := &domain.ProcessingLogEntry{
		DocumentID: documentID,
		Operation:  domain.OpProcessing,
		Level:      level,
		Message:    message,
		Details:    details,
		Duration:   elapsed,
	}
	if err := s.logs.AppendLog(ctx, entry); err != nil {
		s.logger.Warn().Err(err).Msg("failed to append processing log")
	}
}

// decodeJSONReply tolerates fenced replies and leading prose around one JSON object.
func decodeJSONReply(text string, v any) error {
	body := strings.TrimSpace(text)
	if strings.HasPrefix(body, "```") {
		body = strings.TrimPrefix(body, "```json")
		body = strings.TrimPrefix(body, "```JSON")
		body = strings.TrimPrefix(body, "```")
		body = strings.TrimSuffix(strings.TrimSpace(body), "```")
	}
	if start, end := strings.Index(body, "{"), strings.LastIndex(body, "}"); start >= 0 && end > start {
		body = body[start : end+1]
	} else {
		return fmt.Errorf("%w: reply is not a JSON object", domain.ErrLLMProcessing)
	}
	if err := json.Unmarshal([]byte(body), v); err != nil {
		return fmt.Errorf("%w: malformed JSON reply: %v", domain.ErrLLMProcessing, err)
	}
	return nil
}

func parseActionRequired(raw json.RawMessage) bool {
	if len(raw) == 0 {
		return false
	}
	var flag bool
	if err := json.Unmarshal(raw, &flag); err == nil {
		return flag
	}
	var text string
	if err := json.Unmarshal(raw, &text); err != nil {
		return false
	}
	switch strings.ToLower(strings.TrimSpace(text)) {
	case "sim", "yes", "true", "recomendado", "recommended":
		return true
	default:
		return false
	}
}

func compact(items []string) []string {
	out := make([]string, 0, len(items))
	for _, item := range items {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

func clamp01(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}
