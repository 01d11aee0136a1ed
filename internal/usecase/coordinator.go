package usecase

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/ternarybob/arbor"

	"TechNotesScanner/internal/config"
	"TechNotesScanner/internal/domain"
	"TechNotesScanner/internal/logging"
	"TechNotesScanner/internal/ports"
)

// Job ids registered by the coordinator.
const (
	ScrapeJobID       = "nfe_fazenda_scraping"
	SummarizeJobID    = "nfe_technical_notes_processing"
	FullPipelineJobID = "nfe_full_pipeline"
	HealthCheckJobID  = "system_health_check"
)

// Function names the task bodies are registered under.
const (
	ScrapeFunc       = "scrape_nfe_fazenda"
	SummarizeFunc    = "process_technical_notes"
	FullPipelineFunc = "full_pipeline"
	HealthCheckFunc  = "health_check"
)

// Job status values reported by GetStatus.
const (
	JobScheduled    = "scheduled"
	JobPaused       = "paused"
	JobNotScheduled = "not_scheduled"
)

// JobSpec is one job the coordinator keeps registered.
type JobSpec struct {
	ID       string
	FuncName string
	Trigger  domain.Trigger
	Options  ports.JobOptions
}

// JobSpecs derives the enabled job set from configuration.
func JobSpecs(cfg config.JobsConfig) []JobSpec {
	var specs []JobSpec
	add := func(jc config.JobConfig, id, fn, name, description string) {
		if !jc.Enabled {
			return
		}
		opts := ports.JobOptions{
			Name:         name,
			Description:  description,
			MaxInstances: jc.MaxInstances,
			Coalesce:     jc.Coalesce,
		}
		if jc.MaxItems > 0 {
			opts.Args = map[string]string{"max_items": strconv.Itoa(jc.MaxItems)}
		}
		specs = append(specs, JobSpec{ID: id, FuncName: fn, Trigger: jc.Trigger, Options: opts})
	}
	add(cfg.Scrape, ScrapeJobID, ScrapeFunc, "NFE Fazenda - Daily Scraping",
		"Collects new technical notes from the NFe portal")
	add(cfg.Summarize, SummarizeJobID, SummarizeFunc, "NFE Technical Notes - Processing",
		"Summarizes pending technical notes")
	add(cfg.FullPipeline, FullPipelineJobID, FullPipelineFunc, "NFE Full Pipeline",
		"Scrapes and summarizes in one run")
	add(cfg.HealthCheck, HealthCheckJobID, HealthCheckFunc, "System Health Check",
		"Reports processing statistics")
	return specs
}

// CoordinatorDeps wires the coordinator.
type CoordinatorDeps struct {
	Scheduler  ports.Scheduler
	Tasks      *Tasks
	Summarizer *SummarizerService
	Sources    ports.SourceRepository
	Documents  ports.DocumentRepository
	Logs       ports.LogRepository
	Jobs       []JobSpec
	Logger     arbor.ILogger
}

// Coordinator registers the pipeline jobs and exposes manual triggers and status.
type Coordinator struct {
	scheduler  ports.Scheduler
	tasks      *Tasks
	summarizer *SummarizerService
	sources    ports.SourceRepository
	documents  ports.DocumentRepository
	logs       ports.LogRepository
	jobs       []JobSpec
	logger     arbor.ILogger
}

// SetupResult reports the outcome of SetupDefaultJobs per job id.
type SetupResult struct {
	Jobs   map[string]string `json:"jobs"`
	Errors []string          `json:"errors"`
}

// JobStatus is one entry of GetStatus.
type JobStatus struct {
	Status  string     `json:"status"`
	NextRun *time.Time `json:"next_run"`
	Name    string     `json:"name,omitempty"`
	Trigger string     `json:"trigger,omitempty"`
}

// Status is the operational snapshot of the scheduler.
type Status struct {
	SchedulerRunning bool                 `json:"scheduler_running"`
	Jobs             map[string]JobStatus `json:"jobs"`
	Timestamp        time.Time            `json:"timestamp"`
}

// RemoveResult reports RemoveAll.
type RemoveResult struct {
	Removed []string `json:"removed"`
	Errors  []string `json:"errors"`
}

// SourceStatus summarizes the documents harvested from one data source.
type SourceStatus struct {
	Name         string                        `json:"name"`
	DataSourceID string                        `json:"data_source_id"`
	BaseURL      string                        `json:"base_url"`
	Active       bool                          `json:"active"`
	Documents    map[domain.DocumentStatus]int `json:"documents"`
	Total        int                           `json:"total"`
	Timestamp    time.Time                     `json:"timestamp"`
}

// NewCoordinator registers the task bodies on the scheduler.
func NewCoordinator(deps CoordinatorDeps) *Coordinator {
	logger := deps.Logger
	if logger == nil {
		logger = logging.Discard()
	}
	c := &Coordinator{
		scheduler:  deps.Scheduler,
		tasks:      deps.Tasks,
		summarizer: deps.Summarizer,
		sources:    deps.Sources,
		documents:  deps.Documents,
		logs:       deps.Logs,
		jobs:       deps.Jobs,
		logger:     logger,
	}
	c.registerTasks()
	return c
}

func (c *Coordinator) registerTasks() {
	c.scheduler.RegisterFunc(ScrapeFunc, c.tasks.Scrape)
	c.scheduler.RegisterFunc(SummarizeFunc, c.tasks.Summarize)
	c.scheduler.RegisterFunc(FullPipelineFunc, c.tasks.FullPipeline)
	c.scheduler.RegisterFunc(HealthCheckFunc, c.tasks.HealthCheck)
}

// SetupDefaultJobs registers every configured job, replacing existing definitions.
// A failing registration is reported and does not stop the others.
func (c *Coordinator) SetupDefaultJobs(ctx context.Context) SetupResult {
	result := SetupResult{Jobs: make(map[string]string, len(c.jobs)), Errors: []string{}}
	for _, spec := range c.jobs {
		info, err := c.scheduler.AddJob(ctx, spec.ID, spec.FuncName, spec.Trigger, spec.Options)
		if err != nil {
			result.Jobs[spec.ID] = "error"
			result.Errors = append(result.Errors, fmt.Sprintf("%s: %v", spec.ID, err))
			c.logger.Error().Err(err).Str("job_id", spec.ID).Msg("job registration failed")
			continue
		}
		result.Jobs[spec.ID] = "configured"
		event := c.logger.Info().Str("job_id", spec.ID).Str("trigger", info.Trigger)
		if info.NextRun != nil {
			event = event.Str("next_run", info.NextRun.Format(time.RFC3339))
		}
		event.Msg("job configured")
	}
	return result
}

// RunScrapeNow runs the scrape task synchronously.
func (c *Coordinator) RunScrapeNow(ctx context.Context) domain.JobResult {
	c.logger.Info().Msg("manual scrape requested")
	return c.tasks.Scrape(ctx, nil)
}

// RunSummarizeNow runs the summarize task synchronously. limit <= 0 uses the task default.
func (c *Coordinator) RunSummarizeNow(ctx context.Context, limit int) domain.JobResult {
	c.logger.Info().Int("limit", limit).Msg("manual summarize requested")
	var args map[string]string
	if limit > 0 {
		args = map[string]string{"max_items": strconv.Itoa(limit)}
	}
	return c.tasks.Summarize(ctx, args)
}

// RunFullPipeline runs scrape then summarize synchronously.
func (c *Coordinator) RunFullPipeline(ctx context.Context) domain.JobResult {
	c.logger.Info().Msg("manual full pipeline requested")
	return c.tasks.FullPipeline(ctx, nil)
}

// GetStatus reports every configured or registered job and the scheduler state.
func (c *Coordinator) GetStatus(ctx context.Context) (Status, error) {
	status := Status{
		SchedulerRunning: c.scheduler.IsRunning(),
		Jobs:             map[string]JobStatus{},
		Timestamp:        time.Now(),
	}
	for _, spec := range c.jobs {
		status.Jobs[spec.ID] = JobStatus{Status: JobNotScheduled, Name: spec.Options.Name, Trigger: spec.Trigger.String()}
	}

	infos, err := c.scheduler.ListJobs(ctx)
	if err != nil {
		return status, err
	}
	for _, info := range infos {
		state := JobScheduled
		if !info.Enabled {
			state = JobPaused
		}
		status.Jobs[info.ID] = JobStatus{Status: state, NextRun: info.NextRun, Name: info.Name, Trigger: info.Trigger}
	}
	return status, nil
}

// PauseJob suspends a job until resumed.
func (c *Coordinator) PauseJob(ctx context.Context, id string) error {
	if err := c.scheduler.PauseJob(ctx, id); err != nil {
		return err
	}
	c.logger.Info().Str("job_id", id).Msg("job paused")
	return nil
}

// ResumeJob reschedules a paused job.
func (c *Coordinator) ResumeJob(ctx context.Context, id string) error {
	if err := c.scheduler.ResumeJob(ctx, id); err != nil {
		return err
	}
	c.logger.Info().Str("job_id", id).Msg("job resumed")
	return nil
}

// TriggerJob fires a registered job immediately in the background.
func (c *Coordinator) TriggerJob(ctx context.Context, id string) error {
	return c.scheduler.TriggerJob(ctx, id)
}

// RemoveAll removes every registered job.
func (c *Coordinator) RemoveAll(ctx context.Context) RemoveResult {
	result := RemoveResult{Removed: []string{}, Errors: []string{}}
	infos, err := c.scheduler.ListJobs(ctx)
	if err != nil {
		result.Errors = append(result.Errors, err.Error())
		return result
	}
	for _, info := range infos {
		if err := c.scheduler.RemoveJob(ctx, info.ID); err != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("%s: %v", info.ID, err))
			continue
		}
		result.Removed = append(result.Removed, info.ID)
	}
	sort.Strings(result.Removed)
	c.logger.Info().Int("removed", len(result.Removed)).Msg("jobs removed")
	return result
}

// Executions lists recent runs of a job, newest first.
func (c *Coordinator) Executions(ctx context.Context, id string, limit int) ([]domain.JobExecution, error) {
	return c.scheduler.ListExecutions(ctx, id, limit)
}

// IsRunning reports whether the scheduler is running.
func (c *Coordinator) IsRunning() bool {
	return c.scheduler.IsRunning()
}

// Stats returns document and summary processing statistics.
func (c *Coordinator) Stats(ctx context.Context) (domain.ProcessingStats, error) {
	return c.summarizer.ProcessingStats(ctx)
}

// AnalyzeImpact runs the impact analysis for a summarized document.
func (c *Coordinator) AnalyzeImpact(ctx context.Context, documentID string) (domain.ImpactAnalysis, error) {
	return c.summarizer.AnalyzeImpact(ctx, documentID)
}

// ReprocessErrors queues errored documents for another summarize run.
func (c *Coordinator) ReprocessErrors(ctx context.Context, limit int) (int, error) {
	n, err := c.summarizer.ReprocessErrors(ctx, limit)
	if err != nil {
		return n, err
	}
	c.logger.Info().Int("documents", n).Msg("errored documents queued for reprocessing")
	return n, nil
}

// SourceStatus counts the documents of a data source by status.
func (c *Coordinator) SourceStatus(ctx context.Context, name string) (SourceStatus, error) {
	source, err := c.sources.GetSourceByName(ctx, name)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return SourceStatus{}, fmt.Errorf("data source %s: %w", name, domain.ErrNotFound)
		}
		return SourceStatus{}, err
	}
	counts, err := c.documents.CountByStatus(ctx, source.ID)
	if err != nil {
		return SourceStatus{}, err
	}
	total := 0
	for _, n := range counts {
		total += n
	}
	return SourceStatus{
		Name:         source.Name,
		DataSourceID: source.ID,
		BaseURL:      source.BaseURL,
		Active:       source.Active,
		Documents:    counts,
		Total:        total,
		Timestamp:    time.Now(),
	}, nil
}

// ListSources returns every stored data source ordered by name.
func (c *Coordinator) ListSources(ctx context.Context) ([]domain.DataSource, error) {
	sources, err := c.sources.ListSources(ctx)
	if err != nil {
		return nil, err
	}
	if sources == nil {
		sources = []domain.DataSource{}
	}
	return sources, nil
}

// SetSourceActive toggles whether scrape runs accept name. It is the only
// mutation a stored data source goes through.
func (c *Coordinator) SetSourceActive(ctx context.Context, name string, active bool) error {
	if err := c.sources.SetSourceActive(ctx, name, active); err != nil {
		return fmt.Errorf("data source %s: %w", name, err)
	}
	c.logger.Info().Str("source", name).Bool("active", active).Msg("data source updated")
	return nil
}

// Logs returns recent audit entries, newest first. An empty documentID lists all of them.
func (c *Coordinator) Logs(ctx context.Context, documentID string, limit int) ([]domain.ProcessingLogEntry, error) {
	if c.logs == nil {
		return nil, fmt.Errorf("processing log is not configured")
	}
	entries, err := c.logs.ListLogs(ctx, documentID, limit)
	if err != nil {
		return nil, err
	}
	if entries == nil {
		entries = []domain.ProcessingLogEntry{}
	}
	return entries, nil
}
