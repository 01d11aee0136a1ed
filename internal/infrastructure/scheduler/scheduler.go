package scheduler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"runtime/debug"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
	"github.com/ternarybob/arbor"

	"TechNotesScanner/internal/domain"
	"TechNotesScanner/internal/logging"
	"TechNotesScanner/internal/ports"
)

const (
	defaultMaxInstances = 3
	defaultPoolSize     = 10
	maxMisfireRuns      = 10
	interruptedReason   = "interrupted by process restart"
)

// Options configure the engine.
type Options struct {
	Location *time.Location
	PoolSize int
}

type job struct {
	def      domain.JobDefinition
	schedule cron.Schedule
	entryID  cron.EntryID
}

// JobScheduler runs registered job functions on persisted triggers.
type JobScheduler struct {
	store  ports.JobStore
	logger arbor.ILogger
	loc    *time.Location
	pool   chan struct{}

	mu       sync.Mutex
	funcs    map[string]ports.JobFunc
	jobs     map[string]*job
	inflight map[string]int
	engine   *cron.Cron
	running  bool
	runCtx   context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup

	now func() time.Time
}

var _ ports.Scheduler = (*JobScheduler)(nil)

// New builds a stopped scheduler backed by store.
func New(store ports.JobStore, opts Options, logger arbor.ILogger) *JobScheduler {
	if logger == nil {
		logger = logging.Discard()
	}
	loc := opts.Location
	if loc == nil {
		loc = time.UTC
	}
	poolSize := opts.PoolSize
	if poolSize <= 0 {
		poolSize = defaultPoolSize
	}

	clog := cronLogger{logger: logger}
	return &JobScheduler{
		store:    store,
		logger:   logger,
		loc:      loc,
		pool:     make(chan struct{}, poolSize),
		funcs:    map[string]ports.JobFunc{},
		jobs:     map[string]*job{},
		inflight: map[string]int{},
		engine: cron.New(
			cron.WithLocation(loc),
			cron.WithLogger(clog),
			cron.WithChain(cron.Recover(clog)),
		),
		now: time.Now,
	}
}

// RegisterFunc binds a function name used by persisted definitions.
func (s *JobScheduler) RegisterFunc(name string, fn ports.JobFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.funcs[name] = fn
}

// AddJob registers id, replacing any existing job with the same id.
func (s *JobScheduler) AddJob(ctx context.Context, id, funcName string, trigger domain.Trigger, opts ports.JobOptions) (ports.JobInfo, error) {
	if id == "" {
		return ports.JobInfo{}, fmt.Errorf("job id is required")
	}
	sched, err := BuildSchedule(trigger)
	if err != nil {
		return ports.JobInfo{}, fmt.Errorf("job %s: %w", id, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.funcs[funcName]; !ok {
		return ports.JobInfo{}, fmt.Errorf("job %s: function %s is not registered", id, funcName)
	}

	maxInstances := opts.MaxInstances
	if maxInstances <= 0 {
		maxInstances = defaultMaxInstances
	}
	name := opts.Name
	if name == "" {
		name = id
	}

	def := domain.JobDefinition{
		ID:           id,
		Name:         name,
		Description:  opts.Description,
		FunctionName: funcName,
		Trigger:      trigger,
		Args:         opts.Args,
		Enabled:      true,
		MaxInstances: maxInstances,
		Coalesce:     opts.Coalesce,
	}

	def.NextRun = s.nextRun(sched, s.now())

	prev, replaced, err := s.previousLocked(ctx, id)
	if err != nil {
		return ports.JobInfo{}, err
	}
	if replaced {
		carryOver(&def, prev)
	}

	if err := s.store.SaveJob(ctx, &def); err != nil {
		return ports.JobInfo{}, fmt.Errorf("persist job %s: %w", id, err)
	}

	j := &job{def: def, schedule: sched}
	s.jobs[id] = j
	if s.running {
		s.schedule(j)
		if def.Enabled && trigger.Kind == domain.TriggerDate && !trigger.RunAt.After(s.now()) {
			s.dispatchLocked(id, "misfire")
		}
	}

	s.logger.Info().
		Str("job_id", id).
		Str("trigger", trigger.String()).
		Bool("replaced", replaced).
		Msg("job registered")
	return s.infoLocked(j), nil
}

// previousLocked finds the definition id had before this registration,
// first among loaded jobs and then in the store.
func (s *JobScheduler) previousLocked(ctx context.Context, id string) (domain.JobDefinition, bool, error) {
	if existing, ok := s.jobs[id]; ok {
		s.unschedule(existing)
		return existing.def, true, nil
	}
	def, err := s.store.GetJob(ctx, id)
	if errors.Is(err, domain.ErrJobNotFound) {
		return domain.JobDefinition{}, false, nil
	}
	if err != nil {
		return domain.JobDefinition{}, false, fmt.Errorf("load job %s: %w", id, err)
	}
	return def, true, nil
}

// carryOver keeps the run history of prev. With an unchanged trigger the
// paused flag and a pending NextRun are kept as well.
func carryOver(def *domain.JobDefinition, prev domain.JobDefinition) {
	def.CreatedAt = prev.CreatedAt
	def.LastRun = prev.LastRun
	def.RunCount = prev.RunCount
	if prev.Trigger.Kind != def.Trigger.Kind || prev.Trigger.String() != def.Trigger.String() {
		return
	}
	def.Enabled = prev.Enabled
	switch {
	case !def.Enabled:
		def.NextRun = nil
	case prev.NextRun != nil:
		def.NextRun = prev.NextRun
	}
}

// RemoveJob deletes id. Removing an unknown job is not an error.
func (s *JobScheduler) RemoveJob(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	j, ok := s.jobs[id]
	if !ok {
		s.logger.Info().Str("job_id", id).Msg("job not found, nothing to remove")
		return s.store.DeleteJob(ctx, id)
	}
	s.unschedule(j)
	delete(s.jobs, id)
	if err := s.store.DeleteJob(ctx, id); err != nil {
		return fmt.Errorf("delete job %s: %w", id, err)
	}
	s.logger.Info().Str("job_id", id).Msg("job removed")
	return nil
}

// PauseJob stops future firings of id until resumed.
func (s *JobScheduler) PauseJob(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	j, ok := s.jobs[id]
	if !ok {
		return fmt.Errorf("pause %s: %w", id, domain.ErrJobNotFound)
	}
	s.unschedule(j)
	j.def.Enabled = false
	j.def.NextRun = nil
	if err := s.store.SaveJob(ctx, &j.def); err != nil {
		return fmt.Errorf("persist job %s: %w", id, err)
	}
	s.logger.Info().Str("job_id", id).Msg("job paused")
	return nil
}

// ResumeJob re-enables id.
func (s *JobScheduler) ResumeJob(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	j, ok := s.jobs[id]
	if !ok {
		return fmt.Errorf("resume %s: %w", id, domain.ErrJobNotFound)
	}
	j.def.Enabled = true
	j.def.NextRun = s.nextRun(j.schedule, s.now())
	if err := s.store.SaveJob(ctx, &j.def); err != nil {
		return fmt.Errorf("persist job %s: %w", id, err)
	}
	if s.running {
		s.schedule(j)
	}
	s.logger.Info().Str("job_id", id).Msg("job resumed")
	return nil
}

// GetJob reports the registered job id.
func (s *JobScheduler) GetJob(_ context.Context, id string) (ports.JobInfo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	j, ok := s.jobs[id]
	if !ok {
		return ports.JobInfo{}, fmt.Errorf("job %s: %w", id, domain.ErrJobNotFound)
	}
	return s.infoLocked(j), nil
}

// ListJobs returns every registered job ordered by id.
func (s *JobScheduler) ListJobs(_ context.Context) ([]ports.JobInfo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	infos := make([]ports.JobInfo, 0, len(s.jobs))
	for _, j := range s.jobs {
		infos = append(infos, s.infoLocked(j))
	}
	sort.Slice(infos, func(i, k int) bool { return infos[i].ID < infos[k].ID })
	return infos, nil
}

// ListExecutions returns recent runs of jobID, newest first.
func (s *JobScheduler) ListExecutions(ctx context.Context, jobID string, limit int) ([]domain.JobExecution, error) {
	return s.store.ListExecutions(ctx, jobID, limit)
}

// IsRunning reports whether the engine is firing jobs.
func (s *JobScheduler) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// TriggerJob runs id once in the background, honoring max_instances.
func (s *JobScheduler) TriggerJob(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return fmt.Errorf("scheduler is not running")
	}
	if _, ok := s.jobs[id]; !ok {
		return fmt.Errorf("trigger %s: %w", id, domain.ErrJobNotFound)
	}
	if _, ok := s.dispatchLocked(id, "manual"); !ok {
		return fmt.Errorf("job %s was not started", id)
	}
	return nil
}

// Start reloads persisted jobs, runs missed firings and starts the engine.
// Starting a running scheduler is a no-op.
func (s *JobScheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return nil
	}

	if n, err := s.store.FailRunningExecutions(ctx, interruptedReason); err != nil {
		s.logger.Warn().Err(err).Msg("failed to finalize interrupted executions")
	} else if n > 0 {
		s.logger.Warn().Int("count", n).Msg("executions interrupted by previous shutdown marked failed")
	}

	if err := s.loadLocked(ctx); err != nil {
		return err
	}

	s.runCtx, s.cancel = context.WithCancel(context.Background())
	s.running = true

	now := s.now()
	for id, j := range s.jobs {
		if !j.def.Enabled {
			continue
		}
		if j.def.NextRun != nil {
			missed := missedRuns(j.schedule, *j.def.NextRun, now, maxMisfireRuns)
			if missed > 0 {
				if j.def.Coalesce {
					missed = 1
				}
				s.logger.Info().Str("job_id", id).Int("runs", missed).Msg("catching up missed runs")
				s.catchUp(id, missed)
			}
		}
		s.schedule(j)
	}

	s.engine.Start()
	s.logger.Info().Int("jobs", len(s.jobs)).Msg("scheduler started")
	return nil
}

// Load reads persisted definitions without starting the engine, so a
// stopped scheduler can still report them.
func (s *JobScheduler) Load(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loadLocked(ctx)
}

func (s *JobScheduler) loadLocked(ctx context.Context) error {
	defs, err := s.store.ListJobs(ctx)
	if err != nil {
		return fmt.Errorf("load job definitions: %w", err)
	}
	for _, def := range defs {
		if _, ok := s.jobs[def.ID]; ok {
			continue
		}
		sched, err := BuildSchedule(def.Trigger)
		if err != nil {
			s.logger.Error().Err(err).Str("job_id", def.ID).Msg("skipping persisted job with invalid trigger")
			continue
		}
		if _, ok := s.funcs[def.FunctionName]; !ok {
			s.logger.Warn().Str("job_id", def.ID).Str("function", def.FunctionName).Msg("persisted job references an unregistered function")
		}
		s.jobs[def.ID] = &job{def: def, schedule: sched}
	}
	return nil
}

// Shutdown stops firing and waits for in-flight runs until ctx expires.
// Runs still active at that point have their context cancelled and are abandoned.
func (s *JobScheduler) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = false
	stopped := s.engine.Stop()
	for _, j := range s.jobs {
		s.unschedule(j)
	}
	cancel := s.cancel
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		<-stopped.Done()
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		cancel()
		s.logger.Info().Msg("scheduler stopped")
		return nil
	case <-ctx.Done():
		cancel()
		s.logger.Warn().Msg("scheduler shutdown timed out, abandoning running jobs")
		return fmt.Errorf("scheduler shutdown: %w", ctx.Err())
	}
}

func (s *JobScheduler) schedule(j *job) {
	if !j.def.Enabled || j.entryID != 0 {
		return
	}
	id := j.def.ID
	j.entryID = s.engine.Schedule(j.schedule, cron.FuncJob(func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		s.dispatchLocked(id, "scheduled")
	}))
}

func (s *JobScheduler) unschedule(j *job) {
	if j.entryID != 0 {
		s.engine.Remove(j.entryID)
		j.entryID = 0
	}
}

func (s *JobScheduler) catchUp(id string, runs int) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		for i := 0; i < runs; i++ {
			s.mu.Lock()
			if !s.running {
				s.mu.Unlock()
				return
			}
			done, ok := s.dispatchLocked(id, "misfire")
			s.mu.Unlock()
			if !ok {
				return
			}
			<-done
		}
	}()
}

// dispatchLocked starts one run of id. The caller holds s.mu.
func (s *JobScheduler) dispatchLocked(id, reason string) (<-chan struct{}, bool) {
	j, ok := s.jobs[id]
	if !ok || !s.running {
		return nil, false
	}
	fn, ok := s.funcs[j.def.FunctionName]
	if !ok {
		s.logger.Error().Str("job_id", id).Str("function", j.def.FunctionName).Msg("job function is not registered")
		return nil, false
	}
	if s.inflight[id] >= j.def.MaxInstances {
		s.logger.Warn().
			Str("job_id", id).
			Int("max_instances", j.def.MaxInstances).
			Msg("maximum number of running instances reached, run skipped")
		return nil, false
	}

	s.inflight[id]++
	def := j.def
	done := make(chan struct{})
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer close(done)
		s.execute(s.runCtx, def, fn, reason)
	}()
	return done, true
}

func (s *JobScheduler) execute(ctx context.Context, def domain.JobDefinition, fn ports.JobFunc, reason string) {
	select {
	case s.pool <- struct{}{}:
	case <-ctx.Done():
		s.finish(def, time.Time{})
		return
	}
	defer func() { <-s.pool }()

	started := s.now()
	exec := domain.JobExecution{
		ID:        uuid.NewString(),
		JobID:     def.ID,
		JobName:   def.Name,
		Status:    domain.ExecutionRunning,
		StartedAt: started,
		Metadata:  map[string]string{"trigger": reason},
	}
	if err := s.store.SaveExecution(ctx, &exec); err != nil {
		s.logger.Warn().Err(err).Str("job_id", def.ID).Msg("failed to record execution start")
	}

	s.logger.Info().Str("job_id", def.ID).Str("trigger", reason).Msg("job started")
	result, err := s.invoke(ctx, def, fn)

	completed := s.now()
	exec.CompletedAt = &completed
	exec.Duration = completed.Sub(started)
	exec.Result = resultMap(result)
	switch {
	case err != nil:
		exec.Status = domain.ExecutionFailed
		exec.Error = err.Error()
		s.logger.Error().Err(err).Str("job_id", def.ID).Dur("duration", exec.Duration).Msg("job crashed")
	case !result.Success:
		exec.Status = domain.ExecutionFailed
		exec.Error = result.Error
		s.logger.Warn().Str("job_id", def.ID).Str("error", result.Error).Dur("duration", exec.Duration).Msg("job failed")
	default:
		exec.Status = domain.ExecutionSuccess
		s.logger.Info().Str("job_id", def.ID).Dur("duration", exec.Duration).Msg("job completed")
	}
	// ctx may already be cancelled by a timed-out shutdown; the record still has to land.
	if err := s.store.SaveExecution(context.Background(), &exec); err != nil {
		s.logger.Warn().Err(err).Str("job_id", def.ID).Msg("failed to record execution result")
	}

	s.finish(def, started)
}

func (s *JobScheduler) invoke(ctx context.Context, def domain.JobDefinition, fn ports.JobFunc) (result domain.JobResult, err error) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error().
				Str("job_id", def.ID).
				Str("panic", fmt.Sprint(r)).
				Str("stack", string(debug.Stack())).
				Msg("job panicked")
			err = fmt.Errorf("%w: job %s: %v", domain.ErrJobExecution, def.ID, r)
			result = domain.JobResult{StartTime: s.now(), Error: err.Error()}.Finish()
		}
	}()
	return fn(ctx, def.Args), nil
}

// finish releases the instance slot and persists run bookkeeping.
func (s *JobScheduler) finish(def domain.JobDefinition, started time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.inflight[def.ID] > 0 {
		s.inflight[def.ID]--
	}
	if started.IsZero() {
		return
	}

	j, ok := s.jobs[def.ID]
	if !ok || j.def.FunctionName != def.FunctionName {
		return
	}

	ctx := context.Background()
	if j.def.Trigger.Kind == domain.TriggerDate {
		s.unschedule(j)
		delete(s.jobs, def.ID)
		if err := s.store.DeleteJob(ctx, def.ID); err != nil {
			s.logger.Warn().Err(err).Str("job_id", def.ID).Msg("failed to remove fired one-shot job")
		}
		return
	}

	j.def.LastRun = &started
	j.def.RunCount++
	if j.def.Enabled {
		j.def.NextRun = s.nextRun(j.schedule, s.now())
	}
	if err := s.store.SaveJob(ctx, &j.def); err != nil {
		s.logger.Warn().Err(err).Str("job_id", def.ID).Msg("failed to persist job run state")
	}
}

func (s *JobScheduler) nextRun(sched cron.Schedule, now time.Time) *time.Time {
	next := sched.Next(now.In(s.loc))
	if next.IsZero() {
		if once, ok := sched.(onceSchedule); ok {
			at := once.at
			return &at
		}
		return nil
	}
	return &next
}

func (s *JobScheduler) infoLocked(j *job) ports.JobInfo {
	info := ports.JobInfo{
		ID:       j.def.ID,
		Name:     j.def.Name,
		Trigger:  j.def.Trigger.String(),
		Enabled:  j.def.Enabled,
		Running:  s.inflight[j.def.ID],
		LastRun:  j.def.LastRun,
		RunCount: j.def.RunCount,
	}
	if j.def.Enabled {
		info.NextRun = j.def.NextRun
	}
	return info
}

func resultMap(result domain.JobResult) map[string]any {
	raw, err := json.Marshal(result)
	if err != nil {
		return map[string]any{"success": result.Success, "error": result.Error}
	}
	var out map[string]any
	if err := json.Unmarshal(raw, &out); err != nil {
		return map[string]any{"success": result.Success, "error": result.Error}
	}
	return out
}

// IsNotFound reports whether err means the job id is unknown.
func IsNotFound(err error) bool {
	return errors.Is(err, domain.ErrJobNotFound)
}
