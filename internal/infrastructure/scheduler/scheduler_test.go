package scheduler

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"TechNotesScanner/internal/domain"
	"TechNotesScanner/internal/infrastructure/storage/badger"
	"TechNotesScanner/internal/ports"
)

var weekdayMorning = domain.Trigger{Kind: domain.TriggerCron, DayOfWeek: "mon-fri", Hour: "9", Minute: "0"}

func newTestScheduler(t *testing.T) (*JobScheduler, *badger.Store) {
	t.Helper()

	store, err := badger.Open(t.TempDir(), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	s := New(store, Options{Location: time.UTC, PoolSize: 4}, nil)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.Shutdown(ctx)
	})
	return s, store
}

func okJob(counter *atomic.Int32) ports.JobFunc {
	return func(ctx context.Context, args map[string]string) domain.JobResult {
		counter.Add(1)
		res := domain.JobResult{Success: true, StartTime: time.Now(), Stats: args}
		return res.Finish()
	}
}

func TestAddJobReplacesExistingID(t *testing.T) {
	s, store := newTestScheduler(t)
	ctx := context.Background()
	var calls atomic.Int32
	s.RegisterFunc("scrape", okJob(&calls))

	_, err := s.AddJob(ctx, "X", "scrape", weekdayMorning, ports.JobOptions{Name: "first", MaxInstances: 1})
	require.NoError(t, err)
	info, err := s.AddJob(ctx, "X", "scrape", domain.Trigger{Kind: domain.TriggerInterval, Minutes: 5}, ports.JobOptions{Name: "second", MaxInstances: 1})
	require.NoError(t, err)
	assert.Equal(t, "second", info.Name)

	jobs, err := s.ListJobs(ctx)
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	assert.Equal(t, "X", jobs[0].ID)
	assert.Equal(t, "interval[5m0s]", jobs[0].Trigger)
	assert.NotNil(t, jobs[0].NextRun)

	persisted, err := store.ListJobs(ctx)
	require.NoError(t, err)
	require.Len(t, persisted, 1)
	assert.Equal(t, "second", persisted[0].Name)
}

func TestAddJobValidatesInput(t *testing.T) {
	s, _ := newTestScheduler(t)
	ctx := context.Background()

	_, err := s.AddJob(ctx, "X", "missing", weekdayMorning, ports.JobOptions{})
	assert.ErrorContains(t, err, "not registered")

	s.RegisterFunc("scrape", okJob(new(atomic.Int32)))
	_, err = s.AddJob(ctx, "X", "scrape", domain.Trigger{Kind: domain.TriggerCron}, ports.JobOptions{})
	assert.Error(t, err)

	info, err := s.AddJob(ctx, "Y", "scrape", weekdayMorning, ports.JobOptions{})
	require.NoError(t, err)
	assert.Equal(t, "Y", info.Name, "name defaults to the id")
}

func TestPauseResumeRemove(t *testing.T) {
	s, store := newTestScheduler(t)
	ctx := context.Background()
	s.RegisterFunc("scrape", okJob(new(atomic.Int32)))

	_, err := s.AddJob(ctx, "X", "scrape", weekdayMorning, ports.JobOptions{MaxInstances: 1})
	require.NoError(t, err)

	require.NoError(t, s.PauseJob(ctx, "X"))
	info, err := s.GetJob(ctx, "X")
	require.NoError(t, err)
	assert.False(t, info.Enabled)
	assert.Nil(t, info.NextRun)

	def, err := store.GetJob(ctx, "X")
	require.NoError(t, err)
	assert.False(t, def.Enabled)

	require.NoError(t, s.ResumeJob(ctx, "X"))
	info, err = s.GetJob(ctx, "X")
	require.NoError(t, err)
	assert.True(t, info.Enabled)
	require.NotNil(t, info.NextRun)
	assert.Equal(t, 9, info.NextRun.Hour())

	assert.ErrorIs(t, s.PauseJob(ctx, "nope"), domain.ErrJobNotFound)
	assert.ErrorIs(t, s.ResumeJob(ctx, "nope"), domain.ErrJobNotFound)

	require.NoError(t, s.RemoveJob(ctx, "X"))
	require.NoError(t, s.RemoveJob(ctx, "X"), "removing twice is tolerated")
	_, err = s.GetJob(ctx, "X")
	assert.True(t, IsNotFound(err))
	_, err = store.GetJob(ctx, "X")
	assert.ErrorIs(t, err, domain.ErrJobNotFound)
}

func TestStartAndShutdownAreIdempotent(t *testing.T) {
	s, _ := newTestScheduler(t)
	ctx := context.Background()

	require.NoError(t, s.Shutdown(ctx))
	assert.False(t, s.IsRunning())

	require.NoError(t, s.Start(ctx))
	require.NoError(t, s.Start(ctx))
	assert.True(t, s.IsRunning())

	require.NoError(t, s.Shutdown(ctx))
	require.NoError(t, s.Shutdown(ctx))
	assert.False(t, s.IsRunning())

	require.NoError(t, s.Start(ctx))
	assert.True(t, s.IsRunning())
}

func TestTriggerJobRecordsExecution(t *testing.T) {
	s, _ := newTestScheduler(t)
	ctx := context.Background()
	var calls atomic.Int32
	s.RegisterFunc("scrape", okJob(&calls))

	_, err := s.AddJob(ctx, "X", "scrape", weekdayMorning, ports.JobOptions{MaxInstances: 1, Args: map[string]string{"max_items": "15"}})
	require.NoError(t, err)

	assert.Error(t, s.TriggerJob(ctx, "X"), "not running yet")
	require.NoError(t, s.Start(ctx))
	require.NoError(t, s.TriggerJob(ctx, "X"))

	require.Eventually(t, func() bool {
		info, err := s.GetJob(ctx, "X")
		return err == nil && info.RunCount == 1 && info.Running == 0
	}, 3*time.Second, 10*time.Millisecond)
	assert.EqualValues(t, 1, calls.Load())

	execs, err := s.ListExecutions(ctx, "X", 10)
	require.NoError(t, err)
	require.Len(t, execs, 1)
	assert.Equal(t, domain.ExecutionSuccess, execs[0].Status)
	assert.Equal(t, "manual", execs[0].Metadata["trigger"])
	assert.Equal(t, true, execs[0].Result["success"])
	assert.NotNil(t, execs[0].CompletedAt)

	info, err := s.GetJob(ctx, "X")
	require.NoError(t, err)
	assert.NotNil(t, info.LastRun)
}

func TestPanicIsRecoveredAndJobStaysScheduled(t *testing.T) {
	s, _ := newTestScheduler(t)
	ctx := context.Background()
	var calls atomic.Int32
	s.RegisterFunc("explode", func(ctx context.Context, args map[string]string) domain.JobResult {
		calls.Add(1)
		panic("boom")
	})

	_, err := s.AddJob(ctx, "bad", "explode", weekdayMorning, ports.JobOptions{MaxInstances: 1})
	require.NoError(t, err)
	require.NoError(t, s.Start(ctx))

	require.NoError(t, s.TriggerJob(ctx, "bad"))
	require.Eventually(t, func() bool {
		info, err := s.GetJob(ctx, "bad")
		return err == nil && info.RunCount == 1 && info.Running == 0
	}, 3*time.Second, 10*time.Millisecond)

	execs, err := s.ListExecutions(ctx, "bad", 10)
	require.NoError(t, err)
	require.Len(t, execs, 1)
	assert.Equal(t, domain.ExecutionFailed, execs[0].Status)
	assert.Contains(t, execs[0].Error, domain.ErrJobExecution.Error())
	assert.Contains(t, execs[0].Error, "boom")

	info, err := s.GetJob(ctx, "bad")
	require.NoError(t, err)
	assert.True(t, info.Enabled)
	assert.NotNil(t, info.NextRun)

	require.NoError(t, s.TriggerJob(ctx, "bad"))
	require.Eventually(t, func() bool { return calls.Load() == 2 }, 3*time.Second, 10*time.Millisecond)
}

func TestMaxInstancesSkipsOverlappingRuns(t *testing.T) {
	s, _ := newTestScheduler(t)
	ctx := context.Background()

	release := make(chan struct{})
	started := make(chan struct{}, 4)
	s.RegisterFunc("slow", func(ctx context.Context, args map[string]string) domain.JobResult {
		started <- struct{}{}
		<-release
		return domain.JobResult{Success: true, StartTime: time.Now()}.Finish()
	})

	_, err := s.AddJob(ctx, "slow", "slow", weekdayMorning, ports.JobOptions{MaxInstances: 1})
	require.NoError(t, err)
	require.NoError(t, s.Start(ctx))

	require.NoError(t, s.TriggerJob(ctx, "slow"))
	<-started
	assert.Error(t, s.TriggerJob(ctx, "slow"), "second overlapping run must be skipped")

	info, err := s.GetJob(ctx, "slow")
	require.NoError(t, err)
	assert.Equal(t, 1, info.Running)

	close(release)
	require.Eventually(t, func() bool {
		info, err := s.GetJob(ctx, "slow")
		return err == nil && info.Running == 0 && info.RunCount == 1
	}, 3*time.Second, 10*time.Millisecond)
}

func TestStartReloadsPersistedJobsAndCatchesUp(t *testing.T) {
	store, err := badger.Open(t.TempDir(), nil)
	require.NoError(t, err)
	defer store.Close()
	ctx := context.Background()

	past := time.Now().Add(-2 * time.Hour)
	require.NoError(t, store.SaveJob(ctx, &domain.JobDefinition{
		ID:           "nfe_technical_notes_processing",
		Name:         "NFE Technical Notes - Processing",
		FunctionName: "summarize",
		Trigger:      domain.Trigger{Kind: domain.TriggerInterval, Minutes: 10},
		Args:         map[string]string{"max_items": "15"},
		Enabled:      true,
		MaxInstances: 1,
		Coalesce:     true,
		NextRun:      &past,
	}))
	require.NoError(t, store.SaveExecution(ctx, &domain.JobExecution{
		JobID:     "nfe_technical_notes_processing",
		Status:    domain.ExecutionRunning,
		StartedAt: past,
	}))

	s := New(store, Options{Location: time.UTC}, nil)
	var calls atomic.Int32
	var gotArgs atomic.Value
	s.RegisterFunc("summarize", func(ctx context.Context, args map[string]string) domain.JobResult {
		calls.Add(1)
		gotArgs.Store(args["max_items"])
		return domain.JobResult{Success: true, StartTime: time.Now()}.Finish()
	})

	require.NoError(t, s.Start(ctx))
	defer s.Shutdown(ctx)

	jobs, err := s.ListJobs(ctx)
	require.NoError(t, err)
	require.Len(t, jobs, 1)

	require.Eventually(t, func() bool {
		info, err := s.GetJob(ctx, "nfe_technical_notes_processing")
		return err == nil && info.RunCount == 1 && info.Running == 0
	}, 3*time.Second, 10*time.Millisecond)
	assert.EqualValues(t, 1, calls.Load(), "coalesced catch-up runs once")
	assert.Equal(t, "15", gotArgs.Load())

	info, err := s.GetJob(ctx, "nfe_technical_notes_processing")
	require.NoError(t, err)
	require.NotNil(t, info.NextRun)
	assert.True(t, info.NextRun.After(time.Now()))

	execs, err := s.ListExecutions(ctx, "nfe_technical_notes_processing", 10)
	require.NoError(t, err)
	var interrupted int
	for _, exec := range execs {
		if exec.Error == interruptedReason {
			interrupted++
			assert.Equal(t, domain.ExecutionFailed, exec.Status)
		}
	}
	assert.Equal(t, 1, interrupted)
}

func TestDateJobIsRemovedAfterFiring(t *testing.T) {
	s, store := newTestScheduler(t)
	ctx := context.Background()
	var calls atomic.Int32
	s.RegisterFunc("once", okJob(&calls))

	require.NoError(t, s.Start(ctx))
	_, err := s.AddJob(ctx, "one-shot", "once", domain.Trigger{Kind: domain.TriggerDate, RunAt: time.Now().Add(-time.Second)}, ports.JobOptions{})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		_, err := s.GetJob(ctx, "one-shot")
		return IsNotFound(err)
	}, 3*time.Second, 10*time.Millisecond)
	assert.EqualValues(t, 1, calls.Load())

	_, err = store.GetJob(ctx, "one-shot")
	assert.ErrorIs(t, err, domain.ErrJobNotFound)
}

func TestShutdownTimesOutOnStuckJob(t *testing.T) {
	s, _ := newTestScheduler(t)
	ctx := context.Background()

	s.RegisterFunc("stuck", func(ctx context.Context, args map[string]string) domain.JobResult {
		<-ctx.Done()
		return domain.JobResult{StartTime: time.Now()}.Fail(ctx.Err())
	})
	_, err := s.AddJob(ctx, "stuck", "stuck", weekdayMorning, ports.JobOptions{MaxInstances: 1})
	require.NoError(t, err)
	require.NoError(t, s.Start(ctx))
	require.NoError(t, s.TriggerJob(ctx, "stuck"))

	require.Eventually(t, func() bool {
		info, _ := s.GetJob(ctx, "stuck")
		return info.Running == 1
	}, 3*time.Second, 10*time.Millisecond)

	shortCtx, cancel := context.WithTimeout(ctx, 100*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, s.Shutdown(shortCtx), context.DeadlineExceeded)
	assert.False(t, s.IsRunning())

	require.Eventually(t, func() bool {
		info, _ := s.GetJob(ctx, "stuck")
		return info.Running == 0
	}, 3*time.Second, 10*time.Millisecond, "abandoned run observes cancellation")
}

func TestLoadReportsPersistedJobsWithoutStarting(t *testing.T) {
	s, store := newTestScheduler(t)
	ctx := context.Background()
	var calls atomic.Int32
	s.RegisterFunc("scrape", okJob(&calls))
	_, err := s.AddJob(ctx, "X", "scrape", weekdayMorning, ports.JobOptions{Name: "scrape"})
	require.NoError(t, err)

	reloaded := New(store, Options{Location: time.UTC}, nil)
	require.NoError(t, reloaded.Load(ctx))

	jobs, err := reloaded.ListJobs(ctx)
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	assert.Equal(t, "X", jobs[0].ID)
	assert.False(t, reloaded.IsRunning())
}

func TestReRegisteringKeepsPersistedState(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()
	nightly := domain.Trigger{Kind: domain.TriggerCron, Hour: "3"}

	store, err := badger.Open(dir, nil)
	require.NoError(t, err)
	past := time.Now().Add(-48 * time.Hour)
	lastRun := past.Add(-24 * time.Hour)
	require.NoError(t, store.SaveJob(ctx, &domain.JobDefinition{
		ID:           "nightly",
		Name:         "nightly",
		FunctionName: "scrape",
		Trigger:      nightly,
		Enabled:      true,
		MaxInstances: 1,
		Coalesce:     true,
		LastRun:      &lastRun,
		NextRun:      &past,
		RunCount:     5,
	}))
	require.NoError(t, store.SaveJob(ctx, &domain.JobDefinition{
		ID:           "paused",
		Name:         "paused",
		FunctionName: "scrape",
		Trigger:      nightly,
		Enabled:      false,
		MaxInstances: 1,
		RunCount:     2,
	}))
	require.NoError(t, store.Close())

	store, err = badger.Open(dir, nil)
	require.NoError(t, err)
	defer store.Close()

	s := New(store, Options{Location: time.UTC}, nil)
	var calls atomic.Int32
	s.RegisterFunc("scrape", okJob(&calls))
	for _, id := range []string{"nightly", "paused"} {
		_, err := s.AddJob(ctx, id, "scrape", nightly, ports.JobOptions{Name: id, MaxInstances: 1, Coalesce: true})
		require.NoError(t, err)
	}
	require.NoError(t, s.Start(ctx))
	defer s.Shutdown(ctx)

	require.Eventually(t, func() bool {
		info, err := s.GetJob(ctx, "nightly")
		return err == nil && info.RunCount == 6 && info.Running == 0
	}, 3*time.Second, 10*time.Millisecond)
	time.Sleep(200 * time.Millisecond)
	assert.EqualValues(t, 1, calls.Load(), "missed firings collapse into one catch-up run")

	paused, err := s.GetJob(ctx, "paused")
	require.NoError(t, err)
	assert.False(t, paused.Enabled)
	assert.Nil(t, paused.NextRun)
	assert.Equal(t, 2, paused.RunCount)

	def, err := store.GetJob(ctx, "paused")
	require.NoError(t, err)
	assert.False(t, def.Enabled)

	moved, err := s.AddJob(ctx, "paused", "scrape", weekdayMorning, ports.JobOptions{MaxInstances: 1})
	require.NoError(t, err)
	assert.True(t, moved.Enabled, "a new trigger starts enabled")
	assert.Equal(t, 2, moved.RunCount)
}
