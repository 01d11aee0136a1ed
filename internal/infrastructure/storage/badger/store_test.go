package badger

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"TechNotesScanner/internal/domain"
	"TechNotesScanner/internal/logging"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(t.TempDir(), logging.Discard())
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestDocumentHashUniqueness(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	first := &domain.Document{SourceID: "src", URL: "https://a/1", ContentHash: "h1", Status: domain.StatusPending}
	require.NoError(t, store.CreateDocument(ctx, first))
	assert.NotEmpty(t, first.ID)

	second := &domain.Document{SourceID: "src", URL: "https://a/2", ContentHash: "h1", Status: domain.StatusPending}
	err := store.CreateDocument(ctx, second)
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrDuplicate))

	_, err = store.GetDocument(ctx, second.ID)
	assert.True(t, errors.Is(err, domain.ErrNotFound), "rejected document must not be stored")

	exists, err := store.ExistsByHash(ctx, "h1")
	require.NoError(t, err)
	assert.True(t, exists)

	exists, err = store.ExistsByHash(ctx, "h2")
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestDocumentConcurrentHashClaims(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		successes int
	)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := store.CreateDocument(ctx, &domain.Document{SourceID: "src", URL: "u", ContentHash: "same", Status: domain.StatusPending})
			if err == nil {
				mu.Lock()
				successes++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, successes)
	counts, err := store.CountByStatus(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, 1, counts[domain.StatusPending])
}

func TestDocumentURLLookupIsPerSource(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.CreateDocument(ctx, &domain.Document{SourceID: "a", URL: "https://x/doc", ContentHash: "h", Status: domain.StatusPending}))

	exists, err := store.ExistsByURL(ctx, "a", "https://x/doc")
	require.NoError(t, err)
	assert.True(t, exists)

	exists, err = store.ExistsByURL(ctx, "b", "https://x/doc")
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestListByStatusOldestFirst(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	for i, hash := range []string{"c", "a", "b"} {
		doc := &domain.Document{
			SourceID:    "src",
			URL:         hash,
			ContentHash: hash,
			Status:      domain.StatusPending,
			CreatedAt:   base.Add(time.Duration(2-i) * time.Hour),
		}
		require.NoError(t, store.CreateDocument(ctx, doc))
	}

	docs, err := store.ListByStatus(ctx, domain.StatusPending, 0)
	require.NoError(t, err)
	require.Len(t, docs, 3)
	assert.Equal(t, "b", docs[0].ContentHash)
	assert.Equal(t, "a", docs[1].ContentHash)
	assert.Equal(t, "c", docs[2].ContentHash)

	limited, err := store.ListByStatus(ctx, domain.StatusPending, 2)
	require.NoError(t, err)
	assert.Len(t, limited, 2)

	require.NoError(t, store.UpdateStatus(ctx, docs[0].ID, domain.StatusProcessed))
	got, err := store.GetDocument(ctx, docs[0].ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusProcessed, got.Status)

	counts, err := store.CountByStatus(ctx, "src")
	require.NoError(t, err)
	assert.Equal(t, 2, counts[domain.StatusPending])
	assert.Equal(t, 1, counts[domain.StatusProcessed])
	assert.Equal(t, 0, counts[domain.StatusError])

	err = store.UpdateStatus(ctx, "missing", domain.StatusError)
	assert.True(t, errors.Is(err, domain.ErrNotFound))
}

func TestSummaryOnePerDocument(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.CreateSummary(ctx, &domain.Summary{DocumentID: "d1", Text: "s", ModelUsed: "m1"}))
	err := store.CreateSummary(ctx, &domain.Summary{DocumentID: "d1", Text: "again", ModelUsed: "m1"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrAlreadyProcessed))

	require.NoError(t, store.CreateSummary(ctx, &domain.Summary{DocumentID: "d2", Text: "s", ModelUsed: "m2"}))

	has, err := store.HasSummary(ctx, "d1")
	require.NoError(t, err)
	assert.True(t, has)
	has, err = store.HasSummary(ctx, "d3")
	require.NoError(t, err)
	assert.False(t, has)

	got, err := store.GetSummaryByDocument(ctx, "d1")
	require.NoError(t, err)
	assert.Equal(t, "s", got.Text)

	count, err := store.CountSummaries(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	usage, err := store.ModelUsage(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[string]int{"m1": 1, "m2": 1}, usage)
}

func TestSourcesAndLogs(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	_, err := store.GetSourceByName(ctx, "NFE FAZENDA")
	assert.True(t, errors.Is(err, domain.ErrNotFound))

	src := &domain.DataSource{Name: "NFE FAZENDA", ContentType: domain.ContentPDF, Active: true, Config: map[string]string{"k": "v"}}
	require.NoError(t, store.SaveSource(ctx, src))

	got, err := store.GetSourceByName(ctx, "NFE FAZENDA")
	require.NoError(t, err)
	assert.Equal(t, src.ID, got.ID)
	assert.Equal(t, "v", got.Config["k"])

	require.NoError(t, store.SetSourceActive(ctx, "NFE FAZENDA", false))
	got, err = store.GetSourceByName(ctx, "NFE FAZENDA")
	require.NoError(t, err)
	assert.False(t, got.Active)

	sources, err := store.ListSources(ctx)
	require.NoError(t, err)
	assert.Len(t, sources, 1)

	require.NoError(t, store.AppendLog(ctx, &domain.ProcessingLogEntry{DocumentID: "d1", Operation: domain.OpScraping, Level: domain.LevelInfo, Message: "one"}))
	require.NoError(t, store.AppendLog(ctx, &domain.ProcessingLogEntry{Operation: domain.OpDownload, Level: domain.LevelError, Message: "two"}))

	all, err := store.ListLogs(ctx, "", 0)
	require.NoError(t, err)
	assert.Len(t, all, 2)

	forDoc, err := store.ListLogs(ctx, "d1", 10)
	require.NoError(t, err)
	require.Len(t, forDoc, 1)
	assert.Equal(t, "one", forDoc[0].Message)
}

func TestJobStore(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	def := &domain.JobDefinition{
		ID:           "job",
		Name:         "Job",
		FunctionName: "fn",
		Trigger:      domain.Trigger{Kind: domain.TriggerCron, Hour: "8-18/2", Minute: "15"},
		Enabled:      true,
		MaxInstances: 1,
	}
	require.NoError(t, store.SaveJob(ctx, def))

	got, err := store.GetJob(ctx, "job")
	require.NoError(t, err)
	assert.Equal(t, "8-18/2", got.Trigger.Hour)

	def.RunCount = 4
	require.NoError(t, store.SaveJob(ctx, def))
	jobs, err := store.ListJobs(ctx)
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	assert.Equal(t, 4, jobs[0].RunCount)

	require.NoError(t, store.DeleteJob(ctx, "job"))
	require.NoError(t, store.DeleteJob(ctx, "job"), "deleting twice is tolerated")
	_, err = store.GetJob(ctx, "job")
	assert.True(t, errors.Is(err, domain.ErrJobNotFound))

	running := &domain.JobExecution{JobID: "job", Status: domain.ExecutionRunning, StartedAt: time.Now().Add(-time.Minute)}
	require.NoError(t, store.SaveExecution(ctx, running))
	done := &domain.JobExecution{JobID: "job", Status: domain.ExecutionSuccess, StartedAt: time.Now(), Result: map[string]any{"success": true}}
	require.NoError(t, store.SaveExecution(ctx, done))

	n, err := store.FailRunningExecutions(ctx, "interrupted")
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	execs, err := store.ListExecutions(ctx, "job", 10)
	require.NoError(t, err)
	require.Len(t, execs, 2)
	assert.Equal(t, domain.ExecutionSuccess, execs[0].Status)
	assert.Equal(t, true, execs[0].Result["success"])
	assert.Equal(t, domain.ExecutionFailed, execs[1].Status)
	assert.Equal(t, "interrupted", execs[1].Error)
}
