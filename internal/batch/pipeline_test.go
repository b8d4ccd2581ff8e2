package batch

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aperta-labs/bloghound/internal/config"
	"github.com/aperta-labs/bloghound/internal/domain"
	"github.com/aperta-labs/bloghound/internal/queue"
)

type fakeTaskRepo struct {
	tasks          map[string]domain.Task
	runningByBatch map[string][]domain.Task
	distinctBatch  []string
	inserted       []domain.Task
}

func newFakeTaskRepo() *fakeTaskRepo {
	return &fakeTaskRepo{tasks: map[string]domain.Task{}, runningByBatch: map[string][]domain.Task{}}
}

func (f *fakeTaskRepo) Insert(ctx domain.Context, t domain.Task) (string, error) {
	f.inserted = append(f.inserted, t)
	return "new-task", nil
}
func (f *fakeTaskRepo) ExistsNonTerminal(ctx domain.Context, blogID *string, taskType domain.TaskType) (bool, error) {
	return false, nil
}
func (f *fakeTaskRepo) ClaimBatch(ctx domain.Context, limit int) ([]domain.Task, error) {
	return nil, nil
}
func (f *fakeTaskRepo) UpdateStatus(ctx domain.Context, id string, status domain.TaskStatus, errMsg string, nextRetryAt *time.Time) error {
	t := f.tasks[id]
	t.Status = status
	t.ErrorMsg = errMsg
	f.tasks[id] = t
	return nil
}
func (f *fakeTaskRepo) SetPayload(ctx domain.Context, id string, patch map[string]any) error {
	return nil
}
func (f *fakeTaskRepo) Get(ctx domain.Context, id string) (domain.Task, error) {
	t, ok := f.tasks[id]
	if !ok {
		return domain.Task{}, domain.ErrNotFound
	}
	return t, nil
}
func (f *fakeTaskRepo) List(ctx domain.Context, filter domain.TaskFilter, limit, offset int) ([]domain.Task, int, error) {
	return nil, 0, nil
}
func (f *fakeTaskRepo) RunningOlderThan(ctx domain.Context, taskType domain.TaskType, cutoff time.Time) ([]domain.Task, error) {
	return nil, nil
}
func (f *fakeTaskRepo) RunningUnattachedAIAnalysis(ctx domain.Context) ([]domain.Task, error) {
	return nil, nil
}
func (f *fakeTaskRepo) RunningWithBatchIDs(ctx domain.Context, batchIDs []string) ([]domain.Task, error) {
	var out []domain.Task
	for _, id := range batchIDs {
		out = append(out, f.runningByBatch[id]...)
	}
	return out, nil
}
func (f *fakeTaskRepo) DistinctRunningBatchIDs(ctx domain.Context) ([]string, error) {
	return f.distinctBatch, nil
}

type fakeBlogRepo struct {
	refused  map[string]bool
	updated  map[string]domain.AIInsights
	markedNoInsights map[string]bool
	storedRefusals   map[string]string
}

func newFakeBlogRepo() *fakeBlogRepo {
	return &fakeBlogRepo{
		refused:          map[string]bool{},
		updated:          map[string]domain.AIInsights{},
		markedNoInsights: map[string]bool{},
		storedRefusals:   map[string]string{},
	}
}

func (f *fakeBlogRepo) GetByUsername(ctx domain.Context, platform, username string) (domain.Blog, error) {
	return domain.Blog{}, domain.ErrNotFound
}
func (f *fakeBlogRepo) Get(ctx domain.Context, id string) (domain.Blog, error) {
	return domain.Blog{ID: id}, nil
}
func (f *fakeBlogRepo) EnsureByUsername(ctx domain.Context, platform, username string) (string, bool, error) {
	return "", false, nil
}
func (f *fakeBlogRepo) UpdateScrapeStatus(ctx domain.Context, id string, status domain.ScrapeStatus) error {
	return nil
}
func (f *fakeBlogRepo) UpsertScraped(ctx domain.Context, id string, profile domain.ScrapedProfile, metrics domain.DerivedMetrics) error {
	return nil
}
func (f *fakeBlogRepo) UpdateAIResult(ctx domain.Context, id string, insights domain.AIInsights, confidence int, status domain.ScrapeStatus) error {
	f.updated[id] = insights
	return nil
}
func (f *fakeBlogRepo) StoreRefusal(ctx domain.Context, id string, reason string, status domain.ScrapeStatus) error {
	f.storedRefusals[id] = reason
	if status == domain.ScrapeAIAnalyzed {
		f.refused[id] = true
	}
	return nil
}
func (f *fakeBlogRepo) MarkAnalyzedWithoutInsights(ctx domain.Context, id string) error {
	f.markedNoInsights[id] = true
	return nil
}
func (f *fakeBlogRepo) IsAIRefused(ctx domain.Context, id string) (bool, error) {
	return f.refused[id], nil
}
func (f *fakeBlogRepo) SetEmbedding(ctx domain.Context, id string, vec []float32) error { return nil }
func (f *fakeBlogRepo) StaleActive(ctx domain.Context, cutoff time.Time, limit int) ([]domain.Blog, error) {
	return nil, nil
}
func (f *fakeBlogRepo) RecentlyScraped(ctx domain.Context, id string, within time.Duration) (bool, error) {
	return false, nil
}
func (f *fakeBlogRepo) MissingEmbeddings(ctx domain.Context, limit int) ([]domain.Blog, error) {
	return nil, nil
}
func (f *fakeBlogRepo) DeletedBlogIDs(ctx domain.Context) ([]string, error) { return nil, nil }
func (f *fakeBlogRepo) GetPosts(ctx domain.Context, blogID string) ([]domain.Post, error) {
	return nil, nil
}
func (f *fakeBlogRepo) GetHighlights(ctx domain.Context, blogID string) ([]domain.Highlight, error) {
	return nil, nil
}

type fakeProvider struct {
	status  domain.BatchStatus
	results []string
}

func (f *fakeProvider) UploadAndCreateBatch(ctx domain.Context, requests []domain.AIRequest, window time.Duration) (string, error) {
	return "batch-1", nil
}
func (f *fakeProvider) BatchStatus(ctx domain.Context, batchID string) (domain.BatchStatus, error) {
	return f.status, nil
}
func (f *fakeProvider) DownloadResults(ctx domain.Context, batchID string) ([]string, error) {
	return f.results, nil
}

func newTestPipeline(tasks *fakeTaskRepo, blogs *fakeBlogRepo, provider *fakeProvider) *Pipeline {
	q := queue.New(tasks, queue.NewBackoffSchedule(time.Second, time.Minute, 2))
	return New(tasks, blogs, nil, provider, nil, nil, q, config.Config{StaleBatchAge: 26 * time.Hour})
}

func TestPollReconcilesSuccessfulBatch(t *testing.T) {
	t.Parallel()

	tasks := newFakeTaskRepo()
	tasks.tasks["t1"] = domain.Task{ID: "t1", BlogID: strPtr("blog-1"), Status: domain.TaskRunning}
	tasks.runningByBatch["batch-1"] = []domain.Task{tasks.tasks["t1"]}
	tasks.distinctBatch = []string{"batch-1"}

	blogs := newFakeBlogRepo()
	provider := &fakeProvider{
		status: domain.BatchCompleted,
		results: []string{
			`{"custom_id":"blog-1","response":{"body":{"choices":[{"message":{"content":"{\"confidence\":4}"}}]}}}`,
		},
	}

	p := newTestPipeline(tasks, blogs, provider)
	require.NoError(t, p.Poll(context.Background()))

	assert.Equal(t, domain.TaskDone, tasks.tasks["t1"].Status)
	assert.Equal(t, 4, blogs.updated["blog-1"].Confidence)
}

func TestPollRefusalInsertsTextOnlyRetry(t *testing.T) {
	t.Parallel()

	tasks := newFakeTaskRepo()
	tasks.tasks["t1"] = domain.Task{ID: "t1", BlogID: strPtr("blog-1"), Status: domain.TaskRunning, Priority: 5}
	tasks.runningByBatch["batch-1"] = []domain.Task{tasks.tasks["t1"]}
	tasks.distinctBatch = []string{"batch-1"}

	blogs := newFakeBlogRepo()
	provider := &fakeProvider{
		status: domain.BatchCompleted,
		results: []string{
			`{"custom_id":"blog-1","response":{"body":{"choices":[{"message":{"content":"I'm sorry, I cannot help with that."}}]}}}`,
		},
	}

	p := newTestPipeline(tasks, blogs, provider)
	require.NoError(t, p.Poll(context.Background()))

	assert.Equal(t, domain.TaskDone, tasks.tasks["t1"].Status)
	require.Len(t, tasks.inserted, 1)
	assert.Equal(t, domain.TaskAIAnalysis, tasks.inserted[0].Type)
	assert.True(t, tasks.inserted[0].PayloadBool(domain.PayloadTextOnly))
}

func TestPollSecondRefusalFinalizesWithoutRetry(t *testing.T) {
	t.Parallel()

	tasks := newFakeTaskRepo()
	tasks.tasks["t1"] = domain.Task{ID: "t1", BlogID: strPtr("blog-1"), Status: domain.TaskRunning, Payload: map[string]any{domain.PayloadTextOnly: true}}
	tasks.runningByBatch["batch-1"] = []domain.Task{tasks.tasks["t1"]}
	tasks.distinctBatch = []string{"batch-1"}

	blogs := newFakeBlogRepo()
	provider := &fakeProvider{
		status: domain.BatchCompleted,
		results: []string{
			`{"custom_id":"blog-1","response":{"body":{"choices":[{"message":{"content":"I cannot assist with that request."}}]}}}`,
		},
	}

	p := newTestPipeline(tasks, blogs, provider)
	require.NoError(t, p.Poll(context.Background()))

	assert.Equal(t, domain.TaskDone, tasks.tasks["t1"].Status)
	assert.Empty(t, tasks.inserted)
	assert.True(t, blogs.refused["blog-1"])
}

func TestPollMissingResultLineMarksAnalyzedWithoutInsights(t *testing.T) {
	t.Parallel()

	tasks := newFakeTaskRepo()
	tasks.tasks["t1"] = domain.Task{ID: "t1", BlogID: strPtr("blog-1"), Status: domain.TaskRunning}
	tasks.runningByBatch["batch-1"] = []domain.Task{tasks.tasks["t1"]}
	tasks.distinctBatch = []string{"batch-1"}

	blogs := newFakeBlogRepo()
	provider := &fakeProvider{status: domain.BatchCompleted, results: nil}

	p := newTestPipeline(tasks, blogs, provider)
	require.NoError(t, p.Poll(context.Background()))

	assert.True(t, blogs.markedNoInsights["blog-1"])
	assert.Equal(t, domain.TaskDone, tasks.tasks["t1"].Status)
}

func TestPollFailedBatchRetriesTask(t *testing.T) {
	t.Parallel()

	tasks := newFakeTaskRepo()
	tasks.tasks["t1"] = domain.Task{ID: "t1", BlogID: strPtr("blog-1"), Status: domain.TaskRunning, Attempts: 0, MaxAttempts: 3}
	tasks.runningByBatch["batch-1"] = []domain.Task{tasks.tasks["t1"]}
	tasks.distinctBatch = []string{"batch-1"}

	blogs := newFakeBlogRepo()
	provider := &fakeProvider{status: domain.BatchFailed}

	p := newTestPipeline(tasks, blogs, provider)
	require.NoError(t, p.Poll(context.Background()))

	assert.Equal(t, domain.TaskPending, tasks.tasks["t1"].Status)
}

func TestMaybeSubmitNoPendingTasksIsNoop(t *testing.T) {
	t.Parallel()

	tasks := newFakeTaskRepo()
	blogs := newFakeBlogRepo()
	provider := &fakeProvider{}
	p := newTestPipeline(tasks, blogs, provider)

	require.NoError(t, p.MaybeSubmit(context.Background()))
	assert.Empty(t, tasks.inserted)
}

func strPtr(s string) *string { return &s }
