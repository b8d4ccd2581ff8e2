package handler_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aperta-labs/bloghound/internal/config"
	"github.com/aperta-labs/bloghound/internal/domain"
	"github.com/aperta-labs/bloghound/internal/handler"
	"github.com/aperta-labs/bloghound/internal/queue"
)

type fakeTaskRepo struct {
	tasks    map[string]domain.Task
	existing map[string]bool
	inserted []domain.Task
	nextID   int
}

func newFakeTaskRepo() *fakeTaskRepo {
	return &fakeTaskRepo{tasks: map[string]domain.Task{}, existing: map[string]bool{}}
}

func (f *fakeTaskRepo) Insert(ctx domain.Context, t domain.Task) (string, error) {
	f.nextID++
	id := string(rune('a' + f.nextID))
	t.ID = id
	f.tasks[id] = t
	f.inserted = append(f.inserted, t)
	return id, nil
}
func (f *fakeTaskRepo) ExistsNonTerminal(ctx domain.Context, blogID *string, taskType domain.TaskType) (bool, error) {
	id := ""
	if blogID != nil {
		id = *blogID
	}
	return f.existing[id+"|"+string(taskType)], nil
}
func (f *fakeTaskRepo) ClaimBatch(ctx domain.Context, limit int) ([]domain.Task, error) { return nil, nil }
func (f *fakeTaskRepo) UpdateStatus(ctx domain.Context, id string, status domain.TaskStatus, errMsg string, nextRetryAt *time.Time) error {
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
	return nil, nil
}
func (f *fakeTaskRepo) DistinctRunningBatchIDs(ctx domain.Context) ([]string, error) {
	return nil, nil
}

type fakeBlogRepo struct {
	blogs     map[string]domain.Blog
	blogIDs   map[string]string
	fresh     map[string]bool
	upserted  map[string]domain.ScrapedProfile
	statuses  map[string]domain.ScrapeStatus
}

func newFakeBlogRepo() *fakeBlogRepo {
	return &fakeBlogRepo{
		blogs:    map[string]domain.Blog{},
		blogIDs:  map[string]string{},
		fresh:    map[string]bool{},
		upserted: map[string]domain.ScrapedProfile{},
		statuses: map[string]domain.ScrapeStatus{},
	}
}

func (f *fakeBlogRepo) GetByUsername(ctx domain.Context, platform, username string) (domain.Blog, error) {
	return domain.Blog{}, domain.ErrNotFound
}
func (f *fakeBlogRepo) Get(ctx domain.Context, id string) (domain.Blog, error) {
	b, ok := f.blogs[id]
	if !ok {
		return domain.Blog{}, domain.ErrNotFound
	}
	return b, nil
}
func (f *fakeBlogRepo) EnsureByUsername(ctx domain.Context, platform, username string) (string, bool, error) {
	if id, ok := f.blogIDs[username]; ok {
		return id, false, nil
	}
	id := "blog-" + username
	f.blogIDs[username] = id
	return id, true, nil
}
func (f *fakeBlogRepo) UpdateScrapeStatus(ctx domain.Context, id string, status domain.ScrapeStatus) error {
	f.statuses[id] = status
	return nil
}
func (f *fakeBlogRepo) UpsertScraped(ctx domain.Context, id string, profile domain.ScrapedProfile, metrics domain.DerivedMetrics) error {
	f.upserted[id] = profile
	return nil
}
func (f *fakeBlogRepo) UpdateAIResult(ctx domain.Context, id string, insights domain.AIInsights, confidence int, status domain.ScrapeStatus) error {
	return nil
}
func (f *fakeBlogRepo) StoreRefusal(ctx domain.Context, id string, reason string, status domain.ScrapeStatus) error {
	return nil
}
func (f *fakeBlogRepo) MarkAnalyzedWithoutInsights(ctx domain.Context, id string) error { return nil }
func (f *fakeBlogRepo) IsAIRefused(ctx domain.Context, id string) (bool, error)         { return false, nil }
func (f *fakeBlogRepo) SetEmbedding(ctx domain.Context, id string, vec []float32) error { return nil }
func (f *fakeBlogRepo) StaleActive(ctx domain.Context, cutoff time.Time, limit int) ([]domain.Blog, error) {
	return nil, nil
}
func (f *fakeBlogRepo) RecentlyScraped(ctx domain.Context, id string, within time.Duration) (bool, error) {
	return f.fresh[id], nil
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

type fakeScraper struct {
	profile    domain.ScrapedProfile
	profileErr error
	candidates []domain.CandidateUser
}

func (s *fakeScraper) ScrapeProfile(ctx domain.Context, username string) (domain.ScrapedProfile, error) {
	return s.profile, s.profileErr
}
func (s *fakeScraper) Discover(ctx domain.Context, hashtag string, minFollowers int64) ([]domain.CandidateUser, error) {
	return s.candidates, nil
}

type fakeStorage struct{}

func (f *fakeStorage) Put(ctx domain.Context, key string, data []byte, contentType string) (string, error) {
	return "https://cdn.example/" + key, nil
}
func (f *fakeStorage) Delete(ctx domain.Context, key string) error          { return nil }
func (f *fakeStorage) List(ctx domain.Context, prefix string) ([]string, error) { return nil, nil }

func newDeps(tasks *fakeTaskRepo, blogs *fakeBlogRepo, scraper *fakeScraper) *handler.Deps {
	q := queue.New(tasks, queue.NewBackoffSchedule(time.Second, time.Minute, 2))
	return &handler.Deps{
		Blogs:   blogs,
		Queue:   q,
		Scraper: scraper,
		Storage: &fakeStorage{},
		Cfg:     config.Config{MaxThumbnails: 6, DiscoverMinMedia: 5, DiscoverFreshness: 24 * time.Hour},
	}
}

func TestFullScrapeChainsAIAnalysisOnSuccess(t *testing.T) {
	t.Parallel()

	tasks := newFakeTaskRepo()
	blogs := newFakeBlogRepo()
	blogs.blogs["blog-1"] = domain.Blog{ID: "blog-1", Username: "alice"}
	scraper := &fakeScraper{profile: domain.ScrapedProfile{Followers: 1000}}
	deps := newDeps(tasks, blogs, scraper)

	blogID := "blog-1"
	err := deps.FullScrape(t.Context(), domain.Task{ID: "t1", BlogID: &blogID})
	require.NoError(t, err)

	assert.Equal(t, domain.ScrapeAnalyzing, blogs.statuses["blog-1"])
	require.Len(t, tasks.inserted, 1)
	assert.Equal(t, domain.TaskAIAnalysis, tasks.inserted[0].Type)
}

func TestFullScrapeMarksPrivateAndTerminatesWithoutError(t *testing.T) {
	t.Parallel()

	tasks := newFakeTaskRepo()
	blogs := newFakeBlogRepo()
	blogs.blogs["blog-1"] = domain.Blog{ID: "blog-1", Username: "alice"}
	scraper := &fakeScraper{profileErr: domain.ErrPrivateAccount}
	deps := newDeps(tasks, blogs, scraper)

	blogID := "blog-1"
	err := deps.FullScrape(t.Context(), domain.Task{ID: "t1", BlogID: &blogID})
	require.NoError(t, err)
	assert.Equal(t, domain.ScrapePrivate, blogs.statuses["blog-1"])
	assert.Empty(t, tasks.inserted)
}

func TestFullScrapeMarksDeletedOnUserNotFound(t *testing.T) {
	t.Parallel()

	tasks := newFakeTaskRepo()
	blogs := newFakeBlogRepo()
	blogs.blogs["blog-1"] = domain.Blog{ID: "blog-1", Username: "alice"}
	scraper := &fakeScraper{profileErr: domain.ErrUserNotFound}
	deps := newDeps(tasks, blogs, scraper)

	blogID := "blog-1"
	err := deps.FullScrape(t.Context(), domain.Task{ID: "t1", BlogID: &blogID})
	require.NoError(t, err)
	assert.Equal(t, domain.ScrapeDeleted, blogs.statuses["blog-1"])
}

func TestFullScrapePropagatesTransientScraperError(t *testing.T) {
	t.Parallel()

	tasks := newFakeTaskRepo()
	blogs := newFakeBlogRepo()
	blogs.blogs["blog-1"] = domain.Blog{ID: "blog-1", Username: "alice"}
	scraper := &fakeScraper{profileErr: domain.ErrTransient}
	deps := newDeps(tasks, blogs, scraper)

	blogID := "blog-1"
	err := deps.FullScrape(t.Context(), domain.Task{ID: "t1", BlogID: &blogID})
	assert.ErrorIs(t, err, domain.ErrTransient)
}

func TestDiscoverChainsScrapeForEligibleFreshCandidates(t *testing.T) {
	t.Parallel()

	tasks := newFakeTaskRepo()
	blogs := newFakeBlogRepo()
	scraper := &fakeScraper{candidates: []domain.CandidateUser{
		{Username: "eligible", Followers: 10000, MediaCount: 20, IsPrivate: false},
		{Username: "private", Followers: 10000, MediaCount: 20, IsPrivate: true},
		{Username: "toofew", Followers: 10000, MediaCount: 1, IsPrivate: false},
	}}
	deps := newDeps(tasks, blogs, scraper)

	task := domain.Task{ID: "t1", Payload: map[string]any{domain.PayloadHashtag: "#travel", domain.PayloadMinFollowers: 1000}}
	require.NoError(t, deps.Discover(t.Context(), task))

	require.Len(t, tasks.inserted, 1)
	assert.Equal(t, domain.TaskFullScrape, tasks.inserted[0].Type)
	assert.Contains(t, blogs.blogIDs, "eligible")
	assert.NotContains(t, blogs.blogIDs, "private")
	assert.NotContains(t, blogs.blogIDs, "toofew")
}

func TestDiscoverSkipsRecentlyScrapedCandidate(t *testing.T) {
	t.Parallel()

	tasks := newFakeTaskRepo()
	blogs := newFakeBlogRepo()
	blogs.blogIDs["fresh"] = "blog-fresh"
	blogs.fresh["blog-fresh"] = true
	scraper := &fakeScraper{candidates: []domain.CandidateUser{
		{Username: "fresh", Followers: 10000, MediaCount: 20},
	}}
	deps := newDeps(tasks, blogs, scraper)

	task := domain.Task{ID: "t1", Payload: map[string]any{domain.PayloadHashtag: "#travel", domain.PayloadMinFollowers: 1000}}
	require.NoError(t, deps.Discover(t.Context(), task))
	assert.Empty(t, tasks.inserted)
}

func TestDiscoverRejectsMissingHashtag(t *testing.T) {
	t.Parallel()

	tasks := newFakeTaskRepo()
	blogs := newFakeBlogRepo()
	deps := newDeps(tasks, blogs, &fakeScraper{})

	err := deps.Discover(t.Context(), domain.Task{ID: "t1"})
	assert.ErrorIs(t, err, domain.ErrInvalidArgument)
}

type fakeSubmitter struct {
	called bool
	err    error
}

func (s *fakeSubmitter) MaybeSubmit(ctx domain.Context) error {
	s.called = true
	return s.err
}

func TestAIAnalysisAlwaysLeavesTaskRunning(t *testing.T) {
	t.Parallel()

	tasks := newFakeTaskRepo()
	blogs := newFakeBlogRepo()
	deps := newDeps(tasks, blogs, &fakeScraper{})
	submitter := &fakeSubmitter{}
	deps.Batch = submitter

	err := deps.AIAnalysis(t.Context(), domain.Task{ID: "t1"})
	assert.ErrorIs(t, err, domain.ErrLeaveRunning)
	assert.True(t, submitter.called)
}

func TestAIAnalysisPropagatesMaybeSubmitErrorButStillLeavesRunning(t *testing.T) {
	t.Parallel()

	tasks := newFakeTaskRepo()
	blogs := newFakeBlogRepo()
	deps := newDeps(tasks, blogs, &fakeScraper{})
	deps.Batch = &fakeSubmitter{err: domain.ErrTransient}

	err := deps.AIAnalysis(t.Context(), domain.Task{ID: "t1"})
	assert.ErrorIs(t, err, domain.ErrLeaveRunning)
	assert.ErrorIs(t, err, domain.ErrTransient)
}
