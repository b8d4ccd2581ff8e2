package app_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aperta-labs/bloghound/internal/app"
	"github.com/aperta-labs/bloghound/internal/config"
	"github.com/aperta-labs/bloghound/internal/domain"
	"github.com/aperta-labs/bloghound/internal/httpserver"
	"github.com/aperta-labs/bloghound/internal/queue"
)

type emptyTaskRepo struct{}

func (emptyTaskRepo) Insert(ctx domain.Context, t domain.Task) (string, error) { return "", nil }
func (emptyTaskRepo) ExistsNonTerminal(ctx domain.Context, blogID *string, taskType domain.TaskType) (bool, error) {
	return false, nil
}
func (emptyTaskRepo) ClaimBatch(ctx domain.Context, limit int) ([]domain.Task, error) { return nil, nil }
func (emptyTaskRepo) UpdateStatus(ctx domain.Context, id string, status domain.TaskStatus, errMsg string, nextRetryAt *time.Time) error {
	return nil
}
func (emptyTaskRepo) SetPayload(ctx domain.Context, id string, patch map[string]any) error { return nil }
func (emptyTaskRepo) Get(ctx domain.Context, id string) (domain.Task, error)               { return domain.Task{}, domain.ErrNotFound }
func (emptyTaskRepo) List(ctx domain.Context, filter domain.TaskFilter, limit, offset int) ([]domain.Task, int, error) {
	return nil, 0, nil
}
func (emptyTaskRepo) RunningOlderThan(ctx domain.Context, taskType domain.TaskType, cutoff time.Time) ([]domain.Task, error) {
	return nil, nil
}
func (emptyTaskRepo) RunningUnattachedAIAnalysis(ctx domain.Context) ([]domain.Task, error) {
	return nil, nil
}
func (emptyTaskRepo) RunningWithBatchIDs(ctx domain.Context, batchIDs []string) ([]domain.Task, error) {
	return nil, nil
}
func (emptyTaskRepo) DistinctRunningBatchIDs(ctx domain.Context) ([]string, error) { return nil, nil }

func testQueue() *queue.Queue {
	return queue.New(emptyTaskRepo{}, queue.NewBackoffSchedule(time.Second, time.Minute, 2))
}

func TestParseOriginsWildcardOnEmptyOrStar(t *testing.T) {
	t.Parallel()

	assert.Equal(t, []string{"*"}, app.ParseOrigins(""))
	assert.Equal(t, []string{"*"}, app.ParseOrigins("*"))
	assert.Equal(t, []string{"*"}, app.ParseOrigins("   "))
}

func TestParseOriginsSplitsAndTrims(t *testing.T) {
	t.Parallel()

	got := app.ParseOrigins(" https://a.example , https://b.example ")
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, got)
}

func TestParseOriginsSkipsEmptySegments(t *testing.T) {
	t.Parallel()

	got := app.ParseOrigins("https://a.example,,")
	assert.Equal(t, []string{"https://a.example"}, got)
}

type fakePinger struct{ err error }

func (f fakePinger) Ping(ctx context.Context) error { return f.err }

func TestBuildDBCheckNilPoolReturnsError(t *testing.T) {
	t.Parallel()

	check := app.BuildDBCheck(nil)
	assert.Error(t, check(t.Context()))
}

func TestBuildDBCheckDelegatesToPing(t *testing.T) {
	t.Parallel()

	check := app.BuildDBCheck(fakePinger{})
	assert.NoError(t, check(t.Context()))

	failing := app.BuildDBCheck(fakePinger{err: errors.New("down")})
	assert.Error(t, failing(t.Context()))
}

func TestBuildRouterExposesHealthWithoutAuth(t *testing.T) {
	t.Parallel()

	cfg := config.Config{RateLimitPerMin: 1000, CORSAllowOrigins: "*", ControlPlaneToken: "secret-token"}
	srv := httpserver.NewServer(cfg, testQueue(), nil, nil, app.BuildDBCheck(nil))
	router := app.BuildRouter(cfg, srv)

	req := httptest.NewRequest(http.MethodGet, "/api/health", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.NotEqual(t, http.StatusNotFound, rec.Code)
}

func TestBuildRouterRejectsUnauthenticatedTaskAccess(t *testing.T) {
	t.Parallel()

	cfg := config.Config{RateLimitPerMin: 1000, CORSAllowOrigins: "*", ControlPlaneToken: "secret-token"}
	srv := httpserver.NewServer(cfg, testQueue(), nil, nil, app.BuildDBCheck(nil))
	router := app.BuildRouter(cfg, srv)

	req := httptest.NewRequest(http.MethodGet, "/api/tasks", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestBuildRouterRejectsUnauthenticatedMetricsAccess(t *testing.T) {
	t.Parallel()

	cfg := config.Config{RateLimitPerMin: 1000, CORSAllowOrigins: "*", ControlPlaneToken: "secret-token"}
	srv := httpserver.NewServer(cfg, testQueue(), nil, nil, app.BuildDBCheck(nil))
	router := app.BuildRouter(cfg, srv)

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestBuildRouterAllowsAuthenticatedMetricsAccess(t *testing.T) {
	t.Parallel()

	cfg := config.Config{RateLimitPerMin: 1000, CORSAllowOrigins: "*", ControlPlaneToken: "secret-token"}
	srv := httpserver.NewServer(cfg, testQueue(), nil, nil, app.BuildDBCheck(nil))
	router := app.BuildRouter(cfg, srv)

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	req.Header.Set("Authorization", "Bearer secret-token")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
}
