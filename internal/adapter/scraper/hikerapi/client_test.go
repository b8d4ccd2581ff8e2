package hikerapi_test

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aperta-labs/bloghound/internal/adapter/scraper/hikerapi"
	"github.com/aperta-labs/bloghound/internal/config"
	"github.com/aperta-labs/bloghound/internal/domain"
)

func testConfig(baseURL string) config.Config {
	return config.Config{
		AppEnv:          "test",
		HikerAPIKey:     "test-key",
		HikerAPIBaseURL: baseURL,
	}
}

func TestScrapeProfileReturnsNormalizedProfile(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/v1/user/by/username":
			_, _ = w.Write([]byte(`{"pk":"123","username":"alice","follower_count":5000,"media_count":10,"is_private":false,"profile_pic_url_hd":"https://cdn/avatar.jpg"}`))
		case "/v1/user/medias":
			_, _ = w.Write([]byte(`{"items":[{"id":"m1","media_type":2,"like_count":10,"comment_count":2,"play_count":500,"taken_at":1700000000}]}`))
		case "/v1/user/highlights":
			_, _ = w.Write([]byte(`[{"id":"h1","title":"Travel","cover_media":"https://cdn/cover.jpg"}]`))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	client := hikerapi.New(testConfig(srv.URL))
	profile, err := client.ScrapeProfile(t.Context(), "alice")
	require.NoError(t, err)

	assert.Equal(t, "alice", profile.Username)
	assert.Equal(t, int64(5000), profile.Followers)
	require.Len(t, profile.Posts, 1)
	assert.Equal(t, domain.MediaVideo, profile.Posts[0].MediaType)
	require.Len(t, profile.Highlights, 1)
	assert.Equal(t, "Travel", profile.Highlights[0].Title)
}

func TestScrapeProfilePrivateAccountReturnsErrPrivateAccount(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"pk":"123","username":"alice","is_private":true}`))
	}))
	defer srv.Close()

	client := hikerapi.New(testConfig(srv.URL))
	_, err := client.ScrapeProfile(t.Context(), "alice")
	assert.ErrorIs(t, err, domain.ErrPrivateAccount)
}

func TestScrapeProfileNotFoundIsTerminal(t *testing.T) {
	t.Parallel()

	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	client := hikerapi.New(testConfig(srv.URL))
	_, err := client.ScrapeProfile(t.Context(), "ghost")
	assert.ErrorIs(t, err, domain.ErrUserNotFound)
	assert.Equal(t, 1, calls)
}

func TestScrapeProfileServerErrorRetriesAndExhausts(t *testing.T) {
	t.Parallel()

	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	client := hikerapi.New(testConfig(srv.URL))
	_, err := client.ScrapeProfile(t.Context(), "alice")
	assert.ErrorIs(t, err, domain.ErrTransient)
	assert.Greater(t, calls, 1)
}

func TestDiscoverFiltersByMinFollowers(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"users":[{"pk":"1","username":"big","follower_count":50000},{"pk":"2","username":"small","follower_count":100}]}`))
	}))
	defer srv.Close()

	client := hikerapi.New(testConfig(srv.URL))
	candidates, err := client.Discover(t.Context(), "travel", 10000)
	require.NoError(t, err)
	require.Len(t, candidates, 1)
	assert.Equal(t, "big", candidates[0].Username)
}
