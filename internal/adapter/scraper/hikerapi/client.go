// Package hikerapi implements domain.Scraper against the HikerAPI REST API
// (https://hikerapi.com), a paid third-party Instagram data provider.
package hikerapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	backoff "github.com/cenkalti/backoff/v4"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel"

	"github.com/aperta-labs/bloghound/internal/adapter/scraper"
	"github.com/aperta-labs/bloghound/internal/config"
	"github.com/aperta-labs/bloghound/internal/domain"
	"github.com/aperta-labs/bloghound/internal/observability"
)

// Client is a domain.Scraper backed by HikerAPI.
type Client struct {
	cfg config.Config
	hc  *http.Client
}

// New constructs a Client. The underlying HTTP client is wrapped with
// otelhttp so every call is a traced span.
func New(cfg config.Config) *Client {
	return &Client{
		cfg: cfg,
		hc: &http.Client{
			Timeout:   cfg.ScraperTimeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
	}
}

type userProfileResponse struct {
	Pk          string `json:"pk"`
	Username    string `json:"username"`
	FollowerCount int64 `json:"follower_count"`
	FollowingCount int64 `json:"following_count"`
	MediaCount  int64  `json:"media_count"`
	Biography   string `json:"biography"`
	IsVerified  bool   `json:"is_verified"`
	IsBusiness  bool   `json:"is_business"`
	IsPrivate   bool   `json:"is_private"`
	ProfilePicURL string `json:"profile_pic_url_hd"`
}

type mediaItem struct {
	ID           string `json:"id"`
	Caption      struct {
		Text string `json:"text"`
	} `json:"caption"`
	MediaType    int   `json:"media_type"` // 1=image, 2=video, 8=carousel
	LikeCount    int64 `json:"like_count"`
	CommentCount int64 `json:"comment_count"`
	PlayCount    int64 `json:"play_count"`
	ThumbnailURL string `json:"thumbnail_url"`
	TakenAt      int64  `json:"taken_at"` // unix seconds
}

type highlightItem struct {
	ID       string `json:"id"`
	Title    string `json:"title"`
	CoverURL string `json:"cover_media"`
}

// ScrapeProfile fetches the profile, recent media, and highlights for
// username and returns the normalized domain representation.
func (c *Client) ScrapeProfile(ctx domain.Context, username string) (domain.ScrapedProfile, error) {
	tracer := otel.Tracer("scraper.hikerapi")
	ctx, span := tracer.Start(ctx, "hikerapi.ScrapeProfile")
	defer span.End()

	start := time.Now()
	profile, err := c.fetchProfile(ctx, username)
	if err != nil {
		observability.RecordScrapeRequest("hikerapi", "profile", "error", time.Since(start))
		return domain.ScrapedProfile{}, err
	}

	if profile.IsPrivate {
		observability.RecordScrapeRequest("hikerapi", "profile", "private", time.Since(start))
		return domain.ScrapedProfile{}, fmt.Errorf("hikerapi: %s: %w", username, domain.ErrPrivateAccount)
	}

	posts, err := c.fetchMedia(ctx, profile.Pk)
	if err != nil {
		observability.RecordScrapeRequest("hikerapi", "media", "error", time.Since(start))
		return domain.ScrapedProfile{}, err
	}

	highlights, err := c.fetchHighlights(ctx, profile.Pk)
	if err != nil {
		observability.RecordScrapeRequest("hikerapi", "highlights", "error", time.Since(start))
		return domain.ScrapedProfile{}, err
	}

	observability.RecordScrapeRequest("hikerapi", "profile", "ok", time.Since(start))
	return domain.ScrapedProfile{
		Username:   profile.Username,
		PlatformID: profile.Pk,
		Followers:  profile.FollowerCount,
		Following:  profile.FollowingCount,
		MediaCount: profile.MediaCount,
		Bio:        profile.Biography,
		Verified:   profile.IsVerified,
		IsBusiness: profile.IsBusiness,
		IsPrivate:  profile.IsPrivate,
		AvatarURL:  profile.ProfilePicURL,
		Posts:      posts,
		Highlights: highlights,
	}, nil
}

// Discover finds candidate accounts tagged with hashtag that meet the
// minimum follower threshold.
func (c *Client) Discover(ctx domain.Context, hashtag string, minFollowers int64) ([]domain.CandidateUser, error) {
	tracer := otel.Tracer("scraper.hikerapi")
	ctx, span := tracer.Start(ctx, "hikerapi.Discover")
	defer span.End()

	start := time.Now()
	var out []userProfileResponse
	err := c.doWithRetry(ctx, func(callCtx context.Context) error {
		body, status, err := c.get(callCtx, "/v2/hashtag/medias/recent", map[string]string{"name": hashtag})
		if err != nil {
			return err
		}
		if status != http.StatusOK {
			return scraper.ClassifyStatus(status, string(body))
		}
		var payload struct {
			Users []userProfileResponse `json:"users"`
		}
		if err := json.Unmarshal(body, &payload); err != nil {
			return backoff.Permanent(fmt.Errorf("hikerapi: decode discover response: %w", err))
		}
		out = payload.Users
		return nil
	})
	if err != nil {
		observability.RecordScrapeRequest("hikerapi", "discover", "error", time.Since(start))
		return nil, err
	}

	candidates := make([]domain.CandidateUser, 0, len(out))
	for _, u := range out {
		if u.FollowerCount < minFollowers {
			continue
		}
		candidates = append(candidates, domain.CandidateUser{
			Username:   u.Username,
			PlatformID: u.Pk,
			Followers:  u.FollowerCount,
			MediaCount: u.MediaCount,
			IsPrivate:  u.IsPrivate,
		})
	}
	observability.RecordScrapeRequest("hikerapi", "discover", "ok", time.Since(start))
	return candidates, nil
}

func (c *Client) fetchProfile(ctx domain.Context, username string) (userProfileResponse, error) {
	var profile userProfileResponse
	err := c.doWithRetry(ctx, func(callCtx context.Context) error {
		body, status, err := c.get(callCtx, "/v1/user/by/username", map[string]string{"username": username})
		if err != nil {
			return err
		}
		if status != http.StatusOK {
			return scraper.ClassifyStatus(status, string(body))
		}
		if err := json.Unmarshal(body, &profile); err != nil {
			return backoff.Permanent(fmt.Errorf("hikerapi: decode profile response: %w", err))
		}
		return nil
	})
	return profile, err
}

func (c *Client) fetchMedia(ctx domain.Context, pk string) ([]domain.Post, error) {
	var items []mediaItem
	err := c.doWithRetry(ctx, func(callCtx context.Context) error {
		body, status, err := c.get(callCtx, "/v1/user/medias", map[string]string{"user_id": pk, "count": "50"})
		if err != nil {
			return err
		}
		if status != http.StatusOK {
			return scraper.ClassifyStatus(status, string(body))
		}
		var payload struct {
			Items []mediaItem `json:"items"`
		}
		if err := json.Unmarshal(body, &payload); err != nil {
			return backoff.Permanent(fmt.Errorf("hikerapi: decode media response: %w", err))
		}
		items = payload.Items
		return nil
	})
	if err != nil {
		return nil, err
	}

	posts := make([]domain.Post, 0, len(items))
	for _, m := range items {
		posts = append(posts, domain.Post{
			PlatformID:   m.ID,
			Caption:      m.Caption.Text,
			MediaType:    mapMediaType(m.MediaType),
			LikeCount:    m.LikeCount,
			CommentCount: m.CommentCount,
			PlayCount:    m.PlayCount,
			ThumbnailURL: m.ThumbnailURL,
			TakenAt:      time.Unix(m.TakenAt, 0).UTC(),
		})
	}
	return posts, nil
}

func (c *Client) fetchHighlights(ctx domain.Context, pk string) ([]domain.Highlight, error) {
	var items []highlightItem
	err := c.doWithRetry(ctx, func(callCtx context.Context) error {
		body, status, err := c.get(callCtx, "/v1/user/highlights", map[string]string{"user_id": pk})
		if err != nil {
			return err
		}
		if status != http.StatusOK {
			return scraper.ClassifyStatus(status, string(body))
		}
		if err := json.Unmarshal(body, &items); err != nil {
			return backoff.Permanent(fmt.Errorf("hikerapi: decode highlights response: %w", err))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	highlights := make([]domain.Highlight, 0, len(items))
	for _, h := range items {
		highlights = append(highlights, domain.Highlight{
			PlatformID: h.ID,
			Title:      h.Title,
			CoverURL:   h.CoverURL,
		})
	}
	return highlights, nil
}

// get issues a GET against the HikerAPI base URL with the given query params
// and returns the raw body and status code. It does not retry; callers wrap
// it in doWithRetry.
func (c *Client) get(ctx context.Context, path string, params map[string]string) ([]byte, int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.HikerAPIBaseURL+path, nil)
	if err != nil {
		return nil, 0, backoff.Permanent(fmt.Errorf("hikerapi: build request: %w", err))
	}
	q := req.URL.Query()
	for k, v := range params {
		q.Set(k, v)
	}
	req.URL.RawQuery = q.Encode()
	req.Header.Set("x-access-key", c.cfg.HikerAPIKey)
	req.Header.Set("Accept", "application/json")

	resp, err := c.hc.Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("hikerapi: request failed: %w: %w", err, domain.ErrTransient)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, 0, fmt.Errorf("hikerapi: read response: %w: %w", err, domain.ErrTransient)
	}
	return body, resp.StatusCode, nil
}

// doWithRetry wraps op in the same exponential-backoff-with-Permanent-escape
// shape used for AI provider calls: retryable errors (5xx, rate limits,
// network failures) are retried until the backoff budget is exhausted;
// everything else short-circuits via backoff.Permanent.
func (c *Client) doWithRetry(ctx domain.Context, op func(context.Context) error) error {
	expo := backoff.NewExponentialBackOff()
	maxElapsed, initialInterval, maxInterval, multiplier := c.cfg.GetAIBackoffConfig()
	expo.InitialInterval = initialInterval
	expo.MaxInterval = maxInterval
	expo.Multiplier = multiplier
	expo.MaxElapsedTime = maxElapsed

	bo := backoff.WithContext(expo, ctx)
	wrapped := func() error {
		err := op(ctx)
		if err == nil {
			return nil
		}
		if isTerminal(err) {
			return backoff.Permanent(err)
		}
		return err
	}
	return backoff.Retry(wrapped, bo)
}

func isTerminal(err error) bool {
	var perm *backoff.PermanentError
	if errors.As(err, &perm) {
		return true
	}
	switch {
	case errors.Is(err, domain.ErrNotFound), errors.Is(err, domain.ErrUserNotFound),
		errors.Is(err, domain.ErrPrivateAccount), errors.Is(err, domain.ErrInvalidArgument),
		errors.Is(err, domain.ErrInsufficientBalance):
		return true
	default:
		return false
	}
}

func mapMediaType(code int) domain.MediaType {
	switch code {
	case 2:
		return domain.MediaVideo
	case 8:
		return domain.MediaCarousel
	default:
		return domain.MediaImage
	}
}
