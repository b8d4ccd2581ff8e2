// Package instagrapi implements domain.Scraper against a self-hosted
// instagrapi (https://github.com/subzeroid/instagrapi) sidecar, the
// self-operated fallback scraping backend.
package instagrapi

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

// Client is a domain.Scraper backed by a self-hosted instagrapi sidecar.
type Client struct {
	cfg config.Config
	hc  *http.Client
}

// New constructs a Client against the configured sidecar base URL.
func New(cfg config.Config) *Client {
	return &Client{
		cfg: cfg,
		hc: &http.Client{
			Timeout:   cfg.ScraperTimeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
	}
}

type infoResponse struct {
	PK           string `json:"pk"`
	Username     string `json:"username"`
	FollowerCount int64 `json:"follower_count"`
	FollowingCount int64 `json:"following_count"`
	MediaCount   int64  `json:"media_count"`
	Biography    string `json:"biography"`
	IsVerified   bool   `json:"is_verified"`
	IsBusiness   bool   `json:"is_business_account"`
	IsPrivate    bool   `json:"is_private"`
	ProfilePicURL string `json:"profile_pic_url"`
}

type mediaResponse struct {
	ID           string `json:"id"`
	Caption      string `json:"caption_text"`
	MediaType    string `json:"media_type"` // "photo", "video", "album"
	LikeCount    int64  `json:"like_count"`
	CommentCount int64  `json:"comment_count"`
	ViewCount    int64  `json:"view_count"`
	ThumbnailURL string `json:"thumbnail_url"`
	TakenAt      string `json:"taken_at"` // RFC3339
}

type highlightResponse struct {
	ID       string `json:"id"`
	Title    string `json:"title"`
	CoverURL string `json:"cover_url"`
}

// ScrapeProfile fetches profile, media, and highlights via the sidecar's
// /user/info, /user/medias, /user/highlights endpoints.
func (c *Client) ScrapeProfile(ctx domain.Context, username string) (domain.ScrapedProfile, error) {
	tracer := otel.Tracer("scraper.instagrapi")
	ctx, span := tracer.Start(ctx, "instagrapi.ScrapeProfile")
	defer span.End()

	start := time.Now()
	var info infoResponse
	err := c.doWithRetry(ctx, func(callCtx context.Context) error {
		body, status, err := c.get(callCtx, "/user/info", map[string]string{"username": username})
		if err != nil {
			return err
		}
		if status != http.StatusOK {
			return scraper.ClassifyStatus(status, string(body))
		}
		if err := json.Unmarshal(body, &info); err != nil {
			return backoff.Permanent(fmt.Errorf("instagrapi: decode info response: %w", err))
		}
		return nil
	})
	if err != nil {
		observability.RecordScrapeRequest("instagrapi", "profile", "error", time.Since(start))
		return domain.ScrapedProfile{}, err
	}
	if info.IsPrivate {
		observability.RecordScrapeRequest("instagrapi", "profile", "private", time.Since(start))
		return domain.ScrapedProfile{}, fmt.Errorf("instagrapi: %s: %w", username, domain.ErrPrivateAccount)
	}

	posts, err := c.fetchMedia(ctx, info.PK)
	if err != nil {
		observability.RecordScrapeRequest("instagrapi", "media", "error", time.Since(start))
		return domain.ScrapedProfile{}, err
	}
	highlights, err := c.fetchHighlights(ctx, info.PK)
	if err != nil {
		observability.RecordScrapeRequest("instagrapi", "highlights", "error", time.Since(start))
		return domain.ScrapedProfile{}, err
	}

	observability.RecordScrapeRequest("instagrapi", "profile", "ok", time.Since(start))
	return domain.ScrapedProfile{
		Username:   info.Username,
		PlatformID: info.PK,
		Followers:  info.FollowerCount,
		Following:  info.FollowingCount,
		MediaCount: info.MediaCount,
		Bio:        info.Biography,
		Verified:   info.IsVerified,
		IsBusiness: info.IsBusiness,
		IsPrivate:  info.IsPrivate,
		AvatarURL:  info.ProfilePicURL,
		Posts:      posts,
		Highlights: highlights,
	}, nil
}

// Discover finds candidate accounts via the sidecar's hashtag-medias
// endpoint, applying the minFollowers filter client-side since instagrapi
// does not support server-side follower filtering.
func (c *Client) Discover(ctx domain.Context, hashtag string, minFollowers int64) ([]domain.CandidateUser, error) {
	tracer := otel.Tracer("scraper.instagrapi")
	ctx, span := tracer.Start(ctx, "instagrapi.Discover")
	defer span.End()

	start := time.Now()
	var infos []infoResponse
	err := c.doWithRetry(ctx, func(callCtx context.Context) error {
		body, status, err := c.get(callCtx, "/hashtag/medias", map[string]string{"hashtag": hashtag})
		if err != nil {
			return err
		}
		if status != http.StatusOK {
			return scraper.ClassifyStatus(status, string(body))
		}
		var payload struct {
			Users []infoResponse `json:"users"`
		}
		if err := json.Unmarshal(body, &payload); err != nil {
			return backoff.Permanent(fmt.Errorf("instagrapi: decode discover response: %w", err))
		}
		infos = payload.Users
		return nil
	})
	if err != nil {
		observability.RecordScrapeRequest("instagrapi", "discover", "error", time.Since(start))
		return nil, err
	}

	candidates := make([]domain.CandidateUser, 0, len(infos))
	for _, u := range infos {
		if u.FollowerCount < minFollowers {
			continue
		}
		candidates = append(candidates, domain.CandidateUser{
			Username:   u.Username,
			PlatformID: u.PK,
			Followers:  u.FollowerCount,
			MediaCount: u.MediaCount,
			IsPrivate:  u.IsPrivate,
		})
	}
	observability.RecordScrapeRequest("instagrapi", "discover", "ok", time.Since(start))
	return candidates, nil
}

func (c *Client) fetchMedia(ctx domain.Context, pk string) ([]domain.Post, error) {
	var items []mediaResponse
	err := c.doWithRetry(ctx, func(callCtx context.Context) error {
		body, status, err := c.get(callCtx, "/user/medias", map[string]string{"user_id": pk, "amount": "50"})
		if err != nil {
			return err
		}
		if status != http.StatusOK {
			return scraper.ClassifyStatus(status, string(body))
		}
		if err := json.Unmarshal(body, &items); err != nil {
			return backoff.Permanent(fmt.Errorf("instagrapi: decode media response: %w", err))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	posts := make([]domain.Post, 0, len(items))
	for _, m := range items {
		takenAt, _ := time.Parse(time.RFC3339, m.TakenAt)
		posts = append(posts, domain.Post{
			PlatformID:   m.ID,
			Caption:      m.Caption,
			MediaType:    mapMediaType(m.MediaType),
			LikeCount:    m.LikeCount,
			CommentCount: m.CommentCount,
			PlayCount:    m.ViewCount,
			ThumbnailURL: m.ThumbnailURL,
			TakenAt:      takenAt,
		})
	}
	return posts, nil
}

func (c *Client) fetchHighlights(ctx domain.Context, pk string) ([]domain.Highlight, error) {
	var items []highlightResponse
	err := c.doWithRetry(ctx, func(callCtx context.Context) error {
		body, status, err := c.get(callCtx, "/user/highlights", map[string]string{"user_id": pk})
		if err != nil {
			return err
		}
		if status != http.StatusOK {
			return scraper.ClassifyStatus(status, string(body))
		}
		if err := json.Unmarshal(body, &items); err != nil {
			return backoff.Permanent(fmt.Errorf("instagrapi: decode highlights response: %w", err))
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

func (c *Client) get(ctx context.Context, path string, params map[string]string) ([]byte, int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.InstagrapiURL+path, nil)
	if err != nil {
		return nil, 0, backoff.Permanent(fmt.Errorf("instagrapi: build request: %w", err))
	}
	q := req.URL.Query()
	for k, v := range params {
		q.Set(k, v)
	}
	req.URL.RawQuery = q.Encode()
	req.Header.Set("Accept", "application/json")

	resp, err := c.hc.Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("instagrapi: request failed: %w: %w", err, domain.ErrTransient)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, 0, fmt.Errorf("instagrapi: read response: %w: %w", err, domain.ErrTransient)
	}
	return body, resp.StatusCode, nil
}

// doWithRetry mirrors the hikerapi backend's retry shape: same backoff
// config source, same Permanent-error escape hatch for terminal failures.
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

func mapMediaType(t string) domain.MediaType {
	switch t {
	case "video":
		return domain.MediaVideo
	case "album":
		return domain.MediaCarousel
	default:
		return domain.MediaImage
	}
}
