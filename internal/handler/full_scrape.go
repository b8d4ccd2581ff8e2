package handler

import (
	"errors"
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel"

	"github.com/aperta-labs/bloghound/internal/domain"
)

// FullScrape scrapes one blog's profile, computes derived engagement
// metrics, persists posts/highlights, replaces ephemeral CDN URLs with
// durable object-storage ones, and chains an ai_analysis task on success
// (spec §4.3).
func (d *Deps) FullScrape(ctx domain.Context, task domain.Task) error {
	tracer := otel.Tracer("handler")
	ctx, span := tracer.Start(ctx, "handler.FullScrape")
	defer span.End()

	if task.BlogID == nil {
		return fmt.Errorf("handler: full_scrape task %s has no blog_id: %w", task.ID, domain.ErrInvalidArgument)
	}
	blog, err := d.Blogs.Get(ctx, *task.BlogID)
	if err != nil {
		return fmt.Errorf("handler: full_scrape load blog: %w", err)
	}

	if err := d.Blogs.UpdateScrapeStatus(ctx, blog.ID, domain.ScrapeScraping); err != nil {
		return fmt.Errorf("handler: full_scrape set scraping: %w", err)
	}

	profile, err := d.Scraper.ScrapeProfile(ctx, blog.Username)
	if err != nil {
		return d.handleScrapeError(ctx, blog.ID, err)
	}

	return d.onScraped(ctx, blog.ID, profile)
}

// handleScrapeError applies the typed-error-to-outcome mapping from spec
// §4.3. PrivateAccount and UserNotFound are terminal and handled here by
// returning nil (the worker marks the task done without chaining); all
// other outcomes are returned so the worker's retry classification decides.
func (d *Deps) handleScrapeError(ctx domain.Context, blogID string, err error) error {
	switch {
	case errors.Is(err, domain.ErrPrivateAccount):
		if uerr := d.Blogs.UpdateScrapeStatus(ctx, blogID, domain.ScrapePrivate); uerr != nil {
			return fmt.Errorf("handler: full_scrape mark private: %w", uerr)
		}
		return nil
	case errors.Is(err, domain.ErrUserNotFound):
		if uerr := d.Blogs.UpdateScrapeStatus(ctx, blogID, domain.ScrapeDeleted); uerr != nil {
			return fmt.Errorf("handler: full_scrape mark deleted: %w", uerr)
		}
		return nil
	default:
		// InsufficientBalance (no retry), RateLimited/Transient (retry), and
		// any other scraper error (retry) all propagate as-is; the worker's
		// classifyRetry dispatch table (internal/worker) maps the sentinel.
		return fmt.Errorf("handler: full_scrape scrape profile: %w", err)
	}
}

func (d *Deps) onScraped(ctx domain.Context, blogID string, profile domain.ScrapedProfile) error {
	metrics := computeDerivedMetrics(profile.Followers, profile.Posts)

	if url, err := persistImage(ctx, d.Storage, profile.AvatarURL, blogID+"/avatar"); err != nil {
		slog.Warn("avatar persist failed, keeping ephemeral CDN URL", slog.String("blog_id", blogID), slog.Any("error", err))
	} else if url != "" {
		profile.AvatarURL = url
	}

	maxThumbs := d.Cfg.MaxThumbnails
	for i := range profile.Posts {
		if i >= maxThumbs {
			break
		}
		p := &profile.Posts[i]
		key := fmt.Sprintf("%s/posts/%s", blogID, p.PlatformID)
		url, err := persistImage(ctx, d.Storage, p.ThumbnailURL, key)
		if err != nil {
			slog.Warn("thumbnail persist failed, keeping ephemeral CDN URL", slog.String("blog_id", blogID), slog.String("post_id", p.PlatformID), slog.Any("error", err))
			continue
		}
		if url != "" {
			p.ThumbnailURL = url
		}
	}

	if err := d.Blogs.UpsertScraped(ctx, blogID, profile, metrics); err != nil {
		return fmt.Errorf("handler: full_scrape upsert: %w", err)
	}
	if err := d.Blogs.UpdateScrapeStatus(ctx, blogID, domain.ScrapeAnalyzing); err != nil {
		return fmt.Errorf("handler: full_scrape mark analyzing: %w", err)
	}

	id := blogID
	if _, err := d.Queue.CreateIfAbsent(ctx, &id, domain.TaskAIAnalysis, 3, nil); err != nil {
		return fmt.Errorf("handler: full_scrape chain ai_analysis: %w", err)
	}
	return nil
}
