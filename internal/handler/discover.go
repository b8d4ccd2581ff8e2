package handler

import (
	"fmt"
	"strings"

	"go.opentelemetry.io/otel"

	"github.com/aperta-labs/bloghound/internal/domain"
)

// Discover finds candidate accounts tagged with a hashtag, filters them for
// eligibility, and chains a full_scrape task for each unknown or stale one
// (spec §4.3).
func (d *Deps) Discover(ctx domain.Context, task domain.Task) error {
	tracer := otel.Tracer("handler")
	ctx, span := tracer.Start(ctx, "handler.Discover")
	defer span.End()

	hashtag := strings.TrimPrefix(task.PayloadString(domain.PayloadHashtag), "#")
	if hashtag == "" {
		return fmt.Errorf("handler: discover task %s missing hashtag: %w", task.ID, domain.ErrInvalidArgument)
	}
	minFollowers, _ := task.PayloadInt(domain.PayloadMinFollowers)

	candidates, err := d.Scraper.Discover(ctx, hashtag, int64(minFollowers))
	if err != nil {
		return fmt.Errorf("handler: discover fetch candidates: %w", err)
	}

	minMedia := d.Cfg.DiscoverMinMedia
	for _, cand := range candidates {
		if cand.IsPrivate || cand.Followers < int64(minFollowers) || cand.MediaCount < minMedia {
			continue
		}
		if err := d.maybeChainScrape(ctx, cand.Username); err != nil {
			return fmt.Errorf("handler: discover chain scrape for %s: %w", cand.Username, err)
		}
	}
	return nil
}

// maybeChainScrape ensures a blog row exists for username and, unless it was
// scraped within the freshness window, creates a full_scrape task at
// discover priority (spec §4.3: priority 5).
func (d *Deps) maybeChainScrape(ctx domain.Context, username string) error {
	blogID, _, err := d.Blogs.EnsureByUsername(ctx, domain.PlatformInstagram, username)
	if err != nil {
		return fmt.Errorf("ensure blog: %w", err)
	}

	fresh, err := d.Blogs.RecentlyScraped(ctx, blogID, d.Cfg.DiscoverFreshness)
	if err != nil {
		return fmt.Errorf("check freshness: %w", err)
	}
	if fresh {
		return nil
	}

	if _, err := d.Queue.CreateIfAbsent(ctx, &blogID, domain.TaskFullScrape, 5, nil); err != nil {
		return fmt.Errorf("create full_scrape task: %w", err)
	}
	return nil
}
