// Package scraper provides the shared HTTP-error-to-domain-error mapping
// used by both scraping backends (hikerapi, instagrapi), and an
// AccountPool decorator that tracks backend credit health for the health
// endpoint without either backend needing to know about it.
package scraper

import (
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/aperta-labs/bloghound/internal/domain"
)

// ClassifyStatus maps a scraper backend's HTTP response status to a domain
// sentinel error, so the worker's retry classification (internal/worker)
// can decide retry-vs-terminal without backend-specific knowledge.
func ClassifyStatus(statusCode int, body string) error {
	switch {
	case statusCode == http.StatusOK:
		return nil
	case statusCode == http.StatusNotFound:
		return fmt.Errorf("scraper: account not found: %w", domain.ErrUserNotFound)
	case statusCode == http.StatusForbidden:
		return fmt.Errorf("scraper: account is private or blocked: %w", domain.ErrPrivateAccount)
	case statusCode == http.StatusTooManyRequests:
		return fmt.Errorf("scraper: rate limited: %w", domain.ErrRateLimited)
	case statusCode == http.StatusPaymentRequired:
		return fmt.Errorf("scraper: insufficient balance: %w", domain.ErrInsufficientBalance)
	case statusCode >= 500:
		return fmt.Errorf("scraper: upstream error %d: %w", statusCode, domain.ErrTransient)
	case statusCode >= 400:
		return fmt.Errorf("scraper: bad request %d: %s: %w", statusCode, body, domain.ErrInvalidArgument)
	default:
		return fmt.Errorf("scraper: unexpected status %d", statusCode)
	}
}

// AccountPool wraps a domain.Scraper, tracking whether its single backing
// credential is currently usable so the health endpoint can report it. A
// credential marked unavailable after InsufficientBalance recovers after
// cooldown, since the upstream balance may have been topped up.
type AccountPool struct {
	inner    domain.Scraper
	cooldown time.Duration

	mu            sync.Mutex
	unavailableAt time.Time
}

// NewAccountPool wraps inner with credit-health tracking.
func NewAccountPool(inner domain.Scraper, cooldown time.Duration) *AccountPool {
	if cooldown <= 0 {
		cooldown = 15 * time.Minute
	}
	return &AccountPool{inner: inner, cooldown: cooldown}
}

// ScrapeProfile delegates to inner and records the outcome.
func (p *AccountPool) ScrapeProfile(ctx domain.Context, username string) (domain.ScrapedProfile, error) {
	profile, err := p.inner.ScrapeProfile(ctx, username)
	p.record(err)
	return profile, err
}

// Discover delegates to inner and records the outcome.
func (p *AccountPool) Discover(ctx domain.Context, hashtag string, minFollowers int64) ([]domain.CandidateUser, error) {
	candidates, err := p.inner.Discover(ctx, hashtag, minFollowers)
	p.record(err)
	return candidates, err
}

func (p *AccountPool) record(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if errors.Is(err, domain.ErrInsufficientBalance) {
		p.unavailableAt = time.Now()
		return
	}
	if err == nil {
		p.unavailableAt = time.Time{}
	}
}

// Stats reports the single-credential pool's total/available counts for
// the GET /api/health response.
func (p *AccountPool) Stats() (total, available int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.unavailableAt.IsZero() || time.Since(p.unavailableAt) > p.cooldown {
		return 1, 1
	}
	return 1, 0
}
