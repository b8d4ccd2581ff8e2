package handler

import (
	"sort"

	"github.com/aperta-labs/bloghound/internal/domain"
)

// computeDerivedMetrics reduces a scraped profile's posts to the engagement
// figures stored on the blog row: median engagement rate, its reel-only
// counterpart, the posting cadence, the trend between older and newer
// halves of the sample, and mean reel view count.
func computeDerivedMetrics(followers int64, posts []domain.Post) domain.DerivedMetrics {
	if len(posts) == 0 || followers <= 0 {
		return domain.DerivedMetrics{ERTrend: domain.ERStable}
	}

	sorted := make([]domain.Post, len(posts))
	copy(sorted, posts)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].TakenAt.Before(sorted[j].TakenAt) })

	allRates := engagementRates(sorted, followers, false)
	reelRates := engagementRates(sorted, followers, true)

	return domain.DerivedMetrics{
		ER:            median(allRates),
		ERReels:       median(reelRates),
		ERTrend:       trendOf(allRates),
		PostsPerWeek:  postsPerWeek(sorted),
		AvgReelsViews: meanReelViews(sorted),
	}
}

func engagementRates(posts []domain.Post, followers int64, reelsOnly bool) []float64 {
	var rates []float64
	for _, p := range posts {
		if reelsOnly && p.MediaType != domain.MediaVideo {
			continue
		}
		rate := float64(p.LikeCount+p.CommentCount) / float64(followers) * 100
		rates = append(rates, rate)
	}
	return rates
}

func median(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	sorted := make([]float64, len(xs))
	copy(sorted, xs)
	sort.Float64s(sorted)
	mid := len(sorted) / 2
	if len(sorted)%2 == 0 {
		return (sorted[mid-1] + sorted[mid]) / 2
	}
	return sorted[mid]
}

// trendOf compares the median rate of the newer half of the sample against
// the older half: growing if it rose more than 10%, declining if it fell
// more than 10%, stable otherwise.
func trendOf(rates []float64) domain.ERTrend {
	if len(rates) < 4 {
		return domain.ERStable
	}
	mid := len(rates) / 2
	older := median(rates[:mid])
	newer := median(rates[mid:])
	if older == 0 {
		return domain.ERStable
	}
	delta := (newer - older) / older
	switch {
	case delta > 0.1:
		return domain.ERGrowing
	case delta < -0.1:
		return domain.ERDeclining
	default:
		return domain.ERStable
	}
}

func postsPerWeek(sorted []domain.Post) float64 {
	if len(sorted) == 0 {
		return 0
	}
	span := sorted[len(sorted)-1].TakenAt.Sub(sorted[0].TakenAt)
	weeks := span.Hours() / (24 * 7)
	if weeks < 1 {
		weeks = 1
	}
	return float64(len(sorted)) / weeks
}

func meanReelViews(posts []domain.Post) float64 {
	var total int64
	var count int
	for _, p := range posts {
		if p.MediaType != domain.MediaVideo || p.PlayCount <= 0 {
			continue
		}
		total += p.PlayCount
		count++
	}
	if count == 0 {
		return 0
	}
	return float64(total) / float64(count)
}
