package handler

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/aperta-labs/bloghound/internal/domain"
)

func postAt(daysAgo int, likes, comments, plays int64, mediaType domain.MediaType) domain.Post {
	return domain.Post{
		MediaType:    mediaType,
		LikeCount:    likes,
		CommentCount: comments,
		PlayCount:    plays,
		TakenAt:      time.Now().AddDate(0, 0, -daysAgo),
	}
}

func TestComputeDerivedMetricsEmptyPostsReturnsStable(t *testing.T) {
	t.Parallel()

	m := computeDerivedMetrics(1000, nil)
	assert.Equal(t, domain.ERStable, m.ERTrend)
	assert.Zero(t, m.ER)
}

func TestComputeDerivedMetricsZeroFollowersReturnsStable(t *testing.T) {
	t.Parallel()

	posts := []domain.Post{postAt(1, 10, 2, 0, domain.MediaImage)}
	m := computeDerivedMetrics(0, posts)
	assert.Equal(t, domain.ERStable, m.ERTrend)
}

func TestComputeDerivedMetricsComputesMedianEngagementRate(t *testing.T) {
	t.Parallel()

	posts := []domain.Post{
		postAt(3, 100, 0, 0, domain.MediaImage),
		postAt(2, 200, 0, 0, domain.MediaImage),
		postAt(1, 300, 0, 0, domain.MediaImage),
	}
	m := computeDerivedMetrics(1000, posts)
	assert.InDelta(t, 20.0, m.ER, 0.001)
}

func TestComputeDerivedMetricsReelOnlyRateExcludesImages(t *testing.T) {
	t.Parallel()

	posts := []domain.Post{
		postAt(2, 1000, 0, 0, domain.MediaImage),
		postAt(1, 50, 0, 500, domain.MediaVideo),
	}
	m := computeDerivedMetrics(1000, posts)
	assert.InDelta(t, 5.0, m.ERReels, 0.001)
}

func TestComputeDerivedMetricsDetectsGrowingTrend(t *testing.T) {
	t.Parallel()

	posts := []domain.Post{
		postAt(8, 10, 0, 0, domain.MediaImage),
		postAt(7, 10, 0, 0, domain.MediaImage),
		postAt(2, 100, 0, 0, domain.MediaImage),
		postAt(1, 100, 0, 0, domain.MediaImage),
	}
	m := computeDerivedMetrics(1000, posts)
	assert.Equal(t, domain.ERGrowing, m.ERTrend)
}

func TestComputeDerivedMetricsDetectsDecliningTrend(t *testing.T) {
	t.Parallel()

	posts := []domain.Post{
		postAt(8, 100, 0, 0, domain.MediaImage),
		postAt(7, 100, 0, 0, domain.MediaImage),
		postAt(2, 10, 0, 0, domain.MediaImage),
		postAt(1, 10, 0, 0, domain.MediaImage),
	}
	m := computeDerivedMetrics(1000, posts)
	assert.Equal(t, domain.ERDeclining, m.ERTrend)
}

func TestComputeDerivedMetricsFewerThanFourPostsIsStable(t *testing.T) {
	t.Parallel()

	posts := []domain.Post{
		postAt(2, 10, 0, 0, domain.MediaImage),
		postAt(1, 1000, 0, 0, domain.MediaImage),
	}
	m := computeDerivedMetrics(1000, posts)
	assert.Equal(t, domain.ERStable, m.ERTrend)
}

func TestComputeDerivedMetricsMeanReelViewsIgnoresZeroPlayCount(t *testing.T) {
	t.Parallel()

	posts := []domain.Post{
		postAt(2, 0, 0, 0, domain.MediaVideo),
		postAt(1, 0, 0, 400, domain.MediaVideo),
	}
	m := computeDerivedMetrics(1000, posts)
	assert.InDelta(t, 400, m.AvgReelsViews, 0.001)
}

func TestComputeDerivedMetricsPostsPerWeekUsesSpan(t *testing.T) {
	t.Parallel()

	posts := []domain.Post{
		postAt(14, 1, 0, 0, domain.MediaImage),
		postAt(7, 1, 0, 0, domain.MediaImage),
		postAt(0, 1, 0, 0, domain.MediaImage),
	}
	m := computeDerivedMetrics(1000, posts)
	assert.InDelta(t, 1.5, m.PostsPerWeek, 0.1)
}
