package domain

import "time"

// PlatformInstagram is the only supported platform value. Blog.Platform is
// a string column (not an enum type) so a future platform needs no schema
// change, but today every row carries this value.
const PlatformInstagram = "instagram"

// ScrapeStatus captures where a blog sits in the scrape/analysis lifecycle.
type ScrapeStatus string

// Scrape status values.
const (
	ScrapePending   ScrapeStatus = "pending"
	ScrapeScraping  ScrapeStatus = "scraping"
	ScrapeAnalyzing ScrapeStatus = "analyzing"
	ScrapeActive    ScrapeStatus = "active"
	ScrapePrivate   ScrapeStatus = "private"
	ScrapeDeleted   ScrapeStatus = "deleted"
	ScrapeAIRefused ScrapeStatus = "ai_refused"
	ScrapeAIAnalyzed ScrapeStatus = "ai_analyzed"
)

// ERTrend classifies the direction of engagement-rate movement.
type ERTrend string

// ER trend values.
const (
	ERGrowing   ERTrend = "growing"
	ERStable    ERTrend = "stable"
	ERDeclining ERTrend = "declining"
)

// Blog is the enriched profile record for one Instagram account.
// Uniqueness: (Platform, Username).
type Blog struct {
	ID         string
	Platform   string
	Username   string
	PlatformID string

	Followers   int64
	Following   int64
	MediaCount  int64
	Bio         string
	Verified    bool
	IsBusiness  bool
	AvatarURL   string

	ER            float64
	ERReels       float64
	ERTrend       ERTrend
	PostsPerWeek  float64
	AvgReelsViews float64

	ScrapeStatus ScrapeStatus

	AIInsights    *AIInsights
	AIConfidence  int
	AIAnalyzedAt  *time.Time
	ScrapedAt     *time.Time

	Embedding []float32

	CreatedAt time.Time
	UpdatedAt time.Time
}

// MediaType distinguishes post/highlight media kinds.
type MediaType string

// Media type values.
const (
	MediaImage     MediaType = "image"
	MediaVideo     MediaType = "video"
	MediaCarousel  MediaType = "carousel"
)

// Post is a child record of a Blog, keyed by (BlogID, PlatformID).
type Post struct {
	ID         string
	BlogID     string
	PlatformID string
	Caption    string
	MediaType  MediaType
	LikeCount  int64
	CommentCount int64
	PlayCount  int64 // reel/video views; 0 for static media
	ThumbnailURL string
	TakenAt    time.Time
}

// Highlight is a child record of a Blog, keyed by (BlogID, PlatformID).
type Highlight struct {
	ID         string
	BlogID     string
	PlatformID string
	Title      string
	CoverURL   string
}

// ScrapedProfile is the normalized output of the Scraping Adapter.
type ScrapedProfile struct {
	Username      string
	PlatformID    string
	Followers     int64
	Following     int64
	MediaCount    int64
	Bio           string
	Verified      bool
	IsBusiness    bool
	IsPrivate     bool
	AvatarURL     string
	Posts         []Post
	Highlights    []Highlight
}

// CandidateUser is one entry from the Scraping Adapter's hashtag discovery
// endpoint, prior to the discover handler's eligibility filtering.
type CandidateUser struct {
	Username    string
	PlatformID  string
	Followers   int64
	MediaCount  int64
	IsPrivate   bool
}

// BlogRepository is the storage port for blogs and their child records.
type BlogRepository interface {
	// GetByUsername loads a blog by (platform, username); ErrNotFound if absent.
	GetByUsername(ctx Context, platform, username string) (Blog, error)
	// Get loads a blog by id.
	Get(ctx Context, id string) (Blog, error)
	// EnsureByUsername creates the blog row on first reference and returns its id.
	EnsureByUsername(ctx Context, platform, username string) (id string, created bool, err error)
	// UpdateScrapeStatus sets scrape_status for a blog.
	UpdateScrapeStatus(ctx Context, id string, status ScrapeStatus) error
	// UpsertScraped writes derived metrics, profile fields, posts and
	// highlights from a successful scrape.
	UpsertScraped(ctx Context, id string, profile ScrapedProfile, metrics DerivedMetrics) error
	// UpdateAIResult writes insights/confidence/analyzed_at/status after a
	// successful AI analysis.
	UpdateAIResult(ctx Context, id string, insights AIInsights, confidence int, status ScrapeStatus) error
	// StoreRefusal records a refusal reason onto ai_insights without a full
	// AIInsights object and updates scrape_status.
	StoreRefusal(ctx Context, id string, reason string, status ScrapeStatus) error
	// MarkAnalyzedWithoutInsights sets scrape_status = ai_analyzed with no
	// insights, used on provider/parse errors.
	MarkAnalyzedWithoutInsights(ctx Context, id string) error
	// IsAIRefused reports whether the blog's current status is ai_refused,
	// used to cap the refusal retry chain at one per blog.
	IsAIRefused(ctx Context, id string) (bool, error)
	// SetEmbedding stores the computed embedding vector.
	SetEmbedding(ctx Context, id string, vec []float32) error
	// StaleActive returns active blogs last scraped before cutoff, ordered
	// by followers desc, for the schedule_updates job.
	StaleActive(ctx Context, cutoff time.Time, limit int) ([]Blog, error)
	// RecentlyScraped reports whether a blog was scraped within the
	// freshness window (used by discover to skip re-scrape).
	RecentlyScraped(ctx Context, id string, within time.Duration) (bool, error)
	// MissingEmbeddings returns up to limit blogs with non-null ai_insights
	// and a null embedding.
	MissingEmbeddings(ctx Context, limit int) ([]Blog, error)
	// DeletedBlogIDs returns ids of blogs marked deleted, for the cleanup
	// job to find orphaned image objects.
	DeletedBlogIDs(ctx Context) ([]string, error)
	// GetPosts returns a blog's stored posts, newest first, used when
	// rendering the AI batch request and the embedding text.
	GetPosts(ctx Context, blogID string) ([]Post, error)
	// GetHighlights returns a blog's stored highlights.
	GetHighlights(ctx Context, blogID string) ([]Highlight, error)
}

// DerivedMetrics are computed by the full_scrape handler from scraped posts
// before persistence.
type DerivedMetrics struct {
	ER            float64
	ERReels       float64
	ERTrend       ERTrend
	PostsPerWeek  float64
	AvgReelsViews float64
}
