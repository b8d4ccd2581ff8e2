package postgres

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/aperta-labs/bloghound/internal/domain"
)

// BlogRepo persists blogs and their child posts/highlights.
type BlogRepo struct{ Pool PgxPool }

// NewBlogRepo constructs a BlogRepo with the given pool.
func NewBlogRepo(p PgxPool) *BlogRepo { return &BlogRepo{Pool: p} }

const blogColumns = `id, platform, username, platform_id, followers, following, media_count, bio, avatar_url,
	verified, is_business, er, er_reels, er_trend, posts_per_week, avg_reels_views, scrape_status,
	ai_insights, ai_confidence, ai_analyzed_at, scraped_at, embedding, created_at, updated_at`

func scanBlog(row rowScanner) (domain.Blog, error) {
	var b domain.Blog
	var insightsRaw []byte
	var embedding []float32
	err := row.Scan(&b.ID, &b.Platform, &b.Username, &b.PlatformID, &b.Followers, &b.Following,
		&b.MediaCount, &b.Bio, &b.AvatarURL, &b.Verified, &b.IsBusiness, &b.ER, &b.ERReels, &b.ERTrend,
		&b.PostsPerWeek, &b.AvgReelsViews, &b.ScrapeStatus, &insightsRaw, &b.AIConfidence,
		&b.AIAnalyzedAt, &b.ScrapedAt, &embedding, &b.CreatedAt, &b.UpdatedAt)
	if err != nil {
		return domain.Blog{}, err
	}
	if len(insightsRaw) > 0 {
		var insights domain.AIInsights
		if err := json.Unmarshal(insightsRaw, &insights); err != nil {
			return domain.Blog{}, fmt.Errorf("unmarshal ai_insights: %w", err)
		}
		b.AIInsights = &insights
	}
	if len(embedding) > 0 {
		b.Embedding = embedding
	}
	return b, nil
}

// GetByUsername loads a blog by (platform, username); ErrNotFound if absent.
func (r *BlogRepo) GetByUsername(ctx domain.Context, platform, username string) (domain.Blog, error) {
	tracer := otel.Tracer("repo.blogs")
	ctx, span := tracer.Start(ctx, "blogs.GetByUsername")
	defer span.End()

	q := `SELECT ` + blogColumns + ` FROM blogs WHERE platform=$1 AND username=$2`
	b, err := scanBlog(r.Pool.QueryRow(ctx, q, platform, username))
	if err != nil {
		if err == pgx.ErrNoRows {
			return domain.Blog{}, fmt.Errorf("op=blog.get_by_username: %w", domain.ErrNotFound)
		}
		return domain.Blog{}, fmt.Errorf("op=blog.get_by_username: %w", err)
	}
	return b, nil
}

// Get loads a blog by id.
func (r *BlogRepo) Get(ctx domain.Context, id string) (domain.Blog, error) {
	tracer := otel.Tracer("repo.blogs")
	ctx, span := tracer.Start(ctx, "blogs.Get")
	defer span.End()

	q := `SELECT ` + blogColumns + ` FROM blogs WHERE id=$1`
	b, err := scanBlog(r.Pool.QueryRow(ctx, q, id))
	if err != nil {
		if err == pgx.ErrNoRows {
			return domain.Blog{}, fmt.Errorf("op=blog.get: %w", domain.ErrNotFound)
		}
		return domain.Blog{}, fmt.Errorf("op=blog.get: %w", err)
	}
	return b, nil
}

// EnsureByUsername creates the blog row on first reference and returns its
// id; created reports whether this call inserted the row.
func (r *BlogRepo) EnsureByUsername(ctx domain.Context, platform, username string) (string, bool, error) {
	tracer := otel.Tracer("repo.blogs")
	ctx, span := tracer.Start(ctx, "blogs.EnsureByUsername")
	defer span.End()

	id := uuid.New().String()
	q := `INSERT INTO blogs (id, platform, username, scrape_status, created_at, updated_at)
	      VALUES ($1,$2,$3,'pending',now(),now())
	      ON CONFLICT (platform, username) DO NOTHING
	      RETURNING id`
	var returnedID string
	err := r.Pool.QueryRow(ctx, q, id, platform, username).Scan(&returnedID)
	if err == nil {
		return returnedID, true, nil
	}
	if err != pgx.ErrNoRows {
		return "", false, fmt.Errorf("op=blog.ensure_by_username: %w", err)
	}

	existing, err := r.GetByUsername(ctx, platform, username)
	if err != nil {
		return "", false, fmt.Errorf("op=blog.ensure_by_username.lookup: %w", err)
	}
	return existing.ID, false, nil
}

// UpdateScrapeStatus sets scrape_status for a blog.
func (r *BlogRepo) UpdateScrapeStatus(ctx domain.Context, id string, status domain.ScrapeStatus) error {
	tracer := otel.Tracer("repo.blogs")
	ctx, span := tracer.Start(ctx, "blogs.UpdateScrapeStatus")
	defer span.End()
	span.SetAttributes(attribute.String("blog.id", id), attribute.String("blog.status", string(status)))

	tag, err := r.Pool.Exec(ctx, `UPDATE blogs SET scrape_status=$2, updated_at=now() WHERE id=$1`, id, status)
	if err != nil {
		return fmt.Errorf("op=blog.update_scrape_status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("op=blog.update_scrape_status: %w", domain.ErrNotFound)
	}
	return nil
}

// UpsertScraped writes derived metrics, profile fields, posts, and
// highlights from a successful scrape within a single transaction.
func (r *BlogRepo) UpsertScraped(ctx domain.Context, id string, profile domain.ScrapedProfile, metrics domain.DerivedMetrics) error {
	tracer := otel.Tracer("repo.blogs")
	ctx, span := tracer.Start(ctx, "blogs.UpsertScraped")
	defer span.End()

	tx, err := r.Pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return fmt.Errorf("op=blog.upsert_scraped.begin_tx: %w", err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback(ctx)
		}
	}()

	status := domain.ScrapeActive
	if profile.IsPrivate {
		status = domain.ScrapePrivate
	}

	q := `UPDATE blogs SET platform_id=$2, followers=$3, following=$4, media_count=$5, bio=$6,
	      avatar_url=$7, verified=$8, is_business=$9, er=$10, er_reels=$11, er_trend=$12,
	      posts_per_week=$13, avg_reels_views=$14, scrape_status=$15, scraped_at=now(), updated_at=now()
	      WHERE id=$1`
	_, err = tx.Exec(ctx, q, id, profile.PlatformID, profile.Followers, profile.Following,
		profile.MediaCount, profile.Bio, profile.AvatarURL, profile.Verified, profile.IsBusiness,
		metrics.ER, metrics.ERReels, metrics.ERTrend, metrics.PostsPerWeek,
		metrics.AvgReelsViews, status)
	if err != nil {
		return fmt.Errorf("op=blog.upsert_scraped.update: %w", err)
	}

	for _, p := range profile.Posts {
		pq := `INSERT INTO posts (id, blog_id, platform_id, caption, media_type, like_count,
		       comment_count, play_count, thumbnail_url, taken_at)
		       VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
		       ON CONFLICT (blog_id, platform_id) DO UPDATE SET
		         caption=EXCLUDED.caption, like_count=EXCLUDED.like_count,
		         comment_count=EXCLUDED.comment_count, play_count=EXCLUDED.play_count,
		         thumbnail_url=EXCLUDED.thumbnail_url`
		postID := p.ID
		if postID == "" {
			postID = uuid.New().String()
		}
		if _, err := tx.Exec(ctx, pq, postID, id, p.PlatformID, p.Caption, p.MediaType,
			p.LikeCount, p.CommentCount, p.PlayCount, p.ThumbnailURL, p.TakenAt); err != nil {
			return fmt.Errorf("op=blog.upsert_scraped.post: %w", err)
		}
	}

	for _, h := range profile.Highlights {
		hq := `INSERT INTO highlights (id, blog_id, platform_id, title, cover_url)
		       VALUES ($1,$2,$3,$4,$5)
		       ON CONFLICT (blog_id, platform_id) DO UPDATE SET
		         title=EXCLUDED.title, cover_url=EXCLUDED.cover_url`
		hID := h.ID
		if hID == "" {
			hID = uuid.New().String()
		}
		if _, err := tx.Exec(ctx, hq, hID, id, h.PlatformID, h.Title, h.CoverURL); err != nil {
			return fmt.Errorf("op=blog.upsert_scraped.highlight: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("op=blog.upsert_scraped.commit: %w", err)
	}
	committed = true
	return nil
}

// UpdateAIResult writes insights/confidence/analyzed_at/status after a
// successful AI analysis.
func (r *BlogRepo) UpdateAIResult(ctx domain.Context, id string, insights domain.AIInsights, confidence int, status domain.ScrapeStatus) error {
	tracer := otel.Tracer("repo.blogs")
	ctx, span := tracer.Start(ctx, "blogs.UpdateAIResult")
	defer span.End()

	raw, err := json.Marshal(insights)
	if err != nil {
		return fmt.Errorf("op=blog.update_ai_result.marshal: %w", err)
	}
	q := `UPDATE blogs SET ai_insights=$2, ai_confidence=$3, ai_analyzed_at=now(),
	      scrape_status=$4, updated_at=now() WHERE id=$1`
	tag, err := r.Pool.Exec(ctx, q, id, raw, confidence, status)
	if err != nil {
		return fmt.Errorf("op=blog.update_ai_result: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("op=blog.update_ai_result: %w", domain.ErrNotFound)
	}
	return nil
}

// StoreRefusal records a refusal reason onto ai_insights and updates
// scrape_status.
func (r *BlogRepo) StoreRefusal(ctx domain.Context, id string, reason string, status domain.ScrapeStatus) error {
	tracer := otel.Tracer("repo.blogs")
	ctx, span := tracer.Start(ctx, "blogs.StoreRefusal")
	defer span.End()

	raw, err := json.Marshal(domain.AIInsights{RefusalReason: reason})
	if err != nil {
		return fmt.Errorf("op=blog.store_refusal.marshal: %w", err)
	}
	q := `UPDATE blogs SET ai_insights=$2, scrape_status=$3, updated_at=now() WHERE id=$1`
	tag, err := r.Pool.Exec(ctx, q, id, raw, status)
	if err != nil {
		return fmt.Errorf("op=blog.store_refusal: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("op=blog.store_refusal: %w", domain.ErrNotFound)
	}
	return nil
}

// MarkAnalyzedWithoutInsights sets scrape_status = ai_analyzed with no
// insights, used on provider/parse errors that should not be retried forever.
func (r *BlogRepo) MarkAnalyzedWithoutInsights(ctx domain.Context, id string) error {
	tracer := otel.Tracer("repo.blogs")
	ctx, span := tracer.Start(ctx, "blogs.MarkAnalyzedWithoutInsights")
	defer span.End()

	tag, err := r.Pool.Exec(ctx, `UPDATE blogs SET scrape_status=$2, updated_at=now() WHERE id=$1`,
		id, domain.ScrapeAIAnalyzed)
	if err != nil {
		return fmt.Errorf("op=blog.mark_analyzed_without_insights: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("op=blog.mark_analyzed_without_insights: %w", domain.ErrNotFound)
	}
	return nil
}

// IsAIRefused reports whether the blog's current status is ai_refused.
func (r *BlogRepo) IsAIRefused(ctx domain.Context, id string) (bool, error) {
	tracer := otel.Tracer("repo.blogs")
	ctx, span := tracer.Start(ctx, "blogs.IsAIRefused")
	defer span.End()

	var status domain.ScrapeStatus
	if err := r.Pool.QueryRow(ctx, `SELECT scrape_status FROM blogs WHERE id=$1`, id).Scan(&status); err != nil {
		if err == pgx.ErrNoRows {
			return false, fmt.Errorf("op=blog.is_ai_refused: %w", domain.ErrNotFound)
		}
		return false, fmt.Errorf("op=blog.is_ai_refused: %w", err)
	}
	return status == domain.ScrapeAIRefused, nil
}

// SetEmbedding stores the computed embedding vector.
func (r *BlogRepo) SetEmbedding(ctx domain.Context, id string, vec []float32) error {
	tracer := otel.Tracer("repo.blogs")
	ctx, span := tracer.Start(ctx, "blogs.SetEmbedding")
	defer span.End()

	tag, err := r.Pool.Exec(ctx, `UPDATE blogs SET embedding=$2, updated_at=now() WHERE id=$1`, id, vec)
	if err != nil {
		return fmt.Errorf("op=blog.set_embedding: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("op=blog.set_embedding: %w", domain.ErrNotFound)
	}
	return nil
}

// StaleActive returns active blogs last scraped before cutoff, ordered by
// followers desc, for the schedule_updates job.
func (r *BlogRepo) StaleActive(ctx domain.Context, cutoff time.Time, limit int) ([]domain.Blog, error) {
	tracer := otel.Tracer("repo.blogs")
	ctx, span := tracer.Start(ctx, "blogs.StaleActive")
	defer span.End()

	q := `SELECT ` + blogColumns + ` FROM blogs
	      WHERE scrape_status = 'active' AND (scraped_at IS NULL OR scraped_at < $1)
	      ORDER BY followers DESC LIMIT $2`
	rows, err := r.Pool.Query(ctx, q, cutoff, limit)
	if err != nil {
		return nil, fmt.Errorf("op=blog.stale_active: %w", err)
	}
	defer rows.Close()

	var out []domain.Blog
	for rows.Next() {
		b, err := scanBlog(rows)
		if err != nil {
			return nil, fmt.Errorf("op=blog.stale_active_scan: %w", err)
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

// RecentlyScraped reports whether a blog was scraped within the freshness
// window.
func (r *BlogRepo) RecentlyScraped(ctx domain.Context, id string, within time.Duration) (bool, error) {
	tracer := otel.Tracer("repo.blogs")
	ctx, span := tracer.Start(ctx, "blogs.RecentlyScraped")
	defer span.End()

	var scrapedAt *time.Time
	if err := r.Pool.QueryRow(ctx, `SELECT scraped_at FROM blogs WHERE id=$1`, id).Scan(&scrapedAt); err != nil {
		if err == pgx.ErrNoRows {
			return false, fmt.Errorf("op=blog.recently_scraped: %w", domain.ErrNotFound)
		}
		return false, fmt.Errorf("op=blog.recently_scraped: %w", err)
	}
	if scrapedAt == nil {
		return false, nil
	}
	return time.Since(*scrapedAt) < within, nil
}

// MissingEmbeddings returns up to limit blogs with non-null ai_insights and
// a null embedding.
func (r *BlogRepo) MissingEmbeddings(ctx domain.Context, limit int) ([]domain.Blog, error) {
	tracer := otel.Tracer("repo.blogs")
	ctx, span := tracer.Start(ctx, "blogs.MissingEmbeddings")
	defer span.End()

	q := `SELECT ` + blogColumns + ` FROM blogs
	      WHERE ai_insights IS NOT NULL AND embedding IS NULL
	      ORDER BY ai_analyzed_at ASC LIMIT $1`
	rows, err := r.Pool.Query(ctx, q, limit)
	if err != nil {
		return nil, fmt.Errorf("op=blog.missing_embeddings: %w", err)
	}
	defer rows.Close()

	var out []domain.Blog
	for rows.Next() {
		b, err := scanBlog(rows)
		if err != nil {
			return nil, fmt.Errorf("op=blog.missing_embeddings_scan: %w", err)
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

// DeletedBlogIDs returns ids of blogs marked deleted, used by the cleanup
// job to find image objects whose owning blog no longer exists.
func (r *BlogRepo) DeletedBlogIDs(ctx domain.Context) ([]string, error) {
	tracer := otel.Tracer("repo.blogs")
	ctx, span := tracer.Start(ctx, "blogs.DeletedBlogIDs")
	defer span.End()

	rows, err := r.Pool.Query(ctx, `SELECT id FROM blogs WHERE scrape_status=$1`, domain.ScrapeDeleted)
	if err != nil {
		return nil, fmt.Errorf("op=blog.deleted_blog_ids: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("op=blog.deleted_blog_ids_scan: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// GetPosts returns a blog's stored posts, newest first.
func (r *BlogRepo) GetPosts(ctx domain.Context, blogID string) ([]domain.Post, error) {
	tracer := otel.Tracer("repo.blogs")
	ctx, span := tracer.Start(ctx, "blogs.GetPosts")
	defer span.End()

	q := `SELECT id, blog_id, platform_id, caption, media_type, like_count, comment_count,
	      play_count, thumbnail_url, taken_at FROM posts WHERE blog_id=$1 ORDER BY taken_at DESC`
	rows, err := r.Pool.Query(ctx, q, blogID)
	if err != nil {
		return nil, fmt.Errorf("op=blog.get_posts: %w", err)
	}
	defer rows.Close()

	var out []domain.Post
	for rows.Next() {
		var p domain.Post
		var takenAt *time.Time
		if err := rows.Scan(&p.ID, &p.BlogID, &p.PlatformID, &p.Caption, &p.MediaType,
			&p.LikeCount, &p.CommentCount, &p.PlayCount, &p.ThumbnailURL, &takenAt); err != nil {
			return nil, fmt.Errorf("op=blog.get_posts_scan: %w", err)
		}
		if takenAt != nil {
			p.TakenAt = *takenAt
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// GetHighlights returns a blog's stored highlights.
func (r *BlogRepo) GetHighlights(ctx domain.Context, blogID string) ([]domain.Highlight, error) {
	tracer := otel.Tracer("repo.blogs")
	ctx, span := tracer.Start(ctx, "blogs.GetHighlights")
	defer span.End()

	q := `SELECT id, blog_id, platform_id, title, cover_url FROM highlights WHERE blog_id=$1`
	rows, err := r.Pool.Query(ctx, q, blogID)
	if err != nil {
		return nil, fmt.Errorf("op=blog.get_highlights: %w", err)
	}
	defer rows.Close()

	var out []domain.Highlight
	for rows.Next() {
		var h domain.Highlight
		if err := rows.Scan(&h.ID, &h.BlogID, &h.PlatformID, &h.Title, &h.CoverURL); err != nil {
			return nil, fmt.Errorf("op=blog.get_highlights_scan: %w", err)
		}
		out = append(out, h)
	}
	return out, rows.Err()
}
