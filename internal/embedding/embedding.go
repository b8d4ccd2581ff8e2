// Package embedding implements the Embedding Producer (spec §4.7): builds
// normalized text for a blog's profile + AI insights, computes a vector via
// domain.EmbeddingProvider, and writes it both to the blog row and the
// semantic-search sink.
package embedding

import (
	"fmt"
	"strings"

	"go.opentelemetry.io/otel"

	"github.com/aperta-labs/bloghound/internal/domain"
	"github.com/aperta-labs/bloghound/internal/observability"
)

// Producer implements batch.EmbeddingGenerator and the scheduler's
// retry_missing_embeddings job.
type Producer struct {
	Blogs    domain.BlogRepository
	Provider domain.EmbeddingProvider
	Index    domain.VectorIndex
}

// New constructs a Producer.
func New(blogs domain.BlogRepository, provider domain.EmbeddingProvider, index domain.VectorIndex) *Producer {
	return &Producer{Blogs: blogs, Provider: provider, Index: index}
}

// Generate computes and stores the embedding for one blog, assumed to
// already carry ai_insights.
func (p *Producer) Generate(ctx domain.Context, blogID string) error {
	tracer := otel.Tracer("embedding")
	ctx, span := tracer.Start(ctx, "embedding.Generate")
	defer span.End()

	blog, err := p.Blogs.Get(ctx, blogID)
	if err != nil {
		return fmt.Errorf("op=embedding.generate.blog: %w", err)
	}

	text := BuildText(blog)
	if text == "" {
		return nil
	}

	vec, err := p.Provider.Embed(ctx, text)
	if err != nil {
		return fmt.Errorf("op=embedding.generate.embed: %w", err)
	}

	if err := p.Blogs.SetEmbedding(ctx, blogID, vec); err != nil {
		return fmt.Errorf("op=embedding.generate.set: %w", err)
	}

	if p.Index != nil {
		payload := map[string]any{
			"blog_id":  blogID,
			"username": blog.Username,
		}
		if blog.AIInsights != nil {
			payload["short_label"] = blog.AIInsights.ShortLabel
			payload["tags"] = blog.AIInsights.Tags
		}
		if err := p.Index.Upsert(ctx, blogID, vec, payload); err != nil {
			return fmt.Errorf("op=embedding.generate.index: %w", err)
		}
	}

	observability.RecordEmbeddingGenerated()
	return nil
}

// BackfillMissing generates embeddings for up to limit blogs with insights
// but no embedding yet, for the retry_missing_embeddings scheduler job.
func (p *Producer) BackfillMissing(ctx domain.Context, limit int) (int, error) {
	blogs, err := p.Blogs.MissingEmbeddings(ctx, limit)
	if err != nil {
		return 0, fmt.Errorf("op=embedding.backfill_missing.list: %w", err)
	}
	var generated int
	for _, b := range blogs {
		if err := p.Generate(ctx, b.ID); err != nil {
			continue
		}
		generated++
	}
	return generated, nil
}

// BuildText renders the normalized profile + insights text embedded for
// semantic search (spec §4.7): short_summary, categories, profile facts,
// tags, and the nested insight fields most useful for similarity.
// short_label is not included.
func BuildText(blog domain.Blog) string {
	if blog.AIInsights == nil {
		return ""
	}
	in := blog.AIInsights

	var parts []string
	if in.ShortSummary != "" {
		parts = append(parts, in.ShortSummary)
	}

	if cats := append(append([]string{}, in.Content.PrimaryCategories...), in.Content.SecondaryTopics...); len(cats) > 0 {
		parts = append(parts, strings.Join(cats, ", "))
	}

	var prof []string
	if in.BloggerProfile.Profession != "" {
		prof = append(prof, in.BloggerProfile.Profession)
	}
	if in.BloggerProfile.City != "" {
		prof = append(prof, in.BloggerProfile.City)
	}
	if in.BloggerProfile.Country != "" {
		prof = append(prof, in.BloggerProfile.Country)
	}
	prof = append(prof, in.BloggerProfile.SpeaksLanguages...)
	if in.BloggerProfile.PageType != "" {
		prof = append(prof, string(in.BloggerProfile.PageType))
	}
	if len(prof) > 0 {
		parts = append(parts, strings.Join(prof, ", "))
	}

	if len(in.Tags) > 0 {
		parts = append(parts, strings.Join(in.Tags, ", "))
	}
	if len(in.AudienceInference.AudienceInterests) > 0 {
		parts = append(parts, strings.Join(in.AudienceInference.AudienceInterests, ", "))
	}
	if len(in.MarketingValue.BestFitIndustries) > 0 {
		parts = append(parts, strings.Join(in.MarketingValue.BestFitIndustries, ", "))
	}
	if len(in.MarketingValue.NotSuitableFor) > 0 {
		parts = append(parts, strings.Join(in.MarketingValue.NotSuitableFor, ", "))
	}
	if len(in.Commercial.DetectedBrandCategories) > 0 {
		parts = append(parts, strings.Join(in.Commercial.DetectedBrandCategories, ", "))
	}

	if characteristics := buildCharacteristics(in); characteristics != "" {
		parts = append(parts, characteristics)
	}

	if len(parts) == 0 {
		return "blogger"
	}
	return strings.Join(parts, ". ")
}

// engagementQualityRU maps the engagement_quality enum to its Russian label,
// matching the human-readable vocabulary AI insights are reviewed in.
var engagementQualityRU = map[domain.EngagementQuality]string{
	domain.EngagementOrganic:    "органическая",
	domain.EngagementMixed:      "смешанная",
	domain.EngagementSuspicious: "подозрительная",
}

// buildCharacteristics renders the trailing characteristics line combining
// engagement quality, brand safety, lifestyle level, content quality, and
// collaboration risk.
func buildCharacteristics(in *domain.AIInsights) string {
	var fields []string
	if eq, ok := engagementQualityRU[in.AudienceInference.EngagementQuality]; ok {
		fields = append(fields, "engagement: "+eq)
	}
	if in.MarketingValue.BrandSafetyScore > 0 {
		fields = append(fields, fmt.Sprintf("brand safety: %d/5", in.MarketingValue.BrandSafetyScore))
	}
	if in.Lifestyle.LifestyleLevel != "" {
		fields = append(fields, "lifestyle: "+in.Lifestyle.LifestyleLevel)
	}
	if in.Content.ContentQuality != "" {
		fields = append(fields, "content quality: "+in.Content.ContentQuality)
	}
	if in.MarketingValue.CollaborationRisk != "" {
		fields = append(fields, "collaboration risk: "+in.MarketingValue.CollaborationRisk)
	}
	if len(fields) == 0 {
		return ""
	}
	return strings.Join(fields, ", ")
}
