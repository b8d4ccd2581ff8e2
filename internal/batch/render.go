package batch

import (
	"fmt"
	"strings"

	"github.com/aperta-labs/bloghound/internal/domain"
)

const systemPrompt = `You are an expert social-media analyst. Given a scraped Instagram blogger
profile, return a single JSON object matching the requested schema exactly.
Do not include any fields outside the schema. If you cannot analyze the
profile (policy, safety, or capability reasons), respond with a plain-text
refusal explaining why instead of JSON.`

// renderProfilePrompt builds the normalized profile text + data-quality
// hint + taxonomy vocabulary the AI provider analyzes, per spec §4.4.
func renderProfilePrompt(blog domain.Blog, posts []domain.Post, highlights []domain.Highlight, categories []domain.Category, tags []domain.Tag, textOnly bool) string {
	var b strings.Builder

	fmt.Fprintf(&b, "Username: %s\n", blog.Username)
	fmt.Fprintf(&b, "Followers: %d, Following: %d, Media count: %d\n", blog.Followers, blog.Following, blog.MediaCount)
	if blog.Bio != "" {
		fmt.Fprintf(&b, "Bio: %s\n", blog.Bio)
	}
	fmt.Fprintf(&b, "Verified: %t, Business account: %t\n", blog.Verified, blog.IsBusiness)
	fmt.Fprintf(&b, "Engagement rate: %.2f%%, reels engagement rate: %.2f%%, trend: %s\n", blog.ER, blog.ERReels, blog.ERTrend)
	fmt.Fprintf(&b, "Posts per week: %.1f, average reel views: %.0f\n", blog.PostsPerWeek, blog.AvgReelsViews)

	hint := dataQualityHint(posts, highlights, blog.Bio)
	fmt.Fprintf(&b, "\nData quality: %d posts sampled, %d with non-trivial captions, bio present: %t, %d highlights, %d posts with comments.\n",
		hint.postCount, hint.postsWithText, hint.bioPresent, hint.highlightCount, hint.postsWithComments)

	if len(posts) > 0 {
		b.WriteString("\nRecent post captions:\n")
		for i, p := range posts {
			if i >= 20 {
				break
			}
			caption := strings.TrimSpace(p.Caption)
			if caption == "" {
				continue
			}
			fmt.Fprintf(&b, "- %s\n", truncate(caption, 280))
		}
	}

	b.WriteString("\nCategory vocabulary (code: name): ")
	for i, c := range categories {
		if i > 0 {
			b.WriteString(", ")
		}
		if c.Code != "" {
			fmt.Fprintf(&b, "%s: %s", c.Code, c.Name)
		} else {
			b.WriteString(c.Name)
		}
	}
	b.WriteString("\n\nTag vocabulary: ")
	for i, t := range tags {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(t.Name)
	}
	b.WriteString("\n")

	if textOnly {
		b.WriteString("\nNote: no images are attached for this request; analyze from text alone.\n")
	}

	return b.String()
}

type dataQuality struct {
	postCount         int
	postsWithText     int
	postsWithComments int
	bioPresent        bool
	highlightCount    int
}

func dataQualityHint(posts []domain.Post, highlights []domain.Highlight, bio string) dataQuality {
	h := dataQuality{postCount: len(posts), highlightCount: len(highlights), bioPresent: strings.TrimSpace(bio) != ""}
	for _, p := range posts {
		if len(strings.TrimSpace(p.Caption)) > 10 {
			h.postsWithText++
		}
		if p.CommentCount > 0 {
			h.postsWithComments++
		}
	}
	return h
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

// imageURLsFor collects up to k image URLs (avatar first, then thumbnails)
// for a non-text_only request.
func imageURLsFor(blog domain.Blog, posts []domain.Post, k int) []string {
	var urls []string
	if blog.AvatarURL != "" {
		urls = append(urls, blog.AvatarURL)
	}
	for _, p := range posts {
		if len(urls) >= k {
			break
		}
		if p.ThumbnailURL != "" {
			urls = append(urls, p.ThumbnailURL)
		}
	}
	return urls
}
