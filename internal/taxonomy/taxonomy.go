// Package taxonomy implements the Taxonomy Matcher (spec §4.6): resolving
// the free-text category/subcategory/tag strings an AI result carries onto
// the fixed category tree and tag vocabulary stored in Postgres.
package taxonomy

import (
	"log/slog"
	"strings"

	"github.com/pmezard/go-difflib/difflib"

	"github.com/aperta-labs/bloghound/internal/domain"
	"github.com/aperta-labs/bloghound/internal/observability"
)

// fuzzyCutoff is the minimum longest-common-subsequence-style ratio at
// which a fuzzy match is accepted.
const fuzzyCutoff = 0.8

// Matcher resolves AI-produced taxonomy strings against a category/tag
// index loaded from TaxonomyRepository, and implements batch.TaxonomyMatcher.
type Matcher struct {
	Repo domain.TaxonomyRepository
}

// New constructs a Matcher over repo.
func New(repo domain.TaxonomyRepository) *Matcher {
	return &Matcher{Repo: repo}
}

// index is a string-keyed lookup built fresh for each Match call so writes
// to the underlying tables are picked up without an explicit cache-bust.
type index struct {
	byKey map[string]string // normalised key -> id
	keys  []string          // original keys, for fuzzy search
}

func newIndex() *index {
	return &index{byKey: map[string]string{}}
}

func (ix *index) add(key, id string) {
	if _, exists := ix.byKey[key]; exists {
		return
	}
	ix.byKey[key] = id
	ix.keys = append(ix.keys, key)
}

// lookup resolves key against the index using the exact -> normalised ->
// fuzzy fallback chain, returning the matched id, the method used for
// metrics, and whether a match was found at all.
func (ix *index) lookup(key string) (id string, method string, ok bool) {
	if id, ok := ix.byKey[key]; ok {
		return id, "exact", true
	}

	norm := normalise(key)
	if norm != key {
		if id, ok := ix.byKey[norm]; ok {
			return id, "normalised", true
		}
	}

	if best, ratio, found := ix.closest(norm); found && ratio >= fuzzyCutoff {
		return ix.byKey[best], "fuzzy", true
	}
	return "", "", false
}

func (ix *index) closest(key string) (string, float64, bool) {
	var bestKey string
	var bestRatio float64
	for _, k := range ix.keys {
		ratio, err := difflib.NewMatcher(splitChars(k), splitChars(key)).Ratio()
		if err != nil {
			continue
		}
		if ratio > bestRatio {
			bestRatio = ratio
			bestKey = k
		}
	}
	return bestKey, bestRatio, bestKey != ""
}

// normalise lowercases, drops '&' and '-', and collapses whitespace runs.
func normalise(s string) string {
	s = strings.ToLower(s)
	s = strings.NewReplacer("&", "", "-", "").Replace(s)
	return strings.Join(strings.Fields(s), " ")
}

func splitChars(s string) []string {
	out := make([]string, 0, len(s))
	for _, r := range s {
		out = append(out, string(r))
	}
	return out
}

// Match resolves an AIInsights result's categories and tags against the
// stored taxonomy and persists the resolved joins for blogID.
func (m *Matcher) Match(ctx domain.Context, blogID string, insights domain.AIInsights) error {
	catIndex, tagIndex, err := m.buildIndices(ctx)
	if err != nil {
		return err
	}

	if err := m.matchCategories(ctx, blogID, insights, catIndex); err != nil {
		return err
	}
	return m.matchTags(ctx, blogID, insights.Tags, tagIndex)
}

func (m *Matcher) buildIndices(ctx domain.Context) (*index, *index, error) {
	cats, err := m.Repo.LoadCategoryIndex(ctx)
	if err != nil {
		return nil, nil, err
	}
	tags, err := m.Repo.LoadTagIndex(ctx)
	if err != nil {
		return nil, nil, err
	}

	catIndex := newIndex()
	for _, c := range cats {
		if c.Code != "" {
			catIndex.add(c.Code, c.ID)
		}
		if c.Name != "" {
			catIndex.add(strings.ToLower(c.Name), c.ID)
		}
	}

	tagIndex := newIndex()
	for _, t := range tags {
		tagIndex.add(strings.ToLower(t.Name), t.ID)
	}
	return catIndex, tagIndex, nil
}

func (m *Matcher) matchCategories(ctx domain.Context, blogID string, insights domain.AIInsights, catIndex *index) error {
	seen := map[string]bool{}
	var rows []domain.BlogCategory
	primarySet := false

	for _, code := range insights.Content.PrimaryCategories {
		id, method, ok := catIndex.lookup(code)
		if !ok {
			slog.Warn("taxonomy: unresolved primary category", slog.String("blog_id", blogID), slog.String("value", code))
			continue
		}
		observability.RecordTaxonomyMatch("category", method)
		if seen[id] {
			continue
		}
		seen[id] = true
		rows = append(rows, domain.BlogCategory{BlogID: blogID, CategoryID: id, IsPrimary: !primarySet})
		primarySet = true
	}

	for _, name := range insights.Content.SecondaryTopics {
		id, method, ok := catIndex.lookup(strings.ToLower(name))
		if !ok {
			slog.Warn("taxonomy: unresolved secondary topic", slog.String("blog_id", blogID), slog.String("value", name))
			continue
		}
		observability.RecordTaxonomyMatch("category", method)
		if seen[id] {
			continue
		}
		seen[id] = true
		rows = append(rows, domain.BlogCategory{BlogID: blogID, CategoryID: id, IsPrimary: false})
	}

	return m.Repo.ReplaceBlogCategories(ctx, rows)
}

func (m *Matcher) matchTags(ctx domain.Context, blogID string, tags []string, tagIndex *index) error {
	seen := map[string]bool{}
	var rows []domain.BlogTag
	for _, name := range tags {
		id, method, ok := tagIndex.lookup(strings.ToLower(name))
		if !ok {
			slog.Warn("taxonomy: unresolved tag", slog.String("blog_id", blogID), slog.String("value", name))
			continue
		}
		observability.RecordTaxonomyMatch("tag", method)
		if seen[id] {
			continue
		}
		seen[id] = true
		rows = append(rows, domain.BlogTag{BlogID: blogID, TagID: id})
	}
	return m.Repo.ReplaceBlogTags(ctx, rows)
}
