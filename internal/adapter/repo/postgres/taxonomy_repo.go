package postgres

import (
	"fmt"

	"go.opentelemetry.io/otel"

	"github.com/aperta-labs/bloghound/internal/domain"
)

// TaxonomyRepo persists the category/tag vocabulary and blog join tables.
type TaxonomyRepo struct{ Pool PgxPool }

// NewTaxonomyRepo constructs a TaxonomyRepo with the given pool.
func NewTaxonomyRepo(p PgxPool) *TaxonomyRepo { return &TaxonomyRepo{Pool: p} }

// LoadCategoryIndex returns the full category tree.
func (r *TaxonomyRepo) LoadCategoryIndex(ctx domain.Context) ([]domain.Category, error) {
	tracer := otel.Tracer("repo.taxonomy")
	ctx, span := tracer.Start(ctx, "taxonomy.LoadCategoryIndex")
	defer span.End()

	rows, err := r.Pool.Query(ctx, `SELECT id, parent_id, code, name FROM categories`)
	if err != nil {
		return nil, fmt.Errorf("op=taxonomy.load_category_index: %w", err)
	}
	defer rows.Close()

	var out []domain.Category
	for rows.Next() {
		var c domain.Category
		if err := rows.Scan(&c.ID, &c.ParentID, &c.Code, &c.Name); err != nil {
			return nil, fmt.Errorf("op=taxonomy.load_category_index_scan: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// LoadTagIndex returns the full tag vocabulary.
func (r *TaxonomyRepo) LoadTagIndex(ctx domain.Context) ([]domain.Tag, error) {
	tracer := otel.Tracer("repo.taxonomy")
	ctx, span := tracer.Start(ctx, "taxonomy.LoadTagIndex")
	defer span.End()

	rows, err := r.Pool.Query(ctx, `SELECT id, name, tag_group, status FROM tags`)
	if err != nil {
		return nil, fmt.Errorf("op=taxonomy.load_tag_index: %w", err)
	}
	defer rows.Close()

	var out []domain.Tag
	for rows.Next() {
		var t domain.Tag
		if err := rows.Scan(&t.ID, &t.Name, &t.Group, &t.Status); err != nil {
			return nil, fmt.Errorf("op=taxonomy.load_tag_index_scan: %w", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// ReplaceBlogCategories performs a single-transaction delete+insert of the
// resolved category rows for a blog.
func (r *TaxonomyRepo) ReplaceBlogCategories(ctx domain.Context, rows []domain.BlogCategory) error {
	tracer := otel.Tracer("repo.taxonomy")
	ctx, span := tracer.Start(ctx, "taxonomy.ReplaceBlogCategories")
	defer span.End()

	if len(rows) == 0 {
		return nil
	}
	blogID := rows[0].BlogID

	tx, err := r.Pool.BeginTx(ctx, pgxTxDefault())
	if err != nil {
		return fmt.Errorf("op=taxonomy.replace_blog_categories.begin_tx: %w", err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback(ctx)
		}
	}()

	if _, err := tx.Exec(ctx, `DELETE FROM blog_categories WHERE blog_id=$1`, blogID); err != nil {
		return fmt.Errorf("op=taxonomy.replace_blog_categories.delete: %w", err)
	}
	for _, row := range rows {
		if _, err := tx.Exec(ctx,
			`INSERT INTO blog_categories (blog_id, category_id, is_primary) VALUES ($1,$2,$3)`,
			row.BlogID, row.CategoryID, row.IsPrimary); err != nil {
			return fmt.Errorf("op=taxonomy.replace_blog_categories.insert: %w", err)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("op=taxonomy.replace_blog_categories.commit: %w", err)
	}
	committed = true
	return nil
}

// ReplaceBlogTags performs a single-transaction delete+insert of the
// resolved tag rows for a blog.
func (r *TaxonomyRepo) ReplaceBlogTags(ctx domain.Context, rows []domain.BlogTag) error {
	tracer := otel.Tracer("repo.taxonomy")
	ctx, span := tracer.Start(ctx, "taxonomy.ReplaceBlogTags")
	defer span.End()

	if len(rows) == 0 {
		return nil
	}
	blogID := rows[0].BlogID

	tx, err := r.Pool.BeginTx(ctx, pgxTxDefault())
	if err != nil {
		return fmt.Errorf("op=taxonomy.replace_blog_tags.begin_tx: %w", err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback(ctx)
		}
	}()

	if _, err := tx.Exec(ctx, `DELETE FROM blog_tags WHERE blog_id=$1`, blogID); err != nil {
		return fmt.Errorf("op=taxonomy.replace_blog_tags.delete: %w", err)
	}
	for _, row := range rows {
		if _, err := tx.Exec(ctx,
			`INSERT INTO blog_tags (blog_id, tag_id) VALUES ($1,$2)`,
			row.BlogID, row.TagID); err != nil {
			return fmt.Errorf("op=taxonomy.replace_blog_tags.insert: %w", err)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("op=taxonomy.replace_blog_tags.commit: %w", err)
	}
	committed = true
	return nil
}
