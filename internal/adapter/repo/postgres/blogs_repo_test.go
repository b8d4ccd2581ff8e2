package postgres_test

import (
	"context"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aperta-labs/bloghound/internal/adapter/repo/postgres"
	"github.com/aperta-labs/bloghound/internal/domain"
)

func TestUpdateScrapeStatusSucceeds(t *testing.T) {
	t.Parallel()

	pool := &poolStub{execTag: pgconn.NewCommandTag("UPDATE 1")}
	repo := postgres.NewBlogRepo(pool)

	err := repo.UpdateScrapeStatus(context.Background(), "blog-1", domain.ScrapeActive)
	require.NoError(t, err)
}

func TestUpdateScrapeStatusNotFound(t *testing.T) {
	t.Parallel()

	pool := &poolStub{execTag: pgconn.NewCommandTag("UPDATE 0")}
	repo := postgres.NewBlogRepo(pool)

	err := repo.UpdateScrapeStatus(context.Background(), "missing", domain.ScrapeActive)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestSetEmbeddingSucceeds(t *testing.T) {
	t.Parallel()

	pool := &poolStub{execTag: pgconn.NewCommandTag("UPDATE 1")}
	repo := postgres.NewBlogRepo(pool)

	err := repo.SetEmbedding(context.Background(), "blog-1", []float32{0.1, 0.2})
	require.NoError(t, err)
}

func TestIsAIRefusedTrueWhenStatusMatches(t *testing.T) {
	t.Parallel()

	pool := &poolStub{row: rowStub{scan: func(dest ...any) error {
		*(dest[0].(*domain.ScrapeStatus)) = domain.ScrapeAIRefused
		return nil
	}}}
	repo := postgres.NewBlogRepo(pool)

	refused, err := repo.IsAIRefused(context.Background(), "blog-1")
	require.NoError(t, err)
	assert.True(t, refused)
}

func TestIsAIRefusedFalseForOtherStatus(t *testing.T) {
	t.Parallel()

	pool := &poolStub{row: rowStub{scan: func(dest ...any) error {
		*(dest[0].(*domain.ScrapeStatus)) = domain.ScrapeAIAnalyzed
		return nil
	}}}
	repo := postgres.NewBlogRepo(pool)

	refused, err := repo.IsAIRefused(context.Background(), "blog-1")
	require.NoError(t, err)
	assert.False(t, refused)
}

func TestIsAIRefusedNotFound(t *testing.T) {
	t.Parallel()

	pool := &poolStub{row: rowStub{scan: func(dest ...any) error {
		return pgx.ErrNoRows
	}}}
	repo := postgres.NewBlogRepo(pool)

	_, err := repo.IsAIRefused(context.Background(), "missing")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}
