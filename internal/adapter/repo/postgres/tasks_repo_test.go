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

func TestUpdateStatusSucceeds(t *testing.T) {
	t.Parallel()

	pool := &poolStub{execTag: pgconn.NewCommandTag("UPDATE 1")}
	repo := postgres.NewTaskRepo(pool)

	err := repo.UpdateStatus(context.Background(), "task-1", domain.TaskDone, "", nil)
	require.NoError(t, err)
	assert.Contains(t, pool.lastSQL, "UPDATE task_queue")
}

func TestUpdateStatusNoRowsIsNotFound(t *testing.T) {
	t.Parallel()

	pool := &poolStub{execTag: pgconn.NewCommandTag("UPDATE 0")}
	repo := postgres.NewTaskRepo(pool)

	err := repo.UpdateStatus(context.Background(), "missing", domain.TaskDone, "", nil)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestSetPayloadMergesAndSucceeds(t *testing.T) {
	t.Parallel()

	pool := &poolStub{execTag: pgconn.NewCommandTag("UPDATE 1")}
	repo := postgres.NewTaskRepo(pool)

	err := repo.SetPayload(context.Background(), "task-1", map[string]any{"batch_id": "b-1"})
	require.NoError(t, err)
	assert.Contains(t, pool.lastSQL, "payload || $2::jsonb")
}

func TestExistsNonTerminalReadsBooleanColumn(t *testing.T) {
	t.Parallel()

	pool := &poolStub{row: rowStub{scan: func(dest ...any) error {
		*(dest[0].(*bool)) = true
		return nil
	}}}
	repo := postgres.NewTaskRepo(pool)

	exists, err := repo.ExistsNonTerminal(context.Background(), nil, domain.TaskDiscover)
	require.NoError(t, err)
	assert.True(t, exists)
}

func TestGetPropagatesNoRowsAsNotFound(t *testing.T) {
	t.Parallel()

	pool := &poolStub{row: rowStub{scan: func(dest ...any) error {
		return pgx.ErrNoRows
	}}}
	repo := postgres.NewTaskRepo(pool)

	_, err := repo.Get(context.Background(), "missing")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}
