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

// TaskRepo persists and claims tasks from the task_queue table.
type TaskRepo struct{ Pool PgxPool }

// NewTaskRepo constructs a TaskRepo with the given pool.
func NewTaskRepo(p PgxPool) *TaskRepo { return &TaskRepo{Pool: p} }

func marshalPayload(p map[string]any) ([]byte, error) {
	if p == nil {
		p = map[string]any{}
	}
	return json.Marshal(p)
}

func unmarshalPayload(raw []byte) (map[string]any, error) {
	if len(raw) == 0 {
		return map[string]any{}, nil
	}
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, err
	}
	return m, nil
}

// Insert atomically creates a non-terminal task for (blog_id, type) unless
// one already exists, relying on the partial unique indexes
// (uq_task_queue_blog_type_nonterminal, uq_task_queue_null_blog_type_nonterminal)
// as the conflict target rather than a prior read: concurrent callers race
// the same INSERT and exactly one of them inserts the row. Insert returns
// ("", nil), not an error, when it loses that race — the empty id signals
// the caller (queue.CreateIfAbsent) that no new task was created.
func (r *TaskRepo) Insert(ctx domain.Context, t domain.Task) (string, error) {
	tracer := otel.Tracer("repo.tasks")
	ctx, span := tracer.Start(ctx, "tasks.Insert")
	defer span.End()
	span.SetAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation", "INSERT"),
		attribute.String("db.sql.table", "task_queue"),
	)

	id := t.ID
	if id == "" {
		id = uuid.New().String()
	}
	maxAttempts := t.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = domain.DefaultMaxAttempts
	}
	payload, err := marshalPayload(t.Payload)
	if err != nil {
		return "", fmt.Errorf("op=task.insert.marshal_payload: %w", err)
	}

	q := `INSERT INTO task_queue (id, blog_id, type, status, priority, payload, attempts, max_attempts, created_at)
	      VALUES ($1,$2,$3,'pending',$4,$5,0,$6,$7)
	      ON CONFLICT DO NOTHING
	      RETURNING id`
	var returnedID string
	err = r.Pool.QueryRow(ctx, q, id, t.BlogID, t.Type, t.Priority, payload, maxAttempts, time.Now().UTC()).Scan(&returnedID)
	if err == nil {
		return returnedID, nil
	}
	if err == pgx.ErrNoRows {
		return "", nil
	}
	return "", fmt.Errorf("op=task.insert: %w", err)
}

// ExistsNonTerminal reports whether a non-terminal task already exists for
// (blogID, taskType).
func (r *TaskRepo) ExistsNonTerminal(ctx domain.Context, blogID *string, taskType domain.TaskType) (bool, error) {
	tracer := otel.Tracer("repo.tasks")
	ctx, span := tracer.Start(ctx, "tasks.ExistsNonTerminal")
	defer span.End()

	q := `SELECT EXISTS(
		SELECT 1 FROM task_queue
		WHERE type = $1 AND status IN ('pending','running')
		  AND blog_id IS NOT DISTINCT FROM $2
	)`
	var exists bool
	if err := r.Pool.QueryRow(ctx, q, taskType, blogID).Scan(&exists); err != nil {
		return false, fmt.Errorf("op=task.exists_non_terminal: %w", err)
	}
	return exists, nil
}

// ClaimBatch atomically transitions up to limit eligible pending tasks to
// running and returns them. Eligibility: status=pending and (next_retry_at
// is null or has passed). Ordered by priority ASC, created_at ASC so lower
// priority numbers and older tasks claim first.
func (r *TaskRepo) ClaimBatch(ctx domain.Context, limit int) ([]domain.Task, error) {
	tracer := otel.Tracer("repo.tasks")
	ctx, span := tracer.Start(ctx, "tasks.ClaimBatch")
	defer span.End()
	span.SetAttributes(attribute.Int("tasks.limit", limit))

	q := `WITH claimed AS (
		SELECT id FROM task_queue
		WHERE status = 'pending' AND (next_retry_at IS NULL OR next_retry_at <= now())
		ORDER BY priority ASC, created_at ASC
		LIMIT $1
		FOR UPDATE SKIP LOCKED
	)
	UPDATE task_queue t
	SET status = 'running', attempts = attempts + 1, started_at = now()
	FROM claimed
	WHERE t.id = claimed.id
	RETURNING t.id, t.blog_id, t.type, t.status, t.priority, t.payload, t.attempts,
	          t.max_attempts, COALESCE(t.error_msg,''), t.next_retry_at, t.started_at,
	          t.completed_at, t.created_at`

	rows, err := r.Pool.Query(ctx, q, limit)
	if err != nil {
		return nil, fmt.Errorf("op=task.claim_batch: %w", err)
	}
	defer rows.Close()

	var out []domain.Task
	for rows.Next() {
		t, payload, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("op=task.claim_batch_scan: %w", err)
		}
		t.Payload, err = unmarshalPayload(payload)
		if err != nil {
			return nil, fmt.Errorf("op=task.claim_batch_unmarshal: %w", err)
		}
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("op=task.claim_batch_rows: %w", err)
	}
	return out, nil
}

// UpdateStatus sets status/error/timestamps for a single task by id.
func (r *TaskRepo) UpdateStatus(ctx domain.Context, id string, status domain.TaskStatus, errMsg string, nextRetryAt *time.Time) error {
	tracer := otel.Tracer("repo.tasks")
	ctx, span := tracer.Start(ctx, "tasks.UpdateStatus")
	defer span.End()
	span.SetAttributes(attribute.String("task.id", id), attribute.String("task.status", string(status)))

	var completedAt *time.Time
	if status == domain.TaskDone || status == domain.TaskFailed {
		now := time.Now().UTC()
		completedAt = &now
	}

	q := `UPDATE task_queue
	      SET status=$2, error_msg=$3, next_retry_at=$4, completed_at=$5
	      WHERE id=$1`
	tag, err := r.Pool.Exec(ctx, q, id, status, errMsg, nextRetryAt, completedAt)
	if err != nil {
		return fmt.Errorf("op=task.update_status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("op=task.update_status: %w", domain.ErrNotFound)
	}
	return nil
}

// SetPayload merges keys into a task's stored payload.
func (r *TaskRepo) SetPayload(ctx domain.Context, id string, patch map[string]any) error {
	tracer := otel.Tracer("repo.tasks")
	ctx, span := tracer.Start(ctx, "tasks.SetPayload")
	defer span.End()

	patchJSON, err := json.Marshal(patch)
	if err != nil {
		return fmt.Errorf("op=task.set_payload.marshal: %w", err)
	}
	q := `UPDATE task_queue SET payload = payload || $2::jsonb WHERE id=$1`
	tag, err := r.Pool.Exec(ctx, q, id, patchJSON)
	if err != nil {
		return fmt.Errorf("op=task.set_payload: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("op=task.set_payload: %w", domain.ErrNotFound)
	}
	return nil
}

// Get loads a single task by id.
func (r *TaskRepo) Get(ctx domain.Context, id string) (domain.Task, error) {
	tracer := otel.Tracer("repo.tasks")
	ctx, span := tracer.Start(ctx, "tasks.Get")
	defer span.End()

	q := `SELECT id, blog_id, type, status, priority, payload, attempts, max_attempts,
	             COALESCE(error_msg,''), next_retry_at, started_at, completed_at, created_at
	      FROM task_queue WHERE id=$1`
	row := r.Pool.QueryRow(ctx, q, id)
	t, payload, err := scanTask(row)
	if err != nil {
		if err == pgx.ErrNoRows {
			return domain.Task{}, fmt.Errorf("op=task.get: %w", domain.ErrNotFound)
		}
		return domain.Task{}, fmt.Errorf("op=task.get: %w", err)
	}
	t.Payload, err = unmarshalPayload(payload)
	if err != nil {
		return domain.Task{}, fmt.Errorf("op=task.get_unmarshal: %w", err)
	}
	return t, nil
}

// List returns a page of tasks matching filter along with the total count.
func (r *TaskRepo) List(ctx domain.Context, filter domain.TaskFilter, limit, offset int) ([]domain.Task, int, error) {
	tracer := otel.Tracer("repo.tasks")
	ctx, span := tracer.Start(ctx, "tasks.List")
	defer span.End()

	where := ""
	args := []any{}
	argIdx := 1
	if filter.Status != nil {
		where += fmt.Sprintf(" AND status = $%d", argIdx)
		args = append(args, *filter.Status)
		argIdx++
	}
	if filter.Type != nil {
		where += fmt.Sprintf(" AND type = $%d", argIdx)
		args = append(args, *filter.Type)
		argIdx++
	}

	countQ := "SELECT COUNT(*) FROM task_queue WHERE true" + where
	var total int
	if err := r.Pool.QueryRow(ctx, countQ, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("op=task.list_count: %w", err)
	}

	q := fmt.Sprintf(`SELECT id, blog_id, type, status, priority, payload, attempts, max_attempts,
	             COALESCE(error_msg,''), next_retry_at, started_at, completed_at, created_at
	      FROM task_queue WHERE true%s
	      ORDER BY created_at DESC LIMIT $%d OFFSET $%d`, where, argIdx, argIdx+1)
	args = append(args, limit, offset)

	rows, err := r.Pool.Query(ctx, q, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("op=task.list: %w", err)
	}
	defer rows.Close()

	var out []domain.Task
	for rows.Next() {
		t, payload, err := scanTask(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("op=task.list_scan: %w", err)
		}
		t.Payload, err = unmarshalPayload(payload)
		if err != nil {
			return nil, 0, fmt.Errorf("op=task.list_unmarshal: %w", err)
		}
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("op=task.list_rows: %w", err)
	}
	return out, total, nil
}

// RunningOlderThan returns running tasks of the given type whose StartedAt
// predates cutoff.
func (r *TaskRepo) RunningOlderThan(ctx domain.Context, taskType domain.TaskType, cutoff time.Time) ([]domain.Task, error) {
	tracer := otel.Tracer("repo.tasks")
	ctx, span := tracer.Start(ctx, "tasks.RunningOlderThan")
	defer span.End()

	q := `SELECT id, blog_id, type, status, priority, payload, attempts, max_attempts,
	             COALESCE(error_msg,''), next_retry_at, started_at, completed_at, created_at
	      FROM task_queue
	      WHERE type=$1 AND status='running' AND started_at < $2`
	rows, err := r.Pool.Query(ctx, q, taskType, cutoff)
	if err != nil {
		return nil, fmt.Errorf("op=task.running_older_than: %w", err)
	}
	defer rows.Close()
	return scanTaskRows(rows)
}

// RunningUnattachedAIAnalysis returns running ai_analysis tasks with no
// batch_id recorded in their payload yet.
func (r *TaskRepo) RunningUnattachedAIAnalysis(ctx domain.Context) ([]domain.Task, error) {
	tracer := otel.Tracer("repo.tasks")
	ctx, span := tracer.Start(ctx, "tasks.RunningUnattachedAIAnalysis")
	defer span.End()

	q := `SELECT id, blog_id, type, status, priority, payload, attempts, max_attempts,
	             COALESCE(error_msg,''), next_retry_at, started_at, completed_at, created_at
	      FROM task_queue
	      WHERE type='ai_analysis' AND status='running'
	        AND (payload->>'batch_id' IS NULL OR payload->>'batch_id' = '')`
	rows, err := r.Pool.Query(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("op=task.running_unattached_ai: %w", err)
	}
	defer rows.Close()
	return scanTaskRows(rows)
}

// RunningWithBatchIDs returns running ai_analysis tasks whose payload
// batch_id is in the given set.
func (r *TaskRepo) RunningWithBatchIDs(ctx domain.Context, batchIDs []string) ([]domain.Task, error) {
	tracer := otel.Tracer("repo.tasks")
	ctx, span := tracer.Start(ctx, "tasks.RunningWithBatchIDs")
	defer span.End()

	if len(batchIDs) == 0 {
		return nil, nil
	}
	q := `SELECT id, blog_id, type, status, priority, payload, attempts, max_attempts,
	             COALESCE(error_msg,''), next_retry_at, started_at, completed_at, created_at
	      FROM task_queue
	      WHERE type='ai_analysis' AND status='running' AND payload->>'batch_id' = ANY($1)`
	rows, err := r.Pool.Query(ctx, q, batchIDs)
	if err != nil {
		return nil, fmt.Errorf("op=task.running_with_batch_ids: %w", err)
	}
	defer rows.Close()
	return scanTaskRows(rows)
}

// DistinctRunningBatchIDs returns the distinct non-empty batch_id values
// present on running ai_analysis tasks.
func (r *TaskRepo) DistinctRunningBatchIDs(ctx domain.Context) ([]string, error) {
	tracer := otel.Tracer("repo.tasks")
	ctx, span := tracer.Start(ctx, "tasks.DistinctRunningBatchIDs")
	defer span.End()

	q := `SELECT DISTINCT payload->>'batch_id' FROM task_queue
	      WHERE type='ai_analysis' AND status='running'
	        AND payload->>'batch_id' IS NOT NULL AND payload->>'batch_id' != ''`
	rows, err := r.Pool.Query(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("op=task.distinct_running_batch_ids: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("op=task.distinct_running_batch_ids_scan: %w", err)
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

// rowScanner covers both pgx.Row (QueryRow) and pgx.Rows (Query) for a
// single shared scan helper.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanTask(row rowScanner) (domain.Task, []byte, error) {
	var t domain.Task
	var payload []byte
	err := row.Scan(&t.ID, &t.BlogID, &t.Type, &t.Status, &t.Priority, &payload, &t.Attempts,
		&t.MaxAttempts, &t.ErrorMsg, &t.NextRetryAt, &t.StartedAt, &t.CompletedAt, &t.CreatedAt)
	return t, payload, err
}

func scanTaskRows(rows pgx.Rows) ([]domain.Task, error) {
	var out []domain.Task
	for rows.Next() {
		t, payload, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		t.Payload, err = unmarshalPayload(payload)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}
