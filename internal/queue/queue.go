// Package queue implements the Task Queue API: create-if-absent, claim,
// and the terminal/retry state transitions, backed by a domain.TaskRepository.
package queue

import (
	"fmt"
	"math"
	"time"

	"go.opentelemetry.io/otel"

	"github.com/aperta-labs/bloghound/internal/domain"
	"github.com/aperta-labs/bloghound/internal/observability"
)

// BackoffSchedule computes next_retry_at delays for failed attempts.
type BackoffSchedule struct {
	Initial    time.Duration
	Max        time.Duration
	Multiplier float64
}

// NewBackoffSchedule builds a schedule from config-level durations.
func NewBackoffSchedule(initial, max time.Duration, multiplier float64) BackoffSchedule {
	if multiplier <= 1 {
		multiplier = 2.0
	}
	return BackoffSchedule{Initial: initial, Max: max, Multiplier: multiplier}
}

// Delay returns the backoff delay before the (1-indexed) attempt-th retry.
func (b BackoffSchedule) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := float64(b.Initial) * math.Pow(b.Multiplier, float64(attempt-1))
	if d > float64(b.Max) {
		return b.Max
	}
	return time.Duration(d)
}

// Queue is the Task Queue API. All methods are safe for concurrent use; the
// atomicity guarantees come from the underlying domain.TaskRepository.
type Queue struct {
	repo     domain.TaskRepository
	backoff  BackoffSchedule
}

// New constructs a Queue.
func New(repo domain.TaskRepository, backoff BackoffSchedule) *Queue {
	return &Queue{repo: repo, backoff: backoff}
}

// CreateIfAbsent creates a task for (blogID, taskType) unless a non-terminal
// one already exists, returning the new task's id, or "" if none was
// created. The ExistsNonTerminal check below is a fast-path short-circuit
// only, to skip the insert attempt in the common uncontested case; it is
// never the source of correctness. Correctness comes entirely from
// repo.Insert's conditional insert against the non-terminal uniqueness
// constraint: two concurrent callers both observing "absent" here will race
// the same insert, exactly one wins, and the loser's Insert call returns
// ("", nil) rather than creating a duplicate.
func (q *Queue) CreateIfAbsent(ctx domain.Context, blogID *string, taskType domain.TaskType, priority int, payload map[string]any) (string, error) {
	tracer := otel.Tracer("queue")
	ctx, span := tracer.Start(ctx, "queue.CreateIfAbsent")
	defer span.End()

	exists, err := q.repo.ExistsNonTerminal(ctx, blogID, taskType)
	if err != nil {
		return "", fmt.Errorf("op=queue.create_if_absent.exists: %w", err)
	}
	if exists {
		return "", nil
	}

	id, err := q.repo.Insert(ctx, domain.Task{
		BlogID:      blogID,
		Type:        taskType,
		Priority:    priority,
		Payload:     payload,
		MaxAttempts: domain.DefaultMaxAttempts,
	})
	if err != nil {
		return "", fmt.Errorf("op=queue.create_if_absent.insert: %w", err)
	}
	if id == "" {
		return "", nil
	}
	observability.EnqueueTask(string(taskType))
	return id, nil
}

// ClaimBatch claims up to limit eligible pending tasks.
func (q *Queue) ClaimBatch(ctx domain.Context, limit int) ([]domain.Task, error) {
	tracer := otel.Tracer("queue")
	ctx, span := tracer.Start(ctx, "queue.ClaimBatch")
	defer span.End()

	tasks, err := q.repo.ClaimBatch(ctx, limit)
	if err != nil {
		return nil, fmt.Errorf("op=queue.claim_batch: %w", err)
	}
	for _, t := range tasks {
		observability.StartProcessingTask(string(t.Type))
	}
	return tasks, nil
}

// MarkDone transitions a task to done.
func (q *Queue) MarkDone(ctx domain.Context, taskID string) error {
	tracer := otel.Tracer("queue")
	ctx, span := tracer.Start(ctx, "queue.MarkDone")
	defer span.End()

	t, err := q.repo.Get(ctx, taskID)
	if err != nil {
		return fmt.Errorf("op=queue.mark_done.get: %w", err)
	}
	if err := q.repo.UpdateStatus(ctx, taskID, domain.TaskDone, "", nil); err != nil {
		return fmt.Errorf("op=queue.mark_done: %w", err)
	}
	observability.CompleteTask(string(t.Type))
	return nil
}

// MarkFailed records an error against a task. If retry is true and the
// task's attempts remain under its limit, the task returns to pending with
// an exponential-backoff next_retry_at; otherwise it finalises as failed.
func (q *Queue) MarkFailed(ctx domain.Context, taskID string, errMsg string, retry bool) error {
	tracer := otel.Tracer("queue")
	ctx, span := tracer.Start(ctx, "queue.MarkFailed")
	defer span.End()

	t, err := q.repo.Get(ctx, taskID)
	if err != nil {
		return fmt.Errorf("op=queue.mark_failed.get: %w", err)
	}

	if retry && t.Attempts < t.MaxAttempts {
		next := time.Now().Add(q.backoff.Delay(t.Attempts))
		if err := q.repo.UpdateStatus(ctx, taskID, domain.TaskPending, errMsg, &next); err != nil {
			return fmt.Errorf("op=queue.mark_failed.retry: %w", err)
		}
		observability.RetryTask(string(t.Type))
		return nil
	}

	if err := q.repo.UpdateStatus(ctx, taskID, domain.TaskFailed, errMsg, nil); err != nil {
		return fmt.Errorf("op=queue.mark_failed.finalize: %w", err)
	}
	observability.FailTask(string(t.Type))
	return nil
}

// Retry transitions a failed task back to pending without resetting its
// attempt count, only legal from the failed state.
func (q *Queue) Retry(ctx domain.Context, taskID string) error {
	tracer := otel.Tracer("queue")
	ctx, span := tracer.Start(ctx, "queue.Retry")
	defer span.End()

	t, err := q.repo.Get(ctx, taskID)
	if err != nil {
		return fmt.Errorf("op=queue.retry.get: %w", err)
	}
	if t.Status != domain.TaskFailed {
		return fmt.Errorf("op=queue.retry: task %s is %s, not failed: %w", taskID, t.Status, domain.ErrConflict)
	}
	if err := q.repo.UpdateStatus(ctx, taskID, domain.TaskPending, "", nil); err != nil {
		return fmt.Errorf("op=queue.retry: %w", err)
	}
	return nil
}

// RecoverStuck transitions a running task back to pending without resetting
// its attempt count, used by the scheduler's stuck-task recovery job. Only
// legal from the running state.
func (q *Queue) RecoverStuck(ctx domain.Context, taskID string) error {
	tracer := otel.Tracer("queue")
	ctx, span := tracer.Start(ctx, "queue.RecoverStuck")
	defer span.End()

	t, err := q.repo.Get(ctx, taskID)
	if err != nil {
		return fmt.Errorf("op=queue.recover_stuck.get: %w", err)
	}
	if t.Status != domain.TaskRunning {
		return fmt.Errorf("op=queue.recover_stuck: task %s is %s, not running: %w", taskID, t.Status, domain.ErrConflict)
	}
	if err := q.repo.UpdateStatus(ctx, taskID, domain.TaskPending, "", nil); err != nil {
		return fmt.Errorf("op=queue.recover_stuck: %w", err)
	}
	return nil
}

// Get loads a single task by id.
func (q *Queue) Get(ctx domain.Context, taskID string) (domain.Task, error) {
	t, err := q.repo.Get(ctx, taskID)
	if err != nil {
		return domain.Task{}, fmt.Errorf("op=queue.get: %w", err)
	}
	return t, nil
}

// List returns a filtered, paginated page of tasks and the total count.
func (q *Queue) List(ctx domain.Context, filter domain.TaskFilter, limit, offset int) ([]domain.Task, int, error) {
	tasks, total, err := q.repo.List(ctx, filter, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("op=queue.list: %w", err)
	}
	return tasks, total, nil
}

// SetPayload merges keys into a task's payload, used by the AI batch
// pipeline to attach a provider batch_id to a running ai_analysis task.
func (q *Queue) SetPayload(ctx domain.Context, taskID string, patch map[string]any) error {
	if err := q.repo.SetPayload(ctx, taskID, patch); err != nil {
		return fmt.Errorf("op=queue.set_payload: %w", err)
	}
	return nil
}
