// Package worker implements the polling worker: a bounded-concurrency loop
// that claims tasks from the Task Queue API and dispatches them to
// per-type handlers.
package worker

import (
	"errors"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel"

	"github.com/aperta-labs/bloghound/internal/domain"
	"github.com/aperta-labs/bloghound/internal/queue"
)

// Handler executes one task's work. It returns nil on success; any non-nil
// error finalizes or retries the task depending on its classification
// (see classifyRetry).
type Handler func(ctx domain.Context, task domain.Task) error

// Worker polls the queue on an interval and runs claimed tasks concurrently,
// bounded by MaxConcurrency.
type Worker struct {
	q              *queue.Queue
	handlers       map[domain.TaskType]Handler
	pollInterval   time.Duration
	maxConcurrency int
	claimBatchSize int
}

// New constructs a Worker. handlers maps each task type this process knows
// how to execute; a claimed task whose type has no registered handler is
// left in running, and the worker does not return it to pending.
func New(q *queue.Queue, handlers map[domain.TaskType]Handler, pollInterval time.Duration, maxConcurrency, claimBatchSize int) *Worker {
	if maxConcurrency <= 0 {
		maxConcurrency = 4
	}
	if claimBatchSize <= 0 {
		claimBatchSize = maxConcurrency * 2
	}
	return &Worker{
		q:              q,
		handlers:       handlers,
		pollInterval:   pollInterval,
		maxConcurrency: maxConcurrency,
		claimBatchSize: claimBatchSize,
	}
}

// Run polls and dispatches until ctx is cancelled, then waits for
// in-flight tasks to finish before returning.
func (w *Worker) Run(ctx domain.Context) {
	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()

	sem := make(chan struct{}, w.maxConcurrency)
	var wg sync.WaitGroup

	w.pollOnce(ctx, sem, &wg)

	for {
		select {
		case <-ctx.Done():
			slog.Info("worker stopping, waiting for in-flight tasks")
			wg.Wait()
			return
		case <-ticker.C:
			w.pollOnce(ctx, sem, &wg)
		}
	}
}

func (w *Worker) pollOnce(ctx domain.Context, sem chan struct{}, wg *sync.WaitGroup) {
	tasks, err := w.q.ClaimBatch(ctx, w.claimBatchSize)
	if err != nil {
		slog.Error("claim batch failed", slog.Any("error", err))
		return
	}
	for _, t := range tasks {
		handler, ok := w.handlers[t.Type]
		if !ok {
			slog.Warn("no handler registered for task type; leaving running for another worker to pick up", slog.String("task_type", string(t.Type)))
			continue
		}
		wg.Add(1)
		sem <- struct{}{}
		go func(task domain.Task, h Handler) {
			defer wg.Done()
			defer func() { <-sem }()
			w.runOne(ctx, task, h)
		}(t, handler)
	}
}

func (w *Worker) runOne(ctx domain.Context, task domain.Task, h Handler) {
	tracer := otel.Tracer("worker")
	ctx, span := tracer.Start(ctx, "worker.runOne")
	defer span.End()

	start := time.Now()
	err := h(ctx, task)
	dur := time.Since(start)

	if errors.Is(err, domain.ErrLeaveRunning) {
		slog.Debug("task left running for later reconciliation", slog.String("task_id", task.ID), slog.String("task_type", string(task.Type)))
		return
	}

	if err == nil {
		if markErr := w.q.MarkDone(ctx, task.ID); markErr != nil {
			slog.Error("mark done failed", slog.String("task_id", task.ID), slog.Any("error", markErr))
		}
		slog.Info("task completed", slog.String("task_id", task.ID), slog.String("task_type", string(task.Type)), slog.Duration("duration", dur))
		return
	}

	retry := classifyRetry(err)
	if markErr := w.q.MarkFailed(ctx, task.ID, err.Error(), retry); markErr != nil {
		slog.Error("mark failed failed", slog.String("task_id", task.ID), slog.Any("error", markErr))
	}
	slog.Warn("task failed", slog.String("task_id", task.ID), slog.String("task_type", string(task.Type)), slog.Bool("retry", retry), slog.Any("error", err))
}

// classifyRetry maps an error's sentinel kind to the retry decision, the
// same dispatch shape as the HTTP layer's error-to-status mapping, just
// pointed at "retry vs terminal" instead of an HTTP status code.
func classifyRetry(err error) bool {
	switch {
	case errors.Is(err, domain.ErrTransient):
		return true
	case errors.Is(err, domain.ErrRateLimited):
		return true
	case errors.Is(err, domain.ErrInvalidArgument):
		return false
	case errors.Is(err, domain.ErrNotFound):
		return false
	case errors.Is(err, domain.ErrPrivateAccount):
		return false
	case errors.Is(err, domain.ErrUserNotFound):
		return false
	case errors.Is(err, domain.ErrInsufficientBalance):
		return false
	default:
		return true
	}
}
