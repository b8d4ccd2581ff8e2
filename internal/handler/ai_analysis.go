package handler

import (
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel"

	"github.com/aperta-labs/bloghound/internal/domain"
)

// AIAnalysis implements the accumulation half of the AI Batch Pipeline
// (spec §4.3). It never calls the AI provider itself: claiming a task into
// running already does the accumulation; this handler only checks whether
// the submission trigger has fired and, if so, asks the batch pipeline to
// submit everything accumulated so far. The task it was invoked for is
// always left running — its done/failed transition happens later, when
// the scheduler's poll job reconciles the batch it ends up in.
func (d *Deps) AIAnalysis(ctx domain.Context, task domain.Task) error {
	tracer := otel.Tracer("handler")
	ctx, span := tracer.Start(ctx, "handler.AIAnalysis")
	defer span.End()

	if d.Batch != nil {
		if err := d.Batch.MaybeSubmit(ctx); err != nil {
			slog.Error("ai batch submission check failed", slog.String("task_id", task.ID), slog.Any("error", err))
			return fmt.Errorf("handler: ai_analysis maybe_submit: %w: %w", err, domain.ErrLeaveRunning)
		}
	}
	return domain.ErrLeaveRunning
}
