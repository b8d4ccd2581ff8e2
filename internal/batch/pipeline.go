// Package batch implements the AI Batch Pipeline (spec §4.3-§4.5): deciding
// when to submit an accumulated batch, polling the provider for completion,
// and reconciling each result back onto its blog and task rows.
package batch

import (
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"

	"github.com/aperta-labs/bloghound/internal/config"
	"github.com/aperta-labs/bloghound/internal/domain"
	"github.com/aperta-labs/bloghound/internal/observability"
	"github.com/aperta-labs/bloghound/internal/queue"
)

// TaxonomyMatcher resolves an AI insight's free-text tags/categories
// against the confirmed vocabulary. Implemented by internal/taxonomy.
type TaxonomyMatcher interface {
	Match(ctx domain.Context, blogID string, insights domain.AIInsights) error
}

// EmbeddingGenerator computes and stores a blog's semantic embedding once
// insights exist. Implemented by internal/embedding.
type EmbeddingGenerator interface {
	Generate(ctx domain.Context, blogID string) error
}

// Pipeline implements handler.Submitter and the scheduler's poll_batches /
// retry_stale_batches jobs.
type Pipeline struct {
	Tasks    domain.TaskRepository
	Blogs    domain.BlogRepository
	Taxonomy domain.TaxonomyRepository
	Provider domain.BatchProvider
	Matcher  TaxonomyMatcher
	Embedder EmbeddingGenerator
	Queue    *queue.Queue
	Cfg      config.Config
}

// New constructs a Pipeline.
func New(tasks domain.TaskRepository, blogs domain.BlogRepository, taxonomy domain.TaxonomyRepository, provider domain.BatchProvider, matcher TaxonomyMatcher, embedder EmbeddingGenerator, q *queue.Queue, cfg config.Config) *Pipeline {
	return &Pipeline{Tasks: tasks, Blogs: blogs, Taxonomy: taxonomy, Provider: provider, Matcher: matcher, Embedder: embedder, Queue: q, Cfg: cfg}
}

// MaybeSubmit checks the submission trigger (spec §4.3: at least
// BatchMinSize unattached running ai_analysis tasks, or the oldest one
// older than BatchMaxAge) and submits a batch if it has fired.
func (p *Pipeline) MaybeSubmit(ctx domain.Context) error {
	tracer := otel.Tracer("batch")
	ctx, span := tracer.Start(ctx, "batch.MaybeSubmit")
	defer span.End()

	pending, err := p.Tasks.RunningUnattachedAIAnalysis(ctx)
	if err != nil {
		return fmt.Errorf("op=batch.maybe_submit.list: %w", err)
	}
	if len(pending) == 0 {
		return nil
	}

	due := len(pending) >= p.Cfg.BatchMinSize
	if !due {
		oldest := pending[0].StartedAt
		for _, t := range pending[1:] {
			if t.StartedAt != nil && (oldest == nil || t.StartedAt.Before(*oldest)) {
				oldest = t.StartedAt
			}
		}
		if oldest != nil && time.Since(*oldest) >= p.Cfg.BatchMaxAge {
			due = true
		}
	}
	if !due {
		return nil
	}

	return p.submit(ctx, pending)
}

// submit builds and uploads one AI request per pending task, then stamps
// the returned batch id onto every task's payload so the poll job can find
// them again.
func (p *Pipeline) submit(ctx domain.Context, pending []domain.Task) error {
	categories, err := p.Taxonomy.LoadCategoryIndex(ctx)
	if err != nil {
		return fmt.Errorf("op=batch.submit.categories: %w", err)
	}
	tags, err := p.Taxonomy.LoadTagIndex(ctx)
	if err != nil {
		return fmt.Errorf("op=batch.submit.tags: %w", err)
	}

	requests := make([]domain.AIRequest, 0, len(pending))
	taskByBlog := make(map[string]domain.Task, len(pending))
	for _, t := range pending {
		if t.BlogID == nil {
			continue
		}
		req, err := p.renderRequest(ctx, *t.BlogID, t.PayloadBool(domain.PayloadTextOnly), categories, tags)
		if err != nil {
			slog.Error("skipping blog with unrenderable batch request", slog.String("blog_id", *t.BlogID), slog.Any("error", err))
			continue
		}
		requests = append(requests, req)
		taskByBlog[*t.BlogID] = t
	}
	if len(requests) == 0 {
		return nil
	}

	batchID, err := p.Provider.UploadAndCreateBatch(ctx, requests, p.Cfg.AIBatchWindow)
	if err != nil {
		return fmt.Errorf("op=batch.submit.upload: %w", err)
	}

	for _, t := range taskByBlog {
		if err := p.Tasks.SetPayload(ctx, t.ID, map[string]any{domain.PayloadBatchID: batchID}); err != nil {
			slog.Error("failed to stamp batch_id onto task", slog.String("task_id", t.ID), slog.String("batch_id", batchID), slog.Any("error", err))
		}
	}
	observability.RecordAIBatchSubmitted(len(requests))
	slog.Info("ai batch submitted", slog.String("batch_id", batchID), slog.Int("size", len(requests)))
	return nil
}

func (p *Pipeline) renderRequest(ctx domain.Context, blogID string, textOnly bool, categories []domain.Category, tags []domain.Tag) (domain.AIRequest, error) {
	blog, err := p.Blogs.Get(ctx, blogID)
	if err != nil {
		return domain.AIRequest{}, fmt.Errorf("op=batch.render_request.blog: %w", err)
	}
	posts, err := p.Blogs.GetPosts(ctx, blogID)
	if err != nil {
		return domain.AIRequest{}, fmt.Errorf("op=batch.render_request.posts: %w", err)
	}
	highlights, err := p.Blogs.GetHighlights(ctx, blogID)
	if err != nil {
		return domain.AIRequest{}, fmt.Errorf("op=batch.render_request.highlights: %w", err)
	}

	prompt := renderProfilePrompt(blog, posts, highlights, categories, tags, textOnly)
	var images []string
	if !textOnly {
		images = imageURLsFor(blog, posts, p.Cfg.MaxThumbnails)
	}
	return domain.AIRequest{CustomID: blogID, Prompt: prompt, ImageURLs: images}, nil
}

// Poll checks every distinct in-flight batch id for completion and
// reconciles any that have finished, failed, or expired.
func (p *Pipeline) Poll(ctx domain.Context) error {
	tracer := otel.Tracer("batch")
	ctx, span := tracer.Start(ctx, "batch.Poll")
	defer span.End()

	batchIDs, err := p.Tasks.DistinctRunningBatchIDs(ctx)
	if err != nil {
		return fmt.Errorf("op=batch.poll.list: %w", err)
	}

	for _, batchID := range batchIDs {
		status, err := p.Provider.BatchStatus(ctx, batchID)
		if err != nil {
			slog.Error("batch status check failed", slog.String("batch_id", batchID), slog.Any("error", err))
			continue
		}

		switch status {
		case domain.BatchCompleted:
			if err := p.reconcileBatch(ctx, batchID); err != nil {
				slog.Error("batch reconcile failed", slog.String("batch_id", batchID), slog.Any("error", err))
			}
		case domain.BatchFailed, domain.BatchExpired, domain.BatchCancelled:
			if err := p.failBatch(ctx, batchID); err != nil {
				slog.Error("batch failure handling failed", slog.String("batch_id", batchID), slog.Any("error", err))
			}
		default:
			// validating / in_progress / finalizing: nothing to do yet.
		}
	}
	return nil
}

// reconcileBatch downloads a completed batch's results and resolves every
// task carrying its id, per spec §4.4/§4.5: success writes insights,
// refusal retries once text-only then terminates, and an unparsable or
// missing line marks the blog analyzed without insights.
func (p *Pipeline) reconcileBatch(ctx domain.Context, batchID string) error {
	lines, err := p.Provider.DownloadResults(ctx, batchID)
	if err != nil {
		return fmt.Errorf("op=batch.reconcile.download: %w", err)
	}
	results, err := parseResultLines(lines)
	if err != nil {
		return fmt.Errorf("op=batch.reconcile.parse: %w", err)
	}

	tasks, err := p.Tasks.RunningWithBatchIDs(ctx, []string{batchID})
	if err != nil {
		return fmt.Errorf("op=batch.reconcile.tasks: %w", err)
	}
	taskByBlog := make(map[string]domain.Task, len(tasks))
	for _, t := range tasks {
		if t.BlogID != nil {
			taskByBlog[*t.BlogID] = t
		}
	}

	resolved := make(map[string]bool, len(results))
	for _, res := range results {
		resolved[res.BlogID] = true
		task, ok := taskByBlog[res.BlogID]
		if !ok {
			continue
		}
		if err := p.reconcileOne(ctx, task, res); err != nil {
			slog.Error("reconcile one result failed", slog.String("blog_id", res.BlogID), slog.Any("error", err))
		}
	}

	// Any task whose blog never produced a result line (e.g. the batch
	// partially failed) still needs to terminate.
	for blogID, task := range taskByBlog {
		if resolved[blogID] {
			continue
		}
		if err := p.finishWithoutInsights(ctx, task); err != nil {
			slog.Error("finish task with no result line failed", slog.String("blog_id", blogID), slog.Any("error", err))
		}
	}
	return nil
}

func (p *Pipeline) reconcileOne(ctx domain.Context, task domain.Task, res parsedResult) error {
	switch res.Kind {
	case outcomeSuccess:
		var insights domain.AIInsights
		if err := decodeInsights(res.Content, &insights); err != nil {
			slog.Warn("ai response failed schema decode, marking analyzed without insights", slog.String("blog_id", res.BlogID), slog.Any("error", err))
			return p.finishWithoutInsights(ctx, task)
		}
		if !domain.ValidConfidence(insights.Confidence) {
			insights.Confidence = 3
		}
		observability.RecordAIConfidence(insights.Confidence)
		if err := p.Blogs.UpdateAIResult(ctx, res.BlogID, insights, insights.Confidence, domain.ScrapeActive); err != nil {
			return fmt.Errorf("op=batch.reconcile_one.update_ai_result: %w", err)
		}
		if p.Matcher != nil {
			if err := p.Matcher.Match(ctx, res.BlogID, insights); err != nil {
				slog.Error("taxonomy match failed", slog.String("blog_id", res.BlogID), slog.Any("error", err))
			}
		}
		if p.Embedder != nil {
			if err := p.Embedder.Generate(ctx, res.BlogID); err != nil {
				slog.Error("embedding generation failed", slog.String("blog_id", res.BlogID), slog.Any("error", err))
			}
		}
		return p.Tasks.UpdateStatus(ctx, task.ID, domain.TaskDone, "", nil)

	case outcomeRefusal:
		observability.RecordAIRefusal()
		alreadyRefused, err := p.Blogs.IsAIRefused(ctx, res.BlogID)
		if err != nil {
			return fmt.Errorf("op=batch.reconcile_one.is_refused: %w", err)
		}
		if alreadyRefused || task.PayloadBool(domain.PayloadTextOnly) {
			if err := p.Blogs.StoreRefusal(ctx, res.BlogID, res.Content, domain.ScrapeAIAnalyzed); err != nil {
				return fmt.Errorf("op=batch.reconcile_one.store_refusal_final: %w", err)
			}
			return p.Tasks.UpdateStatus(ctx, task.ID, domain.TaskDone, "ai refused twice", nil)
		}
		if err := p.Blogs.StoreRefusal(ctx, res.BlogID, res.Content, domain.ScrapeAIRefused); err != nil {
			return fmt.Errorf("op=batch.reconcile_one.store_refusal: %w", err)
		}
		if err := p.Tasks.UpdateStatus(ctx, task.ID, domain.TaskDone, "ai refused, retrying text_only", nil); err != nil {
			return fmt.Errorf("op=batch.reconcile_one.finish_refused: %w", err)
		}
		if _, err := p.Tasks.Insert(ctx, domain.Task{
			BlogID:   task.BlogID,
			Type:     domain.TaskAIAnalysis,
			Priority: task.Priority,
			Payload:  map[string]any{domain.PayloadTextOnly: true},
		}); err != nil {
			return fmt.Errorf("op=batch.reconcile_one.retry_insert: %w", err)
		}
		return nil

	default:
		return p.finishWithoutInsights(ctx, task)
	}
}

func (p *Pipeline) finishWithoutInsights(ctx domain.Context, task domain.Task) error {
	if task.BlogID != nil {
		if err := p.Blogs.MarkAnalyzedWithoutInsights(ctx, *task.BlogID); err != nil {
			return fmt.Errorf("op=batch.finish_without_insights.mark: %w", err)
		}
	}
	return p.Tasks.UpdateStatus(ctx, task.ID, domain.TaskDone, "no usable ai result", nil)
}

// failBatch applies the standard failed/retry transition (spec §4.8) to
// every task attached to a terminally-failed provider batch: each task's
// batch_id is cleared, and a task under its attempt limit returns to
// pending and gets resubmitted in a fresh
// batch by a later MaybeSubmit; one that has exhausted its attempts
// finalises as failed.
func (p *Pipeline) failBatch(ctx domain.Context, batchID string) error {
	tasks, err := p.Tasks.RunningWithBatchIDs(ctx, []string{batchID})
	if err != nil {
		return fmt.Errorf("op=batch.fail_batch.tasks: %w", err)
	}
	for _, t := range tasks {
		if err := p.Tasks.SetPayload(ctx, t.ID, map[string]any{domain.PayloadBatchID: ""}); err != nil {
			slog.Error("failed to clear batch_id from task of dead batch", slog.String("task_id", t.ID), slog.Any("error", err))
		}
		if err := p.Queue.MarkFailed(ctx, t.ID, "ai batch "+batchID+" did not complete", true); err != nil {
			slog.Error("failed to mark task failed/retry for dead batch", slog.String("task_id", t.ID), slog.Any("error", err))
		}
	}
	return nil
}

// RetryStale applies the failed/retry transition to ai_analysis tasks whose
// started_at predates StaleBatchAge (spec §4.8's retry_stale_batches job),
// regardless of whether they ever got a batch_id.
func (p *Pipeline) RetryStale(ctx domain.Context) error {
	tracer := otel.Tracer("batch")
	ctx, span := tracer.Start(ctx, "batch.RetryStale")
	defer span.End()

	cutoff := time.Now().Add(-p.Cfg.StaleBatchAge)
	stale, err := p.Tasks.RunningOlderThan(ctx, domain.TaskAIAnalysis, cutoff)
	if err != nil {
		return fmt.Errorf("op=batch.retry_stale.list: %w", err)
	}
	for _, t := range stale {
		if err := p.Queue.MarkFailed(ctx, t.ID, "ai_analysis task stale beyond retention window", true); err != nil {
			slog.Error("failed to mark stale ai_analysis task failed/retry", slog.String("task_id", t.ID), slog.Any("error", err))
		}
	}
	return nil
}
