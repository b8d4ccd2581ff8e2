// Package scheduler runs the periodic jobs described in spec §4.8: batch
// polling, stuck-task recovery, stale-batch retry, missing-embedding
// backfill, scheduled rescrapes, and orphaned-image cleanup.
package scheduler

import (
	"context"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
	"go.opentelemetry.io/otel"

	"github.com/aperta-labs/bloghound/internal/batch"
	"github.com/aperta-labs/bloghound/internal/config"
	"github.com/aperta-labs/bloghound/internal/domain"
	"github.com/aperta-labs/bloghound/internal/embedding"
	"github.com/aperta-labs/bloghound/internal/queue"
)

// Scheduler owns the six periodic jobs. The four fixed-interval jobs run on
// tickers; the two calendar-based jobs (schedule_updates, cleanup) run on a
// cron.Cron instance, matching the "daily"/"weekly" cadence spec §4.8 asks
// for rather than an interval.
type Scheduler struct {
	Tasks    domain.TaskRepository
	Blogs    domain.BlogRepository
	Queue    *queue.Queue
	Pipeline *batch.Pipeline
	Embedder *embedding.Producer
	Storage  domain.ObjectStorage
	Cfg      config.Config

	cron *cron.Cron
}

// New constructs a Scheduler wired to its job dependencies.
func New(tasks domain.TaskRepository, blogs domain.BlogRepository, q *queue.Queue, pipeline *batch.Pipeline, embedder *embedding.Producer, storage domain.ObjectStorage, cfg config.Config) *Scheduler {
	return &Scheduler{
		Tasks:    tasks,
		Blogs:    blogs,
		Queue:    q,
		Pipeline: pipeline,
		Embedder: embedder,
		Storage:  storage,
		Cfg:      cfg,
	}
}

// Run starts all six jobs and blocks until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) {
	if s.Cfg.SchedulerDisable {
		slog.Warn("scheduler disabled via SCHEDULER_DISABLE")
		<-ctx.Done()
		return
	}

	s.cron = cron.New(cron.WithLocation(time.UTC))
	if _, err := s.cron.AddFunc(s.Cfg.ScheduleUpdatesCron, func() { s.runJob(ctx, "schedule_updates", s.scheduleUpdates) }); err != nil {
		slog.Error("scheduler: invalid schedule_updates cron expression", slog.Any("error", err))
	}
	if _, err := s.cron.AddFunc(s.Cfg.CleanupCron, func() { s.runJob(ctx, "cleanup", s.cleanup) }); err != nil {
		slog.Error("scheduler: invalid cleanup cron expression", slog.Any("error", err))
	}
	s.cron.Start()
	defer s.cron.Stop()

	jobs := []struct {
		name     string
		interval time.Duration
		fn       func(context.Context) error
	}{
		{"poll_batches", s.Cfg.PollBatchesInterval, s.Pipeline.Poll},
		{"recover_tasks", s.Cfg.RecoverTasksInterval, s.recoverTasks},
		{"retry_stale_batches", s.Cfg.RetryStaleBatchesInterval, s.Pipeline.RetryStale},
		{"retry_missing_embeddings", s.Cfg.RetryMissingEmbeddingsInterval, s.retryMissingEmbeddings},
	}

	var tickers []*time.Ticker
	for _, j := range jobs {
		t := time.NewTicker(j.interval)
		tickers = append(tickers, t)
		go s.runTicker(ctx, t, j.name, j.fn)
	}
	defer func() {
		for _, t := range tickers {
			t.Stop()
		}
	}()

	<-ctx.Done()
}

func (s *Scheduler) runTicker(ctx context.Context, t *time.Ticker, name string, fn func(context.Context) error) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			s.runJob(ctx, name, fn)
		}
	}
}

func (s *Scheduler) runJob(ctx context.Context, name string, fn func(context.Context) error) {
	tracer := otel.Tracer("scheduler")
	ctx, span := tracer.Start(ctx, "scheduler."+name)
	defer span.End()

	start := time.Now()
	if err := fn(ctx); err != nil {
		slog.Error("scheduler job failed", slog.String("job", name), slog.Any("error", err))
		return
	}
	slog.Info("scheduler job completed", slog.String("job", name), slog.Duration("took", time.Since(start)))
}

// recoverTasks moves tasks stuck in running for longer than StuckTaskAge
// back to pending. ai_analysis tasks are deliberately excluded: the batch
// pipeline holds them in running for up to BatchMaxAge while it accumulates
// enough work to submit, and again while the submitted batch is in flight;
// their own recovery path is retry_stale_batches at the much longer
// StaleBatchAge threshold.
func (s *Scheduler) recoverTasks(ctx context.Context) error {
	cutoff := time.Now().Add(-s.Cfg.StuckTaskAge)
	for _, t := range []domain.TaskType{domain.TaskFullScrape, domain.TaskDiscover} {
		stuck, err := s.Tasks.RunningOlderThan(ctx, t, cutoff)
		if err != nil {
			return err
		}
		for _, task := range stuck {
			if err := s.Queue.RecoverStuck(ctx, task.ID); err != nil {
				slog.Error("scheduler: failed to recover stuck task", slog.String("task_id", task.ID), slog.Any("error", err))
			}
		}
	}
	return nil
}

func (s *Scheduler) retryMissingEmbeddings(ctx context.Context) error {
	n, err := s.Embedder.BackfillMissing(ctx, s.Cfg.EmbeddingBackfillLimit)
	if err != nil {
		return err
	}
	slog.Info("scheduler: embedding backfill pass complete", slog.Int("generated", n))
	return nil
}

// scheduleUpdates creates full_scrape tasks for active blogs whose last
// scrape has gone stale, prioritised by reach.
func (s *Scheduler) scheduleUpdates(ctx context.Context) error {
	cutoff := time.Now().Add(-s.Cfg.ScheduleUpdatesStaleAfter)
	blogs, err := s.Blogs.StaleActive(ctx, cutoff, s.Cfg.ScheduleUpdatesBatchSize)
	if err != nil {
		return err
	}
	for _, b := range blogs {
		id := b.ID
		if _, err := s.Queue.CreateIfAbsent(ctx, &id, domain.TaskFullScrape, 8, nil); err != nil {
			slog.Error("scheduler: failed to schedule update", slog.String("blog_id", id), slog.Any("error", err))
		}
	}
	slog.Info("scheduler: schedule_updates complete", slog.Int("scheduled", len(blogs)))
	return nil
}

// cleanup removes image objects belonging to blogs whose scrape_status has
// become deleted; their stored avatar/thumbnail objects are orphaned.
func (s *Scheduler) cleanup(ctx context.Context) error {
	ids, err := s.Blogs.DeletedBlogIDs(ctx)
	if err != nil {
		return err
	}

	var removed int
	for _, id := range ids {
		keys, err := s.Storage.List(ctx, id+"/")
		if err != nil {
			slog.Error("scheduler: cleanup list failed", slog.String("blog_id", id), slog.Any("error", err))
			continue
		}
		for _, key := range keys {
			if err := s.Storage.Delete(ctx, key); err != nil {
				slog.Error("scheduler: cleanup delete failed", slog.String("key", key), slog.Any("error", err))
				continue
			}
			removed++
		}
	}
	slog.Info("scheduler: cleanup complete", slog.Int("blogs", len(ids)), slog.Int("objects_removed", removed))
	return nil
}
