// Command server starts the bloghound HTTP control plane, polling worker,
// and scheduler as three co-resident loops in a single process.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aperta-labs/bloghound/internal/adapter/ai/openai"
	"github.com/aperta-labs/bloghound/internal/adapter/repo/postgres"
	"github.com/aperta-labs/bloghound/internal/adapter/scraper"
	"github.com/aperta-labs/bloghound/internal/adapter/scraper/hikerapi"
	"github.com/aperta-labs/bloghound/internal/adapter/scraper/instagrapi"
	miniostorage "github.com/aperta-labs/bloghound/internal/adapter/storage/minio"
	"github.com/aperta-labs/bloghound/internal/adapter/vector/qdrant"
	"github.com/aperta-labs/bloghound/internal/app"
	"github.com/aperta-labs/bloghound/internal/batch"
	"github.com/aperta-labs/bloghound/internal/config"
	"github.com/aperta-labs/bloghound/internal/domain"
	"github.com/aperta-labs/bloghound/internal/embedding"
	"github.com/aperta-labs/bloghound/internal/handler"
	"github.com/aperta-labs/bloghound/internal/httpserver"
	"github.com/aperta-labs/bloghound/internal/observability"
	"github.com/aperta-labs/bloghound/internal/queue"
	"github.com/aperta-labs/bloghound/internal/scheduler"
	"github.com/aperta-labs/bloghound/internal/taxonomy"
	"github.com/aperta-labs/bloghound/internal/worker"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	logger := observability.NewLogger(cfg.AppEnv, cfg.OTELServiceName)
	slog.SetDefault(logger)
	observability.InitMetrics()

	shutdownTracer, err := observability.SetupTracing(cfg)
	if err != nil {
		slog.Error("failed to set up tracing", slog.Any("error", err))
	}
	defer func() {
		if shutdownTracer != nil {
			_ = shutdownTracer(context.Background())
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := postgres.NewPool(ctx, cfg.DBURL)
	if err != nil {
		slog.Error("db connect failed", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()

	blogsRepo := postgres.NewBlogRepo(pool)
	tasksRepo := postgres.NewTaskRepo(pool)
	taxonomyRepo := postgres.NewTaxonomyRepo(pool)

	backoffSchedule := queue.NewBackoffSchedule(cfg.RetryInitialDelay, cfg.RetryMaxDelay, cfg.RetryMultiplier)
	q := queue.New(tasksRepo, backoffSchedule)

	var baseScraper domain.Scraper
	switch cfg.ScraperBackend {
	case "instagrapi":
		baseScraper = instagrapi.New(cfg)
	default:
		baseScraper = hikerapi.New(cfg)
	}
	accountPool := scraper.NewAccountPool(baseScraper, 15*time.Minute)

	storageClient, err := miniostorage.New(ctx, cfg.StorageEndpoint, cfg.StorageAccessKey, cfg.StorageSecretKey, cfg.StorageBucket, cfg.StorageUseSSL)
	if err != nil {
		slog.Error("object storage connect failed", slog.Any("error", err))
		os.Exit(1)
	}

	aiClient := openai.New(cfg)

	vectorIndex := qdrant.New(cfg.QdrantURL, cfg.QdrantAPIKey, cfg.QdrantCollection)
	if err := vectorIndex.EnsureCollection(ctx); err != nil {
		slog.Error("failed to ensure qdrant collection", slog.Any("error", err))
	}

	embedder := embedding.New(blogsRepo, aiClient, vectorIndex)
	taxonomyMatcher := taxonomy.New(taxonomyRepo)

	pipeline := batch.New(tasksRepo, blogsRepo, taxonomyRepo, aiClient, taxonomyMatcher, embedder, q, cfg)

	deps := &handler.Deps{
		Blogs:   blogsRepo,
		Queue:   q,
		Scraper: accountPool,
		Storage: storageClient,
		Cfg:     cfg,
		Batch:   pipeline,
	}
	handlers := map[domain.TaskType]worker.Handler{
		domain.TaskFullScrape: deps.FullScrape,
		domain.TaskDiscover:   deps.Discover,
		domain.TaskAIAnalysis: deps.AIAnalysis,
	}
	wkr := worker.New(q, handlers, cfg.WorkerPollInterval, cfg.WorkerMaxConcurrency, cfg.WorkerClaimBatchSize)

	sched := scheduler.New(tasksRepo, blogsRepo, q, pipeline, embedder, storageClient, cfg)

	srv := httpserver.NewServer(cfg, q, blogsRepo, accountPool, app.BuildDBCheck(pool))
	router := app.BuildRouter(cfg, srv)

	httpSrv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           router,
		ReadTimeout:       cfg.HTTPReadTimeout,
		WriteTimeout:      cfg.HTTPWriteTimeout,
		IdleTimeout:       cfg.HTTPIdleTimeout,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go wkr.Run(ctx)
	go sched.Run(ctx)

	errCh := make(chan error, 1)
	go func() {
		slog.Info("http server starting", slog.Int("port", cfg.Port))
		errCh <- httpSrv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		slog.Info("shutdown signal received")
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("http server error", slog.Any("error", err))
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ServerShutdownTimeout)
	defer cancel()
	_ = httpSrv.Shutdown(shutdownCtx)
}
