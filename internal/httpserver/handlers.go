package httpserver

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/aperta-labs/bloghound/internal/config"
	"github.com/aperta-labs/bloghound/internal/domain"
	"github.com/aperta-labs/bloghound/internal/queue"
)

// AccountStats is implemented by the account pool decorator sitting in
// front of the active scraper backend.
type AccountStats interface {
	Stats() (total, available int)
}

// Server aggregates the control plane's handler dependencies.
type Server struct {
	Cfg      config.Config
	Queue    *queue.Queue
	Blogs    domain.BlogRepository
	Accounts AccountStats
	DBCheck  func(context.Context) error
}

// NewServer constructs a Server with all handler dependencies wired.
func NewServer(cfg config.Config, q *queue.Queue, blogs domain.BlogRepository, accounts AccountStats, dbCheck func(context.Context) error) *Server {
	return &Server{Cfg: cfg, Queue: q, Blogs: blogs, Accounts: accounts, DBCheck: dbCheck}
}

var (
	vldOnce sync.Once
	vld     *validator.Validate
)

func getValidator() *validator.Validate {
	vldOnce.Do(func() { vld = validator.New() })
	return vld
}

// HealthHandler reports process-wide health: no auth required.
func (s *Server) HealthHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		status := "ok"
		if s.DBCheck != nil {
			if err := s.DBCheck(ctx); err != nil {
				status = "degraded"
			}
		}

		total, available := 0, 0
		if s.Accounts != nil {
			total, available = s.Accounts.Stats()
		}

		runningFilter := domain.TaskRunning
		pendingFilter := domain.TaskPending
		_, running, err := s.Queue.List(ctx, domain.TaskFilter{Status: &runningFilter}, 1, 0)
		if err != nil {
			status = "degraded"
		}
		_, pending, err := s.Queue.List(ctx, domain.TaskFilter{Status: &pendingFilter}, 1, 0)
		if err != nil {
			status = "degraded"
		}

		writeJSON(w, http.StatusOK, map[string]any{
			"status":             status,
			"accounts_total":     total,
			"accounts_available": available,
			"tasks_running":      running,
			"tasks_pending":      pending,
		})
	}
}

// ListTasksHandler serves GET /api/tasks.
func (s *Server) ListTasksHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()

		var filter domain.TaskFilter
		if v := q.Get("status"); v != "" {
			st := domain.TaskStatus(v)
			filter.Status = &st
		}
		if v := q.Get("task_type"); v != "" {
			tt := domain.TaskType(v)
			filter.Type = &tt
		}
		limit := parseIntDefault(q.Get("limit"), 20)
		offset := parseIntDefault(q.Get("offset"), 0)

		tasks, total, err := s.Queue.List(r.Context(), filter, limit, offset)
		if err != nil {
			writeError(w, r, err, nil)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"tasks":  tasks,
			"total":  total,
			"limit":  limit,
			"offset": offset,
		})
	}
}

// GetTaskHandler serves GET /api/tasks/{id}.
func (s *Server) GetTaskHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		task, err := s.Queue.Get(r.Context(), id)
		if err != nil {
			writeError(w, r, err, nil)
			return
		}
		writeJSON(w, http.StatusOK, task)
	}
}

type scrapeRequest struct {
	Usernames []string `json:"usernames" validate:"required,min=1,max=100,dive,required"`
}

type scrapeResultItem struct {
	TaskID   string `json:"task_id,omitempty"`
	Username string `json:"username"`
	BlogID   string `json:"blog_id"`
	Status   string `json:"status"`
}

// CreateScrapeTasksHandler serves POST /api/tasks/scrape.
func (s *Server) CreateScrapeTasksHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req scrapeRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, r, fmt.Errorf("%w: invalid json body", domain.ErrInvalidArgument), nil)
			return
		}

		usernames := normalizeUsernames(req.Usernames)
		req.Usernames = usernames
		if err := getValidator().Struct(req); err != nil {
			writeError(w, r, fmt.Errorf("%w: %v", domain.ErrInvalidArgument, err), nil)
			return
		}

		ctx := r.Context()
		var results []scrapeResultItem
		created, skipped := 0, 0
		for _, username := range usernames {
			blogID, _, err := s.Blogs.EnsureByUsername(ctx, domain.PlatformInstagram, username)
			if err != nil {
				writeError(w, r, err, nil)
				return
			}

			id := blogID
			taskID, err := s.Queue.CreateIfAbsent(ctx, &id, domain.TaskFullScrape, 5, nil)
			if err != nil {
				writeError(w, r, err, nil)
				return
			}
			if taskID == "" {
				skipped++
				results = append(results, scrapeResultItem{Username: username, BlogID: blogID, Status: "skipped"})
				continue
			}
			created++
			results = append(results, scrapeResultItem{TaskID: taskID, Username: username, BlogID: blogID, Status: "created"})
		}

		writeJSON(w, http.StatusCreated, map[string]any{
			"created": created,
			"skipped": skipped,
			"tasks":   results,
		})
	}
}

type discoverRequest struct {
	Hashtag      string `json:"hashtag" validate:"required"`
	MinFollowers int64  `json:"min_followers"`
}

// CreateDiscoverTaskHandler serves POST /api/tasks/discover.
func (s *Server) CreateDiscoverTaskHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		req := discoverRequest{MinFollowers: 1000}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, r, fmt.Errorf("%w: invalid json body", domain.ErrInvalidArgument), nil)
			return
		}
		req.Hashtag = strings.TrimPrefix(strings.TrimSpace(req.Hashtag), "#")
		if req.MinFollowers <= 0 {
			req.MinFollowers = 1000
		}
		if err := getValidator().Struct(req); err != nil {
			writeError(w, r, fmt.Errorf("%w: %v", domain.ErrInvalidArgument, err), nil)
			return
		}

		payload := map[string]any{
			domain.PayloadHashtag:      req.Hashtag,
			domain.PayloadMinFollowers: req.MinFollowers,
		}
		taskID, err := s.Queue.CreateIfAbsent(r.Context(), nil, domain.TaskDiscover, 5, payload)
		if err != nil {
			writeError(w, r, err, nil)
			return
		}

		resp := map[string]any{"hashtag": req.Hashtag}
		if taskID != "" {
			resp["task_id"] = taskID
		}
		writeJSON(w, http.StatusCreated, resp)
	}
}

// RetryTaskHandler serves POST /api/tasks/{id}/retry.
func (s *Server) RetryTaskHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		if err := s.Queue.Retry(r.Context(), id); err != nil {
			writeError(w, r, err, nil)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"task_id": id})
	}
}

// normalizeUsernames strips '@' and surrounding whitespace and de-duplicates
// while preserving first-seen order.
func normalizeUsernames(in []string) []string {
	seen := make(map[string]bool, len(in))
	out := make([]string, 0, len(in))
	for _, u := range in {
		u = strings.TrimSpace(u)
		u = strings.TrimPrefix(u, "@")
		u = strings.TrimSpace(u)
		if u == "" || seen[u] {
			continue
		}
		seen[u] = true
		out = append(out, u)
	}
	return out
}

func parseIntDefault(s string, def int) int {
	if s == "" {
		return def
	}
	n, err := strconv.Atoi(s)
	if err != nil || n < 0 {
		return def
	}
	return n
}
