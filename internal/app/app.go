// Package app wires the HTTP router and readiness checks over the handler
// and scheduler packages. It contains no business logic of its own.
package app

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/aperta-labs/bloghound/internal/config"
	"github.com/aperta-labs/bloghound/internal/httpserver"
	"github.com/aperta-labs/bloghound/internal/observability"
)

// ParseOrigins splits a comma-separated origin list, trimming whitespace.
func ParseOrigins(s string) []string {
	s = strings.TrimSpace(s)
	if s == "" || s == "*" {
		return []string{"*"}
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	if len(out) == 0 {
		return []string{"*"}
	}
	return out
}

// BuildRouter constructs the full HTTP handler: middleware, auth, routes.
func BuildRouter(cfg config.Config, srv *httpserver.Server) http.Handler {
	r := chi.NewRouter()
	r.Use(httpserver.Recoverer)
	r.Use(httpserver.RequestID)
	r.Use(httpserver.TraceMiddleware)
	r.Use(httpserver.AccessLog)
	r.Use(httpserver.SecurityHeaders)
	r.Use(observability.HTTPMetricsMiddleware)
	r.Use(httprate.LimitByIP(cfg.RateLimitPerMin, time.Minute))

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: ParseOrigins(cfg.CORSAllowOrigins),
		AllowedMethods: []string{"GET", "POST"},
		AllowedHeaders: []string{"Authorization", "Content-Type"},
		ExposedHeaders: []string{"X-Request-Id"},
		MaxAge:         300,
	}))

	r.Get("/api/health", srv.HealthHandler())

	r.Group(func(auth chi.Router) {
		auth.Use(httpserver.BearerAuth(cfg.ControlPlaneToken))
		auth.Get("/metrics", promhttp.Handler().ServeHTTP)
		auth.Get("/api/tasks", srv.ListTasksHandler())
		auth.Get("/api/tasks/{id}", srv.GetTaskHandler())
		auth.Post("/api/tasks/scrape", srv.CreateScrapeTasksHandler())
		auth.Post("/api/tasks/discover", srv.CreateDiscoverTaskHandler())
		auth.Post("/api/tasks/{id}/retry", srv.RetryTaskHandler())
	})

	return r
}

// Pinger is the minimal interface a database pool needs for a readiness check.
type Pinger interface {
	Ping(ctx context.Context) error
}

// BuildDBCheck returns a readiness check that pings pool.
func BuildDBCheck(pool Pinger) func(context.Context) error {
	return func(ctx context.Context) error {
		if pool == nil {
			return fmt.Errorf("db not configured")
		}
		return pool.Ping(ctx)
	}
}
