// Package api exposes review sessions over HTTP.
package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/time/rate"

	"github.com/sells-group/reconcile-cli/internal/monitoring"
	"github.com/sells-group/reconcile-cli/internal/review"
	"github.com/sells-group/reconcile-cli/internal/snapshot"
	"github.com/sells-group/reconcile-cli/internal/store"
)

// ReviewerHeader carries the reviewer identity recorded on decisions.
const ReviewerHeader = "X-Reviewer"

const (
	maxBodyBytes = 32 << 20
	maxPageSize  = 5000
)

// Options configures the API server.
type Options struct {
	CORSOrigins []string
	// RateLimit is requests per second across all clients. Zero disables it.
	RateLimit rate.Limit
	RateBurst int
	// PageSize is the default snapshot page and compare read size.
	PageSize int
	// DefaultReviewer is used when a request has no reviewer header.
	DefaultReviewer string
}

// Server serves the review API.
type Server struct {
	store     store.Store
	manager   *review.Manager
	collector *monitoring.Collector
	opts      Options
}

// New creates a Server.
func New(st store.Store, mgr *review.Manager, opts Options) *Server {
	if opts.PageSize <= 0 {
		opts.PageSize = snapshot.DefaultPageSize
	}
	if opts.DefaultReviewer == "" {
		opts.DefaultReviewer = "reviewer"
	}
	if len(opts.CORSOrigins) == 0 {
		opts.CORSOrigins = []string{"*"}
	}
	return &Server{
		store:     st,
		manager:   mgr,
		collector: monitoring.NewCollector(st),
		opts:      opts,
	}
}

// Handler builds the router.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: s.opts.CORSOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type", ReviewerHeader},
		MaxAge:         300,
	}))
	if s.opts.RateLimit > 0 {
		r.Use(rateLimit(rate.NewLimiter(s.opts.RateLimit, max(s.opts.RateBurst, 1))))
	}

	r.Get("/health", s.health)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api", func(r chi.Router) {
		r.Use(middleware.Timeout(60 * time.Second))

		r.Get("/overview", s.overview)

		r.Route("/sessions", func(r chi.Router) {
			r.Get("/", s.listSessions)
			r.Post("/", s.createSession)

			r.Route("/{sessionID}", func(r chi.Router) {
				r.Get("/", s.getSession)
				r.Get("/stats", s.sessionStats)
				r.Get("/changes", s.listChanges)
				r.Post("/changes/{changeID}/accept", s.accept)
				r.Post("/changes/{changeID}/reject", s.reject)
				r.Post("/changes/{changeID}/override", s.override)
				r.Post("/bulk/accept", s.bulkAccept)
				r.Post("/bulk/reject", s.bulkReject)
				r.Post("/save", s.save)
				r.Post("/finalize", s.finalize)
				r.Get("/changelog", s.changelog)
			})
		})

		r.Get("/snapshots", s.listSnapshots)
		r.Get("/snapshots/rows", s.snapshotRows)
		r.Get("/compare", s.compare)
	})

	return r
}

func (s *Server) reviewer(r *http.Request) string {
	if v := r.Header.Get(ReviewerHeader); v != "" {
		return v
	}
	return s.opts.DefaultReviewer
}
