// Package server exposes a Scheduler over a JSON HTTP API.
package server

import (
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/me/batchgate/internal/config"
	"github.com/me/batchgate/internal/scheduler"
	"github.com/me/batchgate/internal/store"
	"github.com/me/batchgate/pkg/model"
)

// Version is reported by the health and discovery endpoints.
const Version = "0.1.0"

// Server is the batchgate REST API server.
type Server struct {
	router    chi.Router
	logger    *slog.Logger
	config    config.ServerConfig
	startTime time.Time
	scheduler scheduler.Scheduler
	store     store.Store // optional; nil disables /history

	mu   sync.Mutex
	jobs map[string]*model.Job // submitted through this server, by id
}

// Option configures optional Server dependencies.
type Option func(*Server)

// WithStore sets the archive served under /history.
func WithStore(st store.Store) Option {
	return func(s *Server) {
		s.store = st
	}
}

// New creates a new Server with all routes registered.
func New(cfg config.ServerConfig, sched scheduler.Scheduler, logger *slog.Logger, opts ...Option) *Server {
	s := &Server{
		router:    chi.NewRouter(),
		logger:    logger.With("component", "server"),
		config:    cfg,
		startTime: time.Now(),
		scheduler: sched,
		jobs:      make(map[string]*model.Job),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.routes()
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// Handler returns the http.Handler for this server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) routes() {
	r := s.router

	// Global middleware
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(requestIDMiddleware)
	r.Use(loggingMiddleware(s.logger))

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/", s.handleDiscovery)
		r.Get("/health", s.handleHealth)

		r.Route("/jobs", func(r chi.Router) {
			r.Get("/", s.handleListJobs)
			r.Post("/", s.handleSubmitJob)
			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", s.handleGetJob)
				r.Delete("/", s.handleCancelJob)
				r.Post("/wait", s.handleWaitJob)
			})
		})

		r.Route("/queues", func(r chi.Router) {
			r.Get("/", s.handleListQueues)
			r.Get("/{name}", s.handleGetQueue)
		})

		r.Route("/history", func(r chi.Router) {
			r.Get("/", s.handleListHistory)
			r.Get("/{id}", s.handleGetHistory)
		})
	})
}

// remember records a job submitted through this server.
func (s *Server) remember(job *model.Job) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs[job.Identifier()] = job
}

// job returns the job with id. Jobs not submitted through this server are
// addressed by id alone, which is all the remote schedulers need.
func (s *Server) job(id string) *model.Job {
	s.mu.Lock()
	defer s.mu.Unlock()
	if job, ok := s.jobs[id]; ok {
		return job
	}
	return model.NewJob(model.JobDescription{}, s.scheduler.Name(), id)
}
