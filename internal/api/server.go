// Package api serves the folio HTTP API.
package api

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/mattjoyce/folio/internal/auth"
	"github.com/mattjoyce/folio/internal/batch"
	"github.com/mattjoyce/folio/internal/config"
	"github.com/mattjoyce/folio/internal/events"
	"github.com/mattjoyce/folio/internal/outline"
)

// JobReader reads live job progress.
type JobReader interface {
	Status(jobID string) (batch.Progress, error)
	List() []batch.Progress
}

// JobRecords reads persisted jobs, including those of earlier processes.
type JobRecords interface {
	Get(ctx context.Context, id string) (*batch.JobRecord, error)
}

// PDFBuilder schedules PDF assembly jobs.
type PDFBuilder interface {
	BuildDocumentTree(ctx context.Context, targetID int64) (string, error)
}

// BookUtility schedules whole-book maintenance jobs.
type BookUtility interface {
	UpdateBook(ctx context.Context, bookID int64, publish bool) (string, error)
	DeleteBook(ctx context.Context, bookID int64) (string, error)
	DeleteBranch(ctx context.Context, branchID int64) (string, error)
}

// OutlineWalker flattens book outlines.
type OutlineWalker interface {
	Walk(ctx context.Context, rootID int64, includeUnpublished bool) ([]int64, []outline.Diagnostic, error)
}

// LockLister exposes the advisory lock table.
type LockLister interface {
	Snapshot() map[string][]int64
}

// Deps are the components the API fronts.
type Deps struct {
	Jobs      JobReader
	Records   JobRecords
	Builder   PDFBuilder
	Books     BookUtility
	Outline   OutlineWalker
	Documents outline.Store
	Locks     LockLister
	Events    *events.Hub
}

// Server represents the HTTP API server
type Server struct {
	config    config.APIConfig
	deps      Deps
	logger    *slog.Logger
	server    *http.Server
	startedAt time.Time
}

// New creates a new API server instance
func New(cfg config.APIConfig, deps Deps, logger *slog.Logger) *Server {
	if deps.Events == nil {
		deps.Events = events.NewHub(256)
	}
	return &Server{
		config:    cfg,
		deps:      deps,
		logger:    logger,
		startedAt: time.Now(),
	}
}

// Start starts the HTTP server (blocking)
func (s *Server) Start(ctx context.Context) error {
	s.server = &http.Server{
		Addr:        s.config.Listen,
		Handler:     s.Handler(),
		ReadTimeout: 10 * time.Second,
		IdleTimeout: 60 * time.Second,
	}

	s.logger.Info("API server starting", "listen", s.config.Listen)

	errCh := make(chan error, 1)
	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("API server shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown failed: %w", err)
		}
		return ctx.Err()
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	}
}

// Handler returns the routed handler.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.loggingMiddleware)
	r.Use(middleware.Recoverer)

	// Unauthenticated ops endpoint.
	r.Get("/healthz", s.handleHealthz)

	r.Group(func(r chi.Router) {
		r.Use(s.authMiddleware)

		r.Route("/books/{id}", func(r chi.Router) {
			r.With(s.requireScopes(auth.ScopeBooksRead)).Get("/outline", s.handleOutline)
			r.Group(func(r chi.Router) {
				r.Use(s.requireScopes(auth.ScopeBooksWrite))
				r.Post("/pdf", s.handleBuildPDF)
				r.Post("/publish", s.handlePublish(true))
				r.Post("/unpublish", s.handlePublish(false))
				r.Delete("/", s.handleDeleteBook)
			})
		})
		r.With(s.requireScopes(auth.ScopeBooksWrite)).Delete("/branches/{id}", s.handleDeleteBranch)

		r.With(s.requireScopes(auth.ScopeJobsRead)).Get("/jobs/{jobID}", s.handleGetJob)
		r.With(s.requireScopes(auth.ScopeBooksRead, auth.ScopeJobsRead)).Get("/locks", s.handleLocks)
		r.With(s.requireScopes(auth.ScopeEventsRead)).Get("/events", s.handleEvents)
	})

	return r
}

// loggingMiddleware logs HTTP requests
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.logger.Info("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration_ms", time.Since(start).Milliseconds(),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}
