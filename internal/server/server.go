// Package server exposes the veridex HTTP API: check submission and
// retrieval, websocket progress streaming, health and metrics.
package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/veridexlabs/veridex/internal/admission"
	"github.com/veridexlabs/veridex/internal/ingest"
	"github.com/veridexlabs/veridex/internal/progress"
	"github.com/veridexlabs/veridex/internal/queue"
	"github.com/veridexlabs/veridex/internal/store"
)

// Server is the HTTP front of the service.
type Server struct {
	store       *store.Store
	queue       *queue.Queue
	gate        admission.Gate
	ingestor    *ingest.Ingestor
	broadcaster *progress.Broadcaster
	validate    *validator.Validate
	registry    *prometheus.Registry
	logger      *zap.Logger

	httpServer *http.Server
}

// Options bundles the server's collaborators.
type Options struct {
	Addr        string
	Store       *store.Store
	Queue       *queue.Queue
	Gate        admission.Gate
	Ingestor    *ingest.Ingestor
	Broadcaster *progress.Broadcaster
	Registry    *prometheus.Registry
	Logger      *zap.Logger
}

// New builds the server and its router.
func New(opts Options) *Server {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Gate == nil {
		opts.Gate = admission.AllowAll{}
	}
	s := &Server{
		store:       opts.Store,
		queue:       opts.Queue,
		gate:        opts.Gate,
		ingestor:    opts.Ingestor,
		broadcaster: opts.Broadcaster,
		validate:    validator.New(),
		registry:    opts.Registry,
		logger:      opts.Logger,
	}
	s.httpServer = &http.Server{
		Addr:              opts.Addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Router assembles the route tree. Exposed for httptest.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", s.handleHealthz)
	if s.registry != nil {
		r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{}))
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/checks", s.handleSubmit)
		r.Get("/checks/{id}", s.handleGet)
		r.Get("/checks/{id}/progress", s.handleProgress)
	})
	return r
}

// ListenAndServe blocks until the listener fails or Shutdown is called.
func (s *Server) ListenAndServe() error {
	s.logger.Info("http server listening", zap.String("addr", s.httpServer.Addr))
	err := s.httpServer.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	if err := s.store.DB().PingContext(r.Context()); err != nil {
		http.Error(w, "database unavailable", http.StatusServiceUnavailable)
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}
