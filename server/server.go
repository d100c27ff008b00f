// Package server exposes job management over HTTP: CRUD on definitions,
// manual triggers, run history, statistics, health and Prometheus metrics.
package server

import (
	"context"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/teranos/easyjob/errors"
	"github.com/teranos/easyjob/internal/version"
	"github.com/teranos/easyjob/logger"
	"github.com/teranos/easyjob/pulse/async"
	"github.com/teranos/easyjob/pulse/schedule"
	"github.com/teranos/easyjob/store"
)

const (
	DefaultPageSize = 10
	MaxPageSize     = 500
	DefaultStatDays = 7
	MaxStatDays     = 366

	readHeaderTimeout = 10 * time.Second
)

// Engine is the part of *async.Engine the API drives.
type Engine interface {
	Trigger(ctx context.Context, jobID int) (*async.Handle, error)
	InFlight() int
	SystemMetrics() async.SystemMetrics
}

// Scheduler is the part of *schedule.Scheduler the API reads and nudges.
type Scheduler interface {
	Entries() []schedule.Entry
	RequestRescan()
}

// Registry reports whether a job id has an implementation.
type Registry interface {
	Has(jobID int) bool
}

// Deps are the collaborators the API serves. Scheduler and Gatherer may
// be nil.
type Deps struct {
	Store     *store.Store
	Engine    Engine
	Registry  Registry
	Scheduler Scheduler
	Gatherer  prometheus.Gatherer
	Logger    *zap.SugaredLogger
}

// Server serves the HTTP API.
type Server struct {
	deps Deps
	jobs *store.Collection
	hist *store.Collection
	log  *zap.SugaredLogger

	http *http.Server
	now  func() time.Time
}

// New creates a server. Call Handler for tests or ListenAndServe to serve.
func New(deps Deps) *Server {
	log := deps.Logger
	if log == nil {
		log = logger.ComponentLogger("server")
	}
	return &Server{
		deps: deps,
		jobs: deps.Store.Jobs(),
		hist: deps.Store.History(),
		log:  log,
		now:  time.Now,
	}
}

// Handler builds the router.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(s.requestLog)

	r.Get("/health", s.handleHealth)
	if s.deps.Gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(s.deps.Gatherer, promhttp.HandlerOpts{}))
	}

	r.Route("/api", func(r chi.Router) {
		r.Route("/jobs", func(r chi.Router) {
			r.Post("/", s.handleCreateJob)
			r.Get("/", s.handleListJobs)
			r.Get("/{id}", s.handleGetJob)
			r.Put("/{id}", s.handleUpdateJob)
			r.Delete("/{id}", s.handleDeleteJob)
			r.Post("/{id}/trigger", s.handleTriggerJob)
		})
		r.Get("/history", s.handleListHistory)
		r.Get("/statistics", s.handleStatistics)
		r.Get("/triggers", s.handleTriggers)
		r.Get("/system", s.handleSystem)
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusNotFound, Envelope{Code: http.StatusNotFound, Message: "no such endpoint"})
	})
	return r
}

// ListenAndServe serves on addr until Shutdown. It returns once the
// listener is bound, reporting bind errors directly.
func (s *Server) ListenAndServe(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return errors.Wrapf(err, "failed to listen on %s", addr)
	}
	s.http = &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: readHeaderTimeout,
	}

	go func() {
		if err := s.http.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Errorw("HTTP server stopped", logger.FieldError, err)
		}
	}()
	s.log.Infow("HTTP API listening", logger.FieldAddress, ln.Addr().String())
	return nil
}

// Shutdown stops accepting requests and waits for in-flight ones until ctx
// ends.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.http == nil {
		return nil
	}
	if err := s.http.Shutdown(ctx); err != nil {
		return errors.Wrap(err, "HTTP shutdown")
	}
	return nil
}

func (s *Server) requestLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		r = r.WithContext(logger.WithRequestID(r.Context(), middleware.GetReqID(r.Context())))
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.reqLog(r).Debugw("Request",
			logger.FieldMethod, r.Method,
			logger.FieldPath, r.URL.Path,
			logger.FieldStatus, ww.Status(),
			logger.FieldDurationMS, time.Since(start).Milliseconds())
	})
}

// reqLog is the server logger tagged with the request id.
func (s *Server) reqLog(r *http.Request) *zap.SugaredLogger {
	return logger.FromContext(r.Context(), s.log)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	triggers := 0
	if s.deps.Scheduler != nil {
		triggers = len(s.deps.Scheduler.Entries())
	}
	writeOK(w, map[string]interface{}{
		"status":    "ok",
		"in_flight": s.deps.Engine.InFlight(),
		"triggers":  triggers,
		"version":   version.Get().Version,
	})
}

func (s *Server) handleSystem(w http.ResponseWriter, r *http.Request) {
	writeOK(w, s.deps.Engine.SystemMetrics())
}

func (s *Server) handleTriggers(w http.ResponseWriter, r *http.Request) {
	if s.deps.Scheduler == nil {
		s.writeError(w, r, errors.Wrap(errors.ErrServiceUnavailable, "scheduler not running"))
		return
	}
	writeOK(w, s.deps.Scheduler.Entries())
}
