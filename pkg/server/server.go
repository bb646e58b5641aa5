package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"slices"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/systemstart/shipyard/pkg/processing"
)

const shutdownTimeout = 10 * time.Second

// Config wires the server to the rest of the program.
type Config struct {
	// Dispatch starts the jobs event triggers. It must return without
	// waiting for them.
	Dispatch func(event processing.Event)
	// Jobs are the job names that can be started manually.
	Jobs    []string
	Store   *processing.RunStore
	Metrics http.Handler
}

// Server accepts git push webhooks and manual run requests and reports
// finished runs.
type Server struct {
	cfg Config
}

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Error string `json:"error"`
}

// AcceptedResponse is returned when an event was dispatched.
type AcceptedResponse struct {
	Event processing.Event `json:"event"`
}

type pushRequest struct {
	Ref string `json:"ref"`
}

// New creates a Server.
func New(cfg Config) *Server {
	return &Server{cfg: cfg}
}

// Handler returns the HTTP routes of the server.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(
		middleware.RequestID,
		requestLogger,
		middleware.Recoverer,
	)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	if s.cfg.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", s.cfg.Metrics)
	}

	r.Post("/hooks/git-push", s.gitPush)
	r.Post("/jobs/{name}/run", s.runJob)

	r.Route("/runs", func(r chi.Router) {
		r.Get("/", s.listRuns)
		r.Get("/{id}", s.getRun)
	})

	return r
}

// ListenAndServe serves until ctx is done, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("server listening", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("serving: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutting down: %w", err)
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) gitPush(w http.ResponseWriter, r *http.Request) {
	var req pushRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("couldn't decode request body: %v", err))
		return
	}
	if req.Ref == "" {
		writeError(w, http.StatusBadRequest, "ref is required")
		return
	}

	event := processing.Event{Kind: processing.EventGitPush, Ref: req.Ref}
	s.cfg.Dispatch(event)
	writeJSON(w, http.StatusAccepted, AcceptedResponse{Event: event})
}

func (s *Server) runJob(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	if !slices.Contains(s.cfg.Jobs, name) {
		writeError(w, http.StatusNotFound, fmt.Sprintf("job %q not found", name))
		return
	}

	event := processing.Event{Kind: processing.EventManual, Jobs: []string{name}}
	s.cfg.Dispatch(event)
	writeJSON(w, http.StatusAccepted, AcceptedResponse{Event: event})
}

func (s *Server) listRuns(w http.ResponseWriter, r *http.Request) {
	runs := []processing.JobRun{}
	if s.cfg.Store != nil {
		runs = s.cfg.Store.List()
	}

	if job := r.URL.Query().Get("job"); job != "" {
		runs = slices.DeleteFunc(runs, func(run processing.JobRun) bool {
			return run.Job != job
		})
	}
	writeJSON(w, http.StatusOK, runs)
}

func (s *Server) getRun(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if s.cfg.Store != nil {
		if run, ok := s.cfg.Store.Get(id); ok {
			writeJSON(w, http.StatusOK, run)
			return
		}
	}
	writeError(w, http.StatusNotFound, fmt.Sprintf("run %q not found", id))
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("couldn't encode response body", "error", err)
	}
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, ErrorResponse{Error: msg})
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		slog.Debug("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration", time.Since(start),
			"request_id", middleware.GetReqID(r.Context()))
	})
}
