package server

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/chartforge/chartforge/internal/pipeline"
	"github.com/chartforge/chartforge/internal/store"
	"github.com/chartforge/chartforge/internal/streaming"
)

// Deps holds the dependencies for the HTTP server.
type Deps struct {
	Store        store.Store
	Orchestrator *pipeline.Orchestrator
	Hub          streaming.EventHub
	Logger       *slog.Logger
}

// Server exposes the pipeline and the session store over HTTP.
type Server struct {
	deps Deps
	http *http.Server
}

// recentSessionsCap bounds the recent-sessions index.
const recentSessionsCap = 10

// NewServer creates a Server listening on addr.
func NewServer(addr string, deps Deps) *Server {
	if deps.Logger == nil {
		deps.Logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
	}
	s := &Server{deps: deps}
	s.http = &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Handler returns the route table.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	// Stateless pipeline operations.
	mux.HandleFunc("POST /api/plan", s.handlePlan)
	mux.HandleFunc("POST /api/generate", s.handleGenerate)
	mux.HandleFunc("POST /api/generate/batch", s.handleGenerateBatch)
	mux.HandleFunc("POST /api/repair", s.handleRepair)

	// Sessions.
	mux.HandleFunc("POST /api/sessions", s.handleCreateSession)
	mux.HandleFunc("GET /api/sessions", s.handleListSessions)
	mux.HandleFunc("GET /api/sessions/{id}", s.handleGetSession)
	mux.HandleFunc("PUT /api/sessions/{id}", s.handleSyncSession)
	mux.HandleFunc("DELETE /api/sessions/{id}", s.handleDeleteSession)
	mux.HandleFunc("POST /api/sessions/{id}/charts/{chartID}/version", s.handleSetVersion)

	// Event streams.
	mux.HandleFunc("GET /api/events", s.handleSSEGlobal)
	mux.HandleFunc("GET /api/sessions/{id}/events", s.handleSessionEvents)

	mux.HandleFunc("GET /healthz", s.handleHealth)

	return mux
}

// Start begins serving. Blocks until the listener fails or Shutdown runs.
func (s *Server) Start() error {
	s.deps.Logger.Info("http server listening", "addr", s.http.Addr)
	err := s.http.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
