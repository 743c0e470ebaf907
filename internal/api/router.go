package api

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/go-playground/validator/v10"

	"github.com/p-arndt/texcompile/internal/clock"
	"github.com/p-arndt/texcompile/internal/render"
	"github.com/p-arndt/texcompile/internal/session"
	"github.com/p-arndt/texcompile/internal/taskqueue"
)

// Server wires the HTTP surface from spec.md §6 onto a SessionManager,
// Renderer, and TaskQueue, following the teacher's net/http.ServeMux
// pattern-routing style in internal/api/router.go.
type Server struct {
	manager  *session.Manager
	renderer *render.Renderer
	queue    *taskqueue.Queue
	clk      clock.Clock
	logger   *slog.Logger
	validate *validator.Validate
	mux      *http.ServeMux
}

func NewServer(mgr *session.Manager, renderer *render.Renderer, queue *taskqueue.Queue, clk clock.Clock, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		manager:  mgr,
		renderer: renderer,
		queue:    queue,
		clk:      clk,
		logger:   logger,
		validate: validator.New(),
		mux:      http.NewServeMux(),
	}
	s.routes()
	return s
}

func (s *Server) Handler() http.Handler {
	return s.requestIDMiddleware(s.loggingMiddleware(s.mux))
}

func (s *Server) routes() {
	s.mux.HandleFunc("GET /api", s.handleAPIHome)
	s.mux.HandleFunc("GET /api/sessions", s.handleSessionsRedirect)
	s.mux.HandleFunc("POST /api/sessions", s.handleCreateSession)

	s.mux.HandleFunc("GET /api/sessions/{id}", s.handleGetSession)
	s.mux.HandleFunc("POST /api/sessions/{id}", s.handleUpdateSession)

	s.mux.HandleFunc("GET /api/sessions/{id}/files", s.handleGetFiles)
	s.mux.HandleFunc("POST /api/sessions/{id}/files", s.handlePostFiles)

	s.mux.HandleFunc("GET /api/sessions/{id}/templates", s.handleGetTemplates)
	s.mux.HandleFunc("POST /api/sessions/{id}/templates", s.handlePostTemplate)

	s.mux.HandleFunc("GET /api/sessions/{id}/product", s.handleGetProduct)
	s.mux.HandleFunc("GET /api/sessions/{id}/log", s.handleGetLog)

	s.mux.HandleFunc("GET /api/status", s.handleStatus)

	s.mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
