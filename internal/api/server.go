// Package api implements the HTTP control surface of §6: deploy,
// lifecycle transitions, status, and a WebSocket feed of operational
// events.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/scip-range/exercise-orchestrator/internal/buildinfo"
	"github.com/scip-range/exercise-orchestrator/internal/engine"
	"github.com/scip-range/exercise-orchestrator/internal/events"
)

// writeJSON encodes v as JSON to w, logging any errors at debug level.
func writeJSON(w http.ResponseWriter, v any, logger *slog.Logger) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Debug("failed to write JSON response", "error", err)
	}
}

// Server is the HTTP control surface for the exercise registry.
type Server struct {
	address  string
	port     int
	registry *engine.Registry
	events   *events.Bus
	logger   *slog.Logger
	server   *http.Server
}

// NewServer builds a Server bound to registry. events, if non-nil, is
// rebroadcast to WebSocket subscribers of /v1/exercises/{id}/events.
func NewServer(address string, port int, registry *engine.Registry, eventBus *events.Bus, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		address:  address,
		port:     port,
		registry: registry,
		events:   eventBus,
		logger:   logger,
	}
}

// Start begins serving HTTP requests. It blocks until the server
// stops, mirroring http.Server.ListenAndServe.
func (s *Server) Start(ctx context.Context) error {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /v1/version", s.handleVersion)

	mux.HandleFunc("POST /v1/exercises/{id}/deploy", s.handleDeploy)
	mux.HandleFunc("POST /v1/exercises/{id}/begin", s.handleBegin)
	mux.HandleFunc("POST /v1/exercises/{id}/pause", s.handlePause)
	mux.HandleFunc("POST /v1/exercises/{id}/resume", s.handleResume)
	mux.HandleFunc("POST /v1/exercises/{id}/finish", s.handleFinish)
	mux.HandleFunc("POST /v1/exercises/{id}/stop", s.handleStop)
	mux.HandleFunc("GET /v1/exercises/{id}/status", s.handleStatus)
	mux.HandleFunc("GET /v1/exercises/{id}/events", s.handleEvents)
	mux.HandleFunc("GET /v1/exercises", s.handleList)

	s.server = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", s.address, s.port),
		Handler:      s.withLogging(mux),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 0, // the events endpoint streams indefinitely
	}

	s.logger.Info("starting control surface", "address", s.address, "port", s.port)
	return s.server.ListenAndServe()
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

// withLogging tags every request with a request ID (for correlating
// log lines with the client-visible X-Request-Id header) and logs its
// method, path, and duration on completion.
func (s *Server) withLogging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := uuid.NewString()
		w.Header().Set("X-Request-Id", reqID)

		start := time.Now()
		next.ServeHTTP(w, r)
		s.logger.Info("request",
			"request_id", reqID,
			"method", r.Method,
			"path", r.URL.Path,
			"duration", time.Since(start),
		)
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]string{"status": "healthy"}, s.logger)
}

func (s *Server) handleVersion(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, buildinfo.RuntimeInfo(), s.logger)
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]any{"scenarios": s.registry.ScenarioIDs()}, s.logger)
}

// errorResponse writes err as the standard control-surface error body
// per §6/§7: invalid transitions get their current_state echoed back.
func (s *Server) errorResponse(w http.ResponseWriter, err error) {
	var te *engine.TransitionError

	switch {
	case errors.As(err, &te):
		w.WriteHeader(http.StatusBadRequest)
		writeJSON(w, map[string]any{
			"error":         "invalid_transition",
			"message":       te.Error(),
			"current_state": string(te.Current),
		}, s.logger)
	case errors.Is(err, engine.ErrNotFound):
		w.WriteHeader(http.StatusNotFound)
		writeJSON(w, map[string]any{"error": "not_found", "message": err.Error()}, s.logger)
	case errors.Is(err, engine.ErrAlreadyActive):
		w.WriteHeader(http.StatusConflict)
		writeJSON(w, map[string]any{"error": "already_active", "message": err.Error()}, s.logger)
	case errors.Is(err, engine.ErrMalformed), errors.Is(err, engine.ErrDeployFailed):
		w.WriteHeader(http.StatusUnprocessableEntity)
		writeJSON(w, map[string]any{"error": "deploy_failed", "message": err.Error()}, s.logger)
	default:
		w.WriteHeader(http.StatusInternalServerError)
		writeJSON(w, map[string]any{"error": "internal", "message": err.Error()}, s.logger)
	}
}

func (s *Server) handleDeploy(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	e, err := s.registry.Deploy(r.Context(), id)
	if err != nil {
		s.logger.Warn("deploy failed", "scenario", id, "error", err)
		s.errorResponse(w, err)
		return
	}
	w.WriteHeader(http.StatusCreated)
	writeJSON(w, e.Status(), s.logger)
}

func (s *Server) withEngine(w http.ResponseWriter, r *http.Request) (*engine.Engine, bool) {
	id := r.PathValue("id")
	e, ok := s.registry.Get(id)
	if !ok {
		s.errorResponse(w, fmt.Errorf("%w: %s", engine.ErrNotFound, id))
		return nil, false
	}
	return e, true
}

func (s *Server) handleBegin(w http.ResponseWriter, r *http.Request) {
	e, ok := s.withEngine(w, r)
	if !ok {
		return
	}
	if err := e.Begin(r.Context()); err != nil {
		s.errorResponse(w, err)
		return
	}
	writeJSON(w, e.Status(), s.logger)
}

func (s *Server) handlePause(w http.ResponseWriter, r *http.Request) {
	e, ok := s.withEngine(w, r)
	if !ok {
		return
	}
	if err := e.Pause(r.Context()); err != nil {
		s.errorResponse(w, err)
		return
	}
	writeJSON(w, e.Status(), s.logger)
}

func (s *Server) handleResume(w http.ResponseWriter, r *http.Request) {
	e, ok := s.withEngine(w, r)
	if !ok {
		return
	}
	if err := e.Resume(r.Context()); err != nil {
		s.errorResponse(w, err)
		return
	}
	writeJSON(w, e.Status(), s.logger)
}

func (s *Server) handleFinish(w http.ResponseWriter, r *http.Request) {
	e, ok := s.withEngine(w, r)
	if !ok {
		return
	}
	if err := e.Finish(r.Context()); err != nil {
		s.errorResponse(w, err)
		return
	}
	writeJSON(w, e.Status(), s.logger)
}

func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	e, ok := s.withEngine(w, r)
	if !ok {
		return
	}
	if err := e.Stop(r.Context()); err != nil {
		s.errorResponse(w, err)
		return
	}
	s.registry.Remove(id)
	writeJSON(w, e.Status(), s.logger)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	e, ok := s.withEngine(w, r)
	if !ok {
		return
	}
	writeJSON(w, e.Status(), s.logger)
}
