package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/tidewatch/chronocrawl/internal/checkpoint"
)

// Server exposes crawl progress over HTTP so a long unattended run can be
// observed without touching the checkpoint file.
type Server struct {
	store  *checkpoint.Store
	runID  string
	srv    *http.Server
	logger *slog.Logger
}

func New(addr string, store *checkpoint.Store, runID string) *Server {
	s := &Server{
		store:  store,
		runID:  runID,
		logger: slog.Default().With("component", "api"),
	}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET"},
	}))

	r.Get("/healthz", s.handleHealth)
	r.Get("/status", s.handleStatus)

	s.srv = &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	return s
}

// Start serves in the background; errors other than a clean shutdown are
// logged, not fatal to the crawl.
func (s *Server) Start() {
	go func() {
		s.logger.Info("status server listening", "addr", s.srv.Addr)
		if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("status server failed", "error", err)
		}
	}()
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	s.respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type statusResponse struct {
	RunID string           `json:"run_id"`
	Stats checkpoint.Stats `json:"stats"`
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	s.respondJSON(w, http.StatusOK, statusResponse{
		RunID: s.runID,
		Stats: s.store.Stats(),
	})
}

func (s *Server) respondJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Error("failed to encode response", "error", err)
	}
}
