// Package api exposes the minimal HTTP surface ForestShield's core
// owns directly: liveness/health and Prometheus metrics. The REST
// surface for region CRUD, scheduler control, and alert queries is an
// explicit out-of-scope collaborator (spec §1) — a thin controller
// layer that would sit in front of the operations internal/cli exposes
// directly against the core packages, not reimplemented here.
package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/forestshield/core/internal/health"
)

// Server is ForestShield's operational HTTP surface.
type Server struct {
	checker *health.Checker
	router  chi.Router
}

// NewServer builds the router. checker may be nil if no health checks
// were wired (e.g. a CLI-only invocation).
func NewServer(checker *health.Checker) *Server {
	s := &Server{checker: checker}
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))
	r.Get("/healthz", s.handleHealthz)
	r.Handle("/metrics", promhttp.Handler())
	s.router = r
	return s
}

func (s *Server) Handler() http.Handler { return s.router }

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if s.checker == nil {
		w.WriteHeader(http.StatusOK)
		_ = json.NewEncoder(w).Encode(map[string]any{"healthy": true, "checks": []health.Status{}})
		return
	}
	statuses := s.checker.Statuses()
	healthy := s.checker.IsHealthy()
	if !healthy {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	_ = json.NewEncoder(w).Encode(map[string]any{"healthy": healthy, "checks": statuses})
}
