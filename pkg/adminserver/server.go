// Package adminserver exposes operator-facing HTTP endpoints for pool
// introspection and live reconfiguration. This is not the request-dispatch
// front-end that routes client sessions to instances — it never calls
// Pool.Get or Pool.Release, it only reports state and adjusts pool-wide
// knobs.
package adminserver

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"github.com/pipeops/apppool/pkg/pool"
)

// StatsSource is the subset of *pool.Pool the admin surface reads.
type StatsSource interface {
	Stats() pool.Stats
}

// Controller is the subset of *pool.Pool the admin surface may mutate —
// the live-tunable setters and shutdown, nothing session-related.
type Controller interface {
	SetMax(int) error
	SetMaxPerApp(int) error
	SetUseGlobalQueue(bool)
	SetMaxIdleTime(time.Duration) error
	SetCleanInterval(time.Duration) error
	Shutdown(context.Context) error
}

// Server wires Router to a StatsSource, an optional Controller, and an
// optional metrics handler.
type Server struct {
	Router *mux.Router

	stats      StatsSource
	controller Controller
	log        logrus.FieldLogger
	metrics    http.Handler
}

// New builds a Server. controller and metricsHandler may both be nil to run
// a read-only, metrics-less admin surface.
func New(stats StatsSource, controller Controller, log logrus.FieldLogger, metricsHandler http.Handler) *Server {
	if log == nil {
		log = logrus.StandardLogger()
	}
	s := &Server{
		Router:     mux.NewRouter(),
		stats:      stats,
		controller: controller,
		log:        log.WithField("component", "adminserver"),
		metrics:    metricsHandler,
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.Router.HandleFunc("/healthz", s.handleHealthz).Methods(http.MethodGet)
	s.Router.HandleFunc("/stats", s.handleStats).Methods(http.MethodGet)
	if s.metrics != nil {
		s.Router.Handle("/metrics", s.metrics).Methods(http.MethodGet)
	}
	if s.controller != nil {
		s.Router.HandleFunc("/control/max", s.handleSetMax).Methods(http.MethodPost)
		s.Router.HandleFunc("/control/max-per-app", s.handleSetMaxPerApp).Methods(http.MethodPost)
		s.Router.HandleFunc("/control/global-queue", s.handleSetUseGlobalQueue).Methods(http.MethodPost)
		s.Router.HandleFunc("/control/max-idle-time", s.handleSetMaxIdleTime).Methods(http.MethodPost)
		s.Router.HandleFunc("/control/clean-interval", s.handleSetCleanInterval).Methods(http.MethodPost)
		s.Router.HandleFunc("/control/shutdown", s.handleShutdown).Methods(http.MethodPost)
	}
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	stats := s.stats.Stats()
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(stats); err != nil {
		s.log.WithError(err).Error("failed to encode stats response")
	}
}

type intValueRequest struct {
	Value int `json:"value"`
}

type boolValueRequest struct {
	Value bool `json:"value"`
}

func (s *Server) handleSetMax(w http.ResponseWriter, r *http.Request) {
	var req intValueRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if err := s.controller.SetMax(req.Value); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleSetMaxPerApp(w http.ResponseWriter, r *http.Request) {
	var req intValueRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if err := s.controller.SetMaxPerApp(req.Value); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleSetUseGlobalQueue(w http.ResponseWriter, r *http.Request) {
	var req boolValueRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	s.controller.SetUseGlobalQueue(req.Value)
	w.WriteHeader(http.StatusNoContent)
}

type durationValueRequest struct {
	Value time.Duration `json:"value"`
}

func (s *Server) handleSetMaxIdleTime(w http.ResponseWriter, r *http.Request) {
	var req durationValueRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if err := s.controller.SetMaxIdleTime(req.Value); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleSetCleanInterval(w http.ResponseWriter, r *http.Request) {
	var req durationValueRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if err := s.controller.SetCleanInterval(req.Value); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleShutdown(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 30*time.Second)
	defer cancel()
	if err := s.controller.Shutdown(ctx); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
