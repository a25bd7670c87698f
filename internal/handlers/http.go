// Package handlers exposes the alerting HTTP API.
package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/Faraz1608/IMOS-sub000/internal/alerting"
	"github.com/Faraz1608/IMOS-sub000/internal/database"
	"github.com/Faraz1608/IMOS-sub000/internal/hub"
	"github.com/Faraz1608/IMOS-sub000/internal/rules"
)

// SweepRunner triggers an on-demand automated rule sweep
type SweepRunner interface {
	RunSweep(ctx context.Context) (*rules.SweepResult, error)
}

// Server wires the alerting HTTP API
type Server struct {
	logger  *slog.Logger
	manager *alerting.Manager
	sweeper SweepRunner
	hub     *hub.Hub
	started time.Time
}

// NewServer creates the HTTP API server
func NewServer(logger *slog.Logger, manager *alerting.Manager, sweeper SweepRunner, h *hub.Hub) *Server {
	return &Server{
		logger:  logger,
		manager: manager,
		sweeper: sweeper,
		hub:     h,
		started: time.Now(),
	}
}

// Router builds the route table. Fixed paths are registered before the
// parameterized alert id route so "stats" and "bulk" never match as ids.
func (s *Server) Router() *mux.Router {
	r := mux.NewRouter()
	r.Use(s.loggingMiddleware)

	api := r.PathPrefix("/api/v1").Subrouter()

	api.HandleFunc("/alerts/stats", s.handleStats).Methods(http.MethodGet)
	api.HandleFunc("/alerts/bulk", s.handleBulk).Methods(http.MethodPut)
	api.HandleFunc("/alerts/check-automated", s.handleCheckAutomated).Methods(http.MethodPost)
	api.HandleFunc("/alerts/entity/{entityType}/{entityId}", s.handleListByEntity).Methods(http.MethodGet)
	api.HandleFunc("/alerts", s.handleList).Methods(http.MethodGet)
	api.HandleFunc("/alerts", s.handleCreate).Methods(http.MethodPost)
	api.HandleFunc("/alerts/{id}", s.handleGet).Methods(http.MethodGet)
	api.HandleFunc("/alerts/{id}/acknowledge", s.handleAcknowledge).Methods(http.MethodPut)
	api.HandleFunc("/alerts/{id}/resolve", s.handleResolve).Methods(http.MethodPut)
	api.HandleFunc("/alerts/{id}", s.handleDismiss).Methods(http.MethodDelete)

	r.HandleFunc("/ws", s.hub.HandleWebSocket)
	r.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	r.HandleFunc("/status", s.handleStatus).Methods(http.MethodGet)
	r.Handle("/metrics", promhttp.Handler())

	return r
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := database.AlertFilter{
		Status:   q.Get("status"),
		Priority: q.Get("priority"),
		Type:     q.Get("type"),
	}
	if v := q.Get("page"); v != "" {
		filter.Page, _ = strconv.Atoi(v)
	}
	if v := q.Get("limit"); v != "" {
		filter.Limit, _ = strconv.Atoi(v)
	}

	page, err := s.manager.List(r.Context(), filter)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, page)
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	alert, err := s.manager.Get(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, alert)
}

func (s *Server) handleCreate(w http.ResponseWriter, r *http.Request) {
	var in alerting.CreateInput
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		s.writeJSON(w, http.StatusBadRequest, errorBody("invalid request body"))
		return
	}

	alert, err := s.manager.CreateManual(r.Context(), in)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, alert)
}

func (s *Server) handleAcknowledge(w http.ResponseWriter, r *http.Request) {
	var body struct {
		AcknowledgedBy string `json:"acknowledgedBy"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		s.writeJSON(w, http.StatusBadRequest, errorBody("invalid request body"))
		return
	}

	alert, err := s.manager.Acknowledge(r.Context(), mux.Vars(r)["id"], body.AcknowledgedBy)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, alert)
}

func (s *Server) handleResolve(w http.ResponseWriter, r *http.Request) {
	var body struct {
		ResolvedBy  string  `json:"resolvedBy"`
		ActionTaken *string `json:"actionTaken"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		s.writeJSON(w, http.StatusBadRequest, errorBody("invalid request body"))
		return
	}

	alert, err := s.manager.Resolve(r.Context(), mux.Vars(r)["id"], body.ResolvedBy, body.ActionTaken)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, alert)
}

func (s *Server) handleDismiss(w http.ResponseWriter, r *http.Request) {
	alert, err := s.manager.Dismiss(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, alert)
}

func (s *Server) handleBulk(w http.ResponseWriter, r *http.Request) {
	var body struct {
		AlertIDs    []string `json:"alertIds"`
		Action      string   `json:"action"`
		ActorID     string   `json:"actorId"`
		ActionTaken *string  `json:"actionTaken"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		s.writeJSON(w, http.StatusBadRequest, errorBody("invalid request body"))
		return
	}

	modified, err := s.manager.Bulk(r.Context(), alerting.BulkInput{
		AlertIDs:    body.AlertIDs,
		Action:      body.Action,
		ActorID:     body.ActorID,
		ActionTaken: body.ActionTaken,
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"requested": len(body.AlertIDs),
		"modified":  modified,
	})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.manager.GetStats(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, stats)
}

func (s *Server) handleListByEntity(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	alerts, err := s.manager.ListForEntity(r.Context(), vars["entityType"], vars["entityId"], r.URL.Query().Get("status"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{"alerts": alerts})
}

// handleCheckAutomated runs a rule sweep on demand. A sweep where some
// rules failed still returns the summary; only a complete failure is an
// internal error.
func (s *Server) handleCheckAutomated(w http.ResponseWriter, r *http.Request) {
	result, err := s.sweeper.RunSweep(r.Context())
	if err != nil {
		s.logger.Error("On-demand rule sweep failed", "error", err)
		s.writeJSON(w, http.StatusInternalServerError, map[string]interface{}{
			"error":  "rule sweep failed",
			"result": result,
		})
		return
	}
	s.writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":      "ok",
		"uptime":      time.Since(s.started).String(),
		"sessions":    s.hub.SessionCount(),
		"usersOnline": len(s.hub.OnlineSessions()),
	})
}

// writeError maps domain errors onto HTTP status codes
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	var valErr *alerting.ValidationError

	switch {
	case errors.Is(err, database.ErrNotFound):
		s.writeJSON(w, http.StatusNotFound, errorBody("alert not found"))
	case errors.Is(err, alerting.ErrInvalidTransition):
		s.writeJSON(w, http.StatusConflict, errorBody(err.Error()))
	case errors.As(err, &valErr):
		s.writeJSON(w, http.StatusBadRequest, errorBody(valErr.Message))
	default:
		s.logger.Error("Request failed", "method", r.Method, "path", r.URL.Path, "error", err)
		s.writeJSON(w, http.StatusInternalServerError, errorBody("internal server error"))
	}
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		s.logger.Error("Failed to encode response", "error", err)
	}
}

func errorBody(msg string) map[string]string {
	return map[string]string{"error": msg}
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		s.logger.Debug("HTTP request",
			"method", r.Method,
			"path", r.URL.Path,
			"duration", time.Since(start))
	})
}
