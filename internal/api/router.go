// Package api serves sessions and consistency reports over HTTP. It never
// writes to the stores.
package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"formacal/internal/reconcile"
	"formacal/internal/sessions"
)

// Analyzer produces consistency reports.
type Analyzer interface {
	AnalyzeProject(ctx context.Context, projectID string) (*reconcile.Report, error)
}

// Server holds the handlers' dependencies.
type Server struct {
	Logger    *slog.Logger
	Events    reconcile.EventStore
	Analyzer  Analyzer
	Builder   *sessions.Builder
	Formatter sessions.Formatter
	Gatherer  prometheus.Gatherer
}

// NewRouter creates and configures a new router with all API endpoints.
func NewRouter(s *Server) *mux.Router {
	if s.Logger == nil {
		s.Logger = slog.New(slog.DiscardHandler)
	}
	if s.Builder == nil {
		s.Builder = sessions.NewBuilder(s.Logger, sessions.Options{})
	}
	if s.Formatter == (sessions.Formatter{}) {
		s.Formatter = sessions.DefaultFormatter
	}

	r := mux.NewRouter()
	r.HandleFunc("/health", health).Methods(http.MethodGet)
	if s.Gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(s.Gatherer, promhttp.HandlerOpts{})).Methods(http.MethodGet)
	}

	api := r.PathPrefix("/api").Subrouter()
	api.Use(s.logRequests)
	api.HandleFunc("/projects/{id}/sessions", s.getSessions).Methods(http.MethodGet)
	api.HandleFunc("/projects/{id}/consistency", s.getConsistency).Methods(http.MethodGet)
	return r
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		s.Logger.Debug("Handled request.", "method", r.Method, "path", r.URL.Path, "status", rec.status, "duration", time.Since(start))
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
