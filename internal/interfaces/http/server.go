// Package http serves the monitor's operational surface: health probes,
// Prometheus metrics and a read-only alert log.
package http

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/rs/zerolog/log"

	"github.com/predwatch/predwatch/internal/domain"
	"github.com/predwatch/predwatch/internal/persistence"
)

const (
	defaultAlertLimit = 50
	maxAlertLimit     = 500
)

// Server is the read-only observability server.
type Server struct {
	router  *mux.Router
	server  *http.Server
	metrics *MetricsRegistry
	alerts  persistence.AlertsRepo
}

// ServerOptions wires the server's dependencies. Alerts and Checkers
// are optional; a nil alerts repo disables the alert log endpoint.
type ServerOptions struct {
	ListenAddr string
	Metrics    *MetricsRegistry
	Alerts     persistence.AlertsRepo
	Checkers   []HealthChecker
}

func NewServer(opts ServerOptions) *Server {
	if opts.Metrics == nil {
		opts.Metrics = NewMetricsRegistry()
	}

	s := &Server{
		router:  mux.NewRouter(),
		metrics: opts.Metrics,
		alerts:  opts.Alerts,
	}

	s.router.Use(s.requestIDMiddleware)
	s.router.Use(s.loggingMiddleware)

	s.router.Handle("/health", newHealthHandler(opts.Checkers)).Methods(http.MethodGet)
	s.router.Handle("/metrics", opts.Metrics.Handler()).Methods(http.MethodGet)
	s.router.HandleFunc("/alerts", s.handleAlerts).Methods(http.MethodGet)
	s.router.NotFoundHandler = http.HandlerFunc(s.handleNotFound)

	s.server = &http.Server{
		Addr:         opts.ListenAddr,
		Handler:      s.router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return s
}

// Router exposes the handler tree for tests.
func (s *Server) Router() http.Handler { return s.router }

// Metrics exposes the registry so the monitor can record observations.
func (s *Server) Metrics() *MetricsRegistry { return s.metrics }

func (s *Server) Start() error {
	log.Info().Str("addr", s.server.Addr).Msg("observability server listening")
	return s.server.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	log.Info().Msg("shutting down observability server")
	return s.server.Shutdown(ctx)
}

// handleAlerts serves recent alerts, optionally filtered by market and
// minimum severity.
func (s *Server) handleAlerts(w http.ResponseWriter, r *http.Request) {
	if s.alerts == nil {
		writeError(w, http.StatusNotImplemented, "alert log is not configured")
		return
	}

	q := r.URL.Query()
	limit := defaultAlertLimit
	if raw := q.Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		if n > maxAlertLimit {
			n = maxAlertLimit
		}
		limit = n
	}

	var (
		records []persistence.AlertRecord
		err     error
	)
	if market := q.Get("market"); market != "" {
		records, err = s.alerts.ListByMarket(r.Context(), market, limit)
	} else {
		minSeverity := domain.SeverityLow
		if raw := q.Get("min_severity"); raw != "" {
			minSeverity = domain.Severity(raw)
			if minSeverity.Level() == 0 {
				writeError(w, http.StatusBadRequest, "unknown severity: "+raw)
				return
			}
		}
		tr := persistence.TimeRange{From: time.Now().Add(-24 * time.Hour), To: time.Now()}
		records, err = s.alerts.ListRange(r.Context(), tr, minSeverity, limit)
	}
	if err != nil {
		log.Error().Err(err).Msg("alert log query failed")
		writeError(w, http.StatusInternalServerError, "failed to query alerts")
		return
	}

	if records == nil {
		records = []persistence.AlertRecord{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"count":  len(records),
		"alerts": records,
	})
}

func (s *Server) handleNotFound(w http.ResponseWriter, r *http.Request) {
	writeError(w, http.StatusNotFound, "unknown endpoint: "+r.URL.Path)
}

func (s *Server) requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := uuid.New().String()[:8]
		w.Header().Set("X-Request-ID", requestID)
		next.ServeHTTP(w, r)
	})
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapper := &responseWrapper{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(wrapper, r)
		log.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", wrapper.statusCode).
			Dur("duration", time.Since(start)).
			Msg("http request")
	})
}

type responseWrapper struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWrapper) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
