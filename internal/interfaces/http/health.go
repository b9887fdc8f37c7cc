package http

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"
)

// HealthChecker is one dependency probe (database, cache, feed).
type HealthChecker interface {
	Name() string
	Check(ctx context.Context) error
}

// CheckFunc adapts a function to HealthChecker.
type CheckFunc struct {
	Component string
	Fn        func(ctx context.Context) error
}

func (c CheckFunc) Name() string                    { return c.Component }
func (c CheckFunc) Check(ctx context.Context) error { return c.Fn(ctx) }

// ComponentHealth is one dependency's status in the health response.
type ComponentHealth struct {
	Name    string `json:"name"`
	Healthy bool   `json:"healthy"`
	Error   string `json:"error,omitempty"`
}

// HealthResponse is the /health payload.
type HealthResponse struct {
	Status     string            `json:"status"`
	Timestamp  time.Time         `json:"timestamp"`
	UptimeSecs float64           `json:"uptime_seconds"`
	Components []ComponentHealth `json:"components,omitempty"`
}

type healthHandler struct {
	started  time.Time
	checkers []HealthChecker
}

func newHealthHandler(checkers []HealthChecker) *healthHandler {
	return &healthHandler{started: time.Now(), checkers: checkers}
}

// ServeHTTP runs every probe. A degraded dependency returns 503 so load
// balancers stop routing, and the payload names the broken component.
func (h *healthHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	resp := HealthResponse{
		Status:     "healthy",
		Timestamp:  time.Now().UTC(),
		UptimeSecs: time.Since(h.started).Seconds(),
	}

	for _, checker := range h.checkers {
		component := ComponentHealth{Name: checker.Name(), Healthy: true}
		if err := checker.Check(ctx); err != nil {
			component.Healthy = false
			component.Error = err.Error()
			resp.Status = "degraded"
			log.Warn().Str("component", checker.Name()).Err(err).Msg("health check failed")
		}
		resp.Components = append(resp.Components, component)
	}

	status := http.StatusOK
	if resp.Status != "healthy" {
		status = http.StatusServiceUnavailable
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(resp)
}
