package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/predwatch/predwatch/internal/confidence"
	"github.com/predwatch/predwatch/internal/domain"
	"github.com/predwatch/predwatch/internal/persistence"
)

type fakeAlertsRepo struct {
	records   []persistence.AlertRecord
	lastLimit int
	err       error
}

func (f *fakeAlertsRepo) Insert(ctx context.Context, rec persistence.AlertRecord) error {
	f.records = append(f.records, rec)
	return f.err
}

func (f *fakeAlertsRepo) ListByMarket(ctx context.Context, marketID string, limit int) ([]persistence.AlertRecord, error) {
	f.lastLimit = limit
	if f.err != nil {
		return nil, f.err
	}
	var out []persistence.AlertRecord
	for _, r := range f.records {
		if r.MarketID == marketID {
			out = append(out, r)
		}
	}
	return out, nil
}

func (f *fakeAlertsRepo) ListRange(ctx context.Context, tr persistence.TimeRange, minSeverity domain.Severity, limit int) ([]persistence.AlertRecord, error) {
	f.lastLimit = limit
	if f.err != nil {
		return nil, f.err
	}
	var out []persistence.AlertRecord
	for _, r := range f.records {
		if domain.Severity(r.Severity).AtLeast(minSeverity) {
			out = append(out, r)
		}
	}
	return out, nil
}

func (f *fakeAlertsRepo) CountByType(ctx context.Context, tr persistence.TimeRange) (map[string]int64, error) {
	return nil, f.err
}

func alertRecord(id, market string, severity domain.Severity) persistence.AlertRecord {
	rec, _ := persistence.NewAlertRecord(confidence.Alert{
		ID:        id,
		MarketID:  market,
		Type:      domain.AlertVolumeSpike,
		Severity:  severity,
		Timestamp: time.Now().UTC(),
	})
	return rec
}

func get(t *testing.T, srv *Server, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)
	return rec
}

func TestHealth_AllComponentsHealthy(t *testing.T) {
	srv := NewServer(ServerOptions{
		Checkers: []HealthChecker{
			CheckFunc{Component: "postgres", Fn: func(ctx context.Context) error { return nil }},
			CheckFunc{Component: "redis", Fn: func(ctx context.Context) error { return nil }},
		},
	})

	rec := get(t, srv, "/health")
	require.Equal(t, http.StatusOK, rec.Code)

	var resp HealthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "healthy", resp.Status)
	require.Len(t, resp.Components, 2)
	assert.True(t, resp.Components[0].Healthy)
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))
}

func TestHealth_DegradedComponentReturns503(t *testing.T) {
	srv := NewServer(ServerOptions{
		Checkers: []HealthChecker{
			CheckFunc{Component: "postgres", Fn: func(ctx context.Context) error { return errors.New("connection refused") }},
		},
	})

	rec := get(t, srv, "/health")
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)

	var resp HealthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "degraded", resp.Status)
	require.Len(t, resp.Components, 1)
	assert.Contains(t, resp.Components[0].Error, "connection refused")
}

func TestMetrics_Exposition(t *testing.T) {
	metrics := NewMetricsRegistry()
	metrics.TradesIngested.WithLabelValues("websocket").Add(3)
	metrics.ObserveAlert(confidence.Alert{Type: domain.AlertWhaleActivity, Severity: domain.SeverityHigh})
	metrics.ObserveSuppression(confidence.SuppressVolumeSurge)
	metrics.ObserveDetectorError(domain.AlertVolumeSpike)

	srv := NewServer(ServerOptions{Metrics: metrics})
	rec := get(t, srv, "/metrics")
	require.Equal(t, http.StatusOK, rec.Code)

	body := rec.Body.String()
	assert.Contains(t, body, `predwatch_trades_ingested_total{source="websocket"} 3`)
	assert.Contains(t, body, `predwatch_alerts_total{alert_type="WHALE_ACTIVITY",severity="HIGH"} 1`)
	assert.Contains(t, body, `predwatch_alerts_suppressed_total{reason="volume_surge"} 1`)
	assert.Contains(t, body, `predwatch_detector_errors_total{detector="VOLUME_SPIKE"} 1`)
}

func TestAlerts_ListRecent(t *testing.T) {
	repo := &fakeAlertsRepo{records: []persistence.AlertRecord{
		alertRecord("a1", "mkt-1", domain.SeverityHigh),
		alertRecord("a2", "mkt-2", domain.SeverityLow),
	}}
	srv := NewServer(ServerOptions{Alerts: repo})

	rec := get(t, srv, "/alerts")
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Count  int                       `json:"count"`
		Alerts []persistence.AlertRecord `json:"alerts"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, 2, resp.Count)
	assert.Equal(t, defaultAlertLimit, repo.lastLimit)
}

func TestAlerts_FilterByMarketAndSeverity(t *testing.T) {
	repo := &fakeAlertsRepo{records: []persistence.AlertRecord{
		alertRecord("a1", "mkt-1", domain.SeverityHigh),
		alertRecord("a2", "mkt-2", domain.SeverityLow),
	}}
	srv := NewServer(ServerOptions{Alerts: repo})

	rec := get(t, srv, "/alerts?market=mkt-1")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), "a1"))
	assert.False(t, strings.Contains(rec.Body.String(), "a2"))

	rec = get(t, srv, "/alerts?min_severity=HIGH")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), "a1"))
	assert.False(t, strings.Contains(rec.Body.String(), "a2"))
}

func TestAlerts_BadRequests(t *testing.T) {
	srv := NewServer(ServerOptions{Alerts: &fakeAlertsRepo{}})

	assert.Equal(t, http.StatusBadRequest, get(t, srv, "/alerts?limit=nope").Code)
	assert.Equal(t, http.StatusBadRequest, get(t, srv, "/alerts?limit=-1").Code)
	assert.Equal(t, http.StatusBadRequest, get(t, srv, "/alerts?min_severity=EXTREME").Code)
}

func TestAlerts_LimitCapped(t *testing.T) {
	repo := &fakeAlertsRepo{}
	srv := NewServer(ServerOptions{Alerts: repo})

	rec := get(t, srv, "/alerts?limit=9999")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, maxAlertLimit, repo.lastLimit)
}

func TestAlerts_NotConfigured(t *testing.T) {
	srv := NewServer(ServerOptions{})
	assert.Equal(t, http.StatusNotImplemented, get(t, srv, "/alerts").Code)
}

func TestAlerts_RepoErrorReturns500(t *testing.T) {
	srv := NewServer(ServerOptions{Alerts: &fakeAlertsRepo{err: errors.New("db down")}})
	assert.Equal(t, http.StatusInternalServerError, get(t, srv, "/alerts").Code)
}

func TestUnknownEndpointReturns404(t *testing.T) {
	srv := NewServer(ServerOptions{})
	rec := get(t, srv, "/nope")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Contains(t, rec.Body.String(), "unknown endpoint")
}
