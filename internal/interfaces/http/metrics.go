package http

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/predwatch/predwatch/internal/confidence"
	"github.com/predwatch/predwatch/internal/domain"
)

// MetricsRegistry holds the Prometheus metrics for the monitor.
type MetricsRegistry struct {
	registry *prometheus.Registry

	// Ingest
	TradesIngested *prometheus.CounterVec
	TradesDropped  prometheus.Counter
	WSReconnects   prometheus.Counter

	// Detection
	AlertsEmitted    *prometheus.CounterVec
	AlertsSuppressed *prometheus.CounterVec
	DetectorErrors   *prometheus.CounterVec
	AnalysisDuration prometheus.Histogram
	MarketsMonitored prometheus.Gauge

	// Outcomes
	OutcomesResolved *prometheus.CounterVec
}

// NewMetricsRegistry creates the registry with all monitor metrics
// registered on a private Prometheus registry.
func NewMetricsRegistry() *MetricsRegistry {
	m := &MetricsRegistry{
		registry: prometheus.NewRegistry(),

		TradesIngested: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "predwatch_trades_ingested_total",
				Help: "Normalized trades ingested by source",
			},
			[]string{"source"},
		),
		TradesDropped: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "predwatch_trades_dropped_total",
				Help: "Raw trade records dropped during normalization",
			},
		),
		WSReconnects: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "predwatch_ws_reconnects_total",
				Help: "Websocket feed reconnect attempts",
			},
		),

		AlertsEmitted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "predwatch_alerts_total",
				Help: "Alerts emitted by detector type and severity",
			},
			[]string{"alert_type", "severity"},
		),
		AlertsSuppressed: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "predwatch_alerts_suppressed_total",
				Help: "Anomalies suppressed by the confidence evaluator, by reason",
			},
			[]string{"reason"},
		),
		DetectorErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "predwatch_detector_errors_total",
				Help: "Detector panics recovered during analysis",
			},
			[]string{"detector"},
		),
		AnalysisDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "predwatch_analysis_duration_seconds",
				Help:    "Duration of one full analysis cycle across monitored markets",
				Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0},
			},
		),
		MarketsMonitored: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "predwatch_markets_monitored",
				Help: "Markets currently under analysis",
			},
		),

		OutcomesResolved: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "predwatch_outcomes_resolved_total",
				Help: "Alert outcomes resolved by classification",
			},
			[]string{"classification"},
		),
	}

	m.registry.MustRegister(
		m.TradesIngested,
		m.TradesDropped,
		m.WSReconnects,
		m.AlertsEmitted,
		m.AlertsSuppressed,
		m.DetectorErrors,
		m.AnalysisDuration,
		m.MarketsMonitored,
		m.OutcomesResolved,
	)
	return m
}

// ObserveAlert records an emitted alert.
func (m *MetricsRegistry) ObserveAlert(a confidence.Alert) {
	m.AlertsEmitted.WithLabelValues(string(a.Type), string(a.Severity)).Inc()
}

// ObserveSuppression records an anomaly the evaluator held back. The
// reason must be one of the stable kind strings (confidence.Suppress*),
// never free-form text, to keep label cardinality bounded.
func (m *MetricsRegistry) ObserveSuppression(reason string) {
	m.AlertsSuppressed.WithLabelValues(reason).Inc()
}

// ObserveDetectorError records a recovered detector panic.
func (m *MetricsRegistry) ObserveDetectorError(detector domain.AlertType) {
	m.DetectorErrors.WithLabelValues(string(detector)).Inc()
}

// Handler serves the Prometheus exposition endpoint.
func (m *MetricsRegistry) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
