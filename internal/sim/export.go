package sim

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/rs/zerolog/log"

	"github.com/predwatch/predwatch/internal/bench"
	"github.com/predwatch/predwatch/internal/confidence"
	"github.com/predwatch/predwatch/internal/outcome"
)

// Exporter writes replay artifacts as indented JSON documents under a
// single output directory.
type Exporter struct {
	dir string
}

func NewExporter(dir string) *Exporter {
	return &Exporter{dir: dir}
}

func (x *Exporter) write(name string, v any) (string, error) {
	if err := os.MkdirAll(x.dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create output dir: %w", err)
	}
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to marshal %s: %w", name, err)
	}
	path := filepath.Join(x.dir, name)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("failed to write %s: %w", name, err)
	}
	log.Info().Str("path", path).Msg("wrote artifact")
	return path, nil
}

// WriteAlerts writes the generated alerts to alerts.json.
func (x *Exporter) WriteAlerts(alerts []*confidence.Alert) (string, error) {
	return x.write("alerts.json", alerts)
}

// WriteOutcomes writes tracked alert outcomes to outcomes.json.
func (x *Exporter) WriteOutcomes(outcomes []*outcome.AlertOutcome) (string, error) {
	return x.write("outcomes.json", outcomes)
}

// WriteMetrics writes a performance report to metrics.json.
func (x *Exporter) WriteMetrics(m bench.PerformanceMetrics) (string, error) {
	return x.write("metrics.json", m)
}

// WriteStats writes replay statistics to stats.json.
func (x *Exporter) WriteStats(s Stats) (string, error) {
	return x.write("stats.json", s)
}

// WriteAll exports the full artifact set for one finished replay.
func (x *Exporter) WriteAll(e *Engine, stats Stats, m bench.PerformanceMetrics) error {
	if _, err := x.WriteAlerts(e.Alerts()); err != nil {
		return err
	}
	if _, err := x.WriteOutcomes(e.Tracker().Outcomes()); err != nil {
		return err
	}
	if _, err := x.WriteMetrics(m); err != nil {
		return err
	}
	_, err := x.WriteStats(stats)
	return err
}
