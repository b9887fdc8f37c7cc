// Package detect implements the anomaly detectors that run against a
// market's recent trade window: volume spikes, whale activity, unusual
// price movement, coordinated trading, and fresh-wallet bets.
package detect

import (
	"context"

	"github.com/predwatch/predwatch/internal/domain"
)

// Result is a single detector verdict for one market window. Detectors
// that find nothing anomalous still return a Result with Anomaly=false
// and a Reason, so callers can log why a market stayed quiet.
type Result struct {
	Detector domain.AlertType `json:"detector"`
	Anomaly  bool             `json:"anomaly"`
	Reason   string           `json:"reason,omitempty"`
	Summary  string           `json:"summary,omitempty"`
	Analysis any              `json:"analysis,omitempty"`
}

// Detector analyzes a snapshot of trades for one market. Implementations
// must not mutate the slice. Most detectors return zero or one Result;
// the fresh-wallet detector returns one per flagged wallet.
type Detector interface {
	Type() domain.AlertType
	Analyze(ctx context.Context, trades []domain.Trade) []Result
}

func notAnomalous(t domain.AlertType, reason string) []Result {
	return []Result{{Detector: t, Anomaly: false, Reason: reason}}
}
