package confidence

import (
	"fmt"
	"time"

	"github.com/predwatch/predwatch/internal/detect"
	"github.com/predwatch/predwatch/internal/domain"
)

// Alert is an anomaly that survived confidence scoring and cross-market
// filtering. Primary is the strongest detector signal; Supporting holds
// the rest when several detectors fired together.
type Alert struct {
	ID                 string           `json:"id"`
	MarketID           string           `json:"market_id"`
	MarketQuestion     string           `json:"market_question,omitempty"`
	Type               domain.AlertType `json:"alert_type"`
	Severity           domain.Severity  `json:"severity"`
	Confidence         float64          `json:"confidence"`
	MultiMetric        bool             `json:"multi_metric"`
	Timestamp          time.Time        `json:"timestamp"`
	PredictedDirection domain.Side      `json:"predicted_direction"`
	PriceAtAlert       float64          `json:"price_at_alert"`
	Primary            detect.Result    `json:"primary"`
	Supporting         []detect.Result  `json:"supporting,omitempty"`
	RecommendedAction  string           `json:"recommended_action"`
}

// NormalizedConfidence maps the raw score onto [0,1] against the
// critical threshold, for confidence-bucket reporting.
func (a *Alert) NormalizedConfidence(criticalThreshold float64) float64 {
	if criticalThreshold <= 0 {
		return 0
	}
	n := a.Confidence / criticalThreshold
	if n > 1 {
		return 1
	}
	return n
}

func recommendedAction(alertType domain.AlertType, severity domain.Severity, direction domain.Side) string {
	switch {
	case severity == domain.SeverityCritical:
		return "IMMEDIATE: strong insider signal - consider following the trend"
	case severity == domain.SeverityHigh:
		switch alertType {
		case domain.AlertWhaleActivity:
			return fmt.Sprintf("consider %s position - whale accumulation detected", direction)
		case domain.AlertCoordination:
			return "coordinated activity detected - monitor for entry opportunity"
		case domain.AlertFreshWallet:
			return "fresh wallet conviction bet - verify wallet provenance"
		default:
			return "high confidence unusual activity - investigate immediately"
		}
	case severity == domain.SeverityMedium:
		return "monitor closely - potential early signal"
	default:
		return "note activity - wait for confirmation"
	}
}
