// Package confidence turns raw detector results into alerts: it scores
// each anomalous signal, requires a high bar for single-signal alerts
// and a combined bar for multi-signal ones, and drops signals that fire
// across many markets at once.
package confidence

import (
	"math"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/predwatch/predwatch/internal/detect"
	"github.com/predwatch/predwatch/internal/domain"
)

// Config holds the evaluator's scoring thresholds and bonuses.
type Config struct {
	SingleSignalThreshold float64       `json:"single_signal_threshold" yaml:"single_signal_threshold"`
	MultiSignalThreshold  float64       `json:"multi_signal_threshold" yaml:"multi_signal_threshold"`
	CriticalThreshold     float64       `json:"critical_threshold" yaml:"critical_threshold"`
	MaxConfidence         float64       `json:"max_confidence" yaml:"max_confidence"`
	MinSimilarMarkets     int           `json:"min_similar_markets" yaml:"min_similar_markets"`
	VolumeSurgeMarkets    int           `json:"volume_surge_markets" yaml:"volume_surge_markets"`
	CrossMarketWindow     time.Duration `json:"cross_market_window" yaml:"cross_market_window"`
}

// Scoring bonuses applied on top of the per-detector base score.
const (
	historicalBaselineBonus = 1.0
	coordinationBonus       = 2.0
	directionalBiasBonus    = 1.0
	multiTriggerBonus       = 2.0
	washTradingBonus        = 2.0

	strongImbalance = 0.7
	baselineHours   = 24
)

// DefaultConfig returns the production scoring thresholds.
func DefaultConfig() Config {
	return Config{
		SingleSignalThreshold: 8.0,
		MultiSignalThreshold:  10.0,
		CriticalThreshold:     15.0,
		MaxConfidence:         10.0,
		MinSimilarMarkets:     3,
		VolumeSurgeMarkets:    4,
		CrossMarketWindow:     15 * time.Minute,
	}
}

// Evaluator scores detector results and decides whether they amount to
// an alert. Safe for concurrent use.
type Evaluator struct {
	cfg    Config
	filter *CrossMarketFilter
}

func NewEvaluator(cfg Config) *Evaluator {
	return &Evaluator{
		cfg:    cfg,
		filter: NewCrossMarketFilter(cfg.CrossMarketWindow, cfg.MinSimilarMarkets, cfg.VolumeSurgeMarkets),
	}
}

type candidate struct {
	result detect.Result
	score  float64
}

// Evaluate decides whether the detector results for one market warrant
// an alert. It returns the alert, or nil with a non-empty suppression
// kind (Suppress*) when a qualifying signal was held back by the
// cross-market filter, or nil with an empty reason when nothing
// qualified.
func (e *Evaluator) Evaluate(marketID, question string, lastPrice float64, asOf time.Time, results []detect.Result) (*Alert, string) {
	var candidates []candidate
	for _, r := range results {
		if !r.Anomaly {
			continue
		}
		candidates = append(candidates, candidate{result: r, score: e.score(r)})
	}
	if len(candidates) == 0 {
		return nil, ""
	}

	sort.SliceStable(candidates, func(i, j int) bool { return candidates[i].score > candidates[j].score })
	primary := candidates[0]
	multi := len(candidates) > 1

	total := 0.0
	for _, c := range candidates {
		total += c.score
	}

	if multi {
		if total < e.cfg.MultiSignalThreshold {
			log.Debug().Str("market", marketID).Float64("combined", total).Msg("multi-signal confidence below threshold")
			return nil, ""
		}
	} else if primary.score < e.cfg.SingleSignalThreshold {
		log.Debug().Str("market", marketID).Float64("score", primary.score).
			Str("detector", string(primary.result.Detector)).Msg("single-signal confidence below threshold")
		return nil, ""
	}

	if suppressed, reason := e.filter.Observe(primary.result.Detector, marketID, asOf); suppressed {
		log.Info().Str("market", marketID).Str("detector", string(primary.result.Detector)).
			Str("reason", reason).Msg("alert suppressed by cross-market filter")
		return nil, reason
	}

	direction := predictDirection(primary.result)
	severity := e.severity(primary.result, total, multi)

	confidence := primary.score
	if multi {
		confidence = total
	}

	alert := &Alert{
		ID:                 uuid.NewString(),
		MarketID:           marketID,
		MarketQuestion:     question,
		Type:               primary.result.Detector,
		Severity:           severity,
		Confidence:         confidence,
		MultiMetric:        multi,
		Timestamp:          asOf,
		PredictedDirection: direction,
		PriceAtAlert:       lastPrice,
		Primary:            primary.result,
		RecommendedAction:  recommendedAction(primary.result.Detector, severity, direction),
	}
	for _, c := range candidates[1:] {
		alert.Supporting = append(alert.Supporting, c.result)
	}
	return alert, ""
}

// score maps one anomalous detector result onto [0, MaxConfidence].
func (e *Evaluator) score(r detect.Result) float64 {
	var score float64
	switch a := r.Analysis.(type) {
	case detect.VolumeAnalysis:
		score = math.Min(a.MaxAnomalyScore, e.cfg.MaxConfidence-2)
		if a.Baseline.Hours >= baselineHours {
			score += historicalBaselineBonus
		}
		if a.DirectionImbalance > strongImbalance {
			score += directionalBiasBonus
		}
	case detect.WhaleAnalysis:
		score = math.Min(a.TotalWhaleVolume/10000, e.cfg.MaxConfidence-4)
		if a.Coordination.Coordinated {
			score += coordinationBonus
		}
		if a.DirectionImbalance > strongImbalance {
			score += directionalBiasBonus
		}
	case detect.PriceAnalysis:
		score = 2 * float64(a.ActiveTriggers)
		if a.ActiveTriggers >= 3 {
			score += multiTriggerBonus
		}
		if a.Accumulation != nil && a.Accumulation.Anomaly {
			score += historicalBaselineBonus
		}
	case detect.CoordinationAnalysis:
		score = a.Score * (e.cfg.MaxConfidence - 2)
		if len(a.Wash.SuspiciousPairs) > 0 {
			score += washTradingBonus
		}
	case detect.FreshWalletAnalysis:
		score = e.cfg.MaxConfidence - 4
		if a.FirstTrade {
			score += coordinationBonus
		}
		score += math.Min(a.BetSizeUSD/10000, 2)
	default:
		// Unknown payload: anomaly flag alone is weak evidence.
		score = 1
	}
	return math.Min(score, e.cfg.MaxConfidence)
}

// severity follows the per-detector mapping, escalated to CRITICAL when
// the combined confidence crosses the critical threshold and to at
// least HIGH for corroborated multi-signal alerts.
func (e *Evaluator) severity(primary detect.Result, total float64, multi bool) domain.Severity {
	if total >= e.cfg.CriticalThreshold {
		return domain.SeverityCritical
	}
	sev := baseSeverity(primary)
	if multi && !sev.AtLeast(domain.SeverityHigh) {
		sev = domain.SeverityHigh
	}
	return sev
}

func baseSeverity(r detect.Result) domain.Severity {
	switch a := r.Analysis.(type) {
	case detect.VolumeAnalysis:
		if a.MaxAnomalyScore > 5 {
			return domain.SeverityHigh
		}
		return domain.SeverityMedium
	case detect.WhaleAnalysis:
		if a.TotalWhaleVolume > 50000 {
			return domain.SeverityHigh
		}
		return domain.SeverityMedium
	case detect.PriceAnalysis:
		if a.ActiveTriggers > 0 {
			return domain.SeverityCritical
		}
		return domain.SeverityMedium
	case detect.CoordinationAnalysis:
		if a.Score > 0.8 {
			return domain.SeverityCritical
		}
		return domain.SeverityHigh
	case detect.FreshWalletAnalysis:
		if a.FirstTrade {
			return domain.SeverityHigh
		}
		return domain.SeverityMedium
	default:
		return domain.SeverityMedium
	}
}

// predictDirection infers which way the anomalous flow leans.
func predictDirection(r detect.Result) domain.Side {
	switch a := r.Analysis.(type) {
	case detect.VolumeAnalysis:
		if a.DominantSide == domain.SideBuy || a.DominantSide == domain.SideSell {
			return a.DominantSide
		}
	case detect.WhaleAnalysis:
		if a.DominantSide == domain.SideBuy || a.DominantSide == domain.SideSell {
			return a.DominantSide
		}
	case detect.PriceAnalysis:
		switch a.TrendDirection {
		case detect.TrendUp:
			return domain.SideBuy
		case detect.TrendDown:
			return domain.SideSell
		}
		if a.Accumulation != nil {
			switch a.Accumulation.PatternType {
			case detect.PatternAccumulation:
				return domain.SideBuy
			case detect.PatternDistribution:
				return domain.SideSell
			}
		}
	case detect.CoordinationAnalysis:
		if a.BestWindow != nil {
			if a.BestWindow.DirectionalBias >= 0.5 {
				return domain.SideBuy
			}
			return domain.SideSell
		}
	case detect.FreshWalletAnalysis:
		if a.Side == domain.SideBuy || a.Side == domain.SideSell {
			return a.Side
		}
	}
	return domain.SideBuy
}
