package detect

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/predwatch/predwatch/internal/domain"
)

// coordinationWindows are the look-back horizons scored, in minutes.
var coordinationWindows = []int{15, 30, 60, 120}

const (
	minCoordinationTrades = 10
	minWindowTrades       = 5
	clusterGapSeconds     = 300
	coordinationAnomaly   = 0.7
	washScoreThreshold    = 0.7
	minWashPairTrades     = 4
)

// CoordinationIndicators records which of the five window checks passed.
type CoordinationIndicators struct {
	DirectionalAlignment   bool `json:"directional_alignment"`
	TimingClusters         bool `json:"timing_clusters"`
	SizeConsistency        bool `json:"size_consistency"`
	SufficientParticipants bool `json:"sufficient_participants"`
	LowDiversity           bool `json:"low_diversity"`
}

// WindowCoordination scores one look-back window. The score is the
// fraction of indicators that passed.
type WindowCoordination struct {
	WindowMinutes   int                    `json:"window_minutes"`
	Score           float64                `json:"score"`
	Reason          string                 `json:"reason,omitempty"`
	UniqueWallets   int                    `json:"unique_wallets"`
	TotalTrades     int                    `json:"total_trades"`
	DirectionalBias float64                `json:"directional_bias"`
	BuyWallets      int                    `json:"buy_wallets"`
	SellWallets     int                    `json:"sell_wallets"`
	ClusteredRatio  float64                `json:"clustered_ratio"`
	AvgGapSec       float64                `json:"avg_gap_sec"`
	SizeConsistency float64                `json:"size_consistency"`
	WalletDiversity float64                `json:"wallet_diversity"`
	Indicators      CoordinationIndicators `json:"indicators"`
}

// WashPair is a maker/taker pair whose trades look like wash trading.
type WashPair struct {
	Wallets    [2]string `json:"wallets"`
	TradeCount int       `json:"trade_count"`
	WashScore  float64   `json:"wash_score"`
}

// WashAnalysis summarizes pair-level wash trading checks.
type WashAnalysis struct {
	SuspiciousPairs []WashPair `json:"suspicious_pairs,omitempty"`
	PairsAnalyzed   int        `json:"pairs_analyzed"`
	MaxWashScore    float64    `json:"max_wash_score"`
}

// CoordinationAnalysis is the coordination payload for one market.
type CoordinationAnalysis struct {
	Score      float64              `json:"score"`
	BestWindow *WindowCoordination  `json:"best_window,omitempty"`
	Windows    []WindowCoordination `json:"windows"`
	Wash       WashAnalysis         `json:"wash_trading"`
}

// CoordinationDetector flags multi-wallet trading patterns: synchronized
// directional bursts and circular maker/taker wash trades.
type CoordinationDetector struct {
	cfg CoordinationConfig
}

func NewCoordinationDetector(cfg CoordinationConfig) (*CoordinationDetector, error) {
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("failed to configure coordination detector: %w", err)
	}
	return &CoordinationDetector{cfg: cfg}, nil
}

func (d *CoordinationDetector) Type() domain.AlertType { return domain.AlertCoordination }

func (d *CoordinationDetector) Analyze(_ context.Context, trades []domain.Trade) []Result {
	known := make([]domain.Trade, 0, len(trades))
	for _, t := range trades {
		if t.Maker != "unknown" && t.Maker != "" && !t.Timestamp.IsZero() {
			known = append(known, t)
		}
	}
	if len(known) < minCoordinationTrades {
		return notAnomalous(d.Type(), "insufficient trades for coordination analysis")
	}

	sorted := sortedByTime(known)
	anchor := sorted[len(sorted)-1].Timestamp

	analysis := CoordinationAnalysis{}
	for _, minutes := range coordinationWindows {
		cutoff := anchor.Add(-time.Duration(minutes) * time.Minute)
		var windowTrades []domain.Trade
		for _, t := range sorted {
			if t.Timestamp.After(cutoff) {
				windowTrades = append(windowTrades, t)
			}
		}
		w := d.scoreWindow(minutes, windowTrades)
		analysis.Windows = append(analysis.Windows, w)
		if w.Score > analysis.Score {
			analysis.Score = w.Score
			best := w
			analysis.BestWindow = &best
		}
	}
	analysis.Wash = d.detectWashTrading(sorted)

	if analysis.Score <= coordinationAnomaly && len(analysis.Wash.SuspiciousPairs) == 0 {
		return notAnomalous(d.Type(), "no coordinated trading detected")
	}

	return []Result{{
		Detector: d.Type(),
		Anomaly:  true,
		Summary:  coordinationSummary(analysis),
		Analysis: analysis,
	}}
}

func (d *CoordinationDetector) scoreWindow(minutes int, trades []domain.Trade) WindowCoordination {
	w := WindowCoordination{WindowMinutes: minutes, TotalTrades: len(trades)}
	if len(trades) < minWindowTrades {
		w.Reason = "insufficient trades in window"
		return w
	}

	wallets := make(map[string]struct{})
	buyWallets := make(map[string]struct{})
	sellWallets := make(map[string]struct{})
	sizes := make([]float64, len(trades))
	for i, t := range trades {
		wallets[t.Maker] = struct{}{}
		switch t.Side {
		case domain.SideBuy:
			buyWallets[t.Maker] = struct{}{}
		case domain.SideSell:
			sellWallets[t.Maker] = struct{}{}
		}
		sizes[i] = t.Size
	}
	w.UniqueWallets = len(wallets)
	if w.UniqueWallets < d.cfg.MinCoordinatedWallets {
		w.Reason = fmt.Sprintf("only %d unique wallets (need %d)", w.UniqueWallets, d.cfg.MinCoordinatedWallets)
		return w
	}

	w.BuyWallets = len(buyWallets)
	w.SellWallets = len(sellWallets)
	w.DirectionalBias = float64(w.BuyWallets) / math.Max(float64(w.BuyWallets+w.SellWallets), 1)

	gaps := make([]float64, 0, len(trades)-1)
	clustered := 0
	for i := 1; i < len(trades); i++ {
		gap := trades[i].Timestamp.Sub(trades[i-1].Timestamp).Seconds()
		gaps = append(gaps, gap)
		if gap <= clusterGapSeconds {
			clustered++
		}
	}
	w.ClusteredRatio = float64(clustered) / float64(len(trades))
	w.AvgGapSec = mean(gaps)

	cv := coefVariation(sizes)
	if !math.IsInf(cv, 1) {
		w.SizeConsistency = math.Max(0, 1-cv)
	}
	w.WalletDiversity = float64(w.UniqueWallets) / math.Max(float64(len(trades)), 1)

	w.Indicators = CoordinationIndicators{
		DirectionalAlignment:   math.Min(w.DirectionalBias, 1-w.DirectionalBias) < (1 - d.cfg.DirectionalBiasThreshold),
		TimingClusters:         w.ClusteredRatio > 0.6,
		SizeConsistency:        w.SizeConsistency > 0.7,
		SufficientParticipants: w.UniqueWallets >= d.cfg.MinCoordinatedWallets,
		LowDiversity:           w.WalletDiversity < 0.5,
	}
	passed := 0
	for _, b := range []bool{
		w.Indicators.DirectionalAlignment,
		w.Indicators.TimingClusters,
		w.Indicators.SizeConsistency,
		w.Indicators.SufficientParticipants,
		w.Indicators.LowDiversity,
	} {
		if b {
			passed++
		}
	}
	w.Score = float64(passed) / 5
	return w
}

// detectWashTrading groups trades by unordered maker/taker pair and scores
// each pair on alternating sides, price stability, and timing regularity.
func (d *CoordinationDetector) detectWashTrading(sorted []domain.Trade) WashAnalysis {
	pairs := make(map[[2]string][]domain.Trade)
	for _, t := range sorted {
		if t.Taker == "" || t.Taker == "unknown" {
			continue
		}
		key := [2]string{t.Maker, t.Taker}
		if key[0] > key[1] {
			key[0], key[1] = key[1], key[0]
		}
		pairs[key] = append(pairs[key], t)
	}

	analysis := WashAnalysis{PairsAnalyzed: len(pairs)}
	keys := make([][2]string, 0, len(pairs))
	for k := range pairs {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i][0] != keys[j][0] {
			return keys[i][0] < keys[j][0]
		}
		return keys[i][1] < keys[j][1]
	})
	for _, key := range keys {
		pairTrades := pairs[key]
		if len(pairTrades) < minWashPairTrades {
			continue
		}
		score := washScore(pairTrades)
		if score > analysis.MaxWashScore {
			analysis.MaxWashScore = score
		}
		if score > washScoreThreshold {
			analysis.SuspiciousPairs = append(analysis.SuspiciousPairs, WashPair{
				Wallets:    key,
				TradeCount: len(pairTrades),
				WashScore:  score,
			})
		}
	}
	return analysis
}

// washScore weighs alternating buy/sell sides 40%, price stability 40%,
// and timing regularity 20%.
func washScore(pairTrades []domain.Trade) float64 {
	alternating := 0
	for i := 1; i < len(pairTrades); i++ {
		if pairTrades[i].Side != pairTrades[i-1].Side {
			alternating++
		}
	}
	alternatingRatio := float64(alternating) / math.Max(float64(len(pairTrades)-1), 1)

	ps := prices(pairTrades)
	priceVariance := stddev(ps) / math.Max(mean(ps), epsilon)
	priceStability := math.Max(0, 1-priceVariance)

	gaps := make([]float64, 0, len(pairTrades)-1)
	for i := 1; i < len(pairTrades); i++ {
		gaps = append(gaps, pairTrades[i].Timestamp.Sub(pairTrades[i-1].Timestamp).Seconds())
	}
	timeRegularity := 1 / (1 + stddev(gaps))

	score := alternatingRatio*0.4 + priceStability*0.4 + timeRegularity*0.2
	return math.Min(score, 1)
}

func coordinationSummary(a CoordinationAnalysis) string {
	parts := []string{fmt.Sprintf("coordination score: %.2f", a.Score)}
	if a.BestWindow != nil && a.BestWindow.UniqueWallets > 0 {
		parts = append(parts, fmt.Sprintf("%d wallets, %.0f%% directional bias",
			a.BestWindow.UniqueWallets, a.BestWindow.DirectionalBias*100))
	}
	if n := len(a.Wash.SuspiciousPairs); n > 0 {
		parts = append(parts, fmt.Sprintf("%d suspected wash trading pairs", n))
	}
	return strings.Join(parts, "; ")
}
