package detect

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/predwatch/predwatch/internal/domain"
)

// priceWindowMinutes is the movement analysis look-back.
const priceWindowMinutes = 60

// Accumulation pattern constants: classification looks at the last 20
// trades against cumulative VWAP; 75% on one side classifies the
// pattern and strength above 0.8 makes it anomalous.
const (
	accumulationTail      = 20
	accumulationClassify  = 0.75
	accumulationAnomalous = 0.8
)

// Trend labels for price movement.
const (
	TrendUp   = "UP"
	TrendDown = "DOWN"
	TrendFlat = "FLAT"
)

// Accumulation pattern labels.
const (
	PatternAccumulation = "ACCUMULATION"
	PatternDistribution = "DISTRIBUTION"
	PatternNeutral      = "NEUTRAL"
)

// PriceTriggers records which movement checks fired.
type PriceTriggers struct {
	RapidMovement     bool `json:"rapid_movement"`
	UnusualVolatility bool `json:"unusual_volatility"`
	HighMomentum      bool `json:"high_momentum"`
}

func (t PriceTriggers) count() int {
	n := 0
	for _, b := range []bool{t.RapidMovement, t.UnusualVolatility, t.HighMomentum} {
		if b {
			n++
		}
	}
	return n
}

// AccumulationPattern is the VWAP-based accumulation/distribution check.
type AccumulationPattern struct {
	Anomaly        bool    `json:"anomaly"`
	PatternType    string  `json:"pattern_type"`
	Strength       float64 `json:"strength"`
	AboveVWAPRatio float64 `json:"above_vwap_ratio"`
	BelowVWAPRatio float64 `json:"below_vwap_ratio"`
	CurrentVWAP    float64 `json:"current_vwap"`
	CurrentPrice   float64 `json:"current_price"`
	VWAPDivergence float64 `json:"vwap_divergence"`
}

// PriceAnalysis is the price movement payload for one market.
type PriceAnalysis struct {
	WindowMinutes        int                  `json:"window_minutes"`
	PriceStart           float64              `json:"price_start"`
	PriceEnd             float64              `json:"price_end"`
	PriceHigh            float64              `json:"price_high"`
	PriceLow             float64              `json:"price_low"`
	PriceChangePct       float64              `json:"price_change_pct"`
	TrendDirection       string               `json:"trend_direction"`
	MomentumScore        float64              `json:"momentum_score"`
	RecentVolatility     float64              `json:"recent_volatility"`
	HistoricalVolatility float64              `json:"historical_volatility"`
	VolatilitySpike      float64              `json:"volatility_spike"`
	PriceChangeStdScore  float64              `json:"price_change_std_score"`
	WindowTradeCount     int                  `json:"window_trade_count"`
	Triggers             PriceTriggers        `json:"triggers"`
	ActiveTriggers       int                  `json:"active_triggers"`
	Accumulation         *AccumulationPattern `json:"accumulation,omitempty"`
}

// PriceDetector flags rapid price moves, volatility spikes, one-sided
// momentum, and sustained accumulation/distribution against VWAP.
type PriceDetector struct {
	cfg PriceConfig
}

func NewPriceDetector(cfg PriceConfig) (*PriceDetector, error) {
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("failed to configure price detector: %w", err)
	}
	return &PriceDetector{cfg: cfg}, nil
}

func (d *PriceDetector) Type() domain.AlertType { return domain.AlertPriceMovement }

func (d *PriceDetector) Analyze(_ context.Context, trades []domain.Trade) []Result {
	if len(trades) < 2 {
		return notAnomalous(d.Type(), "insufficient trade data")
	}

	sorted := sortedByTime(trades)
	anchor := sorted[len(sorted)-1].Timestamp
	cutoff := anchor.Add(-priceWindowMinutes * time.Minute)

	var recent []domain.Trade
	for _, t := range sorted {
		if t.Timestamp.After(cutoff) {
			recent = append(recent, t)
		}
	}
	if len(recent) < 2 {
		return notAnomalous(d.Type(), fmt.Sprintf("less than 2 trades in last %d minutes", priceWindowMinutes))
	}

	analysis := d.analyzePattern(recent, sorted)
	analysis.Accumulation = d.accumulationPattern(sorted)

	movementAnomaly := analysis.ActiveTriggers > 0
	accumulationAnomaly := analysis.Accumulation != nil && analysis.Accumulation.Anomaly
	if !movementAnomaly && !accumulationAnomaly {
		return notAnomalous(d.Type(), "price movement within normal bounds")
	}

	return []Result{{
		Detector: d.Type(),
		Anomaly:  true,
		Summary:  priceSummary(analysis),
		Analysis: analysis,
	}}
}

func (d *PriceDetector) analyzePattern(recent, all []domain.Trade) PriceAnalysis {
	recentPrices := prices(recent)
	allPrices := prices(all)

	a := PriceAnalysis{
		WindowMinutes:    priceWindowMinutes,
		PriceStart:       recentPrices[0],
		PriceEnd:         recentPrices[len(recentPrices)-1],
		PriceHigh:        recentPrices[0],
		PriceLow:         recentPrices[0],
		WindowTradeCount: len(recent),
	}
	for _, p := range recentPrices {
		if p > a.PriceHigh {
			a.PriceHigh = p
		}
		if p < a.PriceLow {
			a.PriceLow = p
		}
	}
	a.PriceChangePct = (a.PriceEnd - a.PriceStart) / a.PriceStart * 100

	switch {
	case a.PriceChangePct > 1:
		a.TrendDirection = TrendUp
	case a.PriceChangePct < -1:
		a.TrendDirection = TrendDown
	default:
		a.TrendDirection = TrendFlat
	}

	a.RecentVolatility = stddev(recentPrices)
	a.HistoricalVolatility = stddev(allPrices)
	a.VolatilitySpike = a.RecentVolatility / (a.HistoricalVolatility + epsilon)

	// Momentum: share of consecutive moves in the dominant direction.
	pos, neg, total := 0, 0, 0
	for i := 1; i < len(recentPrices); i++ {
		diff := recentPrices[i] - recentPrices[i-1]
		if diff > 0 {
			pos++
		} else if diff < 0 {
			neg++
		}
		total++
	}
	if total > 0 {
		a.MomentumScore = float64(maxInt(pos, neg)) / float64(total)
	}

	if len(all) > 10 {
		a.PriceChangeStdScore = abs(a.PriceEnd-a.PriceStart) / (a.HistoricalVolatility + epsilon)
	}

	a.Triggers = PriceTriggers{
		RapidMovement:     abs(a.PriceChangePct) > d.cfg.RapidMovementPct,
		UnusualVolatility: a.VolatilitySpike > d.cfg.VolatilitySpikeMultiplier,
		HighMomentum:      a.MomentumScore > d.cfg.MomentumThreshold,
	}
	a.ActiveTriggers = a.Triggers.count()
	return a
}

// accumulationPattern compares each trade's price against the cumulative
// VWAP up to that point; a sustained run on one side of VWAP over the
// tail of the stream marks accumulation or distribution.
func (d *PriceDetector) accumulationPattern(sorted []domain.Trade) *AccumulationPattern {
	if len(sorted) < 10 {
		return nil
	}

	vsVWAP := make([]float64, len(sorted))
	var cumVolume, cumSize, vwap float64
	for i, t := range sorted {
		cumVolume += t.Price * t.Size
		cumSize += t.Size
		if cumSize > 0 {
			vwap = cumVolume / cumSize
		}
		if vwap > 0 {
			vsVWAP[i] = (t.Price - vwap) / vwap * 100
		}
	}

	tail := vsVWAP
	if len(tail) > accumulationTail {
		tail = tail[len(tail)-accumulationTail:]
	}
	above, below := 0, 0
	for _, v := range tail {
		if v > 0 {
			above++
		} else if v < 0 {
			below++
		}
	}

	p := &AccumulationPattern{
		AboveVWAPRatio: float64(above) / float64(len(tail)),
		BelowVWAPRatio: float64(below) / float64(len(tail)),
		CurrentVWAP:    vwap,
		CurrentPrice:   sorted[len(sorted)-1].Price,
		VWAPDivergence: vsVWAP[len(vsVWAP)-1],
	}
	switch {
	case p.AboveVWAPRatio > accumulationClassify:
		p.PatternType = PatternAccumulation
		p.Strength = p.AboveVWAPRatio
	case p.BelowVWAPRatio > accumulationClassify:
		p.PatternType = PatternDistribution
		p.Strength = p.BelowVWAPRatio
	default:
		p.PatternType = PatternNeutral
		p.Strength = 0.5
	}
	p.Anomaly = p.PatternType != PatternNeutral && p.Strength > accumulationAnomalous
	return p
}

func priceSummary(a PriceAnalysis) string {
	var parts []string
	direction := "increased"
	if a.PriceChangePct < 0 {
		direction = "decreased"
	}
	parts = append(parts, fmt.Sprintf("price %s %.1f%%", direction, abs(a.PriceChangePct)))
	if a.VolatilitySpike > 2 {
		parts = append(parts, fmt.Sprintf("volatility %.1fx normal", a.VolatilitySpike))
	}
	if a.Triggers.HighMomentum {
		parts = append(parts, fmt.Sprintf("%.0f%% consistent direction", a.MomentumScore*100))
	}
	if a.TrendDirection != TrendFlat {
		parts = append(parts, fmt.Sprintf("strong %s trend", a.TrendDirection))
	}
	if a.Accumulation != nil && a.Accumulation.Anomaly {
		parts = append(parts, fmt.Sprintf("%s pattern (%.0f%%)", strings.ToLower(a.Accumulation.PatternType), a.Accumulation.Strength*100))
	}
	return strings.Join(parts, "; ")
}

func prices(trades []domain.Trade) []float64 {
	out := make([]float64, len(trades))
	for i, t := range trades {
		out[i] = t.Price
	}
	return out
}

func sortedByTime(trades []domain.Trade) []domain.Trade {
	out := make([]domain.Trade, len(trades))
	copy(out, trades)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Timestamp.Before(out[j].Timestamp) })
	return out
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
