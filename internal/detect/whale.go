package detect

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/predwatch/predwatch/internal/domain"
)

// WhaleStat aggregates one wallet's large-trade activity.
type WhaleStat struct {
	Address       string      `json:"address"`
	TotalVolume   float64     `json:"total_volume"`
	TradeCount    int         `json:"trade_count"`
	AvgTradeSize  float64     `json:"avg_trade_size"`
	PreferredSide domain.Side `json:"preferred_side"`
}

// CoordinationSignal scores whether whale trades look coordinated.
// SameDirection weighs 3, ClusteredTiming 2, SimilarSizes and
// EnoughWallets 1 each; a total of 4 or more marks coordination.
type CoordinationSignal struct {
	Coordinated     bool    `json:"coordinated"`
	Score           int     `json:"score"`
	SameDirection   bool    `json:"same_direction"`
	ClusteredTiming bool    `json:"clustered_timing"`
	SimilarSizes    bool    `json:"similar_sizes"`
	EnoughWallets   bool    `json:"enough_wallets"`
	SizeVariance    float64 `json:"size_variance"`
	AvgTimeGapSec   float64 `json:"avg_time_gap_sec"`
	UniqueWhales    int     `json:"unique_whales"`
	Reason          string  `json:"reason,omitempty"`
}

// WhaleAnalysis is the whale detection payload for one market.
type WhaleAnalysis struct {
	WhaleCount          int                `json:"whale_count"`
	TotalWhaleVolume    float64            `json:"total_whale_volume"`
	LargestWhaleVolume  float64            `json:"largest_whale_volume"`
	BuyVolume           float64            `json:"buy_volume"`
	SellVolume          float64            `json:"sell_volume"`
	DirectionImbalance  float64            `json:"direction_imbalance"`
	DominantSide        domain.Side        `json:"dominant_side"`
	WhaleMarketShare    float64            `json:"whale_market_share"`
	WhaleDominance      bool               `json:"whale_dominance"`
	SignificantActivity bool               `json:"significant_activity"`
	Coordination        CoordinationSignal `json:"coordination"`
	TopWhales           []WhaleStat        `json:"top_whales"`
}

// whaleDominanceShare: whales above 30% of market volume dominate it.
const whaleDominanceShare = 0.3

const topWhalesLimit = 10

// WhaleDetector flags large single-wallet orders and coordinated groups
// of large orders.
type WhaleDetector struct {
	cfg WhaleConfig
}

func NewWhaleDetector(cfg WhaleConfig) (*WhaleDetector, error) {
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("failed to configure whale detector: %w", err)
	}
	return &WhaleDetector{cfg: cfg}, nil
}

func (d *WhaleDetector) Type() domain.AlertType { return domain.AlertWhaleActivity }

func (d *WhaleDetector) Analyze(_ context.Context, trades []domain.Trade) []Result {
	if len(trades) == 0 {
		return notAnomalous(d.Type(), "no trades available")
	}

	var whales []domain.Trade
	totalMarketVolume := 0.0
	largestTrade := 0.0
	for _, t := range trades {
		totalMarketVolume += t.VolumeUSD
		if t.VolumeUSD > largestTrade {
			largestTrade = t.VolumeUSD
		}
		if meetsThreshold(t.VolumeUSD, d.cfg.ThresholdUSD, true) {
			whales = append(whales, t)
		}
	}
	if len(whales) == 0 {
		return notAnomalous(d.Type(), fmt.Sprintf("no trades above $%.0f threshold (largest $%.0f)", d.cfg.ThresholdUSD, largestTrade))
	}

	analysis := d.analyzePatterns(whales, totalMarketVolume)
	analysis.Coordination = d.detectCoordination(whales)

	if !analysis.SignificantActivity && !analysis.Coordination.Coordinated {
		return notAnomalous(d.Type(), "whale activity within normal patterns")
	}

	return []Result{{
		Detector: d.Type(),
		Anomaly:  true,
		Summary:  whaleSummary(analysis),
		Analysis: analysis,
	}}
}

func (d *WhaleDetector) analyzePatterns(whales []domain.Trade, totalMarketVolume float64) WhaleAnalysis {
	type acc struct {
		volume float64
		count  int
		buys   int
		sells  int
	}
	byWallet := make(map[string]*acc)
	var buyVolume, sellVolume float64
	for _, t := range whales {
		a := byWallet[t.Maker]
		if a == nil {
			a = &acc{}
			byWallet[t.Maker] = a
		}
		a.volume += t.VolumeUSD
		a.count++
		switch t.Side {
		case domain.SideBuy:
			a.buys++
			buyVolume += t.VolumeUSD
		case domain.SideSell:
			a.sells++
			sellVolume += t.VolumeUSD
		}
	}

	stats := make([]WhaleStat, 0, len(byWallet))
	for addr, a := range byWallet {
		side := domain.SideBuy
		if a.sells > a.buys {
			side = domain.SideSell
		}
		stats = append(stats, WhaleStat{
			Address:       addr,
			TotalVolume:   a.volume,
			TradeCount:    a.count,
			AvgTradeSize:  a.volume / float64(a.count),
			PreferredSide: side,
		})
	}
	sort.Slice(stats, func(i, j int) bool {
		if stats[i].TotalVolume != stats[j].TotalVolume {
			return stats[i].TotalVolume > stats[j].TotalVolume
		}
		return stats[i].Address < stats[j].Address
	})
	top := stats
	if len(top) > topWhalesLimit {
		top = top[:topWhalesLimit]
	}

	analysis := WhaleAnalysis{
		WhaleCount:       len(byWallet),
		TotalWhaleVolume: buyVolume + sellVolume,
		BuyVolume:        buyVolume,
		SellVolume:       sellVolume,
		TopWhales:        top,
	}
	if len(stats) > 0 {
		analysis.LargestWhaleVolume = stats[0].TotalVolume
	}
	if analysis.TotalWhaleVolume > 0 {
		analysis.DirectionImbalance = abs(buyVolume-sellVolume) / analysis.TotalWhaleVolume
		if buyVolume > sellVolume {
			analysis.DominantSide = domain.SideBuy
		} else {
			analysis.DominantSide = domain.SideSell
		}
	} else {
		analysis.DominantSide = domain.SideUnknown
	}
	analysis.WhaleMarketShare = analysis.TotalWhaleVolume / math.Max(totalMarketVolume, 1)
	analysis.WhaleDominance = analysis.WhaleMarketShare > whaleDominanceShare

	analysis.SignificantActivity = meetsThreshold(analysis.DirectionImbalance, d.cfg.CoordinationThreshold, false) &&
		meetsThreshold(float64(len(top)), float64(d.cfg.MinWhalesForCoordination), true)
	return analysis
}

// detectCoordination scores timing, direction, and size alignment among
// whale trades.
func (d *WhaleDetector) detectCoordination(whales []domain.Trade) CoordinationSignal {
	if len(whales) < d.cfg.MinWhalesForCoordination {
		return CoordinationSignal{
			Reason: fmt.Sprintf("insufficient whale trades (%d < %d)", len(whales), d.cfg.MinWhalesForCoordination),
		}
	}

	sizes := make([]float64, len(whales))
	wallets := make(map[string]struct{})
	sides := make(map[domain.Side]struct{})
	for i, t := range whales {
		sizes[i] = t.VolumeUSD
		wallets[t.Maker] = struct{}{}
		sides[t.Side] = struct{}{}
	}

	sig := CoordinationSignal{
		SameDirection: len(sides) == 1,
		SizeVariance:  coefVariation(sizes),
		UniqueWhales:  len(wallets),
	}
	sig.SimilarSizes = sig.SizeVariance < 0.5
	sig.EnoughWallets = meetsThreshold(float64(len(wallets)), float64(d.cfg.MinWhalesForCoordination), true)

	// Clustered timing: more than half the inter-trade gaps under 5
	// minutes. The first trade counts as a zero gap, a diff over the
	// full series, so the ratio denominator is the trade count.
	sorted := make([]domain.Trade, len(whales))
	copy(sorted, whales)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Timestamp.Before(sorted[j].Timestamp) })
	gaps := make([]float64, 1, len(sorted))
	within := 1
	for i := 1; i < len(sorted); i++ {
		gap := sorted[i].Timestamp.Sub(sorted[i-1].Timestamp).Seconds()
		gaps = append(gaps, gap)
		if gap < 300 {
			within++
		}
	}
	sig.AvgTimeGapSec = mean(gaps)
	sig.ClusteredTiming = float64(within)/float64(len(gaps)) > 0.5

	if sig.SameDirection {
		sig.Score += 3
	}
	if sig.ClusteredTiming {
		sig.Score += 2
	}
	if sig.SimilarSizes {
		sig.Score++
	}
	if sig.EnoughWallets {
		sig.Score++
	}
	sig.Coordinated = sig.Score >= 4
	return sig
}

func whaleSummary(a WhaleAnalysis) string {
	parts := []string{fmt.Sprintf("%d whales traded $%.0f", a.WhaleCount, a.TotalWhaleVolume)}
	if a.DirectionImbalance > 0.7 {
		parts = append(parts, fmt.Sprintf("%.0f%% %s bias", a.DirectionImbalance*100, a.DominantSide))
	}
	if a.Coordination.Coordinated {
		parts = append(parts, fmt.Sprintf("coordination detected (score: %d)", a.Coordination.Score))
	}
	if a.WhaleDominance {
		parts = append(parts, fmt.Sprintf("%.1f%% of market volume", a.WhaleMarketShare*100))
	}
	return strings.Join(parts, "; ")
}
