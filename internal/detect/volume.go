package detect

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/predwatch/predwatch/internal/domain"
)

// volumeWindows are the look-back horizons checked for spikes, in hours.
var volumeWindows = []int{1, 2, 4, 6}

// VolumeBaseline summarizes a market's normal hourly trading activity.
type VolumeBaseline struct {
	AvgHourlyVolume  float64 `json:"avg_hourly_volume"`
	StdHourlyVolume  float64 `json:"std_hourly_volume"`
	AvgTradesPerHour float64 `json:"avg_trades_per_hour"`
	TotalVolume      float64 `json:"total_volume"`
	Hours            int     `json:"hours"`
}

// VolumeWindow is the spike check for one look-back horizon.
type VolumeWindow struct {
	Hours           int     `json:"hours"`
	Volume          float64 `json:"volume"`
	SpikeMultiplier float64 `json:"spike_multiplier"`
	ZScore          float64 `json:"z_score"`
	SpikeTriggered  bool    `json:"spike_triggered"`
	ZTriggered      bool    `json:"z_triggered"`
	Anomaly         bool    `json:"anomaly"`
}

// VolumeAnalysis is the full volume detection payload for one market.
type VolumeAnalysis struct {
	Baseline           VolumeBaseline `json:"baseline"`
	Windows            []VolumeWindow `json:"windows"`
	MaxAnomalyScore    float64        `json:"max_anomaly_score"`
	BuyVolume          float64        `json:"buy_volume"`
	SellVolume         float64        `json:"sell_volume"`
	DominantSide       domain.Side    `json:"dominant_side"`
	DirectionImbalance float64        `json:"direction_imbalance"`
}

// VolumeDetector flags markets whose recent volume exceeds the market's
// own hourly baseline, by ratio or by z-score.
type VolumeDetector struct {
	cfg VolumeConfig
}

func NewVolumeDetector(cfg VolumeConfig) (*VolumeDetector, error) {
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("failed to configure volume detector: %w", err)
	}
	return &VolumeDetector{cfg: cfg}, nil
}

func (d *VolumeDetector) Type() domain.AlertType { return domain.AlertVolumeSpike }

func (d *VolumeDetector) Analyze(_ context.Context, trades []domain.Trade) []Result {
	if len(trades) == 0 {
		return notAnomalous(d.Type(), "no trades available")
	}
	if len(trades) < d.cfg.MinTrades {
		return notAnomalous(d.Type(), fmt.Sprintf("insufficient trades (%d < %d)", len(trades), d.cfg.MinTrades))
	}

	baseline, ok := d.baseline(trades)
	if !ok {
		return notAnomalous(d.Type(), "unable to calculate baseline metrics")
	}
	if baseline.AvgHourlyVolume == 0 {
		return notAnomalous(d.Type(), "zero baseline volume")
	}

	anchor := newestTimestamp(trades)

	analysis := VolumeAnalysis{Baseline: baseline}
	anomaly := false
	for _, hours := range volumeWindows {
		cutoff := anchor.Add(-time.Duration(hours) * time.Hour)
		current := 0.0
		for _, t := range trades {
			if t.Timestamp.After(cutoff) {
				current += t.VolumeUSD
			}
		}

		w := VolumeWindow{
			Hours:           hours,
			Volume:          current,
			SpikeMultiplier: current / (baseline.AvgHourlyVolume + epsilon),
			ZScore:          zScore(current, baseline.AvgHourlyVolume, baseline.StdHourlyVolume),
		}
		w.SpikeTriggered = meetsThreshold(w.SpikeMultiplier, d.cfg.SpikeMultiplier, false)
		w.ZTriggered = meetsThreshold(w.ZScore, d.cfg.ZScoreThreshold, false)
		w.Anomaly = w.SpikeTriggered || w.ZTriggered
		if w.Anomaly {
			anomaly = true
			score := w.SpikeMultiplier
			if w.ZScore > score {
				score = w.ZScore
			}
			if score > analysis.MaxAnomalyScore {
				analysis.MaxAnomalyScore = score
			}
		}
		analysis.Windows = append(analysis.Windows, w)
	}

	if !anomaly {
		return notAnomalous(d.Type(), "volume within baseline bounds")
	}

	// Directional skew over the shortest window feeds confidence scoring.
	shortCutoff := anchor.Add(-time.Hour)
	for _, t := range trades {
		if !t.Timestamp.After(shortCutoff) {
			continue
		}
		switch t.Side {
		case domain.SideBuy:
			analysis.BuyVolume += t.VolumeUSD
		case domain.SideSell:
			analysis.SellVolume += t.VolumeUSD
		}
	}
	total := analysis.BuyVolume + analysis.SellVolume
	if total > 0 {
		analysis.DirectionImbalance = abs(analysis.BuyVolume-analysis.SellVolume) / total
		if analysis.BuyVolume > analysis.SellVolume {
			analysis.DominantSide = domain.SideBuy
		} else {
			analysis.DominantSide = domain.SideSell
		}
	} else {
		analysis.DominantSide = domain.SideUnknown
	}

	return []Result{{
		Detector: d.Type(),
		Anomaly:  true,
		Summary:  fmt.Sprintf("volume %.1fx hourly baseline", analysis.MaxAnomalyScore),
		Analysis: analysis,
	}}
}

// baseline buckets trades into calendar hours and summarizes the bucket
// distribution. Trades without timestamps are skipped.
func (d *VolumeDetector) baseline(trades []domain.Trade) (VolumeBaseline, bool) {
	buckets := make(map[time.Time]*struct {
		volume float64
		count  int
	})
	total := 0.0
	valid := 0
	for _, t := range trades {
		if t.Timestamp.IsZero() {
			continue
		}
		valid++
		total += t.VolumeUSD
		hour := t.Timestamp.Truncate(time.Hour)
		b := buckets[hour]
		if b == nil {
			b = &struct {
				volume float64
				count  int
			}{}
			buckets[hour] = b
		}
		b.volume += t.VolumeUSD
		b.count++
	}
	if valid == 0 {
		return VolumeBaseline{}, false
	}

	// Include empty hours between the first and last bucket so sparse
	// markets do not inflate their own baseline.
	hours := make([]time.Time, 0, len(buckets))
	for h := range buckets {
		hours = append(hours, h)
	}
	sort.Slice(hours, func(i, j int) bool { return hours[i].Before(hours[j]) })
	first, last := hours[0], hours[len(hours)-1]
	span := int(last.Sub(first)/time.Hour) + 1

	volumes := make([]float64, 0, span)
	counts := 0
	for h := first; !h.After(last); h = h.Add(time.Hour) {
		if b, ok := buckets[h]; ok {
			volumes = append(volumes, b.volume)
			counts += b.count
		} else {
			volumes = append(volumes, 0)
		}
	}

	return VolumeBaseline{
		AvgHourlyVolume:  mean(volumes),
		StdHourlyVolume:  stddev(volumes),
		AvgTradesPerHour: float64(counts) / float64(len(volumes)),
		TotalVolume:      total,
		Hours:            len(volumes),
	}, true
}

func newestTimestamp(trades []domain.Trade) time.Time {
	var newest time.Time
	for _, t := range trades {
		if t.Timestamp.After(newest) {
			newest = t.Timestamp
		}
	}
	return newest
}

func abs(x float64) float64 {
	if x < 0 {
		return -x
	}
	return x
}
