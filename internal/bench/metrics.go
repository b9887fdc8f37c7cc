// Package bench computes performance metrics over tracked alert
// outcomes: classification quality (precision, recall, F1, accuracy),
// financial results (ROI, win rate, Sharpe), and per-detector and
// per-confidence breakdowns.
package bench

import (
	"math"
	"sort"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/predwatch/predwatch/internal/domain"
	"github.com/predwatch/predwatch/internal/outcome"
)

// ConfusionMatrix holds classification counts.
type ConfusionMatrix struct {
	TruePositives  int `json:"true_positives"`
	FalsePositives int `json:"false_positives"`
	TrueNegatives  int `json:"true_negatives"`
	FalseNegatives int `json:"false_negatives"`
}

// Precision: TP / (TP + FP) — what fraction of alerts were right.
func (c ConfusionMatrix) Precision() float64 {
	if c.TruePositives+c.FalsePositives == 0 {
		return 0
	}
	return float64(c.TruePositives) / float64(c.TruePositives+c.FalsePositives)
}

// Recall: TP / (TP + FN) — what fraction of real moves were caught.
func (c ConfusionMatrix) Recall() float64 {
	if c.TruePositives+c.FalseNegatives == 0 {
		return 0
	}
	return float64(c.TruePositives) / float64(c.TruePositives+c.FalseNegatives)
}

// F1 balances precision and recall.
func (c ConfusionMatrix) F1() float64 {
	p, r := c.Precision(), c.Recall()
	if p+r == 0 {
		return 0
	}
	return 2 * p * r / (p + r)
}

// Accuracy: (TP + TN) / total.
func (c ConfusionMatrix) Accuracy() float64 {
	total := c.TruePositives + c.TrueNegatives + c.FalsePositives + c.FalseNegatives
	if total == 0 {
		return 0
	}
	return float64(c.TruePositives+c.TrueNegatives) / float64(total)
}

// DetectorMetrics is the per-detector breakdown.
type DetectorMetrics struct {
	Count         int             `json:"count"`
	Precision     float64         `json:"precision"`
	Recall        float64         `json:"recall"`
	F1Score       float64         `json:"f1_score"`
	AverageReturn float64         `json:"average_return"`
	WinRate       float64         `json:"win_rate"`
	Confusion     ConfusionMatrix `json:"confusion_matrix"`
}

// ConfidenceBucket is the breakdown at one minimum-confidence cutoff.
type ConfidenceBucket struct {
	Threshold float64 `json:"threshold"`
	Count     int     `json:"count"`
	Precision float64 `json:"precision"`
	Recall    float64 `json:"recall"`
	F1Score   float64 `json:"f1_score"`
	ROI       float64 `json:"roi"`
	WinRate   float64 `json:"win_rate"`
}

// PerformanceMetrics is the full report for one measurement interval.
type PerformanceMetrics struct {
	TotalAlerts       int     `json:"total_alerts"`
	CompletedOutcomes int     `json:"completed_outcomes"`
	Precision         float64 `json:"precision"`
	Recall            float64 `json:"recall"`
	F1Score           float64 `json:"f1_score"`
	Accuracy          float64 `json:"accuracy"`

	Confusion ConfusionMatrix `json:"confusion_matrix"`

	ROI           float64  `json:"roi"`
	WinRate       float64  `json:"win_rate"`
	AverageReturn float64  `json:"average_return"`
	TotalReturn   float64  `json:"total_return"`
	SharpeRatio   *float64 `json:"sharpe_ratio,omitempty"`

	// Prediction accuracy per configured interval, keyed by duration
	// string (e.g. "1h0m0s").
	AccuracyByInterval map[string]float64 `json:"accuracy_by_interval,omitempty"`

	ByDetector   map[domain.AlertType]DetectorMetrics `json:"by_detector,omitempty"`
	ByConfidence []ConfidenceBucket                   `json:"by_confidence,omitempty"`

	Interval  time.Duration `json:"interval"`
	Timestamp time.Time     `json:"timestamp"`
}

// confidenceThresholds are the normalized-confidence cutoffs reported
// in the by-confidence breakdown.
var confidenceThresholds = []float64{0.5, 0.6, 0.7, 0.8, 0.9}

// Calculator computes PerformanceMetrics from outcomes.
type Calculator struct {
	clock func() time.Time
}

func NewCalculator() *Calculator {
	return &Calculator{clock: time.Now}
}

// Calculate builds the full report for one interval. minConfidence
// filters on the outcome's (normalized) confidence score; pass 0 to
// include everything. Classification uses each outcome's final-interval
// result; returns use the requested interval.
func (c *Calculator) Calculate(outcomes []*outcome.AlertOutcome, interval time.Duration, minConfidence float64) PerformanceMetrics {
	if minConfidence > 0 {
		var filtered []*outcome.AlertOutcome
		for _, o := range outcomes {
			if o.Confidence >= minConfidence {
				filtered = append(filtered, o)
			}
		}
		outcomes = filtered
	}

	completed := filterResolvedAt(outcomes, interval)
	m := PerformanceMetrics{
		TotalAlerts:       len(outcomes),
		CompletedOutcomes: len(completed),
		Interval:          interval,
		Timestamp:         c.clock().UTC(),
	}
	if len(completed) == 0 {
		log.Warn().Dur("interval", interval).Msg("no completed outcomes available for metrics")
		return m
	}

	m.Confusion = confusion(completed)
	m.Precision = m.Confusion.Precision()
	m.Recall = m.Confusion.Recall()
	m.F1Score = m.Confusion.F1()
	m.Accuracy = m.Confusion.Accuracy()

	returns := returnsAt(completed, interval)
	m.TotalReturn = sum(returns)
	m.ROI = m.TotalReturn
	if len(returns) > 0 {
		m.AverageReturn = m.TotalReturn / float64(len(returns))
		m.WinRate = float64(countPositive(returns)) / float64(len(returns))
	}
	m.SharpeRatio = sharpe(returns)

	m.AccuracyByInterval = accuracyByInterval(completed)
	m.ByDetector = detectorBreakdown(completed, interval)
	m.ByConfidence = confidenceBreakdown(outcomes, interval)
	return m
}

func filterResolvedAt(outcomes []*outcome.AlertOutcome, interval time.Duration) []*outcome.AlertOutcome {
	var out []*outcome.AlertOutcome
	for _, o := range outcomes {
		if iv := o.IntervalAt(interval); iv != nil && iv.Resolved {
			out = append(out, o)
		}
	}
	return out
}

func confusion(outcomes []*outcome.AlertOutcome) ConfusionMatrix {
	var c ConfusionMatrix
	for _, o := range outcomes {
		switch o.Result {
		case outcome.TruePositive:
			c.TruePositives++
		case outcome.FalsePositive:
			c.FalsePositives++
		case outcome.TrueNegative:
			c.TrueNegatives++
		case outcome.FalseNegative:
			c.FalseNegatives++
		}
	}
	return c
}

func returnsAt(outcomes []*outcome.AlertOutcome, interval time.Duration) []float64 {
	var out []float64
	for _, o := range outcomes {
		if iv := o.IntervalAt(interval); iv != nil && iv.Resolved {
			out = append(out, iv.Return)
		}
	}
	return out
}

// sharpe is mean/std of returns with zero risk-free rate; nil when
// fewer than two returns or zero variance. Population std, matching
// how the report has always been computed.
func sharpe(returns []float64) *float64 {
	if len(returns) < 2 {
		return nil
	}
	m := sum(returns) / float64(len(returns))
	variance := 0.0
	for _, r := range returns {
		d := r - m
		variance += d * d
	}
	variance /= float64(len(returns))
	std := math.Sqrt(variance)
	if std == 0 {
		return nil
	}
	s := m / std
	return &s
}

func accuracyByInterval(outcomes []*outcome.AlertOutcome) map[string]float64 {
	type counter struct{ correct, total int }
	counts := make(map[time.Duration]*counter)
	for _, o := range outcomes {
		for _, iv := range o.Intervals {
			if !iv.Resolved {
				continue
			}
			c := counts[iv.Interval]
			if c == nil {
				c = &counter{}
				counts[iv.Interval] = c
			}
			c.total++
			if iv.Correct {
				c.correct++
			}
		}
	}
	if len(counts) == 0 {
		return nil
	}
	out := make(map[string]float64, len(counts))
	for iv, c := range counts {
		out[iv.String()] = float64(c.correct) / float64(c.total)
	}
	return out
}

func detectorBreakdown(outcomes []*outcome.AlertOutcome, interval time.Duration) map[domain.AlertType]DetectorMetrics {
	groups := make(map[domain.AlertType][]*outcome.AlertOutcome)
	for _, o := range outcomes {
		groups[o.DetectorType] = append(groups[o.DetectorType], o)
	}
	out := make(map[domain.AlertType]DetectorMetrics, len(groups))
	for det, grp := range groups {
		cm := confusion(grp)
		returns := returnsAt(grp, interval)
		dm := DetectorMetrics{
			Count:     len(grp),
			Precision: cm.Precision(),
			Recall:    cm.Recall(),
			F1Score:   cm.F1(),
			Confusion: cm,
		}
		if len(returns) > 0 {
			dm.AverageReturn = sum(returns) / float64(len(returns))
			dm.WinRate = float64(countPositive(returns)) / float64(len(returns))
		}
		out[det] = dm
	}
	return out
}

func confidenceBreakdown(outcomes []*outcome.AlertOutcome, interval time.Duration) []ConfidenceBucket {
	var buckets []ConfidenceBucket
	for _, threshold := range confidenceThresholds {
		var filtered []*outcome.AlertOutcome
		for _, o := range outcomes {
			if o.Confidence >= threshold {
				filtered = append(filtered, o)
			}
		}
		completed := filterResolvedAt(filtered, interval)
		if len(completed) == 0 {
			continue
		}
		cm := confusion(completed)
		returns := returnsAt(completed, interval)
		b := ConfidenceBucket{
			Threshold: threshold,
			Count:     len(completed),
			Precision: cm.Precision(),
			Recall:    cm.Recall(),
			F1Score:   cm.F1(),
			ROI:       sum(returns),
		}
		if len(returns) > 0 {
			b.WinRate = float64(countPositive(returns)) / float64(len(returns))
		}
		buckets = append(buckets, b)
	}
	sort.Slice(buckets, func(i, j int) bool { return buckets[i].Threshold < buckets[j].Threshold })
	return buckets
}

func sum(xs []float64) float64 {
	total := 0.0
	for _, x := range xs {
		total += x
	}
	return total
}

func countPositive(xs []float64) int {
	n := 0
	for _, x := range xs {
		if x > 0 {
			n++
		}
	}
	return n
}
