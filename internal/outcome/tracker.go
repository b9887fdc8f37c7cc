// Package outcome tracks what happened after each alert: price movement
// at fixed intervals, per-interval prediction correctness, and a
// confusion-matrix classification once the longest interval resolves.
package outcome

import (
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/predwatch/predwatch/internal/domain"
)

// Direction of price movement after an alert.
type Direction string

const (
	DirectionUp   Direction = "UP"
	DirectionDown Direction = "DOWN"
	DirectionFlat Direction = "FLAT"
)

// Classification buckets an alert for the confusion matrix. Flat moves
// count as "no movement": a correct flat call is a true negative, an
// incorrect call on a flat market is a false positive.
type Classification string

const (
	TruePositive  Classification = "TRUE_POSITIVE"
	FalsePositive Classification = "FALSE_POSITIVE"
	TrueNegative  Classification = "TRUE_NEGATIVE"
	FalseNegative Classification = "FALSE_NEGATIVE"
	Pending       Classification = "PENDING"
)

// IntervalOutcome is the price check at one interval after the alert.
type IntervalOutcome struct {
	Interval  time.Duration `json:"interval"`
	Price     float64       `json:"price"`
	Return    float64       `json:"return"`
	Direction Direction     `json:"direction"`
	Correct   bool          `json:"correct"`
	Resolved  bool          `json:"resolved"`
}

// AlertOutcome is the full tracked record for one alert.
type AlertOutcome struct {
	AlertID            string            `json:"alert_id"`
	MarketID           string            `json:"market_id"`
	AlertTime          time.Time         `json:"alert_time"`
	PredictedDirection domain.Side       `json:"predicted_direction"`
	Confidence         float64           `json:"confidence"`
	DetectorType       domain.AlertType  `json:"detector_type"`
	Severity           domain.Severity   `json:"severity"`
	PriceAtAlert       float64           `json:"price_at_alert"`
	Intervals          []IntervalOutcome `json:"intervals"`
	Result             Classification    `json:"result"`
}

// Completed reports whether every interval has a recorded price.
func (o *AlertOutcome) Completed() bool {
	for _, iv := range o.Intervals {
		if !iv.Resolved {
			return false
		}
	}
	return true
}

// IntervalAt returns the outcome for one interval, or nil.
func (o *AlertOutcome) IntervalAt(interval time.Duration) *IntervalOutcome {
	for i := range o.Intervals {
		if o.Intervals[i].Interval == interval {
			return &o.Intervals[i]
		}
	}
	return nil
}

// TrackRequest carries the alert fields the tracker needs.
type TrackRequest struct {
	AlertID            string
	MarketID           string
	AlertTime          time.Time
	PredictedDirection domain.Side
	Confidence         float64
	DetectorType       domain.AlertType
	Severity           domain.Severity
	PriceAtAlert       float64
}

// Tracker records alert outcomes. Alerts stay PENDING until the longest
// configured interval resolves. Safe for concurrent use.
type Tracker struct {
	threshold float64
	intervals []time.Duration

	mu       sync.Mutex
	outcomes map[string]*AlertOutcome
	order    []string
}

// NewTracker builds a tracker with the given flat threshold (fractional,
// e.g. 0.05 for 5%) and measurement intervals. Intervals are sorted
// ascending; the longest one classifies the alert.
func NewTracker(priceChangeThreshold float64, intervals []time.Duration) *Tracker {
	sorted := make([]time.Duration, len(intervals))
	copy(sorted, intervals)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
	return &Tracker{
		threshold: priceChangeThreshold,
		intervals: sorted,
		outcomes:  make(map[string]*AlertOutcome),
	}
}

// Intervals returns the configured intervals in ascending order.
func (t *Tracker) Intervals() []time.Duration {
	out := make([]time.Duration, len(t.intervals))
	copy(out, t.intervals)
	return out
}

// Track starts tracking an alert.
func (t *Tracker) Track(req TrackRequest) *AlertOutcome {
	o := &AlertOutcome{
		AlertID:            req.AlertID,
		MarketID:           req.MarketID,
		AlertTime:          req.AlertTime,
		PredictedDirection: req.PredictedDirection,
		Confidence:         req.Confidence,
		DetectorType:       req.DetectorType,
		Severity:           req.Severity,
		PriceAtAlert:       req.PriceAtAlert,
		Result:             Pending,
	}
	for _, iv := range t.intervals {
		o.Intervals = append(o.Intervals, IntervalOutcome{Interval: iv})
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if _, exists := t.outcomes[req.AlertID]; !exists {
		t.order = append(t.order, req.AlertID)
	}
	t.outcomes[req.AlertID] = o
	return o
}

// RecordPrice records the market price observed at one interval after
// the alert and recomputes that interval's outcome. When the longest
// interval resolves the alert is classified.
func (t *Tracker) RecordPrice(alertID string, interval time.Duration, price float64) {
	t.mu.Lock()
	defer t.mu.Unlock()

	o, ok := t.outcomes[alertID]
	if !ok {
		log.Warn().Str("alert_id", alertID).Msg("alert not found in outcome tracker")
		return
	}
	iv := o.IntervalAt(interval)
	if iv == nil {
		log.Warn().Str("alert_id", alertID).Dur("interval", interval).Msg("unknown outcome interval")
		return
	}

	iv.Price = price
	iv.Resolved = true
	if o.PriceAtAlert > 0 {
		iv.Return = (price - o.PriceAtAlert) / o.PriceAtAlert
		iv.Direction = t.direction(iv.Return)
		iv.Correct = predictionCorrect(o.PredictedDirection, iv.Direction)
	}

	if interval == t.intervals[len(t.intervals)-1] {
		o.Result = classify(iv)
	}
}

func (t *Tracker) direction(change float64) Direction {
	switch {
	case change < t.threshold && change > -t.threshold:
		return DirectionFlat
	case change > 0:
		return DirectionUp
	default:
		return DirectionDown
	}
}

func predictionCorrect(predicted domain.Side, actual Direction) bool {
	switch predicted {
	case domain.SideBuy:
		return actual == DirectionUp
	case domain.SideSell:
		return actual == DirectionDown
	default:
		return actual == DirectionFlat
	}
}

func classify(final *IntervalOutcome) Classification {
	if final == nil || !final.Resolved {
		return Pending
	}
	if final.Correct {
		if final.Direction == DirectionFlat {
			return TrueNegative
		}
		return TruePositive
	}
	if final.Direction == DirectionFlat {
		return FalsePositive
	}
	return FalseNegative
}

// Outcome returns one tracked outcome, or nil.
func (t *Tracker) Outcome(alertID string) *AlertOutcome {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.outcomes[alertID]
}

// Outcomes returns all tracked outcomes in tracking order.
func (t *Tracker) Outcomes() []*AlertOutcome {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]*AlertOutcome, 0, len(t.order))
	for _, id := range t.order {
		out = append(out, t.outcomes[id])
	}
	return out
}

// CompletedOutcomes returns outcomes with every interval resolved.
func (t *Tracker) CompletedOutcomes() []*AlertOutcome {
	var out []*AlertOutcome
	for _, o := range t.Outcomes() {
		if o.Completed() {
			out = append(out, o)
		}
	}
	return out
}

// Reset clears all tracked outcomes.
func (t *Tracker) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.outcomes = make(map[string]*AlertOutcome)
	t.order = nil
}
