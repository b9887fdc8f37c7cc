// Package sim replays historical trades through the detectors and the
// confidence evaluator, producing virtual alerts and tracked outcomes
// for performance measurement.
package sim

import (
	"context"
	"sort"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/predwatch/predwatch/internal/confidence"
	"github.com/predwatch/predwatch/internal/detect"
	"github.com/predwatch/predwatch/internal/domain"
	"github.com/predwatch/predwatch/internal/outcome"
)

// Evaluation cadence for sequential replay: every evalStride processed
// trades globally, or once a market has accumulated evalBacklog trades
// since its last evaluation.
const (
	evalStride  = 50
	evalBacklog = 100
)

// Stats summarizes one replay run.
type Stats struct {
	TotalTrades      int                      `json:"total_trades"`
	UniqueMarkets    int                      `json:"unique_markets"`
	TotalAlerts      int                      `json:"total_alerts"`
	SuppressedAlerts int                      `json:"suppressed_alerts"`
	DetectorErrors   int                      `json:"detector_errors"`
	AlertsByDetector map[domain.AlertType]int `json:"alerts_by_detector"`
	AlertsBySeverity map[domain.Severity]int  `json:"alerts_by_severity"`
	Elapsed          time.Duration            `json:"elapsed"`
	TradesPerSecond  float64                  `json:"trades_per_second"`
	Mode             string                   `json:"mode"`
}

// Engine replays trades through a detector set and scores the results.
// It holds per-market rolling state, the alerts generated so far, and
// an outcome tracker fed with every alert. Not safe for concurrent use;
// run one replay per engine.
type Engine struct {
	detectors []detect.Detector
	confCfg   confidence.Config
	eval      *confidence.Evaluator
	tracker   *outcome.Tracker
	windowCap int

	states map[string]*MarketState
	alerts []*confidence.Alert
	stats  Stats
	clock  func() time.Time
}

// NewEngine builds a replay engine. The tracker receives every alert
// with its confidence normalized to [0,1].
func NewEngine(detectors []detect.Detector, confCfg confidence.Config, tracker *outcome.Tracker) *Engine {
	return &Engine{
		detectors: detectors,
		confCfg:   confCfg,
		eval:      confidence.NewEvaluator(confCfg),
		tracker:   tracker,
		windowCap: defaultWindowCap,
		states:    make(map[string]*MarketState),
		clock:     time.Now,
	}
}

// Reset clears replay state so the engine can run again.
func (e *Engine) Reset() {
	e.states = make(map[string]*MarketState)
	e.alerts = nil
	e.stats = Stats{}
	e.eval = confidence.NewEvaluator(e.confCfg)
	e.tracker.Reset()
}

// Alerts returns the alerts generated so far, in emission order.
func (e *Engine) Alerts() []*confidence.Alert {
	out := make([]*confidence.Alert, len(e.alerts))
	copy(out, e.alerts)
	return out
}

// Tracker exposes the outcome tracker fed by this engine.
func (e *Engine) Tracker() *outcome.Tracker { return e.tracker }

// State returns the rolling state for one market, or nil.
func (e *Engine) State(marketID string) *MarketState { return e.states[marketID] }

// RunSequential replays trades in input order, evaluating each market
// periodically as its window grows. This preserves cross-market
// temporal context, so the cross-market noise filter behaves as it
// would live.
func (e *Engine) RunSequential(ctx context.Context, trades []domain.Trade) (Stats, error) {
	started := e.clock()
	log.Info().Int("trades", len(trades)).Msg("starting sequential replay")

	for i, trade := range trades {
		if err := ctx.Err(); err != nil {
			return e.finishStats(started, "sequential"), err
		}

		state := e.stateFor(trade.MarketID)
		state.AddTrade(trade)
		e.stats.TotalTrades++

		if i%evalStride == 0 || state.sinceEval >= evalBacklog {
			e.evaluateMarket(ctx, state)
		}
	}

	stats := e.finishStats(started, "sequential")
	log.Info().Int("trades", stats.TotalTrades).Int("alerts", stats.TotalAlerts).
		Dur("elapsed", stats.Elapsed).Msg("sequential replay complete")
	return stats, nil
}

// RunBatch groups trades by market and replays each market completely
// before evaluating it once. Much faster on large datasets, at the cost
// of cross-market temporal context. Markets are processed in sorted
// order so runs are reproducible. Reports the same total_trades and
// unique_markets as a sequential run over the same input.
func (e *Engine) RunBatch(ctx context.Context, trades []domain.Trade) (Stats, error) {
	started := e.clock()
	log.Info().Int("trades", len(trades)).Msg("starting batch replay")

	byMarket := make(map[string][]domain.Trade)
	for _, t := range trades {
		byMarket[t.MarketID] = append(byMarket[t.MarketID], t)
	}
	markets := make([]string, 0, len(byMarket))
	for id := range byMarket {
		markets = append(markets, id)
	}
	sort.Strings(markets)
	log.Debug().Int("markets", len(markets)).Msg("grouped trades by market")

	for _, id := range markets {
		if err := ctx.Err(); err != nil {
			return e.finishStats(started, "batch"), err
		}

		group := byMarket[id]
		sort.SliceStable(group, func(i, j int) bool { return group[i].Timestamp.Before(group[j].Timestamp) })

		state := e.stateFor(id)
		for _, t := range group {
			state.AddTrade(t)
			e.stats.TotalTrades++
		}
		e.evaluateMarket(ctx, state)
	}

	stats := e.finishStats(started, "batch")
	log.Info().Int("trades", stats.TotalTrades).Int("alerts", stats.TotalAlerts).
		Dur("elapsed", stats.Elapsed).Msg("batch replay complete")
	return stats, nil
}

func (e *Engine) stateFor(marketID string) *MarketState {
	state, ok := e.states[marketID]
	if !ok {
		state = NewMarketState(marketID, e.windowCap)
		e.states[marketID] = state
	}
	return state
}

// evaluateMarket runs every detector over the market's current window
// and feeds the results to the confidence evaluator. A panicking
// detector is logged and skipped rather than aborting the replay.
func (e *Engine) evaluateMarket(ctx context.Context, state *MarketState) {
	window := state.Window()
	if len(window) == 0 {
		return
	}
	state.sinceEval = 0

	var results []detect.Result
	for _, d := range e.detectors {
		results = append(results, e.safeAnalyze(ctx, d, state.MarketID, window)...)
	}
	if len(results) == 0 {
		return
	}

	alert, reason := e.eval.Evaluate(state.MarketID, "", state.LastPrice(), state.LastTradeTime, results)
	if alert == nil {
		if reason != "" {
			e.stats.SuppressedAlerts++
		}
		return
	}

	e.alerts = append(e.alerts, alert)
	e.stats.TotalAlerts++
	if e.stats.AlertsByDetector == nil {
		e.stats.AlertsByDetector = make(map[domain.AlertType]int)
		e.stats.AlertsBySeverity = make(map[domain.Severity]int)
	}
	e.stats.AlertsByDetector[alert.Type]++
	e.stats.AlertsBySeverity[alert.Severity]++

	e.tracker.Track(outcome.TrackRequest{
		AlertID:            alert.ID,
		MarketID:           alert.MarketID,
		AlertTime:          alert.Timestamp,
		PredictedDirection: alert.PredictedDirection,
		Confidence:         alert.NormalizedConfidence(e.confCfg.CriticalThreshold),
		DetectorType:       alert.Type,
		Severity:           alert.Severity,
		PriceAtAlert:       alert.PriceAtAlert,
	})

	log.Debug().Str("market", state.MarketID).Str("detector", string(alert.Type)).
		Float64("confidence", alert.Confidence).Msg("virtual alert")
}

func (e *Engine) safeAnalyze(ctx context.Context, d detect.Detector, marketID string, trades []domain.Trade) (results []detect.Result) {
	defer func() {
		if r := recover(); r != nil {
			e.stats.DetectorErrors++
			log.Warn().Str("market", marketID).Str("detector", string(d.Type())).
				Interface("panic", r).Msg("detector panicked, skipping")
			results = nil
		}
	}()
	return d.Analyze(ctx, trades)
}

func (e *Engine) finishStats(started time.Time, mode string) Stats {
	e.stats.UniqueMarkets = len(e.states)
	e.stats.Mode = mode
	e.stats.Elapsed = e.clock().Sub(started)
	if secs := e.stats.Elapsed.Seconds(); secs > 0 {
		e.stats.TradesPerSecond = float64(e.stats.TotalTrades) / secs
	}
	return e.stats
}
