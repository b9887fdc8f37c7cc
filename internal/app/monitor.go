// Package app orchestrates live monitoring: market discovery, trade
// ingest, periodic detection and outcome resolution.
package app

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/predwatch/predwatch/internal/confidence"
	"github.com/predwatch/predwatch/internal/detect"
	"github.com/predwatch/predwatch/internal/domain"
	"github.com/predwatch/predwatch/internal/infra/polymarket"
	"github.com/predwatch/predwatch/internal/interfaces/alerts"
	obshttp "github.com/predwatch/predwatch/internal/interfaces/http"
	"github.com/predwatch/predwatch/internal/outcome"
	"github.com/predwatch/predwatch/internal/persistence"
	"github.com/predwatch/predwatch/internal/sim"
)

// MarketCatalog discovers which markets to monitor.
type MarketCatalog interface {
	ActiveMarkets(ctx context.Context, minVolume float64, maxMarkets int) ([]polymarket.Market, error)
}

// TradeSource fetches recent trades for a set of markets.
type TradeSource interface {
	RecentTrades(ctx context.Context, marketIDs []string, limit int) ([]domain.Trade, error)
}

// TradeFeed streams live trades; the polymarket websocket feed
// satisfies it.
type TradeFeed interface {
	Run(ctx context.Context) error
	Trades() <-chan domain.Trade
	SetAssets(assetIDs []string)
}

// MonitorOptions wires the monitor's dependencies. Feed, Metrics and
// Repo are optional; polling through Trades alone is a supported mode.
type MonitorOptions struct {
	Catalog    MarketCatalog
	Trades     TradeSource
	Feed       TradeFeed
	Detectors  []detect.Detector
	Evaluator  *confidence.Evaluator
	Confidence confidence.Config
	Tracker    *outcome.Tracker
	Emitter    *alerts.Emitter
	Metrics    *obshttp.MetricsRegistry
	Repo       persistence.Repository

	VolumeThreshold   float64
	MaxMarkets        int
	DiscoveryInterval time.Duration
	AnalysisInterval  time.Duration
	FetchLimit        int
	WindowCap         int
}

// Monitor runs the live detection loops.
type Monitor struct {
	opts MonitorOptions

	mu      sync.Mutex
	markets map[string]polymarket.Market
	states  map[string]*sim.MarketState
	seen    map[string]struct{} // trade dedup keys

	analyses int
	emitted  int
}

func NewMonitor(opts MonitorOptions) *Monitor {
	if opts.DiscoveryInterval <= 0 {
		opts.DiscoveryInterval = 5 * time.Minute
	}
	if opts.AnalysisInterval <= 0 {
		opts.AnalysisInterval = time.Minute
	}
	if opts.FetchLimit <= 0 {
		opts.FetchLimit = 200
	}
	if opts.MaxMarkets <= 0 {
		opts.MaxMarkets = 50
	}
	if opts.Confidence.CriticalThreshold <= 0 {
		opts.Confidence = confidence.DefaultConfig()
	}
	return &Monitor{
		opts:    opts,
		markets: make(map[string]polymarket.Market),
		states:  make(map[string]*sim.MarketState),
		seen:    make(map[string]struct{}),
	}
}

// Run starts the discovery, ingest, analysis and outcome loops and
// blocks until the context is cancelled.
func (m *Monitor) Run(ctx context.Context) error {
	// First discovery happens before the loops so analysis has markets
	// to work with immediately.
	if err := m.discover(ctx); err != nil {
		log.Error().Err(err).Msg("initial market discovery failed")
	}

	var wg sync.WaitGroup
	run := func(name string, fn func(context.Context)) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			fn(ctx)
			log.Debug().Str("loop", name).Msg("monitor loop stopped")
		}()
	}

	run("discovery", m.discoveryLoop)
	run("analysis", m.analysisLoop)
	run("outcomes", m.outcomeLoop)
	if m.opts.Feed != nil {
		run("feed", m.feedLoop)
	}

	<-ctx.Done()
	wg.Wait()
	return ctx.Err()
}

func (m *Monitor) discoveryLoop(ctx context.Context) {
	ticker := time.NewTicker(m.opts.DiscoveryInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := m.discover(ctx); err != nil {
				log.Error().Err(err).Msg("market discovery failed")
			}
		}
	}
}

func (m *Monitor) discover(ctx context.Context) error {
	found, err := m.opts.Catalog.ActiveMarkets(ctx, m.opts.VolumeThreshold, m.opts.MaxMarkets)
	if err != nil {
		return err
	}

	m.mu.Lock()
	previous := len(m.markets)
	m.markets = make(map[string]polymarket.Market, len(found))
	var tokenIDs []string
	for _, market := range found {
		m.markets[market.ConditionID] = market
		// Two outcome tokens per market is enough for trade flow.
		ids := market.TokenIDs
		if len(ids) > 2 {
			ids = ids[:2]
		}
		tokenIDs = append(tokenIDs, ids...)
	}
	m.mu.Unlock()

	if m.opts.Metrics != nil {
		m.opts.Metrics.MarketsMonitored.Set(float64(len(found)))
	}
	log.Info().Int("markets", len(found)).Int("previous", previous).Msg("market discovery complete")

	if m.opts.Feed != nil && len(tokenIDs) > 0 {
		m.opts.Feed.SetAssets(tokenIDs)
	}
	return nil
}

func (m *Monitor) feedLoop(ctx context.Context) {
	go func() {
		if err := m.opts.Feed.Run(ctx); err != nil && ctx.Err() == nil {
			log.Error().Err(err).Msg("trade feed stopped, continuing on polling only")
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case trade, ok := <-m.opts.Feed.Trades():
			if !ok {
				return
			}
			m.ingest("websocket", []domain.Trade{trade})
		}
	}
}

// ingest adds trades to their market windows, deduplicating against
// trades already seen from the other source.
func (m *Monitor) ingest(source string, trades []domain.Trade) {
	m.mu.Lock()
	var fresh []domain.Trade
	for _, t := range trades {
		if _, watched := m.markets[t.MarketID]; !watched {
			continue
		}
		key := tradeKey(t)
		if _, dup := m.seen[key]; dup {
			continue
		}
		m.seen[key] = struct{}{}

		state, ok := m.states[t.MarketID]
		if !ok {
			state = sim.NewMarketState(t.MarketID, m.opts.WindowCap)
			m.states[t.MarketID] = state
		}
		state.AddTrade(t)
		fresh = append(fresh, t)
	}
	// The dedup set only needs to cover the rolling windows.
	if len(m.seen) > 100000 {
		m.seen = make(map[string]struct{})
	}
	m.mu.Unlock()

	if m.opts.Metrics != nil && len(fresh) > 0 {
		m.opts.Metrics.TradesIngested.WithLabelValues(source).Add(float64(len(fresh)))
	}
}

func tradeKey(t domain.Trade) string {
	if t.TxHash != "" {
		return t.MarketID + "|" + t.TxHash
	}
	return t.MarketID + "|" + t.Timestamp.UTC().Format(time.RFC3339Nano) + "|" + t.Maker
}

func (m *Monitor) analysisLoop(ctx context.Context) {
	ticker := time.NewTicker(m.opts.AnalysisInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.analyzeAll(ctx)
		}
	}
}

// analyzeAll polls recent trades for every monitored market, then runs
// the detector suite per market.
func (m *Monitor) analyzeAll(ctx context.Context) {
	started := time.Now()

	m.mu.Lock()
	marketIDs := make([]string, 0, len(m.markets))
	for id := range m.markets {
		marketIDs = append(marketIDs, id)
	}
	m.mu.Unlock()
	if len(marketIDs) == 0 {
		return
	}
	sort.Strings(marketIDs)

	if m.opts.Trades != nil {
		trades, err := m.opts.Trades.RecentTrades(ctx, marketIDs, m.opts.FetchLimit)
		if err != nil {
			log.Error().Err(err).Msg("trade poll failed")
		} else {
			m.ingest("poll", trades)
			m.archive(ctx, trades)
		}
	}

	m.analyses++
	alertCount := 0
	for _, marketID := range marketIDs {
		if ctx.Err() != nil {
			return
		}
		if m.analyzeMarket(ctx, marketID) {
			alertCount++
		}
	}

	if m.opts.Metrics != nil {
		m.opts.Metrics.AnalysisDuration.Observe(time.Since(started).Seconds())
	}
	log.Debug().Int("analysis", m.analyses).Int("markets", len(marketIDs)).
		Int("alerts", alertCount).Dur("elapsed", time.Since(started)).Msg("analysis cycle complete")
}

func (m *Monitor) analyzeMarket(ctx context.Context, marketID string) bool {
	m.mu.Lock()
	state := m.states[marketID]
	market := m.markets[marketID]
	m.mu.Unlock()
	if state == nil || state.TradeCount == 0 {
		return false
	}

	window := state.Window()
	asOf := state.LastTradeTime
	lastPrice := state.LastPrice()

	var results []detect.Result
	for _, detector := range m.opts.Detectors {
		results = append(results, m.safeAnalyze(ctx, detector, window)...)
	}

	alert, suppressReason := m.opts.Evaluator.Evaluate(marketID, market.Question, lastPrice, asOf, results)
	if alert == nil {
		if suppressReason != "" && m.opts.Metrics != nil {
			m.opts.Metrics.ObserveSuppression(suppressReason)
		}
		return false
	}

	delivered, dropReason := m.opts.Emitter.Emit(*alert)
	if !delivered {
		log.Debug().Str("market", marketID).Str("reason", dropReason).Msg("alert dropped by delivery limits")
		return false
	}
	m.emitted++

	if m.opts.Metrics != nil {
		m.opts.Metrics.ObserveAlert(*alert)
	}
	if m.opts.Tracker != nil {
		m.opts.Tracker.Track(outcome.TrackRequest{
			AlertID:            alert.ID,
			MarketID:           alert.MarketID,
			AlertTime:          alert.Timestamp,
			PredictedDirection: alert.PredictedDirection,
			Confidence:         alert.NormalizedConfidence(m.opts.Confidence.CriticalThreshold),
			DetectorType:       alert.Type,
			Severity:           alert.Severity,
			PriceAtAlert:       alert.PriceAtAlert,
		})
	}
	if m.opts.Repo.Alerts != nil {
		rec, err := persistence.NewAlertRecord(*alert)
		if err == nil {
			err = m.opts.Repo.Alerts.Insert(ctx, rec)
		}
		if err != nil {
			log.Error().Err(err).Str("alert_id", alert.ID).Msg("failed to archive alert")
		}
	}
	return true
}

func (m *Monitor) safeAnalyze(ctx context.Context, detector detect.Detector, window []domain.Trade) (results []detect.Result) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().Interface("panic", r).Str("detector", string(detector.Type())).
				Msg("detector panicked, skipping")
			if m.opts.Metrics != nil {
				m.opts.Metrics.ObserveDetectorError(detector.Type())
			}
			results = nil
		}
	}()
	return detector.Analyze(ctx, window)
}

func (m *Monitor) archive(ctx context.Context, trades []domain.Trade) {
	if m.opts.Repo.Trades == nil || len(trades) == 0 {
		return
	}
	if _, err := m.opts.Repo.Trades.InsertBatch(ctx, trades); err != nil {
		log.Error().Err(err).Int("trades", len(trades)).Msg("failed to archive trades")
	}
}

// outcomeLoop resolves pending alert outcomes from current market
// prices once their intervals elapse.
func (m *Monitor) outcomeLoop(ctx context.Context) {
	if m.opts.Tracker == nil {
		return
	}
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.resolveOutcomes(time.Now().UTC())
		}
	}
}

// resolveOutcomes records the current last-trade price for every
// pending interval whose deadline has passed.
func (m *Monitor) resolveOutcomes(now time.Time) {
	resolved := 0
	for _, o := range m.opts.Tracker.Outcomes() {
		if o.Completed() {
			continue
		}
		m.mu.Lock()
		state := m.states[o.MarketID]
		m.mu.Unlock()
		if state == nil {
			continue
		}
		price := state.LastPrice()
		if price <= 0 {
			continue
		}
		for _, iv := range o.Intervals {
			if iv.Resolved || now.Before(o.AlertTime.Add(iv.Interval)) {
				continue
			}
			m.opts.Tracker.RecordPrice(o.AlertID, iv.Interval, price)
			resolved++
			if m.opts.Metrics != nil {
				if final := m.opts.Tracker.Outcome(o.AlertID); final != nil && final.Result != outcome.Pending {
					m.opts.Metrics.OutcomesResolved.WithLabelValues(string(final.Result)).Inc()
				}
			}
		}
	}
	if resolved > 0 {
		log.Debug().Int("intervals", resolved).Msg("resolved alert outcomes")
	}
}
