package sim

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/predwatch/predwatch/internal/bench"
	"github.com/predwatch/predwatch/internal/confidence"
	"github.com/predwatch/predwatch/internal/detect"
	"github.com/predwatch/predwatch/internal/domain"
	"github.com/predwatch/predwatch/internal/outcome"
)

var simStart = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func simTrade(market string, at time.Time, price, volume float64) domain.Trade {
	return domain.Trade{
		MarketID:  market,
		Timestamp: at,
		Price:     price,
		Size:      volume / price,
		VolumeUSD: volume,
		Side:      domain.SideBuy,
		Maker:     "0xmaker",
		Taker:     "0xtaker",
	}
}

type stubDetector struct {
	typ     domain.AlertType
	analyze func(trades []domain.Trade) []detect.Result
}

func (s *stubDetector) Type() domain.AlertType { return s.typ }

func (s *stubDetector) Analyze(_ context.Context, trades []domain.Trade) []detect.Result {
	return s.analyze(trades)
}

// quietDetector never flags anything.
func quietDetector() detect.Detector {
	return &stubDetector{
		typ: domain.AlertVolumeSpike,
		analyze: func([]domain.Trade) []detect.Result {
			return []detect.Result{{Detector: domain.AlertVolumeSpike, Reason: "volume within baseline bounds"}}
		},
	}
}

// loudDetector flags every window with a strong volume signal.
func loudDetector() detect.Detector {
	return &stubDetector{
		typ: domain.AlertVolumeSpike,
		analyze: func([]domain.Trade) []detect.Result {
			return []detect.Result{{
				Detector: domain.AlertVolumeSpike,
				Anomaly:  true,
				Analysis: detect.VolumeAnalysis{
					Baseline:           detect.VolumeBaseline{Hours: 48, AvgHourlyVolume: 100},
					MaxAnomalyScore:    10,
					DominantSide:       domain.SideBuy,
					DirectionImbalance: 0.9,
				},
			}}
		},
	}
}

func newTestEngine(detectors ...detect.Detector) *Engine {
	tracker := outcome.NewTracker(0.05, []time.Duration{time.Hour})
	return NewEngine(detectors, confidence.DefaultConfig(), tracker)
}

func interleavedTrades(markets, perMarket int) []domain.Trade {
	var out []domain.Trade
	for i := 0; i < perMarket; i++ {
		for m := 0; m < markets; m++ {
			at := simStart.Add(time.Duration(i*markets+m) * time.Second)
			out = append(out, simTrade(fmt.Sprintf("mkt-%d", m), at, 0.5, 100))
		}
	}
	return out
}

func TestEngine_SequentialAndBatchAgreeOnTotals(t *testing.T) {
	trades := interleavedTrades(3, 40)

	seq := newTestEngine(quietDetector())
	seqStats, err := seq.RunSequential(context.Background(), trades)
	require.NoError(t, err)

	batch := newTestEngine(quietDetector())
	batchStats, err := batch.RunBatch(context.Background(), trades)
	require.NoError(t, err)

	assert.Equal(t, len(trades), seqStats.TotalTrades)
	assert.Equal(t, seqStats.TotalTrades, batchStats.TotalTrades)
	assert.Equal(t, seqStats.UniqueMarkets, batchStats.UniqueMarkets)
	assert.Equal(t, 3, seqStats.UniqueMarkets)
	assert.Equal(t, "sequential", seqStats.Mode)
	assert.Equal(t, "batch", batchStats.Mode)
}

func TestEngine_QuietDetectorsProduceNoAlerts(t *testing.T) {
	e := newTestEngine(quietDetector())
	stats, err := e.RunSequential(context.Background(), interleavedTrades(2, 30))
	require.NoError(t, err)

	assert.Zero(t, stats.TotalAlerts)
	assert.Empty(t, e.Alerts())
	assert.Empty(t, e.Tracker().Outcomes())
}

func TestEngine_SequentialEvaluationCadence(t *testing.T) {
	// 60 trades on one market: evaluations fire at trade 0 and trade 50,
	// and the loud detector alerts both times.
	var trades []domain.Trade
	for i := 0; i < 60; i++ {
		trades = append(trades, simTrade("mkt-1", simStart.Add(time.Duration(i)*time.Second), 0.5, 100))
	}

	e := newTestEngine(loudDetector())
	stats, err := e.RunSequential(context.Background(), trades)
	require.NoError(t, err)

	assert.Equal(t, 2, stats.TotalAlerts)
	assert.Equal(t, 2, stats.AlertsByDetector[domain.AlertVolumeSpike])
	require.Len(t, e.Alerts(), 2)
	assert.Equal(t, "mkt-1", e.Alerts()[0].MarketID)

	// Every alert is tracked with confidence normalized to [0,1].
	outcomes := e.Tracker().Outcomes()
	require.Len(t, outcomes, 2)
	for _, o := range outcomes {
		assert.Greater(t, o.Confidence, 0.0)
		assert.LessOrEqual(t, o.Confidence, 1.0)
	}
}

func TestEngine_BatchEvaluatesEachMarketOnce(t *testing.T) {
	e := newTestEngine(loudDetector())
	stats, err := e.RunBatch(context.Background(), interleavedTrades(2, 60))
	require.NoError(t, err)

	assert.Equal(t, 2, stats.TotalAlerts, "one alert per market")
	assert.Equal(t, 2, stats.UniqueMarkets)
}

func TestEngine_PanickingDetectorIsSkipped(t *testing.T) {
	boom := &stubDetector{
		typ:     domain.AlertWhaleActivity,
		analyze: func([]domain.Trade) []detect.Result { panic("bad window") },
	}
	e := newTestEngine(boom, loudDetector())

	var trades []domain.Trade
	for i := 0; i < 10; i++ {
		trades = append(trades, simTrade("mkt-1", simStart.Add(time.Duration(i)*time.Second), 0.5, 100))
	}
	stats, err := e.RunSequential(context.Background(), trades)
	require.NoError(t, err)

	assert.Greater(t, stats.DetectorErrors, 0)
	assert.Equal(t, 1, stats.TotalAlerts, "surviving detector still alerts")
}

func TestEngine_CancelledContextStopsReplay(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	e := newTestEngine(quietDetector())
	_, err := e.RunSequential(ctx, interleavedTrades(1, 10))
	assert.ErrorIs(t, err, context.Canceled)
}

func TestEngine_ResolveOutcomesFromReplayHistory(t *testing.T) {
	trades := []domain.Trade{
		simTrade("mkt-1", simStart, 0.50, 100),
		simTrade("mkt-1", simStart.Add(65*time.Minute), 0.60, 100),
	}

	e := newTestEngine(loudDetector())
	_, err := e.RunSequential(context.Background(), trades)
	require.NoError(t, err)
	require.NotEmpty(t, e.Alerts())

	resolved := e.ResolveOutcomes(trades)
	assert.Greater(t, resolved, 0)

	// The first alert fired at the first trade; one hour later the
	// market printed 0.60, an upward move matching the BUY prediction.
	o := e.Tracker().Outcomes()[0]
	require.True(t, o.Completed())
	assert.Equal(t, outcome.TruePositive, o.Result)
	iv := o.IntervalAt(time.Hour)
	require.NotNil(t, iv)
	assert.InDelta(t, 0.20, iv.Return, 1e-9)
}

func TestEngine_ResetClearsState(t *testing.T) {
	e := newTestEngine(loudDetector())
	_, err := e.RunSequential(context.Background(), interleavedTrades(1, 5))
	require.NoError(t, err)
	require.NotEmpty(t, e.Alerts())

	e.Reset()
	assert.Empty(t, e.Alerts())
	assert.Empty(t, e.Tracker().Outcomes())
	stats, err := e.RunSequential(context.Background(), interleavedTrades(1, 5))
	require.NoError(t, err)
	assert.Equal(t, 5, stats.TotalTrades)
}

func TestMarketState_WindowCap(t *testing.T) {
	s := NewMarketState("mkt-1", 100)
	for i := 0; i < 250; i++ {
		s.AddTrade(simTrade("mkt-1", simStart.Add(time.Duration(i)*time.Second), 0.5, 10))
	}

	w := s.Window()
	require.Len(t, w, 100)
	assert.Equal(t, simStart.Add(249*time.Second), w[len(w)-1].Timestamp, "newest trade retained")
	assert.Equal(t, 250, s.TradeCount, "totals count every trade, not just the window")
	assert.InDelta(t, 2500, s.TotalVolume, 1e-9)
	assert.Equal(t, 1, s.UniqueMakers())
}

func TestMarketState_RecentTrades(t *testing.T) {
	s := NewMarketState("mkt-1", 0)
	s.AddTrade(simTrade("mkt-1", simStart, 0.5, 10))
	s.AddTrade(simTrade("mkt-1", simStart.Add(2*time.Hour), 0.5, 10))

	recent := s.RecentTrades(time.Hour)
	require.Len(t, recent, 1)
	assert.Equal(t, simStart.Add(2*time.Hour), recent[0].Timestamp)
}

func TestExporter_WriteAll(t *testing.T) {
	dir := t.TempDir()
	trades := interleavedTrades(1, 60)

	e := newTestEngine(loudDetector())
	stats, err := e.RunSequential(context.Background(), trades)
	require.NoError(t, err)
	e.ResolveOutcomes(trades)

	metrics := bench.NewCalculator().Calculate(e.Tracker().Outcomes(), time.Hour, 0)
	require.NoError(t, NewExporter(dir).WriteAll(e, stats, metrics))

	for _, name := range []string{"alerts.json", "outcomes.json", "metrics.json", "stats.json"} {
		data, err := os.ReadFile(filepath.Join(dir, name))
		require.NoError(t, err, name)
		assert.True(t, json.Valid(data), "%s holds valid JSON", name)
	}

	var alerts []*confidence.Alert
	data, err := os.ReadFile(filepath.Join(dir, "alerts.json"))
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(data, &alerts))
	assert.Len(t, alerts, stats.TotalAlerts)
}
