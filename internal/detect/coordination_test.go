package detect

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/predwatch/predwatch/internal/domain"
)

func coordinationConfig() CoordinationConfig {
	return CoordinationConfig{
		MinCoordinatedWallets:    5,
		CoordinationTimeWindow:   30,
		DirectionalBiasThreshold: 0.8,
		BurstIntensityThreshold:  3.0,
	}
}

func TestCoordinationDetector_InsufficientTrades(t *testing.T) {
	d, err := NewCoordinationDetector(coordinationConfig())
	require.NoError(t, err)

	ts := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	trades := []domain.Trade{
		mkTrade(ts, 0.5, 100, domain.SideBuy, "0x1"),
		mkTrade(ts.Add(time.Minute), 0.5, 100, domain.SideBuy, "0x2"),
	}
	results := d.Analyze(context.Background(), trades)
	require.Len(t, results, 1)
	assert.False(t, results[0].Anomaly)
	assert.Equal(t, "insufficient trades for coordination analysis", results[0].Reason)
}

func TestCoordinationDetector_CoordinatedBurst(t *testing.T) {
	d, err := NewCoordinationDetector(coordinationConfig())
	require.NoError(t, err)

	// Six wallets all buying nearly identical sizes within ten minutes:
	// every indicator except low diversity passes in the short windows.
	ts := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	wallets := []string{"0xa", "0xb", "0xc", "0xd", "0xe", "0xf"}
	var trades []domain.Trade
	for round := 0; round < 2; round++ {
		for i, w := range wallets {
			offset := time.Duration(round*5+i) * time.Minute / 2
			trades = append(trades, mkTrade(ts.Add(offset), 0.55, 100+float64(i), domain.SideBuy, w))
		}
	}

	results := d.Analyze(context.Background(), trades)
	require.Len(t, results, 1)
	require.True(t, results[0].Anomaly)

	analysis := results[0].Analysis.(CoordinationAnalysis)
	assert.Greater(t, analysis.Score, 0.7)
	require.NotNil(t, analysis.BestWindow)
	assert.Equal(t, 6, analysis.BestWindow.UniqueWallets)
	assert.True(t, analysis.BestWindow.Indicators.DirectionalAlignment)
	assert.True(t, analysis.BestWindow.Indicators.TimingClusters)
	assert.True(t, analysis.BestWindow.Indicators.SizeConsistency)
	assert.True(t, analysis.BestWindow.Indicators.SufficientParticipants)
}

func TestCoordinationDetector_OrganicFlowNotFlagged(t *testing.T) {
	d, err := NewCoordinationDetector(coordinationConfig())
	require.NoError(t, err)

	// Mixed directions, scattered sizes, few distinct wallets per window.
	ts := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	sides := []domain.Side{domain.SideBuy, domain.SideSell}
	var trades []domain.Trade
	for i := 0; i < 12; i++ {
		trades = append(trades, mkTrade(
			ts.Add(time.Duration(i*13)*time.Minute),
			0.5,
			float64(50+i*37%400),
			sides[i%2],
			[]string{"0x1", "0x2", "0x3"}[i%3],
		))
	}

	results := d.Analyze(context.Background(), trades)
	require.Len(t, results, 1)
	assert.False(t, results[0].Anomaly)
}

func TestCoordinationDetector_WashTradingPair(t *testing.T) {
	d, err := NewCoordinationDetector(coordinationConfig())
	require.NoError(t, err)

	// One maker/taker pair ping-ponging the same size at the same price
	// on a fixed interval, buried in enough background flow to analyze.
	ts := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	var trades []domain.Trade
	for i := 0; i < 8; i++ {
		side := domain.SideBuy
		if i%2 == 1 {
			side = domain.SideSell
		}
		tr := mkTrade(ts.Add(time.Duration(i*2)*time.Minute), 0.50, 100, side, "0xwash1")
		tr.Taker = "0xwash2"
		trades = append(trades, tr)
	}
	for i := 0; i < 4; i++ {
		trades = append(trades, mkTrade(ts.Add(time.Duration(i*7)*time.Minute), 0.51, 80, domain.SideBuy, "0xorganic"))
	}

	results := d.Analyze(context.Background(), trades)
	require.Len(t, results, 1)
	require.True(t, results[0].Anomaly)

	analysis := results[0].Analysis.(CoordinationAnalysis)
	require.Len(t, analysis.Wash.SuspiciousPairs, 1)
	pair := analysis.Wash.SuspiciousPairs[0]
	assert.Equal(t, [2]string{"0xwash1", "0xwash2"}, pair.Wallets)
	assert.Equal(t, 8, pair.TradeCount)
	assert.Greater(t, pair.WashScore, 0.7)
	assert.Contains(t, results[0].Summary, "wash trading")
}
