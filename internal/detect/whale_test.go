package detect

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/predwatch/predwatch/internal/domain"
)

func whaleConfig() WhaleConfig {
	return WhaleConfig{ThresholdUSD: 10000, CoordinationThreshold: 0.7, MinWhalesForCoordination: 3}
}

func TestWhaleDetector_NoWhales(t *testing.T) {
	d, err := NewWhaleDetector(whaleConfig())
	require.NoError(t, err)

	ts := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	trades := []domain.Trade{
		mkTrade(ts, 0.5, 100, domain.SideBuy, "0x1"),
		mkTrade(ts.Add(time.Minute), 0.5, 200, domain.SideSell, "0x2"),
	}
	results := d.Analyze(context.Background(), trades)
	require.Len(t, results, 1)
	assert.False(t, results[0].Anomaly)
	assert.Contains(t, results[0].Reason, "no trades above $10000 threshold")
}

func TestWhaleDetector_CoordinatedWhales(t *testing.T) {
	d, err := NewWhaleDetector(whaleConfig())
	require.NoError(t, err)

	// Three wallets, all BUY, similar sizes, within a five minute burst:
	// same_direction(3) + clustered_timing(2) + similar_sizes(1) +
	// enough_wallets(1) = 7, well past the coordination cutoff of 4.
	ts := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	trades := []domain.Trade{
		mkTrade(ts, 0.6, 20000, domain.SideBuy, "0xaaa"),
		mkTrade(ts.Add(90*time.Second), 0.6, 21000, domain.SideBuy, "0xbbb"),
		mkTrade(ts.Add(3*time.Minute), 0.6, 19500, domain.SideBuy, "0xccc"),
	}
	results := d.Analyze(context.Background(), trades)
	require.Len(t, results, 1)
	require.True(t, results[0].Anomaly)

	analysis, ok := results[0].Analysis.(WhaleAnalysis)
	require.True(t, ok)
	assert.Equal(t, 3, analysis.WhaleCount)
	assert.True(t, analysis.Coordination.Coordinated)
	assert.Equal(t, 7, analysis.Coordination.Score)
	assert.True(t, analysis.Coordination.SameDirection)
	assert.True(t, analysis.Coordination.ClusteredTiming)
	assert.True(t, analysis.Coordination.SimilarSizes)
	assert.True(t, analysis.Coordination.EnoughWallets)
	assert.Equal(t, domain.SideBuy, analysis.DominantSide)
	assert.InDelta(t, 1.0, analysis.DirectionImbalance, 1e-9)
	assert.Contains(t, results[0].Summary, "coordination detected")
}

func TestWhaleDetector_ClusteredTimingCountsFirstTradeAsZeroGap(t *testing.T) {
	d, err := NewWhaleDetector(whaleConfig())
	require.NoError(t, err)

	// Five whales with gaps 60s, 60s, 600s, 600s. With the leading zero
	// gap the clustered ratio is 3/5 = 0.6; counting only the four
	// consecutive gaps it would be 2/4 and miss the 0.5 cutoff.
	ts := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	trades := []domain.Trade{
		mkTrade(ts, 0.6, 20000, domain.SideBuy, "0xaaa"),
		mkTrade(ts.Add(60*time.Second), 0.6, 21000, domain.SideBuy, "0xbbb"),
		mkTrade(ts.Add(120*time.Second), 0.6, 19500, domain.SideBuy, "0xccc"),
		mkTrade(ts.Add(720*time.Second), 0.6, 20500, domain.SideBuy, "0xddd"),
		mkTrade(ts.Add(1320*time.Second), 0.6, 19000, domain.SideBuy, "0xeee"),
	}
	results := d.Analyze(context.Background(), trades)
	require.Len(t, results, 1)
	require.True(t, results[0].Anomaly)

	analysis := results[0].Analysis.(WhaleAnalysis)
	assert.True(t, analysis.Coordination.ClusteredTiming)
	assert.InDelta(t, 264.0, analysis.Coordination.AvgTimeGapSec, 1e-9)
}

func TestWhaleDetector_TooFewWhalesForCoordination(t *testing.T) {
	d, err := NewWhaleDetector(whaleConfig())
	require.NoError(t, err)

	ts := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	trades := []domain.Trade{
		mkTrade(ts, 0.6, 20000, domain.SideBuy, "0xaaa"),
		mkTrade(ts.Add(time.Minute), 0.6, 50000, domain.SideSell, "0xbbb"),
	}
	results := d.Analyze(context.Background(), trades)
	require.Len(t, results, 1)
	assert.False(t, results[0].Anomaly)
}

func TestWhaleDetector_TopWhalesOrderedByVolume(t *testing.T) {
	d, err := NewWhaleDetector(whaleConfig())
	require.NoError(t, err)

	ts := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	trades := []domain.Trade{
		mkTrade(ts, 0.5, 30000, domain.SideBuy, "0xsmall"),
		mkTrade(ts.Add(time.Minute), 0.5, 90000, domain.SideBuy, "0xbig"),
		mkTrade(ts.Add(2*time.Minute), 0.5, 60000, domain.SideBuy, "0xmid"),
	}
	results := d.Analyze(context.Background(), trades)
	require.Len(t, results, 1)
	require.True(t, results[0].Anomaly)

	analysis := results[0].Analysis.(WhaleAnalysis)
	require.Len(t, analysis.TopWhales, 3)
	assert.Equal(t, "0xbig", analysis.TopWhales[0].Address)
	assert.Equal(t, "0xmid", analysis.TopWhales[1].Address)
	assert.Equal(t, "0xsmall", analysis.TopWhales[2].Address)
	assert.Equal(t, analysis.TopWhales[0].TotalVolume, analysis.LargestWhaleVolume)
}
