package bench

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/predwatch/predwatch/internal/domain"
	"github.com/predwatch/predwatch/internal/outcome"
)

const day = 24 * time.Hour

// fixtureOutcomes builds five alerts that all predicted BUY, with actual
// 24h directions UP, DOWN, UP, UP, FLAT. That yields TP=3, FN=1, FP=1,
// TN=0: precision 3/4, recall 3/4, accuracy 3/5.
func fixtureOutcomes(t *testing.T) []*outcome.AlertOutcome {
	t.Helper()
	tr := outcome.NewTracker(0.05, []time.Duration{time.Hour, day})
	finals := []float64{0.60, 0.40, 0.65, 0.58, 0.51}
	for i, final := range finals {
		id := fmt.Sprintf("a%d", i)
		tr.Track(outcome.TrackRequest{
			AlertID:            id,
			MarketID:           fmt.Sprintf("mkt-%d", i),
			AlertTime:          time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC),
			PredictedDirection: domain.SideBuy,
			Confidence:         0.6 + float64(i)*0.1,
			DetectorType:       domain.AlertVolumeSpike,
			Severity:           domain.SeverityHigh,
			PriceAtAlert:       0.50,
		})
		tr.RecordPrice(id, time.Hour, final)
		tr.RecordPrice(id, day, final)
	}
	return tr.Outcomes()
}

func TestCalculator_FixtureConfusionMatrix(t *testing.T) {
	c := NewCalculator()
	m := c.Calculate(fixtureOutcomes(t), day, 0)

	assert.Equal(t, 5, m.TotalAlerts)
	assert.Equal(t, 5, m.CompletedOutcomes)
	assert.Equal(t, 3, m.Confusion.TruePositives)
	assert.Equal(t, 1, m.Confusion.FalsePositives)
	assert.Equal(t, 0, m.Confusion.TrueNegatives)
	assert.Equal(t, 1, m.Confusion.FalseNegatives)

	assert.InDelta(t, 0.75, m.Precision, 1e-9, "precision = 3/4")
	assert.InDelta(t, 0.75, m.Recall, 1e-9)
	assert.InDelta(t, 0.60, m.Accuracy, 1e-9, "accuracy = 3/5")
	assert.InDelta(t, 0.75, m.F1Score, 1e-9)
}

func TestCalculator_FinancialMetrics(t *testing.T) {
	c := NewCalculator()
	m := c.Calculate(fixtureOutcomes(t), day, 0)

	// Returns: +0.20, -0.20, +0.30, +0.16, +0.02
	assert.InDelta(t, 0.48, m.TotalReturn, 1e-9)
	assert.InDelta(t, 0.48, m.ROI, 1e-9)
	assert.InDelta(t, 0.096, m.AverageReturn, 1e-9)
	assert.InDelta(t, 0.8, m.WinRate, 1e-9)
	require.NotNil(t, m.SharpeRatio)
	assert.Greater(t, *m.SharpeRatio, 0.0)
}

func TestCalculator_MinConfidenceFilter(t *testing.T) {
	c := NewCalculator()
	m := c.Calculate(fixtureOutcomes(t), day, 0.85)

	// Only the two outcomes with confidence 0.9 and 1.0 survive.
	assert.Equal(t, 2, m.TotalAlerts)
	assert.Equal(t, 2, m.CompletedOutcomes)
}

func TestCalculator_EmptyOutcomes(t *testing.T) {
	c := NewCalculator()
	m := c.Calculate(nil, day, 0)

	assert.Zero(t, m.TotalAlerts)
	assert.Zero(t, m.Precision)
	assert.Zero(t, m.ROI)
	assert.Nil(t, m.SharpeRatio)
}

func TestCalculator_SharpeNilOnUniformReturns(t *testing.T) {
	tr := outcome.NewTracker(0.05, []time.Duration{day})
	for i := 0; i < 3; i++ {
		id := fmt.Sprintf("a%d", i)
		tr.Track(outcome.TrackRequest{
			AlertID: id, MarketID: "m", AlertTime: time.Now().UTC(),
			PredictedDirection: domain.SideBuy, PriceAtAlert: 0.50,
		})
		tr.RecordPrice(id, day, 0.60)
	}
	m := NewCalculator().Calculate(tr.Outcomes(), day, 0)
	assert.Nil(t, m.SharpeRatio, "zero variance returns have no sharpe ratio")
}

func TestCalculator_DetectorBreakdown(t *testing.T) {
	tr := outcome.NewTracker(0.05, []time.Duration{day})
	detectors := []domain.AlertType{domain.AlertVolumeSpike, domain.AlertVolumeSpike, domain.AlertWhaleActivity}
	finals := []float64{0.60, 0.40, 0.60}
	for i, det := range detectors {
		id := fmt.Sprintf("a%d", i)
		tr.Track(outcome.TrackRequest{
			AlertID: id, MarketID: "m", AlertTime: time.Now().UTC(),
			PredictedDirection: domain.SideBuy, DetectorType: det, PriceAtAlert: 0.50,
		})
		tr.RecordPrice(id, day, finals[i])
	}
	m := NewCalculator().Calculate(tr.Outcomes(), day, 0)

	require.Contains(t, m.ByDetector, domain.AlertVolumeSpike)
	require.Contains(t, m.ByDetector, domain.AlertWhaleActivity)
	assert.Equal(t, 2, m.ByDetector[domain.AlertVolumeSpike].Count)
	assert.InDelta(t, 1.0, m.ByDetector[domain.AlertWhaleActivity].Precision, 1e-9)
}

func TestCalculator_ConfidenceBuckets(t *testing.T) {
	m := NewCalculator().Calculate(fixtureOutcomes(t), day, 0)
	require.NotEmpty(t, m.ByConfidence)

	// Thresholds ascend and counts never increase as the bar rises.
	for i := 1; i < len(m.ByConfidence); i++ {
		assert.Greater(t, m.ByConfidence[i].Threshold, m.ByConfidence[i-1].Threshold)
		assert.LessOrEqual(t, m.ByConfidence[i].Count, m.ByConfidence[i-1].Count)
	}
	assert.Equal(t, 5, m.ByConfidence[0].Count, "0.5 bucket keeps confidences 0.6..1.0")
}

func TestCalculator_AccuracyByInterval(t *testing.T) {
	m := NewCalculator().Calculate(fixtureOutcomes(t), day, 0)
	require.Contains(t, m.AccuracyByInterval, day.String())
	assert.InDelta(t, 0.6, m.AccuracyByInterval[day.String()], 1e-9)
}
