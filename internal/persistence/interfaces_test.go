package persistence

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/predwatch/predwatch/internal/confidence"
	"github.com/predwatch/predwatch/internal/detect"
	"github.com/predwatch/predwatch/internal/domain"
)

func TestNewAlertRecord_FlattensAlert(t *testing.T) {
	ts := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	alert := confidence.Alert{
		ID:                 "alrt-1",
		MarketID:           "mkt-1",
		Type:               domain.AlertVolumeSpike,
		Severity:           domain.SeverityHigh,
		Confidence:         9.5,
		MultiMetric:        true,
		Timestamp:          ts,
		PredictedDirection: domain.SideBuy,
		PriceAtAlert:       0.62,
		Primary: detect.Result{
			Detector: domain.AlertVolumeSpike,
			Anomaly:  true,
			Summary:  "volume spiked 12x over 24h baseline",
		},
		Supporting: []detect.Result{
			{Detector: domain.AlertWhaleActivity, Anomaly: true},
		},
		RecommendedAction: "monitor closely - potential early signal",
	}

	rec, err := NewAlertRecord(alert)
	require.NoError(t, err)

	assert.Equal(t, "alrt-1", rec.ID)
	assert.Equal(t, "mkt-1", rec.MarketID)
	assert.Equal(t, string(domain.AlertVolumeSpike), rec.Type)
	assert.Equal(t, string(domain.SeverityHigh), rec.Severity)
	assert.Equal(t, 9.5, rec.Confidence)
	assert.True(t, rec.MultiMetric)
	assert.Equal(t, ts, rec.Timestamp)
	assert.Equal(t, "BUY", rec.PredictedDirection)
	assert.Equal(t, 0.62, rec.PriceAtAlert)

	var evidence struct {
		Primary    detect.Result   `json:"primary"`
		Supporting []detect.Result `json:"supporting"`
		Action     string          `json:"recommended_action"`
	}
	require.NoError(t, json.Unmarshal(rec.Evidence, &evidence))
	assert.Equal(t, domain.AlertVolumeSpike, evidence.Primary.Detector)
	assert.Len(t, evidence.Supporting, 1)
	assert.Equal(t, alert.RecommendedAction, evidence.Action)
}

func TestNewAlertRecord_NoSupportingSignals(t *testing.T) {
	rec, err := NewAlertRecord(confidence.Alert{
		ID:       "alrt-2",
		MarketID: "mkt-2",
		Type:     domain.AlertWhaleActivity,
		Severity: domain.SeverityMedium,
		Primary:  detect.Result{Detector: domain.AlertWhaleActivity, Anomaly: true},
	})
	require.NoError(t, err)
	assert.False(t, rec.MultiMetric)
	assert.NotEmpty(t, rec.Evidence)
}

func TestTimeRange_JSONRoundTrip(t *testing.T) {
	tr := TimeRange{
		From: time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC),
		To:   time.Date(2025, 6, 2, 0, 0, 0, 0, time.UTC),
	}
	data, err := json.Marshal(tr)
	require.NoError(t, err)

	var back TimeRange
	require.NoError(t, json.Unmarshal(data, &back))
	assert.Equal(t, tr, back)
	assert.True(t, back.To.After(back.From))
}
