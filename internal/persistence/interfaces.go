// Package persistence defines the storage contracts for the trade
// archive and the alert log, with PostgreSQL implementations under
// postgres/ and the Redis wallet-freshness store under redis/.
package persistence

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/predwatch/predwatch/internal/confidence"
	"github.com/predwatch/predwatch/internal/detect"
	"github.com/predwatch/predwatch/internal/domain"
)

// TimeRange is a closed time window for archive queries.
type TimeRange struct {
	From time.Time `json:"from"`
	To   time.Time `json:"to"`
}

// AlertRecord is the persisted form of a confidence-scored alert. The
// detector evidence (primary and supporting signals) is flattened into
// an Evidence JSONB blob so the schema stays stable as detectors change
// their analysis payloads.
type AlertRecord struct {
	ID                 string    `json:"id" db:"id"`
	MarketID           string    `json:"market_id" db:"market_id"`
	Type               string    `json:"alert_type" db:"alert_type"`
	Severity           string    `json:"severity" db:"severity"`
	Confidence         float64   `json:"confidence" db:"confidence"`
	MultiMetric        bool      `json:"multi_metric" db:"multi_metric"`
	Timestamp          time.Time `json:"ts" db:"ts"`
	PredictedDirection string    `json:"predicted_direction" db:"predicted_direction"`
	PriceAtAlert       float64   `json:"price_at_alert" db:"price_at_alert"`
	Evidence           []byte    `json:"evidence,omitempty" db:"evidence"`
	CreatedAt          time.Time `json:"created_at" db:"created_at"`
}

type alertEvidence struct {
	Primary    detect.Result   `json:"primary"`
	Supporting []detect.Result `json:"supporting,omitempty"`
	Action     string          `json:"recommended_action,omitempty"`
}

// NewAlertRecord flattens an alert for storage.
func NewAlertRecord(a confidence.Alert) (AlertRecord, error) {
	evidence, err := json.Marshal(alertEvidence{
		Primary:    a.Primary,
		Supporting: a.Supporting,
		Action:     a.RecommendedAction,
	})
	if err != nil {
		return AlertRecord{}, fmt.Errorf("failed to marshal alert evidence: %w", err)
	}
	return AlertRecord{
		ID:                 a.ID,
		MarketID:           a.MarketID,
		Type:               string(a.Type),
		Severity:           string(a.Severity),
		Confidence:         a.Confidence,
		MultiMetric:        a.MultiMetric,
		Timestamp:          a.Timestamp,
		PredictedDirection: string(a.PredictedDirection),
		PriceAtAlert:       a.PriceAtAlert,
		Evidence:           evidence,
	}, nil
}

// TradesRepo archives normalized trades for replay and wallet lookups.
type TradesRepo interface {
	// InsertBatch stores a batch, skipping records already archived
	// (dedup on market, tx hash and timestamp). Returns rows written.
	InsertBatch(ctx context.Context, trades []domain.Trade) (int64, error)

	// ListByMarket retrieves a market's trades within the range,
	// oldest first, for replay.
	ListByMarket(ctx context.Context, marketID string, tr TimeRange, limit int) ([]domain.Trade, error)

	// ListRange retrieves all archived trades in the range, oldest
	// first, as a backtest data source.
	ListRange(ctx context.Context, tr TimeRange, limit int) ([]domain.Trade, error)

	// WalletTrades retrieves a wallet's archived trades, newest first.
	WalletTrades(ctx context.Context, address string, limit int) ([]domain.Trade, error)

	// Count returns archived trades in the range.
	Count(ctx context.Context, tr TimeRange) (int64, error)
}

// AlertsRepo logs emitted alerts for later outcome review.
type AlertsRepo interface {
	Insert(ctx context.Context, rec AlertRecord) error

	// ListByMarket retrieves a market's alerts, newest first.
	ListByMarket(ctx context.Context, marketID string, limit int) ([]AlertRecord, error)

	// ListRange retrieves alerts at or above minSeverity in the
	// range, newest first.
	ListRange(ctx context.Context, tr TimeRange, minSeverity domain.Severity, limit int) ([]AlertRecord, error)

	// CountByType returns alert counts per detector type in the range.
	CountByType(ctx context.Context, tr TimeRange) (map[string]int64, error)
}

// Repository aggregates the storage interfaces.
type Repository struct {
	Trades TradesRepo
	Alerts AlertsRepo
}

// HealthCheck is a point-in-time storage health report.
type HealthCheck struct {
	Healthy        bool           `json:"healthy"`
	Errors         []string       `json:"errors,omitempty"`
	ConnectionPool map[string]int `json:"connection_pool"`
	LastCheck      time.Time      `json:"last_check"`
	ResponseTimeMS int64          `json:"response_time_ms"`
}

// RepositoryHealth reports storage connectivity for the health endpoint.
type RepositoryHealth interface {
	Health(ctx context.Context) HealthCheck
	Ping(ctx context.Context) error
}
