package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/predwatch/predwatch/internal/domain"
	"github.com/predwatch/predwatch/internal/persistence"
)

const alertColumns = "id, market_id, alert_type, severity, confidence, multi_metric, ts, predicted_direction, price_at_alert, evidence, created_at"

type alertsRepo struct {
	db      *sqlx.DB
	timeout time.Duration
}

// NewAlertsRepo creates a PostgreSQL alert log.
func NewAlertsRepo(db *sqlx.DB, timeout time.Duration) persistence.AlertsRepo {
	return &alertsRepo{db: db, timeout: timeout}
}

func (r *alertsRepo) Insert(ctx context.Context, rec persistence.AlertRecord) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	query := `
		INSERT INTO alerts (id, market_id, alert_type, severity, confidence, multi_metric, ts, predicted_direction, price_at_alert, evidence)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`

	_, err := r.db.ExecContext(ctx, query,
		rec.ID, rec.MarketID, rec.Type, rec.Severity, rec.Confidence,
		rec.MultiMetric, rec.Timestamp, rec.PredictedDirection,
		rec.PriceAtAlert, rec.Evidence)
	if err != nil {
		if pqErr, ok := err.(*pq.Error); ok && pqErr.Code == "23505" {
			return fmt.Errorf("duplicate alert %s: %w", rec.ID, err)
		}
		return fmt.Errorf("failed to insert alert: %w", err)
	}
	return nil
}

func (r *alertsRepo) ListByMarket(ctx context.Context, marketID string, limit int) ([]persistence.AlertRecord, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	query := `
		SELECT ` + alertColumns + `
		FROM alerts
		WHERE market_id = $1
		ORDER BY ts DESC
		LIMIT $2`

	var alerts []persistence.AlertRecord
	if err := r.db.SelectContext(ctx, &alerts, query, marketID, limit); err != nil {
		return nil, fmt.Errorf("failed to query alerts by market: %w", err)
	}
	return alerts, nil
}

func (r *alertsRepo) ListRange(ctx context.Context, tr persistence.TimeRange, minSeverity domain.Severity, limit int) ([]persistence.AlertRecord, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	// Severity is an enum string; filter on the accepted set rather
	// than relying on collation order.
	var accepted []string
	for _, s := range []domain.Severity{domain.SeverityLow, domain.SeverityMedium, domain.SeverityHigh, domain.SeverityCritical} {
		if s.AtLeast(minSeverity) {
			accepted = append(accepted, string(s))
		}
	}

	query := `
		SELECT ` + alertColumns + `
		FROM alerts
		WHERE ts >= $1 AND ts <= $2 AND severity = ANY($3)
		ORDER BY ts DESC
		LIMIT $4`

	var alerts []persistence.AlertRecord
	if err := r.db.SelectContext(ctx, &alerts, query, tr.From, tr.To, pq.Array(accepted), limit); err != nil {
		return nil, fmt.Errorf("failed to query alert range: %w", err)
	}
	return alerts, nil
}

func (r *alertsRepo) CountByType(ctx context.Context, tr persistence.TimeRange) (map[string]int64, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	query := `
		SELECT alert_type, COUNT(*)
		FROM alerts
		WHERE ts >= $1 AND ts <= $2
		GROUP BY alert_type
		ORDER BY alert_type`

	rows, err := r.db.QueryxContext(ctx, query, tr.From, tr.To)
	if err != nil {
		return nil, fmt.Errorf("failed to count alerts by type: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]int64)
	for rows.Next() {
		var alertType string
		var count int64
		if err := rows.Scan(&alertType, &count); err != nil {
			return nil, fmt.Errorf("failed to scan alert count: %w", err)
		}
		counts[alertType] = count
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating alert counts: %w", err)
	}
	return counts, nil
}
